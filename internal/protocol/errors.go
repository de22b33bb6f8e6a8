package protocol

import "errors"

// Sentinel error kinds, per spec.md §7. Concrete errors returned from the
// coding, wire and scheduling packages wrap one of these with fmt.Errorf's
// %w so callers can use errors.Is against a stable kind while still
// getting a specific message.
var (
	// ErrInvalidParameter covers k=0 or m=0, or a redundancy band whose
	// bounds are out of order.
	ErrInvalidParameter = errors.New("fec: invalid parameter")

	// ErrBlockSizeMismatch is returned when Encode is called with a block
	// of the wrong size.
	ErrBlockSizeMismatch = errors.New("fec: block size mismatch")

	// ErrInsufficientBlocks is returned when Decode is called with fewer
	// than k blocks.
	ErrInsufficientBlocks = errors.New("fec: insufficient blocks")

	// ErrMalformedFrame is returned by frame deserialisation on any of the
	// violations listed in spec.md §4.2.
	ErrMalformedFrame = errors.New("fec: malformed frame")

	// ErrUnknownPath is returned by a select/update operation against a
	// path id that was never registered.
	ErrUnknownPath = errors.New("fec: unknown path")

	// ErrNoPathsAvailable is returned by a scheduler selection performed
	// against an empty path set.
	ErrNoPathsAvailable = errors.New("fec: no paths available")
)
