package group

import (
	"time"

	"github.com/mpquicfec/core/internal/protocol"
)

// State is a Group's lifecycle stage, per spec.md §3:
// Open (fewer than k source payloads queued) → Sealed (exactly k queued,
// encode scheduled) → Encoded (repair payloads computed) → Retired (GC).
type State int

const (
	Open State = iota
	Sealed
	Encoded
	Retired
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case Sealed:
		return "sealed"
	case Encoded:
		return "encoded"
	case Retired:
		return "retired"
	default:
		return "unknown"
	}
}

// Group is a coding group: k source payloads plus, once Encoded, m repair
// payloads computed together. Its (k, m) is fixed at the moment it is
// sealed even if the manager's current (k, m) later changes.
type Group struct {
	ID         protocol.GroupID
	K, M       uint32
	BlockSize  uint32
	CreatedAt  time.Time
	State      State
	Source     [][]byte // length K once Sealed
	Repair     [][]byte // length M once Encoded
}

// fitBlock pads payload with zero octets, or truncates it, to exactly
// blockSize octets — spec.md §4.3: "appends payload (padded or truncated
// to block_size)".
func fitBlock(payload []byte, blockSize int) []byte {
	out := make([]byte, blockSize)
	n := len(payload)
	if n > blockSize {
		n = blockSize
	}
	copy(out, payload[:n])
	return out
}
