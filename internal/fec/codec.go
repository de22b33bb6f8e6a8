// Package fec implements the systematic erasure codec: given k data
// blocks it produces m parity blocks, and given any k of the k+m blocks
// (tagged with their original indices) it reconstructs the k data blocks.
//
// Two schemes are offered as tagged variants, per spec.md §4.1 and the
// re-architecture note in spec.md §9 ("polymorphism over codec
// implementation... tagged variants, each a pure value"):
//
//   - SchemeSystematicRS is the production codec, a true MDS code backed
//     by github.com/klauspost/reedsolomon: it recovers from any m losses
//     out of k+m, exactly.
//   - SchemeXORReference is the development-only construction spec.md
//     explicitly allows ("a reference XOR-only construction is acceptable
//     for development"); it only supports m=1.
package fec

import (
	"fmt"

	"github.com/mpquicfec/core/internal/protocol"
)

// Scheme selects a codec implementation. It is a pure value, not an
// interface, per spec.md §9's re-architecture note.
type Scheme int

const (
	SchemeSystematicRS Scheme = iota
	SchemeXORReference
)

func (s Scheme) String() string {
	switch s {
	case SchemeSystematicRS:
		return "systematic-rs"
	case SchemeXORReference:
		return "xor-reference"
	default:
		return "unknown"
	}
}

// Codec is a systematic erasure code over k data blocks + m parity
// blocks of a fixed block size.
type Codec interface {
	// Encode takes exactly K() data blocks, each BlockSize() octets long,
	// and returns M() parity blocks of the same size.
	Encode(data [][]byte) ([][]byte, error)

	// Decode takes a set of blocks keyed by their original index in
	// [0, K()+M()) — indices [0,K()) are data blocks, [K(),K()+M()) are
	// parity blocks — and reconstructs the K() data blocks in order. It
	// requires at least K() entries.
	Decode(blocks map[int][]byte) ([][]byte, error)

	K() int
	M() int
	BlockSize() int
}

// New constructs a Codec for the given scheme and parameters.
func New(scheme Scheme, k, m, blockSize int) (Codec, error) {
	if k <= 0 || m <= 0 {
		return nil, fmt.Errorf("%w: k=%d and m=%d must both be >= 1", protocol.ErrInvalidParameter, k, m)
	}
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: block_size=%d must be >= 1", protocol.ErrInvalidParameter, blockSize)
	}
	switch scheme {
	case SchemeSystematicRS:
		return newRSCodec(k, m, blockSize)
	case SchemeXORReference:
		return newXORCodec(k, m, blockSize)
	default:
		return nil, fmt.Errorf("%w: unknown scheme %v", protocol.ErrInvalidParameter, scheme)
	}
}

// validateBlocks checks that every block in data is exactly blockSize
// octets long.
func validateBlocks(data [][]byte, blockSize int) error {
	for i, b := range data {
		if len(b) != blockSize {
			return fmt.Errorf("%w: block %d has length %d, want %d", protocol.ErrBlockSizeMismatch, i, len(b), blockSize)
		}
	}
	return nil
}
