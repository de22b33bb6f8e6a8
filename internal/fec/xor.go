package fec

import (
	"fmt"

	"github.com/mpquicfec/core/internal/protocol"
)

// xorCodec is the development-only reference construction spec.md §4.1
// allows in place of a true MDS code: a single parity block computed as
// the XOR of all k data blocks. It only tolerates the loss of exactly one
// block out of k+1, so it is restricted to m=1.
type xorCodec struct {
	k, blockSize int
}

func newXORCodec(k, m, blockSize int) (*xorCodec, error) {
	if m != 1 {
		return nil, fmt.Errorf("%w: xor-reference scheme only supports m=1, got m=%d", protocol.ErrInvalidParameter, m)
	}
	return &xorCodec{k: k, blockSize: blockSize}, nil
}

func (c *xorCodec) K() int         { return c.k }
func (c *xorCodec) M() int         { return 1 }
func (c *xorCodec) BlockSize() int { return c.blockSize }

func (c *xorCodec) Encode(data [][]byte) ([][]byte, error) {
	if len(data) != c.k {
		return nil, fmt.Errorf("%w: got %d data blocks, want %d", protocol.ErrInvalidParameter, len(data), c.k)
	}
	if err := validateBlocks(data, c.blockSize); err != nil {
		return nil, err
	}
	parity := make([]byte, c.blockSize)
	for _, b := range data {
		xorInto(parity, b)
	}
	return [][]byte{parity}, nil
}

func (c *xorCodec) Decode(blocks map[int][]byte) ([][]byte, error) {
	if len(blocks) < c.k {
		return nil, fmt.Errorf("%w: got %d blocks, need %d", protocol.ErrInsufficientBlocks, len(blocks), c.k)
	}
	for idx, b := range blocks {
		if len(b) != c.blockSize {
			return nil, fmt.Errorf("%w: block %d has length %d, want %d", protocol.ErrBlockSizeMismatch, idx, len(b), c.blockSize)
		}
	}

	data := make([][]byte, c.k)
	missing := -1
	for i := 0; i < c.k; i++ {
		if b, ok := blocks[i]; ok {
			data[i] = b
		} else {
			missing = i
		}
	}
	if missing == -1 {
		// all k data blocks present, nothing to recover.
		return data, nil
	}

	parity, ok := blocks[c.k]
	if !ok {
		return nil, fmt.Errorf("%w: data block %d missing and no parity block present to recover it", protocol.ErrInsufficientBlocks, missing)
	}
	recovered := make([]byte, c.blockSize)
	xorInto(recovered, parity)
	for i, b := range data {
		if i == missing {
			continue
		}
		xorInto(recovered, b)
	}
	data[missing] = recovered
	return data, nil
}

func xorInto(dst, src []byte) {
	for i := range src {
		dst[i] ^= src[i]
	}
}
