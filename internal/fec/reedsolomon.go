package fec

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
	"github.com/mpquicfec/core/internal/protocol"
)

// rsCodec is the production Codec: a true MDS systematic Reed-Solomon
// code over GF(2^8), so it recovers from any m losses out of k+m exactly,
// as spec.md §4.1 requires for production use.
type rsCodec struct {
	enc       reedsolomon.Encoder
	k, m      int
	blockSize int
}

func newRSCodec(k, m, blockSize int) (*rsCodec, error) {
	enc, err := reedsolomon.New(k, m)
	if err != nil {
		return nil, fmt.Errorf("fec: constructing reed-solomon encoder: %w", err)
	}
	return &rsCodec{enc: enc, k: k, m: m, blockSize: blockSize}, nil
}

func (c *rsCodec) K() int         { return c.k }
func (c *rsCodec) M() int         { return c.m }
func (c *rsCodec) BlockSize() int { return c.blockSize }

func (c *rsCodec) Encode(data [][]byte) ([][]byte, error) {
	if len(data) != c.k {
		return nil, fmt.Errorf("%w: got %d data blocks, want %d", protocol.ErrInvalidParameter, len(data), c.k)
	}
	if err := validateBlocks(data, c.blockSize); err != nil {
		return nil, err
	}

	shards := make([][]byte, c.k+c.m)
	copy(shards, data)
	for i := c.k; i < c.k+c.m; i++ {
		shards[i] = make([]byte, c.blockSize)
	}

	if err := c.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("fec: reed-solomon encode: %w", err)
	}

	parity := make([][]byte, c.m)
	copy(parity, shards[c.k:])
	return parity, nil
}

func (c *rsCodec) Decode(blocks map[int][]byte) ([][]byte, error) {
	if len(blocks) < c.k {
		return nil, fmt.Errorf("%w: got %d blocks, need %d", protocol.ErrInsufficientBlocks, len(blocks), c.k)
	}

	shards := make([][]byte, c.k+c.m)
	for idx, b := range blocks {
		if idx < 0 || idx >= c.k+c.m {
			return nil, fmt.Errorf("%w: block index %d out of range [0,%d)", protocol.ErrInvalidParameter, idx, c.k+c.m)
		}
		if len(b) != c.blockSize {
			return nil, fmt.Errorf("%w: block %d has length %d, want %d", protocol.ErrBlockSizeMismatch, idx, len(b), c.blockSize)
		}
		shards[idx] = b
	}

	if err := c.enc.ReconstructData(shards); err != nil {
		return nil, fmt.Errorf("fec: reed-solomon reconstruct: %w", err)
	}

	data := make([][]byte, c.k)
	copy(data, shards[:c.k])
	return data, nil
}
