package fec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/mpquicfec/core/internal/protocol"
)

func blockOf(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

// TestRS_EncodeDecodeWithLoss mirrors spec.md §8 scenario S1: k=4, m=2,
// block_size=8, drop data[0] and data[2], decode from the remaining four
// blocks by their original indices.
func TestRS_EncodeDecodeWithLoss(t *testing.T) {
	codec, err := New(SchemeSystematicRS, 4, 2, 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data := [][]byte{blockOf(1, 8), blockOf(2, 8), blockOf(3, 8), blockOf(4, 8)}
	parity, err := codec.Encode(data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(parity) != 2 {
		t.Fatalf("len(parity) = %d, want 2", len(parity))
	}

	received := map[int][]byte{
		1: data[1],
		3: data[3],
		4: parity[0],
		5: parity[1],
	}
	got, err := codec.Decode(received)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	for i := range data {
		if !bytes.Equal(got[i], data[i]) {
			t.Fatalf("recovered block %d = %X, want %X", i, got[i], data[i])
		}
	}
}

func TestCodec_DecodeInsufficientBlocks(t *testing.T) {
	codec, err := New(SchemeSystematicRS, 4, 2, 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = codec.Decode(map[int][]byte{0: blockOf(1, 8), 1: blockOf(2, 8)})
	if !errors.Is(err, protocol.ErrInsufficientBlocks) {
		t.Fatalf("Decode with 2 blocks error = %v, want ErrInsufficientBlocks", err)
	}
}

func TestCodec_EncodeBlockSizeMismatch(t *testing.T) {
	codec, err := New(SchemeSystematicRS, 2, 1, 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = codec.Encode([][]byte{blockOf(1, 8), blockOf(2, 4)})
	if !errors.Is(err, protocol.ErrBlockSizeMismatch) {
		t.Fatalf("Encode with mismatched size error = %v, want ErrBlockSizeMismatch", err)
	}
}

// TestSchemes_RoundTrip exercises every scheme against the universal
// properties in spec.md §8: decode(encode(data), all_indices) == data,
// and decoding from exactly k surviving blocks of any kind recovers the
// original data blocks byte-identically.
func TestSchemes_RoundTrip(t *testing.T) {
	cases := []struct {
		scheme Scheme
		k, m   int
	}{
		{SchemeSystematicRS, 4, 2},
		{SchemeSystematicRS, 1, 1},
		{SchemeSystematicRS, 10, 4},
		{SchemeXORReference, 3, 1},
	}
	for _, tc := range cases {
		codec, err := New(tc.scheme, tc.k, tc.m, 16)
		if err != nil {
			t.Fatalf("New(%v): %v", tc.scheme, err)
		}
		data := make([][]byte, tc.k)
		for i := range data {
			data[i] = blockOf(byte(i+1), 16)
		}
		parity, err := codec.Encode(data)
		if err != nil {
			t.Fatalf("Encode(%v): %v", tc.scheme, err)
		}

		all := map[int][]byte{}
		for i, b := range data {
			all[i] = b
		}
		for i, b := range parity {
			all[tc.k+i] = b
		}
		got, err := codec.Decode(all)
		if err != nil {
			t.Fatalf("Decode(all)(%v): %v", tc.scheme, err)
		}
		for i := range data {
			if !bytes.Equal(got[i], data[i]) {
				t.Fatalf("%v: recovered block %d mismatch", tc.scheme, i)
			}
		}

		// Drop exactly m blocks (the first m data blocks, or all of data
		// if m >= k) and decode from the remaining k.
		dropped := tc.m
		if dropped > tc.k {
			dropped = tc.k
		}
		subset := map[int][]byte{}
		for idx, b := range all {
			subset[idx] = b
		}
		for i := 0; i < dropped; i++ {
			delete(subset, i)
		}
		for len(subset) > tc.k {
			for idx := range subset {
				if idx >= tc.k {
					delete(subset, idx)
					break
				}
			}
		}
		got2, err := codec.Decode(subset)
		if err != nil {
			t.Fatalf("Decode(subset)(%v): %v", tc.scheme, err)
		}
		for i := range data {
			if !bytes.Equal(got2[i], data[i]) {
				t.Fatalf("%v: recovered-from-subset block %d mismatch", tc.scheme, i)
			}
		}
	}
}

func TestXOR_RejectsMultiParity(t *testing.T) {
	if _, err := New(SchemeXORReference, 3, 2, 8); err == nil {
		t.Fatalf("New(xor-reference, m=2) should fail")
	}
}
