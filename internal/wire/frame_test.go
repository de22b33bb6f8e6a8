package wire

import (
	"bytes"
	"errors"
	"testing"

	"github.com/mpquicfec/core/internal/protocol"
)

func TestFrame_Serialize_ExactBytes(t *testing.T) {
	f := Frame{
		Header: Header{
			FrameType:     FrameTypeSource,
			GroupID:       0x0102030405060708,
			BlockIndex:    3,
			TotalBlocks:   6,
			PayloadLength: 2,
		},
		Payload: []byte{0xAA, 0xBB},
	}

	want := []byte{
		0xF0,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
		0x00, 0x00, 0x00, 0x03,
		0x00, 0x00, 0x00, 0x06,
		0x00, 0x00, 0x00, 0x02,
		0xAA, 0xBB,
	}

	got := f.Serialize()
	if !bytes.Equal(got, want) {
		t.Fatalf("Serialize() = %X, want %X", got, want)
	}
	if len(got) != HeaderLen+len(f.Payload) {
		t.Fatalf("len(Serialize()) = %d, want %d", len(got), HeaderLen+len(f.Payload))
	}
}

func TestFrame_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		f    Frame
	}{
		{"source, empty payload", Frame{Header: Header{FrameType: FrameTypeSource, GroupID: 1, BlockIndex: 0, TotalBlocks: 3}}},
		{"repair, nonempty payload", Frame{Header: Header{FrameType: FrameTypeRepair, GroupID: 42, BlockIndex: 5, TotalBlocks: 6, PayloadLength: 4}, Payload: []byte{1, 2, 3, 4}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := tt.f.Serialize()
			got, err := Deserialize(buf)
			if err != nil {
				t.Fatalf("Deserialize: %v", err)
			}
			if got.Header != tt.f.Header {
				t.Fatalf("header round-trip mismatch: got %+v, want %+v", got.Header, tt.f.Header)
			}
			if !bytes.Equal(got.Payload, tt.f.Payload) {
				t.Fatalf("payload round-trip mismatch: got %X, want %X", got.Payload, tt.f.Payload)
			}
		})
	}
}

func TestDeserialize_Malformed(t *testing.T) {
	validHeader := Header{FrameType: FrameTypeSource, GroupID: 1, BlockIndex: 0, TotalBlocks: 2, PayloadLength: 4}

	tests := []struct {
		name string
		buf  []byte
	}{
		{"too short for header", []byte{0xF0, 0x01, 0x02}},
		{"bad frame type", func() []byte {
			b := validHeader.Append(nil)
			b[0] = 0x42
			return append(b, make([]byte, 4)...)
		}()},
		{"payload_length exceeds buffer", validHeader.Append(nil)},
		{"block_index >= total_blocks", func() []byte {
			h := validHeader
			h.BlockIndex = 2
			return h.Append(nil)
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Deserialize(tt.buf)
			if !errors.Is(err, protocol.ErrMalformedFrame) {
				t.Fatalf("Deserialize(%X) error = %v, want wrapping ErrMalformedFrame", tt.buf, err)
			}
		})
	}
}
