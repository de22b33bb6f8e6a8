// Package wire implements the on-wire framing for source and repair
// packets: a fixed 21-octet header (frame_type, group_id, block_index,
// total_blocks, payload_length) followed by the payload, all big-endian.
// There is no escaping or variable-length encoding — unlike the rest of
// the quic-go frame family this module descends from, the FEC frame
// header is a fixed layout, so it is serialised with encoding/binary
// rather than quicvarint.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/mpquicfec/core/internal/protocol"
)

// FrameType distinguishes a systematic source block from a parity block.
type FrameType byte

const (
	FrameTypeSource FrameType = 0xF0
	FrameTypeRepair FrameType = 0xF1
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeSource:
		return "SOURCE"
	case FrameTypeRepair:
		return "REPAIR"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02X)", byte(t))
	}
}

// HeaderLen is the fixed size, in octets, of a Header once serialised:
// frame_type(1) + group_id(8) + block_index(4) + total_blocks(4) +
// payload_length(4).
const HeaderLen = 1 + 8 + 4 + 4 + 4

// Header is the fixed 21-octet frame header described in spec.md §3/§6.
type Header struct {
	FrameType     FrameType
	GroupID       protocol.GroupID
	BlockIndex    protocol.BlockIndex
	TotalBlocks   uint32
	PayloadLength uint32
}

// Frame pairs a Header with its payload octets.
type Frame struct {
	Header  Header
	Payload []byte
}

// IsSource reports whether the frame carries a systematic source block.
func (f Frame) IsSource() bool { return f.Header.FrameType == FrameTypeSource }

// IsRepair reports whether the frame carries a parity block.
func (f Frame) IsRepair() bool { return f.Header.FrameType == FrameTypeRepair }

// Append serialises the header into b, returning the extended slice.
func (h Header) Append(b []byte) []byte {
	b = append(b, byte(h.FrameType))
	b = binary.BigEndian.AppendUint64(b, uint64(h.GroupID))
	b = binary.BigEndian.AppendUint32(b, uint32(h.BlockIndex))
	b = binary.BigEndian.AppendUint32(b, h.TotalBlocks)
	b = binary.BigEndian.AppendUint32(b, h.PayloadLength)
	return b
}

// Serialize returns header||payload as a freshly allocated slice.
func (f Frame) Serialize() []byte {
	out := make([]byte, 0, HeaderLen+len(f.Payload))
	out = f.Header.Append(out)
	out = append(out, f.Payload...)
	return out
}

// ParseHeader validates and decodes the first HeaderLen octets of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return Header{}, fmt.Errorf("%w: need %d octets for header, got %d", protocol.ErrMalformedFrame, HeaderLen, len(buf))
	}
	ft := FrameType(buf[0])
	if ft != FrameTypeSource && ft != FrameTypeRepair {
		return Header{}, fmt.Errorf("%w: unrecognised frame_type 0x%02X", protocol.ErrMalformedFrame, buf[0])
	}
	h := Header{
		FrameType:     ft,
		GroupID:       protocol.GroupID(binary.BigEndian.Uint64(buf[1:9])),
		BlockIndex:    protocol.BlockIndex(binary.BigEndian.Uint32(buf[9:13])),
		TotalBlocks:   binary.BigEndian.Uint32(buf[13:17]),
		PayloadLength: binary.BigEndian.Uint32(buf[17:21]),
	}
	if uint32(h.BlockIndex) >= h.TotalBlocks {
		return Header{}, fmt.Errorf("%w: block_index %d >= total_blocks %d", protocol.ErrMalformedFrame, h.BlockIndex, h.TotalBlocks)
	}
	return h, nil
}

// Deserialize validates and decodes a full frame from buf, per the
// violations enumerated in spec.md §4.2:
//
//  1. len(buf) >= HeaderLen
//  2. frame_type ∈ {source, repair}
//  3. len(buf) >= HeaderLen + payload_length
//  4. block_index < total_blocks
func Deserialize(buf []byte) (Frame, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return Frame{}, err
	}
	need := uint64(HeaderLen) + uint64(h.PayloadLength)
	if uint64(len(buf)) < need {
		return Frame{}, fmt.Errorf("%w: need %d octets for payload_length %d, got %d", protocol.ErrMalformedFrame, need, h.PayloadLength, len(buf))
	}
	payload := make([]byte, h.PayloadLength)
	copy(payload, buf[HeaderLen:need])
	return Frame{Header: h, Payload: payload}, nil
}
