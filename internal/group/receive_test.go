package group

import (
	"bytes"
	"testing"

	"github.com/mpquicfec/core/internal/fec"
	"github.com/mpquicfec/core/internal/protocol"
	"github.com/mpquicfec/core/internal/wire"
)

func sourceFrame(groupID protocol.GroupID, idx, total uint32, data []byte) wire.Frame {
	return wire.Frame{
		Header: wire.Header{
			FrameType:     wire.FrameTypeSource,
			GroupID:       groupID,
			BlockIndex:    protocol.BlockIndex(idx),
			TotalBlocks:   total,
			PayloadLength: uint32(len(data)),
		},
		Payload: data,
	}
}

func repairFrame(groupID protocol.GroupID, idx, total uint32, data []byte) wire.Frame {
	f := sourceFrame(groupID, idx, total, data)
	f.Header.FrameType = wire.FrameTypeRepair
	return f
}

// TestAssembler_DecodesAfterK mirrors spec.md §8 scenario S1 on the
// receive side: with negotiated (k=4, m=2), losing two source blocks out
// of six still recovers all four data payloads once enough frames arrive.
func TestAssembler_DecodesAfterK(t *testing.T) {
	data := [][]byte{payload(1, 8), payload(2, 8), payload(3, 8), payload(4, 8)}
	codec, err := fec.New(fec.SchemeSystematicRS, 4, 2, 8)
	if err != nil {
		t.Fatalf("fec.New: %v", err)
	}
	parity, err := codec.Encode(data)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	asm := NewAssembler(AssemblerConfig{Scheme: fec.SchemeSystematicRS})
	asm.RegisterParams(1, 4, 2)

	const gid = protocol.GroupID(1)
	frames := []wire.Frame{
		sourceFrame(gid, 1, 6, data[1]),
		sourceFrame(gid, 3, 6, data[3]),
		repairFrame(gid, 4, 6, parity[0]),
	}
	for _, f := range frames {
		out, err := asm.OnFrameReceived(f)
		if err != nil {
			t.Fatalf("OnFrameReceived: %v", err)
		}
		if out != nil {
			t.Fatalf("decoded early with only %d blocks", len(asm.groups[gid].Blocks))
		}
	}

	out, err := asm.OnFrameReceived(repairFrame(gid, 5, 6, parity[1]))
	if err != nil {
		t.Fatalf("OnFrameReceived (4th block): %v", err)
	}
	if out == nil {
		t.Fatalf("expected decode to succeed on the 4th distinct block")
	}
	for i := range data {
		if !bytes.Equal(out[i], data[i]) {
			t.Fatalf("recovered block %d mismatch", i)
		}
	}

	// A further frame for the same, already-decoded group is discarded.
	out2, err := asm.OnFrameReceived(sourceFrame(gid, 0, 6, data[0]))
	if err != nil {
		t.Fatalf("OnFrameReceived (post-decode): %v", err)
	}
	if out2 != nil {
		t.Fatalf("expected nil on post-decode frame, got %d blocks", len(out2))
	}
}

func TestAssembler_DuplicateIndexOverwrites(t *testing.T) {
	asm := NewAssembler(AssemblerConfig{Scheme: fec.SchemeXORReference})
	asm.RegisterParams(1, 2, 1)

	const gid = protocol.GroupID(1)
	if _, err := asm.OnFrameReceived(sourceFrame(gid, 0, 3, payload(9, 4))); err != nil {
		t.Fatalf("OnFrameReceived: %v", err)
	}
	if _, err := asm.OnFrameReceived(sourceFrame(gid, 0, 3, payload(8, 4))); err != nil {
		t.Fatalf("OnFrameReceived (overwrite): %v", err)
	}
	rg := asm.groups[gid]
	if len(rg.Blocks) != 1 {
		t.Fatalf("len(Blocks) = %d, want 1 after overwriting the same index", len(rg.Blocks))
	}
	if !bytes.Equal(rg.Blocks[0], payload(8, 4)) {
		t.Fatalf("Blocks[0] was not overwritten by the second frame")
	}
}

func TestAssembler_ConventionFallbackWithoutRegisterParams(t *testing.T) {
	asm := NewAssembler(AssemblerConfig{Scheme: fec.SchemeSystematicRS})
	const gid = protocol.GroupID(1)
	if _, err := asm.OnFrameReceived(sourceFrame(gid, 0, 6, payload(1, 8))); err != nil {
		t.Fatalf("OnFrameReceived: %v", err)
	}
	rg := asm.groups[gid]
	if rg.K == 0 || rg.K >= rg.TotalBlocks {
		t.Fatalf("fallback k=%d invalid for total_blocks=%d", rg.K, rg.TotalBlocks)
	}
}
