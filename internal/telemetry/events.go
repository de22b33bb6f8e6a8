// Package telemetry encodes Controller decision and group lifecycle
// events as one JSON object per line, for offline analysis, using
// github.com/francoispqt/gojay the way the quic-go family encodes qlog
// events: a MarshalerJSONObject per event type instead of reflection.
package telemetry

import (
	"io"
	"sync"

	"github.com/francoispqt/gojay"

	"github.com/mpquicfec/core/internal/oco"
	"github.com/mpquicfec/core/internal/protocol"
)

// RedundancyDecisionEvent wraps an oco.RedundancyDecision for encoding.
type RedundancyDecisionEvent struct {
	Decision oco.RedundancyDecision
}

// MarshalJSONObject implements gojay.MarshalerJSONObject.
func (e RedundancyDecisionEvent) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("event", "redundancy_decision")
	enc.IntKey("k", e.Decision.K)
	enc.IntKey("m", e.Decision.M)
	enc.Float64Key("redundancy_rate", e.Decision.RedundancyRate)
	enc.Float64Key("confidence", e.Decision.Confidence)
	enc.Float64Key("cost", e.Decision.Cost)
	enc.Uint32Key("source_path", uint32(e.Decision.SourcePath))
	enc.Uint32Key("repair_path", uint32(e.Decision.RepairPath))
}

// IsNil implements gojay.MarshalerJSONObject.
func (e RedundancyDecisionEvent) IsNil() bool { return false }

// GroupEncodedEvent records that a group finished encoding.
type GroupEncodedEvent struct {
	GroupID protocol.GroupID
	K, M    uint32
}

func (e GroupEncodedEvent) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("event", "group_encoded")
	enc.Uint64Key("group_id", uint64(e.GroupID))
	enc.Uint32Key("k", e.K)
	enc.Uint32Key("m", e.M)
}

func (e GroupEncodedEvent) IsNil() bool { return false }

// GroupDecodedEvent records that a group was successfully decoded on
// receive.
type GroupDecodedEvent struct {
	GroupID   protocol.GroupID
	Recovered int
}

func (e GroupDecodedEvent) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("event", "group_decoded")
	enc.Uint64Key("group_id", uint64(e.GroupID))
	enc.IntKey("recovered", e.Recovered)
}

func (e GroupDecodedEvent) IsNil() bool { return false }

// Sink writes one gojay.MarshalerJSONObject per line to an underlying
// io.Writer. A nil Sink (the zero value's w) silently drops events — the
// same no-op-when-unset shape Controller uses for its optional writer.
type Sink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewSink wraps w. A nil w makes Emit a no-op.
func NewSink(w io.Writer) *Sink {
	return &Sink{w: w}
}

// Emit encodes obj as one JSON object followed by a newline. Encoding or
// write errors are swallowed: telemetry is purely additive observability
// and must never affect an operation's outcome.
func (s *Sink) Emit(obj gojay.MarshalerJSONObject) {
	if s == nil || s.w == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := gojay.MarshalJSONObject(obj)
	if err != nil {
		return
	}
	b = append(b, '\n')
	_, _ = s.w.Write(b)
}
