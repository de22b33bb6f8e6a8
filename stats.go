package core

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// Stats mirrors the original source's Stats field set (spec.md §4.9's
// "update stats" / "stats accessor" without naming fields; this module
// uses original_source/mpquic_fec_controller.hpp's set):
// total_packets_sent, source_packets_sent, repair_packets_sent,
// packets_recovered, fec_groups_created, current_redundancy_rate.
type Stats struct {
	TotalPacketsSent      uint64
	SourcePacketsSent     uint64
	RepairPacketsSent     uint64
	PacketsRecovered      uint64
	FECGroupsCreated      uint64
	CurrentRedundancyRate float64
}

// String renders Stats for operator-facing logging, using
// github.com/dustin/go-humanize for the kind of comma-grouped counts a
// production multipath stack prints in its status output.
func (s Stats) String() string {
	return fmt.Sprintf(
		"packets sent=%s (source=%s, repair=%s), recovered=%s, groups=%s, redundancy=%.1f%%",
		humanize.Comma(int64(s.TotalPacketsSent)),
		humanize.Comma(int64(s.SourcePacketsSent)),
		humanize.Comma(int64(s.RepairPacketsSent)),
		humanize.Comma(int64(s.PacketsRecovered)),
		humanize.Comma(int64(s.FECGroupsCreated)),
		s.CurrentRedundancyRate*100,
	)
}
