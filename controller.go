// Package core composes the coding, mapping, scheduling and redundancy
// components behind the two entry points spec.md §1(e)/§4.9 describes:
// a send-path ingest hook and a receive-path deliver hook.
package core

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mpquicfec/core/internal/corr"
	"github.com/mpquicfec/core/internal/group"
	"github.com/mpquicfec/core/internal/mapping"
	"github.com/mpquicfec/core/internal/oco"
	"github.com/mpquicfec/core/internal/protocol"
	"github.com/mpquicfec/core/internal/scheduler"
	"github.com/mpquicfec/core/internal/telemetry"
	"github.com/mpquicfec/core/internal/utils"
	"github.com/mpquicfec/core/internal/wire"
)

// PathState is a path's link-quality snapshot, per spec.md §3. AddPath
// and UpdatePathState fan this out to the Scheduler and the
// OCOController.
type PathState struct {
	PathID      protocol.PathID
	RTTMs       float64
	LossRate    float64
	BandwidthMb float64
	JitterMs    float64
	CwndBytes   uint64
	BytesSent   uint64
	BytesAcked  uint64
}

func (p PathState) schedulerState() scheduler.PathState {
	return scheduler.PathState{
		PathID: p.PathID, RTTMs: p.RTTMs, LossRate: p.LossRate,
		BandwidthMb: p.BandwidthMb, JitterMs: p.JitterMs,
		CwndBytes: p.CwndBytes, BytesSent: p.BytesSent, BytesAcked: p.BytesAcked,
	}
}

func (p PathState) linkMetrics() oco.LinkMetrics {
	return oco.LinkMetrics{PathID: p.PathID, RTTMs: p.RTTMs, LossRate: p.LossRate, BandwidthMb: p.BandwidthMb}
}

// SendPacketMeta describes one packet the send hook produced, handed
// back to the transport per spec.md §6's control interface.
type SendPacketMeta struct {
	PacketNumber protocol.PacketNumber
	PathID       protocol.PathID
	Frame        []byte
	IsRepair     bool
	SendTime     time.Time
}

type pathAccounting struct {
	acked, lost uint64
	rttEWMA     float64
}

func (a *pathAccounting) lossRate() float64 {
	total := a.acked + a.lost
	if total == 0 {
		return 0
	}
	return float64(a.lost) / float64(total)
}

// Controller is the Controller of spec.md §4.9: it owns one instance of
// every component plus the per-path packet-number counters, and exposes
// the send/receive hooks transport collaborators call into.
type Controller struct {
	mu sync.Mutex

	fecEnabled bool
	blockSize  uint32

	mgr       *group.Manager
	assembler *group.Assembler
	mappings  *mapping.Map
	corrMat   *corr.Matrix
	sched     *scheduler.Scheduler
	redund    *oco.Controller

	nextPacketNumber map[protocol.PathID]protocol.PacketNumber
	accounting       map[protocol.PathID]*pathAccounting

	currentDecision oco.RedundancyDecision

	gcTrigger protocol.GroupID
	gcKeep    protocol.GroupID

	updateGate rate.Sometimes
	stats      Stats

	log  logr.Logger
	sink *telemetry.Sink
}

// New constructs a Controller from cfg, which must pass Validate.
func New(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := utils.OrDiscard(cfg.Logger)
	corrMat := corr.New()

	minInterval := cfg.PeriodicUpdateMinInterval
	if minInterval == 0 {
		minInterval = defaultPeriodicUpdateMinInterval
	}
	gcTrigger, gcKeep := cfg.MappingGCTrigger, cfg.MappingGCKeep
	if gcTrigger == 0 {
		gcTrigger = 1000
	}
	if gcKeep == 0 {
		gcKeep = 500
	}

	assembler := group.NewAssembler(group.AssemblerConfig{Scheme: cfg.Scheme, Logger: log})
	mgr, err := group.NewManager(group.ManagerConfig{
		Scheme: cfg.Scheme, K: cfg.K, M: cfg.M, BlockSize: cfg.BlockSize,
		EncodeWorkers: cfg.EncodeWorkers, Logger: log,
		OnParamsChanged: func(fromGroupID protocol.GroupID, k, m uint32) {
			assembler.RegisterParams(fromGroupID, k, m)
		},
	})
	if err != nil {
		return nil, err
	}

	c := &Controller{
		fecEnabled: cfg.FECEnabled,
		blockSize:  cfg.BlockSize,
		mgr:        mgr,
		assembler:  assembler,
		mappings:   mapping.New(),
		corrMat:    corrMat,
		sched: scheduler.New(scheduler.Config{
			CostWeights: cfg.SchedulerCostWeights, LearningRate: cfg.SchedulerLearningRate, Correlation: corrMat,
		}),
		redund: oco.New(oco.Config{
			CostWeights: cfg.CostWeights, RedundancyBounds: cfg.RedundancyBounds,
			LearningRate: cfg.LearningRate, Correlation: corrMat, Logger: log,
		}),
		nextPacketNumber: make(map[protocol.PathID]protocol.PacketNumber),
		accounting:       make(map[protocol.PathID]*pathAccounting),
		gcTrigger:        gcTrigger,
		gcKeep:           gcKeep,
		updateGate:       rate.Sometimes{Interval: minInterval},
		log:              log,
		sink:             telemetry.NewSink(cfg.TelemetrySink),
		currentDecision: oco.RedundancyDecision{
			K: int(cfg.K), M: int(cfg.M), RedundancyRate: float64(cfg.M) / float64(cfg.K), Confidence: 1.0,
		},
	}
	return c, nil
}

// AddPath registers a path with the Scheduler and OCOController, and
// initialises its packet-number counter at 1, per spec.md §4.9.
func (c *Controller) AddPath(state PathState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextPacketNumber[state.PathID] = 1
	c.accounting[state.PathID] = &pathAccounting{rttEWMA: state.RTTMs}
	c.sched.UpdatePathState(state.schedulerState())
	c.redund.UpdatePathMetrics(state.linkMetrics())
}

// UpdatePathState fans a new snapshot out to the Scheduler and the
// OCOController.
func (c *Controller) UpdatePathState(state PathState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sched.UpdatePathState(state.schedulerState())
	c.redund.UpdatePathMetrics(state.linkMetrics())
}

// UpdateLossCorrelation fans a correlation sample out to the Scheduler
// and the OCOController, both of which share the same CorrelationMatrix.
func (c *Controller) UpdateLossCorrelation(i, j protocol.PathID, rho float64) {
	c.corrMat.UpdateCorrelation(i, j, rho)
}

// SetFECEnabled toggles FEC encoding for subsequent SendStreamData
// calls.
func (c *Controller) SetFECEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fecEnabled = enabled
}

// SetFECStrategy pushes strategy's redundancy band into the
// OCOController, per spec.md §4.8.
func (c *Controller) SetFECStrategy(strategy oco.Strategy) {
	c.redund.SetRedundancyConstraints(strategy.RedundancyRange())
}

// Stats returns a snapshot of the running counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// SendStreamData implements spec.md §4.9's send_stream_data: with FEC
// disabled it emits one source-shaped frame on originPath; otherwise it
// feeds payload to the GroupManager and, when a group completes, frames
// and path-assigns all of its k+m blocks using the current redundancy
// decision.
func (c *Controller) SendStreamData(payload []byte, originPath protocol.PathID) ([]SendPacketMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.fecEnabled {
		f := wire.Frame{
			Header: wire.Header{
				FrameType: wire.FrameTypeSource, GroupID: 0, BlockIndex: 0,
				TotalBlocks: 1, PayloadLength: uint32(len(payload)),
			},
			Payload: payload,
		}
		pn := c.allocatePacketNumberLocked(originPath)
		c.stats.TotalPacketsSent++
		c.stats.SourcePacketsSent++
		return []SendPacketMeta{{
			PacketNumber: pn, PathID: originPath, Frame: f.Serialize(), IsRepair: false, SendTime: time.Now(),
		}}, nil
	}

	groupID, ok, err := c.mgr.AddSourcePacket(payload)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return c.frameCompletedGroupLocked(groupID)
}

func (c *Controller) frameCompletedGroupLocked(groupID protocol.GroupID) ([]SendPacketMeta, error) {
	g, ok := c.mgr.GetEncodedGroup(groupID)
	if !ok {
		return nil, fmt.Errorf("fec: group %d vanished immediately after encoding", groupID)
	}

	decision := c.currentDecision
	totalBlocks := g.K + g.M
	metas := make([]SendPacketMeta, 0, totalBlocks)

	for i, payload := range g.Source {
		f := wire.Frame{
			Header: wire.Header{
				FrameType: wire.FrameTypeSource, GroupID: g.ID, BlockIndex: protocol.BlockIndex(i),
				TotalBlocks: totalBlocks, PayloadLength: uint32(len(payload)),
			},
			Payload: payload,
		}
		pn := c.allocatePacketNumberLocked(decision.SourcePath)
		c.mappings.AddMapping(decision.SourcePath, pn, g.ID, protocol.BlockIndex(i), mapping.RoleSource)
		metas = append(metas, SendPacketMeta{PacketNumber: pn, PathID: decision.SourcePath, Frame: f.Serialize(), IsRepair: false, SendTime: time.Now()})
		c.stats.SourcePacketsSent++
	}
	for i, payload := range g.Repair {
		blockIndex := uint32(int(g.K) + i)
		f := wire.Frame{
			Header: wire.Header{
				FrameType: wire.FrameTypeRepair, GroupID: g.ID, BlockIndex: protocol.BlockIndex(blockIndex),
				TotalBlocks: totalBlocks, PayloadLength: uint32(len(payload)),
			},
			Payload: payload,
		}
		pn := c.allocatePacketNumberLocked(decision.RepairPath)
		c.mappings.AddMapping(decision.RepairPath, pn, g.ID, protocol.BlockIndex(blockIndex), mapping.RoleRepair)
		metas = append(metas, SendPacketMeta{PacketNumber: pn, PathID: decision.RepairPath, Frame: f.Serialize(), IsRepair: true, SendTime: time.Now()})
		c.stats.RepairPacketsSent++
	}

	c.stats.TotalPacketsSent += uint64(len(metas))
	c.stats.FECGroupsCreated++
	c.stats.CurrentRedundancyRate = decision.RedundancyRate
	c.sink.Emit(telemetry.GroupEncodedEvent{GroupID: g.ID, K: g.K, M: g.M})
	return metas, nil
}

func (c *Controller) allocatePacketNumberLocked(path protocol.PathID) protocol.PacketNumber {
	pn, ok := c.nextPacketNumber[path]
	if !ok {
		pn = 1
	}
	c.nextPacketNumber[path] = pn + 1
	return pn
}

// ReceiveFECFrame implements spec.md §4.9's receive_fec_frame: it
// deserialises frameBytes, delegates to the ReceiveAssembler, and counts
// any recovered payloads. A malformed frame is dropped — this call
// returns the error but does not otherwise disturb controller state, per
// spec.md §7's propagation policy.
func (c *Controller) ReceiveFECFrame(frameBytes []byte, fromPath protocol.PathID) ([][]byte, error) {
	f, err := wire.Deserialize(frameBytes)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	recovered, err := c.assembler.OnFrameReceived(f)
	if err != nil {
		return nil, err
	}
	if recovered != nil {
		c.stats.PacketsRecovered += uint64(len(recovered))
		c.sink.Emit(telemetry.GroupDecodedEvent{GroupID: f.Header.GroupID, Recovered: len(recovered)})
	}
	return recovered, nil
}

// OnAckReceived looks up the packet's mapping and, only if one is found
// (an ack for a packet this Controller never mapped to a block — stale,
// GC'd, or sent with FEC disabled — is not applicable per spec.md §4.9),
// updates the originating path's RTT estimate and ack accounting, and
// feeds the resulting metrics to the OCOController.
func (c *Controller) OnAckReceived(path protocol.PathID, pktNum protocol.PacketNumber, rttUs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.mappings.FindByPacket(path, pktNum)
	if !ok {
		return
	}
	c.log.V(1).Info("packet acked", "path", path, "pkt_num", pktNum, "group", m.GroupID, "block_index", m.BlockIndex, "role", m.Role)
	c.recordAckLocked(path, rttUs)
}

func (c *Controller) recordAckLocked(path protocol.PathID, rttUs int64) {
	acc, ok := c.accounting[path]
	if !ok {
		acc = &pathAccounting{}
		c.accounting[path] = acc
	}
	acc.acked++
	rttMs := float64(rttUs) / 1000
	if acc.rttEWMA == 0 {
		acc.rttEWMA = rttMs
	} else {
		acc.rttEWMA = 0.8*acc.rttEWMA + 0.2*rttMs
	}
	c.redund.FeedbackUpdate(acc.lossRate(), acc.rttEWMA)
}

// OnPacketLost looks up the packet's mapping and, only if one is found,
// feeds updated loss accounting to the OCOController — the same
// "applicable" gate OnAckReceived uses. The mapping's Role distinguishes
// a lost source block from a lost repair block for logging; both count
// identically toward the path's loss rate, since either one is a lost
// packet on that path regardless of which block it carried.
func (c *Controller) OnPacketLost(path protocol.PathID, pktNum protocol.PacketNumber) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.mappings.FindByPacket(path, pktNum)
	if !ok {
		return
	}
	c.log.V(1).Info("packet lost", "path", path, "pkt_num", pktNum, "group", m.GroupID, "block_index", m.BlockIndex, "role", m.Role)

	acc, ok := c.accounting[path]
	if !ok {
		acc = &pathAccounting{}
		c.accounting[path] = acc
	}
	acc.lost++
	c.redund.FeedbackUpdate(acc.lossRate(), acc.rttEWMA)
}

// PeriodicUpdate implements spec.md §4.9's periodic_update: a no-op if
// less than the configured minimum interval has elapsed since the last
// call; otherwise it recomputes the redundancy decision, applies it to
// the GroupManager (flushing any partial group), and GCs mappings and
// groups once groups_created exceeds the trigger.
func (c *Controller) PeriodicUpdate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ran bool
	c.updateGate.Do(func() { ran = true })
	if !ran {
		return nil
	}

	decision := c.redund.ComputeOptimalRedundancy()
	c.currentDecision = decision
	c.stats.CurrentRedundancyRate = decision.RedundancyRate
	c.sink.Emit(telemetry.RedundancyDecisionEvent{Decision: decision})

	var g errgroup.Group
	g.Go(func() error {
		return c.mgr.UpdateCodingParams(uint32(decision.K), uint32(decision.M))
	})
	g.Go(func() error {
		created := c.mgr.GroupsCreated()
		if created > c.gcTrigger {
			before := created - c.gcKeep
			c.mgr.CleanupOldGroups(before)
			c.mappings.CleanupOldMappings(before)
		}
		return nil
	})
	return g.Wait()
}
