// Package oco implements the OCOController of spec.md §4.7: the
// redundancy-decision authority that chooses (k, m, source_path,
// repair_path) by minimising a weighted cost over observed link metrics,
// and adapts its per-path gradient accumulators from feedback.
package oco

import (
	"math"
	"sort"
	"sync"

	"github.com/gammazero/deque"
	"github.com/go-logr/logr"

	"github.com/mpquicfec/core/internal/corr"
	"github.com/mpquicfec/core/internal/protocol"
	"github.com/mpquicfec/core/internal/utils"
)

// LinkMetrics is a path's link-quality snapshot as seen by OCO.
type LinkMetrics struct {
	PathID      protocol.PathID
	RTTMs       float64
	LossRate    float64
	BandwidthMb float64
}

// CostWeights are α_loss, α_delay, α_overhead — renormalised to sum to 1
// whenever set, per spec.md §4.7.
type CostWeights struct {
	Loss, Delay, Overhead float64
}

func (w CostWeights) normalized() CostWeights {
	sum := w.Loss + w.Delay + w.Overhead
	if sum <= 0 {
		return DefaultCostWeights
	}
	return CostWeights{Loss: w.Loss / sum, Delay: w.Delay / sum, Overhead: w.Overhead / sum}
}

// DefaultCostWeights matches spec.md §4.7's defaults (0.5, 0.3, 0.2).
var DefaultCostWeights = CostWeights{Loss: 0.5, Delay: 0.3, Overhead: 0.2}

// DefaultRedundancyBounds is [0.1, 1.0] from spec.md §4.7.
var DefaultRedundancyBounds = RedundancyBounds{Min: 0.1, Max: 1.0}

// DefaultLearningRate is η=0.05 from spec.md §4.7.
const DefaultLearningRate = 0.05

// historyLimit bounds the decision history to the last 100 decisions,
// per spec.md §4.7.
const historyLimit = 100

// RedundancyBounds is [min_rate, max_rate], clamped to [0,1] with the
// narrower side winning on a misconfigured band, per spec.md §7.
type RedundancyBounds struct {
	Min, Max float64
}

func (b RedundancyBounds) clamp() RedundancyBounds {
	min, max := clamp(b.Min, 0, 1), clamp(b.Max, 0, 1)
	if min > max {
		min, max = max, min
	}
	return RedundancyBounds{Min: min, Max: max}
}

// RedundancyDecision is the outcome of ComputeOptimalRedundancy, per
// spec.md §3.
type RedundancyDecision struct {
	K, M                   int
	SourcePath, RepairPath protocol.PathID
	RedundancyRate         float64
	Confidence             float64
	Cost                   float64
}

// Config configures a Controller.
type Config struct {
	CostWeights      CostWeights
	RedundancyBounds RedundancyBounds
	LearningRate     float64
	Correlation      *corr.Matrix
	Logger           logr.Logger
}

// Controller is the OCOController of spec.md §4.7.
type Controller struct {
	mu sync.Mutex

	costWeights  CostWeights
	bounds       RedundancyBounds
	learningRate float64
	corrMatrix   *corr.Matrix
	log          logr.Logger

	metrics      map[protocol.PathID]LinkMetrics
	accumulators map[protocol.PathID]float64
	history      deque.Deque[RedundancyDecision]
	lastDecision *RedundancyDecision
}

// New constructs a Controller with cfg, filling in spec.md §4.7's
// defaults for any zero field.
func New(cfg Config) *Controller {
	if cfg.CostWeights == (CostWeights{}) {
		cfg.CostWeights = DefaultCostWeights
	} else {
		cfg.CostWeights = cfg.CostWeights.normalized()
	}
	if cfg.RedundancyBounds == (RedundancyBounds{}) {
		cfg.RedundancyBounds = DefaultRedundancyBounds
	} else {
		cfg.RedundancyBounds = cfg.RedundancyBounds.clamp()
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = DefaultLearningRate
	}
	if cfg.Correlation == nil {
		cfg.Correlation = corr.New()
	}
	return &Controller{
		costWeights:  cfg.CostWeights,
		bounds:       cfg.RedundancyBounds,
		learningRate: cfg.LearningRate,
		corrMatrix:   cfg.Correlation,
		log:          utils.OrDiscard(cfg.Logger),
		metrics:      make(map[protocol.PathID]LinkMetrics),
		accumulators: make(map[protocol.PathID]float64),
	}
}

// UpdatePathMetrics records the latest LinkMetrics for a path.
func (c *Controller) UpdatePathMetrics(m LinkMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics[m.PathID] = m
	if _, ok := c.accumulators[m.PathID]; !ok {
		c.accumulators[m.PathID] = 0
	}
}

// UpdateCorrelation fans a correlation sample into the shared matrix.
func (c *Controller) UpdateCorrelation(i, j protocol.PathID, rho float64) {
	c.corrMatrix.UpdateCorrelation(i, j, rho)
}

// SetCostWeights replaces the cost weights, renormalising to sum 1.
func (c *Controller) SetCostWeights(w CostWeights) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.costWeights = w.normalized()
}

// SetRedundancyConstraints replaces the redundancy band, clamping to
// [0,1] with the narrower side winning on a misconfigured band.
func (c *Controller) SetRedundancyConstraints(b RedundancyBounds) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bounds = b.clamp()
}

// AllMetrics returns a snapshot of every tracked path's LinkMetrics.
func (c *Controller) AllMetrics() []LinkMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LinkMetrics, 0, len(c.metrics))
	for _, m := range c.metrics {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PathID < out[j].PathID })
	return out
}

// ComputeOptimalRedundancy implements spec.md §4.7's five-step decision
// procedure. With zero known paths it returns the documented default
// decision (k=4, m=2, both paths=0, confidence=1.0) and logs a warning.
func (c *Controller) ComputeOptimalRedundancy() RedundancyDecision {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.metrics) == 0 {
		c.log.Info("computing redundancy with no known paths, using default decision")
		d := RedundancyDecision{K: 4, M: 2, SourcePath: 0, RepairPath: 0, RedundancyRate: 0.5, Confidence: 1.0}
		c.pushHistoryLocked(d)
		return d
	}

	sourcePath := c.argmaxLocked(func(m LinkMetrics) float64 {
		return -0.3*m.RTTMs - 0.5*m.LossRate*1000 + 0.2*m.BandwidthMb
	})
	repairPath := c.repairPathLocked(sourcePath)

	src := c.metrics[sourcePath]
	required := src.LossRate * 2 * (1 + src.RTTMs/200*0.3)
	required = clamp(required, c.bounds.Min, c.bounds.Max)

	k, m := ratioToKM(required)

	confidence := 1 - src.LossRate

	rep := c.metrics[repairPath]
	cost := c.costWeights.Loss*src.LossRate +
		c.costWeights.Delay*(src.RTTMs+rep.RTTMs)/1000 +
		c.costWeights.Overhead*(float64(m)/float64(k))

	d := RedundancyDecision{
		K: k, M: m,
		SourcePath: sourcePath, RepairPath: repairPath,
		RedundancyRate: float64(m) / float64(k),
		Confidence:     confidence,
		Cost:           cost,
	}
	c.pushHistoryLocked(d)
	c.log.V(1).Info("computed redundancy decision",
		"k", d.K, "m", d.M, "redundancy_rate", d.RedundancyRate, "cost", d.Cost,
		"source_path", d.SourcePath, "repair_path", d.RepairPath,
		"correlation", c.corrMatrix.GetCorrelation(sourcePath, repairPath))
	return d
}

func (c *Controller) argmaxLocked(score func(LinkMetrics) float64) protocol.PathID {
	ids := make([]protocol.PathID, 0, len(c.metrics))
	for id := range c.metrics {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	best := ids[0]
	bestScore := score(c.metrics[best])
	for _, id := range ids[1:] {
		s := score(c.metrics[id])
		if s > bestScore {
			best, bestScore = id, s
		}
	}
	return best
}

func (c *Controller) repairPathLocked(source protocol.PathID) protocol.PathID {
	if len(c.metrics) == 1 {
		return source
	}
	others := make([]protocol.PathID, 0, len(c.metrics)-1)
	for id := range c.metrics {
		if id != source {
			others = append(others, id)
		}
	}
	sort.Slice(others, func(i, j int) bool { return others[i] < others[j] })

	repair, ok := c.corrMatrix.LeastCorrelated(source, others)
	if !ok || repair == source {
		return others[0]
	}
	return repair
}

// ratioToKM maps a target redundancy rate to (k, m) per spec.md §4.7
// step 4: default k=8; k=10 if rate<0.2; k=4 if rate>0.6; then
// m = clamp(ceil(k*rate), 1, k).
func ratioToKM(rate float64) (k, m int) {
	k = 8
	switch {
	case rate < 0.2:
		k = 10
	case rate > 0.6:
		k = 4
	}
	m = int(math.Ceil(float64(k) * rate))
	if m < 1 {
		m = 1
	}
	if m > k {
		m = k
	}
	return k, m
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func (c *Controller) pushHistoryLocked(d RedundancyDecision) {
	c.history.PushBack(d)
	for c.history.Len() > historyLimit {
		c.history.PopFront()
	}
	dCopy := d
	c.lastDecision = &dCopy
}

// FeedbackUpdate computes error = actual_loss - predicted_loss (the most
// recent decision's source-path loss) and updates every path's gradient
// accumulator: acc_p -= η·grad_p·error, where
// grad_p = α_loss·loss_p + α_delay·(rtt_p/100), per spec.md §4.7.
func (c *Controller) FeedbackUpdate(actualLoss, actualRTTMs float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastDecision == nil {
		return
	}
	predicted := c.metrics[c.lastDecision.SourcePath].LossRate
	errTerm := actualLoss - predicted

	for id, m := range c.metrics {
		grad := c.costWeights.Loss*m.LossRate + c.costWeights.Delay*(m.RTTMs/100)
		c.accumulators[id] -= c.learningRate * grad * errTerm
	}
}

// Accumulator returns the current gradient accumulator for a path.
func (c *Controller) Accumulator(id protocol.PathID) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accumulators[id]
}

// History returns a snapshot of the bounded decision history, oldest
// first.
func (c *Controller) History() []RedundancyDecision {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]RedundancyDecision, c.history.Len())
	for i := 0; i < c.history.Len(); i++ {
		out[i] = c.history.At(i)
	}
	return out
}
