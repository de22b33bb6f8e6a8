// Package scheduler implements the PathScheduler of spec.md §4.6: a
// per-path weight distribution refreshed by an exponentiated-gradient
// update, used for weighted path selection and for picking a decorrelated
// source/repair path pair.
package scheduler

import (
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/mpquicfec/core/internal/corr"
	"github.com/mpquicfec/core/internal/protocol"
)

// CostWeights are the β, γ, δ coefficients of the per-path cost function.
type CostWeights struct {
	Beta, Gamma, Delta float64
}

// DefaultCostWeights matches spec.md §4.6's defaults (β=0.5, γ=0.3, δ=0.2).
var DefaultCostWeights = CostWeights{Beta: 0.5, Gamma: 0.3, Delta: 0.2}

// DefaultLearningRate is α=0.1 from spec.md §4.6.
const DefaultLearningRate = 0.1

const costFloor = 0.001
const minWeight = 0.001

// PathState is a path's link-quality snapshot, mutated by the transport
// and read by the scheduler and the OCO controller (spec.md §3).
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

// Available reports whether p is usable for scheduling: loss_rate < 0.5
// and bw_mbps > 0.1, per spec.md §4.6.
func (p PathState) Available() bool {
	return p.LossRate < 0.5 && p.BandwidthMb > 0.1
}

// Config configures a Scheduler.
type Config struct {
	CostWeights  CostWeights
	LearningRate float64
	Correlation  *corr.Matrix

	// Rand overrides the source of randomness SelectPath draws from.
	// Tests pass a seeded *rand.Rand for determinism; production leaves
	// it nil and gets a time-seeded default on first use.
	Rand *rand.Rand
}

// Scheduler is the PathScheduler of spec.md §4.6.
type Scheduler struct {
	mu sync.Mutex

	costWeights  CostWeights
	learningRate float64
	corrMatrix   *corr.Matrix

	paths   map[protocol.PathID]PathState
	weights map[protocol.PathID]float64
	randSrc *rand.Rand
}

// New constructs a Scheduler with cfg, filling in spec.md §4.6's defaults
// for any zero field.
func New(cfg Config) *Scheduler {
	if cfg.CostWeights == (CostWeights{}) {
		cfg.CostWeights = DefaultCostWeights
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = DefaultLearningRate
	}
	if cfg.Correlation == nil {
		cfg.Correlation = corr.New()
	}
	return &Scheduler{
		costWeights:  cfg.CostWeights,
		learningRate: cfg.LearningRate,
		corrMatrix:   cfg.Correlation,
		paths:        make(map[protocol.PathID]PathState),
		weights:      make(map[protocol.PathID]float64),
		randSrc:      cfg.Rand,
	}
}

// UpdatePathState records the latest snapshot for a path, seeding it with
// an initial weight of 1/|paths| if it is new — existing paths keep their
// learned weight, since resetting them would discard every prior
// exponentiated-gradient step — then refreshes every path's weight via
// the exponentiated-gradient step.
func (s *Scheduler) UpdatePathState(state PathState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.paths[state.PathID]; !ok {
		s.weights[state.PathID] = 1 / float64(len(s.paths)+1)
	}
	s.paths[state.PathID] = state
	s.updateWeightsLocked()
}

func (s *Scheduler) cost(p PathState) float64 {
	c := s.costWeights.Beta*(p.RTTMs/100) +
		s.costWeights.Gamma*p.LossRate +
		s.costWeights.Delta*(100/math.Max(1, p.BandwidthMb))
	if c < costFloor {
		c = costFloor
	}
	return c
}

func (s *Scheduler) updateWeightsLocked() {
	if len(s.paths) == 0 {
		return
	}
	costs := make(map[protocol.PathID]float64, len(s.paths))
	total := 0.0
	for id, p := range s.paths {
		c := s.cost(p)
		costs[id] = c
		total += c
	}
	if total <= 0 {
		total = costFloor
	}

	sum := 0.0
	for id, c := range costs {
		w := s.weights[id] * math.Exp(-s.learningRate*c/total)
		if w < minWeight {
			w = minWeight
		}
		s.weights[id] = w
		sum += w
	}
	for id, w := range s.weights {
		s.weights[id] = w / sum
	}
}

func (s *Scheduler) sortedIDsLocked() []protocol.PathID {
	ids := make([]protocol.PathID, 0, len(s.paths))
	for id := range s.paths {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Weights returns a snapshot of the current weight distribution.
func (s *Scheduler) Weights() map[protocol.PathID]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[protocol.PathID]float64, len(s.weights))
	for id, w := range s.weights {
		out[id] = w
	}
	return out
}
