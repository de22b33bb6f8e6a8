// Package corr implements the CorrelationMatrix of spec.md §4.5: a
// symmetric estimate of how correlated loss events are between any two
// paths, used by the scheduler to prefer spreading source and repair
// blocks across weakly-correlated paths.
package corr

import (
	"math"
	"sync"

	"github.com/mpquicfec/core/internal/protocol"
)

type pathPair struct {
	a, b protocol.PathID
}

func canonicalPair(a, b protocol.PathID) pathPair {
	if a <= b {
		return pathPair{a, b}
	}
	return pathPair{b, a}
}

// Matrix holds ρ(i,j) ∈ [-1,1] for every observed path pair. An unseen
// pair defaults to 0 — independence.
type Matrix struct {
	mu    sync.Mutex
	rho   map[pathPair]float64
	paths map[protocol.PathID]struct{}
}

// New constructs an empty Matrix.
func New() *Matrix {
	return &Matrix{
		rho:   make(map[pathPair]float64),
		paths: make(map[protocol.PathID]struct{}),
	}
}

// UpdateCorrelation sets ρ(a,b), clamped to [-1,1]. UpdateCorrelation(a,
// b, x) and UpdateCorrelation(b, a, x) are equivalent, per spec.md §8's
// correlation-symmetry property.
func (m *Matrix) UpdateCorrelation(a, b protocol.PathID, rho float64) {
	if rho > 1 {
		rho = 1
	} else if rho < -1 {
		rho = -1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paths[a] = struct{}{}
	m.paths[b] = struct{}{}
	if a == b {
		return // a path is trivially correlated with itself; not tracked.
	}
	m.rho[canonicalPair(a, b)] = rho
}

// GetCorrelation returns ρ(a,b), defaulting to 0 for an unseen pair.
// ρ(a,a) is always 1 — a path is perfectly correlated with itself, per
// spec.md §4.5/§8.
func (m *Matrix) GetCorrelation(a, b protocol.PathID) float64 {
	if a == b {
		return 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rho[canonicalPair(a, b)]
}

// LeastCorrelated returns, among candidates, the path minimising
// |ρ(with, ·)| — the least correlated in either direction, not merely
// the most negatively correlated, per spec.md §4.5; ties break toward
// the lowest path id.
func (m *Matrix) LeastCorrelated(with protocol.PathID, candidates []protocol.PathID) (protocol.PathID, bool) {
	if len(candidates) == 0 {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	best := candidates[0]
	bestAbs := math.Abs(m.getLocked(with, best))
	for _, c := range candidates[1:] {
		abs := math.Abs(m.getLocked(with, c))
		if abs < bestAbs || (abs == bestAbs && c < best) {
			best, bestAbs = c, abs
		}
	}
	return best, true
}

func (m *Matrix) getLocked(a, b protocol.PathID) float64 {
	if a == b {
		return 1
	}
	return m.rho[canonicalPair(a, b)]
}

// Paths returns every path id observed so far, in no particular order.
func (m *Matrix) Paths() []protocol.PathID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]protocol.PathID, 0, len(m.paths))
	for p := range m.paths {
		out = append(out, p)
	}
	return out
}
