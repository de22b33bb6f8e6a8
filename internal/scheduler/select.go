package scheduler

import (
	"math/rand"
	"time"

	"github.com/mpquicfec/core/internal/protocol"
)

// availableIDsLocked returns the registered path ids, in ascending
// order, restricted to those PathState.Available() accepts — loss_rate <
// 0.5 and bw_mbps > 0.1, per spec.md §4.6.
func (s *Scheduler) availableIDsLocked() []protocol.PathID {
	ids := s.sortedIDsLocked()
	out := ids[:0:0]
	for _, id := range ids {
		if s.paths[id].Available() {
			out = append(out, id)
		}
	}
	return out
}

// SelectPath samples a path by weight: a cumulative distribution over
// path ids in ascending order, with a uniform draw in [0,1), per spec.md
// §4.6. size is accepted for interface parity with the source's
// size-aware selection hook; this scheduler does not yet vary selection
// by payload size.
func (s *Scheduler) SelectPath(size int) (protocol.PathID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.availableIDsLocked()
	if len(ids) == 0 {
		return 0, protocol.ErrNoPathsAvailable
	}
	draw := s.rand().Float64()
	var total float64
	for _, id := range ids {
		total += s.weights[id]
	}
	cumulative := 0.0
	for _, id := range ids {
		cumulative += s.weights[id] / total
		if draw < cumulative {
			return id, nil
		}
	}
	return ids[len(ids)-1], nil
}

// SelectSourcePath returns the argmax by score = -0.4·rtt_ms -
// 0.5·loss_rate·1000 + 0.1·bw_mbps, ties broken by lowest path id, per
// spec.md §4.6.
func (s *Scheduler) SelectSourcePath(size int) (protocol.PathID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.availableIDsLocked()
	if len(ids) == 0 {
		return 0, protocol.ErrNoPathsAvailable
	}
	best := ids[0]
	bestScore := sourceScore(s.paths[best])
	for _, id := range ids[1:] {
		score := sourceScore(s.paths[id])
		if score > bestScore {
			best, bestScore = id, score
		}
	}
	return best, nil
}

func sourceScore(p PathState) float64 {
	return -0.4*p.RTTMs - 0.5*p.LossRate*1000 + 0.1*p.BandwidthMb
}

// SelectRepairPath returns source itself if it is the only available
// path; otherwise the least-correlated of the remaining available paths,
// falling back to the first other path by id order if that collapses to
// source, per spec.md §4.6. source must already be registered via
// UpdatePathState; an unregistered source is a select operation against
// an unknown path id, per spec.md §7.
func (s *Scheduler) SelectRepairPath(source protocol.PathID) (protocol.PathID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.paths[source]; !ok {
		return 0, protocol.ErrUnknownPath
	}

	ids := s.availableIDsLocked()
	if len(ids) == 0 {
		return 0, protocol.ErrNoPathsAvailable
	}
	if len(ids) == 1 {
		return ids[0], nil
	}

	others := make([]protocol.PathID, 0, len(ids)-1)
	for _, id := range ids {
		if id != source {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return source, nil
	}
	repair, ok := s.corrMatrix.LeastCorrelated(source, others)
	if !ok || repair == source {
		return others[0], nil
	}
	return repair, nil
}

func (s *Scheduler) rand() *rand.Rand {
	if s.randSrc == nil {
		s.randSrc = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return s.randSrc
}
