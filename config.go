package core

import (
	"fmt"
	"io"
	"time"

	"github.com/go-logr/logr"

	"github.com/mpquicfec/core/internal/fec"
	"github.com/mpquicfec/core/internal/oco"
	"github.com/mpquicfec/core/internal/protocol"
	"github.com/mpquicfec/core/internal/scheduler"
)

// defaultPeriodicUpdateMinInterval is the 100ms cadence floor from
// spec.md §6.
const defaultPeriodicUpdateMinInterval = 100 * time.Millisecond

// Config collects every constructor parameter and default spec.md §6
// lists, plus the ambient logging and telemetry knobs a real deployment
// needs: k=4, m=2, block_size=1200, α=(0.5,0.3,0.2),
// redundancy_bounds=[0.1,1.0], learning_rate=0.05,
// scheduler_weights(β,γ,δ)=(0.5,0.3,0.2), scheduler_learning_rate=0.1,
// periodic_update_min_interval=100ms, mapping_gc_trigger=1000 groups,
// gc_keep=500 groups.
type Config struct {
	FECEnabled bool
	Scheme     fec.Scheme
	K, M       uint32
	BlockSize  uint32

	CostWeights      oco.CostWeights
	RedundancyBounds oco.RedundancyBounds
	LearningRate     float64

	SchedulerCostWeights  scheduler.CostWeights
	SchedulerLearningRate float64

	PeriodicUpdateMinInterval time.Duration
	MappingGCTrigger          protocol.GroupID
	MappingGCKeep             protocol.GroupID

	EncodeWorkers int

	Logger        logr.Logger
	TelemetrySink io.Writer
}

// DefaultConfig returns spec.md §6's configuration defaults.
func DefaultConfig() Config {
	return Config{
		FECEnabled:                true,
		Scheme:                    fec.SchemeSystematicRS,
		K:                         protocol.DefaultK,
		M:                         protocol.DefaultM,
		BlockSize:                 protocol.DefaultBlockSize,
		CostWeights:               oco.DefaultCostWeights,
		RedundancyBounds:          oco.DefaultRedundancyBounds,
		LearningRate:              oco.DefaultLearningRate,
		SchedulerCostWeights:      scheduler.DefaultCostWeights,
		SchedulerLearningRate:     scheduler.DefaultLearningRate,
		PeriodicUpdateMinInterval: defaultPeriodicUpdateMinInterval,
		MappingGCTrigger:          1000,
		MappingGCKeep:             500,
	}
}

// Validate checks cfg for the InvalidParameter conditions spec.md §7
// names: zero k/m, or an out-of-order redundancy band.
func (c Config) Validate() error {
	if c.K == 0 || c.M == 0 {
		return fmt.Errorf("%w: k=%d and m=%d must both be >= 1", protocol.ErrInvalidParameter, c.K, c.M)
	}
	if c.BlockSize == 0 {
		return fmt.Errorf("%w: block_size must be >= 1", protocol.ErrInvalidParameter)
	}
	if c.RedundancyBounds.Min > c.RedundancyBounds.Max {
		return fmt.Errorf("%w: redundancy bounds out of order: min=%v > max=%v",
			protocol.ErrInvalidParameter, c.RedundancyBounds.Min, c.RedundancyBounds.Max)
	}
	return nil
}
