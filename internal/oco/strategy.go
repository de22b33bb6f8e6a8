package oco

// Strategy is a tagged variant over redundancy bands, per spec.md §9's
// re-architecture note ("tagged variants... each a pure value").
type Strategy int

const (
	StrategyBalanced Strategy = iota
	StrategyAggressive
	StrategyConservative
	StrategyDynamic
)

func (s Strategy) String() string {
	switch s {
	case StrategyAggressive:
		return "aggressive"
	case StrategyConservative:
		return "conservative"
	case StrategyDynamic:
		return "dynamic"
	default:
		return "balanced"
	}
}

// RedundancyRange returns the band a strategy pushes into OCO, per
// spec.md §4.8. StrategyDynamic is the operator-override band [0.1,1.0].
func (s Strategy) RedundancyRange() RedundancyBounds {
	switch s {
	case StrategyAggressive:
		return RedundancyBounds{Min: 0.4, Max: 1.0}
	case StrategyConservative:
		return RedundancyBounds{Min: 0.1, Max: 0.3}
	case StrategyDynamic:
		return RedundancyBounds{Min: 0.1, Max: 1.0}
	default:
		return RedundancyBounds{Min: 0.2, Max: 0.6}
	}
}

// SelectStrategy classifies aggregate link conditions into a strategy,
// per spec.md §4.8: max loss > 0.15 → Aggressive; else mean loss < 0.02 →
// Conservative; else → Balanced. An operator override bypasses this
// classification entirely (see Controller.SetFECStrategy).
func SelectStrategy(metrics []LinkMetrics) Strategy {
	if len(metrics) == 0 {
		return StrategyBalanced
	}
	var maxLoss, sumLoss float64
	for _, m := range metrics {
		if m.LossRate > maxLoss {
			maxLoss = m.LossRate
		}
		sumLoss += m.LossRate
	}
	meanLoss := sumLoss / float64(len(metrics))

	switch {
	case maxLoss > 0.15:
		return StrategyAggressive
	case meanLoss < 0.02:
		return StrategyConservative
	default:
		return StrategyBalanced
	}
}
