package script

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"stepcore/pkg/timing"
)

// IntervalStats summarises the gaps between consecutive step pulses of
// one motor, in timer ticks.
type IntervalStats struct {
	Pulses int
	Mean   float64
	StdDev float64
	Min    float64
	Max    float64
	P50    float64
	P99    float64
	// PeakRate is the step rate of the shortest gap, in steps/s.
	PeakRate float64
}

// Intervals computes statistics over pulse timestamps in ticks. Fewer
// than two pulses give only the count.
func Intervals(times []uint64) IntervalStats {
	s := IntervalStats{Pulses: len(times)}
	if len(times) < 2 {
		return s
	}
	gaps := make([]float64, len(times)-1)
	for i := 1; i < len(times); i++ {
		gaps[i-1] = float64(times[i] - times[i-1])
	}
	s.Mean, s.StdDev = stat.MeanStdDev(gaps, nil)
	if len(gaps) < 2 {
		s.StdDev = 0
	}
	s.Min, s.Max = floats.Min(gaps), floats.Max(gaps)
	sort.Float64s(gaps)
	s.P50 = stat.Quantile(0.5, stat.Empirical, gaps, nil)
	s.P99 = stat.Quantile(0.99, stat.Empirical, gaps, nil)
	if s.Min > 0 {
		s.PeakRate = timing.TimerFrequency / s.Min
	}
	return s
}
