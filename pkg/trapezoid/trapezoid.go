// Package trapezoid produces the per-tick step rate of a segment's
// accelerate, cruise and decelerate profile using integer arithmetic only.
package trapezoid

import (
	"stepcore/pkg/segment"
	"stepcore/pkg/timing"
)

// Phase is the velocity phase of the segment being traced.
type Phase uint8

const (
	Accelerating Phase = iota
	Cruising
	Decelerating
)

func (p Phase) String() string {
	switch p {
	case Accelerating:
		return "accelerating"
	case Cruising:
		return "cruising"
	case Decelerating:
		return "decelerating"
	default:
		return "unknown"
	}
}

// rateShift is the fixed-point shift of Segment.AccelerationRate.
const rateShift = 24

// AccelerationRateFor converts an acceleration in steps/s² into the
// per-tick increment stored in Segment.AccelerationRate.
func AccelerationRateFor(stepsPerS2 float64) uint32 {
	if stepsPerS2 <= 0 {
		return 0
	}
	return uint32(stepsPerS2 * (1 << rateShift) / timing.TimerFrequency)
}

// Generator holds the velocity state of one segment. It is owned by the
// interrupt context.
type Generator struct {
	table *timing.Table
	seg   *segment.Segment

	phase Phase
	rate  uint32

	accelTime  uint32 // ticks spent accelerating
	decelTime  uint32 // ticks spent decelerating
	decelStart uint32 // rate when deceleration began
	floorRate  uint32

	nominal timing.Interval
	current timing.Interval
}

// New creates a generator that maps rates through table.
func New(table *timing.Table) *Generator {
	if table == nil {
		table = timing.Default()
	}
	return &Generator{table: table}
}

// Reset starts seg's profile and returns the first interval.
func (g *Generator) Reset(seg *segment.Segment) timing.Interval {
	g.seg = seg
	g.nominal = g.table.Lookup(seg.NominalRate)
	g.floorRate = seg.FinalRate
	if g.floorRate < timing.MinStepRate {
		g.floorRate = timing.MinStepRate
	}
	g.decelTime = 0

	switch {
	case seg.AccelerateUntil > 0:
		g.phase = Accelerating
		g.rate = seg.InitialRate
		if g.rate > seg.NominalRate {
			g.rate = seg.NominalRate
		}
		g.current = g.table.Lookup(g.rate)
	case seg.DecelerateAfter == 0:
		// No acceleration or cruise: slow down from the first step.
		g.phase = Decelerating
		g.rate = seg.InitialRate
		g.decelStart = g.rate
		g.current = g.table.Lookup(g.rate)
	default:
		// The first tick still runs at the entry rate; Next switches to
		// the cached nominal interval.
		g.phase = Cruising
		g.rate = seg.InitialRate
		g.current = g.table.Lookup(g.rate)
	}
	g.accelTime = uint32(g.current.Ticks)
	return g.current
}

// Next advances the profile after a tick that brought the segment to
// completed step events and returns the following interval.
func (g *Generator) Next(completed uint32) timing.Interval {
	s := g.seg
	switch {
	case g.phase == Accelerating && completed < s.AccelerateUntil:
		g.accelerate()
	case completed >= s.DecelerateAfter:
		g.decelerate()
	default:
		g.phase = Cruising
		g.rate = s.NominalRate
		g.current = g.nominal
	}
	return g.current
}

func (g *Generator) accelerate() {
	s := g.seg
	rate := s.InitialRate + uint32((uint64(g.accelTime)*uint64(s.AccelerationRate))>>rateShift)
	if rate >= s.NominalRate {
		g.phase = Cruising
		g.rate = s.NominalRate
		g.current = g.nominal
		return
	}
	g.rate = rate
	g.current = g.table.Lookup(rate)
	g.accelTime += uint32(g.current.Ticks)
}

func (g *Generator) decelerate() {
	if g.phase != Decelerating {
		g.phase = Decelerating
		g.decelStart = g.rate
		g.decelTime = 0
	}
	drop := uint32((uint64(g.decelTime) * uint64(g.seg.AccelerationRate)) >> rateShift)
	rate := g.floorRate
	if drop < g.decelStart && g.decelStart-drop > g.floorRate {
		rate = g.decelStart - drop
	}
	g.rate = rate
	g.current = g.table.Lookup(rate)
	g.decelTime += uint32(g.current.Ticks)
}

// Phase returns the current phase.
func (g *Generator) Phase() Phase { return g.phase }

// Rate returns the current step rate in steps/s.
func (g *Generator) Rate() uint32 { return g.rate }

// Interval returns the interval last handed out.
func (g *Generator) Interval() timing.Interval { return g.current }

// Nominal returns the cached cruise interval.
func (g *Generator) Nominal() timing.Interval { return g.nominal }
