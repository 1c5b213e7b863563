package stepper

import (
	"stepcore/pkg/hal"
	"stepcore/pkg/irq"
	"stepcore/pkg/segment"
	"stepcore/pkg/timing"
)

// AdvNever is the advance interval meaning "no extruder steps pending".
const AdvNever = 0xffff

// advanceShift scales Segment.AdvanceMultiplier.
const advanceShift = 17

// advance is the linear advance state per extruder driver slot.
type advance struct {
	// pending holds E steps owed to the driver, signed by direction.
	pending [hal.MaxExtruders]int32
	// current is the compensation currently applied, in steps.
	current [hal.MaxExtruders]int32
	// rate is the interval between advance ticks.
	rate uint32
}

func (a *advance) busy() bool {
	for _, p := range a.pending {
		if p != 0 {
			return true
		}
	}
	return false
}

func (a *advance) largest() int32 {
	var m int32
	for _, p := range a.pending {
		if p < 0 {
			p = -p
		}
		if p > m {
			m = p
		}
	}
	return m
}

func (a *advance) reset() {
	a.pending = [hal.MaxExtruders]int32{}
	a.current = [hal.MaxExtruders]int32{}
	a.rate = AdvNever
}

// advRate spreads steps pending E steps over loops main intervals of ticks.
func advRate(steps int32, ticks uint16, loops uint8) uint32 {
	if steps == 0 {
		return AdvNever
	}
	if steps < 0 {
		steps = -steps
	}
	r := uint32(ticks) * uint32(loops) / uint32(steps)
	switch {
	case r == 0:
		return 1
	case r >= AdvNever:
		return AdvNever - 1
	}
	return r
}

// updateAdvance moves the compensation toward the target for the current
// rate and recomputes the advance interval. Runs once per main tick.
func (e *Engine) updateAdvance(seg *segment.Segment, iv timing.Interval) {
	if seg.UseAdvance {
		target := int64((uint64(e.gen.Rate()) * uint64(seg.AdvanceMultiplier)) >> advanceShift)
		if e.cfg.MixingSteppers > 0 {
			total := int64(seg.Steps[segment.AxisE])
			for j := 0; j < e.cfg.MixingSteppers && total > 0; j++ {
				e.shiftAdvance(j, int32(target*int64(seg.MixSteps[j])/total))
			}
		} else {
			e.shiftAdvance(int(seg.ActiveExtruder), int32(target))
		}
	}
	e.adv.rate = advRate(e.adv.largest(), iv.Ticks, iv.Loops)
}

func (e *Engine) shiftAdvance(slot int, target int32) {
	delta := target - e.adv.current[slot]
	e.adv.current[slot] += delta
	e.adv.pending[slot] += delta
}

// advanceTick is the advance interrupt: one pending E step per driver.
func (e *Engine) advanceTick() uint32 {
	e.stats.advanceTicks.Add(1)
	for j := 0; j < e.cfg.eSteppers(); j++ {
		p := e.adv.pending[j]
		if p == 0 {
			continue
		}
		d := int8(1)
		if p < 0 {
			d = -1
		}
		e.writeEDir(j, d)
		e.pulse(hal.Extruder(j))
		e.adv.pending[j] -= int32(d)
	}
	if !e.adv.busy() {
		e.adv.rate = AdvNever
	}
	return e.adv.rate
}

// AdvanceState reports one extruder's compensation.
type AdvanceState struct {
	Extruder int
	// Applied is the compensation currently built up, in steps.
	Applied int32
	// Pending is the number of E steps not yet emitted.
	Pending int32
}

// AdvanceStatus returns the compensation of every E driver.
func (e *Engine) AdvanceStatus() []AdvanceState {
	n := e.cfg.eSteppers()
	out := make([]AdvanceState, n)
	irq.Critical(e.irq, func() {
		for j := 0; j < n; j++ {
			out[j] = AdvanceState{Extruder: j, Applied: e.adv.current[j], Pending: e.adv.pending[j]}
		}
	})
	return out
}

// PendingAdvanceSteps returns the E steps extruder slot still owes.
func (e *Engine) PendingAdvanceSteps(slot int) int32 {
	var p int32
	irq.Critical(e.irq, func() { p = e.adv.pending[slot] })
	return p
}

// ExtruderRate returns the step rate, in steps per second, the current
// segment drives extruder slot at, before any advance compensation.
// Zero while idle or when slot takes no part in the segment.
func (e *Engine) ExtruderRate(slot int) uint32 {
	var rate uint32
	irq.Critical(e.irq, func() {
		seg := e.cur
		if seg == nil || seg.StepEventCount == 0 || e.cleaning > 0 {
			return
		}
		var steps uint32
		switch {
		case e.cfg.MixingSteppers > 0:
			if slot < e.cfg.MixingSteppers {
				steps = seg.MixSteps[slot]
			}
		case int(seg.ActiveExtruder) == slot:
			steps = seg.Steps[segment.AxisE]
		}
		rate = uint32(uint64(e.gen.Rate()) * uint64(steps) / uint64(seg.StepEventCount))
	})
	return rate
}
