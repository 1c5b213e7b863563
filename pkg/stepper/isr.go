package stepper

import (
	"stepcore/pkg/hal"
	"stepcore/pkg/kinematics"
	"stepcore/pkg/segment"
)

// mainTick is the step interrupt. It returns the ticks until the next
// main tick.
func (e *Engine) mainTick() uint32 {
	e.stats.ticks.Add(1)

	if e.cleaning > 0 {
		// Drain whatever the planner had half-queued before a quick stop.
		e.cleaning--
		e.cur = nil
		e.queue.Discard()
		if e.cleaning == 0 {
			e.stats.cleaning.Store(false)
		}
		return CleaningInterval
	}

	if e.stepRemaining > 0 && e.endstopsEnabled() {
		// Long interval split: poll endstops, no step yet.
		e.pollEndstops()
		return e.nextChunk()
	}
	e.stepRemaining = 0

	if e.cur != nil && e.completed >= e.cur.StepEventCount {
		// Truncated by an endstop on the previous tick.
		e.finishSegment()
	}
	if e.cur == nil {
		if ticks, ok := e.nextSegment(); !ok {
			return ticks
		}
	}
	seg := e.cur

	if e.endstopsEnabled() {
		if e.pollCount&3 == 0 {
			e.pollEndstops()
		}
		e.pollCount++
		if e.completed >= seg.StepEventCount {
			return uint32(e.gen.Interval().Ticks)
		}
	}

	iv := e.gen.Interval()
	for i := uint8(0); i < iv.Loops && e.completed < seg.StepEventCount; i++ {
		e.traceEvent(seg)
		e.completed++
	}

	next := e.gen.Next(e.completed)
	if next.Clamped {
		e.stats.clamped.Add(1)
		e.stats.clampedRate.Store(e.gen.Rate())
	}
	e.stats.rate.Store(e.gen.Rate())
	e.stats.phase.Store(uint32(e.gen.Phase()))
	if e.cfg.LinearAdvance {
		e.updateAdvance(seg, next)
	}

	if e.completed >= seg.StepEventCount {
		e.finishSegment()
	}
	return e.split(uint32(next.Ticks))
}

// nextSegment loads the queue head. Empty segments complete on the spot;
// an invalid one is dropped and costs one tick. It returns false with the
// reload to use when nothing was loaded.
func (e *Engine) nextSegment() (uint32, bool) {
	for i := 0; i <= e.queue.Cap(); i++ {
		seg := e.queue.Current()
		if seg == nil {
			return e.idleTick(), false
		}
		if err := e.check(seg); err != nil {
			e.stats.invalid.Add(1)
			e.queue.Discard()
			return CleaningInterval, false
		}
		if seg.Empty() {
			e.stats.segments.Add(1)
			e.queue.Discard()
			continue
		}
		e.start(seg)
		return 0, true
	}
	return CleaningInterval, false
}

func (e *Engine) check(seg *segment.Segment) error {
	if err := seg.Validate(); err != nil {
		return err
	}
	if e.cfg.MixingSteppers == 0 && int(seg.ActiveExtruder) >= e.cfg.Extruders {
		return errInvalidExtruder
	}
	return nil
}

func (e *Engine) start(seg *segment.Segment) {
	e.cur = seg
	e.completed = 0
	e.stats.active.Store(true)
	e.stats.idleTicks.Store(0)

	if !e.dirValid || seg.DirectionBits != e.lastDirBits || seg.ActiveExtruder != e.lastExtruder {
		e.setDirections(seg)
	}

	bias := -int32(seg.StepEventCount >> 1)
	for i := range e.counter {
		e.counter[i] = bias
	}
	for i := range e.mixCount {
		e.mixCount[i] = bias
	}

	var deltas [kinematics.NumAxes]int64
	for axis := 0; axis < kinematics.NumAxes; axis++ {
		deltas[axis] = int64(seg.Steps[axis]) * int64(e.countDir[axis])
	}
	e.headDir = e.kin.HeadDirection(deltas)

	e.lateEnable(seg)
	e.gen.Reset(seg)
	e.stats.rate.Store(e.gen.Rate())
	e.stats.phase.Store(uint32(e.gen.Phase()))
}

func (e *Engine) finishSegment() {
	e.cur = nil
	e.stats.segments.Add(1)
	e.queue.Discard()
	e.stats.active.Store(false)
}

func (e *Engine) idleTick() uint32 {
	e.stats.active.Store(false)
	e.stats.rate.Store(0)
	e.stats.idleTicks.Add(1)
	if e.cfg.SleepWhenIdle && !e.adv.busy() {
		e.timer.Disable()
	}
	return IdleInterval
}

// traceEvent runs one Bresenham step event.
func (e *Engine) traceEvent(seg *segment.Segment) {
	n := int32(seg.StepEventCount)
	for axis := segment.AxisX; axis < segment.AxisE; axis++ {
		d := seg.Steps[axis]
		if d == 0 {
			continue
		}
		e.counter[axis] += int32(d)
		if e.counter[axis] > 0 {
			e.counter[axis] -= n
			e.stepAxis(axis)
		}
	}

	if d := seg.Steps[segment.AxisE]; d != 0 {
		e.counter[segment.AxisE] += int32(d)
		if e.counter[segment.AxisE] > 0 {
			e.counter[segment.AxisE] -= n
			e.count[segment.AxisE] += e.countDir[segment.AxisE]
			if e.cfg.MixingSteppers == 0 {
				e.stepExtruder(int(seg.ActiveExtruder), seg)
			}
		}
	}
	if e.cfg.MixingSteppers > 0 {
		for j := 0; j < e.cfg.MixingSteppers; j++ {
			d := seg.MixSteps[j]
			if d == 0 {
				continue
			}
			e.mixCount[j] += int32(d)
			if e.mixCount[j] > 0 {
				e.mixCount[j] -= n
				e.stepExtruder(j, seg)
			}
		}
	}
}

func (e *Engine) stepAxis(axis segment.Axis) {
	dir := e.countDir[axis]
	if axis != segment.AxisZ {
		e.pulse(hal.Motor(axis))
		e.count[axis] += dir
		return
	}
	if e.dualZ.Stepping(0) {
		e.pulse(hal.MotorZ)
		e.count[segment.AxisZ] += dir
	}
	if e.cfg.DualZ && e.dualZ.Stepping(1) {
		e.pulse(hal.MotorZ2)
		e.z2Count += dir
	}
}

// stepExtruder emits or, with advance, defers one E step on driver slot.
func (e *Engine) stepExtruder(slot int, seg *segment.Segment) {
	dir := e.countDir[segment.AxisE]
	if e.cfg.LinearAdvance && seg.UseAdvance {
		e.adv.pending[slot] += dir
		return
	}
	e.writeEDir(slot, int8(dir))
	e.pulse(hal.Extruder(slot))
}

// split cuts long intervals into chunks so endstops are polled at least
// every EndstopPollInterval ticks.
func (e *Engine) split(ticks uint32) uint32 {
	if ticks <= EndstopPollInterval || !e.endstopsEnabled() {
		return ticks
	}
	first := ticks % EndstopPollInterval
	if first < endstopSplitTolerance {
		first += EndstopPollInterval
	}
	e.stepRemaining = ticks - first
	return first
}

func (e *Engine) nextChunk() uint32 {
	if e.stepRemaining > EndstopPollInterval {
		e.stepRemaining -= EndstopPollInterval
		return EndstopPollInterval
	}
	t := e.stepRemaining
	e.stepRemaining = 0
	return t
}

// killCurrent truncates the segment being traced; the next tick releases it.
func (e *Engine) killCurrent() {
	if e.cur != nil {
		e.completed = e.cur.StepEventCount
	}
	e.stepRemaining = 0
}
