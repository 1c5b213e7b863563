package stepper

import (
	"math"

	"stepcore/pkg/endstop"
	"stepcore/pkg/hal"
	"stepcore/pkg/irq"
	"stepcore/pkg/kinematics"
	"stepcore/pkg/segment"
)

// z2Offset maps a Z switch to the matching Z2 switch.
const z2Offset = hal.Z2Min - hal.ZMin

func (e *Engine) endstopsEnabled() bool {
	return e.src != nil && (e.homing || e.endstopsOn)
}

// pollEndstops samples the switches and handles any that the carriage is
// moving into.
func (e *Engine) pollEndstops() {
	if e.cur == nil {
		return
	}
	hit := e.bank.Sample(endstop.Read(e.src))
	for axis := 0; axis < kinematics.NumAxes; axis++ {
		d := e.headDir[axis]
		if d == 0 {
			continue
		}
		sw := hal.SwitchFor(axis, d < 0)
		if axis == kinematics.Z && e.dualZ.Enabled && e.homing {
			// Each Z motor stops at its own switch; the move ends when
			// both have arrived.
			if hit.Has(sw) {
				e.dualZ.Block(0, true)
			}
			if hit.Has(sw + z2Offset) {
				e.dualZ.Block(1, true)
			}
			if e.dualZ.Settled() {
				e.endstopHit(axis)
			}
			continue
		}
		if hit.Has(sw) {
			e.endstopHit(axis)
		}
	}
}

// endstopHit latches axis, truncates the current segment and records a
// hit outside homing as unexpected.
func (e *Engine) endstopHit(axis int) {
	steps := e.axisSteps(axis)
	if e.bank.Trigger(axis, steps) {
		e.stats.endstopHits.Add(1)
	}
	if !e.homing {
		e.stats.lastHitAxis.Store(int32(axis))
		e.stats.lastHitSteps.Store(steps)
		e.stats.unexpected.Add(1)
		if e.cfg.AbortOnEndstopHit {
			e.stats.abortPending.Store(true)
		}
	}
	e.killCurrent()
}

// axisSteps returns the carriage position of axis in steps.
func (e *Engine) axisSteps(axis int) int32 {
	if !e.kin.Coupled(axis) {
		return e.count[axis]
	}
	var motors [kinematics.NumAxes]float64
	for i := range motors {
		motors[i] = float64(e.count[i])
	}
	return int32(math.Round(e.kin.CalcPosition(motors)[axis]))
}

// EndstopTriggered latches axis at its current position and truncates the
// segment in progress, as a switch hit would.
func (e *Engine) EndstopTriggered(axis segment.Axis) {
	if !hasEndstop(axis) {
		return
	}
	irq.Critical(e.irq, func() { e.endstopHit(int(axis)) })
}

// hasEndstop reports whether axis has an endstop latch.
func hasEndstop(axis segment.Axis) bool {
	return axis >= segment.AxisX && axis < segment.AxisE
}

// TriggeredPositionMM returns the latched position of axis in millimetres,
// or 0 for an axis without endstops.
func (e *Engine) TriggeredPositionMM(axis segment.Axis) float64 {
	if !hasEndstop(axis) {
		return 0
	}
	var steps int32
	irq.Critical(e.irq, func() { steps = e.bank.Steps(int(axis)) })
	return float64(steps) / e.cfg.StepsPerMM[axis]
}

// Triggered reports whether axis has latched since the last ClearEndstops.
func (e *Engine) Triggered(axis segment.Axis) bool {
	if !hasEndstop(axis) {
		return false
	}
	var hit bool
	irq.Critical(e.irq, func() { hit = e.bank.Triggered(int(axis)) })
	return hit
}

// EndstopStatus returns the latch state of every axis.
func (e *Engine) EndstopStatus() []endstop.Status {
	var st []endstop.Status
	irq.Critical(e.irq, func() { st = e.bank.GetStatus() })
	return st
}

// ClearEndstops re-arms the latches for the next homing pass.
func (e *Engine) ClearEndstops() {
	irq.Critical(e.irq, func() { e.bank.Clear() })
}

// EnableEndstops turns endstop polling outside homing on or off.
func (e *Engine) EnableEndstops(on bool) {
	irq.Critical(e.irq, func() { e.endstopsOn = on })
}

// SetHoming marks the start or end of a homing move. Hits during homing
// are expected and Z locks apply.
func (e *Engine) SetHoming(on bool) {
	irq.Critical(e.irq, func() {
		e.homing = on
		e.dualZ.SetHoming(on)
	})
}

// SetZLock locks the first Z motor during homing.
func (e *Engine) SetZLock(locked bool) {
	irq.Critical(e.irq, func() { e.dualZ.SetLock(0, locked) })
}

// SetZ2Lock locks the second Z motor during homing.
func (e *Engine) SetZ2Lock(locked bool) {
	irq.Critical(e.irq, func() { e.dualZ.SetLock(1, locked) })
}
