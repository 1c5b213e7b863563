package stepper

import (
	"fmt"

	"stepcore/pkg/errors"
	"stepcore/pkg/hal"
	"stepcore/pkg/irq"
	"stepcore/pkg/segment"
)

var errInvalidExtruder = errors.InvalidSegment("active extruder is not configured")

// setDirections writes every direction output for seg. Callers skip it
// when neither the direction bits nor the active extruder changed.
func (e *Engine) setDirections(seg *segment.Segment) {
	for axis := segment.AxisX; axis < segment.AxisE; axis++ {
		rev := seg.Reverse(axis)
		e.countDir[axis] = dirSign(rev)
		if axis == segment.AxisZ {
			e.writeDir(hal.MotorZ, rev)
			if e.cfg.DualZ {
				e.writeDir(hal.MotorZ2, rev)
			}
			continue
		}
		e.writeDir(hal.Motor(axis), rev)
	}

	d := dirSign(seg.Reverse(segment.AxisE))
	e.countDir[segment.AxisE] = d
	if e.cfg.MixingSteppers > 0 {
		for j := 0; j < e.cfg.MixingSteppers; j++ {
			e.writeEDir(j, int8(d))
		}
	} else {
		e.writeEDir(int(seg.ActiveExtruder), int8(d))
	}

	e.lastDirBits = seg.DirectionBits
	e.lastExtruder = seg.ActiveExtruder
	e.dirValid = true
}

func dirSign(reverse bool) int32 {
	if reverse {
		return -1
	}
	return 1
}

// writeEDir sets the direction of extruder driver slot. Both the tracer and
// the advance tick drive E pins, so the last written level is cached per
// driver and only changes are written.
func (e *Engine) writeEDir(slot int, d int8) {
	if e.eDir[slot] == d {
		return
	}
	e.eDir[slot] = d
	e.writeDir(hal.Extruder(slot), d < 0)
}

// motorsFor lists the drivers behind a segment axis.
func (e *Engine) motorsFor(axis segment.Axis, seg *segment.Segment) []hal.Motor {
	switch axis {
	case segment.AxisZ:
		if e.cfg.DualZ {
			return []hal.Motor{hal.MotorZ, hal.MotorZ2}
		}
		return []hal.Motor{hal.MotorZ}
	case segment.AxisE:
		if e.cfg.MixingSteppers > 0 {
			ms := make([]hal.Motor, 0, e.cfg.MixingSteppers)
			for j := 0; j < e.cfg.MixingSteppers; j++ {
				ms = append(ms, hal.Extruder(j))
			}
			return ms
		}
		return []hal.Motor{hal.Extruder(int(seg.ActiveExtruder))}
	default:
		return []hal.Motor{hal.Motor(axis)}
	}
}

// lateEnable switches on the drivers a segment needs before its first step.
func (e *Engine) lateEnable(seg *segment.Segment) {
	if e.en == nil {
		return
	}
	for axis := segment.AxisX; axis < segment.NumAxis; axis++ {
		if seg.Steps[axis] == 0 {
			continue
		}
		for _, m := range e.motorsFor(axis, seg) {
			if !e.enabled[m] {
				e.en.Enable(m, true)
				e.enabled[m] = true
			}
		}
	}
}

// EnableMotor switches a driver on or off.
func (e *Engine) EnableMotor(m hal.Motor, on bool) {
	if e.en == nil {
		return
	}
	irq.Critical(e.irq, func() {
		e.en.Enable(m, on)
		e.enabled[m] = on
	})
}

// DisableAll switches every enabled driver off.
func (e *Engine) DisableAll() {
	if e.en == nil {
		return
	}
	irq.Critical(e.irq, func() {
		for m := hal.Motor(0); m < hal.NumMotors; m++ {
			if e.enabled[m] {
				e.en.Enable(m, false)
				e.enabled[m] = false
			}
		}
	})
}

// MotorDirection reports whether axis last moved in the negative
// direction.
func (e *Engine) MotorDirection(axis segment.Axis) bool {
	var rev bool
	irq.Critical(e.irq, func() {
		rev = e.lastDirBits&(1<<uint(axis)) != 0
	})
	return rev
}

// Babystep emits a single pulse on the drivers of axis outside segment
// tracing. Position counters are not changed. The axis direction is
// restored afterwards.
func (e *Engine) Babystep(axis segment.Axis, reverse bool) error {
	if axis < segment.AxisX || axis >= segment.AxisE {
		return errors.New(errors.ErrUnsupported, fmt.Sprintf("babystep on axis %s", axis)).
			SetAxis(axis.String())
	}
	irq.Critical(e.irq, func() {
		motors := e.motorsFor(axis, nil)
		old := e.lastDirBits&(1<<uint(axis)) != 0
		for _, m := range motors {
			if e.en != nil && !e.enabled[m] {
				e.en.Enable(m, true)
				e.enabled[m] = true
			}
			e.writeDir(m, reverse)
		}
		for _, m := range motors {
			e.pulse(m)
		}
		for _, m := range motors {
			e.writeDir(m, old)
		}
	})
	return nil
}
