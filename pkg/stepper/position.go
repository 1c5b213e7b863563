package stepper

import (
	"context"
	"fmt"
	"time"

	"stepcore/pkg/errors"
	"stepcore/pkg/hal"
	"stepcore/pkg/irq"
	"stepcore/pkg/kinematics"
	"stepcore/pkg/segment"
	"stepcore/pkg/timing"
)

// Position returns the step position of axis. For Z it is the first Z
// motor; see MotorPosition for the second. Unknown axes read 0.
func (e *Engine) Position(axis segment.Axis) int32 {
	if axis < segment.AxisX || axis >= segment.NumAxis {
		return 0
	}
	var v int32
	irq.Critical(e.irq, func() { v = e.count[axis] })
	return v
}

// Positions returns all axis positions in one consistent read.
func (e *Engine) Positions() [segment.NumAxis]int32 {
	var p [segment.NumAxis]int32
	irq.Critical(e.irq, func() { p = e.count })
	return p
}

// MotorPosition returns the step position of a driver. Extruder drivers
// share the E position.
func (e *Engine) MotorPosition(m hal.Motor) int32 {
	var v int32
	irq.Critical(e.irq, func() {
		switch {
		case m == hal.MotorZ2 && e.cfg.DualZ:
			v = e.z2Count
		case m == hal.MotorZ2:
			v = e.count[segment.AxisZ]
		case m >= hal.MotorE0:
			v = e.count[segment.AxisE]
		default:
			v = e.count[m]
		}
	})
	return v
}

// Accumulators returns the Bresenham counters.
func (e *Engine) Accumulators() [segment.NumAxis]int32 {
	var c [segment.NumAxis]int32
	irq.Critical(e.irq, func() { c = e.counter })
	return c
}

// Progress returns the completed and total step events of the segment
// being traced.
func (e *Engine) Progress() (completed, total uint32) {
	irq.Critical(e.irq, func() {
		if e.cur != nil {
			completed, total = e.completed, e.cur.StepEventCount
		}
	})
	return completed, total
}

func (e *Engine) moving() bool {
	return e.cur != nil || e.queue.Len() > 0
}

// SetPosition overwrites every position counter and zeroes the
// accumulators. The engine must be idle.
func (e *Engine) SetPosition(a, b, c, ev int32) error {
	var err error
	irq.Critical(e.irq, func() {
		if e.moving() {
			err = errors.NotIdle("set position")
			return
		}
		e.count = [segment.NumAxis]int32{a, b, c, ev}
		e.z2Count = c
		e.counter = [segment.NumAxis]int32{}
		e.mixCount = [segment.MaxMixSteppers]int32{}
	})
	return err
}

// SetAxisPosition overwrites one axis. The engine must be idle.
func (e *Engine) SetAxisPosition(axis segment.Axis, v int32) error {
	if axis < segment.AxisX || axis >= segment.NumAxis {
		return errors.New(errors.ErrRuntime, fmt.Sprintf("no axis %d", int(axis)))
	}
	var err error
	irq.Critical(e.irq, func() {
		if e.moving() {
			err = errors.NotIdle("set axis position").SetAxis(axis.String())
			return
		}
		e.count[axis] = v
		if axis == segment.AxisZ {
			e.z2Count = v
		}
	})
	return err
}

// SetEPosition overwrites the E position. Allowed while moving.
func (e *Engine) SetEPosition(v int32) {
	irq.Critical(e.irq, func() { e.count[segment.AxisE] = v })
}

// AxisPositionMM returns the carriage position of axis in millimetres.
// Unknown axes read 0.
func (e *Engine) AxisPositionMM(axis segment.Axis) float64 {
	if axis < segment.AxisX || axis >= segment.NumAxis {
		return 0
	}
	p := e.Positions()
	if axis == segment.AxisE {
		return float64(p[segment.AxisE]) / e.cfg.StepsPerMM[segment.AxisE]
	}
	var motors [kinematics.NumAxes]float64
	for i := range motors {
		motors[i] = float64(p[i])
	}
	return e.kin.CalcPosition(motors)[axis] / e.cfg.StepsPerMM[axis]
}

// ReportPositions logs and returns the step positions.
func (e *Engine) ReportPositions() string {
	p := e.Positions()
	s := fmt.Sprintf("X:%d Y:%d Z:%d E:%d", p[0], p[1], p[2], p[3])
	if e.cfg.DualZ {
		s += fmt.Sprintf(" Z2:%d", e.MotorPosition(hal.MotorZ2))
	}
	e.log.Info("positions %s", s)
	return s
}

// Synchronize waits until every queued segment has been traced, calling
// the idle handler between checks. It never masks the interrupt.
func (e *Engine) Synchronize(ctx context.Context) error {
	for e.Busy() {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.idle()
	}
	return nil
}

// FinishAndDisable waits for the queue to drain and switches every driver
// off.
func (e *Engine) FinishAndDisable(ctx context.Context) error {
	if err := e.Synchronize(ctx); err != nil {
		return err
	}
	e.DisableAll()
	return nil
}

// QuickStop drops every queued and in-flight segment. The interrupt keeps
// discarding new segments for the configured cleaning window.
func (e *Engine) QuickStop() {
	irq.Critical(e.irq, func() {
		e.cleaning = e.cfg.CleaningTicks
		e.queue.Clear()
		e.cur = nil
		e.stepRemaining = 0
		e.adv.reset()
		e.nextMain, e.nextAdv = 0, 0
		e.stats.active.Store(false)
		e.stats.cleaning.Store(e.cleaning > 0)
		e.stats.rate.Store(0)
	})
	e.stats.quickStops.Add(1)
	e.log.Warn("quick stop: motion discarded")
	e.timer.Enable()
}

// KillCurrentSegment truncates the segment in progress. The next tick
// moves on to the following segment.
func (e *Engine) KillCurrentSegment() {
	irq.Critical(e.irq, func() { e.killCurrent() })
}

// IdleTicks returns the number of idle ticks since the last segment.
func (e *Engine) IdleTicks() uint64 {
	return e.stats.idleTicks.Load()
}

// InactiveFor reports whether the engine has ticked idle for at least d.
// Idle ticks only accumulate while the timer keeps running.
func (e *Engine) InactiveFor(d time.Duration) bool {
	idle := timing.TicksToDuration(IdleInterval) * time.Duration(e.IdleTicks())
	return idle >= d
}
