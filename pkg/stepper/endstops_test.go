package stepper

import (
	"testing"

	"stepcore/pkg/endstop"
	"stepcore/pkg/errors"
	"stepcore/pkg/hal"
	"stepcore/pkg/segment"
)

func TestEndstopTruncatesSegment(t *testing.T) {
	r := newRig(t, DefaultConfig())
	x := move([segment.NumAxis]int32{1000, 0, 0, 0}, 2000)
	y := move([segment.NumAxis]int32{0, 100, 0, 0}, 2000)

	fired := false
	checked := false
	r.v.OnFire = func(uint64) {
		done, total := r.e.Progress()
		switch {
		case !fired && total == 1000 && done == 400:
			r.e.EndstopTriggered(segment.AxisX)
			fired = true
		case fired && !checked:
			// The truncated segment is released by the very next tick.
			if total != 100 || done != 1 {
				t.Errorf("tick after the hit: progress %d/%d, want 1/100", done, total)
			}
			checked = true
		}
	}
	r.push(t, x, y)
	r.drain(t)

	if got := r.rec.Steps(hal.MotorX); got != 400 {
		t.Errorf("X steps = %d, want 400", got)
	}
	if got := r.rec.Steps(hal.MotorY); got != 100 {
		t.Errorf("Y steps = %d, want 100", got)
	}
	if !r.e.Triggered(segment.AxisX) || r.e.TriggeredPositionMM(segment.AxisX) != 5 {
		t.Errorf("X latch: triggered %v at %v mm", r.e.Triggered(segment.AxisX),
			r.e.TriggeredPositionMM(segment.AxisX))
	}
	st := r.e.Stats()
	if st.EndstopHits != 1 || st.UnexpectedHits != 1 || st.Segments != 2 {
		t.Errorf("stats = %+v", st)
	}
	if err := r.e.Service(); !errors.Is(err, errors.ErrUnexpectedEndstop) || errors.Is(err, errors.ErrAbort) {
		t.Errorf("Service() = %v, want UNEXPECTED_ENDSTOP only", err)
	}
}

func TestEndstopPolling(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.rec.OnStep = func(m hal.Motor) {
		if m == hal.MotorX && r.rec.Position(hal.MotorX) == -400 {
			r.rec.SetSwitch(hal.XMin, true)
		}
	}
	r.push(t, move([segment.NumAxis]int32{-1000, 0, 0, 0}, 2000))
	r.drain(t)

	pos := r.rec.Position(hal.MotorX)
	if pos > -400 || pos < -410 {
		t.Errorf("X stopped at %d, want within polling distance of -400", pos)
	}
	if got := r.e.Position(segment.AxisX); int64(got) != pos {
		t.Errorf("Position(X) = %d, driver at %d", got, pos)
	}
	status := r.e.EndstopStatus()
	if !status[0].Triggered || status[0].Steps != int32(pos) || status[0].State != endstop.StateTriggered.String() {
		t.Errorf("EndstopStatus()[0] = %+v", status[0])
	}
}

func TestEndstopIgnoredMovingAway(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.rec.SetSwitch(hal.XMin, true)
	r.push(t, move([segment.NumAxis]int32{300, 0, 0, 0}, 2000))
	r.drain(t)
	if r.rec.Steps(hal.MotorX) != 300 || r.e.Triggered(segment.AxisX) {
		t.Errorf("moving off a pressed switch: %d steps, triggered %v",
			r.rec.Steps(hal.MotorX), r.e.Triggered(segment.AxisX))
	}
}

func TestEndstopsDisabledOutsideHoming(t *testing.T) {
	r := newRig(t, quietConfig())
	r.rec.SetSwitch(hal.YMax, true)
	r.push(t, move([segment.NumAxis]int32{0, 300, 0, 0}, 2000))
	r.drain(t)
	if r.rec.Steps(hal.MotorY) != 300 {
		t.Fatalf("Y steps = %d with endstops off", r.rec.Steps(hal.MotorY))
	}

	r.e.SetHoming(true)
	r.push(t, move([segment.NumAxis]int32{0, 300, 0, 0}, 2000))
	r.drain(t)
	r.e.SetHoming(false)
	if !r.e.Triggered(segment.AxisY) || r.rec.Steps(hal.MotorY) > 310 {
		t.Errorf("homing: triggered %v after %d steps", r.e.Triggered(segment.AxisY), r.rec.Steps(hal.MotorY))
	}
	if r.e.Stats().UnexpectedHits != 0 {
		t.Error("a homing hit was reported as unexpected")
	}
	if err := r.e.Service(); err != nil {
		t.Errorf("Service() after homing = %v", err)
	}

	r.e.ClearEndstops()
	if r.e.Triggered(segment.AxisY) {
		t.Error("ClearEndstops did not re-arm Y")
	}
}

func TestLongIntervalsAreSplit(t *testing.T) {
	for _, on := range []bool{true, false} {
		cfg := DefaultConfig()
		cfg.EndstopsAlwaysOn = on
		r := newRig(t, cfg)
		var last, longest uint64
		r.v.OnFire = func(now uint64) {
			if r.e.Busy() && now-last > longest {
				longest = now - last
			}
			last = now
		}
		r.push(t, move([segment.NumAxis]int32{3, 0, 0, 0}, 100))
		r.drain(t)
		if r.rec.Steps(hal.MotorX) != 3 {
			t.Errorf("endstops %v: X steps = %d", on, r.rec.Steps(hal.MotorX))
		}
		limit := uint64(EndstopPollInterval + endstopSplitTolerance)
		if on && longest >= limit {
			t.Errorf("longest gap with endstops on = %d, want < %d", longest, limit)
		}
		if !on && longest < limit {
			t.Errorf("longest gap with endstops off = %d, want the full step interval", longest)
		}
	}
}

func TestDualZLock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DualZ = true
	cfg.DualZEndstops = true
	r := newRig(t, cfg)

	r.e.SetHoming(true)
	r.e.SetZLock(true)
	r.push(t, move([segment.NumAxis]int32{0, 0, 200, 0}, 2000))
	r.drain(t)
	if r.e.Position(segment.AxisZ) != 0 || r.e.MotorPosition(hal.MotorZ2) != 200 {
		t.Errorf("locked Z at %d, Z2 at %d; want 0 and 200",
			r.e.Position(segment.AxisZ), r.e.MotorPosition(hal.MotorZ2))
	}
	if r.rec.Steps(hal.MotorZ) != 0 || r.rec.Steps(hal.MotorZ2) != 200 {
		t.Errorf("pulses Z=%d Z2=%d", r.rec.Steps(hal.MotorZ), r.rec.Steps(hal.MotorZ2))
	}

	// Locks only hold while homing.
	r.e.SetHoming(false)
	r.push(t, move([segment.NumAxis]int32{0, 0, 10, 0}, 2000))
	r.drain(t)
	if r.e.Position(segment.AxisZ) != 10 || r.e.MotorPosition(hal.MotorZ2) != 210 {
		t.Errorf("after homing Z at %d, Z2 at %d", r.e.Position(segment.AxisZ), r.e.MotorPosition(hal.MotorZ2))
	}
	if got := r.e.ReportPositions(); got != "X:0 Y:0 Z:10 E:0 Z2:210" {
		t.Errorf("ReportPositions() = %q", got)
	}
}

func TestDualZSwitches(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DualZ = true
	cfg.DualZEndstops = true
	r := newRig(t, cfg)
	r.rec.OnStep = func(m hal.Motor) {
		switch {
		case m == hal.MotorZ && r.rec.Position(hal.MotorZ) == -50:
			r.rec.SetSwitch(hal.ZMin, true)
		case m == hal.MotorZ2 && r.rec.Position(hal.MotorZ2) == -80:
			r.rec.SetSwitch(hal.Z2Min, true)
		}
	}
	r.e.SetHoming(true)
	r.push(t, move([segment.NumAxis]int32{0, 0, -1000, 0}, 2000))
	r.drain(t)

	z, z2 := r.rec.Position(hal.MotorZ), r.rec.Position(hal.MotorZ2)
	if z > -50 || z < -58 {
		t.Errorf("Z stopped at %d, want just past -50", z)
	}
	if z2 > -80 || z2 < -88 {
		t.Errorf("Z2 stopped at %d, want just past -80", z2)
	}
	if !r.e.Triggered(segment.AxisZ) {
		t.Error("Z did not latch once both motors arrived")
	}
	if int64(r.e.MotorPosition(hal.MotorZ2)) != z2 {
		t.Errorf("MotorPosition(Z2) = %d, driver at %d", r.e.MotorPosition(hal.MotorZ2), z2)
	}
}

func TestAbortOnEndstopHit(t *testing.T) {
	cfg := quietConfig()
	cfg.AbortOnEndstopHit = true
	r := newRig(t, cfg)
	fired := false
	r.v.OnFire = func(uint64) {
		if done, _ := r.e.Progress(); !fired && done == 10 {
			r.e.EndstopTriggered(segment.AxisX)
			fired = true
		}
	}
	r.push(t,
		move([segment.NumAxis]int32{1000, 0, 0, 0}, 2000),
		move([segment.NumAxis]int32{1000, 0, 0, 0}, 2000),
	)
	r.v.RunUntil(func() bool { return fired }, 1000)
	r.v.RunFor(10 * 1000)

	err := r.e.Service()
	if !errors.Is(err, errors.ErrAbort) || !errors.Is(err, errors.ErrUnexpectedEndstop) {
		t.Errorf("Service() = %v, want ABORT and UNEXPECTED_ENDSTOP", err)
	}
	if r.e.Busy() || r.e.Stats().QuickStops != 1 {
		t.Errorf("busy %v, quick stops %d", r.e.Busy(), r.e.Stats().QuickStops)
	}
	if r.rec.Steps(hal.MotorX) >= 2000 {
		t.Error("motion continued after abort")
	}
}

func TestCoreXYEndstopAndPosition(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Kinematics = "corexy"
	r := newRig(t, cfg)
	r.rec.OnStep = func(m hal.Motor) {
		if m == hal.MotorX && r.rec.Position(hal.MotorX) == 40 {
			r.rec.SetSwitch(hal.YMax, true)
		}
	}
	// A up, B down: pure +Y on the head.
	r.push(t, move([segment.NumAxis]int32{100, -100, 0, 0}, 2000))
	r.drain(t)
	if !r.e.Triggered(segment.AxisY) || r.e.Triggered(segment.AxisX) {
		t.Fatalf("latched X %v Y %v, want Y only", r.e.Triggered(segment.AxisX), r.e.Triggered(segment.AxisY))
	}
	a := r.e.Position(segment.AxisX)
	if steps := r.e.EndstopStatus()[1].Steps; steps != a {
		t.Errorf("Y latched at %d steps, want %d", steps, a)
	}

	if err := r.e.SetPosition(800, 0, 0, 0); err != nil {
		t.Fatal(err)
	}
	if x, y := r.e.AxisPositionMM(segment.AxisX), r.e.AxisPositionMM(segment.AxisY); x != 5 || y != 5 {
		t.Errorf("head at %v,%v mm, want 5,5", x, y)
	}
}

func TestAxisAccessorsOutOfRange(t *testing.T) {
	r := newRig(t, DefaultConfig())
	r.e.EndstopTriggered(segment.AxisE)
	if r.e.Triggered(segment.AxisE) || r.e.TriggeredPositionMM(segment.AxisE) != 0 {
		t.Error("E reported an endstop latch")
	}
	for _, axis := range []segment.Axis{-1, segment.NumAxis} {
		if r.e.Triggered(axis) || r.e.TriggeredPositionMM(axis) != 0 {
			t.Errorf("axis %d reported an endstop latch", int(axis))
		}
		if r.e.Position(axis) != 0 || r.e.AxisPositionMM(axis) != 0 {
			t.Errorf("axis %d reported a position", int(axis))
		}
	}
	r.e.SetEPosition(93)
	if r.e.Position(segment.AxisE) != 93 || r.e.AxisPositionMM(segment.AxisE) != 1 {
		t.Errorf("E at %d steps, %v mm; want 93 and 1", r.e.Position(segment.AxisE), r.e.AxisPositionMM(segment.AxisE))
	}
}
