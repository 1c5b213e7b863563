package script

import (
	"context"
	"fmt"
	"time"

	"stepcore/pkg/errors"
	"stepcore/pkg/hal"
	"stepcore/pkg/log"
	"stepcore/pkg/segment"
)

// Engine is the part of the step engine a script drives.
type Engine interface {
	Push(seg segment.Segment) error
	Synchronize(ctx context.Context) error
	Positions() [segment.NumAxis]int32
	SetPosition(a, b, c, e int32) error
	SetHoming(on bool)
	SetZLock(locked bool)
	SetZ2Lock(locked bool)
	ClearEndstops()
	QuickStop()
	Babystep(axis segment.Axis, reverse bool) error
}

// Clock lets time pass while the runner waits on the engine.
type Clock interface {
	// Idle gives the interrupt a chance to run.
	Idle()
	Dwell(d time.Duration)
}

// SwitchBank opens simulated endstops.
type SwitchBank interface {
	SetSwitch(s hal.Switch, triggered bool)
}

// Result summarises a run.
type Result struct {
	Segments int
	Actions  map[string]int
}

// Runner feeds a script to an engine.
type Runner struct {
	Engine   Engine
	Planner  *Planner
	Clock    Clock
	Switches SwitchBank
	Log      *log.Logger
}

// Run executes every step in order and waits for the last segment.
func (r *Runner) Run(ctx context.Context, s *Script) (Result, error) {
	res := Result{Actions: make(map[string]int)}
	if r.Log == nil {
		r.Log = log.GetLogger("script")
	}
	for i, st := range s.Steps {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		kind := st.Kind()
		if kind == "" {
			return res, invalid(i, "no single action")
		}
		res.Actions[kind]++
		if st.Move != nil {
			n, err := r.move(ctx, st.Move)
			res.Segments += n
			if err != nil {
				return res, fmt.Errorf("step %d: %w", i+1, err)
			}
			continue
		}
		if err := r.action(ctx, st); err != nil {
			return res, fmt.Errorf("step %d (%s): %w", i+1, kind, err)
		}
		r.Log.WithField("step", i+1).Debugf("%s done", kind)
	}
	if err := r.Engine.Synchronize(ctx); err != nil {
		return res, err
	}
	r.Log.WithFields(log.Fields{"segments": res.Segments, "script": s.Name}).Info("script finished")
	return res, nil
}

func (r *Runner) move(ctx context.Context, m *Move) (int, error) {
	n := 0
	for rep := 0; rep <= m.Repeat; rep++ {
		seg, err := r.Planner.Plan(m)
		if err != nil {
			return n, err
		}
		if err := r.push(ctx, seg); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// push retries while the queue is full.
func (r *Runner) push(ctx context.Context, seg segment.Segment) error {
	for {
		err := r.Engine.Push(seg)
		if !errors.Is(err, errors.ErrQueueFull) {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		r.Clock.Idle()
	}
}

func (r *Runner) action(ctx context.Context, st Step) error {
	// Every action acts on the position the queued moves reach.
	if err := r.Engine.Synchronize(ctx); err != nil {
		return err
	}
	defer func() { r.Planner.Reseed(r.Engine.Positions()) }()

	switch {
	case st.Homing != nil:
		r.Engine.SetHoming(*st.Homing)
	case st.ZLock != nil:
		r.Engine.SetZLock(*st.ZLock)
	case st.Z2Lock != nil:
		r.Engine.SetZ2Lock(*st.Z2Lock)
	case st.SetPosition != nil:
		p := st.SetPosition
		return r.Engine.SetPosition(p[0], p[1], p[2], p[3])
	case st.QuickStop:
		r.Engine.QuickStop()
	case st.ClearEndstops:
		r.Engine.ClearEndstops()
	case st.Babystep != "":
		axis, reverse, err := parseBabystep(st.Babystep)
		if err != nil {
			return err
		}
		return r.Engine.Babystep(axis, reverse)
	case st.Wait:
	case st.DwellMS > 0:
		r.Clock.Dwell(time.Duration(st.DwellMS * float64(time.Millisecond)))
	case st.Release != nil:
		if r.Switches == nil {
			return errors.Unsupported("releasing endstops without simulated switches")
		}
		for _, name := range st.Release {
			sw, err := hal.ParseSwitch(name)
			if err != nil {
				return err
			}
			r.Switches.SetSwitch(sw, false)
		}
	}
	return nil
}
