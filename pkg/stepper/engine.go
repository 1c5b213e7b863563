// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

// Package stepper is the real-time step engine. It turns queued motion
// segments into timed step pulses and direction changes.
//
// The engine has two sides. Interrupt is the timer handler: a reactor
// calls it, it runs the main step tick and, with linear advance, the
// extruder advance tick, and returns the ticks until it wants to run
// again. Everything else is foreground API; it touches interrupt-owned
// state only inside irq.Critical sections, and reads diagnostics through
// atomics.
package stepper

import (
	"sync"
	"sync/atomic"
	"time"

	"stepcore/pkg/endstop"
	"stepcore/pkg/errors"
	"stepcore/pkg/hal"
	"stepcore/pkg/irq"
	"stepcore/pkg/kinematics"
	"stepcore/pkg/log"
	"stepcore/pkg/segment"
	"stepcore/pkg/timing"
	"stepcore/pkg/trapezoid"
)

// Timer is the compare-match timer that drives Interrupt.
type Timer interface {
	Enable()
	Disable()
}

type nopTimer struct{}

func (nopTimer) Enable()  {}
func (nopTimer) Disable() {}

// Options wires the engine to its collaborators. Output is required.
type Options struct {
	Timer    Timer
	IRQ      irq.Controller
	Output   hal.StepOutput
	Enabler  hal.Enabler
	Endstops hal.EndstopSource
	Queue    *segment.Queue
	Logger   *log.Logger
}

// Engine is the step engine. Create it with New.
type Engine struct {
	cfg   Config
	table *timing.Table
	kin   kinematics.Kinematics
	queue *segment.Queue
	irq   irq.Controller
	timer Timer
	out   hal.StepOutput
	en    hal.Enabler
	src   hal.EndstopSource
	log   *log.Logger

	idleMu sync.Mutex
	idleFn func()

	// Interrupt-owned. Foreground access only under e.irq.
	cur       *segment.Segment
	gen       *trapezoid.Generator
	completed uint32
	counter   [segment.NumAxis]int32
	mixCount  [segment.MaxMixSteppers]int32
	count     [segment.NumAxis]int32
	z2Count   int32
	countDir  [segment.NumAxis]int32

	lastDirBits  uint8
	lastExtruder uint8
	dirValid     bool
	eDir         [hal.MaxExtruders]int8
	headDir      [kinematics.NumAxes]int8
	enabled      [hal.NumMotors]bool

	homing     bool
	endstopsOn bool
	bank       endstop.Bank
	dualZ      endstop.DualZ
	pollCount  uint8

	stepRemaining uint32
	cleaning      uint32

	adv      advance
	nextMain uint32
	nextAdv  uint32

	stats counters

	serviceMu sync.Mutex
	seen      struct{ clamped, unexpected, invalid uint64 }
}

// counters are written by the interrupt and read by the foreground.
type counters struct {
	active       atomic.Bool
	cleaning     atomic.Bool
	ticks        atomic.Uint64
	advanceTicks atomic.Uint64
	idleTicks    atomic.Uint64
	steps        [hal.NumMotors]atomic.Uint64
	segments     atomic.Uint64
	invalid      atomic.Uint64
	clamped      atomic.Uint64
	clampedRate  atomic.Uint32
	endstopHits  atomic.Uint64
	unexpected   atomic.Uint64
	lastHitAxis  atomic.Int32
	lastHitSteps atomic.Int32
	abortPending atomic.Bool
	quickStops   atomic.Uint64
	rate         atomic.Uint32
	phase        atomic.Uint32
}

// New creates an engine. The timer is left disabled until the first
// WakeUp.
func New(cfg Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Output == nil {
		return nil, errors.New(errors.ErrConfigValidation, "stepper: no step output")
	}
	kin, err := kinematics.New(cfg.Kinematics)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigValidation, "stepper")
	}
	if cfg.CleaningTicks == 0 {
		cfg.CleaningTicks = DefaultCleaningTicks
	}
	e := &Engine{
		cfg:   cfg,
		table: timing.NewTable(cfg.MaxStepFrequency, cfg.MinInterval),
		kin:   kin,
		queue: opts.Queue,
		irq:   opts.IRQ,
		timer: opts.Timer,
		out:   opts.Output,
		en:    opts.Enabler,
		src:   opts.Endstops,
		log:   opts.Logger,
	}
	if e.queue == nil {
		e.queue = segment.NewQueue(cfg.QueueSize)
	}
	if e.irq == nil {
		e.irq = irq.None{}
	}
	if e.timer == nil {
		e.timer = nopTimer{}
	}
	if e.log == nil {
		e.log = log.GetLogger("stepper")
	}
	e.gen = trapezoid.New(e.table)
	e.idleFn = defaultIdle
	for i := range e.countDir {
		e.countDir[i] = 1
	}
	e.endstopsOn = cfg.EndstopsAlwaysOn
	e.dualZ.Enabled = cfg.DualZEndstops
	e.adv.rate = AdvNever

	e.log.WithFields(log.Fields{
		"kinematics":     kin.GetType(),
		"max_step_freq":  e.table.MaxRate(),
		"min_interval":   e.table.Floor(),
		"linear_advance": cfg.LinearAdvance,
		"dual_z":         cfg.DualZ,
	}).Debug("step engine configured")
	return e, nil
}

func defaultIdle() {
	time.Sleep(100 * time.Microsecond)
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Kinematics returns the direction-mapping strategy in use.
func (e *Engine) Kinematics() kinematics.Kinematics { return e.kin }

// Queue returns the planner queue.
func (e *Engine) Queue() *segment.Queue { return e.queue }

// Table returns the rate lookup table.
func (e *Engine) Table() *timing.Table { return e.table }

// SetIdleHandler sets the function Synchronize calls while it waits.
func (e *Engine) SetIdleHandler(fn func()) {
	e.idleMu.Lock()
	defer e.idleMu.Unlock()
	if fn == nil {
		fn = defaultIdle
	}
	e.idleFn = fn
}

func (e *Engine) idle() {
	e.idleMu.Lock()
	fn := e.idleFn
	e.idleMu.Unlock()
	fn()
}

// Push queues a segment and wakes the timer.
func (e *Engine) Push(seg segment.Segment) error {
	if err := e.queue.Push(seg); err != nil {
		return err
	}
	e.WakeUp()
	return nil
}

// WakeUp restarts the timer after the engine went to sleep.
func (e *Engine) WakeUp() {
	e.timer.Enable()
}

// Busy reports whether segments are queued or being traced.
func (e *Engine) Busy() bool {
	return e.stats.active.Load() || e.queue.Len() > 0
}

func (e *Engine) pulse(m hal.Motor) {
	e.out.Step(m)
	e.stats.steps[m].Add(1)
}

func (e *Engine) writeDir(m hal.Motor, reverse bool) {
	e.out.SetDirection(m, reverse != e.cfg.InvertDir[m])
}
