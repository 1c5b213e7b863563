// Package reactor drives a timer interrupt handler the way a hardware
// compare-match timer would: the handler runs, returns the number of
// timer ticks until it wants to run again, and the reactor reprograms
// itself.
//
// Virtual runs in simulated ticks on the caller's goroutine and is fully
// deterministic. Realtime runs on its own goroutine against the wall clock
// and dispatches under an irq.Mask.
package reactor

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"stepcore/pkg/irq"
	"stepcore/pkg/timing"
)

// Handler is a timer interrupt handler. It returns the ticks until the
// next interrupt.
type Handler func() uint32

// MinReload is the shortest reload the reactor programs. A handler asking
// for less is delayed to MinReload ticks.
const MinReload = 16

// ErrNoHandler is returned when a reactor is started without a handler.
var ErrNoHandler = errors.New("reactor: no handler set")

func clampReload(ticks uint32) uint32 {
	if ticks < MinReload {
		return MinReload
	}
	return ticks
}

// Virtual is a deterministic reactor in simulated timer ticks. It is not
// safe for concurrent use.
type Virtual struct {
	handler  Handler
	now      uint64
	deadline uint64
	enabled  bool
	fired    uint64

	// OnFire, if set, is called before each dispatch with the tick time.
	OnFire func(now uint64)
}

// NewVirtual creates a disabled virtual reactor at tick 0.
func NewVirtual() *Virtual {
	return &Virtual{}
}

// SetHandler installs the interrupt handler.
func (v *Virtual) SetHandler(h Handler) { v.handler = h }

// Enable arms the timer. An already running timer keeps its deadline.
func (v *Virtual) Enable() {
	if v.enabled {
		return
	}
	v.enabled = true
	v.deadline = v.now + MinReload
}

// Disable stops dispatching until the next Enable.
func (v *Virtual) Disable() { v.enabled = false }

// Enabled reports whether the timer is armed.
func (v *Virtual) Enabled() bool { return v.enabled }

// Now returns the current tick time.
func (v *Virtual) Now() uint64 { return v.now }

// Fired returns the number of dispatches so far.
func (v *Virtual) Fired() uint64 { return v.fired }

// Step advances time to the next deadline and dispatches once. It returns
// false when the timer is disabled or no handler is set.
func (v *Virtual) Step() bool {
	if !v.enabled || v.handler == nil {
		return false
	}
	v.now = v.deadline
	if v.OnFire != nil {
		v.OnFire(v.now)
	}
	v.fired++
	next := clampReload(v.handler())
	if v.enabled {
		v.deadline = v.now + uint64(next)
	}
	return true
}

// RunFor dispatches every interrupt due within the next ticks and leaves
// the clock at the end of the window. It returns the dispatch count.
func (v *Virtual) RunFor(ticks uint64) int {
	end := v.now + ticks
	n := 0
	for v.enabled && v.handler != nil && v.deadline <= end {
		v.Step()
		n++
	}
	if v.now < end {
		v.now = end
	}
	return n
}

// RunUntil dispatches until done returns true, the timer stops, or
// maxEvents dispatches have run. It reports whether done was reached.
func (v *Virtual) RunUntil(done func() bool, maxEvents int) bool {
	for i := 0; i < maxEvents; i++ {
		if done() {
			return true
		}
		if !v.Step() {
			return done()
		}
	}
	return done()
}

// Realtime dispatches a handler against the wall clock on its own
// goroutine.
type Realtime struct {
	mask    *irq.Mask
	handler Handler

	enabled atomic.Bool
	wake    chan struct{}

	// SpinThreshold is how close to a deadline the loop stops sleeping
	// and busy-waits.
	SpinThreshold time.Duration

	// LockThread pins the dispatch goroutine to its OS thread, which
	// real-time scheduling settings then apply to.
	LockThread bool
	// OnStart runs on the dispatch goroutine before the first dispatch.
	OnStart func() error

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup

	startTime time.Time
	fired     atomic.Uint64
	late      atomic.Uint64
}

// lateSlack is how far behind schedule the loop may fall before it stops
// catching up and resynchronises to the wall clock.
const lateSlack = 10 * time.Millisecond

// NewRealtime creates a stopped reactor that dispatches under mask.
func NewRealtime(mask *irq.Mask) *Realtime {
	ctx, cancel := context.WithCancel(context.Background())
	return &Realtime{
		mask:          mask,
		wake:          make(chan struct{}, 1),
		SpinThreshold: 200 * time.Microsecond,
		ctx:           ctx,
		cancel:        cancel,
		startTime:     time.Now(),
	}
}

// SetHandler installs the interrupt handler. Call before Run.
func (r *Realtime) SetHandler(h Handler) { r.handler = h }

// Monotonic returns seconds since the reactor was created.
func (r *Realtime) Monotonic() float64 {
	return time.Since(r.startTime).Seconds()
}

// Enable arms the timer; the handler runs MinReload ticks later.
func (r *Realtime) Enable() {
	if !r.enabled.Swap(true) {
		select {
		case r.wake <- struct{}{}:
		default:
		}
	}
}

// Disable stops dispatching until the next Enable. Safe from the handler.
func (r *Realtime) Disable() { r.enabled.Store(false) }

// Enabled reports whether the timer is armed.
func (r *Realtime) Enabled() bool { return r.enabled.Load() }

// Fired returns the number of dispatches so far.
func (r *Realtime) Fired() uint64 { return r.fired.Load() }

// Late returns how many dispatches started more than lateSlack behind
// their deadline.
func (r *Realtime) Late() uint64 { return r.late.Load() }

// Run starts the dispatch goroutine and waits for OnStart to finish.
func (r *Realtime) Run() error {
	if r.handler == nil {
		return ErrNoHandler
	}
	if r.running.Swap(true) {
		return nil
	}
	started := make(chan error, 1)
	r.wg.Add(1)
	go r.dispatchLoop(started)
	return <-started
}

// End stops the dispatch goroutine.
func (r *Realtime) End() {
	r.running.Store(false)
	r.cancel()
}

// Wait waits for the dispatch goroutine to exit.
func (r *Realtime) Wait() {
	r.wg.Wait()
}

func (r *Realtime) dispatchLoop(started chan<- error) {
	defer r.wg.Done()
	if r.LockThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	if r.OnStart != nil {
		if err := r.OnStart(); err != nil {
			started <- err
			r.running.Store(false)
			return
		}
	}
	started <- nil

	var deadline time.Time
	armed := false
	for r.running.Load() {
		if !r.enabled.Load() {
			armed = false
			select {
			case <-r.wake:
				continue
			case <-r.ctx.Done():
				return
			}
		}
		if !armed {
			deadline = time.Now().Add(timing.TicksToDuration(MinReload))
			armed = true
		}
		if !r.sleepUntil(deadline) {
			return
		}
		if !r.enabled.Load() {
			continue
		}
		if behind := time.Since(deadline); behind > lateSlack {
			r.late.Add(1)
			deadline = time.Now()
		}
		r.fired.Add(1)
		next := clampReload(r.mask.Dispatch(r.handler))
		deadline = deadline.Add(timing.TicksToDuration(next))
	}
}

// sleepUntil sleeps then spins until deadline. It returns false when the
// reactor is shutting down.
func (r *Realtime) sleepUntil(deadline time.Time) bool {
	if d := time.Until(deadline) - r.SpinThreshold; d > 0 {
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-r.ctx.Done():
			t.Stop()
			return false
		}
	}
	for time.Now().Before(deadline) {
		if r.ctx.Err() != nil {
			return false
		}
	}
	return true
}
