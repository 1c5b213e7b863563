package script

import (
	"time"

	"stepcore/pkg/reactor"
	"stepcore/pkg/timing"
)

// VirtualClock advances a simulated timer.
type VirtualClock struct {
	Timer *reactor.Virtual
}

// Idle fires the next timer event. With the timer stopped it only moves
// the clock on by one idle period.
func (c VirtualClock) Idle() {
	if !c.Timer.Step() {
		c.Timer.RunFor(timing.DurationToTicks(time.Millisecond))
	}
}

// Dwell runs the timer for d.
func (c VirtualClock) Dwell(d time.Duration) {
	c.Timer.RunFor(timing.DurationToTicks(d))
}

// WallClock waits in real time while a real-time reactor runs the
// interrupt.
type WallClock struct {
	// Poll is the Idle sleep; 500µs when zero.
	Poll time.Duration
}

func (c WallClock) Idle() {
	if c.Poll <= 0 {
		time.Sleep(500 * time.Microsecond)
		return
	}
	time.Sleep(c.Poll)
}

func (c WallClock) Dwell(d time.Duration) { time.Sleep(d) }
