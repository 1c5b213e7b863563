// Package endstop latches endstop hits for the step interrupt and holds
// the dual Z motor locks used for independent Z homing.
//
// Nothing here locks: a Bank and a DualZ belong to the interrupt context,
// and foreground callers go through the engine's critical sections.
package endstop

import (
	"fmt"

	"stepcore/pkg/hal"
)

// NumAxes is the number of axes that carry endstops (X, Y, Z).
const NumAxes = 3

// State is the debounced state of one switch.
type State int

const (
	StateOpen State = iota
	StateTriggered
	StateUnknown
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateTriggered:
		return "triggered"
	default:
		return "unknown"
	}
}

// Bits is a set of switches, bit n for hal.Switch n.
type Bits uint16

// Has reports whether s is in the set.
func (b Bits) Has(s hal.Switch) bool {
	return b&(1<<s) != 0
}

// Read samples every switch of src.
func Read(src hal.EndstopSource) Bits {
	var b Bits
	if src == nil {
		return 0
	}
	for s := hal.Switch(0); s < hal.NumSwitches; s++ {
		if src.Triggered(s) {
			b |= 1 << s
		}
	}
	return b
}

// Latch is one axis' trigger record.
type Latch struct {
	Triggered bool
	Steps     int32
}

// Bank debounces switch samples and latches per-axis hits.
type Bank struct {
	latches [NumAxes]Latch
	prev    Bits
	sampled bool
}

// Sample records a new switch reading and returns the switches that read
// triggered on this and the previous sample.
func (b *Bank) Sample(cur Bits) Bits {
	prev := b.prev
	b.prev = cur
	if !b.sampled {
		b.sampled = true
		return 0
	}
	return cur & prev
}

// Trigger latches axis at steps. Only the first hit per pass is kept; it
// reports whether this call latched.
func (b *Bank) Trigger(axis int, steps int32) bool {
	l := &b.latches[axis]
	if l.Triggered {
		return false
	}
	l.Triggered = true
	l.Steps = steps
	return true
}

// Triggered reports whether axis has latched since the last Clear.
func (b *Bank) Triggered(axis int) bool {
	return b.latches[axis].Triggered
}

// Steps returns the latched position of axis.
func (b *Bank) Steps(axis int) int32 {
	return b.latches[axis].Steps
}

// Any reports whether any axis has latched.
func (b *Bank) Any() bool {
	for _, l := range b.latches {
		if l.Triggered {
			return true
		}
	}
	return false
}

// Clear re-arms every latch for the next homing pass.
func (b *Bank) Clear() {
	b.latches = [NumAxes]Latch{}
}

// ResetDebounce forgets the previous sample, e.g. when polling restarts.
func (b *Bank) ResetDebounce() {
	b.prev = 0
	b.sampled = false
}

// Snapshot copies the latches.
func (b *Bank) Snapshot() [NumAxes]Latch {
	return b.latches
}

// DualZ holds the two Z motor locks used for independent Z homing. Locks
// and switch blocks only take effect while homing.
type DualZ struct {
	Enabled bool
	homing  bool
	lock    [2]bool
	blocked [2]bool
}

// SetHoming marks the start or end of a homing move. Switch blocks are
// dropped either way.
func (d *DualZ) SetHoming(on bool) {
	d.homing = on
	d.blocked = [2]bool{}
}

// Homing reports whether a homing move is in progress.
func (d *DualZ) Homing() bool { return d.homing }

// SetLock locks or unlocks Z motor n (0 or 1).
func (d *DualZ) SetLock(n int, locked bool) { d.lock[n] = locked }

// Locked reports the lock flag of Z motor n.
func (d *DualZ) Locked(n int) bool { return d.lock[n] }

// Block records whether Z motor n's own switch reads triggered in the
// direction of travel.
func (d *DualZ) Block(n int, hit bool) { d.blocked[n] = hit }

// Stepping reports whether Z motor n may receive a pulse.
func (d *DualZ) Stepping(n int) bool {
	return !(d.Enabled && d.homing && (d.lock[n] || d.blocked[n]))
}

// Settled reports whether both Z motors have reached their switches.
func (d *DualZ) Settled() bool {
	return d.blocked[0] && d.blocked[1]
}

// Status describes one axis latch for status reports.
type Status struct {
	Axis      string
	State     string
	Triggered bool
	Steps     int32
}

// GetStatus returns the latch status of every axis.
func (b *Bank) GetStatus() []Status {
	out := make([]Status, 0, NumAxes)
	for i, l := range b.latches {
		st := StateOpen
		if l.Triggered {
			st = StateTriggered
		}
		out = append(out, Status{
			Axis:      fmt.Sprintf("%c", 'x'+i),
			State:     st.String(),
			Triggered: l.Triggered,
			Steps:     l.Steps,
		})
	}
	return out
}
