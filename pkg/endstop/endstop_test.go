package endstop

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"stepcore/pkg/hal"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateOpen, "open"},
		{StateTriggered, "triggered"},
		{StateUnknown, "unknown"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if tt.state.String() != tt.expected {
			t.Errorf("State %d String() = %s, want %s", tt.state, tt.state.String(), tt.expected)
		}
	}
}

func TestRead(t *testing.T) {
	r := hal.NewRecorder()
	r.SetSwitch(hal.XMin, true)
	r.SetSwitch(hal.Z2Max, true)
	b := Read(r)
	if !b.Has(hal.XMin) || !b.Has(hal.Z2Max) || b.Has(hal.YMin) {
		t.Errorf("Read() = %016b", b)
	}
	if Read(nil) != 0 {
		t.Error("Read(nil) should be empty")
	}
}

func TestSampleDebounce(t *testing.T) {
	var b Bank
	x := Bits(1 << hal.XMin)
	if got := b.Sample(x); got != 0 {
		t.Errorf("first sample = %b, want 0", got)
	}
	if got := b.Sample(x); got != x {
		t.Errorf("second sample = %b, want %b", got, x)
	}
	if got := b.Sample(0); got != 0 {
		t.Errorf("released sample = %b, want 0", got)
	}
	// A single glitch is ignored.
	b.Sample(x)
	if got := b.Sample(0); got != 0 {
		t.Errorf("glitch = %b, want 0", got)
	}
}

func TestTriggerOncePerPass(t *testing.T) {
	var b Bank
	if !b.Trigger(0, 400) {
		t.Fatal("first trigger not latched")
	}
	if b.Trigger(0, 500) {
		t.Error("second trigger latched")
	}
	if b.Steps(0) != 400 || !b.Triggered(0) || !b.Any() {
		t.Errorf("latch = %+v", b.Snapshot()[0])
	}
	b.Clear()
	if b.Any() {
		t.Error("Clear left a latch set")
	}
	if !b.Trigger(0, 10) || b.Steps(0) != 10 {
		t.Error("latch not re-armed after Clear")
	}

	want := []Status{
		{Axis: "x", State: "triggered", Triggered: true, Steps: 10},
		{Axis: "y", State: "open"},
		{Axis: "z", State: "open"},
	}
	if diff := cmp.Diff(want, b.GetStatus()); diff != "" {
		t.Errorf("GetStatus mismatch (-want +got):\n%s", diff)
	}
}

func TestDualZ(t *testing.T) {
	d := DualZ{Enabled: true}
	d.SetLock(0, true)
	if !d.Stepping(0) {
		t.Error("lock must not apply outside homing")
	}
	d.SetHoming(true)
	if d.Stepping(0) || !d.Stepping(1) {
		t.Errorf("Stepping = %v, %v; want false, true", d.Stepping(0), d.Stepping(1))
	}
	d.Block(1, true)
	if d.Stepping(1) || d.Settled() {
		t.Error("blocked motor 1 still stepping, or settled with one switch")
	}
	d.Block(0, true)
	if !d.Settled() {
		t.Error("both switches hit but not settled")
	}
	d.SetHoming(false)
	d.SetHoming(true)
	if !d.Stepping(1) {
		t.Error("new homing move kept a stale switch block")
	}

	d.Enabled = false
	if !d.Stepping(0) {
		t.Error("locks must be ignored without dual endstops")
	}
}
