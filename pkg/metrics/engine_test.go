package metrics

import (
	"strings"
	"testing"

	"stepcore/pkg/hal"
	"stepcore/pkg/segment"
	"stepcore/pkg/stepper"
)

func runEngine(t testing.TB) *stepper.Engine {
	t.Helper()
	cfg := stepper.DefaultConfig()
	cfg.EndstopsAlwaysOn = false
	e, err := stepper.New(cfg, stepper.Options{Output: hal.NewRecorder()})
	if err != nil {
		t.Fatal(err)
	}
	seg := segment.Linear([segment.NumAxis]int32{160, -80, 0, 10})
	seg.InitialRate, seg.NominalRate, seg.FinalRate = 4000, 4000, 4000
	if err := e.Push(seg); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 1000 && e.Busy(); i++ {
		e.Interrupt()
	}
	return e
}

func TestRecord(t *testing.T) {
	e := runEngine(t)
	m := NewEngineMetrics()
	m.Record(e)

	if v := m.StepsTotal.Get(Labels{"motor": "x"}); v != 160 {
		t.Errorf("x steps = %d, want 160", v)
	}
	if v := m.StepsTotal.Get(Labels{"motor": "e0"}); v != 10 {
		t.Errorf("e0 steps = %d, want 10", v)
	}
	if v := m.SegmentsTotal.Get(nil); v != 1 {
		t.Errorf("segments = %d, want 1", v)
	}
	if v := m.Position.Get(Labels{"axis": "y"}); v != -80 {
		t.Errorf("y position = %v, want -80", v)
	}
	if v := m.PositionMM.Get(Labels{"axis": "x"}); v != 2 {
		t.Errorf("x mm = %v, want 2", v)
	}
	if v := m.QueueCapacity.Get(nil); v != float64(e.Queue().Cap()) {
		t.Errorf("queue capacity = %v", v)
	}
	if v := m.TicksTotal.Get(Labels{"kind": "main"}); v < 160 {
		t.Errorf("main ticks = %d", v)
	}

	m.RecordLate(3)
	out := m.Gather()
	for _, want := range []string{
		`stepcore_steps_total{motor="x"} 160`,
		"stepcore_reactor_late_total 3",
		"# TYPE stepcore_step_rate_samples histogram",
		"stepcore_go_goroutines",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Gather() lacks %q", want)
		}
	}
}
