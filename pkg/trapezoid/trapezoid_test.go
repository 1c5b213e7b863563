package trapezoid

import (
	"testing"

	"stepcore/pkg/segment"
	"stepcore/pkg/timing"
)

type sample struct {
	completed uint32
	phase     Phase
	rate      uint32
}

// trace drives the generator the way the step interrupt does: each tick
// emits Loops step events, then asks for the next interval.
func trace(g *Generator, seg *segment.Segment) []sample {
	iv := g.Reset(seg)
	var out []sample
	var completed uint32
	for completed < seg.StepEventCount {
		for i := uint8(0); i < iv.Loops && completed < seg.StepEventCount; i++ {
			completed++
		}
		iv = g.Next(completed)
		out = append(out, sample{completed, g.Phase(), g.Rate()})
	}
	return out
}

func scenarioSegment() *segment.Segment {
	return &segment.Segment{
		StepEventCount:   1000,
		Steps:            [segment.NumAxis]uint32{1000},
		InitialRate:      1000,
		NominalRate:      5000,
		FinalRate:        500,
		AccelerateUntil:  300,
		DecelerateAfter:  700,
		AccelerationRate: AccelerationRateFor(35000),
	}
}

func TestTrapezoidScenario(t *testing.T) {
	seg := scenarioSegment()
	samples := trace(New(nil), seg)
	if len(samples) != 1000 {
		t.Fatalf("got %d ticks, want 1000 single-step ticks", len(samples))
	}
	for _, s := range samples {
		var want Phase
		switch {
		case s.completed < 300:
			want = Accelerating
		case s.completed < 700:
			want = Cruising
		default:
			want = Decelerating
		}
		if s.phase != want {
			t.Fatalf("completed %d: phase %v, want %v", s.completed, s.phase, want)
		}
	}
	if s := samples[299]; s.completed != 300 || s.rate != 5000 {
		t.Errorf("at 300: %+v, want cruising at 5000", s)
	}
	if s := samples[298]; s.rate >= 5000 {
		t.Errorf("rate reached nominal before 300: %+v", s)
	}
	if last := samples[len(samples)-1]; last.completed != 1000 || last.rate < 500 {
		t.Errorf("final sample %+v, want completed 1000 and rate >= 500", last)
	}
}

func TestTrapezoidMonotonePhases(t *testing.T) {
	segs := []*segment.Segment{
		scenarioSegment(),
		{ // triangle that never reaches nominal, multi-step ticks
			StepEventCount: 6000, InitialRate: 2000, NominalRate: 38000, FinalRate: 2000,
			AccelerateUntil: 3000, DecelerateAfter: 3000,
			AccelerationRate: AccelerationRateFor(200000),
		},
		{ // reaches nominal early
			StepEventCount: 2000, InitialRate: 100, NominalRate: 3000, FinalRate: 0,
			AccelerateUntil: 1500, DecelerateAfter: 1600,
			AccelerationRate: AccelerationRateFor(100000),
		},
	}
	for i, seg := range segs {
		samples := trace(New(nil), seg)
		var prev sample
		for j, s := range samples {
			if j > 0 && s.phase == prev.phase {
				if s.phase == Accelerating && s.rate < prev.rate {
					t.Errorf("segment %d: rate fell while accelerating at %d", i, s.completed)
				}
				if s.phase == Decelerating && s.rate > prev.rate {
					t.Errorf("segment %d: rate rose while decelerating at %d", i, s.completed)
				}
			}
			if s.rate > seg.NominalRate {
				t.Errorf("segment %d: rate %d above nominal", i, s.rate)
			}
			if s.phase == Decelerating && s.rate < max(seg.FinalRate, timing.MinStepRate) {
				t.Errorf("segment %d: rate %d below final", i, s.rate)
			}
			if prev.phase == Decelerating && s.phase != Decelerating {
				t.Errorf("segment %d: left deceleration at %d", i, s.completed)
			}
			prev = s
		}
		if prev.completed != seg.StepEventCount {
			t.Errorf("segment %d: ended at %d of %d", i, prev.completed, seg.StepEventCount)
		}
	}
}

func TestEarlyNominalSwitchesToCruise(t *testing.T) {
	seg := &segment.Segment{
		StepEventCount: 2000, InitialRate: 100, NominalRate: 3000, FinalRate: 100,
		AccelerateUntil: 1500, DecelerateAfter: 1600,
		AccelerationRate: AccelerationRateFor(100000),
	}
	samples := trace(New(nil), seg)
	// 3000 steps/s at 100000 steps/s² is reached in about 45 steps.
	s := samples[200]
	if s.phase != Cruising || s.rate != 3000 {
		t.Errorf("at %d: %+v, want cruising at nominal", s.completed, s)
	}
}

func TestResetPhases(t *testing.T) {
	g := New(nil)
	cruise := &segment.Segment{StepEventCount: 10, InitialRate: 800, NominalRate: 800, DecelerateAfter: 10}
	if iv := g.Reset(cruise); g.Phase() != Cruising || iv != timing.Lookup(800) {
		t.Errorf("cruise reset: phase %v interval %+v", g.Phase(), iv)
	}
	entry := &segment.Segment{StepEventCount: 100, InitialRate: 1000, NominalRate: 5000, DecelerateAfter: 100}
	if iv := g.Reset(entry); g.Phase() != Cruising || g.Rate() != 1000 || iv != timing.Lookup(1000) {
		t.Errorf("cruise reset below nominal: phase %v rate %d interval %+v, want the entry rate",
			g.Phase(), g.Rate(), iv)
	}
	if iv := g.Next(1); g.Rate() != 5000 || iv != timing.Lookup(5000) {
		t.Errorf("second cruise tick: rate %d interval %+v, want nominal", g.Rate(), iv)
	}
	decel := &segment.Segment{StepEventCount: 10, InitialRate: 800, NominalRate: 900, FinalRate: 200,
		AccelerationRate: AccelerationRateFor(50000)}
	if iv := g.Reset(decel); g.Phase() != Decelerating || iv != timing.Lookup(800) {
		t.Errorf("decel reset: phase %v interval %+v", g.Phase(), iv)
	}
	if iv := g.Next(1); iv.Ticks < timing.Lookup(800).Ticks {
		t.Errorf("first deceleration tick sped up: %+v", iv)
	}
}

func TestAccelerationRateFor(t *testing.T) {
	// One second of ticks at the returned increment recovers the acceleration.
	inc := AccelerationRateFor(35000)
	got := (uint64(timing.TimerFrequency) * uint64(inc)) >> rateShift
	if got < 34999 || got > 35000 {
		t.Errorf("rate after 1s = %d, want ~35000", got)
	}
	if AccelerationRateFor(-1) != 0 {
		t.Error("negative acceleration should give 0")
	}
}

func BenchmarkNext(b *testing.B) {
	seg := scenarioSegment()
	g := New(nil)
	for i := 0; i < b.N; i++ {
		c := uint32(i % 1000)
		if c == 0 {
			g.Reset(seg)
		}
		g.Next(c + 1)
	}
}
