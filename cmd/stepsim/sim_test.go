package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"stepcore/pkg/log"
	"stepcore/pkg/segment"
	"stepcore/pkg/stepper"
	"stepcore/pkg/script"
)

func quietLogger() *log.Logger {
	l := log.New("stepsim")
	l.SetWriter(io.Discard)
	return l
}

func TestSimulateTestdata(t *testing.T) {
	sim, err := newSimulation("testdata/printer.cfg", "testdata/home.yaml", quietLogger())
	if err != nil {
		t.Fatalf("newSimulation: %v", err)
	}
	rep, err := sim.run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if rep.Segments != 6 {
		t.Errorf("Segments = %d, want 6", rep.Segments)
	}
	// The square closes and the extruder retracts 1mm of the 2mm pushed.
	if diff := cmp.Diff([segment.NumAxis]int32{0, 0, 0, 93}, rep.Positions); diff != "" {
		t.Errorf("positions (-want +got):\n%s", diff)
	}
	if rep.PositionMM[segment.AxisE] != 1 {
		t.Errorf("E at %v mm, want 1", rep.PositionMM[segment.AxisE])
	}
	if len(rep.Warnings) != 0 {
		t.Errorf("warnings: %v", rep.Warnings)
	}

	byMotor := map[string]MotorReport{}
	for _, m := range rep.Motors {
		byMotor[m.Motor] = m
	}
	x, ok := byMotor["x"]
	if !ok {
		t.Fatal("no report for x")
	}
	// Homing stops near -500; the square nets zero after that.
	if x.Position > -500 || x.Position < -510 {
		t.Errorf("x driver at %d, want the homing stop near -500", x.Position)
	}
	if x.Intervals.Pulses != int(x.Steps) || x.Intervals.Min <= 0 || x.Intervals.Mean < x.Intervals.Min {
		t.Errorf("x intervals %+v", x.Intervals)
	}
	if _, ok := byMotor["z"]; ok {
		t.Error("z moved")
	}
	if rep.Seconds <= 0 || rep.Interrupts == 0 || len(rep.RunID) != 36 {
		t.Errorf("header: %+v", rep)
	}

	var text bytes.Buffer
	rep.Write(&text)
	for _, want := range []string{rep.RunID, "home x and print a square", "X:0 Y:0 Z:0 E:93", "peak Hz"} {
		if !strings.Contains(text.String(), want) {
			t.Errorf("text report lacks %q:\n%s", want, text.String())
		}
	}
	if _, err := json.Marshal(rep); err != nil {
		t.Errorf("report does not encode: %v", err)
	}
	if !strings.Contains(sim.metrics.Gather(), `stepcore_steps_total{motor="x"}`) {
		t.Error("metrics were not recorded")
	}
}

func TestUnexpectedHitIsReported(t *testing.T) {
	sc, err := script.Parse([]byte(`
steps:
  - move: {steps: [600, 0, 0, 0], rate: 2000}
triggers:
  - {switch: x_max, motor: x, at: 200}
`))
	if err != nil {
		t.Fatal(err)
	}
	sim, err := build(stepper.DefaultConfig(), sc, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	rep, err := sim.run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Warnings) == 0 || !strings.Contains(strings.Join(rep.Warnings, "\n"), "UNEXPECTED_ENDSTOP") {
		t.Errorf("warnings = %v", rep.Warnings)
	}
	if rep.Positions[segment.AxisX] > 210 {
		t.Errorf("x ran on to %d", rep.Positions[segment.AxisX])
	}
}

func TestBadInputs(t *testing.T) {
	if _, err := newSimulation("testdata/missing.cfg", "testdata/home.yaml", quietLogger()); err == nil {
		t.Error("missing config accepted")
	}
	if _, err := newSimulation("testdata/printer.cfg", "testdata/missing.yaml", quietLogger()); err == nil {
		t.Error("missing script accepted")
	}
}
