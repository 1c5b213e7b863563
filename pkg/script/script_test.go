package script

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"stepcore/pkg/errors"
	"stepcore/pkg/hal"
)

const homingScript = `
name: home x
defaults:
  rate: 2000
steps:
  - homing: true
  - move: {steps: [-1000, 0, 0, 0]}
  - homing: false
  - set_position: [0, 0, 0, 0]
  - release: [x_min]
  - clear_endstops: true
  - move: {mm: [10, 0, 0, 0], feedrate: 25}
  - dwell_ms: 5
  - babystep: z+
  - move: {steps: [0, 100, 0, 0], repeat: 2}
triggers:
  - {switch: x_min, motor: x, at: -400}
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(homingScript))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	var kinds []string
	for _, st := range s.Steps {
		kinds = append(kinds, st.Kind())
	}
	want := []string{"homing", "move", "homing", "set_position", "release",
		"clear_endstops", "move", "dwell_ms", "babystep", "move"}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("step kinds (-want +got):\n%s", diff)
	}
	if s.Name != "home x" || s.Defaults.Rate != 2000 {
		t.Errorf("header = %q, %+v", s.Name, s.Defaults)
	}
	if diff := cmp.Diff([]Trigger{{Switch: "x_min", Motor: "x", At: -400}}, s.Triggers); diff != "" {
		t.Errorf("triggers (-want +got):\n%s", diff)
	}

	out, err := s.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	again, err := Parse(out)
	if err != nil {
		t.Fatalf("re-parse: %v\n%s", err, out)
	}
	if diff := cmp.Diff(s, again); diff != "" {
		t.Errorf("marshalled script differs (-orig +again):\n%s", diff)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"empty step", "steps:\n  - {}\n"},
		{"two actions", "steps:\n  - {wait: true, quick_stop: true}\n"},
		{"short steps", "steps:\n  - move: {steps: [1, 2, 3]}\n"},
		{"steps and mm", "steps:\n  - move: {steps: [1, 0, 0, 0], mm: [1, 0, 0, 0]}\n"},
		{"no deltas", "steps:\n  - move: {rate: 100}\n"},
		{"too many mix weights", "steps:\n  - move: {steps: [0, 0, 0, 9], mix: [1, 1, 1, 1, 1]}\n"},
		{"bad babystep", "steps:\n  - babystep: e+\n"},
		{"babystep without sign", "steps:\n  - babystep: z\n"},
		{"short set_position", "steps:\n  - set_position: [0, 0]\n"},
		{"unknown release", "steps:\n  - release: [w_min]\n"},
		{"unknown trigger switch", "triggers:\n  - {switch: q_max, motor: x, at: 1}\n"},
		{"unknown trigger motor", "triggers:\n  - {switch: x_max, motor: e9, at: 1}\n"},
		{"unknown field", "steps:\n  - teleport: true\n"},
		{"not yaml", "steps: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.yaml)); !errors.IsConfig(err) {
				t.Errorf("Parse() = %v, want a config error", err)
			}
		})
	}
}

func TestArmTriggers(t *testing.T) {
	s, err := Parse([]byte("triggers:\n  - {switch: z_min, motor: z, at: -3}\n"))
	if err != nil {
		t.Fatal(err)
	}
	rec := hal.NewRecorder()
	var seen int
	rec.OnStep = func(hal.Motor) { seen++ }
	if err := s.Arm(rec); err != nil {
		t.Fatal(err)
	}
	rec.SetDirection(hal.MotorZ, true)
	for i := 0; i < 2; i++ {
		rec.Step(hal.MotorZ)
	}
	if rec.Triggered(hal.ZMin) {
		t.Fatal("switch closed early")
	}
	rec.Step(hal.MotorZ)
	if !rec.Triggered(hal.ZMin) {
		t.Fatal("switch not closed at -3")
	}
	// One-shot: a released switch stays open when the motor passes again.
	rec.SetSwitch(hal.ZMin, false)
	rec.SetDirection(hal.MotorZ, false)
	rec.Step(hal.MotorZ)
	rec.SetDirection(hal.MotorZ, true)
	rec.Step(hal.MotorZ)
	if rec.Triggered(hal.ZMin) {
		t.Error("trigger fired twice")
	}
	if seen != 5 {
		t.Errorf("chained OnStep ran %d times, want 5", seen)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("testdata/does-not-exist.yaml")
	if err == nil || !strings.Contains(err.Error(), "does-not-exist") {
		t.Errorf("Load() = %v", err)
	}
}
