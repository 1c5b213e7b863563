package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stepcore/pkg/errors"
)

const sample = `
# engine configuration
[stepper]
kinematics: corexy
max_step_frequency = 40000
steps_per_mm: 80, 80, 400, 93 ; x y z e
dual_z_endstops: yes
invert_dir: false, true, false, false

[pins]
x_step: GPIO17
x_dir: !GPIO27
`

func TestLoadString(t *testing.T) {
	cfg, err := LoadString(sample)
	if err != nil {
		t.Fatalf("LoadString failed: %v", err)
	}
	if got := cfg.SectionNames(); strings.Join(got, ",") != "stepper,pins" {
		t.Errorf("SectionNames() = %v", got)
	}

	sec, err := cfg.GetSection("stepper")
	if err != nil {
		t.Fatalf("GetSection failed: %v", err)
	}
	kin, err := sec.GetChoice("kinematics", []string{"cartesian", "corexy"})
	if err != nil || kin != "corexy" {
		t.Errorf("GetChoice = %q, %v", kin, err)
	}
	freq, err := sec.GetInt("max_step_frequency")
	if err != nil || freq != 40000 {
		t.Errorf("GetInt = %d, %v", freq, err)
	}
	spm, err := sec.GetFloatList("steps_per_mm", FloatBounds{Above: ptr(0.0)})
	if err != nil || len(spm) != 4 || spm[3] != 93 {
		t.Errorf("GetFloatList = %v, %v", spm, err)
	}
	dual, err := sec.GetBool("dual_z_endstops")
	if err != nil || !dual {
		t.Errorf("GetBool = %v, %v", dual, err)
	}
	inv, err := sec.GetBoolList("invert_dir")
	if err != nil || len(inv) != 4 || !inv[1] || inv[0] {
		t.Errorf("GetBoolList = %v, %v", inv, err)
	}
	if n, err := sec.GetInt("extruders", 1); err != nil || n != 1 {
		t.Errorf("fallback GetInt = %d, %v", n, err)
	}
}

func ptr[T any](v T) *T { return &v }

func TestMissingAndInvalid(t *testing.T) {
	cfg, err := LoadString("[stepper]\nextruders: two\nmin_interval: 20\n")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.GetSection("pins"); !errors.Is(err, errors.ErrConfigSection) {
		t.Errorf("missing section error = %v", err)
	}
	sec, _ := cfg.GetSection("stepper")
	if _, err := sec.GetInt("extruders"); !errors.Is(err, errors.ErrConfigValidation) {
		t.Errorf("invalid int error = %v", err)
	}
	if _, err := sec.Get("kinematics"); !errors.Is(err, errors.ErrConfigOption) {
		t.Errorf("missing option error = %v", err)
	}
	_, err = sec.GetIntWithBounds("min_interval", IntBounds{MinVal: ptr(50)})
	if err == nil || !strings.Contains(err.Error(), "minimum of 50") {
		t.Errorf("bounds error = %v", err)
	}
}

func TestCheckUnused(t *testing.T) {
	cfg, err := LoadString(sample)
	if err != nil {
		t.Fatal(err)
	}
	sec, _ := cfg.GetSection("stepper")
	sec.Get("kinematics")
	err = cfg.CheckUnused()
	if err == nil {
		t.Fatal("expected unused options to be reported")
	}
	for _, want := range []string{"unused section [pins]", "max_step_frequency"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("CheckUnused() = %v, missing %q", err, want)
		}
	}
}

func TestParseErrors(t *testing.T) {
	for _, data := range []string{
		"orphan: 1\n",
		"[]\n",
		"[stepper]\nno separator here\n",
		"[include other.cfg]\n",
	} {
		if _, err := LoadString(data); err == nil {
			t.Errorf("LoadString(%q) succeeded, want error", data)
		}
	}
}

func TestLoadWithInclude(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("main.cfg", "[stepper]\nextruders: 1\n[include extra/*.cfg]\n")
	if err := os.Mkdir(filepath.Join(dir, "extra"), 0o755); err != nil {
		t.Fatal(err)
	}
	write("extra/a.cfg", "[stepper]\nextruders: 2\n")

	cfg, err := Load(filepath.Join(dir, "main.cfg"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	sec, _ := cfg.GetSection("stepper")
	if n, _ := sec.GetInt("extruders"); n != 2 {
		t.Errorf("included file did not override: extruders = %d", n)
	}

	write("loop.cfg", "[include loop.cfg]\n")
	if _, err := Load(filepath.Join(dir, "loop.cfg")); err == nil {
		t.Error("recursive include was not rejected")
	}
}

func TestParsePin(t *testing.T) {
	opts := PinOptions{CanInvert: true, CanPullup: true}
	tests := []struct {
		in   string
		want Pin
	}{
		{"GPIO17", Pin{Name: "GPIO17"}},
		{"!GPIO27", Pin{Name: "GPIO27", Invert: true}},
		{"^!GPIO22", Pin{Name: "GPIO22", Invert: true, Pullup: 1}},
		{"~GPIO5", Pin{Name: "GPIO5", Pullup: -1}},
	}
	for _, tt := range tests {
		got, err := ParsePin(tt.in, opts)
		if err != nil || got != tt.want {
			t.Errorf("ParsePin(%q) = %+v, %v, want %+v", tt.in, got, err, tt.want)
		}
		if got.String() != tt.in {
			t.Errorf("String() = %q, want %q", got.String(), tt.in)
		}
	}
	if _, err := ParsePin("!GPIO1", PinOptions{}); err == nil {
		t.Error("invert prefix accepted without CanInvert")
	}

	cfg, _ := LoadString(sample)
	pins, _ := cfg.GetSection("pins")
	dir, err := pins.GetPin("x_dir", opts)
	if err != nil || !dir.Invert {
		t.Errorf("GetPin = %+v, %v", dir, err)
	}
	if p, err := pins.GetPinOptional("x_enable", opts); p != nil || err != nil {
		t.Errorf("GetPinOptional = %v, %v, want nil", p, err)
	}
}
