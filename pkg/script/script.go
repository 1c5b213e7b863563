// Motion scripts
//
// A script is a YAML list of moves and engine actions that a simulator or
// the daemon feeds to the step engine, plus optional simulated endstop
// triggers.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package script

import (
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v2"

	"stepcore/pkg/errors"
	"stepcore/pkg/hal"
	"stepcore/pkg/segment"
)

// Script is a parsed motion script.
type Script struct {
	Name     string    `yaml:"name"`
	Defaults Defaults  `yaml:"defaults"`
	Steps    []Step    `yaml:"steps"`
	Triggers []Trigger `yaml:"triggers,omitempty"`
}

// Defaults apply to every move that leaves the field unset.
type Defaults struct {
	// Rate is the nominal step rate of step moves, in steps/s.
	Rate uint32 `yaml:"rate"`
	// Feedrate is the head speed of mm moves, in mm/s.
	Feedrate float64 `yaml:"feedrate"`
	// Acceleration is in steps/s² for step moves and mm/s² for mm moves.
	Acceleration float64 `yaml:"acceleration"`
	EntryRate    uint32  `yaml:"entry_rate"`
	ExitRate     uint32  `yaml:"exit_rate"`
}

// Step is one script entry. Exactly one field must be set.
type Step struct {
	Move          *Move   `yaml:"move,omitempty"`
	Homing        *bool   `yaml:"homing,omitempty"`
	ZLock         *bool   `yaml:"z_lock,omitempty"`
	Z2Lock        *bool   `yaml:"z2_lock,omitempty"`
	SetPosition   []int32 `yaml:"set_position,omitempty"`
	QuickStop     bool    `yaml:"quick_stop,omitempty"`
	ClearEndstops bool    `yaml:"clear_endstops,omitempty"`
	// Babystep is an axis and a sign, e.g. "z+" or "x-".
	Babystep string `yaml:"babystep,omitempty"`
	// Wait blocks until every queued segment is done.
	Wait bool `yaml:"wait,omitempty"`
	// DwellMS pauses the feed for a number of milliseconds.
	DwellMS float64 `yaml:"dwell_ms,omitempty"`
	// Release opens simulated endstop switches.
	Release []string `yaml:"release,omitempty"`
}

// Move is a straight segment given either in motor steps or in mm.
type Move struct {
	// Steps are signed motor deltas for x, y, z and e.
	Steps []int32 `yaml:"steps,omitempty"`
	// MM are signed head deltas for x, y, z and e.
	MM []float64 `yaml:"mm,omitempty"`

	Rate         uint32  `yaml:"rate,omitempty"`
	Feedrate     float64 `yaml:"feedrate,omitempty"`
	Acceleration float64 `yaml:"acceleration,omitempty"`
	EntryRate    uint32  `yaml:"entry_rate,omitempty"`
	ExitRate     uint32  `yaml:"exit_rate,omitempty"`

	Extruder uint8 `yaml:"extruder,omitempty"`
	// Mix splits the extruder steps over mixing steppers by weight.
	Mix []float64 `yaml:"mix,omitempty"`

	Advance           bool   `yaml:"advance,omitempty"`
	AdvanceMultiplier uint32 `yaml:"advance_multiplier,omitempty"`

	// Repeat queues the move this many times; zero means once.
	Repeat int `yaml:"repeat,omitempty"`
}

// Trigger closes a simulated endstop once a motor driver reaches a
// position.
type Trigger struct {
	Switch string `yaml:"switch"`
	Motor  string `yaml:"motor"`
	At     int64  `yaml:"at"`
}

// Kind names the action a step performs.
func (s Step) Kind() string {
	kinds := s.kinds()
	if len(kinds) != 1 {
		return ""
	}
	return kinds[0]
}

func (s Step) kinds() []string {
	var k []string
	add := func(set bool, name string) {
		if set {
			k = append(k, name)
		}
	}
	add(s.Move != nil, "move")
	add(s.Homing != nil, "homing")
	add(s.ZLock != nil, "z_lock")
	add(s.Z2Lock != nil, "z2_lock")
	add(s.SetPosition != nil, "set_position")
	add(s.QuickStop, "quick_stop")
	add(s.ClearEndstops, "clear_endstops")
	add(s.Babystep != "", "babystep")
	add(s.Wait, "wait")
	add(s.DwellMS != 0, "dwell_ms")
	add(s.Release != nil, "release")
	return k
}

// Load reads and validates a script file.
func Load(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigSection, "read script "+path)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if s.Name == "" {
		s.Name = path
	}
	return s, nil
}

// Parse decodes and validates a script.
func Parse(data []byte) (*Script, error) {
	var s Script
	if err := yaml.UnmarshalStrict(data, &s); err != nil {
		return nil, errors.Wrap(err, errors.ErrConfigValidation, "parse script")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Marshal renders the script back to YAML.
func (s *Script) Marshal() ([]byte, error) {
	return yaml.Marshal(s)
}

func invalid(i int, format string, args ...interface{}) error {
	return errors.New(errors.ErrConfigValidation, fmt.Sprintf("step %d: ", i+1)+fmt.Sprintf(format, args...))
}

// Validate checks every step and trigger.
func (s *Script) Validate() error {
	for i, st := range s.Steps {
		kinds := st.kinds()
		switch len(kinds) {
		case 0:
			return invalid(i, "no action")
		case 1:
		default:
			return invalid(i, "more than one action: %s", strings.Join(kinds, ", "))
		}
		switch {
		case st.Move != nil:
			if err := st.Move.validate(); err != nil {
				return invalid(i, "%v", err)
			}
		case st.SetPosition != nil:
			if len(st.SetPosition) != int(segment.NumAxis) {
				return invalid(i, "set_position needs %d values, got %d", segment.NumAxis, len(st.SetPosition))
			}
		case st.Babystep != "":
			if _, _, err := parseBabystep(st.Babystep); err != nil {
				return invalid(i, "%v", err)
			}
		case st.DwellMS < 0:
			return invalid(i, "negative dwell")
		case st.Release != nil:
			for _, name := range st.Release {
				if _, err := hal.ParseSwitch(name); err != nil {
					return invalid(i, "%v", err)
				}
			}
		}
	}
	for i, tr := range s.Triggers {
		if _, err := hal.ParseSwitch(tr.Switch); err != nil {
			return errors.New(errors.ErrConfigValidation, fmt.Sprintf("trigger %d: %v", i+1, err))
		}
		if _, err := hal.ParseMotor(tr.Motor); err != nil {
			return errors.New(errors.ErrConfigValidation, fmt.Sprintf("trigger %d: %v", i+1, err))
		}
	}
	return nil
}

func (m *Move) validate() error {
	switch {
	case m.Steps != nil && m.MM != nil:
		return fmt.Errorf("move sets both steps and mm")
	case m.Steps == nil && m.MM == nil:
		return fmt.Errorf("move sets neither steps nor mm")
	case m.Steps != nil && len(m.Steps) != int(segment.NumAxis):
		return fmt.Errorf("steps needs %d values, got %d", segment.NumAxis, len(m.Steps))
	case m.MM != nil && len(m.MM) != int(segment.NumAxis):
		return fmt.Errorf("mm needs %d values, got %d", segment.NumAxis, len(m.MM))
	case len(m.Mix) > segment.MaxMixSteppers:
		return fmt.Errorf("mix has %d weights, at most %d", len(m.Mix), segment.MaxMixSteppers)
	case m.Repeat < 0:
		return fmt.Errorf("negative repeat")
	case m.Feedrate < 0 || m.Acceleration < 0:
		return fmt.Errorf("negative feedrate or acceleration")
	}
	for _, w := range m.Mix {
		if w < 0 {
			return fmt.Errorf("negative mix weight")
		}
	}
	return nil
}

func parseBabystep(s string) (segment.Axis, bool, error) {
	if len(s) != 2 || (s[1] != '+' && s[1] != '-') {
		return 0, false, fmt.Errorf("babystep %q: want an axis and a sign, e.g. z+", s)
	}
	axis, err := segment.ParseAxis(s[:1])
	if err != nil {
		return 0, false, err
	}
	if axis == segment.AxisE {
		return 0, false, fmt.Errorf("babystep %q: extruders cannot be babystepped", s)
	}
	return axis, s[1] == '-', nil
}

// Arm installs the script's triggers on a recording backend. Each trigger
// closes its switch the first time the motor's driver lands on At.
func (s *Script) Arm(rec *hal.Recorder) error {
	type armed struct {
		sw    hal.Switch
		at    int64
		fired bool
	}
	var byMotor [hal.NumMotors][]*armed
	for _, tr := range s.Triggers {
		sw, err := hal.ParseSwitch(tr.Switch)
		if err != nil {
			return err
		}
		m, err := hal.ParseMotor(tr.Motor)
		if err != nil {
			return err
		}
		byMotor[m] = append(byMotor[m], &armed{sw: sw, at: tr.At})
	}
	prev := rec.OnStep
	rec.OnStep = func(m hal.Motor) {
		for _, a := range byMotor[m] {
			if !a.fired && rec.Position(m) == a.at {
				rec.SetSwitch(a.sw, true)
				a.fired = true
			}
		}
		if prev != nil {
			prev(m)
		}
	}
	return nil
}
