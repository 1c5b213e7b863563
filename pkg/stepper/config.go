package stepper

import (
	"fmt"

	"stepcore/pkg/config"
	"stepcore/pkg/errors"
	"stepcore/pkg/hal"
	"stepcore/pkg/kinematics"
	"stepcore/pkg/segment"
	"stepcore/pkg/timing"
)

// Default timing of the supplementary tick paths, in timer ticks.
const (
	// IdleInterval is the reload while nothing is queued (1 kHz).
	IdleInterval = 2000
	// CleaningInterval is the reload while a quick stop drains the queue.
	CleaningInterval = 200
	// DefaultCleaningTicks is how many ticks a quick stop keeps draining.
	DefaultCleaningTicks = 5000
	// EndstopPollInterval is the longest stretch between endstop polls
	// while endstops are enabled.
	EndstopPollInterval = 3000
	// endstopSplitTolerance keeps the last split chunk from being tiny.
	endstopSplitTolerance = 1000
)

// Config selects the engine's hardware variant.
type Config struct {
	Kinematics       string
	MaxStepFrequency uint32
	MinInterval      uint16

	// StepsPerMM converts step counts of X, Y, Z and E to millimetres.
	StepsPerMM [segment.NumAxis]float64

	// Extruders is the number of extruder drivers. With MixingSteppers
	// set, one mixing extruder drives that many steppers instead.
	Extruders      int
	MixingSteppers int

	// DualZ drives a second Z motor in step with the first.
	// DualZEndstops gives each Z motor its own switch while homing.
	DualZ         bool
	DualZEndstops bool

	LinearAdvance     bool
	AbortOnEndstopHit bool
	// EndstopsAlwaysOn polls endstops on every move, not only homing.
	EndstopsAlwaysOn bool
	// SleepWhenIdle stops the timer while nothing is queued instead of
	// ticking at IdleInterval.
	SleepWhenIdle bool

	InvertDir [hal.NumMotors]bool

	QueueSize     int
	CleaningTicks uint32
}

// DefaultConfig returns a cartesian single-extruder configuration.
func DefaultConfig() Config {
	return Config{
		Kinematics:       "cartesian",
		MaxStepFrequency: timing.DefaultMaxStepFrequency,
		MinInterval:      timing.DefaultMinInterval,
		StepsPerMM:       [segment.NumAxis]float64{80, 80, 400, 93},
		Extruders:        1,
		EndstopsAlwaysOn: true,
		QueueSize:        segment.DefaultQueueSize,
		CleaningTicks:    DefaultCleaningTicks,
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if !kinematics.IsSupported(c.Kinematics) {
		return errors.ConfigValidationError("stepper", "kinematics",
			fmt.Sprintf("unsupported kinematics %q", c.Kinematics))
	}
	if c.MaxStepFrequency > timing.MaxSupportedRate {
		return errors.ConfigValidationError("stepper", "max_step_frequency",
			fmt.Sprintf("%d exceeds the supported %d", c.MaxStepFrequency, timing.MaxSupportedRate))
	}
	for i, v := range c.StepsPerMM {
		if v <= 0 {
			return errors.ConfigValidationError("stepper", "steps_per_mm",
				fmt.Sprintf("%s must be positive", segment.Axis(i)))
		}
	}
	if c.MixingSteppers > 0 {
		if c.MixingSteppers < 2 || c.MixingSteppers > segment.MaxMixSteppers {
			return errors.ConfigValidationError("stepper", "mixing_steppers",
				fmt.Sprintf("must be between 2 and %d", segment.MaxMixSteppers))
		}
	} else if c.Extruders < 1 || c.Extruders > hal.MaxExtruders {
		return errors.ConfigValidationError("stepper", "extruders",
			fmt.Sprintf("must be between 1 and %d", hal.MaxExtruders))
	}
	if c.DualZEndstops && !c.DualZ {
		return errors.ConfigValidationError("stepper", "dual_z_endstops", "requires dual_z")
	}
	if c.QueueSize < 0 {
		return errors.ConfigValidationError("stepper", "queue_size", "must not be negative")
	}
	return nil
}

// eSteppers returns the number of E drivers the engine addresses.
func (c *Config) eSteppers() int {
	if c.MixingSteppers > 0 {
		return c.MixingSteppers
	}
	return c.Extruders
}

// ConfigFromSection reads a [stepper] section.
func ConfigFromSection(sec *config.Section) (Config, error) {
	cfg := DefaultConfig()
	var err error

	if cfg.Kinematics, err = sec.GetChoice("kinematics", kinematics.SupportedTypes(), cfg.Kinematics); err != nil {
		return cfg, err
	}
	one, maxRate := 1, int(timing.MaxSupportedRate)
	freq, err := sec.GetIntWithBounds("max_step_frequency",
		config.IntBounds{MinVal: &one, MaxVal: &maxRate}, int(cfg.MaxStepFrequency))
	if err != nil {
		return cfg, err
	}
	cfg.MaxStepFrequency = uint32(freq)
	minIv, maxIv := timing.MinStepRate, 0xffff
	iv, err := sec.GetIntWithBounds("min_interval",
		config.IntBounds{MinVal: &minIv, MaxVal: &maxIv}, int(cfg.MinInterval))
	if err != nil {
		return cfg, err
	}
	cfg.MinInterval = uint16(iv)

	zero := 0.0
	spm, err := sec.GetFloatList("steps_per_mm", config.FloatBounds{Above: &zero}, cfg.StepsPerMM[:])
	if err != nil {
		return cfg, err
	}
	if len(spm) != int(segment.NumAxis) {
		return cfg, errors.ConfigValidationError(sec.GetName(), "steps_per_mm",
			fmt.Sprintf("need %d values, got %d", segment.NumAxis, len(spm)))
	}
	copy(cfg.StepsPerMM[:], spm)

	maxE := hal.MaxExtruders
	if cfg.Extruders, err = sec.GetIntWithBounds("extruders",
		config.IntBounds{MinVal: &one, MaxVal: &maxE}, cfg.Extruders); err != nil {
		return cfg, err
	}
	noMix := 0
	if cfg.MixingSteppers, err = sec.GetIntWithBounds("mixing_steppers",
		config.IntBounds{MinVal: &noMix, MaxVal: &maxE}, 0); err != nil {
		return cfg, err
	}

	bools := []struct {
		opt string
		dst *bool
	}{
		{"dual_z", &cfg.DualZ},
		{"dual_z_endstops", &cfg.DualZEndstops},
		{"linear_advance", &cfg.LinearAdvance},
		{"abort_on_endstop_hit", &cfg.AbortOnEndstopHit},
		{"endstops_always_on", &cfg.EndstopsAlwaysOn},
		{"sleep_when_idle", &cfg.SleepWhenIdle},
	}
	for _, b := range bools {
		if *b.dst, err = sec.GetBool(b.opt, *b.dst); err != nil {
			return cfg, err
		}
	}

	names, err := sec.GetList("invert_dir", []string{})
	if err != nil {
		return cfg, err
	}
	for _, n := range names {
		m, perr := hal.ParseMotor(n)
		if perr != nil {
			return cfg, errors.ConfigValidationError(sec.GetName(), "invert_dir", perr.Error())
		}
		cfg.InvertDir[m] = true
	}

	qmin, qmax := 1, 1024
	if cfg.QueueSize, err = sec.GetIntWithBounds("queue_size",
		config.IntBounds{MinVal: &qmin, MaxVal: &qmax}, cfg.QueueSize); err != nil {
		return cfg, err
	}
	ct, err := sec.GetIntWithBounds("cleaning_ticks",
		config.IntBounds{MinVal: &noMix}, int(cfg.CleaningTicks))
	if err != nil {
		return cfg, err
	}
	cfg.CleaningTicks = uint32(ct)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
