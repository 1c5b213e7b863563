// Package periphio drives step, direction and enable lines and reads
// endstop switches through periph GPIO.
package periphio

import (
	"fmt"
	"sync/atomic"

	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"

	"stepcore/pkg/config"
	"stepcore/pkg/errors"
	"stepcore/pkg/hal"
	"stepcore/pkg/log"
)

// MotorPins are the lines of one driver. Enable is optional.
type MotorPins struct {
	Step   config.Pin
	Dir    config.Pin
	Enable *config.Pin
}

// Config maps motors and endstops to pins.
type Config struct {
	Motors   map[hal.Motor]MotorPins
	Endstops map[hal.Switch]config.Pin
}

// ConfigFromSection reads `<motor>_step_pin`, `<motor>_dir_pin`,
// `<motor>_enable_pin` and `<switch>_pin` options, e.g. `x_step_pin` or
// `z2_min_pin`. Motors without a step pin are skipped.
func ConfigFromSection(sec *config.Section) (Config, error) {
	cfg := Config{
		Motors:   make(map[hal.Motor]MotorPins),
		Endstops: make(map[hal.Switch]config.Pin),
	}
	out := config.PinOptions{CanInvert: true}
	for m := hal.MotorX; m < hal.NumMotors; m++ {
		name := m.String()
		if !sec.HasOption(name + "_step_pin") {
			continue
		}
		var mp MotorPins
		var err error
		if mp.Step, err = sec.GetPin(name+"_step_pin", out); err != nil {
			return Config{}, err
		}
		if mp.Dir, err = sec.GetPin(name+"_dir_pin", out); err != nil {
			return Config{}, err
		}
		if mp.Enable, err = sec.GetPinOptional(name+"_enable_pin", out); err != nil {
			return Config{}, err
		}
		cfg.Motors[m] = mp
	}
	in := config.PinOptions{CanInvert: true, CanPullup: true}
	for s := hal.XMin; s < hal.NumSwitches; s++ {
		p, err := sec.GetPinOptional(s.String()+"_pin", in)
		if err != nil {
			return Config{}, err
		}
		if p != nil {
			cfg.Endstops[s] = *p
		}
	}
	return cfg, nil
}

type output struct {
	pin    gpio.PinOut
	invert bool
}

func (o output) set(active bool) error {
	if o.pin == nil {
		return nil
	}
	return o.pin.Out(gpio.Level(active != o.invert))
}

type input struct {
	pin    gpio.PinIn
	invert bool
}

// Backend implements hal.StepOutput, hal.Enabler and hal.EndstopSource.
type Backend struct {
	step   [hal.NumMotors]output
	dir    [hal.NumMotors]output
	enable [hal.NumMotors]output
	inputs [hal.NumSwitches]input

	failures atomic.Uint64
	lastErr  atomic.Value
	log      *log.Logger
}

// Open initialises the host drivers and claims the configured pins.
func Open(cfg Config) (*Backend, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.HardwareError("periph host init", err)
	}
	return newBackend(cfg, func(name string) gpio.PinIO { return gpioreg.ByName(name) })
}

func newBackend(cfg Config, lookup func(string) gpio.PinIO) (*Backend, error) {
	b := &Backend{log: log.GetLogger("periphio")}
	claim := func(p config.Pin) (gpio.PinIO, error) {
		pin := lookup(p.Name)
		if pin == nil {
			return nil, errors.HardwareError("gpio", fmt.Errorf("no pin named %q", p.Name))
		}
		return pin, nil
	}
	for m, mp := range cfg.Motors {
		step, err := claim(mp.Step)
		if err != nil {
			return nil, err
		}
		dir, err := claim(mp.Dir)
		if err != nil {
			return nil, err
		}
		b.step[m] = output{step, mp.Step.Invert}
		b.dir[m] = output{dir, mp.Dir.Invert}
		if err := b.step[m].set(false); err != nil {
			return nil, errors.HardwareError("step pin "+mp.Step.Name, err)
		}
		if err := b.dir[m].set(false); err != nil {
			return nil, errors.HardwareError("dir pin "+mp.Dir.Name, err)
		}
		if mp.Enable != nil {
			en, err := claim(*mp.Enable)
			if err != nil {
				return nil, err
			}
			b.enable[m] = output{en, mp.Enable.Invert}
			if err := b.enable[m].set(false); err != nil {
				return nil, errors.HardwareError("enable pin "+mp.Enable.Name, err)
			}
		}
		b.log.WithFields(log.Fields{"motor": m.String(), "step": mp.Step.String(), "dir": mp.Dir.String()}).Debug("motor pins claimed")
	}
	for s, p := range cfg.Endstops {
		pin, err := claim(p)
		if err != nil {
			return nil, err
		}
		pull := gpio.Float
		switch p.Pullup {
		case 1:
			pull = gpio.PullUp
		case -1:
			pull = gpio.PullDown
		}
		if err := pin.In(pull, gpio.NoEdge); err != nil {
			return nil, errors.HardwareError("endstop pin "+p.Name, err)
		}
		b.inputs[s] = input{pin, p.Invert}
	}
	return b, nil
}

func (b *Backend) fail(err error) {
	if err != nil {
		b.failures.Add(1)
		b.lastErr.Store(err)
	}
}

// Step implements hal.StepOutput.
func (b *Backend) Step(m hal.Motor) {
	o := b.step[m]
	b.fail(o.set(true))
	b.fail(o.set(false))
}

// SetDirection implements hal.StepOutput.
func (b *Backend) SetDirection(m hal.Motor, reverse bool) {
	b.fail(b.dir[m].set(reverse))
}

// Enable implements hal.Enabler.
func (b *Backend) Enable(m hal.Motor, on bool) {
	b.fail(b.enable[m].set(on))
}

// Triggered implements hal.EndstopSource.
func (b *Backend) Triggered(s hal.Switch) bool {
	in := b.inputs[s]
	if in.pin == nil {
		return false
	}
	return (in.pin.Read() == gpio.High) != in.invert
}

// Failures returns the number of failed pin writes and the last error.
// Interrupt-context writes cannot return errors, so they are counted here.
func (b *Backend) Failures() (uint64, error) {
	err, _ := b.lastErr.Load().(error)
	return b.failures.Load(), err
}

// Close disables every driver.
func (b *Backend) Close() error {
	for m := range b.enable {
		b.fail(b.enable[m].set(false))
	}
	_, err := b.Failures()
	return err
}
