package main

import (
	"context"
	"time"

	"stepcore/pkg/config"
	"stepcore/pkg/errors"
	"stepcore/pkg/hal"
	"stepcore/pkg/hal/periphio"
	"stepcore/pkg/irq"
	"stepcore/pkg/log"
	"stepcore/pkg/metrics"
	"stepcore/pkg/reactor"
	"stepcore/pkg/rtsched"
	"stepcore/pkg/safety"
	"stepcore/pkg/script"
	"stepcore/pkg/stepper"
)

// hardware is a pin backend the daemon can drive and close.
type hardware interface {
	hal.StepOutput
	hal.Enabler
	hal.EndstopSource
	Failures() (uint64, error)
	Close() error
}

// recorded stands in for GPIO on a dry run.
type recorded struct {
	*hal.Recorder
}

func (recorded) Failures() (uint64, error) { return 0, nil }
func (recorded) Close() error              { return nil }

// maskedSwitches sets recorded endstops outside the interrupt.
type maskedSwitches struct {
	mask *irq.Mask
	rec  *hal.Recorder
}

func (m maskedSwitches) SetSwitch(s hal.Switch, on bool) {
	irq.Critical(m.mask, func() { m.rec.SetSwitch(s, on) })
}

const servicePeriod = 10 * time.Millisecond

type daemon struct {
	cfg    stepper.Config
	rt     *reactor.Realtime
	mask   *irq.Mask
	hw     hardware
	engine *stepper.Engine
	safety *safety.Manager

	metrics *metrics.EngineMetrics
	log     *log.Logger

	failures uint64
}

func newDaemon(ini *config.Config, dryRun bool, logger *log.Logger) (*daemon, error) {
	sec, err := ini.GetSection("stepper")
	if err != nil {
		return nil, err
	}
	cfg, err := stepper.ConfigFromSection(sec)
	if err != nil {
		return nil, err
	}
	rtOpts := rtsched.Disabled()
	if rsec := ini.GetSectionOptional("realtime"); rsec != nil {
		if rtOpts, err = rtsched.OptionsFromSection(rsec); err != nil {
			return nil, err
		}
	}
	safeCfg := safety.Config{}
	if ssec := ini.GetSectionOptional("safety"); ssec != nil {
		if safeCfg, err = safety.ConfigFromSection(ssec); err != nil {
			return nil, err
		}
	}

	var hw hardware
	if dryRun {
		hw = recorded{hal.NewRecorder()}
	} else {
		gsec, err := ini.GetSection("gpio")
		if err != nil {
			return nil, err
		}
		pins, err := periphio.ConfigFromSection(gsec)
		if err != nil {
			return nil, err
		}
		if hw, err = periphio.Open(pins); err != nil {
			return nil, err
		}
	}
	return assemble(cfg, rtOpts, safeCfg, hw, logger)
}

func assemble(cfg stepper.Config, rtOpts rtsched.Options, safeCfg safety.Config, hw hardware, logger *log.Logger) (*daemon, error) {
	d := &daemon{
		cfg:     cfg,
		mask:    irq.NewMask(),
		hw:      hw,
		metrics: metrics.NewEngineMetrics(),
		log:     logger,
	}
	d.rt = reactor.NewRealtime(d.mask)
	d.rt.LockThread = true
	d.rt.OnStart = func() error {
		if err := rtsched.Apply(rtOpts); err != nil {
			// Without privileges the engine still runs, only with more jitter.
			logger.WithError(err).Warn("real-time tuning incomplete")
		}
		return nil
	}

	e, err := stepper.New(cfg, stepper.Options{
		Timer:    d.rt,
		IRQ:      d.mask,
		Output:   hw,
		Enabler:  hw,
		Endstops: hw,
		Logger:   logger.WithPrefix("stepper"),
	})
	if err != nil {
		return nil, err
	}
	d.engine = e
	d.rt.SetHandler(e.Interrupt)
	d.safety = safety.New(safeCfg, logger.WithPrefix("safety"))
	d.safety.Register(e)
	return d, nil
}

func (d *daemon) start(ctx context.Context) error {
	if err := d.rt.Run(); err != nil {
		return err
	}
	d.rt.Enable()
	d.safety.StartWatchdog()
	go d.serviceLoop(ctx)
	return nil
}

func (d *daemon) serviceLoop(ctx context.Context) {
	ticker := time.NewTicker(servicePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.serviceOnce()
		}
	}
}

// serviceOnce drains the engine's diagnostics and shuts the machine down
// on an endstop abort or when the pin backend has started failing.
func (d *daemon) serviceOnce() {
	d.safety.Heartbeat()
	if err := d.engine.Service(); errors.Is(err, errors.ErrAbort) {
		d.safety.Shutdown(safety.ReasonEndstopAbort, err.Error())
	}
	if n, err := d.hw.Failures(); n > d.failures {
		d.failures = n
		d.log.WithField("failures", n).Error("pin writes failing")
		d.safety.HardwareFailure(errors.HardwareError("gpio", err))
	}
	d.record()
}

func (d *daemon) record() {
	d.metrics.Record(d.engine)
	d.metrics.RecordLate(d.rt.Late())
}

func (d *daemon) runScript(ctx context.Context, sc *script.Script) (script.Result, error) {
	if err := d.safety.CheckOperational(); err != nil {
		return script.Result{}, err
	}
	planner, err := script.NewPlanner(d.engine.Kinematics(), d.cfg.StepsPerMM, sc.Defaults)
	if err != nil {
		return script.Result{}, err
	}
	planner.Reseed(d.engine.Positions())
	var switches script.SwitchBank
	if rec, ok := d.hw.(recorded); ok {
		switches = maskedSwitches{d.mask, rec.Recorder}
	}
	r := &script.Runner{
		Engine:   d.engine,
		Planner:  planner,
		Clock:    script.WallClock{},
		Switches: switches,
		Log:      d.log.WithPrefix("script"),
	}
	return r.Run(ctx, sc)
}

// guarded is the monitor's view of the engine: a quick stop becomes an
// emergency stop and the status carries the shutdown state.
type guarded struct {
	*stepper.Engine
	safety *safety.Manager
}

func (g guarded) QuickStop() { g.safety.EmergencyStop("requested over the monitor") }

func (g guarded) Status() map[string]interface{} {
	st := g.Engine.Status()
	st["safety"] = g.safety.Status()
	return st
}

// shutdown lets queued motion finish, or stops it when ctx expires first,
// then disables the drivers and stops the interrupt thread.
func (d *daemon) shutdown(ctx context.Context) error {
	d.safety.StopWatchdog()
	if err := d.engine.FinishAndDisable(ctx); err != nil {
		d.log.WithError(err).Warn("motion did not finish, stopping")
		d.engine.QuickStop()
		d.engine.DisableAll()
	}
	d.rt.End()
	d.rt.Wait()
	return d.hw.Close()
}
