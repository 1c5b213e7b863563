package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"stepcore/pkg/config"
	"stepcore/pkg/hal"
	"stepcore/pkg/irq"
	"stepcore/pkg/log"
	"stepcore/pkg/metrics"
	"stepcore/pkg/reactor"
	"stepcore/pkg/script"
	"stepcore/pkg/segment"
	"stepcore/pkg/stepper"
	"stepcore/pkg/timing"
)

// serviceEvery is how often, in simulated ticks, the foreground drains the
// engine's diagnostics.
var serviceEvery = timing.DurationToTicks(time.Millisecond)

type simulation struct {
	id     string
	cfg    stepper.Config
	script *script.Script

	v       *reactor.Virtual
	mask    *irq.Mask
	rec     *hal.Recorder
	engine  *stepper.Engine
	runner  *script.Runner
	metrics *metrics.EngineMetrics
	log     *log.Logger

	warnings    []string
	nextService uint64
}

func newSimulation(configPath, scriptPath string, logger *log.Logger) (*simulation, error) {
	ini, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	sec, err := ini.GetSection("stepper")
	if err != nil {
		return nil, err
	}
	cfg, err := stepper.ConfigFromSection(sec)
	if err != nil {
		return nil, err
	}
	if unused := sec.GetUnusedOptions(); len(unused) > 0 {
		logger.WithField("options", strings.Join(unused, ", ")).Warn("unused [stepper] options")
	}
	sc, err := script.Load(scriptPath)
	if err != nil {
		return nil, err
	}
	return build(cfg, sc, logger)
}

func build(cfg stepper.Config, sc *script.Script, logger *log.Logger) (*simulation, error) {
	s := &simulation{
		id:      uuid.NewString(),
		cfg:     cfg,
		script:  sc,
		v:       reactor.NewVirtual(),
		mask:    irq.NewMask(),
		rec:     hal.NewRecorder(),
		metrics: metrics.NewEngineMetrics(),
	}
	s.log = logger.With(log.Fields{"run": s.id})
	s.rec.Clock = s.v.Now
	s.rec.Trace = true

	e, err := stepper.New(cfg, stepper.Options{
		Timer:    s.v,
		IRQ:      s.mask,
		Output:   s.rec,
		Enabler:  s.rec,
		Endstops: s.rec,
		Logger:   s.log.WithPrefix("stepper"),
	})
	if err != nil {
		return nil, err
	}
	s.engine = e
	// The monitor may read the engine from other goroutines, so dispatch
	// under the same mask a real-time reactor would hold.
	s.v.SetHandler(func() uint32 { return s.mask.Dispatch(e.Interrupt) })
	s.v.OnFire = s.tick
	e.SetIdleHandler(func() { s.v.Step() })

	if err := sc.Arm(s.rec); err != nil {
		return nil, err
	}
	planner, err := script.NewPlanner(e.Kinematics(), cfg.StepsPerMM, sc.Defaults)
	if err != nil {
		return nil, err
	}
	s.runner = &script.Runner{
		Engine:   e,
		Planner:  planner,
		Clock:    script.VirtualClock{Timer: s.v},
		Switches: s.rec,
		Log:      s.log.WithPrefix("script"),
	}
	return s, nil
}

func (s *simulation) tick(now uint64) {
	if now < s.nextService {
		return
	}
	s.nextService = now + serviceEvery
	s.service()
}

func (s *simulation) service() {
	if err := s.engine.Service(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			s.warnings = append(s.warnings, line)
		}
	}
	s.record()
}

func (s *simulation) record() { s.metrics.Record(s.engine) }

func (s *simulation) run(ctx context.Context) (*Report, error) {
	s.log.WithFields(log.Fields{"script": s.script.Name, "kinematics": s.cfg.Kinematics}).Info("simulation starting")
	res, err := s.runner.Run(ctx, s.script)
	s.service()
	rep := s.report(res)
	if err != nil {
		return rep, fmt.Errorf("script %s: %w", s.script.Name, err)
	}
	s.log.WithFields(log.Fields{"segments": res.Segments, "ticks": s.v.Now()}).Info("simulation finished")
	return rep, nil
}

// Report is the outcome of one simulated run.
type Report struct {
	RunID      string                   `json:"run_id"`
	Script     string                   `json:"script"`
	Kinematics string                   `json:"kinematics"`
	Ticks      uint64                   `json:"ticks"`
	Seconds    float64                  `json:"seconds"`
	Interrupts uint64                   `json:"interrupts"`
	Segments   int                      `json:"segments"`
	Motors     []MotorReport            `json:"motors"`
	Positions  [segment.NumAxis]int32   `json:"positions"`
	PositionMM [segment.NumAxis]float64 `json:"position_mm"`
	Summary    string                   `json:"summary"`
	Warnings   []string                 `json:"warnings,omitempty"`
}

// MotorReport describes one driver that moved.
type MotorReport struct {
	Motor     string               `json:"motor"`
	Steps     uint64               `json:"steps"`
	Position  int64                `json:"position"`
	Intervals script.IntervalStats `json:"intervals"`
}

func (s *simulation) report(res script.Result) *Report {
	r := &Report{
		RunID:      s.id,
		Script:     s.script.Name,
		Kinematics: s.cfg.Kinematics,
		Ticks:      s.v.Now(),
		Seconds:    float64(s.v.Now()) / timing.TimerFrequency,
		Interrupts: s.v.Fired(),
		Segments:   res.Segments,
		Positions:  s.engine.Positions(),
		Summary:    s.engine.ReportPositions(),
		Warnings:   s.warnings,
	}
	for axis := segment.AxisX; axis < segment.NumAxis; axis++ {
		r.PositionMM[axis] = s.engine.AxisPositionMM(axis)
	}
	for m := hal.Motor(0); m < hal.NumMotors; m++ {
		if s.rec.Steps(m) == 0 {
			continue
		}
		r.Motors = append(r.Motors, MotorReport{
			Motor:     m.String(),
			Steps:     s.rec.Steps(m),
			Position:  s.rec.Position(m),
			Intervals: script.Intervals(s.rec.StepTimes(m)),
		})
	}
	return r
}

// Write prints the report as text.
func (r *Report) Write(w io.Writer) {
	fmt.Fprintf(w, "run %s: %q on %s\n", r.RunID, r.Script, r.Kinematics)
	fmt.Fprintf(w, "simulated %.3fs (%d ticks, %d interrupts), %d segments\n",
		r.Seconds, r.Ticks, r.Interrupts, r.Segments)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "motor\tsteps\tposition\tmean\tstddev\tmin\tp99\tpeak Hz\t")
	for _, m := range r.Motors {
		iv := m.Intervals
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f\t%.1f\t%.0f\t%.0f\t%.0f\t\n",
			m.Motor, m.Steps, m.Position, iv.Mean, iv.StdDev, iv.Min, iv.P99, iv.PeakRate)
	}
	tw.Flush()
	fmt.Fprintf(w, "position %s (mm %.3f %.3f %.3f %.3f)\n", r.Summary,
		r.PositionMM[0], r.PositionMM[1], r.PositionMM[2], r.PositionMM[3])
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "warning: %s\n", warn)
	}
}
