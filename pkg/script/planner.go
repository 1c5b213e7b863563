package script

import (
	"fmt"
	"math"

	"stepcore/pkg/errors"
	"stepcore/pkg/kinematics"
	"stepcore/pkg/segment"
)

// Planner turns script moves into segments. It tracks the motor position
// the queued moves end at so mm moves round without drift.
type Planner struct {
	kin        kinematics.Kinematics
	stepsPerMM [segment.NumAxis]float64
	defaults   Defaults

	head  [segment.NumAxis]float64 // mm; x, y, z carriage plus e
	steps [segment.NumAxis]int32   // motor steps the head position maps to
}

// NewPlanner creates a planner at the origin.
func NewPlanner(kin kinematics.Kinematics, stepsPerMM [segment.NumAxis]float64, d Defaults) (*Planner, error) {
	if kin == nil {
		return nil, errors.RuntimeError("planner needs kinematics")
	}
	for axis, spm := range stepsPerMM {
		if spm <= 0 {
			return nil, errors.New(errors.ErrConfigValidation,
				fmt.Sprintf("steps per mm of %s must be positive", segment.Axis(axis)))
		}
	}
	return &Planner{kin: kin, stepsPerMM: stepsPerMM, defaults: d}, nil
}

// Reseed moves the planner to motor position pos, e.g. after homing or a
// position override.
func (p *Planner) Reseed(pos [segment.NumAxis]int32) {
	p.steps = pos
	var motors [kinematics.NumAxes]float64
	for i := range motors {
		motors[i] = float64(pos[i]) / p.stepsPerMM[i]
	}
	head := p.kin.CalcPosition(motors)
	copy(p.head[:kinematics.NumAxes], head[:])
	p.head[segment.AxisE] = float64(pos[segment.AxisE]) / p.stepsPerMM[segment.AxisE]
}

// Position returns the head position in mm the planned moves end at.
func (p *Planner) Position() [segment.NumAxis]float64 { return p.head }

// Steps returns the motor position the planned moves end at.
func (p *Planner) Steps() [segment.NumAxis]int32 { return p.steps }

// Plan converts m into a segment and advances the planner.
func (p *Planner) Plan(m *Move) (segment.Segment, error) {
	if err := m.validate(); err != nil {
		return segment.Segment{}, errors.New(errors.ErrInvalidSegment, err.Error())
	}
	var (
		deltas  [segment.NumAxis]int32
		nominal uint32
		accel   float64
	)
	if m.Steps != nil {
		copy(deltas[:], m.Steps)
		for i := range p.steps {
			p.steps[i] += deltas[i]
		}
		p.Reseed(p.steps)
		nominal = pick(m.Rate, p.defaults.Rate)
		accel = pickf(m.Acceleration, p.defaults.Acceleration)
	} else {
		var dist float64
		deltas, dist = p.moveMM(m.MM)
		seg := segment.Linear(deltas)
		n := float64(seg.StepEventCount)
		// Dominant-axis steps per mm of head travel.
		scale := 0.0
		if dist > 0 {
			scale = n / dist
		}
		feed := pickf(m.Feedrate, p.defaults.Feedrate)
		nominal = uint32(math.Round(feed * scale))
		accel = pickf(m.Acceleration, p.defaults.Acceleration) * scale
	}

	seg := segment.Linear(deltas)
	if nominal == 0 && !seg.Empty() {
		return segment.Segment{}, errors.InvalidSegment("move has no rate or feedrate")
	}
	seg.ActiveExtruder = m.Extruder
	seg.UseAdvance = m.Advance
	seg.AdvanceMultiplier = m.AdvanceMultiplier
	splitMix(&seg, m.Mix)
	Profile(&seg, pick(m.EntryRate, p.defaults.EntryRate), nominal,
		pick(m.ExitRate, p.defaults.ExitRate), accel)
	return seg, seg.Validate()
}

// moveMM advances the head by delta mm and returns the motor step deltas
// and the travel distance used for speed scaling: the xyz length, or the
// extruder length for extrude-only moves.
func (p *Planner) moveMM(delta []float64) ([segment.NumAxis]int32, float64) {
	for i := range p.head {
		p.head[i] += delta[i]
	}
	var head [kinematics.NumAxes]float64
	copy(head[:], p.head[:kinematics.NumAxes])
	motors := p.kin.CalcMotorPosition(head)

	var target [segment.NumAxis]int32
	for i := 0; i < kinematics.NumAxes; i++ {
		target[i] = int32(math.Round(motors[i] * p.stepsPerMM[i]))
	}
	target[segment.AxisE] = int32(math.Round(p.head[segment.AxisE] * p.stepsPerMM[segment.AxisE]))

	var deltas [segment.NumAxis]int32
	for i := range deltas {
		deltas[i] = target[i] - p.steps[i]
	}
	p.steps = target

	dist := math.Sqrt(delta[0]*delta[0] + delta[1]*delta[1] + delta[2]*delta[2])
	if dist == 0 {
		dist = math.Abs(delta[segment.AxisE])
	}
	return deltas, dist
}

// splitMix distributes the extruder steps over mixing steppers by weight.
// Rounding error lands on the last stepper.
func splitMix(seg *segment.Segment, weights []float64) {
	var total float64
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		return
	}
	e := seg.Steps[segment.AxisE]
	var used uint32
	for i, w := range weights {
		if i == len(weights)-1 {
			seg.MixSteps[i] = e - used
			break
		}
		n := uint32(math.Round(float64(e) * w / total))
		n = min(n, e-used)
		seg.MixSteps[i] = n
		used += n
	}
}

func pick(v, fallback uint32) uint32 {
	if v != 0 {
		return v
	}
	return fallback
}

func pickf(v, fallback float64) float64 {
	if v != 0 {
		return v
	}
	return fallback
}
