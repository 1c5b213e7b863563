// Package segment defines the motion segment handed from the planner to
// the step engine and the single-producer single-consumer queue between
// them.
package segment

import (
	"fmt"

	"stepcore/pkg/errors"
)

// Axis indexes the per-axis step arrays. For core kinematics the first
// three entries are motor axes (A, B, C) rather than cartesian ones.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
	AxisE
	NumAxis
)

// MaxMixSteppers bounds the number of steppers a mixing extruder drives.
const MaxMixSteppers = 4

var axisNames = [NumAxis]string{"x", "y", "z", "e"}

func (a Axis) String() string {
	if a < 0 || a >= NumAxis {
		return fmt.Sprintf("axis(%d)", int(a))
	}
	return axisNames[a]
}

// ParseAxis maps "x", "y", "z" or "e" to an Axis.
func ParseAxis(s string) (Axis, error) {
	for i, n := range axisNames {
		if s == n {
			return Axis(i), nil
		}
	}
	return 0, errors.New(errors.ErrConfigValidation, fmt.Sprintf("unknown axis %q", s))
}

// Segment is one planned move. Step rates are in steps per second of the
// dominant axis. A segment must not change once it is queued.
type Segment struct {
	// StepEventCount is the dominant axis step count; every other axis
	// count must be no larger.
	StepEventCount uint32
	Steps          [NumAxis]uint32

	// DirectionBits has bit n set when axis n moves in the negative
	// direction.
	DirectionBits  uint8
	ActiveExtruder uint8

	InitialRate uint32
	NominalRate uint32
	FinalRate   uint32

	// Phase boundaries in step events: acceleration runs while fewer than
	// AccelerateUntil events are done, deceleration starts once
	// DecelerateAfter events are done.
	AccelerateUntil uint32
	DecelerateAfter uint32

	// AccelerationRate is the rate increase per timer tick in 8.24 fixed
	// point; see trapezoid.AccelerationRateFor.
	AccelerationRate uint32

	// UseAdvance enables pressure advance for this segment, scaled by
	// AdvanceMultiplier (extra E steps per step/s of rate, 8.17 fixed point).
	UseAdvance        bool
	AdvanceMultiplier uint32

	// MixSteps holds the per-stepper step counts for a mixing extruder.
	MixSteps [MaxMixSteppers]uint32
}

// Reverse reports whether axis moves in the negative direction.
func (s *Segment) Reverse(axis Axis) bool {
	return s.DirectionBits&(1<<uint(axis)) != 0
}

// SetReverse sets the direction bit for axis.
func (s *Segment) SetReverse(axis Axis, reverse bool) {
	if reverse {
		s.DirectionBits |= 1 << uint(axis)
	} else {
		s.DirectionBits &^= 1 << uint(axis)
	}
}

// Empty reports a segment with no step events.
func (s *Segment) Empty() bool {
	return s.StepEventCount == 0
}

// Validate checks the counts the engine relies on. Rates are not checked:
// the engine clamps them.
func (s *Segment) Validate() error {
	for axis, n := range s.Steps {
		if n > s.StepEventCount {
			return errors.InvalidSegment(fmt.Sprintf("%d steps on %s exceed %d step events",
				n, Axis(axis), s.StepEventCount)).SetAxis(Axis(axis).String())
		}
	}
	for i, n := range s.MixSteps {
		if n > s.StepEventCount {
			return errors.InvalidSegment(fmt.Sprintf("mix stepper %d: %d steps exceed %d step events",
				i, n, s.StepEventCount))
		}
	}
	if s.AccelerateUntil > s.DecelerateAfter {
		return errors.InvalidSegment(fmt.Sprintf("acceleration ends at %d after deceleration starts at %d",
			s.AccelerateUntil, s.DecelerateAfter))
	}
	if s.DecelerateAfter > s.StepEventCount {
		return errors.InvalidSegment(fmt.Sprintf("deceleration starts at %d beyond %d step events",
			s.DecelerateAfter, s.StepEventCount))
	}
	return nil
}

// Linear builds a segment from signed per-axis step deltas. The dominant
// axis sets the step event count; profile fields are left for the caller.
func Linear(deltas [NumAxis]int32) Segment {
	var s Segment
	for i, d := range deltas {
		n := d
		if n < 0 {
			n = -n
			s.SetReverse(Axis(i), true)
		}
		s.Steps[i] = uint32(n)
		if s.Steps[i] > s.StepEventCount {
			s.StepEventCount = s.Steps[i]
		}
	}
	s.DecelerateAfter = s.StepEventCount
	return s
}
