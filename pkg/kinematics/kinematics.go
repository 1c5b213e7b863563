// Package kinematics maps between motor step positions and carriage
// (cartesian) positions for the machine layouts the step engine drives.
//
// The engine works in motor space: segment step counts and position
// counters are per motor. A strategy is consulted when a segment is loaded,
// to find out which way the carriage travels on each axis (for endstop
// selection), and by the foreground when reporting positions.
package kinematics

// Axis indexes of the cartesian and motor triples.
const (
	X = iota
	Y
	Z
	NumAxes
)

// Kinematics is a motor-to-carriage mapping strategy.
type Kinematics interface {
	// GetType returns the kinematic type name, e.g. "cartesian" or "corexy".
	GetType() string

	// CalcPosition converts motor positions (A, B, C) to carriage X, Y, Z.
	CalcPosition(motors [NumAxes]float64) [NumAxes]float64

	// CalcMotorPosition converts a carriage position to motor positions.
	CalcMotorPosition(pos [NumAxes]float64) [NumAxes]float64

	// HeadDirection returns the carriage travel sign (-1, 0, +1) on each
	// axis for signed motor deltas.
	HeadDirection(deltas [NumAxes]int64) [NumAxes]int8

	// Coupled reports whether motor m contributes to more than one axis.
	Coupled(m int) bool
}

func sign(v int64) int8 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// axisName returns "x", "y" or "z".
func axisName(axis int) string {
	return string(rune('x' + axis))
}

// Status describes a strategy for status reports.
func Status(k Kinematics) map[string]interface{} {
	coupled := ""
	for m := 0; m < NumAxes; m++ {
		if k.Coupled(m) {
			coupled += axisName(m)
		}
	}
	return map[string]interface{}{
		"kinematics":     k.GetType(),
		"coupled_motors": coupled,
	}
}
