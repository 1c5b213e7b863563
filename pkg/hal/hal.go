// Package hal defines the hardware boundary of the step engine: step and
// direction outputs, motor enables and endstop inputs.
package hal

import "fmt"

// Motor identifies a physical stepper driver.
type Motor uint8

const (
	MotorX Motor = iota
	MotorY
	MotorZ
	MotorZ2
	MotorE0
	MotorE1
	MotorE2
	MotorE3
	NumMotors
)

// MaxExtruders is the number of extruder drivers.
const MaxExtruders = int(NumMotors - MotorE0)

var motorNames = [NumMotors]string{"x", "y", "z", "z2", "e0", "e1", "e2", "e3"}

func (m Motor) String() string {
	if m >= NumMotors {
		return fmt.Sprintf("motor(%d)", uint8(m))
	}
	return motorNames[m]
}

// ParseMotor maps a motor name such as "z2" or "e1" to a Motor.
func ParseMotor(s string) (Motor, error) {
	for i, n := range motorNames {
		if n == s {
			return Motor(i), nil
		}
	}
	return 0, fmt.Errorf("hal: unknown motor %q", s)
}

// Extruder returns the driver of extruder (or mixing stepper) n.
func Extruder(n int) Motor {
	return MotorE0 + Motor(n)
}

// StepOutput is called from interrupt context and must not block.
type StepOutput interface {
	// Step emits one step pulse on m.
	Step(m Motor)
	// SetDirection selects the travel direction of m.
	SetDirection(m Motor, reverse bool)
}

// Enabler switches motor drivers on and off. Called from the foreground
// and, for late enabling, from interrupt context.
type Enabler interface {
	Enable(m Motor, on bool)
}

// Switch identifies an endstop input.
type Switch uint8

const (
	XMin Switch = iota
	XMax
	YMin
	YMax
	ZMin
	ZMax
	Z2Min
	Z2Max
	NumSwitches
)

var switchNames = [NumSwitches]string{"x_min", "x_max", "y_min", "y_max", "z_min", "z_max", "z2_min", "z2_max"}

func (s Switch) String() string {
	if s >= NumSwitches {
		return fmt.Sprintf("switch(%d)", uint8(s))
	}
	return switchNames[s]
}

// ParseSwitch maps a name such as "x_min" to a Switch.
func ParseSwitch(name string) (Switch, error) {
	for i, n := range switchNames {
		if n == name {
			return Switch(i), nil
		}
	}
	return 0, fmt.Errorf("hal: unknown endstop %q", name)
}

// SwitchFor returns the endstop an axis (0 = X, 1 = Y, 2 = Z) runs into
// when moving in the given direction.
func SwitchFor(axis int, reverse bool) Switch {
	s := Switch(axis * 2)
	if !reverse {
		s++
	}
	return s
}

// EndstopSource reports endstop states. Called from interrupt context.
type EndstopSource interface {
	Triggered(s Switch) bool
}
