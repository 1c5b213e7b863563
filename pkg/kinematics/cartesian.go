package kinematics

// CartesianKinematics drives each axis with its own motor.
type CartesianKinematics struct{}

// NewCartesianKinematics creates a cartesian strategy.
func NewCartesianKinematics() *CartesianKinematics {
	return &CartesianKinematics{}
}

// GetType returns "cartesian".
func (ck *CartesianKinematics) GetType() string {
	return "cartesian"
}

// CalcPosition is the identity for cartesian machines.
func (ck *CartesianKinematics) CalcPosition(motors [NumAxes]float64) [NumAxes]float64 {
	return motors
}

// CalcMotorPosition is the identity for cartesian machines.
func (ck *CartesianKinematics) CalcMotorPosition(pos [NumAxes]float64) [NumAxes]float64 {
	return pos
}

// HeadDirection follows each motor's own direction.
func (ck *CartesianKinematics) HeadDirection(deltas [NumAxes]int64) [NumAxes]int8 {
	var dir [NumAxes]int8
	for i, d := range deltas {
		dir[i] = sign(d)
	}
	return dir
}

// Coupled is always false.
func (ck *CartesianKinematics) Coupled(int) bool {
	return false
}
