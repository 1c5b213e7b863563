package kinematics

// CoreKinematics implements the belt-coupled layouts CoreXY, CoreXZ and
// CoreYZ. Two motors A and B share a pair of axes (p, q):
//   - p = 0.5 * (A + B)
//   - q = 0.5 * (A - B)
//   - A = p + q
//   - B = p - q
//
// The third axis is driven directly.
type CoreKinematics struct {
	name string
	p, q int
}

// NewCoreXYKinematics couples X and Y.
func NewCoreXYKinematics() *CoreKinematics {
	return &CoreKinematics{name: "corexy", p: X, q: Y}
}

// NewCoreXZKinematics couples X and Z.
func NewCoreXZKinematics() *CoreKinematics {
	return &CoreKinematics{name: "corexz", p: X, q: Z}
}

// NewCoreYZKinematics couples Y and Z.
func NewCoreYZKinematics() *CoreKinematics {
	return &CoreKinematics{name: "coreyz", p: Y, q: Z}
}

// GetType returns the kinematic type name.
func (ck *CoreKinematics) GetType() string {
	return ck.name
}

// CalcPosition converts motor positions to carriage positions.
func (ck *CoreKinematics) CalcPosition(motors [NumAxes]float64) [NumAxes]float64 {
	pos := motors
	a, b := motors[ck.p], motors[ck.q]
	pos[ck.p] = 0.5 * (a + b)
	pos[ck.q] = 0.5 * (a - b)
	return pos
}

// CalcMotorPosition converts carriage positions to motor positions.
func (ck *CoreKinematics) CalcMotorPosition(pos [NumAxes]float64) [NumAxes]float64 {
	motors := pos
	motors[ck.p] = pos[ck.p] + pos[ck.q]
	motors[ck.q] = pos[ck.p] - pos[ck.q]
	return motors
}

// HeadDirection resolves carriage travel from the coupled motor pair. Equal
// and opposite motor moves leave one axis still.
func (ck *CoreKinematics) HeadDirection(deltas [NumAxes]int64) [NumAxes]int8 {
	var dir [NumAxes]int8
	for i, d := range deltas {
		dir[i] = sign(d)
	}
	a, b := deltas[ck.p], deltas[ck.q]
	dir[ck.p] = sign(a + b)
	dir[ck.q] = sign(a - b)
	return dir
}

// Coupled reports whether motor m is A or B.
func (ck *CoreKinematics) Coupled(m int) bool {
	return m == ck.p || m == ck.q
}
