package hal

// Recorder is an in-memory backend that counts pulses, tracks the signed
// position each driver has been moved to and serves scripted endstop
// states. It is meant for a virtual reactor: readers must not run
// concurrently with the interrupt.
type Recorder struct {
	steps     [NumMotors]uint64
	position  [NumMotors]int64
	reverse   [NumMotors]bool
	dirWrites [NumMotors]uint64
	enabled   [NumMotors]bool
	switches  [NumSwitches]bool

	// Clock, if set, timestamps pulses when Trace is on.
	Clock func() uint64
	Trace bool
	times [NumMotors][]uint64

	// OnStep, if set, runs after every recorded pulse.
	OnStep func(m Motor)
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Step implements StepOutput.
func (r *Recorder) Step(m Motor) {
	r.steps[m]++
	if r.reverse[m] {
		r.position[m]--
	} else {
		r.position[m]++
	}
	if r.Trace && r.Clock != nil {
		r.times[m] = append(r.times[m], r.Clock())
	}
	if r.OnStep != nil {
		r.OnStep(m)
	}
}

// SetDirection implements StepOutput.
func (r *Recorder) SetDirection(m Motor, reverse bool) {
	r.reverse[m] = reverse
	r.dirWrites[m]++
}

// Enable implements Enabler.
func (r *Recorder) Enable(m Motor, on bool) {
	r.enabled[m] = on
}

// Triggered implements EndstopSource.
func (r *Recorder) Triggered(s Switch) bool {
	return r.switches[s]
}

// SetSwitch sets a scripted endstop state.
func (r *Recorder) SetSwitch(s Switch, triggered bool) {
	r.switches[s] = triggered
}

// Steps returns the pulse count of m.
func (r *Recorder) Steps(m Motor) uint64 { return r.steps[m] }

// Position returns the signed step position of m.
func (r *Recorder) Position(m Motor) int64 { return r.position[m] }

// Reverse returns the last direction written to m.
func (r *Recorder) Reverse(m Motor) bool { return r.reverse[m] }

// DirectionWrites returns how often the direction of m was written.
func (r *Recorder) DirectionWrites(m Motor) uint64 { return r.dirWrites[m] }

// Enabled reports whether m is enabled.
func (r *Recorder) Enabled(m Motor) bool { return r.enabled[m] }

// StepTimes returns the traced pulse timestamps of m.
func (r *Recorder) StepTimes(m Motor) []uint64 { return r.times[m] }

// Reset clears counters, positions and traces. Switch states are kept.
func (r *Recorder) Reset() {
	r.steps = [NumMotors]uint64{}
	r.position = [NumMotors]int64{}
	r.dirWrites = [NumMotors]uint64{}
	r.times = [NumMotors][]uint64{}
}
