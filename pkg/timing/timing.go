// Package timing converts step rates into timer reload intervals using
// fixed-point reciprocal tables, so interrupt code never divides.
package timing

import "time"

const (
	// TimerFrequency is the step timer's tick rate in Hz.
	TimerFrequency = 2000000

	// MinStepRate is the lowest rate the tables cover, in steps/s.
	MinStepRate = 32

	// DefaultMaxStepFrequency caps the requested step rate.
	DefaultMaxStepFrequency = 40000

	// DefaultMinInterval is the shortest reload the interrupt can service.
	DefaultMinInterval = 100

	// MaxSupportedRate is the largest step rate the tables can index
	// once the quadruple-step multiplicity is applied.
	MaxSupportedRate = 4 * (fastTableSize*fastStep + MinStepRate - 1)
)

// Interpolation steps of the two tables. The fast table covers rates from
// 2048 steps/s in 256 steps/s buckets; below that the slow table uses
// 8 steps/s buckets.
const (
	fastStep      = 256
	fastShift     = 8
	slowStep      = 8
	slowShift     = 3
	fastThreshold = fastStep * slowStep
	fastTableSize = 256
	slowTableSize = fastThreshold / slowStep
)

// Multiplicity thresholds: above these rates each interrupt emits two or
// four steps so the interrupt rate stays serviceable.
const (
	doubleStepRate = 10000
	quadStepRate   = 20000
)

// entry is one table row: the interval at the bucket start and the drop
// to the next bucket.
type entry struct {
	base uint16
	gain uint16
}

var (
	fastTable [fastTableSize]entry
	slowTable [slowTableSize]entry
)

func init() {
	buildTable(fastTable[:], fastStep)
	buildTable(slowTable[:], slowStep)
}

func buildTable(t []entry, step uint32) {
	for i := range t {
		a := TimerFrequency / (uint32(i)*step + MinStepRate)
		b := TimerFrequency / (uint32(i+1)*step + MinStepRate)
		t[i] = entry{base: uint16(a), gain: uint16(a - b)}
	}
}

// Interval is the result of a rate lookup.
type Interval struct {
	// Ticks until the next interrupt.
	Ticks uint16
	// Loops is the number of steps to emit per interrupt (1, 2 or 4).
	Loops uint8
	// Clamped is set when Ticks was raised to the table's floor.
	Clamped bool
}

// Duration converts the interval to wall time.
func (iv Interval) Duration() time.Duration {
	return TicksToDuration(uint32(iv.Ticks))
}

// StepRate returns the effective step rate the interval produces.
func (iv Interval) StepRate() float64 {
	if iv.Ticks == 0 {
		return 0
	}
	return float64(TimerFrequency) * float64(iv.Loops) / float64(iv.Ticks)
}

// TicksToDuration converts timer ticks to wall time.
func TicksToDuration(ticks uint32) time.Duration {
	return time.Duration(ticks) * (time.Second / TimerFrequency)
}

// DurationToTicks converts wall time to timer ticks.
func DurationToTicks(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / (time.Second / TimerFrequency))
}

// Table performs lookups under a maximum rate and a minimum interval.
type Table struct {
	maxRate uint32
	floor   uint16
}

var defaultTable = NewTable(DefaultMaxStepFrequency, DefaultMinInterval)

// Default returns the table with the stock limits.
func Default() *Table {
	return defaultTable
}

// NewTable creates a table. maxRate is capped at MaxSupportedRate and a
// zero floor means DefaultMinInterval.
func NewTable(maxRate uint32, floor uint16) *Table {
	if maxRate == 0 || maxRate > MaxSupportedRate {
		maxRate = MaxSupportedRate
	}
	if floor == 0 {
		floor = DefaultMinInterval
	}
	return &Table{maxRate: maxRate, floor: floor}
}

// MaxRate returns the rate cap.
func (t *Table) MaxRate() uint32 { return t.maxRate }

// Floor returns the minimum interval in ticks.
func (t *Table) Floor() uint16 { return t.floor }

// Lookup returns the timer interval and step multiplicity for rate.
func (t *Table) Lookup(rate uint32) Interval {
	if rate > t.maxRate {
		rate = t.maxRate
	}
	iv := Interval{Loops: 1}
	switch {
	case rate > quadStepRate:
		rate >>= 2
		iv.Loops = 4
	case rate > doubleStepRate:
		rate >>= 1
		iv.Loops = 2
	}
	if rate < MinStepRate {
		rate = MinStepRate
	}
	rate -= MinStepRate

	if rate >= fastThreshold {
		e := fastTable[rate>>fastShift]
		frac := rate & (fastStep - 1)
		iv.Ticks = e.base - uint16((frac*uint32(e.gain)+fastStep/2)>>fastShift)
	} else {
		e := slowTable[rate>>slowShift]
		iv.Ticks = e.base - uint16((uint32(e.gain)*(rate&(slowStep-1)))>>slowShift)
	}

	if iv.Ticks < t.floor {
		iv.Ticks = t.floor
		iv.Clamped = true
	}
	return iv
}

// Lookup uses the default table.
func Lookup(rate uint32) Interval {
	return defaultTable.Lookup(rate)
}
