package stepper

import (
	stderrors "errors"
	"fmt"

	"stepcore/pkg/errors"
	"stepcore/pkg/hal"
	"stepcore/pkg/kinematics"
	"stepcore/pkg/log"
	"stepcore/pkg/segment"
	"stepcore/pkg/trapezoid"
)

// Stats is a snapshot of the engine's counters.
type Stats struct {
	Active          bool
	Cleaning        bool
	Ticks           uint64
	AdvanceTicks    uint64
	IdleTicks       uint64
	Steps           [hal.NumMotors]uint64
	Segments        uint64
	InvalidSegments uint64
	Clamped         uint64
	EndstopHits     uint64
	UnexpectedHits  uint64
	QuickStops      uint64
	QueueDepth      int
	QueueCapacity   int
	Rate            uint32
	Phase           trapezoid.Phase
}

// Stats reads the counters without masking the interrupt.
func (e *Engine) Stats() Stats {
	s := Stats{
		Active:          e.stats.active.Load(),
		Cleaning:        e.stats.cleaning.Load(),
		Ticks:           e.stats.ticks.Load(),
		AdvanceTicks:    e.stats.advanceTicks.Load(),
		IdleTicks:       e.stats.idleTicks.Load(),
		Segments:        e.stats.segments.Load(),
		InvalidSegments: e.stats.invalid.Load(),
		Clamped:         e.stats.clamped.Load(),
		EndstopHits:     e.stats.endstopHits.Load(),
		UnexpectedHits:  e.stats.unexpected.Load(),
		QuickStops:      e.stats.quickStops.Load(),
		QueueDepth:      e.queue.Len(),
		QueueCapacity:   e.queue.Cap(),
		Rate:            e.stats.rate.Load(),
		Phase:           trapezoid.Phase(e.stats.phase.Load()),
	}
	for m := range s.Steps {
		s.Steps[m] = e.stats.steps[m].Load()
	}
	return s
}

// Status returns a JSON-friendly description of the engine.
func (e *Engine) Status() map[string]interface{} {
	st := e.Stats()
	pos := e.Positions()
	position := make(map[string]interface{}, segment.NumAxis)
	positionMM := make(map[string]interface{}, segment.NumAxis)
	for axis := segment.AxisX; axis < segment.NumAxis; axis++ {
		position[axis.String()] = pos[axis]
		positionMM[axis.String()] = e.AxisPositionMM(axis)
	}
	steps := make(map[string]interface{}, hal.NumMotors)
	for m := hal.Motor(0); m < hal.NumMotors; m++ {
		if st.Steps[m] > 0 {
			steps[m.String()] = st.Steps[m]
		}
	}
	endstops := make([]interface{}, 0, 3)
	for _, es := range e.EndstopStatus() {
		endstops = append(endstops, map[string]interface{}{
			"axis":      es.Axis,
			"state":     es.State,
			"triggered": es.Triggered,
			"steps":     es.Steps,
		})
	}
	status := map[string]interface{}{
		"active":           st.Active,
		"cleaning":         st.Cleaning,
		"phase":            st.Phase.String(),
		"step_rate":        st.Rate,
		"queue_depth":      st.QueueDepth,
		"queue_capacity":   st.QueueCapacity,
		"segments":         st.Segments,
		"invalid_segments": st.InvalidSegments,
		"clamped":          st.Clamped,
		"endstop_hits":     st.EndstopHits,
		"unexpected_hits":  st.UnexpectedHits,
		"quick_stops":      st.QuickStops,
		"idle_ticks":       st.IdleTicks,
		"position":         position,
		"position_mm":      positionMM,
		"steps":            steps,
		"endstops":         endstops,
	}
	for k, v := range kinematics.Status(e.kin) {
		status[k] = v
	}
	return status
}

// Service drains the interrupt's diagnostics: it logs clamped step rates,
// unexpected endstop hits and dropped segments, and performs the quick
// stop an endstop hit requested. Call it periodically from the
// foreground. The returned error joins everything reported.
func (e *Engine) Service() error {
	e.serviceMu.Lock()
	defer e.serviceMu.Unlock()

	var errs []error
	if n := e.stats.clamped.Load(); n != e.seen.clamped {
		err := errors.CapabilityExceeded(e.stats.clampedRate.Load(), e.table.Floor()).
			SetContext("ticks", n-e.seen.clamped)
		e.log.WithFields(log.Fields{
			"rate":  e.stats.clampedRate.Load(),
			"floor": e.table.Floor(),
			"ticks": n - e.seen.clamped,
		}).Warn("step rate exceeds timer capability, interval clamped")
		e.seen.clamped = n
		errs = append(errs, err)
	}
	if n := e.stats.unexpected.Load(); n != e.seen.unexpected {
		axis := segment.Axis(e.stats.lastHitAxis.Load())
		steps := e.stats.lastHitSteps.Load()
		err := errors.UnexpectedEndstop(axis.String(), steps).SetContext("hits", n-e.seen.unexpected)
		e.log.WithFields(log.Fields{"axis": axis.String(), "steps": steps}).Warn("endstop hit outside homing")
		e.seen.unexpected = n
		errs = append(errs, err)
	}
	if n := e.stats.invalid.Load(); n != e.seen.invalid {
		err := errors.InvalidSegment(fmt.Sprintf("%d segments dropped", n-e.seen.invalid))
		e.log.Warn("dropped %d invalid segments", n-e.seen.invalid)
		e.seen.invalid = n
		errs = append(errs, err)
	}
	if e.stats.abortPending.Swap(false) {
		e.QuickStop()
		errs = append(errs, errors.New(errors.ErrAbort, "motion aborted on endstop hit"))
	}
	return stderrors.Join(errs...)
}
