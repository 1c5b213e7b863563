// Step engine metric definitions
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"sync"
	"time"

	"stepcore/pkg/hal"
	"stepcore/pkg/segment"
	"stepcore/pkg/stepper"
)

// Source is the part of the stepper engine the metrics read.
type Source interface {
	Stats() stepper.Stats
	Positions() [segment.NumAxis]int32
	AxisPositionMM(axis segment.Axis) float64
}

// EngineMetrics holds the step engine's metric families.
type EngineMetrics struct {
	// Motion
	StepsTotal      *Counter
	SegmentsTotal   *Counter
	InvalidTotal    *Counter
	TicksTotal      *Counter
	StepRate        *Gauge
	StepRateSamples *Histogram
	Active          *Gauge
	Phase           *Gauge
	Position        *Gauge
	PositionMM      *Gauge

	// Queue
	QueueDepth    *Gauge
	QueueCapacity *Gauge

	// Faults
	ClampedTotal    *Counter
	EndstopHits     *Counter
	UnexpectedHits  *Counter
	QuickStopsTotal *Counter
	LateTotal       *Counter

	// Host
	Uptime       *Gauge
	GoGoroutines *Gauge
	GoHeapBytes  *Gauge

	startTime time.Time
	registry  *Registry
	mu        sync.Mutex
}

// NewEngineMetrics creates and registers the engine metrics.
func NewEngineMetrics() *EngineMetrics {
	m := &EngineMetrics{startTime: time.Now(), registry: NewRegistry()}

	m.StepsTotal = NewCounter("stepcore_steps_total", "Step pulses emitted per motor")
	m.SegmentsTotal = NewCounter("stepcore_segments_total", "Segments completed")
	m.InvalidTotal = NewCounter("stepcore_invalid_segments_total", "Segments dropped as invalid")
	m.TicksTotal = NewCounter("stepcore_ticks_total", "Interrupt ticks by kind")
	m.StepRate = NewGauge("stepcore_step_rate", "Current dominant axis step rate in steps/s")
	m.StepRateSamples = NewHistogram("stepcore_step_rate_samples",
		"Sampled step rates while moving", ExponentialBuckets(125, 2, 10))
	m.Active = NewGauge("stepcore_active", "1 while a segment is being traced")
	m.Phase = NewGauge("stepcore_phase", "Velocity phase (0=accelerating, 1=cruising, 2=decelerating)")
	m.Position = NewGauge("stepcore_position_steps", "Axis position in steps")
	m.PositionMM = NewGauge("stepcore_position_mm", "Carriage position in millimetres")

	m.QueueDepth = NewGauge("stepcore_queue_depth", "Segments waiting in the queue")
	m.QueueCapacity = NewGauge("stepcore_queue_capacity", "Queue capacity in segments")

	m.ClampedTotal = NewCounter("stepcore_clamped_intervals_total",
		"Intervals clamped to the timer floor")
	m.EndstopHits = NewCounter("stepcore_endstop_hits_total", "Endstop latches")
	m.UnexpectedHits = NewCounter("stepcore_unexpected_endstop_hits_total",
		"Endstop hits outside homing")
	m.QuickStopsTotal = NewCounter("stepcore_quick_stops_total", "Quick stops")
	m.LateTotal = NewCounter("stepcore_reactor_late_total",
		"Realtime dispatches that ran behind their deadline")

	m.Uptime = NewGauge("stepcore_uptime_seconds", "Seconds since start")
	m.GoGoroutines = NewGauge("stepcore_go_goroutines", "Active goroutines")
	m.GoHeapBytes = NewGauge("stepcore_go_heap_bytes", "Go heap in use")

	m.registry.MustRegister(
		m.StepsTotal, m.SegmentsTotal, m.InvalidTotal, m.TicksTotal,
		m.StepRate, m.StepRateSamples, m.Active, m.Phase, m.Position, m.PositionMM,
		m.QueueDepth, m.QueueCapacity,
		m.ClampedTotal, m.EndstopHits, m.UnexpectedHits, m.QuickStopsTotal, m.LateTotal,
		m.Uptime, m.GoGoroutines, m.GoHeapBytes,
	)
	return m
}

// Record mirrors an engine snapshot into the families.
func (m *EngineMetrics) Record(src Source) {
	st := src.Stats()
	pos := src.Positions()

	m.mu.Lock()
	defer m.mu.Unlock()

	for motor := hal.Motor(0); motor < hal.NumMotors; motor++ {
		if st.Steps[motor] > 0 {
			m.StepsTotal.Store(Labels{"motor": motor.String()}, st.Steps[motor])
		}
	}
	m.SegmentsTotal.Store(nil, st.Segments)
	m.InvalidTotal.Store(nil, st.InvalidSegments)
	m.TicksTotal.Store(Labels{"kind": "main"}, st.Ticks)
	m.TicksTotal.Store(Labels{"kind": "advance"}, st.AdvanceTicks)
	m.ClampedTotal.Store(nil, st.Clamped)
	m.EndstopHits.Store(nil, st.EndstopHits)
	m.UnexpectedHits.Store(nil, st.UnexpectedHits)
	m.QuickStopsTotal.Store(nil, st.QuickStops)

	m.StepRate.Set(nil, float64(st.Rate))
	if st.Active {
		m.StepRateSamples.Observe(nil, float64(st.Rate))
	}
	m.Active.SetBool(nil, st.Active)
	m.Phase.Set(nil, float64(st.Phase))
	m.QueueDepth.Set(nil, float64(st.QueueDepth))
	m.QueueCapacity.Set(nil, float64(st.QueueCapacity))

	for axis := segment.AxisX; axis < segment.NumAxis; axis++ {
		l := Labels{"axis": axis.String()}
		m.Position.Set(l, float64(pos[axis]))
		m.PositionMM.Set(l, src.AxisPositionMM(axis))
	}
}

// RecordLate mirrors the realtime reactor's late dispatch count.
func (m *EngineMetrics) RecordLate(total uint64) {
	m.LateTotal.Store(nil, total)
}

func (m *EngineMetrics) updateHost() {
	var ms goruntime.MemStats
	goruntime.ReadMemStats(&ms)
	m.Uptime.Set(nil, time.Since(m.startTime).Seconds())
	m.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	m.GoHeapBytes.Set(nil, float64(ms.HeapAlloc))
}

// Gather renders every family in Prometheus text format.
func (m *EngineMetrics) Gather() string {
	m.updateHost()
	return m.registry.Gather()
}

// Registry returns the underlying registry.
func (m *EngineMetrics) Registry() *Registry { return m.registry }
