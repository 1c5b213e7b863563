// Prometheus text-format metric families
//
// Counters, gauges and histograms keyed by label sets, collected in a
// Registry that renders the exposition format for scraping.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// MetricType is the family type written on the # TYPE line.
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	default:
		return "unknown"
	}
}

// Labels is one label set of a family.
type Labels map[string]string

func (l Labels) sortedKeys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Key returns a canonical key for the label set.
func (l Labels) Key() string {
	var sb strings.Builder
	for i, k := range l.sortedKeys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(l[k])
	}
	return sb.String()
}

// String renders the label set in exposition format, or "" when empty.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range l.sortedKeys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%s=\"%s\"", k, escapeLabel(l[k]))
	}
	sb.WriteByte('}')
	return sb.String()
}

// With returns a copy of l with key set to value.
func (l Labels) With(key, value string) Labels {
	out := make(Labels, len(l)+1)
	for k, v := range l {
		out[k] = v
	}
	out[key] = value
	return out
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabel(s string) string { return labelEscaper.Replace(s) }

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Metric is a family the registry can render.
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	Write(sb *strings.Builder)
}

// family holds the per-label-set series shared by every metric type.
type family[V any] struct {
	name, help string
	series     sync.Map // Labels.Key() -> *V
	newSeries  func(Labels) *V
}

func (f *family[V]) get(labels Labels) *V {
	key := labels.Key()
	if v, ok := f.series.Load(key); ok {
		return v.(*V)
	}
	v, _ := f.series.LoadOrStore(key, f.newSeries(labels))
	return v.(*V)
}

func (f *family[V]) lookup(labels Labels) (*V, bool) {
	v, ok := f.series.Load(labels.Key())
	if !ok {
		return nil, false
	}
	return v.(*V), true
}

// each visits the series in key order so output is stable.
func (f *family[V]) each(fn func(*V)) {
	var keys []string
	f.series.Range(func(k, _ interface{}) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)
	for _, k := range keys {
		if v, ok := f.series.Load(k); ok {
			fn(v.(*V))
		}
	}
}

func writeHeader(sb *strings.Builder, name, help string, t MetricType) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, t)
}

// Counter is a monotonically increasing value per label set.
type Counter struct {
	family[counterSeries]
}

type counterSeries struct {
	labels Labels
	value  atomic.Uint64
}

// NewCounter creates a counter family.
func NewCounter(name, help string) *Counter {
	c := &Counter{}
	c.name, c.help = name, help
	c.newSeries = func(l Labels) *counterSeries { return &counterSeries{labels: l} }
	return c
}

func (c *Counter) Name() string     { return c.name }
func (c *Counter) Help() string     { return c.help }
func (c *Counter) Type() MetricType { return TypeCounter }

// Inc adds one.
func (c *Counter) Inc(labels Labels) { c.Add(labels, 1) }

// Add adds delta.
func (c *Counter) Add(labels Labels, delta uint64) { c.get(labels).value.Add(delta) }

// Store mirrors a total counted elsewhere. A smaller value than the
// current one is ignored so the series never goes backwards.
func (c *Counter) Store(labels Labels, total uint64) {
	s := c.get(labels)
	for {
		cur := s.value.Load()
		if total <= cur || s.value.CompareAndSwap(cur, total) {
			return
		}
	}
}

// Get returns the value for labels.
func (c *Counter) Get(labels Labels) uint64 {
	if s, ok := c.lookup(labels); ok {
		return s.value.Load()
	}
	return 0
}

func (c *Counter) Write(sb *strings.Builder) {
	writeHeader(sb, c.name, c.help, TypeCounter)
	c.each(func(s *counterSeries) {
		fmt.Fprintf(sb, "%s%s %d\n", c.name, s.labels, s.value.Load())
	})
}

// Gauge is a value that can go up and down per label set.
type Gauge struct {
	family[gaugeSeries]
}

type gaugeSeries struct {
	labels Labels
	mu     sync.Mutex
	value  float64
}

// NewGauge creates a gauge family.
func NewGauge(name, help string) *Gauge {
	g := &Gauge{}
	g.name, g.help = name, help
	g.newSeries = func(l Labels) *gaugeSeries { return &gaugeSeries{labels: l} }
	return g
}

func (g *Gauge) Name() string     { return g.name }
func (g *Gauge) Help() string     { return g.help }
func (g *Gauge) Type() MetricType { return TypeGauge }

// Set sets the value.
func (g *Gauge) Set(labels Labels, v float64) {
	s := g.get(labels)
	s.mu.Lock()
	s.value = v
	s.mu.Unlock()
}

// Add adds delta, which may be negative.
func (g *Gauge) Add(labels Labels, delta float64) {
	s := g.get(labels)
	s.mu.Lock()
	s.value += delta
	s.mu.Unlock()
}

// SetBool sets 1 for true and 0 for false.
func (g *Gauge) SetBool(labels Labels, b bool) {
	v := 0.0
	if b {
		v = 1
	}
	g.Set(labels, v)
}

// Get returns the value for labels.
func (g *Gauge) Get(labels Labels) float64 {
	s, ok := g.lookup(labels)
	if !ok {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

func (g *Gauge) Write(sb *strings.Builder) {
	writeHeader(sb, g.name, g.help, TypeGauge)
	g.each(func(s *gaugeSeries) {
		s.mu.Lock()
		v := s.value
		s.mu.Unlock()
		fmt.Fprintf(sb, "%s%s %s\n", g.name, s.labels, formatFloat(v))
	})
}

// Histogram counts observations into cumulative buckets per label set.
type Histogram struct {
	family[histogramSeries]
	bounds []float64
}

type histogramSeries struct {
	labels Labels
	mu     sync.Mutex
	count  uint64
	sum    float64
	counts []uint64
}

// NewHistogram creates a histogram family with the given upper bounds.
func NewHistogram(name, help string, bounds []float64) *Histogram {
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	h := &Histogram{bounds: sorted}
	h.name, h.help = name, help
	h.newSeries = func(l Labels) *histogramSeries {
		return &histogramSeries{labels: l, counts: make([]uint64, len(sorted))}
	}
	return h
}

// LinearBuckets returns count bounds from start, width apart.
func LinearBuckets(start, width float64, count int) []float64 {
	b := make([]float64, count)
	for i := range b {
		b[i] = start + float64(i)*width
	}
	return b
}

// ExponentialBuckets returns count bounds from start, each factor times
// the previous.
func ExponentialBuckets(start, factor float64, count int) []float64 {
	b := make([]float64, count)
	for i := range b {
		b[i] = start
		start *= factor
	}
	return b
}

func (h *Histogram) Name() string     { return h.name }
func (h *Histogram) Help() string     { return h.help }
func (h *Histogram) Type() MetricType { return TypeHistogram }

// Observe records v.
func (h *Histogram) Observe(labels Labels, v float64) {
	s := h.get(labels)
	i := sort.SearchFloat64s(h.bounds, v)
	s.mu.Lock()
	s.count++
	s.sum += v
	if i < len(s.counts) {
		s.counts[i]++
	}
	s.mu.Unlock()
}

// HistogramSnapshot is a copy of one series with cumulative buckets.
type HistogramSnapshot struct {
	Count   uint64
	Sum     float64
	Buckets map[float64]uint64
}

// Snapshot returns the series for labels.
func (h *Histogram) Snapshot(labels Labels) HistogramSnapshot {
	snap := HistogramSnapshot{Buckets: make(map[float64]uint64, len(h.bounds))}
	s, ok := h.lookup(labels)
	if !ok {
		return snap
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var cum uint64
	for i, b := range h.bounds {
		cum += s.counts[i]
		snap.Buckets[b] = cum
	}
	snap.Count, snap.Sum = s.count, s.sum
	return snap
}

func (h *Histogram) Write(sb *strings.Builder) {
	writeHeader(sb, h.name, h.help, TypeHistogram)
	h.each(func(s *histogramSeries) {
		snap := h.Snapshot(s.labels)
		for _, b := range h.bounds {
			fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, s.labels.With("le", formatFloat(b)), snap.Buckets[b])
		}
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.name, s.labels.With("le", "+Inf"), snap.Count)
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.name, s.labels, formatFloat(snap.Sum))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.name, s.labels, snap.Count)
	})
}

// Registry renders a set of families in registration order.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]Metric)}
}

// Register adds a family. Names must be unique.
func (r *Registry) Register(m Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.metrics[m.Name()]; dup {
		return fmt.Errorf("metric %q already registered", m.Name())
	}
	r.metrics[m.Name()] = m
	r.order = append(r.order, m.Name())
	return nil
}

// MustRegister is Register that panics on a duplicate.
func (r *Registry) MustRegister(ms ...Metric) {
	for _, m := range ms {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
}

// Get returns a family by name.
func (r *Registry) Get(name string) Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// Gather renders every family.
func (r *Registry) Gather() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sb strings.Builder
	for _, name := range r.order {
		r.metrics[name].Write(&sb)
	}
	return sb.String()
}
