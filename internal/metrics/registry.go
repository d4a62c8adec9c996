package metrics

import (
	"fmt"
	"sync"
	"time"
)

// Registry accumulates named metrics for one run.
//
// # Thread Safety
//
// Registry is safe for concurrent use by any number of writers. Counter and
// rate updates are lock-free, gauges and trends lock only their own sink.
// Writers share the registry lock in read mode, so Seal waits for in-flight
// writes and no write lands after it returns.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*Metric

	sealed   bool
	sealedAt time.Time
	start    time.Time

	now        func() time.Time
	exactLimit int
}

// Option configures a Registry.
type Option func(*Registry)

// WithExactLimit sets how many samples a trend keeps before it switches to
// a histogram.
func WithExactLimit(n int) Option {
	return func(r *Registry) {
		r.exactLimit = n
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates an empty registry whose clock starts now.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		metrics:    make(map[string]*Metric),
		now:        time.Now,
		exactLimit: DefaultExactLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.start = r.now()
	return r
}

// MarkStart resets the reference time used for counter rates.
func (r *Registry) MarkStart() {
	r.mu.Lock()
	r.start = r.now()
	r.mu.Unlock()
}

// Declare returns the metric with the given name, creating it if needed.
// Declaring an existing name with a different type fails with
// *TypeMismatchError.
func (r *Registry) Declare(name string, typ Type, contains ValueType) (*Metric, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if !validType(typ) {
		return nil, fmt.Errorf("metric %q: unknown type %q", name, typ)
	}
	if contains == "" {
		contains = Default
	}

	r.mu.RLock()
	m, ok := r.metrics[name]
	r.mu.RUnlock()
	if !ok {
		r.mu.Lock()
		m, ok = r.metrics[name]
		if !ok {
			m = newMetric(name, typ, contains, r.exactLimit)
			r.metrics[name] = m
		}
		r.mu.Unlock()
	}

	if m.Type != typ {
		return nil, &TypeMismatchError{Name: name, Existing: m.Type, Wanted: typ}
	}
	return m, nil
}

// Increment adds delta to a counter, creating it at zero on first use.
func (r *Registry) Increment(name string, delta float64) error {
	if delta < 0 {
		return ErrNegativeDelta
	}
	return r.write(name, Counter, Default, delta)
}

// Record appends a sample to a trend, creating it on first use.
func (r *Registry) Record(name string, value float64) error {
	return r.write(name, Trend, Default, value)
}

// RecordDuration appends d, in milliseconds, to a time trend.
func (r *Registry) RecordDuration(name string, d time.Duration) error {
	return r.write(name, Trend, Time, durationMillis(d))
}

// AddRate records one boolean sample on a rate metric.
func (r *Registry) AddRate(name string, ok bool) error {
	v := 0.0
	if ok {
		v = 1
	}
	return r.write(name, Rate, Default, v)
}

// SetGauge sets the current value of a gauge.
func (r *Registry) SetGauge(name string, value float64) error {
	return r.write(name, Gauge, Default, value)
}

func (r *Registry) write(name string, typ Type, contains ValueType, v float64) error {
	for {
		r.mu.RLock()
		if r.sealed {
			r.mu.RUnlock()
			return ErrSealed
		}
		m, ok := r.metrics[name]
		if ok {
			if m.Type != typ {
				r.mu.RUnlock()
				return &TypeMismatchError{Name: name, Existing: m.Type, Wanted: typ}
			}
			m.sink.add(v)
			m.samples.Add(1)
			r.mu.RUnlock()
			return nil
		}
		r.mu.RUnlock()

		if _, err := r.Declare(name, typ, contains); err != nil {
			return err
		}
	}
}

// add writes to an already declared metric.
func (r *Registry) add(m *Metric, v float64) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.sealed {
		return ErrSealed
	}
	m.sink.add(v)
	m.samples.Add(1)
	return nil
}

// Seal makes the registry read-only. It is idempotent.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.sealed {
		r.sealed = true
		r.sealedAt = r.now()
	}
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Snapshot copies every metric that has received at least one sample.
// Declared but never written metrics are left out of Metrics, so callers
// can tell "never recorded" apart from "recorded as zero". Counters and
// rates among them are still reachable through Snapshot.Declared.
func (r *Registry) Snapshot() *Snapshot {
	return r.snapshot(sink.fill)
}

// Live is a cheap Snapshot for progress displays and scrapes taken while
// the run is going. Trends carry count, sum, min, max and the summary
// percentiles from their histogram; exact samples are neither copied nor
// sorted, and every trend is marked Approximate.
func (r *Registry) Live() *Snapshot {
	return r.snapshot(sink.peek)
}

func (r *Registry) snapshot(read func(sink, *MetricSnapshot)) *Snapshot {
	r.mu.RLock()
	taken := r.now()
	end := taken
	if r.sealed {
		end = r.sealedAt
	}
	elapsed := end.Sub(r.start)
	all := make([]*Metric, 0, len(r.metrics))
	for _, m := range r.metrics {
		all = append(all, m)
	}
	r.mu.RUnlock()

	// Sinks are read outside the registry lock; each guards itself.
	snap := &Snapshot{
		Taken:   taken,
		Elapsed: elapsed,
		Metrics: make(map[string]*MetricSnapshot, len(all)),
	}
	for _, m := range all {
		samples := m.samples.Load()
		if samples == 0 {
			if m.Type == Counter || m.Type == Rate {
				if snap.declared == nil {
					snap.declared = make(map[string]*MetricSnapshot)
				}
				snap.declared[m.Name] = &MetricSnapshot{
					Name:     m.Name,
					Type:     m.Type,
					Contains: m.Contains,
					elapsed:  elapsed,
				}
			}
			continue
		}
		ms := &MetricSnapshot{
			Name:     m.Name,
			Type:     m.Type,
			Contains: m.Contains,
			Samples:  samples,
			elapsed:  elapsed,
		}
		read(m.sink, ms)
		snap.Metrics[m.Name] = ms
	}
	return snap
}

func durationMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
