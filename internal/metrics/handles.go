package metrics

import "time"

// CounterMetric is a handle to a declared counter.
type CounterMetric struct {
	r *Registry
	m *Metric
}

// Add increments the counter by delta.
func (c *CounterMetric) Add(delta float64) error {
	if delta < 0 {
		return ErrNegativeDelta
	}
	return c.r.add(c.m, delta)
}

// Inc increments the counter by one.
func (c *CounterMetric) Inc() error {
	return c.r.add(c.m, 1)
}

// Name returns the metric name.
func (c *CounterMetric) Name() string { return c.m.Name }

// TrendMetric is a handle to a declared trend.
type TrendMetric struct {
	r *Registry
	m *Metric
}

// Add records one sample.
func (t *TrendMetric) Add(v float64) error {
	return t.r.add(t.m, v)
}

// AddDuration records d in milliseconds.
func (t *TrendMetric) AddDuration(d time.Duration) error {
	return t.r.add(t.m, durationMillis(d))
}

// Name returns the metric name.
func (t *TrendMetric) Name() string { return t.m.Name }

// RateMetric is a handle to a declared rate.
type RateMetric struct {
	r *Registry
	m *Metric
}

// Add records one boolean sample.
func (r *RateMetric) Add(ok bool) error {
	v := 0.0
	if ok {
		v = 1
	}
	return r.r.add(r.m, v)
}

// Name returns the metric name.
func (r *RateMetric) Name() string { return r.m.Name }

// GaugeMetric is a handle to a declared gauge.
type GaugeMetric struct {
	r *Registry
	m *Metric
}

// Set stores the current value.
func (g *GaugeMetric) Set(v float64) error {
	return g.r.add(g.m, v)
}

// Name returns the metric name.
func (g *GaugeMetric) Name() string { return g.m.Name }

// Counter declares a counter and returns a handle to it.
func (r *Registry) Counter(name string, contains ValueType) (*CounterMetric, error) {
	m, err := r.Declare(name, Counter, contains)
	if err != nil {
		return nil, err
	}
	return &CounterMetric{r: r, m: m}, nil
}

// Trend declares a trend and returns a handle to it.
func (r *Registry) Trend(name string, contains ValueType) (*TrendMetric, error) {
	m, err := r.Declare(name, Trend, contains)
	if err != nil {
		return nil, err
	}
	return &TrendMetric{r: r, m: m}, nil
}

// Rate declares a rate and returns a handle to it.
func (r *Registry) Rate(name string) (*RateMetric, error) {
	m, err := r.Declare(name, Rate, Default)
	if err != nil {
		return nil, err
	}
	return &RateMetric{r: r, m: m}, nil
}

// Gauge declares a gauge and returns a handle to it.
func (r *Registry) Gauge(name string) (*GaugeMetric, error) {
	m, err := r.Declare(name, Gauge, Default)
	if err != nil {
		return nil, err
	}
	return &GaugeMetric{r: r, m: m}, nil
}

// Must panics if err is non-nil. It is meant for declaring metrics once at
// construction time, where a type clash is a programming error.
func Must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
