// Package metrics provides the run-wide metrics registry.
//
// The registry stores four kinds of metrics, following the k6 model used by
// the chat load scripts:
//   - Counter: a monotonically accumulating total (ws_msgs_sent)
//   - Gauge: the last value set, with min and max (vus)
//   - Rate: the fraction of non-zero samples (http_req_failed, checks)
//   - Trend: a sample distribution with percentiles (http_req_duration)
//
// A Registry is created once per run and passed by reference to every
// component that records samples. There is no package-level default.
package metrics

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Type is the kind of a metric.
type Type string

const (
	Counter Type = "counter"
	Gauge   Type = "gauge"
	Rate    Type = "rate"
	Trend   Type = "trend"
)

// ValueType describes the unit of the samples a metric holds.
type ValueType string

const (
	// Default is a plain number.
	Default ValueType = "default"
	// Time samples are milliseconds.
	Time ValueType = "time"
	// Data samples are bytes.
	Data ValueType = "data"
)

var (
	// ErrSealed is returned for writes after the registry has been sealed.
	ErrSealed = errors.New("metrics registry is sealed")

	// ErrNegativeDelta is returned when a counter is decremented.
	ErrNegativeDelta = errors.New("counter delta must not be negative")

	// ErrEmptyName is returned when a metric is declared without a name.
	ErrEmptyName = errors.New("metric name must not be empty")

	// ErrUnsupportedStat is returned when a statistic does not apply to a metric type.
	ErrUnsupportedStat = errors.New("statistic not supported")
)

// TypeMismatchError is returned when a name is reused with a different metric type.
type TypeMismatchError struct {
	Name     string
	Existing Type
	Wanted   Type
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("metric %q is a %s, not a %s", e.Name, e.Existing, e.Wanted)
}

// Metric is a named metric held by a Registry.
type Metric struct {
	Name     string
	Type     Type
	Contains ValueType

	sink    sink
	samples atomic.Int64
}

func newMetric(name string, typ Type, contains ValueType, exactLimit int) *Metric {
	m := &Metric{Name: name, Type: typ, Contains: contains}
	switch typ {
	case Counter:
		m.sink = &counterSink{}
	case Gauge:
		m.sink = &gaugeSink{}
	case Rate:
		m.sink = &rateSink{}
	default:
		m.sink = newTrendSink(exactLimit)
	}
	return m
}

func validType(t Type) bool {
	switch t {
	case Counter, Gauge, Rate, Trend:
		return true
	}
	return false
}
