package metrics

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Snapshot is an immutable view of every recorded metric at one instant.
type Snapshot struct {
	Taken   time.Time                  `json:"taken"`
	Elapsed time.Duration              `json:"elapsed"`
	Metrics map[string]*MetricSnapshot `json:"metrics"`

	// declared holds counters and rates that exist but have no samples.
	declared map[string]*MetricSnapshot
}

// Get returns the named metric and whether it has been recorded.
func (s *Snapshot) Get(name string) (*MetricSnapshot, bool) {
	m, ok := s.Metrics[name]
	return m, ok
}

// Declared returns the zero-valued view of a counter or rate that was
// declared but never written. Recorded metrics are not returned here.
func (s *Snapshot) Declared(name string) (*MetricSnapshot, bool) {
	m, ok := s.declared[name]
	return m, ok
}

// Names returns the recorded metric names in lexical order.
func (s *Snapshot) Names() []string {
	names := make([]string, 0, len(s.Metrics))
	for name := range s.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MetricSnapshot holds the aggregated state of one metric.
//
// Which fields are meaningful depends on Type:
//   - Counter: Sum (Value mirrors it)
//   - Gauge: Value, Min, Max
//   - Rate: Value (the rate), Passes, Fails, Count
//   - Trend: Count, Sum, Min, Max and the percentile data
type MetricSnapshot struct {
	Name     string    `json:"name"`
	Type     Type      `json:"type"`
	Contains ValueType `json:"contains"`

	// Samples is the number of writes the metric received.
	Samples int64 `json:"samples"`

	Count  int64   `json:"count,omitempty"`
	Sum    float64 `json:"sum,omitempty"`
	Value  float64 `json:"value"`
	Min    float64 `json:"min,omitempty"`
	Max    float64 `json:"max,omitempty"`
	Passes int64   `json:"passes,omitempty"`
	Fails  int64   `json:"fails,omitempty"`

	// Approximate is set when trend percentiles come from a histogram
	// rather than the exact sample set. The relative error is at most
	// MaxRelativeError.
	Approximate bool `json:"approximate,omitempty"`

	// Clamped counts trend samples outside the histogram range, below 0 or
	// above one hour in milliseconds. They are recorded at the nearest
	// bound, so MaxRelativeError does not hold for them. Count, Sum, Min
	// and Max always use the unclamped values.
	Clamped int64 `json:"clamped,omitempty"`

	elapsed   time.Duration
	sorted    []float64
	hist      *hdrhistogram.Histogram
	quantiles map[float64]float64
}

// MaxRelativeError bounds the error of approximate trend percentiles.
const MaxRelativeError = histMaxError

// liveQuantiles are the trend percentiles a live view carries.
var liveQuantiles = []float64{50, 90, 95, 99}

// Avg returns the arithmetic mean of a trend.
func (m *MetricSnapshot) Avg() float64 {
	if m.Count == 0 {
		return 0
	}
	return m.Sum / float64(m.Count)
}

// Percentile returns the p-th percentile (0-100) of a trend. Exact trends
// interpolate linearly between the closest ranks. Live views only know the
// percentiles in liveQuantiles and return 0 for any other.
func (m *MetricSnapshot) Percentile(p float64) float64 {
	if m.quantiles != nil {
		v, ok := m.quantiles[p]
		if !ok {
			return 0
		}
		return math.Min(math.Max(v, m.Min), m.Max)
	}
	if m.hist != nil {
		return float64(m.hist.ValueAtQuantile(p)) / histScale
	}
	return percentile(m.sorted, p)
}

func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[n-1]
	}

	rank := p * float64(n-1) / 100
	lo := int(math.Floor(rank))
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Stat resolves a named statistic for this metric.
//
// Supported keys by type:
//   - counter: count, rate
//   - gauge: value, min, max
//   - rate: rate, passes, fails
//   - trend: count, avg, min, med, max, p(N)
func (m *MetricSnapshot) Stat(key string) (float64, error) {
	switch m.Type {
	case Counter:
		switch key {
		case "count":
			return m.Sum, nil
		case "rate":
			if m.elapsed <= 0 {
				return 0, nil
			}
			return m.Sum / m.elapsed.Seconds(), nil
		}
	case Gauge:
		switch key {
		case "value":
			return m.Value, nil
		case "min":
			return m.Min, nil
		case "max":
			return m.Max, nil
		}
	case Rate:
		switch key {
		case "rate":
			return m.Value, nil
		case "passes":
			return float64(m.Passes), nil
		case "fails":
			return float64(m.Fails), nil
		}
	case Trend:
		switch key {
		case "count":
			return float64(m.Count), nil
		case "avg":
			return m.Avg(), nil
		case "min":
			return m.Min, nil
		case "max":
			return m.Max, nil
		case "med":
			return m.Percentile(50), nil
		}
		if p, ok := ParsePercentile(key); ok {
			return m.Percentile(p), nil
		}
	}
	return 0, fmt.Errorf("%w: %q for %s metric %q", ErrUnsupportedStat, key, m.Type, m.Name)
}

// ParsePercentile parses "p(95)" or "p(99.9)" into 95 and 99.9.
func ParsePercentile(key string) (float64, bool) {
	if !strings.HasPrefix(key, "p(") || !strings.HasSuffix(key, ")") {
		return 0, false
	}
	p, err := strconv.ParseFloat(key[2:len(key)-1], 64)
	if err != nil || p < 0 || p > 100 {
		return 0, false
	}
	return p, true
}

// StatKeys returns the statistics reported in summaries for this metric type.
func (m *MetricSnapshot) StatKeys() []string {
	switch m.Type {
	case Counter:
		return []string{"count", "rate"}
	case Gauge:
		return []string{"value", "min", "max"}
	case Rate:
		return []string{"rate", "passes", "fails"}
	default:
		return []string{"avg", "min", "med", "max", "p(90)", "p(95)", "p(99)", "count"}
	}
}

// Values returns the summary statistics keyed by StatKeys.
func (m *MetricSnapshot) Values() map[string]float64 {
	keys := m.StatKeys()
	values := make(map[string]float64, len(keys))
	for _, k := range keys {
		v, err := m.Stat(k)
		if err == nil {
			values[k] = v
		}
	}
	return values
}
