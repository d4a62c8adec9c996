package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	// DefaultExactLimit is the number of trend samples kept verbatim before
	// the trend spills into a histogram.
	DefaultExactLimit = 1_000_000

	// Histogram values are stored in thousandths of the sample unit.
	histScale = 1000
	// 1 hour expressed in thousandths of a millisecond.
	histMax      = 3_600_000 * histScale
	histSigFigs  = 3
	histLowest   = 1
	histMaxError = 0.001
)

type sink interface {
	add(v float64)
	fill(ms *MetricSnapshot)
	// peek is fill without the expensive parts, for live views.
	peek(ms *MetricSnapshot)
}

// counterSink adds floats lock-free by swapping the bit pattern.
type counterSink struct {
	bits atomic.Uint64
}

func (c *counterSink) add(v float64) {
	for {
		old := c.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + v)
		if c.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (c *counterSink) fill(ms *MetricSnapshot) {
	ms.Sum = math.Float64frombits(c.bits.Load())
	ms.Value = ms.Sum
}

func (c *counterSink) peek(ms *MetricSnapshot) { c.fill(ms) }

type gaugeSink struct {
	mu       sync.Mutex
	value    float64
	min, max float64
	set      bool
}

func (g *gaugeSink) add(v float64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.value = v
	if !g.set || v < g.min {
		g.min = v
	}
	if !g.set || v > g.max {
		g.max = v
	}
	g.set = true
}

func (g *gaugeSink) fill(ms *MetricSnapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms.Value = g.value
	ms.Min = g.min
	ms.Max = g.max
}

func (g *gaugeSink) peek(ms *MetricSnapshot) { g.fill(ms) }

type rateSink struct {
	trues atomic.Int64
	total atomic.Int64
}

func (r *rateSink) add(v float64) {
	if v != 0 {
		r.trues.Add(1)
	}
	r.total.Add(1)
}

func (r *rateSink) fill(ms *MetricSnapshot) {
	// total is read first so passes never exceeds the count we report
	total := r.total.Load()
	trues := r.trues.Load()
	if trues > total {
		trues = total
	}
	ms.Passes = trues
	ms.Fails = total - trues
	ms.Count = total
	if total > 0 {
		ms.Value = float64(trues) / float64(total)
	}
}

func (r *rateSink) peek(ms *MetricSnapshot) { r.fill(ms) }

// trendSink keeps every sample until exactLimit is reached, then drops
// them and keeps only its HDR histogram. The histogram is fed from the
// first sample on, so live views never need the exact set. Percentiles read
// from the histogram are approximate within histMaxError.
type trendSink struct {
	mu         sync.Mutex
	exactLimit int

	samples []float64
	spilled bool
	hist    *hdrhistogram.Histogram
	clamped int64

	count    int64
	sum      float64
	min, max float64
}

func newTrendSink(exactLimit int) *trendSink {
	if exactLimit <= 0 {
		exactLimit = DefaultExactLimit
	}
	return &trendSink{exactLimit: exactLimit}
}

func (t *trendSink) add(v float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.count == 0 || v < t.min {
		t.min = v
	}
	if t.count == 0 || v > t.max {
		t.max = v
	}
	t.count++
	t.sum += v

	if t.hist == nil {
		t.hist = hdrhistogram.New(histLowest, histMax, histSigFigs)
	}
	if !recordHist(t.hist, v) {
		t.clamped++
	}

	if t.spilled {
		return
	}
	if len(t.samples) < t.exactLimit {
		t.samples = append(t.samples, v)
		return
	}
	t.samples = nil
	t.spilled = true
}

// recordHist records v and reports whether it fit the trackable range
// without clamping.
func recordHist(h *hdrhistogram.Histogram, v float64) bool {
	scaled := int64(math.Round(v * histScale))
	fits := true
	if scaled < 0 {
		scaled, fits = 0, false
	}
	if scaled > histMax {
		scaled, fits = histMax, false
	}
	// Cannot fail once clamped to the trackable range
	_ = h.RecordValue(scaled)
	return fits
}

func (t *trendSink) fill(ms *MetricSnapshot) {
	t.mu.Lock()
	t.fillTotals(ms)
	var samples []float64
	if t.spilled {
		ms.hist = hdrhistogram.Import(t.hist.Export())
		ms.Approximate = true
	} else {
		samples = make([]float64, len(t.samples))
		copy(samples, t.samples)
	}
	t.mu.Unlock()

	sort.Float64s(samples)
	ms.sorted = samples
}

// peek reads the summary percentiles straight from the histogram, so it
// neither copies nor sorts the exact samples.
func (t *trendSink) peek(ms *MetricSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.fillTotals(ms)
	ms.Approximate = true
	if t.hist == nil {
		return
	}
	ms.quantiles = make(map[float64]float64, len(liveQuantiles))
	for _, q := range liveQuantiles {
		ms.quantiles[q] = float64(t.hist.ValueAtQuantile(q)) / histScale
	}
}

func (t *trendSink) fillTotals(ms *MetricSnapshot) {
	ms.Count = t.count
	ms.Sum = t.sum
	ms.Min = t.min
	ms.Max = t.max
	ms.Clamped = t.clamped
}
