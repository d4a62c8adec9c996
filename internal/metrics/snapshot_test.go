package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentile_Exact(t *testing.T) {
	r := NewRegistry()
	// 19 fast samples, then 450 at rank 19 and 600 at rank 20
	for i := 0; i < 19; i++ {
		require.NoError(t, r.Record("http_req_duration", 100))
	}
	require.NoError(t, r.Record("http_req_duration", 600))
	require.NoError(t, r.Record("http_req_duration", 450))

	m, _ := r.Snapshot().Get("http_req_duration")
	assert.False(t, m.Approximate)

	p95, err := m.Stat("p(95)")
	require.NoError(t, err)
	assert.Equal(t, 450.0, p95)

	med, err := m.Stat("med")
	require.NoError(t, err)
	assert.Equal(t, 100.0, med)
}

func TestPercentile_Interpolates(t *testing.T) {
	tests := []struct {
		p    float64
		want float64
	}{
		{0, 10},
		{50, 55},
		{90, 91},
		{100, 100},
	}

	r := NewRegistry()
	for i := 1; i <= 10; i++ {
		require.NoError(t, r.Record("t", float64(i*10)))
	}
	m, _ := r.Snapshot().Get("t")

	for _, tt := range tests {
		assert.InDelta(t, tt.want, m.Percentile(tt.p), 1e-9, "p(%v)", tt.p)
	}
}

func TestTrend_SpillsToHistogram(t *testing.T) {
	r := NewRegistry(WithExactLimit(100))
	for i := 1; i <= 1000; i++ {
		require.NoError(t, r.Record("big", float64(i)))
	}

	m, _ := r.Snapshot().Get("big")
	require.True(t, m.Approximate)
	assert.Equal(t, int64(1000), m.Count)
	assert.Equal(t, 1.0, m.Min)
	assert.Equal(t, 1000.0, m.Max)

	p95 := m.Percentile(95)
	assert.InEpsilon(t, 950.0, p95, 0.01)
	assert.InDelta(t, 500.5, m.Avg(), 1e-9)
}

func TestRegistry_LiveReadsHistogram(t *testing.T) {
	r := NewRegistry()
	for i := 1; i <= 1000; i++ {
		require.NoError(t, r.Record("latency", float64(i)))
	}
	require.NoError(t, r.Increment("sent", 7))

	exact, _ := r.Snapshot().Get("latency")
	assert.False(t, exact.Approximate)
	assert.InDelta(t, 950.05, exact.Percentile(95), 1e-9)

	live, ok := r.Live().Get("latency")
	require.True(t, ok)
	assert.True(t, live.Approximate)
	assert.Equal(t, int64(1000), live.Count)
	assert.Equal(t, 1.0, live.Min)
	assert.Equal(t, 1000.0, live.Max)
	assert.InEpsilon(t, 950.0, live.Percentile(95), 0.01)
	assert.InEpsilon(t, 500.0, live.Percentile(50), 0.01)
	assert.Zero(t, live.Percentile(75))
	assert.Len(t, live.Values(), 8)

	sent, _ := r.Live().Get("sent")
	assert.Equal(t, 7.0, sent.Sum)
}

func TestTrend_ClampedSamplesAreCounted(t *testing.T) {
	r := NewRegistry(WithExactLimit(2))
	require.NoError(t, r.Record("queue_depth", -5))
	require.NoError(t, r.Record("queue_depth", 10))
	require.NoError(t, r.Record("queue_depth", 1e10))

	m, _ := r.Snapshot().Get("queue_depth")
	assert.True(t, m.Approximate)
	assert.Equal(t, int64(2), m.Clamped)
	assert.Equal(t, -5.0, m.Min)
	assert.Equal(t, 1e10, m.Max)

	require.NoError(t, r.Record("fine", 10))
	fine, _ := r.Snapshot().Get("fine")
	assert.Zero(t, fine.Clamped)
}

func TestStat_UnsupportedForType(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Increment("c", 1))
	m, _ := r.Snapshot().Get("c")

	_, err := m.Stat("p(95)")
	assert.ErrorIs(t, err, ErrUnsupportedStat)
}

func TestParsePercentile(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"p(95)", 95, true},
		{"p(99.9)", 99.9, true},
		{"p(0)", 0, true},
		{"p(101)", 0, false},
		{"p95", 0, false},
		{"p(abc)", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParsePercentile(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValues_DefaultKeys(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Record("t", 1))
	require.NoError(t, r.AddRate("checks", true))

	snap := r.Snapshot()

	trend, _ := snap.Get("t")
	values := trend.Values()
	for _, k := range []string{"avg", "min", "med", "max", "p(90)", "p(95)", "p(99)", "count"} {
		assert.Contains(t, values, k)
	}

	checks, _ := snap.Get("checks")
	assert.Equal(t, 1.0, checks.Values()["rate"])
	assert.Equal(t, []string{"checks", "t"}, snap.Names())
}
