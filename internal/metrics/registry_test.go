package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_IncrementCreatesCounter(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Increment("ws_msgs_sent", 1))
	require.NoError(t, r.Increment("ws_msgs_sent", 2))

	snap := r.Snapshot()
	m, ok := snap.Get("ws_msgs_sent")
	require.True(t, ok)
	assert.Equal(t, Counter, m.Type)

	count, err := m.Stat("count")
	require.NoError(t, err)
	assert.Equal(t, 3.0, count)
}

func TestRegistry_ConcurrentIncrementsAreNotLost(t *testing.T) {
	const (
		workers = 64
		perWork = 1000
	)
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWork; j++ {
				_ = r.Increment("iterations", 1)
			}
		}()
	}
	wg.Wait()

	m, ok := r.Snapshot().Get("iterations")
	require.True(t, ok)
	assert.Equal(t, float64(workers*perWork), m.Sum)
	assert.Equal(t, int64(workers*perWork), m.Samples)
}

func TestRegistry_ConcurrentTrendWrites(t *testing.T) {
	r := NewRegistry()
	trend := Must(r.Trend("latency", Time))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				_ = trend.Add(float64(j))
			}
		}()
	}
	wg.Wait()

	m, _ := r.Snapshot().Get("latency")
	assert.Equal(t, int64(16*500), m.Count)
	assert.Equal(t, 0.0, m.Min)
	assert.Equal(t, 499.0, m.Max)
}

func TestRegistry_NegativeCounterDelta(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.Increment("c", -1), ErrNegativeDelta)
}

func TestRegistry_TypeMismatch(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Increment("x", 1))

	err := r.Record("x", 5)
	var mismatch *TypeMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, Counter, mismatch.Existing)
	assert.Equal(t, Trend, mismatch.Wanted)

	_, err = r.Trend("x", Default)
	assert.Error(t, err)
}

func TestRegistry_DeclaredButUnrecordedIsAbsent(t *testing.T) {
	r := NewRegistry()
	_ = Must(r.Counter("never_written", Default))

	_, ok := r.Snapshot().Get("never_written")
	assert.False(t, ok)

	zero, ok := r.Snapshot().Declared("never_written")
	require.True(t, ok)
	count, err := zero.Stat("count")
	require.NoError(t, err)
	assert.Equal(t, 0.0, count)

	_ = Must(r.Trend("never_timed", Time))
	_, ok = r.Snapshot().Declared("never_timed")
	assert.False(t, ok)

	require.NoError(t, r.Increment("written_zero", 0))
	m, ok := r.Snapshot().Get("written_zero")
	require.True(t, ok)
	assert.Equal(t, 0.0, m.Sum)
}

func TestRegistry_Seal(t *testing.T) {
	r := NewRegistry()
	c := Must(r.Counter("c", Default))
	require.NoError(t, c.Inc())

	r.Seal()
	r.Seal()
	assert.True(t, r.Sealed())

	assert.ErrorIs(t, c.Inc(), ErrSealed)
	assert.ErrorIs(t, r.Increment("c", 1), ErrSealed)
	assert.ErrorIs(t, r.Record("other", 1), ErrSealed)

	m, _ := r.Snapshot().Get("c")
	assert.Equal(t, 1.0, m.Sum)
}

func TestRegistry_CounterRateUsesSealTime(t *testing.T) {
	now := time.Unix(0, 0)
	r := NewRegistry(WithClock(func() time.Time { return now }))

	require.NoError(t, r.Increment("reqs", 100))
	now = now.Add(10 * time.Second)
	r.Seal()
	now = now.Add(time.Hour)

	m, _ := r.Snapshot().Get("reqs")
	rate, err := m.Stat("rate")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, rate, 1e-9)
}

func TestRegistry_SnapshotIsImmutable(t *testing.T) {
	r := NewRegistry()
	for i := 1; i <= 10; i++ {
		require.NoError(t, r.Record("t", float64(i)))
	}

	snap := r.Snapshot()
	for i := 0; i < 100; i++ {
		require.NoError(t, r.Record("t", 1000))
	}

	m, _ := snap.Get("t")
	assert.Equal(t, int64(10), m.Count)
	assert.Equal(t, 10.0, m.Max)
	assert.Equal(t, 10.0, m.Percentile(100))
}

func TestRegistry_RateAndGauge(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddRate("http_req_failed", true))
	require.NoError(t, r.AddRate("http_req_failed", false))
	require.NoError(t, r.AddRate("http_req_failed", false))
	require.NoError(t, r.AddRate("http_req_failed", false))

	require.NoError(t, r.SetGauge("vus", 5))
	require.NoError(t, r.SetGauge("vus", 12))
	require.NoError(t, r.SetGauge("vus", 3))

	snap := r.Snapshot()

	failed, _ := snap.Get("http_req_failed")
	assert.Equal(t, 0.25, failed.Value)
	assert.Equal(t, int64(1), failed.Passes)
	assert.Equal(t, int64(3), failed.Fails)

	vus, _ := snap.Get("vus")
	assert.Equal(t, 3.0, vus.Value)
	assert.Equal(t, 3.0, vus.Min)
	assert.Equal(t, 12.0, vus.Max)
}

func TestRegistry_RecordDurationInMillis(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RecordDuration("ws_connect_duration", 250*time.Millisecond))

	m, _ := r.Snapshot().Get("ws_connect_duration")
	assert.Equal(t, Time, m.Contains)
	assert.Equal(t, 250.0, m.Max)
}

func TestRegistry_EmptyName(t *testing.T) {
	r := NewRegistry()
	assert.ErrorIs(t, r.Increment("", 1), ErrEmptyName)
}

func TestMust_Panics(t *testing.T) {
	r := NewRegistry()
	_ = Must(r.Counter("dup", Default))
	assert.Panics(t, func() {
		_ = Must(r.Gauge("dup"))
	})
}

func TestCheckName(t *testing.T) {
	name := CheckName("ws status 101")
	assert.Equal(t, "checks{check:ws status 101}", name)

	label, ok := CheckLabel(name)
	require.True(t, ok)
	assert.Equal(t, "ws status 101", label)

	_, ok = CheckLabel(Checks)
	assert.False(t, ok)
}
