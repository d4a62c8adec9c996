package exporter

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/foreigner-chat/chatload/internal/metrics"
	"github.com/foreigner-chat/chatload/internal/scheduler"
)

type fakeSource struct {
	reg   *metrics.Registry
	stats scheduler.Stats
}

func (f *fakeSource) Stats() scheduler.Stats      { return f.stats }
func (f *fakeSource) Registry() *metrics.Registry { return f.reg }
func (f *fakeSource) RunID() string               { return "run-1" }

func newFakeSource(t *testing.T) *fakeSource {
	t.Helper()
	reg := metrics.NewRegistry()
	require.NoError(t, reg.Increment(metrics.HTTPReqs, 3))
	require.NoError(t, reg.Record(metrics.HTTPReqDuration, 100))
	require.NoError(t, reg.AddRate(metrics.Checks, true))
	return &fakeSource{
		reg:   reg,
		stats: scheduler.Stats{ActiveVUs: 4, TargetVUs: 5, Stopping: 1, Iterations: 42, Progress: 0.5},
	}
}

func TestCollector_Gather(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(NewCollector(newFakeSource(t))))

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]int{}
	for _, f := range families {
		byName[f.GetName()] = len(f.GetMetric())
	}
	assert.Equal(t, 1, byName["chatload_vus"])
	assert.Equal(t, 1, byName["chatload_iterations_total"])
	// counter: count, rate; trend: 8 stats; rate: rate, passes, fails
	assert.Equal(t, 2+8+3, byName["chatload_metric"])
}

func TestServer_Scrape(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", newFakeSource(t), zap.NewNop())
	require.NoError(t, err)
	srv.Start()
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, `chatload_vus{run_id="run-1"} 4`)
	assert.Contains(t, text, `chatload_target_vus{run_id="run-1"} 5`)
	assert.Contains(t, text, `chatload_stopping_vus{run_id="run-1"} 1`)
	assert.Contains(t, text, `chatload_progress_ratio{run_id="run-1"} 0.5`)
	assert.Contains(t, text, `chatload_metric{metric="http_reqs",run_id="run-1",stat="count",type="counter"} 3`)
	assert.Contains(t, text, `chatload_metric{metric="http_req_duration",run_id="run-1",stat="p(95)",type="trend"} 100`)
	assert.Contains(t, text, `chatload_metric{metric="checks",run_id="run-1",stat="rate",type="rate"} 1`)
}

func TestNewServer_BadAddress(t *testing.T) {
	_, err := NewServer("256.0.0.1:bad", newFakeSource(t), nil)
	assert.Error(t, err)
}
