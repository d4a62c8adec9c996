package engine

import (
	"sort"
	"time"

	"github.com/foreigner-chat/chatload/internal/config"
	"github.com/foreigner-chat/chatload/internal/metrics"
	"github.com/foreigner-chat/chatload/internal/scheduler"
	"github.com/foreigner-chat/chatload/internal/threshold"
)

// Summary is the structured report of a finished run.
type Summary struct {
	RunID    string               `json:"runId"`
	Name     string               `json:"name"`
	Scenario string               `json:"scenario"`
	Start    time.Time            `json:"start"`
	End      time.Time            `json:"end"`
	Duration time.Duration        `json:"duration"`
	Stages   []config.StageConfig `json:"stages"`

	Metrics    map[string]MetricSummary `json:"metrics"`
	Thresholds []ThresholdSummary       `json:"thresholds"`

	// Errors holds a total per error category. Every category is present.
	Errors map[string]int64 `json:"errors"`

	// Overrun lists the VUs abandoned after the grace period.
	Overrun []int `json:"overrun,omitempty"`

	Iterations int64 `json:"iterations"`
	PeakVUs    int   `json:"peakVUs"`

	// Aborted is set when the run was cancelled before the ramp finished.
	Aborted bool `json:"aborted"`

	// Passed is the logical AND of every threshold result.
	Passed bool `json:"passed"`

	Snapshot *metrics.Snapshot `json:"-"`
}

// MetricSummary is the final aggregate of one metric.
type MetricSummary struct {
	Type        metrics.Type       `json:"type"`
	Contains    metrics.ValueType  `json:"contains"`
	Values      map[string]float64 `json:"values"`
	Approximate bool               `json:"approximate,omitempty"`
}

// ThresholdSummary is one evaluated threshold.
type ThresholdSummary struct {
	Metric      string            `json:"metric"`
	Expression  string            `json:"expression"`
	Observed    float64           `json:"observed"`
	Passed      bool              `json:"passed"`
	Outcome     threshold.Outcome `json:"outcome"`
	Approximate bool              `json:"approximate,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// MetricNames returns the summarized metric names in lexical order.
func (s *Summary) MetricNames() []string {
	names := make([]string, 0, len(s.Metrics))
	for name := range s.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ErrorCategories returns the error category names in lexical order.
func (s *Summary) ErrorCategories() []string {
	names := make([]string, 0, len(s.Errors))
	for name := range s.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TotalErrors sums every error category.
func (s *Summary) TotalErrors() int64 {
	var total int64
	for _, n := range s.Errors {
		total += n
	}
	return total
}

func summarizeMetrics(snap *metrics.Snapshot) map[string]MetricSummary {
	out := make(map[string]MetricSummary, len(snap.Metrics))
	for name, m := range snap.Metrics {
		out[name] = MetricSummary{
			Type:        m.Type,
			Contains:    m.Contains,
			Values:      m.Values(),
			Approximate: m.Approximate,
		}
	}
	return out
}

func summarizeThresholds(report *threshold.Report) []ThresholdSummary {
	out := make([]ThresholdSummary, 0, len(report.Results))
	for _, r := range report.Results {
		ts := ThresholdSummary{
			Metric:      r.Spec.Metric,
			Expression:  r.Spec.Expression,
			Observed:    r.Observed,
			Passed:      r.Passed,
			Outcome:     r.Outcome,
			Approximate: r.Approximate,
		}
		if r.Err != nil {
			ts.Error = r.Err.Error()
		}
		out = append(out, ts)
	}
	return out
}

// errorCounts reads every category counter, reporting zero for counters
// that were never incremented.
func errorCounts(snap *metrics.Snapshot) map[string]int64 {
	out := make(map[string]int64, len(metrics.ErrorCategories))
	for category, name := range metrics.ErrorCategories {
		var n int64
		if m, ok := snap.Get(name); ok {
			n = int64(m.Sum)
		}
		out[category] = n
	}
	return out
}

func overrunIDs(result *scheduler.Result) []int {
	if result.Overrun == nil {
		return nil
	}
	return result.Overrun.IDs
}
