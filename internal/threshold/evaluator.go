package threshold

import (
	"errors"
	"fmt"

	"github.com/foreigner-chat/chatload/internal/metrics"
)

// UnknownMetricError reports a threshold on a metric that was never recorded.
type UnknownMetricError struct {
	Metric string
}

func (e *UnknownMetricError) Error() string {
	return fmt.Sprintf("metric %q was never recorded", e.Metric)
}

// StatError reports a statistic that does not apply to the metric's type.
type StatError struct {
	Metric string
	Stat   string
	Type   metrics.Type
}

func (e *StatError) Error() string {
	return fmt.Sprintf("statistic %q is not available on %s metric %q", e.Stat, e.Type, e.Metric)
}

// ParseError reports a malformed expression.
type ParseError struct {
	Expression string
	Reason     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid threshold %q: %s", e.Expression, e.Reason)
}

// Outcome classifies a threshold result.
type Outcome string

const (
	Passed  Outcome = "passed"
	Failed  Outcome = "failed"
	Errored Outcome = "error"
)

// Result is the evaluation of one Spec.
type Result struct {
	Spec     Spec
	Observed float64
	Passed   bool
	Outcome  Outcome
	// Approximate is set when Observed comes from a histogram percentile.
	Approximate bool
	Err         error
}

// Report collects the results of one evaluation.
type Report struct {
	Results []Result
	// Passed is the logical AND of every result. Errored results count as failures.
	Passed bool
}

// Failed returns the results that did not pass, errored ones included.
func (r *Report) Failed() []Result {
	var failed []Result
	for _, res := range r.Results {
		if !res.Passed {
			failed = append(failed, res)
		}
	}
	return failed
}

// Evaluate checks every threshold against the snapshot, in order.
func Evaluate(snap *metrics.Snapshot, specs []Spec) *Report {
	report := &Report{
		Results: make([]Result, 0, len(specs)),
		Passed:  true,
	}
	for _, spec := range specs {
		res := evaluateOne(snap, spec)
		if !res.Passed {
			report.Passed = false
		}
		report.Results = append(report.Results, res)
	}
	return report
}

func evaluateOne(snap *metrics.Snapshot, spec Spec) Result {
	res := Result{Spec: spec, Outcome: Errored}

	pred, err := Parse(spec.Expression)
	if err != nil {
		res.Err = err
		return res
	}

	m, ok := snap.Get(spec.Metric)
	if !ok {
		// A declared counter or rate with no writes is a real zero.
		m, ok = snap.Declared(spec.Metric)
	}
	if !ok {
		res.Err = &UnknownMetricError{Metric: spec.Metric}
		return res
	}

	observed, err := m.Stat(pred.Stat)
	if err != nil {
		if errors.Is(err, metrics.ErrUnsupportedStat) {
			err = &StatError{Metric: spec.Metric, Stat: pred.Stat, Type: m.Type}
		}
		res.Err = err
		return res
	}

	res.Observed = observed
	res.Approximate = m.Approximate && m.Type == metrics.Trend
	res.Passed = pred.Check(observed)
	if res.Passed {
		res.Outcome = Passed
	} else {
		res.Outcome = Failed
	}
	return res
}
