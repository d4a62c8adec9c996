// Package engine is the run controller for chatload.
//
// It coordinates one run end to end:
//   - configuration validation, before anything starts
//   - the VU scheduler following the ramp profile
//   - sealing and snapshotting the metrics registry once VUs have drained
//   - threshold evaluation and the run summary
//
// Example usage:
//
//	cfg, _ := config.Load("run.yaml")
//	eng, _ := engine.New(cfg, scenarioFn, metrics.NewRegistry(), logger)
//	summary, err := eng.Run(ctx)
//	os.Exit(engine.ExitCode(summary, err))
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/foreigner-chat/chatload/internal/config"
	"github.com/foreigner-chat/chatload/internal/metrics"
	"github.com/foreigner-chat/chatload/internal/scheduler"
	"github.com/foreigner-chat/chatload/internal/threshold"
)

var (
	// ErrAborted is returned with a complete summary when the run context
	// was cancelled before the ramp profile finished.
	ErrAborted = errors.New("run aborted")

	// ErrAlreadyRunning is returned when Run is called twice concurrently.
	ErrAlreadyRunning = errors.New("engine is already running")
)

// Engine runs one load test.
type Engine struct {
	cfg      *config.RunConfig
	specs    []threshold.Spec
	registry *metrics.Registry
	sched    *scheduler.Scheduler
	logger   *zap.Logger
	runID    string

	running atomic.Bool
}

// New validates cfg and prepares a run of sc. Configuration problems are
// returned as *config.ValidationErrors and nothing is started.
func New(cfg *config.RunConfig, sc scheduler.Scenario, reg *metrics.Registry, logger *zap.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = metrics.NewRegistry()
	}

	errs := &config.ValidationErrors{}
	if err := cfg.Validate(); err != nil {
		if !errors.As(err, &errs) {
			return nil, err
		}
	}
	if sc == nil {
		errs.Add("scenario", fmt.Sprintf("no scenario function for %q", cfg.Scenario))
	}
	if errs.HasErrors() {
		return nil, errs
	}

	specs, err := cfg.ThresholdSpecs()
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))

	return &Engine{
		cfg:      cfg,
		specs:    specs,
		registry: reg,
		sched:    scheduler.New(cfg.SchedulerConfig(), sc, reg, logger),
		logger:   logger,
		runID:    runID,
	}, nil
}

// Run executes the ramp profile, waits for every VU to drain, seals the
// registry and evaluates thresholds. The summary is returned even when
// the run was aborted, together with ErrAborted.
func (e *Engine) Run(ctx context.Context) (*Summary, error) {
	if !e.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer e.running.Store(false)

	e.logger.Info("starting run",
		zap.String("name", e.cfg.Name),
		zap.String("scenario", e.cfg.Scenario),
		zap.Int("thresholds", len(e.specs)),
	)

	e.registry.MarkStart()
	result, err := e.sched.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduler: %w", err)
	}

	e.registry.Seal()
	snap := e.registry.Snapshot()
	report := threshold.Evaluate(snap, e.specs)

	summary := &Summary{
		RunID:      e.runID,
		Name:       e.cfg.Name,
		Scenario:   e.cfg.Scenario,
		Start:      result.Start,
		End:        result.Start.Add(result.Elapsed),
		Duration:   result.Elapsed,
		Stages:     e.cfg.Stages,
		Metrics:    summarizeMetrics(snap),
		Thresholds: summarizeThresholds(report),
		Errors:     errorCounts(snap),
		Overrun:    overrunIDs(result),
		Iterations: result.Iterations,
		PeakVUs:    result.PeakVUs,
		Aborted:    result.Interrupted,
		Passed:     report.Passed,
		Snapshot:   snap,
	}

	for _, r := range report.Failed() {
		fields := []zap.Field{
			zap.String("metric", r.Spec.Metric),
			zap.String("expression", r.Spec.Expression),
			zap.String("outcome", string(r.Outcome)),
		}
		if r.Err != nil {
			fields = append(fields, zap.Error(r.Err))
		} else {
			fields = append(fields, zap.Float64("observed", r.Observed))
		}
		e.logger.Warn("threshold not met", fields...)
	}
	e.logger.Info("run complete",
		zap.Bool("passed", summary.Passed),
		zap.Duration("duration", summary.Duration.Round(time.Millisecond)),
		zap.Int64("iterations", summary.Iterations),
		zap.Int64("errors", summary.TotalErrors()),
	)

	if summary.Aborted {
		return summary, ErrAborted
	}
	return summary, nil
}

// Stats returns a live view of the scheduler.
func (e *Engine) Stats() scheduler.Stats {
	return e.sched.Stats()
}

// IsRunning reports whether Run is in progress.
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// Registry returns the registry the run records into.
func (e *Engine) Registry() *metrics.Registry {
	return e.registry
}

// Config returns the validated run configuration.
func (e *Engine) Config() *config.RunConfig {
	return e.cfg
}

// RunID identifies this run in logs and exported summaries.
func (e *Engine) RunID() string {
	return e.runID
}
