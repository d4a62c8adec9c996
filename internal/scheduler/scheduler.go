// Package scheduler runs a time-varying population of virtual users.
//
// A single control goroutine ticks at a fixed interval, computes the ramp
// target for the elapsed time and starts or stops VUs to match it. It is the
// only place that decides which VUs should be running. Every VU runs in its
// own goroutine and calls the scenario in a loop until it is told to stop.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/foreigner-chat/chatload/internal/metrics"
)

const (
	// DefaultTick is the control loop interval.
	DefaultTick = time.Second

	// DefaultGracefulStop bounds how long stopping VUs may take at run end.
	DefaultGracefulStop = 30 * time.Second
)

// Scenario is the work a VU performs in one iteration. It must return
// promptly once ctx is cancelled.
type Scenario func(ctx context.Context, vuID int) error

// Config configures a Scheduler.
type Config struct {
	Stages       []Stage
	Tick         time.Duration
	GracefulStop time.Duration
}

// Result summarizes a finished run.
type Result struct {
	Start      time.Time
	Elapsed    time.Duration
	Iterations int64
	PeakVUs    int
	// Interrupted is set when the parent context ended the run early.
	Interrupted bool
	// Overrun is non-nil when some VUs had to be abandoned.
	Overrun *OverrunError
}

// Stats is a live view of the scheduler.
type Stats struct {
	Running    bool
	Elapsed    time.Duration
	Total      time.Duration
	Progress   float64
	Stage      int
	StageName  string
	TargetVUs  int
	ActiveVUs  int
	Stopping   int
	Iterations int64
}

// Scheduler starts and stops VUs to follow a ramp profile.
type Scheduler struct {
	cfg      Config
	scenario Scenario
	logger   *zap.Logger

	mu       sync.Mutex
	live     map[int]*VirtualUser
	draining map[int]*VirtualUser
	nextID   int
	wg       sync.WaitGroup

	running    atomic.Bool
	startNanos atomic.Int64
	endNanos   atomic.Int64
	target     atomic.Int64
	stage      atomic.Int64
	peak       atomic.Int64
	iterations atomic.Int64

	mVUs         *metrics.GaugeMetric
	mVUsMax      *metrics.GaugeMetric
	mIterDur     *metrics.TrendMetric
	mScenarioErr *metrics.CounterMetric
	mOverrun     *metrics.CounterMetric
}

// New creates a scheduler. The registry receives the vus, vus_max,
// iteration_duration, errors_scenario and errors_overrun metrics.
func New(cfg Config, scenario Scenario, reg *metrics.Registry, logger *zap.Logger) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.GracefulStop <= 0 {
		cfg.GracefulStop = DefaultGracefulStop
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scheduler{
		cfg:      cfg,
		scenario: scenario,
		logger:   logger.With(zap.String("component", "scheduler")),
		live:     make(map[int]*VirtualUser),
		draining: make(map[int]*VirtualUser),

		mVUs:         metrics.Must(reg.Gauge(metrics.VUs)),
		mVUsMax:      metrics.Must(reg.Gauge(metrics.VUsMax)),
		mIterDur:     metrics.Must(reg.Trend(metrics.IterationDuration, metrics.Time)),
		mScenarioErr: metrics.Must(reg.Counter(metrics.ErrorsScenario, metrics.Default)),
		mOverrun:     metrics.Must(reg.Counter(metrics.ErrorsOverrun, metrics.Default)),
	}
}

// Run executes the ramp profile and returns once every VU has stopped or
// the grace period has expired. Only an invalid configuration is returned
// as an error.
func (s *Scheduler) Run(ctx context.Context) (*Result, error) {
	if err := ValidateStages(s.cfg.Stages); err != nil {
		return nil, err
	}
	if s.scenario == nil {
		return nil, fmt.Errorf("scenario is required")
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer s.running.Store(false)

	total := TotalDuration(s.cfg.Stages)
	start := time.Now()
	s.startNanos.Store(start.UnixNano())
	s.endNanos.Store(0)

	runCtx, cancel := context.WithTimeout(ctx, total)
	defer cancel()

	s.logger.Info("run started",
		zap.Int("stages", len(s.cfg.Stages)),
		zap.Duration("duration", total),
		zap.Duration("tick", s.cfg.Tick),
	)

	ticker := time.NewTicker(s.cfg.Tick)
	s.reconcile(runCtx, 0)

loop:
	for {
		select {
		case <-runCtx.Done():
			break loop
		case <-ticker.C:
			elapsed := time.Since(start)
			if elapsed >= total {
				break loop
			}
			s.reconcile(runCtx, elapsed)
		}
	}
	ticker.Stop()

	interrupted := ctx.Err() != nil
	s.stopAll()
	cancel()
	overrun := s.drain(s.cfg.GracefulStop)

	end := time.Now()
	s.endNanos.Store(end.UnixNano())
	_ = s.mVUs.Set(0)

	result := &Result{
		Start:       start,
		Elapsed:     end.Sub(start),
		Iterations:  s.iterations.Load(),
		PeakVUs:     int(s.peak.Load()),
		Interrupted: interrupted,
		Overrun:     overrun,
	}
	s.logger.Info("run finished",
		zap.Duration("elapsed", result.Elapsed),
		zap.Int64("iterations", result.Iterations),
		zap.Int("peak_vus", result.PeakVUs),
		zap.Bool("interrupted", interrupted),
	)
	return result, nil
}

// reconcile moves the live VU count to the target for elapsed.
func (s *Scheduler) reconcile(ctx context.Context, elapsed time.Duration) {
	target := TargetAt(s.cfg.Stages, elapsed)
	s.target.Store(int64(target))
	s.stage.Store(int64(StageAt(s.cfg.Stages, elapsed)))
	s.scaleTo(ctx, target)
}

// scaleTo starts VUs with fresh ids or stops the lowest live ids.
func (s *Scheduler) scaleTo(ctx context.Context, target int) {
	s.mu.Lock()
	live := len(s.live)
	switch {
	case target > live:
		for i := 0; i < target-live; i++ {
			s.spawnLocked(ctx)
		}
	case target < live:
		for _, id := range s.liveIDsLocked()[:live-target] {
			vu := s.live[id]
			delete(s.live, id)
			s.draining[id] = vu
			vu.RequestStop()
		}
	}
	active := len(s.live)
	s.mu.Unlock()

	if int64(active) > s.peak.Load() {
		s.peak.Store(int64(active))
		_ = s.mVUsMax.Set(float64(active))
	}
	_ = s.mVUs.Set(float64(active))
}

func (s *Scheduler) spawnLocked(ctx context.Context) {
	s.nextID++
	vu := newVirtualUser(ctx, s.nextID)
	s.live[vu.ID] = vu
	s.wg.Add(1)
	go s.runVU(vu)
}

func (s *Scheduler) liveIDsLocked() []int {
	ids := make([]int, 0, len(s.live))
	for id := range s.live {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (s *Scheduler) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, vu := range s.live {
		delete(s.live, id)
		s.draining[id] = vu
		vu.RequestStop()
	}
}

// drain waits for every VU goroutine. VUs still running after grace are
// marked stopped, counted and reported. Their goroutines are left to exit
// on their own; the registry is sealed afterwards so their late samples
// are discarded.
func (s *Scheduler) drain(grace time.Duration) *OverrunError {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
	}

	s.mu.Lock()
	ids := make([]int, 0, len(s.draining))
	for id, vu := range s.draining {
		ids = append(ids, id)
		vu.markStopped()
		delete(s.draining, id)
	}
	s.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	sort.Ints(ids)
	_ = s.mOverrun.Add(float64(len(ids)))

	err := &OverrunError{IDs: ids, Grace: grace}
	s.logger.Warn("VUs abandoned after grace period", zap.Error(err))
	return err
}

func (s *Scheduler) runVU(vu *VirtualUser) {
	defer s.wg.Done()
	defer s.finish(vu)

	vu.state.CompareAndSwap(int32(VUPending), int32(VURunning))
	for vu.ctx.Err() == nil {
		s.iterate(vu)
	}
}

func (s *Scheduler) finish(vu *VirtualUser) {
	s.mu.Lock()
	delete(s.live, vu.ID)
	delete(s.draining, vu.ID)
	s.mu.Unlock()
	vu.markStopped()
}

func (s *Scheduler) iterate(vu *VirtualUser) {
	iter := vu.iteration.Add(1)
	start := time.Now()

	err := s.call(vu, iter)

	_ = s.mIterDur.AddDuration(time.Since(start))
	s.iterations.Add(1)

	if err == nil {
		return
	}
	if vu.ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return
	}
	_ = s.mScenarioErr.Inc()
	s.logger.Warn("iteration failed", zap.Int("vu", vu.ID), zap.Error(err))
}

// call runs one scenario invocation, turning panics into a ScenarioError.
func (s *Scheduler) call(vu *VirtualUser, iter int64) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ScenarioError{VU: vu.ID, Iteration: iter, Err: fmt.Errorf("%v", r), Panicked: true}
		}
	}()

	if err := s.scenario(vu.ctx, vu.ID); err != nil {
		return &ScenarioError{VU: vu.ID, Iteration: iter, Err: err}
	}
	return nil
}

// Stats returns a live view of the run. It is safe to call at any time.
func (s *Scheduler) Stats() Stats {
	total := TotalDuration(s.cfg.Stages)

	var elapsed time.Duration
	if startNanos := s.startNanos.Load(); startNanos != 0 {
		end := time.Now()
		if endNanos := s.endNanos.Load(); endNanos != 0 {
			end = time.Unix(0, endNanos)
		}
		elapsed = end.Sub(time.Unix(0, startNanos))
	}

	progress := 0.0
	if total > 0 {
		progress = float64(elapsed) / float64(total)
		if progress > 1 {
			progress = 1
		}
	}

	stage := int(s.stage.Load())
	name := ""
	if stage < len(s.cfg.Stages) {
		name = s.cfg.Stages[stage].Name
	}

	s.mu.Lock()
	active, stopping := len(s.live), len(s.draining)
	s.mu.Unlock()

	return Stats{
		Running:    s.running.Load(),
		Elapsed:    elapsed,
		Total:      total,
		Progress:   progress,
		Stage:      stage,
		StageName:  name,
		TargetVUs:  int(s.target.Load()),
		ActiveVUs:  active,
		Stopping:   stopping,
		Iterations: s.iterations.Load(),
	}
}

// ActiveIDs returns the ids of live VUs in ascending order.
func (s *Scheduler) ActiveIDs() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveIDsLocked()
}
