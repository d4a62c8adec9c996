package scheduler

import (
	"errors"
	"fmt"
	"time"
)

// ErrAlreadyRunning is returned when Run is called on a running scheduler.
var ErrAlreadyRunning = errors.New("scheduler is already running")

// ScenarioError wraps a failure returned or raised by one scenario call.
type ScenarioError struct {
	VU        int
	Iteration int64
	Err       error
	// Panicked is set when the scenario panicked instead of returning.
	Panicked bool
}

func (e *ScenarioError) Error() string {
	if e.Panicked {
		return fmt.Sprintf("vu %d iteration %d: scenario panicked: %v", e.VU, e.Iteration, e.Err)
	}
	return fmt.Sprintf("vu %d iteration %d: %v", e.VU, e.Iteration, e.Err)
}

func (e *ScenarioError) Unwrap() error {
	return e.Err
}

// OverrunError lists the VUs that did not stop within the grace period.
// Those VUs are abandoned and counted; the run still completes.
type OverrunError struct {
	IDs   []int
	Grace time.Duration
}

func (e *OverrunError) Error() string {
	return fmt.Sprintf("%d VU(s) did not stop within the %s grace period: %v", len(e.IDs), e.Grace, e.IDs)
}
