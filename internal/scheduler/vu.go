package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// VUState is the lifecycle state of a VirtualUser.
type VUState int32

const (
	// VUPending is a VU that has been created but has not started iterating.
	VUPending VUState = iota
	// VURunning is a VU executing iterations.
	VURunning
	// VUStopping is a VU that has been told to stop and is finishing its iteration.
	VUStopping
	// VUStopped is a VU whose goroutine has exited or was abandoned.
	VUStopped
)

func (s VUState) String() string {
	switch s {
	case VUPending:
		return "pending"
	case VURunning:
		return "running"
	case VUStopping:
		return "stopping"
	case VUStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// VirtualUser is one simulated client. It is owned by the Scheduler.
type VirtualUser struct {
	ID int

	state     atomic.Int32
	iteration atomic.Int64

	// ctx is cancelled when the VU is asked to stop or the run ends.
	ctx      context.Context
	cancel   context.CancelFunc
	doneCh   chan struct{}
	stopOnce sync.Once
}

func newVirtualUser(parent context.Context, id int) *VirtualUser {
	vu := &VirtualUser{
		ID:     id,
		doneCh: make(chan struct{}),
	}
	vu.ctx, vu.cancel = context.WithCancel(context.WithValue(parent, vuKey{}, vu))
	return vu
}

// State returns the current lifecycle state.
func (vu *VirtualUser) State() VUState {
	return VUState(vu.state.Load())
}

// Iteration returns the number of scenario calls started so far.
func (vu *VirtualUser) Iteration() int64 {
	return vu.iteration.Load()
}

// RequestStop asks the VU to stop after its current scenario call returns.
// The scenario observes the request through its context. Repeated calls
// are no-ops.
func (vu *VirtualUser) RequestStop() {
	if vu.state.CompareAndSwap(int32(VURunning), int32(VUStopping)) ||
		vu.state.CompareAndSwap(int32(VUPending), int32(VUStopping)) {
		vu.cancel()
	}
}

// Done is closed once the VU has stopped.
func (vu *VirtualUser) Done() <-chan struct{} {
	return vu.doneCh
}

// WaitForStop waits up to timeout for the VU to stop.
func (vu *VirtualUser) WaitForStop(timeout time.Duration) bool {
	select {
	case <-vu.doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (vu *VirtualUser) markStopped() {
	vu.stopOnce.Do(func() {
		vu.state.Store(int32(VUStopped))
		vu.cancel()
		close(vu.doneCh)
	})
}

type vuKey struct{}

// VUFromContext returns the VirtualUser running the current scenario call.
func VUFromContext(ctx context.Context) (*VirtualUser, bool) {
	vu, ok := ctx.Value(vuKey{}).(*VirtualUser)
	return vu, ok
}
