package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a periodic or one-shot action bound to one open connection.
type Task struct {
	s        *Session
	c        *connection
	interval time.Duration
	once     bool
	action   func(*Session)

	ctx      context.Context
	cancel   context.CancelFunc
	released atomic.Bool
	fires    atomic.Int64
}

// Schedule runs action every interval while the current connection stays
// Open. Firings of one task never overlap. The task is cancelled
// automatically when the session leaves Open.
func (s *Session) Schedule(interval time.Duration, action func(*Session)) (*Task, error) {
	return s.addTask(interval, false, action, "schedule")
}

// SetTimeout runs action once after d, unless the session leaves Open first.
func (s *Session) SetTimeout(d time.Duration, action func(*Session)) (*Task, error) {
	return s.addTask(d, true, action, "set timeout")
}

func (s *Session) addTask(interval time.Duration, once bool, action func(*Session), op string) (*Task, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	c, err := s.openConn(op)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(c.ctx)
	t := &Task{
		s:        s,
		c:        c,
		interval: interval,
		once:     once,
		action:   action,
		ctx:      ctx,
		cancel:   cancel,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		_ = s.mNotOpenErrs.Inc()
		return nil, &NotOpenError{VU: s.vuID, Op: op, State: s.State()}
	}
	c.tasks[t] = struct{}{}
	s.registered.Add(1)
	c.mu.Unlock()

	go t.run()
	return t, nil
}

// Cancel stops the task. It is safe to call more than once and from inside
// the task's own action.
func (t *Task) Cancel() {
	t.c.mu.Lock()
	if t.c.tasks != nil {
		delete(t.c.tasks, t)
	}
	t.c.mu.Unlock()
	t.release()
}

// Fires returns how many times the action has run.
func (t *Task) Fires() int64 {
	return t.fires.Load()
}

func (t *Task) release() {
	if t.released.CompareAndSwap(false, true) {
		t.cancel()
		t.s.cancelled.Add(1)
	}
}

func (t *Task) run() {
	if t.once {
		timer := time.NewTimer(t.interval)
		defer timer.Stop()
		select {
		case <-t.ctx.Done():
		case <-timer.C:
			t.fire()
			t.Cancel()
		}
		return
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.fire()
		}
	}
}

func (t *Task) fire() {
	if t.ctx.Err() != nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			t.s.logger.Error("session task panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	t.fires.Add(1)
	t.action(t.s)
}
