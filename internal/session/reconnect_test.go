package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foreigner-chat/chatload/internal/metrics"
)

func TestKeepAlive_ReconnectsAfterFailures(t *testing.T) {
	const failures = 3

	d := &fakeDialer{}
	d.failures.Store(failures)
	s, reg := newTestSession(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opened := make(chan struct{}, 1)
	var openCount atomic.Int32
	handlers := Handlers{
		OnOpen: func(s *Session) {
			openCount.Add(1)
			_, err := s.Schedule(time.Millisecond, func(*Session) {})
			require.NoError(t, err)
			opened <- struct{}{}
		},
	}

	done := make(chan error, 1)
	go func() {
		done <- KeepAlive(ctx, s, "ws://chat", handlers, Policy{Enabled: true, Delay: time.Millisecond})
	}()

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("session never opened")
	}

	stats := s.Stats()
	assert.Equal(t, Open, stats.State)
	assert.Equal(t, int64(failures+1), stats.Connects)
	assert.Equal(t, int64(1), stats.TasksRegistered)
	assert.Equal(t, int64(1), stats.ActiveTasks)
	assert.Equal(t, int32(1), openCount.Load())
	assert.Equal(t, float64(failures), counterValue(reg, metrics.WSReconnects))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("KeepAlive did not stop")
	}
	assert.Equal(t, Closed, s.State())
	assert.Equal(t, int64(0), s.Stats().ActiveTasks)
}

func TestKeepAlive_ReconnectsAfterRemoteClose(t *testing.T) {
	d := &fakeDialer{}
	s, _ := newTestSession(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opened := make(chan struct{}, 4)
	go func() {
		_ = KeepAlive(ctx, s, "ws://chat", Handlers{
			OnOpen: func(*Session) { opened <- struct{}{} },
		}, Policy{Enabled: true, Delay: time.Millisecond})
	}()

	<-opened
	d.last().readErr <- fmt.Errorf("%w: going away", ErrRemoteClosed)

	select {
	case <-opened:
	case <-time.After(2 * time.Second):
		t.Fatal("session did not reconnect after remote close")
	}
	assert.Equal(t, int64(2), s.Stats().Connects)
}

func TestKeepAlive_StopsDuringBackoff(t *testing.T) {
	d := &fakeDialer{}
	d.failures.Store(1 << 30)
	s, _ := newTestSession(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- KeepAlive(ctx, s, "ws://chat", Handlers{}, Policy{Enabled: true, Delay: time.Hour})
	}()

	assert.Eventually(t, func() bool { return s.State() == Reconnecting }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("KeepAlive ignored cancellation during backoff")
	}
	assert.Equal(t, Closed, s.State())
	assert.Equal(t, int64(1), d.dials.Load())
}

func TestKeepAlive_DisabledReturnsConnectError(t *testing.T) {
	d := &fakeDialer{}
	d.failures.Store(1)
	s, _ := newTestSession(t, d)

	err := KeepAlive(context.Background(), s, "ws://chat", Handlers{}, Policy{})
	var connErr *ConnectionError
	assert.True(t, errors.As(err, &connErr))
	assert.Equal(t, int64(1), s.Stats().Connects)
}

func TestKeepAlive_MaxAttempts(t *testing.T) {
	d := &fakeDialer{}
	d.failures.Store(10)
	s, _ := newTestSession(t, d)

	err := KeepAlive(context.Background(), s, "ws://chat", Handlers{}, Policy{Enabled: true, Delay: time.Millisecond, MaxAttempts: 3})
	assert.Error(t, err)
	assert.Equal(t, int64(3), s.Stats().Connects)
	assert.Equal(t, Closed, s.State())
}

func TestKeepAlive_CallerCloseEndsLoop(t *testing.T) {
	s, _ := newTestSession(t, &fakeDialer{})

	err := KeepAlive(context.Background(), s, "ws://chat", Handlers{
		OnOpen: func(s *Session) {
			_, _ = s.SetTimeout(time.Millisecond, func(s *Session) { _ = s.Close() })
		},
	}, Policy{Enabled: true, Delay: time.Millisecond})

	assert.NoError(t, err)
	assert.Equal(t, int64(1), s.Stats().Connects)
}
