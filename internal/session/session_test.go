package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/foreigner-chat/chatload/internal/metrics"
)

func newTestSession(t *testing.T, d Dialer) (*Session, *metrics.Registry) {
	t.Helper()
	reg := metrics.NewRegistry()
	return New(1, d, reg, zap.NewNop()), reg
}

func counterValue(reg *metrics.Registry, name string) float64 {
	m, ok := reg.Snapshot().Get(name)
	if !ok {
		return 0
	}
	return m.Sum
}

func TestSession_OpenSendClose(t *testing.T) {
	d := &fakeDialer{}
	s, reg := newTestSession(t, d)

	var opened, closed atomic.Int32
	err := s.Connect(context.Background(), "ws://chat", Handlers{
		OnOpen:  func(*Session) { opened.Add(1) },
		OnClose: func(*Session) { closed.Add(1) },
	})
	require.NoError(t, err)
	assert.Equal(t, Open, s.State())
	assert.Equal(t, int32(1), opened.Load())

	require.NoError(t, s.Send([]byte(`{"type":"MESSAGE"}`)))
	assert.Eventually(t, func() bool { return len(d.last().Written()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Close())
	<-s.Done()
	assert.Equal(t, Closed, s.State())
	assert.Equal(t, int32(1), closed.Load())
	assert.True(t, d.last().isClosed())
	assert.True(t, s.ClosedByCaller())

	// Close is idempotent
	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), closed.Load())

	assert.Equal(t, 1.0, counterValue(reg, metrics.WSSessions))
	assert.Eventually(t, func() bool { return counterValue(reg, metrics.WSMsgsSent) == 1 }, time.Second, time.Millisecond)
}

func TestSession_SendWhenNotOpen(t *testing.T) {
	s, reg := newTestSession(t, &fakeDialer{})

	err := s.Send([]byte("hi"))
	var notOpen *NotOpenError
	require.True(t, errors.As(err, &notOpen))
	assert.Equal(t, Closed, notOpen.State)
	assert.Equal(t, 1.0, counterValue(reg, metrics.ErrorsNotOpen))

	_, err = s.Schedule(time.Second, func(*Session) {})
	assert.True(t, errors.As(err, &notOpen))
}

func TestSession_ConnectFailureFiresOnlyError(t *testing.T) {
	d := &fakeDialer{}
	d.failures.Store(1)
	s, reg := newTestSession(t, d)

	var opened, errored atomic.Int32
	err := s.Connect(context.Background(), "ws://chat", Handlers{
		OnOpen:  func(*Session) { opened.Add(1) },
		OnError: func(*Session, error) { errored.Add(1) },
	})

	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, "connect", connErr.Op)
	assert.ErrorIs(t, err, errDialRefused)
	assert.Equal(t, int32(0), opened.Load())
	assert.Equal(t, int32(1), errored.Load())
	assert.Equal(t, Closed, s.State())
	assert.Equal(t, 1.0, counterValue(reg, metrics.ErrorsConnection))
}

func TestSession_ConnectCancelledIsNotAConnectionError(t *testing.T) {
	d := &fakeDialer{hang: true}
	s, reg := newTestSession(t, d)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Connect(ctx, "ws://chat", Handlers{})
	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Closed, s.State())
	assert.Zero(t, counterValue(reg, metrics.ErrorsConnection))
}

func TestSession_QueuedMessagesDroppedOnClose(t *testing.T) {
	d := &fakeDialer{gate: make(chan struct{})}
	s, reg := newTestSession(t, d)
	require.NoError(t, s.Connect(context.Background(), "ws://chat", Handlers{}))

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Send([]byte(fmt.Sprintf("msg-%d", i))))
	}
	require.NoError(t, s.Close())
	<-s.Done()

	err := s.Send([]byte("late"))
	var notOpen *NotOpenError
	require.True(t, errors.As(err, &notOpen))

	assert.Eventually(t, func() bool { return s.Stats().MessagesDropped == 3 }, time.Second, time.Millisecond)
	assert.Empty(t, d.last().Written())
	assert.Zero(t, s.Stats().MessagesSent)
	assert.Zero(t, counterValue(reg, metrics.ErrorsConnection))
}

func TestSession_ConnectWhileOpenIsRejected(t *testing.T) {
	s, _ := newTestSession(t, &fakeDialer{})
	require.NoError(t, s.Connect(context.Background(), "ws://chat", Handlers{}))
	defer s.Close()

	assert.ErrorIs(t, s.Connect(context.Background(), "ws://chat", Handlers{}), ErrBusy)
}

func TestSession_TasksCancelledOnEveryExitPath(t *testing.T) {
	tests := []struct {
		name  string
		close func(s *Session, c *fakeConn)
	}{
		{"explicit close", func(s *Session, _ *fakeConn) { _ = s.Close() }},
		{"remote close", func(_ *Session, c *fakeConn) { c.readErr <- fmt.Errorf("%w: 1000", ErrRemoteClosed) }},
		{"transport error", func(_ *Session, c *fakeConn) { c.readErr <- errors.New("connection reset") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDialer{}
			s, _ := newTestSession(t, d)

			var tasks []*Task
			err := s.Connect(context.Background(), "ws://chat", Handlers{
				OnOpen: func(s *Session) {
					for i := 0; i < 3; i++ {
						task, err := s.Schedule(2*time.Millisecond, func(*Session) {})
						require.NoError(t, err)
						tasks = append(tasks, task)
					}
				},
			})
			require.NoError(t, err)
			assert.Eventually(t, func() bool { return tasks[0].Fires() > 0 }, time.Second, time.Millisecond)

			tt.close(s, d.last())
			<-s.Done()

			stats := s.Stats()
			assert.Equal(t, int64(3), stats.TasksRegistered)
			assert.GreaterOrEqual(t, stats.TasksCancelled, stats.TasksRegistered)
			assert.Equal(t, int64(0), stats.ActiveTasks)

			fires := tasks[0].Fires()
			time.Sleep(20 * time.Millisecond)
			assert.Equal(t, fires, tasks[0].Fires(), "task fired after the session left Open")
		})
	}
}

func TestSession_TransportErrorFiresErrorThenClose(t *testing.T) {
	d := &fakeDialer{}
	s, reg := newTestSession(t, d)

	var (
		mu     sync.Mutex
		events []string
	)
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	require.NoError(t, s.Connect(context.Background(), "ws://chat", Handlers{
		OnError: func(_ *Session, err error) {
			var connErr *ConnectionError
			if errors.As(err, &connErr) {
				record("error:" + connErr.Op)
			}
		},
		OnClose: func(*Session) { record("close") },
	}))

	d.last().readErr <- errors.New("connection reset by peer")
	<-s.Done()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"error:read", "close"}, events)
	assert.False(t, s.ClosedByCaller())
	assert.Equal(t, 1.0, counterValue(reg, metrics.ErrorsConnection))
}

func TestSession_SendFailureClosesSession(t *testing.T) {
	d := &fakeDialer{}
	s, _ := newTestSession(t, d)

	var errored atomic.Int32
	require.NoError(t, s.Connect(context.Background(), "ws://chat", Handlers{
		OnError: func(*Session, error) { errored.Add(1) },
	}))

	c := d.last()
	c.mu.Lock()
	c.writeErr = errors.New("broken pipe")
	c.mu.Unlock()

	require.NoError(t, s.Send([]byte("x")))
	<-s.Done()
	assert.Equal(t, Closed, s.State())
	assert.Equal(t, int32(1), errored.Load())
}

func TestSession_TaskFiringsDoNotOverlap(t *testing.T) {
	s, _ := newTestSession(t, &fakeDialer{})
	require.NoError(t, s.Connect(context.Background(), "ws://chat", Handlers{}))

	var running, maxRunning, fired atomic.Int32
	_, err := s.Schedule(time.Millisecond, func(*Session) {
		n := running.Add(1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		fired.Add(1)
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return fired.Load() >= 3 }, time.Second, time.Millisecond)
	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), maxRunning.Load())
}

func TestSession_TaskCancelFromAction(t *testing.T) {
	s, _ := newTestSession(t, &fakeDialer{})
	require.NoError(t, s.Connect(context.Background(), "ws://chat", Handlers{}))
	defer s.Close()

	var task *Task
	var fired atomic.Int32
	ready := make(chan struct{})
	task, err := s.Schedule(time.Millisecond, func(*Session) {
		<-ready
		fired.Add(1)
		task.Cancel()
	})
	require.NoError(t, err)
	close(ready)

	assert.Eventually(t, func() bool { return s.Stats().ActiveTasks == 0 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
}

func TestSession_SetTimeoutFiresOnce(t *testing.T) {
	s, _ := newTestSession(t, &fakeDialer{})

	var fired atomic.Int32
	require.NoError(t, s.Connect(context.Background(), "ws://chat", Handlers{
		OnOpen: func(s *Session) {
			_, err := s.SetTimeout(5*time.Millisecond, func(s *Session) {
				fired.Add(1)
				_ = s.Close()
			})
			require.NoError(t, err)
		},
	}))

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("session was not closed by the timeout")
	}
	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, int64(0), s.Stats().ActiveTasks)
}

func TestSession_RunReturnsOnContextCancel(t *testing.T) {
	s, _ := newTestSession(t, &fakeDialer{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, "ws://chat", Handlers{}) }()

	assert.Eventually(t, func() bool { return s.State() == Open }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, Closed, s.State())
}

func TestSession_InboundMessages(t *testing.T) {
	d := &fakeDialer{}
	s, reg := newTestSession(t, d)

	got := make(chan string, 2)
	require.NoError(t, s.Connect(context.Background(), "ws://chat", Handlers{
		OnMessage: func(_ *Session, msg []byte) { got <- string(msg) },
	}))
	defer s.Close()

	d.last().in <- []byte("one")
	d.last().in <- []byte("two")

	assert.Equal(t, "one", <-got)
	assert.Equal(t, "two", <-got)
	assert.Eventually(t, func() bool { return counterValue(reg, metrics.WSMsgsReceived) == 2 }, time.Second, time.Millisecond)
}

func TestWSDialer_EchoServer(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("userId"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/plain-ws/chat?userId=7&roomId=3"
	reg := metrics.NewRegistry()
	s := New(7, NewWSDialer(DefaultDialerConfig()), reg, zap.NewNop())

	echoed := make(chan string, 1)
	require.NoError(t, s.Connect(context.Background(), wsURL, Handlers{
		OnMessage: func(_ *Session, msg []byte) { echoed <- string(msg) },
	}))

	require.NoError(t, s.Send([]byte(`{"type":"TYPING"}`)))
	select {
	case msg := <-echoed:
		assert.Equal(t, `{"type":"TYPING"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("no echo received")
	}

	require.NoError(t, s.Close())
	<-s.Done()
	assert.Equal(t, Closed, s.State())

	m, ok := reg.Snapshot().Get(metrics.WSConnectDuration)
	require.True(t, ok)
	assert.Equal(t, int64(1), m.Count)
}

func TestWSDialer_HandshakeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	s, _ := newTestSession(t, NewWSDialer(DialerConfig{HandshakeTimeout: time.Second}))
	err := s.Connect(context.Background(), "ws"+strings.TrimPrefix(server.URL, "http"), Handlers{})

	var connErr *ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Contains(t, err.Error(), "403")
}
