// Package session manages the persistent WebSocket connection of one virtual
// user.
//
// A Session moves through an explicit state machine:
//
//	Closed → Connecting → Open → Closing → Closed
//	Open → Closed → Reconnecting → Connecting   (KeepAlive with a policy)
//
// Periodic tasks scheduled while Open belong to that connection: every one
// of them is cancelled when the session leaves Open, whatever the reason.
package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/foreigner-chat/chatload/internal/metrics"
)

// State is the lifecycle state of a Session.
type State int32

const (
	Closed State = iota
	Connecting
	Open
	Closing
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Handlers are the callbacks bound to one Connect call.
//
// OnMessage runs on the reader goroutine and task actions on their own
// goroutines, so state shared between handlers needs its own synchronization.
type Handlers struct {
	OnOpen    func(s *Session)
	OnMessage func(s *Session, msg []byte)
	OnClose   func(s *Session)
	OnError   func(s *Session, err error)
}

// Stats is a point-in-time view of a session's counters.
type Stats struct {
	State            State
	Connects         int64
	TasksRegistered  int64
	TasksCancelled   int64
	ActiveTasks      int64
	MessagesSent     int64
	MessagesReceived int64
	MessagesDropped  int64
}

// Option configures a Session.
type Option func(*Session)

// WithHeader sets headers sent with every handshake.
func WithHeader(h http.Header) Option {
	return func(s *Session) {
		s.header = h
	}
}

// WithSendQueue sets the outbound queue capacity (default 256).
func WithSendQueue(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.queueSize = n
		}
	}
}

// Session is the single persistent connection owned by one VU.
type Session struct {
	vuID      int
	dialer    Dialer
	logger    *zap.Logger
	header    http.Header
	queueSize int

	mu      sync.Mutex
	state   State
	current *connection
	url     string

	connects   atomic.Int64
	registered atomic.Int64
	cancelled  atomic.Int64
	sent       atomic.Int64
	received   atomic.Int64
	dropped    atomic.Int64

	mSessions    *metrics.CounterMetric
	mConnectDur  *metrics.TrendMetric
	mSessionDur  *metrics.TrendMetric
	mSent        *metrics.CounterMetric
	mReceived    *metrics.CounterMetric
	mReconnects  *metrics.CounterMetric
	mConnErrors  *metrics.CounterMetric
	mNotOpenErrs *metrics.CounterMetric
}

// connection is the state of one successful Connect, from Open to Closed.
type connection struct {
	conn     Conn
	url      string
	handlers Handlers
	openedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	out    chan []byte
	done   chan struct{}

	mu     sync.Mutex
	closed bool
	tasks  map[*Task]struct{}

	once     sync.Once
	err      error
	byCaller bool
}

// New creates a closed session for the given VU.
func New(vuID int, dialer Dialer, reg *metrics.Registry, logger *zap.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		vuID:      vuID,
		dialer:    dialer,
		logger:    logger.With(zap.String("component", "session"), zap.Int("vu", vuID)),
		queueSize: 256,

		mSessions:    metrics.Must(reg.Counter(metrics.WSSessions, metrics.Default)),
		mConnectDur:  metrics.Must(reg.Trend(metrics.WSConnectDuration, metrics.Time)),
		mSessionDur:  metrics.Must(reg.Trend(metrics.WSSessionDuration, metrics.Time)),
		mSent:        metrics.Must(reg.Counter(metrics.WSMsgsSent, metrics.Default)),
		mReceived:    metrics.Must(reg.Counter(metrics.WSMsgsReceived, metrics.Default)),
		mReconnects:  metrics.Must(reg.Counter(metrics.WSReconnects, metrics.Default)),
		mConnErrors:  metrics.Must(reg.Counter(metrics.ErrorsConnection, metrics.Default)),
		mNotOpenErrs: metrics.Must(reg.Counter(metrics.ErrorsNotOpen, metrics.Default)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VU returns the id of the owning virtual user.
func (s *Session) VU() int { return s.vuID }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Stats returns the session counters.
func (s *Session) Stats() Stats {
	registered := s.registered.Load()
	cancelled := s.cancelled.Load()
	return Stats{
		State:            s.State(),
		Connects:         s.connects.Load(),
		TasksRegistered:  registered,
		TasksCancelled:   cancelled,
		ActiveTasks:      registered - cancelled,
		MessagesSent:     s.sent.Load(),
		MessagesReceived: s.received.Load(),
		MessagesDropped:  s.dropped.Load(),
	}
}

// Connect opens a connection and binds h to it. It blocks for the handshake
// only. On success the session is Open and OnOpen has run; on failure the
// session is Closed, OnError has run and the returned error is a
// *ConnectionError.
func (s *Session) Connect(ctx context.Context, url string, h Handlers) error {
	s.mu.Lock()
	switch s.state {
	case Closed, Reconnecting:
	default:
		s.mu.Unlock()
		return ErrBusy
	}
	s.state = Connecting
	s.url = url
	s.mu.Unlock()

	s.connects.Add(1)
	start := time.Now()

	conn, err := s.dialer.Dial(ctx, url, s.header)
	if err != nil {
		cerr := &ConnectionError{VU: s.vuID, URL: url, Op: "connect", Err: err}
		s.setState(Closed)
		if ctx.Err() == nil {
			_ = s.mConnErrors.Inc()
		}
		s.logger.Debug("connect failed", zap.String("url", url), zap.Error(err))
		if h.OnError != nil {
			h.OnError(s, cerr)
		}
		return cerr
	}

	cctx, cancel := context.WithCancel(context.Background())
	c := &connection{
		conn:     conn,
		url:      url,
		handlers: h,
		openedAt: time.Now(),
		ctx:      cctx,
		cancel:   cancel,
		out:      make(chan []byte, s.queueSize),
		done:     make(chan struct{}),
		tasks:    make(map[*Task]struct{}),
	}

	s.mu.Lock()
	s.current = c
	s.state = Open
	s.mu.Unlock()

	_ = s.mSessions.Inc()
	_ = s.mConnectDur.AddDuration(c.openedAt.Sub(start))
	s.logger.Debug("connected", zap.String("url", url))

	go s.writeLoop(c)
	if h.OnOpen != nil {
		h.OnOpen(s)
	}
	go s.readLoop(c)

	return nil
}

// Run connects and blocks until the connection is closed or ctx is done.
// Cancelling ctx closes the connection. The returned error is the transport
// failure that ended the connection, or nil for a clean close.
func (s *Session) Run(ctx context.Context, url string, h Handlers) error {
	if err := s.Connect(ctx, url, h); err != nil {
		return err
	}

	c := s.currentConn()
	select {
	case <-c.done:
	case <-ctx.Done():
		s.shutdown(c, nil, true)
		<-c.done
	}
	return c.err
}

// Done returns a channel closed when the current connection reaches Closed.
// It is already closed when there is no connection.
func (s *Session) Done() <-chan struct{} {
	if c := s.currentConn(); c != nil {
		return c.done
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// ClosedByCaller reports whether the last connection was ended by Close or
// by cancelling Run's context rather than by the peer or a transport error.
func (s *Session) ClosedByCaller() bool {
	c := s.currentConn()
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byCaller
}

func (s *Session) currentConn() *connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// openConn returns the current connection if the session is Open.
func (s *Session) openConn(op string) (*connection, error) {
	s.mu.Lock()
	c, st := s.current, s.state
	s.mu.Unlock()

	if st != Open || c == nil {
		_ = s.mNotOpenErrs.Inc()
		return nil, &NotOpenError{VU: s.vuID, Op: op, State: st}
	}
	return c, nil
}

// Send queues payload for delivery without blocking. It fails with
// *NotOpenError unless the session is Open. Payloads still queued when the
// connection closes are dropped and counted in Stats.MessagesDropped.
func (s *Session) Send(payload []byte) error {
	c, err := s.openConn("send")
	if err != nil {
		return err
	}

	// shutdown marks c closed under c.mu before cancelling, so nothing is
	// queued after the writer has drained.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = s.mNotOpenErrs.Inc()
		return &NotOpenError{VU: s.vuID, Op: "send", State: s.State()}
	}

	select {
	case c.out <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close closes the current connection. Calling it on a session that is not
// Open is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	c, st := s.current, s.state
	s.mu.Unlock()

	if c == nil || st != Open {
		return nil
	}
	s.shutdown(c, nil, true)
	return nil
}

func (s *Session) writeLoop(c *connection) {
	defer s.dropQueued(c)
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.out:
			if err := c.conn.WriteMessage(msg); err != nil {
				s.dropped.Add(1)
				s.shutdown(c, &ConnectionError{VU: s.vuID, URL: c.url, Op: "send", Err: err}, false)
				return
			}
			s.sent.Add(1)
			_ = s.mSent.Inc()
		}
	}
}

// dropQueued discards what is left in the outbound queue once the writer
// stops. It runs after shutdown, when Send can no longer enqueue.
func (s *Session) dropQueued(c *connection) {
	<-c.ctx.Done()
	n := int64(0)
	for {
		select {
		case <-c.out:
			n++
		default:
			if n > 0 {
				s.dropped.Add(n)
				s.logger.Debug("dropped queued messages", zap.Int64("count", n))
			}
			return
		}
	}
}

func (s *Session) readLoop(c *connection) {
	for {
		msg, err := c.conn.ReadMessage()
		if err != nil {
			switch {
			case c.ctx.Err() != nil:
				// closed locally, shutdown already ran or is running
			case errors.Is(err, ErrRemoteClosed):
				s.shutdown(c, nil, false)
			default:
				s.shutdown(c, &ConnectionError{VU: s.vuID, URL: c.url, Op: "read", Err: err}, false)
			}
			return
		}

		s.received.Add(1)
		_ = s.mReceived.Inc()
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(s, msg)
		}
	}
}

// shutdown moves c out of Open exactly once. Tasks are released before the
// connection is dropped, then OnError (for failures) and OnClose fire.
func (s *Session) shutdown(c *connection, cause *ConnectionError, byCaller bool) {
	c.once.Do(func() {
		s.mu.Lock()
		if s.current == c {
			s.state = Closing
		}
		s.mu.Unlock()

		c.mu.Lock()
		c.closed = true
		c.byCaller = byCaller
		tasks := make([]*Task, 0, len(c.tasks))
		for t := range c.tasks {
			tasks = append(tasks, t)
		}
		c.tasks = nil
		c.mu.Unlock()

		c.cancel()
		for _, t := range tasks {
			t.release()
		}

		_ = c.conn.Close()
		_ = s.mSessionDur.AddDuration(time.Since(c.openedAt))

		if cause != nil {
			c.err = cause
			_ = s.mConnErrors.Inc()
			s.logger.Debug("connection failed", zap.String("op", cause.Op), zap.Error(cause.Err))
			if c.handlers.OnError != nil {
				c.handlers.OnError(s, cause)
			}
		}

		s.mu.Lock()
		if s.current == c {
			s.state = Closed
		}
		s.mu.Unlock()

		if c.handlers.OnClose != nil {
			c.handlers.OnClose(s)
		}
		close(c.done)
	})
}
