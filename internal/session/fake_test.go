package session

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
)

// fakeConn is an in-memory Conn driven by the test.
type fakeConn struct {
	in      chan []byte
	readErr chan error

	closeOnce sync.Once
	closed    chan struct{}

	// gate, when set, holds every write until it is closed or the conn is.
	gate chan struct{}

	mu       sync.Mutex
	written  [][]byte
	writeErr error
}

func newFakeConn(gate chan struct{}) *fakeConn {
	return &fakeConn{
		gate:    gate,
		in:      make(chan []byte, 16),
		readErr: make(chan error, 1),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case msg := <-f.in:
		return msg, nil
	case err := <-f.readErr:
		return nil, err
	case <-f.closed:
		return nil, net.ErrClosed
	}
}

func (f *fakeConn) WriteMessage(data []byte) error {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-f.closed:
			return net.ErrClosed
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.written = append(f.written, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) Written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

func (f *fakeConn) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// fakeDialer fails the first `failures` dials, then hands out fresh fakeConns.
// With hang set, every dial waits for its context instead.
type fakeDialer struct {
	failures atomic.Int64
	dials    atomic.Int64
	hang     bool
	gate     chan struct{}

	mu    sync.Mutex
	conns []*fakeConn
}

var errDialRefused = errors.New("connection refused")

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	d.dials.Add(1)
	if d.hang {
		<-ctx.Done()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.failures.Load() > 0 {
		d.failures.Add(-1)
		return nil, errDialRefused
	}
	c := newFakeConn(d.gate)
	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()
	return c, nil
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}
