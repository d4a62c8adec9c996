package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSendQueueFull is returned by Send when the outbound queue is saturated.
	ErrSendQueueFull = errors.New("send queue full")

	// ErrBusy is returned by Connect when the session already has a live connection.
	ErrBusy = errors.New("session already connected")

	// ErrInvalidInterval is returned by Schedule for non-positive intervals.
	ErrInvalidInterval = errors.New("interval must be positive")
)

// ConnectionError is a transport failure while connecting, sending or receiving.
type ConnectionError struct {
	VU  int
	URL string
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("vu %d: websocket %s %s: %v", e.VU, e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NotOpenError is returned for operations that need an open session.
type NotOpenError struct {
	VU    int
	Op    string
	State State
}

func (e *NotOpenError) Error() string {
	return fmt.Sprintf("vu %d: cannot %s: session is %s", e.VU, e.Op, e.State)
}
