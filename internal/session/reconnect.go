package session

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultReconnectDelay is the fixed backoff between reconnect attempts.
const DefaultReconnectDelay = time.Second

// Policy decides whether a closed session is reopened.
type Policy struct {
	// Enabled turns reconnecting on.
	Enabled bool

	// Delay is the fixed wait before each new attempt.
	Delay time.Duration

	// MaxAttempts caps the total number of connects. Zero means no cap.
	MaxAttempts int
}

// KeepAlive runs the session and, when the connection fails or the peer
// closes it, reconnects with the same handlers according to p. It returns
// when ctx is done, when the caller closes the session, or when the policy
// gives up, leaving the session Closed. The loop is iterative so an
// unbounded number of reconnects uses constant stack.
func KeepAlive(ctx context.Context, s *Session, url string, h Handlers, p Policy) error {
	delay := p.Delay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}

	for attempt := 1; ; attempt++ {
		err := s.Run(ctx, url, h)

		if ctx.Err() != nil {
			s.setState(Closed)
			return nil
		}
		if err == nil && s.ClosedByCaller() {
			return nil
		}
		if !p.Enabled || (p.MaxAttempts > 0 && attempt >= p.MaxAttempts) {
			return err
		}

		s.setState(Reconnecting)
		_ = s.mReconnects.Inc()
		s.logger.Debug("reconnecting",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.NamedError("cause", err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setState(Closed)
			return nil
		case <-timer.C:
		}
	}
}
