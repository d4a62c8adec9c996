package scenario

import (
	"context"
	"encoding/json"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/foreigner-chat/chatload/internal/httpx"
	"github.com/foreigner-chat/chatload/internal/metrics"
	"github.com/foreigner-chat/chatload/internal/session"
)

// Check records one named pass/fail into the checks rate and into the
// per-check rate named by CheckMetric, and returns ok.
func Check(reg *metrics.Registry, name string, ok bool) bool {
	_ = reg.AddRate(metrics.Checks, ok)
	_ = reg.AddRate(CheckMetric(name), ok)
	return ok
}

// CheckMetric is the rate holding the results of one named check.
func CheckMetric(name string) string {
	return metrics.CheckName(name)
}

// Sleep pauses for d. It returns ctx.Err() if ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// checkStatus records a "status is 200" style check for an HTTP call.
func (env *Env) checkStatus(name string, res *httpx.Response, err error) bool {
	ok := err == nil && res.StatusCode == 200
	if !Check(env.Registry, name, ok) {
		fields := []zap.Field{zap.String("check", name)}
		if err != nil {
			fields = append(fields, zap.Error(err))
		} else {
			fields = append(fields, zap.Int("status", res.StatusCode))
		}
		env.Logger.Debug("check failed", fields...)
	}
	return ok
}

// messagesOf returns the message list of a history response. The API wraps
// it in "data"; older endpoints return a bare array.
func messagesOf(res *httpx.Response) []gjson.Result {
	list := res.JSON("data")
	if !list.Exists() {
		list = res.JSON("@this")
	}
	if !list.IsArray() {
		return nil
	}
	return list.Array()
}

// wsURL appends query parameters to the configured WebSocket endpoint.
func (env *Env) wsURL(params ...string) string {
	u, err := url.Parse(env.Settings.WSURL)
	if err != nil || len(params) == 0 {
		return env.Settings.WSURL
	}
	q := u.Query()
	for i := 0; i+1 < len(params); i += 2 {
		q.Set(params[i], params[i+1])
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// hold opens a session for vuID and keeps it, reconnecting per the
// configured policy, until ctx ends or the session duration elapses. It
// reports whether the socket opened at least once. Connection failures are
// already counted by the session and only logged here.
func (env *Env) hold(ctx context.Context, vuID int, target string, h session.Handlers) bool {
	if d := env.Settings.SessionDuration.D(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	var opened atomic.Bool
	onOpen := h.OnOpen
	h.OnOpen = func(s *session.Session) {
		opened.Store(true)
		if onOpen != nil {
			onOpen(s)
		}
	}

	s := session.New(vuID, env.Dialer, env.Registry, env.Logger, session.WithHeader(env.handshakeHeader()))
	if err := session.KeepAlive(ctx, s, target, h, env.Settings.ReconnectPolicy()); err != nil {
		env.Logger.Debug("session ended", zap.Int("vu", vuID), zap.Error(err))
	}
	return opened.Load()
}

// sendJSON encodes v and queues it on the session.
func sendJSON(s *session.Session, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Send(b)
}

// every schedules action on s, logging when the session is no longer open.
func (env *Env) every(s *session.Session, interval time.Duration, action func(*session.Session)) {
	if _, err := s.Schedule(interval, action); err != nil {
		env.Logger.Debug("schedule failed", zap.Int("vu", s.VU()), zap.Error(err))
	}
}
