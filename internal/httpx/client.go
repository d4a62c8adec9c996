// Package httpx is the HTTP primitive scenarios use to call the chat REST
// API. Every request is recorded into the run's metrics registry.
package httpx

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/foreigner-chat/chatload/internal/metrics"
)

// Config tunes the shared transport. VUs share one client so connections
// are pooled across the whole run.
type Config struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration
	DisableKeepAlives   bool
	InsecureSkipVerify  bool
	UserAgent           string
	Headers             map[string]string
}

// DefaultConfig returns transport settings suited to load generation.
func DefaultConfig() Config {
	return Config{
		Timeout:             30 * time.Second,
		MaxIdleConns:        1000,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		UserAgent:           "chatload",
	}
}

// Client performs requests and records http_reqs, http_req_duration,
// http_req_failed, data_sent and data_received.
type Client struct {
	httpClient *http.Client
	baseURL    string
	cfg        Config
	registry   *metrics.Registry
	logger     *zap.Logger

	reqs     *metrics.CounterMetric
	duration *metrics.TrendMetric
	failed   *metrics.RateMetric
	sent     *metrics.CounterMetric
	received *metrics.CounterMetric
	connErrs *metrics.CounterMetric
}

// New creates a client for baseURL.
func New(cfg Config, baseURL string, reg *metrics.Registry, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		DisableKeepAlives:   cfg.DisableKeepAlives,
	}
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: cfg.Timeout},
		baseURL:    baseURL,
		cfg:        cfg,
		registry:   reg,
		logger:     logger.With(zap.String("component", "http")),

		reqs:     metrics.Must(reg.Counter(metrics.HTTPReqs, metrics.Default)),
		duration: metrics.Must(reg.Trend(metrics.HTTPReqDuration, metrics.Time)),
		failed:   metrics.Must(reg.Rate(metrics.HTTPReqFailed)),
		sent:     metrics.Must(reg.Counter(metrics.DataSent, metrics.Data)),
		received: metrics.Must(reg.Counter(metrics.DataReceived, metrics.Data)),
		connErrs: metrics.Must(reg.Counter(metrics.ErrorsConnection, metrics.Default)),
	}
}

// BaseURL returns the root relative paths are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends req and reads the whole response. A transport failure is
// returned as an error and counted as a failed request and a connection
// error, unless ctx was cancelled. An error status is not an error.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	httpReq, sent, err := req.build(c.baseURL)
	if err != nil {
		return nil, err
	}
	if c.cfg.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	for key, value := range c.cfg.Headers {
		if httpReq.Header.Get(key) == "" {
			httpReq.Header.Set(key, value)
		}
	}
	httpReq = httpReq.WithContext(ctx)

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	_ = c.reqs.Inc()
	_ = c.sent.Add(float64(sent))
	if err != nil {
		_ = c.failed.Add(true)
		if ctx.Err() == nil {
			_ = c.connErrs.Inc()
		}
		return nil, fmt.Errorf("%s %s: %w", req.Method, httpReq.URL.Redacted(), err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	elapsed := time.Since(start)
	_ = c.received.Add(float64(len(body)))
	if err != nil {
		_ = c.failed.Add(true)
		return nil, fmt.Errorf("%s %s: reading body: %w", req.Method, httpReq.URL.Redacted(), err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Status:     httpResp.Status,
		Headers:    httpResp.Header,
		Body:       body,
		Duration:   elapsed,
	}

	_ = c.duration.AddDuration(elapsed)
	_ = c.failed.Add(resp.Failed())
	if req.Trend != "" {
		if err := c.registry.RecordDuration(req.Trend, elapsed); err != nil {
			c.logger.Debug("recording request trend", zap.String("trend", req.Trend), zap.Error(err))
		}
	}
	if resp.Failed() {
		c.logger.Debug("request failed",
			zap.String("method", req.Method),
			zap.String("url", httpReq.URL.Redacted()),
			zap.Int("status", resp.StatusCode),
		)
	}
	return resp, nil
}

// Get sends a GET request.
func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, NewRequest(http.MethodGet, path, opts...))
}

// Post sends a POST request.
func (c *Client) Post(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, NewRequest(http.MethodPost, path, opts...))
}

// Delete sends a DELETE request.
func (c *Client) Delete(ctx context.Context, path string, opts ...RequestOption) (*Response, error) {
	return c.Do(ctx, NewRequest(http.MethodDelete, path, opts...))
}

// CloseIdleConnections releases pooled connections at run end.
func (c *Client) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}
