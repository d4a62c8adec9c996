// Package exporter publishes live run metrics in the Prometheus text format
// so a run can be watched from an existing dashboard.
package exporter

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/foreigner-chat/chatload/internal/metrics"
	"github.com/foreigner-chat/chatload/internal/scheduler"
)

const namespace = "chatload"

// Source is polled on every scrape. *engine.Engine satisfies it.
type Source interface {
	Stats() scheduler.Stats
	Registry() *metrics.Registry
	RunID() string
}

// Collector converts the registry snapshot and scheduler state into
// Prometheus samples at scrape time.
type Collector struct {
	src Source

	metric     *prometheus.Desc
	vus        *prometheus.Desc
	targetVUs  *prometheus.Desc
	stopping   *prometheus.Desc
	iterations *prometheus.Desc
	progress   *prometheus.Desc
}

// NewCollector creates a collector over src.
func NewCollector(src Source) *Collector {
	constLabels := prometheus.Labels{"run_id": src.RunID()}
	return &Collector{
		src: src,
		metric: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "metric"),
			"Summary statistic of a run metric.",
			[]string{"metric", "type", "stat"}, constLabels,
		),
		vus: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "vus"),
			"Running virtual users.", nil, constLabels,
		),
		targetVUs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "target_vus"),
			"Virtual users the ramp profile asks for now.", nil, constLabels,
		),
		stopping: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "stopping_vus"),
			"Virtual users finishing their last iteration.", nil, constLabels,
		),
		iterations: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "iterations_total"),
			"Completed scenario iterations.", nil, constLabels,
		),
		progress: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "progress_ratio"),
			"Fraction of the ramp profile elapsed.", nil, constLabels,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.metric
	ch <- c.vus
	ch <- c.targetVUs
	ch <- c.stopping
	ch <- c.iterations
	ch <- c.progress
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.vus, prometheus.GaugeValue, float64(st.ActiveVUs))
	ch <- prometheus.MustNewConstMetric(c.targetVUs, prometheus.GaugeValue, float64(st.TargetVUs))
	ch <- prometheus.MustNewConstMetric(c.stopping, prometheus.GaugeValue, float64(st.Stopping))
	ch <- prometheus.MustNewConstMetric(c.iterations, prometheus.CounterValue, float64(st.Iterations))
	ch <- prometheus.MustNewConstMetric(c.progress, prometheus.GaugeValue, st.Progress)

	snap := c.src.Registry().Live()
	for _, name := range snap.Names() {
		m, _ := snap.Get(name)
		for stat, v := range m.Values() {
			ch <- prometheus.MustNewConstMetric(c.metric, prometheus.GaugeValue, v, name, string(m.Type), stat)
		}
	}
}

// Server serves /metrics for one run.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *zap.Logger
}

// NewServer registers a Collector for src on a private registry and
// prepares an HTTP server on addr.
func NewServer(addr string, src Source, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewCollector(src)); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Server{
		srv:    &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		ln:     ln,
		logger: logger.Named("exporter"),
	}, nil
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	s.logger.Info("serving prometheus metrics", zap.String("addr", s.Addr()))
	go func() {
		if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
}

// Shutdown stops the server, waiting for in-flight scrapes until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
