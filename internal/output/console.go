// Package output renders run progress and the end-of-run summary for the
// terminal, and exports the summary as JSON.
package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/foreigner-chat/chatload/internal/engine"
	"github.com/foreigner-chat/chatload/internal/metrics"
	"github.com/foreigner-chat/chatload/internal/scheduler"
	"github.com/foreigner-chat/chatload/internal/threshold"
)

const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	ruleWidth   = 60
	nameWidth   = 34
	progressBar = 30

	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats is one progress sample.
type LiveStats struct {
	Elapsed   time.Duration
	Total     time.Duration
	Progress  float64
	Stage     int
	Stages    int
	StageName string

	ActiveVUs int
	TargetVUs int
	Stopping  int

	Iterations int64
	HTTPReqs   int64
	WSSent     int64
	WSReceived int64
	Errors     int64
	P95        float64
}

// Source is what the live display polls. *engine.Engine satisfies it.
type Source interface {
	Stats() scheduler.Stats
	Registry() *metrics.Registry
}

// StatsFrom combines scheduler progress and a metrics snapshot.
func StatsFrom(st scheduler.Stats, stages int, snap *metrics.Snapshot) LiveStats {
	ls := LiveStats{
		Elapsed:    st.Elapsed,
		Total:      st.Total,
		Progress:   st.Progress,
		Stage:      st.Stage + 1,
		Stages:     stages,
		StageName:  st.StageName,
		ActiveVUs:  st.ActiveVUs,
		TargetVUs:  st.TargetVUs,
		Stopping:   st.Stopping,
		Iterations: st.Iterations,
	}
	if stages > 0 && ls.Stage > stages {
		ls.Stage = stages
	}
	if snap == nil {
		return ls
	}
	sum := func(name string) int64 {
		if m, ok := snap.Get(name); ok {
			return int64(m.Sum)
		}
		return 0
	}
	ls.HTTPReqs = sum(metrics.HTTPReqs)
	ls.WSSent = sum(metrics.WSMsgsSent)
	ls.WSReceived = sum(metrics.WSMsgsReceived)
	for _, name := range metrics.ErrorCategories {
		ls.Errors += sum(name)
	}
	if m, ok := snap.Get(metrics.HTTPReqDuration); ok {
		ls.P95 = m.Percentile(95)
	}
	return ls
}

// ConsoleConfig configures a Console.
type ConsoleConfig struct {
	Writer io.Writer
	// Quiet suppresses everything but the final verdict.
	Quiet bool
	// NoColor disables colors even on a terminal.
	NoColor bool
	// ForceTTY forces colors and in-place progress redraws.
	ForceTTY bool
}

// Console writes progress and summaries to a terminal or a log stream.
type Console struct {
	w      io.Writer
	scheme *ColorScheme
	isTTY  bool
	quiet  bool

	mu    sync.Mutex
	lines int
}

// NewConsole creates a console writer.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	isTTY := cfg.ForceTTY || IsTerminal(cfg.Writer)

	scheme := NoColorScheme()
	switch {
	case cfg.NoColor:
	case cfg.ForceTTY:
		scheme = DefaultColorScheme().forceColors()
	case isTTY && supportsColors():
		scheme = DefaultColorScheme()
	}

	return &Console{w: cfg.Writer, scheme: scheme, isTTY: isTTY, quiet: cfg.Quiet}
}

// IsTTY reports whether progress is redrawn in place.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader announces a run.
func (c *Console) PrintHeader(runID, name, scenario string, stages int, total time.Duration) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rule()
	c.writeln(c.scheme.Title.Sprintf("%s - running", name))
	c.rule()
	c.writef("  scenario: %s\n", c.scheme.Value.Sprint(scenario))
	c.writef("  stages:   %d over %s\n", stages, formatDuration(total))
	c.writef("  run id:   %s\n\n", c.scheme.Dim.Sprint(runID))
}

// Update draws one progress sample. On a terminal the previous sample is
// overwritten; otherwise one line is appended.
func (c *Console) Update(ls LiveStats) {
	if c.quiet {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isTTY {
		c.writef("[%s] %3.0f%% stage %d/%d | vus %d/%d | iters %d | reqs %d | ws sent %d | errors %d\n",
			formatDuration(ls.Elapsed), ls.Progress*100, ls.Stage, ls.Stages,
			ls.ActiveVUs, ls.TargetVUs, ls.Iterations, ls.HTTPReqs, ls.WSSent, ls.Errors)
		return
	}

	c.clearLive()
	lines := c.renderLive(ls)
	for _, l := range lines {
		c.writeln(l)
	}
	c.lines = len(lines)
}

func (c *Console) renderLive(ls LiveStats) []string {
	p := ls.Progress
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	filled := int(p * progressBar)
	bar := "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, progressBar-filled) + "]"

	vus := fmt.Sprintf("%d/%d", ls.ActiveVUs, ls.TargetVUs)
	if ls.Stopping > 0 {
		vus += fmt.Sprintf(" (%d stopping)", ls.Stopping)
	}
	errors := c.scheme.Pass.Sprint(ls.Errors)
	if ls.Errors > 0 {
		errors = c.scheme.Fail.Sprint(ls.Errors)
	}

	return []string{
		fmt.Sprintf("%s %s %s",
			c.scheme.Pass.Sprint(bar),
			c.scheme.Title.Sprintf("%3.0f%%", p*100),
			c.scheme.Dim.Sprintf("%s / %s", formatDuration(ls.Elapsed), formatDuration(ls.Total))),
		fmt.Sprintf("stage %s  vus %s  iterations %s",
			c.scheme.Highlight.Sprintf("%s (%d/%d)", ls.StageName, ls.Stage, ls.Stages),
			c.scheme.Value.Sprint(vus),
			c.scheme.Value.Sprint(formatNumber(ls.Iterations))),
		fmt.Sprintf("http %s  p95 %s  ws %s/%s  errors %s",
			c.scheme.Value.Sprint(formatNumber(ls.HTTPReqs)),
			c.scheme.Value.Sprint(formatMillis(ls.P95)),
			c.scheme.Value.Sprint(formatNumber(ls.WSSent)),
			c.scheme.Value.Sprint(formatNumber(ls.WSReceived)),
			errors),
	}
}

func (c *Console) clearLive() {
	if c.lines == 0 {
		return
	}
	c.writef(cursorUp, c.lines)
	for i := 0; i < c.lines; i++ {
		c.write(clearLine + "\n")
	}
	c.writef(cursorUp, c.lines)
	c.lines = 0
}

// Watch samples src every interval and draws it until ctx is done.
func (c *Console) Watch(ctx context.Context, src Source, stages int, interval time.Duration) {
	if c.quiet {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Update(StatsFrom(src.Stats(), stages, src.Registry().Live()))
		}
	}
}

// PrintSummary writes the end-of-run report. In quiet mode only the
// verdict is printed.
func (c *Console) PrintSummary(s *engine.Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isTTY {
		c.clearLive()
	}
	if c.quiet {
		c.writeln(c.verdict(s))
		return
	}

	c.writeln("")
	c.rule()
	c.writef("%s - %s\n", c.scheme.Title.Sprint(s.Name), c.verdict(s))
	c.rule()
	c.writef("  duration %s  iterations %s  peak vus %d\n",
		c.scheme.Value.Sprint(formatDuration(s.Duration)),
		c.scheme.Value.Sprint(formatNumber(s.Iterations)),
		s.PeakVUs)
	if s.Aborted {
		c.writeln(c.scheme.Warn.Sprint("  run aborted before the ramp finished"))
	}
	c.writeln("")

	c.printChecks(s)
	c.printMetrics(s)
	c.printThresholds(s)
	c.printErrors(s)
}

func (c *Console) verdict(s *engine.Summary) string {
	if s.Passed {
		return c.scheme.Pass.Sprint("PASSED ✓")
	}
	return c.scheme.Fail.Sprint("FAILED ✗")
}

func (c *Console) printChecks(s *engine.Summary) {
	type check struct {
		name          string
		passes, fails int64
	}
	var checks []check
	for name, m := range s.Metrics {
		label, ok := metrics.CheckLabel(name)
		if !ok {
			continue
		}
		checks = append(checks, check{label, int64(m.Values["passes"]), int64(m.Values["fails"])})
	}
	if len(checks) == 0 {
		return
	}
	sort.Slice(checks, func(i, j int) bool { return checks[i].name < checks[j].name })

	c.writeln(c.scheme.Section.Sprint("checks"))
	for _, ch := range checks {
		icon := c.scheme.PassIcon()
		if ch.fails > 0 {
			icon = c.scheme.FailIcon()
		}
		total := ch.passes + ch.fails
		pct := 0.0
		if total > 0 {
			pct = float64(ch.passes) / float64(total) * 100
		}
		c.writef("  %s %s%s\n", icon, padRight(ch.name, nameWidth),
			c.scheme.Value.Sprintf("%.2f%% (%d/%d)", pct, ch.passes, total))
	}
	c.writeln("")
}

func (c *Console) printMetrics(s *engine.Summary) {
	c.writeln(c.scheme.Section.Sprint("metrics"))
	for _, name := range s.MetricNames() {
		if _, ok := metrics.CheckLabel(name); ok {
			continue
		}
		m := s.Metrics[name]
		keys := statKeys(m.Type)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			v, ok := m.Values[k]
			if !ok {
				continue
			}
			parts = append(parts, k+"="+c.scheme.Value.Sprint(formatStat(m.Type, m.Contains, k, v)))
		}
		line := "  " + padRight(c.scheme.Metric.Sprint(name), nameWidth) + strings.Join(parts, " ")
		if m.Approximate {
			line += c.scheme.Dim.Sprint(" ~")
		}
		c.writeln(line)
	}
	c.writeln("")
}

// statKeys fixes the column order of each metric type in the table.
func statKeys(typ metrics.Type) []string {
	switch typ {
	case metrics.Counter:
		return []string{"count", "rate"}
	case metrics.Gauge:
		return []string{"value", "min", "max"}
	case metrics.Rate:
		return []string{"rate", "passes", "fails"}
	default:
		return []string{"avg", "min", "med", "max", "p(90)", "p(95)", "p(99)"}
	}
}

func (c *Console) printThresholds(s *engine.Summary) {
	if len(s.Thresholds) == 0 {
		return
	}
	c.writeln(c.scheme.Section.Sprint("thresholds"))
	for _, t := range s.Thresholds {
		switch t.Outcome {
		case threshold.Errored:
			c.writef("  %s %s %s: %s\n", c.scheme.WarnIcon(), t.Metric, t.Expression, c.scheme.Warn.Sprint(t.Error))
		default:
			icon := c.scheme.PassIcon()
			if !t.Passed {
				icon = c.scheme.FailIcon()
			}
			observed := fmt.Sprintf("%g", t.Observed)
			if m, ok := s.Metrics[t.Metric]; ok {
				observed = formatObserved(m, t.Expression, t.Observed)
			}
			approx := ""
			if t.Approximate {
				approx = c.scheme.Dim.Sprint(" (approximate)")
			}
			c.writef("  %s %s %s (observed %s)%s\n", icon, t.Metric, t.Expression, observed, approx)
		}
	}
	c.writeln("")
}

// formatObserved formats the value a threshold saw, using the aggregation
// named at the start of the expression.
func formatObserved(m engine.MetricSummary, expr string, v float64) string {
	key := expr
	if i := strings.IndexAny(expr, "<>=!"); i > 0 {
		key = strings.TrimSpace(expr[:i])
	}
	return formatStat(m.Type, m.Contains, key, v)
}

func (c *Console) printErrors(s *engine.Summary) {
	c.writeln(c.scheme.Section.Sprint("errors"))
	for _, cat := range s.ErrorCategories() {
		n := s.Errors[cat]
		value := c.scheme.Pass.Sprint(formatNumber(n))
		if n > 0 {
			value = c.scheme.Fail.Sprint(formatNumber(n))
		}
		c.writef("  %s%s\n", padRight(cat, nameWidth), value)
	}
	if len(s.Overrun) > 0 {
		c.writef("  %s\n", c.scheme.Warn.Sprintf("VUs still running after the grace period: %v", s.Overrun))
	}
}

func (c *Console) rule() {
	c.writeln(c.scheme.Rule.Sprint(strings.Repeat("━", ruleWidth)))
}

func (c *Console) write(s string) {
	fmt.Fprint(c.w, s)
}

func (c *Console) writef(format string, args ...interface{}) {
	fmt.Fprintf(c.w, format, args...)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.w, s)
}
