package output

import (
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// ColorScheme defines the colors used for the parts of the report.
type ColorScheme struct {
	Title     *color.Color
	Rule      *color.Color
	Section   *color.Color
	Metric    *color.Color
	Value     *color.Color
	Dim       *color.Color
	Pass      *color.Color
	Warn      *color.Color
	Fail      *color.Color
	Highlight *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:     color.New(color.Bold),
		Rule:      color.New(color.FgCyan),
		Section:   color.New(color.Bold, color.Underline),
		Metric:    color.New(color.FgWhite),
		Value:     color.New(color.FgCyan),
		Dim:       color.New(color.Faint),
		Pass:      color.New(color.FgGreen, color.Bold),
		Warn:      color.New(color.FgYellow, color.Bold),
		Fail:      color.New(color.FgRed, color.Bold),
		Highlight: color.New(color.FgMagenta, color.Bold),
	}
}

// NoColorScheme returns a color scheme with all colors disabled.
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range []*color.Color{
		scheme.Title, scheme.Rule, scheme.Section, scheme.Metric, scheme.Value,
		scheme.Dim, scheme.Pass, scheme.Warn, scheme.Fail, scheme.Highlight,
	} {
		c.DisableColor()
	}
	return scheme
}

// forceColors enables every color of the scheme regardless of the
// terminal, for writers that are not *os.File.
func (s *ColorScheme) forceColors() *ColorScheme {
	for _, c := range []*color.Color{
		s.Title, s.Rule, s.Section, s.Metric, s.Value,
		s.Dim, s.Pass, s.Warn, s.Fail, s.Highlight,
	} {
		c.EnableColor()
	}
	return s
}

// PassIcon returns a check mark.
func (s *ColorScheme) PassIcon() string {
	return s.Pass.Sprint("✓")
}

// FailIcon returns a cross.
func (s *ColorScheme) FailIcon() string {
	return s.Fail.Sprint("✗")
}

// WarnIcon marks a threshold that could not be evaluated.
func (s *ColorScheme) WarnIcon() string {
	return s.Warn.Sprint("⚠")
}

// IsTerminal reports whether w is an interactive terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// supportsColors honours NO_COLOR, FORCE_COLOR and dumb terminals.
func supportsColors() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return true
	}
	term := os.Getenv("TERM")
	return term != "dumb"
}
