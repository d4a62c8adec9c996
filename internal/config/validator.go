package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/foreigner-chat/chatload/internal/threshold"
)

// ValidationError is a problem with one configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors collects every problem found in a configuration.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e.Errors))
	for i, err := range e.Errors {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Add records a problem with field.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors reports whether anything was recorded.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Has reports whether a problem was recorded for field.
func (e *ValidationErrors) Has(field string) bool {
	for _, err := range e.Errors {
		if err.Field == field {
			return true
		}
	}
	return false
}

func (e *ValidationErrors) orNil() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// Validate checks the configuration after defaults and overrides have been
// applied. It returns nil or a *ValidationErrors listing every problem.
func (c *RunConfig) Validate() error {
	errs := &ValidationErrors{}

	if c.Scenario == "" {
		errs.Add("scenario", "scenario is required")
	}

	if len(c.Stages) == 0 {
		errs.Add("stages", "at least one stage is required")
	}
	for i, st := range c.Stages {
		prefix := fmt.Sprintf("stages[%d]", i)
		if st.Duration <= 0 {
			errs.Add(prefix+".duration", "duration must be positive")
		}
		if st.Target < 0 {
			errs.Add(prefix+".target", "target cannot be negative")
		}
	}

	if c.Tick <= 0 {
		errs.Add("tick", "tick must be positive")
	}
	if c.TotalGraceDuration < 0 {
		errs.Add("totalGraceDuration", "grace duration cannot be negative")
	}

	validateThresholds(c.Thresholds, errs)
	validateSettings(&c.Settings, errs)

	return errs.orNil()
}

func validateThresholds(t map[string][]string, errs *ValidationErrors) {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			errs.Add("thresholds", "metric name cannot be empty")
			continue
		}
		for i, expr := range t[name] {
			if _, err := threshold.Parse(expr); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", name, i), err.Error())
			}
		}
	}
}

func validateSettings(s *Settings, errs *ValidationErrors) {
	if s.BaseURL != "" {
		validateURL("settings.baseUrl", s.BaseURL, []string{"http", "https"}, errs)
	}
	if s.WSURL != "" {
		validateURL("settings.wsUrl", s.WSURL, []string{"ws", "wss"}, errs)
	}
	if s.Timeout < 0 {
		errs.Add("settings.timeout", "timeout cannot be negative")
	}
	if s.SessionDuration < 0 {
		errs.Add("settings.sessionDuration", "session duration cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}
	if s.Reconnect.Delay < 0 {
		errs.Add("settings.reconnect.delay", "delay cannot be negative")
	}
	if s.Reconnect.MaxAttempts < 0 {
		errs.Add("settings.reconnect.maxAttempts", "cannot be negative")
	}
}

func validateURL(field, raw string, schemes []string, errs *ValidationErrors) {
	u, err := url.Parse(raw)
	if err != nil {
		errs.Add(field, fmt.Sprintf("invalid URL: %v", err))
		return
	}
	for _, scheme := range schemes {
		if u.Scheme == scheme {
			if u.Host == "" {
				errs.Add(field, "URL has no host")
			}
			return
		}
	}
	errs.Add(field, fmt.Sprintf("URL scheme must be one of %s", strings.Join(schemes, ", ")))
}
