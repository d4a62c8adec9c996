// Package config defines the run configuration for chatload and loads it
// from YAML or JSON files.
//
// Example YAML:
//
//	name: chat send message
//	scenario: chat-send-message
//	stages:
//	  - duration: 3m
//	    target: 1000
//	  - duration: 30s
//	    target: 0
//	thresholds:
//	  ws_connect_duration: ["p(95)<1000"]
//	settings:
//	  baseUrl: http://localhost:8080
//	  wsUrl: ws://localhost:8080/plain-ws/chat
package config

import (
	"time"

	"github.com/foreigner-chat/chatload/internal/scheduler"
	"github.com/foreigner-chat/chatload/internal/session"
	"github.com/foreigner-chat/chatload/internal/threshold"
)

const (
	// DefaultScenario runs when neither the file nor the CLI names one.
	DefaultScenario = "chat-send-message"

	DefaultTimeout        = 30 * time.Second
	DefaultReconnectDelay = session.DefaultReconnectDelay
)

// RunConfig is the root configuration of a load run.
type RunConfig struct {
	// Name of the run (for reporting). Defaults to the scenario name.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Scenario selects a built-in scenario by name.
	Scenario string `json:"scenario,omitempty" yaml:"scenario,omitempty"`

	// Stages is the VU ramp profile.
	Stages []StageConfig `json:"stages" yaml:"stages"`

	// Thresholds maps a metric name to pass/fail expressions such as "p(95)<500".
	Thresholds map[string][]string `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	// TotalGraceDuration bounds how long stopping VUs may take at run end.
	TotalGraceDuration Duration `json:"totalGraceDuration,omitempty" yaml:"totalGraceDuration,omitempty"`

	// Tick is the scheduler control interval.
	Tick Duration `json:"tick,omitempty" yaml:"tick,omitempty"`

	Settings Settings `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// StageConfig is one segment of the ramp profile.
type StageConfig struct {
	Duration Duration `json:"duration" yaml:"duration"`
	Target   int      `json:"target" yaml:"target"`
	Name     string   `json:"name,omitempty" yaml:"name,omitempty"`
}

// Settings are passed to scenarios and the transports they use.
type Settings struct {
	// BaseURL is the REST API root, e.g. http://localhost:8080.
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// WSURL is the chat WebSocket endpoint, e.g. ws://localhost:8080/plain-ws/chat.
	WSURL string `json:"wsUrl,omitempty" yaml:"wsUrl,omitempty"`

	// Timeout applies to HTTP requests and the WebSocket handshake.
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	MaxIdleConnsPerHost int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	UserAgent string `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`

	// Headers are sent with every HTTP request and WebSocket handshake.
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// SessionDuration limits how long a VU holds one socket before starting
	// its next iteration. Zero holds it until the VU is stopped.
	SessionDuration Duration `json:"sessionDuration,omitempty" yaml:"sessionDuration,omitempty"`

	// DataDir holds the JSON fixtures scenarios pick users and rooms from.
	DataDir string `json:"dataDir,omitempty" yaml:"dataDir,omitempty"`

	Reconnect ReconnectConfig `json:"reconnect,omitempty" yaml:"reconnect,omitempty"`
}

// ReconnectConfig controls session reconnects.
type ReconnectConfig struct {
	Enabled     bool     `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Delay       Duration `json:"delay,omitempty" yaml:"delay,omitempty"`
	MaxAttempts int      `json:"maxAttempts,omitempty" yaml:"maxAttempts,omitempty"`
}

// Default returns a configuration with defaults applied and no stages.
func Default() *RunConfig {
	c := &RunConfig{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unset fields.
func (c *RunConfig) ApplyDefaults() {
	if c.Scenario == "" {
		c.Scenario = DefaultScenario
	}
	if c.Name == "" {
		c.Name = c.Scenario
	}
	if c.Tick == 0 {
		c.Tick = Duration(scheduler.DefaultTick)
	}
	if c.TotalGraceDuration == 0 {
		c.TotalGraceDuration = Duration(scheduler.DefaultGracefulStop)
	}
	if c.Settings.Timeout == 0 {
		c.Settings.Timeout = Duration(DefaultTimeout)
	}
	if c.Settings.Reconnect.Delay == 0 {
		c.Settings.Reconnect.Delay = Duration(DefaultReconnectDelay)
	}
	for i := range c.Stages {
		if c.Stages[i].Name == "" {
			c.Stages[i].Name = stageName(i)
		}
	}
}

// SchedulerConfig converts the ramp settings for the scheduler.
func (c *RunConfig) SchedulerConfig() scheduler.Config {
	stages := make([]scheduler.Stage, len(c.Stages))
	for i, st := range c.Stages {
		stages[i] = scheduler.Stage{
			Duration: st.Duration.D(),
			Target:   st.Target,
			Name:     st.Name,
		}
	}
	return scheduler.Config{
		Stages:       stages,
		Tick:         c.Tick.D(),
		GracefulStop: c.TotalGraceDuration.D(),
	}
}

// ThresholdSpecs returns the thresholds ordered by metric name.
func (c *RunConfig) ThresholdSpecs() ([]threshold.Spec, error) {
	return threshold.ParseAll(c.Thresholds)
}

// ReconnectPolicy converts the reconnect settings for the session layer.
func (s Settings) ReconnectPolicy() session.Policy {
	return session.Policy{
		Enabled:     s.Reconnect.Enabled,
		Delay:       s.Reconnect.Delay.Or(DefaultReconnectDelay),
		MaxAttempts: s.Reconnect.MaxAttempts,
	}
}
