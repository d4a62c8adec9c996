// Package scenario holds the built-in chat scenarios. Each one is a
// scheduler.Scenario built from an Env that carries the host primitives:
// the metrics registry, the HTTP client, the WebSocket dialer and the
// fixtures.
package scenario

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/foreigner-chat/chatload/internal/config"
	"github.com/foreigner-chat/chatload/internal/httpx"
	"github.com/foreigner-chat/chatload/internal/metrics"
	"github.com/foreigner-chat/chatload/internal/scheduler"
	"github.com/foreigner-chat/chatload/internal/session"
)

// apiPrefix is the chat REST API root below the base URL.
const apiPrefix = "/api/v1/chat"

// Timing holds the intervals the scenarios pace themselves with.
type Timing struct {
	// Message is the chat message send interval.
	Message time.Duration
	// Read is the read-confirmation interval.
	Read time.Duration
	// Refetch is the history re-fetch interval while a socket is open.
	Refetch time.Duration
	// Pause is the think time between steps and iterations.
	Pause time.Duration
}

// DefaultTiming matches the pacing of the production load scripts.
func DefaultTiming() Timing {
	return Timing{
		Message: time.Second,
		Read:    5 * time.Second,
		Refetch: 30 * time.Second,
		Pause:   time.Second,
	}
}

// Env is everything a scenario needs from the host.
type Env struct {
	Settings config.Settings
	Registry *metrics.Registry
	HTTP     *httpx.Client
	Dialer   session.Dialer
	Data     *Data
	Logger   *zap.Logger
	Timing   Timing
}

// NewEnv builds the shared HTTP client and WebSocket dialer from settings
// and loads the fixtures.
func NewEnv(settings config.Settings, reg *metrics.Registry, logger *zap.Logger) (*Env, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	data, err := LoadData(settings.DataDir)
	if err != nil {
		return nil, err
	}

	httpCfg := httpx.DefaultConfig()
	httpCfg.Timeout = settings.Timeout.Or(httpCfg.Timeout)
	httpCfg.InsecureSkipVerify = settings.InsecureSkipVerify
	httpCfg.Headers = settings.Headers
	if settings.MaxIdleConnsPerHost > 0 {
		httpCfg.MaxIdleConnsPerHost = settings.MaxIdleConnsPerHost
	}
	if settings.UserAgent != "" {
		httpCfg.UserAgent = settings.UserAgent
	}

	dialCfg := session.DefaultDialerConfig()
	dialCfg.HandshakeTimeout = settings.Timeout.Or(dialCfg.HandshakeTimeout)
	dialCfg.InsecureSkipVerify = settings.InsecureSkipVerify

	logger.Info("fixtures loaded",
		zap.String("dir", settings.DataDir),
		zap.Int("combinations", len(data.Combinations)),
		zap.Int("rooms", len(data.RoomIDs)),
		zap.Int("users", len(data.UserIDs)),
	)

	return &Env{
		Settings: settings,
		Registry: reg,
		HTTP:     httpx.New(httpCfg, settings.BaseURL, reg, logger),
		Dialer:   session.NewWSDialer(dialCfg),
		Data:     data,
		Logger:   logger,
		Timing:   DefaultTiming(),
	}, nil
}

// handshakeHeader returns the configured headers for WebSocket handshakes.
func (env *Env) handshakeHeader() http.Header {
	h := make(http.Header, len(env.Settings.Headers))
	for k, v := range env.Settings.Headers {
		h.Set(k, v)
	}
	return h
}

// Factory builds a scenario function bound to env.
type Factory func(env *Env) scheduler.Scenario

// Definition describes a built-in scenario.
type Definition struct {
	Name        string
	Description string
	// Needs lists the settings the scenario requires.
	Needs []string
	New   Factory
}

var builtins = map[string]Definition{}

func register(d Definition) {
	builtins[d.Name] = d
}

func init() {
	register(Definition{
		Name:        "chat-send-message",
		Description: "fetch history, then hold a socket sending a message every second",
		Needs:       []string{"baseUrl", "wsUrl"},
		New:         newSendMessage,
	})
	register(Definition{
		Name:        "chat-concurrency",
		Description: "every VU joins one shared room, sending messages and read confirmations",
		Needs:       []string{"wsUrl"},
		New:         newConcurrency,
	})
	register(Definition{
		Name:        "chat-all",
		Description: "create a 1:1 room, fetch history, chat with typing and read events",
		Needs:       []string{"baseUrl", "wsUrl"},
		New:         newAll,
	})
	register(Definition{
		Name:        "chat-rest",
		Description: "REST-only flow: rooms, paginated history, mark read, search, leave",
		Needs:       []string{"baseUrl"},
		New:         newREST,
	})
}

// Lookup returns the named built-in scenario.
func Lookup(name string) (Definition, bool) {
	d, ok := builtins[name]
	return d, ok
}

// List returns the built-in scenarios ordered by name.
func List() []Definition {
	defs := make([]Definition, 0, len(builtins))
	for _, d := range builtins {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Names returns the built-in scenario names in order.
func Names() []string {
	defs := List()
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// Build resolves name and binds it to env, checking that the settings it
// needs are present.
func Build(name string, env *Env) (scheduler.Scenario, error) {
	d, ok := Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q (available: %v)", name, Names())
	}
	if missing := d.Missing(env.Settings); len(missing) > 0 {
		return nil, fmt.Errorf("scenario %q requires settings.%s", name, missing[0])
	}
	return d.New(env), nil
}

// Missing returns the settings d needs that are empty in s.
func (d Definition) Missing(s config.Settings) []string {
	var missing []string
	for _, need := range d.Needs {
		if settingValue(s, need) == "" {
			missing = append(missing, need)
		}
	}
	return missing
}

func settingValue(s config.Settings, key string) string {
	switch key {
	case "baseUrl":
		return s.BaseURL
	case "wsUrl":
		return s.WSURL
	default:
		return ""
	}
}
