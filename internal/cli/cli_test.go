package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foreigner-chat/chatload/internal/engine"
)

func execute(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newRESTServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":[]}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const restConfig = `
name: rest smoke
scenario: chat-rest
tick: 50ms
totalGraceDuration: 1s
stages:
  - duration: 300ms
    target: 2
thresholds:
  http_req_failed: ["rate<0.5"]
  %s
settings:
  baseUrl: %s
`

func TestRun_Passes(t *testing.T) {
	srv := newRESTServer(t)
	path := writeConfig(t, fmt.Sprintf(restConfig, "", srv.URL))
	export := filepath.Join(t.TempDir(), "summary.json")

	code, stdout, stderr := execute(t, "run", path, "--summary-export", export, "--no-color")
	require.Equal(t, engine.ExitPassed, code, "stdout:\n%s\nstderr:\n%s", stdout, stderr)
	assert.Contains(t, stdout, "rest smoke - PASSED")
	assert.Contains(t, stdout, "http_req_failed rate<0.5")

	raw, err := os.ReadFile(export)
	require.NoError(t, err)
	var summary engine.Summary
	require.NoError(t, json.Unmarshal(raw, &summary))
	assert.True(t, summary.Passed)
	assert.Equal(t, "chat-rest", summary.Scenario)
	assert.Contains(t, summary.Metrics, "http_reqs")
	assert.Len(t, summary.Errors, 4)
}

func TestRun_ThresholdFailure(t *testing.T) {
	srv := newRESTServer(t)
	path := writeConfig(t, fmt.Sprintf(restConfig, `http_reqs: ["count>1000000"]`, srv.URL))

	code, stdout, _ := execute(t, "run", path, "-q")
	assert.Equal(t, engine.ExitThresholdsFailed, code)
	assert.Equal(t, "FAILED ✗\n", stdout)
}

func TestRun_InvalidConfiguration(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing file", []string{"run", "does-not-exist.yaml"}, "config file not found"},
		{"bad stages", []string{"run", "--stages", "soon:10", "--ws-url", "ws://localhost/ws", "--base-url", "http://localhost"}, "stage 1"},
		{"unknown scenario", []string{"run", "--scenario", "chat-nope", "--stages", "1s:1"}, "unknown scenario"},
		{"missing setting", []string{"run", "--scenario", "chat-concurrency", "--stages", "1s:1"}, "settings.wsUrl"},
		{"bad grace", []string{"run", "--grace", "forever"}, "--grace"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, stderr := execute(t, tt.args...)
			assert.Equal(t, engine.ExitInvalidConfig, code)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestRun_BadLogLevel(t *testing.T) {
	code, _, stderr := execute(t, "run", "--log-level", "loud")
	assert.Equal(t, engine.ExitError, code)
	assert.Contains(t, stderr, "--log-level")
}

func TestValidate(t *testing.T) {
	path := writeConfig(t, fmt.Sprintf(restConfig, "", "http://localhost:8080"))

	code, stdout, _ := execute(t, "validate", path)
	require.Equal(t, engine.ExitPassed, code)
	assert.Contains(t, stdout, "Configuration is valid: rest smoke (scenario chat-rest)")
	assert.Contains(t, stdout, "stage-1")
	assert.Contains(t, stdout, "peak 2 VUs")
	assert.Contains(t, stdout, "http_req_failed: rate<0.5")

	code, _, stderr := execute(t, "validate", path, "--scenario", "chat-all")
	assert.Equal(t, engine.ExitInvalidConfig, code)
	assert.Contains(t, stderr, "settings.wsUrl")

	bad := writeConfig(t, "stages:\n  - duration: 1s\n    target: -1\n")
	code, _, stderr = execute(t, "validate", bad)
	assert.Equal(t, engine.ExitInvalidConfig, code)
	assert.Contains(t, stderr, "stages[0].target")
}

func TestScenariosAndVersion(t *testing.T) {
	code, stdout, _ := execute(t, "scenarios")
	require.Equal(t, engine.ExitPassed, code)
	for _, name := range []string{"chat-all", "chat-concurrency", "chat-rest", "chat-send-message"} {
		assert.Contains(t, stdout, name)
	}

	code, stdout, _ = execute(t, "version")
	require.Equal(t, engine.ExitPassed, code)
	assert.Equal(t, "chatload "+version+"\n", stdout)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger("info", "json", &buf)
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("shown")
	require.NoError(t, logger.Sync())
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = newLogger("info", "xml", &buf)
	assert.Error(t, err)
}
