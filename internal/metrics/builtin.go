package metrics

import "strings"

// Built-in metric names recorded by the engine itself.
const (
	VUs               = "vus"
	VUsMax            = "vus_max"
	IterationDuration = "iteration_duration"

	HTTPReqs        = "http_reqs"
	HTTPReqDuration = "http_req_duration"
	HTTPReqFailed   = "http_req_failed"
	DataReceived    = "data_received"
	DataSent        = "data_sent"

	WSSessions        = "ws_sessions"
	WSConnectDuration = "ws_connect_duration"
	WSSessionDuration = "ws_session_duration"
	WSMsgsSent        = "ws_msgs_sent"
	WSMsgsReceived    = "ws_msgs_received"
	WSReconnects      = "ws_reconnects"

	Checks = "checks"

	ErrorsConnection = "errors_connection"
	ErrorsNotOpen    = "errors_not_open"
	ErrorsScenario   = "errors_scenario"
	ErrorsOverrun    = "errors_overrun"
)

// ErrorCategories maps each reported error category to its counter.
var ErrorCategories = map[string]string{
	"connection": ErrorsConnection,
	"not_open":   ErrorsNotOpen,
	"scenario":   ErrorsScenario,
	"overrun":    ErrorsOverrun,
}

const checkPrefix = Checks + "{check:"

// CheckName is the rate metric holding the results of one named check.
func CheckName(check string) string {
	return checkPrefix + check + "}"
}

// CheckLabel returns the check name encoded in a CheckName metric name.
func CheckLabel(metric string) (string, bool) {
	if !strings.HasPrefix(metric, checkPrefix) || !strings.HasSuffix(metric, "}") {
		return "", false
	}
	return metric[len(checkPrefix) : len(metric)-1], true
}
