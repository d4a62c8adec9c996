package httpx

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Failed reports a status that counts toward http_req_failed.
func (r *Response) Failed() bool {
	return r.StatusCode >= 400
}

// String returns the body as text.
func (r *Response) String() string {
	return string(r.Body)
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v interface{}) error {
	return json.Unmarshal(r.Body, v)
}

// JSON looks up a value in the body. Both gjson paths (data.id) and simple
// JSONPath ($.data[0].id) are accepted.
func (r *Response) JSON(path string) gjson.Result {
	return gjson.GetBytes(r.Body, toGJSONPath(path))
}

// toGJSONPath converts a simple JSONPath expression to gjson syntax.
func toGJSONPath(path string) string {
	if !strings.HasPrefix(path, "$") {
		return path
	}
	path = strings.TrimPrefix(strings.TrimPrefix(path, "$"), ".")
	if path == "" {
		return "@this"
	}

	path = strings.NewReplacer(`['`, ".", `']`, "", `["`, ".", `"]`, "", "[", ".", "]", "").Replace(path)
	return strings.TrimPrefix(path, ".")
}
