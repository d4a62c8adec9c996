package httpx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Request describes one HTTP call made by a scenario.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Headers map[string]string
	Body    interface{}

	// Trend names an extra trend the request duration is recorded into,
	// like a k6 custom Trend fed from res.timings.duration.
	Trend string
}

// RequestOption configures a Request.
type RequestOption func(*Request)

// NewRequest creates a request for path, which may be absolute or relative
// to the client's base URL.
func NewRequest(method, path string, opts ...RequestOption) *Request {
	r := &Request{
		Method:  method,
		Path:    path,
		Query:   make(url.Values),
		Headers: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithQuery adds a query parameter.
func WithQuery(key, value string) RequestOption {
	return func(r *Request) {
		r.Query.Add(key, value)
	}
}

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		r.Headers[key] = value
	}
}

// WithBody sets the body. Strings and byte slices are sent as is, any
// other value is encoded as JSON.
func WithBody(body interface{}) RequestOption {
	return func(r *Request) {
		r.Body = body
	}
}

// WithTrend records the request duration into the named trend as well.
func WithTrend(name string) RequestOption {
	return func(r *Request) {
		r.Trend = name
	}
}

// build constructs the http.Request and returns the encoded body size.
func (r *Request) build(baseURL string) (*http.Request, int, error) {
	reqURL, err := r.resolve(baseURL)
	if err != nil {
		return nil, 0, err
	}

	var payload []byte
	if r.Body != nil {
		switch body := r.Body.(type) {
		case string:
			payload = []byte(body)
		case []byte:
			payload = body
		case io.Reader:
			if payload, err = io.ReadAll(body); err != nil {
				return nil, 0, err
			}
		default:
			if payload, err = json.Marshal(body); err != nil {
				return nil, 0, fmt.Errorf("encoding request body: %w", err)
			}
			if _, ok := r.Headers["Content-Type"]; !ok {
				r.Headers["Content-Type"] = "application/json"
			}
		}
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(r.Method, reqURL.String(), bodyReader)
	if err != nil {
		return nil, 0, err
	}
	for key, value := range r.Headers {
		req.Header.Set(key, value)
	}
	return req, len(payload), nil
}

func (r *Request) resolve(baseURL string) (*url.URL, error) {
	if u, err := url.Parse(r.Path); err == nil && u.IsAbs() {
		return withQuery(u, r.Query), nil
	}
	if baseURL == "" {
		return nil, fmt.Errorf("relative path %q without a base URL", r.Path)
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	path, rawQuery, _ := strings.Cut(r.Path, "?")
	if u.Path == "" {
		u.Path = path
	} else {
		u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.TrimLeft(path, "/")
	}
	u.RawQuery = rawQuery
	return withQuery(u, r.Query), nil
}

func withQuery(u *url.URL, extra url.Values) *url.URL {
	if len(extra) == 0 {
		return u
	}
	query := u.Query()
	for key, values := range extra {
		for _, value := range values {
			query.Add(key, value)
		}
	}
	u.RawQuery = query.Encode()
	return u
}
