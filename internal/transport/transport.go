// Package transport is the minimal request executor the queue and the sync
// orchestrator depend on. Network-level failures and HTTP error statuses are
// reported through the shared fault taxonomy so callers can tell transient
// from terminal outcomes.
package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"synckit/internal/faults"
)

// Request carries one serialized backend call.
type Request struct {
	Method      string
	Path        string
	Headers     map[string]string
	Body        string
	QueryParams map[string]string
}

// Response is the backend's answer to a Request.
type Response struct {
	StatusCode int
	Body       []byte
}

// Success reports a 2xx status.
func (r *Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Executor issues requests against the backend.
type Executor interface {
	Do(ctx context.Context, req Request) (*Response, error)
}

// HTTPExecutor executes requests over net/http against a fixed base URL.
type HTTPExecutor struct {
	baseURL string
	client  *http.Client
}

func NewHTTPExecutor(baseURL string, timeout time.Duration) *HTTPExecutor {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPExecutor{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Do issues the request. Transport-level errors come back as
// *faults.NetworkError; any HTTP response, error status included, comes back
// as a Response with a nil error so callers own the status classification.
func (e *HTTPExecutor) Do(ctx context.Context, req Request) (*Response, error) {
	target := e.baseURL + req.Path
	if len(req.QueryParams) > 0 {
		values := url.Values{}
		for k, v := range req.QueryParams {
			values.Set(k, v)
		}
		target += "?" + values.Encode()
	}

	var body io.Reader
	if req.Body != "" {
		body = strings.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if req.Body != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, &faults.NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &faults.NetworkError{Err: err}
	}

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}
