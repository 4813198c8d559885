package httpx

import (
	"context"
	"net/http"
	"strconv"

	"github.com/vigil-go/vigil"
)

// StatusError is returned when a response's status code is 400 or above.
// The original response remains accessible for header/body inspection;
// the body has not been read or closed.
type StatusError struct {
	// Response is the HTTP response that triggered the error.
	Response   *http.Response
	StatusCode int
}

// Error returns a human-readable description of the status error.
func (e *StatusError) Error() string {
	return "http status " + strconv.Itoa(e.StatusCode) + " " + http.StatusText(e.StatusCode)
}

// HTTPStatusCode exposes the code to vigil's status-code pattern matchers.
func (e *StatusError) HTTPStatusCode() int { return e.StatusCode }

type (
	// Client wraps an http.Client with vigil's retry loop and optional
	// circuit breaker.
	//
	// Pattern: Adapter — bridges net/http and the resilience engine by
	// translating HTTP status codes into classified failures.
	Client struct {
		hc      *http.Client
		ex      *vigil.Executor
		cfg     vigil.RetryConfig
		breaker string
	}

	// Option configures a Client.
	Option func(*Client)
)

// WithBreaker routes every request through the named circuit breaker.
func WithBreaker(name string) Option {
	return func(c *Client) { c.breaker = name }
}

// NewClient creates a Client executing requests through ex with cfg. A nil
// hc uses http.DefaultClient.
func NewClient(ex *vigil.Executor, hc *http.Client, cfg vigil.RetryConfig, opts ...Option) *Client {
	if hc == nil {
		hc = http.DefaultClient
	}

	c := &Client{hc: hc, ex: ex, cfg: cfg}
	for _, o := range opts {
		o(c)
	}

	return c
}

// Do executes req through the engine. Each attempt clones the request;
// bodies are replayed only when req.GetBody is set (true for requests
// built by http.NewRequest with replayable readers).
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	var execOpts []vigil.ExecOption

	if c.breaker != "" {
		execOpts = append(execOpts, vigil.ThroughCircuitBreaker(c.breaker))
	}

	execOpts = append(execOpts, vigil.WithContext(&vigil.ErrorContext{
		Operation: req.Method,
		Endpoint:  req.URL.Path,
	}))

	result, err := vigil.Execute(req.Context(), c.ex,
		func(ctx context.Context) (*http.Response, error) {
			attempt := req.Clone(ctx)

			if req.Body != nil && req.GetBody != nil {
				body, bodyErr := req.GetBody()
				if bodyErr != nil {
					return nil, bodyErr
				}

				attempt.Body = body
			}

			resp, doErr := c.hc.Do(attempt)
			if doErr != nil {
				return nil, doErr
			}

			if resp.StatusCode >= http.StatusBadRequest {
				return nil, &StatusError{Response: resp, StatusCode: resp.StatusCode}
			}

			return resp, nil
		},
		c.cfg, execOpts...)
	if err != nil {
		return nil, err
	}

	return result.Value, nil
}

// Get issues a GET request to url through the engine.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	return c.Do(req)
}
