package httpx_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vigil-go/vigil"
	"github.com/vigil-go/vigil/httpx"
)

func newTestExecutor() *vigil.Executor {
	return vigil.NewExecutor(vigil.WithExecutorHandler(
		vigil.NewHandler(nil, vigil.WithHandlerLogger(slog.New(slog.DiscardHandler))),
	))
}

func fastRetry(maxAttempts int) vigil.RetryConfig {
	return vigil.DefaultRetryConfig(
		vigil.WithMaxAttempts(maxAttempts),
		vigil.WithBaseDelay(time.Millisecond),
		vigil.WithJitter(false),
	)
}

func TestClientRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		_, _ = io.WriteString(w, "finally")
	}))
	defer srv.Close()

	client := httpx.NewClient(newTestExecutor(), srv.Client(), fastRetry(3))

	resp, err := client.Get(context.Background(), srv.URL)
	require.NoError(t, err)

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "finally", string(body))
	assert.EqualValues(t, 3, hits.Load())
}

func TestClientDoesNotRetryNotFound(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := httpx.NewClient(newTestExecutor(), srv.Client(), fastRetry(5))

	_, err := client.Get(context.Background(), srv.URL+"/missing")
	require.Error(t, err)

	var statusErr *httpx.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.HTTPStatusCode())

	var derr *vigil.DetailedError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, vigil.CategoryResourceNotFound, derr.Category)

	assert.EqualValues(t, 1, hits.Load())
}

func TestClientCircuitBreaker(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ex := newTestExecutor()
	ex.AddCircuitBreaker("api", vigil.DefaultCircuitBreakerConfig(vigil.FailureThreshold(2)))

	client := httpx.NewClient(ex, srv.Client(), fastRetry(1), httpx.WithBreaker("api"))

	for range 2 {
		_, err := client.Get(context.Background(), srv.URL)
		require.Error(t, err)
	}

	_, err := client.Get(context.Background(), srv.URL)
	require.True(t, vigil.IsCircuitOpen(err), "err = %v, want circuit rejection", err)

	assert.EqualValues(t, 2, hits.Load(), "open breaker must not reach the server")
}

func TestClientReplaysRequestBody(t *testing.T) {
	t.Parallel()

	var (
		hits   atomic.Int64
		mu     sync.Mutex
		bodies []string
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, _ := io.ReadAll(r.Body)

		mu.Lock()
		bodies = append(bodies, string(payload))
		mu.Unlock()

		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	client := httpx.NewClient(newTestExecutor(), srv.Client(), fastRetry(2))

	req, err := http.NewRequestWithContext(context.Background(),
		http.MethodPost, srv.URL, strings.NewReader("payload-1"))
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, bodies, 2)
	assert.Equal(t, []string{"payload-1", "payload-1"}, bodies)
}

func TestClientPropagatesTransportErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse connections

	client := httpx.NewClient(newTestExecutor(), http.DefaultClient, fastRetry(2))

	_, err := client.Get(context.Background(), srv.URL)
	require.Error(t, err)

	var derr *vigil.DetailedError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, vigil.CategoryConnection, derr.Category)
}

func TestStatusErrorMessage(t *testing.T) {
	t.Parallel()

	se := &httpx.StatusError{StatusCode: http.StatusTooManyRequests}
	assert.Equal(t, "http status 429 Too Many Requests", se.Error())

	var coder vigil.StatusCoder = se
	assert.Equal(t, 429, coder.HTTPStatusCode())
}
