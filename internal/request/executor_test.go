package request

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig() Config {
	return Config{
		Timeout:     time.Second,
		MaxAttempts: 5,
		Backoff: BackoffPolicy{
			Multiplier: 0.001,
			Min:        time.Millisecond,
			Max:        5 * time.Millisecond,
		},
		UserAgent: "test-agent/1.0",
	}
}

// TestExecutorRetriesServerErrors verifies transient 5xx responses are
// retried until the call succeeds.
func TestExecutorRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	exec := New(srv.Client(), testConfig(), zap.NewNop())
	resp, err := exec.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, int32(3), calls.Load())
}

// TestExecutorDoesNotRetryClientErrors ensures 4xx responses fail on the
// first attempt.
func TestExecutorDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("bad credentials"))
	}))
	defer srv.Close()

	exec := New(srv.Client(), testConfig(), zap.NewNop())
	_, err := exec.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	require.Contains(t, statusErr.Body, "bad credentials")
}

// TestExecutorReturnsLastErrorUnchanged checks the final status error keeps
// its structure after the retry budget is spent.
func TestExecutorReturnsLastErrorUnchanged(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream sad"))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxAttempts = 2
	exec := New(srv.Client(), cfg, zap.NewNop())
	_, err := exec.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	require.Equal(t, "HTTP Error 502\nURL: "+srv.URL+"\nResponse: upstream sad...", err.Error())
}

// TestExecutorSetsUserAgent ensures the configured agent is attached when
// the caller supplied none.
func TestExecutorSetsUserAgent(t *testing.T) {
	t.Parallel()

	var agent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	exec := New(srv.Client(), testConfig(), zap.NewNop())
	_, err := exec.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, "test-agent/1.0", agent.Load())
}

// TestExecutorAttemptTimeout confirms a slow upstream surfaces a retryable
// network error.
func TestExecutorAttemptTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	cfg.MaxAttempts = 1
	exec := New(srv.Client(), cfg, zap.NewNop())
	_, err := exec.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	require.True(t, Retryable(err), "timeouts should be retryable")
}

// TestExecutorStopsOnContextCancel ensures cancellation aborts the retry
// loop instead of waiting out the backoff.
func TestExecutorStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Backoff = BackoffPolicy{Multiplier: 10, Min: 10 * time.Second, Max: 20 * time.Second}
	exec := New(srv.Client(), cfg, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := exec.Do(ctx, Request{Method: http.MethodGet, URL: srv.URL})
	require.Error(t, err)
	require.Less(t, time.Since(start), 5*time.Second)
}

// TestRetryWaitHonorsRetryAfter verifies the server hint wins over the
// backoff schedule, floored at the request delay.
func TestRetryWaitHonorsRetryAfter(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RequestDelay = time.Second
	cfg.Backoff = BackoffPolicy{Multiplier: 1, Min: 2 * time.Second, Max: 8 * time.Second}
	exec := New(nil, cfg, zap.NewNop())

	hinted := NewStatusError(429, "http://x", nil, 3*time.Second)
	require.Equal(t, 3*time.Second, exec.retryWait(hinted, 1))

	tiny := NewStatusError(429, "http://x", nil, 200*time.Millisecond)
	require.Equal(t, time.Second, exec.retryWait(tiny, 1))

	plain := NewStatusError(500, "http://x", nil, 0)
	require.Equal(t, 2*time.Second, exec.retryWait(plain, 1))
}

// TestBackoffPolicySchedule pins the doubling schedule with its clamps.
func TestBackoffPolicySchedule(t *testing.T) {
	t.Parallel()

	policy := BackoffPolicy{Multiplier: 1, Min: 2 * time.Second, Max: 8 * time.Second}
	want := []time.Duration{
		2 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		8 * time.Second,
	}
	for attempt, expected := range want {
		require.Equal(t, expected, policy.Wait(attempt+1), "attempt %d", attempt+1)
	}
}

// TestRetryable enumerates the retryable error classes.
func TestRetryable(t *testing.T) {
	t.Parallel()

	require.False(t, Retryable(nil))
	require.False(t, Retryable(errors.New("opaque")))
	require.True(t, Retryable(&url.Error{Op: "Get", URL: "http://x", Err: errors.New("connection refused")}))

	for _, code := range []int{500, 502, 503, 504} {
		require.True(t, Retryable(NewStatusError(code, "http://x", nil, 0)), "status %d", code)
	}
	for _, code := range []int{400, 401, 403, 404, 429} {
		require.False(t, Retryable(NewStatusError(code, "http://x", nil, 0)), "status %d", code)
	}
}

// TestStatusErrorTruncatesBody caps the stored snippet at 500 bytes.
func TestStatusErrorTruncatesBody(t *testing.T) {
	t.Parallel()

	body := []byte(strings.Repeat("x", 600))
	statusErr := NewStatusError(500, "http://x", body, 0)
	require.Len(t, statusErr.Body, 500)
	require.True(t, strings.HasSuffix(statusErr.Error(), "..."))
}

// TestParseRetryAfter covers the delta-seconds forms.
func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	require.Equal(t, 2*time.Second, parseRetryAfter("2"))
	require.Equal(t, 1500*time.Millisecond, parseRetryAfter("1.5"))
	require.Equal(t, time.Duration(0), parseRetryAfter(""))
	require.Equal(t, time.Duration(0), parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
	require.Equal(t, time.Duration(0), parseRetryAfter("-3"))
}
