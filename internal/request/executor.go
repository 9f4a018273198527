package request

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/metrics"
)

// Config tunes the executor.
type Config struct {
	// Timeout bounds each individual attempt, not the whole retry loop.
	Timeout     time.Duration
	MaxAttempts int
	Backoff     BackoffPolicy
	// RequestDelay is the floor applied when honoring Retry-After hints.
	RequestDelay time.Duration
	UserAgent    string
}

// Request captures everything needed to perform one API call.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is returned for 2xx results with the body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// Executor performs HTTP calls with bounded retries. Only transient
// failures are retried; the last error is returned unchanged once the
// attempt budget is spent.
type Executor struct {
	client *http.Client
	cfg    Config
	logger *zap.Logger
}

// New builds an Executor. A nil client falls back to a fresh http.Client
// so the per-attempt timeout still applies via request contexts.
func New(client *http.Client, cfg Config, logger *zap.Logger) *Executor {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{client: client, cfg: cfg, logger: logger}
}

// Do runs the request until it succeeds, the error is permanent, or the
// attempt budget is exhausted.
func (e *Executor) Do(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		resp, err := e.attempt(ctx, req)
		if err == nil {
			if attempt > 1 {
				e.logger.Debug("request recovered after retry",
					zap.String("url", req.URL),
					zap.Int("attempt", attempt))
			}
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil || !Retryable(err) || attempt == e.cfg.MaxAttempts {
			break
		}
		wait := e.retryWait(err, attempt)
		e.logger.Debug("retrying request",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

// retryWait prefers a server-provided Retry-After hint over the backoff
// schedule, floored at the configured request delay.
func (e *Executor) retryWait(err error, attempt int) time.Duration {
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.RetryAfter > 0 {
		wait := statusErr.RetryAfter
		if wait < e.cfg.RequestDelay {
			wait = e.cfg.RequestDelay
		}
		return wait
	}
	return e.cfg.Backoff.Wait(attempt)
}

func (e *Executor) attempt(ctx context.Context, req Request) (*Response, error) {
	attemptCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	if e.cfg.UserAgent != "" && httpReq.Header.Get("User-Agent") == "" {
		httpReq.Header.Set("User-Agent", e.cfg.UserAgent)
	}

	start := time.Now()
	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close() //nolint:errcheck // body already consumed

	data, err := io.ReadAll(httpResp.Body)
	duration := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	metrics.ObserveOutboundRequest(req.URL, httpResp.StatusCode, duration)

	if httpResp.StatusCode >= 400 {
		retryAfter := parseRetryAfter(httpResp.Header.Get("Retry-After"))
		return nil, NewStatusError(httpResp.StatusCode, req.URL, data, retryAfter)
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
		Duration:   duration,
	}, nil
}

// parseRetryAfter understands the delta-seconds form only. Date-form
// headers are ignored rather than guessed at.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
