// Package request executes outbound platform API calls with retries,
// backoff and pacing.
package request

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// bodySnippetLimit caps how much of an error response body is kept.
const bodySnippetLimit = 500

// StatusError reports a non-success HTTP response. Body holds at most the
// first 500 bytes of the response so failing payloads stay readable in job
// logs.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
	RetryAfter time.Duration
}

// NewStatusError builds a StatusError, truncating the body snippet.
func NewStatusError(statusCode int, rawURL string, body []byte, retryAfter time.Duration) *StatusError {
	snippet := body
	if len(snippet) > bodySnippetLimit {
		snippet = snippet[:bodySnippetLimit]
	}
	return &StatusError{
		StatusCode: statusCode,
		URL:        rawURL,
		Body:       string(snippet),
		RetryAfter: retryAfter,
	}
}

// Error formats the failure with the URL and body snippet on separate lines.
func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP Error %d\nURL: %s\nResponse: %s...", e.StatusCode, e.URL, e.Body)
}

// Retryable reports whether the error is transient: a network-level failure
// or one of the retryable server statuses (500, 502, 503, 504). Client
// errors are permanent and surface to credential rotation instead.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case 500, 502, 503, 504:
			return true
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}
