// Package rotation drives credential rotation around platform API calls,
// banning credentials that trip auth or rate limit failures.
package rotation

import (
	"errors"
	"strings"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/request"
)

// banMarkers are matched against lowercased error text when no structured
// status is available.
var banMarkers = []string{"rate limit", "authentication", "unauthorized"}

// ShouldBan reports whether the failure points at the credential itself.
// Structured statuses are checked first; free-text matching is the
// fallback for providers that bury the condition in a 200-level GraphQL
// error payload.
func ShouldBan(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *request.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case 401, 403, 429:
			return true
		}
	}
	text := strings.ToLower(err.Error())
	for _, marker := range banMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// maskToken keeps a recognizable prefix while hiding the secret.
func maskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return token[:4] + "****"
}
