package rotation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/credential"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
	"github.com/Timothy-Git/GitMetadataCrawler/internal/request"
)

// TestDriverBansOnAuthError verifies a credential failure bans the token
// and the next token completes the call.
func TestDriverBansOnAuthError(t *testing.T) {
	t.Parallel()

	pool := credential.New([]string{"bad", "good"}, time.Minute, realClock{})
	driver := NewDriver(pool, gitmeta.PlatformGitHub, zap.NewNop())
	log := newRecordingLog()

	var used []string
	err := driver.Do(context.Background(), log, "job-1", func(token string) error {
		used = append(used, token)
		if token == "bad" {
			return request.NewStatusError(401, "http://x", []byte("nope"), 0)
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"bad", "good"}, used)
	require.True(t, log.contains("Token banned due to error"))

	// The banned token must not come back while cooling down.
	for i := 0; i < 4; i++ {
		token, acquireErr := pool.Acquire()
		require.NoError(t, acquireErr)
		require.Equal(t, "good", token)
	}
}

// TestDriverKeepsTokenOnUnrelatedError ensures non-credential failures
// burn an attempt without banning.
func TestDriverKeepsTokenOnUnrelatedError(t *testing.T) {
	t.Parallel()

	pool := credential.New([]string{"a", "b"}, time.Minute, realClock{})
	driver := NewDriver(pool, gitmeta.PlatformGitLab, zap.NewNop())
	log := newRecordingLog()

	calls := 0
	err := driver.Do(context.Background(), log, "job-2", func(string) error {
		calls++
		if calls == 1 {
			return errors.New("flaky parse")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
	require.True(t, log.contains("Token failed (not banned)"))

	// Both tokens stay in rotation.
	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		token, acquireErr := pool.Acquire()
		require.NoError(t, acquireErr)
		seen[token] = true
	}
	require.Len(t, seen, 2)
}

// TestDriverAttemptBudget caps attempts at the pool size and aggregates
// the final failure.
func TestDriverAttemptBudget(t *testing.T) {
	t.Parallel()

	pool := credential.New([]string{"a", "b", "c"}, time.Minute, realClock{})
	driver := NewDriver(pool, gitmeta.PlatformGitHub, zap.NewNop())
	log := newRecordingLog()

	calls := 0
	boom := errors.New("boom")
	err := driver.Do(context.Background(), log, "job-3", func(string) error {
		calls++
		return boom
	})
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, calls)
	require.True(t, log.contains("All tokens failed. Last error: boom"))
}

// TestDriverExhaustedPool reports exhaustion when every token is banned.
func TestDriverExhaustedPool(t *testing.T) {
	t.Parallel()

	pool := credential.New([]string{"only"}, time.Hour, realClock{})
	pool.Ban("only")
	driver := NewDriver(pool, gitmeta.PlatformBitbucket, zap.NewNop())
	log := newRecordingLog()

	err := driver.Do(context.Background(), log, "job-4", func(string) error { return nil })
	require.ErrorIs(t, err, credential.ErrExhausted)
	require.True(t, log.contains("No tokens available for requests (all are exhausted)."))
}

// TestShouldBan checks structured statuses first, then free-text markers.
func TestShouldBan(t *testing.T) {
	t.Parallel()

	require.True(t, ShouldBan(request.NewStatusError(401, "http://x", nil, 0)))
	require.True(t, ShouldBan(request.NewStatusError(403, "http://x", nil, 0)))
	require.True(t, ShouldBan(request.NewStatusError(429, "http://x", nil, 0)))
	require.False(t, ShouldBan(request.NewStatusError(500, "http://x", nil, 0)))

	require.True(t, ShouldBan(errors.New("API rate limit exceeded")))
	require.True(t, ShouldBan(errors.New("Authentication required")))
	require.True(t, ShouldBan(errors.New("401 Unauthorized")))
	require.False(t, ShouldBan(errors.New("connection reset by peer")))
	require.False(t, ShouldBan(nil))
}

// TestMaskToken never leaks more than a short prefix.
func TestMaskToken(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ghp_****", maskToken("ghp_secretvalue"))
	require.Equal(t, "****", maskToken("abc"))
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type recordingLog struct {
	mu    sync.Mutex
	lines []string
}

func newRecordingLog() *recordingLog {
	return &recordingLog{}
}

func (r *recordingLog) Append(_ context.Context, jobID string, level gitmeta.LogLevel, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, string(level)+" "+jobID+" "+message)
}

func (r *recordingLog) contains(fragment string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range r.lines {
		if strings.Contains(line, fragment) {
			return true
		}
	}
	return false
}
