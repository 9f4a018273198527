package credential

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestPoolRoundRobin verifies tokens rotate in order when none are banned.
func TestPoolRoundRobin(t *testing.T) {
	t.Parallel()

	pool := New([]string{"a", "b", "c"}, time.Minute, newFakeClock())
	for _, want := range []string{"a", "b", "c", "a", "b"} {
		got, err := pool.Acquire()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

// TestPoolBanAndCooldown ensures a banned token sits out until the cooldown
// expires and then rejoins the rotation.
func TestPoolBanAndCooldown(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	pool := New([]string{"a", "b", "c"}, time.Minute, clk)

	pool.Ban("b")
	for i := 0; i < 6; i++ {
		got, err := pool.Acquire()
		require.NoError(t, err)
		require.NotEqual(t, "b", got)
	}

	clk.Advance(time.Minute + time.Second)
	seen := map[string]bool{}
	for i := 0; i < 6; i++ {
		got, err := pool.Acquire()
		require.NoError(t, err)
		seen[got] = true
	}
	require.True(t, seen["b"], "expected banned token back after cooldown")
}

// TestPoolAllBanned confirms Acquire reports exhaustion while every token
// is cooling down and recovers afterwards.
func TestPoolAllBanned(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	pool := New([]string{"x"}, time.Minute, clk)

	pool.Ban("x")
	_, err := pool.Acquire()
	require.ErrorIs(t, err, ErrExhausted)

	clk.Advance(61 * time.Second)
	got, err := pool.Acquire()
	require.NoError(t, err)
	require.Equal(t, "x", got)
}

// TestPoolReBanExtendsCooldown checks that banning an already banned token
// restarts its cooldown window.
func TestPoolReBanExtendsCooldown(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	pool := New([]string{"x"}, time.Minute, clk)

	pool.Ban("x")
	clk.Advance(45 * time.Second)
	pool.Ban("x")
	clk.Advance(30 * time.Second)

	_, err := pool.Acquire()
	require.ErrorIs(t, err, ErrExhausted, "re-ban should have pushed expiry past 75s")

	clk.Advance(31 * time.Second)
	got, err := pool.Acquire()
	require.NoError(t, err)
	require.Equal(t, "x", got)
}

// TestPoolBanUnknownToken ensures banning a foreign token is a no-op.
func TestPoolBanUnknownToken(t *testing.T) {
	t.Parallel()

	pool := New([]string{"a", "b"}, time.Minute, newFakeClock())
	pool.Ban("stranger")

	first, err := pool.Acquire()
	require.NoError(t, err)
	second, err := pool.Acquire()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b"}, []string{first, second})
}

// TestPoolEmpty confirms an empty pool always reports exhaustion.
func TestPoolEmpty(t *testing.T) {
	t.Parallel()

	pool := New(nil, time.Minute, newFakeClock())
	_, err := pool.Acquire()
	require.ErrorIs(t, err, ErrExhausted)
	pool.Ban("any")
	require.Equal(t, 0, pool.Size())
}

// TestPoolSizeCountsBanned verifies Size reflects the full pool regardless
// of ban state.
func TestPoolSizeCountsBanned(t *testing.T) {
	t.Parallel()

	pool := New([]string{"a", "b", "c"}, time.Minute, newFakeClock())
	pool.Ban("a")
	pool.Ban("b")
	require.Equal(t, 3, pool.Size())
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
