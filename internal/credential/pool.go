// Package credential manages the rotating token pools used for platform
// API access.
package credential

import (
	"errors"
	"sync"
	"time"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
)

// ErrExhausted is returned by Acquire when every credential is banned.
var ErrExhausted = errors.New("credential pool exhausted")

// Pool hands out tokens round-robin while keeping banned ones out of
// rotation until their cooldown expires. The cursor advances modulo the
// currently available subset, so the rotation order shifts as bans come
// and go.
type Pool struct {
	mu       sync.Mutex
	tokens   []string
	member   map[string]struct{}
	banned   map[string]time.Time
	index    int
	cooldown time.Duration
	clock    gitmeta.Clock
}

// New builds a pool over the given tokens. Bans last for cooldown.
func New(tokens []string, cooldown time.Duration, clock gitmeta.Clock) *Pool {
	member := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		member[token] = struct{}{}
	}
	return &Pool{
		tokens:   tokens,
		member:   member,
		banned:   make(map[string]time.Time),
		cooldown: cooldown,
		clock:    clock,
	}
}

// Acquire returns the next available token. ErrExhausted means every
// token is currently banned (or the pool is empty).
func (p *Pool) Acquire() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	available := p.available(p.clock.Now())
	if len(available) == 0 {
		return "", ErrExhausted
	}
	token := available[p.index%len(available)]
	p.index = (p.index + 1) % len(available)
	return token, nil
}

// Ban takes a token out of rotation until now+cooldown. Banning again
// extends the window. Tokens the pool does not own are ignored.
func (p *Pool) Ban(token string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.member[token]; !ok {
		return
	}
	p.banned[token] = p.clock.Now().Add(p.cooldown)
}

// Size returns the total number of tokens, banned or not.
func (p *Pool) Size() int {
	return len(p.tokens)
}

// available filters tokens in their original order, dropping expired bans
// from the ledger as a side effect.
func (p *Pool) available(now time.Time) []string {
	available := make([]string, 0, len(p.tokens))
	for _, token := range p.tokens {
		until, ok := p.banned[token]
		if ok {
			if !until.Before(now) {
				continue
			}
			delete(p.banned, token)
		}
		available = append(available, token)
	}
	return available
}
