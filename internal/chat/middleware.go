package chat

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/WolfwithSword/TwitchChatDND/internal/domain"
)

// Middleware gates a command invocation before its handler runs. A false
// return drops the invocation silently.
type Middleware interface {
	Allow(user domain.ChatUser) bool
}

// ChannelCooldown allows one invocation per window across the whole channel.
type ChannelCooldown struct {
	window time.Duration
	clock  clockwork.Clock

	mu   sync.Mutex
	last time.Time
}

func NewChannelCooldown(window time.Duration, clock clockwork.Clock) *ChannelCooldown {
	return &ChannelCooldown{window: window, clock: clock}
}

func (c *ChannelCooldown) Allow(domain.ChatUser) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if !c.last.IsZero() && now.Sub(c.last) < c.window {
		return false
	}
	c.last = now
	return true
}

// UserCooldown allows one invocation per window per user.
type UserCooldown struct {
	window time.Duration
	clock  clockwork.Clock

	mu   sync.Mutex
	last map[string]time.Time
}

func NewUserCooldown(window time.Duration, clock clockwork.Clock) *UserCooldown {
	return &UserCooldown{window: window, clock: clock, last: make(map[string]time.Time)}
}

func (c *UserCooldown) Allow(user domain.ChatUser) bool {
	key := domain.NormalizeName(user.Name)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if prev, ok := c.last[key]; ok && now.Sub(prev) < c.window {
		return false
	}
	c.last[key] = now
	return true
}

// AllowList restricts a command to a dynamic set of member names. The set is
// swapped out whenever party membership changes.
type AllowList struct {
	mu    sync.RWMutex
	names map[string]bool
}

func NewAllowList() *AllowList {
	return &AllowList{names: make(map[string]bool)}
}

// Update replaces the allowed set.
func (a *AllowList) Update(names []string) {
	next := make(map[string]bool, len(names))
	for _, n := range names {
		next[domain.NormalizeName(n)] = true
	}

	a.mu.Lock()
	a.names = next
	a.mu.Unlock()
}

func (a *AllowList) Allow(user domain.ChatUser) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.names[domain.NormalizeName(user.Name)]
}
