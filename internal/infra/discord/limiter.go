package discord

import (
	"sync"

	"golang.org/x/time/rate"
)

// guildLimiter rate limits requests per guild.
type guildLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newGuildLimiter(perSecond float64, burst int) *guildLimiter {
	return &guildLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSecond),
		burst:    burst,
	}
}

// Allow reports whether the guild may issue a request now.
func (l *guildLimiter) Allow(guildID string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[guildID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[guildID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Forget drops the guild's limiter.
func (l *guildLimiter) Forget(guildID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, guildID)
}
