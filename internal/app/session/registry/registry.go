// Package registry maps guilds to their playback sessions.
package registry

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/osa030/voicebox/internal/app/playback"
)

var (
	ErrInvalidGuild = errors.New("invalid guild")
)

// Factory creates the session for a guild seen for the first time.
type Factory func(guildID string) *playback.Session

// Registry manages playback sessions with thread-safe access.
// A session is reachable until it is stopped.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*playback.Session
	factory  Factory
}

// New creates an empty registry.
func New(factory Factory) *Registry {
	return &Registry{
		sessions: make(map[string]*playback.Session),
		factory:  factory,
	}
}

// Get returns the session of the guild, creating it on first use.
func (r *Registry) Get(guildID string) (*playback.Session, error) {
	if guildID == "" {
		return nil, ErrInvalidGuild
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[guildID]; ok {
		return s, nil
	}

	s := r.factory(guildID)
	s.OnStop(func(stopped *playback.Session) {
		r.Remove(stopped.GuildID(), stopped)
	})
	r.sessions[guildID] = s
	return s, nil
}

// Lookup returns the session of the guild without creating one.
func (r *Registry) Lookup(guildID string) (*playback.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[guildID]
	return s, ok
}

// Remove drops the guild's entry if it still refers to s.
func (r *Registry) Remove(guildID string, s *playback.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.sessions[guildID]; ok && cur == s {
		delete(r.sessions, guildID)
	}
}

// Stop stops the guild's session, which also removes it. It reports whether a
// session existed.
func (r *Registry) Stop(guildID string) bool {
	s, ok := r.Lookup(guildID)
	if !ok {
		return false
	}
	s.Stop()
	return true
}

// StopAll stops every session.
func (r *Registry) StopAll() {
	for _, s := range r.All() {
		s.Stop()
	}
}

// All returns all sessions ordered by guild ID.
func (r *Registry) All() []*playback.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*playback.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].GuildID() < result[j].GuildID()
	})
	return result
}

// Count returns the number of sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
