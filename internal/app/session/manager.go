// Package session provides the use-case layer over per-guild playback sessions.
package session

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/app/filter"
	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/app/resolver"
	"github.com/osa030/voicebox/internal/app/session/registry"
	"github.com/osa030/voicebox/internal/domain/track"
	"github.com/osa030/voicebox/internal/infra/config"
)

var (
	ErrRejected  = errors.New("request rejected")
	ErrNoSession = errors.New("no active session")
	ErrBadQuery  = errors.New("query is required")
)

// RejectedError is returned when a filter rejects a play request.
type RejectedError struct {
	Code string
}

func (e *RejectedError) Error() string {
	return "request rejected: " + e.Code
}

// Is makes errors.Is(err, ErrRejected) match.
func (e *RejectedError) Is(target error) bool {
	return target == ErrRejected
}

// PlayRequest represents a request to play a query in a guild.
type PlayRequest struct {
	GuildID        string
	VoiceChannelID string // Channel the requester is in
	TextChannelID  string // Channel status messages go to
	Query          string
	Requester      track.Requester
}

// PlayResult is the outcome of an accepted play request.
type PlayResult struct {
	Track    track.QueuedTrack
	Position int // 1-based queue position, 0 when it started playing right away
}

// Manager coordinates the registry, the resolver and the filters.
type Manager struct {
	config      *config.Config
	registry    *registry.Registry
	resolver    resolver.Resolver
	filterChain *filter.Chain
}

// NewSessionFactory returns a registry factory building sessions on the given ports.
func NewSessionFactory(cfg *config.Config, transport playback.Transport, opener playback.StreamOpener, notifier playback.Notifier) registry.Factory {
	pbCfg := playback.Config{
		ConnectTimeout:         cfg.ConnectTimeout(),
		OpenTimeout:            cfg.OpenTimeout(),
		MaxConsecutiveFailures: cfg.Playback.MaxConsecutiveFailures,
	}
	return func(guildID string) *playback.Session {
		return playback.NewSession(guildID, pbCfg, transport, opener, notifier)
	}
}

// NewManager creates a new session manager.
func NewManager(cfg *config.Config, reg *registry.Registry, res resolver.Resolver) (*Manager, error) {
	m := &Manager{
		config:      cfg,
		registry:    reg,
		resolver:    res,
		filterChain: filter.NewChain(),
	}

	// Setup filters
	if err := m.setupFilters(); err != nil {
		return nil, err
	}

	return m, nil
}

// setupFilters adds every enabled filter, in name order, to the chain.
func (m *Manager) setupFilters() error {
	registered := filter.GetRegistered()

	names := make([]string, 0, len(m.config.Filters))
	for name := range m.config.Filters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if !m.config.IsFilterEnabled(name) {
			continue
		}
		factory, ok := registered[name]
		if !ok {
			return errors.Newf("unknown filter: %s", name)
		}
		f := factory()
		if err := f.ValidateConfig(m.config.Filters[name].Settings); err != nil {
			return errors.Wrapf(err, "invalid filter config: %s", name)
		}
		m.filterChain.Add(f)
		zlog.Info().Msgf("filter enabled: name=%s", name)
	}
	return nil
}

// Play connects to the requester's channel, resolves the query and queues the result.
func (m *Manager) Play(ctx context.Context, req PlayRequest) (*PlayResult, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrBadQuery
	}

	// A session stopped between lookup and enqueue is replaced once.
	for attempt := 0; ; attempt++ {
		result, err := m.play(ctx, req, query)
		if errors.Is(err, playback.ErrSessionStopped) && attempt == 0 {
			zlog.Debug().Msgf("session stopped during play, retrying: guild=%s", req.GuildID)
			continue
		}
		return result, err
	}
}

func (m *Manager) play(ctx context.Context, req PlayRequest, query string) (*PlayResult, error) {
	s, err := m.registry.Get(req.GuildID)
	if err != nil {
		return nil, err
	}
	s.SetNotifyTarget(req.TextChannelID)

	if err := s.Connect(ctx, req.VoiceChannelID); err != nil {
		zlog.Warn().Msgf("voice connect failed: guild=%s channel=%s err=%v", req.GuildID, req.VoiceChannelID, err)
		return nil, errors.Wrap(err, "failed to connect")
	}

	resolveCtx, cancel := context.WithTimeout(ctx, m.config.ResolveTimeout())
	t, err := m.resolver.Resolve(resolveCtx, query)
	cancel()
	if err != nil {
		zlog.Info().Msgf("query not resolved: guild=%s query=%q err=%v", req.GuildID, query, err)
		return nil, err
	}

	result := m.filterChain.Execute(ctx, filter.Request{GuildID: req.GuildID, Requester: req.Requester}, t, s)
	if !result.Accepted {
		zlog.Info().Msgf("request rejected: guild=%s title=%s code=%s", req.GuildID, t.Title, result.Code)
		return nil, &RejectedError{Code: result.Code}
	}

	qt := track.QueuedTrack{
		Track:     t,
		Requester: req.Requester,
		AddedAt:   time.Now(),
	}
	position, err := s.Enqueue(qt)
	if err != nil {
		return nil, err
	}

	if cur := s.CurrentTrack(); cur != nil && sameEntry(*cur, qt) {
		position = 0
	}
	zlog.Info().Msgf("track queued: guild=%s title=%s requester=%s position=%d", req.GuildID, t.Title, req.Requester.Name, position)

	return &PlayResult{Track: qt, Position: position}, nil
}

func sameEntry(a, b track.QueuedTrack) bool {
	return a.Track.URL == b.Track.URL && a.Requester.ID == b.Requester.ID && a.AddedAt.Equal(b.AddedAt)
}

// Queue returns the current track and pending tracks of a guild.
func (m *Manager) Queue(guildID string) (playback.Snapshot, error) {
	s, ok := m.registry.Lookup(guildID)
	if !ok {
		return playback.Snapshot{}, ErrNoSession
	}
	return s.Snapshot(), nil
}

// Skip stops the current track of a guild; the next one starts on its own.
func (m *Manager) Skip(guildID string) error {
	s, ok := m.registry.Lookup(guildID)
	if !ok {
		return ErrNoSession
	}
	return s.Skip()
}

// Replay restarts the current track of a guild and returns it.
func (m *Manager) Replay(ctx context.Context, guildID string) (*track.QueuedTrack, error) {
	s, ok := m.registry.Lookup(guildID)
	if !ok {
		return nil, ErrNoSession
	}
	if err := s.Replay(ctx); err != nil {
		return nil, err
	}
	return s.CurrentTrack(), nil
}

// Clear empties the pending queue of a guild and returns how many tracks were removed.
func (m *Manager) Clear(guildID string) (int, error) {
	s, ok := m.registry.Lookup(guildID)
	if !ok {
		return 0, ErrNoSession
	}
	return len(s.Clear()), nil
}

// Stop tears down the session of a guild. It reports whether one existed.
func (m *Manager) Stop(guildID string) bool {
	return m.registry.Stop(guildID)
}

// BotChannel returns the voice channel the bot is connected to in a guild, or "".
func (m *Manager) BotChannel(guildID string) string {
	s, ok := m.registry.Lookup(guildID)
	if !ok {
		return ""
	}
	return s.ChannelID()
}

// Sessions returns a snapshot of every live session.
func (m *Manager) Sessions() []playback.Snapshot {
	sessions := m.registry.All()
	snaps := make([]playback.Snapshot, 0, len(sessions))
	for _, s := range sessions {
		snaps = append(snaps, s.Snapshot())
	}
	return snaps
}

// VoiceDisconnected handles the bot being removed from voice in a guild.
func (m *Manager) VoiceDisconnected(guildID string) {
	if m.registry.Stop(guildID) {
		zlog.Info().Msgf("session stopped after voice disconnect: guild=%s", guildID)
	}
}

// Filters returns the enabled filters.
func (m *Manager) Filters() []filter.Filter {
	return m.filterChain.Filters()
}

// Close stops every session.
func (m *Manager) Close() {
	m.registry.StopAll()
}
