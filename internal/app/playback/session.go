package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/domain/track"
)

// Errors
var (
	ErrNoTrack           = errors.New("no track playing")
	ErrNotConnected      = errors.New("not connected to a voice channel")
	ErrConnectionTimeout = errors.New("voice connection timed out")
	ErrSessionStopped    = errors.New("session stopped")
	ErrTooManyFailures   = errors.New("too many consecutive playback failures")
)

// Config holds session configuration.
type Config struct {
	ConnectTimeout         time.Duration // Bound on reaching a ready voice connection
	OpenTimeout            time.Duration // Bound on resolving and starting a stream
	MaxConsecutiveFailures int           // Stop advancing after this many failed starts in a row (0 = unlimited)
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 20 * time.Second,
		OpenTimeout:    30 * time.Second,
	}
}

// Session is the playback state machine of one guild.
//
// All methods are safe for concurrent use. Mutations of the queue, the current
// track and the player are made under mu; blocking calls (joining, opening a
// stream) run without it and apply their result only if the generation they
// started in is still current.
type Session struct {
	id      string
	guildID string
	config  Config

	transport Transport
	opener    StreamOpener
	notifier  Notifier

	connectMu sync.Mutex // serializes Connect

	mu            sync.Mutex
	queue         []track.QueuedTrack
	current       *track.QueuedTrack
	conn          Connection
	playing       Playback
	playToken     uint64 // identifies the playback whose end may advance the queue
	generation    uint64 // bumped by Stop
	advancing     bool
	failures      int
	textChannelID string
	stopped       bool
	onStop        func(*Session)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession creates a session for the given guild.
func NewSession(guildID string, config Config, transport Transport, opener StreamOpener, notifier Notifier) *Session {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = DefaultConfig().OpenTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:        uuid.New().String(),
		guildID:   guildID,
		config:    config,
		transport: transport,
		opener:    opener,
		notifier:  notifier,
		queue:     make([]track.QueuedTrack, 0),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// GuildID returns the guild the session belongs to.
func (s *Session) GuildID() string {
	return s.guildID
}

// OnStop registers fn to run once when the session is stopped.
func (s *Session) OnStop(fn func(*Session)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStop = fn
}

// SetNotifyTarget sets the text channel status messages are sent to.
func (s *Session) SetNotifyTarget(textChannelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.textChannelID = textChannelID
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	switch {
	case s.stopped:
		return StateStopped
	case s.current != nil:
		return StatePlaying
	case s.conn != nil:
		return StateConnectedIdle
	default:
		return StateIdle
	}
}

// ChannelID returns the voice channel the session is connected to, or "".
func (s *Session) ChannelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ""
	}
	return s.conn.ChannelID()
}

// CurrentTrack returns a copy of the current track, or nil.
func (s *Session) CurrentTrack() *track.QueuedTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	cur := *s.current
	return &cur
}

// QueuedTracks returns a copy of the pending queue.
func (s *Session) QueuedTracks() []track.QueuedTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]track.QueuedTrack, len(s.queue))
	copy(result, s.queue)
	return result
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	ID            string
	GuildID       string
	State         State
	ChannelID     string
	TextChannelID string
	Current       *track.QueuedTrack
	Queue         []track.QueuedTrack
}

// Snapshot returns a consistent view of the session.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:            s.id,
		GuildID:       s.guildID,
		State:         s.stateLocked(),
		TextChannelID: s.textChannelID,
		Queue:         make([]track.QueuedTrack, len(s.queue)),
	}
	copy(snap.Queue, s.queue)
	if s.conn != nil {
		snap.ChannelID = s.conn.ChannelID()
	}
	if s.current != nil {
		cur := *s.current
		snap.Current = &cur
	}
	return snap
}

// Enqueue appends a track to the queue and starts advancement when nothing is
// playing. It returns the 1-based position the track was queued at.
func (s *Session) Enqueue(qt track.QueuedTrack) (int, error) {
	if qt.AddedAt.IsZero() {
		qt.AddedAt = time.Now()
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, ErrSessionStopped
	}
	s.queue = append(s.queue, qt)
	position := len(s.queue)
	gen, start := s.beginAdvanceLocked()
	s.mu.Unlock()

	zlog.Debug().Msgf("track enqueued: guild=%s title=%s position=%d", s.guildID, qt.Track.Title, position)

	if start {
		if err := s.runAdvance(gen); err != nil && !errors.Is(err, ErrNotConnected) {
			zlog.Warn().Msgf("advance after enqueue failed: guild=%s err=%v", s.guildID, err)
		}
	}
	return position, nil
}

// Connect joins the voice channel. Joining the channel the session is already
// connected to is a no-op; joining another one destroys the old connection first.
// The track that was playing, if any, is put back at the front of the queue and
// restarted once the new connection is ready.
func (s *Session) Connect(ctx context.Context, channelID string) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	if s.conn != nil && s.conn.ChannelID() == channelID {
		s.mu.Unlock()
		return nil
	}
	old := s.conn
	s.conn = nil
	var oldPlayback Playback
	if old != nil {
		oldPlayback = s.releasePlaybackLocked(true)
	}
	gen := s.generation
	s.mu.Unlock()

	if oldPlayback != nil {
		oldPlayback.Stop()
	}
	if old != nil {
		zlog.Info().Msgf("leaving voice channel: guild=%s channel=%s", s.guildID, old.ChannelID())
		if err := old.Destroy(); err != nil {
			zlog.Warn().Msgf("failed to destroy voice connection: guild=%s err=%v", s.guildID, err)
		}
	}

	joinCtx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	defer cancel()
	conn, err := s.join(joinCtx, channelID)
	if err != nil {
		s.mu.Lock()
		superseded := s.generation != gen || s.stopped
		s.mu.Unlock()
		if superseded {
			return ErrSessionStopped
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(joinCtx.Err(), context.DeadlineExceeded) {
			zlog.Warn().Msgf("voice connection timed out: guild=%s channel=%s timeout=%s", s.guildID, channelID, s.config.ConnectTimeout)
			return errors.Wrapf(ErrConnectionTimeout, "channel=%s", channelID)
		}
		return errors.Wrap(err, "failed to join voice channel")
	}

	s.mu.Lock()
	if s.generation != gen || s.stopped {
		s.mu.Unlock()
		_ = conn.Destroy()
		return ErrSessionStopped
	}
	s.conn = conn
	var start bool
	if len(s.queue) > 0 {
		gen, start = s.beginAdvanceLocked()
	}
	s.mu.Unlock()

	zlog.Info().Msgf("joined voice channel: guild=%s channel=%s", s.guildID, channelID)

	if start {
		return s.runAdvance(gen)
	}
	return nil
}

// join runs the transport join on the session context so that Stop aborts it.
func (s *Session) join(ctx context.Context, channelID string) (Connection, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()
	return s.transport.Join(ctx, s.guildID, channelID)
}

// Advance replaces the current track, if any, with the next playable one from
// the queue. It is a no-op while another advancement is in flight.
func (s *Session) Advance() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	if s.advancing {
		s.mu.Unlock()
		return nil
	}
	pb := s.releasePlaybackLocked(false)
	gen, _ := s.beginAdvanceLocked()
	s.mu.Unlock()

	if pb != nil {
		pb.Stop()
	}
	return s.runAdvance(gen)
}

// beginAdvanceLocked claims the advancement slot when nothing is current and no
// advancement is in flight.
func (s *Session) beginAdvanceLocked() (uint64, bool) {
	if s.stopped || s.advancing || s.current != nil {
		return 0, false
	}
	s.advancing = true
	return s.generation, true
}

// releasePlaybackLocked detaches the active playback so its end is ignored.
// When requeue is set the current track goes back to the front of the queue.
func (s *Session) releasePlaybackLocked(requeue bool) Playback {
	pb := s.playing
	s.playing = nil
	s.playToken++
	if s.current != nil && requeue {
		s.queue = append([]track.QueuedTrack{*s.current}, s.queue...)
	}
	s.current = nil
	return pb
}

// runAdvance pops tracks until one starts or the queue is empty.
// The caller must have claimed the advancement slot for gen.
func (s *Session) runAdvance(gen uint64) error {
	for {
		s.mu.Lock()
		if s.generation != gen {
			s.mu.Unlock()
			return ErrSessionStopped
		}
		if s.conn == nil {
			s.advancing = false
			s.mu.Unlock()
			return ErrNotConnected
		}
		if len(s.queue) == 0 {
			s.advancing = false
			s.failures = 0
			pb := s.releasePlaybackLocked(false)
			ev := s.eventLocked(EventQueueEmpty, nil, nil)
			s.mu.Unlock()

			if pb != nil {
				pb.Stop()
			}
			zlog.Info().Msgf("queue empty: guild=%s", s.guildID)
			s.notify(ev)
			return nil
		}
		if limit := s.config.MaxConsecutiveFailures; limit > 0 && s.failures >= limit {
			s.advancing = false
			s.failures = 0
			ev := s.eventLocked(EventFailureLimit, nil, ErrTooManyFailures)
			s.mu.Unlock()

			zlog.Warn().Msgf("advancement halted: guild=%s failures=%d pending=%d", s.guildID, limit, ev.QueueLength)
			s.notify(ev)
			return ErrTooManyFailures
		}
		next := s.queue[0]
		s.queue = s.queue[1:]
		conn := s.conn
		s.mu.Unlock()

		pb, err := s.start(conn, next.Track)

		s.mu.Lock()
		if s.generation != gen {
			s.mu.Unlock()
			if pb != nil {
				pb.Stop()
			}
			return ErrSessionStopped
		}
		if s.conn != conn {
			// Reconnected while starting; retry the same track on the new connection.
			s.queue = append([]track.QueuedTrack{next}, s.queue...)
			s.mu.Unlock()
			if pb != nil {
				pb.Stop()
			}
			continue
		}
		if err != nil {
			s.failures++
			ev := s.eventLocked(EventTrackFailed, &next, err)
			s.mu.Unlock()

			zlog.Warn().Msgf("failed to start track, skipping: guild=%s title=%s err=%v", s.guildID, next.Track.Title, err)
			s.notify(ev)
			continue
		}

		s.failures = 0
		s.current = &next
		s.playing = pb
		s.playToken++
		token := s.playToken
		s.advancing = false
		ev := s.eventLocked(EventTrackStarted, &next, nil)
		s.mu.Unlock()

		zlog.Info().Msgf("track started: guild=%s title=%s url=%s", s.guildID, next.Track.Title, next.Track.URL)
		go s.watch(pb, token)
		s.notify(ev)
		return nil
	}
}

// start resolves a stream for t and plays it on conn.
func (s *Session) start(conn Connection, t track.Track) (Playback, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.OpenTimeout)
	defer cancel()

	stream, err := s.opener.Open(ctx, t)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open stream")
	}
	pb, err := conn.Play(s.ctx, stream)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start player")
	}
	return pb, nil
}

// watch waits for the playback to end and feeds the result back.
func (s *Session) watch(pb Playback, token uint64) {
	err := <-pb.Done()
	s.onPlaybackEnded(token, err)
}

// onPlaybackEnded handles the idle and error lifecycle events of the player.
// Both advance the queue; results of a playback that is no longer current are ignored.
func (s *Session) onPlaybackEnded(token uint64, playErr error) {
	s.mu.Lock()
	if s.stopped || token != s.playToken {
		s.mu.Unlock()
		return
	}
	ended := s.current
	s.current = nil
	s.playing = nil
	var ev Event
	if playErr != nil {
		ev = s.eventLocked(EventPlayerError, ended, playErr)
	}
	gen, start := s.beginAdvanceLocked()
	s.mu.Unlock()

	if playErr != nil {
		zlog.Error().Msgf("player error: guild=%s err=%v", s.guildID, playErr)
		s.notify(ev)
	} else if ended != nil {
		zlog.Debug().Msgf("track ended: guild=%s title=%s", s.guildID, ended.Track.Title)
	}

	if start {
		if err := s.runAdvance(gen); err != nil && !errors.Is(err, ErrSessionStopped) {
			zlog.Warn().Msgf("advance after track end failed: guild=%s err=%v", s.guildID, err)
		}
	}
}

// Skip stops the current track; the player's end event advances the queue.
func (s *Session) Skip() error {
	s.mu.Lock()
	if s.current == nil || s.playing == nil {
		s.mu.Unlock()
		return ErrNoTrack
	}
	pb := s.playing
	title := s.current.Track.Title
	s.mu.Unlock()

	zlog.Info().Msgf("skipping track: guild=%s title=%s", s.guildID, title)
	pb.Stop()
	return nil
}

// Replay restarts the current track from the beginning.
// If the stream cannot be reopened the current playback is left untouched.
func (s *Session) Replay(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrSessionStopped
	}
	if s.current == nil || s.conn == nil {
		s.mu.Unlock()
		return ErrNoTrack
	}
	cur := *s.current
	conn := s.conn
	token := s.playToken
	s.mu.Unlock()

	openCtx, cancel := context.WithTimeout(ctx, s.config.OpenTimeout)
	defer cancel()
	stream, err := s.opener.Open(openCtx, cur.Track)
	if err != nil {
		return errors.Wrap(err, "failed to reopen stream")
	}

	s.mu.Lock()
	if s.stopped || s.playToken != token || s.conn != conn {
		s.mu.Unlock()
		return errors.Wrap(ErrNoTrack, "current track changed during replay")
	}
	// Invalidate the old playback before the player replaces it.
	old := s.playing
	s.playToken++
	token = s.playToken
	s.playing = nil
	s.mu.Unlock()

	pb, err := conn.Play(s.ctx, stream)
	if old != nil {
		old.Stop()
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		if pb != nil {
			pb.Stop()
		}
		return ErrSessionStopped
	}
	// The connection was replaced or another track took over while Play ran.
	if s.playToken != token || s.conn != conn || s.playing != nil || s.current == nil {
		s.mu.Unlock()
		if pb != nil {
			pb.Stop()
		}
		return errors.Wrap(ErrNoTrack, "current track changed during replay")
	}
	if err != nil {
		ended := s.current
		s.current = nil
		ev := s.eventLocked(EventTrackFailed, ended, err)
		gen, start := s.beginAdvanceLocked()
		s.mu.Unlock()

		zlog.Warn().Msgf("failed to restart track: guild=%s title=%s err=%v", s.guildID, cur.Track.Title, err)
		s.notify(ev)
		if start {
			_ = s.runAdvance(gen)
		}
		return errors.Wrap(err, "failed to restart track")
	}
	s.playing = pb
	s.playToken++
	newToken := s.playToken
	ev := s.eventLocked(EventTrackReplayed, s.current, nil)
	s.mu.Unlock()

	zlog.Info().Msgf("track replayed: guild=%s title=%s", s.guildID, cur.Track.Title)
	go s.watch(pb, newToken)
	s.notify(ev)
	return nil
}

// Clear empties the pending queue and returns the removed tracks.
// The current track keeps playing.
func (s *Session) Clear() []track.QueuedTrack {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := s.queue
	s.queue = make([]track.QueuedTrack, 0)
	return removed
}

// Stop tears the session down: the queue and current track are dropped, the
// player is stopped and the connection destroyed. In-flight advancement and
// connection attempts are discarded. Stop is idempotent.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.generation++
	s.queue = nil
	pb := s.releasePlaybackLocked(false)
	conn := s.conn
	s.conn = nil
	s.advancing = false
	onStop := s.onStop
	ev := s.eventLocked(EventStopped, nil, nil)
	s.mu.Unlock()

	s.cancel()
	if pb != nil {
		pb.Stop()
	}
	if conn != nil {
		if err := conn.Destroy(); err != nil {
			zlog.Warn().Msgf("failed to destroy voice connection: guild=%s err=%v", s.guildID, err)
		}
	}
	if onStop != nil {
		onStop(s)
	}

	zlog.Info().Msgf("session stopped: guild=%s session=%s", s.guildID, s.id)
	s.notify(ev)
}

func (s *Session) eventLocked(t EventType, qt *track.QueuedTrack, err error) Event {
	ev := Event{
		Type:          t,
		SessionID:     s.id,
		GuildID:       s.guildID,
		TextChannelID: s.textChannelID,
		State:         s.stateLocked(),
		QueueLength:   len(s.queue),
		Err:           err,
	}
	if qt != nil {
		cp := *qt
		ev.Track = &cp
	}
	return ev
}

func (s *Session) notify(ev Event) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(context.Background(), ev)
}
