package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/voicebox/internal/domain/track"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// mockPlayback is a Playback that ends when the test says so.
type mockPlayback struct {
	url  string
	done chan error
	once sync.Once
}

func newMockPlayback(url string) *mockPlayback {
	return &mockPlayback{url: url, done: make(chan error, 1)}
}

func (p *mockPlayback) Done() <-chan error { return p.done }

func (p *mockPlayback) Stop() { p.finish(nil) }

func (p *mockPlayback) finish(err error) {
	p.once.Do(func() {
		p.done <- err
		close(p.done)
	})
}

// mockConnection records every stream it was asked to play.
// When hold is set, Play reports on playing and waits for hold to close.
type mockConnection struct {
	channelID string

	mu        sync.Mutex
	playbacks []*mockPlayback
	destroyed int
	failPlay  bool
	hold      chan struct{}
	playing   chan string
}

func (c *mockConnection) ChannelID() string { return c.channelID }

func (c *mockConnection) holdPlays() (playing chan string, release chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hold = make(chan struct{})
	c.playing = make(chan string, 1)
	return c.playing, c.hold
}

func (c *mockConnection) Play(ctx context.Context, s Stream) (Playback, error) {
	c.mu.Lock()
	hold, playing := c.hold, c.playing
	c.mu.Unlock()
	if hold != nil {
		playing <- s.URL
		<-hold
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failPlay {
		return nil, errors.New("encoder failed")
	}
	pb := newMockPlayback(s.URL)
	c.playbacks = append(c.playbacks, pb)
	return pb, nil
}

func (c *mockConnection) Destroy() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed++
	return nil
}

func (c *mockConnection) played() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	urls := make([]string, 0, len(c.playbacks))
	for _, pb := range c.playbacks {
		urls = append(urls, pb.url)
	}
	return urls
}

func (c *mockConnection) last() *mockPlayback {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.playbacks) == 0 {
		return nil
	}
	return c.playbacks[len(c.playbacks)-1]
}

func (c *mockConnection) destroyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// mockTransport hands out connections; block makes Join wait for ctx.
type mockTransport struct {
	mu      sync.Mutex
	conns   []*mockConnection
	block   bool
	joining chan string
}

func (t *mockTransport) Join(ctx context.Context, guildID, channelID string) (Connection, error) {
	if t.block {
		if t.joining != nil {
			t.joining <- channelID
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	c := &mockConnection{channelID: channelID}
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *mockTransport) conn(i int) *mockConnection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[i]
}

// mockOpener fails for URLs in bad and can hold opens until release is closed.
type mockOpener struct {
	bad     map[string]bool
	release chan struct{}
	opened  chan string
}

func (o *mockOpener) Open(ctx context.Context, t track.Track) (Stream, error) {
	if o.opened != nil {
		o.opened <- t.URL
	}
	if o.release != nil {
		select {
		case <-o.release:
		case <-ctx.Done():
			return Stream{}, ctx.Err()
		}
	}
	if o.bad[t.URL] {
		return Stream{}, errors.Newf("stream unavailable: %s", t.URL)
	}
	return Stream{URL: t.URL, Track: t}, nil
}

// mockNotifier records events.
type mockNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *mockNotifier) Notify(ctx context.Context, e Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *mockNotifier) types() []EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	types := make([]EventType, 0, len(n.events))
	for _, e := range n.events {
		types = append(types, e.Type)
	}
	return types
}

func (n *mockNotifier) count(t EventType) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, e := range n.events {
		if e.Type == t {
			c++
		}
	}
	return c
}

func qt(name string) track.QueuedTrack {
	return track.QueuedTrack{
		Track:     track.Track{URL: "https://www.youtube.com/watch?v=" + name, Title: name},
		Requester: track.Requester{ID: "u1", Name: "tester"},
	}
}

func url(name string) string {
	return "https://www.youtube.com/watch?v=" + name
}

func newTestSession(t *testing.T, opener *mockOpener, cfg Config) (*Session, *mockTransport, *mockNotifier) {
	t.Helper()
	if opener == nil {
		opener = &mockOpener{}
	}
	transport := &mockTransport{}
	notifier := &mockNotifier{}
	s := NewSession("guild-1", cfg, transport, opener, notifier)
	t.Cleanup(s.Stop)
	return s, transport, notifier
}

func currentTitle(s *Session) string {
	cur := s.CurrentTrack()
	if cur == nil {
		return ""
	}
	return cur.Track.Title
}

func TestSession_FIFOOrder(t *testing.T) {
	s, transport, notifier := newTestSession(t, nil, DefaultConfig())
	require.NoError(t, s.Connect(context.Background(), "voice-1"))

	for _, name := range []string{"A", "B", "C"} {
		_, err := s.Enqueue(qt(name))
		require.NoError(t, err)
	}
	conn := transport.conn(0)

	for _, name := range []string{"A", "B", "C"} {
		require.Eventually(t, func() bool { return currentTitle(s) == name }, waitFor, tick)
		conn.last().finish(nil)
	}

	require.Eventually(t, func() bool { return s.State() == StateConnectedIdle }, waitFor, tick)
	assert.Equal(t, []string{url("A"), url("B"), url("C")}, conn.played())
	assert.Eventually(t, func() bool { return notifier.count(EventQueueEmpty) == 1 }, waitFor, tick)
	assert.Equal(t, 3, notifier.count(EventTrackStarted))
}

func TestSession_SkipWithoutTrack(t *testing.T) {
	s, _, _ := newTestSession(t, nil, DefaultConfig())

	_, err := s.Enqueue(qt("A")) // not connected, stays queued
	require.NoError(t, err)

	err = s.Skip()
	assert.ErrorIs(t, err, ErrNoTrack)
	assert.Nil(t, s.CurrentTrack())
	assert.Len(t, s.QueuedTracks(), 1)
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_StopIsIdempotent(t *testing.T) {
	s, transport, notifier := newTestSession(t, nil, DefaultConfig())
	require.NoError(t, s.Connect(context.Background(), "voice-1"))
	_, err := s.Enqueue(qt("A"))
	require.NoError(t, err)
	_, err = s.Enqueue(qt("B"))
	require.NoError(t, err)

	stops := 0
	s.OnStop(func(*Session) { stops++ })

	s.Stop()
	s.Stop()

	conn := transport.conn(0)
	assert.Equal(t, 1, conn.destroyCount())
	assert.Equal(t, 1, stops)
	assert.Equal(t, StateStopped, s.State())
	assert.Nil(t, s.CurrentTrack())
	assert.Empty(t, s.QueuedTracks())
	assert.Empty(t, s.ChannelID())
	assert.Equal(t, 1, notifier.count(EventStopped))

	// The stopped playback must not advance the queue.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{url("A")}, conn.played())

	_, err = s.Enqueue(qt("C"))
	assert.ErrorIs(t, err, ErrSessionStopped)
}

func TestSession_ClearKeepsCurrentTrack(t *testing.T) {
	s, transport, _ := newTestSession(t, nil, DefaultConfig())
	require.NoError(t, s.Connect(context.Background(), "voice-1"))
	for _, name := range []string{"A", "B", "C"} {
		_, err := s.Enqueue(qt(name))
		require.NoError(t, err)
	}

	removed := s.Clear()

	assert.Len(t, removed, 2)
	assert.Equal(t, "A", currentTitle(s))
	assert.Empty(t, s.QueuedTracks())

	// The current track keeps playing until it ends; then the session idles.
	transport.conn(0).last().finish(nil)
	require.Eventually(t, func() bool { return s.State() == StateConnectedIdle }, waitFor, tick)
}

func TestSession_SkipsUnplayableTracks(t *testing.T) {
	tests := []struct {
		name        string
		bad         []string
		enqueue     []string
		wantCurrent string
		wantFailed  int
		wantState   State
	}{
		{
			name:        "bad track in the middle",
			bad:         []string{url("B")},
			enqueue:     []string{"B", "C"},
			wantCurrent: "C",
			wantFailed:  1,
			wantState:   StatePlaying,
		},
		{
			name:        "every track bad",
			bad:         []string{url("A"), url("B"), url("C")},
			enqueue:     []string{"A", "B", "C"},
			wantCurrent: "",
			wantFailed:  3,
			wantState:   StateConnectedIdle,
		},
		{
			name:        "single invalid url",
			bad:         []string{url("X")},
			enqueue:     []string{"X"},
			wantCurrent: "",
			wantFailed:  1,
			wantState:   StateConnectedIdle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := make(map[string]bool)
			for _, u := range tt.bad {
				bad[u] = true
			}
			s, _, notifier := newTestSession(t, &mockOpener{bad: bad}, DefaultConfig())
			require.NoError(t, s.Connect(context.Background(), "voice-1"))

			s.mu.Lock()
			for _, name := range tt.enqueue {
				s.queue = append(s.queue, qt(name))
			}
			s.mu.Unlock()
			require.NoError(t, s.Advance())

			assert.Equal(t, tt.wantCurrent, currentTitle(s))
			assert.Equal(t, tt.wantState, s.State())
			assert.Empty(t, s.QueuedTracks())
			assert.Equal(t, tt.wantFailed, notifier.count(EventTrackFailed))
		})
	}
}

func TestSession_SkipAndNaturalEndAdvanceOnce(t *testing.T) {
	s, transport, _ := newTestSession(t, nil, DefaultConfig())
	require.NoError(t, s.Connect(context.Background(), "voice-1"))
	for _, name := range []string{"A", "B", "C"} {
		_, err := s.Enqueue(qt(name))
		require.NoError(t, err)
	}
	conn := transport.conn(0)
	pbA := conn.last()

	s.mu.Lock()
	token := s.playToken
	s.mu.Unlock()

	// Skip flushes the player while the finished signal for the same
	// playback is delivered at the same instant.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pbA.Stop()
	}()
	go func() {
		defer wg.Done()
		s.onPlaybackEnded(token, nil)
	}()
	wg.Wait()

	require.Eventually(t, func() bool { return currentTitle(s) == "B" }, waitFor, tick)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "B", currentTitle(s))
	assert.Equal(t, []string{url("A"), url("B")}, conn.played())
	require.Len(t, s.QueuedTracks(), 1)
	assert.Equal(t, "C", s.QueuedTracks()[0].Track.Title)
}

func TestSession_ScenarioJoinSkipListStop(t *testing.T) {
	s, transport, _ := newTestSession(t, nil, DefaultConfig())

	for _, name := range []string{"A", "B", "C"} {
		_, err := s.Enqueue(qt(name))
		require.NoError(t, err)
	}
	assert.Equal(t, StateIdle, s.State())
	assert.Len(t, s.QueuedTracks(), 3)

	require.NoError(t, s.Connect(context.Background(), "voice-1"))
	assert.Equal(t, "A", currentTitle(s))

	require.NoError(t, s.Skip())
	require.Eventually(t, func() bool { return currentTitle(s) == "B" }, waitFor, tick)

	snap := s.Snapshot()
	require.NotNil(t, snap.Current)
	assert.Equal(t, "B", snap.Current.Track.Title)
	require.Len(t, snap.Queue, 1)
	assert.Equal(t, "C", snap.Queue[0].Track.Title)
	assert.Equal(t, "voice-1", snap.ChannelID)
	for _, q := range snap.Queue {
		assert.NotEqual(t, "A", q.Track.Title)
	}

	s.Stop()
	assert.Nil(t, s.CurrentTrack())
	assert.Empty(t, s.QueuedTracks())
	assert.Equal(t, 1, transport.conn(0).destroyCount())
}

func TestSession_ConnectTimeout(t *testing.T) {
	transport := &mockTransport{block: true}
	s := NewSession("guild-1", Config{ConnectTimeout: 30 * time.Millisecond}, transport, &mockOpener{}, &mockNotifier{})
	defer s.Stop()

	_, err := s.Enqueue(qt("A"))
	require.NoError(t, err)

	err = s.Connect(context.Background(), "voice-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectionTimeout)
	assert.Equal(t, StateIdle, s.State())
	assert.Len(t, s.QueuedTracks(), 1)
}

func TestSession_StopDuringConnect(t *testing.T) {
	transport := &mockTransport{block: true, joining: make(chan string, 1)}
	s := NewSession("guild-1", Config{ConnectTimeout: waitFor}, transport, &mockOpener{}, &mockNotifier{})

	errCh := make(chan error, 1)
	go func() { errCh <- s.Connect(context.Background(), "voice-1") }()

	assert.Equal(t, "voice-1", <-transport.joining)
	s.Stop()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSessionStopped)
		assert.NotErrorIs(t, err, ErrConnectionTimeout)
		assert.NotErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("connect did not return after stop")
	}
	assert.Equal(t, StateStopped, s.State())
}

func TestSession_ConnectSameChannelIsNoop(t *testing.T) {
	s, transport, _ := newTestSession(t, nil, DefaultConfig())
	require.NoError(t, s.Connect(context.Background(), "voice-1"))
	require.NoError(t, s.Connect(context.Background(), "voice-1"))

	transport.mu.Lock()
	assert.Len(t, transport.conns, 1)
	transport.mu.Unlock()
}

func TestSession_ConnectElsewhereDestroysOldAndResumes(t *testing.T) {
	s, transport, _ := newTestSession(t, nil, DefaultConfig())
	require.NoError(t, s.Connect(context.Background(), "voice-1"))
	_, err := s.Enqueue(qt("A"))
	require.NoError(t, err)
	_, err = s.Enqueue(qt("B"))
	require.NoError(t, err)

	require.NoError(t, s.Connect(context.Background(), "voice-2"))

	first, second := transport.conn(0), transport.conn(1)
	assert.Equal(t, 1, first.destroyCount())
	assert.Equal(t, "voice-2", s.ChannelID())
	assert.Equal(t, "A", currentTitle(s))
	assert.Equal(t, []string{url("A")}, second.played())
	assert.Len(t, s.QueuedTracks(), 1)
}

func TestSession_Replay(t *testing.T) {
	s, transport, notifier := newTestSession(t, nil, DefaultConfig())

	err := s.Replay(context.Background())
	assert.ErrorIs(t, err, ErrNoTrack)

	require.NoError(t, s.Connect(context.Background(), "voice-1"))
	_, err = s.Enqueue(qt("A"))
	require.NoError(t, err)
	_, err = s.Enqueue(qt("B"))
	require.NoError(t, err)

	require.NoError(t, s.Replay(context.Background()))

	conn := transport.conn(0)
	assert.Equal(t, []string{url("A"), url("A")}, conn.played())
	assert.Equal(t, "A", currentTitle(s))
	assert.Len(t, s.QueuedTracks(), 1)
	assert.Equal(t, 1, notifier.count(EventTrackReplayed))

	// The replaced playback ending must not advance the queue.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, "A", currentTitle(s))

	conn.last().finish(nil)
	require.Eventually(t, func() bool { return currentTitle(s) == "B" }, waitFor, tick)
}

func TestSession_ReplayRacingReconnect(t *testing.T) {
	s, transport, notifier := newTestSession(t, nil, DefaultConfig())
	require.NoError(t, s.Connect(context.Background(), "voice-1"))
	_, err := s.Enqueue(qt("A"))
	require.NoError(t, err)
	_, err = s.Enqueue(qt("B"))
	require.NoError(t, err)

	first := transport.conn(0)
	playing, release := first.holdPlays()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Replay(context.Background()) }()

	assert.Equal(t, url("A"), <-playing)
	require.NoError(t, s.Connect(context.Background(), "voice-2"))
	close(release)

	err = <-errCh
	assert.ErrorIs(t, err, ErrNoTrack)

	second := transport.conn(1)
	assert.Equal(t, "voice-2", s.ChannelID())
	assert.Equal(t, "A", currentTitle(s))
	assert.Equal(t, []string{url("A")}, second.played())
	assert.Equal(t, 0, notifier.count(EventTrackReplayed))

	// The late playback on the old connection was stopped.
	select {
	case <-first.last().Done():
	case <-time.After(waitFor):
		t.Fatal("stale replay playback still running")
	}

	// The new connection's playback still drives the queue.
	second.last().finish(nil)
	require.Eventually(t, func() bool { return currentTitle(s) == "B" }, waitFor, tick)
}

func TestSession_PlayerErrorAdvances(t *testing.T) {
	s, transport, notifier := newTestSession(t, nil, DefaultConfig())
	require.NoError(t, s.Connect(context.Background(), "voice-1"))
	_, err := s.Enqueue(qt("A"))
	require.NoError(t, err)
	_, err = s.Enqueue(qt("B"))
	require.NoError(t, err)

	transport.conn(0).last().finish(errors.New("opus send timeout"))

	require.Eventually(t, func() bool { return currentTitle(s) == "B" }, waitFor, tick)
	types := notifier.types()
	require.Contains(t, types, EventPlayerError)
	// The error notice precedes the next track's start notice.
	var errIdx, startIdx int
	for i, typ := range types {
		if typ == EventPlayerError {
			errIdx = i
		}
		if typ == EventTrackStarted {
			startIdx = i
		}
	}
	assert.Less(t, errIdx, startIdx)
}

func TestSession_StopDiscardsInFlightAdvance(t *testing.T) {
	opener := &mockOpener{release: make(chan struct{}), opened: make(chan string, 1)}
	s, transport, _ := newTestSession(t, opener, DefaultConfig())
	require.NoError(t, s.Connect(context.Background(), "voice-1"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Enqueue(qt("A"))
	}()

	<-opener.opened
	s.Stop()
	close(opener.release)
	<-done

	assert.Nil(t, s.CurrentTrack())
	assert.Empty(t, s.QueuedTracks())
	assert.Empty(t, transport.conn(0).played())
	assert.Equal(t, StateStopped, s.State())
}

func TestSession_MaxConsecutiveFailures(t *testing.T) {
	bad := map[string]bool{url("A"): true, url("B"): true}
	s, _, notifier := newTestSession(t, &mockOpener{bad: bad}, Config{MaxConsecutiveFailures: 2})
	require.NoError(t, s.Connect(context.Background(), "voice-1"))

	s.mu.Lock()
	s.queue = append(s.queue, qt("A"), qt("B"), qt("C"))
	s.mu.Unlock()

	err := s.Advance()
	assert.ErrorIs(t, err, ErrTooManyFailures)
	assert.Equal(t, StateConnectedIdle, s.State())
	require.Len(t, s.QueuedTracks(), 1)
	assert.Equal(t, "C", s.QueuedTracks()[0].Track.Title)
	assert.Equal(t, 1, notifier.count(EventFailureLimit))

	// A new request resumes advancement with a fresh failure budget.
	_, err = s.Enqueue(qt("D"))
	require.NoError(t, err)
	assert.Equal(t, "C", currentTitle(s))
}

func TestSession_PlayFailureSkipsTrack(t *testing.T) {
	s, transport, notifier := newTestSession(t, nil, DefaultConfig())
	require.NoError(t, s.Connect(context.Background(), "voice-1"))
	conn := transport.conn(0)
	conn.failPlay = true

	_, err := s.Enqueue(qt("A"))
	require.NoError(t, err)

	assert.Equal(t, StateConnectedIdle, s.State())
	assert.Equal(t, 1, notifier.count(EventTrackFailed))
	assert.Equal(t, 1, notifier.count(EventQueueEmpty))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connected_idle", StateConnectedIdle.String())
	assert.Equal(t, "playing", StatePlaying.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.Equal(t, "track_started", EventTrackStarted.String())
	assert.Equal(t, "unknown", EventType(99).String())
}
