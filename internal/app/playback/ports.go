package playback

import (
	"context"

	"github.com/osa030/voicebox/internal/domain/track"
)

// Stream is a live audio location resolved for a track.
type Stream struct {
	URL   string
	Track track.Track
}

// StreamOpener resolves a live stream for a queued track.
type StreamOpener interface {
	Open(ctx context.Context, t track.Track) (Stream, error)
}

// Transport establishes voice connections.
type Transport interface {
	// Join connects to a voice channel of the guild and returns once the
	// connection is ready or ctx is done.
	Join(ctx context.Context, guildID, channelID string) (Connection, error)
}

// Connection is a live voice connection owning a single audio player.
type Connection interface {
	ChannelID() string
	// Play starts streaming s, replacing whatever the player was playing.
	Play(ctx context.Context, s Stream) (Playback, error)
	Destroy() error
}

// Playback is one started stream.
type Playback interface {
	// Done yields exactly one value: nil when the stream ended or was stopped,
	// the player error otherwise.
	Done() <-chan error
	// Stop flushes the player. It is safe to call more than once.
	Stop()
}

// Notifier receives session events.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, e Event)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, e Event) {
	f(ctx, e)
}
