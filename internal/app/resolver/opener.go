package resolver

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/domain/track"
)

// StreamSource extracts a direct audio stream URL for a content URL.
type StreamSource interface {
	StreamURL(ctx context.Context, ref string) (string, error)
}

// Opener opens live streams for queued tracks.
type Opener struct {
	source StreamSource
}

// NewOpener creates a new Opener.
func NewOpener(source StreamSource) *Opener {
	return &Opener{source: source}
}

// Open resolves the stream of t. Stream URLs expire, so this runs right
// before playback rather than at enqueue time.
func (o *Opener) Open(ctx context.Context, t track.Track) (playback.Stream, error) {
	if t.URL == "" {
		return playback.Stream{}, errors.Newf("track has no url: title=%q", t.Title)
	}
	streamURL, err := o.source.StreamURL(ctx, t.URL)
	if err != nil {
		return playback.Stream{}, errors.Wrapf(err, "failed to open stream: url=%s", t.URL)
	}
	return playback.Stream{URL: streamURL, Track: t}, nil
}

var _ playback.StreamOpener = (*Opener)(nil)
