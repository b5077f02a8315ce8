// Package youtube looks up videos, searches, and extracts audio stream URLs.
package youtube

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/kkdai/youtube/v2"
	"github.com/ppalone/ytsearch"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/domain/track"
)

const watchBaseURL = "https://www.youtube.com"

var (
	ErrInvalidVideo     = errors.New("invalid youtube video reference")
	ErrVideoUnavailable = errors.New("youtube video is unavailable")
	ErrNoAudioFormat    = errors.New("no audio format found for video")
	ErrSearch           = errors.New("youtube search failed")
)

// Config represents YouTube client configuration.
type Config struct {
	// HTTPClient is shared by searches and the video API.
	HTTPClient *http.Client
}

// searchFunc returns video IDs for a query in result order.
type searchFunc func(ctx context.Context, query string) ([]string, error)

// Client is a YouTube client.
type Client struct {
	yt     *youtube.Client
	search searchFunc
}

// New creates a new YouTube client.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		yt:     &youtube.Client{HTTPClient: httpClient},
		search: ytsearchFunc(ytsearch.NewClient(httpClient)),
	}
}

func ytsearchFunc(sc *ytsearch.Client) searchFunc {
	return func(ctx context.Context, query string) ([]string, error) {
		res, err := sc.Search(ctx, query)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(res.Results))
		for _, r := range res.Results {
			ids = append(ids, r.VideoID)
		}
		return ids, nil
	}
}

// Video retrieves metadata for a video URL or ID.
func (c *Client) Video(ctx context.Context, ref string) (track.Track, error) {
	video, err := c.getVideo(ctx, ref)
	if err != nil {
		return track.Track{}, err
	}
	return track.Track{
		ID:       video.ID,
		URL:      WatchURL(video.ID),
		Title:    video.Title,
		Author:   video.Author,
		Duration: video.Duration,
		Source:   track.SourceYouTube,
	}, nil
}

// StreamURL returns a direct audio stream URL for a video URL or ID.
func (c *Client) StreamURL(ctx context.Context, ref string) (string, error) {
	video, err := c.getVideo(ctx, ref)
	if err != nil {
		return "", err
	}
	format := pickAudioFormat(video.Formats)
	if format == nil {
		return "", errors.Wrapf(ErrNoAudioFormat, "video=%s", video.ID)
	}
	streamURL, err := c.yt.GetStreamURLContext(ctx, video, format)
	if err != nil {
		return "", errors.WithSecondaryError(errors.Wrapf(ErrVideoUnavailable, "failed to get stream url: video=%s", video.ID), err)
	}
	zlog.Debug().Msgf("stream url resolved: video=%s itag=%d mime=%s bitrate=%d", video.ID, format.ItagNo, format.MimeType, format.Bitrate)
	return streamURL, nil
}

// Search returns up to limit video IDs matching the query, best match first.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.Wrap(ErrSearch, "search query is required")
	}
	if limit <= 0 {
		limit = 1
	}

	found, err := c.search(ctx, query)
	if err != nil {
		return nil, errors.WithSecondaryError(errors.Wrapf(ErrSearch, "query=%q", query), err)
	}

	ids := firstUnique(found, limit)
	zlog.Debug().Msgf("youtube search: query=%q results=%d", query, len(ids))
	return ids, nil
}

func (c *Client) getVideo(ctx context.Context, ref string) (*youtube.Video, error) {
	id, err := youtube.ExtractVideoID(strings.TrimSpace(ref))
	if err != nil {
		return nil, errors.WithSecondaryError(errors.Wrapf(ErrInvalidVideo, "ref=%q", ref), err)
	}
	video, err := c.yt.GetVideoContext(ctx, id)
	if err != nil {
		return nil, errors.WithSecondaryError(errors.Wrapf(ErrVideoUnavailable, "failed to get video: id=%s", id), err)
	}
	return video, nil
}

// pickAudioFormat prefers Opus audio-only streams, then any audio-only
// stream, then any stream carrying audio, taking the highest bitrate in each tier.
func pickAudioFormat(formats youtube.FormatList) *youtube.Format {
	withAudio := formats.WithAudioChannels()
	audioOnly := withAudio.Type("audio")

	tiers := []func(f youtube.Format) bool{
		func(f youtube.Format) bool { return strings.Contains(f.MimeType, "opus") },
		func(youtube.Format) bool { return true },
	}
	for _, match := range tiers {
		if best := highestBitrate(audioOnly, match); best != nil {
			return best
		}
	}
	return highestBitrate(withAudio, func(youtube.Format) bool { return true })
}

func highestBitrate(formats youtube.FormatList, match func(youtube.Format) bool) *youtube.Format {
	var best *youtube.Format
	for i := range formats {
		f := &formats[i]
		if !match(*f) {
			continue
		}
		if best == nil || f.Bitrate > best.Bitrate {
			best = f
		}
	}
	return best
}

// firstUnique keeps the first limit distinct non-empty IDs in order.
func firstUnique(found []string, limit int) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, id := range found {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
		if len(ids) >= limit {
			break
		}
	}
	return ids
}

// IsVideoURL reports whether s links to a single YouTube video.
func IsVideoURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	switch host {
	case "youtu.be":
		return len(strings.Trim(u.Path, "/")) > 0
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		if u.Path == "/watch" {
			return u.Query().Get("v") != ""
		}
		return strings.HasPrefix(u.Path, "/shorts/") || strings.HasPrefix(u.Path, "/embed/") || strings.HasPrefix(u.Path, "/live/")
	default:
		return false
	}
}

// WatchURL returns the canonical watch URL for a video ID.
func WatchURL(id string) string {
	return watchBaseURL + "/watch?v=" + id
}
