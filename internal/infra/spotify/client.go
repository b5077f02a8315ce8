// Package spotify provides a client for the Spotify Web API.
package spotify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/osa030/voicebox/internal/domain/track"
)

var (
	ErrCredentials  = errors.New("spotify credentials are required")
	ErrInvalidTrack = errors.New("invalid spotify track reference")
	ErrNotFound     = errors.New("spotify track not found")
)

// Client is a Spotify API client.
type Client struct {
	client     *spotify.Client
	market     string
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	Market       string
	// BaseURL overrides the Web API endpoint (tests only).
	BaseURL string
}

// New creates a new Spotify client authenticated with the client credentials flow.
// Only catalog lookups are made, so no user token is needed.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, ErrCredentials
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}

	// Get HTTP client with auto-refresh capability
	return newWithHTTPClient(creds.Client(ctx), cfg), nil
}

func newWithHTTPClient(httpClient *http.Client, cfg Config) *Client {
	var opts []spotify.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, spotify.WithBaseURL(cfg.BaseURL))
	}

	market := cfg.Market
	if market == "" {
		market = "US"
	}

	return &Client{
		client:     spotify.New(httpClient, opts...),
		market:     market,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// Info is the catalog data of a Spotify track.
type Info struct {
	ID       string
	Name     string
	Artists  []string
	Duration time.Duration
	URL      string
}

// SearchQuery returns "artist, artist - name", suitable for a video search.
func (i Info) SearchQuery() string {
	if len(i.Artists) == 0 {
		return i.Name
	}
	return strings.Join(i.Artists, ", ") + " - " + i.Name
}

// Track converts the info to a domain track.
func (i Info) Track() track.Track {
	return track.Track{
		ID:       i.ID,
		URL:      i.URL,
		Title:    i.Name,
		Author:   strings.Join(i.Artists, ", "),
		Duration: i.Duration,
		Source:   track.SourceSpotify,
	}
}

// GetTrack retrieves track information by ID, URL, or URI.
func (c *Client) GetTrack(ctx context.Context, ref string) (*Info, error) {
	// Extract track ID from URL/URI if necessary
	id := ExtractTrackID(ref)
	if id == "" {
		return nil, errors.Wrapf(ErrInvalidTrack, "ref=%q", ref)
	}

	var result *spotify.FullTrack
	err := c.retry(func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), spotify.Market(c.market))
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		var se spotify.Error
		if errors.As(err, &se) && (se.Status == 404 || se.Status == 400) {
			return nil, errors.WithSecondaryError(errors.Wrapf(ErrNotFound, "track=%s", id), err)
		}
		return nil, errors.Wrap(err, "failed to get track")
	}

	return c.convertTrack(result), nil
}

// convertTrack converts a Spotify FullTrack to Info.
func (c *Client) convertTrack(t *spotify.FullTrack) *Info {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	return &Info{
		ID:       string(t.ID),
		Name:     t.Name,
		Artists:  artists,
		Duration: time.Duration(t.Duration) * time.Millisecond,
		URL:      GetTrackURL(string(t.ID)),
	}
}

// GetTrackURL returns the Spotify URL for a track.
func GetTrackURL(trackID string) string {
	return fmt.Sprintf("https://open.spotify.com/track/%s", trackID)
}

// retry retries an operation with linear backoff.
func (c *Client) retry(fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelay * time.Duration(i+1))
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	// Rate limit errors and server errors are retryable
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// IsTrackRef reports whether input is a Spotify track URL or URI.
func IsTrackRef(input string) bool {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "spotify:track:") {
		return true
	}
	return strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/track/")
}

// ExtractTrackID extracts the track ID from a Spotify track URL or URI.
func ExtractTrackID(input string) string {
	input = strings.TrimSpace(input)
	// Handle Spotify URI format: spotify:track:TRACK_ID
	if strings.HasPrefix(input, "spotify:track:") {
		return strings.TrimPrefix(input, "spotify:track:")
	}

	// Handle URL format: https://open.spotify.com/track/TRACK_ID or https://open.spotify.com/intl-XX/track/TRACK_ID
	if strings.Contains(input, "open.spotify.com") && strings.Contains(input, "/track/") {
		parts := strings.Split(input, "/track/")
		if len(parts) >= 2 {
			// Remove query parameters and trailing slashes
			id := strings.Split(parts[len(parts)-1], "?")[0]
			id = strings.TrimRight(id, "/")
			return id
		}
	}

	// Assume it's already a track ID
	return input
}
