package spotify

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/voicebox/internal/domain/track"
)

func TestExtractTrackID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Spotify URI format",
			input:    "spotify:track:4uLU6hMCjMI75M1A2tKUQC",
			expected: "4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name:     "Spotify URL format",
			input:    "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC",
			expected: "4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name:     "Spotify URL with query params",
			input:    "https://open.spotify.com/track/4uLU6hMCjMI75M1A2tKUQC?si=abc123",
			expected: "4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name:     "Localized URL",
			input:    "https://open.spotify.com/intl-ja/track/abc123/",
			expected: "abc123",
		},
		{
			name:     "Plain track ID",
			input:    "4uLU6hMCjMI75M1A2tKUQC",
			expected: "4uLU6hMCjMI75M1A2tKUQC",
		},
		{
			name:     "Empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractTrackID(tt.input)
			assert.Equal(t, tt.expected, result,
				"ExtractTrackID(%s) should return %s", tt.input, tt.expected)
		})
	}
}

func TestIsTrackRef(t *testing.T) {
	assert.True(t, IsTrackRef("spotify:track:abc"))
	assert.True(t, IsTrackRef("https://open.spotify.com/track/abc?si=x"))
	assert.False(t, IsTrackRef("https://open.spotify.com/playlist/abc"))
	assert.False(t, IsTrackRef("https://www.youtube.com/watch?v=dQw4w9WgXcQ"))
	assert.False(t, IsTrackRef("never gonna give you up"))
}

func TestInfo(t *testing.T) {
	info := Info{
		ID:       "abc",
		Name:     "Song",
		Artists:  []string{"A", "B"},
		Duration: 3 * time.Minute,
		URL:      GetTrackURL("abc"),
	}
	assert.Equal(t, "A, B - Song", info.SearchQuery())
	assert.Equal(t, "Song", Info{Name: "Song"}.SearchQuery())

	tr := info.Track()
	assert.Equal(t, "https://open.spotify.com/track/abc", tr.URL)
	assert.Equal(t, "A, B", tr.Author)
	assert.Equal(t, track.SourceSpotify, tr.Source)
}

func TestGetTrack(t *testing.T) {
	var gotPath, gotMarket string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMarket = r.URL.Query().Get("market")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"abc","name":"Song","duration_ms":215000,"artists":[{"name":"Artist"}]}`))
	}))
	defer srv.Close()

	c := newWithHTTPClient(srv.Client(), Config{Market: "JP", BaseURL: srv.URL + "/"})
	info, err := c.GetTrack(context.Background(), "https://open.spotify.com/track/abc?si=1")
	require.NoError(t, err)
	assert.Equal(t, "/tracks/abc", gotPath)
	assert.Equal(t, "JP", gotMarket)
	assert.Equal(t, "Song", info.Name)
	assert.Equal(t, []string{"Artist"}, info.Artists)
	assert.Equal(t, 215*time.Second, info.Duration)
}

func TestGetTrack_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"status":404,"message":"Non existing id"}}`))
	}))
	defer srv.Close()

	c := newWithHTTPClient(srv.Client(), Config{BaseURL: srv.URL + "/"})
	_, err := c.GetTrack(context.Background(), "spotify:track:missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(context.Background(), Config{ClientID: "id"})
	assert.ErrorIs(t, err, ErrCredentials)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "rate limit error with 429",
			err:      errors.New("Error 429: rate limit exceeded"),
			expected: true,
		},
		{
			name:     "rate limit text",
			err:      errors.New("rate limit exceeded"),
			expected: true,
		},
		{
			name:     "server error 500",
			err:      errors.New("Error 500: internal server error"),
			expected: true,
		},
		{
			name:     "server error 502",
			err:      errors.New("502 Bad Gateway"),
			expected: true,
		},
		{
			name:     "server error 503",
			err:      errors.New("503 Service Unavailable"),
			expected: true,
		},
		{
			name:     "server error 504",
			err:      errors.New("504 Gateway Timeout"),
			expected: true,
		},
		{
			name:     "client error 400",
			err:      errors.New("400 Bad Request"),
			expected: false,
		},
		{
			name:     "not found error",
			err:      errors.New("404 not found"),
			expected: false,
		},
		{
			name:     "generic error",
			err:      errors.New("something went wrong"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isRetryable(tt.err)
			assert.Equal(t, tt.expected, result)
		})
	}
}
