package youtube

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/kkdai/youtube/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstUnique(t *testing.T) {
	tests := []struct {
		name     string
		found    []string
		limit    int
		expected []string
	}{
		{
			name:     "dedupes and keeps result order",
			found:    []string{"dQw4w9WgXcQ", "dQw4w9WgXcQ", "yPYZpwSpKmA", "L_jWHffIx5E"},
			limit:    10,
			expected: []string{"dQw4w9WgXcQ", "yPYZpwSpKmA", "L_jWHffIx5E"},
		},
		{
			name:     "honors limit",
			found:    []string{"dQw4w9WgXcQ", "yPYZpwSpKmA"},
			limit:    1,
			expected: []string{"dQw4w9WgXcQ"},
		},
		{
			name:     "skips empty ids",
			found:    []string{"", "yPYZpwSpKmA"},
			limit:    5,
			expected: []string{"yPYZpwSpKmA"},
		},
		{
			name:     "no results",
			limit:    5,
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, firstUnique(tt.found, tt.limit))
		})
	}
}

func TestSearch(t *testing.T) {
	var gotQuery string
	c := New(Config{})
	c.search = func(_ context.Context, query string) ([]string, error) {
		gotQuery = query
		return []string{"dQw4w9WgXcQ", "dQw4w9WgXcQ", "yPYZpwSpKmA", "L_jWHffIx5E"}, nil
	}

	ids, err := c.Search(context.Background(), "  rick astley never gonna ", 2)
	require.NoError(t, err)
	assert.Equal(t, "rick astley never gonna", gotQuery)
	assert.Equal(t, []string{"dQw4w9WgXcQ", "yPYZpwSpKmA"}, ids)

	ids, err = c.Search(context.Background(), "rick astley", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"dQw4w9WgXcQ"}, ids)
}

func TestSearch_Errors(t *testing.T) {
	calls := 0
	c := New(Config{})
	c.search = func(context.Context, string) ([]string, error) {
		calls++
		return nil, errors.New("429 too many requests")
	}

	_, err := c.Search(context.Background(), "anything", 1)
	assert.ErrorIs(t, err, ErrSearch)

	_, err = c.Search(context.Background(), "   ", 1)
	assert.ErrorIs(t, err, ErrSearch)
	assert.Equal(t, 1, calls)
}

func TestVideo_InvalidReference(t *testing.T) {
	c := New(Config{})
	_, err := c.Video(context.Background(), "bad/id")
	assert.ErrorIs(t, err, ErrInvalidVideo)
}

func TestIsVideoURL(t *testing.T) {
	tests := []struct {
		input    string
		expected bool
	}{
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"https://youtube.com/watch?v=dQw4w9WgXcQ&t=42", true},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"https://music.youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ", true},
		{"https://www.youtube.com/shorts/dQw4w9WgXcQ", true},
		{"https://www.youtube.com/watch", false},
		{"https://www.youtube.com/playlist?list=PL123", false},
		{"https://youtu.be/", false},
		{"https://soundcloud.com/artist/track", false},
		{"dQw4w9WgXcQ", false},
		{"never gonna give you up", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsVideoURL(tt.input))
		})
	}
}

func TestPickAudioFormat(t *testing.T) {
	tests := []struct {
		name     string
		formats  youtube.FormatList
		expected int
	}{
		{
			name: "prefers opus audio-only",
			formats: youtube.FormatList{
				{ItagNo: 18, MimeType: `video/mp4; codecs="avc1.42001E, mp4a.40.2"`, Bitrate: 500000, AudioChannels: 2},
				{ItagNo: 140, MimeType: `audio/mp4; codecs="mp4a.40.2"`, Bitrate: 130000, AudioChannels: 2},
				{ItagNo: 250, MimeType: `audio/webm; codecs="opus"`, Bitrate: 70000, AudioChannels: 2},
				{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`, Bitrate: 160000, AudioChannels: 2},
			},
			expected: 251,
		},
		{
			name: "falls back to audio-only of highest bitrate",
			formats: youtube.FormatList{
				{ItagNo: 139, MimeType: `audio/mp4; codecs="mp4a.40.5"`, Bitrate: 48000, AudioChannels: 2},
				{ItagNo: 140, MimeType: `audio/mp4; codecs="mp4a.40.2"`, Bitrate: 130000, AudioChannels: 2},
			},
			expected: 140,
		},
		{
			name: "falls back to muxed video",
			formats: youtube.FormatList{
				{ItagNo: 137, MimeType: `video/mp4; codecs="avc1.640028"`, Bitrate: 4000000},
				{ItagNo: 18, MimeType: `video/mp4; codecs="avc1.42001E, mp4a.40.2"`, Bitrate: 500000, AudioChannels: 2},
			},
			expected: 18,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := pickAudioFormat(tt.formats)
			require.NotNil(t, f)
			assert.Equal(t, tt.expected, f.ItagNo)
		})
	}

	assert.Nil(t, pickAudioFormat(youtube.FormatList{{ItagNo: 137, MimeType: "video/mp4"}}))
}
