package filter

import (
	"context"
	"regexp"
	"strings"

	"github.com/osa030/voicebox/internal/domain/track"
)

// DuplicateTrackFilter rejects tracks that are already current or queued.
// Detects:
// - Exact URL or video ID matches
// - Re-uploads (normalized title + same author), e.g. "Song (Official Video)" vs "Song [Lyrics]"
// Excludes:
// - Covers (same title but different author)
type DuplicateTrackFilter struct{}

// NewDuplicateTrackFilter creates a new duplicate track filter.
func NewDuplicateTrackFilter() *DuplicateTrackFilter {
	return &DuplicateTrackFilter{}
}

// Name returns the filter name.
func (f *DuplicateTrackFilter) Name() string {
	return "duplicate_track"
}

// Description returns the filter description.
func (f *DuplicateTrackFilter) Description() string {
	return "Rejects tracks already playing or queued (including re-uploads of the same song by the same author)"
}

// ReturnCodes returns possible return codes.
func (f *DuplicateTrackFilter) ReturnCodes() []string {
	return []string{"duplicate_track"}
}

// ValidateConfig validates the filter configuration.
func (f *DuplicateTrackFilter) ValidateConfig(settings map[string]any) error {
	// No configuration needed
	return nil
}

// Check checks if the track is a duplicate.
func (f *DuplicateTrackFilter) Check(ctx context.Context, req Request, requested track.Track, q QueueView) Result {
	candidates := q.QueuedTracks()
	if cur := q.CurrentTrack(); cur != nil {
		candidates = append(candidates, *cur)
	}

	for _, queued := range candidates {
		if isSameTrack(queued.Track, requested) {
			return Reject("duplicate_track")
		}
	}
	return Accept()
}

func isSameTrack(a, b track.Track) bool {
	if a.URL != "" && a.URL == b.URL {
		return true
	}
	if a.ID != "" && a.Source == b.Source && a.ID == b.ID {
		return true
	}
	return isReupload(a, b)
}

// isReupload reports whether two tracks are the same song uploaded in different versions.
func isReupload(a, b track.Track) bool {
	if a.Author == "" || b.Author == "" {
		return false
	}
	if normalizeTitle(a.Title) != normalizeTitle(b.Title) {
		return false
	}
	return strings.EqualFold(normalizeAuthor(a.Author), normalizeAuthor(b.Author))
}

var (
	titleNoisePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*[\(\[][^\)\]]*official[^\)\]]*[\)\]]`),        // "(Official Video)", "[Official Audio]"
		regexp.MustCompile(`\s*[\(\[][^\)\]]*lyric[^\)\]]*[\)\]]`),           // "(Lyrics)", "[Lyric Video]"
		regexp.MustCompile(`\s*[\(\[][^\)\]]*remaster[^\)\]]*[\)\]]`),        // "(Remastered 2011)"
		regexp.MustCompile(`\s*[\(\[]\s*(hd|hq|4k|mv|audio|video)\s*[\)\]]`), // "[HD]", "(MV)"
		regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),                  // "- 2011 Remaster"
	}
	spacePattern = regexp.MustCompile(`\s+`)
)

// normalizeTitle strips upload decorations from a title.
func normalizeTitle(title string) string {
	normalized := strings.ToLower(title)
	for _, pattern := range titleNoisePatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}
	normalized = spacePattern.ReplaceAllString(strings.TrimSpace(normalized), " ")
	return strings.TrimRight(normalized, " -")
}

// normalizeAuthor folds "Artist - Topic" and "ArtistVEVO" channels onto the artist name.
func normalizeAuthor(author string) string {
	a := strings.TrimSpace(author)
	a = strings.TrimSuffix(a, " - Topic")
	a = strings.TrimSuffix(a, "VEVO")
	return strings.TrimSpace(a)
}

func init() {
	Register("duplicate_track", func() Filter {
		return NewDuplicateTrackFilter()
	})
}
