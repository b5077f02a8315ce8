// Package track provides the Track domain entity.
package track

import (
	"fmt"
	"time"
)

// Source identifies where a track was resolved from.
type Source string

const (
	SourceYouTube Source = "youtube"
	SourceSpotify Source = "spotify"
)

// Track is a resolved, playable reference.
// URL and Title are always set; the remaining fields are filled when the provider knows them.
type Track struct {
	ID       string        // Provider-specific ID (e.g. YouTube video ID)
	URL      string        // Canonical content URL
	Title    string        // Display title
	Author   string        // Channel or artist name
	Duration time.Duration // Zero when unknown
	Source   Source        // Provider that resolved the track
}

// IsZero reports whether the track has not been resolved.
func (t Track) IsZero() bool {
	return t.URL == "" && t.Title == ""
}

// DisplayTitle returns the title with its duration appended when known.
func (t Track) DisplayTitle() string {
	if t.Duration <= 0 {
		return t.Title
	}
	return fmt.Sprintf("%s (%s)", t.Title, FormatDuration(t.Duration))
}

// Requester represents the chat user who requested the track.
type Requester struct {
	ID   string // Chat user ID
	Name string // Display name
}

// QueuedTrack represents a track in a session queue.
type QueuedTrack struct {
	Track     Track     // Resolved track info
	Requester Requester // Requester info
	AddedAt   time.Time // Time when added to queue
}

// FormatDuration renders d as m:ss, or h:mm:ss for durations of an hour or more.
func FormatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
