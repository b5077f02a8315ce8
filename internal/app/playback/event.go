package playback

import "github.com/osa030/voicebox/internal/domain/track"

// EventType represents a playback event type.
type EventType int

const (
	EventTrackStarted  EventType = iota // Track started playing
	EventTrackReplayed                  // Current track restarted from the beginning
	EventTrackFailed                    // Track could not be started and was skipped
	EventPlayerError                    // Player failed while a track was playing
	EventQueueEmpty                     // Advancement found nothing left to play
	EventFailureLimit                   // Too many tracks in a row failed to start
	EventStopped                        // Session was torn down
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackStarted:
		return "track_started"
	case EventTrackReplayed:
		return "track_replayed"
	case EventTrackFailed:
		return "track_failed"
	case EventPlayerError:
		return "player_error"
	case EventQueueEmpty:
		return "queue_empty"
	case EventFailureLimit:
		return "failure_limit"
	case EventStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type          EventType
	SessionID     string
	GuildID       string
	TextChannelID string             // Where status messages for this session go
	Track         *track.QueuedTrack // Track the event refers to (nil for some events)
	State         State              // Session state after the event
	QueueLength   int                // Pending tracks after the event
	Err           error              // Cause for failure events
}
