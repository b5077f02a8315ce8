// Package playback provides the per-guild playback session: a queue, the current track
// and the voice connection it plays through.
package playback

// State represents the session state.
type State int

const (
	StateIdle          State = iota // No connection, nothing playing
	StateConnectedIdle              // Connected to a voice channel, nothing playing
	StatePlaying                    // Connected and a track is current
	StateStopped                    // Torn down; the session must not be reused
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnectedIdle:
		return "connected_idle"
	case StatePlaying:
		return "playing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
