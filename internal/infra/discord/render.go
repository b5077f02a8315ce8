package discord

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/domain/track"
)

const (
	maxMessageLength = 2000

	buttonReplay = "voicebox:replay"
	buttonSkip   = "voicebox:skip"
	buttonStop   = "voicebox:stop"
)

// fill replaces {key} placeholders in a message template.
func fill(template string, kv ...string) string {
	pairs := make([]string, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		pairs = append(pairs, "{"+kv[i]+"}", kv[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

// renderQueue lists the current track and the pending ones, cut to fit one message.
func renderQueue(snap playback.Snapshot, emptyText string) string {
	if snap.Current == nil && len(snap.Queue) == 0 {
		return emptyText
	}

	var b strings.Builder
	if snap.Current != nil {
		fmt.Fprintf(&b, "Now: %s\n", snap.Current.Track.DisplayTitle())
	}
	for i, qt := range snap.Queue {
		line := strconv.Itoa(i+1) + ". " + qt.Track.DisplayTitle() + "\n"
		more := fmt.Sprintf("... and %d more\n", len(snap.Queue)-i)
		if b.Len()+len(line)+len(more) > maxMessageLength {
			b.WriteString(more)
			break
		}
		b.WriteString(line)
	}
	return strings.TrimRight(b.String(), "\n")
}

// nowPlayingControls are the buttons attached to a "now playing" notice.
func nowPlayingControls() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{Label: "Replay", Style: discordgo.SecondaryButton, CustomID: buttonReplay},
				discordgo.Button{Label: "Skip", Style: discordgo.PrimaryButton, CustomID: buttonSkip},
				discordgo.Button{Label: "Stop", Style: discordgo.DangerButton, CustomID: buttonStop},
			},
		},
	}
}

func requesterName(qt *track.QueuedTrack) string {
	if qt == nil || qt.Requester.Name == "" {
		return "unknown"
	}
	return qt.Requester.Name
}
