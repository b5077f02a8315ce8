package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"

	"github.com/osa030/voicebox/internal/app/notification"
	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/infra/config"
)

// Sink posts session notifications to the guild's text channel.
type Sink struct {
	cfg  *config.Config
	chat Chat
}

// NewSink creates a new Sink.
func NewSink(cfg *config.Config, chat Chat) *Sink {
	return &Sink{cfg: cfg, chat: chat}
}

var _ notification.Subscriber = (*Sink)(nil)

// Send implements notification.Subscriber.
func (s *Sink) Send(ctx context.Context, n *notification.Notification) error {
	msg := s.render(n.Event)
	if msg == nil || n.Event.TextChannelID == "" {
		return nil
	}
	if _, err := s.chat.SendMessage(ctx, n.Event.TextChannelID, msg); err != nil {
		return errors.Wrapf(err, "failed to post notice: seq=%d type=%s", n.SequenceNo, n.Event.Type)
	}
	return nil
}

// render returns the message for an event, or nil when the event is not posted.
func (s *Sink) render(e playback.Event) *discordgo.MessageSend {
	title := ""
	if e.Track != nil {
		title = e.Track.Track.DisplayTitle()
	}

	switch e.Type {
	case playback.EventTrackStarted:
		return &discordgo.MessageSend{
			Content:    fill(s.cfg.GetMessage("now_playing"), "title", title, "user", requesterName(e.Track)),
			Components: nowPlayingControls(),
		}
	case playback.EventTrackFailed:
		return &discordgo.MessageSend{Content: fill(s.cfg.GetMessage("track_failed"), "title", title)}
	case playback.EventPlayerError:
		return &discordgo.MessageSend{Content: fill(s.cfg.GetMessage("player_error"), "title", title)}
	case playback.EventQueueEmpty:
		return &discordgo.MessageSend{Content: s.cfg.GetMessage("queue_empty")}
	case playback.EventFailureLimit:
		return &discordgo.MessageSend{Content: s.cfg.GetMessage("failure_limit")}
	default:
		return nil
	}
}
