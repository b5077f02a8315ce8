package discord

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/app/resolver"
	"github.com/osa030/voicebox/internal/app/session"
	"github.com/osa030/voicebox/internal/domain/track"
	"github.com/osa030/voicebox/internal/infra/config"
)

// Sessions is the use-case surface the dispatcher drives.
type Sessions interface {
	Play(ctx context.Context, req session.PlayRequest) (*session.PlayResult, error)
	Queue(guildID string) (playback.Snapshot, error)
	Skip(guildID string) error
	Replay(ctx context.Context, guildID string) (*track.QueuedTrack, error)
	Clear(guildID string) (int, error)
	Stop(guildID string) bool
	BotChannel(guildID string) string
	VoiceDisconnected(guildID string)
}

// Message is a chat message that may carry a command.
type Message struct {
	GuildID    string
	ChannelID  string
	MessageID  string
	AuthorID   string
	AuthorName string
	Content    string
}

// ButtonPress is a click on one of the now-playing buttons.
type ButtonPress struct {
	GuildID     string
	UserID      string
	CustomID    string
	Interaction *discordgo.Interaction
}

// Dispatcher turns chat commands and button presses into session operations.
type Dispatcher struct {
	cfg      *config.Config
	sessions Sessions
	chat     Chat
	limiter  *guildLimiter
	timeout  time.Duration
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(cfg *config.Config, sessions Sessions, chat Chat) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		sessions: sessions,
		chat:     chat,
		limiter:  newGuildLimiter(cfg.Commands.RatePerSecond, cfg.Commands.Burst),
		timeout:  cfg.ConnectTimeout() + cfg.ResolveTimeout() + cfg.OpenTimeout(),
	}
}

// parseCommand splits "<prefix><name> <args>" into a lowercase name and its arguments.
func parseCommand(prefix, content string) (name, args string, ok bool) {
	content = strings.TrimSpace(content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return "", "", false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(content, prefix))
	if rest == "" {
		return "", "", false
	}
	name, args, _ = strings.Cut(rest, " ")
	return strings.ToLower(name), strings.TrimSpace(args), true
}

// HandleMessage runs the command in m, if any. It reports whether m was a known command.
func (d *Dispatcher) HandleMessage(ctx context.Context, m Message) bool {
	if m.GuildID == "" {
		return false
	}
	name, args, ok := parseCommand(d.cfg.Discord.Prefix, m.Content)
	if !ok {
		return false
	}

	zlog.Debug().Msgf("command received: guild=%s user=%s command=%s args=%q", m.GuildID, m.AuthorID, name, args)

	switch name {
	case "play", "p":
		d.play(ctx, m, args)
	case "queue", "kuyruk", "q":
		d.queue(ctx, m)
	case "next", "skip":
		d.skip(ctx, m)
	case "clear":
		d.clear(ctx, m)
	case "stop":
		d.stop(ctx, m)
	case "help":
		d.reply(ctx, m, fill(d.cfg.GetMessage("help"), "prefix", d.cfg.Discord.Prefix))
	default:
		return false
	}
	return true
}

// sameChannel reports whether the user may control the bot: the bot is not
// connected, or the user is in the bot's voice channel.
func (d *Dispatcher) sameChannel(guildID, userID string) bool {
	bot := d.sessions.BotChannel(guildID)
	if bot == "" {
		return true
	}
	return d.chat.UserVoiceChannel(guildID, userID) == bot
}

func (d *Dispatcher) play(ctx context.Context, m Message, query string) {
	if query == "" {
		d.reply(ctx, m, d.cfg.GetMessage("missing_query"))
		return
	}
	voiceChannel := d.chat.UserVoiceChannel(m.GuildID, m.AuthorID)
	if voiceChannel == "" {
		d.reply(ctx, m, d.cfg.GetMessage("not_in_voice"))
		return
	}
	if bot := d.sessions.BotChannel(m.GuildID); bot != "" && bot != voiceChannel {
		d.reply(ctx, m, d.cfg.GetMessage("different_channel"))
		return
	}
	if !d.limiter.Allow(m.GuildID) {
		d.reply(ctx, m, d.cfg.GetMessage("rate_limited"))
		return
	}

	searching := d.reply(ctx, m, fill(d.cfg.GetMessage("searching"), "query", query))

	playCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	result, err := d.sessions.Play(playCtx, session.PlayRequest{
		GuildID:        m.GuildID,
		VoiceChannelID: voiceChannel,
		TextChannelID:  m.ChannelID,
		Query:          query,
		Requester:      track.Requester{ID: m.AuthorID, Name: m.AuthorName},
	})

	var outcome string
	if err != nil {
		outcome = d.playError(err)
		zlog.Info().Msgf("play failed: guild=%s query=%q err=%v", m.GuildID, query, err)
	} else if result.Position == 0 {
		outcome = fill(d.cfg.GetMessage("playing_now"), "title", result.Track.Track.DisplayTitle())
	} else {
		outcome = fill(d.cfg.GetMessage("added"),
			"title", result.Track.Track.DisplayTitle(),
			"position", strconv.Itoa(result.Position))
	}

	if searching != nil {
		err := d.chat.EditMessage(ctx, searching.ChannelID, searching.ID, outcome)
		if err == nil {
			return
		}
		zlog.Warn().Msgf("failed to edit reply: guild=%s err=%v", m.GuildID, err)
	}
	d.reply(ctx, m, outcome)
}

// playError maps a play failure to the text shown to the requester.
func (d *Dispatcher) playError(err error) string {
	var rejected *session.RejectedError
	switch {
	case errors.As(err, &rejected):
		return fill(d.cfg.GetMessage("rejected"), "reason", d.cfg.GetMessage(rejected.Code))
	case errors.Is(err, resolver.ErrNotFound), errors.Is(err, resolver.ErrUnsupported):
		return d.cfg.GetMessage("track_not_found")
	case errors.Is(err, playback.ErrConnectionTimeout):
		return d.cfg.GetMessage("connection_timeout")
	case errors.Is(err, session.ErrBadQuery):
		return d.cfg.GetMessage("missing_query")
	default:
		return d.cfg.GetMessage("default_error")
	}
}

func (d *Dispatcher) queue(ctx context.Context, m Message) {
	snap, err := d.sessions.Queue(m.GuildID)
	if err != nil {
		d.reply(ctx, m, d.cfg.GetMessage("queue_empty"))
		return
	}
	d.reply(ctx, m, renderQueue(snap, d.cfg.GetMessage("queue_empty")))
}

func (d *Dispatcher) skip(ctx context.Context, m Message) {
	if !d.sameChannel(m.GuildID, m.AuthorID) {
		d.reply(ctx, m, d.cfg.GetMessage("different_channel"))
		return
	}
	d.reply(ctx, m, d.skipText(m.GuildID))
}

func (d *Dispatcher) skipText(guildID string) string {
	switch err := d.sessions.Skip(guildID); {
	case err == nil:
		return d.cfg.GetMessage("skipped")
	case errors.Is(err, session.ErrNoSession), errors.Is(err, playback.ErrNoTrack):
		return d.cfg.GetMessage("nothing_to_skip")
	default:
		zlog.Warn().Msgf("skip failed: guild=%s err=%v", guildID, err)
		return d.cfg.GetMessage("default_error")
	}
}

func (d *Dispatcher) clear(ctx context.Context, m Message) {
	if _, err := d.sessions.Clear(m.GuildID); err != nil {
		d.reply(ctx, m, d.cfg.GetMessage("no_session"))
		return
	}
	d.reply(ctx, m, d.cfg.GetMessage("cleared"))
}

func (d *Dispatcher) stop(ctx context.Context, m Message) {
	if !d.sameChannel(m.GuildID, m.AuthorID) {
		d.reply(ctx, m, d.cfg.GetMessage("different_channel"))
		return
	}
	d.reply(ctx, m, d.stopText(m.GuildID))
}

func (d *Dispatcher) stopText(guildID string) string {
	if !d.sessions.Stop(guildID) {
		return d.cfg.GetMessage("no_session")
	}
	d.limiter.Forget(guildID)
	return d.cfg.GetMessage("stopped")
}

// HandleButton runs a now-playing button action. The press is acknowledged with
// a deferred ephemeral reply that is then edited with the outcome.
func (d *Dispatcher) HandleButton(ctx context.Context, b ButtonPress) {
	if b.GuildID == "" {
		return
	}
	switch b.CustomID {
	case buttonReplay, buttonSkip, buttonStop:
	default:
		return
	}

	zlog.Debug().Msgf("button pressed: guild=%s user=%s button=%s", b.GuildID, b.UserID, b.CustomID)

	// Acknowledge first; a replay can outlast the interaction deadline.
	if err := d.chat.DeferInteraction(ctx, b.Interaction, true); err != nil {
		zlog.Warn().Msgf("failed to acknowledge button: guild=%s err=%v", b.GuildID, err)
		return
	}

	var text string
	bot := d.sessions.BotChannel(b.GuildID)
	switch {
	case bot == "":
		text = d.cfg.GetMessage("no_session")
	case d.chat.UserVoiceChannel(b.GuildID, b.UserID) != bot:
		text = d.cfg.GetMessage("different_channel")
	case b.CustomID == buttonReplay:
		text = d.replayText(ctx, b.GuildID)
	case b.CustomID == buttonSkip:
		text = d.skipText(b.GuildID)
	default:
		text = d.stopText(b.GuildID)
	}

	if err := d.chat.EditInteraction(ctx, b.Interaction, text); err != nil {
		zlog.Warn().Msgf("failed to answer button: guild=%s err=%v", b.GuildID, err)
	}
}

func (d *Dispatcher) replayText(ctx context.Context, guildID string) string {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.OpenTimeout())
	defer cancel()

	cur, err := d.sessions.Replay(ctx, guildID)
	switch {
	case err == nil:
		return fill(d.cfg.GetMessage("replayed"), "title", cur.Track.DisplayTitle())
	case errors.Is(err, session.ErrNoSession), errors.Is(err, playback.ErrNoTrack):
		return d.cfg.GetMessage("nothing_to_replay")
	default:
		zlog.Warn().Msgf("replay failed: guild=%s err=%v", guildID, err)
		return d.cfg.GetMessage("default_error")
	}
}

// HandleVoiceState stops the guild's session when the bot is removed from the
// voice channel the session is connected to.
func (d *Dispatcher) HandleVoiceState(guildID, userID, botUserID, beforeChannelID, afterChannelID string) {
	if userID == "" || userID != botUserID || afterChannelID != "" {
		return
	}
	if beforeChannelID == "" || beforeChannelID != d.sessions.BotChannel(guildID) {
		return
	}
	zlog.Info().Msgf("bot left voice channel: guild=%s channel=%s", guildID, beforeChannelID)
	d.limiter.Forget(guildID)
	d.sessions.VoiceDisconnected(guildID)
}

// reply answers a message, referencing it.
func (d *Dispatcher) reply(ctx context.Context, m Message, content string) *discordgo.Message {
	msg := &discordgo.MessageSend{Content: content}
	if m.MessageID != "" {
		msg.Reference = &discordgo.MessageReference{
			MessageID: m.MessageID,
			ChannelID: m.ChannelID,
			GuildID:   m.GuildID,
		}
	}
	sent, err := d.chat.SendMessage(ctx, m.ChannelID, msg)
	if err != nil {
		zlog.Warn().Msgf("failed to reply: guild=%s channel=%s err=%v", m.GuildID, m.ChannelID, err)
		return nil
	}
	return sent
}
