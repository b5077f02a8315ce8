package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/infra/config"
)

const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildVoiceStates |
	discordgo.IntentsMessageContent

// NewGatewaySession creates a gateway session that logs through zerolog.
func NewGatewaySession(cfg *config.Config) (*discordgo.Session, error) {
	dg, err := discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create discord session")
	}
	dg.Identify.Intents = intents
	dg.LogLevel = gatewayLogLevel()
	discordgo.Logger = gatewayLogger
	return dg, nil
}

func gatewayLogLevel() int {
	switch zerolog.GlobalLevel() {
	case zerolog.TraceLevel, zerolog.DebugLevel:
		return discordgo.LogDebug
	case zerolog.InfoLevel:
		return discordgo.LogInformational
	case zerolog.WarnLevel:
		return discordgo.LogWarning
	default:
		return discordgo.LogError
	}
}

func gatewayLogger(msgL, _ int, format string, a ...interface{}) {
	var ev *zerolog.Event
	switch msgL {
	case discordgo.LogError:
		ev = zlog.Error()
	case discordgo.LogWarning:
		ev = zlog.Warn()
	case discordgo.LogInformational:
		ev = zlog.Info()
	default:
		ev = zlog.Debug()
	}
	ev.Str("component", "discordgo").Msg(fmt.Sprintf(format, a...))
}

// Bot routes gateway events to the dispatcher.
type Bot struct {
	dg         *discordgo.Session
	dispatcher *Dispatcher
	status     string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewBot registers the gateway handlers.
func NewBot(dg *discordgo.Session, dispatcher *Dispatcher, status string) *Bot {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{
		dg:         dg,
		dispatcher: dispatcher,
		status:     status,
		ctx:        ctx,
		cancel:     cancel,
	}
	dg.AddHandler(b.onReady)
	dg.AddHandler(b.onMessageCreate)
	dg.AddHandler(b.onInteractionCreate)
	dg.AddHandler(b.onVoiceStateUpdate)
	return b
}

// Open connects to the gateway.
func (b *Bot) Open() error {
	if err := b.dg.Open(); err != nil {
		return errors.Wrap(err, "failed to open discord gateway")
	}
	return nil
}

// Close cancels in-flight commands and closes the gateway.
func (b *Bot) Close() error {
	b.cancel()
	if err := b.dg.Close(); err != nil {
		return errors.Wrap(err, "failed to close discord gateway")
	}
	return nil
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	zlog.Info().Msgf("gateway ready: user=%s guilds=%d", r.User.Username, len(r.Guilds))
	if b.status == "" {
		return
	}
	if err := s.UpdateGameStatus(0, b.status); err != nil {
		zlog.Warn().Msgf("failed to set status: err=%v", err)
	}
}

func (b *Bot) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}
	b.dispatcher.HandleMessage(b.ctx, Message{
		GuildID:    m.GuildID,
		ChannelID:  m.ChannelID,
		MessageID:  m.ID,
		AuthorID:   m.Author.ID,
		AuthorName: displayName(m.Member, m.Author),
		Content:    m.Content,
	})
}

func (b *Bot) onInteractionCreate(_ *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user == nil {
		return
	}
	b.dispatcher.HandleButton(b.ctx, ButtonPress{
		GuildID:     i.GuildID,
		UserID:      user.ID,
		CustomID:    i.MessageComponentData().CustomID,
		Interaction: i.Interaction,
	})
}

func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.VoiceState == nil || s.State.User == nil {
		return
	}
	before := ""
	if v.BeforeUpdate != nil {
		before = v.BeforeUpdate.ChannelID
	}
	b.dispatcher.HandleVoiceState(v.GuildID, v.UserID, s.State.User.ID, before, v.ChannelID)
}

func displayName(member *discordgo.Member, user *discordgo.User) string {
	if member != nil && member.Nick != "" {
		return member.Nick
	}
	if user.GlobalName != "" {
		return user.GlobalName
	}
	return user.Username
}
