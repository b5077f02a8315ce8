package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
)

// Chat is the part of the Discord API the bot talks through.
type Chat interface {
	SendMessage(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error)
	EditMessage(ctx context.Context, channelID, messageID, content string) error
	// DeferInteraction acknowledges an interaction; the answer follows via EditInteraction.
	DeferInteraction(ctx context.Context, i *discordgo.Interaction, ephemeral bool) error
	EditInteraction(ctx context.Context, i *discordgo.Interaction, content string) error
	// UserVoiceChannel returns the voice channel the user is in, or "".
	UserVoiceChannel(guildID, userID string) string
}

// sessionChat implements Chat on a gateway session.
type sessionChat struct {
	dg *discordgo.Session
}

// NewChat wraps a gateway session.
func NewChat(dg *discordgo.Session) Chat {
	return &sessionChat{dg: dg}
}

func (c *sessionChat) SendMessage(ctx context.Context, channelID string, msg *discordgo.MessageSend) (*discordgo.Message, error) {
	m, err := c.dg.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to send message: channel=%s", channelID)
	}
	return m, nil
}

func (c *sessionChat) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	if _, err := c.dg.ChannelMessageEdit(channelID, messageID, content, discordgo.WithContext(ctx)); err != nil {
		return errors.Wrapf(err, "failed to edit message: channel=%s message=%s", channelID, messageID)
	}
	return nil
}

func (c *sessionChat) DeferInteraction(ctx context.Context, i *discordgo.Interaction, ephemeral bool) error {
	resp := &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}
	if ephemeral {
		resp.Data = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
	}
	if err := c.dg.InteractionRespond(i, resp, discordgo.WithContext(ctx)); err != nil {
		return errors.Wrap(err, "failed to acknowledge interaction")
	}
	return nil
}

func (c *sessionChat) EditInteraction(ctx context.Context, i *discordgo.Interaction, content string) error {
	if _, err := c.dg.InteractionResponseEdit(i, &discordgo.WebhookEdit{Content: &content}, discordgo.WithContext(ctx)); err != nil {
		return errors.Wrap(err, "failed to edit interaction response")
	}
	return nil
}

func (c *sessionChat) UserVoiceChannel(guildID, userID string) string {
	vs, err := c.dg.State.VoiceState(guildID, userID)
	if err != nil || vs == nil {
		return ""
	}
	return vs.ChannelID
}
