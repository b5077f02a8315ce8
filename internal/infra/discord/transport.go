// Package discord connects the playback sessions to Discord: the voice
// transport and player, the command dispatcher, and the notice sink.
package discord

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/app/playback"
	"github.com/osa030/voicebox/internal/infra/config"
)

// Transport joins voice channels through a gateway session.
type Transport struct {
	dg       *discordgo.Session
	selfDeaf bool
	encoder  EncoderFactory
}

// NewTransport creates a new Transport.
func NewTransport(dg *discordgo.Session, cfg *config.Config) *Transport {
	return &Transport{
		dg:       dg,
		selfDeaf: cfg.Voice.SelfDeaf,
		encoder:  NewDCAEncoderFactory(cfg.Voice.BitrateKbps),
	}
}

type joinResult struct {
	vc  *discordgo.VoiceConnection
	err error
}

// Join connects to a voice channel and returns once the connection is ready.
// A connection that becomes ready after ctx is done is disconnected.
func (t *Transport) Join(ctx context.Context, guildID, channelID string) (playback.Connection, error) {
	resultCh := make(chan joinResult, 1)
	go func() {
		vc, err := t.dg.ChannelVoiceJoin(guildID, channelID, false, t.selfDeaf)
		resultCh <- joinResult{vc: vc, err: err}
	}()

	select {
	case r := <-resultCh:
		if r.err != nil {
			if r.vc != nil {
				_ = r.vc.Disconnect()
			}
			return nil, errors.Wrapf(r.err, "failed to join voice channel: guild=%s channel=%s", guildID, channelID)
		}
		zlog.Info().Msgf("voice connected: guild=%s channel=%s", guildID, channelID)
		return newConnection(r.vc, channelID, t.encoder), nil

	case <-ctx.Done():
		go func() {
			r := <-resultCh
			if r.vc != nil {
				zlog.Debug().Msgf("disconnecting late voice connection: guild=%s channel=%s", guildID, channelID)
				_ = r.vc.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

var _ playback.Transport = (*Transport)(nil)
