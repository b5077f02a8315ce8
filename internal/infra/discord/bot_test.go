package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestDisplayName(t *testing.T) {
	user := &discordgo.User{Username: "alice_01", GlobalName: "Alice"}

	tests := []struct {
		name   string
		member *discordgo.Member
		user   *discordgo.User
		want   string
	}{
		{name: "nick wins", member: &discordgo.Member{Nick: "Al"}, user: user, want: "Al"},
		{name: "global name", member: &discordgo.Member{}, user: user, want: "Alice"},
		{name: "no member", user: user, want: "Alice"},
		{name: "username", user: &discordgo.User{Username: "bob"}, want: "bob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, displayName(tt.member, tt.user))
		})
	}
}

func TestGatewayLogLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(prev)

	tests := []struct {
		level zerolog.Level
		want  int
	}{
		{zerolog.TraceLevel, discordgo.LogDebug},
		{zerolog.DebugLevel, discordgo.LogDebug},
		{zerolog.InfoLevel, discordgo.LogInformational},
		{zerolog.WarnLevel, discordgo.LogWarning},
		{zerolog.ErrorLevel, discordgo.LogError},
	}

	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			zerolog.SetGlobalLevel(tt.level)
			assert.Equal(t, tt.want, gatewayLogLevel())
		})
	}
}
