// Package config provides configuration loading from YAML files and the environment.
package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Discord      DiscordConfig           `yaml:"discord"`
	Voice        VoiceConfig             `yaml:"voice"`
	Playback     PlaybackConfig          `yaml:"playback"`
	Commands     CommandsConfig          `yaml:"commands"`
	Resolver     ResolverConfig          `yaml:"resolver"`
	Filters      map[string]FilterConfig `yaml:"filters"`
	Notification NotificationConfig      `yaml:"notification"`
	Admin        AdminConfig             `yaml:"admin"`
	Spotify      SpotifyConfig           `yaml:"spotify"`
	YouTube      YouTubeConfig           `yaml:"youtube"`
	Messages     MessagesConfig          `yaml:"messages"`
}

// DiscordConfig represents the chat gateway configuration.
type DiscordConfig struct {
	Token  string `yaml:"token" env:"DISCORD_TOKEN" validate:"required"`
	Prefix string `yaml:"prefix" default:"." validate:"required,max=5"`
	Status string `yaml:"status" default:".help"`
}

// VoiceConfig represents voice connection configuration.
type VoiceConfig struct {
	ConnectTimeoutSec int  `yaml:"connect_timeout_sec" default:"20" validate:"gte=1,lte=120"`
	BitrateKbps       int  `yaml:"bitrate_kbps" default:"96" validate:"gte=8,lte=512"`
	SelfDeaf          bool `yaml:"self_deaf"`
}

// PlaybackConfig represents playback control configuration.
type PlaybackConfig struct {
	// MaxConsecutiveFailures stops advancing after that many tracks in a row failed to start. 0 = unlimited.
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures" validate:"gte=0"`
	OpenTimeoutSec         int `yaml:"open_timeout_sec" default:"30" validate:"gte=1,lte=300"`
	ResolveTimeoutSec      int `yaml:"resolve_timeout_sec" default:"30" validate:"gte=1,lte=300"`
}

// CommandsConfig represents per-guild command rate limiting.
type CommandsConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second" default:"1" validate:"gt=0"`
	Burst         int     `yaml:"burst" default:"3" validate:"gte=1"`
}

// ResolverConfig represents track resolution configuration.
type ResolverConfig struct {
	Providers []ProviderConfig `yaml:"providers" validate:"dive"`
}

// ProviderConfig represents a single resolver provider configuration.
type ProviderConfig struct {
	Type        string         `yaml:"type" validate:"required,oneof=youtube spotify"`
	DisplayName string         `yaml:"display_name"`
	Settings    map[string]any `yaml:"settings"`
}

// FilterConfig represents a filter's configuration.
type FilterConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Settings map[string]any `yaml:"settings,omitempty"`
}

// NotificationConfig represents notice delivery configuration.
type NotificationConfig struct {
	SendTimeoutSec int `yaml:"send_timeout_sec" default:"5" validate:"gte=1,lte=60"`
}

// AdminConfig represents the admin RPC configuration.
// The admin server is disabled when Addr is empty.
type AdminConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token" env:"ADMIN_TOKEN" validate:"required_with=Addr"`
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID     string `yaml:"client_id" env:"SPOTIFY_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"SPOTIFY_CLIENT_SECRET"`
	Market       string `yaml:"market" validate:"omitempty,len=2" default:"US"`
}

// YouTubeConfig represents YouTube client configuration.
type YouTubeConfig struct {
	RequestTimeoutSec int `yaml:"request_timeout_sec" default:"30" validate:"gte=1,lte=300"`
}

// MessagesConfig represents user-facing messages.
// Placeholders such as {title}, {position}, {user}, {query} and {reason} are replaced where they apply.
type MessagesConfig struct {
	Searching             string `yaml:"searching" default:"Searching for **{query}**..."`
	Added                 string `yaml:"added" default:"Added **{title}** to the queue (position {position})."`
	PlayingNow            string `yaml:"playing_now" default:"Playing **{title}** now."`
	NowPlaying            string `yaml:"now_playing" default:"Now playing: **{title}** (requested by {user})"`
	TrackNotFound         string `yaml:"track_not_found" default:"Nothing found for that query."`
	ConnectionTimeout     string `yaml:"connection_timeout" default:"Could not connect to the voice channel in time."`
	NotInVoice            string `yaml:"not_in_voice" default:"Join a voice channel first."`
	DifferentChannel      string `yaml:"different_channel" default:"You need to be in the same voice channel as the bot."`
	MissingQuery          string `yaml:"missing_query" default:"Tell me what to play."`
	NothingToSkip         string `yaml:"nothing_to_skip" default:"Nothing to skip."`
	Skipped               string `yaml:"skipped" default:"Skipped."`
	NothingToReplay       string `yaml:"nothing_to_replay" default:"Nothing to replay."`
	Replayed              string `yaml:"replayed" default:"Replaying **{title}**."`
	Cleared               string `yaml:"cleared" default:"Queue cleared."`
	Stopped               string `yaml:"stopped" default:"Stopped and left the voice channel."`
	QueueEmpty            string `yaml:"queue_empty" default:"The queue is empty."`
	NoSession             string `yaml:"no_session" default:"There is no active queue."`
	TrackFailed           string `yaml:"track_failed" default:"Could not play **{title}**, skipping."`
	PlayerError           string `yaml:"player_error" default:"Playback of **{title}** failed."`
	FailureLimit          string `yaml:"failure_limit" default:"Too many tracks failed in a row, playback paused."`
	RateLimited           string `yaml:"rate_limited" default:"Slow down a little."`
	Rejected              string `yaml:"rejected" default:"Request rejected: {reason}"`
	DuplicateTrack        string `yaml:"duplicate_track" default:"That track is already in the queue."`
	DurationLimitExceeded string `yaml:"duration_limit_exceeded" default:"That track is too long or too short."`
	QueueFull             string `yaml:"queue_full" default:"The queue is full."`
	UserQueueFull         string `yaml:"user_queue_full" default:"You already have too many tracks queued."`
	Help                  string `yaml:"help" default:"Commands: {prefix}play <query|url>, {prefix}queue, {prefix}next, {prefix}clear, {prefix}stop"`
	DefaultError          string `yaml:"default_error" default:"Something went wrong."`
}

// DefaultProviders is used when no resolver provider is configured.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{Type: "spotify", DisplayName: "Spotify"},
		{Type: "youtube", DisplayName: "YouTube"},
	}
}

// Load loads configuration from a YAML file.
// A missing file is not an error; the environment and defaults are used instead.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, errors.Wrap(err, "failed to parse config file")
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, errors.Wrap(err, "failed to read config file")
		}
	}

	// Override with environment variables
	if err := env.Parse(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse environment")
	}

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if len(cfg.Resolver.Providers) == 0 {
		cfg.Resolver.Providers = DefaultProviders()
		if !cfg.Spotify.Enabled() {
			cfg.Resolver.Providers = cfg.Resolver.Providers[1:]
		}
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// Enabled reports whether Spotify credentials are configured.
func (s SpotifyConfig) Enabled() bool {
	return s.ClientID != "" && s.ClientSecret != ""
}

// GetMessage returns the message for the given code.
func (c *Config) GetMessage(code string) string {
	m := c.Messages
	switch code {
	case "searching":
		return m.Searching
	case "added":
		return m.Added
	case "playing_now":
		return m.PlayingNow
	case "now_playing":
		return m.NowPlaying
	case "track_not_found":
		return m.TrackNotFound
	case "connection_timeout":
		return m.ConnectionTimeout
	case "not_in_voice":
		return m.NotInVoice
	case "different_channel":
		return m.DifferentChannel
	case "missing_query":
		return m.MissingQuery
	case "nothing_to_skip":
		return m.NothingToSkip
	case "skipped":
		return m.Skipped
	case "nothing_to_replay":
		return m.NothingToReplay
	case "replayed":
		return m.Replayed
	case "cleared":
		return m.Cleared
	case "stopped":
		return m.Stopped
	case "queue_empty":
		return m.QueueEmpty
	case "no_session":
		return m.NoSession
	case "track_failed":
		return m.TrackFailed
	case "player_error":
		return m.PlayerError
	case "failure_limit":
		return m.FailureLimit
	case "rate_limited":
		return m.RateLimited
	case "rejected":
		return m.Rejected
	case "duplicate_track":
		return m.DuplicateTrack
	case "duration_limit_exceeded":
		return m.DurationLimitExceeded
	case "queue_full":
		return m.QueueFull
	case "user_queue_full":
		return m.UserQueueFull
	case "help":
		return m.Help
	default:
		return m.DefaultError
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	for i, p := range c.Resolver.Providers {
		if p.Type == "spotify" && !c.Spotify.Enabled() {
			return errors.Newf("resolver provider %d (spotify) requires spotify client_id and client_secret", i)
		}
	}

	return nil
}

// IsFilterEnabled checks if a filter is enabled.
func (c *Config) IsFilterEnabled(filterName string) bool {
	if f, ok := c.Filters[filterName]; ok {
		return f.Enabled
	}
	return false
}

// ConnectTimeout returns the voice connection timeout.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Voice.ConnectTimeoutSec) * time.Second
}

// OpenTimeout returns the stream open timeout.
func (c *Config) OpenTimeout() time.Duration {
	return time.Duration(c.Playback.OpenTimeoutSec) * time.Second
}

// ResolveTimeout returns the query resolution timeout.
func (c *Config) ResolveTimeout() time.Duration {
	return time.Duration(c.Playback.ResolveTimeoutSec) * time.Second
}

// SendTimeout returns the per-subscriber notice send timeout.
func (c *Config) SendTimeout() time.Duration {
	return time.Duration(c.Notification.SendTimeoutSec) * time.Second
}
