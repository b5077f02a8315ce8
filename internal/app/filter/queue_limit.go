package filter

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/domain/track"
)

// QueueLimitConfig represents the configuration for QueueLimitFilter.
type QueueLimitConfig struct {
	MaxTracks        int `yaml:"max_tracks" mapstructure:"max_tracks" default:"100" validate:"gte=1"`
	MaxTracksPerUser int `yaml:"max_tracks_per_user" mapstructure:"max_tracks_per_user" validate:"gte=0"`
}

// QueueLimitFilter caps the number of pending tracks of a guild, and optionally per requester.
type QueueLimitFilter struct {
	config *QueueLimitConfig
}

// NewQueueLimitFilter creates a new queue limit filter.
func NewQueueLimitFilter() *QueueLimitFilter {
	return &QueueLimitFilter{}
}

func (f *QueueLimitFilter) Name() string {
	return "queue_limit"
}

func (f *QueueLimitFilter) Description() string {
	return "Caps pending tracks per guild and per requester"
}

func (f *QueueLimitFilter) ReturnCodes() []string {
	return []string{"queue_full", "user_queue_full"}
}

func (f *QueueLimitFilter) ValidateConfig(settings map[string]any) error {
	var config QueueLimitConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	f.config = &config
	zlog.Info().Msgf("queue limit filter config: %+v", config)
	return nil
}

func (f *QueueLimitFilter) Check(ctx context.Context, req Request, t track.Track, q QueueView) Result {
	if f.config == nil {
		return Accept()
	}

	queued := q.QueuedTracks()
	if len(queued) >= f.config.MaxTracks {
		return Reject("queue_full")
	}

	if f.config.MaxTracksPerUser > 0 && req.Requester.ID != "" {
		count := 0
		for _, qt := range queued {
			if qt.Requester.ID == req.Requester.ID {
				count++
			}
		}
		if count >= f.config.MaxTracksPerUser {
			return Reject("user_queue_full")
		}
	}

	return Accept()
}

func init() {
	Register("queue_limit", func() Filter {
		return &QueueLimitFilter{}
	})
}
