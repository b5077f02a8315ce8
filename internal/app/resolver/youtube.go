package resolver

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/domain/track"
	"github.com/osa030/voicebox/internal/infra/youtube"
)

// YouTubeClient is the subset of the YouTube client used for resolution.
type YouTubeClient interface {
	Video(ctx context.Context, ref string) (track.Track, error)
	Search(ctx context.Context, query string, limit int) ([]string, error)
}

type YouTubeProviderConfig struct {
	// SearchResults is how many search hits are inspected for a playable video.
	SearchResults int `yaml:"search_results" mapstructure:"search_results" default:"5" validate:"min=1,max=20"`
}

// YouTubeProvider resolves YouTube video links and free-text searches.
type YouTubeProvider struct {
	client YouTubeClient
	config *YouTubeProviderConfig
}

// NewYouTubeProvider creates a new YouTubeProvider.
func NewYouTubeProvider(client YouTubeClient, settings map[string]any) (*YouTubeProvider, error) {
	var config YouTubeProviderConfig
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	zlog.Debug().Msgf("youtube provider config: %+v", config)
	if err := validator.New().Struct(config); err != nil {
		zlog.Error().Msgf("youtube provider validation failed: %v", err)
		return nil, errors.Wrap(err, "validation failed")
	}
	return &YouTubeProvider{
		client: client,
		config: &config,
	}, nil
}

// Name returns the provider type.
func (p *YouTubeProvider) Name() string {
	return "youtube"
}

// Supports accepts YouTube video links and any non-link query.
func (p *YouTubeProvider) Supports(query string) bool {
	if IsURL(query) {
		return youtube.IsVideoURL(query)
	}
	return true
}

// Resolve looks up a linked video, or searches and returns the first playable hit.
func (p *YouTubeProvider) Resolve(ctx context.Context, query string) (track.Track, error) {
	if IsURL(query) {
		t, err := p.client.Video(ctx, query)
		if err != nil {
			return track.Track{}, p.mapError(err)
		}
		return t, nil
	}
	return p.Search(ctx, query)
}

// Search returns the first hit for the search terms whose metadata can be loaded.
func (p *YouTubeProvider) Search(ctx context.Context, terms string) (track.Track, error) {
	ids, err := p.client.Search(ctx, terms, p.config.SearchResults)
	if err != nil {
		return track.Track{}, errors.Wrap(err, "search failed")
	}
	if len(ids) == 0 {
		return track.Track{}, errors.Wrapf(ErrNotFound, "no search results: query=%q", terms)
	}

	for _, id := range ids {
		t, err := p.client.Video(ctx, id)
		if err == nil {
			return t, nil
		}
		if ctx.Err() != nil {
			return track.Track{}, ctx.Err()
		}
		zlog.Debug().Msgf("skipping search hit: id=%s error=%v", id, err)
	}
	return track.Track{}, errors.Wrapf(ErrNotFound, "no playable search results: query=%q", terms)
}

func (p *YouTubeProvider) mapError(err error) error {
	if errors.Is(err, youtube.ErrInvalidVideo) || errors.Is(err, youtube.ErrVideoUnavailable) {
		return errors.WithSecondaryError(errors.Wrap(ErrNotFound, "video unavailable"), err)
	}
	return err
}
