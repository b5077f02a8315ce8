package resolver

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/domain/track"
	"github.com/osa030/voicebox/internal/infra/spotify"
)

// SpotifyClient is the subset of the Spotify client used for resolution.
type SpotifyClient interface {
	GetTrack(ctx context.Context, ref string) (*spotify.Info, error)
}

// Searcher finds a playable track for free-text search terms.
type Searcher interface {
	Search(ctx context.Context, terms string) (track.Track, error)
}

type SpotifyProviderConfig struct {
	// SearchSuffix is appended to the generated search terms (e.g. "audio").
	SearchSuffix string `yaml:"search_suffix" mapstructure:"search_suffix"`
	// KeepMetadata keeps the Spotify title, artists and duration on the resolved track.
	KeepMetadata bool `yaml:"keep_metadata" mapstructure:"keep_metadata" default:"true"`
}

// SpotifyProvider resolves Spotify track links by searching for the same
// song on a streamable source.
type SpotifyProvider struct {
	spotify  SpotifyClient
	searcher Searcher
	config   *SpotifyProviderConfig
}

// NewSpotifyProvider creates a new SpotifyProvider.
func NewSpotifyProvider(client SpotifyClient, searcher Searcher, settings map[string]any) (*SpotifyProvider, error) {
	if client == nil {
		return nil, errors.New("spotify provider requires spotify credentials")
	}
	if searcher == nil {
		return nil, errors.New("spotify provider requires a search provider")
	}

	config := SpotifyProviderConfig{}
	if err := defaults.Set(&config); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := mapstructure.Decode(settings, &config); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	zlog.Debug().Msgf("spotify provider config: %+v", config)
	if err := validator.New().Struct(config); err != nil {
		zlog.Error().Msgf("spotify provider validation failed: %v", err)
		return nil, errors.Wrap(err, "validation failed")
	}
	return &SpotifyProvider{
		spotify:  client,
		searcher: searcher,
		config:   &config,
	}, nil
}

// Name returns the provider type.
func (p *SpotifyProvider) Name() string {
	return "spotify"
}

// Supports accepts Spotify track links and URIs.
func (p *SpotifyProvider) Supports(query string) bool {
	return spotify.IsTrackRef(query)
}

// Resolve looks the track up on Spotify and searches for "artists - title".
func (p *SpotifyProvider) Resolve(ctx context.Context, query string) (track.Track, error) {
	info, err := p.spotify.GetTrack(ctx, query)
	if err != nil {
		if errors.Is(err, spotify.ErrNotFound) || errors.Is(err, spotify.ErrInvalidTrack) {
			return track.Track{}, errors.WithSecondaryError(errors.Wrap(ErrNotFound, "spotify track not found"), err)
		}
		return track.Track{}, errors.Wrap(err, "failed to get spotify track")
	}

	terms := info.SearchQuery()
	if p.config.SearchSuffix != "" {
		terms = strings.TrimSpace(terms + " " + p.config.SearchSuffix)
	}
	zlog.Debug().Msgf("searching spotify track: id=%s terms=%q", info.ID, terms)

	found, err := p.searcher.Search(ctx, terms)
	if err != nil {
		return track.Track{}, errors.Wrapf(err, "failed to find stream for spotify track: id=%s", info.ID)
	}

	if p.config.KeepMetadata {
		meta := info.Track()
		found.Title = meta.Title
		found.Author = meta.Author
		if meta.Duration > 0 {
			found.Duration = meta.Duration
		}
		found.Source = track.SourceSpotify
	}
	return found, nil
}
