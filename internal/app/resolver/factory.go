package resolver

import (
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/infra/config"
)

// NewChainFromConfig creates a provider chain from configuration.
// spotify may be nil when no Spotify credentials are configured.
func NewChainFromConfig(cfg *config.Config, youtube YouTubeClient, spotify SpotifyClient) (*Chain, error) {
	if len(cfg.Resolver.Providers) == 0 {
		return nil, errors.New("no resolver providers configured")
	}
	if youtube == nil {
		return nil, errors.New("youtube client is required")
	}

	var providers []ProviderWithMetadata
	var searcher Searcher

	for i, pcfg := range cfg.Resolver.Providers {
		var provider Provider
		var err error
		zlog.Debug().Msgf("creating resolver provider: index=%d type=%s settings=%+v", i+1, pcfg.Type, pcfg.Settings)
		switch pcfg.Type {
		case "youtube":
			var yp *YouTubeProvider
			yp, err = NewYouTubeProvider(youtube, pcfg.Settings)
			if err == nil && searcher == nil {
				searcher = yp
			}
			provider = yp

		case "spotify":
			if searcher == nil {
				// Spotify links are searched on YouTube even when it is not listed first.
				searcher, err = NewYouTubeProvider(youtube, nil)
				if err != nil {
					break
				}
			}
			provider, err = NewSpotifyProvider(spotify, searcher, pcfg.Settings)

		default:
			return nil, errors.Newf("unsupported provider type: %s (provider index %d)", pcfg.Type, i)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to create provider (index %d, type %s)", i, pcfg.Type)
		}

		providers = append(providers, ProviderWithMetadata{
			Provider:    provider,
			DisplayName: pcfg.DisplayName,
		})

		zlog.Info().Msgf("registered resolver provider: index=%d type=%s display_name=%s", i+1, pcfg.Type, pcfg.DisplayName)
	}

	return NewChain(providers), nil
}
