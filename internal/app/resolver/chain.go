package resolver

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/voicebox/internal/domain/track"
)

// ProviderWithMetadata wraps a provider with its metadata.
type ProviderWithMetadata struct {
	Provider    Provider
	DisplayName string
}

// Chain tries the providers that support a query, in order, until one resolves it.
type Chain struct {
	providers []ProviderWithMetadata
}

// NewChain creates a new provider chain.
func NewChain(providers []ProviderWithMetadata) *Chain {
	return &Chain{
		providers: providers,
	}
}

// Resolve returns the first track any supporting provider resolves.
// It fails with ErrNotFound when every provider found nothing, and with
// ErrResolution when at least one provider failed for another reason.
func (c *Chain) Resolve(ctx context.Context, query string) (track.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return track.Track{}, errors.Wrap(ErrNotFound, "empty query")
	}

	var lastErr error
	supported := false
	for i, pm := range c.providers {
		if !pm.Provider.Supports(query) {
			continue
		}
		supported = true

		zlog.Debug().Msgf("trying provider: index=%d total=%d name=%s provider_type=%s",
			i+1, len(c.providers), pm.DisplayName, pm.Provider.Name())

		t, err := pm.Provider.Resolve(ctx, query)
		if err == nil {
			zlog.Info().Msgf("query resolved: provider=%s title=%s url=%s", pm.DisplayName, t.Title, t.URL)
			return t, nil
		}
		if ctx.Err() != nil {
			return track.Track{}, errors.Wrap(ErrResolution, ctx.Err().Error())
		}
		if errors.Is(err, ErrNotFound) {
			zlog.Debug().Msgf("provider found nothing: provider=%s query=%q", pm.DisplayName, query)
			continue
		}
		zlog.Warn().Msgf("provider failed, trying next: provider=%s error=%v", pm.DisplayName, err)
		lastErr = err
	}

	if !supported {
		return track.Track{}, errors.Wrapf(ErrUnsupported, "query=%q", query)
	}
	if lastErr != nil {
		return track.Track{}, errors.WithSecondaryError(errors.Wrap(ErrResolution, "all providers failed"), lastErr)
	}
	return track.Track{}, errors.Wrapf(ErrNotFound, "query=%q", query)
}

// Providers returns the providers of the chain.
func (c *Chain) Providers() []ProviderWithMetadata {
	return c.providers
}
