// Package resolver turns user queries into playable tracks.
package resolver

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/osa030/voicebox/internal/domain/track"
)

var (
	ErrNotFound    = errors.New("no track matched the query")
	ErrResolution  = errors.New("track resolution failed")
	ErrUnsupported = errors.New("query is not supported by any provider")
)

// Provider is the interface for track providers.
type Provider interface {
	// Name returns the provider type (used in config).
	Name() string
	// Supports reports whether the provider can handle the query.
	Supports(query string) bool
	// Resolve returns the best match for the query, or ErrNotFound.
	Resolve(ctx context.Context, query string) (track.Track, error)
}

// Resolver resolves a query into a track.
type Resolver interface {
	Resolve(ctx context.Context, query string) (track.Track, error)
}

// IsURL reports whether the query is an http(s) link rather than search terms.
func IsURL(query string) bool {
	q := strings.TrimSpace(query)
	return strings.HasPrefix(q, "http://") || strings.HasPrefix(q, "https://")
}
