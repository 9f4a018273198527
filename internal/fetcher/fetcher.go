// Package fetcher holds the transport machinery shared by the platform
// fetchers: the GraphQL client with cursor pagination, the REST link
// paginator and the registry the service resolves platforms through.
package fetcher

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
)

// ErrUnsupportedPlatform is returned when no fetcher is registered for a
// requested platform.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

// Registry resolves platforms to their fetcher. It is populated once at
// startup; lookups are read-only afterwards.
type Registry struct {
	fetchers map[gitmeta.Platform]gitmeta.Fetcher
}

// NewRegistry builds a registry from the given fetchers. Registering two
// fetchers for the same platform is a wiring bug and fails loudly.
func NewRegistry(fetchers ...gitmeta.Fetcher) (*Registry, error) {
	registry := &Registry{fetchers: make(map[gitmeta.Platform]gitmeta.Fetcher, len(fetchers))}
	for _, f := range fetchers {
		platform := f.Platform()
		if _, exists := registry.fetchers[platform]; exists {
			return nil, fmt.Errorf("fetcher for platform %q registered twice", platform)
		}
		registry.fetchers[platform] = f
	}
	return registry, nil
}

// Get returns the fetcher for the platform.
func (r *Registry) Get(platform gitmeta.Platform) (gitmeta.Fetcher, error) {
	f, ok := r.fetchers[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platform)
	}
	return f, nil
}

// Platforms lists the registered platforms in a stable order.
func (r *Registry) Platforms() []gitmeta.Platform {
	platforms := make([]gitmeta.Platform, 0, len(r.fetchers))
	for platform := range r.fetchers {
		platforms = append(platforms, platform)
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })
	return platforms
}
