package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// ConfigSource supplies administrator-managed provider rows. Defined here to
// keep the registry decoupled from the store package.
type ConfigSource interface {
	ListEnabled(ctx context.Context) ([]Config, error)
	FindBySlug(ctx context.Context, slug string) (*Config, error)
	FindByID(ctx context.Context, id int64) (*Config, error)
}

// CatalogSource answers which providers carry a SKU for a unified package.
type CatalogSource interface {
	ProviderIDsForPackage(ctx context.Context, packageID string) ([]int64, error)
}

// Entry pairs a configured provider row with its registered adapter.
type Entry struct {
	Config  Config
	Adapter Adapter
}

// Registry resolves provider slugs/ids to adapter instances. Adapters are
// registered once at startup; the enabled-provider ranking is cached and
// rebuilt after Invalidate, so a disabled provider is never ranked from a
// stale snapshot.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter // keyed by slug

	configs ConfigSource
	catalog CatalogSource

	cacheMu sync.Mutex
	cached  []Config
	valid   bool
}

// NewRegistry creates a registry backed by the given config and catalog sources.
func NewRegistry(configs ConfigSource, catalog CatalogSource) *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		configs:  configs,
		catalog:  catalog,
	}
}

// Register adds an adapter to the registry.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.adapters[a.Slug()] = a
	log.Info().
		Str("slug", a.Slug()).
		Str("name", a.Name()).
		Bool("batch", a.SupportsBatch()).
		Msg("registered fulfillment provider")
}

// AdapterBySlug returns the registered adapter for a slug.
func (r *Registry) AdapterBySlug(slug string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[slug]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, slug)
	}
	return a, nil
}

// BySlug resolves a slug to its configured row plus adapter.
func (r *Registry) BySlug(ctx context.Context, slug string) (*Entry, error) {
	a, err := r.AdapterBySlug(slug)
	if err != nil {
		return nil, err
	}
	cfg, err := r.configs.FindBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, slug)
	}
	return &Entry{Config: *cfg, Adapter: a}, nil
}

// ByID resolves a provider id to its configured row plus adapter.
func (r *Registry) ByID(ctx context.Context, id int64) (*Entry, error) {
	cfg, err := r.configs.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownProvider, id)
	}
	a, err := r.AdapterBySlug(cfg.Slug)
	if err != nil {
		return nil, err
	}
	return &Entry{Config: *cfg, Adapter: a}, nil
}

// EligibleRanked returns enabled providers that carry a SKU for the package
// and have a registered adapter, sorted ascending by priority, ties broken by
// lowest pricing margin.
func (r *Registry) EligibleRanked(ctx context.Context, packageID string) ([]Entry, error) {
	enabled, err := r.enabledConfigs(ctx)
	if err != nil {
		return nil, err
	}

	ids, err := r.catalog.ProviderIDsForPackage(ctx, packageID)
	if err != nil {
		return nil, err
	}
	mapped := make(map[int64]bool, len(ids))
	for _, id := range ids {
		mapped[id] = true
	}

	var out []Entry
	r.mu.RLock()
	for _, cfg := range enabled {
		if !mapped[cfg.ID] {
			continue
		}
		a, ok := r.adapters[cfg.Slug]
		if !ok {
			log.Warn().Str("slug", cfg.Slug).Msg("enabled provider has no registered adapter")
			continue
		}
		out = append(out, Entry{Config: cfg, Adapter: a})
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Config.Priority != out[j].Config.Priority {
			return out[i].Config.Priority < out[j].Config.Priority
		}
		return out[i].Config.PricingMargin < out[j].Config.PricingMargin
	})
	return out, nil
}

// Invalidate drops the cached enabled-provider snapshot. Called whenever any
// provider row is created, updated or disabled, and by catalog sync.
func (r *Registry) Invalidate() {
	r.cacheMu.Lock()
	r.valid = false
	r.cached = nil
	r.cacheMu.Unlock()
	log.Debug().Msg("provider registry cache invalidated")
}

func (r *Registry) enabledConfigs(ctx context.Context) ([]Config, error) {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	if r.valid {
		return r.cached, nil
	}
	cfgs, err := r.configs.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	r.cached = cfgs
	r.valid = true
	return cfgs, nil
}

// Slugs returns all registered adapter slugs.
func (r *Registry) Slugs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []string
	for s := range r.adapters {
		out = append(out, s)
	}
	return out
}
