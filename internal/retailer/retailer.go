// Package retailer defines the contract every retailer API client meets and
// the registry that picks a client for a brand.
package retailer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/fetcher"
	"github.com/maltedev/catalog-ingest/internal/ratelimit"
	"github.com/maltedev/catalog-ingest/internal/retailer/schema"
)

// ErrNotConfigured means the brand cannot be scraped through an API at all.
var ErrNotConfigured = errors.New("retailer api not configured")

// Client talks to one retailer's internal JSON API.
type Client interface {
	// ListCategoryProductIDs returns product ids in listing order. An empty
	// category is not an error.
	ListCategoryProductIDs(ctx context.Context, categoryAPIID string) ([]string, error)
	// GetProductDetail fetches the detail payload and, when configured, the
	// extra detail. A failing extra-detail call leaves Extra nil.
	GetProductDetail(ctx context.Context, productID string) (*schema.RawProductDetail, error)
	// GetFilters returns nil, nil when the retailer has no filters endpoint.
	GetFilters(ctx context.Context, categoryAPIID string) (*schema.FiltersPayload, error)
}

// Factory builds a client from a validated config and shared plumbing.
type Factory func(cfg *catalog.APIConfig, base *Base) Client

var (
	mu        sync.RWMutex
	factories = make(map[catalog.RetailerKind]Factory)
)

// Register makes a client implementation available for a retailer kind. It
// panics on duplicates, like database/sql drivers.
func Register(kind catalog.RetailerKind, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if f == nil {
		panic("retailer: Register factory is nil")
	}
	if _, dup := factories[kind]; dup {
		panic("retailer: Register called twice for " + string(kind))
	}
	factories[kind] = f
}

// New returns the client for brand. limiters may be nil.
func New(brand *catalog.Brand, f *fetcher.Fetcher, limiters *ratelimit.Registry) (Client, error) {
	if brand == nil || brand.API == nil {
		return nil, ErrNotConfigured
	}
	cfg := brand.API
	if cfg.Strategy != "" && cfg.Strategy != catalog.StrategyAPI {
		return nil, fmt.Errorf("%w: brand %s uses the %s strategy", ErrNotConfigured, brand.Slug, cfg.Strategy)
	}

	mu.RLock()
	factory, ok := factories[cfg.Retailer]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no client for retailer %q", ErrNotConfigured, cfg.Retailer)
	}

	return factory(cfg, NewBase(cfg, f, limiters.For(brand.Slug, cfg.Politeness.DelayBetweenRequests))), nil
}
