// Package ingest runs category scrapes: list, extract, normalize and persist,
// tolerating per-product failures.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/fetcher"
	"github.com/maltedev/catalog-ingest/internal/ratelimit"
	"github.com/maltedev/catalog-ingest/internal/retailer"
)

// ErrNotScrapable is returned for categories that may not be scraped
// directly: inactive, non-leaf or aggregator categories.
var ErrNotScrapable = errors.New("category is not scrapable")

// Result summarizes one category scrape.
type Result struct {
	Success          bool     `json:"success"`
	ProductsFound    int      `json:"products_found"`
	ProductsCreated  int      `json:"products_created"`
	ProductsUpdated  int      `json:"products_updated"`
	ProductsRejected int      `json:"products_rejected"`
	Errors           []string `json:"errors"`
}

func (r *Result) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

type Service struct {
	store     catalog.Store
	persister *catalog.Persister
	clients   ClientFactory
	pages     PageScraper
	logger    *slog.Logger
}

// NewService wires a scrape service. pages may be nil when no browser is
// available; browser-strategy brands then fail with retailer.ErrNotConfigured.
func NewService(store catalog.Store, persister *catalog.Persister, clients ClientFactory, pages PageScraper, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		persister: persister,
		clients:   clients,
		pages:     pages,
		logger:    logger.With("component", "ingest"),
	}
}

// APIClients returns the default ClientFactory backed by the retailer registry.
func APIClients(f *fetcher.Fetcher, limiters *ratelimit.Registry) ClientFactory {
	return func(brand *catalog.Brand) (retailer.Client, error) {
		return retailer.New(brand, f, limiters)
	}
}

// ScrapeCategory resolves the brand and category by slug and API id and
// scrapes it. testLimit caps the number of products fetched; 0 means all.
func (s *Service) ScrapeCategory(ctx context.Context, brandSlug, categoryAPIID string, testLimit int) (*Result, error) {
	brand, err := s.store.GetBrandBySlug(ctx, brandSlug)
	if err != nil {
		return nil, fmt.Errorf("failed to load brand %s: %w", brandSlug, err)
	}
	if categoryAPIID == "" {
		return nil, fmt.Errorf("%w: category api id is empty", retailer.ErrNotConfigured)
	}
	cat, err := s.store.GetCategoryByAPIID(ctx, brand.ID, categoryAPIID)
	if err != nil {
		return nil, fmt.Errorf("failed to load category %s: %w", categoryAPIID, err)
	}
	return s.Scrape(ctx, brand, cat, testLimit)
}

// Scrape runs one category scrape. Only a failing listing call or a missing
// configuration is returned as an error; everything per product lands in
// the result.
func (s *Service) Scrape(ctx context.Context, brand *catalog.Brand, cat *catalog.Category, testLimit int) (*Result, error) {
	src, concurrency, err := s.source(brand, cat, testLimit)
	if err != nil {
		return nil, err
	}

	log := s.logger.With("brand", brand.Slug, "category_id", cat.ID, "category_api_id", cat.APIID)
	log.Info("starting category scrape", "test_limit", testLimit)

	keys, err := src.List(ctx)
	if err != nil {
		log.Error("category listing failed", "error", err)
		return nil, fmt.Errorf("failed to list category %d: %w", cat.ID, err)
	}
	if testLimit > 0 && len(keys) > testLimit {
		keys = keys[:testLimit]
	}

	result := &Result{Success: true, ProductsFound: len(keys), Errors: []string{}}

	if concurrency > 1 && len(keys) > 1 {
		err = s.runParallel(ctx, src, brand, cat, keys, concurrency, result, log)
	} else {
		err = s.runSequential(ctx, src, brand, cat, keys, result, log)
	}

	log.Info("category scrape finished",
		"found", result.ProductsFound,
		"created", result.ProductsCreated,
		"updated", result.ProductsUpdated,
		"rejected", result.ProductsRejected,
		"errors", len(result.Errors),
	)
	return result, err
}

func (s *Service) source(brand *catalog.Brand, cat *catalog.Category, testLimit int) (Source, int, error) {
	if brand.API == nil {
		return nil, 0, fmt.Errorf("%w: brand %s has no api config", retailer.ErrNotConfigured, brand.Slug)
	}
	if !cat.Active || !cat.Leaf || cat.Aggregator {
		return nil, 0, fmt.Errorf("%w: category %d (%s)", ErrNotScrapable, cat.ID, cat.Name)
	}

	switch brand.API.Strategy {
	case catalog.StrategyBrowser:
		if s.pages == nil || cat.URL == "" {
			return nil, 0, fmt.Errorf("%w: no browser or url for category %d", retailer.ErrNotConfigured, cat.ID)
		}
		return NewBrowserSource(s.pages, brand, cat.URL, testLimit), 1, nil
	default:
		if cat.APIID == "" {
			return nil, 0, fmt.Errorf("%w: category %d has no api id", retailer.ErrNotConfigured, cat.ID)
		}
		client, err := s.clients(brand)
		if err != nil {
			return nil, 0, err
		}
		return NewAPISource(client, cat.APIID, s.logger), brand.API.Politeness.ConcurrentRequests, nil
	}
}

func (s *Service) runSequential(ctx context.Context, src Source, brand *catalog.Brand, cat *catalog.Category, keys []string, result *Result, log *slog.Logger) error {
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := src.Product(ctx, key)
		s.record(ctx, brand, cat, key, p, err, result, log)
	}
	return ctx.Err()
}

// runParallel fetches up to concurrency products at once but persists them
// in listing order once all fetches are done.
func (s *Service) runParallel(ctx context.Context, src Source, brand *catalog.Brand, cat *catalog.Category, keys []string, concurrency int, result *Result, log *slog.Logger) error {
	type fetched struct {
		product *catalog.Product
		err     error
	}
	items := make([]fetched, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, key := range keys {
		g.Go(func() error {
			p, err := src.Product(gctx, key)
			items[i] = fetched{product: p, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	for i, key := range keys {
		s.record(ctx, brand, cat, key, items[i].product, items[i].err, result, log)
	}
	return ctx.Err()
}

// record persists one extracted product and books the outcome.
func (s *Service) record(ctx context.Context, brand *catalog.Brand, cat *catalog.Category, key string, p *catalog.Product, err error, result *Result, log *slog.Logger) {
	if err == nil {
		p.BrandID = brand.ID
		var created bool
		created, err = s.persister.UpsertProduct(ctx, p, cat.ID)
		if err == nil {
			if created {
				result.ProductsCreated++
			} else {
				result.ProductsUpdated++
			}
			return
		}
	}

	if errors.Is(err, catalog.ErrIncompleteProduct) {
		result.ProductsRejected++
		log.Info("product rejected", "product", key, "reason", err)
		return
	}
	result.addError("product %s: %v", key, err)
	log.Warn("skipping product", "product", key, "error", err)
}
