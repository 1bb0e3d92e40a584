package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/normalize"
	"github.com/maltedev/catalog-ingest/internal/retailer"
	"github.com/maltedev/catalog-ingest/internal/retailer/schema"
)

// Source is one extraction strategy for a category. Both strategies produce
// canonical products, so everything downstream is strategy-agnostic.
type Source interface {
	// List returns product keys in listing order. Its failure aborts the scrape.
	List(ctx context.Context) ([]string, error)
	// Product extracts one product. The returned product has no brand set.
	Product(ctx context.Context, key string) (*catalog.Product, error)
}

// ClientFactory builds the API client for a brand.
type ClientFactory func(brand *catalog.Brand) (retailer.Client, error)

// PageScraper is the browser fallback used for brands without an API.
type PageScraper interface {
	DiscoverProductURLs(ctx context.Context, brand *catalog.Brand, categoryURL string, limit int) ([]string, error)
	ScrapeProduct(ctx context.Context, brand *catalog.Brand, productURL string) (*catalog.Product, error)
}

// APISource lists a category through the retailer API and normalizes each
// product detail against the category's filters payload.
type APISource struct {
	client     retailer.Client
	categoryID string
	logger     *slog.Logger

	filters *schema.FiltersPayload
}

func NewAPISource(client retailer.Client, categoryAPIID string, logger *slog.Logger) *APISource {
	return &APISource{
		client:     client,
		categoryID: categoryAPIID,
		logger:     logger,
	}
}

// List fetches the id listing and then the filters payload. A filters failure
// is logged and normalization falls back to embedded colors and sizes.
func (s *APISource) List(ctx context.Context) ([]string, error) {
	ids, err := s.client.ListCategoryProductIDs(ctx, s.categoryID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return ids, nil
	}

	filters, err := s.client.GetFilters(ctx, s.categoryID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("filters unavailable, using embedded options", "category_api_id", s.categoryID, "error", err)
	}
	s.filters = filters
	return ids, nil
}

func (s *APISource) Product(ctx context.Context, id string) (*catalog.Product, error) {
	raw, err := s.client.GetProductDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	return normalize.Normalize(raw, s.filters)
}

// BrowserSource discovers product URLs on the category page and scrapes each
// product page with a headless browser.
type BrowserSource struct {
	pages       PageScraper
	brand       *catalog.Brand
	categoryURL string
	limit       int
}

func NewBrowserSource(pages PageScraper, brand *catalog.Brand, categoryURL string, limit int) *BrowserSource {
	return &BrowserSource{
		pages:       pages,
		brand:       brand,
		categoryURL: categoryURL,
		limit:       limit,
	}
}

func (s *BrowserSource) List(ctx context.Context) ([]string, error) {
	urls, err := s.pages.DiscoverProductURLs(ctx, s.brand, s.categoryURL, s.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to discover products on %s: %w", s.categoryURL, err)
	}
	return urls, nil
}

func (s *BrowserSource) Product(ctx context.Context, url string) (*catalog.Product, error) {
	return s.pages.ScrapeProduct(ctx, s.brand, url)
}
