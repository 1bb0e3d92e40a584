package retailer

import (
	"context"
	"errors"
	"net/http"

	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/fetcher"
	"github.com/maltedev/catalog-ingest/internal/ratelimit"
	"github.com/maltedev/catalog-ingest/internal/retailer/schema"
)

// Base carries what every client shares: the fetcher, the brand's request
// options and its config. Retailer clients embed it.
type Base struct {
	Config  *catalog.APIConfig
	Fetcher *fetcher.Fetcher
	Options fetcher.Options
}

func NewBase(cfg *catalog.APIConfig, f *fetcher.Fetcher, limiter ratelimit.Limiter) *Base {
	if f == nil {
		f = fetcher.New(nil)
	}
	return &Base{
		Config:  cfg,
		Fetcher: f,
		Options: fetcher.Options{
			MaxRetries: cfg.Politeness.MaxRetries,
			Timeout:    cfg.Politeness.Timeout,
			RetryDelay: cfg.Politeness.RetryDelay,
			Headers:    cfg.Headers,
			Limiter:    limiter,
		},
	}
}

// GetJSON fetches url with the brand's options and decodes the body into out.
func (b *Base) GetJSON(ctx context.Context, url string, out any) error {
	return b.Fetcher.GetJSON(ctx, url, b.Options, out)
}

// ExtraDetail fetches composition and care data. Any failure other than
// cancellation yields nil so the product is still ingested without them.
func (b *Base) ExtraDetail(ctx context.Context, productID string) (*schema.ExtraDetail, error) {
	url := b.Config.ExtraDetailURL(productID)
	if url == "" {
		return nil, nil
	}
	var extra schema.ExtraDetail
	if err := b.GetJSON(ctx, url, &extra); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, nil
	}
	return &extra, nil
}

// Filters fetches a category's facet payload. A 404 means the retailer keeps
// no facets for the category and is reported as nil, nil.
func (b *Base) Filters(ctx context.Context, categoryAPIID string) (*schema.FiltersPayload, error) {
	url := b.Config.FiltersURL(categoryAPIID)
	if url == "" {
		return nil, nil
	}
	var filters schema.FiltersPayload
	if err := b.GetJSON(ctx, url, &filters); err != nil {
		var fe *fetcher.FetchExhaustedError
		if errors.As(err, &fe) && fe.LastStatus == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &filters, nil
}

// Raw starts a RawProductDetail with the fields every retailer shares.
func (b *Base) Raw(productID string) *schema.RawProductDetail {
	return &schema.RawProductDetail{
		Retailer:   b.Config.Retailer,
		ProductID:  productID,
		SourceURL:  b.Config.ProductPageURL(productID),
		Currency:   b.Config.Currency,
		ImageWidth: b.Config.ImageWidth,
	}
}
