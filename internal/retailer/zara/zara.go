// Package zara is the client for retailers whose category listing nests
// product ids inside product groups and whose prices are integer cents.
package zara

import (
	"context"
	"fmt"

	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/retailer"
	"github.com/maltedev/catalog-ingest/internal/retailer/schema"
)

func init() {
	retailer.Register(catalog.RetailerZara, func(cfg *catalog.APIConfig, base *retailer.Base) retailer.Client {
		return New(base)
	})
}

type Client struct {
	*retailer.Base
}

func New(base *retailer.Base) *Client {
	return &Client{Base: base}
}

func (c *Client) ListCategoryProductIDs(ctx context.Context, categoryAPIID string) ([]string, error) {
	var listing schema.ZaraListing
	if err := c.GetJSON(ctx, c.Config.CategoryProductsURL(categoryAPIID), &listing); err != nil {
		return nil, fmt.Errorf("failed to list category %s: %w", categoryAPIID, err)
	}
	return listing.ProductIDs(), nil
}

func (c *Client) GetProductDetail(ctx context.Context, productID string) (*schema.RawProductDetail, error) {
	var product schema.ZaraProduct
	if err := c.GetJSON(ctx, c.Config.ProductDetailURL(productID), &product); err != nil {
		return nil, fmt.Errorf("failed to get product %s: %w", productID, err)
	}

	raw := c.Raw(productID)
	raw.Zara = &product

	extra, err := c.ExtraDetail(ctx, productID)
	if err != nil {
		return nil, err
	}
	raw.Extra = extra
	return raw, nil
}

func (c *Client) GetFilters(ctx context.Context, categoryAPIID string) (*schema.FiltersPayload, error) {
	return c.Filters(ctx, categoryAPIID)
}
