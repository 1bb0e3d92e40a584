package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrIncompleteProduct = errors.New("incomplete product")
	ErrInvalidDepth      = errors.New("invalid category depth")
)

// Brand is a retailer whose catalog is ingested.
type Brand struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	Slug       string     `json:"slug"`
	Active     bool       `json:"active"`
	WebsiteURL string     `json:"website_url"`
	API        *APIConfig `json:"api,omitempty"`
}

// Category is a node in a brand's category tree.
type Category struct {
	ID        int64  `json:"id"`
	BrandID   int64  `json:"brand_id"`
	ParentID  *int64 `json:"parent_id,omitempty"`
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	Level     int    `json:"level"`
	SortOrder int    `json:"sort_order"`
	Active    bool   `json:"active"`
	Leaf      bool   `json:"leaf"`
	// Aggregator marks a "see all" category that shows its siblings' products.
	Aggregator bool   `json:"aggregator"`
	APIID      string `json:"api_id,omitempty"`
	Gender     string `json:"gender,omitempty"`
	URL        string `json:"url,omitempty"`
}

// CheckDepth verifies the category sits exactly one level below parent.
// A nil parent means the category must be a root.
func (c *Category) CheckDepth(parent *Category) error {
	if parent == nil {
		if c.Level != 0 {
			return fmt.Errorf("%w: root category %q has level %d", ErrInvalidDepth, c.Name, c.Level)
		}
		return nil
	}
	if c.Level != parent.Level+1 {
		return fmt.Errorf("%w: category %q has level %d, parent %q has level %d",
			ErrInvalidDepth, c.Name, c.Level, parent.Name, parent.Level)
	}
	return nil
}

// Scrapable reports whether the category may be the target of a direct
// API or browser scrape. Aggregators are only filled by the linker.
func (c *Category) Scrapable() bool {
	return c.Active && c.Leaf && !c.Aggregator && c.APIID != ""
}

// Product is the canonical, retailer-independent product.
type Product struct {
	ID           int64           `json:"id"`
	BrandID      int64           `json:"brand_id"`
	Name         string          `json:"name"`
	Slug         string          `json:"slug"`
	RetailerID   string          `json:"retailer_id,omitempty"`
	Code         string          `json:"code,omitempty"`
	SourceURL    string          `json:"source_url,omitempty"`
	Description  string          `json:"description,omitempty"`
	Composition  string          `json:"composition,omitempty"`
	Care         string          `json:"care,omitempty"`
	PriceText    string          `json:"price_text"`
	Price        decimal.Decimal `json:"price"`
	Currency     string          `json:"currency"`
	PrimaryImage string          `json:"primary_image,omitempty"`
	Colors       []ColorVariant  `json:"colors"`
	CategoryIDs  []int64         `json:"category_ids,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	ScrapedAt    time.Time       `json:"scraped_at"`
}

// ColorVariant is one purchasable color of a product.
type ColorVariant struct {
	ID            int64            `json:"id"`
	ProductID     int64            `json:"product_id"`
	Name          string           `json:"name"`
	Code          string           `json:"code,omitempty"`
	Background    string           `json:"background,omitempty"`
	Price         decimal.Decimal  `json:"price"`
	DiscountPrice *decimal.Decimal `json:"discount_price,omitempty"`
	Availability  string           `json:"availability,omitempty"`
	SKU           string           `json:"sku,omitempty"`
	Images        []Image          `json:"images"`
	Sizes         []Size           `json:"sizes"`
}

type Image struct {
	URL       string `json:"url"`
	Alt       string `json:"alt,omitempty"`
	SortOrder int    `json:"sort_order"`
}

type Size struct {
	Label        string `json:"label"`
	Availability string `json:"availability,omitempty"`
	SortOrder    int    `json:"sort_order"`
}

// Complete reports whether the variant has at least one size and one image.
func (c ColorVariant) Complete() bool {
	return len(c.Sizes) > 0 && len(c.Images) > 0
}

// Validate rejects a product with no colors, no sizes or no images, or with
// no single color that has both. Incomplete colors alone are not an error;
// DropIncompleteColors removes them.
func (p *Product) Validate() error {
	if len(p.Colors) == 0 {
		return fmt.Errorf("%w: no colors", ErrIncompleteProduct)
	}
	sizes, complete := 0, 0
	for _, c := range p.Colors {
		sizes += len(c.Sizes)
		if c.Complete() {
			complete++
		}
	}
	switch {
	case sizes == 0:
		return fmt.Errorf("%w: no sizes", ErrIncompleteProduct)
	case p.ImageCount() == 0:
		return fmt.Errorf("%w: no images", ErrIncompleteProduct)
	case complete == 0:
		return fmt.Errorf("%w: no color has both sizes and images", ErrIncompleteProduct)
	}
	return nil
}

// DropIncompleteColors removes colors without sizes or images and returns
// their names.
func (p *Product) DropIncompleteColors() []string {
	var dropped []string
	kept := p.Colors[:0]
	for _, c := range p.Colors {
		if c.Complete() {
			kept = append(kept, c)
			continue
		}
		dropped = append(dropped, c.Name)
	}
	p.Colors = kept
	return dropped
}

// ImageCount returns the number of images across all colors.
func (p *Product) ImageCount() int {
	n := 0
	for _, c := range p.Colors {
		n += len(c.Images)
	}
	return n
}
