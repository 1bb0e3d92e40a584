// Package normalize turns retailer payloads into canonical catalog products.
// It is the only place that reads the retailer schemas.
package normalize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/retailer/schema"
)

var (
	// ErrRejected marks an expected outcome: the product lacks colors, sizes
	// or images and must not be persisted.
	ErrRejected = fmt.Errorf("product rejected: %w", catalog.ErrIncompleteProduct)
	// ErrMalformed marks a payload that cannot be read at all.
	ErrMalformed = errors.New("malformed product payload")
)

// colorData is what every retailer's payload is reduced to before options
// are resolved.
type colorData struct {
	Option
	PriceText    string
	Price        decimal.Decimal
	Discount     *decimal.Decimal
	Availability string
	SKU          string
	Images       []string
	Sizes        []sizeData
}

type sizeData struct {
	Label        string
	Availability string
}

type productData struct {
	Name        string
	Code        string
	Description string
	Colors      []colorData
}

// Normalize converts raw into a canonical product. filters may be nil. The
// returned product has no BrandID; the caller owns that.
func Normalize(raw *schema.RawProductDetail, filters *schema.FiltersPayload) (*catalog.Product, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrMalformed)
	}

	var (
		pd  *productData
		err error
	)
	switch {
	case raw.Zara != nil:
		pd, err = fromZara(raw)
	case raw.PullBear != nil:
		pd, err = fromPullBear(raw)
	default:
		return nil, fmt.Errorf("%w: product %s has no %s payload", ErrMalformed, raw.ProductID, raw.Retailer)
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(pd.Name) == "" {
		return nil, fmt.Errorf("%w: product %s has no name", ErrMalformed, raw.ProductID)
	}

	p := &catalog.Product{
		Name:        strings.TrimSpace(pd.Name),
		RetailerID:  raw.ProductID,
		Code:        pd.Code,
		SourceURL:   raw.SourceURL,
		Description: strings.TrimSpace(pd.Description),
		Currency:    raw.Currency,
	}
	if raw.Extra != nil {
		p.Composition = composition(raw.Extra)
		p.Care = care(raw.Extra)
	}

	colors := resolveColors(raw.ProductID, pd.Colors, filters.Facet(schema.FacetColor))
	p.Colors = variants(raw.ProductID, colors, pd.Colors, filters, p.Name)
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: product %s: %w", ErrRejected, raw.ProductID, err)
	}

	// variants keeps the order of colors, so the first complete variant
	// picks the product price.
	for i, v := range p.Colors {
		if v.Complete() {
			p.Price = colors[i].Price
			p.PriceText = colors[i].PriceText
			break
		}
	}
	p.DropIncompleteColors()
	return p, nil
}

// variants builds one variant per resolved color. Sizes are resolved
// independently of colors.
func variants(productID string, colors, embedded []colorData, filters *schema.FiltersPayload, productName string) []catalog.ColorVariant {
	var allSizes []Option
	for _, c := range embedded {
		for _, s := range c.Sizes {
			allSizes = append(allSizes, Option{Name: s.Label})
		}
	}
	sizeOpts, sizesFromFacet := resolve(productID, filters.Facet(schema.FacetSize), allSizes)

	out := make([]catalog.ColorVariant, 0, len(colors))
	for _, c := range colors {
		v := catalog.ColorVariant{
			Name:          c.Name,
			Code:          c.Code,
			Background:    c.Hex,
			Price:         c.Price,
			DiscountPrice: c.Discount,
			Availability:  c.Availability,
			SKU:           c.SKU,
			Images:        buildImages(c.Images, strings.TrimSpace(productName+" "+c.Name)),
		}

		switch {
		case sizesFromFacet:
			v.Sizes = sizesFrom(sizeOpts, c.Sizes)
		case len(c.Sizes) > 0:
			v.Sizes = sizesFrom(optionsOf(c.Sizes), c.Sizes)
		default:
			v.Sizes = sizesFrom(sizeOpts, nil)
		}
		out = append(out, v)
	}
	return out
}

// resolveColors maps the resolved color options back onto embedded colors,
// which carry the prices and images. Facet colors with no embedded match are
// dropped; if none match, the embedded colors are used as they are.
func resolveColors(productID string, embedded []colorData, facet *schema.Facet) []colorData {
	opts := make([]Option, len(embedded))
	for i, c := range embedded {
		opts[i] = c.Option
	}
	resolved, fromFacet := resolve(productID, facet, opts)
	if !fromFacet {
		return dedupeColors(embedded)
	}

	used := make(map[int]bool)
	var out []colorData
	for _, o := range resolved {
		i := matchColor(embedded, o)
		if i < 0 || used[i] {
			continue
		}
		used[i] = true
		c := embedded[i]
		if o.Name != "" {
			c.Name = o.Name
		}
		if c.Code == "" {
			c.Code = o.Code
		}
		if o.Hex != "" {
			c.Hex = o.Hex
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return dedupeColors(embedded)
	}
	return out
}

func matchColor(embedded []colorData, o Option) int {
	if o.Code != "" {
		for i, c := range embedded {
			if strings.EqualFold(strings.TrimSpace(c.Code), o.Code) {
				return i
			}
		}
	}
	for i, c := range embedded {
		if nameKey(c.Name) == nameKey(o.Name) {
			return i
		}
	}
	return -1
}

func dedupeColors(colors []colorData) []colorData {
	out := make([]colorData, 0, len(colors))
	seen := make(map[string]bool, len(colors))
	for _, c := range colors {
		if seen[c.key()] {
			continue
		}
		seen[c.key()] = true
		out = append(out, c)
	}
	return out
}

func optionsOf(sizes []sizeData) []Option {
	opts := make([]Option, len(sizes))
	for i, s := range sizes {
		opts[i] = Option{Name: s.Label}
	}
	return dedupe(opts)
}

// sizesFrom builds size rows for labels, taking availability from the
// color's own sizes where the label matches.
func sizesFrom(labels []Option, own []sizeData) []catalog.Size {
	avail := make(map[string]string, len(own))
	for _, s := range own {
		avail[nameKey(s.Label)] = s.Availability
	}
	out := make([]catalog.Size, 0, len(labels))
	for _, l := range labels {
		if strings.TrimSpace(l.Name) == "" {
			continue
		}
		out = append(out, catalog.Size{
			Label:        strings.TrimSpace(l.Name),
			Availability: avail[nameKey(l.Name)],
			SortOrder:    len(out),
		})
	}
	return out
}

func composition(extra *schema.ExtraDetail) string {
	parts := make([]string, 0, len(extra.Composition))
	for _, p := range extra.Composition {
		comps := make([]string, 0, len(p.Components))
		for _, c := range p.Components {
			comps = append(comps, strings.TrimSpace(c.Percentage+" "+c.Material))
		}
		text := strings.Join(comps, ", ")
		if p.Part != "" {
			text = p.Part + ": " + text
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "; ")
}

func care(extra *schema.ExtraDetail) string {
	lines := make([]string, 0, len(extra.Care))
	for _, c := range extra.Care {
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, d)
		}
	}
	return strings.Join(lines, "; ")
}

// discount orders a current and a previous price. A previous price higher
// than the current one makes the current price the discount.
func discount(current decimal.Decimal, previous *decimal.Decimal) (decimal.Decimal, *decimal.Decimal) {
	if previous != nil && previous.GreaterThan(current) {
		d := current
		return *previous, &d
	}
	return current, nil
}
