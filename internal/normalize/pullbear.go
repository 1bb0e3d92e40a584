package normalize

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/maltedev/catalog-ingest/internal/retailer/schema"
)

func fromPullBear(raw *schema.RawProductDetail) (*productData, error) {
	pb := raw.PullBear
	d := pb.EffectiveDetail()
	if d == nil {
		return nil, fmt.Errorf("%w: product %s has no detail", ErrMalformed, raw.ProductID)
	}

	pd := &productData{
		Name:        pb.Name,
		Code:        firstNonEmpty(d.DisplayReference, d.Reference),
		Description: firstNonEmpty(d.Description, d.LongDescription),
	}
	if pd.Name == "" && len(pb.BundleProductSummaries) > 0 {
		pd.Name = pb.BundleProductSummaries[0].Name
	}

	for _, c := range d.Colors {
		cd := colorData{Option: Option{Name: strings.TrimSpace(c.Name), Code: c.ID}}

		// The first priced size sets the color's price.
		for _, s := range c.Sizes {
			if s.Price == "" {
				continue
			}
			text, price, err := ParsePriceString(s.Price)
			if err != nil {
				return nil, fmt.Errorf("product %s color %s: %w", raw.ProductID, c.ID, err)
			}
			var old *decimal.Decimal
			if s.OldPrice != "" {
				if oldText, o, err := ParsePriceString(s.OldPrice); err == nil {
					old = &o
					if o.GreaterThan(price) {
						text = oldText
					}
				}
			}
			cd.PriceText = text
			cd.Price, cd.Discount = discount(price, old)
			cd.SKU = s.SKU.String()
			break
		}

		for _, s := range c.Sizes {
			if s.Visibility == "HIDDEN" {
				continue
			}
			cd.Sizes = append(cd.Sizes, sizeData{Label: s.Name, Availability: s.Availability})
		}
		cd.Availability = availability(cd.Sizes)
		cd.Images = imageURLs(pullBearMedia(d.Xmedia, c.ID), raw.ImageWidth)

		pd.Colors = append(pd.Colors, cd)
	}
	return pd, nil
}

// pullBearMedia collects the media sets tagged with colorID, or the untagged
// sets when none are tagged for it.
func pullBearMedia(sets []schema.PullBearMediaSet, colorID string) []string {
	collect := func(match func(schema.PullBearMediaSet) bool) []string {
		var urls []string
		for _, set := range sets {
			if !match(set) {
				continue
			}
			for _, item := range set.XmediaItems {
				for _, m := range item.Medias {
					urls = append(urls, m.URL)
				}
			}
		}
		return urls
	}

	urls := collect(func(s schema.PullBearMediaSet) bool { return s.ColorCode == colorID })
	if len(urls) == 0 {
		urls = collect(func(s schema.PullBearMediaSet) bool { return s.ColorCode == "" })
	}
	return urls
}

func availability(sizes []sizeData) string {
	known := false
	for _, s := range sizes {
		switch strings.ToLower(s.Availability) {
		case "":
		case "out_of_stock", "outofstock":
			known = true
		default:
			return "in_stock"
		}
	}
	if known {
		return "out_of_stock"
	}
	return ""
}
