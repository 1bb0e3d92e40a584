package normalize

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/maltedev/catalog-ingest/internal/retailer/schema"
)

func fromZara(raw *schema.RawProductDetail) (*productData, error) {
	z := raw.Zara
	pd := &productData{
		Name:        z.Name,
		Code:        firstNonEmpty(z.Detail.DisplayReference, z.Detail.Reference),
		Description: z.Description,
	}

	for _, c := range z.Detail.Colors {
		text, price := ParseMinorUnits(c.Price, raw.Currency)
		var old *decimal.Decimal
		if c.OldPrice != nil {
			_, o := ParseMinorUnits(*c.OldPrice, raw.Currency)
			old = &o
		}
		regular, disc := discount(price, old)
		if disc != nil {
			text = formatPrice(regular, raw.Currency)
		}

		var urls []string
		for _, g := range c.Xmedia {
			for _, item := range g.XmediaItems {
				for _, m := range item.Medias {
					urls = append(urls, m.URL)
				}
			}
		}

		sizes := make([]sizeData, 0, len(c.Sizes))
		for _, s := range c.Sizes {
			sizes = append(sizes, sizeData{Label: s.Name, Availability: s.Availability})
		}

		pd.Colors = append(pd.Colors, colorData{
			Option:       Option{Name: strings.TrimSpace(c.Name), Code: c.ID, Hex: c.HexCode},
			PriceText:    text,
			Price:        regular,
			Discount:     disc,
			Availability: c.Availability,
			SKU:          c.Reference,
			Images:       imageURLs(urls, raw.ImageWidth),
			Sizes:        sizes,
		})
	}
	return pd, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
