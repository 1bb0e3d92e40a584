package pagescrape

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/catalog-ingest/internal/catalog"
)

// DefaultSelectors covers the Inditex-style storefront markup. Each list is
// tried in order; the first selector that matches anything wins.
func DefaultSelectors() catalog.SelectorConfig {
	return catalog.SelectorConfig{
		Name: []string{
			"h1.product-detail-info__header-name",
			"h1[data-qa-qualifier='product-detail-info-name']",
			".product-detail-info h1",
			"h1",
		},
		Price: []string{
			".product-detail-info__price .money-amount__main",
			"[data-qa-qualifier='price-amount-current']",
			".price-current__amount",
			".price .current",
			"[itemprop='price']",
		},
		Code: []string{
			".product-color-extended-name__copy-action",
			".product-detail-color-selector__selected-color-name",
			"[data-qa-qualifier='product-reference']",
			".product-reference",
		},
		Description: []string{
			".product-detail-description",
			".expandable-text__inner-content",
			"[itemprop='description']",
		},
		Images: []string{
			".product-detail-images img.media-image__image",
			"picture.media-image img",
			".product-media img",
			".carousel img",
		},
		Sizes: []string{
			".size-selector-list__item",
			".product-size-info__main-label",
			"[data-qa-action='size-in-stock'], [data-qa-action='size-out-of-stock']",
			".size-list li",
		},
		Colors: []string{
			".product-detail-color-selector__color-button",
			"[data-qa-action='select-color']",
			".color-selector li button",
		},
		ProductLink: []string{
			"a.product-link",
			".product-grid-product a[href]",
			"a[href*='-p0']",
			"a[href*='/p/']",
		},
		ProductURLPatterns: []string{
			`-p\d+\.html`,
			`/p/`,
		},
	}
}

// merge replaces each default list with the brand's list when the brand sets one.
func merge(base catalog.SelectorConfig, override *catalog.SelectorConfig) catalog.SelectorConfig {
	if override == nil {
		return base
	}
	pick := func(dst *[]string, src []string) {
		if len(src) > 0 {
			*dst = src
		}
	}
	pick(&base.Name, override.Name)
	pick(&base.Price, override.Price)
	pick(&base.Code, override.Code)
	pick(&base.Description, override.Description)
	pick(&base.Images, override.Images)
	pick(&base.Sizes, override.Sizes)
	pick(&base.Colors, override.Colors)
	pick(&base.ProductLink, override.ProductLink)
	pick(&base.Consent, override.Consent)
	pick(&base.ProductURLPatterns, override.ProductURLPatterns)
	return base
}

// SelectorsFor returns the effective selectors for a brand.
func SelectorsFor(brand *catalog.Brand) catalog.SelectorConfig {
	if brand == nil || brand.API == nil {
		return DefaultSelectors()
	}
	return merge(DefaultSelectors(), brand.API.Selectors)
}

// first returns the selection of the first selector that matches.
func first(doc *goquery.Document, selectors []string) *goquery.Selection {
	for _, s := range selectors {
		if sel := doc.Find(s); sel.Length() > 0 {
			return sel
		}
	}
	return nil
}

func firstText(doc *goquery.Document, selectors []string) string {
	sel := first(doc, selectors)
	if sel == nil {
		return ""
	}
	return clean(sel.First().Text())
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// IsProductURL reports whether rawURL points at a single product page.
// Invalid patterns never match; they are rejected when the config is loaded.
func IsProductURL(rawURL string, patterns []string) bool {
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		if re.MatchString(rawURL) {
			return true
		}
	}
	return false
}
