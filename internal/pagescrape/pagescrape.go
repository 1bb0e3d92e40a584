// Package pagescrape extracts catalog products from rendered storefront pages.
package pagescrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/catalog-ingest/internal/browser"
	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/normalize"
)

var ErrNoProductName = errors.New("no product name on page")

// Opener hands out browser tabs.
type Opener interface {
	Open(ctx context.Context) (browser.Page, error)
}

type Options struct {
	// MaxColors caps how many color controls are clicked per product.
	MaxColors int
	// SettleDelay is the wait after a color click before re-reading the page.
	SettleDelay time.Duration
	ScrollSteps int
}

func DefaultOptions() Options {
	return Options{
		MaxColors:   4,
		SettleDelay: 1500 * time.Millisecond,
		ScrollSteps: 6,
	}
}

// Scraper implements ingest.PageScraper on top of a headless browser.
type Scraper struct {
	opener Opener
	opts   Options
	logger *slog.Logger
	sleep  func(context.Context, time.Duration) error
}

func New(opener Opener, opts Options, logger *slog.Logger) *Scraper {
	if opts.MaxColors <= 0 {
		opts.MaxColors = DefaultOptions().MaxColors
	}
	return &Scraper{
		opener: opener,
		opts:   opts,
		logger: logger.With("component", "pagescrape"),
		sleep:  browser.Sleep,
	}
}

func (s *Scraper) open(ctx context.Context, rawURL string, sel catalog.SelectorConfig) (browser.Page, error) {
	page, err := s.opener.Open(ctx)
	if err != nil {
		return nil, err
	}
	if err := page.Goto(ctx, rawURL); err != nil {
		page.Close()
		return nil, fmt.Errorf("failed to navigate to %s: %w", rawURL, err)
	}
	for _, c := range sel.Consent {
		if n, err := page.Count(c); err == nil && n > 0 {
			if err := page.ClickNth(c, 0); err == nil {
				break
			}
		}
	}
	if err := page.Scroll(ctx, s.opts.ScrollSteps); err != nil {
		page.Close()
		return nil, err
	}
	return page, nil
}

func document(page browser.Page) (*goquery.Document, error) {
	html, err := page.Content()
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page: %w", err)
	}
	return doc, nil
}

// DiscoverProductURLs collects up to limit product links from a category page,
// in page order. A non-positive limit returns every link.
func (s *Scraper) DiscoverProductURLs(ctx context.Context, brand *catalog.Brand, categoryURL string, limit int) ([]string, error) {
	sel := SelectorsFor(brand)
	page, err := s.open(ctx, categoryURL, sel)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	doc, err := document(page)
	if err != nil {
		return nil, err
	}

	base, _ := url.Parse(page.URL())
	if base == nil || base.Host == "" {
		base, _ = url.Parse(categoryURL)
	}

	var urls []string
	seen := make(map[string]bool)
	for _, linkSel := range sel.ProductLink {
		doc.Find(linkSel).EachWithBreak(func(_ int, a *goquery.Selection) bool {
			href, ok := a.Attr("href")
			if !ok {
				return true
			}
			abs := resolve(base, href)
			if abs == "" || seen[abs] || !IsProductURL(abs, sel.ProductURLPatterns) {
				return true
			}
			seen[abs] = true
			urls = append(urls, abs)
			return limit <= 0 || len(urls) < limit
		})
		if limit > 0 && len(urls) >= limit {
			break
		}
	}

	s.logger.Info("product urls discovered", "url", categoryURL, "count", len(urls))
	return urls, nil
}

type colorSnapshot struct {
	name      string
	code      string
	priceText string
	images    []string
	sizes     []catalog.Size
}

// ScrapeProduct extracts one product. Each color control is clicked in turn,
// up to MaxColors, and price, code, images and sizes are read again after the
// settle delay. Completeness is checked by the persister.
func (s *Scraper) ScrapeProduct(ctx context.Context, brand *catalog.Brand, productURL string) (*catalog.Product, error) {
	sel := SelectorsFor(brand)
	page, err := s.open(ctx, productURL, sel)
	if err != nil {
		return nil, err
	}
	defer page.Close()

	doc, err := document(page)
	if err != nil {
		return nil, err
	}

	name := firstText(doc, sel.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoProductName, productURL)
	}
	base, _ := url.Parse(productURL)

	p := &catalog.Product{
		BrandID:     brand.ID,
		Name:        name,
		SourceURL:   productURL,
		Description: firstText(doc, sel.Description),
		Currency:    "EUR",
	}
	if brand.API != nil && brand.API.Currency != "" {
		p.Currency = brand.API.Currency
	}

	colorSel, count := s.colorControls(page, sel.Colors)
	var snaps []colorSnapshot
	if count == 0 {
		snaps = append(snaps, snapshot(doc, sel, base, "", 0))
	}
	for i := 0; i < min(count, s.opts.MaxColors); i++ {
		if err := page.ClickNth(colorSel, i); err != nil {
			s.logger.Warn("color click failed", "url", productURL, "index", i, "error", err)
			continue
		}
		if err := s.sleep(ctx, s.opts.SettleDelay); err != nil {
			return nil, err
		}
		doc, err := document(page)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snapshot(doc, sel, base, colorSel, i))
	}

	for i, snap := range snaps {
		v := catalog.ColorVariant{
			Name:   snap.name,
			Code:   snap.code,
			Images: images(snap.images, name),
			Sizes:  snap.sizes,
		}
		if snap.priceText != "" {
			display, amount, err := normalize.ParsePriceString(snap.priceText)
			if err != nil {
				s.logger.Debug("unparsable price", "url", productURL, "price", snap.priceText)
			} else {
				v.Price = amount
				if i == 0 || p.PriceText == "" {
					p.PriceText, p.Price = display, amount
				}
			}
		}
		if p.Code == "" {
			p.Code = snap.code
		}
		p.Colors = append(p.Colors, v)
	}
	p.Colors = dedupeVariants(p.Colors)

	s.logger.Debug("product scraped", "url", productURL, "colors", len(p.Colors), "images", p.ImageCount())
	return p, nil
}

func (s *Scraper) colorControls(page browser.Page, selectors []string) (string, int) {
	for _, c := range selectors {
		n, err := page.Count(c)
		if err == nil && n > 0 {
			return c, n
		}
	}
	return "", 0
}

func snapshot(doc *goquery.Document, sel catalog.SelectorConfig, base *url.URL, colorSel string, i int) colorSnapshot {
	snap := colorSnapshot{
		code:      firstText(doc, sel.Code),
		priceText: firstText(doc, sel.Price),
		name:      "Default",
	}
	if colorSel != "" {
		if control := doc.Find(colorSel).Eq(i); control.Length() > 0 {
			if label := controlLabel(control); label != "" {
				snap.name = label
			}
		}
	}

	if imgs := first(doc, sel.Images); imgs != nil {
		imgs.Each(func(_ int, img *goquery.Selection) {
			if src := imageSource(img); src != "" {
				if abs := resolve(base, src); abs != "" {
					snap.images = append(snap.images, abs)
				}
			}
		})
	}

	if sizes := first(doc, sel.Sizes); sizes != nil {
		seen := make(map[string]bool)
		sizes.Each(func(_ int, el *goquery.Selection) {
			label := clean(el.Text())
			if label == "" || seen[label] {
				return
			}
			seen[label] = true
			snap.sizes = append(snap.sizes, catalog.Size{
				Label:        label,
				Availability: sizeAvailability(el),
				SortOrder:    len(snap.sizes),
			})
		})
	}
	return snap
}

func controlLabel(s *goquery.Selection) string {
	for _, attr := range []string{"aria-label", "title", "data-color-name"} {
		if v, ok := s.Attr(attr); ok && clean(v) != "" {
			return clean(v)
		}
	}
	return clean(s.Text())
}

func imageSource(img *goquery.Selection) string {
	for _, attr := range []string{"src", "data-src"} {
		if v, ok := img.Attr(attr); ok && v != "" && !strings.HasPrefix(v, "data:") {
			return v
		}
	}
	if srcset, ok := img.Attr("srcset"); ok {
		if fields := strings.Fields(strings.Split(srcset, ",")[0]); len(fields) > 0 {
			return fields[0]
		}
	}
	return ""
}

func sizeAvailability(el *goquery.Selection) string {
	if _, disabled := el.Attr("disabled"); disabled {
		return "out_of_stock"
	}
	if v, _ := el.Attr("aria-disabled"); v == "true" {
		return "out_of_stock"
	}
	class, _ := el.Attr("class")
	action, _ := el.Attr("data-qa-action")
	if strings.Contains(class, "disabled") || strings.Contains(class, "out-of-stock") || action == "size-out-of-stock" {
		return "out_of_stock"
	}
	return "in_stock"
}

func images(urls []string, alt string) []catalog.Image {
	seen := make(map[string]bool)
	var out []catalog.Image
	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, catalog.Image{URL: u, Alt: alt, SortOrder: len(out)})
	}
	return out
}

// dedupeVariants drops repeated color names, which happens when a click did
// not change the selected color.
func dedupeVariants(vs []catalog.ColorVariant) []catalog.ColorVariant {
	seen := make(map[string]bool)
	out := vs[:0]
	for _, v := range vs {
		key := strings.ToLower(v.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}

func resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "javascript:") || strings.HasPrefix(ref, "#") {
		return ""
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}
