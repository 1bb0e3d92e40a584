package pagescrape

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/catalog-ingest/internal/browser"
	"github.com/maltedev/catalog-ingest/internal/catalog"
)

// fakePage serves one HTML document per selected color.
type fakePage struct {
	url      string
	pages    []string
	selected int
	gotoErr  error
	clicks   []string
	closed   bool
}

func (p *fakePage) Goto(ctx context.Context, url string) error {
	if p.gotoErr != nil {
		return p.gotoErr
	}
	p.url = url
	return nil
}

func (p *fakePage) Content() (string, error) { return p.pages[p.selected], nil }

func (p *fakePage) Count(selector string) (int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.pages[p.selected]))
	if err != nil {
		return 0, err
	}
	return doc.Find(selector).Length(), nil
}

func (p *fakePage) ClickNth(selector string, i int) error {
	p.clicks = append(p.clicks, selector)
	if strings.Contains(selector, "color") && i < len(p.pages) {
		p.selected = i
	}
	return nil
}

func (p *fakePage) Scroll(ctx context.Context, steps int) error { return nil }

func (p *fakePage) URL() string { return p.url }

func (p *fakePage) Close() error {
	p.closed = true
	return nil
}

type fakeOpener struct {
	page *fakePage
}

func (o *fakeOpener) Open(ctx context.Context) (browser.Page, error) { return o.page, nil }

func newScraper(page *fakePage, opts Options) *Scraper {
	s := New(&fakeOpener{page: page}, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

const colorButtons = `
<ul>
  <li><button class="product-detail-color-selector__color-button" aria-label="Ecru"></button></li>
  <li><button class="product-detail-color-selector__color-button" aria-label="Black"></button></li>
  <li><button class="product-detail-color-selector__color-button" aria-label="Navy"></button></li>
</ul>`

func productPage(price, code, image string, sizes ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><h1 class="product-detail-info__header-name"> Linen  Dress </h1>`)
	b.WriteString(`<div class="product-detail-description">Relaxed fit.</div>`)
	b.WriteString(`<div class="product-detail-info__price"><span class="money-amount__main">` + price + `</span></div>`)
	b.WriteString(`<p class="product-reference">` + code + `</p>`)
	b.WriteString(colorButtons)
	b.WriteString(`<div class="product-detail-images"><img class="media-image__image" src="` + image + `">`)
	b.WriteString(`<img class="media-image__image" src="data:image/gif;base64,AAAA" data-src="` + image + `"></div>`)
	b.WriteString(`<ul>`)
	for _, s := range sizes {
		if strings.HasSuffix(s, "!") {
			b.WriteString(`<li class="size-selector-list__item size-selector-list__item--out-of-stock">` + strings.TrimSuffix(s, "!") + `</li>`)
			continue
		}
		b.WriteString(`<li class="size-selector-list__item">` + s + `</li>`)
	}
	b.WriteString(`</ul></body></html>`)
	return b.String()
}

func TestScrapeProduct_ClicksColors(t *testing.T) {
	page := &fakePage{pages: []string{
		productPage("29,95 €", "0123/001/800", "//static.example.com/ecru.jpg", "S", "M", "L!"),
		productPage("29,95 €", "0123/001/800", "/img/black.jpg", "S", "M"),
		productPage("25,95 €", "0123/001/400", "https://static.example.com/navy.jpg", "M"),
	}}
	brand := &catalog.Brand{ID: 3, Slug: "zara", API: &catalog.APIConfig{Currency: "EUR"}}

	p, err := newScraper(page, Options{MaxColors: 2}).ScrapeProduct(context.Background(), brand, "https://shop.example/linen-dress-p0123.html")
	require.NoError(t, err)

	assert.Equal(t, "Linen Dress", p.Name)
	assert.Equal(t, int64(3), p.BrandID)
	assert.Equal(t, "Relaxed fit.", p.Description)
	assert.Equal(t, "0123/001/800", p.Code)
	assert.Equal(t, "29,95 €", p.PriceText)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("29.95")))

	require.Len(t, p.Colors, 2, "capped at MaxColors")
	assert.Equal(t, "Ecru", p.Colors[0].Name)
	assert.Equal(t, "Black", p.Colors[1].Name)
	assert.Equal(t, []catalog.Image{{URL: "https://static.example.com/ecru.jpg", Alt: "Linen Dress"}}, p.Colors[0].Images)
	assert.Equal(t, "https://shop.example/img/black.jpg", p.Colors[1].Images[0].URL)
	assert.Equal(t, []catalog.Size{
		{Label: "S", Availability: "in_stock"},
		{Label: "M", Availability: "in_stock", SortOrder: 1},
		{Label: "L", Availability: "out_of_stock", SortOrder: 2},
	}, p.Colors[0].Sizes)
	assert.Len(t, p.Colors[1].Sizes, 2)
	assert.True(t, page.closed)
}

func TestScrapeProduct_WithoutColorControls(t *testing.T) {
	html := `<html><body><h1>Basic Tee</h1><span itemprop="price">9.99</span>
		<div class="product-media"><img src="https://img.example/tee.jpg"></div>
		<ul class="size-list"><li>M</li><li>M</li></ul></body></html>`
	page := &fakePage{pages: []string{html}}

	p, err := newScraper(page, DefaultOptions()).ScrapeProduct(context.Background(), &catalog.Brand{ID: 1}, "https://shop.example/tee-p9.html")
	require.NoError(t, err)

	require.Len(t, p.Colors, 1)
	assert.Equal(t, "Default", p.Colors[0].Name)
	assert.Equal(t, []catalog.Size{{Label: "M", Availability: "in_stock"}}, p.Colors[0].Sizes)
	assert.True(t, p.Price.Equal(decimal.RequireFromString("9.99")))
	assert.Empty(t, page.clicks)
}

func TestScrapeProduct_Errors(t *testing.T) {
	t.Run("no name", func(t *testing.T) {
		page := &fakePage{pages: []string{`<html><body><p>nothing</p></body></html>`}}
		_, err := newScraper(page, DefaultOptions()).ScrapeProduct(context.Background(), &catalog.Brand{ID: 1}, "https://shop.example/x-p1.html")
		assert.ErrorIs(t, err, ErrNoProductName)
	})

	t.Run("navigation failure", func(t *testing.T) {
		page := &fakePage{pages: []string{""}, gotoErr: errors.New("net::ERR_TIMED_OUT")}
		_, err := newScraper(page, DefaultOptions()).ScrapeProduct(context.Background(), &catalog.Brand{ID: 1}, "https://shop.example/x-p1.html")
		assert.ErrorContains(t, err, "ERR_TIMED_OUT")
		assert.True(t, page.closed)
	})
}

func TestScrapeProduct_BrandSelectorsOverride(t *testing.T) {
	html := `<html><body><div class="title">Cargo Trousers</div><h1>Site Header</h1>
		<div class="cookie"><button class="ok">OK</button></div></body></html>`
	page := &fakePage{pages: []string{html}}
	brand := &catalog.Brand{ID: 1, API: &catalog.APIConfig{Selectors: &catalog.SelectorConfig{
		Name:    []string{".title"},
		Consent: []string{".cookie .ok"},
	}}}

	p, err := newScraper(page, DefaultOptions()).ScrapeProduct(context.Background(), brand, "https://shop.example/cargo-p5.html")
	require.NoError(t, err)
	assert.Equal(t, "Cargo Trousers", p.Name)
	assert.Equal(t, []string{".cookie .ok"}, page.clicks)
}

func TestDiscoverProductURLs(t *testing.T) {
	html := `<html><body>
		<a class="product-link" href="/de/en/linen-dress-p0123.html?v1=1">Dress</a>
		<a class="product-link" href="/de/en/linen-dress-p0123.html?v1=1#reviews">Dress again</a>
		<a class="product-link" href="/de/en/woman-new-l1180.html">Category</a>
		<a class="product-link" href="https://shop.example/p/shirt">Shirt</a>
		<a class="product-link" href="javascript:void(0)">noop</a>
		<a class="product-link" href="/de/en/tee-p0456.html">Tee</a>
	</body></html>`

	t.Run("filters, resolves and dedupes", func(t *testing.T) {
		page := &fakePage{pages: []string{html}}
		urls, err := newScraper(page, DefaultOptions()).DiscoverProductURLs(context.Background(), nil, "https://shop.example/de/en/woman-l1.html", 0)
		require.NoError(t, err)
		assert.Equal(t, []string{
			"https://shop.example/de/en/linen-dress-p0123.html?v1=1",
			"https://shop.example/p/shirt",
			"https://shop.example/de/en/tee-p0456.html",
		}, urls)
	})

	t.Run("limit", func(t *testing.T) {
		page := &fakePage{pages: []string{html}}
		urls, err := newScraper(page, DefaultOptions()).DiscoverProductURLs(context.Background(), nil, "https://shop.example/de/en/woman-l1.html", 2)
		require.NoError(t, err)
		assert.Len(t, urls, 2)
	})
}

func TestIsProductURL(t *testing.T) {
	patterns := DefaultSelectors().ProductURLPatterns
	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.zara.com/de/en/linen-dress-p04387049.html", true},
		{"https://www.pullandbear.com/de/p/shirt-l0123", true},
		{"https://www.zara.com/de/en/woman-dresses-l1066.html", false},
		{"https://www.zara.com/de/en/", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsProductURL(tt.url, patterns), tt.url)
	}

	assert.False(t, IsProductURL("https://x/p/", []string{"("}), "invalid patterns never match")
}

func TestSelectorsFor(t *testing.T) {
	assert.Equal(t, DefaultSelectors(), SelectorsFor(nil))

	brand := &catalog.Brand{API: &catalog.APIConfig{Selectors: &catalog.SelectorConfig{
		Price:              []string{".p"},
		ProductURLPatterns: []string{`/item/\d+`},
	}}}
	sel := SelectorsFor(brand)
	assert.Equal(t, []string{".p"}, sel.Price)
	assert.Equal(t, []string{`/item/\d+`}, sel.ProductURLPatterns)
	assert.Equal(t, DefaultSelectors().Name, sel.Name)
}
