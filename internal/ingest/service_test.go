package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/catalog/memstore"
	"github.com/maltedev/catalog-ingest/internal/fetcher"
	"github.com/maltedev/catalog-ingest/internal/ratelimit"
	"github.com/maltedev/catalog-ingest/internal/retailer"
	_ "github.com/maltedev/catalog-ingest/internal/retailer/pullbear"
	"github.com/maltedev/catalog-ingest/internal/retailer/schema"
)

type fakeClient struct {
	mu      sync.Mutex
	ids     []string
	listErr error
	sizes   map[string][]string
	errs    map[string]error
	delay   map[string]time.Duration
	filters *schema.FiltersPayload
	fetched []string
}

func (f *fakeClient) ListCategoryProductIDs(ctx context.Context, categoryAPIID string) ([]string, error) {
	return f.ids, f.listErr
}

func (f *fakeClient) GetProductDetail(ctx context.Context, id string) (*schema.RawProductDetail, error) {
	if d := f.delay[id]; d > 0 {
		time.Sleep(d)
	}
	f.mu.Lock()
	f.fetched = append(f.fetched, id)
	f.mu.Unlock()

	if err := f.errs[id]; err != nil {
		return nil, err
	}
	sizes, ok := f.sizes[id]
	if !ok {
		sizes = []string{"S", "M"}
	}
	return pullBearDetail(id, sizes...), nil
}

func (f *fakeClient) GetFilters(ctx context.Context, categoryAPIID string) (*schema.FiltersPayload, error) {
	return f.filters, nil
}

func pullBearDetail(id string, sizes ...string) *schema.RawProductDetail {
	color := schema.PullBearColor{ID: "800", Name: "Black"}
	for _, s := range sizes {
		color.Sizes = append(color.Sizes, schema.PullBearSize{Name: s, Price: "29,95 €", SKU: schema.ID(id + s)})
	}
	return &schema.RawProductDetail{
		Retailer:   catalog.RetailerPullBear,
		ProductID:  id,
		SourceURL:  "https://www.pullandbear.example/p" + id + ".html",
		Currency:   "EUR",
		ImageWidth: 1920,
		PullBear: &schema.PullBearProduct{
			ID:   schema.ID(id),
			Name: "Hoodie " + id,
			Detail: &schema.PullBearDetail{
				Reference: "REF-" + id,
				Colors:    []schema.PullBearColor{color},
				Xmedia: []schema.PullBearMediaSet{{
					ColorCode:   "800",
					XmediaItems: []schema.PullBearMediaItem{{Medias: []schema.PullBearMedia{{URL: "https://img.example.com/" + id + ".jpg"}}}},
				}},
			},
		},
	}
}

type fixture struct {
	store   *memstore.Store
	service *Service
	brand   *catalog.Brand
	leaf    *catalog.Category
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, api *catalog.APIConfig, clients ClientFactory, pages PageScraper) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()

	if api != nil {
		require.NoError(t, api.Validate())
	}
	brand := &catalog.Brand{Name: "Pull&Bear", Slug: "pullbear", Active: true, API: api}
	require.NoError(t, store.UpsertBrand(ctx, brand))

	root := &catalog.Category{BrandID: brand.ID, Name: "Men", Slug: "men", Active: true}
	require.NoError(t, store.UpsertCategory(ctx, root))
	leaf := &catalog.Category{
		BrandID: brand.ID, ParentID: &root.ID, Level: 1,
		Name: "Hoodies", Slug: "hoodies", Active: true, Leaf: true,
		APIID: "1030", URL: "https://www.pullandbear.example/men/hoodies-n1030",
	}
	require.NoError(t, store.UpsertCategory(ctx, leaf))

	logger := testLogger()
	persister := catalog.NewPersister(store, nil, logger)
	return &fixture{
		store:   store,
		service: NewService(store, persister, clients, pages, logger),
		brand:   brand,
		leaf:    leaf,
	}
}

func apiConfig() *catalog.APIConfig {
	return &catalog.APIConfig{
		Retailer:             catalog.RetailerPullBear,
		BaseURL:              "https://api.example.com",
		CategoryProductsPath: "category/{categoryId}/product",
		ProductDetailPath:    "product/{productId}/detail",
	}
}

func fixed(c retailer.Client) ClientFactory {
	return func(*catalog.Brand) (retailer.Client, error) { return c, nil }
}

func retailerIDs(products []*catalog.Product) []string {
	ids := make([]string, len(products))
	for i, p := range products {
		ids[i] = p.RetailerID
	}
	return ids
}

func TestScrapeCategory_OneProductFails(t *testing.T) {
	client := &fakeClient{
		ids: []string{"101", "102", "103"},
		errs: map[string]error{
			"102": &fetcher.FetchExhaustedError{URL: "https://api.example.com/product/102/detail", Attempts: 3, LastErr: context.DeadlineExceeded},
		},
	}
	fx := newFixture(t, apiConfig(), fixed(client), nil)

	result, err := fx.service.ScrapeCategory(context.Background(), "pullbear", "1030", 0)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.ProductsFound)
	assert.Equal(t, 2, result.ProductsCreated)
	assert.Equal(t, 0, result.ProductsUpdated)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "product 102")

	assert.Equal(t, []string{"101", "103"}, retailerIDs(fx.store.Products()))
	assert.Equal(t, 2, fx.store.LinkCount(fx.leaf.ID))
}

func TestScrapeCategory_DetailTimeoutOverHTTP(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/category/1030/product"):
			w.Write([]byte(`{"productIds":[101,102,103]}`))
		case strings.Contains(r.URL.Path, "/product/102/"):
			select {
			case <-release:
			case <-r.Context().Done():
			}
		case strings.Contains(r.URL.Path, "/product/"):
			id := strings.Split(r.URL.Path, "/")[2]
			fmt.Fprintf(w, `{"id":%s,"name":"Hoodie %s","detail":{"reference":"REF-%s",
				"colors":[{"id":"800","name":"Black","sizes":[{"name":"M","price":"29,95 €"}]}],
				"xmedia":[{"colorCode":"800","xmediaItems":[{"medias":[{"url":"//img.example.com/%s.jpg"}]}]}]}}`, id, id, id, id)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	api := apiConfig()
	api.BaseURL = srv.URL
	api.Politeness = catalog.Politeness{MaxRetries: 1, Timeout: 50 * time.Millisecond}

	f := fetcher.New(srv.Client())
	f.BaseDelay = time.Millisecond
	fx := newFixture(t, api, APIClients(f, ratelimit.NewRegistry()), nil)

	result, err := fx.service.ScrapeCategory(context.Background(), "pullbear", "1030", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ProductsCreated)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "102")

	assert.Equal(t, []string{"101", "103"}, retailerIDs(fx.store.Products()))
}

func TestScrapeCategory_RescrapeReplacesSizes(t *testing.T) {
	client := &fakeClient{ids: []string{"101"}, sizes: map[string][]string{"101": {"S", "M", "L"}}}
	fx := newFixture(t, apiConfig(), fixed(client), nil)
	ctx := context.Background()

	result, err := fx.service.ScrapeCategory(ctx, "pullbear", "1030", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ProductsCreated)

	client.sizes["101"] = []string{"S", "M"}
	result, err = fx.service.ScrapeCategory(ctx, "pullbear", "1030", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, result.ProductsCreated)
	assert.Equal(t, 1, result.ProductsUpdated)

	products := fx.store.Products()
	require.Len(t, products, 1)
	require.Len(t, products[0].Colors, 1)
	assert.Len(t, products[0].Colors[0].Sizes, 2)
}

func TestScrapeCategory_RejectedCountedSeparately(t *testing.T) {
	client := &fakeClient{
		ids:   []string{"101", "102"},
		sizes: map[string][]string{"102": nil},
	}
	fx := newFixture(t, apiConfig(), fixed(client), nil)

	result, err := fx.service.ScrapeCategory(context.Background(), "pullbear", "1030", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.ProductsCreated)
	assert.Equal(t, 1, result.ProductsRejected)
	assert.Empty(t, result.Errors)
	assert.Len(t, fx.store.Products(), 1)
}

func TestScrapeCategory_TestLimit(t *testing.T) {
	client := &fakeClient{ids: []string{"101", "102", "103", "104"}}
	fx := newFixture(t, apiConfig(), fixed(client), nil)

	result, err := fx.service.ScrapeCategory(context.Background(), "pullbear", "1030", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ProductsFound)
	assert.Equal(t, []string{"101", "102"}, client.fetched)
}

func TestScrapeCategory_ListingFailureIsFatal(t *testing.T) {
	client := &fakeClient{listErr: &fetcher.FetchExhaustedError{Attempts: 4, LastStatus: http.StatusBadGateway}}
	fx := newFixture(t, apiConfig(), fixed(client), nil)

	result, err := fx.service.ScrapeCategory(context.Background(), "pullbear", "1030", 0)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, fetcher.ErrFetchExhausted)
	assert.Empty(t, client.fetched)
}

func TestScrapeCategory_EmptyListing(t *testing.T) {
	fx := newFixture(t, apiConfig(), fixed(&fakeClient{}), nil)

	result, err := fx.service.ScrapeCategory(context.Background(), "pullbear", "1030", 0)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Zero(t, result.ProductsFound)
	assert.Empty(t, result.Errors)
}

func TestScrape_ConfigurationErrors(t *testing.T) {
	ctx := context.Background()

	fx := newFixture(t, nil, fixed(&fakeClient{}), nil)
	_, err := fx.service.Scrape(ctx, fx.brand, fx.leaf, 0)
	assert.ErrorIs(t, err, retailer.ErrNotConfigured)

	fx = newFixture(t, apiConfig(), fixed(&fakeClient{}), nil)
	_, err = fx.service.ScrapeCategory(ctx, "pullbear", "", 0)
	assert.ErrorIs(t, err, retailer.ErrNotConfigured)

	_, err = fx.service.ScrapeCategory(ctx, "pullbear", "9999", 0)
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	aggregator := *fx.leaf
	aggregator.Aggregator = true
	_, err = fx.service.Scrape(ctx, fx.brand, &aggregator, 0)
	assert.ErrorIs(t, err, ErrNotScrapable)

	parent := *fx.leaf
	parent.Leaf = false
	_, err = fx.service.Scrape(ctx, fx.brand, &parent, 0)
	assert.ErrorIs(t, err, ErrNotScrapable)
}

func TestScrapeCategory_ParallelPersistsInListingOrder(t *testing.T) {
	api := apiConfig()
	api.Politeness.ConcurrentRequests = 3
	client := &fakeClient{
		ids: []string{"101", "102", "103", "104"},
		delay: map[string]time.Duration{
			"101": 30 * time.Millisecond,
			"102": 20 * time.Millisecond,
			"103": 10 * time.Millisecond,
		},
		errs: map[string]error{"104": errors.New("boom")},
	}
	fx := newFixture(t, api, fixed(client), nil)

	result, err := fx.service.ScrapeCategory(context.Background(), "pullbear", "1030", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, result.ProductsCreated)
	assert.Len(t, result.Errors, 1)
	assert.Len(t, client.fetched, 4)

	// Ids are assigned at insert time, so id order is persist order.
	assert.Equal(t, []string{"101", "102", "103"}, retailerIDs(fx.store.Products()))
}

type fakePages struct {
	urls []string
}

func (f *fakePages) DiscoverProductURLs(ctx context.Context, brand *catalog.Brand, categoryURL string, limit int) ([]string, error) {
	if limit > 0 && len(f.urls) > limit {
		return f.urls[:limit], nil
	}
	return f.urls, nil
}

func (f *fakePages) ScrapeProduct(ctx context.Context, brand *catalog.Brand, url string) (*catalog.Product, error) {
	if strings.HasSuffix(url, "bad.html") {
		return nil, fmt.Errorf("%w: no sizes found", catalog.ErrIncompleteProduct)
	}
	return &catalog.Product{
		Name:      "Page product",
		SourceURL: url,
		Colors: []catalog.ColorVariant{{
			Name:   "Default",
			Images: []catalog.Image{{URL: url + ".jpg"}},
			Sizes:  []catalog.Size{{Label: "M"}},
		}},
	}, nil
}

func TestScrape_BrowserStrategy(t *testing.T) {
	api := &catalog.APIConfig{Strategy: catalog.StrategyBrowser}
	pages := &fakePages{urls: []string{
		"https://shop.example/a-p1.html",
		"https://shop.example/bad.html",
		"https://shop.example/b-p2.html",
	}}
	fx := newFixture(t, api, fixed(&fakeClient{}), pages)

	result, err := fx.service.Scrape(context.Background(), fx.brand, fx.leaf, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ProductsCreated)
	assert.Equal(t, 1, result.ProductsRejected)

	products := fx.store.Products()
	require.Len(t, products, 2)
	assert.Equal(t, "page-product", products[0].Slug)
	assert.NotEqual(t, products[0].Slug, products[1].Slug)

	noBrowser := newFixture(t, &catalog.APIConfig{Strategy: catalog.StrategyBrowser}, nil, nil)
	_, err = noBrowser.service.Scrape(context.Background(), noBrowser.brand, noBrowser.leaf, 0)
	assert.ErrorIs(t, err, retailer.ErrNotConfigured)
}
