package linker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/catalog/memstore"
	"github.com/maltedev/catalog-ingest/internal/ingest"
)

type stubEvents struct{}

func (stubEvents) CategoryLinked(aggregatorID, siblingID int64, productIDs []int64) (catalog.Event, error) {
	payload, _ := json.Marshal(productIDs)
	return catalog.Event{AggregateType: "category", EventType: "CATEGORY_LINKED", Payload: payload}, nil
}

// fakeScraper stands in for the ingest service: it stores one product per
// scraped category.
type fakeScraper struct {
	persister *catalog.Persister
	calls     []int64
	err       error
}

func (f *fakeScraper) Scrape(ctx context.Context, brand *catalog.Brand, cat *catalog.Category, testLimit int) (*ingest.Result, error) {
	f.calls = append(f.calls, cat.ID)
	if f.err != nil {
		return nil, f.err
	}
	p := product(brand.ID, "scraped-"+cat.Slug)
	if _, err := f.persister.UpsertProduct(ctx, p, cat.ID); err != nil {
		return nil, err
	}
	return &ingest.Result{Success: true, ProductsCreated: 1}, nil
}

func product(brandID int64, retailerID string) *catalog.Product {
	return &catalog.Product{
		BrandID:    brandID,
		Name:       "Product " + retailerID,
		RetailerID: retailerID,
		Colors: []catalog.ColorVariant{{
			Name:   "Black",
			Images: []catalog.Image{{URL: "https://img.example.com/" + retailerID + ".jpg"}},
			Sizes:  []catalog.Size{{Label: "M"}},
		}},
	}
}

type tree struct {
	brand      *catalog.Brand
	aggregator *catalog.Category
	shirts     *catalog.Category
	trousers   *catalog.Category
	inactive   *catalog.Category
}

func setup(t *testing.T, store *memstore.Store, persister *catalog.Persister, api *catalog.APIConfig) *tree {
	t.Helper()
	ctx := context.Background()

	brand := &catalog.Brand{Name: "Zara", Slug: "zara", Active: true, API: api}
	require.NoError(t, store.UpsertBrand(ctx, brand))

	root := &catalog.Category{BrandID: brand.ID, Name: "Man", Slug: "man", Active: true}
	require.NoError(t, store.UpsertCategory(ctx, root))

	leaf := func(name, apiID string, sort int, active, aggregator bool) *catalog.Category {
		c := &catalog.Category{
			BrandID: brand.ID, ParentID: &root.ID, Level: 1, SortOrder: sort,
			Name: name, Slug: catalog.Slugify(name), Active: active, Leaf: true,
			Aggregator: aggregator, APIID: apiID,
		}
		require.NoError(t, store.UpsertCategory(ctx, c))
		return c
	}

	tr := &tree{
		brand:      brand,
		aggregator: leaf("See all", "2000", 0, true, true),
		shirts:     leaf("Shirts", "2001", 1, true, false),
		trousers:   leaf("Trousers", "2002", 2, true, false),
		inactive:   leaf("Archive", "2003", 3, false, false),
	}
	leaf("Editorial", "", 4, true, false)

	for _, id := range []string{"s1", "s2"} {
		_, err := persister.UpsertProduct(ctx, product(brand.ID, id), tr.shirts.ID)
		require.NoError(t, err)
	}
	_, err := persister.UpsertProduct(ctx, product(brand.ID, "old"), tr.inactive.ID)
	require.NoError(t, err)

	return tr
}

func apiConfig() *catalog.APIConfig {
	return &catalog.APIConfig{Retailer: catalog.RetailerZara, Strategy: catalog.StrategyAPI}
}

func newLinker(store *memstore.Store, scraper CategoryScraper, events EventFactory) *Linker {
	return New(store, scraper, events, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLinkSiblingProducts_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	persister := catalog.NewPersister(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	tr := setup(t, store, persister, apiConfig())
	scraper := &fakeScraper{persister: persister}
	l := newLinker(store, scraper, stubEvents{})

	first, err := l.LinkSiblingProducts(ctx, tr.aggregator.ID)
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Equal(t, 3, first.ProductsLinked)
	assert.Equal(t, 2, first.SiblingCategoriesProcessed)
	assert.Zero(t, first.SiblingsSkipped)
	assert.Empty(t, first.Errors)
	assert.Equal(t, []int64{tr.trousers.ID}, scraper.calls)
	assert.Equal(t, 3, store.LinkCount(tr.aggregator.ID))
	assert.Len(t, store.Events(), 2)

	second, err := l.LinkSiblingProducts(ctx, tr.aggregator.ID)
	require.NoError(t, err)
	assert.Zero(t, second.ProductsLinked)
	assert.Equal(t, 2, second.SiblingCategoriesProcessed)
	assert.Equal(t, []int64{tr.trousers.ID}, scraper.calls)
	assert.Equal(t, 3, store.LinkCount(tr.aggregator.ID))
	assert.Len(t, store.Events(), 2)

	assert.Len(t, store.Products(), 4)
}

func TestLinkSiblingProducts_SkipsWithoutAPI(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	persister := catalog.NewPersister(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	tr := setup(t, store, persister, &catalog.APIConfig{Strategy: catalog.StrategyBrowser})
	scraper := &fakeScraper{persister: persister}

	result, err := newLinker(store, scraper, nil).LinkSiblingProducts(ctx, tr.aggregator.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ProductsLinked)
	assert.Equal(t, 1, result.SiblingCategoriesProcessed)
	assert.Equal(t, 1, result.SiblingsSkipped)
	require.Len(t, result.Skipped, 1)
	assert.Contains(t, result.Skipped[0], "Trousers")
	assert.Empty(t, result.Errors)
	assert.Empty(t, scraper.calls)
}

func TestLinkSiblingProducts_ScrapeFailureIsReported(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	persister := catalog.NewPersister(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	tr := setup(t, store, persister, apiConfig())
	scraper := &fakeScraper{persister: persister, err: errors.New("listing failed")}

	result, err := newLinker(store, scraper, nil).LinkSiblingProducts(ctx, tr.aggregator.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ProductsLinked)
	assert.Equal(t, 1, result.SiblingCategoriesProcessed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "listing failed")
}

func TestLinkSiblingProducts_RequiresAggregator(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	persister := catalog.NewPersister(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	tr := setup(t, store, persister, apiConfig())
	l := newLinker(store, nil, nil)

	_, err := l.LinkSiblingProducts(ctx, tr.shirts.ID)
	assert.ErrorIs(t, err, ErrNotAggregator)

	_, err = l.LinkSiblingProducts(ctx, 9999)
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}
