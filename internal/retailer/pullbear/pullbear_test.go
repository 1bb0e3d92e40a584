package pullbear

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/fetcher"
	"github.com/maltedev/catalog-ingest/internal/retailer"
	"github.com/maltedev/catalog-ingest/internal/retailer/schema"
)

const bundleJSON = `{
  "id": 2001,
  "name": "Basic tee",
  "detail": {"colors": []},
  "bundleProductSummaries": [{
    "id": 2002,
    "detail": {
      "reference": "7240/512",
      "description": "Cotton tee",
      "colors": [{"id": "250", "name": "White", "sizes": [{"name": "M", "price": "12,99 €", "sku": 99}]}],
      "xmedia": [{"colorCode": "250", "xmediaItems": [{"medias": [{"url": "//img.example.com/tee.jpg"}]}]}]
    }
  }]
}`

func newClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := &catalog.APIConfig{
		Retailer:             catalog.RetailerPullBear,
		BaseURL:              srv.URL + "/itxrest/3/catalog/store/25009521/20309457",
		CategoryProductsPath: "category/{categoryId}/product?languageId=-1",
		ProductDetailPath:    "product/{productId}/detail?languageId=-1",
		FiltersPath:          "category/{categoryId}/filters",
		Politeness:           catalog.Politeness{MaxRetries: 1},
	}
	require.NoError(t, cfg.Validate())

	f := fetcher.New(srv.Client())
	f.BaseDelay = time.Millisecond
	return New(retailer.NewBase(cfg, f, nil))
}

func TestListCategoryProductIDs(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/itxrest/3/catalog/store/25009521/20309457/category/1030/product", r.URL.Path)
		assert.Equal(t, "-1", r.URL.Query().Get("languageId"))
		w.Write([]byte(`{"productIds": [101, "102", 101, 103]}`))
	})

	ids, err := c.ListCategoryProductIDs(context.Background(), "1030")
	require.NoError(t, err)
	assert.Equal(t, []string{"101", "102", "103"}, ids)
}

func TestListCategoryProductIDs_Empty(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"productIds": []}`))
	})

	ids, err := c.ListCategoryProductIDs(context.Background(), "1030")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestGetProductDetail_UsesBundleDetail(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(bundleJSON))
	})

	raw, err := c.GetProductDetail(context.Background(), "2001")
	require.NoError(t, err)
	require.NotNil(t, raw.PullBear)
	assert.Nil(t, raw.Extra)

	detail := raw.PullBear.EffectiveDetail()
	require.NotNil(t, detail)
	assert.Equal(t, "7240/512", detail.Reference)
	assert.Equal(t, "12,99 €", detail.Colors[0].Sizes[0].Price)
}

func TestGetFilters(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/itxrest/3/catalog/store/25009521/20309457/category/1030/filters":
			w.Write([]byte(`{"facets":[{"id":"color","values":[{"name":"Black","code":"800","productIds":[101,102]}]}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	filters, err := c.GetFilters(context.Background(), "1030")
	require.NoError(t, err)
	facet := filters.Facet(schema.FacetColor)
	require.NotNil(t, facet)
	assert.True(t, facet.Values[0].References("102"))
	assert.False(t, facet.Values[0].References("103"))
	assert.Nil(t, filters.Facet(schema.FacetSize))

	filters, err = c.GetFilters(context.Background(), "9999")
	require.NoError(t, err)
	assert.Nil(t, filters)
}
