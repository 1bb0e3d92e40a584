package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/catalog/memstore"
	"github.com/maltedev/catalog-ingest/internal/database"
	"github.com/maltedev/catalog-ingest/internal/ingest"
	"github.com/maltedev/catalog-ingest/internal/jobs"
	"github.com/maltedev/catalog-ingest/internal/linker"
	"github.com/maltedev/catalog-ingest/internal/retailer"
	"github.com/maltedev/catalog-ingest/internal/schedule"
)

type MockScraper struct {
	mock.Mock
}

func (m *MockScraper) ScrapeCategory(ctx context.Context, brandSlug, categoryAPIID string, testLimit int) (*ingest.Result, error) {
	args := m.Called(ctx, brandSlug, categoryAPIID, testLimit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ingest.Result), args.Error(1)
}

type MockLinker struct {
	mock.Mock
}

func (m *MockLinker) LinkSiblingProducts(ctx context.Context, aggregatorID int64) (*linker.LinkResult, error) {
	args := m.Called(ctx, aggregatorID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*linker.LinkResult), args.Error(1)
}

type MockRefresher struct {
	mock.Mock
}

func (m *MockRefresher) Start(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockOutbox struct {
	mock.Mock
}

func (m *MockOutbox) Stats(ctx context.Context) (database.RelayStats, error) {
	args := m.Called(ctx)
	return args.Get(0).(database.RelayStats), args.Error(1)
}

type testServer struct {
	handler   http.Handler
	handlers  *Handlers
	scraper   *MockScraper
	linker    *MockLinker
	refresher *MockRefresher
	outbox    *MockOutbox
	jobs      *memstore.JobRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := memstore.New().Jobs()

	ts := &testServer{
		scraper:   &MockScraper{},
		linker:    &MockLinker{},
		refresher: &MockRefresher{},
		outbox:    &MockOutbox{},
		jobs:      repo,
	}
	ts.handlers = NewHandlers(ts.scraper, ts.linker, jobs.NewManager(repo, logger), ts.refresher, ts.outbox, logger)
	ts.handler = NewRouter(ts.handlers, RouterConfig{})
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestScrape(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		ts := newTestServer(t)
		ts.scraper.On("ScrapeCategory", mock.Anything, "pullbear", "1030", 5).Return(&ingest.Result{
			Success:         true,
			ProductsFound:   5,
			ProductsCreated: 3,
			ProductsUpdated: 1,
			Errors:          []string{"product 9: timeout"},
		}, nil)

		rec := ts.do(t, http.MethodPost, "/api/v1/scrape", `{"brand":"pullbear","category_api_id":"1030","test_limit":5}`)
		assert.Equal(t, http.StatusOK, rec.Code)

		body := decode[map[string]any](t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, float64(3), body["products_created"])
		assert.Equal(t, float64(1), body["products_updated"])
		assert.Equal(t, []any{"product 9: timeout"}, body["errors"])
		ts.scraper.AssertExpectations(t)
	})

	t.Run("validation", func(t *testing.T) {
		ts := newTestServer(t)
		for _, body := range []string{`{`, `{"brand":"pullbear"}`, `{"brand":"pullbear","category_api_id":"1","test_limit":-1}`} {
			rec := ts.do(t, http.MethodPost, "/api/v1/scrape", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		}
		ts.scraper.AssertNotCalled(t, "ScrapeCategory", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown category", fmt.Errorf("failed to load category: %w", catalog.ErrNotFound), http.StatusNotFound},
		{"not scrapable", fmt.Errorf("%w: category 3", ingest.ErrNotScrapable), http.StatusUnprocessableEntity},
		{"no api", retailer.ErrNotConfigured, http.StatusUnprocessableEntity},
		{"listing failed", errors.New("failed to list category 3: status 503"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.scraper.On("ScrapeCategory", mock.Anything, "zara", "77", 0).Return(nil, tt.err)

			rec := ts.do(t, http.MethodPost, "/api/v1/scrape", `{"brand":"zara","category_api_id":"77"}`)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	t.Run("listing failure reports unsuccessful result", func(t *testing.T) {
		ts := newTestServer(t)
		ts.scraper.On("ScrapeCategory", mock.Anything, "zara", "77", 0).Return(nil, errors.New("status 503"))

		rec := ts.do(t, http.MethodPost, "/api/v1/scrape", `{"brand":"zara","category_api_id":"77"}`)
		body := decode[ingest.Result](t, rec)
		assert.False(t, body.Success)
		assert.Equal(t, []string{"status 503"}, body.Errors)
	})
}

func TestLinkSiblings(t *testing.T) {
	ts := newTestServer(t)
	ts.linker.On("LinkSiblingProducts", mock.Anything, int64(12)).Return(&linker.LinkResult{
		Success:                    true,
		ProductsLinked:             7,
		SiblingCategoriesProcessed: 2,
		Skipped:                    []string{},
		Errors:                     []string{},
	}, nil)
	ts.linker.On("LinkSiblingProducts", mock.Anything, int64(13)).Return(nil, fmt.Errorf("%w: category 13", linker.ErrNotAggregator))
	ts.linker.On("LinkSiblingProducts", mock.Anything, int64(14)).Return(nil, fmt.Errorf("load: %w", catalog.ErrNotFound))

	rec := ts.do(t, http.MethodPost, "/api/v1/categories/12/link-siblings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[linker.LinkResult](t, rec)
	assert.Equal(t, 7, body.ProductsLinked)
	assert.Equal(t, 2, body.SiblingCategoriesProcessed)

	assert.Equal(t, http.StatusUnprocessableEntity, ts.do(t, http.MethodPost, "/api/v1/categories/13/link-siblings", "").Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodPost, "/api/v1/categories/14/link-siblings", "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/v1/categories/abc/link-siblings", "").Code)
}

func TestJobs(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/jobs", `{"url":"https://www.zara.com/de/en/woman-l1.html"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[catalog.ScrapeJob](t, rec)
	assert.Equal(t, catalog.JobPending, created.Status)

	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodPost, "/api/v1/jobs", `{"url":"ftp://x"}`).Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/jobs/"+created.ID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decode[catalog.ScrapeJob](t, rec).ID)

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/api/v1/jobs/"+uuid.NewString(), "").Code)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/v1/jobs/not-a-uuid", "").Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/jobs?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]catalog.ScrapeJob](t, rec), 1)
	assert.Equal(t, http.StatusBadRequest, ts.do(t, http.MethodGet, "/api/v1/jobs?limit=zero", "").Code)

	// Only FAILED jobs can be retried.
	rec = ts.do(t, http.MethodPost, "/api/v1/jobs/"+created.ID.String()+"/retry", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	ctx := context.Background()
	claimed, err := ts.jobs.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, ts.jobs.Fail(ctx, claimed.ID, "navigation timeout"))

	rec = ts.do(t, http.MethodPost, "/api/v1/jobs/"+created.ID.String()+"/retry", "")
	require.Equal(t, http.StatusOK, rec.Code)
	retried := decode[catalog.ScrapeJob](t, rec)
	assert.Equal(t, catalog.JobPending, retried.Status)
	assert.Empty(t, retried.Error)

	rec = ts.do(t, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, jobs.Stats{TotalJobs: 1, PendingJobs: 1}, decode[jobs.Stats](t, rec))
}

func TestListJobs_Empty(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/api/v1/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestRefresh(t *testing.T) {
	ts := newTestServer(t)
	ts.refresher.On("Start", mock.Anything).Return(nil).Once()
	ts.refresher.On("Start", mock.Anything).Return(schedule.ErrAlreadyRunning).Once()

	assert.Equal(t, http.StatusAccepted, ts.do(t, http.MethodPost, "/api/v1/refresh", "").Code)
	assert.Equal(t, http.StatusConflict, ts.do(t, http.MethodPost, "/api/v1/refresh", "").Code)
	ts.refresher.AssertExpectations(t)
}

func TestRefresh_RunsUnderBaseContext(t *testing.T) {
	ts := newTestServer(t)
	base, cancel := context.WithCancel(context.Background())
	defer cancel()
	ts.handlers.SetBaseContext(base)

	var started context.Context
	ts.refresher.On("Start", mock.Anything).Run(func(args mock.Arguments) {
		started = args.Get(0).(context.Context)
	}).Return(nil)

	require.Equal(t, http.StatusAccepted, ts.do(t, http.MethodPost, "/api/v1/refresh", "").Code)
	require.NotNil(t, started)
	assert.NoError(t, started.Err(), "request completion must not cancel the refresh")

	cancel()
	assert.ErrorIs(t, started.Err(), context.Canceled)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		stats      database.RelayStats
		err        error
		wantCode   int
		wantStatus string
	}{
		{"ok", database.RelayStats{Pending: 3}, nil, http.StatusOK, "ok"},
		{"backlog", database.RelayStats{Pending: 5000}, nil, http.StatusOK, "warning"},
		{"dead letters", database.RelayStats{DeadLetter: 101}, nil, http.StatusServiceUnavailable, "error"},
		{"outbox down", database.RelayStats{}, errors.New("conn refused"), http.StatusServiceUnavailable, "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.outbox.On("Stats", mock.Anything).Return(tt.stats, tt.err)

			rec := ts.do(t, http.MethodGet, "/health", "")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantStatus, decode[map[string]any](t, rec)["status"])
		})
	}

	t.Run("without relay", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		h := NewHandlers(&MockScraper{}, &MockLinker{}, jobs.NewManager(memstore.New().Jobs(), logger), nil, nil, logger)

		rec := httptest.NewRecorder()
		NewRouter(h, RouterConfig{}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

		rec = httptest.NewRecorder()
		NewRouter(h, RouterConfig{}).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil))
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	})
}
