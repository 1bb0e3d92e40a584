package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/database"
	"github.com/maltedev/catalog-ingest/internal/ingest"
	"github.com/maltedev/catalog-ingest/internal/jobs"
	"github.com/maltedev/catalog-ingest/internal/linker"
	"github.com/maltedev/catalog-ingest/internal/retailer"
	"github.com/maltedev/catalog-ingest/internal/schedule"
)

type CategoryScraper interface {
	ScrapeCategory(ctx context.Context, brandSlug, categoryAPIID string, testLimit int) (*ingest.Result, error)
}

type SiblingLinker interface {
	LinkSiblingProducts(ctx context.Context, aggregatorID int64) (*linker.LinkResult, error)
}

type Refresher interface {
	Start(ctx context.Context) error
}

// OutboxStats reports the outbox backlog. Nil when no relay runs.
type OutboxStats interface {
	Stats(ctx context.Context) (database.RelayStats, error)
}

type Handlers struct {
	scraper   CategoryScraper
	linker    SiblingLinker
	jobs      *jobs.Manager
	refresher Refresher
	outbox    OutboxStats
	logger    *slog.Logger
	// baseCtx bounds work that outlives a request, such as a refresh.
	baseCtx context.Context
}

func NewHandlers(scraper CategoryScraper, l SiblingLinker, jobs *jobs.Manager, refresher Refresher, outbox OutboxStats, logger *slog.Logger) *Handlers {
	return &Handlers{
		scraper:   scraper,
		linker:    l,
		jobs:      jobs,
		refresher: refresher,
		outbox:    outbox,
		logger:    logger.With("component", "api"),
		baseCtx:   context.Background(),
	}
}

// SetBaseContext sets the context background work started by a request runs
// under. Cancelling it stops that work.
func (h *Handlers) SetBaseContext(ctx context.Context) {
	h.baseCtx = ctx
}

// ScrapeRequest triggers one category scrape.
type ScrapeRequest struct {
	Brand         string `json:"brand"`
	CategoryAPIID string `json:"category_api_id"`
	TestLimit     int    `json:"test_limit"`
}

// Scrape runs a category scrape synchronously and returns its counts.
func (h *Handlers) Scrape(w http.ResponseWriter, r *http.Request) {
	var req ScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Brand == "" || req.CategoryAPIID == "" {
		h.respondError(w, http.StatusBadRequest, "brand and category_api_id are required")
		return
	}
	if req.TestLimit < 0 {
		h.respondError(w, http.StatusBadRequest, "test_limit must not be negative")
		return
	}

	result, err := h.scraper.ScrapeCategory(r.Context(), req.Brand, req.CategoryAPIID, req.TestLimit)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			h.respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, ingest.ErrNotScrapable), errors.Is(err, retailer.ErrNotConfigured):
			h.respondError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.logger.Error("scrape failed", "error", err, "brand", req.Brand, "category_api_id", req.CategoryAPIID)
			h.respondJSON(w, http.StatusBadGateway, &ingest.Result{Success: false, Errors: []string{err.Error()}})
		}
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// LinkSiblings fills an aggregator category from its siblings.
func (h *Handlers) LinkSiblings(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "categoryID"), 10, 64)
	if err != nil || id <= 0 {
		h.respondError(w, http.StatusBadRequest, "invalid category id")
		return
	}

	result, err := h.linker.LinkSiblingProducts(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			h.respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, linker.ErrNotAggregator):
			h.respondError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.logger.Error("link siblings failed", "error", err, "category_id", id)
			h.respondError(w, http.StatusInternalServerError, "failed to link sibling products")
		}
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

// CreateJobRequest represents a new browser scrape job
type CreateJobRequest struct {
	URL string `json:"url"`
}

func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.jobs.Enqueue(r.Context(), req.URL)
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidURL) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusCreated, job)
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	job, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("failed to get job", "error", err, "job_id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

// ListJobs returns the newest jobs first. ?limit= defaults to 50.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, 500)
	}

	list, err := h.jobs.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if list == nil {
		list = []*catalog.ScrapeJob{}
	}

	h.respondJSON(w, http.StatusOK, list)
}

// RetryJob moves a FAILED job back to PENDING.
func (h *Handlers) RetryJob(w http.ResponseWriter, r *http.Request) {
	id, ok := h.jobID(w, r)
	if !ok {
		return
	}

	job, err := h.jobs.Retry(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrNotFound):
			h.respondError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, catalog.ErrInvalidTransition):
			h.respondError(w, http.StatusConflict, err.Error())
		default:
			h.logger.Error("failed to retry job", "error", err, "job_id", id)
			h.respondError(w, http.StatusInternalServerError, "failed to retry job")
		}
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

// Refresh starts a full catalog refresh in the background.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.refresher == nil {
		h.respondError(w, http.StatusNotImplemented, "refresh is not configured")
		return
	}

	if err := h.refresher.Start(h.baseCtx); err != nil {
		if errors.Is(err, schedule.ErrAlreadyRunning) {
			h.respondError(w, http.StatusConflict, err.Error())
			return
		}
		h.logger.Error("failed to start refresh", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to start refresh")
		return
	}
	h.respondJSON(w, http.StatusAccepted, map[string]string{"status": "refresh started"})
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		stats, err := h.outbox.Stats(r.Context())
		switch {
		case err != nil:
			h.logger.Error("failed to read outbox stats", "error", err)
			health["status"] = "error"
			health["message"] = "outbox unavailable"
			status = http.StatusServiceUnavailable
		case stats.DeadLetter > 100:
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		case stats.Pending > 1000:
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		health["outbox"] = stats
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid job id")
		return uuid.Nil, false
	}
	return id, true
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
