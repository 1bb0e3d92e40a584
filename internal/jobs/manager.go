// Package jobs runs the persisted scrape job queue for the browser fallback.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/google/uuid"

	"github.com/maltedev/catalog-ingest/internal/catalog"
)

var ErrInvalidURL = errors.New("invalid job url")

// Repository is the scrape job table. Implementations: database.JobRepository
// and memstore.JobRepository.
type Repository interface {
	Create(ctx context.Context, url string) (*catalog.ScrapeJob, error)
	Get(ctx context.Context, id uuid.UUID) (*catalog.ScrapeJob, error)
	List(ctx context.Context, limit int) ([]*catalog.ScrapeJob, error)
	// ClaimNext atomically moves the oldest PENDING job to PROCESSING and
	// returns nil, nil when the queue is empty.
	ClaimNext(ctx context.Context) (*catalog.ScrapeJob, error)
	Complete(ctx context.Context, id uuid.UUID, productsSaved int) error
	Fail(ctx context.Context, id uuid.UUID, msg string) error
	Retry(ctx context.Context, id uuid.UUID) error
	Stats(ctx context.Context) (map[catalog.JobStatus]int, error)
}

type Manager struct {
	repo   Repository
	logger *slog.Logger
}

func NewManager(repo Repository, logger *slog.Logger) *Manager {
	return &Manager{
		repo:   repo,
		logger: logger.With("component", "job_manager"),
	}
}

// Stats represents queue statistics
type Stats struct {
	TotalJobs      int `json:"total_jobs"`
	PendingJobs    int `json:"pending_jobs"`
	ProcessingJobs int `json:"processing_jobs"`
	DoneJobs       int `json:"done_jobs"`
	FailedJobs     int `json:"failed_jobs"`
}

// Enqueue inserts a PENDING job. The worker picks it up on its next poll.
func (m *Manager) Enqueue(ctx context.Context, rawURL string) (*catalog.ScrapeJob, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	job, err := m.repo.Create(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "url", job.URL)
	return job, nil
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*catalog.ScrapeJob, error) {
	return m.repo.Get(ctx, id)
}

func (m *Manager) List(ctx context.Context, limit int) ([]*catalog.ScrapeJob, error) {
	return m.repo.List(ctx, limit)
}

// Retry puts a FAILED job back in the queue. Failed jobs are never retried
// automatically.
func (m *Manager) Retry(ctx context.Context, id uuid.UUID) (*catalog.ScrapeJob, error) {
	if err := m.repo.Retry(ctx, id); err != nil {
		return nil, err
	}
	m.logger.Info("job requeued", "id", id)
	return m.repo.Get(ctx, id)
}

func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	counts, err := m.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	stats := &Stats{
		PendingJobs:    counts[catalog.JobPending],
		ProcessingJobs: counts[catalog.JobProcessing],
		DoneJobs:       counts[catalog.JobDone],
		FailedJobs:     counts[catalog.JobFailed],
	}
	stats.TotalJobs = stats.PendingJobs + stats.ProcessingJobs + stats.DoneJobs + stats.FailedJobs
	return stats, nil
}
