package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/catalog-ingest/internal/catalog"
)

// JobRepository persists scrape jobs.
type JobRepository struct {
	db *DB
}

func NewJobRepository(db *DB) *JobRepository {
	return &JobRepository{db: db}
}

const jobColumns = `id, url, status, error, products_saved, created_at, updated_at`

func scanJob(row pgx.Row) (*catalog.ScrapeJob, error) {
	var (
		j      catalog.ScrapeJob
		status string
	)
	if err := row.Scan(&j.ID, &j.URL, &status, &j.Error, &j.ProductsSaved, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Status = catalog.JobStatus(status)
	return &j, nil
}

func (r *JobRepository) Create(ctx context.Context, url string) (*catalog.ScrapeJob, error) {
	now := time.Now()
	job, err := scanJob(r.db.QueryRow(ctx, `
		INSERT INTO scrape_job (id, url, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		RETURNING `+jobColumns,
		uuid.New(), url, string(catalog.JobPending), now))
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

func (r *JobRepository) Get(ctx context.Context, id uuid.UUID) (*catalog.ScrapeJob, error) {
	job, err := scanJob(r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM scrape_job WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, catalog.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// List returns the newest jobs first. A non-positive limit returns all jobs.
func (r *JobRepository) List(ctx context.Context, limit int) ([]*catalog.ScrapeJob, error) {
	query := `SELECT ` + jobColumns + ` FROM scrape_job ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*catalog.ScrapeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ClaimNext atomically moves the oldest PENDING job to PROCESSING. Concurrent
// claimers skip rows another transaction has locked, so a job is claimed once.
// It returns nil, nil when there is nothing to do.
func (r *JobRepository) ClaimNext(ctx context.Context) (*catalog.ScrapeJob, error) {
	job, err := scanJob(r.db.QueryRow(ctx, `
		UPDATE scrape_job
		SET status = $1, updated_at = NOW()
		WHERE id = (
			SELECT id FROM scrape_job
			WHERE status = $2
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		string(catalog.JobProcessing), string(catalog.JobPending)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

func (r *JobRepository) Complete(ctx context.Context, id uuid.UUID, productsSaved int) error {
	return r.transition(ctx, id, catalog.JobProcessing, catalog.JobDone,
		`products_saved = $4, error = ''`, productsSaved)
}

func (r *JobRepository) Fail(ctx context.Context, id uuid.UUID, msg string) error {
	return r.transition(ctx, id, catalog.JobProcessing, catalog.JobFailed, `error = $4`, msg)
}

// Retry is the operator action that puts a FAILED job back in the queue.
func (r *JobRepository) Retry(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id, catalog.JobFailed, catalog.JobPending, `error = '', products_saved = 0`)
}

func (r *JobRepository) Stats(ctx context.Context) (map[catalog.JobStatus]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM scrape_job GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	defer rows.Close()

	counts := make(map[catalog.JobStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job stats: %w", err)
		}
		counts[catalog.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// transition is a conditional update: it only applies while the job is still
// in the from state.
func (r *JobRepository) transition(ctx context.Context, id uuid.UUID, from, to catalog.JobStatus, set string, args ...any) error {
	if err := from.CheckTransition(to); err != nil {
		return err
	}

	query := `UPDATE scrape_job SET status = $2, updated_at = NOW()`
	if set != "" {
		query += `, ` + set
	}
	query += ` WHERE id = $1 AND status = $3`

	tag, err := r.db.Exec(ctx, query, append([]any{id, string(to), string(from)}, args...)...)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s, expected %s", catalog.ErrInvalidTransition, id, current.Status, from)
}
