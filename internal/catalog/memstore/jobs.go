package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/catalog-ingest/internal/catalog"
)

type jobTable struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*catalog.ScrapeJob
	now  func() time.Time
}

func newJobTable() *jobTable {
	return &jobTable{
		jobs: make(map[uuid.UUID]*catalog.ScrapeJob),
		now:  time.Now,
	}
}

// Jobs returns the scrape job repository backed by this store.
func (s *Store) Jobs() *JobRepository {
	return &JobRepository{t: s.jobs}
}

// JobRepository is an in-memory scrape job table.
type JobRepository struct {
	t *jobTable
}

func (r *JobRepository) Create(ctx context.Context, url string) (*catalog.ScrapeJob, error) {
	r.t.mu.Lock()
	defer r.t.mu.Unlock()

	now := r.t.now()
	job := &catalog.ScrapeJob{
		ID:        uuid.New(),
		URL:       url,
		Status:    catalog.JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.t.jobs[job.ID] = job
	cp := *job
	return &cp, nil
}

func (r *JobRepository) Get(ctx context.Context, id uuid.UUID) (*catalog.ScrapeJob, error) {
	r.t.mu.Lock()
	defer r.t.mu.Unlock()
	job, ok := r.t.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, catalog.ErrNotFound)
	}
	cp := *job
	return &cp, nil
}

func (r *JobRepository) List(ctx context.Context, limit int) ([]*catalog.ScrapeJob, error) {
	r.t.mu.Lock()
	defer r.t.mu.Unlock()
	out := make([]*catalog.ScrapeJob, 0, len(r.t.jobs))
	for _, j := range r.t.jobs {
		cp := *j
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ClaimNext moves the oldest PENDING job to PROCESSING. It returns nil, nil
// when there is nothing to do.
func (r *JobRepository) ClaimNext(ctx context.Context) (*catalog.ScrapeJob, error) {
	r.t.mu.Lock()
	defer r.t.mu.Unlock()

	var oldest *catalog.ScrapeJob
	for _, j := range r.t.jobs {
		if j.Status != catalog.JobPending {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, nil
	}
	oldest.Status = catalog.JobProcessing
	oldest.UpdatedAt = r.t.now()
	cp := *oldest
	return &cp, nil
}

func (r *JobRepository) Complete(ctx context.Context, id uuid.UUID, productsSaved int) error {
	return r.transition(id, catalog.JobProcessing, catalog.JobDone, func(j *catalog.ScrapeJob) {
		j.ProductsSaved = productsSaved
		j.Error = ""
	})
}

func (r *JobRepository) Fail(ctx context.Context, id uuid.UUID, msg string) error {
	return r.transition(id, catalog.JobProcessing, catalog.JobFailed, func(j *catalog.ScrapeJob) {
		j.Error = msg
	})
}

func (r *JobRepository) Retry(ctx context.Context, id uuid.UUID) error {
	return r.transition(id, catalog.JobFailed, catalog.JobPending, func(j *catalog.ScrapeJob) {
		j.Error = ""
		j.ProductsSaved = 0
	})
}

func (r *JobRepository) Stats(ctx context.Context) (map[catalog.JobStatus]int, error) {
	r.t.mu.Lock()
	defer r.t.mu.Unlock()
	counts := make(map[catalog.JobStatus]int)
	for _, j := range r.t.jobs {
		counts[j.Status]++
	}
	return counts, nil
}

func (r *JobRepository) transition(id uuid.UUID, from, to catalog.JobStatus, apply func(*catalog.ScrapeJob)) error {
	r.t.mu.Lock()
	defer r.t.mu.Unlock()

	job, ok := r.t.jobs[id]
	if !ok {
		return fmt.Errorf("job %s: %w", id, catalog.ErrNotFound)
	}
	if job.Status != from {
		return fmt.Errorf("%w: job %s is %s, expected %s", catalog.ErrInvalidTransition, id, job.Status, from)
	}
	if err := from.CheckTransition(to); err != nil {
		return err
	}
	job.Status = to
	job.UpdatedAt = r.t.now()
	apply(job)
	return nil
}
