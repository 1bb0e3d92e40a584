package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/ingest"
	"github.com/maltedev/catalog-ingest/internal/pagescrape"
	"github.com/maltedev/catalog-ingest/internal/retailer"
)

var ErrUnknownBrand = errors.New("no brand for job url")

type WorkerConfig struct {
	PollInterval time.Duration
	// MaxProducts caps how many products a category job scrapes.
	MaxProducts int
}

// Worker claims and runs one job per poll cycle.
type Worker struct {
	repo      Repository
	store     catalog.Store
	pages     ingest.PageScraper
	persister *catalog.Persister
	logger    *slog.Logger
	interval  time.Duration
	max       int
}

func NewWorker(repo Repository, store catalog.Store, pages ingest.PageScraper, persister *catalog.Persister, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxProducts <= 0 {
		cfg.MaxProducts = 20
	}
	return &Worker{
		repo:      repo,
		store:     store,
		pages:     pages,
		persister: persister,
		logger:    logger.With("component", "job_worker"),
		interval:  cfg.PollInterval,
		max:       cfg.MaxProducts,
	}
}

// Run polls until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("job worker started", "interval", w.interval, "max_products", w.max)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessNext(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("job cycle failed", "error", err)
		}

		select {
		case <-ctx.Done():
			w.logger.Info("job worker stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessNext claims the oldest PENDING job and runs it to DONE or FAILED.
// It reports false when the queue was empty.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.repo.ClaimNext(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	logger := w.logger.With("job_id", job.ID, "url", job.URL)
	logger.Info("processing job")
	start := time.Now()

	saved, runErr := w.run(ctx, job)

	// The outcome is recorded even when ctx was cancelled mid-job.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if runErr != nil {
		logger.Error("job failed", "error", runErr, "products_saved", saved)
		if err := w.repo.Fail(finishCtx, job.ID, runErr.Error()); err != nil {
			return true, fmt.Errorf("failed to mark job %s failed: %w", job.ID, err)
		}
		return true, nil
	}

	if err := w.repo.Complete(finishCtx, job.ID, saved); err != nil {
		return true, fmt.Errorf("failed to mark job %s done: %w", job.ID, err)
	}
	logger.Info("job completed", "products_saved", saved, "duration", time.Since(start))
	return true, nil
}

func (w *Worker) run(ctx context.Context, job *catalog.ScrapeJob) (int, error) {
	if w.pages == nil {
		return 0, fmt.Errorf("%w: no browser for scrape jobs", retailer.ErrNotConfigured)
	}

	brand, err := w.brandFor(ctx, job.URL)
	if err != nil {
		return 0, err
	}

	if pagescrape.IsProductURL(job.URL, pagescrape.SelectorsFor(brand).ProductURLPatterns) {
		return w.runProduct(ctx, brand, job.URL)
	}
	return w.runCategory(ctx, brand, job.URL)
}

func (w *Worker) runProduct(ctx context.Context, brand *catalog.Brand, productURL string) (int, error) {
	if err := w.scrapeAndSave(ctx, brand, productURL, 0); err != nil {
		return 0, err
	}
	return 1, nil
}

// runCategory scrapes up to MaxProducts discovered products. Single product
// failures are logged and skipped; the job fails only when nothing could be
// saved and at least one product failed outright.
func (w *Worker) runCategory(ctx context.Context, brand *catalog.Brand, categoryURL string) (int, error) {
	var categoryID int64
	if cat, err := w.store.GetCategoryByURL(ctx, categoryURL); err == nil {
		categoryID = cat.ID
	} else if !errors.Is(err, catalog.ErrNotFound) {
		return 0, fmt.Errorf("failed to look up category: %w", err)
	}

	urls, err := w.pages.DiscoverProductURLs(ctx, brand, categoryURL, w.max)
	if err != nil {
		return 0, fmt.Errorf("failed to discover products: %w", err)
	}

	var (
		saved, rejected int
		failures        []string
	)
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return saved, err
		}
		err := w.scrapeAndSave(ctx, brand, u, categoryID)
		switch {
		case err == nil:
			saved++
		case errors.Is(err, catalog.ErrIncompleteProduct):
			rejected++
			w.logger.Info("product rejected", "url", u, "reason", err)
		default:
			failures = append(failures, fmt.Sprintf("%s: %v", u, err))
			w.logger.Warn("product failed", "url", u, "error", err)
		}
	}

	if saved == 0 && len(failures) > 0 {
		return 0, fmt.Errorf("all %d products failed: %s", len(failures), strings.Join(failures, "; "))
	}
	w.logger.Info("category job finished",
		"url", categoryURL,
		"found", len(urls),
		"saved", saved,
		"rejected", rejected,
		"failed", len(failures))
	return saved, nil
}

func (w *Worker) scrapeAndSave(ctx context.Context, brand *catalog.Brand, productURL string, categoryID int64) error {
	p, err := w.pages.ScrapeProduct(ctx, brand, productURL)
	if err != nil {
		return err
	}
	p.BrandID = brand.ID
	if p.SourceURL == "" {
		p.SourceURL = productURL
	}
	_, err = w.persister.UpsertProduct(ctx, p, categoryID)
	return err
}

// brandFor matches the job URL's host against each brand's website.
func (w *Worker) brandFor(ctx context.Context, rawURL string) (*catalog.Brand, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	host := bareHost(u.Hostname())

	brands, err := w.store.ListBrands(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list brands: %w", err)
	}
	for _, b := range brands {
		site, err := url.Parse(b.WebsiteURL)
		if err != nil || site.Hostname() == "" {
			continue
		}
		if bareHost(site.Hostname()) == host {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownBrand, u.Host)
}

func bareHost(h string) string {
	return strings.TrimPrefix(strings.ToLower(h), "www.")
}
