// Package schedule runs periodic full catalog refreshes.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron"

	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/ingest"
	"github.com/maltedev/catalog-ingest/internal/linker"
)

var ErrAlreadyRunning = errors.New("refresh already running")

type CategoryScraper interface {
	Scrape(ctx context.Context, brand *catalog.Brand, cat *catalog.Category, testLimit int) (*ingest.Result, error)
}

type JobEnqueuer interface {
	Enqueue(ctx context.Context, url string) (*catalog.ScrapeJob, error)
}

type SiblingLinker interface {
	LinkSiblingProducts(ctx context.Context, aggregatorID int64) (*linker.LinkResult, error)
}

// Summary is the outcome of one refresh.
type Summary struct {
	Brands            int           `json:"brands"`
	CategoriesScraped int           `json:"categories_scraped"`
	CategoriesFailed  int           `json:"categories_failed"`
	JobsEnqueued      int           `json:"jobs_enqueued"`
	AggregatorsLinked int           `json:"aggregators_linked"`
	ProductsCreated   int           `json:"products_created"`
	ProductsUpdated   int           `json:"products_updated"`
	ProductsRejected  int           `json:"products_rejected"`
	Errors            []string      `json:"errors"`
	Duration          time.Duration `json:"duration"`
}

// Refresher walks every active brand: API brands have their scrapable leaf
// categories scraped inline, browser brands get one scrape job per category
// URL, and aggregator categories are re-linked afterwards.
type Refresher struct {
	store   catalog.Store
	scraper CategoryScraper
	jobs    JobEnqueuer
	linker  SiblingLinker
	logger  *slog.Logger
	running atomic.Bool
	wg      sync.WaitGroup
}

func NewRefresher(store catalog.Store, scraper CategoryScraper, jobs JobEnqueuer, l SiblingLinker, logger *slog.Logger) *Refresher {
	return &Refresher{
		store:   store,
		scraper: scraper,
		jobs:    jobs,
		linker:  l,
		logger:  logger.With("component", "refresher"),
	}
}

// Refresh runs one full pass. Overlapping calls return ErrAlreadyRunning.
func (r *Refresher) Refresh(ctx context.Context) (*Summary, error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer r.running.Store(false)
	return r.refresh(ctx)
}

// Start runs a refresh in the background. It fails fast with
// ErrAlreadyRunning instead of waiting.
func (r *Refresher) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.running.Store(false)
		if _, err := r.refresh(ctx); err != nil {
			r.logger.Error("catalog refresh failed", "error", err)
		}
	}()
	return nil
}

// Wait blocks until a refresh started with Start has returned.
func (r *Refresher) Wait() {
	r.wg.Wait()
}

func (r *Refresher) refresh(ctx context.Context) (*Summary, error) {
	start := time.Now()
	sum := &Summary{Errors: []string{}}

	brands, err := r.store.ListBrands(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list brands: %w", err)
	}

	for _, brand := range brands {
		if !brand.Active || brand.API == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Brands++
		if err := r.refreshBrand(ctx, brand, sum); err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", brand.Slug, err))
		}
	}

	sum.Duration = time.Since(start)
	r.logger.Info("catalog refresh finished",
		"brands", sum.Brands,
		"scraped", sum.CategoriesScraped,
		"failed", sum.CategoriesFailed,
		"jobs", sum.JobsEnqueued,
		"linked", sum.AggregatorsLinked,
		"duration", sum.Duration)
	return sum, nil
}

func (r *Refresher) refreshBrand(ctx context.Context, brand *catalog.Brand, sum *Summary) error {
	cats, err := r.store.ListCategories(ctx, brand.ID)
	if err != nil {
		return fmt.Errorf("failed to list categories: %w", err)
	}
	log := r.logger.With("brand", brand.Slug)

	var aggregators []*catalog.Category
	for _, cat := range cats {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !cat.Active {
			continue
		}
		if cat.Aggregator {
			aggregators = append(aggregators, cat)
			continue
		}
		if !cat.Leaf {
			continue
		}

		if brand.API.Strategy == catalog.StrategyBrowser {
			if cat.URL == "" || r.jobs == nil {
				continue
			}
			if _, err := r.jobs.Enqueue(ctx, cat.URL); err != nil {
				sum.Errors = append(sum.Errors, fmt.Sprintf("category %d: %v", cat.ID, err))
				continue
			}
			sum.JobsEnqueued++
			continue
		}

		if !cat.Scrapable() {
			continue
		}
		res, err := r.scraper.Scrape(ctx, brand, cat, 0)
		if err != nil {
			log.Warn("category scrape failed", "category_id", cat.ID, "error", err)
			sum.CategoriesFailed++
			sum.Errors = append(sum.Errors, fmt.Sprintf("category %d: %v", cat.ID, err))
			continue
		}
		sum.CategoriesScraped++
		sum.ProductsCreated += res.ProductsCreated
		sum.ProductsUpdated += res.ProductsUpdated
		sum.ProductsRejected += res.ProductsRejected
	}

	if r.linker == nil {
		return nil
	}
	for _, agg := range aggregators {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.linker.LinkSiblingProducts(ctx, agg.ID); err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("aggregator %d: %v", agg.ID, err))
			continue
		}
		sum.AggregatorsLinked++
	}
	return nil
}

// Scheduler triggers Refresh on a cron spec. Specs take a leading seconds
// field ("0 0 3 * * *") or a descriptor ("@every 6h").
type Scheduler struct {
	cron      *cron.Cron
	refresher *Refresher
	logger    *slog.Logger
	ctx       context.Context
}

func NewScheduler(refresher *Refresher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		refresher: refresher,
		logger:    logger.With("component", "scheduler"),
		ctx:       context.Background(),
	}
}

// Add registers a refresh at spec.
func (s *Scheduler) Add(spec string) error {
	if _, err := cron.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return s.cron.AddFunc(spec, s.run)
}

func (s *Scheduler) run() {
	s.logger.Info("scheduled refresh starting")
	if _, err := s.refresher.Refresh(s.ctx); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			s.logger.Warn("skipping scheduled refresh, previous run still active")
			return
		}
		s.logger.Error("scheduled refresh failed", "error", err)
	}
}

// Start runs the cron loop until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	s.logger.Info("scheduler started", "entries", len(s.cron.Entries()))

	<-ctx.Done()
	s.cron.Stop()
	s.logger.Info("scheduler stopped")
}
