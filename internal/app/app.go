// Package app wires the ingestion components from a Config. It is shared by
// the service binary and the operator CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/catalog-ingest/internal/api"
	"github.com/maltedev/catalog-ingest/internal/brandcfg"
	"github.com/maltedev/catalog-ingest/internal/browser"
	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/catalog/memstore"
	"github.com/maltedev/catalog-ingest/internal/config"
	"github.com/maltedev/catalog-ingest/internal/database"
	"github.com/maltedev/catalog-ingest/internal/events"
	"github.com/maltedev/catalog-ingest/internal/fetcher"
	"github.com/maltedev/catalog-ingest/internal/ingest"
	"github.com/maltedev/catalog-ingest/internal/jobs"
	"github.com/maltedev/catalog-ingest/internal/linker"
	"github.com/maltedev/catalog-ingest/internal/pagescrape"
	"github.com/maltedev/catalog-ingest/internal/ratelimit"
	"github.com/maltedev/catalog-ingest/internal/schedule"

	// Retailer clients register themselves.
	_ "github.com/maltedev/catalog-ingest/internal/retailer/pullbear"
	_ "github.com/maltedev/catalog-ingest/internal/retailer/zara"
)

// Options selects optional parts. The CLI skips the relay; commands that
// never touch a browser skip launching one.
type Options struct {
	Browser bool
	Relay   bool
}

type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     catalog.Store
	Persister *catalog.Persister
	Ingest    *ingest.Service
	Linker    *linker.Linker
	Jobs      *jobs.Manager
	Worker    *jobs.Worker
	Refresher *schedule.Refresher
	// Relay is nil unless Postgres and Redis are both in use.
	Relay *database.Relay

	db      *database.DB
	redis   *redis.Client
	browser *browser.Browser
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	var repo jobs.Repository
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		mem := memstore.New()
		a.Store = mem
		repo = mem.Jobs()
		logger.Warn("using in-memory store, nothing will be persisted")
	default:
		db, err := database.New(ctx, database.Config{
			URL:      cfg.Database.URL,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.db = db
		if cfg.Store.AutoMigrate {
			if err := db.Migrate(ctx); err != nil {
				a.Close()
				return nil, fmt.Errorf("failed to migrate database: %w", err)
			}
		}
		a.Store = database.NewCatalogStore(db, cfg.Outbox.Stream)
		repo = database.NewJobRepository(db)
	}

	factory := events.NewFactory()
	a.Persister = catalog.NewPersister(a.Store, factory, logger)

	f := fetcher.New(&http.Client{})
	f.UserAgent = cfg.Fetcher.UserAgent
	f.BaseDelay = cfg.Fetcher.BaseDelay
	f.MaxDelay = cfg.Fetcher.MaxDelay
	clients := ingest.APIClients(f, ratelimit.NewRegistry())

	var pages ingest.PageScraper
	if opts.Browser && cfg.Browser.Enabled {
		b, err := browser.New(&browser.Options{
			Headless:          cfg.Browser.Headless,
			Timeout:           cfg.Browser.Timeout,
			UserAgent:         cfg.Fetcher.UserAgent,
			ViewportWidth:     cfg.Browser.ViewportWidth,
			ViewportHeight:    cfg.Browser.ViewportHeight,
			TimezoneID:        cfg.Browser.TimezoneID,
			Locale:            cfg.Browser.Locale,
			ProxyServer:       cfg.Browser.Proxy,
			NavigationRetries: cfg.Browser.NavigationRetries,
			ScrollPause:       browser.DefaultOptions().ScrollPause,
			ConsentSelectors:  browser.DefaultOptions().ConsentSelectors,
			ExtraHeaders:      browser.DefaultOptions().ExtraHeaders,
		}, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize browser: %w", err)
		}
		a.browser = b
		pages = pagescrape.New(b, pagescrape.Options{
			MaxColors:   cfg.Browser.MaxColors,
			SettleDelay: cfg.Browser.SettleDelay,
			ScrollSteps: pagescrape.DefaultOptions().ScrollSteps,
		}, logger)
	}

	a.Ingest = ingest.NewService(a.Store, a.Persister, clients, pages, logger)
	a.Linker = linker.New(a.Store, a.Ingest, factory, logger)
	a.Jobs = jobs.NewManager(repo, logger)
	a.Worker = jobs.NewWorker(repo, a.Store, pages, a.Persister, logger, jobs.WorkerConfig{
		PollInterval: cfg.Jobs.PollInterval,
		MaxProducts:  cfg.Jobs.MaxProducts,
	})
	a.Refresher = schedule.NewRefresher(a.Store, a.Ingest, a.Jobs, a.Linker, logger)

	if opts.Relay && a.db != nil && cfg.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.Relay = database.NewRelay(database.NewOutboxRepository(a.db), a.redis, logger, database.RelayConfig{
			PollInterval: cfg.Outbox.PollInterval,
			BatchSize:    cfg.Outbox.BatchSize,
		})
	}

	return a, nil
}

// Seed loads the brand file (or the built-in brands) into the store.
func (a *App) Seed(ctx context.Context, path string) (*brandcfg.SeedResult, error) {
	var (
		f   *brandcfg.File
		err error
	)
	if path == "" {
		f, err = brandcfg.Default()
	} else {
		f, err = brandcfg.Load(path)
	}
	if err != nil {
		return nil, err
	}
	return brandcfg.Seed(ctx, a.Store, f, a.Logger)
}

// OutboxStats returns the relay for the health endpoint, or nil.
func (a *App) OutboxStats() api.OutboxStats {
	if a.Relay == nil {
		return nil
	}
	return a.Relay
}

func (a *App) Close() error {
	var errs []error
	if a.browser != nil {
		errs = append(errs, a.browser.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		a.db.Close()
	}
	return errors.Join(errs...)
}
