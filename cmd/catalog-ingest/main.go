package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/maltedev/catalog-ingest/internal/api"
	"github.com/maltedev/catalog-ingest/internal/app"
	"github.com/maltedev/catalog-ingest/internal/config"
	"github.com/maltedev/catalog-ingest/internal/logger"
	"github.com/maltedev/catalog-ingest/internal/schedule"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New("info", "json").Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log, app.Options{Browser: true, Relay: true})
	if err != nil {
		log.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if cfg.Store.Driver == config.StoreDriverMemory || cfg.Store.SeedFile != "" {
		res, err := a.Seed(ctx, cfg.Store.SeedFile)
		if err != nil {
			log.Error("failed to seed brands", "error", err)
			os.Exit(1)
		}
		log.Info("brands seeded", "brands", res.Brands, "categories", res.Categories)
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.Relay != nil {
		g.Go(func() error {
			if err := a.Relay.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("relay stopped with error", "error", err)
			}
			return nil
		})
	} else {
		log.Warn("outbox relay disabled, events stay in the outbox table")
	}

	if cfg.Jobs.WorkerEnabled {
		g.Go(func() error {
			if err := a.Worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("job worker stopped with error", "error", err)
			}
			return nil
		})
	}

	if cfg.Schedule.Refresh != "" {
		sched := schedule.NewScheduler(a.Refresher, log)
		if err := sched.Add(cfg.Schedule.Refresh); err != nil {
			log.Error("invalid refresh schedule", "error", err)
			os.Exit(1)
		}
		g.Go(func() error {
			sched.Start(gctx)
			return nil
		})
	}

	handlers := api.NewHandlers(a.Ingest, a.Linker, a.Jobs, a.Refresher, a.OutboxStats(), log)
	handlers.SetBaseContext(ctx)
	router := api.NewRouter(handlers, api.RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.ReadTimeout * 4,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
	}()

	log.Info("server starting", "addr", cfg.Addr(), "store", cfg.Store.Driver)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server failed", "error", err)
		cancel()
		_ = g.Wait()
		a.Refresher.Wait()
		os.Exit(1)
	}

	_ = g.Wait()
	a.Refresher.Wait()
	log.Info("server stopped")
}
