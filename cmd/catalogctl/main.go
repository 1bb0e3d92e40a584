package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/maltedev/catalog-ingest/internal/app"
	"github.com/maltedev/catalog-ingest/internal/config"
	"github.com/maltedev/catalog-ingest/internal/logger"
)

const usage = `usage: catalogctl <command> [flags]

commands:
  seed      load brands and categories from -file (default: built-in brands)
  scrape    scrape one category through its brand API
  link      link sibling products into an aggregator category
  enqueue   queue a product or category URL for the browser scraper
  work      process queued jobs until the queue is empty
  jobs      list recent jobs
  refresh   run one full catalog refresh
  outbox    publish one batch of pending outbox events to Redis
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := logger.New(cfg.Logging.Level, "text")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received")
		cancel()
	}()

	cmd, args := os.Args[1], os.Args[2:]
	needsBrowser := cmd == "work" || cmd == "refresh"

	a, err := app.New(ctx, cfg, logger, app.Options{Browser: needsBrowser, Relay: cmd == "outbox"})
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	if cfg.Store.Driver == config.StoreDriverMemory && cmd != "seed" {
		if _, err := a.Seed(ctx, cfg.Store.SeedFile); err != nil {
			log.Fatalf("Failed to seed brands: %v", err)
		}
	}

	var out any
	switch cmd {
	case "seed":
		fs := flag.NewFlagSet("seed", flag.ExitOnError)
		file := fs.String("file", cfg.Store.SeedFile, "brand YAML file")
		fs.Parse(args)
		out, err = a.Seed(ctx, *file)

	case "scrape":
		fs := flag.NewFlagSet("scrape", flag.ExitOnError)
		brand := fs.String("brand", "", "brand slug")
		category := fs.String("category", "", "category API id")
		limit := fs.Int("limit", 0, "scrape at most this many products (0 = all)")
		fs.Parse(args)
		if *brand == "" || *category == "" {
			fs.Usage()
			os.Exit(2)
		}
		out, err = a.Ingest.ScrapeCategory(ctx, *brand, *category, *limit)

	case "link":
		fs := flag.NewFlagSet("link", flag.ExitOnError)
		id := fs.Int64("category", 0, "aggregator category id")
		fs.Parse(args)
		if *id <= 0 {
			fs.Usage()
			os.Exit(2)
		}
		out, err = a.Linker.LinkSiblingProducts(ctx, *id)

	case "enqueue":
		fs := flag.NewFlagSet("enqueue", flag.ExitOnError)
		url := fs.String("url", "", "product or category page URL")
		fs.Parse(args)
		out, err = a.Jobs.Enqueue(ctx, *url)

	case "work":
		n := 0
		for {
			var processed bool
			processed, err = a.Worker.ProcessNext(ctx)
			if err != nil || !processed {
				break
			}
			n++
		}
		out = map[string]int{"processed": n}

	case "jobs":
		fs := flag.NewFlagSet("jobs", flag.ExitOnError)
		limit := fs.Int("limit", 20, "number of jobs")
		fs.Parse(args)
		out, err = a.Jobs.List(ctx, *limit)

	case "refresh":
		out, err = a.Refresher.Refresh(ctx)

	case "outbox":
		if a.Relay == nil {
			log.Fatal("outbox needs STORE_DRIVER=postgres and REDIS_ENABLED=true")
		}
		out, err = a.Relay.Flush(ctx)

	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err == nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	}
	if err != nil {
		logger.Error("command failed", "command", cmd, "error", err)
		a.Close()
		os.Exit(1)
	}
}
