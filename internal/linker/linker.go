// Package linker fills "see all" aggregator categories with the products of
// their sibling leaf categories. It only ever adds association rows.
package linker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maltedev/catalog-ingest/internal/catalog"
	"github.com/maltedev/catalog-ingest/internal/ingest"
)

var ErrNotAggregator = errors.New("category is not an aggregator")

// CategoryScraper scrapes a sibling that has no products yet.
type CategoryScraper interface {
	Scrape(ctx context.Context, brand *catalog.Brand, cat *catalog.Category, testLimit int) (*ingest.Result, error)
}

// EventFactory builds the outbox event for a batch of new links.
type EventFactory interface {
	CategoryLinked(aggregatorID, siblingID int64, productIDs []int64) (catalog.Event, error)
}

type LinkResult struct {
	Success                    bool     `json:"success"`
	ProductsLinked             int      `json:"products_linked"`
	SiblingCategoriesProcessed int      `json:"sibling_categories_processed"`
	SiblingsSkipped            int      `json:"siblings_skipped"`
	Skipped                    []string `json:"skipped"`
	Errors                     []string `json:"errors"`
}

type Linker struct {
	store   catalog.Store
	scraper CategoryScraper
	events  EventFactory
	logger  *slog.Logger
}

// New builds a linker. scraper and events may be nil.
func New(store catalog.Store, scraper CategoryScraper, events EventFactory, logger *slog.Logger) *Linker {
	return &Linker{
		store:   store,
		scraper: scraper,
		events:  events,
		logger:  logger.With("component", "linker"),
	}
}

// LinkSiblingProducts associates every product of the aggregator's active
// sibling categories with the aggregator. Siblings without products are
// scraped first when the brand has an API. Running it twice adds nothing the
// second time.
func (l *Linker) LinkSiblingProducts(ctx context.Context, aggregatorID int64) (*LinkResult, error) {
	agg, err := l.store.GetCategory(ctx, aggregatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to load aggregator %d: %w", aggregatorID, err)
	}
	if !agg.Aggregator {
		return nil, fmt.Errorf("%w: category %d (%s)", ErrNotAggregator, agg.ID, agg.Name)
	}
	if agg.ParentID == nil {
		return nil, fmt.Errorf("%w: category %d has no parent", ErrNotAggregator, agg.ID)
	}
	if _, err := l.store.GetCategory(ctx, *agg.ParentID); err != nil {
		return nil, fmt.Errorf("failed to load parent of %d: %w", agg.ID, err)
	}
	brand, err := l.store.GetBrand(ctx, agg.BrandID)
	if err != nil {
		return nil, fmt.Errorf("failed to load brand %d: %w", agg.BrandID, err)
	}

	siblings, err := l.store.ListSiblingCategories(ctx, agg)
	if err != nil {
		return nil, fmt.Errorf("failed to list siblings of %d: %w", agg.ID, err)
	}

	log := l.logger.With("aggregator_id", agg.ID, "brand", brand.Slug)
	result := &LinkResult{Success: true, Skipped: []string{}, Errors: []string{}}

	for _, sib := range siblings {
		if !sib.Active || sib.Aggregator || sib.APIID == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		productIDs, skipped, err := l.siblingProducts(ctx, brand, sib, result, log)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("category %d: %v", sib.ID, err))
			log.Warn("sibling failed", "sibling_id", sib.ID, "error", err)
			continue
		}
		if skipped {
			continue
		}

		linked, err := l.link(ctx, agg.ID, sib.ID, productIDs)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("category %d: %v", sib.ID, err))
			log.Warn("failed to link sibling products", "sibling_id", sib.ID, "error", err)
			continue
		}
		result.ProductsLinked += linked
		result.SiblingCategoriesProcessed++
	}

	log.Info("sibling linking finished",
		"linked", result.ProductsLinked,
		"processed", result.SiblingCategoriesProcessed,
		"skipped", result.SiblingsSkipped,
		"errors", len(result.Errors),
	)
	return result, nil
}

// siblingProducts returns the sibling's product ids, scraping it first when
// it has none and the brand allows it.
func (l *Linker) siblingProducts(ctx context.Context, brand *catalog.Brand, sib *catalog.Category, result *LinkResult, log *slog.Logger) ([]int64, bool, error) {
	ids, err := l.store.ListCategoryProductIDs(ctx, sib.ID)
	if err != nil {
		return nil, false, err
	}
	if len(ids) > 0 {
		return ids, false, nil
	}

	if reason := l.cannotScrape(brand); reason != "" {
		result.SiblingsSkipped++
		result.Skipped = append(result.Skipped, fmt.Sprintf("category %d (%s): %s", sib.ID, sib.Name, reason))
		log.Info("skipping sibling", "sibling_id", sib.ID, "reason", reason)
		return nil, true, nil
	}

	log.Info("sibling has no products, scraping", "sibling_id", sib.ID)
	if _, err := l.scraper.Scrape(ctx, brand, sib, 0); err != nil {
		return nil, false, fmt.Errorf("failed to scrape: %w", err)
	}
	ids, err = l.store.ListCategoryProductIDs(ctx, sib.ID)
	return ids, false, err
}

func (l *Linker) cannotScrape(brand *catalog.Brand) string {
	switch {
	case brand.API == nil:
		return "brand has no api config"
	case brand.API.Strategy != catalog.StrategyAPI:
		return fmt.Sprintf("brand uses the %s strategy", brand.API.Strategy)
	case l.scraper == nil:
		return "no scraper available"
	}
	return ""
}

// link adds the missing associations for one sibling in a single
// transaction and records them in the outbox.
func (l *Linker) link(ctx context.Context, aggregatorID, siblingID int64, productIDs []int64) (int, error) {
	var added []int64
	err := l.store.WithTx(ctx, fmt.Sprintf("category:%d", aggregatorID), func(tx catalog.Tx) error {
		added = added[:0]
		for _, pid := range productIDs {
			ok, err := tx.LinkCategory(ctx, pid, aggregatorID)
			if err != nil {
				return fmt.Errorf("failed to link product %d: %w", pid, err)
			}
			if ok {
				added = append(added, pid)
			}
		}
		if len(added) == 0 || l.events == nil {
			return nil
		}
		ev, err := l.events.CategoryLinked(aggregatorID, siblingID, added)
		if err != nil {
			return fmt.Errorf("failed to build event: %w", err)
		}
		return tx.AppendEvent(ctx, ev)
	})
	if err != nil {
		return 0, err
	}
	return len(added), nil
}
