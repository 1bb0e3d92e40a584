package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// Persister performs the idempotent product upsert.
type Persister struct {
	store  Store
	events EventFactory
	logger *slog.Logger
	now    func() time.Time
}

func NewPersister(store Store, events EventFactory, logger *slog.Logger) *Persister {
	return &Persister{
		store:  store,
		events: events,
		logger: logger.With("component", "persister"),
		now:    time.Now,
	}
}

// UpsertProduct creates or fully overwrites p. Existing rows are matched by
// retailer id, then source URL, then product code. Variants, images and sizes
// are replaced, never merged. categoryID may be 0 to skip the association.
func (ps *Persister) UpsertProduct(ctx context.Context, p *Product, categoryID int64) (bool, error) {
	if p.BrandID == 0 {
		return false, fmt.Errorf("product %q has no brand", p.Name)
	}
	if err := p.Validate(); err != nil {
		return false, err
	}
	if dropped := p.DropIncompleteColors(); len(dropped) > 0 {
		ps.logger.Debug("dropped incomplete colors", "product", p.Name, "colors", dropped)
	}

	var created bool
	origID, origSlug := p.ID, p.Slug
	err := ps.store.WithTx(ctx, lockKey(p), func(tx Tx) error {
		existing, err := findExisting(ctx, tx, p)
		if err != nil {
			return err
		}

		now := ps.now()
		p.ScrapedAt = now
		p.UpdatedAt = now
		p.PrimaryImage = primaryImage(p)

		if existing == nil {
			created = true
			p.CreatedAt = now
			if p.Slug, err = ps.uniqueSlug(ctx, tx, p, 0); err != nil {
				return err
			}
			if err := tx.InsertProduct(ctx, p); err != nil {
				return fmt.Errorf("failed to insert product: %w", err)
			}
		} else {
			p.ID = existing.ID
			p.CreatedAt = existing.CreatedAt
			p.Slug = existing.Slug
			keepIdentifiers(p, existing)
			if p.Slug == "" {
				if p.Slug, err = ps.uniqueSlug(ctx, tx, p, p.ID); err != nil {
					return err
				}
			}
			if err := tx.UpdateProduct(ctx, p); err != nil {
				return fmt.Errorf("failed to update product: %w", err)
			}
		}

		if err := tx.ReplaceVariants(ctx, p.ID, p.Colors); err != nil {
			return fmt.Errorf("failed to replace variants: %w", err)
		}

		if categoryID != 0 {
			if _, err := tx.LinkCategory(ctx, p.ID, categoryID); err != nil {
				return fmt.Errorf("failed to link category: %w", err)
			}
		}

		if ps.events != nil {
			ev, err := ps.events.ProductUpserted(p, created)
			if err != nil {
				return fmt.Errorf("failed to build event: %w", err)
			}
			if err := tx.AppendEvent(ctx, ev); err != nil {
				return fmt.Errorf("failed to append event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		p.ID, p.Slug = origID, origSlug
		return false, err
	}

	ps.logger.Debug("product upserted",
		"product_id", p.ID,
		"retailer_id", p.RetailerID,
		"created", created,
		"colors", len(p.Colors),
	)
	return created, nil
}

func findExisting(ctx context.Context, tx Tx, p *Product) (*Product, error) {
	lookups := []struct {
		key  string
		find func(context.Context, int64, string) (*Product, error)
	}{
		{p.RetailerID, tx.FindProductByRetailerID},
		{p.SourceURL, tx.FindProductByURL},
		{p.Code, tx.FindProductByCode},
	}
	for _, l := range lookups {
		if l.key == "" {
			continue
		}
		existing, err := l.find(ctx, p.BrandID, l.key)
		if err != nil {
			return nil, fmt.Errorf("failed to look up product: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}
	return nil, nil
}

func (ps *Persister) uniqueSlug(ctx context.Context, tx Tx, p *Product, excludeID int64) (string, error) {
	base := Slugify(p.Name)
	if base == "" {
		base = "product"
	}

	candidates := []string{base}
	if p.RetailerID != "" {
		candidates = append(candidates, base+"-"+Slugify(p.RetailerID))
	}
	if p.Code != "" {
		candidates = append(candidates, base+"-"+Slugify(p.Code))
	}

	for _, c := range candidates {
		taken, err := tx.SlugTaken(ctx, p.BrandID, c, excludeID)
		if err != nil {
			return "", fmt.Errorf("failed to check slug: %w", err)
		}
		if !taken {
			return c, nil
		}
	}

	for i := 2; ; i++ {
		c := base + "-" + strconv.Itoa(i)
		taken, err := tx.SlugTaken(ctx, p.BrandID, c, excludeID)
		if err != nil {
			return "", fmt.Errorf("failed to check slug: %w", err)
		}
		if !taken {
			return c, nil
		}
	}
}

// lockKey is per brand. findExisting matches on retailer id, source URL or
// code, and an API scrape and a browser scrape of one product may each know
// only some of those.
func lockKey(p *Product) string {
	return fmt.Sprintf("brand:%d", p.BrandID)
}

// keepIdentifiers stops a browser scrape, which only knows the URL, from
// erasing the retailer id or code an API scrape stored earlier.
func keepIdentifiers(p, existing *Product) {
	if p.RetailerID == "" {
		p.RetailerID = existing.RetailerID
	}
	if p.SourceURL == "" {
		p.SourceURL = existing.SourceURL
	}
	if p.Code == "" {
		p.Code = existing.Code
	}
}

func primaryImage(p *Product) string {
	for _, c := range p.Colors {
		if len(c.Images) > 0 {
			return c.Images[0].URL
		}
	}
	return ""
}
