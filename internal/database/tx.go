package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/catalog-ingest/internal/catalog"
)

// pgTx implements catalog.Tx.
type pgTx struct {
	tx     pgx.Tx
	stream string
}

func (t *pgTx) findProduct(ctx context.Context, column string, brandID int64, value string) (*catalog.Product, error) {
	query := `SELECT ` + productColumns + ` FROM product WHERE brand_id = $1 AND ` + column + ` = $2 ORDER BY id LIMIT 1`
	p, err := scanProduct(t.tx.QueryRow(ctx, query, brandID, value))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find product by %s: %w", column, err)
	}
	return p, nil
}

func (t *pgTx) FindProductByRetailerID(ctx context.Context, brandID int64, retailerID string) (*catalog.Product, error) {
	return t.findProduct(ctx, "retailer_id", brandID, retailerID)
}

func (t *pgTx) FindProductByURL(ctx context.Context, brandID int64, url string) (*catalog.Product, error) {
	return t.findProduct(ctx, "source_url", brandID, url)
}

func (t *pgTx) FindProductByCode(ctx context.Context, brandID int64, code string) (*catalog.Product, error) {
	return t.findProduct(ctx, "code", brandID, code)
}

func (t *pgTx) SlugTaken(ctx context.Context, brandID int64, slug string, excludeID int64) (bool, error) {
	var taken bool
	err := t.tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM product WHERE brand_id = $1 AND slug = $2 AND id <> $3)`,
		brandID, slug, excludeID).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return taken, nil
}

func (t *pgTx) InsertProduct(ctx context.Context, p *catalog.Product) error {
	query := `
		INSERT INTO product (
			brand_id, name, slug, retailer_id, code, source_url, description,
			composition, care, price_text, price, currency, primary_image,
			created_at, updated_at, scraped_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::numeric, $12, $13, $14, $15, $16
		)
		RETURNING id`

	err := t.tx.QueryRow(ctx, query,
		p.BrandID, p.Name, p.Slug, p.RetailerID, p.Code, p.SourceURL, p.Description,
		p.Composition, p.Care, p.PriceText, p.Price.String(), p.Currency, p.PrimaryImage,
		p.CreatedAt, p.UpdatedAt, p.ScrapedAt,
	).Scan(&p.ID)
	if err != nil {
		return fmt.Errorf("failed to insert product: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateProduct(ctx context.Context, p *catalog.Product) error {
	query := `
		UPDATE product SET
			name = $2, slug = $3, retailer_id = $4, code = $5, source_url = $6,
			description = $7, composition = $8, care = $9, price_text = $10,
			price = $11::numeric, currency = $12, primary_image = $13,
			updated_at = $14, scraped_at = $15
		WHERE id = $1`

	tag, err := t.tx.Exec(ctx, query,
		p.ID, p.Name, p.Slug, p.RetailerID, p.Code, p.SourceURL,
		p.Description, p.Composition, p.Care, p.PriceText,
		p.Price.String(), p.Currency, p.PrimaryImage,
		p.UpdatedAt, p.ScrapedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("product %d: %w", p.ID, catalog.ErrNotFound)
	}
	return nil
}

// ReplaceVariants relies on ON DELETE CASCADE to drop the old images and sizes.
func (t *pgTx) ReplaceVariants(ctx context.Context, productID int64, variants []catalog.ColorVariant) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM color_variant WHERE product_id = $1`, productID); err != nil {
		return fmt.Errorf("failed to delete variants: %w", err)
	}

	var images, sizes [][]any
	for i := range variants {
		v := &variants[i]
		var discount *string
		if v.DiscountPrice != nil {
			d := v.DiscountPrice.String()
			discount = &d
		}

		err := t.tx.QueryRow(ctx, `
			INSERT INTO color_variant (product_id, name, code, background, price,
				discount_price, availability, sku, sort_order)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9)
			RETURNING id`,
			productID, v.Name, v.Code, v.Background, v.Price.String(),
			discount, v.Availability, v.SKU, i,
		).Scan(&v.ID)
		if err != nil {
			return fmt.Errorf("failed to insert variant %q: %w", v.Name, err)
		}
		v.ProductID = productID

		for _, img := range v.Images {
			images = append(images, []any{v.ID, img.URL, img.Alt, img.SortOrder})
		}
		for _, s := range v.Sizes {
			sizes = append(sizes, []any{v.ID, s.Label, s.Availability, s.SortOrder})
		}
	}

	if len(images) > 0 {
		_, err := t.tx.CopyFrom(ctx, pgx.Identifier{"product_image"},
			[]string{"variant_id", "url", "alt", "sort_order"}, pgx.CopyFromRows(images))
		if err != nil {
			return fmt.Errorf("failed to insert images: %w", err)
		}
	}
	if len(sizes) > 0 {
		_, err := t.tx.CopyFrom(ctx, pgx.Identifier{"size"},
			[]string{"variant_id", "label", "availability", "sort_order"}, pgx.CopyFromRows(sizes))
		if err != nil {
			return fmt.Errorf("failed to insert sizes: %w", err)
		}
	}
	return nil
}

func (t *pgTx) LinkCategory(ctx context.Context, productID, categoryID int64) (bool, error) {
	return linkCategory(ctx, t.tx, productID, categoryID)
}

func (t *pgTx) AppendEvent(ctx context.Context, e catalog.Event) error {
	return insertOutboxEvent(ctx, t.tx, NewOutboxEvent(e, t.stream))
}
