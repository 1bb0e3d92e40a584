package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/maltedev/catalog-ingest/internal/catalog"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// CatalogStore implements catalog.Store on Postgres.
type CatalogStore struct {
	db     *DB
	stream string
}

func NewCatalogStore(db *DB, stream string) *CatalogStore {
	if stream == "" {
		stream = DefaultStream
	}
	return &CatalogStore{db: db, stream: stream}
}

// WithTx takes a transaction-scoped advisory lock on lockKey before running fn.
func (s *CatalogStore) WithTx(ctx context.Context, lockKey string, fn func(catalog.Tx) error) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if lockKey != "" {
			if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", lockKey); err != nil {
				return fmt.Errorf("failed to acquire lock %q: %w", lockKey, err)
			}
		}
		return fn(&pgTx{tx: tx, stream: s.stream})
	})
}

const brandColumns = `id, name, slug, active, website_url, api_config`

func scanBrand(row pgx.Row) (*catalog.Brand, error) {
	var (
		b   catalog.Brand
		api []byte
	)
	if err := row.Scan(&b.ID, &b.Name, &b.Slug, &b.Active, &b.WebsiteURL, &api); err != nil {
		return nil, err
	}
	if len(api) > 0 {
		b.API = &catalog.APIConfig{}
		if err := json.Unmarshal(api, b.API); err != nil {
			return nil, fmt.Errorf("failed to decode api config of brand %q: %w", b.Slug, err)
		}
	}
	return &b, nil
}

func (s *CatalogStore) GetBrand(ctx context.Context, id int64) (*catalog.Brand, error) {
	b, err := scanBrand(s.db.QueryRow(ctx, `SELECT `+brandColumns+` FROM brand WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("brand %d: %w", id, catalog.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get brand: %w", err)
	}
	return b, nil
}

func (s *CatalogStore) GetBrandBySlug(ctx context.Context, slug string) (*catalog.Brand, error) {
	b, err := scanBrand(s.db.QueryRow(ctx, `SELECT `+brandColumns+` FROM brand WHERE slug = $1`, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("brand %q: %w", slug, catalog.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get brand: %w", err)
	}
	return b, nil
}

func (s *CatalogStore) ListBrands(ctx context.Context) ([]*catalog.Brand, error) {
	rows, err := s.db.Query(ctx, `SELECT `+brandColumns+` FROM brand ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list brands: %w", err)
	}
	defer rows.Close()

	var brands []*catalog.Brand
	for rows.Next() {
		b, err := scanBrand(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan brand: %w", err)
		}
		brands = append(brands, b)
	}
	return brands, rows.Err()
}

// UpsertBrand matches on slug.
func (s *CatalogStore) UpsertBrand(ctx context.Context, b *catalog.Brand) error {
	var api []byte
	if b.API != nil {
		var err error
		if api, err = json.Marshal(b.API); err != nil {
			return fmt.Errorf("failed to encode api config: %w", err)
		}
	}

	query := `
		INSERT INTO brand (name, slug, active, website_url, api_config)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (slug) DO UPDATE SET
			name = EXCLUDED.name,
			active = EXCLUDED.active,
			website_url = EXCLUDED.website_url,
			api_config = EXCLUDED.api_config,
			updated_at = NOW()
		RETURNING id`

	if err := s.db.QueryRow(ctx, query, b.Name, b.Slug, b.Active, b.WebsiteURL, api).Scan(&b.ID); err != nil {
		return fmt.Errorf("failed to upsert brand: %w", err)
	}
	return nil
}

const categoryColumns = `id, brand_id, parent_id, name, slug, level, sort_order,
	active, leaf, aggregator, api_id, gender, url`

func scanCategory(row pgx.Row) (*catalog.Category, error) {
	var c catalog.Category
	err := row.Scan(&c.ID, &c.BrandID, &c.ParentID, &c.Name, &c.Slug, &c.Level, &c.SortOrder,
		&c.Active, &c.Leaf, &c.Aggregator, &c.APIID, &c.Gender, &c.URL)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *CatalogStore) getCategory(ctx context.Context, what, where string, args ...any) (*catalog.Category, error) {
	c, err := scanCategory(s.db.QueryRow(ctx,
		`SELECT `+categoryColumns+` FROM category WHERE `+where+` ORDER BY sort_order, id LIMIT 1`, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", what, catalog.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return c, nil
}

func (s *CatalogStore) GetCategory(ctx context.Context, id int64) (*catalog.Category, error) {
	return s.getCategory(ctx, fmt.Sprintf("category %d", id), "id = $1", id)
}

// GetCategoryByAPIID never returns an aggregator, which may share its api id
// with the leaf it mirrors.
func (s *CatalogStore) GetCategoryByAPIID(ctx context.Context, brandID int64, apiID string) (*catalog.Category, error) {
	return s.getCategory(ctx, fmt.Sprintf("category api id %q", apiID),
		"brand_id = $1 AND api_id = $2 AND NOT aggregator", brandID, apiID)
}

func (s *CatalogStore) GetCategoryByURL(ctx context.Context, url string) (*catalog.Category, error) {
	return s.getCategory(ctx, fmt.Sprintf("category url %q", url), "url <> '' AND url = $1", url)
}

func (s *CatalogStore) listCategories(ctx context.Context, query string, args ...any) ([]*catalog.Category, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var out []*catalog.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *CatalogStore) ListCategories(ctx context.Context, brandID int64) ([]*catalog.Category, error) {
	return s.listCategories(ctx,
		`SELECT `+categoryColumns+` FROM category WHERE brand_id = $1 ORDER BY level, sort_order, id`, brandID)
}

func (s *CatalogStore) ListSiblingCategories(ctx context.Context, c *catalog.Category) ([]*catalog.Category, error) {
	return s.listCategories(ctx, `
		SELECT `+categoryColumns+`
		FROM category
		WHERE brand_id = $1
			AND level = $2
			AND parent_id IS NOT DISTINCT FROM $3
			AND id <> $4
		ORDER BY sort_order, id`,
		c.BrandID, c.Level, c.ParentID, c.ID)
}

// UpsertCategory matches on brand + parent + slug and enforces the depth invariant.
func (s *CatalogStore) UpsertCategory(ctx context.Context, c *catalog.Category) error {
	var parent *catalog.Category
	if c.ParentID != nil {
		p, err := s.GetCategory(ctx, *c.ParentID)
		if err != nil {
			return fmt.Errorf("parent category: %w", err)
		}
		parent = p
	}
	if err := c.CheckDepth(parent); err != nil {
		return err
	}

	query := `
		INSERT INTO category (brand_id, parent_id, name, slug, level, sort_order,
			active, leaf, aggregator, api_id, gender, url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (brand_id, COALESCE(parent_id, 0), slug) DO UPDATE SET
			name = EXCLUDED.name,
			level = EXCLUDED.level,
			sort_order = EXCLUDED.sort_order,
			active = EXCLUDED.active,
			leaf = EXCLUDED.leaf,
			aggregator = EXCLUDED.aggregator,
			api_id = EXCLUDED.api_id,
			gender = EXCLUDED.gender,
			url = EXCLUDED.url
		RETURNING id`

	err := s.db.QueryRow(ctx, query, c.BrandID, c.ParentID, c.Name, c.Slug, c.Level, c.SortOrder,
		c.Active, c.Leaf, c.Aggregator, c.APIID, c.Gender, c.URL).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert category: %w", err)
	}
	return nil
}

func (s *CatalogStore) ListCategoryProductIDs(ctx context.Context, categoryID int64) ([]int64, error) {
	rows, err := s.db.Query(ctx,
		`SELECT product_id FROM product_category WHERE category_id = $1 ORDER BY product_id`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list category products: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("failed to scan product ids: %w", err)
	}
	return ids, nil
}

func (s *CatalogStore) LinkProductCategory(ctx context.Context, productID, categoryID int64) (bool, error) {
	return linkCategory(ctx, s.db.pool, productID, categoryID)
}

func (s *CatalogStore) GetProduct(ctx context.Context, id int64) (*catalog.Product, error) {
	p, err := scanProduct(s.db.QueryRow(ctx, `SELECT `+productColumns+` FROM product WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, catalog.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	if p.Colors, err = loadVariants(ctx, s.db.pool, id); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx,
		`SELECT category_id FROM product_category WHERE product_id = $1 ORDER BY category_id`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list product categories: %w", err)
	}
	if p.CategoryIDs, err = pgx.CollectRows(rows, pgx.RowTo[int64]); err != nil {
		return nil, fmt.Errorf("failed to scan category ids: %w", err)
	}
	return p, nil
}

func linkCategory(ctx context.Context, q querier, productID, categoryID int64) (bool, error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO product_category (product_id, category_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, productID, categoryID)
	if err != nil {
		return false, fmt.Errorf("failed to link product %d to category %d: %w", productID, categoryID, err)
	}
	return tag.RowsAffected() == 1, nil
}

const productColumns = `id, brand_id, name, slug, retailer_id, code, source_url, description,
	composition, care, price_text, price::text, currency, primary_image,
	created_at, updated_at, scraped_at`

func scanProduct(row pgx.Row) (*catalog.Product, error) {
	var (
		p     catalog.Product
		price string
	)
	err := row.Scan(&p.ID, &p.BrandID, &p.Name, &p.Slug, &p.RetailerID, &p.Code, &p.SourceURL,
		&p.Description, &p.Composition, &p.Care, &p.PriceText, &price, &p.Currency, &p.PrimaryImage,
		&p.CreatedAt, &p.UpdatedAt, &p.ScrapedAt)
	if err != nil {
		return nil, err
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("failed to parse price %q: %w", price, err)
	}
	return &p, nil
}

func loadVariants(ctx context.Context, q querier, productID int64) ([]catalog.ColorVariant, error) {
	rows, err := q.Query(ctx, `
		SELECT id, name, code, background, price::text, discount_price::text, availability, sku
		FROM color_variant
		WHERE product_id = $1
		ORDER BY sort_order, id`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to load variants: %w", err)
	}
	defer rows.Close()

	var (
		variants []catalog.ColorVariant
		index    = make(map[int64]int)
	)
	for rows.Next() {
		var (
			v        catalog.ColorVariant
			price    string
			discount *string
		)
		if err := rows.Scan(&v.ID, &v.Name, &v.Code, &v.Background, &price, &discount, &v.Availability, &v.SKU); err != nil {
			return nil, fmt.Errorf("failed to scan variant: %w", err)
		}
		v.ProductID = productID
		if v.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("failed to parse variant price %q: %w", price, err)
		}
		if discount != nil {
			d, err := decimal.NewFromString(*discount)
			if err != nil {
				return nil, fmt.Errorf("failed to parse discount price %q: %w", *discount, err)
			}
			v.DiscountPrice = &d
		}
		index[v.ID] = len(variants)
		variants = append(variants, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load variants: %w", err)
	}
	rows.Close()

	imgRows, err := q.Query(ctx, `
		SELECT i.variant_id, i.url, i.alt, i.sort_order
		FROM product_image i
		JOIN color_variant v ON v.id = i.variant_id
		WHERE v.product_id = $1
		ORDER BY i.variant_id, i.sort_order, i.id`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to load images: %w", err)
	}
	defer imgRows.Close()
	for imgRows.Next() {
		var (
			variantID int64
			img       catalog.Image
		)
		if err := imgRows.Scan(&variantID, &img.URL, &img.Alt, &img.SortOrder); err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		i := index[variantID]
		variants[i].Images = append(variants[i].Images, img)
	}
	if err := imgRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load images: %w", err)
	}
	imgRows.Close()

	sizeRows, err := q.Query(ctx, `
		SELECT s.variant_id, s.label, s.availability, s.sort_order
		FROM size s
		JOIN color_variant v ON v.id = s.variant_id
		WHERE v.product_id = $1
		ORDER BY s.variant_id, s.sort_order, s.id`, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sizes: %w", err)
	}
	defer sizeRows.Close()
	for sizeRows.Next() {
		var (
			variantID int64
			size      catalog.Size
		)
		if err := sizeRows.Scan(&variantID, &size.Label, &size.Availability, &size.SortOrder); err != nil {
			return nil, fmt.Errorf("failed to scan size: %w", err)
		}
		i := index[variantID]
		variants[i].Sizes = append(variants[i].Sizes, size)
	}
	if err := sizeRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load sizes: %w", err)
	}

	return variants, nil
}
