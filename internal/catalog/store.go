package catalog

import (
	"context"
	"encoding/json"
)

// Store is the catalog persistence contract used by the ingestion engine.
// Implementations: database.CatalogStore (Postgres) and memstore.Store.
type Store interface {
	// WithTx runs fn in a single transaction holding a lock on lockKey, so
	// writers sharing a key cannot interleave.
	WithTx(ctx context.Context, lockKey string, fn func(Tx) error) error

	GetBrand(ctx context.Context, id int64) (*Brand, error)
	GetBrandBySlug(ctx context.Context, slug string) (*Brand, error)
	ListBrands(ctx context.Context) ([]*Brand, error)
	UpsertBrand(ctx context.Context, b *Brand) error

	GetCategory(ctx context.Context, id int64) (*Category, error)
	GetCategoryByAPIID(ctx context.Context, brandID int64, apiID string) (*Category, error)
	GetCategoryByURL(ctx context.Context, url string) (*Category, error)
	// ListCategories returns a brand's categories ordered by level, then sort order.
	ListCategories(ctx context.Context, brandID int64) ([]*Category, error)
	// ListSiblingCategories returns categories with the same brand, parent and
	// level as c, excluding c itself.
	ListSiblingCategories(ctx context.Context, c *Category) ([]*Category, error)
	UpsertCategory(ctx context.Context, c *Category) error

	ListCategoryProductIDs(ctx context.Context, categoryID int64) ([]int64, error)
	// LinkProductCategory adds an association row and reports whether it was new.
	LinkProductCategory(ctx context.Context, productID, categoryID int64) (bool, error)
	GetProduct(ctx context.Context, id int64) (*Product, error)
}

// Tx is the set of writes a Persister performs inside one transaction.
// The Find methods return nil, nil when nothing matches.
type Tx interface {
	FindProductByRetailerID(ctx context.Context, brandID int64, retailerID string) (*Product, error)
	FindProductByURL(ctx context.Context, brandID int64, url string) (*Product, error)
	FindProductByCode(ctx context.Context, brandID int64, code string) (*Product, error)
	SlugTaken(ctx context.Context, brandID int64, slug string, excludeID int64) (bool, error)

	InsertProduct(ctx context.Context, p *Product) error
	UpdateProduct(ctx context.Context, p *Product) error
	// ReplaceVariants deletes every variant of the product (cascading to
	// images and sizes) and inserts the given ones.
	ReplaceVariants(ctx context.Context, productID int64, variants []ColorVariant) error
	LinkCategory(ctx context.Context, productID, categoryID int64) (bool, error)

	AppendEvent(ctx context.Context, e Event) error
}

// Event is an outbox entry written in the same transaction as the change it
// describes.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       json.RawMessage
}

// EventFactory builds outbox events for catalog changes.
type EventFactory interface {
	ProductUpserted(p *Product, created bool) (Event, error)
}
