// Package memstore is an in-memory catalog store. Transactions write to the
// live state and keep an undo journal that is replayed in reverse on failure.
// Events are kept for the life of the store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/maltedev/catalog-ingest/internal/catalog"
)

type state struct {
	brands     map[int64]*catalog.Brand
	categories map[int64]*catalog.Category
	products   map[int64]*catalog.Product
	links      map[int64]map[int64]bool // categoryID -> productIDs
	events     []catalog.Event
	seq        int64
}

func newState() *state {
	return &state{
		brands:     make(map[int64]*catalog.Brand),
		categories: make(map[int64]*catalog.Category),
		products:   make(map[int64]*catalog.Product),
		links:      make(map[int64]map[int64]bool),
	}
}

func (s *state) nextID() int64 {
	s.seq++
	return s.seq
}

// Store implements catalog.Store and the jobs repository in memory.
type Store struct {
	mu    sync.Mutex
	state *state
	jobs  *jobTable
}

func New() *Store {
	return &Store{
		state: newState(),
		jobs:  newJobTable(),
	}
}

// WithTx serializes all transactions, which also covers the per-brand lock.
func (s *Store) WithTx(ctx context.Context, lockKey string, fn func(catalog.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	t := &tx{st: s.state}
	if err := fn(t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

func (s *Store) GetBrand(ctx context.Context, id int64) (*catalog.Brand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.state.brands[id]
	if !ok {
		return nil, fmt.Errorf("brand %d: %w", id, catalog.ErrNotFound)
	}
	return cloneBrand(b), nil
}

func (s *Store) GetBrandBySlug(ctx context.Context, slug string) (*catalog.Brand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.state.brands {
		if b.Slug == slug {
			return cloneBrand(b), nil
		}
	}
	return nil, fmt.Errorf("brand %q: %w", slug, catalog.ErrNotFound)
}

func (s *Store) ListBrands(ctx context.Context) ([]*catalog.Brand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*catalog.Brand, 0, len(s.state.brands))
	for _, b := range s.state.brands {
		out = append(out, cloneBrand(b))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpsertBrand matches on slug.
func (s *Store) UpsertBrand(ctx context.Context, b *catalog.Brand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.state.brands {
		if existing.Slug == b.Slug {
			b.ID = id
			s.state.brands[id] = cloneBrand(b)
			return nil
		}
	}
	b.ID = s.state.nextID()
	s.state.brands[b.ID] = cloneBrand(b)
	return nil
}

func (s *Store) GetCategory(ctx context.Context, id int64) (*catalog.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.state.categories[id]
	if !ok {
		return nil, fmt.Errorf("category %d: %w", id, catalog.ErrNotFound)
	}
	cc := *c
	return &cc, nil
}

func (s *Store) GetCategoryByAPIID(ctx context.Context, brandID int64, apiID string) (*catalog.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.sortedCategories() {
		if c.BrandID == brandID && c.APIID == apiID && !c.Aggregator {
			cc := *c
			return &cc, nil
		}
	}
	return nil, fmt.Errorf("category api id %q: %w", apiID, catalog.ErrNotFound)
}

func (s *Store) GetCategoryByURL(ctx context.Context, url string) (*catalog.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.sortedCategories() {
		if c.URL != "" && c.URL == url {
			cc := *c
			return &cc, nil
		}
	}
	return nil, fmt.Errorf("category url %q: %w", url, catalog.ErrNotFound)
}

func (s *Store) ListCategories(ctx context.Context, brandID int64) ([]*catalog.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*catalog.Category
	for _, c := range s.sortedCategories() {
		if c.BrandID == brandID {
			cc := *c
			out = append(out, &cc)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Level < out[j].Level })
	return out, nil
}

func (s *Store) ListSiblingCategories(ctx context.Context, c *catalog.Category) ([]*catalog.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*catalog.Category
	for _, other := range s.sortedCategories() {
		if other.ID == c.ID || other.BrandID != c.BrandID || other.Level != c.Level {
			continue
		}
		if !sameParent(other.ParentID, c.ParentID) {
			continue
		}
		cc := *other
		out = append(out, &cc)
	}
	return out, nil
}

// UpsertCategory matches on brand + slug + parent and enforces the depth invariant.
func (s *Store) UpsertCategory(ctx context.Context, c *catalog.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var parent *catalog.Category
	if c.ParentID != nil {
		p, ok := s.state.categories[*c.ParentID]
		if !ok {
			return fmt.Errorf("parent category %d: %w", *c.ParentID, catalog.ErrNotFound)
		}
		parent = p
	}
	if err := c.CheckDepth(parent); err != nil {
		return err
	}

	for id, existing := range s.state.categories {
		if existing.BrandID == c.BrandID && existing.Slug == c.Slug && sameParent(existing.ParentID, c.ParentID) {
			c.ID = id
			cc := *c
			s.state.categories[id] = &cc
			return nil
		}
	}
	c.ID = s.state.nextID()
	cc := *c
	s.state.categories[c.ID] = &cc
	return nil
}

func (s *Store) ListCategoryProductIDs(ctx context.Context, categoryID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []int64
	for pid := range s.state.links[categoryID] {
		ids = append(ids, pid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) LinkProductCategory(ctx context.Context, productID, categoryID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{st: s.state}).LinkCategory(ctx, productID, categoryID)
}

func (s *Store) GetProduct(ctx context.Context, id int64) (*catalog.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.state.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, catalog.ErrNotFound)
	}
	out := cloneProduct(p)
	for cid, set := range s.state.links {
		if set[id] {
			out.CategoryIDs = append(out.CategoryIDs, cid)
		}
	}
	sort.Slice(out.CategoryIDs, func(i, j int) bool { return out.CategoryIDs[i] < out.CategoryIDs[j] })
	return out, nil
}

// Products returns every stored product ordered by id.
func (s *Store) Products() []*catalog.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*catalog.Product, 0, len(s.state.products))
	for _, p := range s.state.products {
		out = append(out, cloneProduct(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Events returns the outbox entries appended so far.
func (s *Store) Events() []catalog.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]catalog.Event(nil), s.state.events...)
}

// LinkCount returns the number of association rows for a category.
func (s *Store) LinkCount(categoryID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.state.links[categoryID])
}

func (s *Store) sortedCategories() []*catalog.Category {
	out := make([]*catalog.Category, 0, len(s.state.categories))
	for _, c := range s.state.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneBrand(b *catalog.Brand) *catalog.Brand {
	c := *b
	if b.API != nil {
		api := *b.API
		if b.API.Headers != nil {
			api.Headers = make(map[string]string, len(b.API.Headers))
			for k, v := range b.API.Headers {
				api.Headers[k] = v
			}
		}
		c.API = &api
	}
	return &c
}

func cloneProduct(p *catalog.Product) *catalog.Product {
	c := *p
	c.CategoryIDs = nil
	c.Colors = make([]catalog.ColorVariant, len(p.Colors))
	for i, v := range p.Colors {
		v.Images = append([]catalog.Image(nil), v.Images...)
		v.Sizes = append([]catalog.Size(nil), v.Sizes...)
		if v.DiscountPrice != nil {
			d := *v.DiscountPrice
			v.DiscountPrice = &d
		}
		c.Colors[i] = v
	}
	return &c
}
