package memstore

import (
	"context"
	"fmt"

	"github.com/maltedev/catalog-ingest/internal/catalog"
)

type tx struct {
	st   *state
	undo []func()
}

func (t *tx) record(f func()) {
	t.undo = append(t.undo, f)
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *tx) nextID() int64 {
	seq := t.st.seq
	t.record(func() { t.st.seq = seq })
	return t.st.nextID()
}

func (t *tx) find(brandID int64, match func(*catalog.Product) bool) *catalog.Product {
	var found *catalog.Product
	for _, p := range t.st.products {
		if p.BrandID == brandID && match(p) && (found == nil || p.ID < found.ID) {
			found = p
		}
	}
	if found == nil {
		return nil
	}
	return cloneProduct(found)
}

func (t *tx) FindProductByRetailerID(ctx context.Context, brandID int64, retailerID string) (*catalog.Product, error) {
	return t.find(brandID, func(p *catalog.Product) bool { return p.RetailerID == retailerID }), nil
}

func (t *tx) FindProductByURL(ctx context.Context, brandID int64, url string) (*catalog.Product, error) {
	return t.find(brandID, func(p *catalog.Product) bool { return p.SourceURL == url }), nil
}

func (t *tx) FindProductByCode(ctx context.Context, brandID int64, code string) (*catalog.Product, error) {
	return t.find(brandID, func(p *catalog.Product) bool { return p.Code == code }), nil
}

func (t *tx) SlugTaken(ctx context.Context, brandID int64, slug string, excludeID int64) (bool, error) {
	for _, p := range t.st.products {
		if p.BrandID == brandID && p.Slug == slug && p.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) InsertProduct(ctx context.Context, p *catalog.Product) error {
	if _, ok := t.st.brands[p.BrandID]; !ok {
		return fmt.Errorf("brand %d: %w", p.BrandID, catalog.ErrNotFound)
	}
	p.ID = t.nextID()
	stored := cloneProduct(p)
	stored.Colors = nil
	id := p.ID
	t.st.products[id] = stored
	t.record(func() { delete(t.st.products, id) })
	return nil
}

func (t *tx) UpdateProduct(ctx context.Context, p *catalog.Product) error {
	existing, ok := t.st.products[p.ID]
	if !ok {
		return fmt.Errorf("product %d: %w", p.ID, catalog.ErrNotFound)
	}
	stored := cloneProduct(p)
	stored.Colors = existing.Colors
	t.st.products[p.ID] = stored
	t.record(func() { t.st.products[existing.ID] = existing })
	return nil
}

func (t *tx) ReplaceVariants(ctx context.Context, productID int64, variants []catalog.ColorVariant) error {
	stored, ok := t.st.products[productID]
	if !ok {
		return fmt.Errorf("product %d: %w", productID, catalog.ErrNotFound)
	}
	colors := make([]catalog.ColorVariant, len(variants))
	for i, v := range variants {
		v.ID = t.nextID()
		v.ProductID = productID
		v.Images = append([]catalog.Image(nil), v.Images...)
		v.Sizes = append([]catalog.Size(nil), v.Sizes...)
		colors[i] = v
		variants[i].ID = v.ID
		variants[i].ProductID = productID
	}
	old := stored.Colors
	stored.Colors = colors
	t.record(func() { stored.Colors = old })
	return nil
}

func (t *tx) LinkCategory(ctx context.Context, productID, categoryID int64) (bool, error) {
	if _, ok := t.st.products[productID]; !ok {
		return false, fmt.Errorf("product %d: %w", productID, catalog.ErrNotFound)
	}
	if _, ok := t.st.categories[categoryID]; !ok {
		return false, fmt.Errorf("category %d: %w", categoryID, catalog.ErrNotFound)
	}
	set, ok := t.st.links[categoryID]
	if !ok {
		set = make(map[int64]bool)
		t.st.links[categoryID] = set
		t.record(func() { delete(t.st.links, categoryID) })
	}
	if set[productID] {
		return false, nil
	}
	set[productID] = true
	t.record(func() { delete(set, productID) })
	return true, nil
}

func (t *tx) AppendEvent(ctx context.Context, e catalog.Event) error {
	n := len(t.st.events)
	t.st.events = append(t.st.events, e)
	t.record(func() { t.st.events = t.st.events[:n] })
	return nil
}
