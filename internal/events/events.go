// Package events builds the outbox events written alongside catalog changes.
package events

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/maltedev/catalog-ingest/internal/catalog"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeProductUpserted is written whenever a product is created or overwritten
	EventTypeProductUpserted EventType = "PRODUCT_UPSERTED"
	// EventTypeCategoryLinked is written when products are fanned into an aggregator
	EventTypeCategoryLinked EventType = "CATEGORY_LINKED"

	Source = "catalog-ingest"
)

// ProductUpsertedPayload represents the payload for PRODUCT_UPSERTED event
type ProductUpsertedPayload struct {
	EventID      string         `json:"event_id"`
	EventType    string         `json:"event_type"`
	Timestamp    time.Time      `json:"timestamp"`
	ProductID    int64          `json:"product_id"`
	BrandID      int64          `json:"brand_id"`
	RetailerID   string         `json:"retailer_id,omitempty"`
	Code         string         `json:"code,omitempty"`
	Name         string         `json:"name"`
	Slug         string         `json:"slug"`
	SourceURL    string         `json:"source_url,omitempty"`
	Price        *Price         `json:"price,omitempty"`
	PrimaryImage string         `json:"primary_image,omitempty"`
	Colors       []ColorSummary `json:"colors"`
	Created      bool           `json:"created"`
	Source       string         `json:"source"`
}

// Price represents product pricing information
type Price struct {
	Amount   decimal.Decimal `json:"amount"`
	Display  string          `json:"display,omitempty"`
	Currency string          `json:"currency"`
}

type ColorSummary struct {
	Name   string   `json:"name"`
	Code   string   `json:"code,omitempty"`
	Sizes  []string `json:"sizes"`
	Images int      `json:"images"`
}

// CategoryLinkedPayload represents the payload for CATEGORY_LINKED event
type CategoryLinkedPayload struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	Timestamp  time.Time `json:"timestamp"`
	CategoryID int64     `json:"category_id"`
	SiblingID  int64     `json:"sibling_category_id"`
	ProductIDs []int64   `json:"product_ids"`
	Source     string    `json:"source"`
}

// Factory implements catalog.EventFactory and linker.EventFactory.
type Factory struct {
	now   func() time.Time
	newID func() uuid.UUID
}

func NewFactory() *Factory {
	return &Factory{now: time.Now, newID: uuid.New}
}

func (f *Factory) ProductUpserted(p *catalog.Product, created bool) (catalog.Event, error) {
	payload := &ProductUpsertedPayload{
		EventID:      f.newID().String(),
		EventType:    string(EventTypeProductUpserted),
		Timestamp:    f.now().UTC(),
		ProductID:    p.ID,
		BrandID:      p.BrandID,
		RetailerID:   p.RetailerID,
		Code:         p.Code,
		Name:         p.Name,
		Slug:         p.Slug,
		SourceURL:    p.SourceURL,
		PrimaryImage: p.PrimaryImage,
		Colors:       make([]ColorSummary, 0, len(p.Colors)),
		Created:      created,
		Source:       Source,
	}
	if !p.Price.IsZero() || p.PriceText != "" {
		payload.Price = &Price{Amount: p.Price, Display: p.PriceText, Currency: p.Currency}
	}
	for _, c := range p.Colors {
		sizes := make([]string, len(c.Sizes))
		for i, s := range c.Sizes {
			sizes[i] = s.Label
		}
		payload.Colors = append(payload.Colors, ColorSummary{
			Name:   c.Name,
			Code:   c.Code,
			Sizes:  sizes,
			Images: len(c.Images),
		})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return catalog.Event{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return catalog.Event{
		AggregateType: "product",
		AggregateID:   strconv.FormatInt(p.ID, 10),
		EventType:     payload.EventType,
		Payload:       data,
	}, nil
}

func (f *Factory) CategoryLinked(aggregatorID, siblingID int64, productIDs []int64) (catalog.Event, error) {
	payload := &CategoryLinkedPayload{
		EventID:    f.newID().String(),
		EventType:  string(EventTypeCategoryLinked),
		Timestamp:  f.now().UTC(),
		CategoryID: aggregatorID,
		SiblingID:  siblingID,
		ProductIDs: productIDs,
		Source:     Source,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return catalog.Event{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return catalog.Event{
		AggregateType: "category",
		AggregateID:   strconv.FormatInt(aggregatorID, 10),
		EventType:     payload.EventType,
		Payload:       data,
	}, nil
}
