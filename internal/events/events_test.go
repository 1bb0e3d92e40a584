package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/catalog-ingest/internal/catalog"
)

func fixedFactory() *Factory {
	id := uuid.MustParse("7d1c0f3e-4b1a-4a57-9d55-2f7b9a0c1e11")
	return &Factory{
		now:   func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) },
		newID: func() uuid.UUID { return id },
	}
}

func TestProductUpserted(t *testing.T) {
	p := &catalog.Product{
		ID:           42,
		BrandID:      7,
		Name:         "Linen Dress",
		Slug:         "linen-dress",
		RetailerID:   "101",
		PriceText:    "29.95 EUR",
		Price:        decimal.RequireFromString("29.95"),
		Currency:     "EUR",
		PrimaryImage: "https://img.example.com/a.jpg",
		Colors: []catalog.ColorVariant{{
			Name:   "Ecru",
			Code:   "800",
			Images: []catalog.Image{{URL: "https://img.example.com/a.jpg"}},
			Sizes:  []catalog.Size{{Label: "S"}, {Label: "M"}},
		}},
	}

	ev, err := fixedFactory().ProductUpserted(p, true)
	require.NoError(t, err)
	assert.Equal(t, "product", ev.AggregateType)
	assert.Equal(t, "42", ev.AggregateID)
	assert.Equal(t, string(EventTypeProductUpserted), ev.EventType)

	var payload ProductUpsertedPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, "7d1c0f3e-4b1a-4a57-9d55-2f7b9a0c1e11", payload.EventID)
	assert.True(t, payload.Created)
	assert.Equal(t, Source, payload.Source)
	require.NotNil(t, payload.Price)
	assert.True(t, payload.Price.Amount.Equal(decimal.RequireFromString("29.95")))
	assert.Equal(t, []ColorSummary{{Name: "Ecru", Code: "800", Sizes: []string{"S", "M"}, Images: 1}}, payload.Colors)
}

func TestCategoryLinked(t *testing.T) {
	ev, err := fixedFactory().CategoryLinked(10, 11, []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, "category", ev.AggregateType)
	assert.Equal(t, "10", ev.AggregateID)

	var payload CategoryLinkedPayload
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, int64(11), payload.SiblingID)
	assert.Equal(t, []int64{1, 2}, payload.ProductIDs)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), payload.Timestamp)
}
