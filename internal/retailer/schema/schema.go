// Package schema holds the raw JSON shapes returned by each retailer. Nothing
// outside the retailer clients and the normalizer should look inside them.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/maltedev/catalog-ingest/internal/catalog"
)

// ID accepts both JSON numbers and strings. Retailers are not consistent
// about which one they send, sometimes within one payload.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id %s is neither string nor number", b)
	}
	if i, err := n.Int64(); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string { return string(id) }

// RawProductDetail is what a retailer client hands to the normalizer. Exactly
// one of the retailer payloads is set.
type RawProductDetail struct {
	Retailer   catalog.RetailerKind
	ProductID  string
	SourceURL  string
	Currency   string
	ImageWidth int

	Zara     *ZaraProduct
	PullBear *PullBearProduct

	// Extra is nil when the brand has no extra-detail endpoint or the call failed.
	Extra *ExtraDetail
}

// ExtraDetail carries composition and care data served by a separate endpoint.
type ExtraDetail struct {
	Composition []CompositionPart `json:"composition"`
	Care        []CareInstruction `json:"care"`
}

type CompositionPart struct {
	Part       string                 `json:"part"`
	Components []CompositionComponent `json:"components"`
}

type CompositionComponent struct {
	Material   string `json:"material"`
	Percentage string `json:"percentage"`
}

type CareInstruction struct {
	Description string `json:"description"`
}

// FiltersPayload is a category's facet listing. Each facet value names the
// product ids it applies to.
type FiltersPayload struct {
	Facets []Facet `json:"facets"`
}

const (
	FacetColor = "color"
	FacetSize  = "size"
)

type Facet struct {
	ID     string       `json:"id"`
	Values []FacetValue `json:"values"`
}

type FacetValue struct {
	Name       string `json:"name"`
	Code       string `json:"code,omitempty"`
	Hex        string `json:"hex,omitempty"`
	ProductIDs []ID   `json:"productIds"`
}

// Facet returns the facet with the given id, or nil.
func (f *FiltersPayload) Facet(id string) *Facet {
	if f == nil {
		return nil
	}
	for i := range f.Facets {
		if f.Facets[i].ID == id {
			return &f.Facets[i]
		}
	}
	return nil
}

// References reports whether the value applies to productID.
func (v FacetValue) References(productID string) bool {
	for _, id := range v.ProductIDs {
		if string(id) == productID {
			return true
		}
	}
	return false
}
