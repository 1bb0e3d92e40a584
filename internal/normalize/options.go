package normalize

import (
	"strings"

	"github.com/maltedev/catalog-ingest/internal/retailer/schema"
)

// Option is one color or size choice, whichever source it came from.
type Option struct {
	Name string
	Code string
	Hex  string
}

func (o Option) key() string {
	if o.Code != "" {
		return "code:" + strings.ToLower(strings.TrimSpace(o.Code))
	}
	return "name:" + nameKey(o.Name)
}

func nameKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ResolveOptions picks the authoritative option list for one product from a
// filters facet and the options embedded in the detail payload.
//
// Facet values that reference productID win. The embedded list is used when
// no facet value references the product, or when the facet yields fewer than
// two options while the embedded list has more. The facet is known to drop
// options for some products, so a single facet option is not trusted over a
// longer embedded list.
func ResolveOptions(productID string, facet *schema.Facet, embedded []Option) []Option {
	opts, _ := resolve(productID, facet, embedded)
	return opts
}

// resolve also reports whether the facet won.
func resolve(productID string, facet *schema.Facet, embedded []Option) ([]Option, bool) {
	var fromFacet []Option
	if facet != nil {
		for _, v := range facet.Values {
			if !v.References(productID) {
				continue
			}
			name := strings.TrimSpace(v.Name)
			if name == "" && v.Code == "" {
				continue
			}
			fromFacet = append(fromFacet, Option{Name: name, Code: strings.TrimSpace(v.Code), Hex: v.Hex})
		}
	}
	fromFacet = dedupe(fromFacet)
	embedded = dedupe(embedded)

	if len(fromFacet) == 0 || (len(fromFacet) < 2 && len(embedded) > len(fromFacet)) {
		return embedded, false
	}
	return fromFacet, true
}

func dedupe(opts []Option) []Option {
	out := make([]Option, 0, len(opts))
	seen := make(map[string]bool, len(opts))
	for _, o := range opts {
		k := o.key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, o)
	}
	return out
}
