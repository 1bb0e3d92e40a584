package schema

// ZaraListing is the category products response. Product ids sit three levels
// down, inside commercial components of group elements.
type ZaraListing struct {
	ProductGroups []struct {
		Elements []struct {
			CommercialComponents []struct {
				ID   ID     `json:"id"`
				Type string `json:"type"`
			} `json:"commercialComponents"`
		} `json:"elements"`
	} `json:"productGroups"`
}

// ProductIDs flattens the listing in order, skipping duplicates and
// components that are not products.
func (l *ZaraListing) ProductIDs() []string {
	seen := make(map[string]bool)
	ids := []string{}
	for _, g := range l.ProductGroups {
		for _, e := range g.Elements {
			for _, c := range e.CommercialComponents {
				if c.ID == "" || (c.Type != "" && c.Type != "Product") {
					continue
				}
				if seen[string(c.ID)] {
					continue
				}
				seen[string(c.ID)] = true
				ids = append(ids, string(c.ID))
			}
		}
	}
	return ids
}

type ZaraProduct struct {
	ID          ID         `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Detail      ZaraDetail `json:"detail"`
}

type ZaraDetail struct {
	Reference        string      `json:"reference"`
	DisplayReference string      `json:"displayReference"`
	Colors           []ZaraColor `json:"colors"`
}

// ZaraColor prices are integer minor units.
type ZaraColor struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	HexCode      string           `json:"hexCode"`
	Price        int64            `json:"price"`
	OldPrice     *int64           `json:"oldPrice"`
	Availability string           `json:"availability"`
	Reference    string           `json:"reference"`
	Xmedia       []ZaraMediaGroup `json:"xmedia"`
	Sizes        []ZaraSize       `json:"sizes"`
}

type ZaraMediaGroup struct {
	Kind        string          `json:"kind"`
	XmediaItems []ZaraMediaItem `json:"xmediaItems"`
}

type ZaraMediaItem struct {
	Medias []ZaraMedia `json:"medias"`
}

type ZaraMedia struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

type ZaraSize struct {
	Name         string `json:"name"`
	Availability string `json:"availability"`
	SKU          ID     `json:"sku"`
}
