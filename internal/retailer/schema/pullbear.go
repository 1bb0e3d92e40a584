package schema

// PullBearListing is the flat category products response.
type PullBearListing struct {
	ProductIDs []ID `json:"productIds"`
}

// PullBearProduct wraps its detail either directly or inside the first
// bundle summary, depending on the product type.
type PullBearProduct struct {
	ID                     ID               `json:"id"`
	Name                   string           `json:"name"`
	Detail                 *PullBearDetail  `json:"detail"`
	BundleProductSummaries []PullBearBundle `json:"bundleProductSummaries"`
}

type PullBearBundle struct {
	ID     ID             `json:"id"`
	Name   string         `json:"name"`
	Detail PullBearDetail `json:"detail"`
}

// EffectiveDetail returns the detail that carries color data.
func (p *PullBearProduct) EffectiveDetail() *PullBearDetail {
	if p.Detail != nil && len(p.Detail.Colors) > 0 {
		return p.Detail
	}
	for i := range p.BundleProductSummaries {
		if len(p.BundleProductSummaries[i].Detail.Colors) > 0 {
			return &p.BundleProductSummaries[i].Detail
		}
	}
	return p.Detail
}

type PullBearDetail struct {
	Reference        string             `json:"reference"`
	DisplayReference string             `json:"displayReference"`
	Description      string             `json:"description"`
	LongDescription  string             `json:"longDescription"`
	Colors           []PullBearColor    `json:"colors"`
	Xmedia           []PullBearMediaSet `json:"xmedia"`
}

type PullBearColor struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Sizes []PullBearSize `json:"sizes"`
}

// PullBearSize prices are preformatted strings such as "1.299,95 €".
type PullBearSize struct {
	Name         string `json:"name"`
	Price        string `json:"price"`
	OldPrice     string `json:"oldPrice"`
	SKU          ID     `json:"sku"`
	Availability string `json:"availability"`
	Visibility   string `json:"visibilityValue"`
}

// PullBearMediaSet groups media items by the color they show.
type PullBearMediaSet struct {
	ColorCode   string              `json:"colorCode"`
	XmediaItems []PullBearMediaItem `json:"xmediaItems"`
}

type PullBearMediaItem struct {
	Medias []PullBearMedia `json:"medias"`
}

type PullBearMedia struct {
	URL string `json:"url"`
}
