// Package brandcfg loads brand and category seed data from YAML.
package brandcfg

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/maltedev/catalog-ingest/internal/catalog"
)

//go:embed brands.yaml
var defaultBrands []byte

var ErrInvalidConfig = errors.New("invalid brand config")

type File struct {
	Brands []BrandSpec `yaml:"brands"`
}

type BrandSpec struct {
	Name       string             `yaml:"name"`
	Slug       string             `yaml:"slug"`
	WebsiteURL string             `yaml:"website_url"`
	Active     *bool              `yaml:"active"`
	API        *catalog.APIConfig `yaml:"api"`
	Categories []CategorySpec     `yaml:"categories"`
}

type CategorySpec struct {
	Name       string         `yaml:"name"`
	Slug       string         `yaml:"slug"`
	APIID      string         `yaml:"api_id"`
	URL        string         `yaml:"url"`
	Gender     string         `yaml:"gender"`
	Active     *bool          `yaml:"active"`
	Aggregator bool           `yaml:"aggregator"`
	Children   []CategorySpec `yaml:"children"`
}

// Default returns the seed file compiled into the binary.
func Default() (*File, error) {
	return Parse(defaultBrands)
}

// Load reads a seed file from disk.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a seed file. Slugs are derived from names
// where missing and API config defaults are filled in.
func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) Validate() error {
	if len(f.Brands) == 0 {
		return fmt.Errorf("%w: no brands", ErrInvalidConfig)
	}

	slugs := make(map[string]bool)
	for i := range f.Brands {
		b := &f.Brands[i]
		if strings.TrimSpace(b.Name) == "" {
			return fmt.Errorf("%w: brand %d has no name", ErrInvalidConfig, i)
		}
		if b.Slug == "" {
			b.Slug = catalog.Slugify(b.Name)
		}
		if slugs[b.Slug] {
			return fmt.Errorf("%w: duplicate brand slug %q", ErrInvalidConfig, b.Slug)
		}
		slugs[b.Slug] = true

		if b.WebsiteURL != "" {
			if u, err := url.Parse(b.WebsiteURL); err != nil || u.Host == "" {
				return fmt.Errorf("%w: brand %s: website_url %q must be absolute", ErrInvalidConfig, b.Slug, b.WebsiteURL)
			}
		}
		if b.API != nil {
			if err := b.API.Validate(); err != nil {
				return fmt.Errorf("brand %s: %w", b.Slug, err)
			}
		}
		if err := validateCategories(b.Slug, b.Categories); err != nil {
			return err
		}
	}
	return nil
}

func validateCategories(path string, cats []CategorySpec) error {
	slugs := make(map[string]bool)
	for i := range cats {
		c := &cats[i]
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("%w: %s: category %d has no name", ErrInvalidConfig, path, i)
		}
		if c.Slug == "" {
			c.Slug = catalog.Slugify(c.Name)
		}
		if slugs[c.Slug] {
			return fmt.Errorf("%w: %s: duplicate category slug %q", ErrInvalidConfig, path, c.Slug)
		}
		slugs[c.Slug] = true

		if c.Aggregator && len(c.Children) > 0 {
			return fmt.Errorf("%w: %s/%s: aggregator categories cannot have children", ErrInvalidConfig, path, c.Slug)
		}
		if err := validateCategories(path+"/"+c.Slug, c.Children); err != nil {
			return err
		}
	}
	return nil
}

// SeedResult counts what Seed wrote.
type SeedResult struct {
	Brands     int `json:"brands"`
	Categories int `json:"categories"`
}

// Seed upserts every brand and its category tree. Levels follow nesting
// depth and are checked by the store against each parent.
func Seed(ctx context.Context, store catalog.Store, f *File, logger *slog.Logger) (*SeedResult, error) {
	logger = logger.With("component", "brandcfg")
	res := &SeedResult{}

	for _, spec := range f.Brands {
		brand := &catalog.Brand{
			Name:       spec.Name,
			Slug:       spec.Slug,
			Active:     enabled(spec.Active),
			WebsiteURL: spec.WebsiteURL,
			API:        spec.API,
		}
		if err := store.UpsertBrand(ctx, brand); err != nil {
			return res, fmt.Errorf("failed to upsert brand %s: %w", spec.Slug, err)
		}
		res.Brands++

		n, err := seedCategories(ctx, store, brand.ID, nil, 0, spec.Categories)
		res.Categories += n
		if err != nil {
			return res, fmt.Errorf("brand %s: %w", spec.Slug, err)
		}
		logger.Info("brand seeded", "brand", brand.Slug, "id", brand.ID, "categories", n)
	}
	return res, nil
}

func seedCategories(ctx context.Context, store catalog.Store, brandID int64, parentID *int64, level int, specs []CategorySpec) (int, error) {
	n := 0
	for i, spec := range specs {
		c := &catalog.Category{
			BrandID:    brandID,
			ParentID:   parentID,
			Name:       spec.Name,
			Slug:       spec.Slug,
			Level:      level,
			SortOrder:  i,
			Active:     enabled(spec.Active),
			Leaf:       len(spec.Children) == 0,
			Aggregator: spec.Aggregator,
			APIID:      spec.APIID,
			Gender:     spec.Gender,
			URL:        spec.URL,
		}
		if err := store.UpsertCategory(ctx, c); err != nil {
			return n, fmt.Errorf("failed to upsert category %s: %w", spec.Slug, err)
		}
		n++

		id := c.ID
		children, err := seedCategories(ctx, store, brandID, &id, level+1, spec.Children)
		n += children
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func enabled(b *bool) bool {
	return b == nil || *b
}
