package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// RetailerKind selects the API client implementation for a brand.
type RetailerKind string

const (
	RetailerZara     RetailerKind = "zara"
	RetailerPullBear RetailerKind = "pullbear"
)

// Strategy selects how products are extracted for a brand.
type Strategy string

const (
	StrategyAPI     Strategy = "api"
	StrategyBrowser Strategy = "browser"
)

const (
	CategoryPlaceholder = "{categoryId}"
	ProductPlaceholder  = "{productId}"
)

var ErrInvalidAPIConfig = errors.New("invalid api config")

// APIConfig is the typed per-brand scraping configuration.
type APIConfig struct {
	Retailer             RetailerKind      `json:"retailer" yaml:"retailer"`
	Strategy             Strategy          `json:"strategy" yaml:"strategy"`
	BaseURL              string            `json:"base_url" yaml:"base_url"`
	CategoryProductsPath string            `json:"category_products_path" yaml:"category_products_path"`
	ProductDetailPath    string            `json:"product_detail_path" yaml:"product_detail_path"`
	ExtraDetailPath      string            `json:"extra_detail_path,omitempty" yaml:"extra_detail_path"`
	FiltersPath          string            `json:"filters_path,omitempty" yaml:"filters_path"`
	ProductURLTemplate   string            `json:"product_url_template,omitempty" yaml:"product_url_template"`
	Currency             string            `json:"currency,omitempty" yaml:"currency"`
	ImageWidth           int               `json:"image_width,omitempty" yaml:"image_width"`
	Headers              map[string]string `json:"headers,omitempty" yaml:"headers"`
	Politeness           Politeness        `json:"politeness" yaml:"politeness"`
	Selectors            *SelectorConfig   `json:"selectors,omitempty" yaml:"selectors"`
}

// Politeness bounds how hard a retailer is hit.
type Politeness struct {
	DelayBetweenRequests time.Duration `json:"delay_between_requests" yaml:"delay_between_requests"`
	MaxRetries           int           `json:"max_retries" yaml:"max_retries"`
	RetryDelay           time.Duration `json:"retry_delay" yaml:"retry_delay"`
	ConcurrentRequests   int           `json:"concurrent_requests" yaml:"concurrent_requests"`
	Timeout              time.Duration `json:"timeout" yaml:"timeout"`
}

// SelectorConfig overrides the browser extraction selectors. Each field is an
// ordered candidate list; the first selector that matches wins.
type SelectorConfig struct {
	Name        []string `json:"name,omitempty" yaml:"name"`
	Price       []string `json:"price,omitempty" yaml:"price"`
	Code        []string `json:"code,omitempty" yaml:"code"`
	Description []string `json:"description,omitempty" yaml:"description"`
	Images      []string `json:"images,omitempty" yaml:"images"`
	Sizes       []string `json:"sizes,omitempty" yaml:"sizes"`
	Colors      []string `json:"colors,omitempty" yaml:"colors"`
	ProductLink []string `json:"product_link,omitempty" yaml:"product_link"`
	Consent     []string `json:"consent,omitempty" yaml:"consent"`
	// ProductURLPatterns are regular expressions that mark a URL as a single
	// product page rather than a category page.
	ProductURLPatterns []string `json:"product_url_patterns,omitempty" yaml:"product_url_patterns"`
}

// Validate checks the configuration and fills in defaults.
func (c *APIConfig) Validate() error {
	if c.Strategy == "" {
		c.Strategy = StrategyAPI
	}
	switch c.Strategy {
	case StrategyAPI, StrategyBrowser:
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidAPIConfig, c.Strategy)
	}

	if c.Strategy == StrategyAPI {
		switch c.Retailer {
		case RetailerZara, RetailerPullBear:
		default:
			return fmt.Errorf("%w: unknown retailer %q", ErrInvalidAPIConfig, c.Retailer)
		}

		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: base_url %q must be absolute", ErrInvalidAPIConfig, c.BaseURL)
		}

		if !strings.Contains(c.CategoryProductsPath, CategoryPlaceholder) {
			return fmt.Errorf("%w: category_products_path must contain %s", ErrInvalidAPIConfig, CategoryPlaceholder)
		}
		if !strings.Contains(c.ProductDetailPath, ProductPlaceholder) {
			return fmt.Errorf("%w: product_detail_path must contain %s", ErrInvalidAPIConfig, ProductPlaceholder)
		}
		if c.ExtraDetailPath != "" && !strings.Contains(c.ExtraDetailPath, ProductPlaceholder) {
			return fmt.Errorf("%w: extra_detail_path must contain %s", ErrInvalidAPIConfig, ProductPlaceholder)
		}
		if c.FiltersPath != "" && !strings.Contains(c.FiltersPath, CategoryPlaceholder) {
			return fmt.Errorf("%w: filters_path must contain %s", ErrInvalidAPIConfig, CategoryPlaceholder)
		}
	}

	if c.Selectors != nil {
		for _, pattern := range c.Selectors.ProductURLPatterns {
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("%w: product url pattern %q: %v", ErrInvalidAPIConfig, pattern, err)
			}
		}
	}

	p := &c.Politeness
	if p.DelayBetweenRequests < 0 || p.RetryDelay < 0 || p.Timeout < 0 {
		return fmt.Errorf("%w: politeness durations must not be negative", ErrInvalidAPIConfig)
	}
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must not be negative", ErrInvalidAPIConfig)
	}
	if p.ConcurrentRequests == 0 {
		p.ConcurrentRequests = 1
	}
	if p.ConcurrentRequests < 0 {
		return fmt.Errorf("%w: concurrent_requests must be positive", ErrInvalidAPIConfig)
	}
	if p.Timeout == 0 {
		p.Timeout = 25 * time.Second
	}
	if c.ImageWidth == 0 {
		c.ImageWidth = 1920
	}
	if c.Currency == "" {
		c.Currency = "EUR"
	}

	return nil
}

// CategoryProductsURL expands the category listing template.
func (c *APIConfig) CategoryProductsURL(categoryID string) string {
	return c.expand(c.CategoryProductsPath, CategoryPlaceholder, categoryID)
}

// ProductDetailURL expands the product detail template.
func (c *APIConfig) ProductDetailURL(productID string) string {
	return c.expand(c.ProductDetailPath, ProductPlaceholder, productID)
}

// ExtraDetailURL expands the extra detail template, or returns "" if unset.
func (c *APIConfig) ExtraDetailURL(productID string) string {
	if c.ExtraDetailPath == "" {
		return ""
	}
	return c.expand(c.ExtraDetailPath, ProductPlaceholder, productID)
}

// FiltersURL expands the filters template, or returns "" if unset.
func (c *APIConfig) FiltersURL(categoryID string) string {
	if c.FiltersPath == "" {
		return ""
	}
	return c.expand(c.FiltersPath, CategoryPlaceholder, categoryID)
}

// ProductPageURL builds the public product URL stored as the source URL.
func (c *APIConfig) ProductPageURL(productID string) string {
	if c.ProductURLTemplate == "" {
		return ""
	}
	return strings.ReplaceAll(c.ProductURLTemplate, ProductPlaceholder, url.PathEscape(productID))
}

func (c *APIConfig) expand(path, placeholder, value string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" +
		strings.TrimLeft(strings.ReplaceAll(path, placeholder, url.PathEscape(value)), "/")
}
