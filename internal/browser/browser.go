// Package browser wraps playwright for the headless scraping fallback.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Page is the subset of a browser tab the DOM extractors need.
type Page interface {
	// Goto navigates and retries transient failures.
	Goto(ctx context.Context, url string) error
	// Content returns the current serialized DOM.
	Content() (string, error)
	// Count returns how many elements match selector.
	Count(selector string) (int, error)
	// ClickNth clicks the i-th element matching selector.
	ClickNth(selector string, i int) error
	// Scroll scrolls to the bottom in steps to trigger lazy loading.
	Scroll(ctx context.Context, steps int) error
	URL() string
	Close() error
}

type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    *Options
	logger  *slog.Logger
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
	// NavigationRetries is the number of Goto attempts before giving up.
	NavigationRetries int
	// ScrollPause is the wait between scroll steps.
	ScrollPause time.Duration
	// ConsentSelectors are tried in order to dismiss cookie overlays.
	ConsentSelectors []string
}

var defaultConsentSelectors = []string{
	"#onetrust-accept-btn-handler",
	"#onetrust-reject-all-handler",
	`button[data-qa-action="accept-cookies"]`,
	`button:has-text("Accept all")`,
	`button:has-text("Alle akzeptieren")`,
	`button:has-text("Aceptar")`,
}

func DefaultOptions() *Options {
	return &Options{
		Headless:          true,
		Timeout:           30 * time.Second,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:     1920,
		ViewportHeight:    1080,
		TimezoneID:        "Europe/Berlin",
		Locale:            "de-DE",
		NavigationRetries: 3,
		ScrollPause:       400 * time.Millisecond,
		ConsentSelectors:  defaultConsentSelectors,
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language": "de-DE,de;q=0.9,en;q=0.8",
		},
	}
}

func New(opts *Options, logger *slog.Logger) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	}
	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{Server: opts.ProxyServer}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: opts.ExtraHeaders,
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		context: bctx,
		opts:    opts,
		logger:  logger.With("component", "browser"),
	}, nil
}

// Open creates a new tab.
func (b *Browser) Open(ctx context.Context) (Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}
	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))

	return &tab{page: page, opts: b.opts, logger: b.logger}, nil
}

func (b *Browser) Close() error {
	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}
	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}

type tab struct {
	page   playwright.Page
	opts   *Options
	logger *slog.Logger
}

func (t *tab) Goto(ctx context.Context, url string) error {
	retries := max(t.opts.NavigationRetries, 1)

	var lastErr error
	for i := 0; i < retries; i++ {
		if i > 0 {
			t.logger.Info("retrying navigation", "attempt", i+1, "url", url)
			if err := Sleep(ctx, time.Duration(i)*time.Second); err != nil {
				return err
			}
		}

		_, err := t.page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
			Timeout:   playwright.Float(float64(t.opts.Timeout.Milliseconds())),
		})
		if err == nil {
			t.dismissConsent()
			return nil
		}

		lastErr = err
		t.logger.Warn("navigation failed", "error", err, "attempt", i+1)
	}

	return fmt.Errorf("failed after %d retries: %w", retries, lastErr)
}

// dismissConsent clicks the first visible consent button, if any.
func (t *tab) dismissConsent() {
	for _, selector := range t.opts.ConsentSelectors {
		button := t.page.Locator(selector).First()
		if visible, err := button.IsVisible(); err != nil || !visible {
			continue
		}
		if err := button.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(3000)}); err != nil {
			t.logger.Debug("consent click failed", "selector", selector, "error", err)
			continue
		}
		t.logger.Debug("consent dismissed", "selector", selector)
		return
	}
}

func (t *tab) Content() (string, error) {
	html, err := t.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}
	return html, nil
}

func (t *tab) Count(selector string) (int, error) {
	return t.page.Locator(selector).Count()
}

func (t *tab) ClickNth(selector string, i int) error {
	if err := t.page.Locator(selector).Nth(i).Click(); err != nil {
		return fmt.Errorf("failed to click %s[%d]: %w", selector, i, err)
	}
	return nil
}

func (t *tab) Scroll(ctx context.Context, steps int) error {
	for i := 0; i < steps; i++ {
		if _, err := t.page.Evaluate(`window.scrollBy(0, window.innerHeight)`); err != nil {
			return fmt.Errorf("failed to scroll: %w", err)
		}
		if err := Sleep(ctx, t.opts.ScrollPause); err != nil {
			return err
		}
	}
	return nil
}

func (t *tab) URL() string {
	return t.page.URL()
}

func (t *tab) Close() error {
	return t.page.Close()
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
