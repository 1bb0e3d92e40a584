// Package fetcher is the single retrying HTTP client every retailer call goes
// through, so the retry policy is the same for listings, details, extra
// details and filters.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/maltedev/catalog-ingest/internal/ratelimit"
)

const (
	DefaultTimeout   = 25 * time.Second
	DefaultBaseDelay = 500 * time.Millisecond
	DefaultMaxDelay  = 5 * time.Second

	maxBodySize = 32 << 20
)

var ErrFetchExhausted = errors.New("fetch retries exhausted")

// FetchExhaustedError is returned once every attempt has failed. It carries
// the last HTTP status (0 for network errors) and the last error.
type FetchExhaustedError struct {
	URL        string
	Attempts   int
	LastStatus int
	LastErr    error
}

func (e *FetchExhaustedError) Error() string {
	if e.LastStatus != 0 {
		return fmt.Sprintf("fetch %s: %d attempts, last status %d", e.URL, e.Attempts, e.LastStatus)
	}
	return fmt.Sprintf("fetch %s: %d attempts, last error: %v", e.URL, e.Attempts, e.LastErr)
}

func (e *FetchExhaustedError) Is(target error) bool { return target == ErrFetchExhausted }

func (e *FetchExhaustedError) Unwrap() error { return e.LastErr }

// StatusError reports a non-2xx response.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// Options are the per-request knobs, normally taken from a brand's politeness
// configuration.
type Options struct {
	MaxRetries int
	Timeout    time.Duration
	// RetryDelay overrides the fetcher's base backoff delay when positive.
	RetryDelay time.Duration
	Headers    map[string]string
	Limiter    ratelimit.Limiter
}

type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

type Fetcher struct {
	client    *http.Client
	BaseDelay time.Duration
	MaxDelay  time.Duration
	UserAgent string
}

func New(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{
		client:    client,
		BaseDelay: DefaultBaseDelay,
		MaxDelay:  DefaultMaxDelay,
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
}

// FetchWithRetry performs a GET with a per-attempt timeout. Non-2xx responses
// and network errors are retried up to opts.MaxRetries times with doubling
// backoff capped at MaxDelay. Context cancellation stops the loop at once.
func (f *Fetcher) FetchWithRetry(ctx context.Context, url string, opts Options) (*Response, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.BaseDelay
	if opts.RetryDelay > 0 {
		b.InitialInterval = opts.RetryDelay
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = f.MaxDelay

	var (
		attempts   int
		lastStatus int
		lastErr    error
	)
	operation := func() (*Response, error) {
		attempts++
		resp, err := f.do(ctx, url, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(ctx.Err())
			}
			lastErr = err
			var se *StatusError
			if errors.As(err, &se) {
				lastStatus = se.StatusCode
			} else {
				lastStatus = 0
			}
			return nil, err
		}
		return resp, nil
	}

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(opts.MaxRetries+1)),
	)
	if err == nil {
		return resp, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	return nil, &FetchExhaustedError{
		URL:        url,
		Attempts:   attempts,
		LastStatus: lastStatus,
		LastErr:    lastErr,
	}
}

func (f *Fetcher) do(ctx context.Context, url string, opts Options) (*Response, error) {
	if opts.Limiter != nil {
		if err := opts.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("User-Agent", f.UserAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	res, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, &StatusError{StatusCode: res.StatusCode}
	}

	return &Response{
		URL:        url,
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       body,
	}, nil
}

// GetJSON fetches url and decodes the body into out.
func (f *Fetcher) GetJSON(ctx context.Context, url string, opts Options, out any) error {
	resp, err := f.FetchWithRetry(ctx, url, opts)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", url, err)
	}
	return nil
}
