// Package lending talks to the lending backend and maps its entity states onto poll
// outcomes.
package lending

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vietddude/lendwatch/internal/core/domain"
)

// Config holds backend client settings.
type Config struct {
	BaseURL          string
	Timeout          time.Duration
	TransientRetries int
	RetryBase        time.Duration
}

// StatusError is a non-retryable HTTP response from the backend.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned http %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned http %d: %s", e.StatusCode, e.Body)
}

// Fetcher loads backend entities by id. A missing entity is returned as (nil, nil).
type Fetcher interface {
	FetchApplication(ctx context.Context, id string) (*domain.Application, error)
	FetchOffer(ctx context.Context, id string) (*domain.Offer, error)
}

// Client is an HTTP Fetcher for the lending backend REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	retries    uint64
	retryBase  time.Duration
}

var _ Fetcher = (*Client)(nil)

// NewClient creates a backend client.
func NewClient(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retryBase := cfg.RetryBase
	if retryBase <= 0 {
		retryBase = 250 * time.Millisecond
	}
	retries := 0
	if cfg.TransientRetries > 0 {
		retries = cfg.TransientRetries
	}

	return &Client{
		baseURL: base,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retries:   uint64(retries),
		retryBase: retryBase,
	}, nil
}

// FetchApplication loads an application by id.
func (c *Client) FetchApplication(ctx context.Context, id string) (*domain.Application, error) {
	var app domain.Application
	found, err := c.get(ctx, "/v1/applications/"+url.PathEscape(id), &app)
	if err != nil || !found {
		return nil, err
	}
	return &app, nil
}

// FetchOffer loads an offer batch by id.
func (c *Client) FetchOffer(ctx context.Context, id string) (*domain.Offer, error) {
	var offer domain.Offer
	found, err := c.get(ctx, "/v1/offers/"+url.PathEscape(id), &offer)
	if err != nil || !found {
		return nil, err
	}
	return &offer, nil
}

// get decodes the JSON body at path into out, retrying transient failures. It reports
// false without error when the backend answers 404.
func (c *Client) get(ctx context.Context, path string, out any) (bool, error) {
	endpoint := c.baseURL.JoinPath(path).String()
	backoff := retry.WithMaxRetries(c.retries, retry.NewExponential(c.retryBase))

	found := true
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retry.RetryableError(fmt.Errorf("request %s: %w", path, err))
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("read response: %w", err))
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			found = false
			return nil
		case isTransientStatus(resp.StatusCode):
			return retry.RetryableError(&StatusError{StatusCode: resp.StatusCode, Body: snippet(body)})
		case resp.StatusCode != http.StatusOK:
			return &StatusError{StatusCode: resp.StatusCode, Body: snippet(body)}
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("parse response: %w", err)
		}
		found = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

func isTransientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
