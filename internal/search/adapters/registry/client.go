// Package registry reads the dataset catalog and organizations from the
// registry web service.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tegendraads/registry/internal/domain/dataset"
	"github.com/tegendraads/registry/pkg/codec"
	"github.com/tegendraads/registry/pkg/logger"
	"github.com/tegendraads/registry/pkg/ratelimit"
	"github.com/tegendraads/registry/pkg/resilience"
)

// ErrNotFound is returned for a 404 answer.
var ErrNotFound = errors.New("registry resource not found")

// StatusError is a non-2xx answer from the registry.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("registry %s returned %d: %s", e.URL, e.StatusCode, e.Body)
}

// Config configures a registry Client. Zero values fall back to defaults.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// RateLimit in requests per second; zero disables limiting.
	RateLimit float64
	Burst     int
	Breaker   resilience.CircuitBreakerConfig
	Codec     codec.Codec
}

// Client is a read-only registry client. It implements both the catalog
// source and the organization lookup.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	codec   codec.Codec
	limiter ratelimit.Limiter
	breaker *resilience.CircuitBreaker
	logger  logger.Logger
}

// NewClient creates a registry client rooted at cfg.BaseURL
func NewClient(cfg Config, log logger.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid registry url %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid registry url %q: scheme must be http or https", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	breaker := cfg.Breaker
	if breaker.Name == "" {
		breaker = resilience.DefaultCircuitBreakerConfig("registry")
	}
	jsonCodec := cfg.Codec
	if jsonCodec.IsZero() {
		jsonCodec = codec.Default()
	}

	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		codec:   jsonCodec,
		limiter: ratelimit.NewTokenBucketLimiter(cfg.RateLimit, cfg.Burst),
		breaker: resilience.NewCircuitBreaker(breaker),
		logger:  log,
	}, nil
}

// ListPage fetches GET /dataset?offset=&limit=.
func (c *Client) ListPage(ctx context.Context, offset, limit int) (*dataset.Page, error) {
	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(limit))

	var raw rawPage
	if err := c.get(ctx, "dataset", query, &raw); err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}

	page := &dataset.Page{
		Offset:       raw.Offset,
		Limit:        raw.Limit,
		EndOfRecords: raw.EndOfRecords,
		Count:        raw.Count,
		Results:      make([]dataset.Dataset, 0, len(raw.Results)),
	}
	for _, record := range raw.Results {
		var d dataset.Dataset
		if err := c.codec.Unmarshal(record, &d); err != nil {
			invalid := dataset.InvalidRecord{Key: recordKey(c.codec, record), Reason: err.Error()}
			c.logger.Warn("Skipping undecodable dataset", "key", invalid.Key, "offset", offset, "error", err)
			page.Invalid = append(page.Invalid, invalid)
			continue
		}
		page.Results = append(page.Results, d)
	}
	return page, nil
}

// rawPage defers decoding of each listed record so one malformed record
// cannot fail the whole page.
type rawPage struct {
	Offset       int               `json:"offset"`
	Limit        int               `json:"limit"`
	EndOfRecords bool              `json:"endOfRecords"`
	Count        *int64            `json:"count,omitempty"`
	Results      []json.RawMessage `json:"results"`
}

func recordKey(jsonCodec codec.Codec, record json.RawMessage) string {
	var keyed struct {
		Key string `json:"key"`
	}
	if err := jsonCodec.Unmarshal(record, &keyed); err != nil {
		return ""
	}
	return keyed.Key
}

// GetOrganization fetches GET /organization/{key}. A missing organization
// yields dataset.ErrOrganizationNotFound.
func (c *Client) GetOrganization(ctx context.Context, key string) (*dataset.Organization, error) {
	var org dataset.Organization
	err := c.get(ctx, "organization/"+url.PathEscape(key), nil, &org)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get organization %s: %w", key, dataset.ErrOrganizationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get organization %s: %w", key, err)
	}
	return &org, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, dest interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	endpoint := c.baseURL.JoinPath(path)
	endpoint.RawQuery = query.Encode()
	target := endpoint.String()

	var notFound bool
	err := c.breaker.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		res, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()

		switch {
		case res.StatusCode == http.StatusNotFound:
			// A missing resource is an answer, not an outage
			notFound = true
			return nil
		case res.StatusCode < 200 || res.StatusCode >= 300:
			body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
			return &StatusError{URL: target, StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
		}

		if err := c.codec.Decode(res.Body, dest); err != nil {
			return fmt.Errorf("decode %s: %w", target, err)
		}
		return nil
	})
	if err != nil {
		c.logger.Debug("Registry request failed", "url", target, "error", err)
		return err
	}
	if notFound {
		return ErrNotFound
	}
	return nil
}
