// Package enrich caches the lookups the document converter makes for every
// dataset. A catalog has far fewer organizations than datasets, so most
// lookups during a rebuild are repeats.
package enrich

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tegendraads/registry/internal/domain/dataset"
	"github.com/tegendraads/registry/internal/search/ports"
	"github.com/tegendraads/registry/pkg/cache"
	"github.com/tegendraads/registry/pkg/logger"
	"github.com/tegendraads/registry/pkg/metrics"
)

const (
	DefaultCacheSize = 10000
	DefaultCacheTTL  = time.Hour

	cacheName = "organization"
)

// Options configures the organization cache.
type Options struct {
	Size int
	TTL  time.Duration
	// Shared is an optional second tier shared between indexer processes.
	Shared cache.Cache
}

// CachedOrganizations wraps an OrganizationLookup with an in-process LRU and
// an optional shared cache. Missing organizations are remembered locally as
// nil entries.
type CachedOrganizations struct {
	inner  ports.OrganizationLookup
	local  *expirable.LRU[string, *dataset.Organization]
	shared cache.Cache
	ttl    time.Duration
	logger logger.Logger
}

// NewCachedOrganizations wraps inner with a local LRU and, when opts.Shared is
// set, a cache shared between indexer processes.
func NewCachedOrganizations(inner ports.OrganizationLookup, opts Options, log logger.Logger) *CachedOrganizations {
	if opts.Size <= 0 {
		opts.Size = DefaultCacheSize
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultCacheTTL
	}

	return &CachedOrganizations{
		inner:  inner,
		local:  expirable.NewLRU[string, *dataset.Organization](opts.Size, nil, opts.TTL),
		shared: opts.Shared,
		ttl:    opts.TTL,
		logger: log,
	}
}

// GetOrganization returns the organization from cache, or asks inner on a miss.
func (c *CachedOrganizations) GetOrganization(ctx context.Context, key string) (*dataset.Organization, error) {
	if org, ok := c.local.Get(key); ok {
		metrics.RecordCacheHit(cacheName)
		if org == nil {
			return nil, dataset.ErrOrganizationNotFound
		}
		return org, nil
	}

	if c.shared != nil {
		var org dataset.Organization
		err := c.shared.Get(ctx, cache.Key(cacheName, key), &org)
		switch {
		case err == nil:
			metrics.RecordCacheHit(cacheName)
			c.local.Add(key, &org)
			return &org, nil
		case !errors.Is(err, cache.ErrCacheMiss):
			// The shared tier is best effort
			c.logger.Warn("Shared organization cache unavailable", "key", key, "error", err)
		}
	}
	metrics.RecordCacheMiss(cacheName)

	org, err := c.inner.GetOrganization(ctx, key)
	if errors.Is(err, dataset.ErrOrganizationNotFound) {
		c.local.Add(key, nil)
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	c.local.Add(key, org)
	if c.shared != nil {
		if err := c.shared.Set(ctx, cache.Key(cacheName, key), org, c.ttl); err != nil {
			c.logger.Warn("Failed to populate shared organization cache", "key", key, "error", err)
		}
	}
	return org, nil
}
