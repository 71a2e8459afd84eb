// Package converter turns registry dataset records into index documents.
package converter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tegendraads/registry/internal/domain/dataset"
	"github.com/tegendraads/registry/internal/search/ports"
	"github.com/tegendraads/registry/pkg/logger"
)

// Temporal coverages wider than this are indexed by their bounds only.
const maxCoverageYears = 500

// DatasetConverter is safe for concurrent use when its lookup is.
type DatasetConverter struct {
	orgs   ports.OrganizationLookup
	logger logger.Logger
}

// New returns a converter. orgs may be nil, in which case organization
// titles are not resolved.
func New(orgs ports.OrganizationLookup, log logger.Logger) *DatasetConverter {
	return &DatasetConverter{orgs: orgs, logger: log}
}

// Convert builds the index document of d. Enrichment misses are logged and
// leave the enriched fields empty.
func (c *DatasetConverter) Convert(ctx context.Context, d dataset.Dataset) (dataset.Document, error) {
	if strings.TrimSpace(d.Key) == "" {
		return dataset.Document{}, errors.New("dataset has no key")
	}

	doc := map[string]interface{}{
		"key":   d.Key,
		"title": d.Title,
		"type":  string(d.Type),
	}
	putString(doc, "description", d.Description)
	putString(doc, "subtype", d.Subtype)
	putString(doc, "doi", d.DOI)
	putString(doc, "publishingCountry", d.PublishingCountry)
	putString(doc, "publishingOrganizationKey", d.PublishingOrganizationKey)
	putString(doc, "hostingOrganizationKey", d.HostingOrganizationKey)
	if d.License != "" {
		doc["license"] = string(d.License)
	}
	putTime(doc, "created", d.Created.Time)
	putTime(doc, "modified", d.Modified.Time)

	if len(d.CountryCoverage) > 0 {
		doc["country"] = d.CountryCoverage
	}
	if keywords := normalizeKeywords(d.Keywords); len(keywords) > 0 {
		doc["keyword"] = keywords
	}

	years := coverageYears(d.TemporalCoverages)
	if len(years) > 0 {
		doc["year"] = years
		doc["decade"] = decades(years)
	}

	if d.Project != nil && d.Project.Identifier != "" {
		doc["project"] = map[string]interface{}{
			"identifier": d.Project.Identifier,
			"title":      d.Project.Title,
		}
		doc["projectId"] = d.Project.Identifier
	}

	publisher, err := c.organizationTitle(ctx, d.PublishingOrganizationKey)
	if err != nil {
		return dataset.Document{}, err
	}
	putString(doc, "publishingOrganizationTitle", publisher)

	host, err := c.organizationTitle(ctx, d.HostingOrganizationKey)
	if err != nil {
		return dataset.Document{}, err
	}
	putString(doc, "hostingOrganizationTitle", host)

	doc["all"] = catchAll(d, publisher, host)
	doc["dataScore"] = dataScore(d)

	return dataset.Document{ID: d.Key, Source: doc}, nil
}

// organizationTitle resolves a title, treating an unknown organization as
// having none.
func (c *DatasetConverter) organizationTitle(ctx context.Context, key string) (string, error) {
	if c.orgs == nil || key == "" {
		return "", nil
	}

	org, err := c.orgs.GetOrganization(ctx, key)
	if errors.Is(err, dataset.ErrOrganizationNotFound) {
		c.logger.Debug("Organization not found", "organizationKey", key)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve organization %s: %w", key, err)
	}
	return org.Title, nil
}

func putString(doc map[string]interface{}, field, value string) {
	if value != "" {
		doc[field] = value
	}
}

func putTime(doc map[string]interface{}, field string, value time.Time) {
	if !value.IsZero() {
		doc[field] = value.UTC().Format(time.RFC3339)
	}
}

func normalizeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	out := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[strings.ToLower(k)]; dup {
			continue
		}
		seen[strings.ToLower(k)] = struct{}{}
		out = append(out, k)
	}
	return out
}

// coverageYears expands every temporal coverage into the sorted, distinct
// years it touches.
func coverageYears(coverages []dataset.TemporalCoverage) []int {
	set := map[int]struct{}{}
	for _, cov := range coverages {
		switch {
		case cov.Start != nil && cov.End != nil:
			from, to := cov.Start.Year(), cov.End.Year()
			if from > to {
				from, to = to, from
			}
			if to-from > maxCoverageYears {
				set[from] = struct{}{}
				set[to] = struct{}{}
				continue
			}
			for y := from; y <= to; y++ {
				set[y] = struct{}{}
			}
		case cov.Start != nil:
			set[cov.Start.Year()] = struct{}{}
		case cov.End != nil:
			set[cov.End.Year()] = struct{}{}
		}
	}

	years := make([]int, 0, len(set))
	for y := range set {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

func decades(years []int) []int {
	var out []int
	for _, y := range years {
		d := y - y%10
		if len(out) == 0 || out[len(out)-1] != d {
			out = append(out, d)
		}
	}
	return out
}

func catchAll(d dataset.Dataset, publisher, host string) string {
	parts := []string{d.Title, d.Description, publisher, host}
	parts = append(parts, d.Keywords...)
	if d.Project != nil {
		parts = append(parts, d.Project.Identifier, d.Project.Title)
	}

	var b strings.Builder
	for _, p := range parts {
		if p = strings.TrimSpace(p); p == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p)
	}
	return b.String()
}

// dataScore ranks well described datasets above sparse ones in full text
// search.
func dataScore(d dataset.Dataset) int {
	score := 0
	if d.Title != "" {
		score++
	}
	if len(d.Description) > 100 {
		score += 2
	} else if d.Description != "" {
		score++
	}
	if len(d.Keywords) > 0 {
		score++
	}
	if len(d.TemporalCoverages) > 0 {
		score++
	}
	if len(d.CountryCoverage) > 0 {
		score++
	}
	if d.Project != nil {
		score++
	}
	if d.DOI != "" {
		score++
	}
	if d.License != "" && d.License != dataset.LicenseUnspecified && d.License != dataset.LicenseUnsupported {
		score++
	}
	return score
}
