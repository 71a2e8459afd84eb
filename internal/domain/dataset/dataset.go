package dataset

import (
	"errors"
)

// ErrOrganizationNotFound means the registry has no such organization.
var ErrOrganizationNotFound = errors.New("organization not found")

// DatasetType is the registry classification of a dataset
type DatasetType string

const (
	TypeOccurrence     DatasetType = "OCCURRENCE"
	TypeChecklist      DatasetType = "CHECKLIST"
	TypeSamplingEvent  DatasetType = "SAMPLING_EVENT"
	TypeMetadata       DatasetType = "METADATA"
	TypeMaterialEntity DatasetType = "MATERIAL_ENTITY"
)

// Dataset is a registry catalog record as returned by the listing endpoint.
// The indexer never modifies it; the converter derives a Document from it.
type Dataset struct {
	Key                       string             `json:"key"`
	Title                     string             `json:"title"`
	Description               string             `json:"description,omitempty"`
	Type                      DatasetType        `json:"type"`
	Subtype                   string             `json:"subtype,omitempty"`
	License                   License            `json:"license"`
	DOI                       string             `json:"doi,omitempty"`
	PublishingOrganizationKey string             `json:"publishingOrganizationKey"`
	HostingOrganizationKey    string             `json:"installationHostingOrganizationKey,omitempty"`
	PublishingCountry         string             `json:"publishingCountry,omitempty"`
	Keywords                  []string           `json:"keywords,omitempty"`
	CountryCoverage           []string           `json:"countryCoverage,omitempty"`
	TemporalCoverages         []TemporalCoverage `json:"temporalCoverages,omitempty"`
	Project                   *Project           `json:"project,omitempty"`
	Created                   Timestamp          `json:"created"`
	Modified                  Timestamp          `json:"modified"`
}

type Project struct {
	Identifier string `json:"identifier,omitempty"`
	Title      string `json:"title,omitempty"`
}

// TemporalCoverage is a closed date range; either end may be missing.
type TemporalCoverage struct {
	Start *Timestamp `json:"start,omitempty"`
	End   *Timestamp `json:"end,omitempty"`
}

// Organization is the subset of a registry organization used for enrichment.
type Organization struct {
	Key     string `json:"key"`
	Title   string `json:"title"`
	Country string `json:"country,omitempty"`
}

// Page is one offset-addressed slice of the dataset listing.
type Page struct {
	Offset       int       `json:"offset"`
	Limit        int       `json:"limit"`
	EndOfRecords bool      `json:"endOfRecords"`
	Count        *int64    `json:"count,omitempty"`
	Results      []Dataset `json:"results"`

	// Invalid holds listed records that could not be decoded. They count
	// as failed records of the page, never as a failed page.
	Invalid []InvalidRecord `json:"-"`
}

// Size is the number of records the page listed, decodable or not.
func (p *Page) Size() int {
	return len(p.Results) + len(p.Invalid)
}

// InvalidRecord is a listed record the indexer could not read. Key is empty
// when not even the key could be recovered.
type InvalidRecord struct {
	Key    string
	Reason string
}

// Document is the index-ready form of a Dataset, keyed by the dataset key.
type Document struct {
	ID     string
	Source map[string]interface{}
}
