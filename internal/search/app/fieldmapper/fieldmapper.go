// Package fieldmapper translates dataset search parameters to index fields
// and back. The table is fixed at build time and shared by the index mapping
// and the read API.
package fieldmapper

import (
	"fmt"
	"sort"
)

// SearchParameter names a public search filter.
type SearchParameter string

const (
	TaxonKey          SearchParameter = "TAXON_KEY"
	Continent         SearchParameter = "CONTINENT"
	Country           SearchParameter = "COUNTRY"
	PublishingCountry SearchParameter = "PUBLISHING_COUNTRY"
	Year              SearchParameter = "YEAR"
	Decade            SearchParameter = "DECADE"
	HostingOrg        SearchParameter = "HOSTING_ORG"
	Keyword           SearchParameter = "KEYWORD"
	License           SearchParameter = "LICENSE"
	ModifiedDate      SearchParameter = "MODIFIED_DATE"
	ProjectID         SearchParameter = "PROJECT_ID"
	PublishingOrg     SearchParameter = "PUBLISHING_ORG"
	RecordCount       SearchParameter = "RECORD_COUNT"
	Subtype           SearchParameter = "SUBTYPE"
	Type              SearchParameter = "TYPE"
	DatasetTitle      SearchParameter = "DATASET_TITLE"
)

// Mapping is one row of the parameter table.
type Mapping struct {
	Parameter SearchParameter `json:"parameter"`
	Field     string          `json:"field"`
}

// BoostedField is a full text field and its query weight.
type BoostedField struct {
	Field string  `json:"field"`
	Boost float64 `json:"boost"`
}

// Mapper is a bidirectional, read-only parameter table. Accessors return
// copies.
type Mapper struct {
	toField   map[SearchParameter]string
	toParam   map[string]SearchParameter
	exclude   []string
	suggest   []string
	highlight []string
	fullText  []BoostedField
}

var datasetMappings = []Mapping{
	{TaxonKey, "taxonKey"},
	{Continent, "continent"},
	{Country, "country"},
	{PublishingCountry, "publishingCountry"},
	{Year, "year"},
	{Decade, "decade"},
	{HostingOrg, "hostingOrganizationKey"},
	{Keyword, "keyword"},
	{License, "license"},
	{ModifiedDate, "modified"},
	{ProjectID, "project.identifier"},
	{PublishingOrg, "publishingOrganizationKey"},
	{RecordCount, "occurrenceCount"},
	{Subtype, "subtype"},
	{Type, "type"},
	{DatasetTitle, "title"},
}

// Datasets is the mapper for the dataset index.
var Datasets = mustNew(
	datasetMappings,
	[]string{"all", "taxonKey"},
	[]string{"title", "type", "subtype", "description"},
	[]string{"title", "description"},
	[]BoostedField{
		{"title", 20},
		{"keyword", 10},
		{"description", 8},
		{"publishingOrganizationTitle", 5},
		{"hostingOrganizationTitle", 5},
		{"metadata", 3},
		{"projectId", 2},
		{"all", 1},
	},
)

// New builds a mapper, rejecting tables that are not one-to-one.
func New(mappings []Mapping, exclude, suggest, highlight []string, fullText []BoostedField) (*Mapper, error) {
	m := &Mapper{
		toField:   make(map[SearchParameter]string, len(mappings)),
		toParam:   make(map[string]SearchParameter, len(mappings)),
		exclude:   append([]string(nil), exclude...),
		suggest:   append([]string(nil), suggest...),
		highlight: append([]string(nil), highlight...),
		fullText:  append([]BoostedField(nil), fullText...),
	}
	for _, mapping := range mappings {
		if _, dup := m.toField[mapping.Parameter]; dup {
			return nil, fmt.Errorf("parameter %s mapped twice", mapping.Parameter)
		}
		if _, dup := m.toParam[mapping.Field]; dup {
			return nil, fmt.Errorf("field %s mapped twice", mapping.Field)
		}
		m.toField[mapping.Parameter] = mapping.Field
		m.toParam[mapping.Field] = mapping.Parameter
	}
	return m, nil
}

func mustNew(mappings []Mapping, exclude, suggest, highlight []string, fullText []BoostedField) *Mapper {
	m, err := New(mappings, exclude, suggest, highlight, fullText)
	if err != nil {
		panic(err)
	}
	return m
}

// Field returns the index field behind p.
func (m *Mapper) Field(p SearchParameter) (string, bool) {
	f, ok := m.toField[p]
	return f, ok
}

// Parameter is the inverse of Field.
func (m *Mapper) Parameter(field string) (SearchParameter, bool) {
	p, ok := m.toParam[field]
	return p, ok
}

// ExcludeFields are stored in the index but never returned in results.
func (m *Mapper) ExcludeFields() []string {
	return append([]string(nil), m.exclude...)
}

// SuggestFields lists the fields queried for suggestions on p. A title
// suggestion searches several descriptive fields.
func (m *Mapper) SuggestFields(p SearchParameter) []string {
	if p == DatasetTitle {
		return append([]string(nil), m.suggest...)
	}
	if f, ok := m.toField[p]; ok {
		return []string{f}
	}
	return nil
}

func (m *Mapper) HighlightFields() []string {
	return append([]string(nil), m.highlight...)
}

func (m *Mapper) FullTextFields() []BoostedField {
	return append([]BoostedField(nil), m.fullText...)
}

// Mappings returns the table ordered by parameter name.
func (m *Mapper) Mappings() []Mapping {
	out := make([]Mapping, 0, len(m.toField))
	for p, f := range m.toField {
		out = append(out, Mapping{Parameter: p, Field: f})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Parameter < out[j].Parameter })
	return out
}
