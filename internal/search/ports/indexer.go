package ports

import (
	"context"

	"github.com/tegendraads/registry/internal/domain/dataset"
	"github.com/tegendraads/registry/internal/domain/indexing"
)

// SourceReader pages through the dataset catalog. Pages must be requested
// with monotonically increasing offsets.
type SourceReader interface {
	ListPage(ctx context.Context, offset, limit int) (*dataset.Page, error)
}

// Converter maps one dataset to its index document. It may perform
// enrichment lookups and must be safe for concurrent use.
type Converter interface {
	Convert(ctx context.Context, d dataset.Dataset) (dataset.Document, error)
}

// IndexSink is the administrative and bulk-write surface of the search
// backend. It must tolerate concurrent BulkWrite calls.
type IndexSink interface {
	CreateIndex(ctx context.Context, name string, settings, mapping []byte) error
	// BulkWrite reports rejected documents and transport failures inside the
	// result; it never returns them as errors.
	BulkWrite(ctx context.Context, index string, docs []dataset.Document) indexing.BulkResult
	UpdateSettings(ctx context.Context, name string, settings []byte) error
	// SwapAlias points alias at index and detaches every previous index in
	// one atomic request.
	SwapAlias(ctx context.Context, alias, index string) error
	Close() error
}

// OrganizationLookup resolves organization keys for document enrichment.
type OrganizationLookup interface {
	GetOrganization(ctx context.Context, key string) (*dataset.Organization, error)
}
