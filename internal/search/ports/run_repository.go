package ports

import (
	"context"

	"github.com/tegendraads/registry/internal/domain/indexing"
)

// RunRepository persists the rebuild ledger.
type RunRepository interface {
	Create(ctx context.Context, run *indexing.IndexRun) error
	Update(ctx context.Context, run *indexing.IndexRun) error
	GetByID(ctx context.Context, id string) (*indexing.IndexRun, error)
	List(ctx context.Context, limit int) ([]*indexing.IndexRun, error)
}
