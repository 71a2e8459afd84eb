package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tegendraads/registry/internal/domain/indexing"
	"github.com/tegendraads/registry/pkg/database"
)

const defaultListLimit = 20

// RunRepository stores the index run ledger.
type RunRepository struct {
	db *database.DB
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *database.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create inserts a new run
func (r *RunRepository) Create(ctx context.Context, run *indexing.IndexRun) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("create index run: %w", err)
	}
	return nil
}

// Update saves every field of run
func (r *RunRepository) Update(ctx context.Context, run *indexing.IndexRun) error {
	if err := r.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("update index run %s: %w", run.ID, err)
	}
	return nil
}

// GetByID returns indexing.ErrRunNotFound for an unknown id.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*indexing.IndexRun, error) {
	var run indexing.IndexRun
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, indexing.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get index run %s: %w", id, err)
	}
	return &run, nil
}

// List returns the most recent runs first.
func (r *RunRepository) List(ctx context.Context, limit int) ([]*indexing.IndexRun, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	var runs []*indexing.IndexRun
	err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("list index runs: %w", err)
	}
	return runs, nil
}
