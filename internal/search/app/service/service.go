package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tegendraads/registry/internal/domain/indexing"
	"github.com/tegendraads/registry/internal/search/ports"
	"github.com/tegendraads/registry/pkg/events"
	"github.com/tegendraads/registry/pkg/logger"
	"github.com/tegendraads/registry/pkg/metrics"
)

const publishTimeout = 10 * time.Second

// Rebuilder performs one index rebuild.
type Rebuilder interface {
	Build(ctx context.Context) (indexing.Summary, error)
	Alias() string
}

// Config configures the rebuild service.
type Config struct {
	// PushgatewayURL receives metrics after every run; empty disables it.
	PushgatewayURL string
	MetricsJob     string
}

// RebuildService runs at most one rebuild at a time and records every
// attempt in the run ledger.
type RebuildService struct {
	builder   Rebuilder
	runs      ports.RunRepository
	publisher events.Publisher
	config    Config
	logger    logger.Logger

	running int32
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	now     func() time.Time
}

// NewRebuildService creates a new rebuild service
func NewRebuildService(
	builder Rebuilder,
	runs ports.RunRepository,
	publisher events.Publisher,
	config Config,
	logger logger.Logger,
) *RebuildService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RebuildService{
		builder:   builder,
		runs:      runs,
		publisher: publisher,
		config:    config,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}
}

// Rebuild runs a rebuild in the calling goroutine. It returns
// indexing.ErrRebuildInProgress when another rebuild holds the service.
func (s *RebuildService) Rebuild(ctx context.Context, trigger indexing.Trigger) (*indexing.IndexRun, error) {
	run, err := s.begin(ctx, trigger)
	if err != nil {
		return nil, err
	}
	err = s.execute(ctx, run)
	return run, err
}

// Trigger starts a rebuild in the background and returns the ledger entry
// as it was when the run started. Background runs are bound to the service
// lifetime, not to ctx.
func (s *RebuildService) Trigger(ctx context.Context, trigger indexing.Trigger) (*indexing.IndexRun, error) {
	run, err := s.begin(ctx, trigger)
	if err != nil {
		return nil, err
	}
	started := *run

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_ = s.execute(s.ctx, run)
	}()

	return &started, nil
}

// Running reports whether a rebuild is in progress.
func (s *RebuildService) Running() bool {
	return atomic.LoadInt32(&s.running) == 1
}

// GetRun returns one ledger entry.
func (s *RebuildService) GetRun(ctx context.Context, id string) (*indexing.IndexRun, error) {
	return s.runs.GetByID(ctx, id)
}

// ListRuns returns the most recent runs first.
func (s *RebuildService) ListRuns(ctx context.Context, limit int) ([]*indexing.IndexRun, error) {
	return s.runs.List(ctx, limit)
}

// Close cancels background runs and waits for them. A cancelled run stops
// at the next page boundary and never moves the alias.
func (s *RebuildService) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *RebuildService) begin(ctx context.Context, trigger indexing.Trigger) (*indexing.IndexRun, error) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return nil, indexing.ErrRebuildInProgress
	}

	run := &indexing.IndexRun{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		State:     indexing.StateInit,
		Alias:     s.builder.Alias(),
		StartedAt: s.now().UTC(),
	}
	// The ledger is bookkeeping; a broken database must not block a rebuild
	if err := s.runs.Create(ctx, run); err != nil {
		s.logger.Error("Failed to record index run", "runId", run.ID, "error", err)
	}

	s.logger.Info("Index rebuild started", "runId", run.ID, "trigger", trigger)
	return run, nil
}

func (s *RebuildService) execute(ctx context.Context, run *indexing.IndexRun) error {
	defer atomic.StoreInt32(&s.running, 0)

	summary, err := s.builder.Build(ctx)
	run.Apply(summary, err)

	// Bookkeeping still happens when the run was cancelled
	ctx = context.WithoutCancel(ctx)
	if uerr := s.runs.Update(ctx, run); uerr != nil {
		s.logger.Error("Failed to update index run", "runId", run.ID, "error", uerr)
	}

	s.publish(ctx, run, err)

	if perr := metrics.Push(s.config.PushgatewayURL, s.config.MetricsJob); perr != nil {
		s.logger.Warn("Failed to push metrics", "error", perr)
	}

	return err
}

func (s *RebuildService) publish(ctx context.Context, run *indexing.IndexRun, runErr error) {
	eventType := events.TypeIndexRebuilt
	if runErr != nil {
		eventType = events.TypeIndexFailed
	}

	builder := events.NewEventBuilder(eventType).
		WithAggregateID(run.ID).
		WithAggregateType("index_run").
		WithPayload("alias", run.Alias).
		WithPayload("index", run.IndexName).
		WithPayload("state", run.State).
		WithPayload("trigger", run.Trigger).
		WithPayload("documentsIndexed", run.DocumentsIndexed).
		WithPayload("documentsFailed", run.DocumentsFailed).
		WithPayload("elapsedMillis", run.ElapsedMillis)
	if runErr != nil {
		builder = builder.WithPayload("error", runErr.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := s.publisher.Publish(ctx, builder.Build()); err != nil {
		s.logger.Warn("Failed to publish index event", "runId", run.ID, "type", eventType, "error", err)
		return
	}
	metrics.RecordEventPublished(eventType)
}
