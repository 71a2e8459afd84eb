// Package builder rebuilds the dataset search index without downtime: it
// loads every catalog page into a freshly created index and only then
// repoints the serving alias at it.
package builder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tegendraads/registry/internal/domain/dataset"
	"github.com/tegendraads/registry/internal/domain/indexing"
	"github.com/tegendraads/registry/internal/search/app/queue"
	"github.com/tegendraads/registry/internal/search/ports"
	"github.com/tegendraads/registry/pkg/logger"
	"github.com/tegendraads/registry/pkg/metrics"
	"github.com/tegendraads/registry/pkg/telemetry"
)

// DefaultPageSize is the listing page size used when Options leaves it unset.
const DefaultPageSize = 100

// SinkFactory opens the connection to the search backend for one run.
type SinkFactory func() (ports.IndexSink, error)

// Options configures a Builder. Settings and mapping are raw index JSON.
type Options struct {
	Alias       string
	IndexPrefix string
	PageSize    int
	Workers     int
	QueueSize   int
	// JobTimeout caps conversion plus bulk write of one page; zero leaves
	// jobs unbounded. The bulk request itself is bounded by the sink.
	JobTimeout  time.Duration

	BuildSettings   []byte
	ServingSettings []byte
	Mapping         []byte
}

// Builder drives one rebuild per Build call. Concurrent Build calls are not
// coordinated here; callers that need single-flight wrap it.
type Builder struct {
	source    ports.SourceReader
	converter ports.Converter
	newSink   SinkFactory
	opts      Options
	logger    logger.Logger
	telemetry *telemetry.Telemetry
	now       func() time.Time
}

// New creates a builder. A nil tel disables tracing.
func New(
	source ports.SourceReader,
	converter ports.Converter,
	newSink SinkFactory,
	opts Options,
	log logger.Logger,
	tel *telemetry.Telemetry,
) (*Builder, error) {
	if source == nil || converter == nil || newSink == nil {
		return nil, errors.New("builder requires a source, a converter and a sink factory")
	}
	if opts.Alias == "" || opts.IndexPrefix == "" {
		return nil, errors.New("builder requires an alias and an index prefix")
	}
	if len(opts.BuildSettings) == 0 || len(opts.ServingSettings) == 0 || len(opts.Mapping) == 0 {
		return nil, errors.New("builder requires build settings, serving settings and a mapping")
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if tel == nil {
		tel = telemetry.NewNop()
	}

	return &Builder{
		source:    source,
		converter: converter,
		newSink:   newSink,
		opts:      opts,
		logger:    log,
		telemetry: tel,
		now:       time.Now,
	}, nil
}

// Alias is the serving alias this builder promotes.
func (b *Builder) Alias() string {
	return b.opts.Alias
}

// Build runs INIT → CREATING_INDEX → PAGING → AWAITING_JOBS →
// PROMOTING_SETTINGS → SWAPPING_ALIAS → DONE. Rejected documents and failed
// bulk jobs are reported in the summary and do not fail the run; only index
// creation, promotion, an unreadable source or cancellation do. Any failure
// before the alias swap leaves the alias untouched.
func (b *Builder) Build(ctx context.Context) (indexing.Summary, error) {
	r := &run{
		Builder: b,
		summary: indexing.Summary{
			Alias:     b.opts.Alias,
			State:     indexing.StateInit,
			StartedAt: b.now(),
		},
	}

	ctx, span := b.telemetry.StartSpan(ctx, "index.rebuild", telemetry.AliasAttribute(b.opts.Alias))
	err := r.execute(ctx)
	r.finish(err)
	telemetry.EndSpan(span, err)

	return r.summary, err
}

// run holds the state of a single Build invocation.
type run struct {
	*Builder
	summary indexing.Summary
	log     logger.Logger
}

type pendingJob struct {
	job     *queue.Job
	offset  int
	records int
}

func (r *run) execute(ctx context.Context) error {
	r.log = r.logger

	sink, err := r.newSink()
	if err != nil {
		return r.fail(indexing.NewRunError(indexing.StateInit, "", indexing.ErrFatalSetup, err))
	}
	defer func() {
		if err := sink.Close(); err != nil {
			r.log.Warn("Failed to close index sink", "error", err)
		}
	}()

	index := fmt.Sprintf("%s_%d", r.opts.IndexPrefix, r.summary.StartedAt.UnixMilli())
	r.summary.Index = index
	r.log = r.logger.With("index", index, "alias", r.opts.Alias)
	r.log.Info("Building a new dataset index", "pageSize", r.opts.PageSize, "workers", r.opts.Workers)

	r.transition(indexing.StateCreatingIndex)
	if err := r.phase(ctx, "index.create", func(ctx context.Context) error {
		return sink.CreateIndex(ctx, index, r.opts.BuildSettings, r.opts.Mapping)
	}); err != nil {
		return r.fail(indexing.NewRunError(indexing.StateCreatingIndex, index, indexing.ErrFatalSetup, err))
	}

	r.transition(indexing.StatePaging)
	pool := queue.NewWorkerPool(queue.WorkerPoolConfig{
		Workers:     r.opts.Workers,
		QueueSize:   r.opts.QueueSize,
		TaskTimeout: r.opts.JobTimeout,
	}, r.log)
	// Submitted jobs always run to completion, even if ctx is cancelled.
	pool.Start(context.WithoutCancel(ctx))

	jobs, pageErr := r.page(ctx, pool, sink, index)

	r.transition(indexing.StateAwaitingJobs)
	pool.Wait()
	r.summary.PeakConcurrency = int(pool.Stats().PeakActive)
	r.collect(jobs)

	if pageErr != nil {
		return r.fail(pageErr)
	}
	if err := ctx.Err(); err != nil {
		return r.fail(indexing.NewRunError(indexing.StateAwaitingJobs, index, indexing.ErrCancelled, err))
	}

	r.transition(indexing.StatePromoting)
	if err := r.phase(ctx, "index.promote", func(ctx context.Context) error {
		return sink.UpdateSettings(ctx, index, r.opts.ServingSettings)
	}); err != nil {
		return r.fail(indexing.NewRunError(indexing.StatePromoting, index, indexing.ErrFatalPromotion, err))
	}

	r.transition(indexing.StateSwappingAlias)
	if err := r.phase(ctx, "index.swap_alias", func(ctx context.Context) error {
		return sink.SwapAlias(ctx, r.opts.Alias, index)
	}); err != nil {
		return r.fail(indexing.NewRunError(indexing.StateSwappingAlias, index, indexing.ErrFatalPromotion, err))
	}

	r.transition(indexing.StateDone)
	return nil
}

// page fetches pages strictly in sequence and hands each one to the pool
// without waiting for its write.
func (r *run) page(ctx context.Context, pool *queue.WorkerPool, sink ports.IndexSink, index string) ([]pendingJob, error) {
	var jobs []pendingJob

	for offset := 0; ; offset += r.opts.PageSize {
		if err := ctx.Err(); err != nil {
			return jobs, indexing.NewRunError(indexing.StatePaging, index, indexing.ErrCancelled, err)
		}

		r.log.Debug("Requesting datasets", "offset", offset, "limit", r.opts.PageSize)
		page, err := r.source.ListPage(ctx, offset, r.opts.PageSize)
		if err != nil {
			return jobs, indexing.NewRunError(indexing.StatePaging, index, indexing.ErrSource,
				fmt.Errorf("list datasets at offset %d: %w", offset, err))
		}
		r.summary.Pages++
		metrics.PagesFetched.Inc()

		job, err := pool.Submit(ctx, r.bulkTask(sink, index, offset, page))
		if err != nil {
			return jobs, indexing.NewRunError(indexing.StatePaging, index, indexing.ErrCancelled, err)
		}
		jobs = append(jobs, pendingJob{job: job, offset: offset, records: page.Size()})

		if page.EndOfRecords {
			return jobs, nil
		}
		if page.Size() == 0 {
			// An empty page that is not flagged as the end would repeat forever
			r.log.Warn("Source returned an empty page without end of records, stopping", "offset", offset)
			return jobs, nil
		}
	}
}

// bulkTask converts one page and writes it. Conversion failures, and records
// the source could not decode, are kept per record; the rest of the page is
// still written.
func (r *run) bulkTask(sink ports.IndexSink, index string, offset int, page *dataset.Page) queue.Task {
	records := page.Results
	return func(ctx context.Context) indexing.BulkResult {
		start := time.Now()
		ctx, span := r.telemetry.StartSpan(ctx, "index.bulk",
			telemetry.IndexAttribute(index),
			telemetry.OffsetAttribute(offset),
			telemetry.DocumentCountAttribute(page.Size()),
		)

		docs := make([]dataset.Document, 0, len(records))
		var conversionFailures []indexing.DocumentFailure
		for _, invalid := range page.Invalid {
			conversionFailures = append(conversionFailures, indexing.DocumentFailure{
				ID:     invalid.Key,
				Type:   "decode_error",
				Reason: invalid.Reason,
			})
		}
		for _, record := range records {
			doc, err := r.convert(ctx, record)
			if err != nil {
				conversionFailures = append(conversionFailures, indexing.DocumentFailure{
					ID:     record.Key,
					Type:   "conversion_error",
					Reason: err.Error(),
				})
				continue
			}
			docs = append(docs, doc)
		}

		var result indexing.BulkResult
		if len(docs) > 0 {
			r.log.Info("Indexing datasets", "offset", offset, "documents", len(docs))
			result = sink.BulkWrite(ctx, index, docs)
		}
		result.Offset = offset
		result.Records = page.Size()
		result.Submitted = len(docs)
		result.ConversionFailures = conversionFailures
		result.Duration = time.Since(start)

		telemetry.EndSpan(span, result.TransportErr)
		return result
	}
}

// convert contains both errors and panics to the single record.
func (r *run) convert(ctx context.Context, record dataset.Dataset) (doc dataset.Document, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", indexing.ErrConversion, p)
		}
	}()

	doc, err = r.converter.Convert(ctx, record)
	if err != nil {
		return dataset.Document{}, fmt.Errorf("%w: %v", indexing.ErrConversion, err)
	}
	if doc.ID != record.Key {
		return dataset.Document{}, fmt.Errorf("%w: document id %q does not match record key %q",
			indexing.ErrConversion, doc.ID, record.Key)
	}
	return doc, nil
}

// collect reads every resolved job in submission order and logs failures
// with full detail.
func (r *run) collect(jobs []pendingJob) {
	for _, p := range jobs {
		result := p.job.Result()
		if result.Records == 0 && p.records > 0 {
			// The task panicked before it could describe its page
			result.Offset = p.offset
			result.Records = p.records
		}
		r.summary.Add(result)
		r.record(result)
	}
}

func (r *run) record(result indexing.BulkResult) {
	seconds := result.Duration.Seconds()
	metrics.RecordDocuments(metrics.OutcomeIndexed, result.Indexed)
	metrics.RecordDocuments(metrics.OutcomeRejected, len(result.Rejected))
	metrics.RecordDocuments(metrics.OutcomeConversionError, len(result.ConversionFailures))

	if len(result.ConversionFailures) > 0 {
		r.log.Error("Error converting datasets",
			"jobId", result.JobID,
			"offset", result.Offset,
			"failures", result.ConversionFailures,
		)
	}

	switch {
	case result.TransportFailed():
		metrics.RecordDocuments(metrics.OutcomeTransportError, result.Submitted)
		metrics.RecordBulkJob(metrics.OutcomeTransportError, seconds)
		r.log.Error("Error executing indexing job",
			"jobId", result.JobID,
			"offset", result.Offset,
			"documents", result.Submitted,
			"error", result.TransportErr,
		)
	case len(result.Rejected) > 0:
		metrics.RecordBulkJob(metrics.OutcomePartial, seconds)
		r.log.Error("Error in indexing job",
			"jobId", result.JobID,
			"offset", result.Offset,
			"indexed", result.Indexed,
			"rejected", len(result.Rejected),
			"failures", result.Rejected,
			"error", result.Err(),
		)
	default:
		metrics.RecordBulkJob(metrics.OutcomeSucceeded, seconds)
		r.log.Debug("Indexing job completed",
			"jobId", result.JobID,
			"offset", result.Offset,
			"indexed", result.Indexed,
			"duration", result.Duration,
		)
	}
}

func (r *run) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := r.telemetry.StartSpan(ctx, name, telemetry.IndexAttribute(r.summary.Index))
	err := fn(ctx)
	telemetry.EndSpan(span, err)
	return err
}

func (r *run) transition(to indexing.State) {
	r.log.Debug("Index build state change", "from", r.summary.State, "to", to)
	r.summary.State = to
}

func (r *run) fail(err error) error {
	r.transition(indexing.StateFailed)
	return err
}

func (r *run) finish(err error) {
	r.summary.FinishedAt = r.now()
	r.summary.Elapsed = r.summary.FinishedAt.Sub(r.summary.StartedAt)
	metrics.RecordRun(string(r.summary.State), r.summary.Elapsed.Seconds())

	fields := []interface{}{
		"state", r.summary.State,
		"pages", r.summary.Pages,
		"jobs", r.summary.Jobs,
		"documentsProcessed", r.summary.DocumentsProcessed,
		"documentsIndexed", r.summary.DocumentsIndexed,
		"documentsFailed", r.summary.DocumentsFailed,
		"conversionFailures", r.summary.ConversionFailures,
		"transportFailures", r.summary.TransportFailures,
		"peakConcurrency", r.summary.PeakConcurrency,
		"elapsed", r.summary.Elapsed.String(),
	}

	if err != nil {
		r.log.Error("Failed building dataset index", append(fields, "error", err)...)
		return
	}
	r.log.Info("Finished building dataset index", fields...)
}
