package builder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tegendraads/registry/internal/domain/dataset"
	"github.com/tegendraads/registry/internal/domain/indexing"
	"github.com/tegendraads/registry/internal/search/ports"
	"github.com/tegendraads/registry/pkg/logger"
)

type fakeSource struct {
	mu      sync.Mutex
	records []dataset.Dataset
	offsets []int
	failAt  int
	err     error
	onPage  func(offset int)
	invalid map[int][]dataset.InvalidRecord
}

func newFakeSource(n int) *fakeSource {
	records := make([]dataset.Dataset, n)
	for i := range records {
		records[i] = dataset.Dataset{Key: fmt.Sprintf("ds-%04d", i), Title: fmt.Sprintf("Dataset %d", i)}
	}
	return &fakeSource{records: records, failAt: -1}
}

func (s *fakeSource) ListPage(ctx context.Context, offset, limit int) (*dataset.Page, error) {
	s.mu.Lock()
	s.offsets = append(s.offsets, offset)
	s.mu.Unlock()

	if s.onPage != nil {
		s.onPage(offset)
	}
	if s.failAt >= 0 && offset >= s.failAt {
		return nil, s.err
	}

	end := offset + limit
	if end > len(s.records) {
		end = len(s.records)
	}
	var results []dataset.Dataset
	if offset < len(s.records) {
		results = append(results, s.records[offset:end]...)
	}
	return &dataset.Page{
		Offset:       offset,
		Limit:        limit,
		EndOfRecords: end >= len(s.records),
		Results:      results,
		Invalid:      s.invalid[offset],
	}, nil
}

type fakeConverter struct {
	fail  map[string]bool
	panic map[string]bool
}

func (c *fakeConverter) Convert(ctx context.Context, d dataset.Dataset) (dataset.Document, error) {
	if c.panic[d.Key] {
		panic("broken record")
	}
	if c.fail[d.Key] {
		return dataset.Document{}, errors.New("unconvertible")
	}
	return dataset.Document{ID: d.Key, Source: map[string]interface{}{"title": d.Title}}, nil
}

type fakeSink struct {
	mu sync.Mutex

	calls   []string
	indices map[string]map[string]map[string]interface{}
	aliases map[string]string
	closed  int

	createErr   error
	settingsErr error
	swapErr     error

	reject       map[string]bool
	transportJob map[int]bool
	bulkDelay    time.Duration
	bulkCalls    int

	active    int32
	maxActive int32

	deadlines []bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		indices: map[string]map[string]map[string]interface{}{},
		aliases: map[string]string{},
	}
}

func (s *fakeSink) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *fakeSink) count(call string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (s *fakeSink) CreateIndex(ctx context.Context, name string, settings, mapping []byte) error {
	s.record("createIndex")
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	s.indices[name] = map[string]map[string]interface{}{}
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) BulkWrite(ctx context.Context, index string, docs []dataset.Document) indexing.BulkResult {
	s.record("bulk")

	active := atomic.AddInt32(&s.active, 1)
	defer atomic.AddInt32(&s.active, -1)
	for {
		peak := atomic.LoadInt32(&s.maxActive)
		if active <= peak || atomic.CompareAndSwapInt32(&s.maxActive, peak, active) {
			break
		}
	}
	if s.bulkDelay > 0 {
		time.Sleep(s.bulkDelay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	call := s.bulkCalls
	s.bulkCalls++
	_, hasDeadline := ctx.Deadline()
	s.deadlines = append(s.deadlines, hasDeadline)

	result := indexing.BulkResult{Submitted: len(docs)}
	if s.transportJob[call] {
		result.TransportErr = errors.New("connection reset")
		return result
	}
	for _, doc := range docs {
		if s.reject[doc.ID] {
			result.Rejected = append(result.Rejected, indexing.DocumentFailure{
				ID: doc.ID, Status: 400, Type: "mapper_parsing_exception", Reason: "bad field",
			})
			continue
		}
		s.indices[index][doc.ID] = doc.Source
		result.Indexed++
	}
	return result
}

func (s *fakeSink) UpdateSettings(ctx context.Context, name string, settings []byte) error {
	s.record("updateSettings")
	return s.settingsErr
}

func (s *fakeSink) SwapAlias(ctx context.Context, alias, index string) error {
	s.record("swapAlias")
	if s.swapErr != nil {
		return s.swapErr
	}
	s.mu.Lock()
	s.aliases[alias] = index
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSink) lastCall() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.calls) == 0 {
		return ""
	}
	return s.calls[len(s.calls)-1]
}

func (s *fakeSink) docs(alias string) map[string]map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indices[s.aliases[alias]]
}

func testOptions() Options {
	return Options{
		Alias:           "dataset",
		IndexPrefix:     "dataset",
		PageSize:        100,
		Workers:         2,
		BuildSettings:   []byte(`{"index":{"refresh_interval":"-1"}}`),
		ServingSettings: []byte(`{"index":{"refresh_interval":"1s"}}`),
		Mapping:         []byte(`{"properties":{}}`),
	}
}

func newTestBuilder(t *testing.T, source ports.SourceReader, conv *fakeConverter, sink *fakeSink, opts Options) *Builder {
	t.Helper()
	b, err := New(source, conv, func() (ports.IndexSink, error) { return sink, nil }, opts, logger.NewNop(), nil)
	require.NoError(t, err)

	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b.now = func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}
	return b
}

func TestBuild_IndexesEveryPageAndSwapsAliasLast(t *testing.T) {
	source := newFakeSource(250)
	sink := newFakeSink()
	b := newTestBuilder(t, source, &fakeConverter{}, sink, testOptions())

	summary, err := b.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, indexing.StateDone, summary.State)
	assert.Equal(t, []int{0, 100, 200}, source.offsets)
	assert.Equal(t, 3, summary.Pages)
	assert.Equal(t, 3, summary.Jobs)
	assert.Equal(t, 250, summary.DocumentsProcessed)
	assert.Equal(t, 250, summary.DocumentsIndexed)
	assert.Zero(t, summary.DocumentsFailed)

	assert.Equal(t, 1, sink.count("createIndex"))
	assert.Equal(t, 3, sink.count("bulk"))
	assert.Equal(t, 1, sink.count("updateSettings"))
	assert.Equal(t, 1, sink.count("swapAlias"))
	assert.Equal(t, "swapAlias", sink.lastCall())
	assert.Equal(t, 1, sink.closed)

	assert.Equal(t, summary.Index, sink.aliases["dataset"])
	assert.Regexp(t, `^dataset_\d+$`, summary.Index)
	assert.Len(t, sink.docs("dataset"), 250)
}

func TestBuild_EmptyCatalogStillPromotes(t *testing.T) {
	sink := newFakeSink()
	b := newTestBuilder(t, newFakeSource(0), &fakeConverter{}, sink, testOptions())

	summary, err := b.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Pages)
	assert.Equal(t, 1, summary.Jobs)
	assert.Zero(t, summary.DocumentsProcessed)
	assert.Zero(t, sink.count("bulk"))
	assert.Equal(t, summary.Index, sink.aliases["dataset"])
	assert.Empty(t, sink.docs("dataset"))
}

func TestBuild_CreateIndexFailureWritesNothing(t *testing.T) {
	source := newFakeSource(150)
	sink := newFakeSink()
	sink.createErr = errors.New("index already exists")
	sink.aliases["dataset"] = "dataset_previous"
	b := newTestBuilder(t, source, &fakeConverter{}, sink, testOptions())

	summary, err := b.Build(context.Background())
	require.Error(t, err)

	assert.ErrorIs(t, err, indexing.ErrFatalSetup)
	var runErr *indexing.RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, indexing.StateCreatingIndex, runErr.State)

	assert.Equal(t, indexing.StateFailed, summary.State)
	assert.Empty(t, source.offsets)
	assert.Zero(t, sink.count("bulk"))
	assert.Zero(t, sink.count("swapAlias"))
	assert.Equal(t, "dataset_previous", sink.aliases["dataset"])
	assert.Equal(t, 1, sink.closed)
}

func TestBuild_SinkUnavailable(t *testing.T) {
	source := newFakeSource(10)
	b, err := New(source, &fakeConverter{}, func() (ports.IndexSink, error) {
		return nil, errors.New("no route to host")
	}, testOptions(), logger.NewNop(), nil)
	require.NoError(t, err)

	summary, err := b.Build(context.Background())
	assert.ErrorIs(t, err, indexing.ErrFatalSetup)
	assert.Equal(t, indexing.StateFailed, summary.State)
	assert.Empty(t, source.offsets)
}

func TestBuild_SwapFailureKeepsPreviousAlias(t *testing.T) {
	sink := newFakeSink()
	sink.aliases["dataset"] = "dataset_previous"
	sink.swapErr = errors.New("alias request timed out")
	b := newTestBuilder(t, newFakeSource(120), &fakeConverter{}, sink, testOptions())

	summary, err := b.Build(context.Background())
	require.Error(t, err)

	assert.ErrorIs(t, err, indexing.ErrFatalPromotion)
	assert.Equal(t, indexing.StateFailed, summary.State)
	assert.Equal(t, "dataset_previous", sink.aliases["dataset"])
	assert.Equal(t, 120, summary.DocumentsIndexed)
	assert.Equal(t, 1, sink.closed)
}

func TestBuild_SettingsFailureSkipsSwap(t *testing.T) {
	sink := newFakeSink()
	sink.settingsErr = errors.New("cluster read only")
	b := newTestBuilder(t, newFakeSource(10), &fakeConverter{}, sink, testOptions())

	_, err := b.Build(context.Background())
	require.Error(t, err)

	var runErr *indexing.RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, indexing.StatePromoting, runErr.State)
	assert.ErrorIs(t, err, indexing.ErrFatalPromotion)
	assert.Zero(t, sink.count("swapAlias"))
}

func TestBuild_PartialFailuresDoNotStopLaterJobs(t *testing.T) {
	sink := newFakeSink()
	sink.reject = map[string]bool{"ds-0003": true, "ds-0150": true}
	sink.transportJob = map[int]bool{1: true}

	opts := testOptions()
	opts.Workers = 1
	b := newTestBuilder(t, newFakeSource(350), &fakeConverter{}, sink, opts)

	summary, err := b.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Jobs)
	assert.Equal(t, 350, summary.DocumentsProcessed)
	assert.Equal(t, 1, summary.TransportFailures)
	assert.Equal(t, 1, summary.RejectedDocuments)
	// Page two is lost to the transport failure, ds-0003 is rejected
	assert.Equal(t, 249, summary.DocumentsIndexed)
	assert.Equal(t, 101, summary.DocumentsFailed)
	assert.Equal(t, 4, sink.count("bulk"))
	assert.Equal(t, summary.Index, sink.aliases["dataset"])

	docs := sink.docs("dataset")
	assert.Contains(t, docs, "ds-0349")
	assert.NotContains(t, docs, "ds-0003")
	assert.NotContains(t, docs, "ds-0150")
}

func TestBuild_ConversionFailuresAreExcludedFromBatch(t *testing.T) {
	sink := newFakeSink()
	conv := &fakeConverter{
		fail:  map[string]bool{"ds-0001": true},
		panic: map[string]bool{"ds-0002": true},
	}
	b := newTestBuilder(t, newFakeSource(5), conv, sink, testOptions())

	summary, err := b.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, summary.DocumentsProcessed)
	assert.Equal(t, 3, summary.DocumentsIndexed)
	assert.Equal(t, 2, summary.ConversionFailures)
	assert.Equal(t, 2, summary.DocumentsFailed)

	docs := sink.docs("dataset")
	assert.Len(t, docs, 3)
	assert.NotContains(t, docs, "ds-0001")
	assert.NotContains(t, docs, "ds-0002")
}

func TestBuild_UndecodableRecordsCountAsConversionFailures(t *testing.T) {
	source := newFakeSource(150)
	source.invalid = map[int][]dataset.InvalidRecord{
		100: {{Key: "ds-bad", Reason: `unrecognized date "13/01/2014"`}, {Reason: "expected object"}},
	}
	sink := newFakeSink()
	b := newTestBuilder(t, source, &fakeConverter{}, sink, testOptions())

	summary, err := b.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, indexing.StateDone, summary.State)
	assert.Equal(t, 152, summary.DocumentsProcessed)
	assert.Equal(t, 150, summary.DocumentsIndexed)
	assert.Equal(t, 2, summary.ConversionFailures)
	assert.Equal(t, 2, summary.DocumentsFailed)
	assert.Equal(t, summary.Index, sink.aliases["dataset"])
}

func TestBuild_AllRecordsFailConversion(t *testing.T) {
	sink := newFakeSink()
	conv := &fakeConverter{fail: map[string]bool{"ds-0000": true, "ds-0001": true}}
	b := newTestBuilder(t, newFakeSource(2), conv, sink, testOptions())

	summary, err := b.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Jobs)
	assert.Zero(t, sink.count("bulk"))
	assert.Equal(t, 2, summary.ConversionFailures)
	assert.Equal(t, 1, sink.count("swapAlias"))
}

func TestBuild_ConcurrencyNeverExceedsWorkers(t *testing.T) {
	sink := newFakeSink()
	sink.bulkDelay = 10 * time.Millisecond

	opts := testOptions()
	opts.PageSize = 10
	opts.Workers = 3
	b := newTestBuilder(t, newFakeSource(200), &fakeConverter{}, sink, opts)

	summary, err := b.Build(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 20, summary.Jobs)
	assert.LessOrEqual(t, atomic.LoadInt32(&sink.maxActive), int32(3))
	assert.Positive(t, summary.PeakConcurrency)
	assert.LessOrEqual(t, summary.PeakConcurrency, 3)
	assert.Equal(t, 200, summary.DocumentsIndexed)
}

func TestBuild_JobTimeoutOnlyBoundsJobsWhenSet(t *testing.T) {
	sink := newFakeSink()
	b := newTestBuilder(t, newFakeSource(150), &fakeConverter{}, sink, testOptions())

	_, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false}, sink.deadlines)

	sink = newFakeSink()
	opts := testOptions()
	opts.JobTimeout = time.Minute
	b = newTestBuilder(t, newFakeSource(150), &fakeConverter{}, sink, opts)

	_, err = b.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true}, sink.deadlines)
}

func TestBuild_SourceErrorPreventsPromotion(t *testing.T) {
	source := newFakeSource(500)
	source.failAt = 200
	source.err = errors.New("registry returned 503")
	sink := newFakeSink()
	sink.aliases["dataset"] = "dataset_previous"
	b := newTestBuilder(t, source, &fakeConverter{}, sink, testOptions())

	summary, err := b.Build(context.Background())
	require.Error(t, err)

	assert.ErrorIs(t, err, indexing.ErrSource)
	assert.Contains(t, err.Error(), "registry returned 503")
	// Jobs submitted before the failure still ran to completion
	assert.Equal(t, 2, summary.Jobs)
	assert.Equal(t, 200, summary.DocumentsIndexed)
	assert.Zero(t, sink.count("updateSettings"))
	assert.Zero(t, sink.count("swapAlias"))
	assert.Equal(t, "dataset_previous", sink.aliases["dataset"])
}

func TestBuild_CancelledAtPageBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source := newFakeSource(1000)
	source.onPage = func(offset int) {
		if offset == 200 {
			cancel()
		}
	}
	sink := newFakeSink()
	b := newTestBuilder(t, source, &fakeConverter{}, sink, testOptions())

	summary, err := b.Build(ctx)
	require.Error(t, err)

	assert.ErrorIs(t, err, indexing.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, indexing.StateFailed, summary.State)
	assert.Equal(t, []int{0, 100, 200}, source.offsets)
	assert.Equal(t, summary.Pages, summary.Jobs)
	assert.Zero(t, sink.count("swapAlias"))
	assert.Equal(t, 1, sink.closed)
}

func TestBuild_RebuildIsIdempotent(t *testing.T) {
	source := newFakeSource(230)
	sink := newFakeSink()
	b := newTestBuilder(t, source, &fakeConverter{}, sink, testOptions())

	first, err := b.Build(context.Background())
	require.NoError(t, err)
	firstDocs := sink.docs("dataset")

	second, err := b.Build(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, first.Index, second.Index)
	assert.Equal(t, second.Index, sink.aliases["dataset"])
	assert.Equal(t, firstDocs, sink.docs("dataset"))
	assert.Equal(t, 2, sink.closed)
}

func TestBuild_StopsOnEmptyPageWithoutEndMarker(t *testing.T) {
	sink := newFakeSink()
	b := newTestBuilder(t, &stuckSource{}, &fakeConverter{}, sink, testOptions())

	summary, err := b.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Pages)
}

type stuckSource struct{}

func (stuckSource) ListPage(ctx context.Context, offset, limit int) (*dataset.Page, error) {
	return &dataset.Page{Offset: offset, Limit: limit}, nil
}

func TestNew_Validates(t *testing.T) {
	factory := func() (ports.IndexSink, error) { return newFakeSink(), nil }

	_, err := New(nil, &fakeConverter{}, factory, testOptions(), logger.NewNop(), nil)
	assert.Error(t, err)

	opts := testOptions()
	opts.Alias = ""
	_, err = New(newFakeSource(1), &fakeConverter{}, factory, opts, logger.NewNop(), nil)
	assert.Error(t, err)

	opts = testOptions()
	opts.Mapping = nil
	_, err = New(newFakeSource(1), &fakeConverter{}, factory, opts, logger.NewNop(), nil)
	assert.Error(t, err)

	opts = testOptions()
	opts.PageSize = 0
	b, err := New(newFakeSource(1), &fakeConverter{}, factory, opts, logger.NewNop(), nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultPageSize, b.opts.PageSize)
}
