package indexing

import (
	"fmt"
	"time"
)

// State is a phase of a rebuild run
type State string

const (
	StateInit          State = "init"
	StateCreatingIndex State = "creating_index"
	StatePaging        State = "paging"
	StateAwaitingJobs  State = "awaiting_jobs"
	StatePromoting     State = "promoting_settings"
	StateSwappingAlias State = "swapping_alias"
	StateDone          State = "done"
	StateFailed        State = "failed"
)

// DocumentFailure describes one record that did not make it into the index.
type DocumentFailure struct {
	ID     string `json:"id"`
	Status int    `json:"status,omitempty"`
	Type   string `json:"type,omitempty"`
	Reason string `json:"reason"`
}

// BulkResult is the resolved outcome of one bulk job. Exactly one of three
// shapes holds: success, per-document failures, or a transport failure.
// Conversion failures are independent and may accompany any of them.
type BulkResult struct {
	JobID              int               `json:"jobId"`
	Offset             int               `json:"offset"`
	Records            int               `json:"records"`
	Submitted          int               `json:"submitted"`
	Indexed            int               `json:"indexed"`
	Rejected           []DocumentFailure `json:"rejected,omitempty"`
	ConversionFailures []DocumentFailure `json:"conversionFailures,omitempty"`
	TransportErr       error             `json:"-"`
	Duration           time.Duration     `json:"duration"`
}

// TransportFailed reports a bulk call that could not complete.
func (r BulkResult) TransportFailed() bool {
	return r.TransportErr != nil
}

// HasFailures reports whether any record of the job failed to index.
func (r BulkResult) HasFailures() bool {
	return r.TransportFailed() || len(r.Rejected) > 0 || len(r.ConversionFailures) > 0
}

// Err describes why records of the job are missing from the index, or
// returns nil when every record was indexed.
func (r BulkResult) Err() error {
	switch {
	case r.TransportFailed():
		return r.TransportErr
	case len(r.Rejected) > 0:
		return fmt.Errorf("%w: %d of %d documents", ErrPartialDocument, len(r.Rejected), r.Submitted)
	case len(r.ConversionFailures) > 0:
		return fmt.Errorf("%w: %d of %d records", ErrConversion, len(r.ConversionFailures), r.Records)
	}
	return nil
}

// Failed counts records of the page that are not in the index.
func (r BulkResult) Failed() int {
	return r.Records - r.Indexed
}

// Summary is the user-visible outcome of a rebuild run.
type Summary struct {
	Index              string        `json:"index"`
	Alias              string        `json:"alias"`
	State              State         `json:"state"`
	Pages              int           `json:"pages"`
	Jobs               int           `json:"jobs"`
	DocumentsProcessed int           `json:"documentsProcessed"`
	DocumentsIndexed   int           `json:"documentsIndexed"`
	DocumentsFailed    int           `json:"documentsFailed"`
	ConversionFailures int           `json:"conversionFailures"`
	RejectedDocuments  int           `json:"rejectedDocuments"`
	TransportFailures  int           `json:"transportFailures"`
	// PeakConcurrency is the most bulk jobs that ran at the same time.
	PeakConcurrency    int           `json:"peakConcurrency"`
	StartedAt          time.Time     `json:"startedAt"`
	FinishedAt         time.Time     `json:"finishedAt"`
	Elapsed            time.Duration `json:"elapsed"`
}

// Add folds a resolved job into the summary.
func (s *Summary) Add(r BulkResult) {
	s.Jobs++
	s.DocumentsProcessed += r.Records
	s.DocumentsIndexed += r.Indexed
	s.DocumentsFailed += r.Failed()
	s.ConversionFailures += len(r.ConversionFailures)
	s.RejectedDocuments += len(r.Rejected)
	if r.TransportFailed() {
		s.TransportFailures++
	}
}
