package indexing

import (
	"time"
)

// Trigger records what started a run
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerAPI      Trigger = "api"
	TriggerSchedule Trigger = "schedule"
)

// IndexRun is the ledger entry kept for every rebuild attempt.
type IndexRun struct {
	ID                 string     `json:"id" gorm:"primaryKey"`
	Trigger            Trigger    `json:"trigger" gorm:"not null"`
	State              State      `json:"state" gorm:"not null;index"`
	IndexName          string     `json:"indexName" gorm:"index"`
	Alias              string     `json:"alias" gorm:"not null"`
	Pages              int        `json:"pages"`
	Jobs               int        `json:"jobs"`
	DocumentsProcessed int        `json:"documentsProcessed"`
	DocumentsIndexed   int        `json:"documentsIndexed"`
	DocumentsFailed    int        `json:"documentsFailed"`
	TransportFailures  int        `json:"transportFailures"`
	ElapsedMillis      int64      `json:"elapsedMillis"`
	Error              string     `json:"error,omitempty"`
	StartedAt          time.Time  `json:"startedAt" gorm:"index"`
	FinishedAt         *time.Time `json:"finishedAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

// Apply copies the counters of a finished run.
func (r *IndexRun) Apply(s Summary, runErr error) {
	r.State = s.State
	r.IndexName = s.Index
	r.Pages = s.Pages
	r.Jobs = s.Jobs
	r.DocumentsProcessed = s.DocumentsProcessed
	r.DocumentsIndexed = s.DocumentsIndexed
	r.DocumentsFailed = s.DocumentsFailed
	r.TransportFailures = s.TransportFailures
	r.ElapsedMillis = s.Elapsed.Milliseconds()
	if !s.FinishedAt.IsZero() {
		finished := s.FinishedAt
		r.FinishedAt = &finished
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
}
