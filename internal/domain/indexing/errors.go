package indexing

import (
	"errors"
	"fmt"
)

var (
	// ErrFatalSetup means the new index could not be created; nothing was written.
	ErrFatalSetup = errors.New("index setup failed")
	// ErrFatalPromotion means data was loaded but the index was not promoted.
	ErrFatalPromotion = errors.New("index promotion failed")
	// ErrSource means the catalog listing could not be read to the end.
	ErrSource = errors.New("source listing failed")
	// ErrCancelled means the run was cancelled at a page boundary.
	ErrCancelled = errors.New("rebuild cancelled")

	ErrTransport       = errors.New("bulk transport failed")
	ErrPartialDocument = errors.New("documents rejected")
	ErrConversion      = errors.New("document conversion failed")

	ErrRebuildInProgress = errors.New("rebuild already in progress")
	ErrRunNotFound       = errors.New("index run not found")
)

// RunError is returned by a run that ended in StateFailed.
type RunError struct {
	State State
	Index string
	Kind  error
	Err   error
}

func (e *RunError) Error() string {
	if e.Index == "" {
		return fmt.Sprintf("%s during %s: %v", e.Kind, e.State, e.Err)
	}
	return fmt.Sprintf("%s during %s of %s: %v", e.Kind, e.State, e.Index, e.Err)
}

func (e *RunError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// NewRunError creates a new run error
func NewRunError(state State, index string, kind, err error) *RunError {
	return &RunError{State: state, Index: index, Kind: kind, Err: err}
}
