package session

import (
	"fmt"

	"github.com/livecap/livecap/internal/caption/models"
)

// ErrResourceMissing marks a start that failed before any native allocation
// because a required model resource is absent or invalid. Re-exported so
// callers need not import the models package to classify failures.
var ErrResourceMissing = models.ErrResourceMissing

// InitializationError wraps a native engine construction failure. The
// session has already released any partially acquired sub-resources by the
// time this surfaces.
type InitializationError struct {
	Err error
}

func (e *InitializationError) Error() string {
	return fmt.Sprintf("session: engine initialization failed: %v", e.Err)
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

// errClosed is returned by operations on a torn-down session.
var errClosed = fmt.Errorf("session: closed")
