package workers

import (
	"errors"
	"fmt"

	"github.com/camden-git/photoner/database"
	"github.com/camden-git/photoner/media"
)

var (
	// ErrInsufficientDiskSpace blocks a batch from starting.
	ErrInsufficientDiskSpace = errors.New("insufficient disk space")
	// ErrAuditWrite means a processing record could not be stored. The run
	// stops because later cleanup decisions depend on the audit trail.
	ErrAuditWrite = errors.New("audit store write failed")
	// ErrBatchAborted is returned when the consecutive-failure threshold was hit.
	ErrBatchAborted = errors.New("batch aborted after consecutive failures")
	// ErrPlacementConflict means in-place replacement would overwrite an
	// unrelated file.
	ErrPlacementConflict = errors.New("placement path already holds another file")
)

// ErrorKind classifies per-item failures.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindDecode     ErrorKind = "decode"
	KindDimension  ErrorKind = "dimension_invariant"
	KindPersist    ErrorKind = "persist"
	KindProcessing ErrorKind = "processing"
)

// ItemError wraps a failure of one queued file.
type ItemError struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s error on %s: %v", e.Kind, e.Path, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// Status is the audit status the error maps to. Validation failures are
// skips; everything else is a failure.
func (e *ItemError) Status() string {
	if e.Kind == KindValidation {
		return database.StatusSkipped
	}
	return database.StatusFailed
}

// Retryable reports whether another attempt could succeed.
func (e *ItemError) Retryable() bool {
	return e.Kind != KindValidation && e.Kind != KindDimension
}

func newItemError(kind ErrorKind, path string, err error) *ItemError {
	return &ItemError{Kind: kind, Path: path, Err: err}
}

// classify maps a processor error onto an ItemError.
func classify(path string, err error) *ItemError {
	var ie *ItemError
	if errors.As(err, &ie) {
		return ie
	}
	switch {
	case errors.Is(err, media.ErrDimensionMismatch):
		return newItemError(KindDimension, path, err)
	case errors.Is(err, media.ErrDecode):
		return newItemError(KindDecode, path, err)
	case errors.Is(err, media.ErrInvalidInput):
		return newItemError(KindValidation, path, err)
	default:
		return newItemError(KindProcessing, path, err)
	}
}
