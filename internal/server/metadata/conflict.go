package metadata

import (
	"errors"
	"fmt"
)

// Sentinel errors for the metadata layer.
var (
	// ErrCorrupt marks an invariant violation: a live file row references a
	// blob that does not exist. It is never returned for ordinary absence.
	ErrCorrupt = errors.New("metadata corruption")

	// ErrNoUpload is returned by commit when a blob id has no pending
	// upload record backing it.
	ErrNoUpload = errors.New("no pending upload for blob")

	// ErrNotConfigured is returned when an operation needs stored
	// configuration that no client has supplied yet.
	ErrNotConfigured = errors.New("storage not configured")

	// ErrFileNotFound is returned by the by-path convenience operations
	// when the source file does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrInvalid marks malformed input: a caller bug, not a conflict.
	ErrInvalid = errors.New("invalid request")
)

// ConflictCode classifies a compare-and-swap predicate failure.
type ConflictCode string

const (
	SourceNotFound ConflictCode = "SOURCE_NOT_FOUND"
	SourceChanged  ConflictCode = "SOURCE_CHANGED"
	DestExists     ConflictCode = "DEST_EXISTS"
	DestNotFound   ConflictCode = "DEST_NOT_FOUND"
	DestChanged    ConflictCode = "DEST_CHANGED"
)

// ConflictError reports a failed CAS predicate. The whole transaction it
// occurred in has been rolled back. Callers typically re-stat the paths
// involved and retry the journal.
type ConflictError struct {
	Code     ConflictCode `json:"code"`
	Path     string       `json:"path"`
	Expected string       `json:"expected,omitempty"` // blob id the caller assumed
	Found    string       `json:"found,omitempty"`    // blob id actually present
	OpIndex  int          `json:"op_index"`           // 1-based journal position
	Message  string       `json:"message"`
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict %s at %q (op %d): %s", e.Code, e.Path, e.OpIndex, e.Message)
}

// IsConflict reports whether err is (or wraps) a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

func conflict(code ConflictCode, index int, path, expected, found, msg string) *ConflictError {
	return &ConflictError{
		Code:     code,
		Path:     path,
		Expected: expected,
		Found:    found,
		OpIndex:  index,
		Message:  msg,
	}
}
