package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports an absent record. It is an expected outcome, not a failure.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateEmail reports a user email uniqueness violation.
	ErrDuplicateEmail = errors.New("duplicate email")
	// ErrDuplicate reports a uniqueness violation on any other key.
	ErrDuplicate = errors.New("duplicate record")
	// ErrBackend matches every *BackendError through errors.Is.
	ErrBackend = errors.New("storage backend error")
	// ErrConflict reports an optimistic write that kept losing races.
	ErrConflict = errors.New("concurrent modification")
	// ErrConnect reports that connection establishment exhausted its retries.
	ErrConnect = errors.New("storage connection failed")
	// ErrInvalidArgument reports a malformed request such as a bad collection name.
	ErrInvalidArgument = errors.New("invalid storage argument")
)

// BackendError wraps an underlying storage failure.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrBackend.Error(), e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrBackend) match.
func (e *BackendError) Is(target error) bool { return target == ErrBackend }

// Backend wraps err as a *BackendError for op. Contract sentinels pass through
// unchanged so callers can keep branching on them.
func Backend(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrDuplicateEmail),
		errors.Is(err, ErrDuplicate),
		errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrBackend):
		return err
	}
	return &BackendError{Op: op, Err: err}
}
