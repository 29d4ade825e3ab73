package model

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors matched by the typed errors below through errors.Is.
var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyResolved = errors.New("already resolved")
	ErrWaitTimeout     = errors.New("wait timeout")
	ErrStorage         = errors.New("storage failure")
	ErrValidation      = errors.New("validation failed")
)

// NotFoundError reports an unknown checkpoint, session or failure id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "record"
	}
	return fmt.Sprintf("%s %q not found", kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AlreadyResolvedError reports an attempt to move a checkpoint out of a
// terminal status.
type AlreadyResolvedError struct {
	ID     string
	Status Status
}

func (e *AlreadyResolvedError) Error() string {
	return fmt.Sprintf("checkpoint %q already resolved with status %s", e.ID, e.Status)
}

func (e *AlreadyResolvedError) Is(target error) bool { return target == ErrAlreadyResolved }

// WaitTimeoutError is returned by a wait that gave up before the session
// left PENDING. The session itself is untouched.
type WaitTimeoutError struct {
	ID      string
	Timeout time.Duration
}

func (e *WaitTimeoutError) Error() string {
	return fmt.Sprintf("timed out after %s waiting for checkpoint %q", e.Timeout, e.ID)
}

func (e *WaitTimeoutError) Is(target error) bool { return target == ErrWaitTimeout }

// StorageError wraps a repository or audit store failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

func (e *StorageError) Unwrap() error { return e.Err }

// ValidationError reports malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewStorageError wraps err unless it is nil or already a storage error.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}
