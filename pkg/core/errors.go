package core

import (
	"errors"
	"fmt"
)

// Builder- and lookup-time errors.
var (
	ErrInvalidJob      = errors.New("batchq: invalid job specification")
	ErrUnknownClass    = errors.New("batchq: unknown job class")
	ErrEmptyBatch      = errors.New("batchq: batch has no jobs")
	ErrBatchNotFound   = errors.New("batchq: batch not found")
	ErrBatchClosed     = errors.New("batchq: batch already reached a terminal state")
	ErrInvalidCallback = errors.New("batchq: callback must be a serializable job spec")
	ErrJobNotFound     = errors.New("batchq: job not found in batch")
)

// Validation errors
var (
	ErrInvalidClassName = errors.New("batchq: invalid job class name (must start with a letter; letters, digits, '_', '.', '-' only)")
	ErrClassNameTooLong = errors.New("batchq: job class name too long")
	ErrInvalidQueueName = errors.New("batchq: invalid queue name")
	ErrQueueNameTooLong = errors.New("batchq: queue name too long")
)

// StorageError wraps a backend failure. Workers treat these as
// transient and requeue the message.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("batchq: storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err with the failing operation name.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// JobExecutionError records a user job raising during execute. It is
// persisted onto the job row and propagated into the batch failure path.
type JobExecutionError struct {
	Class string
	Err   error
}

func (e *JobExecutionError) Error() string {
	return fmt.Sprintf("batchq: job %s: %v", e.Class, e.Err)
}

func (e *JobExecutionError) Unwrap() error {
	return e.Err
}
