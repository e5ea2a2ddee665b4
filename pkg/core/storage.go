package core

import (
	"context"
)

// BatchFilter narrows batch listings.
type BatchFilter struct {
	Status          BatchStatus
	Type            BatchType
	Name            string
	HasCompensation bool
}

// JobFilter narrows job listings within a batch.
type JobFilter struct {
	Status JobStatus
}

// CounterUpdate reports the counter state after a recount, and whether
// that recount moved the batch into a terminal status.
type CounterUpdate struct {
	Completed    int
	Failed       int
	Total        int
	Status       BatchStatus
	Transitioned bool
}

// Storage defines the persistence layer for batches and their jobs.
// Both backends provide the same behavioral contract; only their
// performance characteristics differ.
type Storage interface {
	// Migrate creates the necessary schema. A no-op for schemaless backends.
	Migrate(ctx context.Context) error

	// Batch lifecycle
	CreateBatch(ctx context.Context, def *BatchDefinition) error
	UpdateBatch(ctx context.Context, id string, fields map[string]any) error
	GetBatch(ctx context.Context, id string) (*BatchDefinition, error)
	DeleteBatch(ctx context.Context, id string) error

	// Job rows
	AddJobs(ctx context.Context, batchID string, jobs []*JobDefinition) (int, error)
	JobByPosition(ctx context.Context, batchID string, position int) (*JobDefinition, error)
	JobByID(ctx context.Context, batchID, jobID string) (*JobDefinition, error)
	UpdateJobID(ctx context.Context, batchID string, position int, messageID string) error
	UpdateJobStatus(ctx context.Context, batchID, jobID string, status JobStatus, result any, jobErr *ErrorRecord) error

	// Counters. Implemented as authoritative recounts from row state so
	// queue redeliveries cannot double-count. The recount and any
	// resulting terminal transition commit atomically.
	IncrementCompleted(ctx context.Context, batchID string) (*CounterUpdate, error)
	IncrementFailed(ctx context.Context, batchID string) (*CounterUpdate, error)

	// Queries
	BatchResults(ctx context.Context, batchID string) (map[string]any, error)
	AllJobs(ctx context.Context, batchID string, filter JobFilter) ([]*JobDefinition, error)
	Batches(ctx context.Context, filter BatchFilter, limit, offset int) ([]*BatchDefinition, error)
	CountBatches(ctx context.Context, filter BatchFilter) (int64, error)

	// Maintenance
	CleanupOldBatches(ctx context.Context, olderThanDays int) (int64, error)
	HealthCheck(ctx context.Context) error
}
