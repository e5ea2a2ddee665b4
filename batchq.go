// Package batchq orchestrates groups of background jobs over a
// queue-backed worker fleet: parallel batches of independent jobs and
// sequential chains with accumulated context, dynamic job appending,
// Saga-style compensation on chain failure, and terminal-state
// callback jobs.
//
// This is the main package users should import. It re-exports the main
// public types from the pkg/ packages for a clean API surface.
//
// Basic usage:
//
//	// Open storage and create the manager
//	db, _ := storage.OpenSQL(cfg.SQL)
//	store := batchq.NewGormStorage(db)
//	store.Migrate(context.Background())
//	mq := transport.NewMemory(0) // or any Queue implementation
//	mgr := batchq.New(store, mq)
//
//	// Register job classes
//	mgr.Register("order.create", func() batchq.Job { return &CreateOrder{} })
//	mgr.Register("order.undo", func() batchq.Job { return &UndoOrder{} })
//	mgr.Register("order.notify", func() batchq.Job { return &NotifyOrder{} })
//
//	// Dispatch a chain with compensation
//	id, _ := mgr.Chain([2]string{"order.create", "order.undo"}, "order.notify").
//		SetContext(map[string]any{"tenant": "acme"}).
//		Dispatch(ctx)
//
//	// Start a worker
//	w := batchq.NewWorker(mgr)
//	w.Start(ctx)
package batchq

import (
	"gorm.io/gorm"

	"github.com/redis/go-redis/v9"

	"github.com/tobren/batchq/pkg/config"
	"github.com/tobren/batchq/pkg/core"
	"github.com/tobren/batchq/pkg/manager"
	"github.com/tobren/batchq/pkg/processor"
	"github.com/tobren/batchq/pkg/queueconf"
	"github.com/tobren/batchq/pkg/security"
	"github.com/tobren/batchq/pkg/storage"
	"github.com/tobren/batchq/pkg/transport"
	"github.com/tobren/batchq/pkg/worker"
)

// Type aliases for the public API surface
type (
	// BatchDefinition is the canonical value type for a batch and its jobs.
	BatchDefinition = core.BatchDefinition

	// JobDefinition is the canonical record for one job slot inside a batch.
	JobDefinition = core.JobDefinition

	// JobSpec is the typed job input shape: class, compensation, args.
	JobSpec = core.JobSpec

	// CallbackSpec names a job class to run on batch completion or failure.
	CallbackSpec = core.CallbackSpec

	// Options holds the recognized per-batch options.
	Options = core.Options

	// Progress summarizes batch completion state.
	Progress = core.Progress

	// ErrorRecord captures a job failure for storage.
	ErrorRecord = core.ErrorRecord

	// BatchType distinguishes parallel batches from sequential chains.
	BatchType = core.BatchType

	// BatchStatus represents the current state of a batch.
	BatchStatus = core.BatchStatus

	// JobStatus represents the current state of a job inside a batch.
	JobStatus = core.JobStatus

	// BatchFilter narrows batch listings.
	BatchFilter = core.BatchFilter

	// JobFilter narrows job listings.
	JobFilter = core.JobFilter

	// Job is the capability every job class implements.
	Job = core.Job

	// ContextAware jobs receive and may mutate the batch context.
	ContextAware = core.ContextAware

	// ResultAware jobs report a structured result.
	ResultAware = core.ResultAware

	// Factory constructs a fresh job instance per delivery.
	Factory = core.Factory

	// Registry maps class names to job factories.
	Registry = core.Registry

	// Storage defines the persistence layer for batches.
	Storage = core.Storage

	// Event is the interface for all batch events.
	Event = core.Event

	// BatchStarted is emitted on the first job pickup of a batch.
	BatchStarted = core.BatchStarted

	// BatchCompleted is emitted when a batch completes.
	BatchCompleted = core.BatchCompleted

	// BatchFailed is emitted when a batch fails.
	BatchFailed = core.BatchFailed

	// CompensationStarted is emitted when a failed chain launches rollback.
	CompensationStarted = core.CompensationStarted

	// CompensationMeta is the record handed to compensation jobs.
	CompensationMeta = processor.CompensationMeta

	// Manager is the batch orchestration entry point.
	Manager = manager.Manager

	// ManagerOption configures a Manager.
	ManagerOption = manager.Option

	// Builder accumulates one batch before dispatch.
	Builder = manager.Builder

	// Worker processes queue deliveries.
	Worker = worker.Worker

	// WorkerOption configures a Worker.
	WorkerOption = worker.WorkerOption

	// Config is the BatchQueue configuration tree.
	Config = config.Config

	// GormStorage is the transactional SQL backend.
	GormStorage = storage.GormStorage

	// RedisStorage is the hash-based Redis backend.
	RedisStorage = storage.RedisStorage

	// Queue is the transport contract.
	Queue = transport.Queue

	// Message is one queue delivery.
	Message = transport.Message

	// Response tells the transport what to do with a delivery.
	Response = transport.Response
)

// Batch type constants
const (
	Parallel   = core.BatchParallel
	Sequential = core.BatchSequential
)

// Status constants
const (
	BatchStatusPending   = core.BatchStatusPending
	BatchStatusRunning   = core.BatchStatusRunning
	BatchStatusCompleted = core.BatchStatusCompleted
	BatchStatusFailed    = core.BatchStatusFailed
	JobStatusPending     = core.JobStatusPending
	JobStatusRunning     = core.JobStatusRunning
	JobStatusCompleted   = core.JobStatusCompleted
	JobStatusFailed      = core.JobStatusFailed
)

// Transport response sentinels
const (
	Ack     = transport.Ack
	Reject  = transport.Reject
	Requeue = transport.Requeue
)

// Error variables
var (
	ErrInvalidJob      = core.ErrInvalidJob
	ErrUnknownClass    = core.ErrUnknownClass
	ErrEmptyBatch      = core.ErrEmptyBatch
	ErrBatchNotFound   = core.ErrBatchNotFound
	ErrBatchClosed     = core.ErrBatchClosed
	ErrInvalidCallback = core.ErrInvalidCallback
)

// Default queue names
const (
	DefaultParallelQueue   = queueconf.DefaultParallelQueue
	DefaultSequentialQueue = queueconf.DefaultSequentialQueue
)

// New creates a Manager over a storage and a transport.
func New(store Storage, queue Queue, opts ...ManagerOption) *Manager {
	return manager.New(store, queue, opts...)
}

// NewGormStorage creates the SQL backend over a gorm handle.
func NewGormStorage(db *gorm.DB, opts ...storage.GormOption) *GormStorage {
	return storage.NewGormStorage(db, opts...)
}

// NewRedisStorage creates the Redis backend over a client.
func NewRedisStorage(client redis.UniversalClient, cfg config.RedisConfig, opts ...storage.RedisOption) *RedisStorage {
	return storage.NewRedisStorage(client, cfg, opts...)
}

// NewWorker creates a worker for the given manager.
func NewWorker(m *Manager, opts ...WorkerOption) *Worker {
	return worker.NewWorker(m, opts...)
}

// LoadConfig reads the BatchQueue configuration from a YAML file plus
// environment overrides.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// WithConfig applies defaults and queue routing from a loaded config.
// This includes defaults.sticky_failure, which the manager forwards
// to the storage backend it is constructed with.
func WithConfig(cfg *Config) ManagerOption {
	return manager.WithConfig(cfg)
}

// WithRegistry uses an existing class registry.
func WithRegistry(reg *Registry) ManagerOption {
	return manager.WithRegistry(reg)
}

// ValidateClassName validates a job class name.
func ValidateClassName(name string) error {
	return security.ValidateClassName(name)
}

// ValidateQueueName validates a queue name.
func ValidateQueueName(name string) error {
	return security.ValidateQueueName(name)
}
