// Package manager provides the BatchManager, the public entry point
// for constructing, dispatching, inspecting, extending, cancelling,
// and cleaning up batches.
package manager

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tobren/batchq/pkg/config"
	"github.com/tobren/batchq/pkg/core"
	"github.com/tobren/batchq/pkg/dispatch"
	"github.com/tobren/batchq/pkg/processor"
	"github.com/tobren/batchq/pkg/queueconf"
	"github.com/tobren/batchq/pkg/security"
	"github.com/tobren/batchq/pkg/transport"
)

// Manager binds a storage, a transport, and a class registry into the
// batch orchestration API.
type Manager struct {
	store       core.Storage
	queue       transport.Queue
	registry    *core.Registry
	resolver    *queueconf.Service
	dispatcher  *dispatch.Dispatcher
	compensator *processor.Compensator
	logger      *slog.Logger
	defaults    config.Defaults
	queueName   string
	queueConfig string

	mu        sync.RWMutex
	eventSubs []chan core.Event
	sticky    *bool
}

// stickyConfigurable is implemented by both storage backends; the
// manager uses it to apply defaults.sticky_failure from a loaded
// config without the host threading storage options by hand.
type stickyConfigurable interface {
	SetStickyFailure(sticky bool)
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig applies defaults and queue routing from a loaded config,
// including the defaults.sticky_failure terminal-state toggle, which
// New forwards to the storage backend.
func WithConfig(cfg *config.Config) Option {
	return func(m *Manager) {
		m.defaults = cfg.Defaults
		m.resolver = queueconf.New(cfg.Queues)
		m.queueName = cfg.Queue.Name
		sticky := cfg.Defaults.StickyFailureEnabled()
		m.sticky = &sticky
	}
}

// WithRegistry uses an existing class registry instead of a fresh one.
func WithRegistry(reg *core.Registry) Option {
	return func(m *Manager) { m.registry = reg }
}

// WithLogger sets the manager's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithQueueName sets the default named queue for built batches.
func WithQueueName(name string) Option {
	return func(m *Manager) { m.queueName = name }
}

// WithQueueConfig sets an explicit default concrete queue.
func WithQueueConfig(name string) Option {
	return func(m *Manager) { m.queueConfig = name }
}

// New creates a Manager over a storage and a transport.
func New(store core.Storage, queue transport.Queue, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		queue:    queue,
		registry: core.NewRegistry(),
		resolver: queueconf.New(config.QueuesConfig{}),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.sticky != nil {
		if sc, ok := m.store.(stickyConfigurable); ok {
			sc.SetStickyFailure(*m.sticky)
		}
	}
	m.dispatcher = dispatch.New(queue, m.logger)
	m.compensator = processor.NewCompensator(store, queue, m, m.logger)
	processor.RegisterBuiltins(m.registry, store)
	return m
}

// Accessors used when wiring workers.

// Store returns the storage backend.
func (m *Manager) Store() core.Storage { return m.store }

// Queue returns the transport.
func (m *Manager) Queue() transport.Queue { return m.queue }

// Registry returns the class registry.
func (m *Manager) Registry() *core.Registry { return m.registry }

// Resolver returns the queue name resolver.
func (m *Manager) Resolver() *queueconf.Service { return m.resolver }

// Logger returns the manager's logger.
func (m *Manager) Logger() *slog.Logger { return m.logger }

// Register binds a job class name to a factory. Class names must start
// with a letter and contain only letters, digits, '_', '.' and '-',
// max 255 chars.
func (m *Manager) Register(name string, f core.Factory) {
	if err := security.ValidateClassName(name); err != nil {
		panic("batchq: invalid class name " + name + ": " + err.Error())
	}
	m.registry.Register(name, f)
}

// Batch starts a builder for a parallel batch.
func (m *Manager) Batch(jobs ...any) *Builder {
	return newBuilder(m, core.BatchParallel, jobs)
}

// Chain starts a builder for a sequential chain.
func (m *Manager) Chain(jobs ...any) *Builder {
	return newBuilder(m, core.BatchSequential, jobs)
}

// GetBatch loads a batch definition.
func (m *Manager) GetBatch(ctx context.Context, id string) (*core.BatchDefinition, error) {
	def, err := m.store.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, core.ErrBatchNotFound
	}
	return def, nil
}

// Progress summarizes a batch's completion state.
func (m *Manager) Progress(ctx context.Context, id string) (*core.Progress, error) {
	def, err := m.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	return core.ProgressOf(def), nil
}

// Batches lists batches matching a filter.
func (m *Manager) Batches(ctx context.Context, filter core.BatchFilter, limit, offset int) ([]*core.BatchDefinition, error) {
	return m.store.Batches(ctx, filter, limit, offset)
}

// CountBatches counts batches matching a filter.
func (m *Manager) CountBatches(ctx context.Context, filter core.BatchFilter) (int64, error) {
	return m.store.CountBatches(ctx, filter)
}

// BatchResults returns recorded job results keyed by message id.
func (m *Manager) BatchResults(ctx context.Context, id string) (map[string]any, error) {
	return m.store.BatchResults(ctx, id)
}

// AddJobs appends jobs to a non-terminal batch. For parallel batches
// the appended jobs are enqueued immediately; for chains the running
// chain reaches the new positions through the normal advance protocol.
func (m *Manager) AddJobs(ctx context.Context, batchID string, jobs ...any) (*core.BatchDefinition, error) {
	def, err := m.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, core.ErrBatchNotFound
	}
	if def.Status.Terminal() {
		return nil, core.ErrBatchClosed
	}

	normalized, err := core.NormalizeJobs(jobs, def.Type, 0, m.registry)
	if err != nil {
		return nil, err
	}
	before := def.TotalJobs
	if _, err := m.store.AddJobs(ctx, batchID, normalized); err != nil {
		return nil, err
	}

	fresh, err := m.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if def.Type == core.BatchParallel {
		appended := make([]*core.JobDefinition, 0, len(normalized))
		for _, j := range fresh.Jobs {
			if j.Position >= before {
				appended = append(appended, j)
			}
		}
		if err := m.dispatcher.DispatchJobs(ctx, fresh, appended); err != nil {
			return nil, err
		}
	}
	return fresh, nil
}

// CancelBatch triggers compensation when warranted, then deletes the
// batch. Messages still in flight for the batch are tolerated by the
// processors, which drop deliveries for a missing batch.
func (m *Manager) CancelBatch(ctx context.Context, id string) error {
	def, err := m.store.GetBatch(ctx, id)
	if err != nil {
		return err
	}
	if def == nil {
		return core.ErrBatchNotFound
	}
	if def.Type == core.BatchSequential && len(def.JobsWithCompensation()) > 0 {
		if _, err := m.compensator.Launch(ctx, def); err != nil {
			m.logger.Error("compensation on cancel failed", "batch_id", id, "error", err)
		}
	}
	return m.store.DeleteBatch(ctx, id)
}

// Compensate manually launches a compensation chain for a batch with
// compensation-bearing completed jobs. Returns the compensation batch
// id, or "" when there is nothing to roll back.
func (m *Manager) Compensate(ctx context.Context, id string) (string, error) {
	def, err := m.GetBatch(ctx, id)
	if err != nil {
		return "", err
	}
	return m.compensator.Launch(ctx, def)
}

// Cleanup removes completed and failed batches older than the cut-off.
func (m *Manager) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	return m.store.CleanupOldBatches(ctx, olderThanDays)
}

// HealthCheck verifies the storage backend is reachable.
func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.store.HealthCheck(ctx)
}

// Events returns a channel for receiving batch events.
// The caller must call Unsubscribe when done to prevent resource leaks.
func (m *Manager) Events() <-chan core.Event {
	ch := make(chan core.Event, 100)
	m.mu.Lock()
	m.eventSubs = append(m.eventSubs, ch)
	m.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel created by Events().
func (m *Manager) Unsubscribe(ch <-chan core.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, sub := range m.eventSubs {
		if sub == ch {
			m.eventSubs = append(m.eventSubs[:i], m.eventSubs[i+1:]...)
			return
		}
	}
}

// Emit publishes an event to all subscribers. Slow subscribers drop
// events rather than blocking processors.
func (m *Manager) Emit(e core.Event) {
	m.mu.RLock()
	subs := make([]chan core.Event, len(m.eventSubs))
	copy(subs, m.eventSubs)
	m.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
}
