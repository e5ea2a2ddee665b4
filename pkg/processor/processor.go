// Package processor contains the worker-side handlers that drive
// batch state: the parallel processor, the chain processor, and the
// compensation machinery they share.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tobren/batchq/pkg/core"
	"github.com/tobren/batchq/pkg/security"
	"github.com/tobren/batchq/pkg/transport"
)

// Processor handles one delivery and tells the transport what to do
// with the message.
type Processor interface {
	Process(ctx context.Context, msg transport.Message) (transport.Response, error)
}

// base carries the collaborators both processor variants need.
type base struct {
	store    core.Storage
	queue    transport.Queue
	registry *core.Registry
	emitter  core.Emitter
	logger   *slog.Logger
}

func newBase(store core.Storage, queue transport.Queue, registry *core.Registry, emitter core.Emitter, logger *slog.Logger) base {
	if emitter == nil {
		emitter = core.NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return base{store: store, queue: queue, registry: registry, emitter: emitter, logger: logger}
}

// execution is the outcome of running one job instance.
type execution struct {
	result  any
	context map[string]any
	ctxSet  bool
	err     error
}

// runJob instantiates a class and executes it, capturing a result from
// ResultAware instances and a (possibly mutated) context from
// ContextAware ones. Panics surface as errors.
func (b *base) runJob(ctx context.Context, class string, args map[string]any, batchContext map[string]any) (ex execution) {
	defer func() {
		if r := recover(); r != nil {
			ex.err = &core.JobExecutionError{Class: class, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	job, err := b.registry.Resolve(class)
	if err != nil {
		ex.err = err
		return ex
	}
	if ca, ok := job.(core.ContextAware); ok && batchContext != nil {
		ca.SetContext(cloneMap(batchContext))
	}
	if err := job.Execute(ctx, args); err != nil {
		ex.err = &core.JobExecutionError{Class: class, Err: err}
		return ex
	}
	if ra, ok := job.(core.ResultAware); ok {
		ex.result = ra.Result()
	}
	if ca, ok := job.(core.ContextAware); ok {
		ex.context = ca.Context()
		ex.ctxSet = true
	}
	return ex
}

// handleCallback executes a callback job. Callback messages never
// touch batch counters; failures are logged and the message dropped.
func (b *base) handleCallback(ctx context.Context, msg transport.Message) (transport.Response, error) {
	ex := b.runJob(ctx, msg.Class, msg.Args, nil)
	if ex.err != nil {
		b.logger.Error("callback job failed", "class", msg.Class, "error", ex.err)
		return transport.Ack, ex.err
	}
	return transport.Ack, nil
}

// fireCallback enqueues a terminal-state callback job onto the batch's
// queue with the status and error markers set.
func (b *base) fireCallback(ctx context.Context, def *core.BatchDefinition, cb *core.CallbackSpec, status string, errMsg string) {
	if cb == nil {
		return
	}
	args := cloneMap(cb.Args)
	args[core.KeyIsCallback] = true
	args[core.KeyBatchID] = def.ID
	args[core.KeyStatus] = status
	if errMsg != "" {
		args[core.KeyError] = errMsg
	}
	if _, err := b.queue.Push(ctx, def.QueueConfig, cb.Class, args); err != nil {
		b.logger.Error("failed to enqueue callback", "batch_id", def.ID, "class", cb.Class, "error", err)
	}
}

// claimJob stamps the queue message id on the row at the delivered
// position and marks it running. It also moves a pending batch to
// running on first pickup.
func (b *base) claimJob(ctx context.Context, def *core.BatchDefinition, position int, messageID string) error {
	if err := b.store.UpdateJobID(ctx, def.ID, position, messageID); err != nil {
		return err
	}
	if err := b.store.UpdateJobStatus(ctx, def.ID, messageID, core.JobStatusRunning, nil, nil); err != nil {
		return err
	}
	if def.Status == core.BatchStatusPending {
		err := b.store.UpdateBatch(ctx, def.ID, map[string]any{"status": string(core.BatchStatusRunning)})
		if err != nil {
			return err
		}
		def.Status = core.BatchStatusRunning
		b.emitter.Emit(&core.BatchStarted{BatchID: def.ID, Type: def.Type, Timestamp: time.Now()})
	}
	return nil
}

// errorRecord converts an execution error into a sanitized record. A
// JobExecutionError is unwrapped so the record holds the job's own
// error text.
func errorRecord(err error) *core.ErrorRecord {
	msg := err.Error()
	var jobErr *core.JobExecutionError
	if errors.As(err, &jobErr) && jobErr.Err != nil {
		msg = jobErr.Err.Error()
	}
	return &core.ErrorRecord{
		Message: security.SanitizeErrorMessage(msg),
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
