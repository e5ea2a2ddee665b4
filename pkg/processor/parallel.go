package processor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/tobren/batchq/pkg/core"
	"github.com/tobren/batchq/pkg/transport"
)

// Parallel handles deliveries for parallel batches: run the job,
// recount, and detect batch completion. Jobs of a parallel batch may
// complete in any order; the store serializes the terminal transition.
type Parallel struct {
	base
}

// NewParallel creates the parallel-queue processor.
func NewParallel(store core.Storage, queue transport.Queue, registry *core.Registry, emitter core.Emitter, logger *slog.Logger) *Parallel {
	return &Parallel{base: newBase(store, queue, registry, emitter, logger)}
}

// Process handles one delivery.
func (p *Parallel) Process(ctx context.Context, msg transport.Message) (transport.Response, error) {
	switch core.ClassifyEnvelope(msg.Args) {
	case core.EnvelopeCallback:
		return p.handleCallback(ctx, msg)
	case core.EnvelopeOther:
		return transport.Ack, nil
	}

	batchID, ok := core.EnvelopeBatchID(msg.Args)
	position, okPos := core.EnvelopePosition(msg.Args)
	if !ok || !okPos {
		// Poison message; do not redeliver.
		return transport.Reject, core.ErrInvalidJob
	}

	def, err := p.store.GetBatch(ctx, batchID)
	if err != nil {
		return transport.Requeue, err
	}
	if def == nil {
		// Batch cancelled or cleaned up while the message was in flight.
		return transport.Reject, nil
	}

	if err := p.claimJob(ctx, def, position, msg.ID); err != nil {
		if errors.Is(err, core.ErrJobNotFound) {
			return transport.Reject, err
		}
		return transport.Requeue, err
	}

	ex := p.runJob(ctx, msg.Class, msg.Args, nil)
	if ex.err != nil {
		return p.failJob(ctx, def, msg, ex.err)
	}
	return p.completeJob(ctx, def, msg, ex.result)
}

func (p *Parallel) completeJob(ctx context.Context, def *core.BatchDefinition, msg transport.Message, result any) (transport.Response, error) {
	if err := p.store.UpdateJobStatus(ctx, def.ID, msg.ID, core.JobStatusCompleted, result, nil); err != nil {
		return transport.Requeue, err
	}
	position, _ := core.EnvelopePosition(msg.Args)
	p.emitter.Emit(&core.JobCompleted{
		BatchID: def.ID, JobID: msg.ID, Position: position, Class: msg.Class, Timestamp: time.Now(),
	})

	upd, err := p.store.IncrementCompleted(ctx, def.ID)
	if err != nil {
		if errors.Is(err, core.ErrBatchNotFound) {
			return transport.Reject, nil
		}
		return transport.Requeue, err
	}
	if upd.Transitioned && upd.Status == core.BatchStatusCompleted {
		p.logger.Info("batch completed", "batch_id", def.ID, "total_jobs", upd.Total)
		p.fireCallback(ctx, def, def.Options.OnComplete, string(core.BatchStatusCompleted), "")
		p.emitter.Emit(&core.BatchCompleted{BatchID: def.ID, Type: def.Type, Timestamp: time.Now()})
	}
	return transport.Ack, nil
}

func (p *Parallel) failJob(ctx context.Context, def *core.BatchDefinition, msg transport.Message, jobErr error) (transport.Response, error) {
	rec := errorRecord(jobErr)
	if err := p.store.UpdateJobStatus(ctx, def.ID, msg.ID, core.JobStatusFailed, nil, rec); err != nil {
		return transport.Requeue, err
	}
	position, _ := core.EnvelopePosition(msg.Args)
	p.emitter.Emit(&core.JobFailed{
		BatchID: def.ID, JobID: msg.ID, Position: position, Class: msg.Class, Error: rec, Timestamp: time.Now(),
	})

	upd, err := p.store.IncrementFailed(ctx, def.ID)
	if err != nil {
		if errors.Is(err, core.ErrBatchNotFound) {
			return transport.Reject, nil
		}
		return transport.Requeue, err
	}
	if upd.Transitioned && upd.Status == core.BatchStatusFailed {
		p.logger.Warn("batch failed", "batch_id", def.ID, "failed_jobs", upd.Failed)
		if def.Options.OnFailure != nil || def.Options.FailOnFirstError {
			p.fireCallback(ctx, def, def.Options.OnFailure, string(core.BatchStatusFailed), rec.Message)
		}
		p.emitter.Emit(&core.BatchFailed{BatchID: def.ID, Type: def.Type, Error: rec, Timestamp: time.Now()})
	}
	// Let the transport apply its own retry policy for transient errors.
	return transport.Requeue, jobErr
}
