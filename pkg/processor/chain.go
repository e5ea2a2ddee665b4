package processor

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"time"

	"github.com/tobren/batchq/pkg/core"
	"github.com/tobren/batchq/pkg/transport"
)

// Chain handles deliveries for sequential chains: run the step with
// the accumulated context, persist context mutations, and either
// release the next step or finish the batch. On failure it stops the
// chain and launches compensation for completed steps that registered
// a compensation partner.
//
// A compensation chain is itself a sequential batch processed here;
// its jobs are recognizable by the _compensation and is_compensation
// keys in their args.
type Chain struct {
	base
	compensator *Compensator
}

// NewChain creates the sequential-queue processor.
func NewChain(store core.Storage, queue transport.Queue, registry *core.Registry, emitter core.Emitter, logger *slog.Logger) *Chain {
	b := newBase(store, queue, registry, emitter, logger)
	return &Chain{
		base:        b,
		compensator: NewCompensator(store, queue, emitter, b.logger),
	}
}

// Process handles one delivery.
func (c *Chain) Process(ctx context.Context, msg transport.Message) (transport.Response, error) {
	switch core.ClassifyEnvelope(msg.Args) {
	case core.EnvelopeCallback:
		return c.handleCallback(ctx, msg)
	case core.EnvelopeOther:
		return transport.Ack, nil
	}

	batchID, ok := core.EnvelopeBatchID(msg.Args)
	position, okPos := core.EnvelopePosition(msg.Args)
	if !ok || !okPos {
		return transport.Reject, core.ErrInvalidJob
	}

	def, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return transport.Requeue, err
	}
	if def == nil {
		return transport.Reject, nil
	}

	if err := c.claimJob(ctx, def, position, msg.ID); err != nil {
		if errors.Is(err, core.ErrJobNotFound) {
			return transport.Reject, err
		}
		return transport.Requeue, err
	}

	// Fresh read for the current accumulated context.
	ex := c.runJob(ctx, msg.Class, msg.Args, def.Context)
	if ex.err != nil {
		return c.failStep(ctx, def, msg, position, ex.err)
	}

	// Persist a mutated context before advancing so the next step and
	// dynamically appended jobs see it.
	if ex.ctxSet && !reflect.DeepEqual(ex.context, def.Context) {
		if err := c.store.UpdateBatch(ctx, def.ID, map[string]any{"context": ex.context}); err != nil {
			return transport.Requeue, err
		}
	}

	if err := c.store.UpdateJobStatus(ctx, def.ID, msg.ID, core.JobStatusCompleted, ex.result, nil); err != nil {
		return transport.Requeue, err
	}
	c.emitter.Emit(&core.JobCompleted{
		BatchID: def.ID, JobID: msg.ID, Position: position, Class: msg.Class, Timestamp: time.Now(),
	})

	upd, err := c.store.IncrementCompleted(ctx, def.ID)
	if err != nil {
		if errors.Is(err, core.ErrBatchNotFound) {
			return transport.Reject, nil
		}
		return transport.Requeue, err
	}
	if upd.Transitioned && upd.Status == core.BatchStatusCompleted {
		c.logger.Info("chain completed", "batch_id", def.ID, "total_jobs", upd.Total)
		c.fireCallback(ctx, def, def.Options.OnComplete, string(core.BatchStatusCompleted), "")
		c.emitter.Emit(&core.BatchCompleted{BatchID: def.ID, Type: def.Type, Timestamp: time.Now()})
		return transport.Ack, nil
	}

	return c.advance(ctx, def.ID, position)
}

// advance reloads the batch (picking up context updates and total_jobs
// growth from addJobs) and releases the step after position.
func (c *Chain) advance(ctx context.Context, batchID string, position int) (transport.Response, error) {
	fresh, err := c.store.GetBatch(ctx, batchID)
	if err != nil {
		return transport.Requeue, err
	}
	if fresh == nil {
		return transport.Reject, nil
	}
	next := fresh.NextSequentialJob(position)
	if next == nil {
		c.logger.Warn("no next step to release", "batch_id", batchID, "position", position)
		return transport.Ack, nil
	}
	args := core.EnvelopeArgs(fresh, next)
	if _, err := c.queue.Push(ctx, fresh.QueueConfig, next.Class, args); err != nil {
		return transport.Requeue, err
	}
	c.logger.Debug("released next step", "batch_id", batchID, "position", next.Position)
	return transport.Ack, nil
}

func (c *Chain) failStep(ctx context.Context, def *core.BatchDefinition, msg transport.Message, position int, jobErr error) (transport.Response, error) {
	rec := errorRecord(jobErr)
	if err := c.store.UpdateJobStatus(ctx, def.ID, msg.ID, core.JobStatusFailed, nil, rec); err != nil {
		return transport.Requeue, err
	}
	c.emitter.Emit(&core.JobFailed{
		BatchID: def.ID, JobID: msg.ID, Position: position, Class: msg.Class, Error: rec, Timestamp: time.Now(),
	})

	upd, err := c.store.IncrementFailed(ctx, def.ID)
	if err != nil {
		if errors.Is(err, core.ErrBatchNotFound) {
			return transport.Reject, nil
		}
		return transport.Requeue, err
	}

	// Only the delivery that committed the terminal transition fires
	// callbacks and compensation; redeliveries of the failed step see
	// Transitioned == false and stop here.
	if upd.Transitioned && upd.Status == core.BatchStatusFailed {
		c.logger.Warn("chain failed", "batch_id", def.ID, "position", position, "error", rec.Message)
		c.fireCallback(ctx, def, def.Options.OnFailure, string(core.BatchStatusFailed), rec.Message)
		c.emitter.Emit(&core.BatchFailed{BatchID: def.ID, Type: def.Type, Error: rec, Timestamp: time.Now()})

		fresh, err := c.store.GetBatch(ctx, def.ID)
		if err != nil {
			return transport.Requeue, err
		}
		if fresh != nil && len(fresh.JobsWithCompensation()) > 0 {
			if _, err := c.compensator.Launch(ctx, fresh); err != nil {
				c.logger.Error("failed to launch compensation", "batch_id", def.ID, "error", err)
				return transport.Requeue, err
			}
		}
	}
	return transport.Ack, jobErr
}
