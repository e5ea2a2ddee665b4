// Package dispatch translates a persisted batch into its initial
// queue messages: every job for a parallel batch, only the head job
// for a sequential chain.
package dispatch

import (
	"context"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"github.com/tobren/batchq/pkg/core"
	"github.com/tobren/batchq/pkg/transport"
)

// Dispatcher pushes batch job envelopes onto the transport.
type Dispatcher struct {
	queue  transport.Queue
	logger *slog.Logger
}

// New creates a dispatcher over a transport.
func New(q transport.Queue, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{queue: q, logger: logger}
}

// Dispatch enqueues the initial messages for a batch onto its resolved
// queue. Parallel batches fan out completely; chains release only
// position 0, the processor releases each subsequent step.
func (d *Dispatcher) Dispatch(ctx context.Context, def *core.BatchDefinition) error {
	if len(def.Jobs) == 0 {
		return core.ErrEmptyBatch
	}
	if def.Type == core.BatchSequential {
		return d.push(ctx, def, def.JobAtPosition(0))
	}

	var errs *multierror.Error
	for _, j := range def.Jobs {
		if err := d.push(ctx, def, j); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// DispatchJobs enqueues envelopes for specific jobs of a batch, used
// when jobs are appended to an already-running parallel batch.
func (d *Dispatcher) DispatchJobs(ctx context.Context, def *core.BatchDefinition, jobs []*core.JobDefinition) error {
	var errs *multierror.Error
	for _, j := range jobs {
		if err := d.push(ctx, def, j); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

func (d *Dispatcher) push(ctx context.Context, def *core.BatchDefinition, j *core.JobDefinition) error {
	if j == nil {
		return core.ErrJobNotFound
	}
	args := core.EnvelopeArgs(def, j)
	id, err := d.queue.Push(ctx, def.QueueConfig, j.Class, args)
	if err != nil {
		d.logger.Error("push failed", "batch_id", def.ID, "position", j.Position, "error", err)
		return err
	}
	d.logger.Debug("enqueued job", "batch_id", def.ID, "position", j.Position, "queue", def.QueueConfig, "message_id", id)
	return nil
}
