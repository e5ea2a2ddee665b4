package processor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/tobren/batchq/pkg/core"
	"github.com/tobren/batchq/pkg/transport"
)

// Context keys the compensation machinery writes onto the original
// batch's context.
const (
	CtxCompensationBatchID     = "compensation_batch_id"
	CtxCompensationStatus      = "compensation_status"
	CtxCompensationStartedAt   = "compensation_started_at"
	CtxCompensationCompletedAt = "compensation_completed_at"
	CtxCompensationFailedAt    = "compensation_failed_at"
	CtxCompensationError       = "compensation_error"
)

// CompensationMeta is the record handed to each compensation job under
// the _compensation args key.
type CompensationMeta struct {
	OriginalBatchID   string `json:"original_batch_id" mapstructure:"original_batch_id"`
	OriginalJobClass  string `json:"original_job_class" mapstructure:"original_job_class"`
	OriginalPosition  int    `json:"original_position" mapstructure:"original_position"`
	OriginalResult    any    `json:"original_result,omitempty" mapstructure:"original_result"`
	CompensationOrder int    `json:"compensation_order" mapstructure:"compensation_order"`
}

// DecodeCompensationMeta extracts the _compensation record from a
// compensation job's delivered args. ok is false for ordinary jobs.
func DecodeCompensationMeta(args map[string]any) (CompensationMeta, bool) {
	raw, ok := args[core.KeyCompensationMeta]
	if !ok {
		return CompensationMeta{}, false
	}
	var meta CompensationMeta
	if m, ok := raw.(CompensationMeta); ok {
		return m, true
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &meta,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return CompensationMeta{}, false
	}
	if err := dec.Decode(raw); err != nil {
		return CompensationMeta{}, false
	}
	return meta, true
}

// Compensator builds and dispatches the Saga rollback chain for a
// failed sequential batch.
type Compensator struct {
	store   core.Storage
	queue   transport.Queue
	emitter core.Emitter
	logger  *slog.Logger
}

// NewCompensator creates a compensator.
func NewCompensator(store core.Storage, queue transport.Queue, emitter core.Emitter, logger *slog.Logger) *Compensator {
	if emitter == nil {
		emitter = core.NopEmitter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Compensator{store: store, queue: queue, emitter: emitter, logger: logger}
}

// Launch walks the failed batch's completed jobs in reverse position
// order, builds a sequential chain of their compensation classes,
// persists and dispatches it, and records the correlation on the
// original batch's context. Returns the compensation batch id, or ""
// when no job needs rolling back.
//
// The failing job itself is not compensated, and neither are pending
// jobs: only completed jobs hold visible side effects.
func (c *Compensator) Launch(ctx context.Context, original *core.BatchDefinition) (string, error) {
	targets := original.JobsWithCompensation()
	if len(targets) == 0 {
		return "", nil
	}

	name := ""
	if original.Options.Name != "" {
		name = original.Options.Name + "-compensation"
	}
	comp := &core.BatchDefinition{
		ID:          uuid.New().String(),
		Type:        core.BatchSequential,
		Status:      core.BatchStatusPending,
		Context:     cloneMap(original.Context),
		QueueName:   original.QueueName,
		QueueConfig: original.QueueConfig,
		Options: core.Options{
			Name: name,
			OnComplete: &core.CallbackSpec{
				Class: ClassCompensationComplete,
				Args:  map[string]any{"original_batch_id": original.ID},
			},
			OnFailure: &core.CallbackSpec{
				Class: ClassCompensationFailed,
				Args:  map[string]any{"original_batch_id": original.ID},
			},
		},
	}

	for i, oj := range targets {
		args := cloneMap(oj.Args)
		args[core.KeyIsCompensation] = true
		args[core.KeyCompensationMeta] = CompensationMeta{
			OriginalBatchID:   original.ID,
			OriginalJobClass:  oj.Class,
			OriginalPosition:  oj.Position,
			OriginalResult:    oj.Result,
			CompensationOrder: i,
		}
		comp.Jobs = append(comp.Jobs, &core.JobDefinition{
			ID:       uuid.New().String(),
			BatchID:  comp.ID,
			Position: i,
			Status:   core.JobStatusPending,
			Class:    oj.Compensation,
			Args:     args,
		})
	}
	comp.TotalJobs = len(comp.Jobs)

	if err := c.store.CreateBatch(ctx, comp); err != nil {
		return "", err
	}

	// Correlate before dispatch so operators can find the rollback
	// chain even if it never starts.
	origCtx := cloneMap(original.Context)
	origCtx[CtxCompensationBatchID] = comp.ID
	origCtx[CtxCompensationStatus] = "running"
	origCtx[CtxCompensationStartedAt] = core.FormatTime(time.Now())
	if err := c.store.UpdateBatch(ctx, original.ID, map[string]any{"context": origCtx}); err != nil {
		return "", err
	}

	head := comp.JobAtPosition(0)
	if _, err := c.queue.Push(ctx, comp.QueueConfig, head.Class, core.EnvelopeArgs(comp, head)); err != nil {
		return "", err
	}

	c.logger.Info("compensation chain launched",
		"batch_id", original.ID, "compensation_batch_id", comp.ID, "steps", len(comp.Jobs))
	c.emitter.Emit(&core.CompensationStarted{
		BatchID:             original.ID,
		CompensationBatchID: comp.ID,
		Steps:               len(comp.Jobs),
		Timestamp:           time.Now(),
	})
	return comp.ID, nil
}
