package processor

import (
	"context"
	"time"

	"github.com/tobren/batchq/pkg/core"
)

// Built-in callback class names. The compensation chain's terminal
// callbacks report its outcome back onto the original batch's context.
const (
	ClassCompensationComplete = "compensation.complete"
	ClassCompensationFailed   = "compensation.failed"
)

// RegisterBuiltins registers the built-in callback classes against a
// storage. Call once per registry before starting workers.
func RegisterBuiltins(reg *core.Registry, store core.Storage) {
	reg.Register(ClassCompensationComplete, func() core.Job {
		return &compensationCompleteCallback{store: store}
	})
	reg.Register(ClassCompensationFailed, func() core.Job {
		return &compensationFailedCallback{store: store}
	})
}

// compensationCompleteCallback runs as the compensation chain's
// on_complete callback. It folds the compensation chain's final
// context (including whatever the rollback jobs accumulated) back
// onto the original batch and marks the rollback finished.
type compensationCompleteCallback struct {
	store core.Storage
}

func (c *compensationCompleteCallback) Execute(ctx context.Context, args map[string]any) error {
	origID, _ := args["original_batch_id"].(string)
	if origID == "" {
		return core.ErrInvalidJob
	}
	orig, err := c.store.GetBatch(ctx, origID)
	if err != nil {
		return err
	}
	if orig == nil {
		// Original batch cancelled meanwhile; nothing to report onto.
		return nil
	}

	merged := cloneMap(orig.Context)
	if compID, ok := core.EnvelopeBatchID(args); ok {
		comp, err := c.store.GetBatch(ctx, compID)
		if err != nil {
			return err
		}
		if comp != nil {
			for k, v := range comp.Context {
				merged[k] = v
			}
		}
	}
	merged[CtxCompensationStatus] = "completed"
	merged[CtxCompensationCompletedAt] = core.FormatTime(time.Now())
	return c.store.UpdateBatch(ctx, origID, map[string]any{"context": merged})
}

// compensationFailedCallback runs as the compensation chain's
// on_failure callback and records the rollback failure on the
// original batch.
type compensationFailedCallback struct {
	store core.Storage
}

func (c *compensationFailedCallback) Execute(ctx context.Context, args map[string]any) error {
	origID, _ := args["original_batch_id"].(string)
	if origID == "" {
		return core.ErrInvalidJob
	}
	orig, err := c.store.GetBatch(ctx, origID)
	if err != nil {
		return err
	}
	if orig == nil {
		return nil
	}

	merged := cloneMap(orig.Context)
	merged[CtxCompensationStatus] = "failed"
	merged[CtxCompensationFailedAt] = core.FormatTime(time.Now())
	if msg, ok := args[core.KeyError].(string); ok && msg != "" {
		merged[CtxCompensationError] = msg
	}
	return c.store.UpdateBatch(ctx, origID, map[string]any{"context": merged})
}
