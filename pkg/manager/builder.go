package manager

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"

	"github.com/tobren/batchq/pkg/core"
	"github.com/tobren/batchq/pkg/security"
)

// Builder accumulates jobs, context, options, and queue selection for
// one batch, then persists and dispatches it.
type Builder struct {
	m           *Manager
	batchType   core.BatchType
	jobs        []any
	context     map[string]any
	options     core.Options
	queueName   string
	queueConfig string
	err         error
}

func newBuilder(m *Manager, t core.BatchType, jobs []any) *Builder {
	return &Builder{
		m:           m,
		batchType:   t,
		jobs:        jobs,
		context:     map[string]any{},
		queueName:   m.queueName,
		queueConfig: m.queueConfig,
		options: core.Options{
			MaxRetries:       m.defaults.MaxRetries,
			Timeout:          m.defaults.Timeout,
			FailOnFirstError: m.defaults.FailOnFirstError,
		},
	}
}

// AddJob appends another job input.
func (b *Builder) AddJob(job any) *Builder {
	b.jobs = append(b.jobs, job)
	return b
}

// SetContext replaces the batch context.
func (b *Builder) SetContext(ctx map[string]any) *Builder {
	if ctx == nil {
		ctx = map[string]any{}
	}
	b.context = ctx
	return b
}

// WithContext sets one context key.
func (b *Builder) WithContext(key string, value any) *Builder {
	b.context[key] = value
	return b
}

// Name labels the batch.
func (b *Builder) Name(name string) *Builder {
	b.options.Name = name
	return b
}

// MaxRetries overrides the retry limit hint for this batch.
func (b *Builder) MaxRetries(n int) *Builder {
	b.options.MaxRetries = security.ClampRetries(n)
	return b
}

// RetryDelay sets the retry delay hint in seconds.
func (b *Builder) RetryDelay(seconds int) *Builder {
	b.options.RetryDelay = seconds
	return b
}

// Timeout sets the timeout hint in seconds. The core does not preempt
// running jobs; external monitoring consumes this value.
func (b *Builder) Timeout(seconds int) *Builder {
	b.options.Timeout = seconds
	return b
}

// FailOnFirstError makes the failure callback fire on the first failed job.
func (b *Builder) FailOnFirstError(v bool) *Builder {
	b.options.FailOnFirstError = v
	return b
}

// OnComplete sets the completion callback. Accepts a CallbackSpec, a
// *CallbackSpec, or a map with a class key. Function values are not
// serializable and are rejected.
func (b *Builder) OnComplete(spec any) *Builder {
	cb, err := toCallbackSpec(spec)
	if err != nil && b.err == nil {
		b.err = err
	}
	b.options.OnComplete = cb
	return b
}

// OnFailure sets the failure callback, with the same accepted shapes
// as OnComplete.
func (b *Builder) OnFailure(spec any) *Builder {
	cb, err := toCallbackSpec(spec)
	if err != nil && b.err == nil {
		b.err = err
	}
	b.options.OnFailure = cb
	return b
}

// Queue selects a named queue configured under queues.named.
func (b *Builder) Queue(name string) *Builder {
	b.queueName = name
	return b
}

// QueueConfig pins the concrete queue, bypassing named resolution.
func (b *Builder) QueueConfig(name string) *Builder {
	b.queueConfig = name
	return b
}

func toCallbackSpec(spec any) (*core.CallbackSpec, error) {
	switch v := spec.(type) {
	case nil:
		return nil, nil
	case core.CallbackSpec:
		if v.Class == "" {
			return nil, core.ErrInvalidCallback
		}
		return &v, nil
	case *core.CallbackSpec:
		if v == nil || v.Class == "" {
			return nil, core.ErrInvalidCallback
		}
		return v, nil
	case map[string]any:
		var cb core.CallbackSpec
		if err := mapstructure.Decode(v, &cb); err != nil || cb.Class == "" {
			return nil, core.ErrInvalidCallback
		}
		return &cb, nil
	default:
		if reflect.ValueOf(spec).Kind() == reflect.Func {
			return nil, core.ErrInvalidCallback
		}
		return nil, fmt.Errorf("%w: unsupported callback shape %T", core.ErrInvalidCallback, spec)
	}
}

// Dispatch resolves the queue, persists the batch with its full job
// set in one transaction, and enqueues the initial messages. Returns
// the batch id.
func (b *Builder) Dispatch(ctx context.Context) (string, error) {
	if b.err != nil {
		return "", b.err
	}
	if len(b.jobs) == 0 {
		return "", core.ErrEmptyBatch
	}
	if b.options.OnComplete != nil && !b.m.registry.Has(b.options.OnComplete.Class) {
		return "", fmt.Errorf("%w: %q", core.ErrUnknownClass, b.options.OnComplete.Class)
	}
	if b.options.OnFailure != nil && !b.m.registry.Has(b.options.OnFailure.Class) {
		return "", fmt.Errorf("%w: %q", core.ErrUnknownClass, b.options.OnFailure.Class)
	}

	jobs, err := core.NormalizeJobs(b.jobs, b.batchType, 0, b.m.registry)
	if err != nil {
		return "", err
	}

	def := &core.BatchDefinition{
		ID:          uuid.New().String(),
		Type:        b.batchType,
		Status:      core.BatchStatusPending,
		TotalJobs:   len(jobs),
		Context:     b.context,
		Options:     b.options,
		QueueName:   b.queueName,
		QueueConfig: b.m.resolver.Resolve(b.batchType, b.queueName, b.queueConfig),
		Created:     core.FormatTime(time.Now()),
		Jobs:        jobs,
	}
	for _, j := range jobs {
		j.BatchID = def.ID
	}

	if err := b.m.store.CreateBatch(ctx, def); err != nil {
		return "", err
	}
	if err := b.m.dispatcher.Dispatch(ctx, def); err != nil {
		return "", err
	}
	b.m.logger.Info("batch dispatched",
		"batch_id", def.ID, "type", string(def.Type), "jobs", len(jobs), "queue", def.QueueConfig)
	return def.ID, nil
}
