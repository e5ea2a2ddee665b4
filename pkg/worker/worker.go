package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/tobren/batchq/pkg/core"
	"github.com/tobren/batchq/pkg/manager"
	"github.com/tobren/batchq/pkg/processor"
	"github.com/tobren/batchq/pkg/queueconf"
	"github.com/tobren/batchq/pkg/transport"
)

// ErrNotDrainable is returned by Drain on transports without
// synchronous pop support.
var ErrNotDrainable = errors.New("batchq: transport does not support draining")

// Worker consumes queues and routes each delivery to the processor
// variant configured for that queue. Within one goroutine a single
// message is processed at a time; a processor does not return until
// its message's storage writes have committed.
type Worker struct {
	mgr      *manager.Manager
	config   WorkerConfig
	logger   *slog.Logger
	parallel processor.Processor
	chain    processor.Processor
	wg       sync.WaitGroup
}

// NewWorker creates a worker over a manager's storage, transport, and
// registry.
func NewWorker(m *manager.Manager, opts ...WorkerOption) *Worker {
	config := WorkerConfig{
		Queues: map[string]QueueSettings{},
	}
	for _, opt := range opts {
		opt.ApplyWorker(&config)
	}
	if len(config.Queues) == 0 {
		config.Queues = map[string]QueueSettings{
			queueconf.DefaultParallelQueue:   {Processor: queueconf.ProcessorParallel, Concurrency: 10},
			queueconf.DefaultSequentialQueue: {Processor: queueconf.ProcessorSequential, Concurrency: 1},
		}
	}

	logger := m.Logger()
	emitter := core.Emitter(m)
	return &Worker{
		mgr:      m,
		config:   config,
		logger:   logger,
		parallel: processor.NewParallel(m.Store(), m.Queue(), m.Registry(), emitter, logger),
		chain:    processor.NewChain(m.Store(), m.Queue(), m.Registry(), emitter, logger),
	}
}

// Start begins processing. Blocks until the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	cleanupStop, err := w.startCleanup(ctx)
	if err != nil {
		return err
	}
	defer cleanupStop()

	for name, settings := range w.config.Queues {
		deliveries, err := w.mgr.Queue().Consume(ctx, name)
		if err != nil {
			return err
		}
		concurrency := settings.Concurrency
		if concurrency < 1 {
			concurrency = 1
		}
		proc := w.processorFor(name, settings)
		for i := 0; i < concurrency; i++ {
			w.wg.Add(1)
			go w.consumeLoop(ctx, deliveries, proc)
		}
	}

	<-ctx.Done()
	w.wg.Wait()
	return ctx.Err()
}

func (w *Worker) consumeLoop(ctx context.Context, deliveries <-chan transport.Message, proc processor.Processor) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-deliveries:
			if !ok {
				return
			}
			w.handle(ctx, msg, proc)
		}
	}
}

func (w *Worker) handle(ctx context.Context, msg transport.Message, proc processor.Processor) {
	resp, err := proc.Process(ctx, msg)
	if err != nil {
		w.logger.Warn("message processing error",
			"queue", msg.Queue, "class", msg.Class, "response", resp.String(), "error", err)
	}
	if resp == transport.Requeue {
		if err := w.mgr.Queue().Requeue(ctx, msg); err != nil {
			w.logger.Error("requeue failed", "queue", msg.Queue, "message_id", msg.ID, "error", err)
		}
	}
}

func (w *Worker) processorFor(queue string, settings QueueSettings) processor.Processor {
	kind := settings.Processor
	if kind == "" {
		kind = w.mgr.Resolver().ProcessorFor(queue)
	}
	if kind == queueconf.ProcessorSequential {
		return w.chain
	}
	return w.parallel
}

// popper is the optional capability a transport exposes for
// synchronous draining; the in-memory transport implements it.
type popper interface {
	TryPopAny() (transport.Message, bool)
	Pending() int
}

// Drain synchronously processes messages until every queue of the
// transport is empty. Only supported on transports that expose TryPopAny, such
// as the in-memory queue; intended for tests and local development.
func (w *Worker) Drain(ctx context.Context) error {
	p, ok := w.mgr.Queue().(popper)
	if !ok {
		return ErrNotDrainable
	}
	for {
		msg, ok := p.TryPopAny()
		if !ok {
			return nil
		}
		settings := w.config.Queues[msg.Queue]
		w.handle(ctx, msg, w.processorFor(msg.Queue, settings))
	}
}
