package worker

import (
	"github.com/tobren/batchq/pkg/config"
)

// QueueSettings configures one consumed queue.
type QueueSettings struct {
	// Processor is "parallel" or "sequential"; empty resolves through
	// the queue configuration.
	Processor   string
	Concurrency int
}

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	Queues  map[string]QueueSettings
	Cleanup config.CleanupConfig
}

// WorkerOption configures a Worker.
type WorkerOption interface {
	ApplyWorker(*WorkerConfig)
}

type workerOptionFunc func(*WorkerConfig)

func (f workerOptionFunc) ApplyWorker(c *WorkerConfig) { f(c) }

// WorkerQueue adds a queue to consume with a processor variant and
// concurrency. Sequential queues should keep concurrency 1; chain
// ordering is structural either way, but one goroutine avoids idle
// spinners.
func WorkerQueue(name, processorKind string, concurrency int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Queues[name] = QueueSettings{Processor: processorKind, Concurrency: concurrency}
	})
}

// WithCleanup enables the periodic cleanup pass.
func WithCleanup(cfg config.CleanupConfig) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Cleanup = cfg
	})
}
