// Package queueconf resolves logical batch types and named-queue
// labels to the concrete queue a batch's messages are pushed to.
package queueconf

import (
	"github.com/tobren/batchq/pkg/config"
	"github.com/tobren/batchq/pkg/core"
)

// Hard defaults when nothing is configured.
const (
	DefaultParallelQueue   = "batchjob"
	DefaultSequentialQueue = "chainedjobs"
)

// Processor variant names referenced by queue routes.
const (
	ProcessorParallel   = "parallel"
	ProcessorSequential = "sequential"
)

// Service resolves queue names from configuration.
type Service struct {
	queues config.QueuesConfig
}

// New creates a resolver over the queues section of the configuration.
func New(queues config.QueuesConfig) *Service {
	return &Service{queues: queues}
}

// Resolve returns the concrete queue name for a batch, in priority
// order: an explicit queue_config set on the builder, a named-queue
// mapping for queueName, a per-type route, the configured per-type
// default, then the hard default for the batch type.
func (s *Service) Resolve(batchType core.BatchType, queueName, queueConfig string) string {
	if queueConfig != "" {
		return queueConfig
	}
	if queueName != "" {
		if route, ok := s.queues.Named[queueName]; ok && route.QueueConfig != "" {
			return route.QueueConfig
		}
	}
	if route, ok := s.queues.Types[string(batchType)]; ok && route.QueueConfig != "" {
		return route.QueueConfig
	}
	switch batchType {
	case core.BatchSequential:
		if s.queues.Default.Sequential != "" {
			return s.queues.Default.Sequential
		}
		return DefaultSequentialQueue
	default:
		if s.queues.Default.Parallel != "" {
			return s.queues.Default.Parallel
		}
		return DefaultParallelQueue
	}
}

// ProcessorFor returns the processor variant configured for a queue
// name, falling back to the variant implied by the batch type that
// owns the default queue names.
func (s *Service) ProcessorFor(queue string) string {
	for _, route := range s.queues.Named {
		if route.QueueConfig == queue && route.Processor != "" {
			return route.Processor
		}
	}
	for _, route := range s.queues.Types {
		if route.QueueConfig == queue && route.Processor != "" {
			return route.Processor
		}
	}
	switch queue {
	case s.queues.Default.Sequential, DefaultSequentialQueue:
		return ProcessorSequential
	default:
		return ProcessorParallel
	}
}
