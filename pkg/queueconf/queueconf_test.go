package queueconf

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tobren/batchq/pkg/config"
	"github.com/tobren/batchq/pkg/core"
)

func TestResolve_HardDefaults(t *testing.T) {
	s := New(config.QueuesConfig{})
	assert.Equal(t, "batchjob", s.Resolve(core.BatchParallel, "", ""))
	assert.Equal(t, "chainedjobs", s.Resolve(core.BatchSequential, "", ""))
}

func TestResolve_ExplicitQueueConfigWins(t *testing.T) {
	s := New(config.QueuesConfig{
		Named: map[string]config.QueueRoute{
			"orders": {QueueConfig: "orders-queue"},
		},
	})
	assert.Equal(t, "direct", s.Resolve(core.BatchParallel, "orders", "direct"))
}

func TestResolve_NamedBeforeTypeDefaults(t *testing.T) {
	s := New(config.QueuesConfig{
		Default: config.TypeQueues{Parallel: "fast-parallel"},
		Named: map[string]config.QueueRoute{
			"orders": {QueueConfig: "orders-queue"},
		},
	})
	assert.Equal(t, "orders-queue", s.Resolve(core.BatchParallel, "orders", ""))
	assert.Equal(t, "fast-parallel", s.Resolve(core.BatchParallel, "unknown", ""))
}

func TestResolve_TypeRoutes(t *testing.T) {
	s := New(config.QueuesConfig{
		Types: map[string]config.QueueRoute{
			"sequential": {QueueConfig: "chains-priority"},
		},
	})
	assert.Equal(t, "chains-priority", s.Resolve(core.BatchSequential, "", ""))
	assert.Equal(t, "batchjob", s.Resolve(core.BatchParallel, "", ""))
}

func TestProcessorFor(t *testing.T) {
	s := New(config.QueuesConfig{
		Default: config.TypeQueues{Sequential: "my-chain"},
		Named: map[string]config.QueueRoute{
			"orders": {QueueConfig: "orders-queue", Processor: ProcessorSequential},
		},
	})
	assert.Equal(t, ProcessorSequential, s.ProcessorFor("orders-queue"))
	assert.Equal(t, ProcessorSequential, s.ProcessorFor("my-chain"))
	assert.Equal(t, ProcessorSequential, s.ProcessorFor("chainedjobs"))
	assert.Equal(t, ProcessorParallel, s.ProcessorFor("batchjob"))
	assert.Equal(t, ProcessorParallel, s.ProcessorFor("anything-else"))
}
