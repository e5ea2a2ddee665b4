package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tobren/batchq/pkg/core"
	"github.com/tobren/batchq/pkg/transport"
)

func testBatch(typ core.BatchType, n int) *core.BatchDefinition {
	d := &core.BatchDefinition{
		ID:          "b1",
		Type:        typ,
		QueueConfig: "q",
		Context:     map[string]any{"tenant": "acme"},
	}
	for i := 0; i < n; i++ {
		d.Jobs = append(d.Jobs, &core.JobDefinition{
			ID: "j", Position: i, Class: "work", Args: map[string]any{"i": i},
		})
	}
	d.TotalJobs = n
	return d
}

func TestDispatch_ParallelFansOutAllJobs(t *testing.T) {
	ctx := context.Background()
	mq := transport.NewMemory(0)
	d := New(mq, nil)

	require.NoError(t, d.Dispatch(ctx, testBatch(core.BatchParallel, 3)))
	assert.Equal(t, 3, mq.Pending())

	msg, ok := mq.TryPop("q")
	require.True(t, ok)
	assert.Equal(t, "work", msg.Class)
	assert.Equal(t, "b1", msg.Args[core.KeyBatchID])
	assert.Equal(t, "acme", msg.Args["tenant"])
}

func TestDispatch_SequentialReleasesOnlyHead(t *testing.T) {
	ctx := context.Background()
	mq := transport.NewMemory(0)
	d := New(mq, nil)

	require.NoError(t, d.Dispatch(ctx, testBatch(core.BatchSequential, 3)))
	assert.Equal(t, 1, mq.Pending())

	msg, _ := mq.TryPop("q")
	assert.Equal(t, 0, msg.Args[core.KeyJobPosition])
}

func TestDispatch_EmptyBatch(t *testing.T) {
	d := New(transport.NewMemory(0), nil)
	err := d.Dispatch(context.Background(), testBatch(core.BatchParallel, 0))
	assert.ErrorIs(t, err, core.ErrEmptyBatch)
}

func TestDispatchJobs_PushesAppendedOnly(t *testing.T) {
	ctx := context.Background()
	mq := transport.NewMemory(0)
	d := New(mq, nil)

	batch := testBatch(core.BatchParallel, 4)
	require.NoError(t, d.DispatchJobs(ctx, batch, batch.Jobs[2:]))
	assert.Equal(t, 2, mq.Pending())
}
