package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDefinition() *BatchDefinition {
	return &BatchDefinition{
		ID:            "batch-1",
		Type:          BatchSequential,
		Status:        BatchStatusRunning,
		TotalJobs:     2,
		CompletedJobs: 1,
		Context:       map[string]any{"tenant": "acme", "step": 2},
		Options: Options{
			OnComplete:       &CallbackSpec{Class: "notify", Args: map[string]any{"channel": "ops"}},
			MaxRetries:       5,
			FailOnFirstError: true,
			Name:             "nightly",
		},
		QueueName:   "orders",
		QueueConfig: "orders-queue",
		Created:     "2026-08-01 10:00:00",
		Modified:    "2026-08-01 10:05:00",
		Jobs: []*JobDefinition{
			{
				ID: "j0", BatchID: "batch-1", JobID: "msg-0", Position: 0,
				Status: JobStatusCompleted, Class: "order.create", Compensation: "order.undo",
				Args: map[string]any{"sku": "x"}, Result: map[string]any{"order_id": "o-1"},
				CompletedAt: "2026-08-01 10:03:00",
			},
			{
				ID: "j1", BatchID: "batch-1", Position: 1,
				Status: JobStatusPending, Class: "order.notify", Args: map[string]any{},
			},
		},
	}
}

func TestBatchDefinition_RoundTrip(t *testing.T) {
	orig := sampleDefinition()
	back, err := BatchFromMap(orig.ToMap())
	require.NoError(t, err)

	assert.Equal(t, orig.ID, back.ID)
	assert.Equal(t, orig.Type, back.Type)
	assert.Equal(t, orig.Status, back.Status)
	assert.Equal(t, orig.TotalJobs, back.TotalJobs)
	assert.Equal(t, orig.CompletedJobs, back.CompletedJobs)
	assert.Equal(t, orig.FailedJobs, back.FailedJobs)
	assert.Equal(t, orig.Context, back.Context)
	assert.Equal(t, orig.QueueName, back.QueueName)
	assert.Equal(t, orig.QueueConfig, back.QueueConfig)
	assert.Equal(t, orig.Created, back.Created)
	assert.Equal(t, orig.CompletedAt, back.CompletedAt)
	require.NotNil(t, back.Options.OnComplete)
	assert.Equal(t, "notify", back.Options.OnComplete.Class)
	assert.Equal(t, 5, back.Options.MaxRetries)
	assert.True(t, back.Options.FailOnFirstError)
	assert.Equal(t, "nightly", back.Options.Name)

	require.Len(t, back.Jobs, 2)
	assert.Equal(t, orig.Jobs[0].Class, back.Jobs[0].Class)
	assert.Equal(t, orig.Jobs[0].Compensation, back.Jobs[0].Compensation)
	assert.Equal(t, orig.Jobs[0].JobID, back.Jobs[0].JobID)
	assert.Equal(t, orig.Jobs[0].Result, back.Jobs[0].Result)
	assert.Equal(t, orig.Jobs[1].Position, back.Jobs[1].Position)
}

func TestBatchDefinition_RoundTripThroughJSON(t *testing.T) {
	// Redis stores the flattened map as JSON; numbers come back as
	// float64 and must still hydrate.
	orig := sampleDefinition()
	raw, err := json.Marshal(orig.ToMap())
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))

	back, err := BatchFromMap(m)
	require.NoError(t, err)
	assert.Equal(t, orig.TotalJobs, back.TotalJobs)
	assert.Equal(t, 1, back.Jobs[1].Position)
	assert.Equal(t, JobStatusCompleted, back.Jobs[0].Status)
}

func TestJobFromMap_ErrorRecord(t *testing.T) {
	j := &JobDefinition{
		ID: "j", Position: 0, Status: JobStatusFailed, Class: "boom",
		Args:  map[string]any{},
		Error: &ErrorRecord{Message: "exploded", File: "worker.go", Line: 42},
	}
	back, err := JobFromMap(j.ToMap())
	require.NoError(t, err)
	require.NotNil(t, back.Error)
	assert.Equal(t, "exploded", back.Error.Message)
	assert.Equal(t, 42, back.Error.Line)
}

func TestOptionsFromMap_IgnoresUnknownKeys(t *testing.T) {
	o, err := OptionsFromMap(map[string]any{
		"max_retries": 7,
		"mystery":     true,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, o.MaxRetries)
}
