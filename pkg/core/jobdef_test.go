package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRegistry(t *testing.T, classes ...string) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, c := range classes {
		reg.Register(c, func() Job { return nopJob{} })
	}
	return reg
}

type nopJob struct{}

func (nopJob) Execute(ctx context.Context, args map[string]any) error { return nil }

func TestNormalizeJob_ClassName(t *testing.T) {
	j, err := NormalizeJob("order.create", BatchParallel, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "order.create", j.Class)
	assert.Empty(t, j.Compensation)
	assert.Equal(t, 0, j.Position)
	assert.Equal(t, JobStatusPending, j.Status)
	assert.NotEmpty(t, j.ID)
	assert.NotNil(t, j.Args)
}

func TestNormalizeJob_Pair(t *testing.T) {
	j, err := NormalizeJob([2]string{"order.create", "order.undo"}, BatchSequential, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, "order.create", j.Class)
	assert.Equal(t, "order.undo", j.Compensation)
	assert.Equal(t, 2, j.Position)
}

func TestNormalizeJob_PairOnParallelRejected(t *testing.T) {
	_, err := NormalizeJob([2]string{"a", "b"}, BatchParallel, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestNormalizeJob_Map(t *testing.T) {
	j, err := NormalizeJob(map[string]any{
		"class":        "order.create",
		"compensation": "order.undo",
		"args":         map[string]any{"v": 1},
	}, BatchSequential, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, "order.create", j.Class)
	assert.Equal(t, "order.undo", j.Compensation)
	assert.Equal(t, 1, j.Args["v"])
}

func TestNormalizeJob_MapWithoutClassRejected(t *testing.T) {
	_, err := NormalizeJob(map[string]any{"args": map[string]any{}}, BatchParallel, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestNormalizeJob_Spec(t *testing.T) {
	j, err := NormalizeJob(JobSpec{Class: "work", Args: map[string]any{"n": 2}}, BatchParallel, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, "work", j.Class)
	assert.Equal(t, 2, j.Args["n"])
}

func TestNormalizeJob_LoadedDefinition(t *testing.T) {
	orig := &JobDefinition{ID: "row-1", Class: "work", Status: JobStatusCompleted, Position: 9}
	j, err := NormalizeJob(orig, BatchParallel, 3, nil)
	require.NoError(t, err)
	assert.Equal(t, "row-1", j.ID)
	assert.Equal(t, 3, j.Position, "position reassigned by index")
	assert.Equal(t, JobStatusCompleted, j.Status)
}

func TestNormalizeJob_UnknownClass(t *testing.T) {
	reg := testRegistry(t, "known")
	_, err := NormalizeJob("missing", BatchParallel, 0, reg)
	assert.ErrorIs(t, err, ErrUnknownClass)

	_, err = NormalizeJob([2]string{"known", "missing-comp"}, BatchSequential, 0, reg)
	assert.ErrorIs(t, err, ErrUnknownClass)
}

func TestNormalizeJob_UnsupportedShape(t *testing.T) {
	_, err := NormalizeJob(42, BatchParallel, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestNormalizeJobs_AssignsContiguousPositions(t *testing.T) {
	jobs, err := NormalizeJobs([]any{"a", "b", "c"}, BatchParallel, 5, nil)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	for i, j := range jobs {
		assert.Equal(t, 5+i, j.Position)
	}
}

func TestBatchDefinition_Predicates(t *testing.T) {
	d := &BatchDefinition{
		Type:      BatchSequential,
		TotalJobs: 3,
		Jobs: []*JobDefinition{
			{ID: "a", Position: 0, Status: JobStatusCompleted, Compensation: "undo.a"},
			{ID: "b", Position: 1, Status: JobStatusCompleted},
			{ID: "c", Position: 2, Status: JobStatusFailed, Compensation: "undo.c"},
		},
	}

	assert.True(t, d.HasCompensation())
	assert.Equal(t, "b", d.Job("b").ID)
	assert.Nil(t, d.Job("zzz"))
	assert.Equal(t, 1, d.NextSequentialJob(0).Position)
	assert.Nil(t, d.NextSequentialJob(2))

	// Only completed jobs with compensation, reverse order. The failed
	// job itself carries a compensation class but is not rolled back.
	targets := d.JobsWithCompensation()
	require.Len(t, targets, 1)
	assert.Equal(t, "a", targets[0].ID)

	d.CompletedJobs = 3
	assert.True(t, d.IsComplete())
	d.FailedJobs = 1
	assert.False(t, d.IsComplete())
	assert.True(t, d.HasFailed())
}

func TestProgressOf(t *testing.T) {
	d := &BatchDefinition{ID: "x", Status: BatchStatusRunning, TotalJobs: 4, CompletedJobs: 1, FailedJobs: 1}
	p := ProgressOf(d)
	assert.Equal(t, 2, p.PendingJobs)
	assert.InDelta(t, 50.0, p.Percent, 0.001)
}
