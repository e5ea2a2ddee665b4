package manager

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tobren/batchq/pkg/config"
	"github.com/tobren/batchq/pkg/core"
	"github.com/tobren/batchq/pkg/storage"
	"github.com/tobren/batchq/pkg/transport"
)

type nopJob struct{}

func (nopJob) Execute(ctx context.Context, args map[string]any) error { return nil }

func newTestManager(t *testing.T) (*Manager, *transport.Memory) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := storage.NewGormStorage(db)
	require.NoError(t, store.Migrate(context.Background()))

	mq := transport.NewMemory(0)
	m := New(store, mq)
	m.Register("work", func() core.Job { return nopJob{} })
	m.Register("undo", func() core.Job { return nopJob{} })
	return m, mq
}

func TestDispatch_PersistsAndEnqueues(t *testing.T) {
	ctx := context.Background()
	m, mq := newTestManager(t)

	id, err := m.Batch("work", "work").
		SetContext(map[string]any{"tenant": "acme"}).
		Name("pair").
		Dispatch(ctx)
	require.NoError(t, err)

	def, err := m.GetBatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.BatchParallel, def.Type)
	assert.Equal(t, 2, def.TotalJobs)
	assert.Equal(t, "batchjob", def.QueueConfig)
	assert.Equal(t, "pair", def.Options.Name)
	assert.Equal(t, 2, mq.Pending(), "both parallel jobs enqueued")
}

func TestDispatch_ChainEnqueuesHeadOnly(t *testing.T) {
	ctx := context.Background()
	m, mq := newTestManager(t)

	id, err := m.Chain("work", "work", "work").Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, mq.Pending())

	def, err := m.GetBatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "chainedjobs", def.QueueConfig)
}

func TestDispatch_EmptyBatchRejected(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Batch().Dispatch(context.Background())
	assert.ErrorIs(t, err, core.ErrEmptyBatch)
}

func TestDispatch_UnknownClassRejected(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Batch("missing").Dispatch(context.Background())
	assert.ErrorIs(t, err, core.ErrUnknownClass)
}

func TestDispatch_CompensationOnParallelRejected(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Batch([2]string{"work", "undo"}).Dispatch(context.Background())
	assert.ErrorIs(t, err, core.ErrInvalidJob)
}

func TestDispatch_FunctionCallbackRejected(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Batch("work").
		OnComplete(func() {}).
		Dispatch(context.Background())
	assert.ErrorIs(t, err, core.ErrInvalidCallback)
}

func TestDispatch_MapCallbackAccepted(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	m.Register("notify", func() core.Job { return nopJob{} })

	id, err := m.Batch("work").
		OnComplete(map[string]any{"class": "notify", "args": map[string]any{"ch": "ops"}}).
		Dispatch(ctx)
	require.NoError(t, err)

	def, err := m.GetBatch(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, def.Options.OnComplete)
	assert.Equal(t, "notify", def.Options.OnComplete.Class)
}

func TestGetBatch_NotFound(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.GetBatch(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrBatchNotFound)
}

func TestAddJobs_ParallelEnqueuesImmediately(t *testing.T) {
	ctx := context.Background()
	m, mq := newTestManager(t)

	id, err := m.Batch("work").Dispatch(ctx)
	require.NoError(t, err)
	_, _ = mq.TryPopAny() // drop the initial delivery

	def, err := m.AddJobs(ctx, id, "work", "work")
	require.NoError(t, err)
	assert.Equal(t, 3, def.TotalJobs)
	assert.Equal(t, 2, mq.Pending(), "appended parallel jobs enqueued promptly")
}

func TestAddJobs_ChainDoesNotEnqueue(t *testing.T) {
	ctx := context.Background()
	m, mq := newTestManager(t)

	id, err := m.Chain("work").Dispatch(ctx)
	require.NoError(t, err)
	_, _ = mq.TryPopAny()

	def, err := m.AddJobs(ctx, id, "work")
	require.NoError(t, err)
	assert.Equal(t, 2, def.TotalJobs)
	assert.Zero(t, mq.Pending(), "the running chain releases new positions itself")
}

func TestAddJobs_TerminalBatchRejected(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	id, err := m.Batch("work").Dispatch(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Store().UpdateBatch(ctx, id, map[string]any{"status": string(core.BatchStatusCompleted)}))

	_, err = m.AddJobs(ctx, id, "work")
	assert.ErrorIs(t, err, core.ErrBatchClosed)

	_, err = m.AddJobs(ctx, "missing", "work")
	assert.ErrorIs(t, err, core.ErrBatchNotFound)
}

func TestProgress(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	id, err := m.Batch("work", "work").Dispatch(ctx)
	require.NoError(t, err)

	p, err := m.Progress(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, p.TotalJobs)
	assert.Equal(t, 2, p.PendingJobs)
	assert.Zero(t, p.Percent)
}

func TestCancelBatch_DeletesRow(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)

	id, err := m.Batch("work").Dispatch(ctx)
	require.NoError(t, err)
	require.NoError(t, m.CancelBatch(ctx, id))

	_, err = m.GetBatch(ctx, id)
	assert.ErrorIs(t, err, core.ErrBatchNotFound)

	assert.ErrorIs(t, m.CancelBatch(ctx, id), core.ErrBatchNotFound)
}

func TestCompensate_ManualTrigger(t *testing.T) {
	ctx := context.Background()
	m, mq := newTestManager(t)

	id, err := m.Chain([2]string{"work", "undo"}, "work").Dispatch(ctx)
	require.NoError(t, err)
	_, _ = mq.TryPopAny()

	// Mark the compensable step completed by hand, as if the chain ran.
	require.NoError(t, m.Store().UpdateJobID(ctx, id, 0, "msg-0"))
	require.NoError(t, m.Store().UpdateJobStatus(ctx, id, "msg-0", core.JobStatusCompleted, nil, nil))

	compID, err := m.Compensate(ctx, id)
	require.NoError(t, err)
	require.NotEmpty(t, compID)

	comp, err := m.GetBatch(ctx, compID)
	require.NoError(t, err)
	assert.Equal(t, 1, comp.TotalJobs)
	assert.Equal(t, "undo", comp.JobAtPosition(0).Class)

	orig, err := m.GetBatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, compID, orig.Context["compensation_batch_id"])
}

func TestWithConfig_AppliesStickyFailureToStorage(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := storage.NewGormStorage(db)
	require.NoError(t, store.Migrate(ctx))

	sticky := false
	cfg := config.Default()
	cfg.Defaults.StickyFailure = &sticky

	m := New(store, transport.NewMemory(0), WithConfig(cfg))
	m.Register("work", func() core.Job { return nopJob{} })

	id, err := m.Batch("work").Dispatch(ctx)
	require.NoError(t, err)

	// Fail the only job, then let a retry succeed: the non-sticky
	// toggle loaded from config must allow the re-flip to completed.
	require.NoError(t, store.UpdateJobID(ctx, id, 0, "msg-0"))
	require.NoError(t, store.UpdateJobStatus(ctx, id, "msg-0", core.JobStatusFailed, nil, &core.ErrorRecord{Message: "x"}))
	upd, err := store.IncrementFailed(ctx, id)
	require.NoError(t, err)
	require.Equal(t, core.BatchStatusFailed, upd.Status)

	require.NoError(t, store.UpdateJobStatus(ctx, id, "msg-0", core.JobStatusCompleted, nil, nil))
	upd, err = store.IncrementCompleted(ctx, id)
	require.NoError(t, err)
	assert.True(t, upd.Transitioned)
	assert.Equal(t, core.BatchStatusCompleted, upd.Status)
}

func TestEvents_SubscribeAndEmit(t *testing.T) {
	m, _ := newTestManager(t)
	ch := m.Events()
	defer m.Unsubscribe(ch)

	m.Emit(&core.BatchStarted{BatchID: "b"})
	select {
	case e := <-ch:
		started, ok := e.(*core.BatchStarted)
		require.True(t, ok)
		assert.Equal(t, "b", started.BatchID)
	default:
		t.Fatal("expected buffered event")
	}
}
