package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tobren/batchq/pkg/config"
	"github.com/tobren/batchq/pkg/core"
	"github.com/tobren/batchq/pkg/manager"
	"github.com/tobren/batchq/pkg/storage"
	"github.com/tobren/batchq/pkg/transport"
)

type nopJob struct{}

func (nopJob) Execute(ctx context.Context, args map[string]any) error { return nil }

func newTestWorkerEnv(t *testing.T) (*manager.Manager, *transport.Memory) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := storage.NewGormStorage(db)
	require.NoError(t, store.Migrate(context.Background()))

	mq := transport.NewMemory(0)
	m := manager.New(store, mq)
	m.Register("work", func() core.Job { return nopJob{} })
	return m, mq
}

func TestWorker_DrainProcessesDefaultQueues(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestWorkerEnv(t)
	w := NewWorker(m)

	id, err := m.Batch("work", "work").Dispatch(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Drain(ctx))

	def, err := m.GetBatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.BatchStatusCompleted, def.Status)
}

func TestWorker_DrainRoutesChainQueue(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestWorkerEnv(t)
	w := NewWorker(m)

	id, err := m.Chain("work", "work").Dispatch(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Drain(ctx))

	def, err := m.GetBatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.BatchStatusCompleted, def.Status)
	assert.Equal(t, 2, def.CompletedJobs)
}

func TestWorker_StartStopsOnContextCancel(t *testing.T) {
	m, _ := newTestWorkerEnv(t)
	w := NewWorker(m, WorkerQueue("batchjob", "parallel", 2))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestWorker_BadCleanupIntervalRejected(t *testing.T) {
	m, _ := newTestWorkerEnv(t)
	w := NewWorker(m, WithCleanup(config.CleanupConfig{Enabled: true, RunInterval: "often"}))

	err := w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run_interval")
}
