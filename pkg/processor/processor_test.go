package processor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tobren/batchq/pkg/core"
	"github.com/tobren/batchq/pkg/dispatch"
	"github.com/tobren/batchq/pkg/storage"
	"github.com/tobren/batchq/pkg/transport"
)

// env wires an in-memory SQLite store, the in-memory transport, and
// both processors for direct-drive tests.
type env struct {
	store *storage.GormStorage
	mq    *transport.Memory
	reg   *core.Registry
	par   *Parallel
	ch    *Chain
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := storage.NewGormStorage(db)
	require.NoError(t, store.Migrate(context.Background()))

	mq := transport.NewMemory(2)
	reg := core.NewRegistry()
	RegisterBuiltins(reg, store)
	return &env{
		store: store,
		mq:    mq,
		reg:   reg,
		par:   NewParallel(store, mq, reg, nil, nil),
		ch:    NewChain(store, mq, reg, nil, nil),
	}
}

// dispatchBatch persists and enqueues a batch built from job definitions.
func (e *env) dispatchBatch(t *testing.T, typ core.BatchType, opts core.Options, ctxMap map[string]any, jobs ...*core.JobDefinition) *core.BatchDefinition {
	t.Helper()
	queue := "batchjob"
	if typ == core.BatchSequential {
		queue = "chainedjobs"
	}
	if ctxMap == nil {
		ctxMap = map[string]any{}
	}
	d := &core.BatchDefinition{
		ID:          uuid.New().String(),
		Type:        typ,
		Status:      core.BatchStatusPending,
		Context:     ctxMap,
		Options:     opts,
		QueueConfig: queue,
		TotalJobs:   len(jobs),
		Jobs:        jobs,
	}
	for i, j := range jobs {
		j.BatchID = d.ID
		j.Position = i
		if j.ID == "" {
			j.ID = uuid.New().String()
		}
		if j.Status == "" {
			j.Status = core.JobStatusPending
		}
		if j.Args == nil {
			j.Args = map[string]any{}
		}
	}
	require.NoError(t, e.store.CreateBatch(context.Background(), d))
	require.NoError(t, dispatch.New(e.mq, nil).Dispatch(context.Background(), d))
	return d
}

// drain synchronously processes queued messages, routing parallel and
// sequential queues to their processors, until everything settles.
func (e *env) drain(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		msg, ok := e.mq.TryPopAny()
		if !ok {
			return
		}
		var proc Processor = e.par
		if msg.Queue == "chainedjobs" {
			proc = e.ch
		}
		resp, _ := proc.Process(ctx, msg)
		if resp == transport.Requeue {
			require.NoError(t, e.mq.Requeue(ctx, msg))
		}
	}
	t.Fatal("drain did not settle")
}

// recorder tracks executions across fixture jobs.
type recorder struct {
	mu      sync.Mutex
	classes []string
	args    []map[string]any
}

func (r *recorder) record(class string, args map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes = append(r.classes, class)
	r.args = append(r.args, args)
}

func (r *recorder) count(class string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.classes {
		if c == class {
			n++
		}
	}
	return n
}

// okJob acknowledges and reports a fixed result.
type okJob struct {
	class  string
	rec    *recorder
	result any
}

func (j *okJob) Execute(ctx context.Context, args map[string]any) error {
	j.rec.record(j.class, args)
	return nil
}

func (j *okJob) Result() any { return j.result }

// failJob always raises.
type failJob struct {
	rec *recorder
}

func (j *failJob) Execute(ctx context.Context, args map[string]any) error {
	j.rec.record("fail", args)
	return errors.New("exploded")
}

// ctxJob is ContextAware: it applies mutations to the batch context.
type ctxJob struct {
	rec     *recorder
	class   string
	mutate  func(ctx map[string]any)
	current map[string]any
}

func (j *ctxJob) Execute(ctx context.Context, args map[string]any) error {
	j.rec.record(j.class, args)
	if j.mutate != nil {
		j.mutate(j.current)
	}
	return nil
}

func (j *ctxJob) SetContext(m map[string]any) { j.current = m }
func (j *ctxJob) Context() map[string]any     { return j.current }
