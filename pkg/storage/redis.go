package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tobren/batchq/pkg/config"
	"github.com/tobren/batchq/pkg/core"
)

// RedisStorage implements core.Storage on Redis hashes. Each batch
// owns four keys under the configured prefix: the metadata hash, a
// jobs hash (row id → job JSON), a results hash and a failed hash.
// Counter recomputes and terminal transitions run in a Lua script so
// they commit atomically; terminal transitions are published on the
// events channel.
type RedisStorage struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	sticky bool
}

// RedisOption configures a RedisStorage.
type RedisOption func(*RedisStorage)

// WithRedisStickyFailure mirrors WithStickyFailure for the Redis backend.
func WithRedisStickyFailure(sticky bool) RedisOption {
	return func(s *RedisStorage) { s.sticky = sticky }
}

// NewRedisStorage creates a Redis-backed storage from an existing client.
func NewRedisStorage(client redis.UniversalClient, cfg config.RedisConfig, opts ...RedisOption) *RedisStorage {
	s := &RedisStorage{
		client: client,
		prefix: cfg.KeyPrefix(),
		ttl:    cfg.KeyTTL(),
		sticky: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenRedis dials a client from configuration.
func OpenRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        cfg.Addr(),
		Password:    cfg.Password,
		DB:          cfg.Database,
		DialTimeout: time.Duration(cfg.Timeout) * time.Second,
		ReadTimeout: time.Duration(cfg.ReadTimeout) * time.Second,
	})
}

// SetStickyFailure applies the defaults.sticky_failure configuration
// toggle. The manager calls this when constructed with a config; call
// it before any worker starts processing.
func (s *RedisStorage) SetStickyFailure(sticky bool) { s.sticky = sticky }

func (s *RedisStorage) batchKey(id string) string   { return s.prefix + id }
func (s *RedisStorage) jobsKey(id string) string    { return s.prefix + id + ":jobs" }
func (s *RedisStorage) resultsKey(id string) string { return s.prefix + id + ":results" }
func (s *RedisStorage) failedKey(id string) string  { return s.prefix + id + ":failed" }

// EventsChannel is the pub-sub channel terminal transitions publish to.
func (s *RedisStorage) EventsChannel() string { return s.prefix + "events" }

func (s *RedisStorage) indexKey() string { return s.prefix + "index" }

// Migrate is a no-op for the schemaless backend.
func (s *RedisStorage) Migrate(ctx context.Context) error { return nil }

func (s *RedisStorage) touch(ctx context.Context, id string) {
	pipe := s.client.Pipeline()
	for _, key := range []string{s.batchKey(id), s.jobsKey(id), s.resultsKey(id), s.failedKey(id)} {
		pipe.Expire(ctx, key, s.ttl)
	}
	_, _ = pipe.Exec(ctx)
}

func marshalJob(j *core.JobDefinition) (string, error) {
	raw, err := json.Marshal(j.ToMap())
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalJob(raw string) (*core.JobDefinition, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, err
	}
	return core.JobFromMap(m)
}

// CreateBatch writes the metadata hash and all job entries.
func (s *RedisStorage) CreateBatch(ctx context.Context, def *core.BatchDefinition) error {
	now := time.Now().Unix()
	status := def.Status
	if status == "" {
		status = core.BatchStatusPending
	}
	ctxJSON, err := json.Marshal(def.Context)
	if err != nil {
		return core.NewStorageError("create batch", err)
	}
	optJSON, err := json.Marshal(def.Options)
	if err != nil {
		return core.NewStorageError("create batch", err)
	}

	meta := map[string]any{
		"id":             def.ID,
		"type":           string(def.Type),
		"status":         string(status),
		"total_jobs":     len(def.Jobs),
		"completed_jobs": def.CompletedJobs,
		"failed_jobs":    def.FailedJobs,
		"context":        string(ctxJSON),
		"options":        string(optJSON),
		"queue_name":     def.QueueName,
		"queue_config":   def.QueueConfig,
		"created":        now,
		"modified":       now,
		"completed_at":   "",
	}

	jobFields := make(map[string]any, len(def.Jobs))
	for _, j := range def.Jobs {
		j.BatchID = def.ID
		raw, err := marshalJob(j)
		if err != nil {
			return core.NewStorageError("create batch", err)
		}
		jobFields[j.ID] = raw
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.batchKey(def.ID), meta)
	if len(jobFields) > 0 {
		pipe.HSet(ctx, s.jobsKey(def.ID), jobFields)
	}
	pipe.SAdd(ctx, s.indexKey(), def.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return core.NewStorageError("create batch", err)
	}
	s.touch(ctx, def.ID)
	return nil
}

// UpdateBatch applies a field map onto the metadata hash.
func (s *RedisStorage) UpdateBatch(ctx context.Context, id string, fields map[string]any) error {
	exists, err := s.client.Exists(ctx, s.batchKey(id)).Result()
	if err != nil {
		return core.NewStorageError("update batch", err)
	}
	if exists == 0 {
		return core.ErrBatchNotFound
	}

	updates := map[string]any{"modified": time.Now().Unix()}
	for k, v := range fields {
		switch k {
		case "status", "queue_name", "queue_config":
			updates[k] = fmt.Sprint(v)
		case "context", "options":
			raw, err := json.Marshal(v)
			if err != nil {
				return core.NewStorageError("update batch", err)
			}
			updates[k] = string(raw)
		case "total_jobs", "completed_jobs", "failed_jobs":
			updates[k] = v
		case "completed_at":
			switch t := v.(type) {
			case time.Time:
				updates[k] = t.Unix()
			case nil:
				updates[k] = ""
			default:
				return core.NewStorageError("update batch", fmt.Errorf("bad completed_at value %T", v))
			}
		default:
			return core.NewStorageError("update batch", fmt.Errorf("unknown field %q", k))
		}
	}
	if err := s.client.HSet(ctx, s.batchKey(id), updates).Err(); err != nil {
		return core.NewStorageError("update batch", err)
	}
	s.touch(ctx, id)
	return nil
}

func parseUnix(v string) string {
	if v == "" {
		return ""
	}
	sec, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return ""
	}
	return core.FormatTime(time.Unix(sec, 0))
}

// GetBatch hydrates a definition from the metadata and jobs hashes.
// Returns (nil, nil) when the batch does not exist.
func (s *RedisStorage) GetBatch(ctx context.Context, id string) (*core.BatchDefinition, error) {
	meta, err := s.client.HGetAll(ctx, s.batchKey(id)).Result()
	if err != nil {
		return nil, core.NewStorageError("get batch", err)
	}
	if len(meta) == 0 {
		return nil, nil
	}

	d := &core.BatchDefinition{
		ID:          meta["id"],
		Type:        core.BatchType(meta["type"]),
		Status:      core.BatchStatus(meta["status"]),
		QueueName:   meta["queue_name"],
		QueueConfig: meta["queue_config"],
		Created:     parseUnix(meta["created"]),
		Modified:    parseUnix(meta["modified"]),
		CompletedAt: parseUnix(meta["completed_at"]),
		Context:     map[string]any{},
	}
	d.TotalJobs, _ = strconv.Atoi(meta["total_jobs"])
	d.CompletedJobs, _ = strconv.Atoi(meta["completed_jobs"])
	d.FailedJobs, _ = strconv.Atoi(meta["failed_jobs"])
	if raw := meta["context"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &d.Context); err != nil {
			return nil, core.NewStorageError("get batch", err)
		}
	}
	if raw := meta["options"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &d.Options); err != nil {
			return nil, core.NewStorageError("get batch", err)
		}
	}

	entries, err := s.client.HGetAll(ctx, s.jobsKey(id)).Result()
	if err != nil {
		return nil, core.NewStorageError("get batch jobs", err)
	}
	for _, raw := range entries {
		j, err := unmarshalJob(raw)
		if err != nil {
			return nil, core.NewStorageError("get batch jobs", err)
		}
		j.BatchID = id
		d.Jobs = append(d.Jobs, j)
	}
	sort.Slice(d.Jobs, func(i, k int) bool { return d.Jobs[i].Position < d.Jobs[k].Position })
	return d, nil
}

// DeleteBatch removes all four keys.
func (s *RedisStorage) DeleteBatch(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx,
		s.batchKey(id), s.jobsKey(id), s.resultsKey(id), s.failedKey(id)).Result()
	if err != nil {
		return core.NewStorageError("delete batch", err)
	}
	s.client.SRem(ctx, s.indexKey(), id)
	if n == 0 {
		return core.ErrBatchNotFound
	}
	return nil
}

// AddJobs appends jobs under an optimistic WATCH transaction so the
// terminal check, position assignment, and total_jobs growth commit
// together.
func (s *RedisStorage) AddJobs(ctx context.Context, batchID string, jobs []*core.JobDefinition) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}
	var added int
	txn := func(tx *redis.Tx) error {
		meta, err := tx.HGetAll(ctx, s.batchKey(batchID)).Result()
		if err != nil {
			return err
		}
		if len(meta) == 0 {
			return core.ErrBatchNotFound
		}
		if core.BatchStatus(meta["status"]).Terminal() {
			return core.ErrBatchClosed
		}
		total, _ := strconv.Atoi(meta["total_jobs"])

		fields := make(map[string]any, len(jobs))
		for i, j := range jobs {
			j.BatchID = batchID
			j.Position = total + i
			raw, err := marshalJob(j)
			if err != nil {
				return err
			}
			fields[j.ID] = raw
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.jobsKey(batchID), fields)
			pipe.HSet(ctx, s.batchKey(batchID),
				"total_jobs", total+len(jobs),
				"modified", time.Now().Unix())
			return nil
		})
		if err != nil {
			return err
		}
		added = len(jobs)
		return nil
	}
	err := s.client.Watch(ctx, txn, s.batchKey(batchID))
	if err != nil {
		if errors.Is(err, core.ErrBatchNotFound) || errors.Is(err, core.ErrBatchClosed) {
			return 0, err
		}
		return 0, core.NewStorageError("add jobs", err)
	}
	s.touch(ctx, batchID)
	return added, nil
}

func (s *RedisStorage) findJob(ctx context.Context, batchID string, match func(*core.JobDefinition) bool) (*core.JobDefinition, error) {
	entries, err := s.client.HGetAll(ctx, s.jobsKey(batchID)).Result()
	if err != nil {
		return nil, core.NewStorageError("find job", err)
	}
	for _, raw := range entries {
		j, err := unmarshalJob(raw)
		if err != nil {
			return nil, core.NewStorageError("find job", err)
		}
		if match(j) {
			j.BatchID = batchID
			return j, nil
		}
	}
	return nil, nil
}

// JobByPosition returns the job at a position, or (nil, nil).
func (s *RedisStorage) JobByPosition(ctx context.Context, batchID string, position int) (*core.JobDefinition, error) {
	return s.findJob(ctx, batchID, func(j *core.JobDefinition) bool { return j.Position == position })
}

// JobByID returns the job carrying a queue message id, or (nil, nil).
func (s *RedisStorage) JobByID(ctx context.Context, batchID, jobID string) (*core.JobDefinition, error) {
	return s.findJob(ctx, batchID, func(j *core.JobDefinition) bool { return j.JobID == jobID })
}

func (s *RedisStorage) writeJob(ctx context.Context, batchID string, j *core.JobDefinition) error {
	raw, err := marshalJob(j)
	if err != nil {
		return core.NewStorageError("write job", err)
	}
	if err := s.client.HSet(ctx, s.jobsKey(batchID), j.ID, raw).Err(); err != nil {
		return core.NewStorageError("write job", err)
	}
	return nil
}

// UpdateJobID stamps the queue-provided message id on the row at a position.
func (s *RedisStorage) UpdateJobID(ctx context.Context, batchID string, position int, messageID string) error {
	j, err := s.JobByPosition(ctx, batchID, position)
	if err != nil {
		return err
	}
	if j == nil {
		return core.ErrJobNotFound
	}
	j.JobID = messageID
	if err := s.writeJob(ctx, batchID, j); err != nil {
		return err
	}
	s.touch(ctx, batchID)
	return nil
}

// UpdateJobStatus transitions a job entry, mirroring results and
// errors into the results/failed hashes.
func (s *RedisStorage) UpdateJobStatus(ctx context.Context, batchID, jobID string, status core.JobStatus, result any, jobErr *core.ErrorRecord) error {
	j, err := s.JobByID(ctx, batchID, jobID)
	if err != nil {
		return err
	}
	if j == nil {
		return core.ErrJobNotFound
	}
	j.Status = status
	if status.Terminal() {
		j.CompletedAt = core.FormatTime(time.Now())
	}
	if result != nil {
		j.Result = result
	}
	if jobErr != nil {
		j.Error = jobErr
	}
	if err := s.writeJob(ctx, batchID, j); err != nil {
		return err
	}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return core.NewStorageError("update job status", err)
		}
		if err := s.client.HSet(ctx, s.resultsKey(batchID), jobID, string(raw)).Err(); err != nil {
			return core.NewStorageError("update job status", err)
		}
	}
	if jobErr != nil {
		raw, err := json.Marshal(jobErr)
		if err != nil {
			return core.NewStorageError("update job status", err)
		}
		if err := s.client.HSet(ctx, s.failedKey(batchID), jobID, string(raw)).Err(); err != nil {
			return core.NewStorageError("update job status", err)
		}
	}
	s.touch(ctx, batchID)
	return nil
}

// recountScript recomputes both counters from the jobs hash, writes
// them onto the metadata hash, applies the terminal transition implied
// by the fresh counters, publishes terminal flips, and renews TTLs.
//
// KEYS[1] batch hash, KEYS[2] jobs hash, KEYS[3] events channel
// ARGV[1] which ("completed"|"failed"), ARGV[2] sticky ("1"|"0"),
// ARGV[3] now (unix seconds), ARGV[4] ttl seconds
//
// Returns {completed, failed, total, status, transitioned}.
var recountScript = redis.NewScript(`
local completed = 0
local failed = 0
local entries = redis.call('HVALS', KEYS[2])
for i = 1, #entries do
  local job = cjson.decode(entries[i])
  if job['status'] == 'completed' then
    completed = completed + 1
  elseif job['status'] == 'failed' then
    failed = failed + 1
  end
end

local total = tonumber(redis.call('HGET', KEYS[1], 'total_jobs') or '0')
local status = redis.call('HGET', KEYS[1], 'status') or 'pending'
local terminal = (status == 'completed' or status == 'failed')
local sticky = ARGV[2] == '1'
local transitioned = 0

if ARGV[1] == 'completed' then
  local alldone = total > 0 and completed >= total and failed == 0
  if alldone and (not terminal or (not sticky and status == 'failed')) then
    status = 'completed'
    transitioned = 1
  end
else
  if failed > 0 and not terminal then
    status = 'failed'
    transitioned = 1
  end
end

redis.call('HSET', KEYS[1], 'completed_jobs', completed, 'failed_jobs', failed, 'modified', ARGV[3])
if transitioned == 1 then
  redis.call('HSET', KEYS[1], 'status', status, 'completed_at', ARGV[3])
  local id = redis.call('HGET', KEYS[1], 'id')
  redis.call('PUBLISH', KEYS[3], cjson.encode({batch_id = id, status = status}))
end
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[4]))
redis.call('EXPIRE', KEYS[2], tonumber(ARGV[4]))

return {completed, failed, total, status, transitioned}
`)

func (s *RedisStorage) recount(ctx context.Context, batchID, which string) (*core.CounterUpdate, error) {
	exists, err := s.client.Exists(ctx, s.batchKey(batchID)).Result()
	if err != nil {
		return nil, core.NewStorageError("recount", err)
	}
	if exists == 0 {
		return nil, core.ErrBatchNotFound
	}
	sticky := "0"
	if s.sticky {
		sticky = "1"
	}
	res, err := recountScript.Run(ctx, s.client,
		[]string{s.batchKey(batchID), s.jobsKey(batchID), s.EventsChannel()},
		which, sticky, time.Now().Unix(), int(s.ttl.Seconds()),
	).Slice()
	if err != nil {
		return nil, core.NewStorageError("recount", err)
	}
	if len(res) != 5 {
		return nil, core.NewStorageError("recount", fmt.Errorf("unexpected script reply %v", res))
	}
	upd := &core.CounterUpdate{
		Completed:    int(res[0].(int64)),
		Failed:       int(res[1].(int64)),
		Total:        int(res[2].(int64)),
		Status:       core.BatchStatus(res[3].(string)),
		Transitioned: res[4].(int64) == 1,
	}
	return upd, nil
}

// IncrementCompleted recomputes counters and applies the completed
// transition atomically in a Lua script.
func (s *RedisStorage) IncrementCompleted(ctx context.Context, batchID string) (*core.CounterUpdate, error) {
	return s.recount(ctx, batchID, "completed")
}

// IncrementFailed recomputes counters and applies the failed
// transition atomically in a Lua script.
func (s *RedisStorage) IncrementFailed(ctx context.Context, batchID string) (*core.CounterUpdate, error) {
	return s.recount(ctx, batchID, "failed")
}

// BatchResults returns the results hash decoded, keyed by message id.
func (s *RedisStorage) BatchResults(ctx context.Context, batchID string) (map[string]any, error) {
	entries, err := s.client.HGetAll(ctx, s.resultsKey(batchID)).Result()
	if err != nil {
		return nil, core.NewStorageError("batch results", err)
	}
	out := make(map[string]any, len(entries))
	for id, raw := range entries {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, core.NewStorageError("batch results", err)
		}
		out[id] = v
	}
	return out, nil
}

// AllJobs lists a batch's jobs in position order.
func (s *RedisStorage) AllJobs(ctx context.Context, batchID string, filter core.JobFilter) ([]*core.JobDefinition, error) {
	entries, err := s.client.HGetAll(ctx, s.jobsKey(batchID)).Result()
	if err != nil {
		return nil, core.NewStorageError("all jobs", err)
	}
	jobs := make([]*core.JobDefinition, 0, len(entries))
	for _, raw := range entries {
		j, err := unmarshalJob(raw)
		if err != nil {
			return nil, core.NewStorageError("all jobs", err)
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		j.BatchID = batchID
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].Position < jobs[k].Position })
	return jobs, nil
}

func matchBatch(d *core.BatchDefinition, filter core.BatchFilter) bool {
	if filter.Status != "" && d.Status != filter.Status {
		return false
	}
	if filter.Type != "" && d.Type != filter.Type {
		return false
	}
	if filter.Name != "" && d.Options.Name != filter.Name {
		return false
	}
	if filter.HasCompensation && !d.HasCompensation() {
		return false
	}
	return true
}

// Batches lists batches matching a filter. Redis has no secondary
// indexes over hash contents, so batches are loaded and filtered.
func (s *RedisStorage) Batches(ctx context.Context, filter core.BatchFilter, limit, offset int) ([]*core.BatchDefinition, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, core.NewStorageError("list batches", err)
	}
	all := make([]*core.BatchDefinition, 0, len(ids))
	for _, id := range ids {
		d, err := s.GetBatch(ctx, id)
		if err != nil {
			return nil, err
		}
		if d == nil {
			// Key expired; drop the stale index entry.
			s.client.SRem(ctx, s.indexKey(), id)
			continue
		}
		if matchBatch(d, filter) {
			all = append(all, d)
		}
	}
	sort.Slice(all, func(i, k int) bool { return all[i].Created > all[k].Created })
	if offset > 0 {
		if offset >= len(all) {
			return nil, nil
		}
		all = all[offset:]
	}
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

// CountBatches counts batches matching a filter.
func (s *RedisStorage) CountBatches(ctx context.Context, filter core.BatchFilter) (int64, error) {
	all, err := s.Batches(ctx, filter, 0, 0)
	if err != nil {
		return 0, err
	}
	return int64(len(all)), nil
}

// CleanupOldBatches removes terminal batches older than the cut-off.
// Redis expires batch keys by TTL anyway; this pass exists so both
// backends honor the same operator command.
func (s *RedisStorage) CleanupOldBatches(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := core.FormatTime(time.Now().AddDate(0, 0, -olderThanDays))
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, core.NewStorageError("cleanup", err)
	}
	var removed int64
	for _, id := range ids {
		d, err := s.GetBatch(ctx, id)
		if err != nil {
			return removed, err
		}
		if d == nil {
			s.client.SRem(ctx, s.indexKey(), id)
			continue
		}
		if !d.Status.Terminal() || d.CompletedAt == "" || d.CompletedAt >= cutoff {
			continue
		}
		if err := s.DeleteBatch(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// HealthCheck pings the server.
func (s *RedisStorage) HealthCheck(ctx context.Context) error {
	return core.NewStorageError("health check", s.client.Ping(ctx).Err())
}
