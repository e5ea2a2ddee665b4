package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tobren/batchq/pkg/core"
)

// GormStorage implements core.Storage on a SQL database through GORM.
// Counter recomputes and terminal transitions run inside a single
// transaction per call.
type GormStorage struct {
	db     *gorm.DB
	sticky bool
}

// GormOption configures a GormStorage.
type GormOption func(*GormStorage)

// WithStickyFailure controls whether a batch that reached failed can
// later flip to completed when retried jobs eventually all succeed.
// Sticky (the default) keeps the first terminal state.
func WithStickyFailure(sticky bool) GormOption {
	return func(s *GormStorage) { s.sticky = sticky }
}

// NewGormStorage creates a new GORM-backed storage.
func NewGormStorage(db *gorm.DB, opts ...GormOption) *GormStorage {
	s := &GormStorage{db: db, sticky: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying gorm handle.
func (s *GormStorage) DB() *gorm.DB { return s.db }

// SetStickyFailure applies the defaults.sticky_failure configuration
// toggle. The manager calls this when constructed with a config; call
// it before any worker starts processing.
func (s *GormStorage) SetStickyFailure(sticky bool) { s.sticky = sticky }

// Migrate creates the necessary tables.
func (s *GormStorage) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&batchRow{}, &batchJobRow{})
}

// CreateBatch persists a batch together with its full initial job set
// in one transaction.
func (s *GormStorage) CreateBatch(ctx context.Context, def *core.BatchDefinition) error {
	row, err := batchToRow(def)
	if err != nil {
		return core.NewStorageError("create batch", err)
	}
	jobRows := make([]*batchJobRow, 0, len(def.Jobs))
	for _, j := range def.Jobs {
		jr, err := jobToRow(def.ID, j)
		if err != nil {
			return core.NewStorageError("create batch", err)
		}
		jobRows = append(jobRows, jr)
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		if len(jobRows) > 0 {
			if err := tx.Create(&jobRows).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return core.NewStorageError("create batch", err)
}

// UpdateBatch applies a field map to a batch row. Context and options
// values are serialized to their JSON columns.
func (s *GormStorage) UpdateBatch(ctx context.Context, id string, fields map[string]any) error {
	updates, err := translateBatchFields(fields)
	if err != nil {
		return err
	}
	if len(updates) == 0 {
		return nil
	}
	result := s.db.WithContext(ctx).
		Model(&batchRow{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return core.NewStorageError("update batch", result.Error)
	}
	if result.RowsAffected == 0 {
		return core.ErrBatchNotFound
	}
	return nil
}

func translateBatchFields(fields map[string]any) (map[string]any, error) {
	updates := map[string]any{}
	for k, v := range fields {
		switch k {
		case "status":
			updates["status"] = fmt.Sprint(v)
		case "context", "options":
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, core.NewStorageError("update batch", err)
			}
			updates[k] = string(raw)
		case "total_jobs", "completed_jobs", "failed_jobs":
			updates[k] = v
		case "queue_name", "queue_config":
			updates[k] = fmt.Sprint(v)
		case "completed_at":
			switch t := v.(type) {
			case time.Time:
				updates["completed_at"] = t
			case nil:
				updates["completed_at"] = nil
			default:
				return nil, core.NewStorageError("update batch", fmt.Errorf("bad completed_at value %T", v))
			}
		default:
			return nil, core.NewStorageError("update batch", fmt.Errorf("unknown field %q", k))
		}
	}
	return updates, nil
}

// GetBatch loads a batch and its jobs ordered by position. Returns
// (nil, nil) when the batch does not exist.
func (s *GormStorage) GetBatch(ctx context.Context, id string) (*core.BatchDefinition, error) {
	var row batchRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, core.NewStorageError("get batch", err)
	}

	var jobRows []batchJobRow
	err = s.db.WithContext(ctx).
		Where("batch_id = ?", id).
		Order("position ASC").
		Find(&jobRows).Error
	if err != nil {
		return nil, core.NewStorageError("get batch jobs", err)
	}

	jobs := make([]*core.JobDefinition, 0, len(jobRows))
	for i := range jobRows {
		j, err := rowToJob(&jobRows[i])
		if err != nil {
			return nil, core.NewStorageError("get batch jobs", err)
		}
		jobs = append(jobs, j)
	}
	return rowToBatch(&row, jobs)
}

// DeleteBatch removes a batch and all of its jobs.
func (s *GormStorage) DeleteBatch(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("batch_id = ?", id).Delete(&batchJobRow{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&batchRow{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return core.ErrBatchNotFound
		}
		return nil
	})
	if errors.Is(err, core.ErrBatchNotFound) {
		return err
	}
	return core.NewStorageError("delete batch", err)
}

// AddJobs appends jobs to a non-terminal batch, assigning the next
// contiguous positions and growing total_jobs, all in one transaction.
func (s *GormStorage) AddJobs(ctx context.Context, batchID string, jobs []*core.JobDefinition) (int, error) {
	if len(jobs) == 0 {
		return 0, nil
	}
	var added int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row batchRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&row, "id = ?", batchID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.ErrBatchNotFound
		}
		if err != nil {
			return err
		}
		if core.BatchStatus(row.Status).Terminal() {
			return core.ErrBatchClosed
		}

		next := row.TotalJobs
		rows := make([]*batchJobRow, 0, len(jobs))
		for i, j := range jobs {
			j.BatchID = batchID
			j.Position = next + i
			jr, err := jobToRow(batchID, j)
			if err != nil {
				return err
			}
			rows = append(rows, jr)
		}
		if err := tx.Create(&rows).Error; err != nil {
			return err
		}
		added = len(rows)
		return tx.Model(&batchRow{}).
			Where("id = ?", batchID).
			Update("total_jobs", next+added).Error
	})
	if err != nil {
		if errors.Is(err, core.ErrBatchNotFound) || errors.Is(err, core.ErrBatchClosed) {
			return 0, err
		}
		return 0, core.NewStorageError("add jobs", err)
	}
	return added, nil
}

// JobByPosition returns the job at a position, or (nil, nil).
func (s *GormStorage) JobByPosition(ctx context.Context, batchID string, position int) (*core.JobDefinition, error) {
	var row batchJobRow
	err := s.db.WithContext(ctx).
		Where("batch_id = ? AND position = ?", batchID, position).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, core.NewStorageError("job by position", err)
	}
	return rowToJob(&row)
}

// JobByID returns the job with a queue message id, or (nil, nil).
func (s *GormStorage) JobByID(ctx context.Context, batchID, jobID string) (*core.JobDefinition, error) {
	var row batchJobRow
	err := s.db.WithContext(ctx).
		Where("batch_id = ? AND job_id = ?", batchID, jobID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, core.NewStorageError("job by id", err)
	}
	return rowToJob(&row)
}

// UpdateJobID records the queue-provided message id against the row at
// a position. Idempotent across redeliveries of the same message.
func (s *GormStorage) UpdateJobID(ctx context.Context, batchID string, position int, messageID string) error {
	result := s.db.WithContext(ctx).
		Model(&batchJobRow{}).
		Where("batch_id = ? AND position = ?", batchID, position).
		Update("job_id", messageID)
	if result.Error != nil {
		return core.NewStorageError("update job id", result.Error)
	}
	if result.RowsAffected == 0 {
		return core.ErrJobNotFound
	}
	return nil
}

// UpdateJobStatus transitions a job row, persisting result or error.
// Terminal statuses stamp completed_at.
func (s *GormStorage) UpdateJobStatus(ctx context.Context, batchID, jobID string, status core.JobStatus, result any, jobErr *core.ErrorRecord) error {
	updates := map[string]any{"status": string(status)}
	if result != nil {
		raw, err := json.Marshal(result)
		if err != nil {
			return core.NewStorageError("update job status", err)
		}
		updates["result"] = string(raw)
	}
	if jobErr != nil {
		raw, err := json.Marshal(jobErr)
		if err != nil {
			return core.NewStorageError("update job status", err)
		}
		updates["error"] = string(raw)
	}
	if status.Terminal() {
		updates["completed_at"] = time.Now()
	}
	res := s.db.WithContext(ctx).
		Model(&batchJobRow{}).
		Where("batch_id = ? AND job_id = ?", batchID, jobID).
		Updates(updates)
	if res.Error != nil {
		return core.NewStorageError("update job status", res.Error)
	}
	if res.RowsAffected == 0 {
		return core.ErrJobNotFound
	}
	return nil
}

// IncrementCompleted recomputes completed_jobs from row state and, when
// every job has completed with none failed, transitions the batch to
// completed inside the same transaction.
func (s *GormStorage) IncrementCompleted(ctx context.Context, batchID string) (*core.CounterUpdate, error) {
	return s.recount(ctx, batchID, core.JobStatusCompleted)
}

// IncrementFailed recomputes failed_jobs from row state and, when any
// job has failed, transitions the batch to failed inside the same
// transaction.
func (s *GormStorage) IncrementFailed(ctx context.Context, batchID string) (*core.CounterUpdate, error) {
	return s.recount(ctx, batchID, core.JobStatusFailed)
}

func (s *GormStorage) recount(ctx context.Context, batchID string, which core.JobStatus) (*core.CounterUpdate, error) {
	var upd core.CounterUpdate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row batchRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&row, "id = ?", batchID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return core.ErrBatchNotFound
		}
		if err != nil {
			return err
		}

		var completed, failed int64
		if err := tx.Model(&batchJobRow{}).
			Where("batch_id = ? AND status = ?", batchID, string(core.JobStatusCompleted)).
			Count(&completed).Error; err != nil {
			return err
		}
		if err := tx.Model(&batchJobRow{}).
			Where("batch_id = ? AND status = ?", batchID, string(core.JobStatusFailed)).
			Count(&failed).Error; err != nil {
			return err
		}

		upd = core.CounterUpdate{
			Completed: int(completed),
			Failed:    int(failed),
			Total:     row.TotalJobs,
			Status:    core.BatchStatus(row.Status),
		}

		updates := map[string]any{
			"completed_jobs": completed,
			"failed_jobs":    failed,
		}

		next := nextBatchStatus(upd, which, s.sticky)
		if next != upd.Status {
			updates["status"] = string(next)
			if next.Terminal() {
				updates["completed_at"] = time.Now()
				upd.Transitioned = true
			}
			upd.Status = next
		}
		return tx.Model(&batchRow{}).Where("id = ?", batchID).Updates(updates).Error
	})
	if err != nil {
		if errors.Is(err, core.ErrBatchNotFound) {
			return nil, err
		}
		return nil, core.NewStorageError("recount", err)
	}
	return &upd, nil
}

// nextBatchStatus decides the batch status implied by fresh counters.
// The completed transition requires every job done with zero failures;
// the failed transition fires on the first failed job. A sticky store
// never downgrades a terminal status; a non-sticky store lets a full
// set of eventual successes flip failed back to completed.
func nextBatchStatus(upd core.CounterUpdate, which core.JobStatus, sticky bool) core.BatchStatus {
	cur := upd.Status
	switch which {
	case core.JobStatusCompleted:
		allDone := upd.Total > 0 && upd.Completed >= upd.Total && upd.Failed == 0
		if !allDone {
			return cur
		}
		if cur.Terminal() && (sticky || cur == core.BatchStatusCompleted) {
			return cur
		}
		return core.BatchStatusCompleted
	case core.JobStatusFailed:
		if upd.Failed == 0 || cur.Terminal() {
			return cur
		}
		return core.BatchStatusFailed
	}
	return cur
}

// BatchResults returns the recorded results keyed by queue message id.
func (s *GormStorage) BatchResults(ctx context.Context, batchID string) (map[string]any, error) {
	var rows []batchJobRow
	err := s.db.WithContext(ctx).
		Where("batch_id = ? AND result IS NOT NULL", batchID).
		Order("position ASC").
		Find(&rows).Error
	if err != nil {
		return nil, core.NewStorageError("batch results", err)
	}
	out := make(map[string]any, len(rows))
	for i := range rows {
		j, err := rowToJob(&rows[i])
		if err != nil {
			return nil, core.NewStorageError("batch results", err)
		}
		key := j.JobID
		if key == "" {
			key = j.ID
		}
		out[key] = j.Result
	}
	return out, nil
}

// AllJobs lists a batch's jobs in position order.
func (s *GormStorage) AllJobs(ctx context.Context, batchID string, filter core.JobFilter) ([]*core.JobDefinition, error) {
	q := s.db.WithContext(ctx).Where("batch_id = ?", batchID)
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	var rows []batchJobRow
	if err := q.Order("position ASC").Find(&rows).Error; err != nil {
		return nil, core.NewStorageError("all jobs", err)
	}
	jobs := make([]*core.JobDefinition, 0, len(rows))
	for i := range rows {
		j, err := rowToJob(&rows[i])
		if err != nil {
			return nil, core.NewStorageError("all jobs", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *GormStorage) applyBatchFilter(q *gorm.DB, filter core.BatchFilter) *gorm.DB {
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Type != "" {
		q = q.Where("type = ?", string(filter.Type))
	}
	if filter.Name != "" {
		q = q.Where("options LIKE ?", `%"name":"`+filter.Name+`"%`)
	}
	if filter.HasCompensation {
		q = q.Where(`EXISTS (SELECT 1 FROM batch_jobs WHERE batch_jobs.batch_id = batches.id AND batch_jobs.payload LIKE '%"compensation":%')`)
	}
	return q
}

// Batches lists batches matching a filter, newest first.
func (s *GormStorage) Batches(ctx context.Context, filter core.BatchFilter, limit, offset int) ([]*core.BatchDefinition, error) {
	q := s.applyBatchFilter(s.db.WithContext(ctx).Model(&batchRow{}), filter).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	var rows []batchRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, core.NewStorageError("list batches", err)
	}
	out := make([]*core.BatchDefinition, 0, len(rows))
	for i := range rows {
		d, err := s.GetBatch(ctx, rows[i].ID)
		if err != nil {
			return nil, err
		}
		if d != nil {
			out = append(out, d)
		}
	}
	return out, nil
}

// CountBatches counts batches matching a filter.
func (s *GormStorage) CountBatches(ctx context.Context, filter core.BatchFilter) (int64, error) {
	var n int64
	err := s.applyBatchFilter(s.db.WithContext(ctx).Model(&batchRow{}), filter).Count(&n).Error
	if err != nil {
		return 0, core.NewStorageError("count batches", err)
	}
	return n, nil
}

// CleanupOldBatches removes terminal batches whose completion is older
// than the cut-off, cascading to their jobs. Returns the removed count.
func (s *GormStorage) CleanupOldBatches(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	var removed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		err := tx.Model(&batchRow{}).
			Where("status IN ?", []string{string(core.BatchStatusCompleted), string(core.BatchStatusFailed)}).
			Where("completed_at IS NOT NULL AND completed_at < ?", cutoff).
			Pluck("id", &ids).Error
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("batch_id IN ?", ids).Delete(&batchJobRow{}).Error; err != nil {
			return err
		}
		result := tx.Where("id IN ?", ids).Delete(&batchRow{})
		if result.Error != nil {
			return result.Error
		}
		removed = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, core.NewStorageError("cleanup", err)
	}
	return removed, nil
}

// HealthCheck pings the database.
func (s *GormStorage) HealthCheck(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return core.NewStorageError("health check", err)
	}
	return core.NewStorageError("health check", sqlDB.PingContext(ctx))
}
