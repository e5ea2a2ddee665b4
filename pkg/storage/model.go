package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tobren/batchq/pkg/core"
)

// batchRow is the batches table. JSON-valued columns hold context and
// options; counters are plain integers recomputed from child rows.
type batchRow struct {
	ID            string `gorm:"primaryKey;size:36"`
	Type          string `gorm:"size:20;not null"`
	Status        string `gorm:"index;size:20;default:'pending'"`
	TotalJobs     int    `gorm:"not null;default:0"`
	CompletedJobs int    `gorm:"not null;default:0"`
	FailedJobs    int    `gorm:"not null;default:0"`
	Context       string `gorm:"type:json"`
	Options       string `gorm:"type:json"`
	QueueName     string `gorm:"size:255"`
	QueueConfig   string `gorm:"size:255"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	CompletedAt   *time.Time
}

func (batchRow) TableName() string { return "batches" }

// batchJobRow is the batch_jobs table. JobID is the queue message id,
// nullable until the first worker pickup so the (batch_id, job_id)
// unique index only bites on real ids.
type batchJobRow struct {
	ID          string  `gorm:"primaryKey;size:36"`
	BatchID     string  `gorm:"size:36;not null;index:idx_batch_position,priority:1;uniqueIndex:idx_batch_job,priority:1"`
	JobID       *string `gorm:"size:64;uniqueIndex:idx_batch_job,priority:2"`
	Position    int     `gorm:"not null;index:idx_batch_position,priority:2"`
	Status      string  `gorm:"size:20;default:'pending'"`
	Payload     string  `gorm:"type:json"`
	Result      *string `gorm:"type:json"`
	Error       *string `gorm:"type:json"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

func (batchJobRow) TableName() string { return "batch_jobs" }

// payload is the canonical job descriptor stored on each row.
type payload struct {
	Class        string         `json:"class"`
	Compensation string         `json:"compensation,omitempty"`
	Args         map[string]any `json:"args"`
}

func jobToRow(batchID string, j *core.JobDefinition) (*batchJobRow, error) {
	pl, err := json.Marshal(payload{
		Class:        j.Class,
		Compensation: j.Compensation,
		Args:         j.Args,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	row := &batchJobRow{
		ID:       j.ID,
		BatchID:  batchID,
		Position: j.Position,
		Status:   string(j.Status),
		Payload:  string(pl),
	}
	if j.JobID != "" {
		id := j.JobID
		row.JobID = &id
	}
	if row.Status == "" {
		row.Status = string(core.JobStatusPending)
	}
	if j.Result != nil {
		raw, err := json.Marshal(j.Result)
		if err != nil {
			return nil, fmt.Errorf("marshal result: %w", err)
		}
		s := string(raw)
		row.Result = &s
	}
	if j.Error != nil {
		raw, err := json.Marshal(j.Error)
		if err != nil {
			return nil, fmt.Errorf("marshal error record: %w", err)
		}
		s := string(raw)
		row.Error = &s
	}
	return row, nil
}

func rowToJob(r *batchJobRow) (*core.JobDefinition, error) {
	var pl payload
	if r.Payload != "" {
		if err := json.Unmarshal([]byte(r.Payload), &pl); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	j := &core.JobDefinition{
		ID:           r.ID,
		BatchID:      r.BatchID,
		Position:     r.Position,
		Status:       core.JobStatus(r.Status),
		Class:        pl.Class,
		Compensation: pl.Compensation,
		Args:         pl.Args,
	}
	if j.Args == nil {
		j.Args = map[string]any{}
	}
	if r.JobID != nil {
		j.JobID = *r.JobID
	}
	if r.Result != nil {
		var res any
		if err := json.Unmarshal([]byte(*r.Result), &res); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
		j.Result = res
	}
	if r.Error != nil {
		var rec core.ErrorRecord
		if err := json.Unmarshal([]byte(*r.Error), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal error record: %w", err)
		}
		j.Error = &rec
	}
	if r.CompletedAt != nil {
		j.CompletedAt = core.FormatTime(*r.CompletedAt)
	}
	return j, nil
}

func batchToRow(d *core.BatchDefinition) (*batchRow, error) {
	ctxJSON, err := json.Marshal(d.Context)
	if err != nil {
		return nil, fmt.Errorf("marshal context: %w", err)
	}
	optJSON, err := json.Marshal(d.Options)
	if err != nil {
		return nil, fmt.Errorf("marshal options: %w", err)
	}
	status := string(d.Status)
	if status == "" {
		status = string(core.BatchStatusPending)
	}
	return &batchRow{
		ID:            d.ID,
		Type:          string(d.Type),
		Status:        status,
		TotalJobs:     len(d.Jobs),
		CompletedJobs: d.CompletedJobs,
		FailedJobs:    d.FailedJobs,
		Context:       string(ctxJSON),
		Options:       string(optJSON),
		QueueName:     d.QueueName,
		QueueConfig:   d.QueueConfig,
	}, nil
}

func rowToBatch(r *batchRow, jobs []*core.JobDefinition) (*core.BatchDefinition, error) {
	d := &core.BatchDefinition{
		ID:            r.ID,
		Type:          core.BatchType(r.Type),
		Status:        core.BatchStatus(r.Status),
		TotalJobs:     r.TotalJobs,
		CompletedJobs: r.CompletedJobs,
		FailedJobs:    r.FailedJobs,
		QueueName:     r.QueueName,
		QueueConfig:   r.QueueConfig,
		Created:       core.FormatTime(r.CreatedAt),
		Modified:      core.FormatTime(r.UpdatedAt),
		Jobs:          jobs,
	}
	if r.CompletedAt != nil {
		d.CompletedAt = core.FormatTime(*r.CompletedAt)
	}
	if r.Context != "" {
		if err := json.Unmarshal([]byte(r.Context), &d.Context); err != nil {
			return nil, fmt.Errorf("unmarshal context: %w", err)
		}
	}
	if d.Context == nil {
		d.Context = map[string]any{}
	}
	if r.Options != "" {
		if err := json.Unmarshal([]byte(r.Options), &d.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options: %w", err)
		}
	}
	return d, nil
}
