package core

import (
	"time"
)

// TimeLayout is the wire format for batch timestamps. Both storage
// backends hydrate their native representation (SQL timestamps, Redis
// Unix seconds) into this layout.
const TimeLayout = "2006-01-02 15:04:05"

// FormatTime renders t in the wire layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// BatchType distinguishes parallel batches from sequential chains.
type BatchType string

const (
	BatchParallel   BatchType = "parallel"
	BatchSequential BatchType = "sequential"
)

// BatchStatus represents the current state of a batch.
type BatchStatus string

const (
	BatchStatusPending   BatchStatus = "pending"
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusFailed    BatchStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s BatchStatus) Terminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

// JobStatus represents the current state of a job inside a batch.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CallbackSpec names a job class to run when a batch reaches a terminal
// state. Callback specs travel through queue payloads, so they must be
// serializable; raw function values are rejected at dispatch.
type CallbackSpec struct {
	Class string         `json:"class" mapstructure:"class"`
	Args  map[string]any `json:"args,omitempty" mapstructure:"args"`
}

// Options holds the recognized per-batch options.
type Options struct {
	OnComplete       *CallbackSpec `json:"on_complete,omitempty" mapstructure:"on_complete"`
	OnFailure        *CallbackSpec `json:"on_failure,omitempty" mapstructure:"on_failure"`
	MaxRetries       int           `json:"max_retries,omitempty" mapstructure:"max_retries"`
	RetryDelay       int           `json:"retry_delay,omitempty" mapstructure:"retry_delay"`
	Timeout          int           `json:"timeout,omitempty" mapstructure:"timeout"`
	FailOnFirstError bool          `json:"fail_on_first_error,omitempty" mapstructure:"fail_on_first_error"`
	Name             string        `json:"name,omitempty" mapstructure:"name"`
}

// ErrorRecord captures a job failure for storage.
type ErrorRecord struct {
	Message string `json:"message" mapstructure:"message"`
	File    string `json:"file,omitempty" mapstructure:"file"`
	Line    int    `json:"line,omitempty" mapstructure:"line"`
	Trace   string `json:"trace,omitempty" mapstructure:"trace"`
}

// BatchDefinition is the canonical value type for a batch and its jobs.
// It is what storage backends hydrate and what the manager hands back
// to callers.
type BatchDefinition struct {
	ID            string
	Type          BatchType
	Status        BatchStatus
	TotalJobs     int
	CompletedJobs int
	FailedJobs    int
	Context       map[string]any
	Options       Options
	QueueName     string
	QueueConfig   string
	Created       string
	Modified      string
	CompletedAt   string
	Jobs          []*JobDefinition
}

// IsComplete reports whether every job of the batch completed.
func (d *BatchDefinition) IsComplete() bool {
	return d.TotalJobs > 0 && d.CompletedJobs >= d.TotalJobs && d.FailedJobs == 0
}

// HasFailed reports whether any job of the batch failed.
func (d *BatchDefinition) HasFailed() bool {
	return d.FailedJobs > 0 || d.Status == BatchStatusFailed
}

// HasCompensation reports whether any job carries a compensation class.
func (d *BatchDefinition) HasCompensation() bool {
	for _, j := range d.Jobs {
		if j.Compensation != "" {
			return true
		}
	}
	return false
}

// Job returns the job with the given row id, or nil.
func (d *BatchDefinition) Job(id string) *JobDefinition {
	for _, j := range d.Jobs {
		if j.ID == id {
			return j
		}
	}
	return nil
}

// JobAtPosition returns the job at the given position, or nil.
func (d *BatchDefinition) JobAtPosition(pos int) *JobDefinition {
	for _, j := range d.Jobs {
		if j.Position == pos {
			return j
		}
	}
	return nil
}

// JobsWithCompensation returns the completed jobs that registered a
// compensation partner, in reverse position order. These are exactly
// the jobs a compensation chain rolls back: the failing job itself and
// jobs that never ran hold no visible side effects.
func (d *BatchDefinition) JobsWithCompensation() []*JobDefinition {
	out := make([]*JobDefinition, 0, len(d.Jobs))
	for _, j := range d.Jobs {
		if j.Status == JobStatusCompleted && j.Compensation != "" {
			out = append(out, j)
		}
	}
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out
}

// NextSequentialJob returns the job at position current+1, or nil when
// the chain has no further step.
func (d *BatchDefinition) NextSequentialJob(current int) *JobDefinition {
	return d.JobAtPosition(current + 1)
}

// Progress is a summary of batch completion state.
type Progress struct {
	BatchID       string      `json:"batch_id"`
	Status        BatchStatus `json:"status"`
	TotalJobs     int         `json:"total_jobs"`
	CompletedJobs int         `json:"completed_jobs"`
	FailedJobs    int         `json:"failed_jobs"`
	PendingJobs   int         `json:"pending_jobs"`
	Percent       float64     `json:"percent"`
}

// ProgressOf computes completion progress for a definition.
func ProgressOf(d *BatchDefinition) *Progress {
	p := &Progress{
		BatchID:       d.ID,
		Status:        d.Status,
		TotalJobs:     d.TotalJobs,
		CompletedJobs: d.CompletedJobs,
		FailedJobs:    d.FailedJobs,
	}
	p.PendingJobs = d.TotalJobs - d.CompletedJobs - d.FailedJobs
	if p.PendingJobs < 0 {
		p.PendingJobs = 0
	}
	if d.TotalJobs > 0 {
		p.Percent = float64(d.CompletedJobs+d.FailedJobs) / float64(d.TotalJobs) * 100
	}
	return p
}
