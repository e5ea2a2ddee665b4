package core

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ToMap flattens a definition into a plain map for storage round-trip.
// Jobs serialize as a slice of maps under the "jobs" key.
func (d *BatchDefinition) ToMap() map[string]any {
	jobs := make([]map[string]any, 0, len(d.Jobs))
	for _, j := range d.Jobs {
		jobs = append(jobs, j.ToMap())
	}
	m := map[string]any{
		"id":             d.ID,
		"type":           string(d.Type),
		"status":         string(d.Status),
		"total_jobs":     d.TotalJobs,
		"completed_jobs": d.CompletedJobs,
		"failed_jobs":    d.FailedJobs,
		"context":        d.Context,
		"options":        optionsToMap(d.Options),
		"queue_name":     d.QueueName,
		"queue_config":   d.QueueConfig,
		"created":        d.Created,
		"modified":       d.Modified,
		"completed_at":   d.CompletedAt,
		"jobs":           jobs,
	}
	return m
}

// ToMap flattens one job record.
func (j *JobDefinition) ToMap() map[string]any {
	m := map[string]any{
		"id":           j.ID,
		"batch_id":     j.BatchID,
		"job_id":       j.JobID,
		"position":     j.Position,
		"status":       string(j.Status),
		"class":        j.Class,
		"compensation": j.Compensation,
		"args":         j.Args,
		"completed_at": j.CompletedAt,
	}
	if j.Result != nil {
		m["result"] = j.Result
	}
	if j.Error != nil {
		m["error"] = map[string]any{
			"message": j.Error.Message,
			"file":    j.Error.File,
			"line":    j.Error.Line,
			"trace":   j.Error.Trace,
		}
	}
	return m
}

type flatBatch struct {
	ID            string           `mapstructure:"id"`
	Type          string           `mapstructure:"type"`
	Status        string           `mapstructure:"status"`
	TotalJobs     int              `mapstructure:"total_jobs"`
	CompletedJobs int              `mapstructure:"completed_jobs"`
	FailedJobs    int              `mapstructure:"failed_jobs"`
	Context       map[string]any   `mapstructure:"context"`
	Options       map[string]any   `mapstructure:"options"`
	QueueName     string           `mapstructure:"queue_name"`
	QueueConfig   string           `mapstructure:"queue_config"`
	Created       string           `mapstructure:"created"`
	Modified      string           `mapstructure:"modified"`
	CompletedAt   string           `mapstructure:"completed_at"`
	Jobs          []map[string]any `mapstructure:"jobs"`
}

type flatJob struct {
	ID           string         `mapstructure:"id"`
	BatchID      string         `mapstructure:"batch_id"`
	JobID        string         `mapstructure:"job_id"`
	Position     int            `mapstructure:"position"`
	Status       string         `mapstructure:"status"`
	Class        string         `mapstructure:"class"`
	Compensation string         `mapstructure:"compensation"`
	Args         map[string]any `mapstructure:"args"`
	Result       any            `mapstructure:"result"`
	Error        map[string]any `mapstructure:"error"`
	CompletedAt  string         `mapstructure:"completed_at"`
}

// BatchFromMap rebuilds a definition produced by ToMap. Numeric values
// are decoded weakly so JSON round-trips (float64 numbers) hydrate
// cleanly.
func BatchFromMap(m map[string]any) (*BatchDefinition, error) {
	var flat flatBatch
	if err := weakDecode(m, &flat); err != nil {
		return nil, fmt.Errorf("batchq: decode batch map: %w", err)
	}
	d := &BatchDefinition{
		ID:            flat.ID,
		Type:          BatchType(flat.Type),
		Status:        BatchStatus(flat.Status),
		TotalJobs:     flat.TotalJobs,
		CompletedJobs: flat.CompletedJobs,
		FailedJobs:    flat.FailedJobs,
		Context:       flat.Context,
		QueueName:     flat.QueueName,
		QueueConfig:   flat.QueueConfig,
		Created:       flat.Created,
		Modified:      flat.Modified,
		CompletedAt:   flat.CompletedAt,
	}
	if d.Context == nil {
		d.Context = map[string]any{}
	}
	opts, err := OptionsFromMap(flat.Options)
	if err != nil {
		return nil, err
	}
	d.Options = opts
	for _, jm := range flat.Jobs {
		j, err := JobFromMap(jm)
		if err != nil {
			return nil, err
		}
		j.BatchID = d.ID
		d.Jobs = append(d.Jobs, j)
	}
	return d, nil
}

// JobFromMap rebuilds one job record produced by JobDefinition.ToMap.
func JobFromMap(m map[string]any) (*JobDefinition, error) {
	var flat flatJob
	if err := weakDecode(m, &flat); err != nil {
		return nil, fmt.Errorf("batchq: decode job map: %w", err)
	}
	j := &JobDefinition{
		ID:           flat.ID,
		BatchID:      flat.BatchID,
		JobID:        flat.JobID,
		Position:     flat.Position,
		Status:       JobStatus(flat.Status),
		Class:        flat.Class,
		Compensation: flat.Compensation,
		Args:         flat.Args,
		Result:       flat.Result,
		CompletedAt:  flat.CompletedAt,
	}
	if j.Args == nil {
		j.Args = map[string]any{}
	}
	if j.Status == "" {
		j.Status = JobStatusPending
	}
	if len(flat.Error) > 0 {
		var rec ErrorRecord
		if err := weakDecode(flat.Error, &rec); err != nil {
			return nil, fmt.Errorf("batchq: decode job error record: %w", err)
		}
		j.Error = &rec
	}
	return j, nil
}

// OptionsFromMap decodes the recognized option keys, ignoring unknown ones.
func OptionsFromMap(m map[string]any) (Options, error) {
	var o Options
	if len(m) == 0 {
		return o, nil
	}
	if err := weakDecode(m, &o); err != nil {
		return o, fmt.Errorf("batchq: decode options: %w", err)
	}
	return o, nil
}

func optionsToMap(o Options) map[string]any {
	m := map[string]any{}
	if o.OnComplete != nil {
		m["on_complete"] = callbackToMap(o.OnComplete)
	}
	if o.OnFailure != nil {
		m["on_failure"] = callbackToMap(o.OnFailure)
	}
	if o.MaxRetries != 0 {
		m["max_retries"] = o.MaxRetries
	}
	if o.RetryDelay != 0 {
		m["retry_delay"] = o.RetryDelay
	}
	if o.Timeout != 0 {
		m["timeout"] = o.Timeout
	}
	if o.FailOnFirstError {
		m["fail_on_first_error"] = true
	}
	if o.Name != "" {
		m["name"] = o.Name
	}
	return m
}

func callbackToMap(cb *CallbackSpec) map[string]any {
	m := map[string]any{"class": cb.Class}
	if len(cb.Args) > 0 {
		m["args"] = cb.Args
	}
	return m
}

func weakDecode(in, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}
