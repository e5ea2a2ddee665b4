package core

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
)

// JobDefinition is the canonical record for one job slot inside a batch.
type JobDefinition struct {
	ID           string
	BatchID      string
	JobID        string // queue-provided message id, set on first pickup
	Position     int
	Status       JobStatus
	Class        string
	Compensation string
	Args         map[string]any
	Result       any
	Error        *ErrorRecord
	CompletedAt  string
}

// JobSpec is the typed input shape for a job: a class, optional
// compensation partner, and an argument map.
type JobSpec struct {
	Class        string         `mapstructure:"class"`
	Compensation string         `mapstructure:"compensation"`
	Args         map[string]any `mapstructure:"args"`
}

// NormalizeJob converts one of the accepted job input shapes into a
// canonical JobDefinition:
//
//   - a class name string
//   - a [2]string or two-element []string of {class, compensation}
//   - a JobSpec or a map with a "class" key
//   - an already-built *JobDefinition (storage read-back)
//
// Compensation partners are only valid on sequential batches. When reg
// is non-nil, the class (and compensation class) must be registered.
func NormalizeJob(input any, batchType BatchType, position int, reg *Registry) (*JobDefinition, error) {
	def := &JobDefinition{
		ID:       uuid.New().String(),
		Position: position,
		Status:   JobStatusPending,
		Args:     map[string]any{},
	}

	switch v := input.(type) {
	case string:
		def.Class = v
	case [2]string:
		def.Class, def.Compensation = v[0], v[1]
	case []string:
		if len(v) != 2 {
			return nil, fmt.Errorf("%w: job pair must have exactly two elements, got %d", ErrInvalidJob, len(v))
		}
		def.Class, def.Compensation = v[0], v[1]
	case JobSpec:
		def.Class, def.Compensation = v.Class, v.Compensation
		if v.Args != nil {
			def.Args = v.Args
		}
	case *JobSpec:
		def.Class, def.Compensation = v.Class, v.Compensation
		if v.Args != nil {
			def.Args = v.Args
		}
	case map[string]any:
		var spec JobSpec
		if err := mapstructure.Decode(v, &spec); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJob, err)
		}
		if spec.Class == "" {
			return nil, fmt.Errorf("%w: job map needs a class key", ErrInvalidJob)
		}
		def.Class, def.Compensation = spec.Class, spec.Compensation
		if spec.Args != nil {
			def.Args = spec.Args
		}
	case *JobDefinition:
		cp := *v
		if cp.ID == "" {
			cp.ID = def.ID
		}
		if cp.Args == nil {
			cp.Args = map[string]any{}
		}
		if cp.Status == "" {
			cp.Status = JobStatusPending
		}
		cp.Position = position
		def = &cp
	default:
		return nil, fmt.Errorf("%w: unsupported job input %T", ErrInvalidJob, input)
	}

	if def.Class == "" {
		return nil, fmt.Errorf("%w: empty job class", ErrInvalidJob)
	}
	if def.Compensation != "" && batchType != BatchSequential {
		return nil, fmt.Errorf("%w: compensation is only valid on sequential batches", ErrInvalidJob)
	}
	if reg != nil {
		if !reg.Has(def.Class) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownClass, def.Class)
		}
		if def.Compensation != "" && !reg.Has(def.Compensation) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownClass, def.Compensation)
		}
	}
	return def, nil
}

// NormalizeJobs normalizes a slice of job inputs, assigning positions
// starting at firstPosition.
func NormalizeJobs(inputs []any, batchType BatchType, firstPosition int, reg *Registry) ([]*JobDefinition, error) {
	jobs := make([]*JobDefinition, 0, len(inputs))
	for i, in := range inputs {
		j, err := NormalizeJob(in, batchType, firstPosition+i, reg)
		if err != nil {
			return nil, fmt.Errorf("job at index %d: %w", i, err)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}
