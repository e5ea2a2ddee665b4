package core

// Envelope marker keys. These are the core-controlled fields carried
// inside a queue message's args, alongside the user's own job args.
const (
	KeyBatchID          = "batch_id"
	KeyJobPosition      = "job_position"
	KeyCompensation     = "compensation"
	KeyIsCallback       = "is_callback"
	KeyIsCompensation   = "is_compensation"
	KeyCompensationMeta = "_compensation"
	KeyStatus           = "status"
	KeyError            = "error"
)

// EnvelopeKind classifies a delivered message by its marker fields.
type EnvelopeKind int

const (
	// EnvelopeNormal is a batch job: has batch_id and job_position.
	EnvelopeNormal EnvelopeKind = iota
	// EnvelopeCallback is an on_complete / on_failure callback job.
	EnvelopeCallback
	// EnvelopeOther is anything else; processors acknowledge and pass through.
	EnvelopeOther
)

// ClassifyEnvelope inspects args and returns the message kind.
func ClassifyEnvelope(args map[string]any) EnvelopeKind {
	if b, ok := args[KeyIsCallback].(bool); ok && b {
		return EnvelopeCallback
	}
	if _, ok := args[KeyBatchID]; ok {
		if _, ok := args[KeyJobPosition]; ok {
			return EnvelopeNormal
		}
	}
	return EnvelopeOther
}

// EnvelopeBatchID extracts the batch_id marker.
func EnvelopeBatchID(args map[string]any) (string, bool) {
	s, ok := args[KeyBatchID].(string)
	return s, ok && s != ""
}

// EnvelopePosition extracts the job_position marker. JSON transports
// deliver numbers as float64, so both int and float forms are accepted.
func EnvelopePosition(args map[string]any) (int, bool) {
	switch v := args[KeyJobPosition].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// EnvelopeArgs builds the delivered argument map for a batch job: the
// job's own args, overlaid with the batch context, plus routing markers.
func EnvelopeArgs(d *BatchDefinition, j *JobDefinition) map[string]any {
	args := make(map[string]any, len(j.Args)+len(d.Context)+3)
	for k, v := range j.Args {
		args[k] = v
	}
	for k, v := range d.Context {
		args[k] = v
	}
	args[KeyBatchID] = d.ID
	args[KeyJobPosition] = j.Position
	if j.Compensation != "" {
		args[KeyCompensation] = j.Compensation
	}
	return args
}
