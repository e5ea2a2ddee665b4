package core

import "time"

// Event is the interface for all batch events.
type Event interface {
	eventMarker()
}

// BatchStarted is emitted when the first job of a batch is picked up.
type BatchStarted struct {
	BatchID   string
	Type      BatchType
	Timestamp time.Time
}

func (*BatchStarted) eventMarker() {}

// BatchCompleted is emitted when a batch transitions to completed.
type BatchCompleted struct {
	BatchID   string
	Type      BatchType
	Timestamp time.Time
}

func (*BatchCompleted) eventMarker() {}

// BatchFailed is emitted when a batch transitions to failed.
type BatchFailed struct {
	BatchID   string
	Type      BatchType
	Error     *ErrorRecord
	Timestamp time.Time
}

func (*BatchFailed) eventMarker() {}

// JobCompleted is emitted when a batch job completes successfully.
type JobCompleted struct {
	BatchID   string
	JobID     string
	Position  int
	Class     string
	Timestamp time.Time
}

func (*JobCompleted) eventMarker() {}

// JobFailed is emitted when a batch job fails.
type JobFailed struct {
	BatchID   string
	JobID     string
	Position  int
	Class     string
	Error     *ErrorRecord
	Timestamp time.Time
}

func (*JobFailed) eventMarker() {}

// CompensationStarted is emitted when a failed chain launches its
// compensation chain.
type CompensationStarted struct {
	BatchID             string
	CompensationBatchID string
	Steps               int
	Timestamp           time.Time
}

func (*CompensationStarted) eventMarker() {}

// Emitter publishes events to interested subscribers. The zero
// implementation used when no emitter is wired is NopEmitter.
type Emitter interface {
	Emit(e Event)
}

// NopEmitter discards all events.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(Event) {}
