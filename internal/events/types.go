// Package events provides an asynchronous event bus carrying pipeline
// lifecycle events to registered observers (UI, telemetry, cascading
// pipelines) without blocking the scheduling path.
package events

import (
	"time"
)

// EventType identifies a pipeline lifecycle event.
type EventType string

const (
	// PipelineOpened fires when every element completed its opening pass.
	PipelineOpened EventType = "pipeline-opened"
	// PipelineRunning fires when the first running pass begins.
	PipelineRunning EventType = "pipeline-running"
	// PipelinePaused and PipelineResumed track scheduling suspension.
	PipelinePaused  EventType = "pipeline-paused"
	PipelineResumed EventType = "pipeline-resumed"
	// PipelineDone fires on graceful completion of the terminal element.
	PipelineDone EventType = "pipeline-done"
	// PipelineError fires when a job reports a fatal failure.
	PipelineError EventType = "pipeline-error"
	// ElementClosed fires once per element after its close job completes.
	ElementClosed EventType = "element-closed"
	// PayloadTruncated fires when an element reports a partial result.
	PayloadTruncated EventType = "payload-truncated"
)

// Event is a single lifecycle notification.
type Event struct {
	Type      EventType
	Pipeline  string
	Element   string // empty for pipeline-level events
	Err       error  // set for PipelineError
	Context   map[string]any
	Timestamp time.Time
}

// Consumer processes lifecycle events delivered by the bus workers.
type Consumer interface {
	// Name returns the consumer name for identification
	Name() string

	// ProcessEvent processes a single event
	ProcessEvent(event Event) error
}

// ConsumerFunc adapts a function to the Consumer interface.
type ConsumerFunc struct {
	ID string
	Fn func(event Event) error
}

func (cf *ConsumerFunc) Name() string                  { return cf.ID }
func (cf *ConsumerFunc) ProcessEvent(event Event) error { return cf.Fn(event) }

// BusStats contains runtime statistics for monitoring
type BusStats struct {
	EventsReceived  uint64
	EventsProcessed uint64
	EventsDropped   uint64
	ConsumerErrors  uint64
}
