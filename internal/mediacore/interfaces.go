package mediacore

import (
	"context"
)

// MediaFormat describes the payload stream carried between elements.
type MediaFormat struct {
	SampleRate int    // Sample rate in Hz (e.g., 48000)
	Channels   int    // Number of channels (1 for mono, 2 for stereo)
	BitDepth   int    // Bits per sample (e.g., 16, 24, 32)
	Encoding   string // Encoding format (e.g., "pcm_s16le", "pcm_f32le")
}

// BytesPerFrame returns the byte size of one multi-channel frame.
func (f MediaFormat) BytesPerFrame() int {
	return f.Channels * f.BitDepth / 8
}

// JobResult is the outcome of one job execution.
type JobResult int

const (
	// ResultOK means the job did useful work and may run again.
	ResultOK JobResult = iota
	// ResultContinue means more input is needed; the task retries without
	// signaling the pipeline, bounded per scheduling pass.
	ResultContinue
	// ResultDone means the element finished its input; the task marks it
	// for close.
	ResultDone
	// ResultTruncate means a partial or short result was produced; logged
	// and propagated, not fatal.
	ResultTruncate
	// ResultFail is fatal; the task marks the whole pipeline for cleanup.
	ResultFail
)

func (r JobResult) String() string {
	switch r {
	case ResultOK:
		return "ok"
	case ResultContinue:
		return "continue"
	case ResultDone:
		return "done"
	case ResultTruncate:
		return "truncate"
	case ResultFail:
		return "fail"
	default:
		return "unknown"
	}
}

// ElementState is the lifecycle state of an element instance.
type ElementState int32

const (
	StateCreated ElementState = iota
	StateOpened
	StateProcessing
	StateClosed
	StateError
	StateDestroyed
)

func (s ElementState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateOpened:
		return "opened"
	case StateProcessing:
		return "processing"
	case StateClosed:
		return "closed"
	case StateError:
		return "error"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Element is a pluggable processing unit with open/process/close jobs and
// zero or more input/output ports. Concrete elements embed BaseElement for
// identity, state, port and config management and implement the three jobs.
//
// The scheduler guarantees that Process never runs before Open completed
// for the instance, and that Close runs exactly once for every instance
// whose Open was invoked, success or failure.
type Element interface {
	// ID returns the unique instance identifier.
	ID() string

	// Name returns the template/tag name the instance was created from.
	Name() string

	// State returns the current lifecycle state.
	State() ElementState

	// Transition moves the element to a new lifecycle state, validating
	// the transition. Called by the scheduler; elements normally do not
	// drive their own state.
	Transition(to ElementState) error

	// Open prepares the element for processing (allocate resources, open
	// files/devices). Runs once per instance.
	Open(ctx context.Context) error

	// Process performs one unit of work, typically one payload transfer
	// across the element's ports. Runs repeatedly while the pipeline is
	// live. The error return carries detail for ResultTruncate and
	// ResultFail; it is nil otherwise.
	Process(ctx context.Context) (JobResult, error)

	// Close releases everything Open acquired. Best-effort; failures are
	// logged, not propagated.
	Close(ctx context.Context) error

	// InPorts and OutPorts return the element's connection endpoints in
	// declaration order.
	InPorts() []*Port
	OutPorts() []*Port

	// GetConfig returns a copy of the element configuration.
	GetConfig() map[string]any

	// SetConfig updates a configuration key. Whether a change applies to
	// a running instance is element-specific.
	SetConfig(key string, value any) error
}
