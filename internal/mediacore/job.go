package mediacore

// JobKind identifies one of the three lifecycle jobs of an element.
type JobKind int

const (
	JobOpen JobKind = iota
	JobProcess
	JobClose
)

func (k JobKind) String() string {
	switch k {
	case JobOpen:
		return "open"
	case JobProcess:
		return "process"
	case JobClose:
		return "close"
	default:
		return "unknown"
	}
}

// Cardinality is how often a job runs once scheduled.
type Cardinality int

const (
	// CardinalityNone means the job is not scheduled.
	CardinalityNone Cardinality = iota
	// CardinalityOnce means the job runs a single time.
	CardinalityOnce
	// CardinalityInfinite means the job runs every pass until a result
	// retires it.
	CardinalityInfinite
)

// job is one schedulable unit of work bound to an element and a lifecycle
// phase. Jobs belong to exactly one task and are never shared.
type job struct {
	kind        JobKind
	cardinality Cardinality
	runs        int
	lastResult  JobResult
}

// jobSet is the per-element scheduling record a task keeps for each
// element registered with it. Created at registration, destroyed with the
// task or the pipeline.
type jobSet struct {
	element Element

	open    job
	process job
	close   job

	// openInvoked gates the close job: close runs exactly once iff open
	// was invoked, regardless of the open outcome.
	openInvoked bool
	closeRan    bool

	// primed marks that the first process invocation after open has
	// produced something. Downstream elements stay unopened until then.
	primed bool

	// done marks elements that reported ResultDone and no longer take
	// part in running passes.
	done bool
}

func newJobSet(el Element) *jobSet {
	return &jobSet{
		element: el,
		open:    job{kind: JobOpen, cardinality: CardinalityOnce},
		process: job{kind: JobProcess, cardinality: CardinalityInfinite},
		close:   job{kind: JobClose, cardinality: CardinalityOnce},
	}
}

// active reports whether the element still takes part in running passes.
func (js *jobSet) active() bool {
	return js.openInvoked && !js.done && !js.closeRan &&
		js.element.State() != StateError
}
