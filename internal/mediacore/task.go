package mediacore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tphakala/mediaflow/internal/events"
	"github.com/tphakala/mediaflow/internal/logging"
)

// pipelinePhase is where a registered pipeline sits in the scheduling
// lifecycle. It is distinct from PipelineState: the phase is the task's
// private progress marker, the state is the externally visible one.
type pipelinePhase int

const (
	phaseOpening pipelinePhase = iota
	phaseRunning
	phaseCleanup
	phaseDone
)

// pipelineRun is the scheduling record for one registered pipeline: its
// job sets in dependency order plus progress flags.
type pipelineRun struct {
	pipeline *Pipeline
	ctx      context.Context
	jobs     []*jobSet
	phase    pipelinePhase
	failed   bool
	graceful bool
}

// TaskConfig configures a scheduler task.
type TaskConfig struct {
	Name string

	// MaxContinueRetries bounds how often a single element may report
	// "need more input" within one running pass before the task moves on
	// to the next element. Zero selects the default of 8.
	MaxContinueRetries int

	Metrics *MetricsCollector
}

const defaultMaxContinueRetries = 8

// passIdleDelay throttles passes in which every active element only asked
// for more input, so starved pipelines do not spin the worker hot.
const passIdleDelay = time.Millisecond

// Task is the scheduling unit driving pipelines through their three
// phases on a single worker goroutine. Opening runs each element's open
// job and then its process job until the first successful invocation, in
// pipeline order, so upstream elements have produced before downstream
// elements first consume. Running executes ordered process passes.
// Cleanup closes every element whose open was invoked, exactly once,
// then closes the buses.
//
// Several pipelines may share one task; their passes interleave
// round-robin.
type Task struct {
	name               string
	maxContinueRetries int
	metrics            *MetricsCollector
	logger             *slog.Logger

	mu     sync.Mutex
	runs   []*pipelineRun
	cursor int

	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewTask creates a scheduler task. The worker goroutine starts lazily
// with the first registered pipeline.
func NewTask(cfg TaskConfig) *Task {
	if cfg.Name == "" {
		cfg.Name = "task"
	}
	retries := cfg.MaxContinueRetries
	if retries <= 0 {
		retries = defaultMaxContinueRetries
	}

	logger := logging.ForService("mediacore")
	if logger == nil {
		logger = slog.Default()
	}

	return &Task{
		name:               cfg.Name,
		maxContinueRetries: retries,
		metrics:            cfg.Metrics,
		logger:             logger.With("component", "task", "task", cfg.Name),
		wake:               make(chan struct{}, 1),
		quit:               make(chan struct{}),
	}
}

// Name returns the task name.
func (t *Task) Name() string { return t.name }

// Shutdown stops the worker goroutine and waits for it to exit. Pipelines
// still registered are driven through cleanup first.
func (t *Task) Shutdown() {
	t.stopOnce.Do(func() {
		close(t.quit)
	})
	t.wg.Wait()
}

// register adds a pipeline to the schedule. Called from Pipeline.Run.
func (t *Task) register(p *Pipeline, ctx context.Context) {
	run := &pipelineRun{
		pipeline: p,
		ctx:      ctx,
		phase:    phaseOpening,
	}
	for _, el := range p.Elements() {
		run.jobs = append(run.jobs, newJobSet(el))
	}

	t.mu.Lock()
	t.runs = append(t.runs, run)
	t.mu.Unlock()

	t.startOnce.Do(func() {
		t.wg.Add(1)
		go t.worker()
	})
	t.kick()
}

// kick wakes the worker without blocking.
func (t *Task) kick() {
	select {
	case t.wake <- struct{}{}:
	default:
	}
}

func (t *Task) worker() {
	defer t.wg.Done()

	for {
		run := t.next()
		if run == nil {
			if t.drained() {
				select {
				case <-t.quit:
					return
				case <-t.wake:
				}
				continue
			}
			// all registered pipelines are paused
			select {
			case <-t.quit:
				t.abortAll()
				return
			case <-t.wake:
			}
			continue
		}

		select {
		case <-t.quit:
			t.abortAll()
			return
		default:
		}

		t.step(run)
		if run.phase == phaseDone {
			t.reap(run)
		}
	}
}

// next picks the next schedulable pipeline round-robin, skipping paused
// ones. Returns nil when nothing is runnable.
func (t *Task) next() *pipelineRun {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.runs)
	for i := 0; i < n; i++ {
		idx := (t.cursor + i) % n
		run := t.runs[idx]
		if run.phase == phaseDone {
			continue
		}
		if run.pipeline.State() == PipelinePaused {
			continue
		}
		t.cursor = idx + 1
		return run
	}
	return nil
}

// drained reports whether no pipelines are registered at all.
func (t *Task) drained() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.runs) == 0
}

func (t *Task) reap(run *pipelineRun) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, r := range t.runs {
		if r == run {
			t.runs = append(t.runs[:i], t.runs[i+1:]...)
			break
		}
	}
	if t.cursor > len(t.runs) {
		t.cursor = 0
	}
}

// abortAll forces cleanup on every live pipeline when the task itself is
// shut down.
func (t *Task) abortAll() {
	t.mu.Lock()
	runs := make([]*pipelineRun, len(t.runs))
	copy(runs, t.runs)
	t.runs = nil
	t.mu.Unlock()

	for _, run := range runs {
		if run.phase == phaseDone {
			continue
		}
		run.pipeline.setState(PipelineStopping)
		t.cleanup(run)
	}
}

func (t *Task) step(run *pipelineRun) {
	switch run.phase {
	case phaseOpening:
		t.opening(run)
	case phaseRunning:
		t.runningPass(run)
	case phaseCleanup:
		t.cleanup(run)
	}
}

// opening runs each element's open job and then its process job until
// the first invocation that produces, in pipeline order. An element that
// keeps asking for input holds the phase: downstream elements stay
// unopened so they never consume spurious silence, and the worker
// resumes here on its next visit rather than blocking.
func (t *Task) opening(run *pipelineRun) {
	p := run.pipeline

	for _, js := range run.jobs {
		if p.State() == PipelineStopping || run.ctx.Err() != nil {
			run.phase = phaseCleanup
			return
		}

		if !js.openInvoked {
			js.openInvoked = true
			js.open.runs++
			start := time.Now()
			err := js.element.Open(run.ctx)
			dur := time.Since(start)

			if err != nil {
				js.open.lastResult = ResultFail
				t.metrics.RecordJob(p.name, js.element.Name(), JobOpen.String(), ResultFail, dur)
				_ = js.element.Transition(StateError)
				t.fail(run, js, err)
				return
			}
			js.open.lastResult = ResultOK
			t.metrics.RecordJob(p.name, js.element.Name(), JobOpen.String(), ResultOK, dur)
			if err := js.element.Transition(StateOpened); err != nil {
				t.fail(run, js, err)
				return
			}
		}
		if js.primed {
			continue
		}

		for retries := 0; ; retries++ {
			res := t.process(run, js)
			if run.phase != phaseOpening {
				return
			}
			if res != ResultContinue {
				js.primed = true
				break
			}
			if retries+1 >= t.maxContinueRetries {
				// Nothing produced yet. Yield so sibling pipelines
				// advance; the phase stays Opening and resumes here.
				time.Sleep(passIdleDelay)
				return
			}
			if p.State() == PipelineStopping || run.ctx.Err() != nil {
				run.phase = phaseCleanup
				return
			}
		}
	}

	p.setState(PipelineRunning)
	p.emit(events.PipelineOpened, "", nil)
	p.emit(events.PipelineRunning, "", nil)
	p.logger.Info("pipeline running")
	run.phase = phaseRunning
}

// runningPass executes one ordered pass over all active elements.
// Continue results are retried in place up to the configured bound; a
// pass where every element only reported Continue sleeps briefly before
// the next one.
func (t *Task) runningPass(run *pipelineRun) {
	p := run.pipeline
	progressed := false

	for _, js := range run.jobs {
		if p.State() == PipelineStopping || run.ctx.Err() != nil {
			run.phase = phaseCleanup
			return
		}
		if !js.active() {
			continue
		}

		for retries := 0; ; retries++ {
			res := t.process(run, js)
			if run.phase != phaseRunning {
				return
			}
			if res != ResultContinue {
				progressed = true
				break
			}
			if retries+1 >= t.maxContinueRetries {
				break
			}
			if p.State() == PipelineStopping || run.ctx.Err() != nil {
				run.phase = phaseCleanup
				return
			}
		}
	}

	p.passes.Add(1)
	t.metrics.RecordPass(p.name)

	if !t.anyActive(run) {
		run.graceful = true
		run.phase = phaseCleanup
		return
	}
	if !progressed {
		time.Sleep(passIdleDelay)
	}
}

func (t *Task) anyActive(run *pipelineRun) bool {
	for _, js := range run.jobs {
		if js.active() {
			return true
		}
	}
	return false
}

// process runs one process job invocation and applies its result.
func (t *Task) process(run *pipelineRun, js *jobSet) JobResult {
	p := run.pipeline

	if js.element.State() == StateOpened {
		if err := js.element.Transition(StateProcessing); err != nil {
			t.fail(run, js, err)
			return ResultFail
		}
	}

	js.process.runs++
	start := time.Now()
	res, err := js.element.Process(run.ctx)
	dur := time.Since(start)
	js.process.lastResult = res
	t.metrics.RecordJob(p.name, js.element.Name(), JobProcess.String(), res, dur)

	switch res {
	case ResultOK:
		p.processed.Add(1)
	case ResultContinue:
		// retried by the caller within its pass bound
	case ResultDone:
		js.done = true
		t.closeElement(run, js)
		if js == run.jobs[len(run.jobs)-1] {
			// terminal element done: graceful end of stream
			run.graceful = true
			run.phase = phaseCleanup
		}
	case ResultTruncate:
		p.truncated.Add(1)
		t.metrics.RecordTruncate(p.name, js.element.Name())
		p.emit(events.PayloadTruncated, js.element.Name(), err)
		p.logger.Warn("partial payload",
			"element", js.element.ID(),
			"error", err)
	case ResultFail:
		_ = js.element.Transition(StateError)
		t.fail(run, js, err)
	}
	return res
}

// fail records a fatal job failure and routes the pipeline to cleanup.
func (t *Task) fail(run *pipelineRun, js *jobSet, err error) {
	p := run.pipeline
	p.failed.Add(1)
	t.metrics.RecordFailure(p.name, js.element.Name())
	p.emit(events.PipelineError, js.element.Name(), err)
	p.logger.Error("element failed",
		"element", js.element.ID(),
		"error", err)
	run.failed = true
	run.phase = phaseCleanup
}

// cleanup closes every element whose open job was invoked, in pipeline
// order, then closes the buses and parks the pipeline back at Idle.
func (t *Task) cleanup(run *pipelineRun) {
	p := run.pipeline
	p.setState(PipelineCleanup)

	for _, js := range run.jobs {
		t.closeElement(run, js)
	}
	p.closeBuses()

	run.phase = phaseDone
	p.finish(run.failed, run.graceful)
}

// closeElement runs the close job exactly once, iff open was invoked.
// Close failures are logged, never propagated.
func (t *Task) closeElement(run *pipelineRun, js *jobSet) {
	if !js.openInvoked || js.closeRan {
		return
	}
	js.closeRan = true
	js.close.runs++

	p := run.pipeline
	start := time.Now()
	err := js.element.Close(context.Background())
	dur := time.Since(start)

	res := ResultOK
	if err != nil {
		res = ResultFail
		p.logger.Warn("element close failed",
			"element", js.element.ID(),
			"error", err)
	}
	js.close.lastResult = res
	t.metrics.RecordJob(p.name, js.element.Name(), JobClose.String(), res, dur)

	if js.element.State() != StateClosed {
		if terr := js.element.Transition(StateClosed); terr != nil {
			p.logger.Warn("element close transition failed",
				"element", js.element.ID(),
				"error", terr)
		}
	}

	// End of stream propagates downstream: closing the output buses lets
	// consumers drain what is queued and then observe the closure.
	for _, port := range js.element.OutPorts() {
		if bus := port.Bus(); bus != nil {
			_ = bus.Close()
		}
	}

	p.emit(events.ElementClosed, js.element.Name(), err)
}
