package mediacore

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/mediaflow/internal/events"
	"github.com/tphakala/mediaflow/internal/mediacore/databus"
)

// callLog records job invocations across scripted elements.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, s)
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

func (l *callLog) count(s string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c == s {
			n++
		}
	}
	return n
}

// scriptedElement runs a fixed sequence of process results. An exhausted
// script repeats its last entry.
type scriptedElement struct {
	*BaseElement

	log     *callLog
	openErr error
	script  []JobResult

	mu        sync.Mutex
	remaining []JobResult
}

func (e *scriptedElement) Open(ctx context.Context) error {
	e.log.add(e.Name() + ".open")
	e.mu.Lock()
	e.remaining = append([]JobResult(nil), e.script...)
	e.mu.Unlock()
	return e.openErr
}

func (e *scriptedElement) Process(ctx context.Context) (JobResult, error) {
	e.log.add(e.Name() + ".process")
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.remaining) == 0 {
		if len(e.script) == 0 {
			return ResultDone, nil
		}
		return e.script[len(e.script)-1], nil
	}
	res := e.remaining[0]
	e.remaining = e.remaining[1:]
	var err error
	if res == ResultFail {
		err = fmt.Errorf("scripted failure in %s", e.Name())
	}
	return res, err
}

func (e *scriptedElement) Close(ctx context.Context) error {
	e.log.add(e.Name() + ".close")
	return nil
}

func scriptedFactory(log *callLog, script []JobResult, openErr error) Factory {
	return func(name string, config map[string]any) (Element, error) {
		return &scriptedElement{
			BaseElement: NewBaseElement(name, config),
			log:         log,
			openErr:     openErr,
			script:      script,
		}, nil
	}
}

type scripted struct {
	name    string
	script  []JobResult
	openErr error
}

func buildScripted(t *testing.T, log *callLog, task *Task, name string, bus *events.Bus, defs ...scripted) *Pipeline {
	t.Helper()

	pool := NewPool()
	names := make([]string, 0, len(defs))
	for _, s := range defs {
		require.NoError(t, pool.Register(s.name, scriptedFactory(log, s.script, s.openErr)))
		names = append(names, s.name)
	}

	p, err := BuildPipeline(pool, &PipelineConfig{
		Name:     name,
		Elements: names,
		Bus:      databus.Config{Strategy: databus.StrategyRing, Capacity: 1024},
		Task:     task,
		Events:   bus,
	})
	require.NoError(t, err)
	return p
}

func waitIdle(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Wait(ctx))
	assert.Equal(t, PipelineIdle, p.State())
}

func TestOpeningRunsInDependencyOrder(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	task := NewTask(TaskConfig{Name: "t"})
	defer task.Shutdown()

	p := buildScripted(t, log, task, "order", nil,
		scripted{name: "a", script: []JobResult{ResultOK, ResultDone}},
		scripted{name: "b", script: []JobResult{ResultOK, ResultDone}},
		scripted{name: "c", script: []JobResult{ResultOK, ResultDone}},
	)

	require.NoError(t, p.Run(context.Background()))
	waitIdle(t, p)

	want := []string{"a.open", "a.process", "b.open", "b.process", "c.open", "c.process"}
	got := log.snapshot()
	require.GreaterOrEqual(t, len(got), len(want))
	assert.Equal(t, want, got[:len(want)], "open of element N+1 must follow open and first process of element N")

	for _, name := range []string{"a", "b", "c"} {
		assert.Equal(t, 1, log.count(name+".open"), "%s open count", name)
		assert.Equal(t, 1, log.count(name+".close"), "%s close count", name)
	}
}

func TestOpeningWaitsForUpstreamData(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	// A small retry bound forces the opening phase to span several
	// scheduler visits before the upstream first produces.
	task := NewTask(TaskConfig{Name: "t", MaxContinueRetries: 2})
	defer task.Shutdown()

	p := buildScripted(t, log, task, "deferred", nil,
		scripted{name: "a", script: []JobResult{ResultContinue, ResultContinue, ResultContinue, ResultOK, ResultDone}},
		scripted{name: "b", script: []JobResult{ResultOK, ResultDone}},
	)

	require.NoError(t, p.Run(context.Background()))
	waitIdle(t, p)

	want := []string{"a.open", "a.process", "a.process", "a.process", "a.process", "b.open", "b.process"}
	got := log.snapshot()
	require.GreaterOrEqual(t, len(got), len(want))
	assert.Equal(t, want, got[:len(want)],
		"downstream open must wait for the first successful upstream process")

	assert.Equal(t, 1, log.count("b.open"))
	assert.Equal(t, 1, log.count("a.close"))
	assert.Equal(t, 1, log.count("b.close"))
}

func TestOpenFailureRoutesToCleanup(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	task := NewTask(TaskConfig{Name: "t"})
	defer task.Shutdown()

	p := buildScripted(t, log, task, "openfail", nil,
		scripted{name: "a", script: []JobResult{ResultOK}},
		scripted{name: "b", openErr: fmt.Errorf("device missing")},
		scripted{name: "c", script: []JobResult{ResultOK}},
	)

	require.NoError(t, p.Run(context.Background()))
	waitIdle(t, p)

	// c was never reached, so it is neither opened nor closed
	assert.Equal(t, 0, log.count("c.open"))
	assert.Equal(t, 0, log.count("c.close"))

	// close runs exactly once for everything whose open was invoked,
	// the failed element included
	assert.Equal(t, 1, log.count("a.close"))
	assert.Equal(t, 1, log.count("b.close"))
	assert.Equal(t, 0, log.count("b.process"), "process must not run after a failed open")

	report := p.GetReport()
	assert.GreaterOrEqual(t, report.Failed, int64(1))
}

func TestProcessFailureStopsPipeline(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	task := NewTask(TaskConfig{Name: "t"})
	defer task.Shutdown()

	p := buildScripted(t, log, task, "procfail", nil,
		scripted{name: "a", script: []JobResult{ResultOK}},
		scripted{name: "b", script: []JobResult{ResultOK, ResultOK, ResultFail}},
	)

	require.NoError(t, p.Run(context.Background()))
	waitIdle(t, p)

	assert.Equal(t, 1, log.count("a.close"))
	assert.Equal(t, 1, log.count("b.close"))
	assert.Equal(t, ElementStateOf(p, t, "b"), StateClosed)
	assert.GreaterOrEqual(t, p.GetReport().Failed, int64(1))
}

// ElementStateOf is a test helper fetching an element's state by name.
func ElementStateOf(p *Pipeline, t *testing.T, name string) ElementState {
	t.Helper()
	el, err := p.GetElementByName(name)
	require.NoError(t, err)
	return el.State()
}

func TestStopMidRunning(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	task := NewTask(TaskConfig{Name: "t"})
	defer task.Shutdown()

	p := buildScripted(t, log, task, "stoppable", nil,
		scripted{name: "a", script: []JobResult{ResultOK}},
		scripted{name: "b", script: []JobResult{ResultOK}},
	)

	require.NoError(t, p.Run(context.Background()))

	require.Eventually(t, func() bool {
		return p.GetReport().Passes >= 3
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, p.Stop())
	waitIdle(t, p)

	assert.Equal(t, 1, log.count("a.close"))
	assert.Equal(t, 1, log.count("b.close"))

	// stopping again on an idle pipeline is an error
	assert.Error(t, p.Stop())
}

func TestTerminalDoneFinishesGracefully(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	task := NewTask(TaskConfig{Name: "t"})
	defer task.Shutdown()

	eventBus := events.NewBus(&events.Config{BufferSize: 64, Workers: 1})
	defer eventBus.Shutdown()

	var seen sync.Map
	require.NoError(t, eventBus.RegisterConsumer(&events.ConsumerFunc{
		ID: "probe",
		Fn: func(ev events.Event) error {
			seen.Store(ev.Type, true)
			return nil
		},
	}))

	p := buildScripted(t, log, task, "graceful", eventBus,
		scripted{name: "a", script: []JobResult{ResultOK}},
		scripted{name: "b", script: []JobResult{ResultOK, ResultOK, ResultDone}},
	)

	require.NoError(t, p.Run(context.Background()))
	waitIdle(t, p)

	// the still-active upstream element is closed during cleanup too
	assert.Equal(t, 1, log.count("a.close"))
	assert.Equal(t, 1, log.count("b.close"))

	assert.Eventually(t, func() bool {
		_, ok := seen.Load(events.PipelineDone)
		return ok
	}, time.Second, time.Millisecond)
}

func TestIntermediateDoneClosesOnlyThatElement(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	task := NewTask(TaskConfig{Name: "t"})
	defer task.Shutdown()

	p := buildScripted(t, log, task, "intermediate", nil,
		scripted{name: "a", script: []JobResult{ResultOK, ResultDone}},
		scripted{name: "b", script: []JobResult{ResultOK}},
	)

	require.NoError(t, p.Run(context.Background()))

	// a retires and closes while the pipeline keeps running
	require.Eventually(t, func() bool {
		return log.count("a.close") == 1
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, PipelineRunning, p.State())
	assert.Equal(t, 0, log.count("b.close"))

	require.NoError(t, p.Stop())
	waitIdle(t, p)
	assert.Equal(t, 1, log.count("a.close"), "close must not run twice")
	assert.Equal(t, 1, log.count("b.close"))
}

func TestPauseResume(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	task := NewTask(TaskConfig{Name: "t"})
	defer task.Shutdown()

	p := buildScripted(t, log, task, "pausable", nil,
		scripted{name: "a", script: []JobResult{ResultOK}},
	)

	require.NoError(t, p.Run(context.Background()))
	require.Eventually(t, func() bool {
		return p.GetReport().Passes > 0
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, p.Pause())
	assert.Equal(t, PipelinePaused, p.State())

	// let any in-flight pass finish, then verify no further progress
	time.Sleep(20 * time.Millisecond)
	before := p.GetReport().Passes
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, before, p.GetReport().Passes, "paused pipeline must not schedule passes")

	require.NoError(t, p.Resume())
	require.Eventually(t, func() bool {
		return p.GetReport().Passes > before
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, p.Stop())
	waitIdle(t, p)

	// pause on an idle pipeline is rejected
	assert.Error(t, p.Pause())
}

func TestContinueRetriesAreBounded(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	task := NewTask(TaskConfig{Name: "t", MaxContinueRetries: 3})
	defer task.Shutdown()

	p := buildScripted(t, log, task, "starved", nil,
		scripted{name: "a", script: []JobResult{ResultOK, ResultContinue}},
	)

	require.NoError(t, p.Run(context.Background()))
	require.Eventually(t, func() bool {
		return p.GetReport().Passes >= 2
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, p.Stop())
	waitIdle(t, p)

	passes := p.GetReport().Passes
	processed := log.count("a.process")
	// opening contributes one call, each pass at most the retry bound
	assert.LessOrEqual(t, int64(processed), 1+passes*3+3, "continue retries must be bounded per pass")
	assert.Equal(t, 1, log.count("a.close"))
}

func TestResetAndRerun(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	task := NewTask(TaskConfig{Name: "t"})
	defer task.Shutdown()

	p := buildScripted(t, log, task, "rerun", nil,
		scripted{name: "a", script: []JobResult{ResultOK, ResultDone}},
		scripted{name: "b", script: []JobResult{ResultOK, ResultOK, ResultDone}},
	)

	ctx := context.Background()
	require.NoError(t, p.Run(ctx))
	waitIdle(t, p)

	require.NoError(t, p.Reset(ctx))
	for _, name := range []string{"a", "b"} {
		assert.Equal(t, StateCreated, ElementStateOf(p, t, name))
	}
	assert.Equal(t, int64(0), p.GetReport().Passes)

	require.NoError(t, p.Run(ctx))
	waitIdle(t, p)

	assert.Equal(t, 2, log.count("a.open"))
	assert.Equal(t, 2, log.count("a.close"))
	assert.Equal(t, 2, log.count("b.close"))
}

func TestRunRejectsNonIdle(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	task := NewTask(TaskConfig{Name: "t"})
	defer task.Shutdown()

	p := buildScripted(t, log, task, "busy", nil,
		scripted{name: "a", script: []JobResult{ResultOK}},
	)

	ctx := context.Background()
	require.NoError(t, p.Run(ctx))
	assert.ErrorIs(t, p.Run(ctx), ErrPipelineState)

	require.NoError(t, p.Stop())
	waitIdle(t, p)
}

func TestPipelinesShareOneTask(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	task := NewTask(TaskConfig{Name: "shared"})
	defer task.Shutdown()

	p1 := buildScripted(t, log, task, "one", nil,
		scripted{name: "a1", script: []JobResult{ResultOK, ResultOK, ResultDone}},
	)
	p2 := buildScripted(t, log, task, "two", nil,
		scripted{name: "a2", script: []JobResult{ResultOK, ResultOK, ResultDone}},
	)

	ctx := context.Background()
	require.NoError(t, p1.Run(ctx))
	require.NoError(t, p2.Run(ctx))

	waitIdle(t, p1)
	waitIdle(t, p2)

	assert.Equal(t, 1, log.count("a1.close"))
	assert.Equal(t, 1, log.count("a2.close"))
}

func TestCascadeFrom(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	task := NewTask(TaskConfig{Name: "t"})
	defer task.Shutdown()

	eventBus := events.NewBus(&events.Config{BufferSize: 64, Workers: 1})
	defer eventBus.Shutdown()

	upstream := buildScripted(t, log, task, "feeder", eventBus,
		scripted{name: "src", script: []JobResult{ResultOK, ResultDone}},
	)
	downstream := buildScripted(t, log, task, "follower", eventBus,
		scripted{name: "snk", script: []JobResult{ResultOK, ResultDone}},
	)

	ctx := context.Background()
	require.NoError(t, downstream.CascadeFrom(ctx, upstream, events.PipelineDone))
	require.NoError(t, upstream.Run(ctx))

	waitIdle(t, upstream)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.Eventually(t, func() bool {
		return log.count("snk.open") == 1
	}, 5*time.Second, time.Millisecond, "downstream must start on the upstream trigger event")
	require.NoError(t, downstream.Wait(waitCtx))
	assert.Equal(t, 1, log.count("snk.close"))
}

func TestCtxCancelStopsPipeline(t *testing.T) {
	t.Parallel()

	log := &callLog{}
	task := NewTask(TaskConfig{Name: "t"})
	defer task.Shutdown()

	p := buildScripted(t, log, task, "cancelable", nil,
		scripted{name: "a", script: []JobResult{ResultOK}},
	)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Run(ctx))
	require.Eventually(t, func() bool {
		return p.GetReport().Passes > 0
	}, 5*time.Second, time.Millisecond)

	cancel()
	waitIdle(t, p)
	assert.Equal(t, 1, log.count("a.close"))
}
