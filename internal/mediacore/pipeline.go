package mediacore

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/mediaflow/internal/errors"
	"github.com/tphakala/mediaflow/internal/events"
	"github.com/tphakala/mediaflow/internal/logging"
	"github.com/tphakala/mediaflow/internal/mediacore/databus"
)

// PipelineState is the lifecycle state of a pipeline.
type PipelineState int32

const (
	PipelineIdle PipelineState = iota
	PipelineOpening
	PipelineRunning
	PipelinePaused
	PipelineStopping
	PipelineCleanup
)

func (s PipelineState) String() string {
	switch s {
	case PipelineIdle:
		return "idle"
	case PipelineOpening:
		return "opening"
	case PipelineRunning:
		return "running"
	case PipelinePaused:
		return "paused"
	case PipelineStopping:
		return "stopping"
	case PipelineCleanup:
		return "cleanup"
	default:
		return "unknown"
	}
}

// PipelineConfig describes a pipeline to build from the pool.
type PipelineConfig struct {
	Name string

	// Elements are template names in pipeline order. The first element is
	// typically an input adapter, the last an output adapter; either end
	// may also be left open for push-style feeding or pull-style draining.
	Elements []string

	// Configs carries per-template configuration overrides.
	Configs map[string]map[string]any

	// Bus is the default transport used for the links between consecutive
	// elements.
	Bus databus.Config

	// Task schedules this pipeline. Pipelines sharing a task share its
	// worker goroutine.
	Task *Task

	// Events is the observer bus for lifecycle notifications; optional.
	Events *events.Bus

	// Metrics enables engine metrics; optional.
	Metrics *MetricsCollector
}

// link records one internal port-to-port connection so buses can be rebuilt
// on reset.
type link struct {
	out *Port
	in  *Port
	bus databus.Bus
}

// Report is a snapshot of pipeline counters.
type Report struct {
	State     PipelineState
	Processed int64
	Truncated int64
	Failed    int64
	Passes    int64
}

// Pipeline owns an ordered element chain plus the buses linking it, and
// exposes lifecycle control. One pipeline runs on exactly one task.
type Pipeline struct {
	name string

	elements []Element
	links    []link
	busCfg   databus.Config

	task    *Task
	events  *events.Bus
	metrics *MetricsCollector

	state atomic.Int32

	mu      sync.Mutex
	runCtx  context.Context
	cancel  context.CancelFunc
	doneCh  chan struct{}
	started bool

	cascadeOnce sync.Once

	processed atomic.Int64
	truncated atomic.Int64
	failed    atomic.Int64
	passes    atomic.Int64

	logger *slog.Logger
}

// BuildPipeline instantiates the named elements from the pool, wires
// consecutive elements together with fresh buses, and returns a pipeline
// ready to run. Build failures return immediately with the first
// unresolved template name or configuration error.
func BuildPipeline(pool *Pool, cfg *PipelineConfig) (*Pipeline, error) {
	if cfg.Task == nil {
		return nil, errors.Newf("pipeline %s has no task", cfg.Name).
			Component(ComponentMediaCore).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Bus.Strategy == "" {
		cfg.Bus.Strategy = databus.StrategyRing
	}
	if cfg.Bus.Capacity <= 0 {
		cfg.Bus.Capacity = 64 * 1024
	}

	logger := logging.ForService("mediacore")
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		name:    cfg.Name,
		busCfg:  cfg.Bus,
		task:    cfg.Task,
		events:  cfg.Events,
		metrics: cfg.Metrics,
		doneCh:  make(chan struct{}),
		logger:  logger.With("component", "pipeline", "pipeline", cfg.Name),
	}
	p.busCfg.Metrics = p.metrics.Engine()
	p.state.Store(int32(PipelineIdle))

	for _, name := range cfg.Elements {
		el, err := pool.Instantiate(name, cfg.Configs[name])
		if err != nil {
			return nil, err
		}
		p.elements = append(p.elements, el)
	}

	// Ports may only disconnect mid-transfer during teardown.
	teardown := func() bool {
		s := p.State()
		return s == PipelineStopping || s == PipelineCleanup
	}
	for _, el := range p.elements {
		for _, port := range el.InPorts() {
			port.teardownActive = teardown
		}
		for _, port := range el.OutPorts() {
			port.teardownActive = teardown
		}
	}

	if err := p.wire(); err != nil {
		return nil, err
	}

	p.logger.Info("pipeline built",
		"elements", len(p.elements),
		"bus_strategy", string(p.busCfg.Strategy))
	return p, nil
}

// wire links each element's first unconnected output port to the next
// element's first unconnected input port through a fresh bus.
func (p *Pipeline) wire() error {
	for i := 0; i+1 < len(p.elements); i++ {
		out := firstUnconnected(p.elements[i].OutPorts())
		in := firstUnconnected(p.elements[i+1].InPorts())
		if out == nil || in == nil {
			// Source/sink boundaries without ports are legal; anything
			// else is a wiring hole.
			if out == nil && len(p.elements[i].OutPorts()) == 0 {
				continue
			}
			if in == nil && len(p.elements[i+1].InPorts()) == 0 {
				continue
			}
			return errors.Newf("no free ports to link %s to %s",
				p.elements[i].Name(), p.elements[i+1].Name()).
				Component(ComponentMediaCore).
				Category(errors.CategoryConfiguration).
				Build()
		}
		bus, err := LinkPorts(out, in, p.busCfg)
		if err != nil {
			return err
		}
		p.links = append(p.links, link{out: out, in: in, bus: bus})
	}
	return nil
}

func firstUnconnected(ports []*Port) *Port {
	for _, port := range ports {
		if !port.Connected() {
			return port
		}
	}
	return nil
}

// LinkPorts connects an output port to an input port through a new bus of
// the given configuration. Used internally for consecutive elements and by
// applications to bridge pipelines (fan-out, fan-in, task decoupling).
func LinkPorts(out, in *Port, cfg databus.Config) (databus.Bus, error) {
	if out.Direction() != DirOut || in.Direction() != DirIn {
		return nil, errors.Newf("link needs an out port and an in port, got %s and %s",
			out.Direction(), in.Direction()).
			Component(ComponentMediaCore).
			Category(errors.CategoryValidation).
			Build()
	}
	bus, err := databus.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := out.Connect(bus); err != nil {
		_ = bus.Close()
		return nil, err
	}
	if err := in.Connect(bus); err != nil {
		_ = out.Disconnect()
		_ = bus.Close()
		return nil, err
	}
	return bus, nil
}

// Name returns the pipeline name.
func (p *Pipeline) Name() string { return p.name }

// State returns the current lifecycle state.
func (p *Pipeline) State() PipelineState {
	return PipelineState(p.state.Load())
}

// Elements returns the elements in pipeline order.
func (p *Pipeline) Elements() []Element { return p.elements }

// GetElementByName returns the first element created from the named
// template.
func (p *Pipeline) GetElementByName(name string) (Element, error) {
	for _, el := range p.elements {
		if el.Name() == name {
			return el, nil
		}
	}
	return nil, errors.New(ErrElementNotFound).
		Component(ComponentMediaCore).
		Context("pipeline", p.name).
		Context("element", name).
		Build()
}

// InputPort returns the first unconnected input port of the first element,
// nil when the pipeline is fully wired at its head.
func (p *Pipeline) InputPort() *Port {
	if len(p.elements) == 0 {
		return nil
	}
	return firstUnconnected(p.elements[0].InPorts())
}

// OutputPort returns the first unconnected output port of the last
// element, nil when the pipeline is fully wired at its tail.
func (p *Pipeline) OutputPort() *Port {
	if len(p.elements) == 0 {
		return nil
	}
	return firstUnconnected(p.elements[len(p.elements)-1].OutPorts())
}

// OwnBus transfers ownership of an externally created bus (for example a
// cross-pipeline bridge) so it is closed during this pipeline's cleanup.
func (p *Pipeline) OwnBus(bus databus.Bus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.links = append(p.links, link{bus: bus})
}

// Run starts the pipeline: it registers with the task and returns
// immediately; progress is reported through events. ctx bounds the whole
// run, canceling it behaves like Stop.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(PipelineIdle), int32(PipelineOpening)) {
		return errors.New(ErrPipelineState).
			Component(ComponentMediaCore).
			Context("pipeline", p.name).
			Context("state", p.State().String()).
			Build()
	}

	p.mu.Lock()
	p.runCtx, p.cancel = context.WithCancel(ctx)
	p.doneCh = make(chan struct{})
	p.started = true
	runCtx := p.runCtx
	p.mu.Unlock()

	p.metrics.UpdatePipelineState(p.name, PipelineOpening)
	p.logger.Info("pipeline starting")

	p.task.register(p, runCtx)
	return nil
}

// Stop transitions the pipeline to Stopping: the task abandons further
// running passes, blocked bus acquires unblock, and cleanup closes every
// opened element. Use Wait to observe completion.
func (p *Pipeline) Stop() error {
	for {
		cur := PipelineState(p.state.Load())
		switch cur {
		case PipelineOpening, PipelineRunning, PipelinePaused:
		case PipelineStopping, PipelineCleanup:
			return nil
		default:
			return errors.New(ErrPipelineState).
				Component(ComponentMediaCore).
				Context("pipeline", p.name).
				Context("state", cur.String()).
				Build()
		}
		if p.state.CompareAndSwap(int32(cur), int32(PipelineStopping)) {
			break
		}
	}

	p.metrics.UpdatePipelineState(p.name, PipelineStopping)
	p.logger.Info("pipeline stopping")

	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.task.kick()
	return nil
}

// Pause suspends job scheduling without tearing down element state.
func (p *Pipeline) Pause() error {
	if !p.state.CompareAndSwap(int32(PipelineRunning), int32(PipelinePaused)) {
		return errors.New(ErrPipelineState).
			Component(ComponentMediaCore).
			Context("pipeline", p.name).
			Context("state", p.State().String()).
			Build()
	}
	p.metrics.UpdatePipelineState(p.name, PipelinePaused)
	p.emit(events.PipelinePaused, "", nil)
	return nil
}

// Resume continues a paused pipeline.
func (p *Pipeline) Resume() error {
	if !p.state.CompareAndSwap(int32(PipelinePaused), int32(PipelineRunning)) {
		return errors.New(ErrPipelineState).
			Component(ComponentMediaCore).
			Context("pipeline", p.name).
			Context("state", p.State().String()).
			Build()
	}
	p.metrics.UpdatePipelineState(p.name, PipelineRunning)
	p.emit(events.PipelineResumed, "", nil)
	p.task.kick()
	return nil
}

// Wait blocks until the pipeline finished its cleanup or ctx expires.
func (p *Pipeline) Wait(ctx context.Context) error {
	p.mu.Lock()
	done := p.doneCh
	started := p.started
	p.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset returns a finished pipeline to its built state: all elements back
// to Created and fresh buses on every internal link. A live pipeline is
// stopped and awaited first.
func (p *Pipeline) Reset(ctx context.Context) error {
	if s := p.State(); s != PipelineIdle {
		if err := p.Stop(); err != nil {
			return err
		}
		if err := p.Wait(ctx); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, el := range p.elements {
		if el.State() == StateClosed {
			if err := el.Transition(StateCreated); err != nil {
				return err
			}
		}
	}

	// Rebuild internal links; buses were closed during cleanup.
	for i := range p.links {
		l := &p.links[i]
		if l.out == nil || l.in == nil {
			continue // adopted external bus, owner rebuilds it
		}
		if l.out.Connected() {
			_ = l.out.Disconnect()
		}
		if l.in.Connected() {
			_ = l.in.Disconnect()
		}
		bus, err := databus.New(p.busCfg)
		if err != nil {
			return err
		}
		if err := l.out.Connect(bus); err != nil {
			return err
		}
		if err := l.in.Connect(bus); err != nil {
			return err
		}
		l.bus = bus
	}

	p.processed.Store(0)
	p.truncated.Store(0)
	p.failed.Store(0)
	p.passes.Store(0)
	p.started = false

	p.logger.Info("pipeline reset")
	return nil
}

// CascadeFrom subscribes this pipeline to an upstream pipeline's lifecycle
// events and starts it (once) when the trigger event fires. This enables
// ordered multi-pipeline startup, e.g. a downstream pipeline starting only
// after its feeder is running.
func (p *Pipeline) CascadeFrom(ctx context.Context, upstream *Pipeline, trigger events.EventType) error {
	if upstream.events == nil {
		return errors.Newf("upstream pipeline %s has no event bus", upstream.name).
			Component(ComponentMediaCore).
			Category(errors.CategoryConfiguration).
			Build()
	}
	consumer := &events.ConsumerFunc{
		ID: "cascade-" + p.name,
		Fn: func(ev events.Event) error {
			if ev.Pipeline != upstream.name || ev.Type != trigger {
				return nil
			}
			var err error
			p.cascadeOnce.Do(func() {
				err = p.Run(ctx)
			})
			return err
		},
	}
	return upstream.events.RegisterConsumer(consumer)
}

// GetReport returns a snapshot of pipeline counters.
func (p *Pipeline) GetReport() Report {
	return Report{
		State:     p.State(),
		Processed: p.processed.Load(),
		Truncated: p.truncated.Load(),
		Failed:    p.failed.Load(),
		Passes:    p.passes.Load(),
	}
}

// emit publishes a lifecycle event without blocking the scheduling path.
func (p *Pipeline) emit(t events.EventType, element string, err error) {
	if p.events == nil {
		return
	}
	p.events.TryPublish(events.Event{
		Type:      t,
		Pipeline:  p.name,
		Element:   element,
		Err:       err,
		Timestamp: time.Now(),
	})
}

// closeBuses closes every owned bus, unblocking any peer blocked in an
// acquire.
func (p *Pipeline) closeBuses() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range p.links {
		if l.bus != nil {
			_ = l.bus.Close()
		}
	}
}

// setState updates the lifecycle state and the state metric.
func (p *Pipeline) setState(s PipelineState) {
	p.state.Store(int32(s))
	p.metrics.UpdatePipelineState(p.name, s)
}

// finish is called by the task after cleanup completed.
func (p *Pipeline) finish(failed, graceful bool) {
	p.setState(PipelineIdle)
	switch {
	case failed:
		// PipelineError was emitted when the failure happened.
	case graceful:
		p.emit(events.PipelineDone, "", nil)
	}
	p.logger.Info("pipeline finished",
		"failed", failed,
		"graceful", graceful,
		"processed", p.processed.Load(),
		"passes", p.passes.Load())

	p.mu.Lock()
	done := p.doneCh
	p.mu.Unlock()
	close(done)
}
