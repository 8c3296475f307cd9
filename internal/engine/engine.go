// Package engine assembles a running mediaflow instance from settings:
// the element pool, event bus, metrics, scheduler tasks and the declared
// pipelines.
package engine

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/mediaflow/internal/conf"
	"github.com/tphakala/mediaflow/internal/errors"
	"github.com/tphakala/mediaflow/internal/events"
	"github.com/tphakala/mediaflow/internal/logging"
	"github.com/tphakala/mediaflow/internal/mediacore"
	"github.com/tphakala/mediaflow/internal/mediacore/adapters"
	"github.com/tphakala/mediaflow/internal/mediacore/databus"
	"github.com/tphakala/mediaflow/internal/mediacore/elements"
	"github.com/tphakala/mediaflow/internal/observability"
)

// ComponentEngine identifies this package in error reports.
const ComponentEngine = "engine"

// Engine owns everything a mediaflow process needs to run its declared
// pipelines.
type Engine struct {
	settings *conf.Settings

	pool     *mediacore.Pool
	events   *events.Bus
	metrics  *mediacore.MetricsCollector
	registry *prometheus.Registry

	tasks     map[string]*mediacore.Task
	pipelines []*mediacore.Pipeline

	logger *slog.Logger
}

// New builds an engine from settings: registers the built-in element and
// adapter templates, starts the event bus and wires metrics when enabled.
// Pipelines declared in the settings are built but not started.
func New(settings *conf.Settings) (*Engine, error) {
	logger := logging.ForService("engine")
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		settings: settings,
		pool:     mediacore.NewPool(),
		tasks:    make(map[string]*mediacore.Task),
		logger:   logger,
	}

	if err := elements.RegisterAll(e.pool); err != nil {
		return nil, err
	}
	if err := adapters.RegisterAll(e.pool); err != nil {
		return nil, err
	}

	e.events = events.NewBus(&events.Config{
		BufferSize: settings.Engine.EventBufferSize,
		Workers:    settings.Engine.EventWorkers,
	})

	if settings.Engine.Metrics {
		e.registry = prometheus.NewRegistry()
		m, err := observability.NewEngineMetrics(e.registry)
		if err != nil {
			return nil, err
		}
		e.metrics = mediacore.NewMetricsCollector(m)
	}

	for i := range settings.Pipelines {
		if err := e.buildPipeline(&settings.Pipelines[i]); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) buildPipeline(ps *conf.PipelineSettings) error {
	taskName := ps.Task
	if taskName == "" {
		taskName = "task-" + ps.Name
	}
	task, ok := e.tasks[taskName]
	if !ok {
		task = mediacore.NewTask(mediacore.TaskConfig{
			Name:               taskName,
			MaxContinueRetries: e.settings.Engine.MaxContinueRetries,
			Metrics:            e.metrics,
		})
		e.tasks[taskName] = task
	}

	busCfg, err := e.busConfig(ps.Bus)
	if err != nil {
		return err
	}

	p, err := mediacore.BuildPipeline(e.pool, &mediacore.PipelineConfig{
		Name:     ps.Name,
		Elements: ps.Elements,
		Configs:  ps.Configs,
		Bus:      busCfg,
		Task:     task,
		Events:   e.events,
		Metrics:  e.metrics,
	})
	if err != nil {
		return err
	}
	e.pipelines = append(e.pipelines, p)
	return nil
}

// busConfig translates a settings strategy name into a bus configuration
// with engine-wide defaults. The ring strategy sizes its capacity in
// bytes; the slot strategies derive their slot count from the same byte
// budget.
func (e *Engine) busConfig(strategy string) (databus.Config, error) {
	cfg := databus.Config{
		Capacity:  e.settings.Engine.DefaultBusCapacity,
		BlockSize: e.settings.Engine.DefaultBlockSize,
	}
	switch strategy {
	case "", "ring":
		cfg.Strategy = databus.StrategyRing
	case "pointer":
		cfg.Strategy = databus.StrategyPointer
	case "fifo":
		cfg.Strategy = databus.StrategyFIFO
	case "block":
		cfg.Strategy = databus.StrategyBlock
	default:
		return cfg, errors.Newf("unknown bus strategy %q", strategy).
			Component(ComponentEngine).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.Strategy != databus.StrategyRing {
		slots := cfg.Capacity / cfg.BlockSize
		if slots < 2 {
			slots = 2
		}
		cfg.Capacity = slots
	}
	return cfg, nil
}

// Pool returns the template registry so applications can add their own
// elements before starting.
func (e *Engine) Pool() *mediacore.Pool { return e.pool }

// Events returns the engine event bus.
func (e *Engine) Events() *events.Bus { return e.events }

// Registry returns the prometheus registry, nil when metrics are off.
func (e *Engine) Registry() *prometheus.Registry { return e.registry }

// Pipelines returns the built pipelines in declaration order.
func (e *Engine) Pipelines() []*mediacore.Pipeline { return e.pipelines }

// Pipeline returns a built pipeline by name.
func (e *Engine) Pipeline(name string) (*mediacore.Pipeline, error) {
	for _, p := range e.pipelines {
		if p.Name() == name {
			return p, nil
		}
	}
	return nil, errors.Newf("pipeline %s not found", name).
		Component(ComponentEngine).
		Category(errors.CategoryNotFound).
		Build()
}

// Run starts every pipeline. Already running pipelines are left alone.
func (e *Engine) Run(ctx context.Context) error {
	for _, p := range e.pipelines {
		if p.State() != mediacore.PipelineIdle {
			continue
		}
		if err := p.Run(ctx); err != nil {
			return err
		}
	}
	e.logger.Info("engine running", "pipelines", len(e.pipelines))
	return nil
}

// Stop stops every live pipeline and waits for their cleanup.
func (e *Engine) Stop(ctx context.Context) error {
	for _, p := range e.pipelines {
		if p.State() == mediacore.PipelineIdle {
			continue
		}
		if err := p.Stop(); err != nil {
			return err
		}
	}
	for _, p := range e.pipelines {
		if err := p.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Wait blocks until every pipeline finished on its own or ctx expires.
func (e *Engine) Wait(ctx context.Context) error {
	for _, p := range e.pipelines {
		if err := p.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops pipelines, the scheduler tasks and the event bus.
func (e *Engine) Shutdown(ctx context.Context) error {
	err := e.Stop(ctx)
	for _, task := range e.tasks {
		task.Shutdown()
	}
	e.events.Shutdown()
	e.logger.Info("engine shut down")
	return err
}
