package mediacore

import (
	"log/slog"
	"sync"

	"github.com/tphakala/mediaflow/internal/errors"
	"github.com/tphakala/mediaflow/internal/logging"
)

// Factory constructs a fresh element instance from a template name and an
// in-memory configuration.
type Factory func(name string, config map[string]any) (Element, error)

// Pool is a registry of named element and I/O adapter templates. It
// instantiates independent copies on demand so pipelines can be built
// declaratively from a list of names. The pool is safe for shared
// read-mostly use; instantiation is serialized.
type Pool struct {
	mu        sync.RWMutex
	factories map[string]Factory
	logger    *slog.Logger
}

// NewPool creates an empty template registry.
func NewPool() *Pool {
	logger := logging.ForService("mediacore")
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		factories: make(map[string]Factory),
		logger:    logger.With("component", "pool"),
	}
}

// Register adds a named template. Duplicate names are rejected.
func (p *Pool) Register(name string, factory Factory) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.factories[name]; exists {
		return errors.New(ErrTemplateExists).
			Component(ComponentMediaCore).
			Context("template", name).
			Build()
	}
	p.factories[name] = factory
	p.logger.Debug("template registered", "template", name)
	return nil
}

// Instantiate creates a fresh, independently owned instance of the named
// template. Requesting the same name twice yields two instances, never
// aliases.
func (p *Pool) Instantiate(name string, config map[string]any) (Element, error) {
	p.mu.RLock()
	factory, exists := p.factories[name]
	p.mu.RUnlock()

	if !exists {
		return nil, errors.New(ErrTemplateNotFound).
			Component(ComponentMediaCore).
			Context("template", name).
			Build()
	}

	el, err := factory(name, config)
	if err != nil {
		return nil, errors.New(err).
			Component(ComponentMediaCore).
			Category(errors.CategoryConfiguration).
			Context("template", name).
			Build()
	}
	return el, nil
}

// Names returns the registered template names.
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.factories))
	for name := range p.factories {
		names = append(names, name)
	}
	return names
}
