package mediacore

import (
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tphakala/mediaflow/internal/errors"
	"github.com/tphakala/mediaflow/internal/logging"
)

// legal lifecycle transitions; Closed -> Created covers pipeline reset
var elementTransitions = map[ElementState][]ElementState{
	StateCreated:    {StateOpened, StateError, StateDestroyed},
	StateOpened:     {StateProcessing, StateClosed, StateError},
	StateProcessing: {StateProcessing, StateClosed, StateError},
	StateError:      {StateClosed},
	StateClosed:     {StateCreated, StateDestroyed},
}

// BaseElement carries the identity, lifecycle state, ports and
// configuration shared by every element implementation. Concrete elements
// embed it by pointer and implement Open/Process/Close.
type BaseElement struct {
	id   string
	name string

	state atomic.Int32

	ins  []*Port
	outs []*Port

	configMu sync.RWMutex
	config   map[string]any

	logger *slog.Logger
}

// NewBaseElement creates the embedded base for a concrete element. The
// instance ID is minted fresh so duplicated templates never alias.
func NewBaseElement(name string, config map[string]any) *BaseElement {
	logger := logging.ForService("mediacore")
	if logger == nil {
		logger = slog.Default()
	}

	cfg := make(map[string]any, len(config))
	maps.Copy(cfg, config)

	b := &BaseElement{
		id:     name + "-" + uuid.NewString()[:8],
		name:   name,
		config: cfg,
	}
	b.logger = logger.With("component", "element", "element", b.id)
	b.state.Store(int32(StateCreated))
	return b
}

// ID returns the unique instance identifier.
func (b *BaseElement) ID() string { return b.id }

// Name returns the template name the instance was created from.
func (b *BaseElement) Name() string { return b.name }

// State returns the current lifecycle state.
func (b *BaseElement) State() ElementState {
	return ElementState(b.state.Load())
}

// Transition moves the element to a new lifecycle state.
func (b *BaseElement) Transition(to ElementState) error {
	for {
		cur := b.state.Load()
		from := ElementState(cur)
		legal := false
		for _, allowed := range elementTransitions[from] {
			if allowed == to {
				legal = true
				break
			}
		}
		if !legal {
			return errors.New(ErrInvalidTransition).
				Component(ComponentMediaCore).
				Category(errors.CategoryState).
				Context("element", b.id).
				Context("from", from.String()).
				Context("to", to.String()).
				Build()
		}
		if b.state.CompareAndSwap(cur, int32(to)) {
			b.logger.Debug("element state changed",
				"from", from.String(),
				"to", to.String())
			return nil
		}
	}
}

// AddInPort appends an input port owned by this element.
func (b *BaseElement) AddInPort(name string, transferSize int) *Port {
	p := newPort(name, DirIn, b.id, transferSize)
	b.ins = append(b.ins, p)
	return p
}

// AddOutPort appends an output port owned by this element.
func (b *BaseElement) AddOutPort(name string, transferSize int) *Port {
	p := newPort(name, DirOut, b.id, transferSize)
	b.outs = append(b.outs, p)
	return p
}

// InPorts returns the input ports in declaration order.
func (b *BaseElement) InPorts() []*Port { return b.ins }

// OutPorts returns the output ports in declaration order.
func (b *BaseElement) OutPorts() []*Port { return b.outs }

// GetConfig returns a copy of the element configuration.
func (b *BaseElement) GetConfig() map[string]any {
	b.configMu.RLock()
	defer b.configMu.RUnlock()

	cfg := make(map[string]any, len(b.config))
	maps.Copy(cfg, b.config)
	return cfg
}

// SetConfig updates a configuration key.
func (b *BaseElement) SetConfig(key string, value any) error {
	b.configMu.Lock()
	defer b.configMu.Unlock()
	b.config[key] = value
	return nil
}

// ConfigValue reads a single configuration key.
func (b *BaseElement) ConfigValue(key string) (any, bool) {
	b.configMu.RLock()
	defer b.configMu.RUnlock()
	v, ok := b.config[key]
	return v, ok
}

// Logger returns the element-scoped logger.
func (b *BaseElement) Logger() *slog.Logger { return b.logger }
