package mediacore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/mediaflow/internal/errors"
	"github.com/tphakala/mediaflow/internal/mediacore/databus"
)

// DefaultAcquireTimeout bounds how long a port waits inside a blocking
// bus acquire. Elements sharing a scheduler worker must not block it
// indefinitely: a timed-out acquire surfaces as a retryable condition and
// the worker moves on. Zero disables the bound.
const DefaultAcquireTimeout = 10 * time.Millisecond

// PortDirection distinguishes input from output endpoints.
type PortDirection int

const (
	DirIn PortDirection = iota
	DirOut
)

func (d PortDirection) String() string {
	if d == DirIn {
		return "in"
	}
	return "out"
}

// Port binds an element's input or output to a data bus and exposes a
// size-aware acquire/release protocol tailored to the element's transfer
// granularity. A port connects to at most one bus at a time.
type Port struct {
	name         string
	direction    PortDirection
	owner        string // element instance ID, for diagnostics
	transferSize int

	acquireTimeout time.Duration

	// accepts restricts the bus strategies this port can bind to;
	// empty means any.
	accepts []databus.Strategy

	mu        sync.Mutex
	bus       databus.Bus
	connected bool

	inTransfer atomic.Int32 // payloads currently held by the element

	// teardownActive reports whether the owning pipeline is in
	// Stopping/Cleanup, the only phases where disconnecting a port with
	// an active transfer is defined. Set when the pipeline wires the
	// element.
	teardownActive func() bool
}

func newPort(name string, direction PortDirection, owner string, transferSize int) *Port {
	return &Port{
		name:           name,
		direction:      direction,
		owner:          owner,
		transferSize:   transferSize,
		acquireTimeout: DefaultAcquireTimeout,
	}
}

// Name returns the port name.
func (p *Port) Name() string { return p.name }

// Direction returns the port direction.
func (p *Port) Direction() PortDirection { return p.direction }

// TransferSize returns the requested per-transfer granularity in bytes.
func (p *Port) TransferSize() int { return p.transferSize }

// SetAcquireTimeout overrides the bounded wait applied to blocking
// acquires. Zero waits indefinitely; safe only when the peer element runs
// on a different task.
func (p *Port) SetAcquireTimeout(d time.Duration) {
	p.acquireTimeout = d
}

// acquireCtx bounds ctx by the port's acquire timeout.
func (p *Port) acquireCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.acquireTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.acquireTimeout)
}

// RestrictStrategies limits which bus strategies the port accepts.
func (p *Port) RestrictStrategies(strategies ...databus.Strategy) {
	p.accepts = strategies
}

// Connected reports whether the port is bound to a bus.
func (p *Port) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Bus returns the connected bus, nil when unconnected.
func (p *Port) Bus() databus.Bus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bus
}

// Connect binds the port to a bus. It validates that the port is not
// already connected and that the bus strategy is acceptable.
func (p *Port) Connect(bus databus.Bus) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.connected {
		return errors.New(ErrPortConnected).
			Component(ComponentMediaCore).
			Context("port", p.name).
			Context("owner", p.owner).
			Build()
	}

	if len(p.accepts) > 0 {
		ok := false
		for _, s := range p.accepts {
			if s == bus.Strategy() {
				ok = true
				break
			}
		}
		if !ok {
			return errors.Newf("port %s does not accept bus strategy %s", p.name, bus.Strategy()).
				Component(ComponentMediaCore).
				Category(errors.CategoryValidation).
				Context("port", p.name).
				Context("strategy", string(bus.Strategy())).
				Build()
		}
	}

	p.bus = bus
	p.connected = true
	return nil
}

// Disconnect unbinds the port. Disconnecting while a transfer is active is
// only defined when the owning pipeline is Stopping or in Cleanup.
func (p *Port) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.connected {
		return errors.New(ErrPortNotConnected).
			Component(ComponentMediaCore).
			Context("port", p.name).
			Context("owner", p.owner).
			Build()
	}

	if p.inTransfer.Load() > 0 && (p.teardownActive == nil || !p.teardownActive()) {
		return errors.Newf("port %s disconnected during active transfer", p.name).
			Component(ComponentMediaCore).
			Category(errors.CategoryState).
			Context("port", p.name).
			Context("owner", p.owner).
			Context("in_transfer", p.inTransfer.Load()).
			Build()
	}

	p.bus = nil
	p.connected = false
	return nil
}

// AcquireWrite acquires a writable payload of the port's transfer size.
// Valid on output ports only.
func (p *Port) AcquireWrite(ctx context.Context) (*databus.Payload, error) {
	bus, err := p.transferBus(DirOut)
	if err != nil {
		return nil, err
	}
	actx, cancel := p.acquireCtx(ctx)
	defer cancel()
	payload, err := bus.AcquireWrite(actx, p.transferSize)
	if err != nil {
		return nil, err
	}
	p.inTransfer.Add(1)
	return payload, nil
}

// Commit finalizes a produced payload with n valid bytes.
func (p *Port) Commit(payload *databus.Payload, n int) error {
	bus, err := p.transferBus(DirOut)
	if err != nil {
		return err
	}
	p.inTransfer.Add(-1)
	return bus.CommitWrite(payload, n)
}

// AcquireRead acquires the next readable payload. Valid on input ports.
func (p *Port) AcquireRead(ctx context.Context) (*databus.Payload, error) {
	bus, err := p.transferBus(DirIn)
	if err != nil {
		return nil, err
	}
	actx, cancel := p.acquireCtx(ctx)
	defer cancel()
	payload, err := bus.AcquireRead(actx)
	if err != nil {
		return nil, err
	}
	p.inTransfer.Add(1)
	return payload, nil
}

// Release returns a consumed payload to the bus.
func (p *Port) Release(payload *databus.Payload) error {
	bus, err := p.transferBus(DirIn)
	if err != nil {
		return err
	}
	p.inTransfer.Add(-1)
	return bus.Release(payload)
}

func (p *Port) transferBus(want PortDirection) (databus.Bus, error) {
	p.mu.Lock()
	bus, connected := p.bus, p.connected
	p.mu.Unlock()

	if !connected {
		return nil, errors.New(ErrPortNotConnected).
			Component(ComponentMediaCore).
			Context("port", p.name).
			Context("owner", p.owner).
			Build()
	}
	if p.direction != want {
		return nil, errors.Newf("port %s is %s, operation needs %s", p.name, p.direction, want).
			Component(ComponentMediaCore).
			Category(errors.CategoryValidation).
			Context("port", p.name).
			Context("owner", p.owner).
			Build()
	}
	return bus, nil
}
