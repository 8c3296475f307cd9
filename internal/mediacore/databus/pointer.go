package databus

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tphakala/mediaflow/internal/logging"
)

// pointerBus is the zero-copy, non-blocking strategy. It transports
// caller-owned slices by reference: AcquireWrite hands out an empty payload,
// the producer points Data at its own buffer and commits, and the consumer
// sees that exact slice. The producer must not touch the slice again until
// the consumer releases it (OnRelease signals that moment).
type pointerBus struct {
	leak leakAccounting

	slots  chan *Payload // free payload shells
	queue  chan *Payload // committed payloads in order
	done   chan struct{}
	closed atomic.Bool

	logger *slog.Logger
}

func newPointerBus(cfg Config) (*pointerBus, error) {
	logger := logging.ForService("mediacore")
	if logger == nil {
		logger = slog.Default()
	}

	b := &pointerBus{
		leak:   leakAccounting{metrics: cfg.Metrics, strategy: StrategyPointer},
		slots:  make(chan *Payload, cfg.Capacity),
		queue:  make(chan *Payload, cfg.Capacity),
		done:   make(chan struct{}),
		logger: logger.With("component", "databus", "strategy", "pointer"),
	}
	for i := 0; i < cfg.Capacity; i++ {
		b.slots <- &Payload{owner: b}
	}
	return b, nil
}

func (b *pointerBus) Strategy() Strategy { return StrategyPointer }

// AcquireWrite never blocks: with all slots in flight it fails with
// ErrWouldBlock. minSize is ignored since the producer supplies the buffer.
func (b *pointerBus) AcquireWrite(_ context.Context, _ int) (*Payload, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	select {
	case p := <-b.slots:
		p.state.Store(payloadWriting)
		b.leak.acquired("write")
		return p, nil
	default:
		return nil, ErrWouldBlock
	}
}

func (b *pointerBus) CommitWrite(p *Payload, n int) error {
	if p == nil || p.owner != b {
		return ErrForeignPayload
	}
	if p.Data == nil {
		p.state.Store(payloadIdle)
		return fmt.Errorf("pointer bus: commit without payload data")
	}
	if n < 0 || n > len(p.Data) {
		return fmt.Errorf("pointer bus: commit size %d out of range [0,%d]", n, len(p.Data))
	}
	if !p.state.CompareAndSwap(payloadWriting, payloadQueued) {
		return ErrForeignPayload
	}
	p.Data = p.Data[:n]

	// Queue capacity equals slot count, so this send cannot block.
	b.queue <- p
	b.leak.settled(n)
	return nil
}

func (b *pointerBus) AcquireRead(_ context.Context) (*Payload, error) {
	select {
	case p := <-b.queue:
		p.state.Store(payloadReading)
		b.leak.acquired("read")
		return p, nil
	default:
		if b.closed.Load() {
			return nil, ErrClosed
		}
		return nil, ErrWouldBlock
	}
}

func (b *pointerBus) Release(p *Payload) error {
	if p == nil || p.owner != b {
		return ErrForeignPayload
	}
	if !p.state.CompareAndSwap(payloadReading, payloadIdle) {
		return ErrForeignPayload
	}

	onRelease := p.OnRelease
	p.Data = nil
	p.OnRelease = nil

	b.leak.settled(0)

	select {
	case b.slots <- p:
	case <-b.done:
	}

	if onRelease != nil {
		onRelease()
	}
	return nil
}

func (b *pointerBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	close(b.done)
	if leaks := b.leak.leaksAtClose(); leaks > 0 {
		b.logger.Error("payloads leaked at bus close, backing slots are lost",
			"outstanding", leaks)
	}
	return nil
}

func (b *pointerBus) Outstanding() int {
	return int(b.leak.outstanding.Load())
}
