package databus

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tphakala/mediaflow/internal/logging"
)

// fifoBus is the zero-copy, blocking strategy. Payload slabs are owned by
// the bus and grow on demand; the slice a producer fills is the exact slice
// the consumer reads, with queueing order preserved.
type fifoBus struct {
	leak leakAccounting

	slots  chan *Payload // free payload shells with reusable slabs
	queue  chan *Payload // committed payloads in order
	done   chan struct{}
	closed atomic.Bool

	logger *slog.Logger
}

func newFIFOBus(cfg Config) (*fifoBus, error) {
	logger := logging.ForService("mediacore")
	if logger == nil {
		logger = slog.Default()
	}

	b := &fifoBus{
		leak:   leakAccounting{metrics: cfg.Metrics, strategy: StrategyFIFO},
		slots:  make(chan *Payload, cfg.Capacity),
		queue:  make(chan *Payload, cfg.Capacity),
		done:   make(chan struct{}),
		logger: logger.With("component", "databus", "strategy", "fifo"),
	}
	for i := 0; i < cfg.Capacity; i++ {
		b.slots <- &Payload{owner: b}
	}
	return b, nil
}

func (b *fifoBus) Strategy() Strategy { return StrategyFIFO }

func (b *fifoBus) AcquireWrite(ctx context.Context, minSize int) (*Payload, error) {
	if minSize <= 0 {
		return nil, fmt.Errorf("fifo bus: invalid acquire size %d", minSize)
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	select {
	case p := <-b.slots:
		if cap(p.buf) < minSize {
			p.buf = make([]byte, minSize)
		}
		p.Data = p.buf[:minSize]
		p.state.Store(payloadWriting)
		b.leak.acquired("write")
		return p, nil
	case <-ctx.Done():
		return nil, acquireErr(ctx)
	case <-b.done:
		return nil, ErrClosed
	}
}

func (b *fifoBus) CommitWrite(p *Payload, n int) error {
	if p == nil || p.owner != b {
		return ErrForeignPayload
	}
	if n < 0 || n > len(p.Data) {
		return fmt.Errorf("fifo bus: commit size %d out of range [0,%d]", n, len(p.Data))
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

func (b *fifoBus) AcquireRead(ctx context.Context) (*Payload, error) {
	// Committed payloads drain before closure is reported.
	select {
	case p := <-b.queue:
		p.state.Store(payloadReading)
		b.leak.acquired("read")
		return p, nil
	default:
	}

	select {
	case p := <-b.queue:
		p.state.Store(payloadReading)
		b.leak.acquired("read")
		return p, nil
	case <-ctx.Done():
		return nil, acquireErr(ctx)
	case <-b.done:
		// A commit racing the close may already sit in the queue.
		select {
		case p := <-b.queue:
			p.state.Store(payloadReading)
			b.leak.acquired("read")
			return p, nil
		default:
		}
		return nil, ErrClosed
	}
}

func (b *fifoBus) Release(p *Payload) error {
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

func (b *fifoBus) Close() error {
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

func (b *fifoBus) Outstanding() int {
	return int(b.leak.outstanding.Load())
}
