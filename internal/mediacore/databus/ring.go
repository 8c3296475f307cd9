package databus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"

	"github.com/tphakala/mediaflow/internal/logging"
)

const defaultRingReadSize = 4 * 1024

// ringBus is the copying, blocking strategy. Produced bytes are copied into
// a ring buffer on commit and copied back out on read acquire, so payloads
// on both sides are private scratch buffers and neither party can observe
// the other's writes.
type ringBus struct {
	leak leakAccounting

	mu sync.Mutex
	rb *ringbuffer.RingBuffer

	readSize int

	payloadPool sync.Pool

	dataSig  chan struct{}
	spaceSig chan struct{}
	done     chan struct{}
	closed   atomic.Bool

	logger *slog.Logger
}

func newRingBus(cfg Config) (*ringBus, error) {
	readSize := cfg.BlockSize
	if readSize <= 0 {
		readSize = defaultRingReadSize
	}
	if readSize > cfg.Capacity {
		readSize = cfg.Capacity
	}

	logger := logging.ForService("mediacore")
	if logger == nil {
		logger = slog.Default()
	}

	b := &ringBus{
		leak:     leakAccounting{metrics: cfg.Metrics, strategy: StrategyRing},
		rb:       ringbuffer.New(cfg.Capacity),
		readSize: readSize,
		dataSig:  make(chan struct{}, 1),
		spaceSig: make(chan struct{}, 1),
		done:     make(chan struct{}),
		logger:   logger.With("component", "databus", "strategy", "ring"),
	}
	b.payloadPool.New = func() any { return &Payload{} }
	return b, nil
}

func (b *ringBus) Strategy() Strategy { return StrategyRing }

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (b *ringBus) AcquireWrite(ctx context.Context, minSize int) (*Payload, error) {
	if minSize <= 0 || minSize > b.rb.Capacity() {
		return nil, fmt.Errorf("ring bus: invalid acquire size %d (capacity %d)", minSize, b.rb.Capacity())
	}

	for {
		if b.closed.Load() {
			return nil, ErrClosed
		}

		b.mu.Lock()
		free := b.rb.Free()
		b.mu.Unlock()

		if free >= minSize {
			p := b.takePayload(minSize)
			p.state.Store(payloadWriting)
			b.leak.acquired("write")
			return p, nil
		}

		select {
		case <-ctx.Done():
			return nil, acquireErr(ctx)
		case <-b.done:
			return nil, ErrClosed
		case <-b.spaceSig:
		}
	}
}

func (b *ringBus) CommitWrite(p *Payload, n int) error {
	if p == nil || p.owner != b {
		return ErrForeignPayload
	}
	if !p.state.CompareAndSwap(payloadWriting, payloadIdle) {
		return ErrForeignPayload
	}
	if n < 0 || n > len(p.Data) {
		return fmt.Errorf("ring bus: commit size %d out of range [0,%d]", n, len(p.Data))
	}

	b.mu.Lock()
	_, err := b.rb.Write(p.Data[:n])
	b.mu.Unlock()

	b.putPayload(p)
	b.leak.settled(n)

	if err != nil {
		// Free space was checked at acquire and the bus is single-writer,
		// so a failed write means the protocol was violated.
		return fmt.Errorf("ring bus: commit failed: %w", err)
	}

	signal(b.dataSig)
	return nil
}

func (b *ringBus) AcquireRead(ctx context.Context) (*Payload, error) {
	for {
		b.mu.Lock()
		length := b.rb.Length()
		if length > 0 {
			want := b.readSize
			if length < want {
				want = length
			}
			p := b.takePayload(want)
			n, err := b.rb.Read(p.Data)
			b.mu.Unlock()
			if err != nil {
				b.putPayload(p)
				return nil, fmt.Errorf("ring bus: read failed: %w", err)
			}
			p.Data = p.Data[:n]
			p.state.Store(payloadReading)
			b.leak.acquired("read")
			signal(b.spaceSig)
			return p, nil
		}
		b.mu.Unlock()

		// Remaining data drains before closure is reported.
		if b.closed.Load() {
			return nil, ErrClosed
		}

		select {
		case <-ctx.Done():
			return nil, acquireErr(ctx)
		case <-b.done:
		case <-b.dataSig:
		}
	}
}

func (b *ringBus) Release(p *Payload) error {
	if p == nil || p.owner != b {
		return ErrForeignPayload
	}
	if !p.state.CompareAndSwap(payloadReading, payloadIdle) {
		return ErrForeignPayload
	}
	b.putPayload(p)
	b.leak.settled(0)
	return nil
}

func (b *ringBus) Close() error {
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

func (b *ringBus) Outstanding() int {
	return int(b.leak.outstanding.Load())
}

func (b *ringBus) takePayload(size int) *Payload {
	p := b.payloadPool.Get().(*Payload)
	if cap(p.buf) < size {
		p.buf = make([]byte, size)
	}
	p.Data = p.buf[:size]
	p.owner = b
	return p
}

func (b *ringBus) putPayload(p *Payload) {
	p.Data = nil
	p.owner = nil
	p.OnRelease = nil
	b.payloadPool.Put(p)
}
