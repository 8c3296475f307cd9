package databus

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/tphakala/mediaflow/internal/logging"
)

const defaultBlockSize = 4 * 1024

// blockBus is the zero-copy, blocking strategy with fixed-size blocks.
// All backing memory is allocated at construction and no allocation happens
// afterwards, which keeps the strategy suitable for memory-constrained
// deployments. Acquires larger than the block size are rejected.
type blockBus struct {
	leak leakAccounting

	blockSize int

	slots  chan *Payload // free blocks
	queue  chan *Payload // committed blocks in order
	done   chan struct{}
	closed atomic.Bool

	logger *slog.Logger
}

func newBlockBus(cfg Config) (*blockBus, error) {
	blockSize := cfg.BlockSize
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}

	logger := logging.ForService("mediacore")
	if logger == nil {
		logger = slog.Default()
	}

	b := &blockBus{
		leak:      leakAccounting{metrics: cfg.Metrics, strategy: StrategyBlock},
		blockSize: blockSize,
		slots:     make(chan *Payload, cfg.Capacity),
		queue:     make(chan *Payload, cfg.Capacity),
		done:      make(chan struct{}),
		logger:    logger.With("component", "databus", "strategy", "block"),
	}

	// One contiguous arena sliced into blocks.
	arena := make([]byte, cfg.Capacity*blockSize)
	for i := 0; i < cfg.Capacity; i++ {
		b.slots <- &Payload{
			owner: b,
			buf:   arena[i*blockSize : (i+1)*blockSize : (i+1)*blockSize],
		}
	}
	return b, nil
}

func (b *blockBus) Strategy() Strategy { return StrategyBlock }

func (b *blockBus) AcquireWrite(ctx context.Context, minSize int) (*Payload, error) {
	if minSize <= 0 {
		return nil, fmt.Errorf("block bus: invalid acquire size %d", minSize)
	}
	if minSize > b.blockSize {
		return nil, ErrPayloadTooLarge
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	select {
	case p := <-b.slots:
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

func (b *blockBus) CommitWrite(p *Payload, n int) error {
	if p == nil || p.owner != b {
		return ErrForeignPayload
	}
	if n < 0 || n > len(p.Data) {
		return fmt.Errorf("block bus: commit size %d out of range [0,%d]", n, len(p.Data))
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

func (b *blockBus) AcquireRead(ctx context.Context) (*Payload, error) {
	// Committed blocks drain before closure is reported.
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

func (b *blockBus) Release(p *Payload) error {
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

func (b *blockBus) Close() error {
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

func (b *blockBus) Outstanding() int {
	return int(b.leak.outstanding.Load())
}
