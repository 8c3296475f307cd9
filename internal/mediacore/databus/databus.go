// Package databus moves payload buffers between a single producer and a
// single consumer under one of four interchangeable strategies:
//
//   - ring:    copying, blocking (smallnest ring buffer backing store)
//   - pointer: zero-copy, non-blocking (caller-owned slices passed through)
//   - fifo:    zero-copy, blocking (bus-owned variable-size slabs)
//   - block:   zero-copy, blocking (bus-owned fixed-size blocks, no
//     allocation after construction)
//
// The protocol is acquire-process-release: a producer acquires a writable
// payload, fills it and commits; a consumer acquires a readable payload and
// releases it when done. Ownership of an acquired payload belongs to the
// acquirer until commit/release. Every acquire must be matched by exactly
// one commit (write side) or release (read side), on error paths included.
//
// Failing to release a zero-copy payload leaks its backing slot permanently:
// the slot never returns to the free list and the bus eventually starves.
// This is a fatal resource-leak class, not a tolerated condition; buses
// count outstanding payloads and log the leak when closed.
package databus

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/tphakala/mediaflow/internal/observability"
)

// Strategy selects the transport policy of a bus.
type Strategy string

const (
	StrategyRing    Strategy = "ring"
	StrategyPointer Strategy = "pointer"
	StrategyFIFO    Strategy = "fifo"
	StrategyBlock   Strategy = "block"
)

// Sentinel errors returned by bus operations.
var (
	// ErrWouldBlock is returned by non-blocking buses when no slot or data
	// is immediately available.
	ErrWouldBlock = errors.New("databus: operation would block")
	// ErrTimeout is returned when the acquire context deadline expires.
	ErrTimeout = errors.New("databus: acquire timed out")
	// ErrClosed is returned once the bus is closed; blocked acquirers are
	// unblocked with this error.
	ErrClosed = errors.New("databus: bus closed")
	// ErrPayloadTooLarge is returned by the block strategy when minSize
	// exceeds the configured block size.
	ErrPayloadTooLarge = errors.New("databus: payload exceeds block size")
	// ErrForeignPayload is returned when a payload is handed back to a bus
	// that did not issue it, or handed back twice.
	ErrForeignPayload = errors.New("databus: payload not owned by this bus")
)

// payload lifecycle states
const (
	payloadIdle int32 = iota
	payloadWriting
	payloadQueued
	payloadReading
)

// Payload is a buffer region in transit between producer and consumer.
// For zero-copy strategies Data aliases the backing slot; the bus itself
// never mutates it between acquire and release.
type Payload struct {
	// Data is the valid region. The pointer strategy hands out payloads
	// with nil Data; the producer sets it to its own slice before commit.
	Data []byte

	// OnRelease, when set by the producer, runs after the consumer
	// releases the payload. Used by zero-copy producers to reclaim
	// ownership of the underlying slice.
	OnRelease func()

	buf   []byte // backing storage for bus-owned strategies
	owner Bus
	state atomic.Int32
}

// Bus transports payloads from one producer to one consumer.
// All implementations are safe for one concurrent writer plus one
// concurrent reader; they are not multi-producer or multi-consumer.
type Bus interface {
	// Strategy reports the transport policy.
	Strategy() Strategy

	// AcquireWrite returns a writable payload of at least minSize bytes.
	// Blocking strategies wait for space until ctx expires (ErrTimeout),
	// ctx is canceled, or the bus closes (ErrClosed). The non-blocking
	// pointer strategy fails immediately with ErrWouldBlock when full.
	AcquireWrite(ctx context.Context, minSize int) (*Payload, error)

	// CommitWrite finalizes a produced region: the first n bytes of the
	// payload become visible to the consumer and the write acquire is
	// consumed. n may be smaller than the acquired size (short commit).
	CommitWrite(p *Payload, n int) error

	// AcquireRead returns the next committed payload in order.
	AcquireRead(ctx context.Context) (*Payload, error)

	// Release returns a consumed payload to the bus.
	Release(p *Payload) error

	// Close tears the bus down and unblocks any party blocked in an
	// acquire with ErrClosed. Outstanding payloads are counted as leaks.
	Close() error

	// Outstanding reports payloads acquired but not yet committed or
	// released.
	Outstanding() int
}

// Config describes a bus to construct.
type Config struct {
	Strategy Strategy
	// Capacity is bytes for the ring strategy and slots for the others.
	Capacity int
	// BlockSize is the slab size for the block strategy and the read
	// granularity for the ring strategy.
	BlockSize int
	// Metrics is optional; nil disables recording.
	Metrics *observability.EngineMetrics
}

// New constructs a bus for the given configuration.
func New(cfg Config) (Bus, error) {
	if cfg.Capacity <= 0 {
		return nil, errors.New("databus: capacity must be positive")
	}
	switch cfg.Strategy {
	case StrategyRing:
		return newRingBus(cfg)
	case StrategyPointer:
		return newPointerBus(cfg)
	case StrategyFIFO:
		return newFIFOBus(cfg)
	case StrategyBlock:
		return newBlockBus(cfg)
	default:
		return nil, errors.New("databus: unknown strategy " + string(cfg.Strategy))
	}
}

// acquireErr maps a context error to the bus error taxonomy.
func acquireErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}

// leakAccounting tracks acquire/release pairing shared by all strategies.
type leakAccounting struct {
	outstanding atomic.Int64
	metrics     *observability.EngineMetrics
	strategy    Strategy
}

func (l *leakAccounting) acquired(side string) {
	l.outstanding.Add(1)
	if l.metrics != nil {
		l.metrics.RecordPayloadAcquired(string(l.strategy), side)
	}
}

func (l *leakAccounting) settled(bytes int) {
	l.outstanding.Add(-1)
	if l.metrics != nil {
		l.metrics.RecordPayloadReleased(string(l.strategy))
		if bytes > 0 {
			l.metrics.RecordBusBytes(string(l.strategy), bytes)
		}
	}
}

func (l *leakAccounting) leaksAtClose() int {
	n := int(l.outstanding.Load())
	if l.metrics != nil && n > 0 {
		l.metrics.UpdatePayloadLeaks(string(l.strategy), n)
	}
	return n
}
