package events

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tphakala/mediaflow/internal/logging"
)

// Bus provides asynchronous event delivery with non-blocking guarantees
type Bus struct {
	eventChan chan Event

	bufferSize int
	workers    int

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	mu      sync.Mutex

	consumers []Consumer

	stats BusStats

	logger *slog.Logger
}

// Config holds event bus configuration
type Config struct {
	BufferSize int
	Workers    int
}

// DefaultConfig returns the default event bus configuration
func DefaultConfig() *Config {
	return &Config{
		BufferSize: 1024,
		Workers:    2,
	}
}

// NewBus creates an event bus. Workers start when the first consumer
// registers.
func NewBus(config *Config) *Bus {
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	logger := logging.ForService("events")
	if logger == nil {
		logger = slog.Default().With("service", "events")
	}

	eb := &Bus{
		eventChan:  make(chan Event, config.BufferSize),
		bufferSize: config.BufferSize,
		workers:    config.Workers,
		ctx:        ctx,
		cancel:     cancel,
		consumers:  make([]Consumer, 0),
		logger:     logger,
	}

	eb.logger.Debug("event bus created",
		"buffer_size", config.BufferSize,
		"workers", config.Workers,
	)

	return eb
}

// RegisterConsumer adds a new event consumer
func (eb *Bus) RegisterConsumer(consumer Consumer) error {
	if eb == nil {
		return fmt.Errorf("event bus not initialized")
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, existing := range eb.consumers {
		if existing.Name() == consumer.Name() {
			return fmt.Errorf("consumer %s already registered", consumer.Name())
		}
	}

	eb.consumers = append(eb.consumers, consumer)

	eb.logger.Info("registered event consumer", "consumer", consumer.Name())

	// Start workers when the first consumer arrives
	if len(eb.consumers) == 1 && !eb.running.Load() {
		eb.start()
	}

	return nil
}

// UnregisterConsumer removes a consumer by name.
func (eb *Bus) UnregisterConsumer(name string) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	for i, existing := range eb.consumers {
		if existing.Name() == name {
			eb.consumers = append(eb.consumers[:i], eb.consumers[i+1:]...)
			return true
		}
	}
	return false
}

// TryPublish attempts to publish an event without blocking.
// Returns true if the event was accepted, false if dropped.
func (eb *Bus) TryPublish(event Event) bool {
	if eb == nil || !eb.running.Load() {
		return false
	}

	eb.mu.Lock()
	hasConsumers := len(eb.consumers) > 0
	eb.mu.Unlock()

	if !hasConsumers {
		return false
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case eb.eventChan <- event:
		atomic.AddUint64(&eb.stats.EventsReceived, 1)
		return true
	default:
		atomic.AddUint64(&eb.stats.EventsDropped, 1)
		eb.logger.Debug("event dropped due to full buffer",
			"type", event.Type,
			"pipeline", event.Pipeline,
		)
		return false
	}
}

func (eb *Bus) start() {
	if eb.running.Swap(true) {
		return
	}

	eb.logger.Debug("starting event bus workers", "count", eb.workers)

	for i := 0; i < eb.workers; i++ {
		eb.wg.Add(1)
		go eb.worker(i)
	}
}

// worker processes events from the channel
func (eb *Bus) worker(id int) {
	defer eb.wg.Done()

	logger := eb.logger.With("worker_id", id)

	for {
		select {
		case <-eb.ctx.Done():
			return

		case event, ok := <-eb.eventChan:
			if !ok {
				return
			}
			eb.processEvent(event, logger)
		}
	}
}

// processEvent sends the event to all registered consumers
func (eb *Bus) processEvent(event Event, logger *slog.Logger) {
	eb.mu.Lock()
	consumers := make([]Consumer, len(eb.consumers))
	copy(consumers, eb.consumers)
	eb.mu.Unlock()

	for _, consumer := range consumers {
		// Recovery wrapper so a misbehaving observer cannot kill a worker
		func() {
			defer func() {
				if r := recover(); r != nil {
					atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
					logger.Error("consumer panicked",
						"consumer", consumer.Name(),
						"panic", r,
						"type", event.Type,
					)
				}
			}()

			if err := consumer.ProcessEvent(event); err != nil {
				atomic.AddUint64(&eb.stats.ConsumerErrors, 1)
				logger.Error("consumer error",
					"consumer", consumer.Name(),
					"error", err,
					"type", event.Type,
				)
			}
		}()
	}

	atomic.AddUint64(&eb.stats.EventsProcessed, 1)
}

// Stats returns a snapshot of bus statistics.
func (eb *Bus) Stats() BusStats {
	return BusStats{
		EventsReceived:  atomic.LoadUint64(&eb.stats.EventsReceived),
		EventsProcessed: atomic.LoadUint64(&eb.stats.EventsProcessed),
		EventsDropped:   atomic.LoadUint64(&eb.stats.EventsDropped),
		ConsumerErrors:  atomic.LoadUint64(&eb.stats.ConsumerErrors),
	}
}

// Shutdown drains workers and stops the bus. Events published after
// Shutdown are dropped.
func (eb *Bus) Shutdown() {
	if !eb.running.Swap(false) {
		eb.cancel()
		return
	}
	eb.cancel()
	eb.wg.Wait()
	eb.logger.Debug("event bus stopped", "stats", eb.Stats())
}
