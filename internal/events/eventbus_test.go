package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingConsumer struct {
	name  string
	count atomic.Int64
	fail  bool
	panic bool
}

func (c *countingConsumer) Name() string { return c.name }

func (c *countingConsumer) ProcessEvent(event Event) error {
	c.count.Add(1)
	if c.panic {
		panic("consumer exploded")
	}
	if c.fail {
		return fmt.Errorf("consumer failure")
	}
	return nil
}

func TestPublishWithoutConsumersIsDropped(t *testing.T) {
	t.Parallel()

	bus := NewBus(DefaultConfig())
	defer bus.Shutdown()

	assert.False(t, bus.TryPublish(Event{Type: PipelineDone, Pipeline: "p"}))
}

func TestDeliveryToConsumers(t *testing.T) {
	t.Parallel()

	bus := NewBus(&Config{BufferSize: 64, Workers: 2})
	defer bus.Shutdown()

	a := &countingConsumer{name: "a"}
	b := &countingConsumer{name: "b"}
	require.NoError(t, bus.RegisterConsumer(a))
	require.NoError(t, bus.RegisterConsumer(b))

	const n = 50
	for i := 0; i < n; i++ {
		require.True(t, bus.TryPublish(Event{Type: PipelineRunning, Pipeline: "p"}))
	}

	require.Eventually(t, func() bool {
		return a.count.Load() == n && b.count.Load() == n
	}, 5*time.Second, time.Millisecond)

	stats := bus.Stats()
	assert.Equal(t, uint64(n), stats.EventsReceived)
	assert.Equal(t, uint64(0), stats.EventsDropped)
}

func TestDuplicateConsumerRejected(t *testing.T) {
	t.Parallel()

	bus := NewBus(DefaultConfig())
	defer bus.Shutdown()

	require.NoError(t, bus.RegisterConsumer(&countingConsumer{name: "dup"}))
	assert.Error(t, bus.RegisterConsumer(&countingConsumer{name: "dup"}))
}

func TestUnregisterConsumer(t *testing.T) {
	t.Parallel()

	bus := NewBus(DefaultConfig())
	defer bus.Shutdown()

	require.NoError(t, bus.RegisterConsumer(&countingConsumer{name: "x"}))
	assert.True(t, bus.UnregisterConsumer("x"))
	assert.False(t, bus.UnregisterConsumer("x"))
}

func TestPanickingConsumerDoesNotKillWorkers(t *testing.T) {
	t.Parallel()

	bus := NewBus(&Config{BufferSize: 16, Workers: 1})
	defer bus.Shutdown()

	bad := &countingConsumer{name: "bad", panic: true}
	good := &countingConsumer{name: "good"}
	require.NoError(t, bus.RegisterConsumer(bad))
	require.NoError(t, bus.RegisterConsumer(good))

	require.True(t, bus.TryPublish(Event{Type: PipelineError, Pipeline: "p"}))
	require.True(t, bus.TryPublish(Event{Type: PipelineError, Pipeline: "p"}))

	require.Eventually(t, func() bool {
		return good.count.Load() == 2
	}, 5*time.Second, time.Millisecond, "later events still flow past a panicking sibling")

	assert.GreaterOrEqual(t, bus.Stats().ConsumerErrors, uint64(2))
}

func TestConsumerFuncAdapter(t *testing.T) {
	t.Parallel()

	bus := NewBus(&Config{BufferSize: 16, Workers: 1})
	defer bus.Shutdown()

	var mu sync.Mutex
	var got []EventType
	require.NoError(t, bus.RegisterConsumer(&ConsumerFunc{
		ID: "fn",
		Fn: func(ev Event) error {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, ev.Type)
			return nil
		},
	}))

	require.True(t, bus.TryPublish(Event{Type: PipelineOpened}))
	require.True(t, bus.TryPublish(Event{Type: PipelineDone}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 5*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []EventType{PipelineOpened, PipelineDone}, got)
}

func TestShutdownStopsDelivery(t *testing.T) {
	t.Parallel()

	bus := NewBus(DefaultConfig())
	c := &countingConsumer{name: "c"}
	require.NoError(t, bus.RegisterConsumer(c))

	bus.Shutdown()
	assert.False(t, bus.TryPublish(Event{Type: PipelineDone}))
}
