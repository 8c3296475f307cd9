package databus

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("rejects zero capacity", func(t *testing.T) {
		t.Parallel()
		_, err := New(Config{Strategy: StrategyRing, Capacity: 0})
		assert.Error(t, err)
	})

	t.Run("rejects unknown strategy", func(t *testing.T) {
		t.Parallel()
		_, err := New(Config{Strategy: "bogus", Capacity: 16})
		assert.Error(t, err)
	})

	t.Run("constructs every strategy", func(t *testing.T) {
		t.Parallel()
		for _, s := range []Strategy{StrategyRing, StrategyPointer, StrategyFIFO, StrategyBlock} {
			bus, err := New(Config{Strategy: s, Capacity: 16, BlockSize: 64})
			require.NoError(t, err, "strategy %s", s)
			assert.Equal(t, s, bus.Strategy())
			assert.NoError(t, bus.Close())
		}
	})
}

func TestRingDataIntegrity(t *testing.T) {
	t.Parallel()

	bus, err := New(Config{Strategy: StrategyRing, Capacity: 4096, BlockSize: 128})
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	ctx := context.Background()
	const cycles = 10000
	const chunk = 128

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < cycles; i++ {
			p, err := bus.AcquireWrite(ctx, chunk)
			if err != nil {
				t.Errorf("acquire write %d: %v", i, err)
				return
			}
			for j := range p.Data {
				p.Data[j] = byte(i)
			}
			if err := bus.CommitWrite(p, chunk); err != nil {
				t.Errorf("commit %d: %v", i, err)
				return
			}
		}
	}()

	total := 0
	seq := 0
	inChunk := 0
	for total < cycles*chunk {
		p, err := bus.AcquireRead(ctx)
		require.NoError(t, err)
		for _, b := range p.Data {
			require.Equal(t, byte(seq), b, "byte %d", total)
			inChunk++
			total++
			if inChunk == chunk {
				inChunk = 0
				seq++
			}
		}
		require.NoError(t, bus.Release(p))
	}
	wg.Wait()

	assert.Equal(t, 0, bus.Outstanding())
}

func TestRingCloseUnblocks(t *testing.T) {
	t.Parallel()

	t.Run("blocked reader", func(t *testing.T) {
		t.Parallel()
		bus, err := New(Config{Strategy: StrategyRing, Capacity: 256})
		require.NoError(t, err)

		errCh := make(chan error, 1)
		go func() {
			_, err := bus.AcquireRead(context.Background())
			errCh <- err
		}()

		time.Sleep(20 * time.Millisecond)
		require.NoError(t, bus.Close())

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, ErrClosed)
		case <-time.After(time.Second):
			t.Fatal("reader did not unblock after close")
		}
	})

	t.Run("blocked writer", func(t *testing.T) {
		t.Parallel()
		bus, err := New(Config{Strategy: StrategyRing, Capacity: 64})
		require.NoError(t, err)

		// fill the ring so the next acquire blocks
		ctx := context.Background()
		p, err := bus.AcquireWrite(ctx, 64)
		require.NoError(t, err)
		require.NoError(t, bus.CommitWrite(p, 64))

		errCh := make(chan error, 1)
		go func() {
			_, err := bus.AcquireWrite(context.Background(), 64)
			errCh <- err
		}()

		time.Sleep(20 * time.Millisecond)
		require.NoError(t, bus.Close())

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, ErrClosed)
		case <-time.After(time.Second):
			t.Fatal("writer did not unblock after close")
		}
	})
}

func TestRingDrainsBeforeClosed(t *testing.T) {
	t.Parallel()

	bus, err := New(Config{Strategy: StrategyRing, Capacity: 256, BlockSize: 8})
	require.NoError(t, err)

	ctx := context.Background()
	p, err := bus.AcquireWrite(ctx, 8)
	require.NoError(t, err)
	copy(p.Data, []byte("12345678"))
	require.NoError(t, bus.CommitWrite(p, 8))

	require.NoError(t, bus.Close())

	// committed data is still readable after close
	got, err := bus.AcquireRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("12345678"), got.Data)
	require.NoError(t, bus.Release(got))

	_, err = bus.AcquireRead(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRingAcquireTimeout(t *testing.T) {
	t.Parallel()

	bus, err := New(Config{Strategy: StrategyRing, Capacity: 64})
	require.NoError(t, err)
	defer func() { _ = bus.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = bus.AcquireRead(ctx)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestPointerBus(t *testing.T) {
	t.Parallel()

	t.Run("zero copy identity", func(t *testing.T) {
		t.Parallel()
		bus, err := New(Config{Strategy: StrategyPointer, Capacity: 4})
		require.NoError(t, err)
		defer func() { _ = bus.Close() }()

		ctx := context.Background()
		buf := []byte("zero copy payload")

		released := false
		p, err := bus.AcquireWrite(ctx, 0)
		require.NoError(t, err)
		p.Data = buf
		p.OnRelease = func() { released = true }
		require.NoError(t, bus.CommitWrite(p, len(buf)))

		got, err := bus.AcquireRead(ctx)
		require.NoError(t, err)
		// same backing array, not a copy
		assert.Equal(t, &buf[0], &got.Data[0])
		assert.False(t, released)

		require.NoError(t, bus.Release(got))
		assert.True(t, released, "OnRelease must fire on consumer release")
	})

	t.Run("never blocks", func(t *testing.T) {
		t.Parallel()
		bus, err := New(Config{Strategy: StrategyPointer, Capacity: 1})
		require.NoError(t, err)
		defer func() { _ = bus.Close() }()

		ctx := context.Background()

		_, err = bus.AcquireRead(ctx)
		assert.ErrorIs(t, err, ErrWouldBlock)

		p, err := bus.AcquireWrite(ctx, 0)
		require.NoError(t, err)

		// the only slot is in flight
		_, err = bus.AcquireWrite(ctx, 0)
		assert.ErrorIs(t, err, ErrWouldBlock)

		p.Data = []byte("x")
		require.NoError(t, bus.CommitWrite(p, 1))

		got, err := bus.AcquireRead(ctx)
		require.NoError(t, err)
		require.NoError(t, bus.Release(got))

		// slot recycled
		_, err = bus.AcquireWrite(ctx, 0)
		require.NoError(t, err)
	})

	t.Run("commit without data fails", func(t *testing.T) {
		t.Parallel()
		bus, err := New(Config{Strategy: StrategyPointer, Capacity: 2})
		require.NoError(t, err)
		defer func() { _ = bus.Close() }()

		p, err := bus.AcquireWrite(context.Background(), 0)
		require.NoError(t, err)
		assert.Error(t, bus.CommitWrite(p, 0))
	})
}

func TestFIFOBus(t *testing.T) {
	t.Parallel()

	t.Run("ordered round trip", func(t *testing.T) {
		t.Parallel()
		bus, err := New(Config{Strategy: StrategyFIFO, Capacity: 4})
		require.NoError(t, err)
		defer func() { _ = bus.Close() }()

		ctx := context.Background()
		payloads := [][]byte{[]byte("first"), []byte("second"), []byte("third")}

		for _, want := range payloads {
			p, err := bus.AcquireWrite(ctx, len(want))
			require.NoError(t, err)
			copy(p.Data, want)
			require.NoError(t, bus.CommitWrite(p, len(want)))
		}
		for _, want := range payloads {
			p, err := bus.AcquireRead(ctx)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(want, p.Data), "got %q want %q", p.Data, want)
			require.NoError(t, bus.Release(p))
		}
	})

	t.Run("consumer does not observe later producer writes", func(t *testing.T) {
		t.Parallel()
		bus, err := New(Config{Strategy: StrategyFIFO, Capacity: 4})
		require.NoError(t, err)
		defer func() { _ = bus.Close() }()

		ctx := context.Background()

		p1, err := bus.AcquireWrite(ctx, 4)
		require.NoError(t, err)
		copy(p1.Data, "aaaa")
		require.NoError(t, bus.CommitWrite(p1, 4))

		got, err := bus.AcquireRead(ctx)
		require.NoError(t, err)

		// produce into a different slab while the first is held
		p2, err := bus.AcquireWrite(ctx, 4)
		require.NoError(t, err)
		copy(p2.Data, "bbbb")
		require.NoError(t, bus.CommitWrite(p2, 4))

		assert.Equal(t, []byte("aaaa"), got.Data)
		require.NoError(t, bus.Release(got))

		got2, err := bus.AcquireRead(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte("bbbb"), got2.Data)
		require.NoError(t, bus.Release(got2))
	})

	t.Run("close unblocks reader", func(t *testing.T) {
		t.Parallel()
		bus, err := New(Config{Strategy: StrategyFIFO, Capacity: 2})
		require.NoError(t, err)

		errCh := make(chan error, 1)
		go func() {
			_, err := bus.AcquireRead(context.Background())
			errCh <- err
		}()
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, bus.Close())

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, ErrClosed)
		case <-time.After(time.Second):
			t.Fatal("reader did not unblock")
		}
	})
}

func TestCommitRacingCloseDrains(t *testing.T) {
	t.Parallel()

	// A commit landing just before the close must still reach a reader
	// blocked in acquire; waking on the closure alone is not end of stream
	// while data sits in the queue.
	for _, strategy := range []Strategy{StrategyFIFO, StrategyBlock} {
		t.Run(string(strategy), func(t *testing.T) {
			t.Parallel()
			for i := 0; i < 200; i++ {
				bus, err := New(Config{Strategy: strategy, Capacity: 2, BlockSize: 64})
				require.NoError(t, err)

				got := make(chan error, 1)
				go func() {
					p, err := bus.AcquireRead(context.Background())
					if err == nil {
						err = bus.Release(p)
					}
					got <- err
				}()

				p, err := bus.AcquireWrite(context.Background(), 4)
				require.NoError(t, err)
				copy(p.Data, "data")
				require.NoError(t, bus.CommitWrite(p, 4))
				require.NoError(t, bus.Close())

				require.NoError(t, <-got, "committed payload lost to the close on iteration %d", i)

				_, err = bus.AcquireRead(context.Background())
				assert.ErrorIs(t, err, ErrClosed)
			}
		})
	}
}

func TestBlockBus(t *testing.T) {
	t.Parallel()

	t.Run("rejects oversized acquire", func(t *testing.T) {
		t.Parallel()
		bus, err := New(Config{Strategy: StrategyBlock, Capacity: 4, BlockSize: 64})
		require.NoError(t, err)
		defer func() { _ = bus.Close() }()

		_, err = bus.AcquireWrite(context.Background(), 65)
		assert.ErrorIs(t, err, ErrPayloadTooLarge)
	})

	t.Run("round trip within block size", func(t *testing.T) {
		t.Parallel()
		bus, err := New(Config{Strategy: StrategyBlock, Capacity: 2, BlockSize: 32})
		require.NoError(t, err)
		defer func() { _ = bus.Close() }()

		ctx := context.Background()
		for i := 0; i < 100; i++ {
			p, err := bus.AcquireWrite(ctx, 32)
			require.NoError(t, err)
			for j := range p.Data {
				p.Data[j] = byte(i)
			}
			require.NoError(t, bus.CommitWrite(p, 32))

			got, err := bus.AcquireRead(ctx)
			require.NoError(t, err)
			require.Len(t, got.Data, 32)
			assert.Equal(t, byte(i), got.Data[0])
			require.NoError(t, bus.Release(got))
		}
		assert.Equal(t, 0, bus.Outstanding())
	})

	t.Run("short commit delivers short payload", func(t *testing.T) {
		t.Parallel()
		bus, err := New(Config{Strategy: StrategyBlock, Capacity: 2, BlockSize: 32})
		require.NoError(t, err)
		defer func() { _ = bus.Close() }()

		ctx := context.Background()
		p, err := bus.AcquireWrite(ctx, 32)
		require.NoError(t, err)
		copy(p.Data, "tiny")
		require.NoError(t, bus.CommitWrite(p, 4))

		got, err := bus.AcquireRead(ctx)
		require.NoError(t, err)
		assert.Equal(t, []byte("tiny"), got.Data)
		require.NoError(t, bus.Release(got))
	})
}

func TestForeignPayloadRejected(t *testing.T) {
	t.Parallel()

	a, err := New(Config{Strategy: StrategyFIFO, Capacity: 2})
	require.NoError(t, err)
	defer func() { _ = a.Close() }()
	b, err := New(Config{Strategy: StrategyFIFO, Capacity: 2})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	ctx := context.Background()
	p, err := a.AcquireWrite(ctx, 8)
	require.NoError(t, err)

	assert.ErrorIs(t, b.CommitWrite(p, 8), ErrForeignPayload)
	assert.ErrorIs(t, b.Release(p), ErrForeignPayload)

	require.NoError(t, a.CommitWrite(p, 8))
	// double commit
	assert.ErrorIs(t, a.CommitWrite(p, 8), ErrForeignPayload)
}

func TestOutstandingAccounting(t *testing.T) {
	t.Parallel()

	for _, s := range []Strategy{StrategyRing, StrategyPointer, StrategyFIFO, StrategyBlock} {
		t.Run(string(s), func(t *testing.T) {
			t.Parallel()
			bus, err := New(Config{Strategy: s, Capacity: 64, BlockSize: 16})
			require.NoError(t, err)
			defer func() { _ = bus.Close() }()

			ctx := context.Background()
			p, err := bus.AcquireWrite(ctx, 8)
			require.NoError(t, err)
			assert.Equal(t, 1, bus.Outstanding())

			if p.Data == nil {
				p.Data = []byte("12345678")
			}
			require.NoError(t, bus.CommitWrite(p, 8))
			assert.Equal(t, 0, bus.Outstanding())

			got, err := bus.AcquireRead(ctx)
			require.NoError(t, err)
			assert.Equal(t, 1, bus.Outstanding())

			require.NoError(t, bus.Release(got))
			assert.Equal(t, 0, bus.Outstanding())
		})
	}
}
