package adapters

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaptureDropCounting(t *testing.T) {
	t.Parallel()

	el, err := NewCaptureSource("cap", map[string]any{"queue": 1})
	require.NoError(t, err)
	src, ok := el.(*CaptureSource)
	require.True(t, ok)

	const workers = 8
	const framesPerWorker = 100

	// the device callback runs on the audio thread, so the drop counter
	// must tolerate concurrent increments
	var wg sync.WaitGroup
	frame := make([]byte, 16)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < framesPerWorker; i++ {
				src.onFrames(nil, frame, 0)
			}
		}()
	}
	wg.Wait()

	// queue length one: everything past the first enqueued frame drops
	assert.Equal(t, int64(workers*framesPerWorker-1), src.Dropped())

	// empty input is ignored entirely
	src.onFrames(nil, nil, 0)
	assert.Equal(t, int64(workers*framesPerWorker-1), src.Dropped())
}
