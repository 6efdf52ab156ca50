package thread

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/core"
)

func TestCommandsExecuteInSubmissionOrder(t *testing.T) {
	for _, policy := range []Policy{SingleThreaded, MultiThreaded} {
		rt := New(policy)
		rt.Run()

		var log []int
		const n = 500
		for i := 0; i < n; i++ {
			rt.SubmitToThread(func() { log = append(log, i) })
			if i%50 == 49 {
				rt.WaitAndSet()
			}
		}
		rt.WaitAndSet()
		rt.Wait()

		require.Len(t, log, n)
		for i, v := range log {
			assert.Equal(t, i, v)
		}
		rt.WaitAndDestroy()
	}
}

func TestProducerAtMostOneFrameAhead(t *testing.T) {
	rt := New(MultiThreaded)
	rt.Run()
	defer rt.WaitAndDestroy()

	for frame := 0; frame < 100; frame++ {
		rt.SubmitToThread(func() { time.Sleep(50 * time.Microsecond) })
		rt.WaitAndSet()

		producer, consumer := rt.ProducerFrame(), rt.ConsumerFrame()
		assert.LessOrEqual(t, producer-consumer, uint64(1), "frame %d", frame)
		assert.GreaterOrEqual(t, producer, consumer)
	}
}

func TestWaitAndSetBlocksOnPreviousBatch(t *testing.T) {
	rt := New(MultiThreaded)
	rt.Run()
	defer rt.WaitAndDestroy()

	release := make(chan struct{})
	var finished atomic.Bool
	rt.SubmitToThread(func() {
		<-release
		finished.Store(true)
	})
	rt.WaitAndSet()

	returned := make(chan struct{})
	go func() {
		rt.WaitAndSet()
		close(returned)
	}()

	select {
	case <-returned:
		t.Fatal("second WaitAndSet returned while the first batch was still running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-returned
	assert.True(t, finished.Load())
}

func TestDrainOnShutdown(t *testing.T) {
	rt := New(MultiThreaded)
	rt.Run()

	var executed atomic.Int32
	var deleted atomic.Int32
	const m = 64
	for i := 0; i < m; i++ {
		rt.SubmitToThread(func() { executed.Add(1) })
	}
	rt.WaitAndSet()
	for i := 0; i < m; i++ {
		rt.SubmitToThread(func() { executed.Add(1) })
		rt.SubmitToDeletion(func() { deleted.Add(1) })
	}
	rt.WaitAndDestroy()

	assert.Equal(t, int32(2*m), executed.Load())
	assert.Equal(t, int32(m), deleted.Load())
	assert.False(t, rt.IsRunning())

	// Destroying twice runs nothing again.
	rt.WaitAndDestroy()
	assert.Equal(t, int32(2*m), executed.Load())
}

func TestSubmitAfterShutdownRunsInline(t *testing.T) {
	rt := New(MultiThreaded)
	rt.Run()
	rt.WaitAndDestroy()

	ran := false
	rt.SubmitToThread(func() { ran = true })
	assert.True(t, ran)
}

func TestDeletionQueueRunsOnlyWhenAsked(t *testing.T) {
	rt := New(SingleThreaded)
	var deleted int
	rt.SubmitToDeletion(func() { deleted++ })
	rt.WaitAndSet()
	assert.Equal(t, 0, deleted)

	rt.ExecuteDeletionQueue()
	assert.Equal(t, 1, deleted)
	rt.ExecuteDeletionQueue()
	assert.Equal(t, 1, deleted)
}

func TestConcurrentProducers(t *testing.T) {
	rt := New(MultiThreaded)
	rt.Run()

	var count atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				rt.SubmitToThread(func() { count.Add(1) })
			}
		}()
	}
	wg.Wait()
	rt.WaitAndDestroy()
	assert.Equal(t, int32(800), count.Load())
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("single")
	require.NoError(t, err)
	assert.Equal(t, SingleThreaded, p)

	p, err = ParsePolicy("multi")
	require.NoError(t, err)
	assert.Equal(t, MultiThreaded, p)

	_, err = ParsePolicy("many")
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}
