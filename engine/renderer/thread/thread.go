// Package thread runs deferred GPU commands on a dedicated render goroutine.
//
// A single producer (the logical thread) enqueues closures and calls
// WaitAndSet once per frame. The render goroutine executes each kicked
// batch in submission order. The producer is never more than one frame
// ahead of the consumer.
package thread

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/spaghettifunk/lumen/engine/core"
)

// RenderCommand is a deferred unit of GPU work. It must capture everything
// it needs by value.
type RenderCommand func()

type Policy int

const (
	// SingleThreaded executes each batch inline inside WaitAndSet.
	SingleThreaded Policy = iota
	MultiThreaded
)

// ParsePolicy maps the renderer.threading config value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case core.ThreadingSingle:
		return SingleThreaded, nil
	case core.ThreadingMulti, "":
		return MultiThreaded, nil
	}
	return SingleThreaded, fmt.Errorf("%w: threading %q", core.ErrInvalidConfig, s)
}

type RenderThread struct {
	policy Policy

	mu        sync.Mutex
	commands  []RenderCommand
	deletions []RenderCommand
	// closed is set once the final drain has taken both queues.
	closed bool

	kick chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	// pending is only touched by the producer.
	pending   bool
	running   atomic.Bool
	destroyed atomic.Bool

	producerFrame atomic.Uint64
	consumerFrame atomic.Uint64
}

func New(policy Policy) *RenderThread {
	return &RenderThread{
		policy: policy,
		kick:   make(chan struct{}, 1),
		done:   make(chan struct{}, 1),
	}
}

func (t *RenderThread) Policy() Policy { return t.policy }

// Run starts the render goroutine. It is a no-op for SingleThreaded.
func (t *RenderThread) Run() {
	if t.policy == SingleThreaded || !t.running.CompareAndSwap(false, true) {
		return
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		core.LogDebug("render thread started")
		for range t.kick {
			t.executeBatch()
			t.consumerFrame.Add(1)
			t.done <- struct{}{}
		}
		core.LogDebug("render thread stopped after %d frames", t.consumerFrame.Load())
	}()
}

// SubmitToThread appends cmd to the pending batch. Safe for concurrent use.
func (t *RenderThread) SubmitToThread(cmd RenderCommand) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		core.LogWarn("%s: executing command inline", core.ErrRenderThreadStopped)
		cmd()
		return
	}
	t.commands = append(t.commands, cmd)
	t.mu.Unlock()
}

// SubmitToDeletion queues resource teardown. The queue only runs from
// ExecuteDeletionQueue or WaitAndDestroy.
func (t *RenderThread) SubmitToDeletion(cmd RenderCommand) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cmd()
		return
	}
	t.deletions = append(t.deletions, cmd)
	t.mu.Unlock()
}

// WaitAndSet waits for the previously kicked batch to finish, then kicks
// everything enqueued since. Producer only.
func (t *RenderThread) WaitAndSet() {
	if t.policy == SingleThreaded || !t.running.Load() {
		t.producerFrame.Add(1)
		t.executeBatch()
		t.consumerFrame.Add(1)
		return
	}
	t.Wait()
	t.producerFrame.Add(1)
	t.pending = true
	t.kick <- struct{}{}
}

// Wait blocks until every kicked batch has executed. Producer only.
func (t *RenderThread) Wait() {
	if t.pending {
		<-t.done
		t.pending = false
	}
}

// WaitAndDestroy stops the render goroutine after its current batch, joins
// it, and runs whatever is still queued on the caller. Nothing enqueued
// before the call is dropped.
func (t *RenderThread) WaitAndDestroy() {
	if !t.destroyed.CompareAndSwap(false, true) {
		return
	}
	t.Wait()
	if t.running.Load() {
		close(t.kick)
		t.wg.Wait()
		t.running.Store(false)
	}

	t.mu.Lock()
	batch, deletions := t.commands, t.deletions
	t.commands, t.deletions = nil, nil
	t.closed = true
	t.mu.Unlock()

	for _, cmd := range batch {
		cmd()
	}
	for _, cmd := range deletions {
		cmd()
	}
}

// ExecuteDeletionQueue runs queued teardown. The caller must know the GPU
// no longer uses the resources, typically after a fence or idle wait.
func (t *RenderThread) ExecuteDeletionQueue() {
	t.mu.Lock()
	queue := t.deletions
	t.deletions = nil
	t.mu.Unlock()

	for _, cmd := range queue {
		cmd()
	}
}

func (t *RenderThread) executeBatch() {
	t.mu.Lock()
	batch := t.commands
	t.commands = nil
	t.mu.Unlock()

	for _, cmd := range batch {
		cmd()
	}
}

// ProducerFrame counts batches kicked by WaitAndSet.
func (t *RenderThread) ProducerFrame() uint64 { return t.producerFrame.Load() }

// ConsumerFrame counts batches fully executed.
func (t *RenderThread) ConsumerFrame() uint64 { return t.consumerFrame.Load() }

// IsRunning reports whether the render goroutine is alive.
func (t *RenderThread) IsRunning() bool { return t.running.Load() }
