// Package jobs runs CPU work, such as image decoding, on a fixed set of
// worker goroutines.
package jobs

import (
	"errors"
	"sync"

	"github.com/spaghettifunk/lumen/engine/core"
)

var (
	ErrNoWorkers         = errors.New("attempting to create worker pool with less than 1 worker")
	ErrNegativeQueueSize = errors.New("attempting to create worker pool with a negative queue size")
	ErrPoolClosed        = errors.New("worker pool is shut down")
)

/**
 * @brief A unit of work. Run is required; the callbacks are optional and
 * run on the worker that executed the task.
 */
type Task struct {
	Name string
	Run  func() error
	/** @brief Invoked when Run returns nil. */
	OnComplete func()
	/** @brief Invoked with the error returned by Run. */
	OnFailure func(err error)
}

type Pool struct {
	numWorkers int
	queue      chan Task
	wg         sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewPool(numWorkers int, queueSize int) (*Pool, error) {
	if numWorkers <= 0 {
		return nil, ErrNoWorkers
	}
	if queueSize < 0 {
		return nil, ErrNegativeQueueSize
	}
	p := &Pool{
		numWorkers: numWorkers,
		queue:      make(chan Task, queueSize),
	}
	p.start()
	return p, nil
}

func (p *Pool) Workers() int { return p.numWorkers }

func (p *Pool) start() {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for task := range p.queue {
				p.run(task)
			}
		}()
	}
}

func (p *Pool) run(task Task) {
	if err := task.Run(); err != nil {
		core.LogDebug("job %q failed: %s", task.Name, err)
		if task.OnFailure != nil {
			task.OnFailure(err)
		}
		return
	}
	if task.OnComplete != nil {
		task.OnComplete()
	}
}

/**
 * @brief Queues a task, blocking while the queue is full.
 */
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.queue <- task
	return nil
}

// Each runs fn for every index in [0, n) on the pool and waits for all of
// them. The returned slice holds one error per index.
func (p *Pool) Each(n int, fn func(i int) error) []error {
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		task := Task{
			Run:        func() error { return fn(i) },
			OnComplete: wg.Done,
			OnFailure: func(err error) {
				errs[i] = err
				wg.Done()
			},
		}
		if err := p.Submit(task); err != nil {
			errs[i] = err
			wg.Done()
		}
	}
	wg.Wait()
	return errs
}

/**
 * @brief Stops accepting tasks and waits for the queued ones to finish.
 */
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}
