// Package parallel runs technique builds on a fixed set of goroutines.
package parallel

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// WorkerPool is a pool of goroutines running background jobs.
//
// Each worker has its own queue and steals from the others when it runs
// dry, so one slow build does not hold back jobs queued behind it.
//
// Thread safety: WorkerPool is safe for concurrent use.
type WorkerPool struct {
	workers    int
	workQueues []chan func()

	// done signals workers to stop.
	done chan struct{}
	wg   sync.WaitGroup

	// mu orders Submit against Close so no job is queued after the
	// workers drained their queues.
	mu      sync.RWMutex
	running atomic.Bool
	active  atomic.Int64

	onPanic atomic.Pointer[func(any)]
}

// NewWorkerPool creates a pool with the given number of workers.
// If workers is 0 or negative, GOMAXPROCS is used.
// The pool starts immediately and workers begin waiting for work.
func NewWorkerPool(workers int) *WorkerPool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	queueSize := max(workers*4, 8)

	p := &WorkerPool{
		workers:    workers,
		workQueues: make([]chan func(), workers),
		done:       make(chan struct{}),
	}
	for i := range workers {
		p.workQueues[i] = make(chan func(), queueSize)
	}
	p.running.Store(true)

	p.wg.Add(workers)
	for i := range workers {
		go p.worker(i)
	}
	return p
}

// SetPanicHandler installs fn to receive the value of a panicking job.
// Without a handler the panic is re-raised and crashes the process.
func (p *WorkerPool) SetPanicHandler(fn func(v any)) {
	if fn == nil {
		p.onPanic.Store(nil)
		return
	}
	p.onPanic.Store(&fn)
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	myQueue := p.workQueues[id]
	for {
		select {
		case <-p.done:
			p.drainQueue(myQueue)
			return

		case work := <-myQueue:
			p.run(work)

		default:
			if stolen := p.steal(id); stolen != nil {
				p.run(stolen)
				continue
			}
			// No work anywhere, block on own queue
			select {
			case <-p.done:
				p.drainQueue(myQueue)
				return
			case work := <-myQueue:
				p.run(work)
			}
		}
	}
}

func (p *WorkerPool) run(work func()) {
	if work == nil {
		return
	}
	p.active.Add(1)
	defer p.active.Add(-1)
	defer func() {
		v := recover()
		if v == nil {
			return
		}
		if h := p.onPanic.Load(); h != nil {
			(*h)(v)
			return
		}
		panic(fmt.Sprintf("parallel: job panicked: %v", v))
	}()
	work()
}

func (p *WorkerPool) drainQueue(queue chan func()) {
	for {
		select {
		case work := <-queue:
			p.run(work)
		default:
			return
		}
	}
}

// steal takes one job from another worker's queue, or returns nil.
func (p *WorkerPool) steal(myID int) func() {
	for i := range p.workers {
		if i == myID {
			continue
		}
		select {
		case work := <-p.workQueues[i]:
			return work
		default:
		}
	}
	return nil
}

// Submit queues fn on the worker with the shortest queue. It blocks while
// every queue is full and reports false if the pool is closed.
func (p *WorkerPool) Submit(fn func()) bool {
	if fn == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running.Load() {
		return false
	}

	minIdx, minLen := 0, len(p.workQueues[0])
	for i := 1; i < p.workers; i++ {
		if n := len(p.workQueues[i]); n < minLen {
			minIdx, minLen = i, n
		}
	}
	p.workQueues[minIdx] <- fn
	return true
}

// Close stops accepting work, runs every queued job, and stops the
// workers. Close is safe to call multiple times.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if !p.running.CompareAndSwap(true, false) {
		p.mu.Unlock()
		return
	}
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Workers returns the number of workers in the pool.
func (p *WorkerPool) Workers() int { return p.workers }

// IsRunning reports whether the pool accepts work.
func (p *WorkerPool) IsRunning() bool { return p.running.Load() }

// Active returns the number of jobs currently running.
func (p *WorkerPool) Active() int { return int(p.active.Load()) }

// QueuedWork returns the number of jobs waiting for a worker. The value is
// approximate while jobs are being submitted.
func (p *WorkerPool) QueuedWork() int {
	total := 0
	for _, q := range p.workQueues {
		total += len(q)
	}
	return total
}
