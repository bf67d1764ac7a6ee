package hyperanf

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tamirms/hyperanf/internal/broadword"
)

// worker is the private state of one long-lived worker goroutine.
type worker struct {
	id int

	// Counter scratch: t accumulates the merge, prev is its value before the
	// merge, u holds a successor.
	t, prev, u []uint64
	bw         *broadword.Scratch
	buf        *logBuffer // nil in memory mode

	// Harmonic range [from, to), 64-aligned.
	from, to int
	partial  float64
}

// phaseFunc is the work of one worker in one phase.
type phaseFunc func(w *worker) error

// workerPool runs phases on a fixed set of goroutines. A phase starts when
// the coordinator publishes it and ends when every worker has reported back.
type workerPool struct {
	mu         sync.Mutex
	start      *sync.Cond
	allDone    *sync.Cond
	generation uint64
	pending    int
	task       phaseFunc
	completed  bool
	err        error

	workers []*worker
	group   errgroup.Group
}

func newWorkerPool(workers []*worker) *workerPool {
	p := &workerPool{workers: workers}
	p.start = sync.NewCond(&p.mu)
	p.allDone = sync.NewCond(&p.mu)
	for _, w := range workers {
		p.group.Go(func() error {
			p.loop(w)
			return nil
		})
	}
	return p
}

// run executes task on every worker and waits for all of them. It returns
// the first error reported by a worker.
func (p *workerPool) run(task phaseFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.completed {
		return fmt.Errorf("hyperanf: worker pool is shut down")
	}
	p.task = task
	p.pending = len(p.workers)
	p.err = nil
	p.generation++
	p.start.Broadcast()
	for p.pending > 0 {
		p.allDone.Wait()
	}
	p.task = nil
	return p.err
}

func (p *workerPool) loop(w *worker) {
	var seen uint64
	for {
		p.mu.Lock()
		for p.generation == seen && !p.completed {
			p.start.Wait()
		}
		if p.completed {
			p.mu.Unlock()
			return
		}
		seen = p.generation
		task := p.task
		p.mu.Unlock()

		err := runPhase(task, w)

		p.mu.Lock()
		if err != nil && p.err == nil {
			p.err = err
		}
		p.pending--
		if p.pending == 0 {
			p.allDone.Signal()
		}
		p.mu.Unlock()
	}
}

// runPhase runs task, turning a panic into an error so that a faulty graph
// or a corrupt counter aborts the iteration instead of the process.
func runPhase(task phaseFunc, w *worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = fmt.Errorf("worker %d: panic: %w", w.id, e)
			} else {
				err = fmt.Errorf("worker %d: panic: %v", w.id, r)
			}
		}
	}()
	return task(w)
}

// close stops the workers and waits for them to exit.
func (p *workerPool) close() error {
	p.mu.Lock()
	p.completed = true
	p.start.Broadcast()
	p.mu.Unlock()
	return p.group.Wait()
}
