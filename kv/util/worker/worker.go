package worker

import "sync"

type Task interface{}

type TaskHandler interface {
	Handle(t Task)
}

type Starter interface {
	Start()
}

// Pool runs a fixed number of goroutines that drain one shared task queue. Tasks are handled in
// whatever order the goroutines pick them up.
type Pool struct {
	name    string
	size    int
	tasks   chan Task
	closeCh chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	mu      sync.RWMutex
	started bool
	stopped bool
}

const defaultWorkerCapacity = 128

// NewPool creates a pool of size workers over a queue holding up to capacity tasks. A non-positive
// capacity uses the default.
func NewPool(name string, size, capacity int) *Pool {
	if capacity <= 0 {
		capacity = defaultWorkerCapacity
	}
	if size <= 0 {
		size = 1
	}
	return &Pool{
		name:    name,
		size:    size,
		tasks:   make(chan Task, capacity),
		closeCh: make(chan struct{}),
	}
}

func (p *Pool) Name() string { return p.name }

// Start launches the workers. If handler implements Starter, each worker calls Start first.
// Calling Start twice, or after Stop, does nothing.
func (p *Pool) Start(handler TaskHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			if s, ok := handler.(Starter); ok {
				s.Start()
			}
			for {
				select {
				case <-p.closeCh:
					return
				default:
				}
				select {
				case <-p.closeCh:
					return
				case t := <-p.tasks:
					handler.Handle(t)
				}
			}
		}()
	}
}

// Submit queues t, blocking while the queue is full. It returns false if the pool has been stopped.
func (p *Pool) Submit(t Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return false
	}
	select {
	case p.tasks <- t:
		return true
	case <-p.closeCh:
		return false
	}
}

// Stop signals the workers to exit and waits for tasks being handled to finish. Tasks still queued
// are returned in queue order; they will never be handled.
func (p *Pool) Stop() []Task {
	// Wake blocked submitters before waiting for them to leave.
	p.once.Do(func() { close(p.closeCh) })
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	p.wg.Wait()
	var pending []Task
	for {
		select {
		case t := <-p.tasks:
			pending = append(pending, t)
		default:
			return pending
		}
	}
}
