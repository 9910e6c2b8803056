// Package workerpool runs CPU bound jobs on a fixed set of goroutines.
// Jobs are grouped in rooms so one caller can wait for its own jobs
// without caring about anybody else's.
package workerpool

import (
	"errors"
	"runtime"
	"sort"
	"sync"
)

var ErrClosed = errors.New("workerpool: pool closed")

// Config configures a Pool.
type Config struct {
	// WorkerCount defaults to three workers per CPU.
	WorkerCount int
	// GlobalBuffer is the capacity of the shared task queue.
	GlobalBuffer int
}

// Pool is a fixed set of workers draining one task queue.
type Pool struct {
	config    Config
	taskQueue chan task
	mu        sync.RWMutex
	closed    bool
	workers   sync.WaitGroup
}

type task struct {
	index int
	run   func() (interface{}, error)
	room  *Room
}

// Result is the outcome of one job.
type Result struct {
	Index int
	Value interface{}
	Err   error
}

// Room collects the results of the jobs submitted to it.
type Room struct {
	pool    *Pool
	mu      sync.Mutex
	results []Result
	wg      sync.WaitGroup
}

// New starts a Pool.
func New(config Config) *Pool { // A
	if config.WorkerCount < 1 {
		config.WorkerCount = runtime.NumCPU() * 3
	}
	if config.GlobalBuffer < 1 {
		config.GlobalBuffer = 10000
	}

	p := &Pool{
		config:    config,
		taskQueue: make(chan task, config.GlobalBuffer),
	}
	p.workers.Add(config.WorkerCount)
	for i := 0; i < config.WorkerCount; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for t := range p.taskQueue {
		v, err := t.run()
		t.room.mu.Lock()
		t.room.results = append(t.room.results, Result{Index: t.index, Value: v, Err: err})
		t.room.mu.Unlock()
		t.room.wg.Done()
	}
}

// Close stops accepting jobs and waits for queued jobs to finish.
func (p *Pool) Close() { // A
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.taskQueue)
	p.mu.Unlock()
	p.workers.Wait()
}

// CreateRoom returns an empty room on p.
func (p *Pool) CreateRoom() *Room { // A
	return &Room{pool: p}
}

// Submit queues job under index, blocking while the queue is full.
func (r *Room) Submit(index int, job func() (interface{}, error)) error { // A
	r.pool.mu.RLock()
	defer r.pool.mu.RUnlock()
	if r.pool.closed {
		return ErrClosed
	}
	r.wg.Add(1)
	r.pool.taskQueue <- task{index: index, run: job, room: r}
	return nil
}

// Wait blocks until every submitted job is done and returns the results
// ordered by index, together with the error of the lowest failing index.
func (r *Room) Wait() ([]Result, error) { // A
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]Result(nil), r.results...)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	for _, res := range out {
		if res.Err != nil {
			return out, res.Err
		}
	}
	return out, nil
}
