package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrPoolClosed is returned for tasks submitted after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Task is one unit of work executed against a worker-owned connection.
type Task func(ctx context.Context, client Backend) (interface{}, error)

// Result carries a task outcome through the pool's completion channel.
type Result struct {
	Value interface{}
	Err   error
}

type job struct {
	task Task
	out  chan Result
}

// Pool runs tasks over a fixed set of workers. Each worker dials exactly
// one connection at spawn time and keeps it for the pool's lifetime, so
// connection setup cost is paid once, not per task. The pool never
// retries failed tasks; retry policy lives with the caller.
type Pool struct {
	jobs    chan job
	quit    chan struct{}
	clients []Backend
	wg      sync.WaitGroup

	closeOnce sync.Once
}

// SpawnPool dials workers connections eagerly and starts them. If any
// dial fails, already-opened connections are closed and the spawn fails.
func SpawnPool(ctx context.Context, dialer Dialer, workers int) (*Pool, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", workers)
	}

	clients := make([]Backend, 0, workers)
	for i := 0; i < workers; i++ {
		client, err := dialer.Dial(ctx)
		if err != nil {
			for _, opened := range clients {
				opened.Close()
			}
			return nil, fmt.Errorf("spawn worker %d: %w", i, err)
		}
		clients = append(clients, client)
	}

	p := &Pool{
		jobs:    make(chan job),
		quit:    make(chan struct{}),
		clients: clients,
	}
	for _, client := range clients {
		p.wg.Add(1)
		go p.worker(ctx, client)
	}

	return p, nil
}

func (p *Pool) worker(ctx context.Context, client Backend) {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case j := <-p.jobs:
			value, err := j.task(ctx, client)
			j.out <- Result{Value: value, Err: err}
		}
	}
}

// Workers reports the pool size, which also bounds in-flight tasks.
func (p *Pool) Workers() int {
	return len(p.clients)
}

// Submit schedules a task and returns a single-result channel. A panic
// inside the task is not recovered; an error is delivered via Result.
func (p *Pool) Submit(ctx context.Context, task Task) <-chan Result {
	out := make(chan Result, 1)
	select {
	case p.jobs <- job{task: task, out: out}:
	case <-p.quit:
		out <- Result{Err: ErrPoolClosed}
	case <-ctx.Done():
		out <- Result{Err: ctx.Err()}
	}
	return out
}

// Map schedules all tasks and yields results in completion order, not
// submission order. Callers needing ordered output must reorder.
func (p *Pool) Map(ctx context.Context, tasks []Task) <-chan Result {
	out := make(chan Result, len(tasks))
	var wg sync.WaitGroup
	for _, task := range tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			out <- <-p.Submit(ctx, t)
		}(task)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Close stops accepting work, waits for in-flight tasks, and closes all
// worker connections.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)
		p.wg.Wait()
		for _, client := range p.clients {
			client.Close()
		}
	})
}
