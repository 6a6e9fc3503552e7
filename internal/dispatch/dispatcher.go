// Package dispatch runs follow-up handshake work off the connection goroutine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrStopped   = errors.New("dispatch: dispatcher stopped")
	ErrQueueFull = errors.New("dispatch: queue full")
)

// Task is one unit of deferred work. Tasks own copies of everything they need.
type Task interface {
	Name() string
	Run(ctx context.Context)
}

// Options configures a Dispatcher.
type Options struct {
	Workers     int
	QueueSize   int           // per worker
	TaskTimeout time.Duration // 0 = no deadline
}

// Dispatcher is a sharded worker pool. Tasks scheduled with the same key run
// on the same worker, so work for one connection is never reordered.
type Dispatcher struct {
	shards  []chan Task
	timeout time.Duration
	log     *zap.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func New(opts Options, log *zap.Logger) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		shards:  make([]chan Task, opts.Workers),
		timeout: opts.TaskTimeout,
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
	}
	for i := range d.shards {
		d.shards[i] = make(chan Task, opts.QueueSize)
		d.wg.Add(1)
		go d.worker(i, d.shards[i])
	}
	return d
}

// Schedule queues t on the worker owning key. It never blocks.
func (d *Dispatcher) Schedule(key uint64, t Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return ErrStopped
	}
	select {
	case d.shards[key%uint64(len(d.shards))] <- t:
		return nil
	default:
		return fmt.Errorf("%w: task %s", ErrQueueFull, t.Name())
	}
}

// Stop refuses new tasks, lets queued tasks finish and waits for the workers.
// Tasks still running when ctx expires see their context cancelled.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		for _, ch := range d.shards {
			close(ch)
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(id int, tasks <-chan Task) {
	defer d.wg.Done()
	for t := range tasks {
		d.run(id, t)
	}
}

func (d *Dispatcher) run(id int, t Task) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("任務 panic",
				zap.Int("worker", id),
				zap.String("task", t.Name()),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	ctx := d.ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	t.Run(ctx)
}
