// Package worker runs detached, best-effort background tasks on a bounded
// pool. Callers never wait on submitted work; failures are logged and
// dropped, and the queue is drained on shutdown.
package worker

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var droppedTasks = promauto.NewCounter(prometheus.CounterOpts{
	Name: "worker_pool_dropped_tasks_total",
	Help: "Background tasks dropped because the queue was full.",
})

type Task func(ctx context.Context)

type Config struct {
	Workers   int
	QueueSize int
}

func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 256}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaults.QueueSize
	}
	return c
}

type Pool struct {
	log   *zap.Logger
	tasks chan Task

	mu      sync.Mutex
	started bool
	closed  bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewPool(cfg Config, log *zap.Logger) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		log:   log.Named("worker.pool"),
		tasks: make(chan Task, cfg.QueueSize),
	}
}

// Start spins up the workers. Tasks run with a context that is cancelled on
// Stop, independent of any request context.
func (p *Pool) Start(workers int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	if workers <= 0 {
		workers = DefaultConfig().Workers
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
}

// Submit enqueues a task. It never blocks: when the queue is full the task is
// dropped and logged, so a slow consumer cannot stall the hot path.
func (p *Pool) Submit(task Task) bool {
	if task == nil {
		return false
	}

	// The mutex stays held across the send so Stop cannot close the
	// channel between the closed check and the enqueue.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}

	select {
	case p.tasks <- task:
		return true
	default:
		droppedTasks.Inc()
		p.log.Warn("task queue saturated, dropping task")
		return false
	}
}

// Stop closes the queue, lets the workers drain what is already enqueued,
// then cancels the task context.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed || !p.started {
		p.closed = true
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		<-done
	}
	p.cancel()
	return nil
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.safeRun(ctx, task)
	}
}

func (p *Pool) safeRun(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("background task panicked", zap.Any("panic", r))
		}
	}()
	task(ctx)
}
