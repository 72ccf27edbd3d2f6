package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPoolRunsSubmittedTasks(t *testing.T) {
	pool := NewPool(Config{Workers: 2, QueueSize: 8}, zap.NewNop())
	pool.Start(2)

	var ran int32
	done := make(chan struct{})
	ok := pool.Submit(func(ctx context.Context) {
		atomic.AddInt32(&ran, 1)
		close(done)
	})
	if !ok {
		t.Fatal("submit rejected with free queue capacity")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if atomic.LoadInt32(&ran) != 1 {
		t.Fatalf("expected 1 task run, got %d", ran)
	}
}

func TestPoolDropsWhenQueueFull(t *testing.T) {
	pool := NewPool(Config{Workers: 1, QueueSize: 1}, zap.NewNop())

	block := make(chan struct{})
	// Not started yet, so the first task sits in the queue.
	if !pool.Submit(func(ctx context.Context) { <-block }) {
		t.Fatal("first submit should be queued")
	}
	if pool.Submit(func(ctx context.Context) {}) {
		t.Fatal("second submit should be dropped with a full queue")
	}

	pool.Start(1)
	close(block)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestPoolSurvivesPanickingTask(t *testing.T) {
	pool := NewPool(Config{Workers: 1, QueueSize: 4}, zap.NewNop())
	pool.Start(1)

	done := make(chan struct{})
	pool.Submit(func(ctx context.Context) { panic("boom") })
	pool.Submit(func(ctx context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker died after panic")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestPoolSubmitDuringStopIsSafe(t *testing.T) {
	pool := NewPool(Config{Workers: 2, QueueSize: 4}, zap.NewNop())
	pool.Start(2)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 200; j++ {
				pool.Submit(func(ctx context.Context) {})
			}
		}()
	}

	close(start)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	wg.Wait()

	if pool.Submit(func(ctx context.Context) {}) {
		t.Fatal("submit accepted after stop")
	}
}

func TestPoolStopDrainsQueue(t *testing.T) {
	pool := NewPool(Config{Workers: 1, QueueSize: 16}, zap.NewNop())

	var ran int32
	for i := 0; i < 10; i++ {
		pool.Submit(func(ctx context.Context) { atomic.AddInt32(&ran, 1) })
	}
	pool.Start(1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := atomic.LoadInt32(&ran); got != 10 {
		t.Fatalf("expected queue drained on stop, ran %d of 10", got)
	}
}
