package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingProcessor struct {
	count int32
	fail  bool
}

func (p *countingProcessor) Process(ctx context.Context, item WorkItem) error {
	atomic.AddInt32(&p.count, 1)
	if p.fail {
		return errors.New("fail")
	}
	return nil
}

type blockingProcessor struct {
	once    sync.Once
	started chan struct{}
}

func (p *blockingProcessor) Process(ctx context.Context, item WorkItem) error {
	p.once.Do(func() { close(p.started) })
	<-ctx.Done()
	return ctx.Err()
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestQueue_StartEnqueueShutdown(t *testing.T) {
	q := NewQueue(discardLogger(), 2, 1)
	p := &countingProcessor{fail: true}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Start(ctx, p); err != nil {
		t.Fatalf("queue start: %v", err)
	}

	var cleaned int32
	item := WorkItem{
		Job:     Job{ID: "id1", SizeBytes: 2048},
		Cleanup: func() error { atomic.AddInt32(&cleaned, 1); return nil },
	}
	if err := q.Enqueue(item); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&cleaned) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := atomic.LoadInt32(&p.count); n != 1 {
		t.Fatalf("expected processor to be called once, got %d", n)
	}
	if atomic.LoadInt32(&cleaned) != 1 {
		t.Fatalf("cleanup should run even when processing fails")
	}

	q.Shutdown(2 * time.Second)
	if err := q.Enqueue(item); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("enqueue after shutdown = %v", err)
	}
}

func TestQueue_EnqueueBeforeStartFails(t *testing.T) {
	q := NewQueue(discardLogger(), 1, 1)
	if err := q.Enqueue(WorkItem{Job: Job{ID: "x"}}); !errors.Is(err, ErrQueueNotStarted) {
		t.Fatalf("enqueue before start = %v", err)
	}
}

func TestQueue_FullAndShutdownCancelsRunningJob(t *testing.T) {
	q := NewQueue(discardLogger(), 1, 1)
	p := &blockingProcessor{started: make(chan struct{})}
	if err := q.Start(context.Background(), p); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := q.Enqueue(WorkItem{Job: Job{ID: "running"}}); err != nil {
		t.Fatalf("enqueue running: %v", err)
	}
	<-p.started
	if err := q.Enqueue(WorkItem{Job: Job{ID: "waiting"}}); err != nil {
		t.Fatalf("enqueue waiting: %v", err)
	}
	if q.Pending() != 1 {
		t.Fatalf("pending = %d", q.Pending())
	}
	if err := q.Enqueue(WorkItem{Job: Job{ID: "overflow"}}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	done := make(chan struct{})
	go func() {
		q.Shutdown(2 * time.Second)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatalf("shutdown did not cancel the running job")
	}
}
