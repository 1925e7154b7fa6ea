package publish

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_LimitsConcurrency(t *testing.T) {
	pool := NewPool(2, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	var running, peak int32
	for i := 0; i < 6; i++ {
		pool.Go(context.Background(), func(ctx context.Context) {
			n := atomic.AddInt32(&running, 1)
			for {
				p := atomic.LoadInt32(&peak)
				if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		})
	}
	pool.Wait()

	if peak > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak)
	}
	if peak == 0 {
		t.Error("no job ran")
	}
}

func TestPool_CanceledWhileWaiting_StillRunsWithCanceledContext(t *testing.T) {
	pool := NewPool(1, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	release := make(chan struct{})
	pool.Go(context.Background(), func(ctx context.Context) {
		<-release
	})

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var gotErr error
	done := make(chan struct{})
	pool.Go(ctx, func(ctx context.Context) {
		mu.Lock()
		gotErr = ctx.Err()
		mu.Unlock()
		close(done)
	})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job was not invoked after cancellation")
	}
	close(release)
	pool.Wait()

	mu.Lock()
	defer mu.Unlock()
	if gotErr == nil {
		t.Error("expected canceled context")
	}
}

func TestNewPool_DefaultConcurrency(t *testing.T) {
	pool := NewPool(0, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if cap(pool.sem) != 4 {
		t.Errorf("capacity = %d, want 4", cap(pool.sem))
	}
}
