package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// blockingProvider counts concurrent calls and holds each until released.
type blockingProvider struct {
	release chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
}

func (p *blockingProvider) Name() string { return "blocking" }

func (p *blockingProvider) Complete(ctx context.Context, _ Request) (string, error) {
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		old := p.peak.Load()
		if n <= old || p.peak.CompareAndSwap(old, n) {
			break
		}
	}
	select {
	case <-p.release:
		return "ok", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	bp := &blockingProvider{release: make(chan struct{})}
	pool := NewPool(bp, 2)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Complete(context.Background(), Request{UserText: "hi"})
		}()
	}

	time.Sleep(50 * time.Millisecond)
	if peak := bp.peak.Load(); peak > 2 {
		t.Fatalf("peak concurrency = %d, want at most 2", peak)
	}

	close(bp.release)
	wg.Wait()
	if peak := bp.peak.Load(); peak > 2 {
		t.Fatalf("peak concurrency = %d, want at most 2", peak)
	}
}

func TestPoolHonorsCancellationWhileQueued(t *testing.T) {
	bp := &blockingProvider{release: make(chan struct{})}
	defer close(bp.release)
	pool := NewPool(bp, 1)

	// Occupy the only slot.
	go pool.Complete(context.Background(), Request{})
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := pool.Complete(ctx, Request{})
	if err == nil {
		t.Fatal("expected context error for queued request")
	}
}
