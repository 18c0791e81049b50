package server_test

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/go-gst/internal/runtime/tensor"
	"github.com/example/go-gst/internal/server"
)

// blockingEmbedder waits for release or context cancellation.
type blockingEmbedder struct {
	release  chan struct{}
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (b *blockingEmbedder) Embed(ctx context.Context, _ *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	n := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)

	for {
		peak := b.peak.Load()
		if n <= peak || b.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}

	style, _ := tensor.Zeros([]int64{1, 2})

	return style, style, nil
}

func (b *blockingEmbedder) Infer(ctx context.Context, _ *tensor.Tensor) (*tensor.Tensor, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEmbed_RequestTimeoutReturns504(t *testing.T) {
	emb := &blockingEmbedder{release: make(chan struct{})}
	h := server.NewHandler(emb, server.WithRequestTimeout(20*time.Millisecond))

	rec := post(h, "/v1/embed", `{"contours":[[[1]]]}`)
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("want 504, got %d", rec.Code)
	}

	rec = post(h, "/v1/inference", `{"weights":[1]}`)
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("inference: want 504, got %d", rec.Code)
	}
}

func TestEmbed_WorkerLimitThrottles(t *testing.T) {
	emb := &blockingEmbedder{release: make(chan struct{})}
	h := server.NewHandler(emb, server.WithWorkers(2), server.WithRequestTimeout(5*time.Second))

	var wg sync.WaitGroup

	codes := make([]int, 5)
	for i := range codes {
		wg.Add(1)

		go func() {
			defer wg.Done()

			codes[i] = post(h, "/v1/embed", `{"contours":[[[1]]]}`).Code
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for emb.inFlight.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	// Give the remaining requests a chance to (incorrectly) start.
	time.Sleep(20 * time.Millisecond)
	close(emb.release)
	wg.Wait()

	if peak := emb.peak.Load(); peak > 2 {
		t.Fatalf("peak concurrency = %d, want <= 2", peak)
	}

	for i, code := range codes {
		if code != http.StatusOK {
			t.Errorf("request %d: want 200, got %d", i, code)
		}
	}
}

func TestEmbed_WaiterCancelledWhileThrottled(t *testing.T) {
	emb := &blockingEmbedder{release: make(chan struct{})}
	h := server.NewHandler(emb, server.WithWorkers(1), server.WithRequestTimeout(5*time.Second))

	go post(h, "/v1/embed", `{"contours":[[[1]]]}`)

	deadline := time.Now().Add(2 * time.Second)
	for emb.inFlight.Load() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	rec := postCtx(ctx, h, "/v1/embed", `{"contours":[[[1]]]}`)
	close(emb.release)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("want 503 for a waiter whose context ended, got %d", rec.Code)
	}
}
