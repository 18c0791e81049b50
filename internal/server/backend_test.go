package server

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/example/go-gst/internal/gst"
	"github.com/example/go-gst/internal/runtime/tensor"
)

func smallModel(t *testing.T) (*gst.Model, *gst.Params) {
	t.Helper()

	cfg := gst.Config{
		Bands:          4,
		OutChannels:    []int64{3, 2},
		KernelHeights:  []int64{3, 1},
		KernelWidth:    3,
		HiddenSize:     6,
		TokenNum:       5,
		EmbeddingWidth: 8,
		NumHeads:       2,
		Dropout:        0.5,
		BatchNormEps:   1e-5,
	}

	m, err := gst.NewModel(cfg)
	if err != nil {
		t.Fatalf("NewModel: %v", err)
	}

	p, err := gst.NewParams(cfg, rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}

	return m, p
}

func TestNativeEmbedderEmbed(t *testing.T) {
	m, p := smallModel(t)

	emb, err := NewNativeEmbedder(m, p)
	if err != nil {
		t.Fatal(err)
	}

	contours, err := tensor.Zeros([]int64{3, 4, 7})
	if err != nil {
		t.Fatal(err)
	}

	style, scores, err := emb.Embed(context.Background(), contours)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if got := style.Shape(); got[0] != 3 || got[1] != 8 {
		t.Fatalf("style shape = %v, want [3 8]", got)
	}

	if got := scores.Shape(); got[0] != 2 || got[1] != 3 || got[2] != 5 {
		t.Fatalf("scores shape = %v, want [2 3 5]", got)
	}
}

func TestNativeEmbedderShapeError(t *testing.T) {
	m, p := smallModel(t)
	emb, _ := NewNativeEmbedder(m, p)

	contours, _ := tensor.Zeros([]int64{1, 5, 7})

	_, _, err := emb.Embed(context.Background(), contours)
	if !errors.Is(err, gst.ErrShape) {
		t.Fatalf("want ErrShape for wrong band count, got %v", err)
	}
}

func TestNativeEmbedderInfer(t *testing.T) {
	m, p := smallModel(t)
	emb, _ := NewNativeEmbedder(m, p)

	weights, _ := tensor.New([]float32{1, 0, 0, 0, 0}, []int64{5})

	style, err := emb.Infer(context.Background(), weights)
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}

	if got := style.Shape(); got[0] != 1 || got[1] != 8 {
		t.Fatalf("style shape = %v, want [1 8]", got)
	}
}

func TestNewEmbeddersRejectNil(t *testing.T) {
	if _, err := NewNativeEmbedder(nil, nil); err == nil {
		t.Error("want error for nil model")
	}

	if _, err := NewONNXEmbedder(nil, nil); err == nil {
		t.Error("want error for nil graph")
	}
}

func TestRunCtxHonoursDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	defer close(release)

	_, err := runCtx(ctx, func() (int, error) {
		<-release
		return 1, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want DeadlineExceeded, got %v", err)
	}
}

func TestRunCtxSkipsWorkWhenAlreadyDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false

	_, err := runCtx(ctx, func() (int, error) {
		called = true
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("err = %v, called = %v", err, called)
	}
}

func TestNestFollowsShape(t *testing.T) {
	x, _ := tensor.New([]float32{1, 2, 3, 4, 5, 6}, []int64{3, 1, 2})

	got, ok := nested(x).([]any)
	if !ok || len(got) != 3 {
		t.Fatalf("nested = %#v", nested(x))
	}

	inner, ok := got[2].([]any)
	if !ok || len(inner) != 1 {
		t.Fatalf("inner = %#v", got[2])
	}

	row, ok := inner[0].([]float32)
	if !ok || row[0] != 5 || row[1] != 6 {
		t.Fatalf("row = %#v", inner[0])
	}

	if nested(nil) != nil {
		t.Error("nested(nil) should be nil")
	}
}
