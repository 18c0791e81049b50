package server

import (
	"context"
	"errors"

	"github.com/example/go-gst/internal/gst"
	"github.com/example/go-gst/internal/onnx"
	"github.com/example/go-gst/internal/runtime/tensor"
)

// NativeEmbedder runs the pure-Go GST model in evaluation mode.
type NativeEmbedder struct {
	model  *gst.Model
	params *gst.Params
}

func NewNativeEmbedder(model *gst.Model, params *gst.Params) (*NativeEmbedder, error) {
	if model == nil || params == nil {
		return nil, errors.New("server: native embedder needs a model and params")
	}

	return &NativeEmbedder{model: model, params: params}, nil
}

func (n *NativeEmbedder) Embed(ctx context.Context, contours *tensor.Tensor) (style, scores *tensor.Tensor, err error) {
	out, err := runCtx(ctx, func() (*gst.Output, error) {
		return n.model.Forward(n.params, contours, gst.EvalMode())
	})
	if err != nil {
		return nil, nil, err
	}

	return out.Style, out.Scores, nil
}

func (n *NativeEmbedder) Infer(ctx context.Context, weights *tensor.Tensor) (*tensor.Tensor, error) {
	return runCtx(ctx, func() (*tensor.Tensor, error) {
		return n.model.Inference(n.params, weights)
	})
}

// ONNXEmbedder runs Embed through an exported graph. Inference has no graph
// of its own and uses the native token bank.
type ONNXEmbedder struct {
	graph  *onnx.Graph
	native *NativeEmbedder
}

func NewONNXEmbedder(graph *onnx.Graph, native *NativeEmbedder) (*ONNXEmbedder, error) {
	if graph == nil || native == nil {
		return nil, errors.New("server: onnx embedder needs a graph and a native fallback")
	}

	return &ONNXEmbedder{graph: graph, native: native}, nil
}

func (o *ONNXEmbedder) Embed(ctx context.Context, contours *tensor.Tensor) (style, scores *tensor.Tensor, err error) {
	return o.graph.Embed(ctx, contours)
}

func (o *ONNXEmbedder) Infer(ctx context.Context, weights *tensor.Tensor) (*tensor.Tensor, error) {
	return o.native.Infer(ctx, weights)
}

// runCtx runs fn on its own goroutine so a deadline can cut the wait short.
// The computation still finishes in the background, holding the request's
// worker slot until it does.
func runCtx[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T

	if err := ctx.Err(); err != nil {
		return zero, err
	}

	slot := slotFrom(ctx)
	if slot != nil {
		slot.hold()
	}

	type result struct {
		v   T
		err error
	}

	done := make(chan result, 1)

	go func() {
		v, err := fn()
		if slot != nil {
			slot.done()
		}

		done <- result{v, err}
	}()

	select {
	case res := <-done:
		return res.v, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
