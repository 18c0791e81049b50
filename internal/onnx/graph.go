package onnx

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/go-gst/internal/runtime/tensor"
)

// Tensor names of an exported GST graph.
const (
	InputBinLocations = "bin_locations"
	OutputStyleEmbed  = "style_embed"
	OutputGSTScores   = "gst_scores"
)

type graphRunner interface {
	Run(ctx context.Context, inputs map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error)
	Close()
}

// Graph runs an exported GST module: [N, F, T] contours in, style embedding
// [N, E] and attention scores out.
type Graph struct {
	runner graphRunner
}

// OpenGraph loads the GST graph at path with the ONNX Runtime in cfg.
func OpenGraph(path string, cfg RunnerConfig) (*Graph, error) {
	r, err := NewRunner(path, cfg)
	if err != nil {
		return nil, err
	}

	return &Graph{runner: r}, nil
}

// Embed runs the graph on a contour batch.
func (g *Graph) Embed(ctx context.Context, contours *tensor.Tensor) (style, scores *tensor.Tensor, err error) {
	if contours == nil || contours.Rank() != 3 {
		var shape []int64
		if contours != nil {
			shape = contours.Shape()
		}

		return nil, nil, fmt.Errorf("onnx: contours must be [N, F, T], got %v", shape)
	}

	outputs, err := g.runner.Run(ctx, map[string]*tensor.Tensor{InputBinLocations: contours})
	if err != nil {
		return nil, nil, err
	}

	return splitOutputs(outputs, contours.Dim(0))
}

func (g *Graph) Close() {
	if g != nil && g.runner != nil {
		g.runner.Close()
	}
}

func splitOutputs(outputs map[string]*tensor.Tensor, batch int64) (style, scores *tensor.Tensor, err error) {
	style, ok := outputs[OutputStyleEmbed]
	if !ok || style == nil {
		return nil, nil, errors.New("onnx: graph output " + OutputStyleEmbed + " missing")
	}

	scores, ok = outputs[OutputGSTScores]
	if !ok || scores == nil {
		return nil, nil, errors.New("onnx: graph output " + OutputGSTScores + " missing")
	}

	// Some exports keep the singleton query axis: [N, 1, E].
	if style.Rank() == 3 && style.Dim(1) == 1 {
		if style, err = style.Squeeze(1); err != nil {
			return nil, nil, err
		}
	}

	if style.Rank() != 2 || style.Dim(0) != batch {
		return nil, nil, fmt.Errorf("onnx: %s shape %v, want [%d, E]", OutputStyleEmbed, style.Shape(), batch)
	}

	return style, scores, nil
}
