package gst

import (
	"fmt"

	"github.com/example/go-gst/internal/runtime/ops"
	"github.com/example/go-gst/internal/runtime/tensor"
)

// Model chains the pitch-contour encoder and the style token layer. It holds
// configuration only; all learned state lives in Params.
type Model struct {
	cfg     Config
	encoder *Encoder
	stl     *STL
}

// Output is the result of a full forward pass.
type Output struct {
	Style  *tensor.Tensor // [N, E]
	Scores *tensor.Tensor // [heads, N, TokenNum]
	// Stats holds per-stage batch statistics in training mode, nil otherwise.
	Stats []*ops.BatchStats
}

// NewModel validates cfg and builds the stage descriptors.
func NewModel(cfg Config) (*Model, error) {
	cfg.OutChannels = append([]int64(nil), cfg.OutChannels...)
	cfg.KernelHeights = append([]int64(nil), cfg.KernelHeights...)

	enc, err := NewEncoder(cfg)
	if err != nil {
		return nil, err
	}

	stl, err := NewSTL(cfg)
	if err != nil {
		return nil, err
	}

	return &Model{cfg: cfg, encoder: enc, stl: stl}, nil
}

// Config returns a copy of the model configuration.
func (m *Model) Config() Config {
	cfg := m.cfg
	cfg.OutChannels = append([]int64(nil), m.cfg.OutChannels...)
	cfg.KernelHeights = append([]int64(nil), m.cfg.KernelHeights...)

	return cfg
}

func (m *Model) Encoder() *Encoder { return m.encoder }
func (m *Model) STL() *STL         { return m.stl }

// Forward runs contours [N, Bands, T] through encoder and token layer.
func (m *Model) Forward(p *Params, contours *tensor.Tensor, mode Mode) (*Output, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: params are nil", ErrShape)
	}

	encoded, stats, err := m.encoder.Forward(&p.Encoder, contours, mode)
	if err != nil {
		return nil, err
	}

	style, scores, err := m.stl.Forward(&p.STL, encoded)
	if err != nil {
		return nil, err
	}

	return &Output{Style: style, Scores: scores, Stats: stats}, nil
}

// Inference synthesizes style embeddings from token weights without running
// the encoder. See STL.Inference for accepted shapes.
func (m *Model) Inference(p *Params, weights *tensor.Tensor) (*tensor.Tensor, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: params are nil", ErrShape)
	}

	return m.stl.Inference(&p.STL, weights)
}

// TokenWeights averages the per-head scores into one distribution per
// sample: [heads, N, TokenNum] -> [N, TokenNum]. The result is a valid
// input for Inference.
func (o *Output) TokenWeights() (*tensor.Tensor, error) {
	if o == nil || o.Scores == nil || o.Scores.Rank() != 3 {
		return nil, fmt.Errorf("%w: scores must be [heads, N, tokens]", ErrShape)
	}

	heads, n, tokens := o.Scores.Dim(0), o.Scores.Dim(1), o.Scores.Dim(2)
	src := o.Scores.RawData()
	out := make([]float32, n*tokens)

	for h := range heads {
		for i, v := range src[h*n*tokens : (h+1)*n*tokens] {
			out[i] += v
		}
	}

	inv := 1 / float32(heads)
	for i := range out {
		out[i] *= inv
	}

	return tensor.New(out, []int64{n, tokens})
}
