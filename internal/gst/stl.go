package gst

import (
	"errors"
	"fmt"

	"github.com/example/go-gst/internal/runtime/tensor"
)

// STL is the style token layer: a single query per sample attends over the
// tanh-bounded token bank.
type STL struct {
	TokenNum   int64
	TokenWidth int64
	attention  *MultiHeadAttention
}

// NewSTL builds the token layer for cfg. The query width is the encoder
// output width (HiddenSize).
func NewSTL(cfg Config) (*STL, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	attn, err := NewMultiHeadAttention(cfg.HiddenSize, cfg.TokenWidth(), cfg.EmbeddingWidth, cfg.NumHeads)
	if err != nil {
		return nil, err
	}

	return &STL{TokenNum: cfg.TokenNum, TokenWidth: cfg.TokenWidth(), attention: attn}, nil
}

// Attention exposes the underlying attention geometry.
func (s *STL) Attention() *MultiHeadAttention { return s.attention }

// Forward maps encoded vectors [N, QueryDim] to style embeddings [N, E] and
// per-head token weights [heads, N, TokenNum].
func (s *STL) Forward(p *STLParams, inputs *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if p == nil {
		return nil, nil, errors.New("gst: stl params are nil")
	}

	if inputs.Rank() != 2 || inputs.Dim(0) <= 0 {
		return nil, nil, fmt.Errorf("%w: stl input shape %v, want [N, %d]", ErrShape, inputs.Shape(), s.attention.QueryDim)
	}

	n := inputs.Dim(0)

	query, err := inputs.Unsqueeze(1)
	if err != nil {
		return nil, nil, err
	}

	keys, err := s.boundedTokens(p, n)
	if err != nil {
		return nil, nil, err
	}

	out, scores, err := s.attention.Forward(&p.Attention, query, keys)
	if err != nil {
		return nil, nil, err
	}

	style, err := out.Squeeze(1)
	if err != nil {
		return nil, nil, err
	}

	weights, err := scores.Squeeze(2)
	if err != nil {
		return nil, nil, err
	}

	return style, weights, nil
}

// Inference builds style embeddings directly from token weights. weights is
// [TokenNum] or [B, TokenNum]; the result is [B, E] with B = 1 for the
// vector form. The same weights are applied on every head.
func (s *STL) Inference(p *STLParams, weights *tensor.Tensor) (*tensor.Tensor, error) {
	if p == nil {
		return nil, errors.New("gst: stl params are nil")
	}

	if weights == nil {
		return nil, fmt.Errorf("%w: inference weights are nil", ErrShape)
	}

	var batch int64

	switch {
	case weights.Rank() == 1 && weights.Dim(0) == s.TokenNum:
		batch = 1
	case weights.Rank() == 2 && weights.Dim(1) == s.TokenNum && weights.Dim(0) > 0:
		batch = weights.Dim(0)
	default:
		return nil, fmt.Errorf("%w: inference weights shape %v, want [%d] or [B, %d]", ErrShape, weights.Shape(), s.TokenNum, s.TokenNum)
	}

	w, err := weights.Reshape([]int64{1, batch, 1, s.TokenNum})
	if err != nil {
		return nil, err
	}

	w, err = tensor.Expand(w, []int64{int64(s.attention.Heads), batch, 1, s.TokenNum})
	if err != nil {
		return nil, err
	}

	keys, err := s.boundedTokens(p, batch)
	if err != nil {
		return nil, err
	}

	out, err := s.attention.Inference(&p.Attention, keys, w)
	if err != nil {
		return nil, err
	}

	return out.Squeeze(1)
}

// boundedTokens returns tanh(tokens) broadcast to [n, TokenNum, TokenWidth].
func (s *STL) boundedTokens(p *STLParams, n int64) (*tensor.Tensor, error) {
	if err := checkShape("style tokens", p.Tokens, []int64{s.TokenNum, s.TokenWidth}); err != nil {
		return nil, err
	}

	keys, err := tensor.Tanh(p.Tokens).Unsqueeze(0)
	if err != nil {
		return nil, err
	}

	return tensor.Expand(keys, []int64{n, s.TokenNum, s.TokenWidth})
}
