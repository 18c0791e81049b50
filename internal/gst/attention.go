package gst

import (
	"errors"
	"fmt"

	"github.com/example/go-gst/internal/runtime/ops"
	"github.com/example/go-gst/internal/runtime/tensor"
)

// MultiHeadAttention attends from a query sequence over a key/value source
// with Heads parallel heads of width Units/Heads.
//
// Scores are scaled by 1/sqrt(KeyDim), the width of the key source before
// projection, not by the per-head width. Existing PyTorch checkpoints
// depend on this.
type MultiHeadAttention struct {
	QueryDim int64
	KeyDim   int64
	Units    int64
	Heads    int
}

// NewMultiHeadAttention validates the widths; units must divide evenly by heads.
func NewMultiHeadAttention(queryDim, keyDim, units int64, heads int) (*MultiHeadAttention, error) {
	switch {
	case queryDim <= 0 || keyDim <= 0 || units <= 0:
		return nil, fmt.Errorf("%w: attention dims must be > 0, got query=%d key=%d units=%d", ErrConfig, queryDim, keyDim, units)
	case heads <= 0:
		return nil, fmt.Errorf("%w: attention heads must be > 0, got %d", ErrConfig, heads)
	case units%int64(heads) != 0:
		return nil, fmt.Errorf("%w: attention units %d not divisible by %d heads", ErrConfig, units, heads)
	}

	return &MultiHeadAttention{QueryDim: queryDim, KeyDim: keyDim, Units: units, Heads: heads}, nil
}

// Forward projects query [N, Tq, QueryDim] and key [N, Tk, KeyDim], attends
// per head and returns out [N, Tq, Units] and the weights [heads, N, Tq, Tk].
func (a *MultiHeadAttention) Forward(p *AttentionParams, query, key *tensor.Tensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if p == nil {
		return nil, nil, errors.New("gst: attention params are nil")
	}

	if err := p.validate(a.QueryDim, a.KeyDim, a.Units); err != nil {
		return nil, nil, err
	}

	if query.Rank() != 3 || query.Dim(2) != a.QueryDim {
		return nil, nil, fmt.Errorf("%w: attention query shape %v, want [N, Tq, %d]", ErrShape, query.Shape(), a.QueryDim)
	}

	if key.Rank() != 3 || key.Dim(2) != a.KeyDim || key.Dim(0) != query.Dim(0) {
		return nil, nil, fmt.Errorf("%w: attention key shape %v, want [%d, Tk, %d]", ErrShape, key.Shape(), query.Dim(0), a.KeyDim)
	}

	qs, err := a.project(query, p.Query)
	if err != nil {
		return nil, nil, fmt.Errorf("gst: attention query: %w", err)
	}

	ks, err := a.project(key, p.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("gst: attention key: %w", err)
	}

	vs, err := a.project(key, p.Value)
	if err != nil {
		return nil, nil, fmt.Errorf("gst: attention value: %w", err)
	}

	out, scores, err := ops.Attention(qs, ks, vs, ops.InvSqrtScale(a.KeyDim))
	if err != nil {
		return nil, nil, fmt.Errorf("gst: attention: %w", err)
	}

	merged, err := ops.MergeHeads(out)
	if err != nil {
		return nil, nil, fmt.Errorf("gst: attention merge: %w", err)
	}

	return merged, scores, nil
}

// Inference applies externally supplied weights [heads, N, Tq, Tk] to the
// projected values of key [N, Tk, KeyDim]. Query and key projections are
// skipped. Weights are not checked for normalization.
func (a *MultiHeadAttention) Inference(p *AttentionParams, key, weights *tensor.Tensor) (*tensor.Tensor, error) {
	if p == nil || p.Value == nil {
		return nil, errors.New("gst: attention value projection is nil")
	}

	if err := checkShape("attention value", p.Value, []int64{a.Units, a.KeyDim}); err != nil {
		return nil, err
	}

	if key.Rank() != 3 || key.Dim(2) != a.KeyDim {
		return nil, fmt.Errorf("%w: attention key shape %v, want [N, Tk, %d]", ErrShape, key.Shape(), a.KeyDim)
	}

	want := []int64{int64(a.Heads), key.Dim(0), weights.Dim(2), key.Dim(1)}
	if err := checkShape("attention weights", weights, want); err != nil {
		return nil, err
	}

	vs, err := a.project(key, p.Value)
	if err != nil {
		return nil, fmt.Errorf("gst: attention value: %w", err)
	}

	out, err := ops.WeightedSum(weights, vs)
	if err != nil {
		return nil, fmt.Errorf("gst: attention weighted sum: %w", err)
	}

	merged, err := ops.MergeHeads(out)
	if err != nil {
		return nil, fmt.Errorf("gst: attention merge: %w", err)
	}

	return merged, nil
}

// project applies a bias-free projection and splits the result into heads:
// [N, T, in] -> [heads, N, T, Units/heads].
func (a *MultiHeadAttention) project(x, weight *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := tensor.Linear(x, weight, nil)
	if err != nil {
		return nil, err
	}

	return ops.SplitHeads(y, a.Heads)
}
