package ops

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/go-gst/internal/runtime/tensor"
)

// SplitHeads cuts the last dimension of x [..., U] into heads chunks and
// stacks them on a new leading axis: [heads, ..., U/heads].
func SplitHeads(x *tensor.Tensor, heads int) (*tensor.Tensor, error) {
	if x == nil {
		return nil, errors.New("ops: split heads input is nil")
	}

	if heads <= 0 {
		return nil, fmt.Errorf("ops: split heads requires heads > 0, got %d", heads)
	}

	units := x.Dim(-1)
	if units%int64(heads) != 0 {
		return nil, fmt.Errorf("ops: split heads: width %d not divisible by %d heads", units, heads)
	}

	parts, err := x.Split(-1, units/int64(heads))
	if err != nil {
		return nil, fmt.Errorf("ops: split heads: %w", err)
	}

	return tensor.Stack(parts, 0)
}

// MergeHeads inverts SplitHeads: [heads, ..., d] -> [..., heads*d].
func MergeHeads(x *tensor.Tensor) (*tensor.Tensor, error) {
	if x == nil {
		return nil, errors.New("ops: merge heads input is nil")
	}

	if x.Rank() < 2 {
		return nil, fmt.Errorf("ops: merge heads requires rank >= 2, got %d", x.Rank())
	}

	parts, err := x.Split(0, 1)
	if err != nil {
		return nil, fmt.Errorf("ops: merge heads: %w", err)
	}

	for i, p := range parts {
		parts[i], err = p.Squeeze(0)
		if err != nil {
			return nil, fmt.Errorf("ops: merge heads: %w", err)
		}
	}

	return tensor.Concat(parts, -1)
}

// AttentionScores computes softmax(q·kᵀ * scale) over the key axis.
// q shape: [..., tq, d], k shape: [..., tk, d]; output: [..., tq, tk].
func AttentionScores(q, k *tensor.Tensor, scale float32) (*tensor.Tensor, error) {
	if q == nil || k == nil {
		return nil, errors.New("ops: attention scores require non-nil q/k")
	}

	if q.Rank() < 2 || k.Rank() < 2 {
		return nil, errors.New("ops: attention scores require rank >= 2 inputs")
	}

	if q.Dim(-1) != k.Dim(-1) {
		return nil, fmt.Errorf("ops: attention q/k depth mismatch %d vs %d", q.Dim(-1), k.Dim(-1))
	}

	kT, err := k.Transpose(-1, -2)
	if err != nil {
		return nil, fmt.Errorf("ops: attention transpose k: %w", err)
	}

	scores, err := tensor.MatMul(q, kT)
	if err != nil {
		return nil, fmt.Errorf("ops: attention q*k^T: %w", err)
	}

	probs, err := tensor.Softmax(scores.Scale(scale), -1)
	if err != nil {
		return nil, fmt.Errorf("ops: attention softmax: %w", err)
	}

	return probs, nil
}

// WeightedSum combines values with attention weights.
// probs shape: [B..., tq, tk], v shape: [B..., tk, dv]; output: [B..., tq, dv].
// Leading dimensions must match exactly.
func WeightedSum(probs, v *tensor.Tensor) (*tensor.Tensor, error) {
	if probs == nil || v == nil {
		return nil, errors.New("ops: weighted sum requires non-nil probs/values")
	}

	pShape := probs.Shape()
	vShape := v.Shape()

	if len(pShape) < 2 || len(pShape) != len(vShape) {
		return nil, fmt.Errorf("ops: weighted sum rank mismatch %v vs %v", pShape, vShape)
	}

	for i := range len(pShape) - 2 {
		if pShape[i] != vShape[i] {
			return nil, fmt.Errorf("ops: weighted sum batch mismatch %v vs %v", pShape, vShape)
		}
	}

	tq := pShape[len(pShape)-2]
	tk := pShape[len(pShape)-1]

	if vShape[len(vShape)-2] != tk {
		return nil, fmt.Errorf("ops: weighted sum key/value sequence mismatch %d vs %d", tk, vShape[len(vShape)-2])
	}

	dv := vShape[len(vShape)-1]

	outShape := append([]int64(nil), pShape[:len(pShape)-1]...)
	outShape = append(outShape, dv)

	out, err := tensor.Zeros(outShape)
	if err != nil {
		return nil, err
	}

	pd := probs.RawData()
	vd := v.RawData()
	od := out.RawData()

	blocks := int64(len(od)) / max(tq*dv, 1)
	for b := range blocks {
		for qi := range tq {
			dst := od[(b*tq+qi)*dv : (b*tq+qi+1)*dv]
			row := pd[(b*tq+qi)*tk : (b*tq+qi+1)*tk]

			for ki, w := range row {
				base := (b*tk + int64(ki)) * dv
				tensor.Axpy(dst, w, vd[base:base+dv])
			}
		}
	}

	return out, nil
}

// Attention computes scaled dot-product attention with an explicit scale and
// returns both the output [..., tq, dv] and the weights [..., tq, tk].
func Attention(q, k, v *tensor.Tensor, scale float32) (*tensor.Tensor, *tensor.Tensor, error) {
	if v == nil {
		return nil, nil, errors.New("ops: attention requires non-nil values")
	}

	if k != nil && v.Rank() >= 2 && k.Dim(-2) != v.Dim(-2) {
		return nil, nil, fmt.Errorf("ops: attention key/value sequence mismatch %d vs %d", k.Dim(-2), v.Dim(-2))
	}

	probs, err := AttentionScores(q, k, scale)
	if err != nil {
		return nil, nil, err
	}

	out, err := WeightedSum(probs, v)
	if err != nil {
		return nil, nil, err
	}

	return out, probs, nil
}

// InvSqrtScale returns 1/sqrt(d).
func InvSqrtScale(d int64) float32 {
	return float32(1.0 / math.Sqrt(float64(d)))
}
