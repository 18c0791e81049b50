// Package tensor implements the dense float32 tensors and kernels the GST
// forward pass runs on.
package tensor

import (
	"errors"
	"fmt"
	"slices"
)

// Tensor is a dense row-major float32 tensor. Operations return new tensors
// and leave their inputs untouched.
type Tensor struct {
	shape []int64
	data  []float32
}

// New copies data into a tensor of the given shape.
func New(data []float32, shape []int64) (*Tensor, error) {
	n, err := shapeElemCount(shape)
	if err != nil {
		return nil, err
	}

	if len(data) != n {
		return nil, fmt.Errorf("tensor: data length %d does not match shape %v (%d elements)", len(data), shape, n)
	}

	return &Tensor{shape: slices.Clone(shape), data: slices.Clone(data)}, nil
}

// newOwned wraps data and shape without copying or validating them.
func newOwned(data []float32, shape []int64) *Tensor {
	return &Tensor{shape: shape, data: data}
}

func Zeros(shape []int64) (*Tensor, error) {
	return Full(shape, 0)
}

func Full(shape []int64, value float32) (*Tensor, error) {
	n, err := shapeElemCount(shape)
	if err != nil {
		return nil, err
	}

	data := make([]float32, n)
	if value != 0 {
		for i := range data {
			data[i] = value
		}
	}

	return newOwned(data, slices.Clone(shape)), nil
}

func (t *Tensor) Shape() []int64 {
	if t == nil {
		return nil
	}

	return slices.Clone(t.shape)
}

// Dim returns the size of axis d, counting from the end when d is negative.
// Axes outside the tensor report 0.
func (t *Tensor) Dim(d int) int64 {
	if t == nil {
		return 0
	}

	if d, err := normalizeDim(d, len(t.shape)); err == nil {
		return t.shape[d]
	}

	return 0
}

// Data returns a copy of the elements.
func (t *Tensor) Data() []float32 {
	if t == nil {
		return nil
	}

	return slices.Clone(t.data)
}

// RawData exposes the backing slice. Only the tensor's owner may write to it.
func (t *Tensor) RawData() []float32 {
	if t == nil {
		return nil
	}

	return t.data
}

func (t *Tensor) ElemCount() int {
	if t == nil {
		return 0
	}

	return len(t.data)
}

func (t *Tensor) Rank() int {
	if t == nil {
		return 0
	}

	return len(t.shape)
}

func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}

	return newOwned(slices.Clone(t.data), slices.Clone(t.shape))
}

// Reshape copies t into shape. One axis may be -1 and is inferred.
func (t *Tensor) Reshape(shape []int64) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: reshape on nil tensor")
	}

	resolved, err := inferShape(shape, len(t.data))
	if err != nil {
		return nil, fmt.Errorf("tensor: reshape %v: %w", t.shape, err)
	}

	n, err := shapeElemCount(resolved)
	if err != nil {
		return nil, err
	}

	if n != len(t.data) {
		return nil, fmt.Errorf("tensor: cannot reshape %v (%d elements) to %v (%d elements)", t.shape, len(t.data), resolved, n)
	}

	return newOwned(slices.Clone(t.data), resolved), nil
}

// Map applies fn to every element.
func (t *Tensor) Map(fn func(float32) float32) *Tensor {
	if t == nil {
		return nil
	}

	out := make([]float32, len(t.data))
	for i, v := range t.data {
		out[i] = fn(v)
	}

	return newOwned(out, slices.Clone(t.shape))
}

func (t *Tensor) Scale(s float32) *Tensor {
	return t.Map(func(v float32) float32 { return v * s })
}

func inferShape(shape []int64, total int) ([]int64, error) {
	out := slices.Clone(shape)
	known := int64(1)
	hole := -1

	for i, d := range out {
		switch {
		case d == -1 && hole >= 0:
			return nil, errors.New("only one dimension may be -1")
		case d == -1:
			hole = i
		case d < 0:
			return nil, fmt.Errorf("invalid dimension %d", d)
		default:
			known *= d
		}
	}

	if hole < 0 {
		return out, nil
	}

	if known == 0 || int64(total)%known != 0 {
		return nil, fmt.Errorf("cannot infer dimension for %v from %d elements", shape, total)
	}

	out[hole] = int64(total) / known

	return out, nil
}
