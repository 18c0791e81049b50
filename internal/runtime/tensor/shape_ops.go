package tensor

import (
	"errors"
	"fmt"
	"slices"
)

// Narrow slices the tensor along a single dimension.
func (t *Tensor) Narrow(dim int, start, length int64) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: narrow on nil tensor")
	}

	dim, err := normalizeDim(dim, len(t.shape))
	if err != nil {
		return nil, fmt.Errorf("tensor: narrow: %w", err)
	}

	if start < 0 || length < 0 || start+length > t.shape[dim] {
		return nil, fmt.Errorf("tensor: narrow: range [%d:%d] out of bounds for dim %d size %d", start, start+length, dim, t.shape[dim])
	}

	outer, size, inner := splitAxis(t.shape, dim)
	span := length * inner
	data := make([]float32, 0, outer*span)

	for o := range outer {
		from := (o*size + start) * inner
		data = append(data, t.data[from:from+span]...)
	}

	shape := slices.Clone(t.shape)
	shape[dim] = length

	return newOwned(data, shape), nil
}

// Transpose swaps dim1 and dim2.
func (t *Tensor) Transpose(dim1, dim2 int) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: transpose on nil tensor")
	}

	rank := len(t.shape)

	d1, err := normalizeDim(dim1, rank)
	if err != nil {
		return nil, fmt.Errorf("tensor: transpose dim1: %w", err)
	}

	d2, err := normalizeDim(dim2, rank)
	if err != nil {
		return nil, fmt.Errorf("tensor: transpose dim2: %w", err)
	}

	if d1 == d2 {
		return t.Clone(), nil
	}

	outShape := slices.Clone(t.shape)
	outShape[d1], outShape[d2] = outShape[d2], outShape[d1]

	out, err := Zeros(outShape)
	if err != nil {
		return nil, err
	}

	srcStrides := computeStrides(t.shape)
	outStrides := computeStrides(outShape)
	// Reading the source with swapped strides walks it in output order.
	srcStrides[d1], srcStrides[d2] = srcStrides[d2], srcStrides[d1]
	coord := make([]int64, rank)

	for i := range out.data {
		linearToCoord(int64(i), outShape, outStrides, coord)
		out.data[i] = t.data[coordToLinear(coord, srcStrides)]
	}

	return out, nil
}

// Unsqueeze inserts a dimension of size 1 at dim. dim may equal Rank().
func (t *Tensor) Unsqueeze(dim int) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: unsqueeze on nil tensor")
	}

	dim, err := normalizeDim(dim, len(t.shape)+1)
	if err != nil {
		return nil, fmt.Errorf("tensor: unsqueeze: %w", err)
	}

	return newOwned(slices.Clone(t.data), slices.Insert(slices.Clone(t.shape), dim, 1)), nil
}

// Squeeze removes dimension dim, which must have size 1.
func (t *Tensor) Squeeze(dim int) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: squeeze on nil tensor")
	}

	dim, err := normalizeDim(dim, len(t.shape))
	if err != nil {
		return nil, fmt.Errorf("tensor: squeeze: %w", err)
	}

	if t.shape[dim] != 1 {
		return nil, fmt.Errorf("tensor: squeeze: dim %d of %v has size %d, want 1", dim, t.shape, t.shape[dim])
	}

	return newOwned(slices.Clone(t.data), slices.Delete(slices.Clone(t.shape), dim, dim+1)), nil
}

// Split cuts t into equal chunks of size along dim. The dimension must be
// divisible by size.
func (t *Tensor) Split(dim int, size int64) ([]*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: split on nil tensor")
	}

	dim, err := normalizeDim(dim, len(t.shape))
	if err != nil {
		return nil, fmt.Errorf("tensor: split: %w", err)
	}

	if size <= 0 || t.shape[dim]%size != 0 {
		return nil, fmt.Errorf("tensor: split: dim %d size %d is not divisible into chunks of %d", dim, t.shape[dim], size)
	}

	n := t.shape[dim] / size
	out := make([]*Tensor, 0, n)

	for i := range n {
		part, err := t.Narrow(dim, i*size, size)
		if err != nil {
			return nil, err
		}

		out = append(out, part)
	}

	return out, nil
}

// Stack joins equally shaped tensors along a new dimension dim.
func Stack(tensors []*Tensor, dim int) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, errors.New("tensor: stack requires at least one tensor")
	}

	expanded := make([]*Tensor, len(tensors))

	for i, t := range tensors {
		if t == nil {
			return nil, fmt.Errorf("tensor: stack tensor %d is nil", i)
		}

		if !slices.Equal(t.shape, tensors[0].shape) {
			return nil, fmt.Errorf("tensor: stack tensor %d shape %v does not match %v", i, t.shape, tensors[0].shape)
		}

		u, err := t.Unsqueeze(dim)
		if err != nil {
			return nil, fmt.Errorf("tensor: stack: %w", err)
		}

		expanded[i] = u
	}

	return Concat(expanded, dim)
}

// Concat concatenates tensors along dim.
func Concat(tensors []*Tensor, dim int) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, errors.New("tensor: concat requires at least one tensor")
	}

	first := tensors[0]
	if first == nil {
		return nil, errors.New("tensor: concat tensor 0 is nil")
	}

	rank := len(first.shape)

	dim, err := normalizeDim(dim, rank)
	if err != nil {
		return nil, fmt.Errorf("tensor: concat: %w", err)
	}

	outShape := slices.Clone(first.shape)
	outShape[dim] = 0

	for i, t := range tensors {
		if t == nil {
			return nil, fmt.Errorf("tensor: concat tensor %d is nil", i)
		}

		if len(t.shape) != rank {
			return nil, fmt.Errorf("tensor: concat tensor %d rank %d does not match rank %d", i, len(t.shape), rank)
		}

		if !slices.Equal(t.shape[:dim], first.shape[:dim]) || !slices.Equal(t.shape[dim+1:], first.shape[dim+1:]) {
			return nil, fmt.Errorf("tensor: concat tensor %d shape %v does not match %v outside dim %d", i, t.shape, first.shape, dim)
		}

		outShape[dim] += t.shape[dim]
	}

	total, err := shapeElemCount(outShape)
	if err != nil {
		return nil, err
	}

	outer, _, inner := splitAxis(outShape, dim)
	data := make([]float32, 0, total)

	// Interleave one [size, inner] block from every input per outer index.
	for o := range outer {
		for _, t := range tensors {
			span := t.shape[dim] * inner
			data = append(data, t.data[o*span:(o+1)*span]...)
		}
	}

	return newOwned(data, outShape), nil
}
