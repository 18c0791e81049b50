package tensor

import (
	"errors"
	"fmt"
	"slices"
)

// Expand materialises t broadcast to shape. Size-1 and missing leading
// dimensions of t are repeated; every other dimension must match.
func Expand(t *Tensor, shape []int64) (*Tensor, error) {
	if t == nil {
		return nil, errors.New("tensor: expand on nil tensor")
	}

	outShape, err := broadcastShape(t.shape, shape)
	if err != nil || !slices.Equal(outShape, shape) {
		return nil, fmt.Errorf("tensor: cannot expand %v to %v", t.shape, shape)
	}

	out, err := Zeros(shape)
	if err != nil {
		return nil, err
	}

	// Source strides aligned to the output rank; repeated axes read with
	// stride 0.
	rank := len(shape)
	pad := rank - len(t.shape)
	srcStrides := computeStrides(t.shape)
	readStrides := make([]int64, rank)

	for i := range t.shape {
		if t.shape[i] != 1 {
			readStrides[pad+i] = srcStrides[i]
		}
	}

	outStrides := computeStrides(shape)
	coord := make([]int64, rank)

	for i := range out.data {
		linearToCoord(int64(i), shape, outStrides, coord)
		out.data[i] = t.data[coordToLinear(coord, readStrides)]
	}

	return out, nil
}

// broadcastShape returns the NumPy broadcast of a and b.
func broadcastShape(a, b []int64) ([]int64, error) {
	rank := max(len(a), len(b))
	out := make([]int64, rank)

	dimAt := func(s []int64, i int) int64 {
		if j := i - (rank - len(s)); j >= 0 {
			return s[j]
		}

		return 1
	}

	for i := range rank {
		ad, bd := dimAt(a, i), dimAt(b, i)

		switch {
		case ad == bd || ad == 1:
			out[i] = bd
		case bd == 1:
			out[i] = ad
		default:
			return nil, fmt.Errorf("cannot broadcast shapes %v and %v", a, b)
		}
	}

	return out, nil
}

// broadcastBatchOffset maps output batch coordinates onto a source whose
// batch shape may be shorter or contain size-1 axes.
func broadcastBatchOffset(batchCoords, srcBatchShape, srcBatchStrides []int64) int64 {
	pad := len(batchCoords) - len(srcBatchShape)

	var off int64

	for i, d := range srcBatchShape {
		if d != 1 {
			off += batchCoords[pad+i] * srcBatchStrides[i]
		}
	}

	return off
}
