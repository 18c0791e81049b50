package tensor

import (
	"fmt"
	"math/bits"
)

// shapeElemCount returns the element count of shape. A rank-0 shape holds
// one element.
func shapeElemCount(shape []int64) (int, error) {
	total := uint64(1)

	for i, d := range shape {
		if d < 0 {
			return 0, fmt.Errorf("tensor: shape %v has negative dimension at %d", shape, i)
		}

		hi, lo := bits.Mul64(total, uint64(d))
		if hi != 0 || lo > uint64(^uint(0)>>1) {
			return 0, fmt.Errorf("tensor: shape %v too large", shape)
		}

		total = lo
	}

	return int(total), nil
}

// normalizeDim resolves a possibly negative axis against rank.
func normalizeDim(dim, rank int) (int, error) {
	if rank < 0 {
		return 0, fmt.Errorf("invalid rank %d", rank)
	}

	d := dim
	if d < 0 {
		d += rank
	}

	if d < 0 || d >= rank {
		return 0, fmt.Errorf("dim %d out of range for rank %d", dim, rank)
	}

	return d, nil
}

// computeStrides returns row-major strides, nil for a scalar.
func computeStrides(shape []int64) []int64 {
	if len(shape) == 0 {
		return nil
	}

	strides := make([]int64, len(shape))
	strides[len(shape)-1] = 1

	for i := len(shape) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * shape[i+1]
	}

	return strides
}

// linearToCoord writes the coordinate of a row-major offset into out.
func linearToCoord(linear int64, shape, strides, out []int64) {
	for i, d := range shape {
		if d == 0 {
			out[i] = 0
			continue
		}

		out[i] = linear / strides[i] % d
	}
}

func coordToLinear(coord, strides []int64) int64 {
	var off int64
	for i, c := range coord {
		off += c * strides[i]
	}

	return off
}
