package tensor

import (
	"errors"
	"fmt"
	"slices"
)

// MatMul multiplies the trailing matrices of a [..., m, k] and b [..., k, n].
// Leading batch dimensions broadcast.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if a == nil || b == nil {
		return nil, errors.New("tensor: matmul requires non-nil inputs")
	}

	ra, rb := a.Rank(), b.Rank()
	if ra < 2 || rb < 2 {
		return nil, fmt.Errorf("tensor: matmul requires rank >= 2, got %v and %v", a.shape, b.shape)
	}

	m, k, n := a.shape[ra-2], a.shape[ra-1], b.shape[rb-1]
	if b.shape[rb-2] != k {
		return nil, fmt.Errorf("tensor: matmul inner dimension mismatch: %v x %v", a.shape, b.shape)
	}

	aBatch, bBatch := a.shape[:ra-2], b.shape[:rb-2]

	batch, err := broadcastShape(aBatch, bBatch)
	if err != nil {
		return nil, fmt.Errorf("tensor: matmul batch: %w", err)
	}

	count, err := shapeElemCount(batch)
	if err != nil {
		return nil, err
	}

	out, err := Zeros(append(slices.Clone(batch), m, n))
	if err != nil {
		return nil, err
	}

	// Rows of b's transpose are contiguous, so each output element is one
	// dot product.
	bt := transposeMatrices(b.data, int64(len(b.data))/max(k*n, 1), k, n)

	aStrides := matrixStrides(aBatch, m*k)
	bStrides := matrixStrides(bBatch, k*n)
	batchStrides := computeStrides(batch)

	parallelFor(count*int(m), getWorkers(), func(lo, hi int) {
		coord := make([]int64, len(batch))

		for r := lo; r < hi; r++ {
			idx, i := int64(r)/m, int64(r)%m
			linearToCoord(idx, batch, batchStrides, coord)

			aRow := a.data[broadcastBatchOffset(coord, aBatch, aStrides)+i*k:][:k]
			bOff := broadcastBatchOffset(coord, bBatch, bStrides)
			dst := out.data[(idx*m+i)*n:][:n]

			for j := range n {
				dst[j] = dotF32(aRow, bt[bOff+j*k:][:k])
			}
		}
	})

	return out, nil
}

func matrixStrides(batch []int64, size int64) []int64 {
	strides := computeStrides(batch)
	for i := range strides {
		strides[i] *= size
	}

	return strides
}

// transposeMatrices swaps the last two axes of count row-major [rows, cols]
// matrices.
func transposeMatrices(src []float32, count, rows, cols int64) []float32 {
	dst := make([]float32, len(src))
	size := rows * cols

	for c := range count {
		s, d := src[c*size:][:size], dst[c*size:][:size]
		for r := range rows {
			for q := range cols {
				d[q*rows+r] = s[r*cols+q]
			}
		}
	}

	return dst
}

// Linear computes x·weightᵀ + bias over the last axis of x. weight is
// [out, in]; bias is [out] or nil.
func Linear(x, weight, bias *Tensor) (*Tensor, error) {
	switch {
	case x == nil || weight == nil:
		return nil, errors.New("tensor: linear requires non-nil x and weight")
	case x.Rank() < 1:
		return nil, errors.New("tensor: linear requires x rank >= 1")
	case weight.Rank() != 2:
		return nil, fmt.Errorf("tensor: linear weight must be rank 2, got %v", weight.shape)
	}

	in, outDim := int(weight.shape[1]), int(weight.shape[0])
	if got := int(x.shape[x.Rank()-1]); got != in {
		return nil, fmt.Errorf("tensor: linear mismatch: x last dim %d, weight in dim %d", got, in)
	}

	if bias != nil && (bias.Rank() != 1 || int(bias.shape[0]) != outDim) {
		return nil, fmt.Errorf("tensor: linear bias shape %v does not match out dim %d", bias.shape, outDim)
	}

	rows := 0
	if in > 0 {
		rows = len(x.data) / in
	}

	y := make([]float32, rows*outDim)

	parallelFor(rows, getWorkers(), func(lo, hi int) {
		for r := lo; r < hi; r++ {
			xr := x.data[r*in:][:in]
			yr := y[r*outDim:][:outDim]

			for o := range yr {
				yr[o] = dotF32(xr, weight.data[o*in:][:in])
			}

			if bias != nil {
				Axpy(yr, 1, bias.data)
			}
		}
	})

	shape := slices.Clone(x.shape)
	shape[len(shape)-1] = int64(outDim)

	return newOwned(y, shape), nil
}
