package tensor

import (
	"errors"
	"fmt"
	"math"
)

func Tanh(x *Tensor) *Tensor {
	return x.Map(func(v float32) float32 { return float32(math.Tanh(float64(v))) })
}

func ReLU(x *Tensor) *Tensor {
	return x.Map(func(v float32) float32 { return max(v, 0) })
}

func Sigmoid(x *Tensor) *Tensor {
	return x.Map(func(v float32) float32 { return float32(1 / (1 + math.Exp(-float64(v)))) })
}

// Softmax normalizes x along dim. Each lane is shifted by its maximum first,
// and a lane whose maximum is infinite or NaN is an error.
func Softmax(x *Tensor, dim int) (*Tensor, error) {
	if x == nil {
		return nil, errors.New("tensor: softmax on nil tensor")
	}

	d, err := normalizeDim(dim, x.Rank())
	if err != nil {
		return nil, fmt.Errorf("tensor: softmax: %w", err)
	}

	outer, axis, inner := splitAxis(x.shape, d)
	if axis == 0 {
		return nil, fmt.Errorf("tensor: softmax over empty axis %d of %v", d, x.shape)
	}

	out := x.Clone()

	for lane := range outer * inner {
		base := (lane/inner)*axis*inner + lane%inner
		if err := softmaxLane(out.data, base, axis, inner); err != nil {
			return nil, fmt.Errorf("tensor: softmax lane %d: %w", lane, err)
		}
	}

	return out, nil
}

func softmaxLane(data []float32, base, n, stride int64) error {
	peak := float32(math.Inf(-1))
	for i := range n {
		peak = max(peak, data[base+i*stride])
	}

	if p := float64(peak); math.IsInf(p, 0) || math.IsNaN(p) {
		return fmt.Errorf("non-finite maximum %v", peak)
	}

	var sum float64

	for i := range n {
		e := math.Exp(float64(data[base+i*stride] - peak))
		data[base+i*stride] = float32(e)
		sum += e
	}

	inv := float32(1 / sum)
	for i := range n {
		data[base+i*stride] *= inv
	}

	return nil
}

// splitAxis views shape as [outer, axis, inner] around dim.
func splitAxis(shape []int64, dim int) (outer, axis, inner int64) {
	outer, inner = 1, 1

	for _, s := range shape[:dim] {
		outer *= s
	}

	for _, s := range shape[dim+1:] {
		inner *= s
	}

	return outer, shape[dim], inner
}
