package ops

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/go-gst/internal/runtime/tensor"
)

// BatchStats holds the per-channel statistics observed in one training-mode
// BatchNorm2D call. Var is the unbiased estimate, ready to be folded into
// running statistics.
type BatchStats struct {
	Mean []float32
	Var  []float32
}

// BatchNorm2D normalizes x [N, C, H, W] per channel and applies the affine
// gamma/beta ([C] each).
//
// In evaluation mode the running mean/variance are used and stats is nil.
// In training mode the batch mean and biased variance are used for
// normalization and the observed statistics are returned; running tensors
// are not modified.
func BatchNorm2D(x, gamma, beta, runMean, runVar *tensor.Tensor, eps float32, training bool) (*tensor.Tensor, *BatchStats, error) {
	if x == nil || gamma == nil || beta == nil {
		return nil, nil, errors.New("ops: batchnorm requires non-nil input/gamma/beta")
	}

	shape := x.Shape()
	if len(shape) != 4 {
		return nil, nil, fmt.Errorf("ops: batchnorm expects rank 4 input, got %v", shape)
	}

	n, c, h, w := shape[0], shape[1], shape[2], shape[3]

	for name, p := range map[string]*tensor.Tensor{"gamma": gamma, "beta": beta} {
		if p.Rank() != 1 || p.Dim(0) != c {
			return nil, nil, fmt.Errorf("ops: batchnorm %s shape %v does not match channels %d", name, p.Shape(), c)
		}
	}

	if eps <= 0 {
		return nil, nil, errors.New("ops: batchnorm eps must be > 0")
	}

	plane := h * w
	count := n * plane

	mean := make([]float64, c)
	variance := make([]float64, c)

	xd := x.RawData()

	var stats *BatchStats

	if training {
		if count <= 1 {
			return nil, nil, fmt.Errorf("ops: batchnorm needs more than 1 value per channel in training, got input %v", shape)
		}

		stats = &BatchStats{Mean: make([]float32, c), Var: make([]float32, c)}

		for ch := range c {
			var sum float64

			for b := range n {
				base := (b*c + ch) * plane
				for _, v := range xd[base : base+plane] {
					sum += float64(v)
				}
			}

			mu := sum / float64(count)

			var sq float64

			for b := range n {
				base := (b*c + ch) * plane
				for _, v := range xd[base : base+plane] {
					d := float64(v) - mu
					sq += d * d
				}
			}

			mean[ch] = mu
			variance[ch] = sq / float64(count)
			stats.Mean[ch] = float32(mu)
			stats.Var[ch] = float32(sq / float64(count-1))
		}
	} else {
		if runMean == nil || runVar == nil {
			return nil, nil, errors.New("ops: batchnorm evaluation requires running mean/var")
		}

		if runMean.ElemCount() != int(c) || runVar.ElemCount() != int(c) {
			return nil, nil, fmt.Errorf("ops: batchnorm running stats length %d/%d do not match channels %d", runMean.ElemCount(), runVar.ElemCount(), c)
		}

		for ch := range c {
			mean[ch] = float64(runMean.RawData()[ch])
			variance[ch] = float64(runVar.RawData()[ch])
		}
	}

	out, err := tensor.Zeros(shape)
	if err != nil {
		return nil, nil, err
	}

	od := out.RawData()
	gd := gamma.RawData()
	bd := beta.RawData()

	for ch := range c {
		scale := float32(float64(gd[ch]) / math.Sqrt(variance[ch]+float64(eps)))
		shift := bd[ch] - float32(mean[ch])*scale

		for b := range n {
			base := (b*c + ch) * plane
			src := xd[base : base+plane]
			dst := od[base : base+plane]

			for i, v := range src {
				dst[i] = v*scale + shift
			}
		}
	}

	return out, stats, nil
}
