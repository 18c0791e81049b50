package ops

import (
	"fmt"
	"math/rand/v2"

	"github.com/example/go-gst/internal/runtime/tensor"
)

// Dropout zeroes each element with probability p and scales survivors by
// 1/(1-p). A nil rng disables dropout and returns a copy of x.
func Dropout(x *tensor.Tensor, p float32, rng *rand.Rand) (*tensor.Tensor, error) {
	if x == nil {
		return nil, fmt.Errorf("ops: dropout input is nil")
	}

	if p < 0 || p > 1 {
		return nil, fmt.Errorf("ops: dropout probability must be in [0, 1], got %v", p)
	}

	if rng == nil || p == 0 {
		return x.Clone(), nil
	}

	if p == 1 {
		return tensor.Zeros(x.Shape())
	}

	keep := 1 / (1 - p)

	return x.Map(func(v float32) float32 {
		if rng.Float32() < p {
			return 0
		}

		return v * keep
	}), nil
}
