package ops

import (
	"math"
	"strings"
	"testing"

	"github.com/example/go-gst/internal/runtime/tensor"
)

// ramp returns n values cycling through [-8/17, 8/17].
func ramp(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i%17-8) / 17
	}

	return out
}

func equalApprox(got, want []float32, tol float64) bool {
	if len(got) != len(want) {
		return false
	}

	for i, g := range got {
		if math.Abs(float64(g)-float64(want[i])) > tol {
			return false
		}
	}

	return true
}

func mustTensor(t *testing.T, data []float32, shape []int64) *tensor.Tensor {
	t.Helper()

	x, err := tensor.New(data, shape)
	if err != nil {
		t.Fatalf("tensor %v: %v", shape, err)
	}

	return x
}

func assertErrContains(t *testing.T, err error, want string) {
	t.Helper()

	switch {
	case err == nil:
		t.Fatalf("expected error containing %q", want)
	case !strings.Contains(err.Error(), want):
		t.Fatalf("error %q does not mention %q", err, want)
	}
}
