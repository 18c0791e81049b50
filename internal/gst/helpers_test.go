package gst

import (
	"math"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/example/go-gst/internal/runtime/tensor"
)

// smallConfig keeps every axis distinct so transposition mistakes surface as
// shape errors.
func smallConfig() Config {
	return Config{
		Bands:          4,
		OutChannels:    []int64{3, 2},
		KernelHeights:  []int64{3, 1},
		KernelWidth:    3,
		HiddenSize:     6,
		TokenNum:       5,
		EmbeddingWidth: 8,
		NumHeads:       2,
		Dropout:        0.5,
		BatchNormEps:   1e-5,
	}
}

func newTestParams(t *testing.T, cfg Config, seed uint64) *Params {
	t.Helper()

	p, err := NewParams(cfg, rand.New(rand.NewPCG(seed, seed+1)))
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}

	return p
}

func randomContours(t *testing.T, seed uint64, shape ...int64) *tensor.Tensor {
	t.Helper()

	rng := rand.New(rand.NewPCG(seed, 99))

	n := int64(1)
	for _, d := range shape {
		n *= d
	}

	data := make([]float32, n)
	for i := range data {
		data[i] = rng.Float32()
	}

	return mustTensorT(t, data, shape)
}

func mustTensorT(t *testing.T, data []float32, shape []int64) *tensor.Tensor {
	t.Helper()

	tt, err := tensor.New(data, shape)
	if err != nil {
		t.Fatalf("tensor.New(%v): %v", shape, err)
	}

	return tt
}

func equalApprox(got, want []float32, tol float64) bool {
	if len(got) != len(want) {
		return false
	}

	for i := range got {
		if math.Abs(float64(got[i]-want[i])) > tol {
			return false
		}
	}

	return true
}

func assertShape(t *testing.T, name string, x *tensor.Tensor, want ...int64) {
	t.Helper()

	if !equalShape(x.Shape(), want) {
		t.Fatalf("%s shape = %v, want %v", name, x.Shape(), want)
	}
}

func assertErrContains(t *testing.T, err error, substr string) {
	t.Helper()

	if err == nil {
		t.Fatalf("expected error containing %q, got nil", substr)
	}

	if !strings.Contains(err.Error(), substr) {
		t.Fatalf("error %q does not contain %q", err.Error(), substr)
	}
}

// assertDistributions checks that every row of the trailing axis is a
// probability distribution.
func assertDistributions(t *testing.T, scores *tensor.Tensor) {
	t.Helper()

	width := int(scores.Dim(-1))
	data := scores.RawData()

	for row := 0; row < len(data)/width; row++ {
		var sum float64

		for _, p := range data[row*width : (row+1)*width] {
			if p < 0 {
				t.Fatalf("row %d has negative weight %v", row, p)
			}

			sum += float64(p)
		}

		if math.Abs(sum-1) > 1e-5 {
			t.Fatalf("row %d sums to %v", row, sum)
		}
	}
}
