package ops

import (
	"fmt"
	"math"
)

// Tolerance defines acceptable numeric drift versus ONNX reference outputs.
type Tolerance struct {
	Abs float64
	Rel float64
}

// KernelTolerances defines per-kernel parity targets used when validating
// the native GST path against an exported reference graph.
var KernelTolerances = map[string]Tolerance{
	"matmul":      {Abs: 1e-4, Rel: 1e-4},
	"linear":      {Abs: 1e-4, Rel: 1e-4},
	"softmax":     {Abs: 1e-5, Rel: 1e-4},
	"conv2d":      {Abs: 2e-4, Rel: 2e-4},
	"batch_norm":  {Abs: 1e-4, Rel: 1e-4},
	"lstm":        {Abs: 5e-4, Rel: 5e-4},
	"attention":   {Abs: 2e-4, Rel: 2e-4},
	"style_embed": {Abs: 1e-3, Rel: 1e-3},
	"gst_scores":  {Abs: 1e-4, Rel: 1e-3},
}

func KernelTolerance(name string) (Tolerance, error) {
	t, ok := KernelTolerances[name]
	if !ok {
		return Tolerance{}, fmt.Errorf("ops: no tolerance configured for kernel %q", name)
	}

	return t, nil
}

// Compare reports the first element where got and want differ by more than
// tol.Abs + tol.Rel*|want|, along with the largest absolute difference seen.
func Compare(got, want []float32, tol Tolerance) (float64, error) {
	if len(got) != len(want) {
		return 0, fmt.Errorf("ops: compare length mismatch %d vs %d", len(got), len(want))
	}

	var worst float64

	for i := range got {
		diff := math.Abs(float64(got[i]) - float64(want[i]))
		worst = max(worst, diff)

		if diff > tol.Abs+tol.Rel*math.Abs(float64(want[i])) || math.IsNaN(diff) {
			return worst, fmt.Errorf("ops: element %d differs: got %v want %v (|diff| %.3g)", i, got[i], want[i], diff)
		}
	}

	return worst, nil
}
