package ops

import (
	"math"
	"testing"
)

func TestBatchNorm2DTrainingUsesBatchStats(t *testing.T) {
	x := mustTensor(t, []float32{1, 2, 3, 4}, []int64{2, 1, 1, 2})
	gamma := mustTensor(t, []float32{1}, []int64{1})
	beta := mustTensor(t, []float32{0}, []int64{1})

	out, stats, err := BatchNorm2D(x, gamma, beta, nil, nil, 1e-5, true)
	if err != nil {
		t.Fatalf("batchnorm: %v", err)
	}

	want := []float32{-1.3416354, -0.4472118, 0.4472118, 1.3416354}
	if !equalApprox(out.Data(), want, 1e-5) {
		t.Fatalf("batchnorm = %v, want %v", out.Data(), want)
	}

	if stats == nil {
		t.Fatal("expected batch stats in training mode")
	}

	if stats.Mean[0] != 2.5 {
		t.Fatalf("batch mean = %v, want 2.5", stats.Mean[0])
	}

	// Unbiased: sum of squares 5 over count-1 = 3.
	if math.Abs(float64(stats.Var[0])-5.0/3) > 1e-6 {
		t.Fatalf("batch var = %v, want %v", stats.Var[0], 5.0/3)
	}
}

func TestBatchNorm2DTrainingIgnoresRunningStats(t *testing.T) {
	x := mustTensor(t, ramp(3*2*2*2), []int64{3, 2, 2, 2})
	gamma := mustTensor(t, []float32{1, 1}, []int64{2})
	beta := mustTensor(t, []float32{0, 0}, []int64{2})
	runMean := mustTensor(t, []float32{100, -100}, []int64{2})
	runVar := mustTensor(t, []float32{9, 9}, []int64{2})

	withRun, _, err := BatchNorm2D(x, gamma, beta, runMean, runVar, 1e-5, true)
	if err != nil {
		t.Fatalf("batchnorm: %v", err)
	}

	without, _, err := BatchNorm2D(x, gamma, beta, nil, nil, 1e-5, true)
	if err != nil {
		t.Fatalf("batchnorm: %v", err)
	}

	if !equalApprox(withRun.Data(), without.Data(), 0) {
		t.Fatal("training output depends on running statistics")
	}

	if runMean.Data()[0] != 100 || runVar.Data()[1] != 9 {
		t.Fatal("training mode modified running statistics")
	}
}

func TestBatchNorm2DEvalUsesRunningStats(t *testing.T) {
	x := mustTensor(t, []float32{1, 2, 3, 4}, []int64{1, 1, 2, 2})
	gamma := mustTensor(t, []float32{2}, []int64{1})
	beta := mustTensor(t, []float32{1}, []int64{1})
	runMean := mustTensor(t, []float32{0}, []int64{1})
	runVar := mustTensor(t, []float32{1}, []int64{1})

	out, stats, err := BatchNorm2D(x, gamma, beta, runMean, runVar, 1e-5, false)
	if err != nil {
		t.Fatalf("batchnorm: %v", err)
	}

	if stats != nil {
		t.Fatal("eval mode must not report batch stats")
	}

	inv := 1 / math.Sqrt(1+1e-5)
	want := make([]float32, 4)

	for i, v := range []float64{1, 2, 3, 4} {
		want[i] = float32(2*v*inv + 1)
	}

	if !equalApprox(out.Data(), want, 1e-5) {
		t.Fatalf("batchnorm = %v, want %v", out.Data(), want)
	}
}

func TestBatchNorm2DSingleValueTrainingRejected(t *testing.T) {
	x := mustTensor(t, []float32{1, 2}, []int64{1, 2, 1, 1})
	gamma := mustTensor(t, []float32{1, 1}, []int64{2})
	beta := mustTensor(t, []float32{0, 0}, []int64{2})

	_, _, err := BatchNorm2D(x, gamma, beta, nil, nil, 1e-5, true)
	assertErrContains(t, err, "more than 1 value per channel")
}

func TestBatchNorm2DShapeErrors(t *testing.T) {
	x := mustTensor(t, ramp(8), []int64{2, 2, 2})
	gamma := mustTensor(t, []float32{1, 1}, []int64{2})
	beta := mustTensor(t, []float32{0, 0}, []int64{2})

	_, _, err := BatchNorm2D(x, gamma, beta, nil, nil, 1e-5, true)
	assertErrContains(t, err, "rank 4")

	x4 := mustTensor(t, ramp(12), []int64{1, 3, 2, 2})
	_, _, err = BatchNorm2D(x4, gamma, beta, nil, nil, 1e-5, true)
	assertErrContains(t, err, "does not match channels")

	x2 := mustTensor(t, ramp(8), []int64{1, 2, 2, 2})
	_, _, err = BatchNorm2D(x2, gamma, beta, nil, nil, 1e-5, false)
	assertErrContains(t, err, "running mean/var")
}
