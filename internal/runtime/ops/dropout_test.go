package ops

import (
	"math/rand/v2"
	"testing"
)

func TestDropoutNilRNGIsIdentity(t *testing.T) {
	x := mustTensor(t, ramp(32), []int64{4, 8})

	out, err := Dropout(x, 0.5, nil)
	if err != nil {
		t.Fatalf("dropout: %v", err)
	}

	if !equalApprox(out.Data(), x.Data(), 0) {
		t.Fatal("dropout without rng changed values")
	}
}

func TestDropoutScalesSurvivors(t *testing.T) {
	x := mustTensor(t, ramp(4096), []int64{4096})
	rng := rand.New(rand.NewPCG(42, 42))

	out, err := Dropout(x, 0.25, rng)
	if err != nil {
		t.Fatalf("dropout: %v", err)
	}

	dropped := 0

	for i, v := range out.Data() {
		src := x.Data()[i]

		switch {
		case v == 0:
			dropped++
		case !equalApprox([]float32{v}, []float32{src / 0.75}, 1e-6):
			t.Fatalf("element %d = %v, want 0 or %v", i, v, src/0.75)
		}
	}

	// ~25% dropped; zeros already present in x push the count up slightly.
	if dropped < 800 || dropped > 1500 {
		t.Fatalf("dropped %d of 4096 at p=0.25", dropped)
	}
}

func TestDropoutDeterministicWithSeed(t *testing.T) {
	x := mustTensor(t, ramp(64), []int64{64})

	a, err := Dropout(x, 0.5, rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		t.Fatal(err)
	}

	b, err := Dropout(x, 0.5, rand.New(rand.NewPCG(1, 2)))
	if err != nil {
		t.Fatal(err)
	}

	if !equalApprox(a.Data(), b.Data(), 0) {
		t.Fatal("same seed produced different masks")
	}
}

func TestDropoutEdges(t *testing.T) {
	x := mustTensor(t, ramp(8), []int64{8})
	rng := rand.New(rand.NewPCG(0, 0))

	out, err := Dropout(x, 1, rng)
	if err != nil {
		t.Fatal(err)
	}

	for _, v := range out.Data() {
		if v != 0 {
			t.Fatalf("p=1 left %v", v)
		}
	}

	_, err = Dropout(x, 1.5, rng)
	assertErrContains(t, err, "probability")
}
