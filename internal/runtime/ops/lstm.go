package ops

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/go-gst/internal/runtime/tensor"
)

// LSTMWeights holds one direction of a single-layer LSTM in PyTorch layout.
// Gate rows are ordered input, forget, cell, output.
type LSTMWeights struct {
	WeightIH *tensor.Tensor // [4*hidden, input]
	WeightHH *tensor.Tensor // [4*hidden, hidden]
	BiasIH   *tensor.Tensor // [4*hidden]
	BiasHH   *tensor.Tensor // [4*hidden]
}

// Hidden returns the hidden width implied by WeightHH.
func (w *LSTMWeights) Hidden() int64 {
	if w == nil || w.WeightHH == nil {
		return 0
	}

	return w.WeightHH.Dim(1)
}

func (w *LSTMWeights) validate(input int64) error {
	if w == nil || w.WeightIH == nil || w.WeightHH == nil || w.BiasIH == nil || w.BiasHH == nil {
		return errors.New("ops: lstm weights are incomplete")
	}

	hidden := w.Hidden()
	gates := 4 * hidden

	switch {
	case hidden <= 0:
		return fmt.Errorf("ops: lstm hidden size must be > 0, weight_hh shape %v", w.WeightHH.Shape())
	case w.WeightHH.Rank() != 2 || w.WeightHH.Dim(0) != gates:
		return fmt.Errorf("ops: lstm weight_hh shape %v, want [%d %d]", w.WeightHH.Shape(), gates, hidden)
	case w.WeightIH.Rank() != 2 || w.WeightIH.Dim(0) != gates || w.WeightIH.Dim(1) != input:
		return fmt.Errorf("ops: lstm weight_ih shape %v, want [%d %d]", w.WeightIH.Shape(), gates, input)
	case w.BiasIH.Rank() != 1 || w.BiasIH.Dim(0) != gates:
		return fmt.Errorf("ops: lstm bias_ih shape %v, want [%d]", w.BiasIH.Shape(), gates)
	case w.BiasHH.Rank() != 1 || w.BiasHH.Dim(0) != gates:
		return fmt.Errorf("ops: lstm bias_hh shape %v, want [%d]", w.BiasHH.Shape(), gates)
	}

	return nil
}

// LSTMFinalHidden runs one LSTM direction over x [N, T, input] from zero
// initial state and returns the final hidden state [N, hidden]. With reverse
// set, the sequence is consumed from the last timestep to the first.
func LSTMFinalHidden(x *tensor.Tensor, w *LSTMWeights, reverse bool) (*tensor.Tensor, error) {
	if x == nil {
		return nil, errors.New("ops: lstm input is nil")
	}

	if x.Rank() != 3 {
		return nil, fmt.Errorf("ops: lstm expects [batch, time, input], got %v", x.Shape())
	}

	n, steps, input := x.Dim(0), x.Dim(1), x.Dim(2)
	if err := w.validate(input); err != nil {
		return nil, err
	}

	if steps <= 0 {
		return nil, fmt.Errorf("ops: lstm requires at least one timestep, got %v", x.Shape())
	}

	hidden := w.Hidden()
	gates := 4 * hidden

	// Input projections for every timestep at once: [N, T, 4H].
	xg, err := tensor.Linear(x, w.WeightIH, w.BiasIH)
	if err != nil {
		return nil, fmt.Errorf("ops: lstm input projection: %w", err)
	}

	xgd := xg.RawData()
	whh := w.WeightHH.RawData()
	bhh := w.BiasHH.RawData()

	h := make([]float32, n*hidden)
	c := make([]float32, n*hidden)
	g := make([]float32, gates)

	for b := range n {
		hb := h[b*hidden : (b+1)*hidden]
		cb := c[b*hidden : (b+1)*hidden]

		for s := range steps {
			t := s
			if reverse {
				t = steps - 1 - s
			}

			src := xgd[(b*steps+t)*gates : (b*steps+t+1)*gates]
			for j := range gates {
				g[j] = src[j] + bhh[j] + tensor.DotProduct(whh[j*hidden:(j+1)*hidden], hb)
			}

			for j := range hidden {
				ig := sigmoid32(g[j])
				fg := sigmoid32(g[hidden+j])
				cg := float32(math.Tanh(float64(g[2*hidden+j])))
				og := sigmoid32(g[3*hidden+j])

				cb[j] = fg*cb[j] + ig*cg
				hb[j] = og * float32(math.Tanh(float64(cb[j])))
			}
		}
	}

	out, err := tensor.New(h, []int64{n, hidden})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// BiLSTMFinalHidden runs both directions and concatenates their final hidden
// states as [forward | backward]: [N, 2*hidden].
func BiLSTMFinalHidden(x *tensor.Tensor, forward, backward *LSTMWeights) (*tensor.Tensor, error) {
	fw, err := LSTMFinalHidden(x, forward, false)
	if err != nil {
		return nil, fmt.Errorf("ops: bilstm forward: %w", err)
	}

	bw, err := LSTMFinalHidden(x, backward, true)
	if err != nil {
		return nil, fmt.Errorf("ops: bilstm backward: %w", err)
	}

	return tensor.Concat([]*tensor.Tensor{fw, bw}, -1)
}

func sigmoid32(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}
