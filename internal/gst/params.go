package gst

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/example/go-gst/internal/runtime/ops"
	"github.com/example/go-gst/internal/runtime/tensor"
)

// Params is the complete learned state of a GST module.
//
// A Params value has a single owner. Forward and Inference only read it, so
// any number of calls may share one Params concurrently. The owner mutates it
// (ApplyBatchStats, or an optimizer step writing into RawData) only while no
// call is in flight; callers that need a stable snapshot across an update use
// Clone.
type Params struct {
	Encoder EncoderParams
	STL     STLParams
}

// EncoderParams holds the pitch-contour encoder weights.
type EncoderParams struct {
	Stages   []ConvStage
	Forward  ops.LSTMWeights
	Backward ops.LSTMWeights
}

// ConvStage holds one convolution and its batch normalization.
type ConvStage struct {
	Weight      *tensor.Tensor // [out, in, kh, kw]
	Bias        *tensor.Tensor // [out]
	Gamma       *tensor.Tensor // [out]
	Beta        *tensor.Tensor // [out]
	RunningMean *tensor.Tensor // [out]
	RunningVar  *tensor.Tensor // [out]
}

// STLParams holds the style token bank and its attention projections.
type STLParams struct {
	Tokens    *tensor.Tensor // [token_num, E/heads]
	Attention AttentionParams
}

// AttentionParams holds the three bias-free projections, PyTorch [out, in].
type AttentionParams struct {
	Query *tensor.Tensor // [U, query_dim]
	Key   *tensor.Tensor // [U, key_dim]
	Value *tensor.Tensor // [U, key_dim]
}

// NewParams creates freshly initialized parameters for cfg: Xavier-uniform
// convolution kernels, N(0, 0.5) style tokens, PyTorch default uniform
// initialization for biases, LSTM and projection weights, and identity batch
// normalization.
func NewParams(cfg Config, rng *rand.Rand) (*Params, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if rng == nil {
		return nil, errors.New("gst: params init requires an rng")
	}

	init := initializer{rng: rng}
	p := &Params{}

	for _, st := range cfg.Stages() {
		fanIn := st.InChannels * st.KernelHeight * st.KernelWidth
		fanOut := st.OutChannels * st.KernelHeight * st.KernelWidth

		p.Encoder.Stages = append(p.Encoder.Stages, ConvStage{
			Weight:      init.uniform(xavierBound(fanIn, fanOut), st.KernelShape()...),
			Bias:        init.uniform(1/math.Sqrt(float64(fanIn)), st.OutChannels),
			Gamma:       init.constant(1, st.OutChannels),
			Beta:        init.constant(0, st.OutChannels),
			RunningMean: init.constant(0, st.OutChannels),
			RunningVar:  init.constant(1, st.OutChannels),
		})
	}

	hidden := cfg.LSTMHidden()
	lstmBound := 1 / math.Sqrt(float64(hidden))

	for _, w := range []*ops.LSTMWeights{&p.Encoder.Forward, &p.Encoder.Backward} {
		w.WeightIH = init.uniform(lstmBound, 4*hidden, cfg.LSTMInput())
		w.WeightHH = init.uniform(lstmBound, 4*hidden, hidden)
		w.BiasIH = init.uniform(lstmBound, 4*hidden)
		w.BiasHH = init.uniform(lstmBound, 4*hidden)
	}

	units := cfg.EmbeddingWidth
	keyDim := cfg.TokenWidth()

	p.STL.Tokens = init.normal(0.5, cfg.TokenNum, keyDim)
	p.STL.Attention = AttentionParams{
		Query: init.uniform(1/math.Sqrt(float64(cfg.HiddenSize)), units, cfg.HiddenSize),
		Key:   init.uniform(1/math.Sqrt(float64(keyDim)), units, keyDim),
		Value: init.uniform(1/math.Sqrt(float64(keyDim)), units, keyDim),
	}

	return p, nil
}

// Validate checks every parameter shape against cfg and wraps ErrShape.
func (p *Params) Validate(cfg Config) error {
	if p == nil {
		return fmt.Errorf("%w: params are nil", ErrShape)
	}

	stages := cfg.Stages()
	if len(p.Encoder.Stages) != len(stages) {
		return fmt.Errorf("%w: %d convolution stages in params, config has %d", ErrShape, len(p.Encoder.Stages), len(stages))
	}

	for i, st := range stages {
		ps := p.Encoder.Stages[i]
		ch := []int64{st.OutChannels}

		for _, c := range []struct {
			name string
			t    *tensor.Tensor
			want []int64
		}{
			{"weight", ps.Weight, st.KernelShape()},
			{"bias", ps.Bias, ch},
			{"gamma", ps.Gamma, ch},
			{"beta", ps.Beta, ch},
			{"running_mean", ps.RunningMean, ch},
			{"running_var", ps.RunningVar, ch},
		} {
			if err := checkShape(fmt.Sprintf("stage %d %s", i, c.name), c.t, c.want); err != nil {
				return err
			}
		}
	}

	hidden := cfg.LSTMHidden()
	for _, dir := range []struct {
		name string
		w    *ops.LSTMWeights
	}{{"forward", &p.Encoder.Forward}, {"backward", &p.Encoder.Backward}} {
		name, w := dir.name, dir.w

		if err := checkShape("lstm "+name+" weight_ih", w.WeightIH, []int64{4 * hidden, cfg.LSTMInput()}); err != nil {
			return err
		}

		if err := checkShape("lstm "+name+" weight_hh", w.WeightHH, []int64{4 * hidden, hidden}); err != nil {
			return err
		}

		if err := checkShape("lstm "+name+" bias_ih", w.BiasIH, []int64{4 * hidden}); err != nil {
			return err
		}

		if err := checkShape("lstm "+name+" bias_hh", w.BiasHH, []int64{4 * hidden}); err != nil {
			return err
		}
	}

	keyDim := cfg.TokenWidth()
	units := cfg.EmbeddingWidth

	if err := checkShape("style tokens", p.STL.Tokens, []int64{cfg.TokenNum, keyDim}); err != nil {
		return err
	}

	return p.STL.Attention.validate(cfg.HiddenSize, keyDim, units)
}

func (a *AttentionParams) validate(queryDim, keyDim, units int64) error {
	if err := checkShape("attention query", a.Query, []int64{units, queryDim}); err != nil {
		return err
	}

	if err := checkShape("attention key", a.Key, []int64{units, keyDim}); err != nil {
		return err
	}

	return checkShape("attention value", a.Value, []int64{units, keyDim})
}

// Clone returns a deep copy.
func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}

	out := &Params{
		Encoder: EncoderParams{
			Stages:   make([]ConvStage, len(p.Encoder.Stages)),
			Forward:  cloneLSTM(p.Encoder.Forward),
			Backward: cloneLSTM(p.Encoder.Backward),
		},
		STL: STLParams{
			Tokens: p.STL.Tokens.Clone(),
			Attention: AttentionParams{
				Query: p.STL.Attention.Query.Clone(),
				Key:   p.STL.Attention.Key.Clone(),
				Value: p.STL.Attention.Value.Clone(),
			},
		},
	}

	for i, st := range p.Encoder.Stages {
		out.Encoder.Stages[i] = ConvStage{
			Weight:      st.Weight.Clone(),
			Bias:        st.Bias.Clone(),
			Gamma:       st.Gamma.Clone(),
			Beta:        st.Beta.Clone(),
			RunningMean: st.RunningMean.Clone(),
			RunningVar:  st.RunningVar.Clone(),
		}
	}

	return out
}

// ApplyBatchStats folds the batch statistics of a training-mode forward pass
// into the running statistics: running = (1-momentum)*running + momentum*batch.
// It is the only mutation Params supports itself and must be called by the
// owner between calls.
func (p *Params) ApplyBatchStats(stats []*ops.BatchStats, momentum float32) error {
	if p == nil {
		return errors.New("gst: apply batch stats on nil params")
	}

	if momentum < 0 || momentum > 1 {
		return fmt.Errorf("gst: momentum must be in [0, 1], got %v", momentum)
	}

	if len(stats) != len(p.Encoder.Stages) {
		return fmt.Errorf("%w: %d batch stats for %d stages", ErrShape, len(stats), len(p.Encoder.Stages))
	}

	for i, s := range stats {
		st := p.Encoder.Stages[i]
		if s == nil {
			return fmt.Errorf("%w: stage %d has no batch stats", ErrShape, i)
		}

		mean := st.RunningMean.RawData()
		vr := st.RunningVar.RawData()

		if len(s.Mean) != len(mean) || len(s.Var) != len(vr) {
			return fmt.Errorf("%w: stage %d batch stats width %d/%d, want %d", ErrShape, i, len(s.Mean), len(s.Var), len(mean))
		}

		for c := range mean {
			mean[c] = (1-momentum)*mean[c] + momentum*s.Mean[c]
			vr[c] = (1-momentum)*vr[c] + momentum*s.Var[c]
		}
	}

	return nil
}

// Count returns the number of scalar parameters, running statistics included.
func (p *Params) Count() int {
	total := 0
	for _, nt := range stateDict(p) {
		total += (*nt.t).ElemCount()
	}

	return total
}

func cloneLSTM(w ops.LSTMWeights) ops.LSTMWeights {
	return ops.LSTMWeights{
		WeightIH: w.WeightIH.Clone(),
		WeightHH: w.WeightHH.Clone(),
		BiasIH:   w.BiasIH.Clone(),
		BiasHH:   w.BiasHH.Clone(),
	}
}

func checkShape(name string, t *tensor.Tensor, want []int64) error {
	if t == nil {
		return fmt.Errorf("%w: %s is missing", ErrShape, name)
	}

	if got := t.Shape(); !equalShape(got, want) {
		return fmt.Errorf("%w: %s has shape %v, want %v", ErrShape, name, got, want)
	}

	return nil
}

func xavierBound(fanIn, fanOut int64) float64 {
	return math.Sqrt(6 / float64(fanIn+fanOut))
}

type initializer struct {
	rng *rand.Rand
}

func (in initializer) uniform(bound float64, shape ...int64) *tensor.Tensor {
	return in.fill(shape, func() float32 {
		return float32((in.rng.Float64()*2 - 1) * bound)
	})
}

func (in initializer) normal(std float64, shape ...int64) *tensor.Tensor {
	return in.fill(shape, func() float32 {
		return float32(in.rng.NormFloat64() * std)
	})
}

func (in initializer) constant(v float32, shape ...int64) *tensor.Tensor {
	return in.fill(shape, func() float32 { return v })
}

func (in initializer) fill(shape []int64, next func() float32) *tensor.Tensor {
	t, err := tensor.Zeros(shape)
	if err != nil {
		// Shapes come from a validated Config.
		panic(fmt.Sprintf("gst: init shape %v: %v", shape, err))
	}

	data := t.RawData()
	for i := range data {
		data[i] = next()
	}

	return t
}
