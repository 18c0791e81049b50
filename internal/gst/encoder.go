package gst

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/example/go-gst/internal/runtime/ops"
	"github.com/example/go-gst/internal/runtime/tensor"
)

// Mode selects batch-norm statistics and dropout for a forward pass.
type Mode struct {
	Training bool
	// RNG draws dropout masks. It is required in training mode and ignored
	// otherwise.
	RNG *rand.Rand
}

// EvalMode uses running statistics and disables dropout.
func EvalMode() Mode { return Mode{} }

// TrainMode uses batch statistics and draws dropout masks from rng.
func TrainMode(rng *rand.Rand) Mode { return Mode{Training: true, RNG: rng} }

func (m Mode) String() string {
	if m.Training {
		return "train"
	}

	return "eval"
}

// Encoder is the pitch-contour encoder: a stack of conv2d stages followed by
// a bidirectional LSTM whose final hidden states summarize the time axis.
type Encoder struct {
	bands   int64
	hidden  int64
	input   int64
	dropout float32
	eps     float32
	stages  []Stage
}

// NewEncoder lays out the convolution stages described by cfg.
func NewEncoder(cfg Config) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Encoder{
		bands:   cfg.Bands,
		hidden:  cfg.LSTMHidden(),
		input:   cfg.LSTMInput(),
		dropout: cfg.Dropout,
		eps:     cfg.BatchNormEps,
		stages:  cfg.Stages(),
	}, nil
}

// Stages returns a copy of the stage descriptors.
func (e *Encoder) Stages() []Stage { return append([]Stage(nil), e.stages...) }

// OutputWidth is the encoded vector width, twice the per-direction hidden size.
func (e *Encoder) OutputWidth() int64 { return 2 * e.hidden }

// Forward encodes contours [N, Bands, T] into [N, OutputWidth]. In training
// mode it also returns the batch statistics observed by every stage.
func (e *Encoder) Forward(p *EncoderParams, contours *tensor.Tensor, mode Mode) (*tensor.Tensor, []*ops.BatchStats, error) {
	if p == nil {
		return nil, nil, errors.New("gst: encoder params are nil")
	}

	if contours.Rank() != 3 || contours.Dim(1) != e.bands || contours.Dim(0) <= 0 || contours.Dim(2) <= 0 {
		return nil, nil, fmt.Errorf("%w: contour batch shape %v, want [N, %d, T]", ErrShape, contours.Shape(), e.bands)
	}

	if len(p.Stages) != len(e.stages) {
		return nil, nil, fmt.Errorf("%w: %d convolution stages in params, encoder has %d", ErrShape, len(p.Stages), len(e.stages))
	}

	if mode.Training {
		if contours.Dim(0) < 2 {
			return nil, nil, fmt.Errorf("%w: training mode needs at least 2 samples for batch normalization, got %d", ErrDegenerateBatch, contours.Dim(0))
		}

		if mode.RNG == nil {
			return nil, nil, errors.New("gst: training mode requires an rng for dropout")
		}
	}

	// [N, F, T] -> [N, 1, T, F]
	x, err := contours.Unsqueeze(1)
	if err != nil {
		return nil, nil, err
	}

	x, err = x.Transpose(2, 3)
	if err != nil {
		return nil, nil, err
	}

	var stats []*ops.BatchStats
	if mode.Training {
		stats = make([]*ops.BatchStats, 0, len(e.stages))
	}

	for i, st := range e.stages {
		var bs *ops.BatchStats

		x, bs, err = e.stage(st, &p.Stages[i], x, mode)
		if err != nil {
			return nil, nil, fmt.Errorf("gst: encoder stage %d: %w", i, err)
		}

		if mode.Training {
			stats = append(stats, bs)
		}
	}

	// [N, C, T, F] -> [N, T, C, F] -> [N, T, C*F]
	x, err = x.Transpose(1, 2)
	if err != nil {
		return nil, nil, err
	}

	x, err = x.Reshape([]int64{x.Dim(0), x.Dim(1), -1})
	if err != nil {
		return nil, nil, err
	}

	if x.Dim(2) != e.input {
		return nil, nil, fmt.Errorf("%w: lstm input width %d, want %d", ErrShape, x.Dim(2), e.input)
	}

	encoded, err := ops.BiLSTMFinalHidden(x, &p.Forward, &p.Backward)
	if err != nil {
		return nil, nil, fmt.Errorf("gst: encoder lstm: %w", err)
	}

	return encoded, stats, nil
}

func (e *Encoder) stage(st Stage, p *ConvStage, x *tensor.Tensor, mode Mode) (*tensor.Tensor, *ops.BatchStats, error) {
	if err := checkShape("conv weight", p.Weight, st.KernelShape()); err != nil {
		return nil, nil, err
	}

	y, err := ops.Conv2D(x, p.Weight, p.Bias, [2]int64{1, 1}, st.Padding)
	if err != nil {
		return nil, nil, err
	}

	y, stats, err := ops.BatchNorm2D(y, p.Gamma, p.Beta, p.RunningMean, p.RunningVar, e.eps, mode.Training)
	if err != nil {
		return nil, nil, err
	}

	y = tensor.ReLU(y)

	if mode.Training {
		y, err = ops.Dropout(y, e.dropout, mode.RNG)
		if err != nil {
			return nil, nil, err
		}
	}

	return y, stats, nil
}
