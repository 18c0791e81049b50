package gst

import (
	"fmt"

	"github.com/example/go-gst/internal/runtime/ops"
)

// Config holds the GST hyper-parameters. Bands is the contour sub-band
// count; OutChannels and KernelHeights describe the convolution stack.
type Config struct {
	Bands          int64   `json:"bands"`
	OutChannels    []int64 `json:"out_channels"`
	KernelHeights  []int64 `json:"kernel_heights"`
	KernelWidth    int64   `json:"kernel_width"`
	HiddenSize     int64   `json:"hidden_size"`
	TokenNum       int64   `json:"token_num"`
	EmbeddingWidth int64   `json:"embedding_width"`
	NumHeads       int     `json:"num_heads"`
	Dropout        float32 `json:"dropout"`
	BatchNormEps   float32 `json:"batch_norm_eps"`
}

// DefaultConfig returns the standard 13-band GST configuration.
func DefaultConfig() Config {
	return Config{
		Bands:          13,
		OutChannels:    []int64{32, 32},
		KernelHeights:  []int64{3, 3},
		KernelWidth:    3,
		HiddenSize:     512,
		TokenNum:       10,
		EmbeddingWidth: 256,
		NumHeads:       8,
		Dropout:        0.5,
		BatchNormEps:   1e-5,
	}
}

// Validate checks every construction-time invariant and wraps ErrConfig.
func (c Config) Validate() error {
	switch {
	case c.Bands <= 0:
		return fmt.Errorf("%w: bands must be > 0, got %d", ErrConfig, c.Bands)
	case len(c.OutChannels) == 0:
		return fmt.Errorf("%w: at least one convolution stage is required", ErrConfig)
	case len(c.OutChannels) != len(c.KernelHeights):
		return fmt.Errorf("%w: %d out channel entries but %d kernel heights", ErrConfig, len(c.OutChannels), len(c.KernelHeights))
	case c.KernelWidth <= 0 || c.KernelWidth%2 == 0:
		return fmt.Errorf("%w: kernel width must be odd and > 0, got %d", ErrConfig, c.KernelWidth)
	case c.HiddenSize <= 0 || c.HiddenSize%2 != 0:
		return fmt.Errorf("%w: hidden size must be even and > 0, got %d", ErrConfig, c.HiddenSize)
	case c.TokenNum <= 0:
		return fmt.Errorf("%w: token count must be > 0, got %d", ErrConfig, c.TokenNum)
	case c.NumHeads <= 0:
		return fmt.Errorf("%w: head count must be > 0, got %d", ErrConfig, c.NumHeads)
	case c.EmbeddingWidth <= 0 || c.EmbeddingWidth%int64(c.NumHeads) != 0:
		return fmt.Errorf("%w: embedding width %d is not divisible by %d heads", ErrConfig, c.EmbeddingWidth, c.NumHeads)
	case c.Dropout < 0 || c.Dropout >= 1:
		return fmt.Errorf("%w: dropout must be in [0, 1), got %v", ErrConfig, c.Dropout)
	case c.BatchNormEps <= 0:
		return fmt.Errorf("%w: batch norm eps must be > 0, got %v", ErrConfig, c.BatchNormEps)
	}

	for i, ch := range c.OutChannels {
		if ch <= 0 {
			return fmt.Errorf("%w: stage %d out channels must be > 0, got %d", ErrConfig, i, ch)
		}

		if kh := c.KernelHeights[i]; kh <= 0 || kh%2 == 0 {
			return fmt.Errorf("%w: stage %d kernel height must be odd and > 0, got %d", ErrConfig, i, kh)
		}
	}

	return nil
}

// TokenWidth is the width of one style token, E / heads. It is also the
// pre-projection key width the attention scale is derived from.
func (c Config) TokenWidth() int64 { return c.EmbeddingWidth / int64(c.NumHeads) }

// LSTMHidden is the per-direction hidden width.
func (c Config) LSTMHidden() int64 { return c.HiddenSize / 2 }

// LSTMInput is the per-timestep feature width after the convolution stack.
func (c Config) LSTMInput() int64 {
	if len(c.OutChannels) == 0 {
		return 0
	}

	return c.OutChannels[len(c.OutChannels)-1] * c.Bands
}

// Stage describes one conv -> batch norm -> relu -> dropout block.
type Stage struct {
	InChannels   int64
	OutChannels  int64
	KernelHeight int64
	KernelWidth  int64
	Padding      [2]int64
}

// KernelShape is the Conv2D weight shape of the stage.
func (s Stage) KernelShape() []int64 {
	return []int64{s.OutChannels, s.InChannels, s.KernelHeight, s.KernelWidth}
}

// Stages builds the ordered stage descriptors. The first stage reads the
// single-channel contour image.
func (c Config) Stages() []Stage {
	stages := make([]Stage, len(c.OutChannels))
	in := int64(1)

	for i, out := range c.OutChannels {
		stages[i] = Stage{
			InChannels:   in,
			OutChannels:  out,
			KernelHeight: c.KernelHeights[i],
			KernelWidth:  c.KernelWidth,
			Padding:      ops.SamePadding(c.KernelHeights[i], c.KernelWidth),
		}
		in = out
	}

	return stages
}
