package gst

import "errors"

var (
	// ErrConfig reports an invalid hyper-parameter combination. It is returned
	// at construction, never from Forward or Inference.
	ErrConfig = errors.New("gst: invalid configuration")

	// ErrShape reports an input or parameter tensor whose shape disagrees with
	// the configuration.
	ErrShape = errors.New("gst: shape mismatch")

	// ErrDegenerateBatch is returned for training-mode batches that batch
	// normalization cannot estimate statistics from (batch size 1).
	ErrDegenerateBatch = errors.New("gst: degenerate batch")
)
