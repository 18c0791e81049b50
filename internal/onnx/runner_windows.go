//go:build windows

package onnx

import (
	"context"
	"errors"
	"fmt"

	"github.com/example/go-gst/internal/runtime/tensor"
)

// ErrUnsupported is returned by every Runner operation on windows, where the
// purego ONNX Runtime binding is not built.
var ErrUnsupported = errors.New("onnx: graph execution is not supported on windows")

type RunnerConfig struct {
	LibraryPath string
	APIVersion  uint32
}

type Runner struct {
	name string
}

func NewRunner(path string, _ RunnerConfig) (*Runner, error) {
	return nil, fmt.Errorf("open %s: %w", path, ErrUnsupported)
}

func (r *Runner) Run(context.Context, map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	return nil, ErrUnsupported
}

func (r *Runner) Close() {}

func (r *Runner) Name() string { return r.name }
