//go:build !windows

package onnx

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	ort "github.com/shota3506/onnxruntime-purego/onnxruntime"

	"github.com/example/go-gst/internal/runtime/tensor"
)

// RunnerConfig holds ORT library settings for creating runners.
type RunnerConfig struct {
	LibraryPath string
	APIVersion  uint32
}

// Runner wraps an ORT session for a single ONNX graph.
type Runner struct {
	name    string
	runtime *ort.Runtime
	env     *ort.Env
	session *ort.Session
}

// NewRunner creates a runner for the ONNX graph at path.
func NewRunner(path string, cfg RunnerConfig) (*Runner, error) {
	if cfg.APIVersion == 0 {
		cfg.APIVersion = 23
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	runtime, err := ort.NewRuntime(cfg.LibraryPath, cfg.APIVersion)
	if err != nil {
		return nil, fmt.Errorf("ort runtime for %q: %w", name, err)
	}

	env, err := runtime.NewEnv("gst-"+name, ort.LoggingLevelWarning)
	if err != nil {
		_ = runtime.Close()
		return nil, fmt.Errorf("ort env for %q: %w", name, err)
	}

	session, err := runtime.NewSession(env, path, nil)
	if err != nil {
		env.Close()
		_ = runtime.Close()

		return nil, fmt.Errorf("ort session for %q (%s): %w", name, path, err)
	}

	return &Runner{
		name:    name,
		runtime: runtime,
		env:     env,
		session: session,
	}, nil
}

// Run feeds named float32 inputs to the graph and returns every output.
func (r *Runner) Run(ctx context.Context, inputs map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	if r.session == nil {
		return nil, fmt.Errorf("run %q: runner is closed", r.name)
	}

	feeds, err := r.toValues(inputs)
	defer closeValues(feeds)

	if err != nil {
		return nil, err
	}

	fetched, err := r.session.Run(ctx, feeds)
	defer closeValues(fetched)

	if err != nil {
		return nil, fmt.Errorf("run %q: %w", r.name, err)
	}

	out := make(map[string]*tensor.Tensor, len(fetched))

	for name, v := range fetched {
		if out[name], err = fromValue(v); err != nil {
			return nil, fmt.Errorf("run %q: output %q: %w", r.name, name, err)
		}
	}

	return out, nil
}

// toValues copies inputs into ORT tensors. On error the values created so far
// are still returned for the caller to close.
func (r *Runner) toValues(inputs map[string]*tensor.Tensor) (map[string]*ort.Value, error) {
	vals := make(map[string]*ort.Value, len(inputs))

	for name, t := range inputs {
		if t == nil {
			return vals, fmt.Errorf("run %q: input %q is nil", r.name, name)
		}

		v, err := ort.NewTensorValue(r.runtime, t.Data(), t.Shape())
		if err != nil {
			return vals, fmt.Errorf("run %q: input %q: %w", r.name, name, err)
		}

		vals[name] = v
	}

	return vals, nil
}

// Close releases the session, env and runtime in that order. Calling it
// again is a no-op.
func (r *Runner) Close() {
	if r.session != nil {
		r.session.Close()
	}

	if r.env != nil {
		r.env.Close()
	}

	if r.runtime != nil {
		_ = r.runtime.Close()
	}

	r.session, r.env, r.runtime = nil, nil, nil
}

func (r *Runner) Name() string {
	return r.name
}

func fromValue(v *ort.Value) (*tensor.Tensor, error) {
	if et, err := v.GetTensorElementType(); err != nil {
		return nil, fmt.Errorf("element type: %w", err)
	} else if et != ort.ONNXTensorElementDataTypeFloat {
		return nil, fmt.Errorf("unsupported element type %d, want float32", et)
	}

	data, shape, err := ort.GetTensorData[float32](v)
	if err != nil {
		return nil, err
	}

	return tensor.New(data, shape)
}

func closeValues(vals map[string]*ort.Value) {
	for _, v := range vals {
		if v != nil {
			v.Close()
		}
	}
}
