package server

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/example/go-gst/internal/runtime/tensor"
)

// contourBatch packs a rectangular [N][F][T] JSON array into a tensor.
func contourBatch(raw [][][]float32) (*tensor.Tensor, error) {
	n := len(raw)
	if n == 0 || len(raw[0]) == 0 || len(raw[0][0]) == 0 {
		return nil, errors.New("contours must be a non-empty [N][F][T] array")
	}

	bands, frames := len(raw[0]), len(raw[0][0])
	data := make([]float32, 0, n*bands*frames)

	for i, c := range raw {
		if len(c) != bands {
			return nil, fmt.Errorf("contour %d has %d bands, want %d", i, len(c), bands)
		}

		for f, row := range c {
			if len(row) != frames {
				return nil, fmt.Errorf("contour %d band %d has %d frames, want %d", i, f, len(row), frames)
			}

			data = append(data, row...)
		}
	}

	return tensor.New(data, []int64{int64(n), int64(bands), int64(frames)})
}

// weightTensor accepts either a single weight vector [T] or a batch [B][T].
func weightTensor(raw json.RawMessage) (*tensor.Tensor, error) {
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err == nil {
		if len(vec) == 0 {
			return nil, errors.New("weights must not be empty")
		}

		return tensor.New(vec, []int64{int64(len(vec))})
	}

	var rows [][]float32
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, errors.New("weights must be a [T] or [B][T] number array")
	}

	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.New("weights must not be empty")
	}

	width := len(rows[0])
	data := make([]float32, 0, len(rows)*width)

	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("weights row %d has %d entries, want %d", i, len(row), width)
		}

		data = append(data, row...)
	}

	return tensor.New(data, []int64{int64(len(rows)), int64(width)})
}

// nested renders t as nested JSON arrays following its shape.
func nested(t *tensor.Tensor) any {
	if t == nil {
		return nil
	}

	return nest(t.Data(), t.Shape())
}

func nest(data []float32, shape []int64) any {
	if len(shape) <= 1 {
		return data
	}

	stride := len(data) / int(shape[0])
	out := make([]any, shape[0])

	for i := range out {
		out[i] = nest(data[i*stride:(i+1)*stride], shape[1:])
	}

	return out
}
