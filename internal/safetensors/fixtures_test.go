package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
)

type rawTensor struct {
	name  string
	dtype string
	shape []int64
	data  []byte
}

// encodeRaw lays out tensors in argument order behind a JSON header. Extra
// header keys (such as __metadata__) are merged in verbatim.
func encodeRaw(t *testing.T, extra map[string]any, tensors ...rawTensor) []byte {
	t.Helper()

	header := make(map[string]any, len(tensors)+len(extra))
	for k, v := range extra {
		header[k] = v
	}

	var payload []byte

	for _, rt := range tensors {
		start := len(payload)
		payload = append(payload, rt.data...)
		header[rt.name] = headerEntry{DType: rt.dtype, Shape: rt.shape, Offsets: [2]int{start, len(payload)}}
	}

	js, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}

	return withHeader(js, payload)
}

func withHeader(header, payload []byte) []byte {
	out := binary.LittleEndian.AppendUint64(nil, uint64(len(header)))
	out = append(out, header...)

	return append(out, payload...)
}

func f32(name string, shape []int64, vals ...float32) rawTensor {
	data := make([]byte, 0, 4*len(vals))
	for _, v := range vals {
		data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
	}

	return rawTensor{name: name, dtype: "F32", shape: shape, data: data}
}

func writeBlob(t *testing.T, blob []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "contours.safetensors")
	if err := os.WriteFile(path, blob, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}

	return path
}

func ramp(n int, step float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i) * step
	}

	return out
}

func sameFloats(a, b []float32, tol float64) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if math.Abs(float64(a[i])-float64(b[i])) > tol {
			return false
		}
	}

	return true
}
