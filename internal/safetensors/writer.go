package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"slices"
	"strings"
)

// EncodeTensors serializes float32 tensors into safetensors format, laid out
// in name order. A non-empty metadata map is stored under __metadata__.
func EncodeTensors(tensors []Tensor, metadata map[string]string) ([]byte, error) {
	if len(tensors) == 0 {
		return nil, errors.New("safetensors: no tensors to encode")
	}

	sorted := slices.SortedFunc(slices.Values(tensors), func(a, b Tensor) int {
		return strings.Compare(a.Name, b.Name)
	})

	header := make(map[string]any, len(sorted)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}

	var total int
	for _, t := range sorted {
		total += 4 * len(t.Data)
	}

	payload := make([]byte, 0, total)

	for _, t := range sorted {
		name := strings.TrimSpace(t.Name)

		switch _, dup := header[name]; {
		case name == "":
			return nil, errors.New("safetensors: tensor name must not be empty")
		case name == metadataKey:
			return nil, fmt.Errorf("safetensors: tensor name %q is reserved", name)
		case dup:
			return nil, fmt.Errorf("safetensors: duplicate tensor name %q", name)
		}

		n, err := elementCount(t.Shape)
		if err != nil {
			return nil, fmt.Errorf("safetensors: tensor %q: %w", name, err)
		}

		if len(t.Data) != n {
			return nil, fmt.Errorf("safetensors: tensor %q shape %v expects %d elements, got %d", name, t.Shape, n, len(t.Data))
		}

		start := len(payload)
		for _, v := range t.Data {
			payload = binary.LittleEndian.AppendUint32(payload, math.Float32bits(v))
		}

		header[name] = headerEntry{
			DType:   "F32",
			Shape:   slices.Clone(t.Shape),
			Offsets: [2]int{start, len(payload)},
		}
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("safetensors: encode header: %w", err)
	}

	out := make([]byte, 0, 8+len(headerJSON)+len(payload))
	out = binary.LittleEndian.AppendUint64(out, uint64(len(headerJSON)))
	out = append(out, headerJSON...)

	return append(out, payload...), nil
}

// WriteFile writes float32 tensors into a .safetensors file.
func WriteFile(path string, tensors []Tensor, metadata map[string]string) error {
	data, err := EncodeTensors(tensors, metadata)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("safetensors: write %s: %w", path, err)
	}

	return nil
}
