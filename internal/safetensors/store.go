package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
)

const metadataKey = "__metadata__"

// KeyMapper renames or drops a tensor before it is validated. Returning
// keep=false skips the entry, so non-float buffers such as BatchNorm
// num_batches_tracked counters never reach dtype checks.
type KeyMapper func(name string) (mapped string, keep bool)

type StoreOptions struct {
	KeyMapper KeyMapper
}

// Store is an in-memory safetensors file. Tensors are decoded to float32 on
// access.
type Store struct {
	entries  map[string]entry
	names    []string
	metadata map[string]string
}

type entry struct {
	dtype dtype
	shape []int64
	raw   []byte
}

// headerEntry is one tensor record of the JSON header.
type headerEntry struct {
	DType   string  `json:"dtype"`
	Shape   []int64 `json:"shape"`
	Offsets [2]int  `json:"data_offsets"`
}

func OpenStore(path string, opts StoreOptions) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("safetensors: read %s: %w", path, err)
	}

	return OpenStoreFromBytes(data, opts)
}

// OpenStoreFromBytes parses the header and validates every kept tensor
// against the payload. Two tensors mapping to the same name are an error.
func OpenStoreFromBytes(data []byte, opts StoreOptions) (*Store, error) {
	headerEnd, header, err := decodeHeader(data)
	if err != nil {
		return nil, err
	}

	s := &Store{entries: make(map[string]entry, len(header))}
	payload := data[headerEnd:]

	for _, name := range slices.Sorted(maps.Keys(header)) {
		if name == metadataKey {
			if err := json.Unmarshal(header[name], &s.metadata); err != nil {
				return nil, fmt.Errorf("safetensors: decode %s: %w", metadataKey, err)
			}

			continue
		}

		mapped := name
		if opts.KeyMapper != nil {
			var keep bool
			if mapped, keep = opts.KeyMapper(name); !keep {
				continue
			}
		}

		mapped = strings.TrimSpace(mapped)
		if mapped == "" {
			return nil, fmt.Errorf("safetensors: remapped tensor name for %q is empty", name)
		}

		if _, dup := s.entries[mapped]; dup {
			return nil, fmt.Errorf("safetensors: tensors map to the same name %q", mapped)
		}

		e, err := parseEntry(name, header[name], payload)
		if err != nil {
			return nil, err
		}

		s.entries[mapped] = e
	}

	if len(s.entries) == 0 {
		return nil, errors.New("safetensors: no tensors found")
	}

	s.names = slices.Sorted(maps.Keys(s.entries))

	return s, nil
}

func parseEntry(name string, raw json.RawMessage, payload []byte) (entry, error) {
	var h headerEntry
	if err := json.Unmarshal(raw, &h); err != nil {
		return entry{}, fmt.Errorf("safetensors: decode header entry %q: %w", name, err)
	}

	dt, err := lookupDType(h.DType)
	if err != nil {
		return entry{}, fmt.Errorf("safetensors: tensor %q: %w", name, err)
	}

	n, err := elementCount(h.Shape)
	if err != nil {
		return entry{}, fmt.Errorf("safetensors: tensor %q: %w", name, err)
	}

	start, end := h.Offsets[0], h.Offsets[1]
	if start < 0 || end < start || end > len(payload) {
		return entry{}, fmt.Errorf("safetensors: tensor %q has data offsets %v outside payload of %d bytes", name, h.Offsets, len(payload))
	}

	if need := n * dt.size; end-start < need {
		return entry{}, fmt.Errorf("safetensors: tensor %q needs %d bytes but data has %d", name, need, end-start)
	}

	return entry{dtype: dt, shape: slices.Clone(h.Shape), raw: payload[start:end]}, nil
}

func decodeHeader(data []byte) (int, map[string]json.RawMessage, error) {
	if len(data) < 8 {
		return 0, nil, fmt.Errorf("safetensors: file too short (%d bytes)", len(data))
	}

	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > uint64(len(data)-8) {
		return 0, nil, fmt.Errorf("safetensors: header length %d exceeds file size %d", headerLen, len(data))
	}

	headerEnd := 8 + int(headerLen)

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:headerEnd], &header); err != nil {
		return 0, nil, fmt.Errorf("safetensors: parse header: %w", err)
	}

	return headerEnd, header, nil
}

// Names returns the mapped tensor names in sorted order.
func (s *Store) Names() []string {
	return slices.Clone(s.names)
}

// Metadata returns a copy of the string map stored under __metadata__, or nil
// when the file has none.
func (s *Store) Metadata() map[string]string {
	if s.metadata == nil {
		return nil
	}

	return maps.Clone(s.metadata)
}

func (s *Store) Has(name string) bool {
	_, ok := s.entries[name]
	return ok
}

func (s *Store) Tensor(name string) (*Tensor, error) {
	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("safetensors: tensor %q not found (available: %s)", name, summarizeNames(s.names))
	}

	n, err := elementCount(e.shape)
	if err != nil {
		return nil, fmt.Errorf("safetensors: tensor %q: %w", name, err)
	}

	data := make([]float32, n)
	e.dtype.decode(e.raw, data)

	return &Tensor{Name: name, Shape: slices.Clone(e.shape), Data: data}, nil
}

// Close drops the file contents.
func (s *Store) Close() {
	s.entries = nil
	s.names = nil
	s.metadata = nil
}

func summarizeNames(names []string) string {
	const maxNames = 8

	switch {
	case len(names) == 0:
		return "none"
	case len(names) <= maxNames:
		return strings.Join(names, ", ")
	default:
		return strings.Join(names[:maxNames], ", ") + ", ..."
	}
}
