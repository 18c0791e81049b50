package safetensors

import (
	"errors"
	"fmt"
)

// Tensor holds a single tensor loaded from a safetensors file.
type Tensor struct {
	Name  string
	Shape []int64
	Data  []float32
}

// LoadFirstTensor reads a safetensors file and returns the first float32
// tensor in name order.
func LoadFirstTensor(path string) (*Tensor, error) {
	store, err := OpenStore(path, StoreOptions{})
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return firstTensor(store)
}

// LoadFirstTensorFromBytes decodes a safetensors payload and returns the first
// float32 tensor.
func LoadFirstTensorFromBytes(data []byte) (*Tensor, error) {
	store, err := OpenStoreFromBytes(data, StoreOptions{})
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return firstTensor(store)
}

// LoadBinLocations loads a quantized pitch-contour batch and returns it as
// [N, F, T]. A 2D [F, T] tensor is treated as a single utterance.
func LoadBinLocations(path string) ([]float32, []int64, error) {
	tensor, err := LoadFirstTensor(path)
	if err != nil {
		return nil, nil, err
	}

	return normalizeBinLocationsShape(tensor)
}

// LoadBinLocationsFromBytes is LoadBinLocations over an in-memory payload.
func LoadBinLocationsFromBytes(data []byte) ([]float32, []int64, error) {
	tensor, err := LoadFirstTensorFromBytes(data)
	if err != nil {
		return nil, nil, err
	}

	return normalizeBinLocationsShape(tensor)
}

func firstTensor(store *Store) (*Tensor, error) {
	names := store.Names()
	if len(names) == 0 {
		return nil, errors.New("safetensors: no tensors found")
	}

	return store.Tensor(names[0])
}

func normalizeBinLocationsShape(tensor *Tensor) ([]float32, []int64, error) {
	switch len(tensor.Shape) {
	case 2:
		// [F, T] -> [1, F, T]
		shape := []int64{1, tensor.Shape[0], tensor.Shape[1]}
		return tensor.Data, shape, nil
	case 3:
		return tensor.Data, tensor.Shape, nil
	default:
		return nil, nil, fmt.Errorf("safetensors: bin locations have %dD shape %v, expected 2D or 3D", len(tensor.Shape), tensor.Shape)
	}
}
