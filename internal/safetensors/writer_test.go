package safetensors

import (
	"maps"
	"path/filepath"
	"slices"
	"testing"
)

func TestWriteFileThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "style.safetensors")
	want := Tensor{Name: "style_embed", Shape: []int64{1, 2, 4}, Data: []float32{1.5, -0.25, 3.25, 4, -1, 0.5, 2.5, 9}}

	if err := WriteFile(path, []Tensor{want}, nil); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := LoadFirstTensor(path)
	if err != nil {
		t.Fatalf("LoadFirstTensor: %v", err)
	}

	if got.Name != want.Name || !slices.Equal(got.Shape, want.Shape) || !slices.Equal(got.Data, want.Data) {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestEncodeTensorsSortsAndKeepsMetadata(t *testing.T) {
	meta := map[string]string{"format": "pt", "gst.token_num": "10"}

	blob, err := EncodeTensors([]Tensor{
		{Name: "stl.embed", Shape: []int64{2, 2}, Data: []float32{1, 2, 3, 4}},
		{Name: "encoder.gru.bias", Shape: []int64{2}, Data: []float32{5, 6}},
	}, meta)
	if err != nil {
		t.Fatalf("EncodeTensors: %v", err)
	}

	s, err := OpenStoreFromBytes(blob, StoreOptions{})
	if err != nil {
		t.Fatalf("OpenStoreFromBytes: %v", err)
	}
	defer s.Close()

	if got := s.Names(); !slices.Equal(got, []string{"encoder.gru.bias", "stl.embed"}) {
		t.Fatalf("Names() = %v", got)
	}

	got := s.Metadata()
	if !maps.Equal(got, meta) {
		t.Fatalf("Metadata() = %v, want %v", got, meta)
	}

	got["format"] = "changed"
	if s.Metadata()["format"] != "pt" {
		t.Fatal("Metadata() returned shared map")
	}
}

func TestEncodeTensorsRejects(t *testing.T) {
	one := []float32{1}

	tests := map[string][]Tensor{
		"no tensors":     nil,
		"empty name":     {{Name: " ", Shape: []int64{1}, Data: one}},
		"reserved name":  {{Name: metadataKey, Shape: []int64{1}, Data: one}},
		"duplicate name": {{Name: "x", Shape: []int64{1}, Data: one}, {Name: "x", Shape: []int64{1}, Data: one}},
		"short data":     {{Name: "x", Shape: []int64{1, 2}, Data: one}},
		"negative dim":   {{Name: "x", Shape: []int64{-1}, Data: one}},
	}

	for name, tensors := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := EncodeTensors(tensors, nil); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
