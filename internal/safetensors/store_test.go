package safetensors

import (
	"encoding/binary"
	"math"
	"slices"
	"strings"
	"testing"
)

func TestStoreTensorByName(t *testing.T) {
	s, err := OpenStoreFromBytes(encodeRaw(t, nil,
		f32("beta", []int64{1, 3}, 3, 4, 5),
		f32("alpha", []int64{2}, 1, 2),
	), StoreOptions{})
	if err != nil {
		t.Fatalf("OpenStoreFromBytes: %v", err)
	}
	defer s.Close()

	if got := s.Names(); !slices.Equal(got, []string{"alpha", "beta"}) {
		t.Fatalf("Names() = %v", got)
	}

	beta, err := s.Tensor("beta")
	if err != nil {
		t.Fatalf("Tensor(beta): %v", err)
	}

	if !slices.Equal(beta.Shape, []int64{1, 3}) || !sameFloats(beta.Data, []float32{3, 4, 5}, 0) {
		t.Fatalf("beta = %v %v", beta.Shape, beta.Data)
	}

	// Decoded tensors are independent copies.
	beta.Data[0] = 99

	again, _ := s.Tensor("beta")
	if again.Data[0] != 3 {
		t.Fatal("Tensor returned shared storage")
	}
}

func TestStoreWidensHalfPrecision(t *testing.T) {
	half := binary.LittleEndian.AppendUint16(nil, 0x3c00) // 1
	half = binary.LittleEndian.AppendUint16(half, 0xc000) // -2
	half = binary.LittleEndian.AppendUint16(half, 0x3800) // 0.5

	var bhalf []byte
	for _, v := range []float32{1, -2, 0.5} {
		bhalf = binary.LittleEndian.AppendUint16(bhalf, uint16(math.Float32bits(v)>>16))
	}

	s, err := OpenStoreFromBytes(encodeRaw(t, nil,
		rawTensor{name: "half", dtype: "F16", shape: []int64{3}, data: half},
		rawTensor{name: "bhalf", dtype: "bf16", shape: []int64{3}, data: bhalf},
	), StoreOptions{})
	if err != nil {
		t.Fatalf("OpenStoreFromBytes: %v", err)
	}
	defer s.Close()

	for _, name := range []string{"half", "bhalf"} {
		got, err := s.Tensor(name)
		if err != nil {
			t.Fatalf("Tensor(%s): %v", name, err)
		}

		if !sameFloats(got.Data, []float32{1, -2, 0.5}, 1e-6) {
			t.Fatalf("%s = %v", name, got.Data)
		}
	}
}

func TestStoreKeyMapper(t *testing.T) {
	blob := encodeRaw(t, nil,
		f32("module.gst.stl.embed", []int64{1}, 1),
		f32("module.gst.stl.attention.W_query.weight", []int64{1}, 2),
		rawTensor{name: "module.gst.encoder.bns2D.0.num_batches_tracked", dtype: "I64", shape: []int64{}, data: make([]byte, 8)},
	)

	mapper := func(name string) (string, bool) {
		if strings.HasSuffix(name, ".num_batches_tracked") {
			return "", false
		}

		return strings.TrimPrefix(name, "module.gst."), true
	}

	s, err := OpenStoreFromBytes(blob, StoreOptions{KeyMapper: mapper})
	if err != nil {
		t.Fatalf("OpenStoreFromBytes: %v", err)
	}
	defer s.Close()

	want := []string{"stl.attention.W_query.weight", "stl.embed"}
	if got := s.Names(); !slices.Equal(got, want) {
		t.Fatalf("Names() = %v, want %v", got, want)
	}

	if s.Has("module.gst.stl.embed") {
		t.Fatal("original name should not resolve after mapping")
	}
}

func TestStoreRejectsMappedNameCollision(t *testing.T) {
	blob := encodeRaw(t, nil, f32("a", []int64{1}, 1), f32("b", []int64{1}, 2))

	_, err := OpenStoreFromBytes(blob, StoreOptions{KeyMapper: func(string) (string, bool) { return "same", true }})
	if err == nil || !strings.Contains(err.Error(), "same") {
		t.Fatalf("expected collision error, got %v", err)
	}
}

func TestStoreRejectsEmptyMappedName(t *testing.T) {
	blob := encodeRaw(t, nil, f32("a", []int64{1}, 1))

	if _, err := OpenStoreFromBytes(blob, StoreOptions{KeyMapper: func(string) (string, bool) { return " ", true }}); err == nil {
		t.Fatal("expected error for blank mapped name")
	}
}

func TestStoreRejectsBadOffsets(t *testing.T) {
	header := []byte(`{"bad":{"dtype":"F32","shape":[1],"data_offsets":[4,2]}}`)

	if _, err := OpenStoreFromBytes(withHeader(header, make([]byte, 4)), StoreOptions{}); err == nil {
		t.Fatal("expected error for end < start")
	}

	header = []byte(`{"neg":{"dtype":"F32","shape":[-1],"data_offsets":[0,4]}}`)

	if _, err := OpenStoreFromBytes(withHeader(header, make([]byte, 4)), StoreOptions{}); err == nil {
		t.Fatal("expected error for negative dimension")
	}
}

func TestStoreMissingTensorListsNames(t *testing.T) {
	s, err := OpenStoreFromBytes(encodeRaw(t, nil, f32("alpha", []int64{2}, 1, 2)), StoreOptions{})
	if err != nil {
		t.Fatalf("OpenStoreFromBytes: %v", err)
	}
	defer s.Close()

	_, err = s.Tensor("missing")
	if err == nil || !strings.Contains(err.Error(), "available: alpha") {
		t.Fatalf("missing tensor error = %v", err)
	}

	if s.Metadata() != nil {
		t.Fatal("Metadata() should be nil without __metadata__")
	}
}

func TestSummarizeNames(t *testing.T) {
	many := make([]string, 10)
	for i := range many {
		many[i] = string(rune('a' + i))
	}

	tests := []struct {
		names []string
		want  string
	}{
		{names: nil, want: "none"},
		{names: []string{"x", "y"}, want: "x, y"},
		{names: many, want: "a, b, c, d, e, f, g, h, ..."},
	}

	for _, tt := range tests {
		if got := summarizeNames(tt.names); got != tt.want {
			t.Errorf("summarizeNames(%v) = %q, want %q", tt.names, got, tt.want)
		}
	}
}
