package config

import (
	"fmt"
	"strings"
)

// Backends that can compute style embeddings.
const (
	BackendNative = "native"
	BackendONNX   = "onnx"
)

var backendAliases = map[string]string{
	"":                   BackendNative,
	BackendNative:        BackendNative,
	"go":                 BackendNative,
	"native-safetensors": BackendNative,
	BackendONNX:          BackendONNX,
	"ort":                BackendONNX,
	"native-onnx":        BackendONNX,
}

// NormalizeBackend maps a user-supplied backend name, including the legacy
// aliases, onto BackendNative or BackendONNX. Empty selects native.
func NormalizeBackend(raw string) (string, error) {
	if b, ok := backendAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return b, nil
	}

	return "", fmt.Errorf("invalid backend %q (expected %s|%s)", raw, BackendNative, BackendONNX)
}
