// Package testutil provides shared skip helpers and assertions for tests.
//
// Each Require helper calls t.Skip with a human-readable reason when the
// named prerequisite is absent, so integration tests stay runnable in
// partial environments.
//
//	func TestParity(t *testing.T) {
//	    testutil.RequireONNXRuntime(t)
//	    model := testutil.RequireONNXModel(t)
//	    ...
//	}
package testutil

import (
	"os"
	"testing"
)

// RequireONNXRuntime skips the test if no ONNX Runtime shared library can be
// located. It checks GST_ORT_LIB, then ORT_LIBRARY_PATH, then common system
// library paths.
func RequireONNXRuntime(tb testing.TB) {
	tb.Helper()

	if ONNXRuntimePath() == "" {
		tb.Skip("ONNX Runtime shared library not found; set GST_ORT_LIB or ORT_LIBRARY_PATH")
	}
}

// ONNXRuntimePath returns the first ONNX Runtime library that exists, or "".
func ONNXRuntimePath() string {
	for _, env := range []string{"GST_ORT_LIB", "ORT_LIBRARY_PATH"} {
		if p := os.Getenv(env); p != "" {
			// #nosec G703 -- tests accept explicit env-provided local library paths.
			if _, err := os.Stat(p); err == nil {
				return p
			}

			return ""
		}
	}

	candidates := []string{
		"/usr/lib/libonnxruntime.so",
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
		"/opt/homebrew/lib/libonnxruntime.dylib",
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// RequireONNXModel returns the exported GST graph named by GST_ONNX_MODEL,
// skipping the test when it is unset or missing.
func RequireONNXModel(tb testing.TB) string {
	tb.Helper()

	p := os.Getenv("GST_ONNX_MODEL")
	if p == "" {
		tb.Skip("GST_ONNX_MODEL not set; export a GST graph to run parity tests")
		return ""
	}

	if _, err := os.Stat(p); err != nil {
		tb.Skipf("GST ONNX model not available at %q: %v", p, err)
		return ""
	}

	return p
}
