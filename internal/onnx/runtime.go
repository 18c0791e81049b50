package onnx

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/example/go-gst/internal/config"
)

// RuntimeInfo identifies the ONNX Runtime shared library an ONNX graph will
// be executed with.
type RuntimeInfo struct {
	LibraryPath string
	Version     string
}

const unknownVersion = "unknown"

var semver = regexp.MustCompile(`\d+\.\d+\.\d+`)

var defaultLibraryPaths = []string{
	"/usr/local/lib/libonnxruntime.so",
	"/usr/lib/libonnxruntime.so",
	"/usr/lib/x86_64-linux-gnu/libonnxruntime.so",
	"/usr/lib/aarch64-linux-gnu/libonnxruntime.so",
	"/opt/homebrew/lib/libonnxruntime.dylib",
	"C:/onnxruntime/lib/onnxruntime.dll",
}

// DetectRuntime picks the library from runtime.ort_library_path, then
// GST_ORT_LIB, then ORT_LIBRARY_PATH, then the first default install path
// that exists. The version comes from runtime.ort_version, ORT_VERSION or the
// library file name.
func DetectRuntime(cfg config.RuntimeConfig) (RuntimeInfo, error) {
	path := cmp.Or(cfg.ORTLibraryPath, os.Getenv("GST_ORT_LIB"), os.Getenv("ORT_LIBRARY_PATH"))
	if path == "" {
		if i := slices.IndexFunc(defaultLibraryPaths, fileExists); i >= 0 {
			path = defaultLibraryPaths[i]
		}
	}

	info := RuntimeInfo{LibraryPath: cmp.Or(path, "not found"), Version: unknownVersion}

	switch {
	case path == "":
		return info, errors.New("onnx: runtime library not found; set runtime.ort_library_path or GST_ORT_LIB")
	case !fileExists(path):
		return info, fmt.Errorf("onnx: runtime library %s: %w", path, os.ErrNotExist)
	}

	info.Version = cmp.Or(cfg.ORTVersion, os.Getenv("ORT_VERSION"), inferVersionFromPath(path), unknownVersion)

	return info, nil
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// inferVersionFromPath reads a version from names such as
// libonnxruntime.so.1.22.0.
func inferVersionFromPath(path string) string {
	return semver.FindString(filepath.Base(path))
}
