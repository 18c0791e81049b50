// Package doctor provides environment preflight checks for gst.
package doctor

import (
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// PassMark and FailMark are the prefix symbols printed for each check result.
const (
	PassMark = "✓"
	FailMark = "✗"
)

// MinORTVersion is the oldest ONNX Runtime whose C API exposes version 23.
const MinORTVersion = "1.23"

// CheckFunc returns a short description of a healthy component or an error.
type CheckFunc func() (string, error)

// Config holds injectable dependencies for each doctor check.
type Config struct {
	// Checkpoint loads the configured checkpoint and summarises it.
	Checkpoint CheckFunc
	// ORTRuntime returns the detected ONNX Runtime version.
	ORTRuntime CheckFunc
	// SkipORT skips the ONNX Runtime check (native backend).
	SkipORT bool
	// CPU overrides the detected processor, for tests.
	CPU *cpuid.CPUInfo
}

// Result collects the outcome of all checks.
type Result struct {
	failures []string
}

// Failed returns true if any check failed.
func (r *Result) Failed() bool { return len(r.failures) > 0 }

// Failures returns the list of failure messages.
func (r *Result) Failures() []string { return append([]string(nil), r.failures...) }

// AddFailure appends an external failure message to the result.
func (r *Result) AddFailure(msg string) { r.failures = append(r.failures, msg) }

func (r *Result) fail(msg string) { r.failures = append(r.failures, msg) }

// Run executes all configured checks and writes human-readable output to w.
// Each check line is prefixed with PassMark or FailMark.
func Run(cfg Config, w io.Writer) Result {
	var res Result

	cpu := cfg.CPU
	if cpu == nil {
		cpu = &cpuid.CPU
	}

	fmt.Fprintf(w, "%s cpu: %s\n", PassMark, DescribeCPU(cpu))

	// ---- checkpoint -------------------------------------------------------
	if cfg.Checkpoint == nil {
		res.fail("checkpoint: no check configured")
		fmt.Fprintf(w, "%s checkpoint: no check configured\n", FailMark)
	} else if desc, err := cfg.Checkpoint(); err != nil {
		res.fail(fmt.Sprintf("checkpoint: %v", err))
		fmt.Fprintf(w, "%s checkpoint: %v\n", FailMark, err)
	} else {
		fmt.Fprintf(w, "%s checkpoint: %s\n", PassMark, desc)
	}

	// ---- ONNX Runtime -----------------------------------------------------
	switch {
	case cfg.SkipORT:
		fmt.Fprintf(w, "%s onnx runtime: skipped\n", PassMark)
	case cfg.ORTRuntime == nil:
		res.fail("onnx runtime: no check configured")
		fmt.Fprintf(w, "%s onnx runtime: no check configured\n", FailMark)
	default:
		ver, err := cfg.ORTRuntime()
		if err != nil {
			res.fail(fmt.Sprintf("onnx runtime: %v", err))
			fmt.Fprintf(w, "%s onnx runtime: not found (%v)\n", FailMark, err)
		} else if verErr := checkORTVersion(ver); verErr != nil {
			res.fail(fmt.Sprintf("onnx runtime: %v", verErr))
			fmt.Fprintf(w, "%s onnx runtime %s: %v\n", FailMark, ver, verErr)
		} else {
			fmt.Fprintf(w, "%s onnx runtime: %s\n", PassMark, ver)
		}
	}

	return res
}

// DescribeCPU renders the brand, core counts and the SIMD features the
// kernels can benefit from.
func DescribeCPU(cpu *cpuid.CPUInfo) string {
	brand := strings.TrimSpace(cpu.BrandName)
	if brand == "" {
		brand = runtime.GOARCH
	}

	var feats []string

	for _, f := range []struct {
		id   cpuid.FeatureID
		name string
	}{
		{cpuid.AVX2, "avx2"},
		{cpuid.FMA3, "fma3"},
		{cpuid.AVX512F, "avx512f"},
		{cpuid.ASIMD, "neon"},
	} {
		if cpu.Supports(f.id) {
			feats = append(feats, f.name)
		}
	}

	if len(feats) == 0 {
		feats = append(feats, "scalar")
	}

	return fmt.Sprintf("%s (%d physical / %d logical cores; %s)",
		brand, cpu.PhysicalCores, cpu.LogicalCores, strings.Join(feats, ","))
}

// RecommendedWorkers returns the physical core count, falling back to
// GOMAXPROCS when cpuid cannot tell.
func RecommendedWorkers() int {
	if n := cpuid.CPU.PhysicalCores; n > 0 {
		return min(n, runtime.GOMAXPROCS(0))
	}

	return max(1, runtime.GOMAXPROCS(0))
}

// checkORTVersion rejects versions older than MinORTVersion. "unknown" is
// accepted; the runner reports API mismatches itself.
func checkORTVersion(ver string) error {
	if ver == "" || ver == "unknown" {
		return nil
	}

	major, minor, err := parseMajorMinor(ver)
	if err != nil {
		return fmt.Errorf("cannot parse %q: %w", ver, err)
	}

	wantMajor, wantMinor, _ := parseMajorMinor(MinORTVersion)
	if major < wantMajor || (major == wantMajor && minor < wantMinor) {
		return fmt.Errorf("requires ONNX Runtime >=%s, got %d.%d", MinORTVersion, major, minor)
	}

	return nil
}

func parseMajorMinor(ver string) (major, minor int, err error) {
	parts := strings.SplitN(ver, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("unexpected version format %q", ver)
	}

	major, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad major in %q: %w", ver, err)
	}

	minor, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad minor in %q: %w", ver, err)
	}

	return major, minor, nil
}
