package doctor

import (
	"strings"
	"testing"

	"github.com/klauspost/cpuid/v2"
)

func TestParseMajorMinor(t *testing.T) {
	tests := []struct {
		name      string
		ver       string
		wantMajor int
		wantMinor int
		wantErr   bool
	}{
		{"simple", "1.23", 1, 23, false},
		{"with patch", "1.23.2", 1, 23, false},
		{"single number", "1", 0, 0, true},
		{"empty", "", 0, 0, true},
		{"bad major", "abc.11", 0, 0, true},
		{"bad minor", "1.xyz", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			major, minor, err := parseMajorMinor(tt.ver)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("parseMajorMinor(%q) = (%d,%d,nil); want error", tt.ver, major, minor)
				}

				return
			}

			if err != nil {
				t.Fatalf("parseMajorMinor(%q) error: %v", tt.ver, err)
			}

			if major != tt.wantMajor || minor != tt.wantMinor {
				t.Fatalf("parseMajorMinor(%q) = (%d,%d); want (%d,%d)",
					tt.ver, major, minor, tt.wantMajor, tt.wantMinor)
			}
		})
	}
}

func TestCheckORTVersion(t *testing.T) {
	tests := []struct {
		name    string
		ver     string
		wantErr bool
	}{
		{"minimum", "1.23.0", false},
		{"newer minor", "1.24.1", false},
		{"next major", "2.0.0", false},
		{"unknown accepted", "unknown", false},
		{"too old", "1.17.3", true},
		{"garbage", "abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkORTVersion(tt.ver)
			if (err != nil) != tt.wantErr {
				t.Fatalf("checkORTVersion(%q) error = %v, wantErr %v", tt.ver, err, tt.wantErr)
			}
		})
	}
}

func TestDescribeCPUScalarFallback(t *testing.T) {
	cpu := &cpuid.CPUInfo{BrandName: "  Test CPU  ", PhysicalCores: 4, LogicalCores: 8}

	got := DescribeCPU(cpu)
	for _, want := range []string{"Test CPU", "4 physical", "8 logical", "scalar"} {
		if !strings.Contains(got, want) {
			t.Errorf("DescribeCPU = %q, missing %q", got, want)
		}
	}
}

func TestRecommendedWorkersPositive(t *testing.T) {
	if n := RecommendedWorkers(); n < 1 {
		t.Fatalf("RecommendedWorkers = %d, want >= 1", n)
	}
}
