package bench_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/example/go-gst/internal/bench"
)

// ---------------------------------------------------------------------------
// Aggregation
// ---------------------------------------------------------------------------

func TestStats_MinMaxMean(t *testing.T) {
	durations := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
	}
	s := bench.ComputeStats(durations)

	if s.Min != 100*time.Millisecond {
		t.Errorf("want min=100ms, got %v", s.Min)
	}

	if s.Max != 300*time.Millisecond {
		t.Errorf("want max=300ms, got %v", s.Max)
	}

	if s.Mean != 200*time.Millisecond {
		t.Errorf("want mean=200ms, got %v", s.Mean)
	}
}

func TestStats_SingleRun(t *testing.T) {
	s := bench.ComputeStats([]time.Duration{150 * time.Millisecond})
	if s.Min != s.Max || s.Min != s.Mean {
		t.Errorf("single run: min/max/mean should all be equal, got min=%v max=%v mean=%v", s.Min, s.Max, s.Mean)
	}
}

func TestStats_Empty(t *testing.T) {
	if s := bench.ComputeStats(nil); s != (bench.Stats{}) {
		t.Errorf("empty: want zero stats, got %+v", s)
	}
}

// ---------------------------------------------------------------------------
// Measure
// ---------------------------------------------------------------------------

func TestMeasure_RecordsRuns(t *testing.T) {
	calls := 0

	runs, err := bench.Measure(3, 200, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Measure: %v", err)
	}

	if calls != 3 || len(runs) != 3 {
		t.Fatalf("calls=%d runs=%d, want 3/3", calls, len(runs))
	}

	if !runs[0].Cold || runs[1].Cold {
		t.Errorf("only the first run should be cold: %+v", runs)
	}

	for i, r := range runs {
		if r.Index != i || r.Frames != 200 {
			t.Errorf("run %d = %+v", i, r)
		}
	}

	if got := len(bench.Durations(runs)); got != 3 {
		t.Errorf("Durations len = %d, want 3", got)
	}
}

func TestMeasure_StopsOnError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0

	runs, err := bench.Measure(5, 1, func() error {
		calls++
		if calls == 2 {
			return boom
		}

		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("want wrapped boom, got %v", err)
	}

	if len(runs) != 1 {
		t.Errorf("want 1 completed run before error, got %d", len(runs))
	}
}

func TestMeasure_RejectsBadArgs(t *testing.T) {
	if _, err := bench.Measure(0, 1, func() error { return nil }); err == nil {
		t.Error("want error for zero runs")
	}

	if _, err := bench.Measure(1, 1, nil); err == nil {
		t.Error("want error for nil func")
	}
}

// ---------------------------------------------------------------------------
// Throughput and threshold
// ---------------------------------------------------------------------------

func TestCalcThroughput(t *testing.T) {
	if got := bench.CalcThroughput(500*time.Millisecond, 100); got < 199.9 || got > 200.1 {
		t.Errorf("want 200 frames/s, got %.3f", got)
	}

	if got := bench.CalcThroughput(0, 100); got != 0 {
		t.Errorf("zero duration: want 0, got %v", got)
	}
}

func TestCheckLatencyThreshold(t *testing.T) {
	if err := bench.CheckLatencyThreshold(2*time.Second, 0); err != nil {
		t.Errorf("disabled gate returned %v", err)
	}

	if err := bench.CheckLatencyThreshold(10*time.Millisecond, 20*time.Millisecond); err != nil {
		t.Errorf("under threshold returned %v", err)
	}

	err := bench.CheckLatencyThreshold(30*time.Millisecond, 20*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "exceeds threshold") {
		t.Errorf("want threshold error, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Output formatters
// ---------------------------------------------------------------------------

func sampleRuns() ([]bench.RunResult, bench.Stats) {
	runs := []bench.RunResult{
		{Index: 0, Cold: true, Duration: 40 * time.Millisecond, Frames: 200, Throughput: 5000},
		{Index: 1, Duration: 20 * time.Millisecond, Frames: 200, Throughput: 10000},
	}

	return runs, bench.ComputeStats(bench.Durations(runs))
}

func TestFormatTable(t *testing.T) {
	runs, stats := sampleRuns()

	var buf bytes.Buffer
	bench.FormatTable(runs, stats, &buf)

	out := buf.String()
	for _, want := range []string{"Run", "Frames/s", "yes", "(min)", "(mean)", "(max)", "30.000"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}

func TestFormatJSON(t *testing.T) {
	runs, stats := sampleRuns()

	var buf bytes.Buffer
	if err := bench.FormatJSON(runs, stats, &buf); err != nil {
		t.Fatalf("FormatJSON: %v", err)
	}

	var report struct {
		Runs []struct {
			Cold         bool    `json:"cold"`
			DurationMS   float64 `json:"duration_ms"`
			FramesPerSec float64 `json:"frames_per_sec"`
		} `json:"runs"`
		Stats struct {
			MeanMS float64 `json:"mean_ms"`
		} `json:"stats"`
	}

	if err := json.Unmarshal(buf.Bytes(), &report); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}

	if len(report.Runs) != 2 || !report.Runs[0].Cold || report.Runs[1].FramesPerSec != 10000 {
		t.Errorf("unexpected runs: %+v", report.Runs)
	}

	if report.Stats.MeanMS != 30 {
		t.Errorf("mean_ms = %v, want 30", report.Stats.MeanMS)
	}
}
