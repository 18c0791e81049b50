package testutil

import (
	"bytes"
	"testing"

	"github.com/cwbudde/wav"
)

// decodeMono16 validates the header of a mono 16-bit PCM WAV at sampleRate
// and returns its sample count.
func decodeMono16(tb testing.TB, data []byte, sampleRate int) int {
	tb.Helper()

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		tb.Fatalf("WAV: invalid file (%d bytes)", len(data))
	}

	switch {
	case dec.WavAudioFormat != 1:
		tb.Fatalf("WAV: expected PCM format (1), got %d", dec.WavAudioFormat)
	case dec.NumChans != 1:
		tb.Fatalf("WAV: expected mono (1 channel), got %d", dec.NumChans)
	case dec.BitDepth != 16:
		tb.Fatalf("WAV: expected 16-bit depth, got %d", dec.BitDepth)
	case int(dec.SampleRate) != sampleRate:
		tb.Fatalf("WAV: expected sample rate %d, got %d", sampleRate, dec.SampleRate)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		tb.Fatalf("WAV: reading PCM data: %v", err)
	}

	return len(buf.Data)
}

// AssertValidWAV checks that data is a non-empty mono 16-bit PCM WAV file
// at sampleRate.
func AssertValidWAV(tb testing.TB, data []byte, sampleRate int) {
	tb.Helper()

	if decodeMono16(tb, data, sampleRate) == 0 {
		tb.Fatal("WAV: data chunk contains zero samples")
	}
}

// AssertWAVDurationApprox asserts that a mono 16-bit WAV lasts between
// minSec and maxSec at sampleRate.
func AssertWAVDurationApprox(tb testing.TB, data []byte, sampleRate int, minSec, maxSec float64) {
	tb.Helper()

	durationSec := float64(decodeMono16(tb, data, sampleRate)) / float64(sampleRate)
	if durationSec < minSec || durationSec > maxSec {
		tb.Fatalf("WAV duration %.3fs out of expected range [%.3fs, %.3fs]", durationSec, minSec, maxSec)
	}
}
