package contour

import (
	"errors"
	"fmt"
	"math"

	"github.com/example/go-gst/internal/runtime/tensor"
)

// Options configures ExtractBinLocations.
type Options struct {
	Bands       int
	HopLength   int
	FrameLength int
	FMin        float64
	FMax        float64
	// VoicingThreshold is the minimum normalised autocorrelation peak for a
	// frame to count as voiced.
	VoicingThreshold float64
	// SilenceRMS marks frames quieter than this as unvoiced.
	SilenceRMS float64
}

func DefaultOptions() Options {
	return Options{
		Bands:            13,
		HopLength:        256,
		FrameLength:      1024,
		FMin:             65,
		FMax:             1000,
		VoicingThreshold: 0.3,
		SilenceRMS:       1e-3,
	}
}

func (o Options) Validate() error {
	switch {
	case o.Bands <= 0:
		return fmt.Errorf("contour: bands must be > 0, got %d", o.Bands)
	case o.HopLength <= 0:
		return fmt.Errorf("contour: hop length must be > 0, got %d", o.HopLength)
	case o.FrameLength < 2:
		return fmt.Errorf("contour: frame length must be >= 2, got %d", o.FrameLength)
	case o.FMin <= 0 || o.FMax <= o.FMin:
		return fmt.Errorf("contour: need 0 < fmin < fmax, got %v..%v", o.FMin, o.FMax)
	}

	return nil
}

// ExtractBinLocations tracks pitch over samples and returns a [Bands, T]
// one-hot contour. Frames are centred on multiples of HopLength, so
// T = len(samples)/HopLength + 1. A voiced frame sets the band its F0 falls
// into on a log-frequency scale between FMin and FMax; unvoiced frames stay zero.
func ExtractBinLocations(samples []float32, sampleRate int, opts Options) (*tensor.Tensor, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("contour: invalid sample rate %d", sampleRate)
	}

	if len(samples) == 0 {
		return nil, errors.New("contour: no samples")
	}

	// The longest lag is one FMin period and must fit inside a frame.
	minLag := max(1, int(math.Floor(float64(sampleRate)/opts.FMax)))
	maxLag := int(math.Ceil(float64(sampleRate) / opts.FMin))

	if opts.FrameLength-1 < maxLag || minLag >= maxLag {
		return nil, fmt.Errorf("contour: frame length %d too short for fmin %v at %d Hz (need > %d samples)", opts.FrameLength, opts.FMin, sampleRate, maxLag)
	}

	frames := len(samples)/opts.HopLength + 1
	bands := opts.Bands

	out := make([]float32, bands*frames)
	frame := make([]float64, opts.FrameLength)

	for t := range frames {
		fillFrame(frame, samples, t*opts.HopLength-opts.FrameLength/2)

		f0, ok := estimatePitch(frame, sampleRate, minLag, maxLag, opts)
		if !ok {
			continue
		}

		out[bandIndex(f0, opts)*frames+t] = 1
	}

	return tensor.New(out, []int64{int64(bands), int64(frames)})
}

// fillFrame copies samples[start:start+len(dst)] into dst with zero padding
// outside the signal.
func fillFrame(dst []float64, samples []float32, start int) {
	for i := range dst {
		j := start + i
		if j < 0 || j >= len(samples) {
			dst[i] = 0
			continue
		}

		dst[i] = float64(samples[j])
	}
}

// estimatePitch picks the strongest biased-autocorrelation peak in
// [minLag, maxLag] and refines it with parabolic interpolation.
func estimatePitch(frame []float64, sampleRate, minLag, maxLag int, opts Options) (float64, bool) {
	n := len(frame)

	var mean float64
	for _, v := range frame {
		mean += v
	}

	mean /= float64(n)

	var energy float64

	for i := range frame {
		frame[i] -= mean
		energy += frame[i] * frame[i]
	}

	if energy == 0 || math.Sqrt(energy/float64(n)) < opts.SilenceRMS {
		return 0, false
	}

	corr := func(lag int) float64 {
		var s float64
		for i := range n - lag {
			s += frame[i] * frame[i+lag]
		}

		return s / energy
	}

	bestLag, best := -1, math.Inf(-1)
	prev, cur := corr(minLag-1), corr(minLag)

	for lag := minLag; lag <= maxLag; lag++ {
		next := corr(lag + 1)
		if cur >= prev && cur >= next && cur > best {
			bestLag, best = lag, cur
		}

		prev, cur = cur, next
	}

	if bestLag < 0 || best < opts.VoicingThreshold {
		return 0, false
	}

	lag := float64(bestLag)

	left, right := corr(bestLag-1), corr(bestLag+1)
	if denom := left - 2*best + right; denom != 0 {
		shift := 0.5 * (left - right) / denom
		if math.Abs(shift) < 1 {
			lag += shift
		}
	}

	return float64(sampleRate) / lag, true
}

// bandIndex maps f0 onto [0, Bands) on a log-frequency scale.
func bandIndex(f0 float64, opts Options) int {
	pos := math.Log(f0/opts.FMin) / math.Log(opts.FMax/opts.FMin)
	idx := int(math.Floor(pos * float64(opts.Bands)))

	return min(max(idx, 0), opts.Bands-1)
}
