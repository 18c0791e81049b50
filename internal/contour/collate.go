package contour

import (
	"errors"
	"fmt"

	"github.com/example/go-gst/internal/runtime/tensor"
)

// Collate stacks [F, T_i] contours into a zero-padded [N, F, T] batch.
// With frames > 0 every contour is padded or truncated to exactly that many
// frames. Otherwise T is the longest T_i rounded up to a multiple of step
// (step <= 1 disables rounding).
func Collate(contours []*tensor.Tensor, frames, step int) (*tensor.Tensor, error) {
	if len(contours) == 0 {
		return nil, errors.New("contour: collate needs at least one contour")
	}

	var bands int64

	longest := 0

	for i, c := range contours {
		if c == nil || c.Rank() != 2 {
			var shape []int64
			if c != nil {
				shape = c.Shape()
			}

			return nil, fmt.Errorf("contour: collate input %d must be [bands, frames], got %v", i, shape)
		}

		if i == 0 {
			bands = c.Dim(0)
		} else if c.Dim(0) != bands {
			return nil, fmt.Errorf("contour: collate input %d has %d bands, want %d", i, c.Dim(0), bands)
		}

		longest = max(longest, int(c.Dim(1)))
	}

	if frames <= 0 {
		frames = longest
		if step > 1 && frames%step != 0 {
			frames += step - frames%step
		}
	}

	if frames <= 0 {
		return nil, errors.New("contour: collate produced zero frames")
	}

	n := len(contours)
	out := make([]float32, n*int(bands)*frames)

	for i, c := range contours {
		src := c.RawData()
		srcFrames := int(c.Dim(1))
		keep := min(srcFrames, frames)

		for f := range int(bands) {
			dst := out[(i*int(bands)+f)*frames:]
			copy(dst[:keep], src[f*srcFrames:f*srcFrames+keep])
		}
	}

	return tensor.New(out, []int64{int64(n), bands, int64(frames)})
}
