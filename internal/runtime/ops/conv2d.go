package ops

import (
	"errors"
	"fmt"

	"github.com/example/go-gst/internal/runtime/tensor"
)

// Conv2D performs a deterministic CPU Conv2d with groups=1 and dilation 1.
// input: [batch, in_channels, height, width]
// kernel: [out_channels, in_channels, kernel_h, kernel_w]
// bias: optional [out_channels]
// stride and padding are given as (height, width).
//
// The convolution is lowered to a GEMM through an im2col patch matrix of
// shape [outH*outW, in_channels*kernel_h*kernel_w], so every output value is
// one contiguous dot product between a kernel row and a patch row.
func Conv2D(input, kernel, bias *tensor.Tensor, stride, padding [2]int64) (*tensor.Tensor, error) {
	if input == nil || kernel == nil {
		return nil, errors.New("ops: conv2d requires non-nil input/kernel")
	}

	if stride[0] <= 0 || stride[1] <= 0 {
		return nil, fmt.Errorf("ops: conv2d stride must be > 0, got %v", stride)
	}

	if padding[0] < 0 || padding[1] < 0 {
		return nil, fmt.Errorf("ops: conv2d padding must be >= 0, got %v", padding)
	}

	inShape := input.Shape()
	kShape := kernel.Shape()

	if len(inShape) != 4 || len(kShape) != 4 {
		return nil, fmt.Errorf("ops: conv2d expects input/kernel rank 4, got %v and %v", inShape, kShape)
	}

	batch, inCh, height, width := inShape[0], inShape[1], inShape[2], inShape[3]
	outCh, kInCh, kH, kW := kShape[0], kShape[1], kShape[2], kShape[3]

	if kInCh != inCh {
		return nil, fmt.Errorf("ops: conv2d kernel in_channels mismatch: got %d want %d", kInCh, inCh)
	}

	if bias != nil {
		bShape := bias.Shape()
		if len(bShape) != 1 || bShape[0] != outCh {
			return nil, fmt.Errorf("ops: conv2d bias shape %v does not match out_channels %d", bShape, outCh)
		}
	}

	outH := (height+2*padding[0]-kH)/stride[0] + 1
	outW := (width+2*padding[1]-kW)/stride[1] + 1

	if outH <= 0 || outW <= 0 {
		return nil, fmt.Errorf("ops: conv2d produced non-positive output size %dx%d", outH, outW)
	}

	out, err := tensor.Zeros([]int64{batch, outCh, outH, outW})
	if err != nil {
		return nil, err
	}

	inputData := input.RawData()
	kernelData := kernel.RawData()
	outData := out.RawData()

	var biasData []float32
	if bias != nil {
		biasData = bias.RawData()
	}

	patchLen := int(inCh * kH * kW)
	positions := int(outH * outW)

	imcol := getScratch(positions * patchLen)
	defer putScratch(imcol)

	for b := range batch {
		if b > 0 {
			clear(imcol)
		}

		for oy := range outH {
			for ox := range outW {
				row := imcol[int(oy*outW+ox)*patchLen:]
				col := 0

				for ic := range inCh {
					plane := ((b*inCh + ic) * height) * width
					for ky := range kH {
						iy := oy*stride[0] - padding[0] + ky
						for kx := range kW {
							ix := ox*stride[1] - padding[1] + kx
							if iy >= 0 && iy < height && ix >= 0 && ix < width {
								row[col] = inputData[plane+iy*width+ix]
							}

							col++
						}
					}
				}
			}
		}

		outBase := int(b * outCh * outH * outW)

		parallelFor(int(outCh), getConvWorkers(), func(lo, hi int) {
			for oc := lo; oc < hi; oc++ {
				kRow := kernelData[oc*patchLen : (oc+1)*patchLen]
				dst := outData[outBase+oc*positions : outBase+(oc+1)*positions]

				for p := range positions {
					sum := tensor.DotProduct(kRow, imcol[p*patchLen:(p+1)*patchLen])
					if biasData != nil {
						sum += biasData[oc]
					}

					dst[p] = sum
				}
			}
		})
	}

	return out, nil
}

// SamePadding returns the (height, width) padding that keeps spatial size for
// odd kernel sizes at stride 1.
func SamePadding(kernelH, kernelW int64) [2]int64 {
	return [2]int64{(kernelH - 1) / 2, (kernelW - 1) / 2}
}
