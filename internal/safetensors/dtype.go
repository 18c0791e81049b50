package safetensors

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// dtype describes how one on-disk element type widens to float32.
type dtype struct {
	size   int
	decode func(raw []byte, out []float32)
}

var dtypes = map[string]dtype{
	"F32":  {size: 4, decode: decodeF32},
	"F16":  {size: 2, decode: decodeF16},
	"BF16": {size: 2, decode: decodeBF16},
}

func lookupDType(name string) (dtype, error) {
	dt, ok := dtypes[strings.ToUpper(name)]
	if !ok {
		return dtype{}, fmt.Errorf("unsupported dtype %q", name)
	}

	return dt, nil
}

func decodeF32(raw []byte, out []float32) {
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
}

func decodeF16(raw []byte, out []float32) {
	for i := range out {
		out[i] = float16ToFloat32(binary.LittleEndian.Uint16(raw[2*i:]))
	}
}

// BF16 is the upper half of an IEEE float32.
func decodeBF16(raw []byte, out []float32) {
	for i := range out {
		out[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(raw[2*i:])) << 16)
	}
}

// float16ToFloat32 widens an IEEE 754 half-precision value.
func float16ToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h>>10) & 0x1f
	frac := uint32(h & 0x03ff)

	switch exp {
	case 0:
		// zero and subnormals: frac * 2^-24
		mag := float32(math.Ldexp(float64(frac), -24))
		return math.Float32frombits(math.Float32bits(mag) | sign)
	case 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | frac<<13)
	default:
		return math.Float32frombits(sign | (exp+127-15)<<23 | frac<<13)
	}
}

// elementCount multiplies out shape, rejecting negative dimensions and
// overflow.
func elementCount(shape []int64) (int, error) {
	n := int64(1)

	for _, d := range shape {
		switch {
		case d < 0:
			return 0, fmt.Errorf("negative dimension %d", d)
		case d == 0:
			return 0, nil
		case n > math.MaxInt64/d:
			return 0, fmt.Errorf("shape %v overflows element count", shape)
		}

		n *= d
	}

	return int(n), nil
}
