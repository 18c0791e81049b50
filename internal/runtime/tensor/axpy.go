package tensor

// Axpy computes dst += alpha * src over the shorter of the two slices.
func Axpy(dst []float32, alpha float32, src []float32) {
	n := min(len(dst), len(src))
	if n == 0 || alpha == 0 {
		return
	}

	dst, src = dst[:n], src[:n]

	i := 0
	for ; i+4 <= n; i += 4 {
		dst[i] += alpha * src[i]
		dst[i+1] += alpha * src[i+1]
		dst[i+2] += alpha * src[i+2]
		dst[i+3] += alpha * src[i+3]
	}

	for ; i < n; i++ {
		dst[i] += alpha * src[i]
	}
}
