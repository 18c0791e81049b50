package tensor

import "math"

// closeTo reports whether a and b have equal length and every pair differs by
// at most tol. tol 0 requires bit-identical values.
func closeTo(a, b []float32, tol float64) bool {
	if len(a) != len(b) {
		return false
	}

	for i, v := range a {
		if d := math.Abs(float64(v) - float64(b[i])); d > tol || (tol == 0 && v != b[i]) {
			return false
		}
	}

	return true
}
