package match

import "math"

// L2Distance computes the Euclidean distance between two vectors.
// Returns +Inf for vectors of different or zero length so invalid input can
// never win a nearest-entry comparison.
func L2Distance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return math.Inf(1)
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
