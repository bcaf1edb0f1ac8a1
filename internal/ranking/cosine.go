package ranking

import "math"

// CosineSimilarity returns the cosine of the angle between a and b. Empty,
// mismatched or zero-magnitude vectors have similarity 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		magA += x * x
		magB += y * y
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(magA) * math.Sqrt(magB))
	if math.IsNaN(sim) {
		return 0
	}
	return math.Max(-1, math.Min(1, sim))
}
