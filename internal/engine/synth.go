package engine

import (
	"math"
	"math/rand"
)

// GenerateSynthetic builds n sequences of sine blends with light noise,
// useful for soak tests and benchmarks. A fixed seed gives a reproducible
// workload.
func GenerateSynthetic(n, steps, features int, seed int64) []Sequence {
	r := rand.New(rand.NewSource(seed))
	result := make([]Sequence, n)

	for i := 0; i < n; i++ {
		values := make([]float32, steps*features)
		for f := 0; f < features; f++ {
			freq := 0.05 + r.Float64()*0.5
			phase := r.Float64() * 2 * math.Pi
			amp := 0.5 + r.Float64()
			for s := 0; s < steps; s++ {
				noise := (r.Float64() - 0.5) * 0.1
				values[s*features+f] = float32(amp*math.Sin(freq*float64(s)+phase) + noise)
			}
		}
		result[i] = Sequence{Steps: steps, Values: values}
	}

	return result
}
