package math32

import "math"

// ExpFast is a fast approximation of exp(x) for float32 inputs.
// Uses the identity exp(x) = 2^(x/ln2) and a polynomial approximation.
func ExpFast(x float32) float32 {
	if x > 88 {
		return float32(math.Inf(1))
	}
	if x < -88 {
		return 0
	}

	const log2e = 1.4426950408889634

	t := float64(x) * log2e
	k := int(t)
	if t < 0 {
		k--
	}

	// Fractional part in [0, 1)
	f := t - float64(k)

	// 2^f for f in [0, 1)
	p := 1.0 + f*(0.6931471805599453+f*(0.24022650695910072+f*0.05550410866482157))

	// Ldexp handles the full exponent range; shift-based scaling would
	// silently overflow to zero for |k| >= 64.
	return float32(math.Ldexp(p, k))
}

// Dot returns the dot product of a and b. Lengths must match.
func Dot(a, b []float32) float32 {
	var s0, s1, s2, s3 float32
	i := 0
	for ; i <= len(a)-4; i += 4 {
		s0 += a[i] * b[i]
		s1 += a[i+1] * b[i+1]
		s2 += a[i+2] * b[i+2]
		s3 += a[i+3] * b[i+3]
	}
	s := s0 + s1 + s2 + s3
	for ; i < len(a); i++ {
		s += a[i] * b[i]
	}
	return s
}

// Add performs dst += src.
func Add(dst, src []float32) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i]
		dst[i+1] += src[i+1]
		dst[i+2] += src[i+2]
		dst[i+3] += src[i+3]
	}
	for ; i < len(dst); i++ {
		dst[i] += src[i]
	}
}

// Axpy performs dst += src * scale.
func Axpy(dst, src []float32, scale float32) {
	i := 0
	for ; i <= len(dst)-4; i += 4 {
		dst[i] += src[i] * scale
		dst[i+1] += src[i+1] * scale
		dst[i+2] += src[i+2] * scale
		dst[i+3] += src[i+3] * scale
	}
	for ; i < len(dst); i++ {
		dst[i] += src[i] * scale
	}
}

// Softmax normalizes row in-place into a probability distribution.
// Subtracts the row maximum before exponentiation for stability.
func Softmax(row []float32) {
	max := row[0]
	for _, v := range row {
		if v > max {
			max = v
		}
	}

	var sum float32
	for i, v := range row {
		row[i] = ExpFast(v - max)
		sum += row[i]
	}

	inv := 1 / sum
	for i := range row {
		row[i] *= inv
	}
}

// Relu applies max(0, x) in-place.
func Relu(data []float32) {
	for i := range data {
		if data[i] < 0 {
			data[i] = 0
		}
	}
}
