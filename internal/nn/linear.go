package nn

import (
	"math"
	"math/rand"

	"github.com/seqloom/seqloom/internal/device"
)

// Linear is a dense projection: y = x*W (+ b). Weights are read-only
// during forward passes.
type Linear struct {
	W device.Tensor // in x out
	B device.Tensor // 1 x out, nil when constructed without bias
}

// NewLinear creates a projection with Xavier-initialized weights.
func NewLinear(b device.Backend, in, out int, bias bool, rng *rand.Rand) *Linear {
	l := &Linear{W: b.NewTensor(in, out, nil)}
	if bias {
		l.B = b.NewTensor(1, out, nil)
	}
	xavierInit(l.W, rng)
	return l
}

// Forward applies the projection. The result comes from the backend pool;
// callers that discard it may return it with PutTensor.
func (l *Linear) Forward(x device.Tensor) device.Tensor {
	return l.W.Linear(x, l.W, l.B)
}

// xavierInit fills a matrix with Xavier/Glorot uniform values.
// Uses bulk CopyFromFloat32 for a single upload pass.
func xavierInit(m device.Tensor, rng *rand.Rand) {
	r, c := m.Dims()
	limit := float32(math.Sqrt(6.0 / float64(r+c)))

	data := make([]float32, r*c)
	for i := range data {
		data[i] = (rng.Float32()*2 - 1) * limit
	}

	m.CopyFromFloat32(data)
}
