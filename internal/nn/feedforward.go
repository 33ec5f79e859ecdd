package nn

import (
	"math/rand"

	"github.com/seqloom/seqloom/internal/device"
)

// PositionWiseFeedForward applies linear_2(relu(linear_1(x))) per step,
// followed by dropout, the residual connection, and layer normalization.
// Input and output are both [batch, steps, d_model].
type PositionWiseFeedForward struct {
	backend device.Backend

	W1      *Linear // d_model -> d_inner, with bias
	W2      *Linear // d_inner -> d_model, with bias
	Dropout *Dropout
	Norm    *LayerNorm
}

func NewPositionWiseFeedForward(b device.Backend, dModel, dInner int, dropout float32, rng *rand.Rand) *PositionWiseFeedForward {
	return &PositionWiseFeedForward{
		backend: b,
		W1:      NewLinear(b, dModel, dInner, true, rng),
		W2:      NewLinear(b, dInner, dModel, true, rng),
		Dropout: NewDropout(dropout),
		Norm:    NewLayerNorm(b, dModel),
	}
}

func (f *PositionWiseFeedForward) Forward(x *Tensor3, rng *rand.Rand) *Tensor3 {
	residual := x.Data

	inner := f.W1.Forward(x.Data)
	inner.Relu()
	out := f.W2.Forward(inner)
	f.backend.PutTensor(inner)

	f.Dropout.Forward(out, rng)
	out.Add(residual)
	f.Norm.Forward(out)

	return &Tensor3{Batch: x.Batch, Steps: x.Steps, Width: x.Width, Data: out}
}
