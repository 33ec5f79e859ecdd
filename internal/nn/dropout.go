package nn

import (
	"math/rand"

	"github.com/seqloom/seqloom/internal/device"
)

// Dropout zeroes elements with probability Rate and rescales survivors by
// 1/(1-Rate) (inverted dropout). The rate is fixed at construction and
// never mutated; randomness is supplied per forward call.
type Dropout struct {
	Rate float32
}

func NewDropout(rate float32) *Dropout {
	return &Dropout{Rate: rate}
}

// Forward applies dropout in-place. A nil rng means inference: the tensor
// passes through untouched. A fixed-seed rng yields deterministic output.
func (d *Dropout) Forward(t device.Tensor, rng *rand.Rand) device.Tensor {
	if rng == nil || d.Rate == 0 {
		return t
	}

	scale := 1 / (1 - d.Rate)
	if data := t.Data(); data != nil {
		for i := range data {
			if rng.Float32() < d.Rate {
				data[i] = 0
			} else {
				data[i] *= scale
			}
		}
		return t
	}

	r, c := t.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if rng.Float32() < d.Rate {
				t.Set(i, j, 0)
			} else {
				t.Set(i, j, t.At(i, j)*scale)
			}
		}
	}
	return t
}
