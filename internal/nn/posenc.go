package nn

import (
	"log"
	"math"

	"github.com/seqloom/seqloom/internal/device"
)

// PositionalEncoding adds a fixed sinusoidal position signal to embedded
// input. The table is built once at construction, carries no learned
// state, and is never mutated afterwards; forward calls slice it to the
// input length instead of recomputing it.
type PositionalEncoding struct {
	// Table is n_position x d_model. Even feature indices hold
	// sin(pos / 10000^(2i/d_model)), odd indices hold cos of the same
	// angle. Read-only after construction.
	Table device.Tensor

	nPosition int
}

func NewPositionalEncoding(b device.Backend, dModel, nPosition int) *PositionalEncoding {
	data := make([]float32, nPosition*dModel)
	for pos := 0; pos < nPosition; pos++ {
		for j := 0; j < dModel; j++ {
			angle := float64(pos) / math.Pow(10000, 2*float64(j/2)/float64(dModel))
			if j%2 == 0 {
				data[pos*dModel+j] = float32(math.Sin(angle))
			} else {
				data[pos*dModel+j] = float32(math.Cos(angle))
			}
		}
	}

	return &PositionalEncoding{
		Table:     b.NewTensor(nPosition, dModel, data),
		nPosition: nPosition,
	}
}

// Forward adds the first x.Steps table rows to every batch element,
// in-place. Callers pass tensors they own.
func (p *PositionalEncoding) Forward(x *Tensor3) *Tensor3 {
	if x.Steps > p.nPosition {
		log.Panicf("positional encoding: %d steps exceed table size %d", x.Steps, p.nPosition)
	}

	rows := p.Table.Rows(0, x.Steps)
	for b := 0; b < x.Batch; b++ {
		x.Seq(b).Add(rows)
	}
	return x
}
