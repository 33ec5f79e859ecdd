package nn

import (
	"log"

	"github.com/seqloom/seqloom/internal/device"
)

// Mask marks attention positions to suppress. Entries equal to 1 are
// assigned a large negative score before the softmax; entries equal to 0
// attend normally. Storage is (batch*stepsQ, stepsK) rows; Batch == 1
// broadcasts over every batch element, and every mask broadcasts over the
// head axis. Masks are read-only to the attention modules.
type Mask struct {
	Batch  int
	StepsQ int
	StepsK int
	Data   device.Tensor
}

// Group returns the stepsQ x stepsK block for one batch element.
func (m *Mask) Group(b int) device.Tensor {
	if m.Batch == 1 {
		b = 0
	}
	return m.Data.Rows(b*m.StepsQ, (b+1)*m.StepsQ)
}

// NewCausalMask builds a no-lookahead mask: query position i may attend
// only to key positions <= i. Broadcasts over the batch.
func NewCausalMask(b device.Backend, steps int) *Mask {
	data := make([]float32, steps*steps)
	for i := 0; i < steps; i++ {
		for j := i + 1; j < steps; j++ {
			data[i*steps+j] = 1
		}
	}
	return &Mask{
		Batch:  1,
		StepsQ: steps,
		StepsK: steps,
		Data:   b.NewTensor(steps, steps, data),
	}
}

// NewPaddingMask suppresses key positions at or beyond each sequence's
// true length. lengths carries one entry per batch element.
func NewPaddingMask(b device.Backend, lengths []int, stepsQ, stepsK int) *Mask {
	batch := len(lengths)
	data := make([]float32, batch*stepsQ*stepsK)
	for bi, l := range lengths {
		if l > stepsK {
			log.Panicf("NewPaddingMask: length %d exceeds key steps %d", l, stepsK)
		}
		for i := 0; i < stepsQ; i++ {
			row := (bi*stepsQ + i) * stepsK
			for j := l; j < stepsK; j++ {
				data[row+j] = 1
			}
		}
	}
	return &Mask{
		Batch:  batch,
		StepsQ: stepsQ,
		StepsK: stepsK,
		Data:   b.NewTensor(batch*stepsQ, stepsK, data),
	}
}
