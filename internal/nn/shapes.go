package nn

import (
	"log"

	"github.com/seqloom/seqloom/internal/device"
)

// Tensor3 carries a [batch, steps, width] activation as a rank-2 backend
// tensor of batch*steps rows, batch-major.
type Tensor3 struct {
	Batch int
	Steps int
	Width int
	Data  device.Tensor
}

// NewTensor3 allocates a [batch, steps, width] tensor. data may be nil.
func NewTensor3(b device.Backend, batch, steps, width int, data []float32) *Tensor3 {
	return &Tensor3{
		Batch: batch,
		Steps: steps,
		Width: width,
		Data:  b.NewTensor(batch*steps, width, data),
	}
}

// Seq returns the rows of one batch element as a shared-storage view.
func (t *Tensor3) Seq(b int) device.Tensor {
	return t.Data.Rows(b*t.Steps, (b+1)*t.Steps)
}

// Clone copies the tensor, detaching it from the original storage.
func (t *Tensor3) Clone(backend device.Backend) *Tensor3 {
	out := backend.NewTensor(t.Batch*t.Steps, t.Width, nil)
	out.Copy(t.Data)
	return &Tensor3{Batch: t.Batch, Steps: t.Steps, Width: t.Width, Data: out}
}

// Tensor4 carries a [batch, heads, steps, width] activation as a rank-2
// backend tensor. Rows are grouped head-major within each batch element:
// row index = (b*heads+h)*steps + s.
type Tensor4 struct {
	Batch int
	Heads int
	Steps int
	Width int
	Data  device.Tensor
}

// Group returns the steps x width block for one (batch, head) pair as a
// shared-storage view.
func (t *Tensor4) Group(b, h int) device.Tensor {
	base := (b*t.Heads + h) * t.Steps
	return t.Data.Rows(base, base+t.Steps)
}

// At returns the value at [b, h, s, j].
func (t *Tensor4) At(b, h, s, j int) float32 {
	return t.Data.At((b*t.Heads+h)*t.Steps+s, j)
}

// splitHeads rearranges a (batch*steps, heads*dim) projection into
// head-major [batch, heads, steps, dim] storage. The result is a fresh
// contiguous copy; a reinterpreting view of the transposed layout would
// not be safe to feed to the per-group matrix products.
func splitHeads(b device.Backend, proj device.Tensor, batch, steps, heads, dim int) *Tensor4 {
	rows, cols := proj.Dims()
	if rows != batch*steps || cols != heads*dim {
		log.Panicf("splitHeads: got %dx%d, want %dx%d", rows, cols, batch*steps, heads*dim)
	}

	out := b.NewTensor(batch*heads*steps, dim, nil)
	src := proj.Data()
	dst := out.Data()
	for bi := 0; bi < batch; bi++ {
		for s := 0; s < steps; s++ {
			srcRow := (bi*steps + s) * cols
			for h := 0; h < heads; h++ {
				dstRow := ((bi*heads+h)*steps + s) * dim
				copy(dst[dstRow:dstRow+dim], src[srcRow+h*dim:srcRow+(h+1)*dim])
			}
		}
	}

	return &Tensor4{Batch: batch, Heads: heads, Steps: steps, Width: dim, Data: out}
}

// mergeHeads is the inverse of splitHeads: head-major [batch, heads,
// steps, dim] back to (batch*steps, heads*dim), materialized contiguously
// so the output projection reads head-major memory.
func mergeHeads(b device.Backend, t *Tensor4) device.Tensor {
	cols := t.Heads * t.Width
	out := b.GetTensor(t.Batch*t.Steps, cols)
	src := t.Data.Data()
	dst := out.Data()
	for bi := 0; bi < t.Batch; bi++ {
		for s := 0; s < t.Steps; s++ {
			dstRow := (bi*t.Steps + s) * cols
			for h := 0; h < t.Heads; h++ {
				srcRow := ((bi*t.Heads+h)*t.Steps + s) * t.Width
				copy(dst[dstRow+h*t.Width:dstRow+(h+1)*t.Width], src[srcRow:srcRow+t.Width])
			}
		}
	}
	return out
}
