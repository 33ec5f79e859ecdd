package nn

import (
	"log"
	"math"
	"math/rand"
	"runtime"
	"sync"

	"github.com/seqloom/seqloom/internal/device"
)

// maskFill is the score written to suppressed positions before the
// softmax. Effectively minus infinity for normalization purposes.
const maskFill = -1e9

// numWorkers bounds the parallelism across (batch, head) groups.
var numWorkers = runtime.NumCPU()

// ScaledDotProductAttention computes softmax((Q/temperature)·Kᵗ)·V for
// one head-batch. The temperature is fixed at construction to sqrt(d_k);
// queries are divided before the product rather than scaling the scores
// after, the numerically steadier order.
type ScaledDotProductAttention struct {
	backend     device.Backend
	Temperature float32
	Dropout     *Dropout
}

func NewScaledDotProductAttention(b device.Backend, dk int, attnDropout float32) *ScaledDotProductAttention {
	return &ScaledDotProductAttention{
		backend:     b,
		Temperature: float32(math.Sqrt(float64(dk))),
		Dropout:     NewDropout(attnDropout),
	}
}

// Forward takes q, k, v shaped [batch, heads, steps, dim] (q and k share
// dim; v may differ) and an optional mask broadcastable over batch and
// heads. It returns the aggregated output [batch, heads, steps_q, d_v]
// and the post-dropout attention weights [batch, heads, steps_q, steps_k].
// A fully masked query row is a caller error and produces undefined
// values; always leave at least one key unmasked per query.
func (a *ScaledDotProductAttention) Forward(q, k, v *Tensor4, mask *Mask, rng *rand.Rand) (*Tensor4, *Tensor4) {
	if q.Batch != k.Batch || q.Batch != v.Batch || q.Heads != k.Heads || q.Heads != v.Heads {
		log.Panicf("attention: batch/head mismatch q=[%d,%d] k=[%d,%d] v=[%d,%d]",
			q.Batch, q.Heads, k.Batch, k.Heads, v.Batch, v.Heads)
	}
	if q.Width != k.Width {
		log.Panicf("attention: query width %d != key width %d", q.Width, k.Width)
	}
	if k.Steps != v.Steps {
		log.Panicf("attention: key steps %d != value steps %d", k.Steps, v.Steps)
	}
	if mask != nil && (mask.StepsQ != q.Steps || mask.StepsK != k.Steps) {
		log.Panicf("attention: mask is %dx%d, want %dx%d", mask.StepsQ, mask.StepsK, q.Steps, k.Steps)
	}

	// Scale all queries once, up front.
	qr, qc := q.Data.Dims()
	scaled := a.backend.GetTensor(qr, qc)
	scaled.Copy(q.Data)
	scaled.Scale(1 / a.Temperature)
	qs := &Tensor4{Batch: q.Batch, Heads: q.Heads, Steps: q.Steps, Width: q.Width, Data: scaled}

	out := &Tensor4{
		Batch: q.Batch, Heads: q.Heads, Steps: q.Steps, Width: v.Width,
		Data: a.backend.NewTensor(q.Batch*q.Heads*q.Steps, v.Width, nil),
	}
	weights := &Tensor4{
		Batch: q.Batch, Heads: q.Heads, Steps: q.Steps, Width: k.Steps,
		Data: a.backend.NewTensor(q.Batch*q.Heads*q.Steps, k.Steps, nil),
	}

	group := func(b, h int) {
		scores := a.backend.GetTensor(q.Steps, k.Steps)
		scores.Mul(qs.Group(b, h), k.Group(b, h).T())

		// Suppression must land before normalization, never after.
		if mask != nil {
			scores.MaskedFill(mask.Group(b), maskFill)
		}

		scores.Softmax()
		a.Dropout.Forward(scores, rng)

		out.Group(b, h).Mul(scores, v.Group(b, h))
		weights.Group(b, h).Copy(scores)

		a.backend.PutTensor(scores)
	}

	// Groups are independent, so they can run in parallel. While sampling
	// dropout the draws must stay ordered for a seeded source to give
	// deterministic output, so that path runs sequentially.
	if rng != nil && a.Dropout.Rate > 0 {
		for b := 0; b < q.Batch; b++ {
			for h := 0; h < q.Heads; h++ {
				group(b, h)
			}
		}
	} else {
		var wg sync.WaitGroup
		sem := make(chan struct{}, numWorkers)
		for b := 0; b < q.Batch; b++ {
			for h := 0; h < q.Heads; h++ {
				wg.Add(1)
				sem <- struct{}{}
				go func(b, h int) {
					defer wg.Done()
					group(b, h)
					<-sem
				}(b, h)
			}
		}
		wg.Wait()
	}

	a.backend.PutTensor(scaled)
	return out, weights
}

// MultiHeadAttention projects its inputs into n_heads attention
// subspaces, runs scaled dot-product attention per head, merges the
// results, and applies the output projection with a residual connection
// and layer normalization.
type MultiHeadAttention struct {
	backend device.Backend

	NHeads int
	DK     int
	DV     int

	WQ *Linear // d_model -> n_heads*d_k, no bias
	WK *Linear // d_model -> n_heads*d_k, no bias
	WV *Linear // d_model -> n_heads*d_v, no bias
	FC *Linear // n_heads*d_v -> d_model, no bias

	Attention *ScaledDotProductAttention
	Dropout   *Dropout
	Norm      *LayerNorm
}

func NewMultiHeadAttention(b device.Backend, dModel, nHeads, dk, dv int, dropout, attnDropout float32, rng *rand.Rand) *MultiHeadAttention {
	return &MultiHeadAttention{
		backend:   b,
		NHeads:    nHeads,
		DK:        dk,
		DV:        dv,
		WQ:        NewLinear(b, dModel, nHeads*dk, false, rng),
		WK:        NewLinear(b, dModel, nHeads*dk, false, rng),
		WV:        NewLinear(b, dModel, nHeads*dv, false, rng),
		FC:        NewLinear(b, nHeads*dv, dModel, false, rng),
		Attention: NewScaledDotProductAttention(b, dk, attnDropout),
		Dropout:   NewDropout(dropout),
		Norm:      NewLayerNorm(b, dModel),
	}
}

// Forward takes q, k, v shaped [batch, steps, d_model] (the same tensor
// three times for self-attention, a distinct q for cross-attention) and
// an optional mask. It returns the normalized output with q's shape plus
// the attention weights [batch, heads, steps_q, steps_k].
func (m *MultiHeadAttention) Forward(q, k, v *Tensor3, mask *Mask, rng *rand.Rand) (*Tensor3, *Tensor4) {
	// The residual is the original q argument, captured before any
	// projection touches it.
	residual := q.Data

	qp := m.WQ.Forward(q.Data)
	kp := m.WK.Forward(k.Data)
	vp := m.WV.Forward(v.Data)

	q4 := splitHeads(m.backend, qp, q.Batch, q.Steps, m.NHeads, m.DK)
	k4 := splitHeads(m.backend, kp, k.Batch, k.Steps, m.NHeads, m.DK)
	v4 := splitHeads(m.backend, vp, v.Batch, v.Steps, m.NHeads, m.DV)

	m.backend.PutTensor(qp)
	m.backend.PutTensor(kp)
	m.backend.PutTensor(vp)

	out4, weights := m.Attention.Forward(q4, k4, v4, mask, rng)

	merged := mergeHeads(m.backend, out4)
	out := m.FC.Forward(merged)
	m.backend.PutTensor(merged)

	m.Dropout.Forward(out, rng)
	out.Add(residual)
	m.Norm.Forward(out)

	return &Tensor3{Batch: q.Batch, Steps: q.Steps, Width: q.Width, Data: out}, weights
}
