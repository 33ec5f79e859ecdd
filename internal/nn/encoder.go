package nn

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/seqloom/seqloom/internal/device"
)

// EncoderLayer is one self-attention block followed by a position-wise
// feed-forward block.
type EncoderLayer struct {
	SelfAttention *MultiHeadAttention
	FeedForward   *PositionWiseFeedForward

	deviceName string
}

func NewEncoderLayer(b device.Backend, cfg Config, rng *rand.Rand) *EncoderLayer {
	return &EncoderLayer{
		SelfAttention: NewMultiHeadAttention(b, cfg.DModel, cfg.NHeads, cfg.DK, cfg.DV, cfg.Dropout, cfg.AttnDropout, rng),
		FeedForward:   NewPositionWiseFeedForward(b, cfg.DModel, cfg.DInner, cfg.Dropout, rng),
		deviceName:    b.Name(),
	}
}

func (l *EncoderLayer) Forward(x *Tensor3, srcMask *Mask, rng *rand.Rand) (*Tensor3, *Tensor4) {
	start := time.Now()
	out, weights := l.SelfAttention.Forward(x, x, x, srcMask, rng)
	layerDuration.WithLabelValues("self_attn", l.deviceName).Observe(time.Since(start).Seconds())

	start = time.Now()
	out = l.FeedForward.Forward(out, rng)
	layerDuration.WithLabelValues("ffn", l.deviceName).Observe(time.Since(start).Seconds())

	return out, weights
}

// EncoderOutput carries the final hidden state and, when requested, the
// ordered per-layer self-attention weights. Attns is nil otherwise.
type EncoderOutput struct {
	Hidden *Tensor3
	Attns  []*Tensor4
}

// Encoder embeds raw per-step features, adds the positional signal, and
// runs the layer stack.
type Encoder struct {
	Config  Config
	Backend device.Backend

	Embedding *Linear // n_features -> d_model
	PosEnc    *PositionalEncoding
	Dropout   *Dropout
	Layers    []*EncoderLayer
}

// NewEncoder validates cfg and builds the stack. Weights are
// Xavier-initialized from rng.
func NewEncoder(cfg Config, b device.Backend, rng *rand.Rand) (*Encoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}

	layers := make([]*EncoderLayer, cfg.NLayers)
	for i := range layers {
		layers[i] = NewEncoderLayer(b, cfg, rng)
	}

	return &Encoder{
		Config:    cfg,
		Backend:   b,
		Embedding: NewLinear(b, cfg.NFeatures, cfg.DModel, true, rng),
		PosEnc:    NewPositionalEncoding(b, cfg.DModel, cfg.NSteps),
		Dropout:   NewDropout(cfg.Dropout),
		Layers:    layers,
	}, nil
}

// Forward encodes x [batch, steps, n_features]. The input is read-only;
// all work happens in freshly allocated tensors. withAttn selects whether
// every layer's attention weights are collected into the result.
func (e *Encoder) Forward(x *Tensor3, srcMask *Mask, withAttn bool, rng *rand.Rand) *EncoderOutput {
	emb := e.Embedding.Forward(x.Data)
	h := &Tensor3{Batch: x.Batch, Steps: x.Steps, Width: e.Config.DModel, Data: emb}
	e.PosEnc.Forward(h)
	e.Dropout.Forward(h.Data, rng)

	var collector []*Tensor4
	for _, layer := range e.Layers {
		var weights *Tensor4
		h, weights = layer.Forward(h, srcMask, rng)
		if withAttn {
			collector = append(collector, weights)
		}
	}

	return &EncoderOutput{Hidden: h, Attns: collector}
}
