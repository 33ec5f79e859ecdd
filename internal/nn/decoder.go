package nn

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/seqloom/seqloom/internal/device"
)

// DecoderLayer runs self-attention over the decoder input, cross-attention
// with the encoder output as key/value source, then the feed-forward block.
type DecoderLayer struct {
	SelfAttention  *MultiHeadAttention
	CrossAttention *MultiHeadAttention
	FeedForward    *PositionWiseFeedForward

	deviceName string
}

func NewDecoderLayer(b device.Backend, cfg Config, rng *rand.Rand) *DecoderLayer {
	return &DecoderLayer{
		SelfAttention:  NewMultiHeadAttention(b, cfg.DModel, cfg.NHeads, cfg.DK, cfg.DV, cfg.Dropout, cfg.AttnDropout, rng),
		CrossAttention: NewMultiHeadAttention(b, cfg.DModel, cfg.NHeads, cfg.DK, cfg.DV, cfg.Dropout, cfg.AttnDropout, rng),
		FeedForward:    NewPositionWiseFeedForward(b, cfg.DModel, cfg.DInner, cfg.Dropout, rng),
		deviceName:     b.Name(),
	}
}

// Forward returns the transformed sequence plus the self-attention and
// cross-attention weight tensors. encOutput is read-only here.
func (l *DecoderLayer) Forward(x, encOutput *Tensor3, slfMask, crossMask *Mask, rng *rand.Rand) (*Tensor3, *Tensor4, *Tensor4) {
	start := time.Now()
	out, slfWeights := l.SelfAttention.Forward(x, x, x, slfMask, rng)
	layerDuration.WithLabelValues("self_attn", l.deviceName).Observe(time.Since(start).Seconds())

	start = time.Now()
	out, crossWeights := l.CrossAttention.Forward(out, encOutput, encOutput, crossMask, rng)
	layerDuration.WithLabelValues("cross_attn", l.deviceName).Observe(time.Since(start).Seconds())

	start = time.Now()
	out = l.FeedForward.Forward(out, rng)
	layerDuration.WithLabelValues("ffn", l.deviceName).Observe(time.Since(start).Seconds())

	return out, slfWeights, crossWeights
}

// DecoderOutput carries the final hidden state and, when requested, the
// ordered per-layer attention weights. Both collectors are nil otherwise.
type DecoderOutput struct {
	Hidden     *Tensor3
	SelfAttns  []*Tensor4
	CrossAttns []*Tensor4
}

// Decoder is the stack of DecoderLayers consuming encoder output.
type Decoder struct {
	Config  Config
	Backend device.Backend

	Embedding *Linear // n_features -> d_model
	PosEnc    *PositionalEncoding
	Dropout   *Dropout
	Layers    []*DecoderLayer
}

func NewDecoder(cfg Config, b device.Backend, rng *rand.Rand) (*Decoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("decoder: %w", err)
	}

	layers := make([]*DecoderLayer, cfg.NLayers)
	for i := range layers {
		layers[i] = NewDecoderLayer(b, cfg, rng)
	}

	return &Decoder{
		Config:    cfg,
		Backend:   b,
		Embedding: NewLinear(b, cfg.NFeatures, cfg.DModel, true, rng),
		PosEnc:    NewPositionalEncoding(b, cfg.DModel, cfg.NSteps),
		Dropout:   NewDropout(cfg.Dropout),
		Layers:    layers,
	}, nil
}

// Forward decodes trg [batch, steps, n_features] against the fixed,
// already-computed encoder output, which is threaded into every layer as
// the cross-attention key/value source and never mutated. slfMask is
// typically a causal mask; crossMask masks encoder key positions.
func (d *Decoder) Forward(trg, encOutput *Tensor3, slfMask, crossMask *Mask, withAttn bool, rng *rand.Rand) *DecoderOutput {
	emb := d.Embedding.Forward(trg.Data)
	h := &Tensor3{Batch: trg.Batch, Steps: trg.Steps, Width: d.Config.DModel, Data: emb}
	d.PosEnc.Forward(h)
	d.Dropout.Forward(h.Data, rng)

	var slfCollector, crossCollector []*Tensor4
	for _, layer := range d.Layers {
		var slf, cross *Tensor4
		h, slf, cross = layer.Forward(h, encOutput, slfMask, crossMask, rng)
		if withAttn {
			slfCollector = append(slfCollector, slf)
			crossCollector = append(crossCollector, cross)
		}
	}

	return &DecoderOutput{Hidden: h, SelfAttns: slfCollector, CrossAttns: crossCollector}
}
