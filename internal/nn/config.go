package nn

import "fmt"

// Config holds the construction-time configuration shared by the encoder
// and decoder stacks.
type Config struct {
	NLayers   int // number of stacked layers
	NSteps    int // sequence length upper bound (positional table size)
	NFeatures int // raw per-step feature width
	DModel    int // model width
	DInner    int // feed-forward inner width
	NHeads    int // attention heads
	DK        int // per-head key/query width
	DV        int // per-head value width

	Dropout     float32 // residual-path dropout probability
	AttnDropout float32 // attention-weight dropout probability
}

// DefaultConfig returns a small configuration suitable for smoke runs.
func DefaultConfig() Config {
	return Config{
		NLayers:     2,
		NSteps:      64,
		NFeatures:   16,
		DModel:      64,
		DInner:      128,
		NHeads:      4,
		DK:          16,
		DV:          16,
		Dropout:     0.1,
		AttnDropout: 0.1,
	}
}

// Validate reports the first construction-time configuration error.
// Shape incompatibilities at forward time are programming errors and
// panic inside the device layer instead.
func (c Config) Validate() error {
	for _, d := range []struct {
		name string
		v    int
	}{
		{"n_layers", c.NLayers},
		{"n_steps", c.NSteps},
		{"n_features", c.NFeatures},
		{"d_model", c.DModel},
		{"d_inner", c.DInner},
		{"n_heads", c.NHeads},
		{"d_k", c.DK},
		{"d_v", c.DV},
	} {
		if d.v <= 0 {
			return fmt.Errorf("config: %s must be positive, got %d", d.name, d.v)
		}
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("config: dropout must be in [0, 1), got %v", c.Dropout)
	}
	if c.AttnDropout < 0 || c.AttnDropout >= 1 {
		return fmt.Errorf("config: attn_dropout must be in [0, 1), got %v", c.AttnDropout)
	}
	return nil
}
