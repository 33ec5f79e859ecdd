package engine

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/seqloom/seqloom/internal/cache"
	"github.com/seqloom/seqloom/internal/device"
	"github.com/seqloom/seqloom/internal/nn"
)

// Sequence is one raw input: Steps rows of Features values, flattened
// row-major.
type Sequence struct {
	Steps  int
	Values []float32
}

// Options configures an Engine beyond the model dimensions.
type Options struct {
	Seed        int64 // weight initialization seed
	WithDecoder bool  // also build a decoder stack
	CacheHidden bool  // memoize encoded sequences by content hash
}

// Engine owns the model stacks and fans batches of sequences out over a
// bounded worker set. Learned parameters are shared read-only across
// concurrent calls; every forward invocation works on its own tensors.
type Engine struct {
	cfg     nn.Config
	backend device.Backend
	encoder *nn.Encoder
	decoder *nn.Decoder
	cache   cache.HiddenCache
}

func NewEngine(cfg nn.Config, opts Options) (*Engine, error) {
	backend := device.NewCPUBackend()
	rng := rand.New(rand.NewSource(opts.Seed))

	enc, err := nn.NewEncoder(cfg, backend, rng)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{cfg: cfg, backend: backend, encoder: enc}

	if opts.WithDecoder {
		dec, err := nn.NewDecoder(cfg, backend, rng)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		e.decoder = dec
	}
	if opts.CacheHidden {
		e.cache = cache.NewMapCache()
	}

	log.Info().
		Int("layers", cfg.NLayers).
		Int("d_model", cfg.DModel).
		Int("heads", cfg.NHeads).
		Bool("decoder", e.decoder != nil).
		Str("device", backend.Name()).
		Msg("Engine initialized")

	return e, nil
}

func (e *Engine) Config() nn.Config { return e.cfg }

// Encoder exposes the underlying stack for callers that need attention
// weights or custom masks.
func (e *Engine) Encoder() *nn.Encoder { return e.encoder }

// Decoder returns nil unless the engine was built WithDecoder.
func (e *Engine) Decoder() *nn.Decoder { return e.decoder }

// Backend returns the numerical backend the stacks were built on.
func (e *Engine) Backend() device.Backend { return e.backend }

// Encode runs one sequence through the encoder and returns the flattened
// hidden state (steps x d_model).
func (e *Engine) Encode(seq Sequence) ([]float32, error) {
	if err := e.checkSequence(seq); err != nil {
		return nil, err
	}

	var key uint64
	if e.cache != nil {
		key = cache.Key(seq.Values, seq.Steps, e.cfg.NFeatures)
		if hidden, ok := e.cache.Get(key); ok {
			return hidden, nil
		}
	}

	x := nn.NewTensor3(e.backend, 1, seq.Steps, e.cfg.NFeatures, seq.Values)
	out := e.encoder.Forward(x, nil, false, nil)
	hidden := out.Hidden.Data.ToHost()
	e.backend.PutTensor(out.Hidden.Data)

	if e.cache != nil {
		e.cache.Put(key, hidden)
	}
	return hidden, nil
}

// EncodeBatch encodes sequences in parallel, preserving input order.
// Cancellation is honored between sequences; the first error wins.
func (e *Engine) EncodeBatch(ctx context.Context, seqs []Sequence) ([][]float32, error) {
	if len(seqs) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(seqs))
	errs := make([]error, len(seqs))

	workers := runtime.NumCPU()
	if workers > len(seqs) {
		workers = len(seqs)
	}

	var wg sync.WaitGroup
	chunk := (len(seqs) + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start := w * chunk
		if start >= len(seqs) {
			break
		}
		end := start + chunk
		if end > len(seqs) {
			end = len(seqs)
		}

		wg.Add(1)
		go func(s, eIdx int) {
			defer wg.Done()
			for i := s; i < eIdx; i++ {
				if err := ctx.Err(); err != nil {
					errs[i] = err
					return
				}
				results[i], errs[i] = e.Encode(seqs[i])
			}
		}(start, end)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

// EncodeWithAttention is Encode with the per-layer attention weights
// collected. Results bypass the cache so the weights always reflect this
// call.
func (e *Engine) EncodeWithAttention(seq Sequence) ([]float32, []*nn.Tensor4, error) {
	if err := e.checkSequence(seq); err != nil {
		return nil, nil, err
	}

	x := nn.NewTensor3(e.backend, 1, seq.Steps, e.cfg.NFeatures, seq.Values)
	out := e.encoder.Forward(x, nil, true, nil)
	hidden := out.Hidden.Data.ToHost()
	e.backend.PutTensor(out.Hidden.Data)
	return hidden, out.Attns, nil
}

// Decode runs a target sequence through the decoder against an encoder
// output previously produced by Encode for a sequence of encSteps steps.
// The decoder self-attends under a causal mask.
func (e *Engine) Decode(trg Sequence, encHidden []float32, encSteps int) ([]float32, error) {
	if e.decoder == nil {
		return nil, fmt.Errorf("engine: built without a decoder")
	}
	if err := e.checkSequence(trg); err != nil {
		return nil, err
	}
	if len(encHidden) != encSteps*e.cfg.DModel {
		return nil, fmt.Errorf("engine: encoder hidden length %d does not match %d steps x d_model %d",
			len(encHidden), encSteps, e.cfg.DModel)
	}

	t := nn.NewTensor3(e.backend, 1, trg.Steps, e.cfg.NFeatures, trg.Values)
	encOut := nn.NewTensor3(e.backend, 1, encSteps, e.cfg.DModel, encHidden)
	slfMask := nn.NewCausalMask(e.backend, trg.Steps)

	out := e.decoder.Forward(t, encOut, slfMask, nil, false, nil)
	hidden := out.Hidden.Data.ToHost()
	e.backend.PutTensor(out.Hidden.Data)
	return hidden, nil
}

func (e *Engine) checkSequence(seq Sequence) error {
	if seq.Steps <= 0 || seq.Steps > e.cfg.NSteps {
		return fmt.Errorf("engine: sequence steps %d outside (0, %d]", seq.Steps, e.cfg.NSteps)
	}
	if len(seq.Values) != seq.Steps*e.cfg.NFeatures {
		return fmt.Errorf("engine: sequence length %d does not match %d steps x %d features",
			len(seq.Values), seq.Steps, e.cfg.NFeatures)
	}
	return nil
}
