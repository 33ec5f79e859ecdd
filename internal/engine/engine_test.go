package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqloom/seqloom/internal/nn"
)

func testEngineConfig() nn.Config {
	return nn.Config{
		NLayers:   2,
		NSteps:    5,
		NFeatures: 3,
		DModel:    8,
		DInner:    16,
		NHeads:    2,
		DK:        4,
		DV:        4,
	}
}

func TestEncode(t *testing.T) {
	eng, err := NewEngine(testEngineConfig(), Options{Seed: 1})
	require.NoError(t, err)

	seqs := GenerateSynthetic(1, 5, 3, 99)
	hidden, err := eng.Encode(seqs[0])
	require.NoError(t, err)
	require.Len(t, hidden, 5*8)
}

func TestEncodeDeterministic(t *testing.T) {
	eng, err := NewEngine(testEngineConfig(), Options{Seed: 1})
	require.NoError(t, err)

	seq := GenerateSynthetic(1, 5, 3, 99)[0]
	a, err := eng.Encode(seq)
	require.NoError(t, err)
	b, err := eng.Encode(seq)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// Same seed, fresh engine: same weights, same output.
	eng2, err := NewEngine(testEngineConfig(), Options{Seed: 1})
	require.NoError(t, err)
	c, err := eng2.Encode(seq)
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestEncodeValidation(t *testing.T) {
	eng, err := NewEngine(testEngineConfig(), Options{Seed: 1})
	require.NoError(t, err)

	_, err = eng.Encode(Sequence{Steps: 0, Values: nil})
	assert.Error(t, err)

	_, err = eng.Encode(Sequence{Steps: 6, Values: make([]float32, 6*3)})
	assert.Error(t, err, "steps above the configured bound")

	_, err = eng.Encode(Sequence{Steps: 5, Values: make([]float32, 5*3-1)})
	assert.Error(t, err, "values length must be steps x features")
}

func TestEncodeCacheHit(t *testing.T) {
	eng, err := NewEngine(testEngineConfig(), Options{Seed: 1, CacheHidden: true})
	require.NoError(t, err)
	require.NotNil(t, eng.cache)

	seq := GenerateSynthetic(1, 5, 3, 99)[0]
	a, err := eng.Encode(seq)
	require.NoError(t, err)
	require.Equal(t, 1, eng.cache.Size())

	b, err := eng.Encode(seq)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, 1, eng.cache.Size(), "second call must be a hit, not a second entry")

	// A returned slice is caller-owned.
	b[0] = 1e9
	c, err := eng.Encode(seq)
	require.NoError(t, err)
	assert.Equal(t, a[0], c[0])
}

func TestEncodeBatch(t *testing.T) {
	eng, err := NewEngine(testEngineConfig(), Options{Seed: 1})
	require.NoError(t, err)

	seqs := GenerateSynthetic(9, 5, 3, 7)
	got, err := eng.EncodeBatch(context.Background(), seqs)
	require.NoError(t, err)
	require.Len(t, got, 9)

	// Order is preserved: batch results match sequential Encode calls.
	for i, seq := range seqs {
		want, err := eng.Encode(seq)
		require.NoError(t, err)
		assert.Equal(t, want, got[i], "sequence %d", i)
	}
}

func TestEncodeBatchEmpty(t *testing.T) {
	eng, err := NewEngine(testEngineConfig(), Options{Seed: 1})
	require.NoError(t, err)

	got, err := eng.EncodeBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEncodeBatchCancelled(t *testing.T) {
	eng, err := NewEngine(testEngineConfig(), Options{Seed: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = eng.EncodeBatch(ctx, GenerateSynthetic(50, 5, 3, 7))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEncodeBatchFirstErrorWins(t *testing.T) {
	eng, err := NewEngine(testEngineConfig(), Options{Seed: 1})
	require.NoError(t, err)

	seqs := GenerateSynthetic(4, 5, 3, 7)
	seqs[2] = Sequence{Steps: 5, Values: make([]float32, 3)} // malformed

	_, err = eng.EncodeBatch(context.Background(), seqs)
	assert.Error(t, err)
}

func TestEncodeWithAttention(t *testing.T) {
	eng, err := NewEngine(testEngineConfig(), Options{Seed: 1})
	require.NoError(t, err)

	seq := GenerateSynthetic(1, 5, 3, 99)[0]
	hidden, attns, err := eng.EncodeWithAttention(seq)
	require.NoError(t, err)
	require.Len(t, hidden, 5*8)
	require.Len(t, attns, 2)

	for _, a := range attns {
		assert.Equal(t, 2, a.Heads)
		assert.Equal(t, 5, a.Steps)
		assert.Equal(t, 5, a.Width)
	}
}

func TestDecode(t *testing.T) {
	eng, err := NewEngine(testEngineConfig(), Options{Seed: 1, WithDecoder: true})
	require.NoError(t, err)

	seq := GenerateSynthetic(2, 5, 3, 99)
	encHidden, err := eng.Encode(seq[0])
	require.NoError(t, err)

	out, err := eng.Decode(seq[1], encHidden, 5)
	require.NoError(t, err)
	require.Len(t, out, 5*8)
}

func TestDecodeWithoutDecoder(t *testing.T) {
	eng, err := NewEngine(testEngineConfig(), Options{Seed: 1})
	require.NoError(t, err)

	_, err = eng.Decode(Sequence{Steps: 5, Values: make([]float32, 15)}, make([]float32, 40), 5)
	assert.Error(t, err)
}

func TestDecodeHiddenLengthMismatch(t *testing.T) {
	eng, err := NewEngine(testEngineConfig(), Options{Seed: 1, WithDecoder: true})
	require.NoError(t, err)

	_, err = eng.Decode(Sequence{Steps: 5, Values: make([]float32, 15)}, make([]float32, 39), 5)
	assert.Error(t, err)
}

func TestGenerateSynthetic(t *testing.T) {
	a := GenerateSynthetic(3, 10, 4, 42)
	require.Len(t, a, 3)
	for _, s := range a {
		assert.Equal(t, 10, s.Steps)
		assert.Len(t, s.Values, 40)
	}

	b := GenerateSynthetic(3, 10, 4, 42)
	assert.Equal(t, a, b, "fixed seed must reproduce the workload")
}
