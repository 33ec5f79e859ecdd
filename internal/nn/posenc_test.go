package nn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqloom/seqloom/internal/device"
)

func TestPositionalEncodingTable(t *testing.T) {
	b := device.NewCPUBackend()

	pe := NewPositionalEncoding(b, 4, 2)

	// Position 0: sin(0), cos(0) for each even/odd pair.
	assert.InDelta(t, 0, pe.Table.At(0, 0), 1e-6)
	assert.InDelta(t, 1, pe.Table.At(0, 1), 1e-6)
	assert.InDelta(t, 0, pe.Table.At(0, 2), 1e-6)
	assert.InDelta(t, 1, pe.Table.At(0, 3), 1e-6)

	// Position 1, feature 0: sin(1 / 10000^0) = sin(1).
	assert.InDelta(t, math.Sin(1), pe.Table.At(1, 0), 1e-6)
	// Feature 1 shares the angle of its even partner: cos(1).
	assert.InDelta(t, math.Cos(1), pe.Table.At(1, 1), 1e-6)
	// Feature 2: sin(1 / 10000^(2/4)) = sin(1/100).
	assert.InDelta(t, math.Sin(0.01), pe.Table.At(1, 2), 1e-6)
}

func TestPositionalEncodingForwardAdds(t *testing.T) {
	b := device.NewCPUBackend()

	dModel, steps := 4, 3
	pe := NewPositionalEncoding(b, dModel, 8)

	x := NewTensor3(b, 2, steps, dModel, nil)
	pe.Forward(x)

	// Zero input + table = table, for every batch element; only the first
	// `steps` table rows are used.
	for bi := 0; bi < 2; bi++ {
		for s := 0; s < steps; s++ {
			for j := 0; j < dModel; j++ {
				assert.InDelta(t, pe.Table.At(s, j), x.Data.At(bi*steps+s, j), 1e-6)
			}
		}
	}
}

func TestPositionalEncodingTableConstant(t *testing.T) {
	b := device.NewCPUBackend()

	pe := NewPositionalEncoding(b, 4, 8)
	before := pe.Table.ToHost()

	x := NewTensor3(b, 1, 8, 4, nil)
	for i := 0; i < 3; i++ {
		pe.Forward(x)
	}

	require.Equal(t, before, pe.Table.ToHost(), "forward calls must not mutate the table")
}
