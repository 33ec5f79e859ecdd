package client

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
)

func TestBuild(t *testing.T) {
	pool := memory.NewGoAllocator()
	builder := NewRecordBatchBuilder(pool, 4)

	t.Run("Empty input", func(t *testing.T) {
		rb, err := builder.Build(nil)
		assert.NoError(t, err)
		assert.Nil(t, rb)
	})

	t.Run("Valid input", func(t *testing.T) {
		// Two sequences: 2 steps and 1 step of width 4.
		hidden := [][]float32{
			{1, 2, 3, 4, 5, 6, 7, 8},
			{9, 10, 11, 12},
		}

		rb, err := builder.Build(hidden)
		assert.NoError(t, err)
		assert.NotNil(t, rb)
		defer rb.Release()

		assert.Equal(t, int64(3), rb.NumRows())
		assert.Equal(t, int64(2), rb.NumCols())
		assert.Equal(t, "sequence", rb.ColumnName(0))
		assert.Equal(t, "hidden", rb.ColumnName(1))

		seqArr := rb.Column(0).(*array.Int64)
		assert.Equal(t, int64(0), seqArr.Value(0))
		assert.Equal(t, int64(0), seqArr.Value(1))
		assert.Equal(t, int64(1), seqArr.Value(2))

		listArr := rb.Column(1).(*array.FixedSizeList)
		assert.Equal(t, 3, listArr.Len())

		values := listArr.ListValues().(*array.Float32)
		assert.Equal(t, 12, values.Len())
		assert.Equal(t, float32(1), values.Value(0))
		assert.Equal(t, float32(5), values.Value(4))
		assert.Equal(t, float32(12), values.Value(11))
	})
}

func TestSchema(t *testing.T) {
	builder := NewRecordBatchBuilder(memory.NewGoAllocator(), 8)
	schema := builder.Schema()

	assert.Equal(t, 2, schema.NumFields())
	assert.Equal(t, "sequence", schema.Field(0).Name)
	assert.Equal(t, "hidden", schema.Field(1).Name)
	assert.True(t, arrow.TypeEqual(
		arrow.FixedSizeListOf(8, arrow.PrimitiveTypes.Float32),
		schema.Field(1).Type,
	))
}
