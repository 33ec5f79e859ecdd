package client

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// RecordBatchBuilder creates Arrow RecordBatches from encoded hidden
// states.
type RecordBatchBuilder struct {
	mem    memory.Allocator
	dModel int
}

// NewRecordBatchBuilder creates a builder for hidden states of width
// dModel.
func NewRecordBatchBuilder(mem memory.Allocator, dModel int) *RecordBatchBuilder {
	return &RecordBatchBuilder{mem: mem, dModel: dModel}
}

// Schema returns the downstream schema: one step per row, the hidden
// vector as a fixed-width float32 list plus the originating sequence id.
func (b *RecordBatchBuilder) Schema() *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "sequence", Type: arrow.PrimitiveTypes.Int64},
			{Name: "hidden", Type: arrow.FixedSizeListOf(int32(b.dModel), arrow.PrimitiveTypes.Float32)},
		},
		nil,
	)
}

// Build converts per-sequence hidden states (each steps x dModel,
// flattened) into a RecordBatch with one row per step.
func (b *RecordBatchBuilder) Build(hidden [][]float32) (arrow.RecordBatch, error) {
	if len(hidden) == 0 {
		return nil, nil
	}

	seqBuilder := array.NewInt64Builder(b.mem)
	defer seqBuilder.Release()

	listBuilder := array.NewFixedSizeListBuilder(b.mem, int32(b.dModel), arrow.PrimitiveTypes.Float32)
	defer listBuilder.Release()
	valueBuilder := listBuilder.ValueBuilder().(*array.Float32Builder)

	rows := 0
	for seq, h := range hidden {
		steps := len(h) / b.dModel
		for s := 0; s < steps; s++ {
			seqBuilder.Append(int64(seq))
			listBuilder.Append(true)
			valueBuilder.AppendValues(h[s*b.dModel:(s+1)*b.dModel], nil)
			rows++
		}
	}

	cols := []arrow.Array{seqBuilder.NewArray(), listBuilder.NewArray()}
	defer cols[0].Release()
	defer cols[1].Release()

	return array.NewRecordBatch(b.Schema(), cols, int64(rows)), nil
}
