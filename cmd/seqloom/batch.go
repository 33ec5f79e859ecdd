package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"

	"github.com/seqloom/seqloom/internal/client"
	"github.com/seqloom/seqloom/internal/engine"
	"github.com/seqloom/seqloom/internal/nn"
)

// runBatch encodes sequences from -input (or -synth) and writes hidden
// states to -output, optionally pushing them downstream and dumping
// attention maps.
func runBatch(eng *engine.Engine, fc FlightClientInterface) {
	cfg := eng.Config()

	var seqs []engine.Sequence
	switch {
	case *synthCount > 0:
		seqs = engine.GenerateSynthetic(*synthCount, cfg.NSteps, cfg.NFeatures, *seed)
		log.Info().Int("count", len(seqs)).Msg("Generated synthetic sequences")
	case *inputPath != "":
		var err error
		seqs, err = readSequences(*inputPath, cfg.NFeatures)
		if err != nil {
			log.Fatal().Err(err).Str("path", *inputPath).Msg("Failed to read input")
		}
		log.Info().Int("count", len(seqs)).Str("path", *inputPath).Msg("Read input sequences")
	default:
		log.Fatal().Msg("Batch mode needs -input or -synth (or use -listen for server mode)")
	}

	start := time.Now()

	var hidden [][]float32
	if *attnOut != "" {
		hidden = make([][]float32, len(seqs))
		var exports []attnExport
		for i, seq := range seqs {
			h, attns, err := eng.EncodeWithAttention(seq)
			if err != nil {
				log.Fatal().Err(err).Int("sequence", i).Msg("Encode failed")
			}
			hidden[i] = h
			for layer, a := range attns {
				exports = append(exports, newAttnExport(i, layer, a))
			}
		}
		if err := writeAttnExports(*attnOut, exports); err != nil {
			log.Fatal().Err(err).Str("path", *attnOut).Msg("Failed to write attention maps")
		}
		log.Info().Int("maps", len(exports)).Str("path", *attnOut).Msg("Wrote attention maps")
	} else {
		var err error
		hidden, err = eng.EncodeBatch(context.Background(), seqs)
		if err != nil {
			log.Fatal().Err(err).Msg("Encode failed")
		}
	}

	log.Info().
		Int("sequences", len(seqs)).
		Dur("elapsed", time.Since(start)).
		Msg("Encoding complete")

	if *outputPath != "" {
		if err := writeHidden(*outputPath, hidden, cfg.DModel); err != nil {
			log.Fatal().Err(err).Str("path", *outputPath).Msg("Failed to write output")
		}
		log.Info().Str("path", *outputPath).Msg("Wrote hidden states")
	}

	if fc != nil {
		rbb := client.NewRecordBatchBuilder(memory.NewGoAllocator(), cfg.DModel)
		rec, err := rbb.Build(hidden)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to build record batch")
		}
		defer rec.Release()
		if err := fc.DoPut(context.Background(), *datasetName, rec); err != nil {
			log.Fatal().Err(err).Msg("Failed to push downstream")
		}
		log.Info().Str("dataset", *datasetName).Msg("Pushed hidden states downstream")
	}
}

// readSequences reads an Arrow IPC stream where each record batch is one
// sequence: a "features" FixedSizeList<float32>[nFeatures] column with
// one row per step.
func readSequences(path string, nFeatures int) ([]engine.Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader, err := ipc.NewReader(f, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("create IPC reader: %w", err)
	}
	defer reader.Release()

	var seqs []engine.Sequence
	for reader.Next() {
		rec := reader.Record()

		col := rec.Column(0)
		if indices := rec.Schema().FieldIndices("features"); len(indices) > 0 {
			col = rec.Column(indices[0])
		}

		fsl, ok := col.(*array.FixedSizeList)
		if !ok {
			return nil, fmt.Errorf("features column is %T, want FixedSizeList", col)
		}
		values, ok := fsl.ListValues().(*array.Float32)
		if !ok {
			return nil, fmt.Errorf("features values are %T, want Float32", fsl.ListValues())
		}

		steps := int(rec.NumRows())
		flat := make([]float32, steps*nFeatures)
		offset := fsl.Offset() * nFeatures
		for i := range flat {
			flat[i] = values.Value(offset + i)
		}
		seqs = append(seqs, engine.Sequence{Steps: steps, Values: flat})
	}
	if reader.Err() != nil {
		return nil, reader.Err()
	}

	return seqs, nil
}

// writeHidden writes hidden states as an Arrow IPC stream, one row per
// step.
func writeHidden(path string, hidden [][]float32, dModel int) error {
	rbb := client.NewRecordBatchBuilder(memory.NewGoAllocator(), dModel)
	rec, err := rbb.Build(hidden)
	if err != nil {
		return err
	}
	defer rec.Release()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	writer := ipc.NewWriter(f, ipc.WithSchema(rbb.Schema()))
	if err := writer.Write(rec); err != nil {
		return err
	}
	return writer.Close()
}

// attnExport is the CBOR wire form of one layer's attention map for one
// input sequence.
type attnExport struct {
	Sequence int       `cbor:"sequence"`
	Layer    int       `cbor:"layer"`
	Heads    int       `cbor:"heads"`
	StepsQ   int       `cbor:"steps_q"`
	StepsK   int       `cbor:"steps_k"`
	Weights  []float32 `cbor:"weights"`
}

func newAttnExport(sequence, layer int, a *nn.Tensor4) attnExport {
	return attnExport{
		Sequence: sequence,
		Layer:    layer,
		Heads:    a.Heads,
		StepsQ:   a.Steps,
		StepsK:   a.Width,
		Weights:  a.Data.ToHost(),
	}
}

func writeAttnExports(path string, exports []attnExport) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return cbor.NewEncoder(f).Encode(exports)
}
