package main

import (
	"fmt"
	"net/http"
	"time"

	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/fxamacker/cbor/v2"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/seqloom/seqloom/internal/client"
	"github.com/seqloom/seqloom/internal/engine"
)

var (
	sequencesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "seqloom_sequences_processed_total",
		Help: "The total number of sequences encoded",
	})

	requestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "seqloom_request_duration_seconds",
		Help:    "Time spent processing encode requests",
		Buckets: prometheus.DefBuckets,
	})
)

type FlightClientInterface interface {
	DoPut(ctx context.Context, datasetName string, record arrow.RecordBatch) error
	Close() error
}

// wireSequence is the CBOR request form of one input sequence.
type wireSequence struct {
	Steps  int       `cbor:"steps"`
	Values []float32 `cbor:"values"`
}

type Server struct {
	eng          *engine.Engine
	flightClient FlightClientInterface
	breaker      *client.CircuitBreaker
	datasetName  string
	alloc        memory.Allocator
	sem          *semaphore.Weighted
}

func NewServer(eng *engine.Engine, fc FlightClientInterface, dataset string, maxConcurrent int) *Server {
	return &Server{
		eng:          eng,
		flightClient: fc,
		breaker:      client.NewCircuitBreaker(5, 10*time.Second),
		datasetName:  dataset,
		alloc:        memory.NewGoAllocator(),
		sem:          semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

func startServer(addr string, eng *engine.Engine, fc FlightClientInterface, dataset string, maxConcurrent int) {
	srv := NewServer(eng, fc, dataset, maxConcurrent)

	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/encode", srv.handleEncode)
	http.HandleFunc("/encode/arrow", srv.handleEncodeArrow)
	http.HandleFunc("/health", srv.handleHealth)

	log.Info().Str("addr", addr).Msg("Starting seqloom server")
	if fc != nil {
		log.Info().Str("dataset", dataset).Msg("Forwarding encoded batches downstream")
	}

	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

var tracer = otel.Tracer("seqloom-server")

func (s *Server) handleEncode(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleEncode")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var wire []wireSequence
	if err := cbor.NewDecoder(r.Body).Decode(&wire); err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Bad Request (CBOR decode): %v", err), http.StatusBadRequest)
		return
	}

	if len(wire) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}

	span.SetAttributes(attribute.Int("sequence_count", len(wire)))

	seqs := make([]engine.Sequence, len(wire))
	for i, ws := range wire {
		seqs[i] = engine.Sequence{Steps: ws.Steps, Values: ws.Values}
	}

	// Admission control
	weight := int64(len(seqs))
	if err := s.sem.Acquire(ctx, weight); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore")
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	defer s.sem.Release(weight)

	hidden, err := s.eng.EncodeBatch(ctx, seqs)
	if err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Encode failed: %v", err), http.StatusBadRequest)
		return
	}
	sequencesProcessed.Add(float64(len(seqs)))

	s.forwardDownstream(ctx, hidden)

	w.Header().Set("Content-Type", "application/cbor")
	if err := cbor.NewEncoder(w).Encode(hidden); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) handleEncodeArrow(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracer.Start(r.Context(), "handleEncodeArrow")
	defer span.End()

	start := time.Now()
	defer func() {
		requestDuration.Observe(time.Since(start).Seconds())
	}()

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := s.eng.Config()

	reader, err := ipc.NewReader(r.Body, ipc.WithAllocator(s.alloc))
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create IPC reader: %v", err), http.StatusBadRequest)
		return
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
			log.Warn().Msg("Features column is not a FixedSizeList, skipping batch")
			continue
		}
		values, ok := fsl.ListValues().(*array.Float32)
		if !ok {
			log.Warn().Msg("Feature values are not Float32, skipping batch")
			continue
		}

		steps := int(rec.NumRows())
		flat := make([]float32, steps*cfg.NFeatures)
		offset := fsl.Offset() * cfg.NFeatures
		for i := range flat {
			flat[i] = values.Value(offset + i)
		}
		seqs = append(seqs, engine.Sequence{Steps: steps, Values: flat})
	}
	if reader.Err() != nil {
		log.Error().Err(reader.Err()).Msg("Error reading Arrow stream")
		http.Error(w, "Stream error", http.StatusInternalServerError)
		return
	}

	weight := int64(len(seqs))
	if err := s.sem.Acquire(ctx, weight); err != nil {
		log.Error().Err(err).Msg("Failed to acquire semaphore for arrow batch")
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}
	defer s.sem.Release(weight)

	hidden, err := s.eng.EncodeBatch(ctx, seqs)
	if err != nil {
		span.RecordError(err)
		http.Error(w, fmt.Sprintf("Encode failed: %v", err), http.StatusBadRequest)
		return
	}
	sequencesProcessed.Add(float64(len(seqs)))

	s.forwardDownstream(ctx, hidden)

	rbb := client.NewRecordBatchBuilder(s.alloc, cfg.DModel)
	rec, err := rbb.Build(hidden)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to build response batch: %v", err), http.StatusInternalServerError)
		return
	}
	defer rec.Release()

	w.Header().Set("Content-Type", "application/vnd.apache.arrow.stream")
	writer := ipc.NewWriter(w, ipc.WithSchema(rbb.Schema()))
	if err := writer.Write(rec); err != nil {
		log.Error().Err(err).Msg("Failed to write Arrow response")
		return
	}
	_ = writer.Close()
}

// forwardDownstream pushes encoded hidden states to the Flight store,
// dropping the batch when the circuit is open.
func (s *Server) forwardDownstream(ctx context.Context, hidden [][]float32) {
	if s.flightClient == nil || len(hidden) == 0 {
		return
	}

	if !s.breaker.Allow() {
		log.Warn().Msg("Downstream circuit open, dropping batch")
		return
	}

	rbb := client.NewRecordBatchBuilder(s.alloc, s.eng.Config().DModel)
	rec, err := rbb.Build(hidden)
	if err != nil {
		log.Error().Err(err).Msg("Failed to build downstream batch")
		return
	}
	defer rec.Release()

	if err := s.flightClient.DoPut(ctx, s.datasetName, rec); err != nil {
		s.breaker.Failure()
		log.Error().Err(err).Msg("Error forwarding batch downstream")
		return
	}
	s.breaker.Success()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
