package main

import (
	"context"
	"flag"
	"os"
	"runtime/pprof"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/seqloom/seqloom/internal/client"
	"github.com/seqloom/seqloom/internal/engine"
	"github.com/seqloom/seqloom/internal/nn"
)

var (
	nLayers     = flag.Int("layers", 2, "Number of encoder layers")
	nSteps      = flag.Int("steps", 64, "Sequence length upper bound")
	nFeatures   = flag.Int("features", 16, "Raw per-step feature width")
	dModel      = flag.Int("dmodel", 64, "Model width")
	dInner      = flag.Int("dinner", 128, "Feed-forward inner width")
	nHeads      = flag.Int("heads", 4, "Attention heads")
	dK          = flag.Int("dk", 16, "Per-head key width")
	dV          = flag.Int("dv", 16, "Per-head value width")
	dropout     = flag.Float64("dropout", 0.1, "Residual-path dropout probability")
	attnDropout = flag.Float64("attn-dropout", 0.1, "Attention-weight dropout probability")
	seed        = flag.Int64("seed", 42, "Weight initialization seed")

	withDecoder = flag.Bool("decoder", false, "Also build the decoder stack")
	cacheHidden = flag.Bool("cache", false, "Memoize encoded sequences by content hash")

	inputPath  = flag.String("input", "", "Arrow IPC stream of input sequences")
	outputPath = flag.String("output", "", "Write hidden states as an Arrow IPC stream")
	attnOut    = flag.String("attn-out", "", "Dump attention maps to a CBOR file (batch mode)")
	synthCount = flag.Int("synth", 0, "Generate N synthetic sequences instead of reading input")

	listenAddr    = flag.String("listen", "", "Address to listen on for the HTTP server (e.g. :8080)")
	flightAddr    = flag.String("flight-to", "", "Downstream Arrow Flight address to push encoded batches to")
	datasetName   = flag.String("dataset", "seqloom_hidden", "Target dataset name on the downstream server")
	maxConcurrent = flag.Int("max-concurrent", 4096, "Maximum number of concurrent sequences to process")

	enableOTel = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
	cpuProfile = flag.String("cpuprofile", "", "Write cpu profile to file")
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	cfg := nn.Config{
		NLayers:     *nLayers,
		NSteps:      *nSteps,
		NFeatures:   *nFeatures,
		DModel:      *dModel,
		DInner:      *dInner,
		NHeads:      *nHeads,
		DK:          *dK,
		DV:          *dV,
		Dropout:     float32(*dropout),
		AttnDropout: float32(*attnDropout),
	}

	eng, err := engine.NewEngine(cfg, engine.Options{
		Seed:        *seed,
		WithDecoder: *withDecoder,
		CacheHidden: *cacheHidden,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine")
	}

	var fc FlightClientInterface
	if *flightAddr != "" {
		c, err := client.NewFlightClient(*flightAddr)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create flight client")
		}
		defer c.Close()
		log.Info().Str("addr", *flightAddr).Msg("Connected to downstream Flight server")
		fc = c
	}

	if *listenAddr != "" {
		startServer(*listenAddr, eng, fc, *datasetName, *maxConcurrent)
		return
	}

	runBatch(eng, fc)
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("seqloom"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
