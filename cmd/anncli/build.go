package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/therealutkarshpriyadarshi/ann/pkg/ann"
	"github.com/therealutkarshpriyadarshi/ann/pkg/coderhnsw"
	"github.com/therealutkarshpriyadarshi/ann/pkg/hnsw"
	"github.com/therealutkarshpriyadarshi/ann/pkg/observability"
)

const (
	engineNative = "native"
	engineCoder  = "coder"
)

func builderFor(engine string) (ann.Builder, error) {
	switch engine {
	case engineNative, "":
		return ann.NativeBuilder{}, nil
	case engineCoder:
		return coderhnsw.Builder{}, nil
	default:
		return nil, fmt.Errorf("unknown engine %q (want %s or %s)", engine, engineNative, engineCoder)
	}
}

// inspect reads the shape of a snapshot. With engine == "" both formats are
// tried and the matching engine is returned.
func inspect(engine, path string) (hnsw.SnapshotInfo, string, error) {
	switch engine {
	case engineNative:
		info, err := hnsw.Inspect(path)
		return info, engineNative, err
	case engineCoder:
		info, err := coderhnsw.Inspect(path)
		return info, engineCoder, err
	case "":
		info, err := hnsw.Inspect(path)
		if !errors.Is(err, hnsw.ErrBadSnapshot) {
			return info, engineNative, err
		}
		if info, cerr := coderhnsw.Inspect(path); cerr == nil {
			return info, engineCoder, nil
		}
		return info, "", err
	default:
		_, err := builderFor(engine)
		return hnsw.SnapshotInfo{}, "", err
	}
}

func newLogger(level string, w io.Writer) (*observability.Logger, error) {
	lvl, err := observability.ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	return observability.NewLogger(lvl, w), nil
}

func runBuild(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("build", stderr)
	var (
		input          = fs.String("input", "", "JSON-lines vectors, '-' for stdin, .zst is decompressed (required)")
		output         = fs.String("output", "", "snapshot path (required)")
		metric         = fs.String("metric", "l2", "l2, inner-product or cosine")
		dim            = fs.Int("dim", 0, "vector dimension, 0 infers it from the input")
		threads        = fs.Int("threads", 0, "insert workers, 0 uses every CPU")
		maxNodes       = fs.Int("max-nodes", 0, "index capacity, 0 sizes it to the input")
		m              = fs.Int("m", 16, "links per node")
		efConstruction = fs.Int("ef-construction", 200, "candidate list size during insertion")
		seed           = fs.Int64("seed", 100, "level generator seed")
		engine         = fs.String("engine", engineNative, "graph engine: native or coder")
		batchSize      = fs.Int("batch", 10000, "vectors per insert batch")
		logLevel       = fs.String("log-level", "warn", "log level")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" || *output == "" {
		fs.Usage()
		return errors.New("build: -input and -output are required")
	}
	if *batchSize <= 0 {
		return fmt.Errorf("build: invalid batch size %d", *batchSize)
	}

	builder, err := builderFor(*engine)
	if err != nil {
		return err
	}
	logger, err := newLogger(*logLevel, stderr)
	if err != nil {
		return err
	}

	in, err := openInput(*input)
	if err != nil {
		return err
	}
	vectors, labels, err := readVectors(in)
	in.Close()
	if err != nil {
		return fmt.Errorf("read %s: %w", *input, err)
	}
	if len(vectors) == 0 {
		return fmt.Errorf("read %s: no vectors", *input)
	}

	if *dim == 0 {
		*dim = len(vectors[0])
	}
	if *maxNodes == 0 {
		*maxNodes = len(vectors)
	}

	mgr, err := ann.New(ann.Config{
		Metric:    *metric,
		Dimension: *dim,
		Threads:   *threads,
	}, ann.WithBuilder(builder), ann.WithLogger(logger), ann.WithName("anncli"))
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.Create(ann.CreateParams{
		MaxNodes:       *maxNodes,
		M:              *m,
		EfConstruction: *efConstruction,
		RandomSeed:     *seed,
	}); err != nil {
		return err
	}

	start := time.Now()
	for lo := 0; lo < len(vectors); lo += *batchSize {
		hi := min(lo+*batchSize, len(vectors))
		var batchLabels []uint64
		if labels != nil {
			batchLabels = labels[lo:hi]
		}
		if err := mgr.InsertBatch(vectors[lo:hi], batchLabels); err != nil {
			return fmt.Errorf("insert vectors %d-%d: %w", lo, hi-1, err)
		}
	}
	took := time.Since(start)

	if err := mgr.Save(*output); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "built %s: %d vectors, dim %d, metric %s, engine %s, %d threads in %s\n",
		*output, mgr.Len(), mgr.Dimension(), mgr.Metric(), *engine, mgr.Threads(), took.Round(time.Millisecond))
	return nil
}
