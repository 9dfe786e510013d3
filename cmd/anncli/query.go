package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/therealutkarshpriyadarshi/ann/pkg/ann"
	"github.com/therealutkarshpriyadarshi/ann/pkg/hnsw"
)

func runQuery(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("query", stderr)
	var (
		index    = fs.String("index", "", "snapshot path (required)")
		metric   = fs.String("metric", "", "metric of the index, defaults to the snapshot space; cosine must be named")
		engine   = fs.String("engine", "", "graph engine: native or coder, detected when empty")
		k        = fs.Int("k", 10, "neighbors per query")
		ef       = fs.Int("ef", ann.DefaultEfSearch, "search width")
		threads  = fs.Int("threads", 0, "query workers, 0 uses every CPU")
		vector   = fs.String("vector", "", "query vector as a JSON array")
		input    = fs.String("input", "", "JSON-lines query vectors, '-' for stdin")
		format   = fs.String("format", "text", "output format: text or json")
		logLevel = fs.String("log-level", "warn", "log level")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *index == "" {
		fs.Usage()
		return errors.New("query: -index is required")
	}
	if (*vector == "") == (*input == "") {
		return errors.New("query: exactly one of -vector or -input is required")
	}
	if *format != "text" && *format != "json" {
		return fmt.Errorf("query: unknown format %q", *format)
	}

	var queries [][]float32
	if *vector != "" {
		v, err := parseVector(*vector)
		if err != nil {
			return err
		}
		queries = [][]float32{v}
	} else {
		in, err := openInput(*input)
		if err != nil {
			return err
		}
		queries, _, err = readVectors(in)
		in.Close()
		if err != nil {
			return fmt.Errorf("read %s: %w", *input, err)
		}
	}

	mgr, err := openIndex(*index, *engine, *metric, *threads, *ef, *logLevel, stderr)
	if err != nil {
		return err
	}
	defer mgr.Close()

	start := time.Now()
	results, err := mgr.KNNQuery(queries, *k)
	if err != nil {
		return err
	}

	if *format == "json" {
		enc := json.NewEncoder(stdout)
		for _, r := range results {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(stdout, "%d\t%s\n", i, r)
	}
	fmt.Fprintf(stderr, "%d queries in %s\n", len(queries), time.Since(start).Round(time.Microsecond))
	return nil
}

// openIndex loads a snapshot into a Manager sized to the saved point count
func openIndex(path, engine, metric string, threads, ef int, logLevel string, stderr io.Writer) (*ann.Manager, error) {
	info, engine, err := inspect(engine, path)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}
	if metric == "" {
		metric = ann.L2.String()
		if info.Space == hnsw.SpaceInnerProduct {
			metric = ann.InnerProduct.String()
		}
	}

	builder, err := builderFor(engine)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(logLevel, stderr)
	if err != nil {
		return nil, err
	}
	mgr, err := ann.New(ann.Config{
		Metric:    metric,
		Dimension: info.Dimension,
		Threads:   threads,
		EfSearch:  ef,
	}, ann.WithBuilder(builder), ann.WithLogger(logger), ann.WithName("anncli"))
	if err != nil {
		return nil, err
	}
	if err := mgr.Load(path, max(info.Count, 1)); err != nil {
		return nil, err
	}
	return mgr, nil
}

func runInfo(args []string, stdout, stderr io.Writer) error {
	fs := newFlagSet("info", stderr)
	var (
		engine = fs.String("engine", "", "graph engine: native or coder, detected when empty")
		format = fs.String("format", "text", "output format: text or json")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("info: expected one snapshot path")
	}
	path := fs.Arg(0)

	info, engineName, err := inspect(*engine, path)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", path, err)
	}

	if *format == "json" {
		return json.NewEncoder(stdout).Encode(map[string]interface{}{
			"path":            path,
			"engine":          engineName,
			"space":           info.Space.String(),
			"dimension":       info.Dimension,
			"count":           info.Count,
			"m":               info.M,
			"ef_construction": info.EfConstruction,
			"max_layer":       info.MaxLayer,
		})
	}
	fmt.Fprintf(stdout, "path:            %s\n", path)
	fmt.Fprintf(stdout, "engine:          %s\n", engineName)
	fmt.Fprintf(stdout, "space:           %s\n", info.Space)
	fmt.Fprintf(stdout, "dimension:       %d\n", info.Dimension)
	fmt.Fprintf(stdout, "count:           %d\n", info.Count)
	fmt.Fprintf(stdout, "m:               %d\n", info.M)
	if engineName == engineNative {
		fmt.Fprintf(stdout, "ef_construction: %d\n", info.EfConstruction)
		fmt.Fprintf(stdout, "max_layer:       %d\n", info.MaxLayer)
	}
	return nil
}
