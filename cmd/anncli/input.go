package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const maxLineBytes = 64 << 20

// record is one input line: either a bare JSON array or an object with an
// explicit label
type record struct {
	Label  *uint64   `json:"label"`
	Vector []float32 `json:"vector"`
}

// openInput opens path for reading, "-" meaning stdin. Files ending in .zst
// are decompressed on the fly.
func openInput(path string) (io.ReadCloser, error) {
	var f io.ReadCloser = os.Stdin
	if path != "-" {
		file, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		f = file
	}
	if !strings.HasSuffix(path, ".zst") {
		return f, nil
	}

	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return &zstdReadCloser{Decoder: dec, file: f}, nil
}

type zstdReadCloser struct {
	*zstd.Decoder
	file io.Closer
}

func (z *zstdReadCloser) Close() error {
	z.Decoder.Close()
	return z.file.Close()
}

// readVectors parses JSON-lines input. Labels are returned only when every
// line carries one; mixing labelled and unlabelled lines is an error.
func readVectors(r io.Reader) ([][]float32, []uint64, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), maxLineBytes)

	var (
		vectors  [][]float32
		labels   []uint64
		labelled int
		line     int
	)
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}

		var rec record
		if text[0] == '[' {
			if err := json.Unmarshal(text, &rec.Vector); err != nil {
				return nil, nil, fmt.Errorf("line %d: %w", line, err)
			}
		} else {
			dec := json.NewDecoder(bytes.NewReader(text))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&rec); err != nil {
				return nil, nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		if len(rec.Vector) == 0 {
			return nil, nil, fmt.Errorf("line %d: empty vector", line)
		}
		if len(vectors) > 0 && len(rec.Vector) != len(vectors[0]) {
			return nil, nil, fmt.Errorf("line %d: %d components, expected %d", line, len(rec.Vector), len(vectors[0]))
		}

		if rec.Label != nil {
			labelled++
			labels = append(labels, *rec.Label)
		}
		vectors = append(vectors, rec.Vector)
		if labelled != 0 && labelled != len(vectors) {
			return nil, nil, fmt.Errorf("line %d: either every line or none must carry a label", line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	return vectors, labels, nil
}

// parseVector reads a single JSON array such as "[0.1, 0.2]"
func parseVector(s string) ([]float32, error) {
	var v []float32
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, fmt.Errorf("parse vector: %w", err)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("parse vector: empty")
	}
	return v, nil
}
