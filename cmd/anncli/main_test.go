package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/ann/pkg/ann"
)

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

// gridLines returns n points on a line, one JSON array per line
func gridLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("[%d, %d]", i, 2*i)
	}
	return lines
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(args, &stdout, &stderr)
	return stdout.String(), err
}

func TestReadVectors(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantN      int
		wantLabels []uint64
		wantErr    string
	}{
		{name: "arrays", input: "[1,2]\n\n[3,4]\n", wantN: 2},
		{name: "labelled", input: `{"label":7,"vector":[1,2]}` + "\n" + `{"label":9,"vector":[3,4]}`, wantN: 2, wantLabels: []uint64{7, 9}},
		{name: "object without label", input: `{"vector":[1,2]}`, wantN: 1},
		{name: "mixed labels", input: "[1,2]\n" + `{"label":1,"vector":[3,4]}`, wantErr: "line 2"},
		{name: "dimension change", input: "[1,2]\n[1,2,3]", wantErr: "expected 2"},
		{name: "empty vector", input: "[]", wantErr: "empty vector"},
		{name: "unknown field", input: `{"vector":[1],"meta":1}`, wantErr: "line 1"},
		{name: "garbage", input: "nope", wantErr: "line 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vectors, labels, err := readVectors(strings.NewReader(tt.input))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Len(t, vectors, tt.wantN)
			assert.Equal(t, tt.wantLabels, labels)
		})
	}
}

func TestBuildInfoQuery(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "vectors.jsonl")
	index := filepath.Join(dir, "grid.hnsw")
	writeLines(t, input, gridLines(100))

	out, err := runCLI(t, "build", "-input", input, "-output", index, "-threads", "4", "-batch", "30")
	require.NoError(t, err)
	assert.Contains(t, out, "100 vectors")

	out, err = runCLI(t, "info", "-format", "json", index)
	require.NoError(t, err)
	var info map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "native", info["engine"])
	assert.Equal(t, "l2", info["space"])
	assert.Equal(t, float64(2), info["dimension"])
	assert.Equal(t, float64(100), info["count"])

	out, err = runCLI(t, "query", "-index", index, "-vector", "[10.1, 20.1]", "-k", "3", "-format", "json")
	require.NoError(t, err)
	var res ann.QueryResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 3, res.K)
	require.Len(t, res.Neighbors, 3)
	assert.Equal(t, uint64(10), res.Neighbors[0].Label)
	assert.InDelta(t, 0.02, res.Neighbors[0].Distance, 1e-4)

	queries := filepath.Join(dir, "queries.jsonl")
	writeLines(t, queries, []string{"[0, 0]", "[99, 198]"})
	out, err = runCLI(t, "query", "-index", index, "-input", queries, "-k", "1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "0\tk=1 0:0", lines[0])
	assert.Equal(t, "1\tk=1 99:0", lines[1])
}

func TestBuildLabelledCompressedCoder(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "vectors.jsonl.zst")
	index := filepath.Join(dir, "labelled.idx")

	var raw bytes.Buffer
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&raw, `{"label":%d,"vector":[%d,1,0]}`+"\n", 1000+i, i)
	}
	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(input, enc.EncodeAll(raw.Bytes(), nil), 0o644))
	require.NoError(t, enc.Close())

	_, err = runCLI(t, "build", "-input", input, "-output", index, "-metric", "cosine", "-engine", "coder", "-max-nodes", "50")
	require.NoError(t, err)

	out, err := runCLI(t, "info", index)
	require.NoError(t, err)
	assert.Contains(t, out, "engine:          coder")
	assert.Contains(t, out, "count:           20")

	out, err = runCLI(t, "query", "-index", index, "-metric", "cosine", "-vector", "[5,1,0]", "-k", "1", "-format", "json")
	require.NoError(t, err)
	var res ann.QueryResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Neighbors, 1)
	assert.Equal(t, uint64(1005), res.Neighbors[0].Label)
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "vectors.jsonl")
	writeLines(t, input, gridLines(5))
	index := filepath.Join(dir, "small.hnsw")
	_, err := runCLI(t, "build", "-input", input, "-output", index)
	require.NoError(t, err)

	tests := []struct {
		name string
		args []string
	}{
		{"no command", nil},
		{"unknown command", []string{"frobnicate"}},
		{"build without output", []string{"build", "-input", input}},
		{"build bad engine", []string{"build", "-input", input, "-output", index, "-engine", "faiss"}},
		{"build bad metric", []string{"build", "-input", input, "-output", index, "-metric", "manhattan"}},
		{"build too small", []string{"build", "-input", input, "-output", index, "-max-nodes", "2"}},
		{"build dim mismatch", []string{"build", "-input", input, "-output", index, "-dim", "3"}},
		{"query both inputs", []string{"query", "-index", index, "-vector", "[1,2]", "-input", input}},
		{"query wrong dim", []string{"query", "-index", index, "-vector", "[1,2,3]"}},
		{"query bad k", []string{"query", "-index", index, "-vector", "[1,2]", "-k", "0"}},
		{"query missing index", []string{"query", "-index", filepath.Join(dir, "nope"), "-vector", "[1,2]"}},
		{"info missing path", []string{"info"}},
		{"info not a snapshot", []string{"info", input}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestVersion(t *testing.T) {
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "anncli "))
}
