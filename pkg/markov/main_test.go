package markov

import (
	"go/build"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// epsilon is the tolerance used when comparing probabilities.
const epsilon = 1e-9

// setupTestModel creates a seeded model with the given window length and
// trains it on corpus.
func setupTestModel(t *testing.T, windowLength int, corpus string) *Model {
	t.Helper()
	m, err := New(windowLength, WithSeed(42))
	if err != nil {
		t.Fatalf("New(%d) error = %v", windowLength, err)
	}
	m.TrainString(corpus)
	return m
}

// setupTestModelBench is the benchmark counterpart of setupTestModel.
func setupTestModelBench(b *testing.B, windowLength int, corpus string) *Model {
	b.Helper()
	m, err := New(windowLength, WithSeed(42))
	if err != nil {
		b.Fatalf("New(%d) error = %v", windowLength, err)
	}
	m.TrainString(corpus)
	return m
}

var (
	benchmarkCorpus string
	corpusOnce      sync.Once
)

// createBenchmarkCorpus reads Go source files to create a corpus for benchmarking.
func createBenchmarkCorpus() string {
	corpusOnce.Do(func() {
		var sb strings.Builder
		goRoot := build.Default.GOROOT
		filesToRead := []string{
			filepath.Join(goRoot, "src/net/http/server.go"),
			filepath.Join(goRoot, "src/go/parser/parser.go"),
			filepath.Join(goRoot, "src/encoding/json/encode.go"),
		}

		for _, file := range filesToRead {
			content, err := os.ReadFile(file)
			if err != nil {
				benchmarkCorpus = "this is a fallback corpus for benchmarking. it is not very long but will prevent a crash. "
				return
			}
			sb.Write(content)
			sb.WriteString("\n")
		}
		benchmarkCorpus = sb.String()
	})
	return benchmarkCorpus
}
