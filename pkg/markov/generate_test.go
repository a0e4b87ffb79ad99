package markov

import (
	"math"
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	// The distribution after "a" is degenerate, so any seed gives the same text.
	for _, seed := range []uint64{0, 1, 42, 1 << 40} {
		m, _ := New(1, WithSeed(seed))
		m.TrainString("aaaa")
		if got := m.Generate("a", 5); got != "aaaaaa" {
			t.Errorf("seed %d: Generate(\"a\", 5) = %q, want %q", seed, got, "aaaaaa")
		}
	}
}

func TestGenerateFrom(t *testing.T) {
	m := setupTestModel(t, 3, "abcabd")

	testCases := []struct {
		name         string
		seed         string
		targetLength int
		expected     string
	}{
		{
			name:         "Unseen window stops immediately",
			seed:         "abd",
			targetLength: 10,
			expected:     "abd",
		},
		{
			name:         "Seed shorter than window",
			seed:         "ab",
			targetLength: 10,
			expected:     "ab",
		},
		{
			name:         "Empty seed",
			seed:         "",
			targetLength: 10,
			expected:     "",
		},
		{
			name:         "Zero target length",
			seed:         "abc",
			targetLength: 0,
			expected:     "abc",
		},
		{
			name:         "Huge target length with unseen window",
			seed:         "abd",
			targetLength: math.MaxInt,
			expected:     "abd",
		},
		{
			name:         "Negative target length",
			seed:         "abc",
			targetLength: -3,
			expected:     "abc",
		},
		{
			name:         "Target length reached first",
			seed:         "bca",
			targetLength: 1,
			expected:     "bcab",
		},
		{
			name:         "Deterministic chain until dead end",
			seed:         "bca",
			targetLength: 10,
			expected:     "bcabd",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := m.Generate(tc.seed, tc.targetLength); got != tc.expected {
				t.Errorf("Generate(%q, %d) = %q, want %q", tc.seed, tc.targetLength, got, tc.expected)
			}
		})
	}
}

func TestGenerateSeedTooShort(t *testing.T) {
	m := setupTestModel(t, 4, "hello world, hello there")
	for _, n := range []int{0, 1, 10, 1000} {
		if got := m.Generate("hel", n); got != "hel" {
			t.Errorf("Generate(%q, %d) = %q, want the seed unchanged", "hel", n, got)
		}
	}
}

func TestGenerateUsesTrailingWindow(t *testing.T) {
	m := setupTestModel(t, 1, "xy")
	// Only the last character of a longer seed is looked up.
	if got := m.Generate("zzzx", 1); got != "zzzxy" {
		t.Errorf("expected %q, got %q", "zzzxy", got)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	corpus := "It was the best of times, it was the worst of times, it was the age of wisdom, " +
		"it was the age of foolishness, it was the epoch of belief, it was the epoch of incredulity."

	run := func(seed uint64) string {
		m, _ := New(3, WithSeed(seed))
		m.TrainString(corpus)
		return m.Generate("it ", 200)
	}

	a, b := run(99), run(99)
	if a != b {
		t.Errorf("same seed produced different output:\n%q\n%q", a, b)
	}
	if !strings.HasPrefix(a, "it ") {
		t.Errorf("expected output to start with the seed, got %q", a)
	}
}

func TestGenerateOnlyKnownTransitions(t *testing.T) {
	corpus := "she sells sea shells by the sea shore"
	m := setupTestModel(t, 2, corpus)
	out := []rune(m.Generate("se", 300))

	for i := 2; i < len(out); i++ {
		window := string(out[i-2 : i])
		table, ok := m.Table(window)
		if !ok {
			t.Fatalf("generated text used unknown window %q", window)
		}
		if _, seen := table.index[out[i]]; !seen {
			t.Fatalf("generated %q after %q, which never followed it in training", out[i], window)
		}
	}
}

func TestGenerateOptions(t *testing.T) {
	// After "a": b x3, c x1, d x2.
	m := setupTestModel(t, 1, "abacabadabad")

	t.Run("Zero temperature picks the most frequent", func(t *testing.T) {
		got := m.Generate("a", 1, WithTemperature(0))
		if got != "ab" {
			t.Errorf("expected %q, got %q", "ab", got)
		}
	})

	t.Run("TopK of one picks the most frequent", func(t *testing.T) {
		for i := 0; i < 20; i++ {
			if got := m.Generate("a", 1, WithTopK(1)); got != "ab" {
				t.Fatalf("expected %q, got %q", "ab", got)
			}
		}
	})

	t.Run("TopK excludes rare characters", func(t *testing.T) {
		for i := 0; i < 50; i++ {
			got := m.Generate("a", 1, WithTopK(2), WithTemperature(0.5))
			if got == "ac" {
				t.Fatalf("character outside the top 2 was generated")
			}
		}
	})

	t.Run("Zero temperature ties keep insertion order", func(t *testing.T) {
		tie := setupTestModel(t, 1, "axay")
		if got := tie.Generate("a", 1, WithTemperature(0)); got != "ax" {
			t.Errorf("expected %q, got %q", "ax", got)
		}
	})
}

func BenchmarkGenerate(b *testing.B) {
	corpus := createBenchmarkCorpus()
	m := setupTestModelBench(b, 4, corpus)

	genOpts := map[string][]GenerateOption{
		"Simple":          {},
		"WithTemp":        {WithTemperature(0.7)},
		"WithTopK":        {WithTopK(10)},
		"WithTempAndTopK": {WithTemperature(0.7), WithTopK(10)},
	}

	for name, opts := range genOpts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				s := m.Generate("func", 200, opts...)
				b.SetBytes(int64(len(s)))
			}
		})
	}
}
