package markov

import (
	"errors"
	"math/rand/v2"
	"reflect"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	for _, n := range []int{0, -1, -100} {
		_, err := New(n)
		if !errors.Is(err, ErrInvalidWindowLength) {
			t.Errorf("New(%d): expected ErrInvalidWindowLength, got %v", n, err)
		}
	}

	m, err := New(3)
	if err != nil {
		t.Fatalf("New(3) failed: %v", err)
	}
	if m.WindowLength() != 3 {
		t.Errorf("expected window length 3, got %d", m.WindowLength())
	}
	if len(m.Windows()) != 0 {
		t.Errorf("expected a new model to be empty, got %d windows", len(m.Windows()))
	}
}

func TestWithRand(t *testing.T) {
	m1, _ := New(1, WithRand(rand.New(rand.NewPCG(7, 7))))
	m2, _ := New(1, WithSeed(7))
	corpus := "abacabadabacabae"
	m1.TrainString(corpus)
	m2.TrainString(corpus)

	if a, b := m1.Generate("a", 50), m2.Generate("a", 50); a != b {
		t.Errorf("WithRand and WithSeed with equal seeds diverged: %q vs %q", a, b)
	}

	// A nil source must be ignored rather than leave the model without one.
	m3, _ := New(1, WithRand(nil))
	m3.TrainString("aaaa")
	if got := m3.Generate("a", 2); got != "aaa" {
		t.Errorf("expected %q, got %q", "aaa", got)
	}
}

func TestString(t *testing.T) {
	m := setupTestModel(t, 1, "aaaa")
	expected := "a : [a(3,1,1)]\n"
	if got := m.String(); got != expected {
		t.Errorf("String() = %q, want %q", got, expected)
	}

	m = setupTestModel(t, 2, "abab c")
	got := m.String()
	lines := strings.Split(strings.TrimSuffix(got, "\n"), "\n")
	// Windows are listed sorted; " c" never appears since nothing follows it.
	wantLines := []string{
		"ab : [a(1,0.5,0.5),  (1,0.5,1)]",
		"b  : [c(1,1,1)]",
		"ba : [b(1,1,1)]",
	}
	if !reflect.DeepEqual(lines, wantLines) {
		t.Errorf("String() lines = %q, want %q", lines, wantLines)
	}
}

func TestStringEscapesControlCharacters(t *testing.T) {
	m := setupTestModel(t, 1, "a\na")
	got := m.String()
	if !strings.Contains(got, `\n(1,1,1)`) {
		t.Errorf("expected newline entry to be escaped, got %q", got)
	}
	if !strings.Contains(got, "\\n : [a(1,1,1)]\n") {
		t.Errorf("expected newline window to be escaped, got %q", got)
	}
	if n := strings.Count(got, "\n"); n != 2 {
		t.Errorf("expected one line per window, got %d lines", n)
	}
}

func TestWindows(t *testing.T) {
	m := setupTestModel(t, 2, "abcabd")
	expected := []string{"ab", "bc", "ca"}
	if got := m.Windows(); !reflect.DeepEqual(got, expected) {
		t.Errorf("Windows() = %v, want %v", got, expected)
	}

	if _, ok := m.Table("bd"); ok {
		t.Error("window 'bd' has no continuation and should not be in the model")
	}
	table, ok := m.Table("ab")
	if !ok {
		t.Fatal("expected a table for window 'ab'")
	}
	expectedEntries := []CharCount{
		{Char: 'c', Count: 1, P: 0.5, CP: 0.5},
		{Char: 'd', Count: 1, P: 0.5, CP: 1},
	}
	if got := table.Entries(); !reflect.DeepEqual(got, expectedEntries) {
		t.Errorf("Entries() = %+v, want %+v", got, expectedEntries)
	}
}
