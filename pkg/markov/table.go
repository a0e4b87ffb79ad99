package markov

import (
	"strconv"
	"strings"
)

// CharCount is one observed continuation of a window. P and CP are zero
// until the owning table is normalized.
type CharCount struct {
	Char  rune
	Count int
	P     float64 // Count divided by the table total
	CP    float64 // Running sum of P up to and including this entry
}

// String formats the entry as c(count,p,cp).
func (c CharCount) String() string {
	var b []byte
	b = strconv.AppendQuoteRuneToGraphic(b, c.Char)
	b = b[1 : len(b)-1] // drop the quotes, keep escapes for control characters
	b = append(b, '(')
	b = strconv.AppendInt(b, int64(c.Count), 10)
	b = append(b, ',')
	b = strconv.AppendFloat(b, c.P, 'g', -1, 64)
	b = append(b, ',')
	b = strconv.AppendFloat(b, c.CP, 'g', -1, 64)
	b = append(b, ')')
	return string(b)
}

// FrequencyTable holds the characters observed after a single window, in the
// order they were first seen. Sampling walks the entries in that order.
type FrequencyTable struct {
	entries []CharCount
	index   map[rune]int
}

func newFrequencyTable() *FrequencyTable {
	return &FrequencyTable{index: make(map[rune]int)}
}

// add increments the count for c, appending a new entry on first sight.
func (t *FrequencyTable) add(c rune) {
	if i, ok := t.index[c]; ok {
		t.entries[i].Count++
		return
	}
	t.index[c] = len(t.entries)
	t.entries = append(t.entries, CharCount{Char: c, Count: 1})
}

// Len returns the number of distinct characters in the table.
func (t *FrequencyTable) Len() int {
	return len(t.entries)
}

// Entries returns a copy of the table's entries in insertion order.
func (t *FrequencyTable) Entries() []CharCount {
	out := make([]CharCount, len(t.entries))
	copy(out, t.entries)
	return out
}

// Total returns the sum of all counts in the table.
func (t *FrequencyTable) Total() int {
	total := 0
	for _, e := range t.entries {
		total += e.Count
	}
	return total
}

// Normalize sets P and CP on every entry from the current counts.
// Empty tables and tables with a zero total are left untouched.
func (t *FrequencyTable) Normalize() {
	if len(t.entries) == 0 {
		return
	}
	total := t.Total()
	if total == 0 {
		return
	}
	var cp float64
	for i := range t.entries {
		p := float64(t.entries[i].Count) / float64(total)
		cp += p
		t.entries[i].P = p
		t.entries[i].CP = cp
	}
}

// Choice is the result of sampling a table. Fallback reports that no entry's
// cumulative probability reached the draw, which only happens through
// floating-point rounding, and that the last entry was chosen instead.
type Choice struct {
	Char     rune
	Fallback bool
}

// Sample returns the first entry whose cumulative probability is at least
// draw, where draw is expected in [0, 1). The table must be normalized.
func (t *FrequencyTable) Sample(draw float64) (Choice, error) {
	if len(t.entries) == 0 {
		return Choice{}, ErrEmptyTable
	}
	for _, e := range t.entries {
		if e.CP >= draw {
			return Choice{Char: e.Char}, nil
		}
	}
	return Choice{Char: t.entries[len(t.entries)-1].Char, Fallback: true}, nil
}

// String renders the entries as [c(count,p,cp), ...].
func (t *FrequencyTable) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, e := range t.entries {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(e.String())
	}
	sb.WriteByte(']')
	return sb.String()
}

// filter keeps only the entries for which keep returns true, rebuilding the
// index, and returns how many entries were dropped.
func (t *FrequencyTable) filter(keep func(CharCount) bool) int {
	kept := t.entries[:0]
	for _, e := range t.entries {
		if keep(e) {
			kept = append(kept, e)
		}
	}
	dropped := len(t.entries) - len(kept)
	t.entries = kept
	clear(t.index)
	for i, e := range t.entries {
		t.index[e.Char] = i
	}
	return dropped
}
