package markov

import (
	"log/slog"
)

// Prune removes every entry whose count is less than or equal to minFreq.
// Tables left empty are removed and the remaining ones are renormalized.
// This is useful for reducing the size of a model by removing rare, and
// often noisy, transitions. It returns the number of entries removed.
func (m *Model) Prune(minFreq int) int {
	removed := 0
	for window, t := range m.tables {
		removed += t.filter(func(e CharCount) bool { return e.Count > minFreq })
		if t.Len() == 0 {
			delete(m.tables, window)
		}
	}
	m.normalizeAll()

	m.logger.Info("Model pruned",
		slog.Int("min_frequency", minFreq),
		slog.Int("entries_removed", removed),
		slog.Int("windows_left", len(m.tables)),
	)
	return removed
}

// PruneAlphabet removes characters that follow some window fewer than
// minFrequency times across the whole model. Their entries are dropped, and
// so is every window that contains one of them. It returns the number of
// characters removed.
func (m *Model) PruneAlphabet(minFrequency int) int {
	totals := make(map[rune]int)
	for _, t := range m.tables {
		for _, e := range t.entries {
			totals[e.Char] += e.Count
		}
	}

	rare := make(map[rune]struct{})
	for c, n := range totals {
		if n < minFrequency {
			rare[c] = struct{}{}
		}
	}
	if len(rare) == 0 {
		m.logger.Info("No alphabet to prune",
			slog.Int("min_frequency", minFrequency),
		)
		return 0
	}

	windowsRemoved := 0
	for window, t := range m.tables {
		if containsAny(window, rare) {
			delete(m.tables, window)
			windowsRemoved++
			continue
		}
		t.filter(func(e CharCount) bool {
			_, isRare := rare[e.Char]
			return !isRare
		})
		if t.Len() == 0 {
			delete(m.tables, window)
			windowsRemoved++
		}
	}
	m.normalizeAll()

	m.logger.Info("Alphabet pruned",
		slog.Int("min_frequency", minFrequency),
		slog.Int("chars_removed", len(rare)),
		slog.Int("windows_removed", windowsRemoved),
	)
	return len(rare)
}

func containsAny(window string, set map[rune]struct{}) bool {
	for _, c := range window {
		if _, ok := set[c]; ok {
			return true
		}
	}
	return false
}
