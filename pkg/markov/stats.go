package markov

// ModelStats holds aggregated statistics for a single model.
type ModelStats struct {
	WindowLength   int `json:"window_length"`
	Windows        int `json:"windows"`         // The number of distinct windows seen.
	Transitions    int `json:"transitions"`     // The number of unique window->next_char links.
	TotalFrequency int `json:"total_frequency"` // The sum of all counts; the total number of trained transitions.
	Alphabet       int `json:"alphabet"`        // The number of distinct characters that follow some window.
}

// Stats returns a snapshot of statistics for the model.
func (m *Model) Stats() ModelStats {
	alphabet := make(map[rune]struct{})
	stats := ModelStats{
		WindowLength: m.windowLength,
		Windows:      len(m.tables),
	}
	for _, t := range m.tables {
		stats.Transitions += t.Len()
		for _, e := range t.entries {
			stats.TotalFrequency += e.Count
			alphabet[e.Char] = struct{}{}
		}
	}
	stats.Alphabet = len(alphabet)
	return stats
}
