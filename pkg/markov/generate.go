package markov

import (
	"log/slog"
	"math"
	"sort"
	"strings"
)

// generateOptions Is used by the generate functions to configure default options.
type generateOptions struct {
	temperature float64
	topK        int
}

// maxGrowHint bounds the space Generate reserves up front for new characters.
const maxGrowHint = 4096

// GenerateOption is a function that configures generation parameters. It's used
// as a variadic argument in Generate and GenerateStream.
type GenerateOption func(*generateOptions)

// WithTemperature adjusts the randomness of the character selection.
// A value of 1.0 is standard weighted random selection over the cumulative table.
// Values > 1.0 flatten the distribution, values < 1.0 sharpen it.
// A value of 0 or less always picks the most frequent character, preferring
// the one seen first on ties.
func WithTemperature(t float64) GenerateOption {
	return func(o *generateOptions) { o.temperature = t }
}

// WithTopK restricts the selection pool to the k most frequent characters at
// each step. A value of 0 disables Top-K sampling.
func WithTopK(k int) GenerateOption {
	return func(o *generateOptions) { o.topK = k }
}

func newGenerateOptions(opts []GenerateOption) *generateOptions {
	options := &generateOptions{
		temperature: 1.0,
		topK:        0,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// Generate extends seed by up to targetLength characters and returns the
// seed followed by everything generated. Each step looks up the trailing
// WindowLength characters of the text so far; generation stops early when
// that window was never seen in training. A seed shorter than the window is
// returned unchanged.
func (m *Model) Generate(seed string, targetLength int, opts ...GenerateOption) string {
	text := []rune(seed)
	if len(text) < m.windowLength {
		return seed
	}
	options := newGenerateOptions(opts)

	var builder strings.Builder
	builder.Grow(len(seed) + min(max(targetLength, 0), maxGrowHint))
	builder.WriteString(seed)

	generated := 0
	for generated < targetLength {
		c, ok := m.step(text, options)
		if !ok {
			break
		}
		text = append(text, c)
		builder.WriteRune(c)
		generated++
	}

	if generated < targetLength {
		m.logger.Debug("Generation terminated due to dead-end",
			slog.String("last_window", string(text[len(text)-m.windowLength:])),
			slog.Int("generated_length", generated),
			slog.Int("target_length", targetLength),
		)
	}
	return builder.String()
}

// step picks the character that follows the trailing window of text. It
// reports false when the window has no recorded continuation.
func (m *Model) step(text []rune, options *generateOptions) (rune, bool) {
	window := string(text[len(text)-m.windowLength:])
	table, ok := m.tables[window]
	if !ok || table.Len() == 0 {
		return 0, false
	}
	return m.chooseNext(table, options), true
}

// chooseNext abstracts the character selection logic from the generation loop.
func (m *Model) chooseNext(table *FrequencyTable, options *generateOptions) rune {
	if options.temperature == 1.0 && (options.topK <= 0 || options.topK >= table.Len()) {
		choice, _ := table.Sample(m.rng.Float64())
		if choice.Fallback {
			m.logger.Debug("Sampling fell back to the last entry",
				slog.String("char", string(choice.Char)),
			)
		}
		return choice.Char
	}

	choices := table.Entries()

	// topK filtering, stable so equal counts keep their insertion order
	if options.topK > 0 && options.topK < len(choices) {
		sort.SliceStable(choices, func(i, j int) bool {
			return choices[i].Count > choices[j].Count
		})
		choices = choices[:options.topK]
	}

	if options.temperature <= 0 { // Deterministic
		best := choices[0]
		for _, c := range choices[1:] {
			if c.Count > best.Count {
				best = c
			}
		}
		return best.Char
	}

	logWeights := make([]float64, len(choices))
	maxLog := math.Inf(-1)
	for i, c := range choices {
		lw := math.Log(float64(c.Count)) / options.temperature
		logWeights[i] = lw
		if lw > maxLog {
			maxLog = lw
		}
	}
	var totalWeight float64
	weights := make([]float64, len(choices))
	for i, lw := range logWeights {
		w := math.Exp(lw - maxLog)
		weights[i] = w
		totalWeight += w
	}
	draw := m.rng.Float64() * totalWeight
	for i, c := range choices {
		draw -= weights[i]
		if draw < 0 {
			return c.Char
		}
	}
	return choices[len(choices)-1].Char
}
