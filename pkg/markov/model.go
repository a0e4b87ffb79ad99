package markov

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrInvalidWindowLength is returned by New when the window length is not positive.
	ErrInvalidWindowLength = errors.New("markov: window length must be positive")
	// ErrEmptyTable is returned when sampling from a table with no entries.
	ErrEmptyTable = errors.New("markov: frequency table is empty")
	// ErrSeedTooShort is returned by streaming generation when the seed is
	// shorter than the model's window.
	ErrSeedTooShort = errors.New("markov: seed is shorter than the window length")
)

// Model is a character-level Markov model of a fixed order. It maps every
// window of WindowLength characters seen during training to the table of
// characters that followed it.
type Model struct {
	windowLength int
	tables       map[string]*FrequencyTable
	rng          *rand.Rand
	logger       *slog.Logger
}

// Option configures a Model at construction time.
type Option func(*Model)

// WithSeed makes generation deterministic: two models built with the same
// seed and trained on the same corpus produce identical output.
func WithSeed(seed uint64) Option {
	return func(m *Model) { m.rng = rand.New(rand.NewPCG(seed, seed)) }
}

// WithRand sets the random source used for sampling. A nil source is ignored.
func WithRand(r *rand.Rand) Option {
	return func(m *Model) {
		if r != nil {
			m.rng = r
		}
	}
}

// WithLogger sets the logger used for training and generation events.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Model) { m.SetLogger(logger) }
}

// New creates an empty model using windows of windowLength characters.
// Without WithSeed or WithRand the random source is seeded nondeterministically.
func New(windowLength int, opts ...Option) (*Model, error) {
	if windowLength <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWindowLength, windowLength)
	}
	m := &Model{
		windowLength: windowLength,
		tables:       make(map[string]*FrequencyTable),
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return m, nil
}

// SetLogger sets the logger for the Model. By default, all logs are discarded.
func (m *Model) SetLogger(logger *slog.Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// WindowLength returns the number of characters in each window.
func (m *Model) WindowLength() int {
	return m.windowLength
}

// Table returns the frequency table recorded for window, if any.
// The returned table must not be modified.
func (m *Model) Table(window string) (*FrequencyTable, bool) {
	t, ok := m.tables[window]
	return t, ok
}

// Windows returns every window in the model, sorted.
func (m *Model) Windows() []string {
	windows := make([]string, 0, len(m.tables))
	for w := range m.tables {
		windows = append(windows, w)
	}
	sort.Strings(windows)
	return windows
}

// String renders the model as one line per window, in the form
// "window : [c(count,p,cp), ...]". Windows are sorted; entries keep their
// insertion order. Control characters are printed escaped, as in \n.
func (m *Model) String() string {
	var sb strings.Builder
	_, _ = m.WriteTo(&sb)
	return sb.String()
}

// WriteTo writes the same listing as String to w.
func (m *Model) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, window := range m.Windows() {
		n, err := fmt.Fprintf(w, "%s : %s\n", escapeWindow(window), m.tables[window])
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// escapeWindow escapes non-graphic characters so a window prints on one line.
func escapeWindow(window string) string {
	quoted := strconv.QuoteToGraphic(window)
	return quoted[1 : len(quoted)-1]
}

// observe records one occurrence of next following window.
func (m *Model) observe(window string, next rune) {
	t, ok := m.tables[window]
	if !ok {
		t = newFrequencyTable()
		m.tables[window] = t
	}
	t.add(next)
}

// normalizeAll recomputes the probabilities of every table.
func (m *Model) normalizeAll() {
	for _, t := range m.tables {
		t.Normalize()
	}
}
