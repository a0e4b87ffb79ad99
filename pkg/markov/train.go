package markov

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// TrainString trains the model on an in-memory corpus.
func (m *Model) TrainString(corpus string) {
	// A strings.Reader never fails and the context never expires.
	_ = m.Train(context.Background(), strings.NewReader(corpus))
}

// Train reads the corpus from data, counting which character follows every
// window of WindowLength characters, and then recomputes the probabilities of
// every table. A corpus shorter than the window adds nothing. Calling Train
// again adds to the existing counts. If reading fails or ctx is cancelled,
// the transitions counted so far stay in the model.
func (m *Model) Train(ctx context.Context, data io.Reader) error {
	// ctxCheckInterval is how many characters are read between context checks.
	const ctxCheckInterval = 4096

	stream := NewRuneStream(data)
	window := make([]rune, 0, m.windowLength)
	var read, transitions int64

	for len(window) < m.windowLength {
		c, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				m.logger.DebugContext(ctx, "Corpus shorter than window, nothing to train",
					slog.Int("window_length", m.windowLength),
					slog.Int("corpus_length", len(window)),
				)
				return nil
			}
			return fmt.Errorf("corpus read error: %w", err)
		}
		window = append(window, c)
		read++
	}

	var trainErr error
	for {
		if read%ctxCheckInterval == 0 {
			if trainErr = ctx.Err(); trainErr != nil {
				break
			}
		}
		c, err := stream.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				trainErr = fmt.Errorf("corpus read error: %w", err)
			}
			break
		}
		read++

		m.observe(string(window), c)
		transitions++

		copy(window, window[1:])
		window[len(window)-1] = c
	}

	// Counts observed before a failure are kept, so the tables are
	// renormalized either way.
	m.normalizeAll()
	if trainErr != nil {
		return trainErr
	}

	m.logger.InfoContext(ctx, "Training completed",
		slog.Int("window_length", m.windowLength),
		slog.Int64("characters_read", read),
		slog.Int64("transitions_observed", transitions),
		slog.Int("windows", len(m.tables)),
	)
	return nil
}
