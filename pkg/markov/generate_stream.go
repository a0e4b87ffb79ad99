package markov

import (
	"context"
	"log/slog"
)

// GenerateStream extends seed like Generate but delivers each generated
// character on the returned channel as soon as it is chosen. The seed itself
// is not sent. The channel is closed once targetLength characters have been
// sent, the trailing window has no continuation, or ctx is cancelled.
//
// The model is used by the streaming goroutine until the channel is closed,
// so callers must not use it concurrently in the meantime.
func (m *Model) GenerateStream(ctx context.Context, seed string, targetLength int, opts ...GenerateOption) (<-chan rune, error) {
	text := []rune(seed)
	if len(text) < m.windowLength {
		return nil, ErrSeedTooShort
	}
	options := newGenerateOptions(opts)

	runeChan := make(chan rune)

	go func() {
		defer close(runeChan)

		for generated := 0; generated < targetLength; generated++ {
			select {
			case <-ctx.Done():
				m.logger.DebugContext(ctx, "Generation stream cancelled by context",
					slog.Int("generated_length", generated),
				)
				return
			default:
				// continue
			}

			c, ok := m.step(text, options)
			if !ok {
				m.logger.DebugContext(ctx, "Generation stream terminated due to dead-end",
					slog.Int("generated_length", generated),
				)
				return
			}

			select {
			case <-ctx.Done():
				return
			case runeChan <- c:
			}
			// Only the trailing window is ever looked up again.
			text = append(text[len(text)-m.windowLength+1:], c)
		}
	}()

	return runeChan, nil
}
