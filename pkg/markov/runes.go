package markov

import (
	"bufio"
	"io"
)

// RuneStream is a stateful source of characters. Next returns io.EOF once the
// stream is fully consumed.
type RuneStream interface {
	Next() (rune, error)
}

type readerStream struct {
	r *bufio.Reader
}

// NewRuneStream returns a RuneStream that decodes UTF-8 from r. Invalid bytes
// are reported as unicode.ReplacementChar.
func NewRuneStream(r io.Reader) RuneStream {
	if br, ok := r.(*bufio.Reader); ok {
		return &readerStream{r: br}
	}
	return &readerStream{r: bufio.NewReader(r)}
}

func (s *readerStream) Next() (rune, error) {
	c, _, err := s.r.ReadRune()
	return c, err
}
