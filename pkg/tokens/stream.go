package tokens

import (
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"
)

const streamReadSize = 4096

// AnswerStream yields the text of an answer as it arrives. It is finite, cannot be
// restarted, and stops producing chunks once closed.
type AnswerStream struct {
	mu sync.Mutex

	body     io.ReadCloser
	declared string
	trailer  func() string

	buf     []byte
	pending []byte
	done    bool
	closed  bool
	err     error
	actual  int
}

// NewAnswerStream wraps body. declared is the cost header sent with the response;
// trailer, when non-nil, is consulted after the body ends and wins if non-empty.
func NewAnswerStream(body io.ReadCloser, declared string, trailer func() string) *AnswerStream {
	return &AnswerStream{
		body:     body,
		declared: declared,
		trailer:  trailer,
		buf:      make([]byte, streamReadSize),
	}
}

// Next returns the next chunk of text. It returns io.EOF once the answer is complete,
// ErrStreamClosed after Close, and an error wrapping ErrStreamFailed if the
// underlying read fails. Chunks never split a UTF-8 sequence.
func (s *AnswerStream) Next() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		switch {
		case s.closed:
			return "", ErrStreamClosed
		case s.err != nil:
			return "", s.err
		case s.done:
			return "", io.EOF
		}

		n, err := s.body.Read(s.buf)
		data := append(s.pending, s.buf[:n]...)
		s.pending = nil

		if errors.Is(err, io.EOF) {
			s.finish()
			if len(data) > 0 {
				return string(data), nil
			}
			return "", io.EOF
		}
		if err != nil {
			s.err = fmt.Errorf("%w: %v", ErrStreamFailed, err)
			s.body.Close() //nolint:errcheck
			return "", s.err
		}

		cut := completeUTF8(data)
		if cut < len(data) {
			s.pending = append([]byte(nil), data[cut:]...)
		}
		if cut > 0 {
			return string(data[:cut]), nil
		}
	}
}

// finish records the actual cost and releases the body. Callers hold mu.
func (s *AnswerStream) finish() {
	s.done = true
	cost := s.declared
	if s.trailer != nil {
		if v := s.trailer(); v != "" {
			cost = v
		}
	}
	s.actual = ParseTokenCount(cost)
	s.body.Close() //nolint:errcheck
}

// All ranges over the remaining chunks. Iteration stops after the first error,
// which is yielded; normal completion yields no error.
func (s *AnswerStream) All() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			chunk, err := s.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(chunk, err) || err != nil {
				return
			}
		}
	}
}

// ActualTokens returns the reported cost of the answer. ok is false until the
// stream has completed.
func (s *AnswerStream) ActualTokens() (tokens int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actual, s.done
}

// DeclaredTokens returns the cost header value as received, or "0" when absent.
func (s *AnswerStream) DeclaredTokens() string {
	if s.declared == "" {
		return "0"
	}
	return s.declared
}

// Close abandons the stream. It is safe to call more than once.
func (s *AnswerStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.done {
		return nil
	}
	return s.body.Close()
}

// ParseTokenCount reads a token count from response metadata. Missing, non-numeric,
// negative or non-finite values count as zero.
func ParseTokenCount(v string) int {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil {
		return max(n, 0)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > math.MaxInt32 {
		return 0
	}
	return int(math.Round(f))
}

// completeUTF8 returns the length of the longest prefix of b that does not end in a
// truncated UTF-8 sequence.
func completeUTF8(b []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(b); i++ {
		if utf8.RuneStart(b[len(b)-i]) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return len(b) - i
			}
			break
		}
	}
	return len(b)
}
