package tokens

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the GPT-3 byte-pair vocabulary.
const DefaultEncoding = "r50k_base"

var errTokenizerLoading = errors.New("tokenizer vocabulary not loaded")

// Tokenizer counts the tokens in a text.
type Tokenizer interface {
	Count(text string) (int, error)
}

// BPETokenizer counts tokens with a tiktoken vocabulary. The vocabulary is loaded in
// the background on first use; until it is ready Count returns an error.
type BPETokenizer struct {
	encoding string

	once    sync.Once
	done    chan struct{}
	enc     atomic.Pointer[tiktoken.Tiktoken]
	loadErr error
}

// NewBPETokenizer returns a tokenizer for the named tiktoken encoding.
func NewBPETokenizer(encoding string) *BPETokenizer {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &BPETokenizer{encoding: encoding, done: make(chan struct{})}
}

func (t *BPETokenizer) start() {
	t.once.Do(func() {
		go func() {
			defer close(t.done)
			enc, err := tiktoken.GetEncoding(t.encoding)
			if err != nil {
				t.loadErr = fmt.Errorf("load %s vocabulary: %w", t.encoding, err)
				return
			}
			t.enc.Store(enc)
		}()
	})
}

// Load blocks until the vocabulary is loaded or has failed to load.
func (t *BPETokenizer) Load() error {
	t.start()
	<-t.done
	return t.loadErr
}

func (t *BPETokenizer) Count(text string) (int, error) {
	enc := t.enc.Load()
	if enc == nil {
		t.start()
		return 0, errTokenizerLoading
	}
	return len(enc.EncodeOrdinary(text)), nil
}

// Estimator predicts the token cost of a question before it is sent.
type Estimator struct {
	tokenizer Tokenizer
}

// NewEstimator returns an Estimator backed by tokenizer.
func NewEstimator(tokenizer Tokenizer) *Estimator {
	return &Estimator{tokenizer: tokenizer}
}

var defaultEstimator = NewEstimator(NewBPETokenizer(DefaultEncoding))

// EstimateTokens estimates text with the package-level GPT-3 estimator.
func EstimateTokens(text string) int {
	return defaultEstimator.Estimate(text)
}

// Estimate returns the tokenizer count for text. Any tokenizer failure, including a
// panic, falls back to FallbackEstimate. Empty text costs nothing.
func (e *Estimator) Estimate(text string) (n int) {
	if text == "" {
		return 0
	}
	if e == nil || e.tokenizer == nil {
		return FallbackEstimate(text)
	}
	defer func() {
		if recover() != nil {
			n = FallbackEstimate(text)
		}
	}()
	count, err := e.tokenizer.Count(text)
	if err != nil || count < 0 {
		return FallbackEstimate(text)
	}
	return count
}

// FallbackEstimate approximates three UTF-16 code units per token, rounding up.
func FallbackEstimate(text string) int {
	units := 0
	for _, r := range text {
		if r >= 0x10000 {
			units += 2
		} else {
			units++
		}
	}
	return (units + 2) / 3
}
