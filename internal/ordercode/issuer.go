package ordercode

import (
	"crypto/rand"
	"io"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
)

// maxDraws bounds how many candidates Next draws before giving up.
const maxDraws = 64

// ErrNoCandidate is returned when Next could not find a code that is neither
// zero-prefixed nor already seen.
var ErrNoCandidate = errors.New("no unused order code candidate")

// IssuerConfig controls the seen-code filter.
type IssuerConfig struct {
	Length   int
	Capacity uint
	FPR      float64
}

// Issuer hands out order codes, skipping codes that were probably issued
// before. The storage uniqueness constraint remains the source of truth: a
// false negative here surfaces as a duplicate on insert and the caller retries.
type Issuer struct {
	length int
	rand   io.Reader

	mu   sync.Mutex
	seen *bloom.BloomFilter
}

// NewIssuer creates an Issuer with an empty filter.
func NewIssuer(cfg IssuerConfig) *Issuer {
	if cfg.Length <= 0 {
		cfg.Length = DefaultLength
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = 1_000_000
	}
	if cfg.FPR <= 0 {
		cfg.FPR = 0.001
	}
	return &Issuer{
		length: cfg.Length,
		rand:   rand.Reader,
		seen:   bloom.NewWithEstimates(cfg.Capacity, cfg.FPR),
	}
}

// Next returns a fresh candidate code and records it as seen.
//
// Codes with a leading zero are skipped: the gateway carries order codes as
// integers, so they would not round-trip back to the stored string.
func (i *Issuer) Next() (string, error) {
	for range maxDraws {
		code, err := generate(i.rand, i.length)
		if err != nil {
			return "", err
		}
		if code[0] == '0' {
			continue
		}

		i.mu.Lock()
		dup := i.seen.TestOrAddString(code)
		i.mu.Unlock()
		if dup {
			continue
		}
		return code, nil
	}
	return "", ErrNoCandidate
}

// Observe records a code that exists elsewhere, e.g. loaded from storage or
// rejected by it as a duplicate.
func (i *Issuer) Observe(code string) {
	i.mu.Lock()
	i.seen.AddString(code)
	i.mu.Unlock()
}

// Seen reports whether code was probably issued or observed already.
func (i *Issuer) Seen(code string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.seen.TestString(code)
}
