// Package ordercode produces numeric order codes used to correlate orders
// with the payment gateway.
package ordercode

import (
	"crypto/rand"
	"io"

	"github.com/go-faster/errors"
)

// DefaultLength is the number of digits in an issued order code.
const DefaultLength = 10

// maxUniformByte is the largest multiple of 10 that fits in a byte. Bytes at
// or above it are discarded so every digit is equally likely.
const maxUniformByte = 250

// ErrInvalidLength is returned when a non-positive length is requested.
var ErrInvalidLength = errors.New("order code length must be positive")

// Generate returns a decimal string of the given length drawn from crypto/rand.
// Uniqueness is not checked here.
func Generate(length int) (string, error) {
	return generate(rand.Reader, length)
}

func generate(r io.Reader, length int) (string, error) {
	if length <= 0 {
		return "", ErrInvalidLength
	}

	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", errors.Wrap(err, "read random bytes")
		}
		for _, b := range buf {
			if b >= maxUniformByte {
				continue
			}
			out = append(out, '0'+b%10)
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
