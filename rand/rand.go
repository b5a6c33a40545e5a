// Package rand provides the randomness used by handshakes and the ids used to tag connections in logs.
package rand

import (
	cryptoRand "crypto/rand"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Reader is the default entropy source. It is cryptographically safe.
var Reader io.Reader = cryptoRand.Reader

// Fill fills b with data from r, or from Reader when r is nil.
func Fill(r io.Reader, b []byte) error {
	if r == nil {
		r = Reader
	}
	if _, err := io.ReadFull(r, b); err != nil {
		return errors.Wrap(err, "rand: fill")
	}
	return nil
}

// Bytes returns n bytes of cryptographically safe random data.
func Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if err := Fill(nil, b); err != nil {
		return nil, err
	}
	return b, nil
}

// NewConnID returns a UUID in string format (including hyphens).
func NewConnID() string {
	return uuid.NewString()
}
