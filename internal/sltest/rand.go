package sltest

import (
	"crypto/sha256"
	"math/rand/v2"
	"testing"
)

// RandomDataForTest returns a byte slice of size sz
// containing pseudorandom data, derived from a seed based on the test name.
func RandomDataForTest(t *testing.T, sz int) []byte {
	seed := sha256.Sum256([]byte(t.Name()))
	chacha := rand.NewChaCha8(seed)

	out := make([]byte, sz)

	if _, err := chacha.Read(out); err != nil {
		panic(err)
	}

	return out
}
