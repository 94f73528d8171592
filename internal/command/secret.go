package command

import (
	"github.com/google/uuid"
)

const secretAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// secretBytes skips the version and variant bytes of a v4 UUID
var secretBytes = [SecretKeyLength]int{0, 1, 2, 3, 4, 5, 9, 10, 11, 12}

// NewSecretKey returns a random pairing secret drawn from a v4 UUID
func NewSecretKey() string {
	id := uuid.New()
	key := make([]byte, SecretKeyLength)
	for i, pos := range secretBytes {
		key[i] = secretAlphabet[int(id[pos])%len(secretAlphabet)]
	}
	return string(key)
}
