package treeline

import (
	"fmt"

	"github.com/minio/blake2b-simd"
	"golang.org/x/crypto/chacha20"
)

// SecretSize is the length of a keystream secret in bytes.
const SecretSize = 32

// NonceSize is the length of a per-node nonce in bytes (XChaCha20).
const NonceSize = 24

// Secrets holds the two keystream secrets of a forest: one for
// index-bearing nodes (level >= 1) and one for value-bearing nodes
// (level 0).  A holder of only the index secret can traverse and
// filter trees without ever decrypting values.
type Secrets struct {
	Index [SecretSize]byte
	Value [SecretSize]byte
}

// DefaultSecrets returns all-zero secrets, suitable only for tests and
// examples.
func DefaultSecrets() Secrets {
	return Secrets{}
}

func (s Secrets) forLevel(level uint8) [SecretSize]byte {
	if level == 0 {
		return s.Value
	}
	return s.Index
}

// deriveNonce computes a node's keystream nonce from its compressed
// plaintext.  Content-derived nonces keep the keystream unique per
// node without any coordination, and the nonce travels unencrypted in
// the node envelope so readers can reverse the stream.
func deriveNonce(compressed []byte) [NonceSize]byte {
	sum := blake2b.Sum256(compressed)
	var nonce [NonceSize]byte
	copy(nonce[:], sum[:NonceSize])
	return nonce
}

// applyKeystream XORs b with the XChaCha20 keystream for the given
// secret and nonce.  The operation is its own inverse.
func applyKeystream(secret [SecretSize]byte, nonce [NonceSize]byte, b []byte) ([]byte, error) {
	c, err := chacha20.NewUnauthenticatedCipher(secret[:], nonce[:])
	if err != nil {
		return nil, fmt.Errorf("chacha20: %w", err)
	}
	out := make([]byte, len(b))
	c.XORKeyStream(out, b)
	return out, nil
}
