// keyring.go implements versioned envelope encryption on top of TokenCipher.
// Every ciphertext produced by a Keyring is prefixed with the identifier of the
// key that sealed it ("v1:<keyid>:<ciphertext>"), so the master key can be
// rotated without re-encrypting existing rows: old rows decrypt with the
// retired key, new rows seal with the active one.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const envelopeVersion = "v1"

var (
	// ErrUnknownKeyID is returned when a ciphertext names a key the keyring does not hold.
	ErrUnknownKeyID = errors.New("crypto: ciphertext sealed with unknown key")
	// ErrEnvelopeMalformed is returned when an envelope does not match the v1:<keyid>:<data> layout.
	ErrEnvelopeMalformed = errors.New("crypto: envelope is malformed")
)

// KeyID derives a stable short identifier for a raw key. The identifier is
// safe to store and log: it is the first 8 hex characters of the key's
// SHA-256 digest and reveals nothing about the key material itself.
func KeyID(key []byte) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:])[:8]
}

// Keyring holds one active cipher used for sealing plus any number of retired
// ciphers kept for decrypting rows written before a rotation.
type Keyring struct {
	active   *TokenCipher
	activeID string
	ciphers  map[string]*TokenCipher
}

// NewKeyring builds a keyring from raw 32-byte keys. The first key is active;
// the rest are retired keys kept for decryption only.
func NewKeyring(keys ...[]byte) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, ErrKeyLengthInvalid
	}

	kr := &Keyring{ciphers: make(map[string]*TokenCipher, len(keys))}
	for i, key := range keys {
		tc, err := NewTokenCipher(key)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		id := KeyID(key)
		kr.ciphers[id] = tc
		if i == 0 {
			kr.active = tc
			kr.activeID = id
		}
	}
	return kr, nil
}

// ActiveKeyID returns the identifier of the key new ciphertexts are sealed with.
func (kr *Keyring) ActiveKeyID() string {
	return kr.activeID
}

// Seal encrypts plaintext with the active key and wraps it in a versioned
// envelope naming that key.
func (kr *Keyring) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	sealed, err := kr.active.Seal(plaintext)
	if err != nil {
		return "", err
	}
	return envelopeVersion + ":" + kr.activeID + ":" + sealed, nil
}

// Open decrypts an envelope using the key it names. Bare ciphertexts without
// an envelope prefix are treated as pre-rotation rows sealed with the active
// key, so old data keeps decrypting after a deployment introduces keyrings.
func (kr *Keyring) Open(envelope string) (string, error) {
	if envelope == "" {
		return "", nil
	}

	if !strings.HasPrefix(envelope, envelopeVersion+":") {
		return kr.active.Open(envelope)
	}

	parts := strings.SplitN(envelope, ":", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return "", ErrEnvelopeMalformed
	}

	tc, ok := kr.ciphers[parts[1]]
	if !ok {
		return "", ErrUnknownKeyID
	}
	return tc.Open(parts[2])
}

// GenerateWebhookSecret creates the per-connection shared secret registered
// with the code host and used to verify webhook delivery signatures. 32 random
// bytes hex-encoded, matching the entropy of the encryption master key.
func GenerateWebhookSecret() (string, error) {
	secret := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return "", err
	}
	return hex.EncodeToString(secret), nil
}
