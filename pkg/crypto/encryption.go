// Package crypto seals exchange credentials with AES-256-GCM under
// versioned master keys, so the operator can rotate keys without losing
// previously stored ciphertexts.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

var (
	// ErrInvalidKey means the key material is not KeySize bytes.
	ErrInvalidKey = errors.New("encryption key must be 32 bytes")
	// ErrInvalidCiphertext means the value does not carry the expected
	// ENC[vN]: envelope.
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	// ErrDecryptionFailed means authentication failed: wrong key or
	// tampered data.
	ErrDecryptionFailed = errors.New("decryption failed")
)

// sealer encrypts and decrypts under a single key version. Sealed values
// read ENC[vN]:base64(nonce || ciphertext) so the key ring can route
// decryption to the right version.
type sealer struct {
	aead    cipher.AEAD
	version int
}

func newSealer(key []byte, version int) (*sealer, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	return &sealer{aead: aead, version: version}, nil
}

func (s *sealer) seal(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("ENC[v%d]:%s", s.version,
		base64.StdEncoding.EncodeToString(sealed)), nil
}

func (s *sealer) open(ciphertext string) (string, error) {
	idx := strings.Index(ciphertext, "]:")
	if !strings.HasPrefix(ciphertext, "ENC[v") || idx < 0 {
		return "", ErrInvalidCiphertext
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext[idx+2:])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	ns := s.aead.NonceSize()
	if len(data) < ns {
		return "", ErrInvalidCiphertext
	}
	plaintext, err := s.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// ParseVersion extracts the key version from a sealed value, 0 when the
// envelope is malformed.
func ParseVersion(ciphertext string) int {
	var version int
	if _, err := fmt.Sscanf(ciphertext, "ENC[v%d]:", &version); err != nil {
		return 0
	}
	if version < 1 {
		return 0
	}
	return version
}
