package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"sync"
)

// masterKeyEnv names the primary key variable. Rotations append a version
// suffix: MASTER_ENCRYPTION_KEY_V2, _V3 and so on.
const masterKeyEnv = "MASTER_ENCRYPTION_KEY"

// maxKeyVersions bounds the environment scan for rotated keys.
const maxKeyVersions = 10

// ErrKeyNotFound means the named environment variable holds no key.
var ErrKeyNotFound = errors.New("encryption key not found")

// KeyManager holds every configured master key version. New values seal
// under the newest key; any loaded version can open.
type KeyManager struct {
	mu      sync.RWMutex
	current int
	ring    map[int]*sealer
}

// NewKeyManager loads MASTER_ENCRYPTION_KEY (required, version 1) plus any
// rotated versions from the environment. Keys are base64-encoded 32-byte
// values; GenerateKey mints one.
func NewKeyManager() (*KeyManager, error) {
	km := &KeyManager{ring: make(map[int]*sealer)}
	if err := km.load(1, masterKeyEnv); err != nil {
		return nil, fmt.Errorf("load primary key: %w", err)
	}
	km.current = 1
	for v := 2; v <= maxKeyVersions; v++ {
		if err := km.load(v, fmt.Sprintf("%s_V%d", masterKeyEnv, v)); err == nil {
			km.current = v
		}
	}
	return km, nil
}

func (km *KeyManager) load(version int, envName string) error {
	encoded := os.Getenv(envName)
	if encoded == "" {
		return ErrKeyNotFound
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode %s: %w", envName, err)
	}
	s, err := newSealer(key, version)
	if err != nil {
		return fmt.Errorf("key %s: %w", envName, err)
	}
	km.ring[version] = s
	return nil
}

// Encrypt seals plaintext under the newest key.
func (km *KeyManager) Encrypt(plaintext string) (string, error) {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.ring[km.current].seal(plaintext)
}

// Decrypt opens a sealed value with the key version named in its envelope.
func (km *KeyManager) Decrypt(ciphertext string) (string, error) {
	version := ParseVersion(ciphertext)
	if version == 0 {
		return "", ErrInvalidCiphertext
	}
	km.mu.RLock()
	s, ok := km.ring[version]
	km.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("key version %d not available", version)
	}
	return s.open(ciphertext)
}

// ReEncrypt reseals a value under the newest key, upgrading ciphertexts
// left behind by a rotation.
func (km *KeyManager) ReEncrypt(ciphertext string) (string, error) {
	plaintext, err := km.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	return km.Encrypt(plaintext)
}

// CurrentVersion returns the version new values seal under.
func (km *KeyManager) CurrentVersion() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.current
}

// GenerateKey mints a random AES-256 key, base64-encoded for the
// environment.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
