package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ahmedhalloub17/tradingbot/internal/risk"
	"github.com/ahmedhalloub17/tradingbot/pkg/crypto"
)

// ErrNoEncryptionKey means credentials cannot be stored because no master
// key is configured.
var ErrNoEncryptionKey = errors.New("no encryption key configured")

// ErrNoCredentials means no credentials have been stored yet.
var ErrNoCredentials = errors.New("no credentials stored")

// Credentials are decrypted exchange credentials, held in memory only.
type Credentials struct {
	APIKey    string
	APISecret string
	Testnet   bool
}

// CredentialStatus is the safe-to-display view of stored credentials.
type CredentialStatus struct {
	Configured bool      `json:"configured"`
	APIKey     string    `json:"api_key,omitempty"` // masked
	Testnet    bool      `json:"testnet"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// runtimeState is the on-disk layout. Credentials are AES-GCM sealed.
type runtimeState struct {
	APIKeyEnc    string       `json:"api_key_enc,omitempty"`
	APISecretEnc string       `json:"api_secret_enc,omitempty"`
	Testnet      bool         `json:"testnet,omitempty"`
	CredsSetAt   time.Time    `json:"creds_set_at,omitempty"`
	Pairs        []string     `json:"pairs,omitempty"`
	Risk         *risk.Config `json:"risk,omitempty"`
}

// Store is the runtime JSON store: everything the control API can change
// while the bot runs. Writes go through a temp file and atomic rename.
type Store struct {
	path string
	keys *crypto.KeyManager

	mu    sync.Mutex
	state runtimeState
}

// NewStore loads the runtime state from path, creating parent directories.
// keys may be nil; credential writes then fail with ErrNoEncryptionKey.
func NewStore(path string, keys *crypto.KeyManager) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: runtime store path is empty", ErrInvalid)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}

	s := &Store{path: path, keys: keys}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read runtime state: %w", err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, fmt.Errorf("parse runtime state %s: %w", path, err)
	}
	if err := s.resealCredentials(); err != nil {
		return nil, err
	}
	return s, nil
}

// resealCredentials upgrades stored credentials to the newest key version
// after a rotation. Best effort: values sealed under a key that is no
// longer loaded stay as they are until the operator re-submits them.
func (s *Store) resealCredentials() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.keys == nil || s.state.APIKeyEnc == "" || s.state.APISecretEnc == "" {
		return nil
	}
	cur := s.keys.CurrentVersion()
	if crypto.ParseVersion(s.state.APIKeyEnc) == cur &&
		crypto.ParseVersion(s.state.APISecretEnc) == cur {
		return nil
	}

	keyEnc, err := s.keys.ReEncrypt(s.state.APIKeyEnc)
	if err != nil {
		return nil
	}
	secretEnc, err := s.keys.ReEncrypt(s.state.APISecretEnc)
	if err != nil {
		return nil
	}
	s.state.APIKeyEnc = keyEnc
	s.state.APISecretEnc = secretEnc
	return s.persistLocked()
}

// SetCredentials encrypts and persists exchange credentials.
func (s *Store) SetCredentials(apiKey, apiSecret string, testnet bool) error {
	if strings.TrimSpace(apiKey) == "" || strings.TrimSpace(apiSecret) == "" {
		return fmt.Errorf("%w: api key and secret must not be empty", ErrInvalid)
	}
	if s.keys == nil {
		return ErrNoEncryptionKey
	}

	keyEnc, err := s.keys.Encrypt(apiKey)
	if err != nil {
		return fmt.Errorf("encrypt api key: %w", err)
	}
	secretEnc, err := s.keys.Encrypt(apiSecret)
	if err != nil {
		return fmt.Errorf("encrypt api secret: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.APIKeyEnc = keyEnc
	s.state.APISecretEnc = secretEnc
	s.state.Testnet = testnet
	s.state.CredsSetAt = time.Now().UTC()
	return s.persistLocked()
}

// Credentials decrypts and returns the stored credentials.
func (s *Store) Credentials() (Credentials, error) {
	s.mu.Lock()
	keyEnc, secretEnc, testnet := s.state.APIKeyEnc, s.state.APISecretEnc, s.state.Testnet
	s.mu.Unlock()

	if keyEnc == "" || secretEnc == "" {
		return Credentials{}, ErrNoCredentials
	}
	if s.keys == nil {
		return Credentials{}, ErrNoEncryptionKey
	}

	apiKey, err := s.keys.Decrypt(keyEnc)
	if err != nil {
		return Credentials{}, fmt.Errorf("decrypt api key: %w", err)
	}
	apiSecret, err := s.keys.Decrypt(secretEnc)
	if err != nil {
		return Credentials{}, fmt.Errorf("decrypt api secret: %w", err)
	}
	return Credentials{APIKey: apiKey, APISecret: apiSecret, Testnet: testnet}, nil
}

// CredentialStatus returns the masked view for the control API. Decryption
// happens only to produce the mask; the secret never leaves the store.
func (s *Store) CredentialStatus() CredentialStatus {
	creds, err := s.Credentials()
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		return CredentialStatus{Testnet: s.state.Testnet}
	}

	s.mu.Lock()
	setAt := s.state.CredsSetAt
	s.mu.Unlock()
	return CredentialStatus{
		Configured: true,
		APIKey:     maskKey(creds.APIKey),
		Testnet:    creds.Testnet,
		UpdatedAt:  setAt,
	}
}

// Pairs returns the stored pair list, nil when none was set.
func (s *Store) Pairs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.state.Pairs) == 0 {
		return nil
	}
	out := make([]string, len(s.state.Pairs))
	copy(out, s.state.Pairs)
	return out
}

// SetPairs persists the pair list. The caller normalizes it first.
func (s *Store) SetPairs(pairs []string) error {
	if len(pairs) == 0 {
		return fmt.Errorf("%w: pair list must not be empty", ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Pairs = append([]string(nil), pairs...)
	return s.persistLocked()
}

// RiskOverride returns the stored risk override, nil when none was set.
func (s *Store) RiskOverride() *risk.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Risk == nil {
		return nil
	}
	cp := *s.state.Risk
	return &cp
}

// SetRiskOverride validates and persists a risk parameter override.
func (s *Store) SetRiskOverride(cfg risk.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: risk: %v", ErrInvalid, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cfg
	s.state.Risk = &cp
	return s.persistLocked()
}

// persistLocked writes the state through a temp file and atomic rename.
// Callers hold s.mu.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode runtime state: %w", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o600); err != nil {
		return fmt.Errorf("write runtime state: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return fmt.Errorf("swap runtime state: %w", err)
	}
	return nil
}

// maskKey keeps enough of the key to recognize it and nothing useful.
func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", 8) + key[len(key)-4:]
}
