package config

import (
	"bytes"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ahmedhalloub17/tradingbot/internal/risk"
	"github.com/ahmedhalloub17/tradingbot/pkg/crypto"
)

func testKeys(t *testing.T) *crypto.KeyManager {
	t.Helper()
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
	t.Setenv("MASTER_ENCRYPTION_KEY", key)
	km, err := crypto.NewKeyManager()
	if err != nil {
		t.Fatalf("key manager: %v", err)
	}
	return km
}

func TestCredentialsEncryptedAtRest(t *testing.T) {
	km := testKeys(t)
	path := filepath.Join(t.TempDir(), "runtime.json")
	store, err := NewStore(path, km)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	const apiKey = "AKIAEXAMPLEKEY123456"
	const apiSecret = "super-secret-value"
	if err := store.SetCredentials(apiKey, apiSecret, true); err != nil {
		t.Fatalf("set credentials: %v", err)
	}

	t.Run("plaintext never touches disk", func(t *testing.T) {
		raw, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read state file: %v", err)
		}
		if strings.Contains(string(raw), apiSecret) || strings.Contains(string(raw), apiKey) {
			t.Error("state file contains plaintext credentials")
		}
		if !strings.Contains(string(raw), "ENC[v") {
			t.Error("state file should carry sealed values")
		}
	})

	t.Run("round trip", func(t *testing.T) {
		creds, err := store.Credentials()
		if err != nil {
			t.Fatalf("credentials: %v", err)
		}
		if creds.APIKey != apiKey || creds.APISecret != apiSecret || !creds.Testnet {
			t.Errorf("got %+v", creds)
		}
	})

	t.Run("survives reload", func(t *testing.T) {
		reloaded, err := NewStore(path, km)
		if err != nil {
			t.Fatalf("reload: %v", err)
		}
		creds, err := reloaded.Credentials()
		if err != nil {
			t.Fatalf("credentials after reload: %v", err)
		}
		if creds.APISecret != apiSecret {
			t.Error("secret lost across reload")
		}
	})

	t.Run("status masks the key", func(t *testing.T) {
		status := store.CredentialStatus()
		if !status.Configured || !status.Testnet {
			t.Errorf("status = %+v", status)
		}
		if status.APIKey == apiKey {
			t.Error("status leaks the full key")
		}
		if !strings.HasPrefix(status.APIKey, apiKey[:4]) || !strings.Contains(status.APIKey, "*") {
			t.Errorf("unexpected mask %q", status.APIKey)
		}
	})
}

func TestCredentialResealOnRotation(t *testing.T) {
	km := testKeys(t)
	path := filepath.Join(t.TempDir(), "runtime.json")
	store, err := NewStore(path, km)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := store.SetCredentials("AKIAEXAMPLEKEY123456", "super-secret-value", false); err != nil {
		t.Fatalf("set credentials: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}
	if !strings.Contains(string(raw), "ENC[v1]:") {
		t.Fatalf("expected v1 envelopes before rotation, got %s", raw)
	}

	// Rotate: the next load reseals under the new version.
	v2, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	t.Setenv("MASTER_ENCRYPTION_KEY_V2", v2)
	rotatedKeys, err := crypto.NewKeyManager()
	if err != nil {
		t.Fatalf("key manager after rotation: %v", err)
	}

	reloaded, err := NewStore(path, rotatedKeys)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	creds, err := reloaded.Credentials()
	if err != nil {
		t.Fatalf("credentials after rotation: %v", err)
	}
	if creds.APISecret != "super-secret-value" {
		t.Error("secret lost across rotation")
	}

	raw, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("read state file: %v", err)
	}
	if strings.Contains(string(raw), "ENC[v1]:") || !strings.Contains(string(raw), "ENC[v2]:") {
		t.Errorf("state file not resealed under v2: %s", raw)
	}
}

func TestSetCredentialsValidation(t *testing.T) {
	km := testKeys(t)
	store, err := NewStore(filepath.Join(t.TempDir(), "runtime.json"), km)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := store.SetCredentials("", "secret", false); !errors.Is(err, ErrInvalid) {
		t.Errorf("empty key: err = %v, want ErrInvalid", err)
	}
	if err := store.SetCredentials("key", "  ", false); !errors.Is(err, ErrInvalid) {
		t.Errorf("blank secret: err = %v, want ErrInvalid", err)
	}
}

func TestStoreWithoutEncryptionKey(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "runtime.json"), nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if err := store.SetCredentials("key", "secret", false); !errors.Is(err, ErrNoEncryptionKey) {
		t.Errorf("err = %v, want ErrNoEncryptionKey", err)
	}
	if _, err := store.Credentials(); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("err = %v, want ErrNoCredentials", err)
	}
	if status := store.CredentialStatus(); status.Configured {
		t.Error("fresh store should report unconfigured")
	}

	// Pairs and risk overrides do not need the key.
	if err := store.SetPairs([]string{"BTCUSDT"}); err != nil {
		t.Fatalf("set pairs: %v", err)
	}
}

func TestPairsPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.json")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if got := store.Pairs(); got != nil {
		t.Errorf("fresh store pairs = %v, want nil", got)
	}
	if err := store.SetPairs(nil); !errors.Is(err, ErrInvalid) {
		t.Errorf("empty pairs: err = %v, want ErrInvalid", err)
	}

	if err := store.SetPairs([]string{"BTCUSDT", "ETHUSDT"}); err != nil {
		t.Fatalf("set pairs: %v", err)
	}
	got := store.Pairs()
	got[0] = "mutated"
	if fresh := store.Pairs(); fresh[0] != "BTCUSDT" {
		t.Error("Pairs must return a copy")
	}

	reloaded, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if pairs := reloaded.Pairs(); len(pairs) != 2 || pairs[1] != "ETHUSDT" {
		t.Errorf("pairs after reload = %v", pairs)
	}
}

func TestRiskOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime.json")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	if store.RiskOverride() != nil {
		t.Error("fresh store should have no override")
	}

	bad := risk.DefaultConfig()
	bad.RiskPerTrade = -1
	if err := store.SetRiskOverride(bad); !errors.Is(err, ErrInvalid) {
		t.Errorf("err = %v, want ErrInvalid", err)
	}

	override := risk.DefaultConfig()
	override.MaxOpenTrades = 1
	if err := store.SetRiskOverride(override); err != nil {
		t.Fatalf("set override: %v", err)
	}

	reloaded, err := NewStore(path, nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	got := reloaded.RiskOverride()
	if got == nil || got.MaxOpenTrades != 1 {
		t.Errorf("override after reload = %+v", got)
	}
}
