// Package secrets seals stored credentials (aggregator API keys and Slack
// bot tokens) with AES-256-GCM under a master key.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/sentinelhq/sentinel/internal/config"
)

const (
	sealedPrefix   = "enc:v1:"
	keyringService = "sentinel.credentials"
	keyringUser    = "master-key"
)

// Sealer encrypts and decrypts single credential strings.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer creates a Sealer for a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid master key length: %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: gcm}, nil
}

// Seal encrypts plain. The empty string stays empty so "no key" remains
// distinguishable without decrypting.
func (s *Sealer) Seal(plain string) (string, error) {
	if plain == "" || strings.HasPrefix(plain, sealedPrefix) {
		return plain, nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	out := s.aead.Seal(nonce, nonce, []byte(plain), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(out), nil
}

// Open decrypts a sealed value. Values written before sealing was enabled
// are returned as-is.
func (s *Sealer) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	n := s.aead.NonceSize()
	if len(raw) < n {
		return "", errors.New("sealed value too short")
	}
	plain, err := s.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(plain), nil
}

// Load resolves the master key for cfg and returns a Sealer. The "none"
// backend returns nil, which leaves credentials in plaintext.
func Load(cfg config.SecretsConfig) (*Sealer, error) {
	if cfg.Backend == "none" && cfg.MasterKey == "" {
		return nil, nil
	}
	key, err := LoadOrCreateMasterKey(cfg)
	if err != nil {
		return nil, err
	}
	return NewSealer(key)
}

// LoadOrCreateMasterKey returns the 32-byte master key, creating one if
// necessary. An explicit MasterKey wins over the configured backend.
func LoadOrCreateMasterKey(cfg config.SecretsConfig) ([]byte, error) {
	if k := strings.TrimSpace(cfg.MasterKey); k != "" {
		key, err := DecodeMasterKey(k)
		if err != nil {
			return nil, fmt.Errorf("invalid SENTINEL_SECRETS_MASTER_KEY: %w", err)
		}
		return key, nil
	}
	switch cfg.Backend {
	case "keyring":
		return loadOrCreateKeyring()
	case "auto":
		if key, err := loadOrCreateKeyring(); err == nil {
			return key, nil
		}
		return loadOrCreateFile(cfg.KeyFile)
	default:
		return loadOrCreateFile(cfg.KeyFile)
	}
}

// DecodeMasterKey base64-decodes a master key and validates its length.
func DecodeMasterKey(raw string) ([]byte, error) {
	decoded, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(raw), "="))
	if err != nil {
		return nil, err
	}
	if len(decoded) != 32 {
		return nil, fmt.Errorf("invalid master key length: %d", len(decoded))
	}
	return decoded, nil
}

func newKey() ([]byte, string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, "", err
	}
	return key, base64.RawStdEncoding.EncodeToString(key), nil
}

func loadOrCreateKeyring() ([]byte, error) {
	val, err := keyring.Get(keyringService, keyringUser)
	if err == nil {
		return DecodeMasterKey(val)
	}
	if !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("keyring: %w", err)
	}
	key, encoded, err := newKey()
	if err != nil {
		return nil, err
	}
	if err := keyring.Set(keyringService, keyringUser, encoded); err != nil {
		return nil, fmt.Errorf("keyring: %w", err)
	}
	return key, nil
}

func loadOrCreateFile(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("no master key file configured")
	}
	if data, err := os.ReadFile(path); err == nil {
		return DecodeMasterKey(string(data))
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	key, encoded, err := newKey()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(encoded+"\n"), 0o600); err != nil {
		return nil, err
	}
	return key, nil
}
