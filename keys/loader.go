// Package keys loads and stores Turnkey API keys in the Turnkey CLI layout.
//
// # Key File Format
//
// Keys live in ~/.config/turnkey/keys/ with two files per key:
//
//	<key-name>.public  - Hex-encoded compressed public key
//	<key-name>.private - Format: "hexkey:p256" where hexkey is the private scalar
//
// # Loading Keys
//
//	provider := &keys.FileKeyProvider{KeyName: "my-key"}
//	st, err := provider.Stamper(ctx)
//
// or directly:
//
//	apiKey, err := keys.LoadAPIKeyFromFile("my-key")
package keys

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anchorageoss/turnkey-sdk-go/crypto"
	"github.com/anchorageoss/turnkey-sdk-go/stamper"
)

const (
	publicSuffix  = ".public"
	privateSuffix = ".private"
	curveP256     = "p256"
)

// ErrKeyMismatch is returned when a .public file does not belong to the
// private key next to it.
var ErrKeyMismatch = errors.New("public key does not match private key")

// DefaultDir returns ~/.config/turnkey/keys.
func DefaultDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "turnkey", "keys"), nil
}

// FileKeyProvider loads a named key from Dir, or DefaultDir when Dir is empty.
type FileKeyProvider struct {
	Dir     string
	KeyName string
}

// GetAPIKey loads the API key from files.
func (f *FileKeyProvider) GetAPIKey(_ context.Context) (*stamper.APIKey, error) {
	dir := f.Dir
	if dir == "" {
		var err error
		if dir, err = DefaultDir(); err != nil {
			return nil, err
		}
	}
	return Load(dir, f.KeyName)
}

// Stamper loads the key and wraps it in an API key stamper.
func (f *FileKeyProvider) Stamper(ctx context.Context) (*stamper.APIKeyStamper, error) {
	key, err := f.GetAPIKey(ctx)
	if err != nil {
		return nil, err
	}
	return stamper.NewAPIKeyStamper(key)
}

// LoadAPIKeyFromFile loads keyName from DefaultDir.
func LoadAPIKeyFromFile(keyName string) (*stamper.APIKey, error) {
	return (&FileKeyProvider{KeyName: keyName}).GetAPIKey(context.Background())
}

// Load reads keyName from dir.
func Load(dir, keyName string) (*stamper.APIKey, error) {
	if keyName == "" {
		return nil, errors.New("key name is required")
	}

	publicKeyBytes, err := os.ReadFile(filepath.Join(dir, keyName+publicSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to read public key file: %w", err)
	}
	publicKeyHex := strings.TrimSpace(string(publicKeyBytes))

	privateKeyBytes, err := os.ReadFile(filepath.Join(dir, keyName+privateSuffix))
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}

	privateKeyHex, curve, ok := strings.Cut(strings.TrimSpace(string(privateKeyBytes)), ":")
	if !ok || strings.Contains(curve, ":") {
		return nil, errors.New("invalid private key format, expected 'hexkey:curve'")
	}
	if curve != curveP256 {
		return nil, fmt.Errorf("unsupported curve: %s, only p256 is supported", curve)
	}

	privateKey, err := crypto.PrivateKeyFromHex(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}

	if derived := crypto.CompressedPublicKeyHex(&privateKey.PublicKey); !strings.EqualFold(derived, publicKeyHex) {
		return nil, fmt.Errorf("%w: %s", ErrKeyMismatch, keyName)
	}

	return &stamper.APIKey{
		PublicKey:  publicKeyHex,
		PrivateKey: privateKey,
	}, nil
}

// Save writes key under keyName in dir, refusing to overwrite an existing key.
func Save(dir, keyName string, key *ecdsa.PrivateKey) (*stamper.APIKey, error) {
	if keyName == "" {
		return nil, errors.New("key name is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	publicKeyHex := crypto.CompressedPublicKeyHex(&key.PublicKey)
	privatePath := filepath.Join(dir, keyName+privateSuffix)

	f, err := os.OpenFile(privatePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create private key file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%s:%s\n", crypto.PrivateKeyToHex(key), curveP256); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}

	if err := os.WriteFile(filepath.Join(dir, keyName+publicSuffix), []byte(publicKeyHex+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write public key: %w", err)
	}
	return &stamper.APIKey{PublicKey: publicKeyHex, PrivateKey: key}, nil
}

// Generate creates a new P-256 key and saves it under keyName.
func Generate(dir, keyName string) (*stamper.APIKey, error) {
	key, err := crypto.GenerateP256Key()
	if err != nil {
		return nil, err
	}
	return Save(dir, keyName, key)
}
