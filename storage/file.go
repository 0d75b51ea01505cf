package storage

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	fileBackend  = "file"
	saltFileName = "salt"
	saltLen      = 16
	slotFileExt  = ".sealed"

	argonTime    uint32 = 3
	argonMemory  uint32 = 64 * 1024
	argonThreads uint8  = 1
)

// FileConfig configures a FileStore.
type FileConfig struct {
	// Dir holds one sealed file per slot plus the key derivation salt.
	Dir string
	// Passphrase derives the sealing key.
	Passphrase []byte
}

// FileStore seals each slot into its own file under Dir. File names are
// hashes of slot names and each file is nonce || ciphertext with the slot
// name as associated data.
type FileStore struct {
	dir string
	key []byte
}

// NewFileStore opens or initializes an encrypted store in cfg.Dir.
func NewFileStore(cfg FileConfig) (*FileStore, error) {
	if cfg.Dir == "" {
		return nil, errors.New("storage directory is required")
	}
	if len(cfg.Passphrase) == 0 {
		return nil, errors.New("storage passphrase is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	salt, err := loadOrCreateSalt(filepath.Join(cfg.Dir, saltFileName))
	if err != nil {
		return nil, err
	}

	return &FileStore{
		dir: cfg.Dir,
		key: argon2.IDKey(cfg.Passphrase, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize),
	}, nil
}

func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != saltLen {
			return nil, fmt.Errorf("corrupt salt file %s", path)
		}
		return salt, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read salt: %w", err)
	}

	salt = make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if err := writeFileAtomic(path, salt); err != nil {
		return nil, fmt.Errorf("failed to write salt: %w", err)
	}
	return salt, nil
}

func (f *FileStore) path(slot string) string {
	sum := sha256.Sum256([]byte(slot))
	return filepath.Join(f.dir, hex.EncodeToString(sum[:])+slotFileExt)
}

func (f *FileStore) Get(_ context.Context, slot string) ([]byte, error) {
	sealed, err := os.ReadFile(f.path(slot))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(fileBackend, "read", slot, err)
	}

	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return nil, wrapErr(fileBackend, "read", slot, err)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, wrapErr(fileBackend, "read", slot, errors.New("sealed value too short"))
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(slot))
	if err != nil {
		return nil, wrapErr(fileBackend, "open", slot, err)
	}
	return plaintext, nil
}

func (f *FileStore) Set(_ context.Context, slot string, value []byte) error {
	aead, err := chacha20poly1305.NewX(f.key)
	if err != nil {
		return wrapErr(fileBackend, "write", slot, err)
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(value)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return wrapErr(fileBackend, "write", slot, err)
	}
	sealed := aead.Seal(nonce, nonce, value, []byte(slot))

	return wrapErr(fileBackend, "write", slot, writeFileAtomic(f.path(slot), sealed))
}

func (f *FileStore) Remove(_ context.Context, slot string) error {
	err := os.Remove(f.path(slot))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return wrapErr(fileBackend, "remove", slot, err)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
