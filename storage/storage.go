// Package storage defines the secure slot storage the session manager
// persists through, and the backends that implement it.
//
// A slot is a short string key holding an opaque byte value. Get returns
// (nil, nil) for an absent slot and Remove of an absent slot is a no-op.
//
// Backends:
//   - MemoryStore: process-local, for tests and short-lived tools
//   - FileStore: one file per slot, sealed with XChaCha20-Poly1305 under an
//     Argon2id passphrase key
//   - VaultStore: HashiCorp Vault KV v2
//   - SQLStore: a bun table, SQLite by default
package storage

import (
	"context"
	"fmt"
)

// Storage is a secure key/value slot store.
type Storage interface {
	Get(ctx context.Context, slot string) ([]byte, error)
	Set(ctx context.Context, slot string, value []byte) error
	Remove(ctx context.Context, slot string) error
}

// Error wraps a backend failure with the operation and slot involved.
type Error struct {
	Backend string
	Op      string
	Slot    string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s storage: failed to %s %q: %v", e.Backend, e.Op, e.Slot, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrapErr(backend, op, slot string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Backend: backend, Op: op, Slot: slot, Err: err}
}
