// Package session manages time-bounded Turnkey sessions.
//
// A session is created by redeeming a credential bundle against an embedded
// key: the service encrypts a fresh API key to the embedded public key, the
// Manager decrypts it, resolves the user behind it, persists the result in a
// storage.Storage and arms an expiry timer. Several sessions may be held at
// once under distinct keys; one of them is selected and backs Client().
package session

import (
	"errors"
	"time"

	"github.com/anchorageoss/turnkey-sdk-go/api"
)

const (
	// DefaultSessionKey is used when CreateSession is given no key.
	DefaultSessionKey = "default"

	// DefaultExpirySeconds is the lifetime of an OTP-issued session.
	DefaultExpirySeconds = 900

	EmbeddedKeySlot     = "turnkey_embedded_key"
	SessionIndexSlot    = "turnkey_session_index"
	SelectedSessionSlot = "turnkey_selected_session"
	sessionSlotPrefix   = "turnkey_session:"
)

var (
	ErrEmbeddedKeyNotFound = errors.New("embedded key not found")
	ErrSessionDecryption   = errors.New("failed to decrypt credential bundle")
	ErrUserNotFound        = errors.New("user not found")
	ErrNoSession           = errors.New("no session selected")
	ErrClosed              = errors.New("session manager closed")
)

// DecryptionError reports a credential bundle that is malformed or was not
// issued for the current embedded key.
type DecryptionError struct {
	Err error
}

func (e *DecryptionError) Error() string {
	return ErrSessionDecryption.Error() + ": " + e.Err.Error()
}

func (e *DecryptionError) Unwrap() error {
	return e.Err
}

func (e *DecryptionError) Is(target error) bool {
	return target == ErrSessionDecryption
}

// Session is a persisted session record.
type Session struct {
	Key        string `json:"key"`
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
	// Expiry is an absolute epoch millisecond timestamp.
	Expiry int64 `json:"expiry"`
	User   *User `json:"user"`
}

// ExpiresAt returns Expiry as a time.
func (s *Session) ExpiresAt() time.Time {
	return time.UnixMilli(s.Expiry)
}

// Expired reports whether the session is unusable at now.
func (s *Session) Expired(now time.Time) bool {
	return s.Expiry <= now.UnixMilli()
}

func (s *Session) organizationID() string {
	if s.User == nil {
		return ""
	}
	return s.User.OrganizationID
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	cp.User = s.User.clone()
	return &cp
}

// User is the denormalized view of the user behind a session.
type User struct {
	ID             string   `json:"userId"`
	UserName       string   `json:"username"`
	Email          string   `json:"email,omitempty"`
	PhoneNumber    string   `json:"phoneNumber,omitempty"`
	OrganizationID string   `json:"organizationId"`
	Wallets        []Wallet `json:"wallets"`
}

// Wallet is a wallet with all of its accounts.
type Wallet struct {
	ID       string          `json:"walletId"`
	Name     string          `json:"walletName"`
	Accounts []WalletAccount `json:"accounts"`
}

// WalletAccount is one derived address.
type WalletAccount struct {
	ID            string         `json:"walletAccountId"`
	Curve         string         `json:"curve"`
	PathFormat    string         `json:"pathFormat"`
	Path          string         `json:"path"`
	AddressFormat string         `json:"addressFormat"`
	Address       string         `json:"address"`
	CreatedAt     *api.Timestamp `json:"createdAt,omitempty"`
	UpdatedAt     *api.Timestamp `json:"updatedAt,omitempty"`
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	cp := *u
	if u.Wallets != nil {
		cp.Wallets = make([]Wallet, len(u.Wallets))
		for i, w := range u.Wallets {
			w.Accounts = append([]WalletAccount(nil), w.Accounts...)
			cp.Wallets[i] = w
		}
	}
	return &cp
}

func sessionSlot(key string) string {
	return sessionSlotPrefix + key
}
