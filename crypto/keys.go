package crypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	p256ScalarLen       = 32
	p256CompressedLen   = 33
	p256UncompressedLen = 65
)

// ErrInvalidKey is returned when key material cannot be parsed as a P-256 key.
var ErrInvalidKey = errors.New("invalid P-256 key")

// GenerateP256Key creates a fresh P-256 private key.
func GenerateP256Key() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate P-256 key: %w", err)
	}
	return key, nil
}

// PrivateKeyToHex returns the zero-padded 32-byte scalar as hex.
func PrivateKeyToHex(key *ecdsa.PrivateKey) string {
	return hex.EncodeToString(key.D.FillBytes(make([]byte, p256ScalarLen)))
}

// PrivateKeyFromHex parses a hex-encoded P-256 scalar.
func PrivateKeyFromHex(s string) (*ecdsa.PrivateKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key hex: %w", err)
	}
	return PrivateKeyFromBytes(raw)
}

// PrivateKeyFromBytes builds a P-256 private key from its raw scalar.
func PrivateKeyFromBytes(raw []byte) (*ecdsa.PrivateKey, error) {
	if len(raw) != p256ScalarLen {
		return nil, fmt.Errorf("%w: private key must be %d bytes, got %d", ErrInvalidKey, p256ScalarLen, len(raw))
	}

	ecdhKey, err := ecdh.P256().NewPrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	point := ecdhKey.PublicKey().Bytes()
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(point[1:33]),
			Y:     new(big.Int).SetBytes(point[33:]),
		},
		D: new(big.Int).SetBytes(raw),
	}, nil
}

// CompressedPublicKey returns the 33-byte SEC1 compressed encoding.
func CompressedPublicKey(pub *ecdsa.PublicKey) []byte {
	return elliptic.MarshalCompressed(elliptic.P256(), pub.X, pub.Y)
}

// CompressedPublicKeyHex returns the compressed public key as hex, the form
// Turnkey uses to identify API keys.
func CompressedPublicKeyHex(pub *ecdsa.PublicKey) string {
	return hex.EncodeToString(CompressedPublicKey(pub))
}

// UncompressedPublicKey returns the 65-byte SEC1 uncompressed encoding.
func UncompressedPublicKey(pub *ecdsa.PublicKey) ([]byte, error) {
	ecdhPub, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return ecdhPub.Bytes(), nil
}

// UncompressedPublicKeyHex returns the uncompressed public key as hex, the
// form credential bundles are addressed to.
func UncompressedPublicKeyHex(pub *ecdsa.PublicKey) (string, error) {
	raw, err := UncompressedPublicKey(pub)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

// PublicKeyFromHex parses a compressed or uncompressed hex public key.
func PublicKeyFromHex(s string) (*ecdsa.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to decode public key hex: %w", err)
	}
	return PublicKeyFromBytes(raw)
}

// PublicKeyFromBytes parses a compressed (33 byte) or uncompressed (65 byte)
// P-256 public key.
func PublicKeyFromBytes(raw []byte) (*ecdsa.PublicKey, error) {
	switch len(raw) {
	case p256CompressedLen:
		x, y := elliptic.UnmarshalCompressed(elliptic.P256(), raw)
		if x == nil {
			return nil, fmt.Errorf("%w: point is not on the curve", ErrInvalidKey)
		}
		return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
	case p256UncompressedLen:
		if _, err := ecdh.P256().NewPublicKey(raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		return &ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(raw[1:33]),
			Y:     new(big.Int).SetBytes(raw[33:]),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected public key length %d", ErrInvalidKey, len(raw))
	}
}
