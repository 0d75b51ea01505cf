package stamper

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/anchorageoss/turnkey-sdk-go/crypto"
)

// APIKey is a P-256 API key pair. PublicKey is the compressed hex encoding
// Turnkey registers the key under.
type APIKey struct {
	PublicKey  string
	PrivateKey *ecdsa.PrivateKey
}

// APIKeyStamper signs request bodies with a P-256 API key.
type APIKeyStamper struct {
	key *APIKey
}

// NewAPIKeyStamper creates a stamper for key. An empty PublicKey is derived
// from the private key.
func NewAPIKeyStamper(key *APIKey) (*APIKeyStamper, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, errors.New("API key is required")
	}

	k := *key
	if k.PublicKey == "" {
		k.PublicKey = crypto.CompressedPublicKeyHex(&k.PrivateKey.PublicKey)
	}
	return &APIKeyStamper{key: &k}, nil
}

// NewAPIKeyStamperFromHex creates a stamper from hex-encoded key material.
func NewAPIKeyStamperFromHex(publicKeyHex, privateKeyHex string) (*APIKeyStamper, error) {
	privateKey, err := crypto.PrivateKeyFromHex(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("failed to load API private key: %w", err)
	}
	return NewAPIKeyStamper(&APIKey{PublicKey: publicKeyHex, PrivateKey: privateKey})
}

// PublicKey returns the compressed hex public key the stamp is issued under.
func (s *APIKeyStamper) PublicKey() string {
	return s.key.PublicKey
}

// Stamp signs body and returns the X-Stamp header.
func (s *APIKeyStamper) Stamp(body []byte) (Stamp, error) {
	signature, err := crypto.SignWithECDSA(s.key.PrivateKey, body)
	if err != nil {
		return Stamp{}, fmt.Errorf("failed to sign request body: %w", err)
	}

	value, err := Payload{
		PublicKey: s.key.PublicKey,
		Signature: hex.EncodeToString(signature),
		Scheme:    SchemeAPIP256,
	}.Encode()
	if err != nil {
		return Stamp{}, err
	}

	return Stamp{HeaderName: HeaderName, HeaderValue: value}, nil
}

// VerifyAPIKeyStamp checks an X-Stamp header against body and returns the
// public key the stamp was issued under.
func VerifyAPIKeyStamp(headerValue string, body []byte) (string, error) {
	payload, err := Decode(headerValue)
	if err != nil {
		return "", err
	}
	if payload.Scheme != SchemeAPIP256 {
		return "", fmt.Errorf("unsupported stamp scheme %q", payload.Scheme)
	}

	publicKey, err := crypto.PublicKeyFromHex(payload.PublicKey)
	if err != nil {
		return "", fmt.Errorf("invalid stamp public key: %w", err)
	}
	signature, err := hex.DecodeString(payload.Signature)
	if err != nil {
		return "", fmt.Errorf("invalid stamp signature: %w", err)
	}
	if !crypto.VerifyECDSASignatureDER(publicKey, body, signature) {
		return "", errors.New("stamp signature does not match body")
	}
	return payload.PublicKey, nil
}
