package crypto

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/hpke"
	"github.com/mr-tron/base58"
)

const (
	// CredentialBundleInfo is the HPKE info string Turnkey binds bundles to.
	CredentialBundleInfo = "turnkey_hpke"

	checksumLen = 4
)

// Bundles use DHKEM(P-256, HKDF-SHA256), HKDF-SHA256 and AES-256-GCM in
// base mode.
var (
	bundleKEM   = hpke.KEM_P256_HKDF_SHA256
	bundleSuite = hpke.NewSuite(bundleKEM, hpke.KDF_HKDF_SHA256, hpke.AEAD_AES256GCM)
)

var (
	// ErrInvalidBundle is returned when a credential bundle is malformed.
	ErrInvalidBundle = errors.New("invalid credential bundle")

	// ErrBundleChecksum is returned when the base58check checksum does not match.
	ErrBundleChecksum = errors.New("credential bundle checksum mismatch")
)

// DecryptCredentialBundle opens a base58check-encoded HPKE bundle with the
// hex-encoded embedded private key and returns the plaintext as hex.
func DecryptCredentialBundle(bundle string, embeddedPrivateKeyHex string) (string, error) {
	payload, err := DecodeBase58Check(bundle)
	if err != nil {
		return "", err
	}
	if len(payload) <= p256CompressedLen {
		return "", fmt.Errorf("%w: payload too short (%d bytes)", ErrInvalidBundle, len(payload))
	}

	encappedPub, err := PublicKeyFromBytes(payload[:p256CompressedLen])
	if err != nil {
		return "", fmt.Errorf("%w: encapsulated key: %v", ErrInvalidBundle, err)
	}
	enc, err := UncompressedPublicKey(encappedPub)
	if err != nil {
		return "", err
	}

	receiver, err := PrivateKeyFromHex(embeddedPrivateKeyHex)
	if err != nil {
		return "", fmt.Errorf("failed to load embedded key: %w", err)
	}
	skR, err := bundleKEM.Scheme().UnmarshalBinaryPrivateKey(receiver.D.FillBytes(make([]byte, p256ScalarLen)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	pkR, err := skR.Public().MarshalBinary()
	if err != nil {
		return "", err
	}

	r, err := bundleSuite.NewReceiver(skR, []byte(CredentialBundleInfo))
	if err != nil {
		return "", fmt.Errorf("failed to create HPKE receiver: %w", err)
	}
	opener, err := r.Setup(enc)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	plaintext, err := opener.Open(payload[p256CompressedLen:], concat(enc, pkR))
	if err != nil {
		return "", fmt.Errorf("failed to open credential bundle: %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

// EncryptCredentialBundle seals plaintext to the receiver public key (hex,
// compressed or uncompressed) and returns the base58check bundle.
func EncryptCredentialBundle(plaintext []byte, receiverPublicKeyHex string) (string, error) {
	receiverPub, err := PublicKeyFromHex(receiverPublicKeyHex)
	if err != nil {
		return "", err
	}
	pkRBytes, err := UncompressedPublicKey(receiverPub)
	if err != nil {
		return "", err
	}
	pkR, err := bundleKEM.Scheme().UnmarshalBinaryPublicKey(pkRBytes)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	s, err := bundleSuite.NewSender(pkR, []byte(CredentialBundleInfo))
	if err != nil {
		return "", fmt.Errorf("failed to create HPKE sender: %w", err)
	}
	enc, sealer, err := s.Setup(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to set up HPKE context: %w", err)
	}
	ciphertext, err := sealer.Seal(plaintext, concat(enc, pkRBytes))
	if err != nil {
		return "", fmt.Errorf("failed to seal credential bundle: %w", err)
	}

	encPub, err := PublicKeyFromBytes(enc)
	if err != nil {
		return "", err
	}
	return EncodeBase58Check(concat(CompressedPublicKey(encPub), ciphertext)), nil
}

// EncodeBase58Check appends a 4-byte double SHA-256 checksum and encodes the
// result as base58.
func EncodeBase58Check(payload []byte) string {
	sum := doubleSHA256(payload)
	return base58.Encode(concat(payload, sum[:checksumLen]))
}

// DecodeBase58Check decodes a base58check string and verifies its checksum.
func DecodeBase58Check(s string) ([]byte, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	if len(raw) <= checksumLen {
		return nil, fmt.Errorf("%w: too short", ErrInvalidBundle)
	}

	payload, checksum := raw[:len(raw)-checksumLen], raw[len(raw)-checksumLen:]
	sum := doubleSHA256(payload)
	if !bytes.Equal(sum[:checksumLen], checksum) {
		return nil, ErrBundleChecksum
	}
	return payload, nil
}

func doubleSHA256(b []byte) [32]byte {
	first := sha256.Sum256(b)
	return sha256.Sum256(first[:])
}

func concat(parts ...[]byte) []byte {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
