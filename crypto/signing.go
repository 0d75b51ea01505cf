// Package crypto provides the P-256 primitives used to authenticate Turnkey
// requests and to open session credential bundles.
//
// This package provides:
//   - P-256 key generation and hex (de)serialization
//   - ECDSA signing over SHA-256 with DER-encoded output
//   - HPKE (DHKEM P-256, HKDF-SHA256, AES-256-GCM) credential bundles
//
// # Signing
//
// Sign a request body for an API key stamp:
//
//	signature, err := crypto.SignWithECDSA(privateKey, body)
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Verification
//
// Verify a DER-encoded signature:
//
//	valid := crypto.VerifyECDSASignatureDER(publicKey, body, signature)
//
// # Credential bundles
//
// Decrypt a bundle addressed to an embedded key:
//
//	sessionKeyHex, err := crypto.DecryptCredentialBundle(bundle, embeddedPrivateKeyHex)
//	if err != nil {
//		log.Fatal(err)
//	}
package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/asn1"
	"fmt"
	"math/big"
)

// ECDSASignature represents an ECDSA signature for ASN.1 encoding
type ECDSASignature struct {
	R, S *big.Int
}

// SignWithECDSA signs data with an ECDSA private key using SHA256 and returns
// the DER encoding of the signature.
func SignWithECDSA(privateKey *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	hash := sha256.Sum256(data)

	r, s, err := ecdsa.Sign(rand.Reader, privateKey, hash[:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign with ECDSA: %w", err)
	}

	return MarshalECDSASignatureDER(r, s)
}

// MarshalECDSASignatureDER converts ECDSA signature components to DER format
func MarshalECDSASignatureDER(r, s *big.Int) ([]byte, error) {
	signature := ECDSASignature{R: r, S: s}
	return asn1.Marshal(signature)
}

// VerifyECDSASignatureDER reports whether signature is a valid DER-encoded
// ECDSA signature of SHA256(data) under publicKey.
func VerifyECDSASignatureDER(publicKey *ecdsa.PublicKey, data []byte, signature []byte) bool {
	if publicKey == nil {
		return false
	}

	var sig ECDSASignature
	rest, err := asn1.Unmarshal(signature, &sig)
	if err != nil || len(rest) != 0 || sig.R == nil || sig.S == nil {
		return false
	}

	hash := sha256.Sum256(data)
	return ecdsa.Verify(publicKey, hash[:], sig.R, sig.S)
}
