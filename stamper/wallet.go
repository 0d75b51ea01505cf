package stamper

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// WalletStamper signs request bodies as EIP-191 personal messages with a
// secp256k1 wallet key.
type WalletStamper struct {
	key       *ecdsa.PrivateKey
	publicKey string
}

// NewWalletStamper creates a stamper from a hex secp256k1 private key.
func NewWalletStamper(privateKeyHex string) (*WalletStamper, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to load wallet key: %w", err)
	}
	return &WalletStamper{
		key:       key,
		publicKey: hex.EncodeToString(ethcrypto.CompressPubkey(&key.PublicKey)),
	}, nil
}

// PublicKey returns the compressed hex secp256k1 public key.
func (s *WalletStamper) PublicKey() string {
	return s.publicKey
}

// Address returns the Ethereum address of the wallet key.
func (s *WalletStamper) Address() string {
	return ethcrypto.PubkeyToAddress(s.key.PublicKey).Hex()
}

// Stamp signs body and returns the X-Stamp header.
func (s *WalletStamper) Stamp(body []byte) (Stamp, error) {
	signature, err := ethcrypto.Sign(accounts.TextHash(body), s.key)
	if err != nil {
		return Stamp{}, fmt.Errorf("failed to sign request body: %w", err)
	}
	signature[recoveryIDIndex] += 27

	value, err := Payload{
		PublicKey: s.publicKey,
		Signature: hex.EncodeToString(signature),
		Scheme:    SchemeSecp256k1ERC191,
	}.Encode()
	if err != nil {
		return Stamp{}, err
	}

	return Stamp{HeaderName: HeaderName, HeaderValue: value}, nil
}

// recoveryIDIndex is the index of the recovery byte in a 65-byte signature.
const recoveryIDIndex = 64

// VerifyWalletStamp checks a wallet X-Stamp header against body and returns
// the compressed public key recovered from the signature.
func VerifyWalletStamp(headerValue string, body []byte) (string, error) {
	payload, err := Decode(headerValue)
	if err != nil {
		return "", err
	}
	if payload.Scheme != SchemeSecp256k1ERC191 {
		return "", fmt.Errorf("unsupported stamp scheme %q", payload.Scheme)
	}

	signature, err := hex.DecodeString(payload.Signature)
	if err != nil {
		return "", fmt.Errorf("invalid stamp signature: %w", err)
	}
	if len(signature) != 65 || signature[recoveryIDIndex] < 27 {
		return "", errors.New("invalid stamp signature length")
	}
	sig := append([]byte(nil), signature...)
	sig[recoveryIDIndex] -= 27

	pub, err := ethcrypto.SigToPub(accounts.TextHash(body), sig)
	if err != nil {
		return "", fmt.Errorf("failed to recover wallet key: %w", err)
	}
	recovered := hex.EncodeToString(ethcrypto.CompressPubkey(pub))
	if recovered != payload.PublicKey {
		return "", errors.New("stamp signature does not match public key")
	}
	return recovered, nil
}
