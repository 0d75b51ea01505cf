// Package stamper produces the authentication headers Turnkey expects on
// every request.
//
// A stamp is computed over the exact request body bytes that are sent on the
// wire, so the body must be serialized once and reused for both stamping and
// transmission.
//
// # Usage
//
// Stamp with an API key loaded from disk or decrypted from a session bundle:
//
//	st, err := stamper.NewAPIKeyStamperFromHex(publicKeyHex, privateKeyHex)
//	if err != nil {
//		log.Fatal(err)
//	}
//	stamp, err := st.Stamp(body)
//	req.Header.Set(stamp.HeaderName, stamp.HeaderValue)
//
// Wallet and passkey stampers sign with other credentials; anything that can
// produce a header can be adapted with Func.
package stamper

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

const (
	// HeaderName is the header carrying API key and wallet stamps.
	HeaderName = "X-Stamp"

	// WebauthnHeaderName is the header carrying passkey assertions.
	WebauthnHeaderName = "X-Stamp-Webauthn"

	SchemeAPIP256         = "SIGNATURE_SCHEME_TK_API_P256"
	SchemeSecp256k1ERC191 = "SIGNATURE_SCHEME_TK_API_SECP256K1_ERC191"
)

// Stamp is a single authentication header.
type Stamp struct {
	HeaderName  string
	HeaderValue string
}

// Stamper computes a stamp over a serialized request body.
type Stamper interface {
	Stamp(body []byte) (Stamp, error)
}

// Func adapts a plain function to the Stamper interface.
type Func func(body []byte) (Stamp, error)

// Stamp calls f(body).
func (f Func) Stamp(body []byte) (Stamp, error) {
	return f(body)
}

// Payload is the JSON document carried (base64url encoded) in X-Stamp.
type Payload struct {
	PublicKey string `json:"publicKey"`
	Signature string `json:"signature"`
	Scheme    string `json:"scheme"`
}

// Encode returns the base64url header value for the payload.
func (p Payload) Encode() (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal stamp: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Decode parses an X-Stamp header value.
func Decode(headerValue string) (*Payload, error) {
	raw, err := base64.RawURLEncoding.DecodeString(headerValue)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stamp: %w", err)
	}

	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stamp: %w", err)
	}
	return &p, nil
}
