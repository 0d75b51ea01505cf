package crypto

import (
	"crypto/ecdsa"
	"encoding/asn1"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fixed scalar for deterministic key derivation (NOT FOR PRODUCTION USE)
const testPrivateKeyHex = "c9806898a0334916c860748880a541f093b579a9b1f32934d86c363c39800357"

func getTestKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := PrivateKeyFromHex(testPrivateKeyHex)
	require.NoError(t, err)
	return key
}

func TestSignWithECDSA(t *testing.T) {
	key := getTestKey(t)
	data := []byte("test data")

	t.Run("successful signing", func(t *testing.T) {
		signature, err := SignWithECDSA(key, data)
		require.NoError(t, err)
		assert.NotEmpty(t, signature)

		var sig ECDSASignature
		_, err = asn1.Unmarshal(signature, &sig)
		assert.NoError(t, err)
	})

	t.Run("nil key panics", func(t *testing.T) {
		require.Panics(t, func() {
			_, _ = SignWithECDSA(nil, data)
		})
	})

	t.Run("empty data succeeds", func(t *testing.T) {
		signature, err := SignWithECDSA(key, []byte{})
		assert.NoError(t, err)
		assert.NotEmpty(t, signature)
	})
}

func TestMarshalECDSASignatureDER(t *testing.T) {
	tests := []struct {
		name    string
		r, s    *big.Int
		wantErr bool
	}{
		{"valid values", big.NewInt(12345), big.NewInt(67890), false},
		{"zero values", big.NewInt(0), big.NewInt(0), false},
		{"nil values", nil, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			derSig, err := MarshalECDSASignatureDER(tt.r, tt.s)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)

			var sig ECDSASignature
			_, err = asn1.Unmarshal(derSig, &sig)
			assert.NoError(t, err)
			assert.Equal(t, 0, tt.r.Cmp(sig.R))
		})
	}
}

func TestVerifyECDSASignatureDER(t *testing.T) {
	key := getTestKey(t)
	data := []byte("test data")

	sig, err := SignWithECDSA(key, data)
	require.NoError(t, err)

	t.Run("valid signature", func(t *testing.T) {
		assert.True(t, VerifyECDSASignatureDER(&key.PublicKey, data, sig))
	})

	t.Run("wrong data", func(t *testing.T) {
		assert.False(t, VerifyECDSASignatureDER(&key.PublicKey, []byte("wrong"), sig))
	})

	t.Run("wrong key", func(t *testing.T) {
		other, err := GenerateP256Key()
		require.NoError(t, err)
		assert.False(t, VerifyECDSASignatureDER(&other.PublicKey, data, sig))
	})

	t.Run("corrupted signature", func(t *testing.T) {
		bad := append([]byte(nil), sig...)
		bad[len(bad)-1] ^= 0xFF
		assert.False(t, VerifyECDSASignatureDER(&key.PublicKey, data, bad))
	})

	t.Run("not DER", func(t *testing.T) {
		assert.False(t, VerifyECDSASignatureDER(&key.PublicKey, data, []byte("short")))
	})

	t.Run("trailing bytes", func(t *testing.T) {
		assert.False(t, VerifyECDSASignatureDER(&key.PublicKey, data, append(append([]byte(nil), sig...), 0x00)))
	})

	t.Run("nil public key", func(t *testing.T) {
		assert.False(t, VerifyECDSASignatureDER(nil, data, sig))
	})
}

func TestSignAndVerifyIntegration(t *testing.T) {
	key := getTestKey(t)
	testData := [][]byte{
		{},
		[]byte("Hello, World!"),
		make([]byte, 1000),
	}

	for _, data := range testData {
		derSig, err := SignWithECDSA(key, data)
		require.NoError(t, err)

		assert.True(t, VerifyECDSASignatureDER(&key.PublicKey, data, derSig))
		assert.False(t, VerifyECDSASignatureDER(&key.PublicKey, append(data, 'x'), derSig))
	}
}

func BenchmarkSignWithECDSA(b *testing.B) {
	key, err := GenerateP256Key()
	require.NoError(b, err)
	data := []byte(`{"organizationId":"org","type":"ACTIVITY_TYPE_SIGN_RAW_PAYLOAD_V2"}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = SignWithECDSA(key, data)
	}
}
