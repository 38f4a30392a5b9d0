package crypto_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getbeton/inspector-sub003/pkg/crypto"
)

func testKey() string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestCipher_RoundTrip(t *testing.T) {
	cipher, err := crypto.NewCipher(testKey())
	require.NoError(t, err)

	plaintext := "phx_super_secret_api_key"
	ciphertext, err := cipher.Encrypt(plaintext)
	require.NoError(t, err)
	assert.NotContains(t, ciphertext, plaintext)

	decrypted, err := cipher.Decrypt(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestCipher_NonDeterministicNonce(t *testing.T) {
	cipher, err := crypto.NewCipher(testKey())
	require.NoError(t, err)

	first, err := cipher.Encrypt("same input")
	require.NoError(t, err)
	second, err := cipher.Encrypt("same input")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestCipher_RejectsBadKey(t *testing.T) {
	_, err := crypto.NewCipher("not base64!!")
	assert.Error(t, err)

	_, err = crypto.NewCipher(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

func TestCipher_RejectsTamperedCiphertext(t *testing.T) {
	cipher, err := crypto.NewCipher(testKey())
	require.NoError(t, err)

	ciphertext, err := cipher.Encrypt("secret")
	require.NoError(t, err)

	_, err = cipher.Decrypt("v2:" + ciphertext[3:])
	assert.Error(t, err)

	_, err = cipher.Decrypt("v1:AAAA")
	assert.Error(t, err)
}
