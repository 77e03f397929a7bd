package secrets

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	enc, err := New([]byte("test-key-material"))
	require.NoError(t, err)

	sealed, err := enc.Encrypt("hunter2")
	require.NoError(t, err)
	assert.True(t, IsEncrypted(sealed))
	assert.NotContains(t, sealed, "hunter2")

	plain, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestEncryptEmptyValue(t *testing.T) {
	enc, err := New([]byte("k"))
	require.NoError(t, err)

	sealed, err := enc.Encrypt("")
	require.NoError(t, err)
	assert.Equal(t, "", sealed)
}

func TestEncryptIsIdempotent(t *testing.T) {
	enc, err := New([]byte("k"))
	require.NoError(t, err)

	sealed, err := enc.Encrypt("secret")
	require.NoError(t, err)

	again, err := enc.Encrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, sealed, again)
}

func TestDecryptPlaintextPassthrough(t *testing.T) {
	enc, err := New([]byte("k"))
	require.NoError(t, err)

	plain, err := enc.Decrypt("legacy-unencrypted-value")
	require.NoError(t, err)
	assert.Equal(t, "legacy-unencrypted-value", plain)
}

func TestDecryptWrongKey(t *testing.T) {
	enc1, err := New([]byte("key-one"))
	require.NoError(t, err)
	enc2, err := New([]byte("key-two"))
	require.NoError(t, err)

	sealed, err := enc1.Encrypt("secret")
	require.NoError(t, err)

	_, err = enc2.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestDecryptTruncatedValue(t *testing.T) {
	enc, err := New([]byte("k"))
	require.NoError(t, err)

	_, err = enc.Decrypt("enc:v1:" + base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestGenerateKey(t *testing.T) {
	k1, err := GenerateKey()
	require.NoError(t, err)
	k2, err := GenerateKey()
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(k1)
	require.NoError(t, err)
	assert.Len(t, raw, 32)
	assert.NotEqual(t, k1, k2)
}

func TestNewRejectsEmptyKey(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}
