package crypto

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2", 1000)
	require.NoError(t, err)

	got, err := DecryptKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = DecryptKey(blob, "wrong")
	assert.ErrorContains(t, err, "decryption failed")
}

func TestEncryptKey_Rejects(t *testing.T) {
	_, err := EncryptKey(testKey, "", 1000)
	assert.Error(t, err)
	_, err = EncryptKey("abcd", "pw", 1000)
	assert.ErrorContains(t, err, "expected 32-byte key")
	_, err = EncryptKey("zz", "pw", 1000)
	assert.ErrorContains(t, err, "invalid private key hex")
}

func TestLoadKey(t *testing.T) {
	got, err := LoadKey(KeyConfig{RawPrivateKey: " 0x" + testKey + "\n"})
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	blob, err := EncryptKey(testKey, "pw", 1000)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "treasury.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, testKey, got)

	_, err = LoadKey(KeyConfig{})
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestDecryptKey_BadFile(t *testing.T) {
	_, err := DecryptKey([]byte(`{"version":1}`), "pw")
	assert.ErrorContains(t, err, "unsupported key file version")
	_, err = DecryptKey([]byte(`not json`), "pw")
	assert.Error(t, err)
}
