package acme_test

import (
	"crypto/elliptic"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codebuckets/acmemanager/internal/acme"
)

func TestGenerateKeyCurves(t *testing.T) {
	domainKey, err := acme.GenerateKey()
	require.NoError(t, err)
	assert.Equal(t, elliptic.P256(), domainKey.Curve)

	accountKey, err := acme.GenerateAccountKey()
	require.NoError(t, err)
	assert.Equal(t, elliptic.P384(), accountKey.Curve)
}

func TestKeyPEMRoundTrip(t *testing.T) {
	key, err := acme.GenerateAccountKey()
	require.NoError(t, err)

	pemData, err := acme.EncodeKeyPEM(key)
	require.NoError(t, err)
	assert.Contains(t, pemData, "EC PRIVATE KEY")

	restored, err := acme.DecodeKeyPEM(pemData)
	require.NoError(t, err)
	assert.True(t, key.Equal(restored))
}

func TestDecodeKeyPEMRejectsGarbage(t *testing.T) {
	_, err := acme.DecodeKeyPEM("not a key")
	assert.Error(t, err)

	_, err = acme.DecodeKeyPEM("-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n")
	assert.Error(t, err)
}

func TestFingerprint(t *testing.T) {
	// SHA-256("hello"), uppercase hex.
	assert.Equal(t,
		"2CF24DBA5FB0A30E26E83B2AC5B9E29E1B161E5C1FA7425E73043362938B9824",
		acme.Fingerprint("hello"))
	assert.Len(t, acme.Fingerprint("https://example.org/acme/order/1"), 64)
}

func TestWriteOrderKey(t *testing.T) {
	dir := t.TempDir()
	key, err := acme.GenerateKey()
	require.NoError(t, err)

	path, err := acme.WriteOrderKey(dir, "ORDER123", key)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ORDER123", "private.key"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	restored, err := acme.DecodeKeyPEM(string(data))
	require.NoError(t, err)
	assert.True(t, key.Equal(restored))
}

func TestWriteOrderKeyReportsKeyPersist(t *testing.T) {
	dir := t.TempDir()

	// Occupy the order directory path with a file so MkdirAll fails.
	blocker := filepath.Join(dir, "ORDER123")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	key, err := acme.GenerateKey()
	require.NoError(t, err)

	_, err = acme.WriteOrderKey(dir, "ORDER123", key)
	require.Error(t, err)
	assert.ErrorIs(t, err, acme.ErrKeyPersist)
}
