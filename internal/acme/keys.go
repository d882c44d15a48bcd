package acme

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

const keyFileName = "private.key"

// GenerateKey generates a fresh ECDSA P-256 key for certificate orders.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("acme: failed to generate P-256 key: %w", err)
	}
	return key, nil
}

// GenerateAccountKey generates an ECDSA P-384 key for account registration.
func GenerateAccountKey() (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("acme: failed to generate P-384 key: %w", err)
	}
	return key, nil
}

// EncodeKeyPEM serializes an ECDSA private key as a PEM "EC PRIVATE KEY" block.
func EncodeKeyPEM(key *ecdsa.PrivateKey) (string, error) {
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("acme: failed to marshal EC private key: %w", err)
	}
	block := &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}
	return string(pem.EncodeToMemory(block)), nil
}

// DecodeKeyPEM parses a PEM "EC PRIVATE KEY" block produced by EncodeKeyPEM.
func DecodeKeyPEM(pemData string) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil || block.Type != "EC PRIVATE KEY" {
		return nil, fmt.Errorf("acme: no EC private key found in PEM data")
	}
	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("acme: failed to parse EC private key: %w", err)
	}
	return key, nil
}

// EncodeChainPEM serializes a DER certificate chain as concatenated PEM
// "CERTIFICATE" blocks, leaf first.
func EncodeChainPEM(der [][]byte) string {
	var b strings.Builder
	for _, cert := range der {
		pem.Encode(&b, &pem.Block{Type: "CERTIFICATE", Bytes: cert})
	}
	return b.String()
}

// Fingerprint returns the uppercase hex SHA-256 digest of s. Order and
// account identifiers are fingerprints of their provider location URLs.
func Fingerprint(s string) string {
	sum := sha256.Sum256([]byte(s))
	return strings.ToUpper(fmt.Sprintf("%x", sum))
}

// WriteOrderKey persists the domain private key of a completed order under
// <dir>/<orderID>/private.key. Any failure is reported as ErrKeyPersist.
func WriteOrderKey(dir string, orderID string, key *ecdsa.PrivateKey) (string, error) {
	keyDir := filepath.Join(dir, orderID)
	if err := os.MkdirAll(keyDir, 0o700); err != nil {
		return "", fmt.Errorf("%w: failed to create directory for order '%s': %w", ErrKeyPersist, orderID, err)
	}

	pemData, err := EncodeKeyPEM(key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrKeyPersist, err)
	}

	keyPath := filepath.Join(keyDir, keyFileName)
	if err := os.WriteFile(keyPath, []byte(pemData), 0o600); err != nil {
		return "", fmt.Errorf("%w: failed to write key for order '%s': %w", ErrKeyPersist, orderID, err)
	}

	logger.Info("Saved private key for order", zap.String("orderID", orderID), zap.String("path", keyPath))
	return keyPath, nil
}
