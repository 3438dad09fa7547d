// Package keyfile loads the PKCS#1 PEM-encoded RSA keys the protocol's
// trust anchor is built on (SPEC_FULL.md §9): a private key file on the
// server, a public key file on every node and client. There is no
// ecosystem codec for this in the example corpus beyond the standard
// library's own encoding/pem and crypto/x509, which is what this package
// wraps directly.
package keyfile

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// ReadPrivateKey loads a PKCS#1 PEM-encoded RSA private key, as the server
// reads from its CERT path.
func ReadPrivateKey(path string) (*rsa.PrivateKey, error) {
	der, err := readPEM(path, "RSA PRIVATE KEY")
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("keyfile: parse private key %s: %w", path, err)
	}
	return key, nil
}

// ReadPublicKey loads a PKCS#1 PEM-encoded RSA public key, as every node
// and client pre-installs from its CERT path to anchor trust in the server.
func ReadPublicKey(path string) (*rsa.PublicKey, error) {
	der, err := readPEM(path, "RSA PUBLIC KEY")
	if err != nil {
		return nil, err
	}
	key, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("keyfile: parse public key %s: %w", path, err)
	}
	return key, nil
}

func readPEM(path, wantType string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keyfile: read %s: %w", path, err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("keyfile: %s: no PEM block found", path)
	}
	if block.Type != wantType {
		return nil, fmt.Errorf("keyfile: %s: want PEM type %q, got %q", path, wantType, block.Type)
	}
	return block.Bytes, nil
}
