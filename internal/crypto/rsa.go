// Package crypto encrypts the portal password with the portal-supplied RSA
// public key. The portal expects RSA PKCS#1 v1.5 over the UTF-8 password,
// base64-encoded, in the login form's password field.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidPublicKey means the PEM text could not be decoded into an
	// RSA public key.
	ErrInvalidPublicKey = errors.New("crypto: invalid RSA public key")

	// ErrPlaintextTooLong means the password does not fit a single PKCS#1
	// v1.5 block for the given modulus size. The portal key is 1024-bit or
	// larger, so this only trips on absurd inputs.
	ErrPlaintextTooLong = errors.New("crypto: plaintext exceeds RSA block capacity")
)

// ParsePublicKey decodes a PEM-encoded X.509 SubjectPublicKeyInfo RSA key.
// The portal sometimes ships the key without proper PEM line wrapping, so a
// failed pem.Decode falls back to stripping the markers by hand.
func ParsePublicKey(pemText string) (*rsa.PublicKey, error) {
	var der []byte
	if block, _ := pem.Decode([]byte(pemText)); block != nil {
		der = block.Bytes
	} else {
		clean := strings.NewReplacer(
			"-----BEGIN PUBLIC KEY-----", "",
			"-----END PUBLIC KEY-----", "",
			"\r", "", "\n", "", "\t", "", " ", "",
		).Replace(pemText)
		decoded, err := base64.StdEncoding.DecodeString(clean)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
		der = decoded
	}

	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidPublicKey)
	}
	return pub, nil
}

// EncryptPassword encrypts password with the PEM public key using PKCS#1
// v1.5 padding and returns the base64 ciphertext. Single block, no chunking:
// the caller guarantees the password fits one RSA block.
func EncryptPassword(password, publicKeyPEM string) (string, error) {
	pub, err := ParsePublicKey(publicKeyPEM)
	if err != nil {
		return "", err
	}
	if len(password) > pub.Size()-11 {
		return "", ErrPlaintextTooLong
	}
	out, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(password))
	if err != nil {
		return "", fmt.Errorf("crypto: rsa encrypt: %w", err)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}
