/**
 * @description
 * This package verifies the RSA signatures every client request carries.
 * Clients hold a PKCS#1 RSA key pair; the account's public key is stored as
 * the bare base64 body of a PKCS#1 "RSA PUBLIC KEY" PEM block, and
 * signatures are base64-encoded SHA-256 PKCS#1 v1.5 over the raw message
 * bytes.
 *
 * @dependencies
 * - crypto/rsa, crypto/sha256, crypto/x509, encoding/base64, encoding/pem:
 *   Standard Go libraries.
 */
package sigverify

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"strings"
)

var (
	// ErrMalformedPublicKey is returned when the stored key body cannot be
	// reassembled into a valid PKCS#1 public key.
	ErrMalformedPublicKey = errors.New("sigverify: malformed public key")
	// ErrBadSignature is returned when the signature does not verify.
	ErrBadSignature = errors.New("sigverify: signature mismatch")
)

const pemLineWidth = 64

// ParsePublicKey reassembles a stored base64 key body into an RSA public
// key. The body is wrapped to 64-character lines and framed as a PKCS#1
// "RSA PUBLIC KEY" PEM block, which is the format the clients export.
func ParsePublicKey(body string) (*rsa.PublicKey, error) {
	var b strings.Builder
	b.WriteString("-----BEGIN RSA PUBLIC KEY-----\n")
	for len(body) > pemLineWidth {
		b.WriteString(body[:pemLineWidth])
		b.WriteByte('\n')
		body = body[pemLineWidth:]
	}
	b.WriteString(body)
	b.WriteString("\n-----END RSA PUBLIC KEY-----")

	block, _ := pem.Decode([]byte(b.String()))
	if block == nil {
		return nil, ErrMalformedPublicKey
	}
	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, ErrMalformedPublicKey
	}
	return key, nil
}

// Verify checks a base64 SHA-256 PKCS#1 v1.5 signature over msg against the
// stored key body. It returns nil only when the signature is valid.
func Verify(msg, pubKeyBody, signature string) error {
	key, err := ParsePublicKey(pubKeyBody)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	digest := sha256.Sum256([]byte(msg))
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig); err != nil {
		return ErrBadSignature
	}
	return nil
}
