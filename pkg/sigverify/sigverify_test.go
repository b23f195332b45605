package sigverify

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"testing"
)

func newKeyBody(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	body := base64.StdEncoding.EncodeToString(x509.MarshalPKCS1PublicKey(&key.PublicKey))
	return key, body
}

func sign(t *testing.T, key *rsa.PrivateKey, msg string) string {
	t.Helper()
	digest := sha256.Sum256([]byte(msg))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return base64.StdEncoding.EncodeToString(sig)
}

func TestVerifyRoundTrip(t *testing.T) {
	key, body := newKeyBody(t)
	msg := `{"tx_info":"rent","amount":"1.5","timestamp":1717000000}`

	if err := Verify(msg, body, sign(t, key, msg)); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	key, body := newKeyBody(t)
	sig := sign(t, key, "original message")

	if err := Verify("altered message", body, sig); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	key, _ := newKeyBody(t)
	_, otherBody := newKeyBody(t)

	if err := Verify("msg", otherBody, sign(t, key, "msg")); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	_, body := newKeyBody(t)

	if err := Verify("msg", "not base64 der", "c2ln"); !errors.Is(err, ErrMalformedPublicKey) {
		t.Fatalf("err = %v, want ErrMalformedPublicKey", err)
	}
	if err := Verify("msg", body, "%%%"); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}
