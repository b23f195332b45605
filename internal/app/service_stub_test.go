package app

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/boxproject/box-appServer/pkg/agentclient"
)

// signer is a test identity holding a fresh RSA key pair in the client's
// wire format: the stored public key is the bare base64 PKCS#1 DER body and
// signatures are base64 SHA-256 PKCS#1 v1.5.
type signer struct {
	key    *rsa.PrivateKey
	pubKey string
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return &signer{
		key:    key,
		pubKey: base64.StdEncoding.EncodeToString(x509.MarshalPKCS1PublicKey(&key.PublicKey)),
	}
}

func (s *signer) sign(t *testing.T, msg string) string {
	t.Helper()
	digest := sha256.Sum256([]byte(msg))
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatalf("sign message: %v", err)
	}
	return base64.StdEncoding.EncodeToString(sig)
}

// stubGateway is a SettlementGateway double. Unset hooks report the agent
// as unreachable so tests only wire the calls they expect.
type stubGateway struct {
	flowStatus         func(hash string) (int, error)
	submitFlow         func(sub agentclient.FlowSubmission) error
	submitTransfer     func(sub agentclient.TransferSubmission) error
	submitRegistration func(sub agentclient.RegistrationSubmission) error
	coinList           func() ([]agentclient.CoinStatus, error)
	tokenList          func() ([]agentclient.TokenInfo, error)
	depositAddress     func() (*agentclient.DepositAddresses, error)
}

var errAgentUnreachable = errors.New("agent unreachable")

func (g *stubGateway) FlowStatus(ctx context.Context, hash string) (int, error) {
	if g.flowStatus == nil {
		return 0, errAgentUnreachable
	}
	return g.flowStatus(hash)
}

func (g *stubGateway) SubmitFlow(ctx context.Context, sub agentclient.FlowSubmission) error {
	if g.submitFlow == nil {
		return errAgentUnreachable
	}
	return g.submitFlow(sub)
}

func (g *stubGateway) SubmitTransfer(ctx context.Context, sub agentclient.TransferSubmission) error {
	if g.submitTransfer == nil {
		return errAgentUnreachable
	}
	return g.submitTransfer(sub)
}

func (g *stubGateway) SubmitRegistration(ctx context.Context, sub agentclient.RegistrationSubmission) error {
	if g.submitRegistration == nil {
		return errAgentUnreachable
	}
	return g.submitRegistration(sub)
}

func (g *stubGateway) CoinList(ctx context.Context) ([]agentclient.CoinStatus, error) {
	if g.coinList == nil {
		return nil, errAgentUnreachable
	}
	return g.coinList()
}

func (g *stubGateway) TokenList(ctx context.Context) ([]agentclient.TokenInfo, error) {
	if g.tokenList == nil {
		return nil, errAgentUnreachable
	}
	return g.tokenList()
}

func (g *stubGateway) DepositAddress(ctx context.Context) (*agentclient.DepositAddresses, error) {
	if g.depositAddress == nil {
		return nil, errAgentUnreachable
	}
	return g.depositAddress()
}
