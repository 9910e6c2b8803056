package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-vault/pkg/vaulterr"
	"github.com/i5heu/ouroboros-vault/pkg/wallet"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// fakeNetwork plays the remote side of the exchange: it hands out a
// challenge, calls the signer and verifies what comes back.
type fakeNetwork struct {
	blockhash    string
	blockhashErr error
	sessionErr   error
	empty        bool

	gotRequest SessionRequest
	gotAuthSig AuthSig
	calls      int
}

func (f *fakeNetwork) LatestBlockhash(context.Context) (string, error) {
	return f.blockhash, f.blockhashErr
}

func (f *fakeNetwork) SessionSigs(
	ctx context.Context,
	req SessionRequest,
	signer AuthChallengeSigner,
) (json.RawMessage, error) {
	f.calls++
	f.gotRequest = req
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	sig, err := signer.SignChallenge(ctx, AuthCallbackParams{
		ResourceAbilityRequests: req.ResourceAbilityRequests,
		Expiration:              req.Expiration,
		URI:                     "lit:session:feedface",
	})
	if err != nil {
		return nil, err
	}
	f.gotAuthSig = sig
	if f.empty {
		return json.RawMessage(`{}`), nil
	}
	return json.RawMessage(`{"node-1":{"sig":"00"}}`), nil
}

type rejectingSigner struct{ wallet.Signer }

func (rejectingSigner) SignMessage(context.Context, []byte) ([]byte, error) {
	return nil, errors.New("user rejected the request")
}

func newAuthority(t *testing.T, net Network, now time.Time) *Authority {
	t.Helper()
	a, err := New(Config{Network: net, Domain: "vault.test", Clock: fixedClock{now}})
	require.NoError(t, err)
	return a
}

func TestGetCredential(t *testing.T) { // A
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	net := &fakeNetwork{blockhash: "0xblock"}
	signer, err := wallet.GenerateLocalSigner()
	require.NoError(t, err)
	addr, _ := signer.Address(context.Background())

	cred, err := newAuthority(t, net, now).GetCredential(
		context.Background(), signer, "ethereum", ExecuteAnyAction(),
	)
	require.NoError(t, err)

	assert.Equal(t, addr, cred.Address)
	assert.Equal(t, ExecuteAnyAction(), cred.Scope)
	assert.True(t, cred.Expiration.Equal(now.Add(DefaultTTL)))
	assert.False(t, cred.Expired(now))
	assert.True(t, cred.Expired(now.Add(DefaultTTL)))
	assert.JSONEq(t, `{"node-1":{"sig":"00"}}`, string(cred.SessionSigs))

	assert.Equal(t, "ethereum", net.gotRequest.Chain)
	assert.True(t, net.gotRequest.Expiration.Equal(now.Add(DefaultTTL)))

	msg, err := VerifyAuthSig(net.gotAuthSig)
	require.NoError(t, err)
	assert.Equal(t, "vault.test", msg.Domain)
	assert.Equal(t, "0xblock", msg.Nonce)
	assert.Equal(t, "lit:session:feedface", msg.URI)
	require.Len(t, msg.Resources, 1)
	granted, err := DecodeRecap(msg.Resources[0])
	require.NoError(t, err)
	assert.Equal(t, ExecuteAnyAction(), granted)
}

func TestGetCredentialFailures(t *testing.T) { // A
	now := time.Now()
	signer, err := wallet.GenerateLocalSigner()
	require.NoError(t, err)

	tests := []struct {
		name   string
		net    *fakeNetwork
		signer wallet.Signer
		scope  []ResourceAbilityRequest
	}{
		{"signer rejects", &fakeNetwork{blockhash: "0x1"}, rejectingSigner{signer}, ExecuteAnyAction()},
		{"network unreachable", &fakeNetwork{sessionErr: errors.New("dial tcp: connection refused")}, signer, ExecuteAnyAction()},
		{"blockhash fetch fails", &fakeNetwork{blockhashErr: errors.New("503")}, signer, ExecuteAnyAction()},
		{"empty blockhash", &fakeNetwork{}, signer, ExecuteAnyAction()},
		{"empty session set", &fakeNetwork{blockhash: "0x1", empty: true}, signer, ExecuteAnyAction()},
		{"no signer", &fakeNetwork{blockhash: "0x1"}, nil, ExecuteAnyAction()},
		{"no scope", &fakeNetwork{blockhash: "0x1"}, signer, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cred, err := newAuthority(t, tt.net, now).GetCredential(
				context.Background(), tt.signer, "ethereum", tt.scope,
			)
			assert.Nil(t, cred)
			require.Error(t, err)
			assert.ErrorIs(t, err, vaulterr.AuthFailure)
		})
	}
}

func TestNewValidatesConfig(t *testing.T) { // A
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoNetwork)

	_, err = New(Config{Network: &fakeNetwork{}, TTL: -time.Second})
	assert.ErrorIs(t, err, ErrNotFuture)

	a, err := New(Config{Network: &fakeNetwork{}})
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, a.ttl)
}

func TestSignChallengeRejectsStaleExpiration(t *testing.T) { // A
	signer, err := wallet.GenerateLocalSigner()
	require.NoError(t, err)
	now := time.Now()

	w := &WalletChallengeSigner{
		Signer: signer,
		Nonces: &fakeNetwork{blockhash: "0x1"},
		Clock:  fixedClock{now},
	}
	_, err = w.SignChallenge(context.Background(), AuthCallbackParams{
		URI:        "lit:session:1",
		Expiration: now.Add(-time.Minute),
	})
	assert.ErrorIs(t, err, ErrStaleChallenge)

	_, err = w.SignChallenge(context.Background(), AuthCallbackParams{
		Expiration: now.Add(time.Minute),
	})
	assert.ErrorIs(t, err, ErrNoURI)
}

func TestVerifyAuthSigDetectsForgery(t *testing.T) { // A
	signer, err := wallet.GenerateLocalSigner()
	require.NoError(t, err)
	other, err := wallet.GenerateLocalSigner()
	require.NoError(t, err)
	otherAddr, _ := other.Address(context.Background())

	w := &WalletChallengeSigner{Signer: signer, Nonces: &fakeNetwork{blockhash: "0x1"}}
	sig, err := w.SignChallenge(context.Background(), AuthCallbackParams{
		URI:                     "lit:session:1",
		Expiration:              time.Now().Add(time.Hour),
		ResourceAbilityRequests: ExecuteAnyAction(),
	})
	require.NoError(t, err)

	_, err = VerifyAuthSig(sig)
	require.NoError(t, err)

	forged := sig
	forged.Address = otherAddr
	_, err = VerifyAuthSig(forged)
	assert.Error(t, err)

	tampered := sig
	tampered.SignedMessage += "\n- urn:recap:extra"
	_, err = VerifyAuthSig(tampered)
	assert.Error(t, err)
}
