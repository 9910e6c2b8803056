package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-vault/pkg/acc"
	"github.com/i5heu/ouroboros-vault/pkg/session"
	"github.com/i5heu/ouroboros-vault/pkg/vaulterr"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type fakeCapability struct {
	encReq  EncryptRequest
	decReq  DecryptRequest
	encResp EncryptResponse
	decResp DecryptResponse
	err     error
}

func (f *fakeCapability) Encrypt(_ context.Context, req EncryptRequest) (EncryptResponse, error) {
	f.encReq = req
	return f.encResp, f.err
}

func (f *fakeCapability) Decrypt(_ context.Context, req DecryptRequest) (DecryptResponse, error) {
	f.decReq = req
	return f.decResp, f.err
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newGateway(t *testing.T, f *fakeCapability) *Gateway {
	t.Helper()
	g, err := New(Config{Capability: f, Clock: fixedClock{testNow}})
	require.NoError(t, err)
	return g
}

func conds() []acc.Condition {
	return []acc.Condition{acc.WalletOwner("polygon", "0xAbC0000000000000000000000000000000000001")}
}

func credential(exp time.Time) *session.Credential {
	return &session.Credential{
		Expiration:  exp,
		Address:     "0xAbC0000000000000000000000000000000000001",
		SessionSigs: json.RawMessage(`{"node":{"sig":"0x00"}}`),
	}
}

func TestNewRequiresCapability(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoCapability)
}

func TestEncryptPassesConditionsVerbatim(t *testing.T) {
	f := &fakeCapability{encResp: EncryptResponse{Ciphertext: "c1", DataToEncryptHash: "h1"}}
	g := newGateway(t, f)

	ct, hash, err := g.Encrypt(context.Background(), "hello-world", conds())
	require.NoError(t, err)
	assert.Equal(t, "c1", ct)
	assert.Equal(t, "h1", hash)
	assert.Equal(t, []byte("hello-world"), f.encReq.DataToEncrypt)
	assert.Equal(t, "polygon", f.encReq.Chain)
	assert.True(t, acc.EqualList(conds(), f.encReq.AccessControlConditions))
	assert.Equal(t, acc.UserAddress, f.encReq.AccessControlConditions[0].Parameters[0])
}

func TestEncryptFailures(t *testing.T) {
	f := &fakeCapability{err: errors.New("node unreachable")}
	g := newGateway(t, f)
	_, _, err := g.Encrypt(context.Background(), "x", conds())
	assert.ErrorIs(t, err, vaulterr.EncryptionFailure)

	f = &fakeCapability{encResp: EncryptResponse{Ciphertext: "c1"}}
	g = newGateway(t, f)
	_, _, err = g.Encrypt(context.Background(), "x", conds())
	assert.ErrorIs(t, err, vaulterr.EncryptionFailure)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestEncryptRejectsPlaintextThatCannotBeDecrypted(t *testing.T) {
	f := &fakeCapability{encResp: EncryptResponse{Ciphertext: "c1", DataToEncryptHash: "h1"}}
	g := newGateway(t, f)

	_, _, err := g.Encrypt(context.Background(), "caf\xe9", conds())
	assert.ErrorIs(t, err, vaulterr.EncryptionFailure)
	assert.ErrorIs(t, err, ErrBadPlaintext)
	assert.Nil(t, f.encReq.DataToEncrypt, "capability must not be called")
}

func TestDecrypt(t *testing.T) {
	f := &fakeCapability{decResp: DecryptResponse{DecryptedData: []byte("hello-world")}}
	g := newGateway(t, f)
	cred := credential(testNow.Add(time.Hour))

	pt, err := g.Decrypt(context.Background(), "c1", "h1", conds(), cred)
	require.NoError(t, err)
	assert.Equal(t, "hello-world", pt)
	assert.Equal(t, "c1", f.decReq.Ciphertext)
	assert.Equal(t, "h1", f.decReq.DataToEncryptHash)
	assert.JSONEq(t, string(cred.SessionSigs), string(f.decReq.SessionSigs))
}

func TestDecryptFailures(t *testing.T) {
	tests := []struct {
		name string
		cap  *fakeCapability
		cred *session.Credential
		want error
	}{
		{"no credential", &fakeCapability{}, nil, ErrNoCredential},
		{"expired credential", &fakeCapability{}, credential(testNow), ErrExpired},
		{"remote refusal", &fakeCapability{err: errors.New("access_denied")}, credential(testNow.Add(time.Hour)), nil},
		{"invalid utf8", &fakeCapability{decResp: DecryptResponse{DecryptedData: []byte{0xff, 0xfe}}}, credential(testNow.Add(time.Hour)), ErrNotUTF8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGateway(t, tt.cap)
			pt, err := g.Decrypt(context.Background(), "c1", "h1", conds(), tt.cred)
			require.Error(t, err)
			assert.Empty(t, pt)
			assert.ErrorIs(t, err, vaulterr.DecryptionFailure)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}
