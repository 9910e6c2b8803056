package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-vault/pkg/acc"
	"github.com/i5heu/ouroboros-vault/pkg/envelope"
	"github.com/i5heu/ouroboros-vault/pkg/session"
	"github.com/i5heu/ouroboros-vault/pkg/store"
	"github.com/i5heu/ouroboros-vault/pkg/vaulterr"
	"github.com/i5heu/ouroboros-vault/pkg/wallet"
)

const (
	addrABC = "0xAbC0000000000000000000000000000000000001"
	addrDEF = "0xdEf0000000000000000000000000000000000002"
)

// fakeSigner only reports an address; the fake authority never asks it to
// sign anything.
type fakeSigner struct{ address string }

func (f fakeSigner) Address(context.Context) (string, error) { return f.address, nil }

func (f fakeSigner) SignMessage(context.Context, []byte) ([]byte, error) {
	return nil, errors.New("not used")
}

type fakeAuthority struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeAuthority) GetCredential(
	ctx context.Context,
	signer wallet.Signer,
	chain string,
	scope []session.ResourceAbilityRequest,
) (*session.Credential, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	address, _ := signer.Address(ctx)
	return &session.Credential{
		Scope:       scope,
		Expiration:  time.Now().Add(time.Hour),
		Address:     address,
		SessionSigs: json.RawMessage(fmt.Sprintf(`{"addr":%q}`, address)),
	}, nil
}

// fakeNetwork emulates the threshold network and the storage network in
// memory. Only the :userAddress = <address> predicate is evaluated.
type fakeNetwork struct {
	mu       sync.Mutex
	seq      int
	blobs    map[string]envelope.Envelope
	plain    map[string]string
	encCalls int
	decCalls int
	putCalls int
	getCalls int
	encErr   error
	putErr   error
	getErr   error
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{blobs: map[string]envelope.Envelope{}, plain: map[string]string{}}
}

func (f *fakeNetwork) Encrypt(_ context.Context, plaintext string, conds []acc.Condition) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.encCalls++
	if f.encErr != nil {
		return "", "", f.encErr
	}
	f.seq++
	ct := fmt.Sprintf("ct-%d", f.seq)
	f.plain[ct] = plaintext
	return ct, "hash-of-" + plaintext, nil
}

func (f *fakeNetwork) Decrypt(
	_ context.Context,
	cipherText, hash string,
	conds []acc.Condition,
	cred *session.Credential,
) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decCalls++
	pt, ok := f.plain[cipherText]
	if !ok || hash != "hash-of-"+pt {
		return "", vaulterr.New(vaulterr.DecryptionFailure, "fake.decrypt", errors.New("integrity"))
	}
	for _, c := range conds {
		if !wallet.EqualAddress(c.ReturnValueTest.Value, cred.Address) {
			return "", vaulterr.New(vaulterr.DecryptionFailure, "fake.decrypt", errors.New("access denied"))
		}
	}
	return pt, nil
}

func (f *fakeNetwork) Put(_ context.Context, env envelope.Envelope) (store.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putCalls++
	if f.putErr != nil {
		return store.Receipt{}, f.putErr
	}
	id := fmt.Sprintf("tx%d", 123+len(f.blobs))
	f.blobs[id] = env
	return store.Receipt{ID: id}, nil
}

func (f *fakeNetwork) Get(_ context.Context, id string) (envelope.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	if f.getErr != nil {
		return envelope.Envelope{}, f.getErr
	}
	env, ok := f.blobs[id]
	if !ok {
		return envelope.Envelope{}, vaulterr.New(vaulterr.NotFound, "fake.get", errors.New("404"))
	}
	return env, nil
}

type recorder struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *recorder) observe(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *recorder) states(flow Flow) []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []State
	for _, t := range r.transitions {
		if t.Flow == flow {
			out = append(out, t.To)
		}
	}
	return out
}

func (r *recorder) last() Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitions[len(r.transitions)-1]
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newVault(t *testing.T, net *fakeNetwork, auth *fakeAuthority, rec *recorder) *Vault {
	t.Helper()
	v, err := New(Config{
		Gateway:   net,
		Store:     net,
		Authority: auth,
		Logger:    quietLogger(),
		Observer:  rec.observe,
	})
	require.NoError(t, err)
	return v
}

func exampleConds(address string) []acc.Condition {
	return []acc.Condition{{
		ContractAddress:      "",
		StandardContractType: "",
		Chain:                "ethereum",
		Method:               "",
		Parameters:           []string{acc.UserAddress},
		ReturnValueTest:      &acc.ReturnValueTest{Comparator: "=", Value: address},
	}}
}

func TestNewRequiresCollaborators(t *testing.T) {
	net := newFakeNetwork()
	_, err := New(Config{Store: net, Authority: &fakeAuthority{}})
	assert.ErrorIs(t, err, ErrNoGateway)
	_, err = New(Config{Gateway: net, Authority: &fakeAuthority{}})
	assert.ErrorIs(t, err, ErrNoStore)
	_, err = New(Config{Gateway: net, Store: net})
	assert.ErrorIs(t, err, ErrNoAuthority)
}

func TestWorkedExample(t *testing.T) {
	net, auth, rec := newFakeNetwork(), &fakeAuthority{}, &recorder{}
	v := newVault(t, net, auth, rec)
	ctx := context.Background()

	art, err := v.Store(ctx, "hello-world", exampleConds(addrABC))
	require.NoError(t, err)
	assert.Equal(t, "tx123", art.IrysTxID)
	assert.Equal(t, "hash-of-hello-world", art.DataToEncryptHash)
	assert.Equal(t, []State{Validating, Encrypting, Uploading, Done}, rec.states(FlowStore))

	pt, err := v.Retrieve(ctx, fakeSigner{addrABC}, art)
	require.NoError(t, err)
	assert.Equal(t, "hello-world", pt)
	assert.Equal(t, []State{Authorizing, Fetching, Decrypting, Done}, rec.states(FlowRetrieve))

	pt, err = v.Retrieve(ctx, fakeSigner{addrDEF}, art)
	require.Error(t, err)
	assert.Empty(t, pt)
	assert.ErrorIs(t, err, vaulterr.DecryptionFailure)
	last := rec.last()
	assert.Equal(t, Failed, last.To)
	assert.Equal(t, Decrypting, last.From)
	assert.Equal(t, vaulterr.DecryptionFailure, last.Kind)
	assert.Contains(t, last.Reason, "DecryptionFailure")
}

func TestValidationGateMakesNoCalls(t *testing.T) {
	missingTest := exampleConds(addrABC)
	missingTest[0].ReturnValueTest = nil

	badComparator := exampleConds(addrABC)
	badComparator[0].ReturnValueTest.Comparator = "!="

	emptyChain := exampleConds(addrABC)
	emptyChain[0].Chain = ""

	cases := map[string]struct {
		data  string
		conds []acc.Condition
	}{
		"empty list":          {"p", nil},
		"missing test":        {"p", missingTest},
		"bad comparator":      {"p", badComparator},
		"empty plaintext":     {"", exampleConds(addrABC)},
		"plaintext not utf-8": {"caf\xe9", exampleConds(addrABC)},
		"empty chain":         {"p", emptyChain},
		"empty parameter set": {"p", []acc.Condition{{Chain: "ethereum", ReturnValueTest: &acc.ReturnValueTest{Comparator: "=", Value: "x"}}}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			net, auth, rec := newFakeNetwork(), &fakeAuthority{}, &recorder{}
			v := newVault(t, net, auth, rec)

			_, err := v.Store(context.Background(), tc.data, tc.conds)
			require.Error(t, err)
			assert.ErrorIs(t, err, vaulterr.InvalidCondition)
			assert.Zero(t, net.encCalls)
			assert.Zero(t, net.putCalls)
			assert.Equal(t, []State{Validating, Failed}, rec.states(FlowStore))
		})
	}
}

func TestStoreFailures(t *testing.T) {
	t.Run("encryption", func(t *testing.T) {
		net, rec := newFakeNetwork(), &recorder{}
		net.encErr = errors.New("node unreachable")
		v := newVault(t, net, &fakeAuthority{}, rec)

		_, err := v.Store(context.Background(), "p", exampleConds(addrABC))
		assert.ErrorIs(t, err, vaulterr.EncryptionFailure)
		assert.Zero(t, net.putCalls)
		assert.Equal(t, []State{Validating, Encrypting, Failed}, rec.states(FlowStore))
	})

	t.Run("upload", func(t *testing.T) {
		net, rec := newFakeNetwork(), &recorder{}
		net.putErr = vaulterr.New(vaulterr.UploadFailure, "fake.put", errors.New("502"))
		v := newVault(t, net, &fakeAuthority{}, rec)

		art, err := v.Store(context.Background(), "p", exampleConds(addrABC))
		assert.ErrorIs(t, err, vaulterr.UploadFailure)
		assert.Empty(t, art.IrysTxID)
		assert.Equal(t, []State{Validating, Encrypting, Uploading, Failed}, rec.states(FlowStore))
	})
}

func TestRetrieveFailures(t *testing.T) {
	t.Run("auth", func(t *testing.T) {
		net, rec := newFakeNetwork(), &recorder{}
		auth := &fakeAuthority{err: vaulterr.New(vaulterr.AuthFailure, "fake", errors.New("user rejected"))}
		v := newVault(t, net, auth, rec)

		_, err := v.Retrieve(context.Background(), fakeSigner{addrABC}, envelope.Artifact{IrysTxID: "tx123"})
		assert.ErrorIs(t, err, vaulterr.AuthFailure)
		assert.Zero(t, net.getCalls)
		assert.Zero(t, net.decCalls)
		assert.Equal(t, []State{Authorizing, Failed}, rec.states(FlowRetrieve))
	})

	t.Run("not found", func(t *testing.T) {
		net, rec := newFakeNetwork(), &recorder{}
		v := newVault(t, net, &fakeAuthority{}, rec)

		_, err := v.Retrieve(context.Background(), fakeSigner{addrABC}, envelope.Artifact{IrysTxID: "nope"})
		assert.ErrorIs(t, err, vaulterr.NotFound)
		assert.Zero(t, net.decCalls)
		assert.Equal(t, []State{Authorizing, Fetching, Failed}, rec.states(FlowRetrieve))
	})

	t.Run("malformed", func(t *testing.T) {
		net, rec := newFakeNetwork(), &recorder{}
		net.getErr = vaulterr.New(vaulterr.MalformedEnvelope, "envelope.unmarshal", errors.New("missing cipherText"))
		v := newVault(t, net, &fakeAuthority{}, rec)

		_, err := v.Retrieve(context.Background(), fakeSigner{addrABC}, envelope.Artifact{IrysTxID: "tx123"})
		assert.ErrorIs(t, err, vaulterr.MalformedEnvelope)
		assert.Zero(t, net.decCalls)
	})

	t.Run("reference mismatch", func(t *testing.T) {
		net, rec := newFakeNetwork(), &recorder{}
		v := newVault(t, net, &fakeAuthority{}, rec)
		art, err := v.Store(context.Background(), "p", exampleConds(addrABC))
		require.NoError(t, err)

		wrongHash := art
		wrongHash.DataToEncryptHash = "other"
		_, err = v.Retrieve(context.Background(), fakeSigner{addrABC}, wrongHash)
		assert.ErrorIs(t, err, vaulterr.DecryptionFailure)
		assert.ErrorIs(t, err, ErrRefMismatch)

		wrongConds := art
		wrongConds.AccessControlConditions = exampleConds(addrDEF)
		_, err = v.Retrieve(context.Background(), fakeSigner{addrDEF}, wrongConds)
		assert.ErrorIs(t, err, ErrRefMismatch)
		assert.Zero(t, net.decCalls)
	})
}

func TestStoreDoesNotDeduplicate(t *testing.T) {
	net, rec := newFakeNetwork(), &recorder{}
	v := newVault(t, net, &fakeAuthority{}, rec)
	ctx := context.Background()

	a, err := v.Store(ctx, "same", exampleConds(addrABC))
	require.NoError(t, err)
	b, err := v.Store(ctx, "same", exampleConds(addrABC))
	require.NoError(t, err)
	assert.NotEqual(t, a.IrysTxID, b.IrysTxID)
	assert.NotEqual(t, net.blobs[a.IrysTxID].CipherText, net.blobs[b.IrysTxID].CipherText)

	for _, art := range []envelope.Artifact{a, b} {
		pt, err := v.Retrieve(ctx, fakeSigner{addrABC}, art)
		require.NoError(t, err)
		assert.Equal(t, "same", pt)
	}
}

func TestStoreCopiesConditions(t *testing.T) {
	net, rec := newFakeNetwork(), &recorder{}
	v := newVault(t, net, &fakeAuthority{}, rec)

	conds := exampleConds(addrABC)
	art, err := v.Store(context.Background(), "p", conds)
	require.NoError(t, err)

	conds[0].ReturnValueTest.Value = addrDEF
	assert.Equal(t, addrABC, art.AccessControlConditions[0].ReturnValueTest.Value)
	assert.Equal(t, addrABC, net.blobs[art.IrysTxID].AccessControlConditions[0].ReturnValueTest.Value)
}

func TestRetrieveIssuesFreshCredentialEachCall(t *testing.T) {
	net, auth, rec := newFakeNetwork(), &fakeAuthority{}, &recorder{}
	v := newVault(t, net, auth, rec)
	ctx := context.Background()

	art, err := v.Store(ctx, "p", exampleConds(addrABC))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := v.Retrieve(ctx, fakeSigner{addrABC}, art)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, auth.calls)
}

func TestConcurrentFlowsAreIndependent(t *testing.T) {
	net, rec := newFakeNetwork(), &recorder{}
	v := newVault(t, net, &fakeAuthority{}, rec)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data := fmt.Sprintf("payload-%d", i)
			art, err := v.Store(ctx, data, exampleConds(addrABC))
			if err != nil {
				errs <- err
				return
			}
			pt, err := v.Retrieve(ctx, fakeSigner{addrABC}, art)
			if err != nil {
				errs <- err
				return
			}
			if pt != data {
				errs <- fmt.Errorf("got %q, want %q", pt, data)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Authorizing", Authorizing.String())
	assert.Equal(t, "Failed", Failed.String())
	assert.Equal(t, "unknown", State(99).String())
}
