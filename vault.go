/*
Package vault stores data encrypted under access control conditions in a
content-addressed network and retrieves it for anyone who satisfies them.

Two flows are provided. Store encrypts a payload through the threshold
network and uploads the resulting envelope; the returned Artifact is the
only way to ever find the data again. Retrieve obtains a fresh session
credential for a wallet, fetches the envelope and asks the threshold
network to decrypt it. Each flow is a short linear state machine whose
transitions can be observed.
*/
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/i5heu/ouroboros-vault/pkg/acc"
	"github.com/i5heu/ouroboros-vault/pkg/envelope"
	"github.com/i5heu/ouroboros-vault/pkg/session"
	"github.com/i5heu/ouroboros-vault/pkg/vaulterr"
	"github.com/i5heu/ouroboros-vault/pkg/wallet"
)

var (
	ErrNoGateway   = errors.New("vault: no encryption gateway configured")
	ErrNoStore     = errors.New("vault: no content store configured")
	ErrNoAuthority = errors.New("vault: no session authority configured")
	ErrEmptyData   = errors.New("vault: data is empty")
	ErrNotUTF8     = errors.New("vault: data is not valid UTF-8")
	ErrRefMismatch = errors.New("vault: reference does not match stored envelope")
)

// Vault runs the store and retrieve flows. It holds no per-call state and
// is safe for concurrent use.
type Vault struct {
	gateway   Encrypter
	store     ContentStore
	authority CredentialIssuer
	chain     string
	scope     []session.ResourceAbilityRequest
	log       *logrus.Logger
	tracer    trace.Tracer
	observer  Observer
}

// New constructs a Vault. New performs no I/O.
func New(conf Config) (*Vault, error) { // A
	if conf.Gateway == nil {
		return nil, ErrNoGateway
	}
	if conf.Store == nil {
		return nil, ErrNoStore
	}
	if conf.Authority == nil {
		return nil, ErrNoAuthority
	}
	if conf.Chain == "" {
		conf.Chain = DefaultChain
	}
	if len(conf.Scope) == 0 {
		conf.Scope = session.ExecuteAnyAction()
	}
	if conf.Logger == nil {
		conf.Logger = defaultLogger()
	}
	if conf.Tracer == nil {
		conf.Tracer = defaultTracer()
	}
	return &Vault{
		gateway:   conf.Gateway,
		store:     conf.Store,
		authority: conf.Authority,
		chain:     conf.Chain,
		scope:     append([]session.ResourceAbilityRequest(nil), conf.Scope...),
		log:       conf.Logger,
		tracer:    conf.Tracer,
		observer:  conf.Observer,
	}, nil
}

// Store encrypts data under conds and uploads the envelope. Invalid input
// fails with vaulterr.InvalidCondition before any network call.
func (v *Vault) Store(
	ctx context.Context,
	data string,
	conds []acc.Condition,
) (envelope.Artifact, error) { // A
	ctx, r := v.begin(ctx, FlowStore)
	defer r.end()

	r.to(Validating)
	if data == "" {
		return envelope.Artifact{}, r.fail(vaulterr.New(vaulterr.InvalidCondition, "store", ErrEmptyData))
	}
	if !utf8.ValidString(data) {
		return envelope.Artifact{}, r.fail(vaulterr.New(vaulterr.InvalidCondition, "store", ErrNotUTF8))
	}
	if err := acc.ValidateAll(conds); err != nil {
		return envelope.Artifact{}, r.fail(err)
	}
	conds = acc.Clone(conds)

	r.to(Encrypting)
	cipherText, hash, err := v.gateway.Encrypt(ctx, data, conds)
	if err != nil {
		return envelope.Artifact{}, r.fail(ensureKind(err, vaulterr.EncryptionFailure, "store"))
	}

	r.to(Uploading)
	receipt, err := v.store.Put(ctx, envelope.Envelope{
		CipherText:              cipherText,
		DataToEncryptHash:       hash,
		AccessControlConditions: conds,
	})
	if err != nil {
		return envelope.Artifact{}, r.fail(ensureKind(err, vaulterr.UploadFailure, "store"))
	}

	r.span.SetAttributes(attribute.String("vault.tx_id", receipt.ID))
	r.done(logrus.Fields{"id": receipt.ID, "hash": hash})
	return envelope.Artifact{
		IrysTxID:                receipt.ID,
		AccessControlConditions: conds,
		DataToEncryptHash:       hash,
	}, nil
}

// Retrieve obtains a session credential for signer, fetches the envelope
// named by ref and decrypts it. The fetched envelope is authoritative; a
// reference whose hash or conditions disagree with it fails with
// vaulterr.DecryptionFailure without contacting the decryption capability.
func (v *Vault) Retrieve(
	ctx context.Context,
	signer wallet.Signer,
	ref envelope.Artifact,
) (string, error) { // A
	ctx, r := v.begin(ctx, FlowRetrieve)
	defer r.end()
	r.span.SetAttributes(attribute.String("vault.tx_id", ref.IrysTxID))

	r.to(Authorizing)
	chain := v.chain
	if len(ref.AccessControlConditions) > 0 && ref.AccessControlConditions[0].Chain != "" {
		chain = ref.AccessControlConditions[0].Chain
	}
	cred, err := v.authority.GetCredential(ctx, signer, chain, v.scope)
	if err != nil {
		return "", r.fail(ensureKind(err, vaulterr.AuthFailure, "retrieve"))
	}

	r.to(Fetching)
	env, err := v.store.Get(ctx, ref.IrysTxID)
	if err != nil {
		return "", r.fail(ensureKind(err, vaulterr.NotFound, "retrieve"))
	}
	if err := matchReference(ref, env); err != nil {
		return "", r.fail(vaulterr.New(vaulterr.DecryptionFailure, "retrieve", err))
	}

	r.to(Decrypting)
	plaintext, err := v.gateway.Decrypt(
		ctx,
		env.CipherText,
		env.DataToEncryptHash,
		env.AccessControlConditions,
		cred,
	)
	if err != nil {
		return "", r.fail(ensureKind(err, vaulterr.DecryptionFailure, "retrieve"))
	}

	r.done(logrus.Fields{"id": ref.IrysTxID, "address": cred.Address})
	return plaintext, nil
}

func matchReference(ref envelope.Artifact, env envelope.Envelope) error {
	if ref.DataToEncryptHash != "" && ref.DataToEncryptHash != env.DataToEncryptHash {
		return fmt.Errorf("%w: dataToEncryptHash", ErrRefMismatch)
	}
	if len(ref.AccessControlConditions) > 0 &&
		!acc.EqualList(ref.AccessControlConditions, env.AccessControlConditions) {
		return fmt.Errorf("%w: accessControlConditions", ErrRefMismatch)
	}
	return nil
}

// ensureKind keeps the kind a collaborator already assigned and wraps
// anything unclassified as kind.
func ensureKind(err error, kind vaulterr.Kind, op string) error {
	if _, ok := vaulterr.KindOf(err); ok {
		return err
	}
	return vaulterr.New(kind, op, err)
}

type run struct {
	v     *Vault
	flow  Flow
	state State
	start time.Time
	span  trace.Span
}

func (v *Vault) begin(ctx context.Context, flow Flow) (context.Context, *run) {
	ctx, span := v.tracer.Start(ctx, "vault."+string(flow))
	span.SetAttributes(attribute.String("vault.flow", string(flow)))
	return ctx, &run{v: v, flow: flow, state: Idle, start: time.Now(), span: span}
}

func (r *run) to(next State) {
	r.emit(Transition{Flow: r.flow, From: r.state, To: next})
}

func (r *run) emit(t Transition) {
	r.state = t.To
	r.span.AddEvent(t.To.String())
	if r.v.observer != nil {
		r.v.observer(t)
	}
}

func (r *run) fail(err error) error {
	kind, _ := vaulterr.KindOf(err)
	r.emit(Transition{Flow: r.flow, From: r.state, To: Failed, Kind: kind, Reason: err.Error()})
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, kind.String())
	r.span.SetAttributes(attribute.String("vault.failure", kind.String()))
	r.v.log.WithFields(logrus.Fields{
		"flow":     r.flow,
		"kind":     kind.String(),
		"duration": time.Since(r.start),
	}).Warnf("%s failed: %v", r.flow, err)
	return err
}

func (r *run) done(fields logrus.Fields) {
	r.emit(Transition{Flow: r.flow, From: r.state, To: Done})
	r.span.SetStatus(codes.Ok, "")
	fields["flow"] = r.flow
	fields["duration"] = time.Since(r.start)
	r.v.log.WithFields(fields).Info(string(r.flow) + " done")
}

func (r *run) end() {
	r.span.End()
}
