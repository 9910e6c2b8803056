package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/i5heu/ouroboros-vault/pkg/wallet"
)

var (
	ErrNoSigner         = errors.New("session: no wallet signer")
	ErrNoURI            = errors.New("session: challenge carries no uri")
	ErrStaleChallenge   = errors.New("session: challenge expiration is not in the future")
	ErrNonceUnavailable = errors.New("session: could not fetch freshness nonce")
)

// WalletChallengeSigner answers challenges by signing a SIWE message with
// a wallet. The nonce is the latest block hash reported by Nonces.
type WalletChallengeSigner struct { // A
	Signer wallet.Signer
	Nonces BlockhashSource
	Domain string
	Chain  string
	Clock  Clock
}

// SignChallenge builds the delegation statement for params and signs it.
func (w *WalletChallengeSigner) SignChallenge(
	ctx context.Context,
	params AuthCallbackParams,
) (AuthSig, error) { // A
	if w.Signer == nil {
		return AuthSig{}, ErrNoSigner
	}
	if strings.TrimSpace(params.URI) == "" {
		return AuthSig{}, ErrNoURI
	}

	clock := w.Clock
	if clock == nil {
		clock = realClock{}
	}
	now := clock.Now()
	if !params.Expiration.After(now) {
		return AuthSig{}, ErrStaleChallenge
	}

	address, err := w.Signer.Address(ctx)
	if err != nil {
		return AuthSig{}, fmt.Errorf("signer address: %w", err)
	}

	nonce, err := w.Nonces.LatestBlockhash(ctx)
	if err != nil {
		return AuthSig{}, fmt.Errorf("%w: %v", ErrNonceUnavailable, err)
	}
	if strings.TrimSpace(nonce) == "" {
		return AuthSig{}, fmt.Errorf("%w: empty blockhash", ErrNonceUnavailable)
	}

	resource, err := EncodeRecap(params.ResourceAbilityRequests)
	if err != nil {
		return AuthSig{}, fmt.Errorf("encode recap: %w", err)
	}

	domain := w.Domain
	if domain == "" {
		domain = "localhost"
	}

	text := BuildSIWE(SIWEMessage{
		Domain:         domain,
		Address:        address,
		Statement:      RecapStatement(params.ResourceAbilityRequests),
		URI:            params.URI,
		Version:        "1",
		ChainID:        ChainID(w.Chain),
		Nonce:          nonce,
		IssuedAt:       now,
		ExpirationTime: params.Expiration,
		Resources:      []string{resource},
	})

	sig, err := w.Signer.SignMessage(ctx, []byte(text))
	if err != nil {
		return AuthSig{}, fmt.Errorf("sign delegation: %w", err)
	}

	return AuthSig{
		Sig:           wallet.SignatureHex(sig),
		DerivedVia:    DerivedVia,
		SignedMessage: text,
		Address:       address,
	}, nil
}

// VerifyAuthSig checks that sig was produced by the address it names and
// returns the parsed message.
func VerifyAuthSig(sig AuthSig) (SIWEMessage, error) { // A
	if sig.DerivedVia != DerivedVia {
		return SIWEMessage{}, fmt.Errorf("unsupported derivation %q", sig.DerivedVia)
	}
	raw, err := wallet.ParseSignatureHex(sig.Sig)
	if err != nil {
		return SIWEMessage{}, err
	}
	recovered, err := wallet.RecoverAddress([]byte(sig.SignedMessage), raw)
	if err != nil {
		return SIWEMessage{}, err
	}
	if !wallet.EqualAddress(recovered, sig.Address) {
		return SIWEMessage{}, fmt.Errorf("signature was made by %s, not %s", recovered, sig.Address)
	}
	msg, err := ParseSIWE(sig.SignedMessage)
	if err != nil {
		return SIWEMessage{}, err
	}
	if !wallet.EqualAddress(msg.Address, sig.Address) {
		return SIWEMessage{}, fmt.Errorf("message names %s, signature names %s", msg.Address, sig.Address)
	}
	return msg, nil
}
