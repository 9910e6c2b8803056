// Package session turns a wallet signer into a scoped, expiring session
// credential through a challenge, sign and delegate exchange with the
// threshold network.
//
// The exchange has one suspend point: the network asks for a signed
// delegation statement (an EIP-4361 message carrying a ReCap resource and a
// recent block hash as nonce) and the Authority answers with an
// AuthChallengeSigner bound to the caller's wallet. The resulting per-node
// session signatures are opaque to this package.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/ouroboros-vault/pkg/vaulterr"
	"github.com/i5heu/ouroboros-vault/pkg/wallet"
)

// DefaultTTL is the requested session lifetime.
const DefaultTTL = 24 * time.Hour

var (
	ErrNoNetwork     = errors.New("session: no network configured")
	ErrNoScope       = errors.New("session: empty resource-ability scope")
	ErrNotFuture     = errors.New("session: expiration must be in the future")
	ErrEmptySessions = errors.New("session: network returned no session signatures")
)

// Config configures an Authority.
type Config struct { // A
	Network Network
	// Domain is the SIWE domain presented to the wallet.
	Domain string
	// TTL is the requested session lifetime. Zero means DefaultTTL.
	TTL time.Duration
	// Timeout bounds the whole issuance exchange. Zero means no bound
	// beyond the caller's context.
	Timeout time.Duration
	Clock   Clock
	Logger  *logrus.Logger
}

// Authority issues session credentials. It keeps no per-credential state.
type Authority struct { // A
	network Network
	domain  string
	ttl     time.Duration
	timeout time.Duration
	clock   Clock
	log     *logrus.Logger
}

// New creates an Authority.
func New(conf Config) (*Authority, error) { // A
	if conf.Network == nil {
		return nil, ErrNoNetwork
	}
	if conf.TTL == 0 {
		conf.TTL = DefaultTTL
	}
	if conf.TTL < 0 {
		return nil, ErrNotFuture
	}
	if conf.Clock == nil {
		conf.Clock = realClock{}
	}
	if conf.Logger == nil {
		conf.Logger = logrus.New()
	}
	return &Authority{
		network: conf.Network,
		domain:  conf.Domain,
		ttl:     conf.TTL,
		timeout: conf.Timeout,
		clock:   conf.Clock,
		log:     conf.Logger,
	}, nil
}

// GetCredential runs the issuance exchange for signer on chain with the
// given scope. Any failure aborts the exchange and is reported as
// vaulterr.AuthFailure; no partial credential is returned.
func (a *Authority) GetCredential(
	ctx context.Context,
	signer wallet.Signer,
	chain string,
	scope []ResourceAbilityRequest,
) (*Credential, error) { // A
	const op = "session.getCredential"

	if signer == nil {
		return nil, vaulterr.New(vaulterr.AuthFailure, op, ErrNoSigner)
	}
	if len(scope) == 0 {
		return nil, vaulterr.New(vaulterr.AuthFailure, op, ErrNoScope)
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	now := a.clock.Now()
	expiration := now.Add(a.ttl)
	if !expiration.After(now) {
		return nil, vaulterr.New(vaulterr.AuthFailure, op, ErrNotFuture)
	}

	address, err := signer.Address(ctx)
	if err != nil {
		return nil, vaulterr.New(vaulterr.AuthFailure, op, fmt.Errorf("signer address: %w", err))
	}

	scope = append([]ResourceAbilityRequest(nil), scope...)
	challenger := &WalletChallengeSigner{
		Signer: signer,
		Nonces: a.network,
		Domain: a.domain,
		Chain:  chain,
		Clock:  a.clock,
	}

	sigs, err := a.network.SessionSigs(ctx, SessionRequest{
		Chain:                   chain,
		Expiration:              expiration,
		ResourceAbilityRequests: scope,
	}, challenger)
	if err != nil {
		a.log.WithFields(logrus.Fields{
			"address": address,
			"chain":   chain,
		}).Warnf("session issuance failed: %v", err)
		return nil, vaulterr.New(vaulterr.AuthFailure, op, err)
	}
	if len(sigs) == 0 || string(sigs) == "null" || string(sigs) == "{}" {
		return nil, vaulterr.New(vaulterr.AuthFailure, op, ErrEmptySessions)
	}

	a.log.WithFields(logrus.Fields{
		"address":    address,
		"chain":      chain,
		"expiration": expiration.UTC().Format(time.RFC3339),
	}).Debug("session credential issued")

	return &Credential{
		Scope:       scope,
		Expiration:  expiration,
		Address:     address,
		SessionSigs: sigs,
	}, nil
}
