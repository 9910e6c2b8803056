// Package gateway is a typed facade over the remote threshold encryption
// capability. It does no cryptography of its own: plaintext is encoded to
// bytes on the way in, bytes are decoded to text on the way out, and the
// condition list is passed through verbatim for remote evaluation.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/ouroboros-vault/pkg/acc"
	"github.com/i5heu/ouroboros-vault/pkg/session"
	"github.com/i5heu/ouroboros-vault/pkg/vaulterr"
)

var (
	ErrNoCapability   = errors.New("gateway: no capability configured")
	ErrNoCredential   = errors.New("gateway: no session credential")
	ErrExpired        = errors.New("gateway: session credential expired")
	ErrEmptyResponse  = errors.New("gateway: remote returned an empty result")
	ErrNotUTF8        = errors.New("gateway: decrypted data is not valid UTF-8")
	ErrEmptyPlaintext = errors.New("gateway: plaintext is empty")
	ErrBadPlaintext   = errors.New("gateway: plaintext is not valid UTF-8")
	ErrMissingChain   = errors.New("gateway: no chain to evaluate conditions on")
)

// EncryptRequest is sent to the remote encryption capability.
type EncryptRequest struct { // A
	Chain                   string          `json:"chain"`
	AccessControlConditions []acc.Condition `json:"accessControlConditions"`
	DataToEncrypt           []byte          `json:"dataToEncrypt"`
}

// EncryptResponse carries the ciphertext and the plaintext hash the
// decryption side uses to verify integrity.
type EncryptResponse struct { // A
	Ciphertext        string `json:"ciphertext"`
	DataToEncryptHash string `json:"dataToEncryptHash"`
}

// DecryptRequest is sent to the remote decryption capability.
type DecryptRequest struct { // A
	Chain                   string          `json:"chain"`
	AccessControlConditions []acc.Condition `json:"accessControlConditions"`
	Ciphertext              string          `json:"ciphertext"`
	DataToEncryptHash       string          `json:"dataToEncryptHash"`
	SessionSigs             json.RawMessage `json:"sessionSigs"`
}

// DecryptResponse carries the released plaintext bytes.
type DecryptResponse struct { // A
	DecryptedData []byte `json:"decryptedData"`
}

// Capability is the opaque remote encrypt/decrypt service.
type Capability interface { // A
	Encrypt(ctx context.Context, req EncryptRequest) (EncryptResponse, error)
	Decrypt(ctx context.Context, req DecryptRequest) (DecryptResponse, error)
}

// Config configures a Gateway.
type Config struct { // A
	Capability Capability
	// Chain is used when a condition list does not name one. Conditions
	// always carry a chain once validated, so this is rarely consulted.
	Chain  string
	Clock  session.Clock
	Logger *logrus.Logger
}

// Gateway shapes calls to a Capability and maps failures to error kinds.
type Gateway struct { // A
	capability Capability
	chain      string
	clock      session.Clock
	log        *logrus.Logger
}

// New creates a Gateway.
func New(conf Config) (*Gateway, error) { // A
	if conf.Capability == nil {
		return nil, ErrNoCapability
	}
	if conf.Clock == nil {
		conf.Clock = session.RealClock()
	}
	if conf.Logger == nil {
		conf.Logger = logrus.New()
	}
	return &Gateway{
		capability: conf.Capability,
		chain:      conf.Chain,
		clock:      conf.Clock,
		log:        conf.Logger,
	}, nil
}

func (g *Gateway) chainOf(conds []acc.Condition) string {
	if len(conds) > 0 && conds[0].Chain != "" {
		return conds[0].Chain
	}
	return g.chain
}

// Encrypt encrypts plaintext under conds. Any failure is
// vaulterr.EncryptionFailure.
func (g *Gateway) Encrypt(
	ctx context.Context,
	plaintext string,
	conds []acc.Condition,
) (cipherText string, dataToEncryptHash string, err error) { // A
	const op = "gateway.encrypt"

	if plaintext == "" {
		return "", "", vaulterr.New(vaulterr.EncryptionFailure, op, ErrEmptyPlaintext)
	}
	if !utf8.ValidString(plaintext) {
		return "", "", vaulterr.New(vaulterr.EncryptionFailure, op, ErrBadPlaintext)
	}
	chain := g.chainOf(conds)
	if chain == "" {
		return "", "", vaulterr.New(vaulterr.EncryptionFailure, op, ErrMissingChain)
	}

	start := time.Now()
	resp, err := g.capability.Encrypt(ctx, EncryptRequest{
		Chain:                   chain,
		AccessControlConditions: conds,
		DataToEncrypt:           []byte(plaintext),
	})
	if err != nil {
		return "", "", vaulterr.New(vaulterr.EncryptionFailure, op, err)
	}
	if resp.Ciphertext == "" || resp.DataToEncryptHash == "" {
		return "", "", vaulterr.New(vaulterr.EncryptionFailure, op, ErrEmptyResponse)
	}

	g.log.WithFields(logrus.Fields{
		"chain":    chain,
		"hash":     resp.DataToEncryptHash,
		"duration": time.Since(start),
	}).Debug("payload encrypted")
	return resp.Ciphertext, resp.DataToEncryptHash, nil
}

// Decrypt asks the remote network to release the plaintext of cipherText.
// An unsatisfied condition, a bad credential and a corrupted ciphertext are
// indistinguishable here; all of them are vaulterr.DecryptionFailure.
func (g *Gateway) Decrypt(
	ctx context.Context,
	cipherText string,
	dataToEncryptHash string,
	conds []acc.Condition,
	cred *session.Credential,
) (string, error) { // A
	const op = "gateway.decrypt"

	if cred == nil || len(cred.SessionSigs) == 0 {
		return "", vaulterr.New(vaulterr.DecryptionFailure, op, ErrNoCredential)
	}
	if cred.Expired(g.clock.Now()) {
		return "", vaulterr.New(vaulterr.DecryptionFailure, op, ErrExpired)
	}
	chain := g.chainOf(conds)
	if chain == "" {
		return "", vaulterr.New(vaulterr.DecryptionFailure, op, ErrMissingChain)
	}

	resp, err := g.capability.Decrypt(ctx, DecryptRequest{
		Chain:                   chain,
		AccessControlConditions: conds,
		Ciphertext:              cipherText,
		DataToEncryptHash:       dataToEncryptHash,
		SessionSigs:             cred.SessionSigs,
	})
	if err != nil {
		g.log.WithFields(logrus.Fields{
			"chain":   chain,
			"hash":    dataToEncryptHash,
			"address": cred.Address,
		}).Infof("decryption refused: %v", err)
		return "", vaulterr.New(vaulterr.DecryptionFailure, op, err)
	}
	if !utf8.Valid(resp.DecryptedData) {
		return "", vaulterr.New(vaulterr.DecryptionFailure, op, ErrNotUTF8)
	}
	if len(resp.DecryptedData) == 0 {
		return "", vaulterr.New(vaulterr.DecryptionFailure, op, fmt.Errorf("%w: no plaintext", ErrEmptyResponse))
	}
	return string(resp.DecryptedData), nil
}
