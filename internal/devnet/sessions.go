package devnet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/i5heu/ouroboros-vault/pkg/session"
	"github.com/i5heu/ouroboros-vault/pkg/wallet"
)

// NodeDerivedVia marks a session signature made by a devnet node.
const NodeDerivedVia = "devnet.node.sign"

var (
	ErrInvalidSession = errors.New("devnet: invalid session signature")
	ErrSessionExpired = errors.New("devnet: session expired")
	ErrScope          = errors.New("devnet: session scope does not allow decryption")
)

// challenge is a pending session request waiting for its signed
// delegation.
type challenge struct {
	Chain      string
	Expiration time.Time
	Scope      []session.ResourceAbilityRequest
}

// statement is what a node signs when it issues a session. It embeds the
// wallet's delegation so any node can re-verify the whole chain.
type statement struct {
	URI        string                           `json:"uri"`
	Chain      string                           `json:"chain"`
	Address    string                           `json:"address"`
	IssuedAt   time.Time                        `json:"issuedAt"`
	Expiration time.Time                        `json:"expiration"`
	Scope      []session.ResourceAbilityRequest `json:"scope"`
	AuthSig    session.AuthSig                  `json:"authSig"`
}

// issue signs st with the node key and returns the session signature set
// keyed by node address.
func issue(ctx context.Context, node *wallet.LocalSigner, st statement) (json.RawMessage, error) {
	raw, err := json.Marshal(st)
	if err != nil {
		return nil, err
	}
	msg, err := jcs.Transform(raw)
	if err != nil {
		return nil, err
	}
	sig, err := node.SignMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	nodeAddress, _ := node.Address(ctx)
	return json.Marshal(map[string]session.AuthSig{
		nodeAddress: {
			Sig:           wallet.SignatureHex(sig),
			DerivedVia:    NodeDerivedVia,
			SignedMessage: string(msg),
			Address:       nodeAddress,
		},
	})
}

// verifySession checks the node signature addressed to nodeAddress and the
// wallet delegation inside it, and returns the signed session statement.
func verifySession(sessionSigs json.RawMessage, nodeAddress string, now time.Time) (statement, error) {
	var st statement

	var sigs map[string]session.AuthSig
	if err := json.Unmarshal(sessionSigs, &sigs); err != nil {
		return st, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	sig, ok := sigs[nodeAddress]
	if !ok {
		return st, fmt.Errorf("%w: no signature for node %s", ErrInvalidSession, nodeAddress)
	}
	if sig.DerivedVia != NodeDerivedVia {
		return st, fmt.Errorf("%w: derivation %q", ErrInvalidSession, sig.DerivedVia)
	}
	raw, err := wallet.ParseSignatureHex(sig.Sig)
	if err != nil {
		return st, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	signer, err := wallet.RecoverAddress([]byte(sig.SignedMessage), raw)
	if err != nil || !wallet.EqualAddress(signer, nodeAddress) {
		return st, fmt.Errorf("%w: not signed by this node", ErrInvalidSession)
	}

	if err := json.Unmarshal([]byte(sig.SignedMessage), &st); err != nil {
		return st, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if !now.Before(st.Expiration) {
		return st, ErrSessionExpired
	}

	msg, err := session.VerifyAuthSig(st.AuthSig)
	if err != nil {
		return st, fmt.Errorf("%w: delegation: %v", ErrInvalidSession, err)
	}
	if !wallet.EqualAddress(msg.Address, st.Address) || msg.URI != st.URI {
		return st, fmt.Errorf("%w: delegation does not match session", ErrInvalidSession)
	}
	if !msg.ExpirationTime.IsZero() && !now.Before(msg.ExpirationTime) {
		return st, ErrSessionExpired
	}
	if !allowsDecryption(st.Scope) {
		return st, ErrScope
	}
	return st, nil
}

// allowsDecryption reports whether scope lets the holder decrypt. Running
// any action includes decryption, as actions may decrypt on the caller's
// behalf.
func allowsDecryption(scope []session.ResourceAbilityRequest) bool {
	for _, r := range scope {
		switch {
		case r.Ability == session.AbilityLitActionExecution && r.Resource == session.ResourceLitAction+"*":
			return true
		case r.Ability == session.AbilityACCDecryption && r.Resource == session.ResourceACC+"*":
			return true
		}
	}
	return false
}

// covers reports whether granted includes every entry of requested.
func covers(granted, requested []session.ResourceAbilityRequest) bool {
	have := make(map[session.ResourceAbilityRequest]bool, len(granted))
	for _, g := range granted {
		have[g] = true
	}
	for _, r := range requested {
		if !have[r] {
			return false
		}
	}
	return true
}
