package session

import (
	"context"
	"encoding/json"
	"time"
)

// Resource prefixes and abilities understood by the threshold network.
const ( // A
	ResourceLitAction = "lit-litaction://"
	ResourceACC       = "lit-accesscontrolcondition://"

	AbilityLitActionExecution = "lit-action-execution"
	AbilityACCDecryption      = "access-control-condition-decryption"

	// DerivedVia marks an EIP-191 personal-sign signature.
	DerivedVia = "web3.eth.personal.sign"
)

// ResourceAbilityRequest pairs a resource with the ability requested on it.
type ResourceAbilityRequest struct { // A
	Resource string `json:"resource"`
	Ability  string `json:"ability"`
}

// ExecuteAnyAction grants execution of any action on the network. This is
// the scope the decryption flow requests by default.
func ExecuteAnyAction() []ResourceAbilityRequest { // A
	return []ResourceAbilityRequest{{
		Resource: ResourceLitAction + "*",
		Ability:  AbilityLitActionExecution,
	}}
}

// DecryptAny grants decryption of any condition-gated resource.
func DecryptAny() []ResourceAbilityRequest { // A
	return []ResourceAbilityRequest{{
		Resource: ResourceACC + "*",
		Ability:  AbilityACCDecryption,
	}}
}

// AuthCallbackParams describes what the network wants signed.
type AuthCallbackParams struct { // A
	ResourceAbilityRequests []ResourceAbilityRequest `json:"resourceAbilityRequests"`
	Expiration              time.Time                `json:"expiration"`
	URI                     string                   `json:"uri"`
}

// AuthSig is a signed delegation statement.
type AuthSig struct { // A
	Sig           string `json:"sig"`
	DerivedVia    string `json:"derivedVia"`
	SignedMessage string `json:"signedMessage"`
	Address       string `json:"address"`
}

// AuthChallengeSigner answers the network's mid-protocol request for a
// signed delegation statement.
type AuthChallengeSigner interface { // A
	SignChallenge(ctx context.Context, params AuthCallbackParams) (AuthSig, error)
}

// SessionRequest asks the network for an expiring session.
type SessionRequest struct { // A
	Chain                   string                   `json:"chain"`
	Expiration              time.Time                `json:"expiration"`
	ResourceAbilityRequests []ResourceAbilityRequest `json:"resourceAbilityRequests"`
}

// BlockhashSource yields a recent chain block hash used as a freshness
// nonce.
type BlockhashSource interface { // A
	LatestBlockhash(ctx context.Context) (string, error)
}

// Network is the remote session issuance capability.
type Network interface { // A
	BlockhashSource
	SessionSigs(
		ctx context.Context,
		req SessionRequest,
		signer AuthChallengeSigner,
	) (json.RawMessage, error)
}

// Credential is a scoped, expiring authorization. SessionSigs is the
// network's aggregate per-node signature set and is never parsed here.
type Credential struct { // A
	Scope       []ResourceAbilityRequest `json:"scope"`
	Expiration  time.Time                `json:"expiration"`
	Address     string                   `json:"address"`
	SessionSigs json.RawMessage          `json:"sessionSigs"`
}

// Expired reports whether the credential is no longer usable at now.
func (c *Credential) Expired(now time.Time) bool { // A
	return c == nil || !now.Before(c.Expiration)
}
