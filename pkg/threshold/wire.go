package threshold

import (
	"encoding/json"

	"github.com/i5heu/ouroboros-vault/pkg/session"
)

// Endpoint paths served by a threshold node.
const ( // A
	PathBlockhash        = "/v1/blockhash"
	PathSessionChallenge = "/v1/session/challenge"
	PathSessionSign      = "/v1/session/sign"
	PathEncrypt          = "/v1/encrypt"
	PathDecrypt          = "/v1/decrypt"

	HeaderRequestID = "X-Request-Id"
)

// Error codes returned in ErrorBody.
const ( // A
	CodeBadRequest     = "bad_request"
	CodeSessionExpired = "session_expired"
	CodeInvalidSession = "invalid_session"
	CodeAccessDenied   = "access_denied"
	CodeIntegrity      = "integrity_mismatch"
	CodeRateLimited    = "rate_limited"
	CodeInternal       = "internal"
)

// BlockhashResponse carries the latest block hash of the node's chain view.
type BlockhashResponse struct { // A
	Blockhash string `json:"blockhash"`
}

// ChallengeResponse tells the client what it has to sign to obtain a
// session.
type ChallengeResponse = session.AuthCallbackParams

// SignRequest answers a challenge with a signed delegation statement.
type SignRequest struct { // A
	URI     string          `json:"uri"`
	AuthSig session.AuthSig `json:"authSig"`
}

// SignResponse carries the per-node session signatures.
type SignResponse struct { // A
	SessionSigs json.RawMessage `json:"sessionSigs"`
}

// ErrorBody is the JSON body of every non-2xx response.
type ErrorBody struct { // A
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}
