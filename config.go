package vault

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/i5heu/ouroboros-vault/pkg/acc"
	"github.com/i5heu/ouroboros-vault/pkg/envelope"
	"github.com/i5heu/ouroboros-vault/pkg/session"
	"github.com/i5heu/ouroboros-vault/pkg/store"
	"github.com/i5heu/ouroboros-vault/pkg/wallet"
)

// DefaultChain is used for session issuance when a reference names none.
const DefaultChain = "ethereum"

const tracerName = "github.com/i5heu/ouroboros-vault"

// Encrypter is the encryption gateway. *gateway.Gateway implements it.
type Encrypter interface { // A
	Encrypt(ctx context.Context, plaintext string, conds []acc.Condition) (string, string, error)
	Decrypt(
		ctx context.Context,
		cipherText string,
		dataToEncryptHash string,
		conds []acc.Condition,
		cred *session.Credential,
	) (string, error)
}

// ContentStore is the storage network client. *store.Store implements it.
type ContentStore interface { // A
	Put(ctx context.Context, env envelope.Envelope) (store.Receipt, error)
	Get(ctx context.Context, id string) (envelope.Envelope, error)
}

// CredentialIssuer issues session credentials. *session.Authority
// implements it.
type CredentialIssuer interface { // A
	GetCredential(
		ctx context.Context,
		signer wallet.Signer,
		chain string,
		scope []session.ResourceAbilityRequest,
	) (*session.Credential, error)
}

// Config configures a Vault.
type Config struct {
	Gateway   Encrypter
	Store     ContentStore
	Authority CredentialIssuer
	// Chain is used for session issuance when the reference carries no
	// conditions. Empty means DefaultChain.
	Chain string
	// Scope requested for each retrieval. Nil means
	// session.ExecuteAnyAction().
	Scope []session.ResourceAbilityRequest
	// Logger is an optional logger. If nil, a stderr logger is used.
	Logger *logrus.Logger
	// Tracer is optional. If nil, the global otel tracer is used.
	Tracer trace.Tracer
	// Observer, if set, receives every state transition of every flow.
	Observer Observer
}

func defaultLogger() *logrus.Logger { // A
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	return l
}

func defaultTracer() trace.Tracer { // A
	return otel.Tracer(tracerName)
}
