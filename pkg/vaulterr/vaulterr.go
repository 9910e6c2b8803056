// Package vaulterr defines the failure kinds shared by every component of
// the vault. A kind is an error value itself, so callers can branch with
// errors.Is(err, vaulterr.DecryptionFailure) without matching strings.
package vaulterr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int // A

const ( // A
	InvalidCondition Kind = iota + 1
	AuthFailure
	EncryptionFailure
	DecryptionFailure
	UploadFailure
	NotFound
	MalformedEnvelope
)

// String returns the kind name used in failure reasons.
func (k Kind) String() string { // A
	switch k {
	case InvalidCondition:
		return "InvalidCondition"
	case AuthFailure:
		return "AuthFailure"
	case EncryptionFailure:
		return "EncryptionFailure"
	case DecryptionFailure:
		return "DecryptionFailure"
	case UploadFailure:
		return "UploadFailure"
	case NotFound:
		return "NotFound"
	case MalformedEnvelope:
		return "MalformedEnvelope"
	default:
		return "unknown"
	}
}

// Error makes Kind usable as an errors.Is target.
func (k Kind) Error() string { // A
	return k.String()
}

// Error wraps an underlying error with the failing operation and its kind.
type Error struct { // A
	Kind Kind   // Failure classification
	Op   string // Operation that failed
	Err  error  // Underlying error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("vault.%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("vault.%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

// New wraps err as a failure of the given kind. KindOf reports the outermost
// kind, while errors.Is matches any kind along the chain.
func New(kind Kind, op string, err error) error { // A
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf creates a new Error from a format string.
func Errorf(kind Kind, op string, format string, args ...interface{}) error {
	return &Error{
		Kind: kind,
		Op:   op,
		Err:  fmt.Errorf(format, args...),
	}
}

// KindOf returns the outermost kind carried by err.
func KindOf(err error) (Kind, bool) { // A
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
