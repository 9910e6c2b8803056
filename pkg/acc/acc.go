// Package acc models access control conditions: declarative predicates
// that the threshold network evaluates before it releases key shares.
// Nothing in this package evaluates a predicate; it only shapes and
// validates them.
package acc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/i5heu/ouroboros-vault/pkg/vaulterr"
)

// UserAddress is resolved by the evaluator to the caller's authenticated
// address. It is never substituted locally.
const UserAddress = ":userAddress"

// Comparators accepted in a ReturnValueTest.
const ( // A
	Equal          = "="
	Greater        = ">"
	Less           = "<"
	GreaterOrEqual = ">="
	LessOrEqual    = "<="
	Contains       = "contains"
)

var (
	ErrNoConditions    = errors.New("acc: at least one condition is required")
	ErrMissingChain    = errors.New("acc: chain is required")
	ErrMissingParams   = errors.New("acc: parameters are required")
	ErrEmptyParam      = errors.New("acc: parameters must not contain empty values")
	ErrMissingTest     = errors.New("acc: returnValueTest is required")
	ErrBadComparator   = errors.New("acc: unsupported comparator")
	ErrMissingExpected = errors.New("acc: returnValueTest.value is required")
)

// ReturnValueTest compares the evaluated value against Value.
type ReturnValueTest struct { // A
	Comparator string `json:"comparator"`
	Value      string `json:"value"`
}

// Condition is a single access control predicate. ContractAddress,
// StandardContractType and Method are empty for predicates that only look
// at the caller's address.
type Condition struct { // A
	ContractAddress      string           `json:"contractAddress"`
	StandardContractType string           `json:"standardContractType"`
	Chain                string           `json:"chain"`
	Method               string           `json:"method"`
	Parameters           []string         `json:"parameters"`
	ReturnValueTest      *ReturnValueTest `json:"returnValueTest"`
}

// WalletOwner returns the predicate that only lets address decrypt.
func WalletOwner(chain, address string) Condition { // A
	return Condition{
		Chain:      chain,
		Parameters: []string{UserAddress},
		ReturnValueTest: &ReturnValueTest{
			Comparator: Equal,
			Value:      address,
		},
	}
}

// IsComparator reports whether op is an accepted comparator.
func IsComparator(op string) bool { // A
	switch op {
	case Equal, Greater, Less, GreaterOrEqual, LessOrEqual, Contains:
		return true
	}
	return false
}

// Validate checks a single condition. It performs no I/O.
func Validate(c Condition) error { // A
	if err := validate(c); err != nil {
		return vaulterr.New(vaulterr.InvalidCondition, "acc.validate", err)
	}
	return nil
}

func validate(c Condition) error {
	if strings.TrimSpace(c.Chain) == "" {
		return ErrMissingChain
	}
	if len(c.Parameters) == 0 {
		return ErrMissingParams
	}
	for _, p := range c.Parameters {
		if strings.TrimSpace(p) == "" {
			return ErrEmptyParam
		}
	}
	if c.ReturnValueTest == nil {
		return ErrMissingTest
	}
	if !IsComparator(c.ReturnValueTest.Comparator) {
		return fmt.Errorf("%w: %q", ErrBadComparator, c.ReturnValueTest.Comparator)
	}
	if strings.TrimSpace(c.ReturnValueTest.Value) == "" {
		return ErrMissingExpected
	}
	return nil
}

// ValidateAll checks an ordered, implicitly conjoined condition list.
func ValidateAll(conds []Condition) error { // A
	if len(conds) == 0 {
		return vaulterr.New(vaulterr.InvalidCondition, "acc.validate", ErrNoConditions)
	}
	for i, c := range conds {
		if err := validate(c); err != nil {
			return vaulterr.New(
				vaulterr.InvalidCondition,
				"acc.validate",
				fmt.Errorf("condition %d: %w", i, err),
			)
		}
	}
	return nil
}

// EqualList reports whether two condition lists are structurally identical,
// including order.
func EqualList(a, b []Condition) bool { // A
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

func equal(a, b Condition) bool {
	if a.ContractAddress != b.ContractAddress ||
		a.StandardContractType != b.StandardContractType ||
		a.Chain != b.Chain ||
		a.Method != b.Method ||
		len(a.Parameters) != len(b.Parameters) {
		return false
	}
	for i := range a.Parameters {
		if a.Parameters[i] != b.Parameters[i] {
			return false
		}
	}
	if (a.ReturnValueTest == nil) != (b.ReturnValueTest == nil) {
		return false
	}
	if a.ReturnValueTest == nil {
		return true
	}
	return *a.ReturnValueTest == *b.ReturnValueTest
}

// Clone returns a deep copy of conds.
func Clone(conds []Condition) []Condition { // A
	if conds == nil {
		return nil
	}
	out := make([]Condition, len(conds))
	for i, c := range conds {
		out[i] = c
		out[i].Parameters = append([]string(nil), c.Parameters...)
		if c.ReturnValueTest != nil {
			rvt := *c.ReturnValueTest
			out[i].ReturnValueTest = &rvt
		}
	}
	return out
}
