package devnet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/i5heu/ouroboros-vault/pkg/acc"
	"github.com/i5heu/ouroboros-vault/pkg/wallet"
)

var (
	ErrUnsupportedCondition = errors.New("devnet: condition cannot be evaluated without chain state")
	ErrConditionFailed      = errors.New("devnet: condition not satisfied")
)

// evaluate checks every condition against the authenticated address. The
// emulator has no chain state, so only predicates over :userAddress are
// supported.
func evaluate(conds []acc.Condition, address string) error {
	if len(conds) == 0 {
		return fmt.Errorf("%w: empty condition list", ErrConditionFailed)
	}
	for i, c := range conds {
		if c.ContractAddress != "" || c.Method != "" ||
			len(c.Parameters) != 1 || c.Parameters[0] != acc.UserAddress ||
			c.ReturnValueTest == nil {
			return fmt.Errorf("condition %d: %w", i, ErrUnsupportedCondition)
		}

		expected := c.ReturnValueTest.Value
		var ok bool
		switch c.ReturnValueTest.Comparator {
		case acc.Equal:
			ok = wallet.EqualAddress(expected, address)
		case acc.Contains:
			ok = strings.Contains(strings.ToLower(expected), strings.ToLower(address))
		default:
			return fmt.Errorf("condition %d: comparator %q: %w",
				i, c.ReturnValueTest.Comparator, ErrUnsupportedCondition)
		}
		if !ok {
			return fmt.Errorf("condition %d: %w", i, ErrConditionFailed)
		}
	}
	return nil
}
