package acc

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-vault/pkg/vaulterr"
)

func TestWalletOwnerIsValid(t *testing.T) { // A
	c := WalletOwner("ethereum", "0xABC0000000000000000000000000000000000001")

	require.NoError(t, Validate(c))
	assert.Equal(t, []string{UserAddress}, c.Parameters)
	assert.Equal(t, Equal, c.ReturnValueTest.Comparator)
	assert.Empty(t, c.ContractAddress)
	assert.Empty(t, c.Method)
}

func TestValidate(t *testing.T) { // A
	valid := WalletOwner("ethereum", "0xabc")

	tests := []struct {
		name   string
		mutate func(c *Condition)
		want   error
	}{
		{"missing chain", func(c *Condition) { c.Chain = "" }, ErrMissingChain},
		{"no parameters", func(c *Condition) { c.Parameters = nil }, ErrMissingParams},
		{"blank parameter", func(c *Condition) { c.Parameters = []string{" "} }, ErrEmptyParam},
		{"missing returnValueTest", func(c *Condition) { c.ReturnValueTest = nil }, ErrMissingTest},
		{"bad comparator", func(c *Condition) { c.ReturnValueTest.Comparator = "!=" }, ErrBadComparator},
		{"missing value", func(c *Condition) { c.ReturnValueTest.Value = "" }, ErrMissingExpected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Clone([]Condition{valid})[0]
			tt.mutate(&c)

			err := Validate(c)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.True(t, errors.Is(err, vaulterr.InvalidCondition))
		})
	}
}

func TestValidateAcceptsEveryComparator(t *testing.T) { // A
	for _, op := range []string{Equal, Greater, Less, GreaterOrEqual, LessOrEqual, Contains} {
		c := WalletOwner("ethereum", "0xabc")
		c.ReturnValueTest.Comparator = op
		assert.NoError(t, Validate(c), op)
	}
}

func TestValidateAll(t *testing.T) { // A
	err := ValidateAll(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoConditions)
	assert.ErrorIs(t, err, vaulterr.InvalidCondition)

	broken := WalletOwner("ethereum", "0xabc")
	broken.ReturnValueTest = nil
	err = ValidateAll([]Condition{WalletOwner("ethereum", "0xabc"), broken})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "condition 1")

	assert.NoError(t, ValidateAll([]Condition{WalletOwner("ethereum", "0xabc")}))
}

func TestEqualListAndClone(t *testing.T) { // A
	a := []Condition{WalletOwner("ethereum", "0xabc")}
	b := Clone(a)
	assert.True(t, EqualList(a, b))

	b[0].Parameters[0] = "0xdef"
	assert.False(t, EqualList(a, b))
	assert.Equal(t, UserAddress, a[0].Parameters[0], "clone must not alias parameters")

	c := Clone(a)
	c[0].ReturnValueTest.Value = "0xdef"
	assert.False(t, EqualList(a, c))
	assert.False(t, EqualList(a, nil))
}
