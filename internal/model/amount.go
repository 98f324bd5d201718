package model

import (
	"errors"
	"fmt"
	"math/big"
)

// Amount is a non-negative integer quantity of the ledger's native unit.
//
// It is a value type backed by math/big so balances cannot overflow a
// fixed-width integer. The zero value is a valid zero amount. Subtraction
// is checked and never wraps below zero.
type Amount struct {
	v *big.Int
}

var errNegativeAmount = errors.New("amount must not be negative")

// NewAmount returns an Amount for a plain unsigned value.
func NewAmount(u uint64) Amount {
	return Amount{v: new(big.Int).SetUint64(u)}
}

// ParseAmount parses a base-10 integer string.
func ParseAmount(s string) (Amount, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return Amount{}, errNegativeAmount
	}
	return Amount{v: v}, nil
}

func (a Amount) big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

// Add returns a + b.
func (a Amount) Add(b Amount) Amount {
	return Amount{v: new(big.Int).Add(a.big(), b.big())}
}

// Sub returns a - b. ok is false when b exceeds a; the Amount returned in
// that case is zero and must not be used.
func (a Amount) Sub(b Amount) (Amount, bool) {
	r := new(big.Int).Sub(a.big(), b.big())
	if r.Sign() < 0 {
		return Amount{}, false
	}
	return Amount{v: r}, true
}

// Cmp compares a and b: -1 if a < b, 0 if equal, +1 if a > b.
func (a Amount) Cmp(b Amount) int { return a.big().Cmp(b.big()) }

// IsZero reports whether the amount is zero.
func (a Amount) IsZero() bool { return a.big().Sign() == 0 }

func (a Amount) String() string { return a.big().String() }

// MarshalText stores amounts as base-10 strings (stable across backends).
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Amount) UnmarshalText(b []byte) error {
	parsed, err := ParseAmount(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
