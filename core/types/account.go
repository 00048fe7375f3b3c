package types

import "math/big"

// Account holds the spendable balance of an identity. Access keys live in
// the access registry and are stored separately.
type Account struct {
	Balance   *big.Int `json:"balance"`
	UpdatedAt uint64   `json:"updatedAt"`
}

// EnsureAccount returns acc with a non-nil balance, allocating a fresh account
// when acc is nil.
func EnsureAccount(acc *Account) *Account {
	if acc == nil {
		return &Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return EnsureAccount(nil)
	}
	clone := *a
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	} else {
		clone.Balance = big.NewInt(0)
	}
	return &clone
}
