package bank

import (
	"errors"
	"fmt"
	"math/big"

	"auctionhouse/core/types"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	errNilState            = errors.New("bank: state not configured")
)

type accountState interface {
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

func normalizeAmount(amount *big.Int) (*big.Int, error) {
	if amount == nil {
		return big.NewInt(0), nil
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("bank: negative amount")
	}
	return new(big.Int).Set(amount), nil
}

// Debit removes amount from addr's balance. Zero amounts are a no-op.
func Debit(state accountState, addr [20]byte, amount *big.Int, height uint64) error {
	if state == nil {
		return errNilState
	}
	amt, err := normalizeAmount(amount)
	if err != nil || amt.Sign() == 0 {
		return err
	}
	acc, err := state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	acc = types.EnsureAccount(acc)
	if acc.Balance.Cmp(amt) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, acc.Balance, amt)
	}
	acc.Balance = new(big.Int).Sub(acc.Balance, amt)
	acc.UpdatedAt = height
	return state.PutAccount(addr[:], acc)
}

// Credit adds amount to addr's balance. Zero amounts are a no-op.
func Credit(state accountState, addr [20]byte, amount *big.Int, height uint64) error {
	if state == nil {
		return errNilState
	}
	amt, err := normalizeAmount(amount)
	if err != nil || amt.Sign() == 0 {
		return err
	}
	acc, err := state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	acc = types.EnsureAccount(acc)
	acc.Balance = new(big.Int).Add(acc.Balance, amt)
	acc.UpdatedAt = height
	return state.PutAccount(addr[:], acc)
}

// Transfer moves amount between two balances. Callers run it inside a unit of
// work so a failed credit never leaves a dangling debit.
func Transfer(state accountState, from, to [20]byte, amount *big.Int, height uint64) error {
	if from == to {
		return nil
	}
	if err := Debit(state, from, amount, height); err != nil {
		return err
	}
	return Credit(state, to, amount, height)
}

// Balance returns the current balance of addr.
func Balance(state accountState, addr [20]byte) (*big.Int, error) {
	if state == nil {
		return nil, errNilState
	}
	acc, err := state.GetAccount(addr[:])
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(types.EnsureAccount(acc).Balance), nil
}
