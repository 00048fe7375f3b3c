package bank

import (
	"errors"
	"math/big"
	"testing"

	"auctionhouse/core/types"
)

type mockAccounts struct {
	accounts map[string]*types.Account
}

func newMockAccounts() *mockAccounts {
	return &mockAccounts{accounts: make(map[string]*types.Account)}
}

func (m *mockAccounts) GetAccount(addr []byte) (*types.Account, error) {
	if acc, ok := m.accounts[string(addr)]; ok {
		return acc.Clone(), nil
	}
	return nil, nil
}

func (m *mockAccounts) PutAccount(addr []byte, account *types.Account) error {
	m.accounts[string(addr)] = account.Clone()
	return nil
}

func addr(fill byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = fill
	}
	return out
}

func TestTransferMovesBalance(t *testing.T) {
	state := newMockAccounts()
	alice, bob := addr(0x01), addr(0x02)
	if err := Credit(state, alice, big.NewInt(100), 1); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := Transfer(state, alice, bob, big.NewInt(40), 2); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	got, _ := Balance(state, alice)
	if got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("alice balance = %s, want 60", got)
	}
	got, _ = Balance(state, bob)
	if got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("bob balance = %s, want 40", got)
	}
	if acc := state.accounts[string(bob[:])]; acc.UpdatedAt != 2 {
		t.Fatalf("updatedAt = %d, want 2", acc.UpdatedAt)
	}
}

func TestDebitInsufficientBalance(t *testing.T) {
	state := newMockAccounts()
	err := Debit(state, addr(0x01), big.NewInt(1), 1)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestNegativeAmountRejected(t *testing.T) {
	state := newMockAccounts()
	if err := Credit(state, addr(0x01), big.NewInt(-1), 1); err == nil {
		t.Fatalf("expected negative amount to be rejected")
	}
}

func TestZeroAmountIsNoop(t *testing.T) {
	state := newMockAccounts()
	if err := Transfer(state, addr(0x01), addr(0x02), big.NewInt(0), 1); err != nil {
		t.Fatalf("zero transfer: %v", err)
	}
	if len(state.accounts) != 0 {
		t.Fatalf("zero transfer touched state")
	}
}
