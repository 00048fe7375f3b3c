package state

import (
	"fmt"

	"auctionhouse/core/types"
	"auctionhouse/crypto"
	"auctionhouse/native/access"
)

// GetAccount returns the stored account for addr, or an empty account when
// none exists.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if len(addr) != 20 {
		return nil, fmt.Errorf("state: account address must be 20 bytes")
	}
	acc := new(types.Account)
	ok, err := m.KVGet(accountKey(addr), acc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.EnsureAccount(nil), nil
	}
	return types.EnsureAccount(acc), nil
}

// PutAccount stores the account for addr.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if len(addr) != 20 {
		return fmt.Errorf("state: account address must be 20 bytes")
	}
	return m.KVPut(accountKey(addr), types.EnsureAccount(account.Clone()))
}

// AccessKeys lists the keys registered on account.
func (m *Manager) AccessKeys(account [20]byte) ([]*access.Key, error) {
	var keys []*access.Key
	if _, err := m.KVGet(accessKeysKey(account), &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

// PutAccessKeys replaces the key set of account. An empty set removes the
// record.
func (m *Manager) PutAccessKeys(account [20]byte, keys []*access.Key) error {
	if len(keys) == 0 {
		return m.KVDelete(accessKeysKey(account))
	}
	return m.KVPut(accessKeysKey(account), keys)
}

// HasFullAccess reports whether cred is a full-access key on account.
func (m *Manager) HasFullAccess(account [20]byte, cred crypto.Credential) bool {
	return access.NewRegistry(m).HasFullAccess(account, cred)
}
