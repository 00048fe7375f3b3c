package access

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"auctionhouse/crypto"
)

var (
	ErrKeyNotFound        = errors.New("access: key not registered")
	ErrBadNonce           = errors.New("access: nonce mismatch")
	ErrMethodNotAllowed   = errors.New("access: method not allowed for key")
	ErrAllowanceExhausted = errors.New("access: allowance exhausted")
	ErrLastController     = errors.New("access: refusing to remove the last full-access key")
	errNilState           = errors.New("access: state not configured")
)

type keyState interface {
	AccessKeys(account [20]byte) ([]*Key, error)
	PutAccessKeys(account [20]byte, keys []*Key) error
}

// Registry manages the credentials allowed to act for each account.
type Registry struct {
	state keyState
}

// NewRegistry binds a registry to the provided state backend.
func NewRegistry(state keyState) *Registry {
	return &Registry{state: state}
}

func (r *Registry) load(account [20]byte) ([]*Key, error) {
	if r == nil || r.state == nil {
		return nil, errNilState
	}
	return r.state.AccessKeys(account)
}

func find(keys []*Key, cred crypto.Credential) int {
	for i, k := range keys {
		if k != nil && k.Credential == cred {
			return i
		}
	}
	return -1
}

// Keys lists every key registered on account.
func (r *Registry) Keys(account [20]byte) ([]*Key, error) {
	keys, err := r.load(account)
	if err != nil {
		return nil, err
	}
	out := make([]*Key, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.Clone())
	}
	return out, nil
}

// Key returns the key registered for cred on account.
func (r *Registry) Key(account [20]byte, cred crypto.Credential) (*Key, error) {
	keys, err := r.load(account)
	if err != nil {
		return nil, err
	}
	idx := find(keys, cred)
	if idx < 0 {
		return nil, ErrKeyNotFound
	}
	return keys[idx].Clone(), nil
}

// HasFullAccess reports whether cred controls account without restriction.
func (r *Registry) HasFullAccess(account [20]byte, cred crypto.Credential) bool {
	key, err := r.Key(account, cred)
	return err == nil && key.FullAccess()
}

// upsert replaces any existing key for the credential. The nonce survives the
// replacement so a re-granted key cannot replay old transactions.
func (r *Registry) upsert(account [20]byte, key *Key) error {
	keys, err := r.load(account)
	if err != nil {
		return err
	}
	if idx := find(keys, key.Credential); idx >= 0 {
		key.Nonce = keys[idx].Nonce
		keys[idx] = key
	} else {
		keys = append(keys, key)
	}
	return r.state.PutAccessKeys(account, keys)
}

// GrantFull registers cred as a full-access key on account.
func (r *Registry) GrantFull(account [20]byte, cred crypto.Credential) error {
	if cred.IsZero() {
		return fmt.Errorf("access: credential required")
	}
	return r.upsert(account, &Key{Credential: cred, Permission: PermissionFullAccess, Allowance: big.NewInt(0)})
}

// GrantFunctionCall registers cred as a restricted key on account. An existing
// key for the same credential is replaced, which downgrades a full-access key.
func (r *Registry) GrantFunctionCall(account [20]byte, cred crypto.Credential, allowance *big.Int, receiver [20]byte, methods []string) error {
	if cred.IsZero() {
		return fmt.Errorf("access: credential required")
	}
	if allowance == nil || allowance.Sign() < 0 {
		return fmt.Errorf("access: allowance must be non-negative")
	}
	cleaned := make([]string, 0, len(methods))
	for _, m := range methods {
		if trimmed := strings.TrimSpace(m); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	if len(cleaned) == 0 {
		return fmt.Errorf("access: at least one method required")
	}
	return r.upsert(account, &Key{
		Credential: cred,
		Permission: PermissionFunctionCall,
		Allowance:  new(big.Int).Set(allowance),
		Receiver:   receiver,
		Methods:    cleaned,
	})
}

// Revoke removes cred from account. Revoking an absent key is a no-op, but
// removing the account's only full-access key is refused so the account never
// ends up without a controller.
func (r *Registry) Revoke(account [20]byte, cred crypto.Credential) error {
	keys, err := r.load(account)
	if err != nil {
		return err
	}
	idx := find(keys, cred)
	if idx < 0 {
		return nil
	}
	if keys[idx].FullAccess() {
		remaining := 0
		for i, k := range keys {
			if i != idx && k.FullAccess() {
				remaining++
			}
		}
		if remaining == 0 {
			return ErrLastController
		}
	}
	keys = append(keys[:idx], keys[idx+1:]...)
	return r.state.PutAccessKeys(account, keys)
}

// Authorize checks that cred may call method on receiver for account, then
// consumes the nonce and charges cost against a function-call key's
// allowance.
func (r *Registry) Authorize(account [20]byte, cred crypto.Credential, receiver [20]byte, method string, nonce uint64, cost *big.Int) (*Key, error) {
	keys, err := r.load(account)
	if err != nil {
		return nil, err
	}
	idx := find(keys, cred)
	if idx < 0 {
		return nil, ErrKeyNotFound
	}
	key := keys[idx]
	if nonce != key.Nonce+1 {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrBadNonce, key.Nonce+1, nonce)
	}
	if !key.FullAccess() {
		if key.Receiver != receiver || !key.AllowsMethod(method) {
			return nil, fmt.Errorf("%w: %s", ErrMethodNotAllowed, method)
		}
		charge := big.NewInt(0)
		if cost != nil && cost.Sign() > 0 {
			charge = cost
		}
		if key.Allowance == nil || key.Allowance.Cmp(charge) < 0 {
			return nil, ErrAllowanceExhausted
		}
		key.Allowance = new(big.Int).Sub(key.Allowance, charge)
	}
	key.Nonce = nonce
	if err := r.state.PutAccessKeys(account, keys); err != nil {
		return nil, err
	}
	return key.Clone(), nil
}
