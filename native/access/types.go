package access

import (
	"math/big"
	"strings"

	"auctionhouse/crypto"
)

// Permission describes what a key may authorize on its account.
type Permission uint8

const (
	PermissionFullAccess Permission = iota + 1
	PermissionFunctionCall
)

func (p Permission) String() string {
	switch p {
	case PermissionFullAccess:
		return "full_access"
	case PermissionFunctionCall:
		return "function_call"
	default:
		return "unknown"
	}
}

// Key is one credential registered on an account. Function-call keys may only
// call Methods on Receiver, and every call is charged against Allowance.
type Key struct {
	Credential crypto.Credential
	Permission Permission
	Allowance  *big.Int
	Receiver   [20]byte
	Methods    []string
	Nonce      uint64
}

// FullAccess reports whether the key carries unrestricted control.
func (k *Key) FullAccess() bool {
	return k != nil && k.Permission == PermissionFullAccess
}

// AllowsMethod reports whether a function-call key lists method.
func (k *Key) AllowsMethod(method string) bool {
	if k == nil {
		return false
	}
	if k.FullAccess() {
		return true
	}
	method = strings.TrimSpace(method)
	for _, m := range k.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the key.
func (k *Key) Clone() *Key {
	if k == nil {
		return nil
	}
	clone := *k
	if k.Allowance != nil {
		clone.Allowance = new(big.Int).Set(k.Allowance)
	} else {
		clone.Allowance = big.NewInt(0)
	}
	clone.Methods = append([]string(nil), k.Methods...)
	return &clone
}
