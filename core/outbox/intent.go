package outbox

import (
	"fmt"
	"math/big"
	"strings"

	"auctionhouse/crypto"
)

// Kind identifies the side effect an intent requests.
type Kind uint8

const (
	KindAddFullAccessKey Kind = iota + 1
	KindAddFunctionCallKey
	KindDeleteKey
	KindTransfer
	KindConfirmEscrow
	KindVoidListing
)

func (k Kind) String() string {
	switch k {
	case KindAddFullAccessKey:
		return "add_full_access_key"
	case KindAddFunctionCallKey:
		return "add_function_call_key"
	case KindDeleteKey:
		return "delete_key"
	case KindTransfer:
		return "transfer"
	case KindConfirmEscrow:
		return "confirm_escrow"
	case KindVoidListing:
		return "void_listing"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Intent is one deferred side effect. Key intents act on Account; transfers
// move Amount from Account to To. A non-zero Holder on a key grant means the
// credential must still be registered on Holder when the intent is applied.
// Listing intents act on the auction Subject whose asset is Account.
type Intent struct {
	Kind       Kind
	Account    [20]byte
	Credential crypto.Credential
	Holder     [20]byte
	Allowance  *big.Int
	Receiver   [20]byte
	Methods    []string
	To         [20]byte
	Amount     *big.Int
	Subject    [32]byte
}

// AddFullAccessKey grants cred unrestricted control over account.
func AddFullAccessKey(account [20]byte, cred crypto.Credential) Intent {
	return Intent{Kind: KindAddFullAccessKey, Account: account, Credential: cred, Allowance: big.NewInt(0), Amount: big.NewInt(0)}
}

// AddFullAccessKeyFor grants cred control over account on behalf of holder.
func AddFullAccessKeyFor(account [20]byte, cred crypto.Credential, holder [20]byte) Intent {
	in := AddFullAccessKey(account, cred)
	in.Holder = holder
	return in
}

// AddFunctionCallKey grants cred a key on account restricted to calling the
// listed methods on receiver, bounded by allowance.
func AddFunctionCallKey(account [20]byte, cred crypto.Credential, allowance *big.Int, receiver [20]byte, methods ...string) Intent {
	return Intent{
		Kind:       KindAddFunctionCallKey,
		Account:    account,
		Credential: cred,
		Allowance:  cloneAmount(allowance),
		Receiver:   receiver,
		Methods:    append([]string(nil), methods...),
		Amount:     big.NewInt(0),
	}
}

// DeleteKey revokes cred from account.
func DeleteKey(account [20]byte, cred crypto.Credential) Intent {
	return Intent{Kind: KindDeleteKey, Account: account, Credential: cred, Allowance: big.NewInt(0), Amount: big.NewInt(0)}
}

// Transfer moves amount from one account balance to another.
func Transfer(from, to [20]byte, amount *big.Int) Intent {
	return Intent{Kind: KindTransfer, Account: from, To: to, Allowance: big.NewInt(0), Amount: cloneAmount(amount)}
}

// ConfirmEscrow marks auction id as holding asset in custody.
func ConfirmEscrow(asset [20]byte, id [32]byte) Intent {
	return Intent{Kind: KindConfirmEscrow, Account: asset, Subject: id, Allowance: big.NewInt(0), Amount: big.NewInt(0)}
}

// VoidListing removes auction id and releases its listing of asset.
func VoidListing(asset [20]byte, id [32]byte) Intent {
	return Intent{Kind: KindVoidListing, Account: asset, Subject: id, Allowance: big.NewInt(0), Amount: big.NewInt(0)}
}

// Validate checks the intent is internally consistent.
func (i Intent) Validate() error {
	if !crypto.WellFormed(i.Account) {
		return fmt.Errorf("outbox: %s: account required", i.Kind)
	}
	switch i.Kind {
	case KindAddFullAccessKey, KindDeleteKey:
		if i.Credential.IsZero() {
			return fmt.Errorf("outbox: %s: credential required", i.Kind)
		}
	case KindAddFunctionCallKey:
		if i.Credential.IsZero() {
			return fmt.Errorf("outbox: %s: credential required", i.Kind)
		}
		if len(i.Methods) == 0 {
			return fmt.Errorf("outbox: %s: at least one method required", i.Kind)
		}
		for _, m := range i.Methods {
			if strings.TrimSpace(m) == "" {
				return fmt.Errorf("outbox: %s: empty method name", i.Kind)
			}
		}
		if i.Allowance == nil || i.Allowance.Sign() < 0 {
			return fmt.Errorf("outbox: %s: allowance must be non-negative", i.Kind)
		}
	case KindTransfer:
		if !crypto.WellFormed(i.To) {
			return fmt.Errorf("outbox: transfer: recipient required")
		}
		if i.Amount == nil || i.Amount.Sign() <= 0 {
			return fmt.Errorf("outbox: transfer: amount must be positive")
		}
	case KindConfirmEscrow, KindVoidListing:
		if i.Subject == ([32]byte{}) {
			return fmt.Errorf("outbox: %s: auction required", i.Kind)
		}
	default:
		return fmt.Errorf("outbox: unknown intent kind %d", i.Kind)
	}
	return nil
}

// Clone returns a deep copy of the intent.
func (i Intent) Clone() Intent {
	clone := i
	clone.Allowance = cloneAmount(i.Allowance)
	clone.Amount = cloneAmount(i.Amount)
	clone.Methods = append([]string(nil), i.Methods...)
	return clone
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
