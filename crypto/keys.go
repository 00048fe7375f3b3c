package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable part used when rendering account
// identities as bech32 strings.
type AddressPrefix string

const (
	AccountPrefix AddressPrefix = "auc"
)

// CredentialLength is the size of a compressed secp256k1 public key.
const CredentialLength = 33

var (
	ErrMalformedAddress    = errors.New("crypto: malformed address")
	ErrMalformedCredential = errors.New("crypto: malformed credential")
)

// Address represents a 20-byte account identity with a specific prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != 20 {
		panic("address must be 20 bytes long")
	}
	return Address{prefix: prefix, bytes: append([]byte(nil), b...)}
}

// AccountAddress renders a raw identity with the account prefix.
func AccountAddress(raw [20]byte) Address {
	return NewAddress(AccountPrefix, raw[:])
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Raw returns the address as a fixed-size array.
func (a Address) Raw() [20]byte {
	var out [20]byte
	copy(out[:], a.bytes)
	return out
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(strings.TrimSpace(addrStr))
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != 20 {
		return Address{}, fmt.Errorf("%w: expected 20 bytes, got %d", ErrMalformedAddress, len(conv))
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}

// ParseIdentity decodes an account identity and enforces that it is well
// formed: the account prefix, exactly 20 bytes and not the zero address.
func ParseIdentity(addrStr string) ([20]byte, error) {
	addr, err := DecodeAddress(addrStr)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: %v", ErrMalformedAddress, err)
	}
	if addr.Prefix() != AccountPrefix {
		return [20]byte{}, fmt.Errorf("%w: unexpected prefix %q", ErrMalformedAddress, addr.Prefix())
	}
	raw := addr.Raw()
	if !WellFormed(raw) {
		return [20]byte{}, fmt.Errorf("%w: zero address", ErrMalformedAddress)
	}
	return raw, nil
}

// WellFormed reports whether the raw identity can name an account.
func WellFormed(raw [20]byte) bool {
	return raw != ([20]byte{})
}

// Credential is a compressed secp256k1 public key authorising actions for an
// account.
type Credential [CredentialLength]byte

// IsZero reports whether the credential is unset.
func (c Credential) IsZero() bool {
	return c == (Credential{})
}

func (c Credential) String() string {
	return "0x" + hex.EncodeToString(c[:])
}

// ParseCredential decodes a hex encoded compressed public key and verifies the
// point lies on the curve.
func ParseCredential(raw string) (Credential, error) {
	var out Credential
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}
	return CredentialFromBytes(decoded)
}

// CredentialFromBytes validates and copies a compressed public key.
func CredentialFromBytes(b []byte) (Credential, error) {
	var out Credential
	if len(b) != CredentialLength {
		return out, fmt.Errorf("%w: expected %d bytes, got %d", ErrMalformedCredential, CredentialLength, len(b))
	}
	if _, err := crypto.DecompressPubkey(b); err != nil {
		return out, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}
	copy(out[:], b)
	return out, nil
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Sign produces a 65-byte recoverable signature over the 32-byte digest.
func (k *PrivateKey) Sign(digest []byte) ([]byte, error) {
	return crypto.Sign(digest, k.PrivateKey)
}

func (k *PublicKey) Address() Address {
	addrBytes := crypto.PubkeyToAddress(*k.PublicKey).Bytes()
	return NewAddress(AccountPrefix, addrBytes)
}

// Credential returns the compressed form of the public key.
func (k *PublicKey) Credential() Credential {
	var out Credential
	copy(out[:], crypto.CompressPubkey(k.PublicKey))
	return out
}

// PrivateKeyFromBytes parses a raw 32-byte secp256k1 secret.
func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// RecoverCredential returns the credential that produced sig over digest.
func RecoverCredential(digest, sig []byte) (Credential, error) {
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return Credential{}, err
	}
	var out Credential
	copy(out[:], crypto.CompressPubkey(pub))
	return out, nil
}
