package auction

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const idHexLength = 64

// ComputeID derives the auction identifier as
// keccak256(owner ‖ asset ‖ uint64_be(closeBlock)). Every field is fixed width
// so the concatenation is unambiguous.
func ComputeID(owner, asset [20]byte, closeBlock uint64) [32]byte {
	var height [8]byte
	binary.BigEndian.PutUint64(height[:], closeBlock)
	return ethcrypto.Keccak256Hash(owner[:], asset[:], height[:])
}

// FormatID renders the identifier as lowercase hex without a prefix.
func FormatID(id [32]byte) string {
	return hex.EncodeToString(id[:])
}

// ParseID accepts a 64 character hex identifier with or without a 0x prefix.
func ParseID(raw string) ([32]byte, error) {
	var id [32]byte
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		trimmed = trimmed[2:]
	}
	if len(trimmed) != idHexLength {
		return id, fmt.Errorf("auction: id must be 32 bytes (got %d hex chars)", len(trimmed))
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("auction: decode id: %w", err)
	}
	copy(id[:], decoded)
	return id, nil
}
