package auction

import (
	"math/big"

	"auctionhouse/crypto"
	nativecommon "auctionhouse/native/common"
)

// Settings is the house-wide configuration the lifecycle consults on every
// call. It is written once at deployment and afterwards only the pause flag
// changes.
type Settings struct {
	Version                uint64
	Admin                  [20]byte
	HouseAccount           [20]byte
	Paused                 bool
	HasCustodian           bool
	Custodian              [20]byte
	HasCustodianCredential bool
	CustodianCredential    crypto.Credential
	DefaultCloseOffset     uint64
	RecallAllowance        *big.Int
	ListingFee             *big.Int
	CallCost               *big.Int
}

// Clone returns a deep copy of the settings.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	clone := *s
	clone.RecallAllowance = cloneBigInt(s.RecallAllowance)
	clone.ListingFee = cloneBigInt(s.ListingFee)
	clone.CallCost = cloneBigInt(s.CallCost)
	return &clone
}

// CustodyReady reports whether both custodian fields are configured.
func (s *Settings) CustodyReady() bool {
	return s != nil && s.HasCustodian && s.HasCustodianCredential && !s.CustodianCredential.IsZero()
}

// CloseOffset returns the configured default close offset.
func (s *Settings) CloseOffset() uint64 {
	if s == nil || s.DefaultCloseOffset == 0 {
		return DefaultCloseOffset
	}
	return s.DefaultCloseOffset
}

// Pauses exposes the pause flag through the shared guard view.
func (s *Settings) Pauses() nativecommon.PauseView {
	if s == nil {
		return nil
	}
	return nativecommon.PauseSet{nativecommon.ModuleAuction: s.Paused}
}
