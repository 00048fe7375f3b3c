package auction

import (
	"errors"

	nativecommon "auctionhouse/native/common"
)

var (
	ErrNotOwner               = errors.New("auction: caller is not the owner")
	ErrOwnerCannotBid         = errors.New("auction: owner cannot bid on own auction")
	ErrBidNotPositive         = errors.New("auction: bid must be positive")
	ErrBidBelowStart          = errors.New("auction: bid below starting bid")
	ErrAuctionClosed          = errors.New("auction: auction closed")
	ErrAuctionNotClosed       = errors.New("auction: auction not yet closed")
	ErrDuplicateActiveAuction = errors.New("auction: auction already happening")
	ErrAuctionUnsettled       = errors.New("auction: closed auction still holds unsettled bids")
	ErrAssetAlreadyListed     = errors.New("auction: asset already listed in an unresolved auction")
	ErrAlreadyFinalized       = errors.New("auction: already finalized")
	ErrMalformedIdentity      = errors.New("auction: malformed identity")
	ErrAssetIsCaller          = errors.New("auction: asset must differ from caller")
	ErrInvalidCloseBlock      = errors.New("auction: close block must be after the current height")
	ErrAssetNotControlled     = errors.New("auction: caller credential does not control the asset")
	ErrInsufficientDeposit    = errors.New("auction: deposit does not cover the listing fee")
	ErrAuctionNotFound        = errors.New("auction: auction not found")
	ErrCustodianNotConfigured = errors.New("auction: escrow custodian not configured")
	ErrCustodianCannotList    = errors.New("auction: custodian cannot list assets")
	ErrNegativeStartingBid    = errors.New("auction: starting bid must be non-negative")
	ErrEscrowPending          = errors.New("auction: asset not yet held in escrow")
	ErrAuctionEscrowed        = errors.New("auction: escrowed auction cannot be voided")

	// ErrPaused is returned by create and place_bid while the house is paused.
	ErrPaused = nativecommon.ErrModulePaused

	errNilState = errors.New("auction engine: state not configured")
)
