package auction

import (
	"strconv"

	"auctionhouse/core/types"
	"auctionhouse/crypto"
)

const (
	EventTypeAuctionCreated   = "auction.created"
	EventTypeAuctionBid       = "auction.bid"
	EventTypeAuctionCancelled = "auction.cancelled"
	EventTypeAuctionFinalized = "auction.finalized"
	EventTypeAuctionVoided    = "auction.voided"
)

type auctionEvent struct {
	evt *types.Event
}

func (e auctionEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e auctionEvent) Event() *types.Event { return e.evt }

func addr(raw [20]byte) string {
	return crypto.AccountAddress(raw).String()
}

func baseAttributes(a *Auction) map[string]string {
	return map[string]string{
		"id":         FormatID(a.ID),
		"owner":      addr(a.Owner),
		"asset":      addr(a.Asset),
		"closeBlock": strconv.FormatUint(a.CloseBlock, 10),
	}
}

// NewCreatedEvent describes a freshly listed auction.
func NewCreatedEvent(a *Auction, height, outboxSeq uint64) *types.Event {
	attrs := baseAttributes(a)
	attrs["beneficiary"] = addr(a.Beneficiary)
	attrs["startingBid"] = a.StartingBid.String()
	attrs["outboxSeq"] = strconv.FormatUint(outboxSeq, 10)
	return &types.Event{Type: EventTypeAuctionCreated, Height: height, Attributes: attrs}
}

// NewBidEvent describes an accepted bid. previous is empty for a first bid.
func NewBidEvent(a *Auction, bid Bid, previous string, height, outboxSeq uint64) *types.Event {
	attrs := baseAttributes(a)
	attrs["bidder"] = addr(bid.Bidder)
	attrs["amount"] = bid.Amount.String()
	attrs["seq"] = strconv.FormatUint(bid.Seq, 10)
	if previous != "" {
		attrs["replaced"] = previous
	}
	attrs["outboxSeq"] = strconv.FormatUint(outboxSeq, 10)
	return &types.Event{Type: EventTypeAuctionBid, Height: height, Attributes: attrs}
}

// NewCancelledEvent describes an owner withdrawal.
func NewCancelledEvent(a *Auction, height, outboxSeq uint64) *types.Event {
	attrs := baseAttributes(a)
	attrs["refunds"] = strconv.Itoa(len(a.Bids))
	attrs["outboxSeq"] = strconv.FormatUint(outboxSeq, 10)
	return &types.Event{Type: EventTypeAuctionCancelled, Height: height, Attributes: attrs}
}

// NewFinalizedEvent describes the resolution of an auction.
func NewFinalizedEvent(a *Auction, height, outboxSeq uint64) *types.Event {
	attrs := baseAttributes(a)
	if a.HasWinner() {
		attrs["winner"] = addr(a.Winner)
		attrs["winningBid"] = a.WinningBid.String()
	} else {
		attrs["winner"] = ""
	}
	attrs["outboxSeq"] = strconv.FormatUint(outboxSeq, 10)
	return &types.Event{Type: EventTypeAuctionFinalized, Height: height, Attributes: attrs}
}

// NewVoidedEvent describes a listing removed because its asset could not be
// locked with the custodian.
func NewVoidedEvent(a *Auction, height uint64) *types.Event {
	return &types.Event{Type: EventTypeAuctionVoided, Height: height, Attributes: baseAttributes(a)}
}
