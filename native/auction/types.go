package auction

import (
	"fmt"
	"math/big"

	"auctionhouse/crypto"
)

// DefaultCloseOffset is added to the current height when create omits the
// close block.
const DefaultCloseOffset uint64 = 1_000_000

// Phase is the derived lifecycle state of an auction at a given height.
// Cancelled auctions are removed from the ledger and have no phase.
type Phase uint8

const (
	PhaseOpen Phase = iota + 1
	PhaseClosed
	PhaseFinalized
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "open"
	case PhaseClosed:
		return "closed"
	case PhaseFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// Bid is a bidder's current standing offer. Seq orders bids by the moment the
// bidder reached the recorded amount.
type Bid struct {
	Bidder     [20]byte
	Credential crypto.Credential
	Amount     *big.Int
	Seq        uint64
	PlacedAt   uint64
}

// Auction is one timed sale of the control capability over Asset. The
// custodian fields record who holds the capability while the auction runs.
// Escrowed is set once the lock group has moved the capability to the
// custodian; until then the auction accepts no bids.
type Auction struct {
	ID                  [32]byte
	Owner               [20]byte
	OwnerCredential     crypto.Credential
	Asset               [20]byte
	Beneficiary         [20]byte
	Custodian           [20]byte
	CustodianCredential crypto.Credential
	StartingBid         *big.Int
	CreatedAt           uint64
	CloseBlock          uint64
	Finalized           bool
	Winner              [20]byte
	WinningBid          *big.Int
	Bids                []Bid
	NextBidSeq          uint64
	Escrowed            bool `rlp:"optional"`
}

// Phase reports the lifecycle state at height.
func (a *Auction) Phase(height uint64) Phase {
	switch {
	case a.Finalized:
		return PhaseFinalized
	case height <= a.CloseBlock:
		return PhaseOpen
	default:
		return PhaseClosed
	}
}

// Open reports whether the auction still accepts bids at height.
func (a *Auction) Open(height uint64) bool {
	return a.Phase(height) == PhaseOpen
}

// HasWinner reports whether finalization selected a winning bidder.
func (a *Auction) HasWinner() bool {
	return a.Finalized && a.Winner != ([20]byte{})
}

func (a *Auction) bidIndex(bidder [20]byte) int {
	for i := range a.Bids {
		if a.Bids[i].Bidder == bidder {
			return i
		}
	}
	return -1
}

// BidOf returns the current bid for bidder.
func (a *Auction) BidOf(bidder [20]byte) (Bid, bool) {
	idx := a.bidIndex(bidder)
	if idx < 0 {
		return Bid{}, false
	}
	return a.Bids[idx].clone(), true
}

// HighestBid returns the winning bid: the largest amount, and among equal
// amounts the one with the lowest sequence.
func (a *Auction) HighestBid() (Bid, bool) {
	best := -1
	for i := range a.Bids {
		if best < 0 {
			best = i
			continue
		}
		cmp := a.Bids[i].Amount.Cmp(a.Bids[best].Amount)
		if cmp > 0 || (cmp == 0 && a.Bids[i].Seq < a.Bids[best].Seq) {
			best = i
		}
	}
	if best < 0 {
		return Bid{}, false
	}
	return a.Bids[best].clone(), true
}

// TotalEscrowed sums every recorded bid.
func (a *Auction) TotalEscrowed() *big.Int {
	total := big.NewInt(0)
	for i := range a.Bids {
		total.Add(total, a.Bids[i].Amount)
	}
	return total
}

func (b Bid) clone() Bid {
	out := b
	if b.Amount != nil {
		out.Amount = new(big.Int).Set(b.Amount)
	} else {
		out.Amount = big.NewInt(0)
	}
	return out
}

// Clone returns a deep copy of the auction so callers can mutate it without
// affecting the stored instance.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	clone := *a
	clone.StartingBid = cloneBigInt(a.StartingBid)
	clone.WinningBid = cloneBigInt(a.WinningBid)
	clone.Bids = make([]Bid, len(a.Bids))
	for i := range a.Bids {
		clone.Bids[i] = a.Bids[i].clone()
	}
	return &clone
}

// SanitizeAuction validates the stored invariants of an auction record and
// returns a normalised copy.
func SanitizeAuction(a *Auction) (*Auction, error) {
	if a == nil {
		return nil, fmt.Errorf("auction: nil auction")
	}
	clone := a.Clone()
	if clone.Owner == clone.Asset {
		return nil, ErrAssetIsCaller
	}
	if !crypto.WellFormed(clone.Owner) || !crypto.WellFormed(clone.Asset) {
		return nil, ErrMalformedIdentity
	}
	if clone.CloseBlock <= clone.CreatedAt {
		return nil, ErrInvalidCloseBlock
	}
	if clone.StartingBid.Sign() < 0 {
		return nil, ErrNegativeStartingBid
	}
	seen := make(map[[20]byte]struct{}, len(clone.Bids))
	for _, bid := range clone.Bids {
		if bid.Bidder == clone.Owner {
			return nil, ErrOwnerCannotBid
		}
		if bid.Amount.Sign() <= 0 {
			return nil, ErrBidNotPositive
		}
		if _, dup := seen[bid.Bidder]; dup {
			return nil, fmt.Errorf("auction: duplicate bid entry for bidder")
		}
		if bid.Seq >= clone.NextBidSeq {
			return nil, fmt.Errorf("auction: bid sequence %d out of range", bid.Seq)
		}
		seen[bid.Bidder] = struct{}{}
	}
	if len(clone.Bids) > 0 && !clone.Escrowed {
		return nil, ErrEscrowPending
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
