package auction

type ledgerState interface {
	AuctionGet(id [32]byte) (*Auction, bool, error)
	AuctionPut(*Auction) error
	AuctionDelete(id [32]byte) error
	AuctionListing(asset [20]byte) ([32]byte, bool, error)
	AuctionPutListing(asset [20]byte, id [32]byte) error
	AuctionDeleteListing(asset [20]byte) error
}

// Ledger is the keyed collection of auctions. It also tracks which auction
// currently holds each asset so an asset cannot be listed twice while its
// custody is unresolved.
type Ledger struct {
	state ledgerState
}

// NewLedger binds a ledger to the provided state backend.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state}
}

// Put inserts the auction when its identifier is free, or when the existing
// entry has closed at height. An open entry yields ErrDuplicateActiveAuction
// and a closed one still holding unsettled bids yields ErrAuctionUnsettled;
// neither mutates the store.
func (l *Ledger) Put(a *Auction, height uint64) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	sanitized, err := SanitizeAuction(a)
	if err != nil {
		return err
	}
	existing, ok, err := l.state.AuctionGet(sanitized.ID)
	if err != nil {
		return err
	}
	if ok {
		if existing.Open(height) {
			return ErrDuplicateActiveAuction
		}
		if !existing.Finalized && len(existing.Bids) > 0 {
			return ErrAuctionUnsettled
		}
	}
	listed, found, err := l.state.AuctionListing(sanitized.Asset)
	if err != nil {
		return err
	}
	if found && listed != sanitized.ID {
		holder, ok, err := l.state.AuctionGet(listed)
		if err != nil {
			return err
		}
		if ok && !holder.Finalized {
			return ErrAssetAlreadyListed
		}
	}
	if err := l.state.AuctionPut(sanitized); err != nil {
		return err
	}
	return l.state.AuctionPutListing(sanitized.Asset, sanitized.ID)
}

// Get returns a copy of the auction stored under id.
func (l *Ledger) Get(id [32]byte) (*Auction, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	a, ok, err := l.state.AuctionGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAuctionNotFound
	}
	return a.Clone(), nil
}

// Remove deletes the auction and releases its asset listing.
func (l *Ledger) Remove(id [32]byte) error {
	a, err := l.Get(id)
	if err != nil {
		return err
	}
	if err := l.state.AuctionDelete(id); err != nil {
		return err
	}
	return l.releaseListing(a)
}

// store persists a mutated auction. Bids and finalization are field-level
// changes made by the lifecycle engine.
func (l *Ledger) store(a *Auction) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	sanitized, err := SanitizeAuction(a)
	if err != nil {
		return err
	}
	if err := l.state.AuctionPut(sanitized); err != nil {
		return err
	}
	if sanitized.Finalized {
		return l.releaseListing(sanitized)
	}
	return nil
}

func (l *Ledger) releaseListing(a *Auction) error {
	listed, found, err := l.state.AuctionListing(a.Asset)
	if err != nil {
		return err
	}
	if !found || listed != a.ID {
		return nil
	}
	return l.state.AuctionDeleteListing(a.Asset)
}
