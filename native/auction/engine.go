package auction

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"auctionhouse/core/events"
	"auctionhouse/core/outbox"
	"auctionhouse/core/types"
	"auctionhouse/crypto"
	nativecommon "auctionhouse/native/common"
)

// Outbox origins recorded on the groups each operation enqueues.
const (
	OriginCreate   = "auction.create"
	OriginBid      = "auction.bid"
	OriginCancel   = "auction.cancel"
	OriginFinalize = "auction.finalize"
)

type engineState interface {
	ledgerState
	AuctionSettings() (*Settings, error)
	HasFullAccess(account [20]byte, cred crypto.Credential) bool
	EnqueueGroup(*outbox.Group) (uint64, error)
}

// Call carries the authorized caller of an operation. Deposit has already been
// moved from Signer to the house account by the transaction layer.
type Call struct {
	Signer     [20]byte
	Credential crypto.Credential
	Deposit    *big.Int
}

// CreateParams are the caller-supplied fields of a new auction. A zero
// CloseBlock selects the default offset from the current height; a zero
// Beneficiary pays the owner.
type CreateParams struct {
	Asset       [20]byte
	Beneficiary [20]byte
	CloseBlock  uint64
	StartingBid *big.Int
}

// Receipt reports the outcome of a mutating operation together with the
// outbox group that carries its deferred side effects.
type Receipt struct {
	Auction   *Auction
	OutboxSeq uint64
}

// Engine implements the auction lifecycle on top of the ledger, the escrow
// intent builders and the outbox.
type Engine struct {
	state    engineState
	ledger   *Ledger
	emitter  events.Emitter
	heightFn func() uint64
}

// NewEngine creates an engine with a no-op emitter and a zero height source.
func NewEngine() *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		heightFn: func() uint64 { return 0 },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) {
	e.state = state
	e.ledger = NewLedger(state)
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetHeightFunc overrides the height source.
func (e *Engine) SetHeightFunc(height func() uint64) {
	if height == nil {
		e.heightFn = func() uint64 { return 0 }
		return
	}
	e.heightFn = height
}

func (e *Engine) height() uint64 {
	if e == nil || e.heightFn == nil {
		return 0
	}
	return e.heightFn()
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(auctionEvent{evt: event})
}

func (e *Engine) settings() (*Settings, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	s, err := e.state.AuctionSettings()
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("auction: house settings missing")
	}
	return s, nil
}

func depositOf(call Call) *big.Int {
	return cloneBigInt(call.Deposit)
}

// returnDeposit pays an unused deposit back from the house account.
func returnDeposit(s *Settings, call Call, amount *big.Int) []outbox.Intent {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	return []outbox.Intent{outbox.Transfer(s.HouseAccount, call.Signer, amount)}
}

// Get returns the auction stored under id.
func (e *Engine) Get(id [32]byte) (*Auction, error) {
	if e == nil || e.ledger == nil {
		return nil, errNilState
	}
	return e.ledger.Get(id)
}

// Create lists the asset, locks its capability with the custodian and grants
// the owner a cancel-only recall key.
func (e *Engine) Create(call Call, params CreateParams) (*Receipt, error) {
	s, err := e.settings()
	if err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(s.Pauses(), nativecommon.ModuleAuction); err != nil {
		return nil, err
	}
	if !crypto.WellFormed(call.Signer) || !crypto.WellFormed(params.Asset) {
		return nil, ErrMalformedIdentity
	}
	if params.Asset == call.Signer {
		return nil, ErrAssetIsCaller
	}
	if listsWithCustody(s, call, params.Asset) {
		return nil, ErrCustodianCannotList
	}
	beneficiary := params.Beneficiary
	if beneficiary == ([20]byte{}) {
		beneficiary = call.Signer
	}
	if !e.state.HasFullAccess(params.Asset, call.Credential) {
		return nil, ErrAssetNotControlled
	}
	height := e.height()
	closeBlock := params.CloseBlock
	if closeBlock == 0 {
		offset := s.CloseOffset()
		if height > math.MaxUint64-offset {
			return nil, ErrInvalidCloseBlock
		}
		closeBlock = height + offset
	}
	if closeBlock <= height {
		return nil, ErrInvalidCloseBlock
	}
	if !s.CustodyReady() {
		return nil, ErrCustodianNotConfigured
	}
	startingBid := cloneBigInt(params.StartingBid)
	if startingBid.Sign() < 0 {
		return nil, ErrNegativeStartingBid
	}
	deposit := depositOf(call)
	fee := cloneBigInt(s.ListingFee)
	if deposit.Cmp(fee) < 0 {
		return nil, fmt.Errorf("%w: need %s, attached %s", ErrInsufficientDeposit, fee, deposit)
	}

	a := &Auction{
		ID:                  ComputeID(call.Signer, params.Asset, closeBlock),
		Owner:               call.Signer,
		OwnerCredential:     call.Credential,
		Asset:               params.Asset,
		Beneficiary:         beneficiary,
		Custodian:           s.Custodian,
		CustodianCredential: s.CustodianCredential,
		StartingBid:         startingBid,
		CreatedAt:           height,
		CloseBlock:          closeBlock,
		WinningBid:          big.NewInt(0),
	}
	if err := e.ledger.Put(a, height); err != nil {
		return nil, err
	}

	group := outbox.NewGroup(OriginCreate, a.ID, height, Lock(a.Asset, a.OwnerCredential, a.CustodianCredential)...)
	group.Append(GrantRecallCapability(a.Owner, a.OwnerCredential, s.RecallAllowance, s.HouseAccount))
	if fee.Sign() > 0 {
		group.Append(outbox.Transfer(s.HouseAccount, a.Custodian, fee))
	}
	group.Append(returnDeposit(s, call, new(big.Int).Sub(deposit, fee))...)
	group.Append(outbox.ConfirmEscrow(a.Asset, a.ID))
	group.WithFallback(append([]outbox.Intent{outbox.VoidListing(a.Asset, a.ID)}, returnDeposit(s, call, deposit)...)...)
	seq, err := e.state.EnqueueGroup(group)
	if err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(a, height, seq))
	return &Receipt{Auction: a.Clone(), OutboxSeq: seq}, nil
}

// PlaceBid records the attached deposit as the caller's bid, replacing any
// earlier bid from the same caller and refunding it.
func (e *Engine) PlaceBid(call Call, id [32]byte) (*Receipt, error) {
	s, err := e.settings()
	if err != nil {
		return nil, err
	}
	if err := nativecommon.Guard(s.Pauses(), nativecommon.ModuleAuction); err != nil {
		return nil, err
	}
	a, err := e.ledger.Get(id)
	if err != nil {
		return nil, err
	}
	if call.Signer == a.Owner {
		return nil, ErrOwnerCannotBid
	}
	amount := depositOf(call)
	if amount.Sign() <= 0 {
		return nil, ErrBidNotPositive
	}
	if a.Finalized {
		return nil, ErrAlreadyFinalized
	}
	if !a.Escrowed {
		return nil, ErrEscrowPending
	}
	height := e.height()
	if !a.Open(height) {
		return nil, ErrAuctionClosed
	}
	if amount.Cmp(a.StartingBid) < 0 {
		return nil, fmt.Errorf("%w: minimum %s", ErrBidBelowStart, a.StartingBid)
	}

	group := outbox.NewGroup(OriginBid, a.ID, height, outbox.Transfer(s.HouseAccount, a.Custodian, amount))
	bid := Bid{
		Bidder:     call.Signer,
		Credential: call.Credential,
		Amount:     amount,
		Seq:        a.NextBidSeq,
		PlacedAt:   height,
	}
	previous := ""
	if idx := a.bidIndex(call.Signer); idx >= 0 {
		prior := a.Bids[idx]
		previous = prior.Amount.String()
		group.Append(outbox.Transfer(a.Custodian, prior.Bidder, prior.Amount))
		a.Bids[idx] = bid
	} else {
		a.Bids = append(a.Bids, bid)
	}
	a.NextBidSeq++
	if err := e.ledger.store(a); err != nil {
		return nil, err
	}
	seq, err := e.state.EnqueueGroup(group)
	if err != nil {
		return nil, err
	}
	e.emit(NewBidEvent(a, bid, previous, height, seq))
	return &Receipt{Auction: a.Clone(), OutboxSeq: seq}, nil
}

// Cancel withdraws an open auction: every bidder is refunded, the asset is
// returned to the owner and the record is removed. Once the close block has
// passed only Finalize can resolve the auction.
func (e *Engine) Cancel(call Call, id [32]byte) (*Receipt, error) {
	s, err := e.settings()
	if err != nil {
		return nil, err
	}
	a, err := e.ledger.Get(id)
	if err != nil {
		return nil, err
	}
	if call.Signer != a.Owner {
		return nil, ErrNotOwner
	}
	if a.Finalized {
		return nil, ErrAlreadyFinalized
	}
	if !a.Escrowed {
		return nil, ErrEscrowPending
	}
	height := e.height()
	if !a.Open(height) {
		return nil, ErrAuctionClosed
	}

	group := outbox.NewGroup(OriginCancel, a.ID, height, Refunds(a, nil)...)
	group.Append(ReturnToOwner(a)...)
	group.Append(returnDeposit(s, call, depositOf(call))...)
	if err := e.ledger.Remove(a.ID); err != nil {
		return nil, err
	}
	seq, err := e.state.EnqueueGroup(group)
	if err != nil {
		return nil, err
	}
	e.emit(NewCancelledEvent(a, height, seq))
	return &Receipt{Auction: a.Clone(), OutboxSeq: seq}, nil
}

// Finalize resolves a closed auction. The highest bid pays the beneficiary
// and receives the asset; everyone else is refunded. Without bids the asset
// returns to the owner. If the winner cannot take the asset, the fallback
// returns it to the owner and refunds every bidder.
func (e *Engine) Finalize(call Call, id [32]byte) (*Receipt, error) {
	s, err := e.settings()
	if err != nil {
		return nil, err
	}
	a, err := e.ledger.Get(id)
	if err != nil {
		return nil, err
	}
	if a.Finalized {
		return nil, ErrAlreadyFinalized
	}
	if !a.Escrowed {
		return nil, ErrEscrowPending
	}
	height := e.height()
	if height <= a.CloseBlock {
		return nil, ErrAuctionNotClosed
	}

	var group *outbox.Group
	winner, ok := a.HighestBid()
	if ok {
		group = outbox.NewGroup(OriginFinalize, a.ID, height, outbox.Transfer(a.Custodian, a.Beneficiary, winner.Amount))
		group.Append(Refunds(a, &winner.Bidder)...)
		group.Append(Release(a, winner.Bidder, winner.Credential)...)
		group.Append(returnDeposit(s, call, depositOf(call))...)

		fallback := append(Refunds(a, nil), ReturnToOwner(a)...)
		group.WithFallback(append(fallback, returnDeposit(s, call, depositOf(call))...)...)

		a.Winner = winner.Bidder
		a.WinningBid = cloneBigInt(winner.Amount)
	} else {
		group = outbox.NewGroup(OriginFinalize, a.ID, height, ReturnToOwner(a)...)
		group.Append(returnDeposit(s, call, depositOf(call))...)
	}
	a.Finalized = true
	if err := e.ledger.store(a); err != nil {
		return nil, err
	}
	seq, err := e.state.EnqueueGroup(group)
	if err != nil {
		return nil, err
	}
	e.emit(NewFinalizedEvent(a, height, seq))
	return &Receipt{Auction: a.Clone(), OutboxSeq: seq}, nil
}

// ConfirmEscrow records that the lock group of id has applied, opening the
// auction for bids.
func (e *Engine) ConfirmEscrow(id [32]byte) error {
	if e == nil || e.ledger == nil {
		return errNilState
	}
	a, err := e.ledger.Get(id)
	if errors.Is(err, ErrAuctionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if a.Escrowed {
		return nil
	}
	a.Escrowed = true
	return e.ledger.store(a)
}

// VoidListing removes an auction whose asset could not be locked. Escrowed
// auctions are resolved by Cancel or Finalize instead.
func (e *Engine) VoidListing(id [32]byte) error {
	if e == nil || e.ledger == nil {
		return errNilState
	}
	a, err := e.ledger.Get(id)
	if errors.Is(err, ErrAuctionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if a.Escrowed {
		return ErrAuctionEscrowed
	}
	if err := e.ledger.Remove(id); err != nil {
		return err
	}
	e.emit(NewVoidedEvent(a, e.height()))
	return nil
}

// listsWithCustody reports whether a listing would lock the custodian's own
// key or account, which the custodian can never take over from itself.
func listsWithCustody(s *Settings, call Call, asset [20]byte) bool {
	if call.Signer == s.Custodian || asset == s.Custodian || asset == s.HouseAccount {
		return true
	}
	return s.HasCustodianCredential && call.Credential == s.CustodianCredential
}
