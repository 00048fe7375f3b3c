package house

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"auctionhouse/core/events"
	"auctionhouse/core/outbox"
	"auctionhouse/core/state"
	"auctionhouse/crypto"
	"auctionhouse/native/access"
	"auctionhouse/native/auction"
	"auctionhouse/native/bank"
	"auctionhouse/storage"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType())
	}
	return out
}

type signer struct {
	key   *crypto.PrivateKey
	addr  [20]byte
	nonce uint64
}

func newSigner(t *testing.T) *signer {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return &signer{key: key, addr: key.PubKey().Address().Raw()}
}

func (s *signer) cred() crypto.Credential { return s.key.PubKey().Credential() }

type fixture struct {
	t        *testing.T
	db       *storage.MemDB
	house    *House
	executor *Executor
	emitter  *captureEmitter

	admin, owner, bidder1, bidder2, custodian *signer
	houseAccount, asset                       [20]byte
}

func testAddress(fill byte) [20]byte {
	var out [20]byte
	for i := range out {
		out[i] = fill
	}
	return out
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	h, err := New(db)
	require.NoError(t, err)
	emitter := &captureEmitter{}
	h.SetEmitter(emitter)
	f := &fixture{
		t:            t,
		db:           db,
		house:        h,
		emitter:      emitter,
		admin:        newSigner(t),
		owner:        newSigner(t),
		bidder1:      newSigner(t),
		bidder2:      newSigner(t),
		custodian:    newSigner(t),
		houseAccount: testAddress(0xE0),
		asset:        testAddress(0xA5),
	}
	cfg := Config{
		Admin:               f.admin.addr,
		HouseAccount:        f.houseAccount,
		Custodian:           f.custodian.addr,
		CustodianCredential: f.custodian.cred(),
		RecallAllowance:     big.NewInt(10),
		ListingFee:          big.NewInt(5),
		CallCost:            big.NewInt(1),
		Genesis: []Genesis{
			{Address: f.admin.addr, Balance: big.NewInt(0), Keys: []crypto.Credential{f.admin.cred()}},
			{Address: f.owner.addr, Balance: big.NewInt(1000), Keys: []crypto.Credential{f.owner.cred()}},
			{Address: f.asset, Keys: []crypto.Credential{f.owner.cred()}},
			{Address: f.bidder1.addr, Balance: big.NewInt(1000), Keys: []crypto.Credential{f.bidder1.cred()}},
			{Address: f.bidder2.addr, Balance: big.NewInt(1000), Keys: []crypto.Credential{f.bidder2.cred()}},
		},
	}
	require.NoError(t, h.Deploy(context.Background(), cfg))
	journal, err := outbox.OpenJournal(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = journal.Close() })
	f.executor = NewExecutor(h, journal)
	return f
}

func (f *fixture) submit(s *signer, method string, deposit int64, args TxArgs) (*Result, error) {
	f.t.Helper()
	tx := &Transaction{
		Signer:  s.addr,
		Nonce:   s.nonce + 1,
		Deposit: big.NewInt(deposit),
		Method:  method,
		Args:    args,
	}
	require.NoError(f.t, tx.Sign(s.key))
	res, err := f.house.Submit(context.Background(), tx)
	if err == nil {
		s.nonce++
	}
	return res, err
}

func (f *fixture) drain() int {
	f.t.Helper()
	n, err := f.executor.Drain(context.Background())
	require.NoError(f.t, err)
	return n
}

func (f *fixture) balance(addr [20]byte) int64 {
	f.t.Helper()
	view, err := f.house.Account(addr)
	require.NoError(f.t, err)
	return view.Account.Balance.Int64()
}

func (f *fixture) key(account [20]byte, cred crypto.Credential) *access.Key {
	f.t.Helper()
	view, err := f.house.Account(account)
	require.NoError(f.t, err)
	for _, k := range view.Keys {
		if k.Credential == cred {
			return k
		}
	}
	return nil
}

func (f *fixture) create(closeBlock uint64) [32]byte {
	f.t.Helper()
	res, err := f.submit(f.owner, MethodCreate, 7, TxArgs{Asset: f.asset, CloseBlock: closeBlock, StartingBid: big.NewInt(10)})
	require.NoError(f.t, err)
	return res.AuctionID
}

func TestDeployOnlyOnce(t *testing.T) {
	f := newFixture(t)
	err := f.house.Deploy(context.Background(), Config{Admin: f.admin.addr, HouseAccount: f.houseAccount})
	require.ErrorIs(t, err, ErrAlreadyInitialized)

	settings, err := f.house.Settings()
	require.NoError(t, err)
	require.True(t, settings.CustodyReady())
	require.Equal(t, f.admin.addr, settings.Admin)
}

func TestOperationsBeforeDeploy(t *testing.T) {
	h, err := New(storage.NewMemDB())
	require.NoError(t, err)
	_, err = h.Get([32]byte{1})
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = h.Settings()
	require.ErrorIs(t, err, ErrNotInitialized)
}

func TestNewRejectsFutureSchema(t *testing.T) {
	db := storage.NewMemDB()
	require.NoError(t, state.NewManager(db).SetStateVersion(state.StateVersion+1))
	_, err := New(db)
	require.ErrorIs(t, err, state.ErrStateVersionMismatch)
}

func TestEndToEndAuction(t *testing.T) {
	f := newFixture(t)
	id := f.create(10)
	require.Equal(t, auction.ComputeID(f.owner.addr, f.asset, 10), id)
	require.Equal(t, 1, f.drain())

	// asset is held by the custodian; the owner keeps a recall key
	require.NotNil(t, f.key(f.asset, f.custodian.cred()))
	require.Nil(t, f.key(f.asset, f.owner.cred()))
	recall := f.key(f.owner.addr, f.owner.cred())
	require.Equal(t, access.PermissionFunctionCall, recall.Permission)
	require.Equal(t, int64(995), f.balance(f.owner.addr))
	require.Equal(t, int64(5), f.balance(f.custodian.addr))

	_, err := f.submit(f.bidder1, MethodPlaceBid, 50, TxArgs{AuctionID: id})
	require.NoError(t, err)
	_, err = f.submit(f.bidder2, MethodPlaceBid, 60, TxArgs{AuctionID: id})
	require.NoError(t, err)
	_, err = f.submit(f.bidder1, MethodPlaceBid, 70, TxArgs{AuctionID: id})
	require.NoError(t, err)
	require.Equal(t, 3, f.drain())
	require.Equal(t, int64(930), f.balance(f.bidder1.addr))
	require.Equal(t, int64(940), f.balance(f.bidder2.addr))
	require.Equal(t, int64(135), f.balance(f.custodian.addr))
	require.Zero(t, f.balance(f.houseAccount))

	_, err = f.submit(f.bidder2, MethodFinalize, 0, TxArgs{AuctionID: id})
	require.ErrorIs(t, err, auction.ErrAuctionNotClosed)

	_, err = f.house.AdvanceTo(context.Background(), 11)
	require.NoError(t, err)
	res, err := f.submit(f.bidder2, MethodFinalize, 0, TxArgs{AuctionID: id})
	require.NoError(t, err)
	require.Equal(t, f.bidder1.addr, res.Auction.Winner)
	require.Equal(t, 1, f.drain())

	group, err := f.house.OutboxStatus(res.OutboxSeq)
	require.NoError(t, err)
	require.Equal(t, outbox.StatusApplied, group.Status)

	require.Equal(t, int64(1065), f.balance(f.owner.addr))
	require.Equal(t, int64(1000), f.balance(f.bidder2.addr))
	require.Equal(t, int64(930), f.balance(f.bidder1.addr))
	require.Equal(t, int64(5), f.balance(f.custodian.addr))
	require.True(t, f.key(f.asset, f.bidder1.cred()).FullAccess())
	require.Nil(t, f.key(f.asset, f.custodian.cred()))
	require.True(t, f.key(f.owner.addr, f.owner.cred()).FullAccess())

	_, err = f.submit(f.bidder2, MethodFinalize, 0, TxArgs{AuctionID: id})
	require.ErrorIs(t, err, auction.ErrAlreadyFinalized)

	require.Contains(t, f.emitter.types(), auction.EventTypeAuctionFinalized)
	require.Contains(t, f.emitter.types(), EventOutboxApplied)
}

func TestFinalizeFallsBackWhenWinnerDropsCredential(t *testing.T) {
	f := newFixture(t)
	id := f.create(5)
	f.drain()
	_, err := f.submit(f.bidder1, MethodPlaceBid, 40, TxArgs{AuctionID: id})
	require.NoError(t, err)
	_, err = f.submit(f.bidder2, MethodPlaceBid, 30, TxArgs{AuctionID: id})
	require.NoError(t, err)
	f.drain()

	require.NoError(t, state.NewManager(f.db).PutAccessKeys(f.bidder1.addr, nil))

	_, err = f.house.AdvanceTo(context.Background(), 6)
	require.NoError(t, err)
	res, err := f.submit(f.bidder2, MethodFinalize, 0, TxArgs{AuctionID: id})
	require.NoError(t, err)
	require.Equal(t, 1, f.drain())

	group, err := f.house.OutboxStatus(res.OutboxSeq)
	require.NoError(t, err)
	require.Equal(t, outbox.StatusFellBack, group.Status)
	require.Contains(t, group.LastError, "cannot accept")

	require.Equal(t, int64(1000), f.balance(f.bidder1.addr))
	require.Equal(t, int64(1000), f.balance(f.bidder2.addr))
	require.Equal(t, int64(995), f.balance(f.owner.addr))
	require.True(t, f.key(f.asset, f.owner.cred()).FullAccess())
	require.Nil(t, f.key(f.asset, f.custodian.cred()))
	require.True(t, f.key(f.owner.addr, f.owner.cred()).FullAccess())
	require.Contains(t, f.emitter.types(), EventOutboxFallback)

	attempts, err := f.executor.journal.Attempts(context.Background(), res.OutboxSeq)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	require.Equal(t, OutcomeFailed, attempts[0].Outcome)
	require.Equal(t, OutcomeFallback, attempts[1].Outcome)
	require.Equal(t, f.executor.RunID(), attempts[1].RunID)
}

func TestCancelThroughRecallKey(t *testing.T) {
	f := newFixture(t)
	id := f.create(20)
	f.drain()
	_, err := f.submit(f.bidder1, MethodPlaceBid, 25, TxArgs{AuctionID: id})
	require.NoError(t, err)
	f.drain()

	_, err = f.submit(f.bidder1, MethodCancel, 0, TxArgs{AuctionID: id})
	require.ErrorIs(t, err, auction.ErrNotOwner)

	// the recall key cannot list anything else
	_, err = f.submit(f.owner, MethodCreate, 5, TxArgs{Asset: testAddress(0xA6), StartingBid: big.NewInt(1)})
	require.ErrorIs(t, err, ErrMethodNotAllowed)

	_, err = f.submit(f.owner, MethodCancel, 0, TxArgs{AuctionID: id})
	require.NoError(t, err)
	require.Equal(t, 1, f.drain())

	_, err = f.house.Get(id)
	require.ErrorIs(t, err, auction.ErrAuctionNotFound)
	require.Equal(t, int64(1000), f.balance(f.bidder1.addr))
	require.True(t, f.key(f.asset, f.owner.cred()).FullAccess())
	require.Nil(t, f.key(f.asset, f.custodian.cred()))
	restored := f.key(f.owner.addr, f.owner.cred())
	require.True(t, restored.FullAccess())
	require.Equal(t, uint64(2), restored.Nonce)
}

func TestCreateVoidedWhenLockFails(t *testing.T) {
	f := newFixture(t)
	id := f.create(20)

	_, err := f.submit(f.bidder1, MethodPlaceBid, 25, TxArgs{AuctionID: id})
	require.ErrorIs(t, err, auction.ErrEscrowPending)

	// the asset's key record is unreadable when the lock runs
	require.NoError(t, f.db.Put(append([]byte("access/keys/"), f.asset[:]...), []byte{0xff}))
	require.Equal(t, 1, f.drain())

	group, err := f.house.OutboxStatus(1)
	require.NoError(t, err)
	require.Equal(t, outbox.StatusFellBack, group.Status)

	_, err = f.house.Get(id)
	require.ErrorIs(t, err, auction.ErrAuctionNotFound)
	_, err = f.submit(f.bidder1, MethodPlaceBid, 25, TxArgs{AuctionID: id})
	require.ErrorIs(t, err, auction.ErrAuctionNotFound)

	require.Equal(t, int64(1000), f.balance(f.owner.addr))
	require.Zero(t, f.balance(f.houseAccount))
	require.Zero(t, f.balance(f.custodian.addr))
	require.True(t, f.key(f.owner.addr, f.owner.cred()).FullAccess())
	require.Contains(t, f.emitter.types(), auction.EventTypeAuctionVoided)
	require.Contains(t, f.emitter.types(), EventOutboxFallback)
}

func TestCustodianCannotList(t *testing.T) {
	f := newFixture(t)
	registry := access.NewRegistry(state.NewManager(f.db))
	require.NoError(t, registry.GrantFull(f.custodian.addr, f.custodian.cred()))
	require.NoError(t, registry.GrantFull(f.asset, f.custodian.cred()))

	_, err := f.submit(f.custodian, MethodCreate, 0, TxArgs{Asset: f.asset, CloseBlock: 20})
	require.ErrorIs(t, err, auction.ErrCustodianCannotList)

	backlog, err := f.house.Backlog()
	require.NoError(t, err)
	require.Zero(t, backlog)
	require.True(t, f.key(f.asset, f.owner.cred()).FullAccess())
}

func TestDepositRejectedOnAdminCalls(t *testing.T) {
	f := newFixture(t)
	_, err := f.submit(f.admin, MethodPause, 3, TxArgs{})
	require.ErrorIs(t, err, ErrDepositNotAccepted)
	settings, err := f.house.Settings()
	require.NoError(t, err)
	require.False(t, settings.Paused)
}

func TestNonceAndSignatureRules(t *testing.T) {
	f := newFixture(t)
	id := f.create(20)
	f.drain()

	// a rejected operation does not consume the nonce or the deposit
	_, err := f.submit(f.bidder1, MethodPlaceBid, 5, TxArgs{AuctionID: id})
	require.ErrorIs(t, err, auction.ErrBidBelowStart)
	require.Equal(t, int64(1000), f.balance(f.bidder1.addr))
	_, err = f.submit(f.bidder1, MethodPlaceBid, 15, TxArgs{AuctionID: id})
	require.NoError(t, err)

	replay := &Transaction{Signer: f.bidder1.addr, Nonce: 1, Deposit: big.NewInt(20), Method: MethodPlaceBid, Args: TxArgs{AuctionID: id}}
	require.NoError(t, replay.Sign(f.bidder1.key))
	_, err = f.house.Submit(context.Background(), replay)
	require.ErrorIs(t, err, ErrBadNonce)

	tampered := &Transaction{Signer: f.bidder1.addr, Nonce: 2, Deposit: big.NewInt(20), Method: MethodPlaceBid, Args: TxArgs{AuctionID: id}}
	require.NoError(t, tampered.Sign(f.bidder1.key))
	tampered.Deposit = big.NewInt(2000)
	_, err = f.house.Submit(context.Background(), tampered)
	require.ErrorIs(t, err, ErrBadSignature)

	stranger := newSigner(t)
	_, err = f.submit(stranger, MethodPlaceBid, 20, TxArgs{AuctionID: id})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.submit(f.bidder2, MethodPlaceBid, 5000, TxArgs{AuctionID: id})
	require.ErrorIs(t, err, bank.ErrInsufficientBalance)
}

func TestPauseIsAdminOnly(t *testing.T) {
	f := newFixture(t)
	id := f.create(20)

	_, err := f.submit(f.bidder1, MethodPause, 0, TxArgs{})
	require.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.submit(f.admin, MethodPause, 0, TxArgs{})
	require.NoError(t, err)
	settings, err := f.house.Settings()
	require.NoError(t, err)
	require.True(t, settings.Paused)

	_, err = f.submit(f.bidder1, MethodPlaceBid, 20, TxArgs{AuctionID: id})
	require.ErrorIs(t, err, auction.ErrPaused)

	// funds and assets stay recoverable while paused
	f.drain()
	_, err = f.submit(f.owner, MethodCancel, 0, TxArgs{AuctionID: id})
	require.NoError(t, err)

	_, err = f.submit(f.admin, MethodUnpause, 0, TxArgs{})
	require.NoError(t, err)
	require.Contains(t, f.emitter.types(), EventPaused)
	require.Contains(t, f.emitter.types(), EventUnpaused)
}

func TestHeightNeverMovesBackwards(t *testing.T) {
	f := newFixture(t)
	h, err := f.house.Advance(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, uint64(3), h)
	h, err = f.house.AdvanceTo(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, uint64(3), h)
}

func TestTransactionJSONRoundTrip(t *testing.T) {
	s := newSigner(t)
	tx := &Transaction{
		Signer:  s.addr,
		Nonce:   4,
		Deposit: big.NewInt(12),
		Method:  MethodCreate,
		Args:    TxArgs{Asset: testAddress(0x33), CloseBlock: 99, StartingBid: big.NewInt(3)},
	}
	require.NoError(t, tx.Sign(s.key))
	raw, err := tx.MarshalJSON()
	require.NoError(t, err)

	var decoded Transaction
	require.NoError(t, decoded.UnmarshalJSON(raw))
	require.NoError(t, decoded.VerifySignature())
	require.Equal(t, tx.Args.Asset, decoded.Args.Asset)
	require.Equal(t, 0, decoded.Deposit.Cmp(big.NewInt(12)))
}
