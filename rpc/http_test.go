package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"auctionhouse/core/events"
	"auctionhouse/core/house"
	"auctionhouse/core/types"
	"auctionhouse/crypto"
	"auctionhouse/native/auction"
	"auctionhouse/rpc/middleware"
	"auctionhouse/storage"
)

type testSigner struct {
	key   *crypto.PrivateKey
	addr  [20]byte
	nonce uint64
}

func newTestSigner(t *testing.T) *testSigner {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return &testSigner{key: key, addr: key.PubKey().Address().Raw()}
}

type rpcFixture struct {
	t      *testing.T
	house    *house.House
	executor *house.Executor
	stream   *events.Broadcaster
	server   *httptest.Server

	admin, owner, bidder *testSigner
	asset                [20]byte
}

func newRPCFixture(t *testing.T, cfg ServerConfig) *rpcFixture {
	t.Helper()
	h, err := house.New(storage.NewMemDB())
	require.NoError(t, err)
	stream := events.NewBroadcaster()
	h.SetEmitter(stream)

	f := &rpcFixture{
		t:        t,
		house:    h,
		executor: house.NewExecutor(h, nil),
		stream:   stream,
		admin:    newTestSigner(t),
		owner:    newTestSigner(t),
		bidder:   newTestSigner(t),
	}
	for i := range f.asset {
		f.asset[i] = 0xA5
	}
	custodian := newTestSigner(t)
	var houseAccount [20]byte
	for i := range houseAccount {
		houseAccount[i] = 0xE0
	}
	require.NoError(t, h.Deploy(context.Background(), house.Config{
		Admin:               f.admin.addr,
		HouseAccount:        houseAccount,
		Custodian:           custodian.addr,
		CustodianCredential: custodian.key.PubKey().Credential(),
		RecallAllowance:     big.NewInt(10),
		ListingFee:          big.NewInt(5),
		CallCost:            big.NewInt(1),
		Genesis: []house.Genesis{
			{Address: f.admin.addr, Balance: big.NewInt(0), Keys: []crypto.Credential{f.admin.key.PubKey().Credential()}},
			{Address: f.owner.addr, Balance: big.NewInt(1000), Keys: []crypto.Credential{f.owner.key.PubKey().Credential()}},
			{Address: f.asset, Keys: []crypto.Credential{f.owner.key.PubKey().Credential()}},
			{Address: f.bidder.addr, Balance: big.NewInt(1000), Keys: []crypto.Credential{f.bidder.key.PubKey().Credential()}},
		},
	}))

	f.server = httptest.NewServer(NewServer(h, stream, cfg, nil).Router())
	t.Cleanup(f.server.Close)
	return f
}

func (f *rpcFixture) signedTx(s *testSigner, method string, deposit int64, args house.TxArgs) json.RawMessage {
	f.t.Helper()
	s.nonce++
	tx := &house.Transaction{
		Signer:  s.addr,
		Nonce:   s.nonce,
		Deposit: big.NewInt(deposit),
		Method:  method,
		Args:    args,
	}
	require.NoError(f.t, tx.Sign(s.key))
	raw, err := json.Marshal(tx)
	require.NoError(f.t, err)
	return raw
}

func (f *rpcFixture) call(method string, header http.Header, params ...interface{}) (int, RPCResponse) {
	f.t.Helper()
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		if msg, ok := p.(json.RawMessage); ok {
			raw = append(raw, msg)
			continue
		}
		encoded, err := json.Marshal(p)
		require.NoError(f.t, err)
		raw = append(raw, encoded)
	}
	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: raw, ID: 1})
	require.NoError(f.t, err)
	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/", bytes.NewReader(body))
	require.NoError(f.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := f.server.Client().Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()
	var out RPCResponse
	require.NoError(f.t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func decodeResult(t *testing.T, resp RPCResponse, dst interface{}) {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected rpc error: %+v", resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dst))
}

func (f *rpcFixture) create() string {
	f.t.Helper()
	tx := f.signedTx(f.owner, house.MethodCreate, 5, house.TxArgs{
		Asset:       f.asset,
		Beneficiary: f.owner.addr,
		CloseBlock:  10,
		StartingBid: big.NewInt(20),
	})
	status, resp := f.call("auction_create", nil, tx)
	require.Equal(f.t, http.StatusOK, status)
	var res SubmitResult
	decodeResult(f.t, resp, &res)
	require.True(f.t, res.OK)
	require.NotEmpty(f.t, res.ID)
	return res.ID
}

func (f *rpcFixture) drain() {
	f.t.Helper()
	_, err := f.executor.Drain(context.Background())
	require.NoError(f.t, err)
}

func TestCreateAndGetAuction(t *testing.T) {
	f := newRPCFixture(t, ServerConfig{})
	id := f.create()

	status, resp := f.call("auction_get", nil, auctionIDParams{ID: id})
	require.Equal(t, http.StatusOK, status)
	var view AuctionJSON
	decodeResult(t, resp, &view)
	require.Equal(t, id, view.ID)
	require.Equal(t, "open", view.Phase)
	require.Equal(t, "20", view.StartingBid)
	require.Equal(t, crypto.AccountAddress(f.owner.addr).String(), view.Owner)
	require.False(t, view.Escrowed)

	parsed, err := auction.ParseID(id)
	require.NoError(t, err)
	early := f.signedTx(f.bidder, house.MethodPlaceBid, 30, house.TxArgs{AuctionID: parsed})
	status, resp = f.call("auction_placeBid", nil, early)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeAuctionConflict, resp.Error.Code)
	f.bidder.nonce--

	f.drain()
	_, resp = f.call("auction_get", nil, auctionIDParams{ID: id})
	decodeResult(t, resp, &view)
	require.True(t, view.Escrowed)

	bid := f.signedTx(f.bidder, house.MethodPlaceBid, 30, house.TxArgs{AuctionID: parsed})
	status, resp = f.call("auction_placeBid", nil, bid)
	require.Equal(t, http.StatusOK, status, "%+v", resp.Error)

	_, resp = f.call("auction_get", nil, auctionIDParams{ID: id})
	decodeResult(t, resp, &view)
	require.Len(t, view.Bids, 1)
	require.Equal(t, "30", view.TotalEscrowed)

	_, resp = f.call("account_get", nil, accountParams{Address: crypto.AccountAddress(f.bidder.addr).String()})
	var account AccountJSON
	decodeResult(t, resp, &account)
	require.Equal(t, "970", account.Balance)
	require.Len(t, account.Keys, 1)
	require.Equal(t, uint64(1), account.Keys[0].Nonce)
}

func TestErrorMapping(t *testing.T) {
	f := newRPCFixture(t, ServerConfig{})

	status, resp := f.call("auction_get", nil, auctionIDParams{ID: strings.Repeat("ab", 32)})
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeAuctionNotFound, resp.Error.Code)

	status, resp = f.call("auction_get", nil, auctionIDParams{ID: "zz"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeAuctionInvalidParams, resp.Error.Code)

	status, resp = f.call("outbox_status", nil, outboxParams{Sequence: 99})
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeAuctionNotFound, resp.Error.Code)

	status, resp = f.call("auction_nope", nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)

	pause := f.signedTx(f.owner, house.MethodPause, 0, house.TxArgs{})
	status, resp = f.call("house_pause", nil, pause)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, codeAuctionForbidden, resp.Error.Code)

	stale := f.signedTx(f.admin, house.MethodPause, 0, house.TxArgs{})
	status, _ = f.call("house_unpause", nil, stale)
	require.Equal(t, http.StatusBadRequest, status)

	f.admin.nonce = 5
	badNonce := f.signedTx(f.admin, house.MethodPause, 0, house.TxArgs{})
	status, resp = f.call("house_pause", nil, badNonce)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeAuctionConflict, resp.Error.Code)
}

func TestInvalidArgumentsMapToInvalidParams(t *testing.T) {
	f := newRPCFixture(t, ServerConfig{})

	negative := f.signedTx(f.owner, house.MethodCreate, 5, house.TxArgs{
		Asset:       f.asset,
		Beneficiary: f.owner.addr,
		CloseBlock:  10,
		StartingBid: big.NewInt(-1),
	})
	status, resp := f.call("auction_create", nil, negative)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeAuctionInvalidParams, resp.Error.Code)

	paying := f.signedTx(f.admin, house.MethodPause, 3, house.TxArgs{})
	status, resp = f.call("house_pause", nil, paying)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeAuctionInvalidParams, resp.Error.Code)
}

func TestPauseBlocksCreate(t *testing.T) {
	f := newRPCFixture(t, ServerConfig{})

	status, resp := f.call("house_pause", nil, f.signedTx(f.admin, house.MethodPause, 0, house.TxArgs{}))
	require.Equal(t, http.StatusOK, status, "%+v", resp.Error)

	_, resp = f.call("house_config", nil)
	var settings SettingsJSON
	decodeResult(t, resp, &settings)
	require.True(t, settings.Paused)
	require.True(t, settings.CustodyReady)

	tx := f.signedTx(f.owner, house.MethodCreate, 5, house.TxArgs{Asset: f.asset, Beneficiary: f.owner.addr, CloseBlock: 10})
	status, resp = f.call("auction_create", nil, tx)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, codeAuctionConflict, resp.Error.Code)
}

func TestChainHeight(t *testing.T) {
	f := newRPCFixture(t, ServerConfig{})
	_, err := f.house.Advance(context.Background(), 3)
	require.NoError(t, err)
	f.create()

	_, resp := f.call("chain_height", nil)
	var height HeightJSON
	decodeResult(t, resp, &height)
	require.Equal(t, uint64(3), height.Height)
	require.Equal(t, uint64(1), height.Backlog)
}

func TestRequestValidation(t *testing.T) {
	f := newRPCFixture(t, ServerConfig{MaxBodyBytes: 64})

	resp, err := f.server.Client().Post(f.server.URL+"/", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = f.server.Client().Post(f.server.URL+"/", "application/json", strings.NewReader(`{"jsonrpc":"2.0","method":"chain_height","params":[],"id":1,"pad":"`+strings.Repeat("x", 128)+`"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(middleware.RequestIDHeader))
}

func TestWritesRequireToken(t *testing.T) {
	f := newRPCFixture(t, ServerConfig{Auth: middleware.AuthConfig{
		Enabled:    true,
		HMACSecret: "s3cret",
		Issuer:     "ops",
	}})

	tx := f.signedTx(f.admin, house.MethodPause, 0, house.TxArgs{})
	status, resp := f.call("house_pause", nil, tx)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	status, _ = f.call("chain_height", nil)
	require.Equal(t, http.StatusOK, status)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   "ops",
		"scope": "auction:write",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("s3cret"))
	require.NoError(t, err)
	header := http.Header{"Authorization": []string{"Bearer " + signed}}
	status, resp = f.call("house_pause", header, tx)
	require.Equal(t, http.StatusOK, status, "%+v", resp.Error)
}

func TestEventStream(t *testing.T) {
	f := newRPCFixture(t, ServerConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/events?type=auction."
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return f.stream.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)
	id := f.create()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var evt types.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	require.Equal(t, auction.EventTypeAuctionCreated, evt.Type)
	require.Equal(t, id, evt.Attributes["id"])
}
