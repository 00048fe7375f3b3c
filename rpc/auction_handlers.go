package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"auctionhouse/core/house"
	"auctionhouse/core/outbox"
	"auctionhouse/crypto"
	"auctionhouse/native/access"
	"auctionhouse/native/auction"
	"auctionhouse/native/bank"
)

const (
	codeAuctionInvalidParams = -32021
	codeAuctionNotFound      = -32022
	codeAuctionForbidden     = -32023
	codeAuctionConflict      = -32024
	codeAuctionInternal      = -32025
)

// txMethods maps JSON-RPC methods onto the transaction method they carry.
var txMethods = map[string]string{
	"auction_create":   house.MethodCreate,
	"auction_placeBid": house.MethodPlaceBid,
	"auction_cancel":   house.MethodCancel,
	"auction_finalize": house.MethodFinalize,
	"house_pause":      house.MethodPause,
	"house_unpause":    house.MethodUnpause,
}

type auctionIDParams struct {
	ID string `json:"id"`
}

type accountParams struct {
	Address string `json:"address"`
}

type outboxParams struct {
	Sequence uint64 `json:"sequence"`
}

type SubmitResult struct {
	Method    string       `json:"method"`
	ID        string       `json:"id,omitempty"`
	OutboxSeq uint64       `json:"outboxSeq,omitempty"`
	Auction   *AuctionJSON `json:"auction,omitempty"`
	OK        bool         `json:"ok"`
}

type BidJSON struct {
	Bidder   string `json:"bidder"`
	Amount   string `json:"amount"`
	Seq      uint64 `json:"seq"`
	PlacedAt uint64 `json:"placedAt"`
}

type AuctionJSON struct {
	ID            string    `json:"id"`
	Owner         string    `json:"owner"`
	Asset         string    `json:"asset"`
	Beneficiary   string    `json:"beneficiary"`
	Custodian     string    `json:"custodian,omitempty"`
	StartingBid   string    `json:"startingBid"`
	CreatedAt     uint64    `json:"createdAt"`
	CloseBlock    uint64    `json:"closeBlock"`
	Phase         string    `json:"phase"`
	Finalized     bool      `json:"finalized"`
	Escrowed      bool      `json:"escrowed"`
	Winner        string    `json:"winner,omitempty"`
	WinningBid    string    `json:"winningBid,omitempty"`
	TotalEscrowed string    `json:"totalEscrowed"`
	Bids          []BidJSON `json:"bids"`
}

type SettingsJSON struct {
	Admin               string `json:"admin"`
	HouseAccount        string `json:"houseAccount"`
	Paused              bool   `json:"paused"`
	Custodian           string `json:"custodian,omitempty"`
	CustodianCredential string `json:"custodianCredential,omitempty"`
	CustodyReady        bool   `json:"custodyReady"`
	DefaultCloseOffset  uint64 `json:"defaultCloseOffset"`
	RecallAllowance     string `json:"recallAllowance"`
	ListingFee          string `json:"listingFee"`
	CallCost            string `json:"callCost"`
}

type KeyJSON struct {
	Credential string   `json:"credential"`
	Permission string   `json:"permission"`
	Allowance  string   `json:"allowance,omitempty"`
	Receiver   string   `json:"receiver,omitempty"`
	Methods    []string `json:"methods,omitempty"`
	Nonce      uint64   `json:"nonce"`
}

type AccountJSON struct {
	Address   string    `json:"address"`
	Balance   string    `json:"balance"`
	UpdatedAt uint64    `json:"updatedAt"`
	Keys      []KeyJSON `json:"keys"`
}

type IntentJSON struct {
	Kind       string `json:"kind"`
	Account    string `json:"account"`
	Credential string `json:"credential,omitempty"`
	To         string `json:"to,omitempty"`
	Amount     string `json:"amount,omitempty"`
	Auction    string `json:"auction,omitempty"`
}

type OutboxJSON struct {
	Sequence  uint64       `json:"sequence"`
	Origin    string       `json:"origin"`
	Subject   string       `json:"subject"`
	Height    uint64       `json:"height"`
	Status    string       `json:"status"`
	Attempts  uint64       `json:"attempts"`
	LastError string       `json:"lastError,omitempty"`
	Intents   []IntentJSON `json:"intents"`
	Fallback  []IntentJSON `json:"fallback,omitempty"`
}

type HeightJSON struct {
	Height  uint64 `json:"height"`
	Backlog uint64 `json:"backlog"`
}

func formatAddr(raw [20]byte) string {
	if raw == ([20]byte{}) {
		return ""
	}
	return crypto.AccountAddress(raw).String()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func auctionJSON(a *auction.Auction, height uint64) *AuctionJSON {
	if a == nil {
		return nil
	}
	out := &AuctionJSON{
		ID:            auction.FormatID(a.ID),
		Owner:         formatAddr(a.Owner),
		Asset:         formatAddr(a.Asset),
		Beneficiary:   formatAddr(a.Beneficiary),
		Custodian:     formatAddr(a.Custodian),
		StartingBid:   formatAmount(a.StartingBid),
		CreatedAt:     a.CreatedAt,
		CloseBlock:    a.CloseBlock,
		Phase:         a.Phase(height).String(),
		Finalized:     a.Finalized,
		Escrowed:      a.Escrowed,
		TotalEscrowed: a.TotalEscrowed().String(),
		Bids:          make([]BidJSON, 0, len(a.Bids)),
	}
	if a.HasWinner() {
		out.Winner = formatAddr(a.Winner)
		out.WinningBid = formatAmount(a.WinningBid)
	}
	for _, bid := range a.Bids {
		out.Bids = append(out.Bids, BidJSON{
			Bidder:   formatAddr(bid.Bidder),
			Amount:   formatAmount(bid.Amount),
			Seq:      bid.Seq,
			PlacedAt: bid.PlacedAt,
		})
	}
	return out
}

func intentsJSON(intents []outbox.Intent) []IntentJSON {
	out := make([]IntentJSON, 0, len(intents))
	for _, in := range intents {
		item := IntentJSON{Kind: in.Kind.String(), Account: formatAddr(in.Account)}
		if !in.Credential.IsZero() {
			item.Credential = in.Credential.String()
		}
		if in.Kind == outbox.KindTransfer {
			item.To = formatAddr(in.To)
			item.Amount = formatAmount(in.Amount)
		}
		if in.Subject != ([32]byte{}) {
			item.Auction = auction.FormatID(in.Subject)
		}
		out = append(out, item)
	}
	return out
}

func decodeParam(req *RPCRequest, dst interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one parameter object")
	}
	decoder := json.NewDecoder(bytes.NewReader(req.Params[0]))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, req *RPCRequest, method string) {
	var tx house.Transaction
	if err := decodeParam(req, &tx); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid transaction", err.Error())
		return
	}
	if tx.Method == "" {
		tx.Method = method
	}
	if tx.Method != method {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "transaction method mismatch",
			fmt.Sprintf("%s carries %q, expected %q", req.Method, tx.Method, method))
		return
	}
	res, err := s.house.Submit(r.Context(), &tx)
	if err != nil {
		writeHouseError(w, req.ID, err)
		return
	}
	out := SubmitResult{Method: res.Method, OutboxSeq: res.OutboxSeq, OK: true}
	if res.Auction != nil {
		height, err := s.house.Height()
		if err != nil {
			writeHouseError(w, req.ID, err)
			return
		}
		out.ID = auction.FormatID(res.AuctionID)
		out.Auction = auctionJSON(res.Auction, height)
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleAuctionGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params auctionIDParams
	if err := decodeParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	id, err := auction.ParseID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	height, err := s.house.Height()
	if err != nil {
		writeHouseError(w, req.ID, err)
		return
	}
	a, err := s.house.Get(id)
	if err != nil {
		writeHouseError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, auctionJSON(a, height))
}

func (s *Server) handleHouseConfig(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	settings, err := s.house.Settings()
	if err != nil {
		writeHouseError(w, req.ID, err)
		return
	}
	out := SettingsJSON{
		Admin:              formatAddr(settings.Admin),
		HouseAccount:       formatAddr(settings.HouseAccount),
		Paused:             settings.Paused,
		CustodyReady:       settings.CustodyReady(),
		DefaultCloseOffset: settings.CloseOffset(),
		RecallAllowance:    formatAmount(settings.RecallAllowance),
		ListingFee:         formatAmount(settings.ListingFee),
		CallCost:           formatAmount(settings.CallCost),
	}
	if settings.HasCustodian {
		out.Custodian = formatAddr(settings.Custodian)
	}
	if settings.HasCustodianCredential {
		out.CustodianCredential = settings.CustodianCredential.String()
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleAccountGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params accountParams
	if err := decodeParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	addr, err := crypto.ParseIdentity(params.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeAuctionInvalidParams, "invalid_params", err.Error())
		return
	}
	view, err := s.house.Account(addr)
	if err != nil {
		writeHouseError(w, req.ID, err)
		return
	}
	out := AccountJSON{Address: formatAddr(view.Address), Balance: "0", Keys: make([]KeyJSON, 0, len(view.Keys))}
	if view.Account != nil {
		out.Balance = formatAmount(view.Account.Balance)
		out.UpdatedAt = view.Account.UpdatedAt
	}
	for _, key := range view.Keys {
		item := KeyJSON{
			Credential: key.Credential.String(),
			Permission: key.Permission.String(),
			Nonce:      key.Nonce,
		}
		if !key.FullAccess() {
			item.Allowance = formatAmount(key.Allowance)
			item.Receiver = formatAddr(key.Receiver)
			item.Methods = append([]string(nil), key.Methods...)
		}
		out.Keys = append(out.Keys, item)
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleOutboxStatus(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params outboxParams
	if err := decodeParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}
	group, err := s.house.OutboxStatus(params.Sequence)
	if err != nil {
		writeHouseError(w, req.ID, err)
		return
	}
	out := OutboxJSON{
		Sequence:  group.Sequence,
		Origin:    group.Origin,
		Subject:   auction.FormatID(group.Subject),
		Height:    group.Height,
		Status:    group.Status.String(),
		Attempts:  group.Attempts,
		LastError: group.LastError,
		Intents:   intentsJSON(group.Intents),
	}
	if len(group.Fallback) > 0 {
		out.Fallback = intentsJSON(group.Fallback)
	}
	writeResult(w, req.ID, out)
}

func (s *Server) handleChainHeight(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	height, err := s.house.Height()
	if err != nil {
		writeHouseError(w, req.ID, err)
		return
	}
	backlog, err := s.house.Backlog()
	if err != nil {
		writeHouseError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, HeightJSON{Height: height, Backlog: backlog})
}

func writeHouseError(w http.ResponseWriter, id interface{}, err error) {
	if err == nil {
		return
	}
	status := http.StatusInternalServerError
	code := codeAuctionInternal
	message := "internal_error"
	switch {
	case errors.Is(err, auction.ErrAuctionNotFound),
		errors.Is(err, house.ErrGroupNotFound):
		status = http.StatusNotFound
		code = codeAuctionNotFound
		message = "not_found"
	case errors.Is(err, house.ErrUnauthorized),
		errors.Is(err, house.ErrBadSignature),
		errors.Is(err, house.ErrMethodNotAllowed),
		errors.Is(err, house.ErrAllowanceExhausted),
		errors.Is(err, auction.ErrNotOwner),
		errors.Is(err, auction.ErrCustodianCannotList),
		errors.Is(err, auction.ErrAssetNotControlled):
		status = http.StatusForbidden
		code = codeAuctionForbidden
		message = "forbidden"
	case errors.Is(err, house.ErrBadNonce),
		errors.Is(err, auction.ErrDuplicateActiveAuction),
		errors.Is(err, auction.ErrAssetAlreadyListed),
		errors.Is(err, auction.ErrAuctionUnsettled),
		errors.Is(err, auction.ErrAuctionClosed),
		errors.Is(err, auction.ErrAuctionNotClosed),
		errors.Is(err, auction.ErrAlreadyFinalized),
		errors.Is(err, auction.ErrEscrowPending),
		errors.Is(err, auction.ErrAuctionEscrowed),
		errors.Is(err, auction.ErrPaused),
		errors.Is(err, bank.ErrInsufficientBalance),
		errors.Is(err, auction.ErrCustodianNotConfigured),
		errors.Is(err, house.ErrNotInitialized):
		status = http.StatusConflict
		code = codeAuctionConflict
		message = "conflict"
	case errors.Is(err, auction.ErrOwnerCannotBid),
		errors.Is(err, auction.ErrBidNotPositive),
		errors.Is(err, auction.ErrBidBelowStart),
		errors.Is(err, auction.ErrMalformedIdentity),
		errors.Is(err, auction.ErrAssetIsCaller),
		errors.Is(err, auction.ErrInvalidCloseBlock),
		errors.Is(err, auction.ErrInsufficientDeposit),
		errors.Is(err, auction.ErrNegativeStartingBid),
		errors.Is(err, house.ErrDepositNotAccepted),
		errors.Is(err, house.ErrUnknownMethod),
		errors.Is(err, access.ErrKeyNotFound):
		status = http.StatusBadRequest
		code = codeAuctionInvalidParams
		message = "invalid_params"
	}
	writeError(w, status, id, code, message, err.Error())
}
