package house

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"auctionhouse/crypto"
	"auctionhouse/native/access"
	"auctionhouse/native/auction"
	"auctionhouse/native/bank"
	"auctionhouse/observability/logging"
)

// Transaction methods.
const (
	MethodCreate   = "create"
	MethodPlaceBid = "place_bid"
	MethodCancel   = auction.MethodCancel
	MethodFinalize = auction.MethodFinalize
	MethodPause    = "pause"
	MethodUnpause  = "unpause"
)

// TxArgs carries the method-specific arguments. Fields a method does not use
// stay zero.
type TxArgs struct {
	AuctionID   [32]byte
	Asset       [20]byte
	Beneficiary [20]byte
	CloseBlock  uint64
	StartingBid *big.Int
}

// Transaction is a signed request to the house. Deposit is moved from Signer
// to the house account before the method runs.
type Transaction struct {
	Signer     [20]byte
	Credential crypto.Credential
	Nonce      uint64
	Deposit    *big.Int
	Method     string
	Args       TxArgs
	Signature  []byte
}

type txPayload struct {
	Signer     [20]byte
	Credential crypto.Credential
	Nonce      uint64
	Deposit    *big.Int
	Method     string
	Args       TxArgs
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// Digest returns the keccak256 hash of the RLP encoded unsigned fields.
func (tx *Transaction) Digest() ([]byte, error) {
	if tx == nil {
		return nil, fmt.Errorf("house: nil transaction")
	}
	args := tx.Args
	args.StartingBid = bigOrZero(args.StartingBid)
	encoded, err := rlp.EncodeToBytes(&txPayload{
		Signer:     tx.Signer,
		Credential: tx.Credential,
		Nonce:      tx.Nonce,
		Deposit:    bigOrZero(tx.Deposit),
		Method:     tx.Method,
		Args:       args,
	})
	if err != nil {
		return nil, fmt.Errorf("house: encode transaction: %w", err)
	}
	return ethcrypto.Keccak256(encoded), nil
}

// Sign sets the credential to key's public key and signs the digest.
func (tx *Transaction) Sign(key *crypto.PrivateKey) error {
	if key == nil {
		return fmt.Errorf("house: signing key required")
	}
	tx.Credential = key.PubKey().Credential()
	digest, err := tx.Digest()
	if err != nil {
		return err
	}
	sig, err := key.Sign(digest)
	if err != nil {
		return err
	}
	tx.Signature = sig
	return nil
}

// VerifySignature checks that the signature was produced by Credential.
func (tx *Transaction) VerifySignature() error {
	if len(tx.Signature) != 65 {
		return fmt.Errorf("%w: expected 65 bytes, got %d", ErrBadSignature, len(tx.Signature))
	}
	digest, err := tx.Digest()
	if err != nil {
		return err
	}
	recovered, err := crypto.RecoverCredential(digest, tx.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if recovered != tx.Credential {
		return ErrBadSignature
	}
	return nil
}

type txArgsJSON struct {
	AuctionID   string `json:"auctionId,omitempty"`
	Asset       string `json:"asset,omitempty"`
	Beneficiary string `json:"beneficiary,omitempty"`
	CloseBlock  uint64 `json:"closeBlock,omitempty"`
	StartingBid string `json:"startingBid,omitempty"`
}

type txJSON struct {
	Signer     string     `json:"signer"`
	Credential string     `json:"credential"`
	Nonce      uint64     `json:"nonce"`
	Deposit    string     `json:"deposit,omitempty"`
	Method     string     `json:"method"`
	Args       txArgsJSON `json:"args"`
	Signature  string     `json:"signature"`
}

func formatOptionalAddress(raw [20]byte) string {
	if raw == ([20]byte{}) {
		return ""
	}
	return formatAddress(raw)
}

func formatAmount(v *big.Int) string {
	if v == nil || v.Sign() == 0 {
		return ""
	}
	return v.String()
}

// MarshalJSON renders addresses as bech32, amounts as decimal strings and
// binary fields as hex.
func (tx Transaction) MarshalJSON() ([]byte, error) {
	out := txJSON{
		Signer:     formatOptionalAddress(tx.Signer),
		Credential: tx.Credential.String(),
		Nonce:      tx.Nonce,
		Deposit:    formatAmount(tx.Deposit),
		Method:     tx.Method,
		Args: txArgsJSON{
			Asset:       formatOptionalAddress(tx.Args.Asset),
			Beneficiary: formatOptionalAddress(tx.Args.Beneficiary),
			CloseBlock:  tx.Args.CloseBlock,
			StartingBid: formatAmount(tx.Args.StartingBid),
		},
	}
	if tx.Args.AuctionID != ([32]byte{}) {
		out.Args.AuctionID = auction.FormatID(tx.Args.AuctionID)
	}
	if len(tx.Signature) > 0 {
		out.Signature = "0x" + hex.EncodeToString(tx.Signature)
	}
	return json.Marshal(out)
}

func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("house: invalid %s %q", field, raw)
	}
	return v, nil
}

func parseOptionalIdentity(field, raw string) ([20]byte, error) {
	if strings.TrimSpace(raw) == "" {
		return [20]byte{}, nil
	}
	addr, err := crypto.ParseIdentity(raw)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: %s: %v", auction.ErrMalformedIdentity, field, err)
	}
	return addr, nil
}

// UnmarshalJSON parses the representation produced by MarshalJSON.
func (tx *Transaction) UnmarshalJSON(data []byte) error {
	var in txJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	signer, err := crypto.ParseIdentity(in.Signer)
	if err != nil {
		return fmt.Errorf("%w: signer: %v", auction.ErrMalformedIdentity, err)
	}
	cred, err := crypto.ParseCredential(in.Credential)
	if err != nil {
		return err
	}
	deposit, err := parseAmount("deposit", in.Deposit)
	if err != nil {
		return err
	}
	startingBid, err := parseAmount("startingBid", in.Args.StartingBid)
	if err != nil {
		return err
	}
	asset, err := parseOptionalIdentity("asset", in.Args.Asset)
	if err != nil {
		return err
	}
	beneficiary, err := parseOptionalIdentity("beneficiary", in.Args.Beneficiary)
	if err != nil {
		return err
	}
	var id [32]byte
	if strings.TrimSpace(in.Args.AuctionID) != "" {
		if id, err = auction.ParseID(in.Args.AuctionID); err != nil {
			return err
		}
	}
	sigHex := strings.TrimPrefix(strings.TrimSpace(in.Signature), "0x")
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	*tx = Transaction{
		Signer:     signer,
		Credential: cred,
		Nonce:      in.Nonce,
		Deposit:    deposit,
		Method:     strings.TrimSpace(in.Method),
		Args: TxArgs{
			AuctionID:   id,
			Asset:       asset,
			Beneficiary: beneficiary,
			CloseBlock:  in.Args.CloseBlock,
			StartingBid: startingBid,
		},
		Signature: sig,
	}
	return nil
}

// Result is the outcome of a submitted transaction.
type Result struct {
	Method    string
	AuctionID [32]byte
	Auction   *auction.Auction
	OutboxSeq uint64
}

func knownMethod(method string) bool {
	switch method {
	case MethodCreate, MethodPlaceBid, MethodCancel, MethodFinalize, MethodPause, MethodUnpause:
		return true
	}
	return false
}

// Submit authorizes tx and applies it in one unit of work. Any failure leaves
// state untouched, including the nonce and the deposit.
func (h *House) Submit(ctx context.Context, tx *Transaction) (*Result, error) {
	if tx == nil {
		return nil, fmt.Errorf("house: nil transaction")
	}
	if !knownMethod(tx.Method) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, tx.Method)
	}
	if err := tx.VerifySignature(); err != nil {
		return nil, err
	}
	var result *Result
	err := h.update(ctx, tx.Method, func(u *unit) error {
		settings, err := u.settings()
		if err != nil {
			return err
		}
		if _, err := u.registry().Authorize(tx.Signer, tx.Credential, settings.HouseAccount, tx.Method, tx.Nonce, settings.CallCost); err != nil {
			if errors.Is(err, access.ErrKeyNotFound) {
				return fmt.Errorf("%w: %v", ErrUnauthorized, err)
			}
			return err
		}
		deposit := bigOrZero(tx.Deposit)
		if deposit.Sign() > 0 {
			if tx.Method == MethodPause || tx.Method == MethodUnpause {
				return fmt.Errorf("%w: %s", ErrDepositNotAccepted, tx.Method)
			}
			if err := bank.Transfer(u.state, tx.Signer, settings.HouseAccount, deposit, u.height); err != nil {
				return err
			}
		}
		res, err := h.dispatch(u, tx, deposit)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		h.logger.Warn("transaction rejected",
			slog.String("method", tx.Method),
			slog.String("signer", formatOptionalAddress(tx.Signer)),
			logging.Fingerprint("credential", tx.Credential.String()),
			slog.String("error", err.Error()))
		return nil, err
	}
	h.logger.Info("transaction applied",
		slog.String("method", tx.Method),
		slog.String("signer", formatAddress(tx.Signer)),
		slog.Uint64("outbox_seq", result.OutboxSeq))
	return result, nil
}

func (h *House) dispatch(u *unit, tx *Transaction, deposit *big.Int) (*Result, error) {
	call := auction.Call{Signer: tx.Signer, Credential: tx.Credential, Deposit: deposit}
	engine := u.engine()
	var (
		receipt *auction.Receipt
		err     error
	)
	switch tx.Method {
	case MethodCreate:
		receipt, err = engine.Create(call, auction.CreateParams{
			Asset:       tx.Args.Asset,
			Beneficiary: tx.Args.Beneficiary,
			CloseBlock:  tx.Args.CloseBlock,
			StartingBid: tx.Args.StartingBid,
		})
	case MethodPlaceBid:
		receipt, err = engine.PlaceBid(call, tx.Args.AuctionID)
	case MethodCancel:
		receipt, err = engine.Cancel(call, tx.Args.AuctionID)
	case MethodFinalize:
		receipt, err = engine.Finalize(call, tx.Args.AuctionID)
	case MethodPause, MethodUnpause:
		return &Result{Method: tx.Method}, h.setPaused(u, tx.Signer, tx.Method == MethodPause)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, tx.Method)
	}
	if err != nil {
		return nil, err
	}
	return &Result{
		Method:    tx.Method,
		AuctionID: receipt.Auction.ID,
		Auction:   receipt.Auction,
		OutboxSeq: receipt.OutboxSeq,
	}, nil
}
