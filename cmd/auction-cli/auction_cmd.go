package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/big"
	"strings"

	"auctionhouse/cmd/internal/passphrase"
	"auctionhouse/core/house"
	"auctionhouse/crypto"
	"auctionhouse/native/auction"
)

var (
	auctionRPCCall = callRPC
	loadSigningKey = loadKeystore
)

func loadKeystore(path string) (*crypto.PrivateKey, error) {
	pass, err := passphrase.NewSource(keystorePassEnv, "keystore").Get()
	if err != nil {
		return nil, err
	}
	return crypto.LoadFromKeystore(path, pass)
}

// signingFlags are shared by every command that submits a transaction.
type signingFlags struct {
	keystore string
	signer   string
	nonce    uint64
}

func (s *signingFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&s.keystore, "keystore", "", "keystore holding the signing key")
	fs.StringVar(&s.signer, "signer", "", "account the key acts for (defaults to the key's own account)")
	fs.Uint64Var(&s.nonce, "nonce", 0, "key nonce to use (looked up when omitted)")
}

func newAuctionFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func printCommandError(stderr io.Writer, msg string) int {
	fmt.Fprintf(stderr, "Error: %s\n", msg)
	return 1
}

func runAuctionCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, auctionUsage())
		return 1
	}
	switch args[0] {
	case "create":
		return runAuctionCreate(args[1:], stdout, stderr)
	case "get":
		return runAuctionGet(args[1:], stdout, stderr)
	case "bid":
		return runAuctionBid(args[1:], stdout, stderr)
	case "cancel":
		return runAuctionSettle("auction_cancel", house.MethodCancel, args[1:], stdout, stderr)
	case "finalize":
		return runAuctionSettle("auction_finalize", house.MethodFinalize, args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown auction subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, auctionUsage())
		return 1
	}
}

func runHouseCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "Usage: auction-cli house pause|unpause|config [--keystore path]")
		return 1
	}
	var rpcMethod, method string
	switch args[0] {
	case "pause":
		rpcMethod, method = "house_pause", house.MethodPause
	case "unpause":
		rpcMethod, method = "house_unpause", house.MethodUnpause
	case "config":
		return runQuery("house_config", nil, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown house subcommand: %s\n", args[0])
		return 1
	}
	fs := newAuctionFlagSet("house "+args[0], stderr)
	var signing signingFlags
	signing.register(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}
	return submit(rpcMethod, method, signing, nil, house.TxArgs{}, stdout, stderr)
}

func runAuctionCreate(args []string, stdout, stderr io.Writer) int {
	fs := newAuctionFlagSet("auction create", stderr)
	var (
		signing     signingFlags
		asset       string
		beneficiary string
		closeBlock  uint64
		startingBid string
		deposit     string
	)
	signing.register(fs)
	fs.StringVar(&asset, "asset", "", "account whose control is auctioned")
	fs.StringVar(&beneficiary, "beneficiary", "", "account receiving the winning bid (defaults to the signer)")
	fs.Uint64Var(&closeBlock, "close-block", 0, "last block accepting bids (0 uses the house default)")
	fs.StringVar(&startingBid, "starting-bid", "0", "minimum first bid")
	fs.StringVar(&deposit, "deposit", "0", "attached payment covering the listing fee")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() > 0 {
		return printCommandError(stderr, "unexpected positional arguments")
	}
	if asset == "" {
		return printCommandError(stderr, "--asset is required")
	}
	var txArgs house.TxArgs
	var err error
	if txArgs.Asset, err = crypto.ParseIdentity(asset); err != nil {
		return printCommandError(stderr, fmt.Sprintf("--asset: %v", err))
	}
	if beneficiary != "" {
		if txArgs.Beneficiary, err = crypto.ParseIdentity(beneficiary); err != nil {
			return printCommandError(stderr, fmt.Sprintf("--beneficiary: %v", err))
		}
	}
	txArgs.CloseBlock = closeBlock
	if txArgs.StartingBid, err = parseAmountFlag("--starting-bid", startingBid); err != nil {
		return printCommandError(stderr, err.Error())
	}
	amount, err := parseAmountFlag("--deposit", deposit)
	if err != nil {
		return printCommandError(stderr, err.Error())
	}
	return submit("auction_create", house.MethodCreate, signing, amount, txArgs, stdout, stderr)
}

func runAuctionGet(args []string, stdout, stderr io.Writer) int {
	fs := newAuctionFlagSet("auction get", stderr)
	var id string
	fs.StringVar(&id, "id", "", "auction identifier (64 hex characters)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if _, err := auction.ParseID(id); err != nil {
		return printCommandError(stderr, fmt.Sprintf("--id: %v", err))
	}
	return runQuery("auction_get", map[string]string{"id": id}, stdout, stderr)
}

func runAuctionBid(args []string, stdout, stderr io.Writer) int {
	fs := newAuctionFlagSet("auction bid", stderr)
	var (
		signing signingFlags
		id      string
		amount  string
	)
	signing.register(fs)
	fs.StringVar(&id, "id", "", "auction identifier")
	fs.StringVar(&amount, "amount", "", "bid amount, attached as the deposit")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	parsedID, err := auction.ParseID(id)
	if err != nil {
		return printCommandError(stderr, fmt.Sprintf("--id: %v", err))
	}
	if amount == "" {
		return printCommandError(stderr, "--amount is required")
	}
	value, err := parseAmountFlag("--amount", amount)
	if err != nil {
		return printCommandError(stderr, err.Error())
	}
	if value.Sign() == 0 {
		return printCommandError(stderr, "--amount must be positive")
	}
	return submit("auction_placeBid", house.MethodPlaceBid, signing, value, house.TxArgs{AuctionID: parsedID}, stdout, stderr)
}

func runAuctionSettle(rpcMethod, method string, args []string, stdout, stderr io.Writer) int {
	fs := newAuctionFlagSet("auction "+method, stderr)
	var (
		signing signingFlags
		id      string
	)
	signing.register(fs)
	fs.StringVar(&id, "id", "", "auction identifier")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	parsedID, err := auction.ParseID(id)
	if err != nil {
		return printCommandError(stderr, fmt.Sprintf("--id: %v", err))
	}
	return submit(rpcMethod, method, signing, nil, house.TxArgs{AuctionID: parsedID}, stdout, stderr)
}

func parseAmountFlag(name, raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return value, nil
}

func submit(rpcMethod, method string, signing signingFlags, deposit *big.Int, args house.TxArgs, stdout, stderr io.Writer) int {
	if signing.keystore == "" {
		return printCommandError(stderr, "--keystore is required")
	}
	key, err := loadSigningKey(signing.keystore)
	if err != nil {
		return printCommandError(stderr, fmt.Sprintf("load key: %v", err))
	}
	signer := key.PubKey().Address().Raw()
	if signing.signer != "" {
		if signer, err = crypto.ParseIdentity(signing.signer); err != nil {
			return printCommandError(stderr, fmt.Sprintf("--signer: %v", err))
		}
	}
	if method == house.MethodCreate && args.Beneficiary == ([20]byte{}) {
		args.Beneficiary = signer
	}
	nonce := signing.nonce
	if nonce == 0 {
		if nonce, err = nextNonce(signer, key.PubKey().Credential()); err != nil {
			return printCommandError(stderr, err.Error())
		}
	}
	tx := &house.Transaction{
		Signer:  signer,
		Nonce:   nonce,
		Deposit: deposit,
		Method:  method,
		Args:    args,
	}
	if err := tx.Sign(key); err != nil {
		return printCommandError(stderr, fmt.Sprintf("sign: %v", err))
	}
	encoded, err := json.Marshal(tx)
	if err != nil {
		return printCommandError(stderr, err.Error())
	}
	result, rpcErr, err := auctionRPCCall(rpcMethod, json.RawMessage(encoded), true)
	if err != nil {
		return printCommandError(stderr, err.Error())
	}
	if rpcErr != nil {
		return printCommandError(stderr, rpcErr.Error())
	}
	return printJSON(stdout, stderr, result)
}

// nextNonce looks up the key registered for cred on signer and returns the
// nonce the next transaction must carry.
func nextNonce(signer [20]byte, cred crypto.Credential) (uint64, error) {
	result, rpcErr, err := auctionRPCCall("account_get", map[string]string{
		"address": crypto.AccountAddress(signer).String(),
	}, false)
	if err != nil {
		return 0, fmt.Errorf("lookup nonce: %w", err)
	}
	if rpcErr != nil {
		return 0, fmt.Errorf("lookup nonce: %w", rpcErr)
	}
	var account struct {
		Keys []struct {
			Credential string `json:"credential"`
			Nonce      uint64 `json:"nonce"`
		} `json:"keys"`
	}
	if err := json.Unmarshal(result, &account); err != nil {
		return 0, fmt.Errorf("lookup nonce: %w", err)
	}
	want := cred.String()
	for _, key := range account.Keys {
		if key.Credential == want {
			return key.Nonce + 1, nil
		}
	}
	return 0, fmt.Errorf("key %s is not registered on %s", want, crypto.AccountAddress(signer).String())
}

func auctionUsage() string {
	return strings.TrimSpace(`
Usage: auction-cli auction <subcommand> [flags]

Subcommands:
  create    --keystore path --asset addr [--beneficiary addr] [--close-block n] [--starting-bid n] [--deposit n]
  get       --id hex
  bid       --keystore path --id hex --amount n
  cancel    --keystore path --id hex [--signer addr]
  finalize  --keystore path --id hex [--signer addr]

Signing flags: --keystore, --signer (act for another account), --nonce (skip lookup).
`)
}
