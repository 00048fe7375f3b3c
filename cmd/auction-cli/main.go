package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"strings"
	"time"

	"auctionhouse/cmd/internal/passphrase"
	"auctionhouse/crypto"
)

const keystorePassEnv = "AUCTION_KEYSTORE_PASS"

var (
	rpcEndpoint  = defaultRPCEndpoint()
	rpcAuthToken = strings.TrimSpace(os.Getenv("AUCTION_RPC_TOKEN"))
	httpClient   = &http.Client{Timeout: 30 * time.Second}
)

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d (%s): %s", e.Code, e.Message, string(e.Data))
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	args, err := applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if len(args) < 1 {
		fmt.Fprintln(stderr, usage())
		return 1
	}

	switch args[0] {
	case "generate-key":
		return runGenerateKey(args[1:], stdout, stderr)
	case "import-key":
		return runImportKey(args[1:], stdout, stderr)
	case "auction":
		return runAuctionCommand(args[1:], stdout, stderr)
	case "house":
		return runHouseCommand(args[1:], stdout, stderr)
	case "account":
		return runAccount(args[1:], stdout, stderr)
	case "outbox":
		return runOutbox(args[1:], stdout, stderr)
	case "height":
		return runQuery("chain_height", nil, stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(stdout, usage())
		return 0
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(stderr, usage())
		return 1
	}
}

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("AUCTION_RPC_URL")); v != "" {
		return v
	}
	return "http://localhost:8545"
}

func applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for --rpc")
			}
			rpcEndpoint = args[i+1]
			i++
		case strings.HasPrefix(arg, "--rpc="):
			rpcEndpoint = strings.TrimPrefix(arg, "--rpc=")
		default:
			out = append(out, arg)
		}
	}
	return out, nil
}

func runGenerateKey(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage: auction-cli generate-key <keystore-path>")
		return 1
	}
	pass, err := passphrase.NewSource(keystorePassEnv, "keystore").Get()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	key, created, err := crypto.LoadOrCreateKeystore(args[0], pass)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if !created {
		fmt.Fprintf(stderr, "Keystore %s already exists\n", args[0])
	}
	fmt.Fprintf(stdout, "address:    %s\n", key.PubKey().Address().String())
	fmt.Fprintf(stdout, "credential: %s\n", key.PubKey().Credential().String())
	return 0
}

// runImportKey encrypts an existing hex private key into a new keystore file.
func runImportKey(args []string, stdout, stderr io.Writer) int {
	if len(args) != 2 {
		fmt.Fprintln(stderr, "Usage: auction-cli import-key <hex-private-key> <keystore-path>")
		return 1
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(args[0]), "0x"))
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid private key hex: %v\n", err)
		return 1
	}
	key, err := crypto.PrivateKeyFromBytes(raw)
	if err != nil {
		fmt.Fprintf(stderr, "Error: invalid private key: %v\n", err)
		return 1
	}
	path := args[1]
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(stderr, "Error: keystore %s already exists\n", path)
		return 1
	} else if !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	pass, err := passphrase.NewSource(keystorePassEnv, "keystore").Get()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if err := crypto.SaveToKeystore(path, key, pass); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "address:    %s\n", key.PubKey().Address().String())
	fmt.Fprintf(stdout, "credential: %s\n", key.PubKey().Credential().String())
	return 0
}

func runAccount(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage: auction-cli account <address>")
		return 1
	}
	return runQuery("account_get", map[string]string{"address": args[0]}, stdout, stderr)
}

func runOutbox(args []string, stdout, stderr io.Writer) int {
	if len(args) != 1 {
		fmt.Fprintln(stderr, "Usage: auction-cli outbox <sequence>")
		return 1
	}
	var seq uint64
	if _, err := fmt.Sscanf(args[0], "%d", &seq); err != nil {
		fmt.Fprintln(stderr, "Error: sequence must be an unsigned integer")
		return 1
	}
	return runQuery("outbox_status", map[string]uint64{"sequence": seq}, stdout, stderr)
}

func runQuery(method string, params interface{}, stdout, stderr io.Writer) int {
	result, rpcErr, err := auctionRPCCall(method, params, false)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if rpcErr != nil {
		fmt.Fprintf(stderr, "Error: %v\n", rpcErr)
		return 1
	}
	return printJSON(stdout, stderr, result)
}

func printJSON(stdout, stderr io.Writer, result json.RawMessage) int {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, result, "", "  "); err != nil {
		fmt.Fprintf(stderr, "Error: malformed response: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, pretty.String())
	return 0
}

func callRPC(method string, params interface{}, requireAuth bool) (json.RawMessage, *rpcError, error) {
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  []interface{}{},
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequest(http.MethodPost, rpcEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if requireAuth && rpcAuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+rpcAuthToken)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("POST %s: %w", rpcEndpoint, err)
	}
	defer resp.Body.Close()

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, nil, fmt.Errorf("failed to decode RPC response (HTTP %d): %w", resp.StatusCode, err)
	}
	return rpcResp.Result, rpcResp.Error, nil
}

func usage() string {
	return strings.TrimSpace(`
Usage: auction-cli [--rpc URL] <command> [args]

Commands:
  generate-key <keystore>                 create an encrypted keystore
  import-key <hex-key> <keystore>         encrypt an existing private key
  auction create|get|bid|cancel|finalize  manage auctions (see "auction" for flags)
  house pause|unpause|config              toggle the pause flag or show settings
  account <address>                       show balance and registered keys
  outbox <sequence>                       show delivery status of an outbox group
  height                                  show the ledger height and outbox backlog

Environment:
  AUCTION_RPC_URL        JSON-RPC endpoint (default http://localhost:8545)
  AUCTION_RPC_TOKEN      bearer token for mutating calls
  AUCTION_KEYSTORE_PASS  keystore passphrase (prompted when unset)
`)
}
