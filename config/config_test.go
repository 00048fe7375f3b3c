package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"auctionhouse/crypto"
)

func testIdentity(t *testing.T) (string, string) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return key.PubKey().Address().String(), key.PubKey().Credential().String()
}

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auctiond.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config file to be written: %v", err)
	}
	if _, err := os.Stat(cfg.AdminKeystore); err != nil {
		t.Fatalf("expected admin keystore: %v", err)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.HouseAccount != DefaultHouseAccount() {
		t.Fatalf("house account = %s", cfg.HouseAccount)
	}

	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.Admin != cfg.Admin {
		t.Fatalf("admin changed across reloads: %s != %s", again.Admin, cfg.Admin)
	}
}

func TestLoadParsesSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auctiond.toml")
	admin, _ := testIdentity(t)
	custodian, _ := testIdentity(t)
	contents := fmt.Sprintf(`ListenAddress = "127.0.0.1:9000"
DataDir = "./data"
Admin = "%s"
Custodian = "%s"
BlockIntervalMs = 250
DefaultCloseOffset = 500
RecallAllowance = "50"
CallCost = "2"
ListingFee = "10"

[rpc]
JWTSecretEnv = "AUCTION_JWT"
JWTIssuer = "auction-ops"
JWTAudience = ["auctiond"]
RateLimitPerSec = 5.5
RateLimitBurst = 11

[telemetry]
Endpoint = "otel:4318"
Traces = true
`, admin, custodian)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != "127.0.0.1:9000" || cfg.BlockIntervalMs != 250 || cfg.DefaultCloseOffset != 500 {
		t.Fatalf("unexpected top-level fields: %+v", cfg)
	}
	if cfg.ExecutorIntervalMs != 500 {
		t.Fatalf("executor interval default = %d", cfg.ExecutorIntervalMs)
	}
	if cfg.RPC.JWTIssuer != "auction-ops" || len(cfg.RPC.JWTAudience) != 1 || cfg.RPC.RateLimitBurst != 11 {
		t.Fatalf("unexpected rpc section: %+v", cfg.RPC)
	}
	if !cfg.Telemetry.Traces || cfg.Telemetry.Endpoint != "otel:4318" {
		t.Fatalf("unexpected telemetry section: %+v", cfg.Telemetry)
	}
	amounts, err := cfg.ParseAmounts()
	if err != nil {
		t.Fatalf("amounts: %v", err)
	}
	if amounts.ListingFee.Int64() != 10 || amounts.CallCost.Int64() != 2 {
		t.Fatalf("unexpected amounts: %+v", amounts)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "auctiond.toml")
	if err := os.WriteFile(path, []byte("ValidatorKey = \"abc\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "ValidatorKey") {
		t.Fatalf("expected unknown field error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	admin, _ := testIdentity(t)
	base := func() *Config {
		cfg := &Config{Admin: admin}
		cfg.applyDefaults(filepath.Join(t.TempDir(), "cfg.toml"))
		return cfg
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad admin", mutate: func(c *Config) { c.Admin = "nope" }, want: "Admin"},
		{name: "custodian equals house", mutate: func(c *Config) { c.Custodian = c.HouseAccount }, want: "differ"},
		{name: "interval too small", mutate: func(c *Config) { c.BlockIntervalMs = 1 }, want: "BlockIntervalMs"},
		{name: "negative fee", mutate: func(c *Config) { c.ListingFee = "-3" }, want: "ListingFee"},
		{name: "allowance below cost", mutate: func(c *Config) { c.RecallAllowance = "1"; c.CallCost = "2" }, want: "RecallAllowance"},
		{name: "jwt without issuer", mutate: func(c *Config) { c.RPC.JWTSecretEnv = "X" }, want: "JWTIssuer"},
		{name: "telemetry without endpoint", mutate: func(c *Config) { c.Telemetry.Metrics = true }, want: "Endpoint"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadGenesis(t *testing.T) {
	addr, cred := testIdentity(t)
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	contents := fmt.Sprintf("accounts:\n  - address: %s\n    balance: \"1000\"\n    keys: [\"%s\"]\n", addr, cred)
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write genesis: %v", err)
	}
	genesis, err := LoadGenesis(path)
	if err != nil {
		t.Fatalf("load genesis: %v", err)
	}
	resolved, err := genesis.Resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(resolved) != 1 || resolved[0].Balance.Int64() != 1000 || len(resolved[0].Keys) != 1 {
		t.Fatalf("unexpected allocation: %+v", resolved)
	}

	genesis.Accounts = append(genesis.Accounts, genesis.Accounts[0])
	if _, err := genesis.Resolve(); err == nil {
		t.Fatalf("expected duplicate account error")
	}

	empty, err := LoadGenesis("")
	if err != nil || len(empty.Accounts) != 0 {
		t.Fatalf("empty path: %v %+v", err, empty)
	}
}
