package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"auctionhouse/crypto"
)

type Config struct {
	ListenAddress          string          `toml:"ListenAddress"`
	DataDir                string          `toml:"DataDir"`
	Environment            string          `toml:"Environment"`
	LogFile                string          `toml:"LogFile"`
	GenesisFile            string          `toml:"GenesisFile"`
	JournalPath            string          `toml:"JournalPath"`
	HouseAccount           string          `toml:"HouseAccount"`
	Admin                  string          `toml:"Admin"`
	AdminKeystore          string          `toml:"AdminKeystore"`
	Custodian              string          `toml:"Custodian"`
	CustodianKeystore      string          `toml:"CustodianKeystore"`
	CustodianPassphraseEnv string          `toml:"CustodianPassphraseEnv"`
	BlockIntervalMs        int64           `toml:"BlockIntervalMs"`
	ExecutorIntervalMs     int64           `toml:"ExecutorIntervalMs"`
	DefaultCloseOffset     uint64          `toml:"DefaultCloseOffset"`
	RecallAllowance        string          `toml:"RecallAllowance"`
	CallCost               string          `toml:"CallCost"`
	ListingFee             string          `toml:"ListingFee"`
	AllowMigrate           bool            `toml:"AllowMigrate"`
	RPC                    RPCConfig       `toml:"rpc"`
	Telemetry              TelemetryConfig `toml:"telemetry"`
}

// Load loads the configuration from the given path, writing a development
// default when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %q", path, undecoded[0].String())
	}

	if strings.TrimSpace(cfg.Admin) == "" {
		if err := ensureAdminKeystore(path, cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults(path)
	return cfg, nil
}

func (c *Config) applyDefaults(configPath string) {
	dir := filepath.Dir(configPath)
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8545"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = filepath.Join(dir, "auction-data")
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "dev"
	}
	if strings.TrimSpace(c.JournalPath) == "" {
		c.JournalPath = filepath.Join(c.DataDir, "outbox-journal.sqlite")
	}
	if strings.TrimSpace(c.HouseAccount) == "" {
		c.HouseAccount = DefaultHouseAccount()
	}
	if strings.TrimSpace(c.CustodianKeystore) == "" {
		c.CustodianKeystore = filepath.Join(dir, "custodian.keystore")
	}
	if strings.TrimSpace(c.CustodianPassphraseEnv) == "" {
		c.CustodianPassphraseEnv = "AUCTION_CUSTODIAN_PASSPHRASE"
	}
	if c.BlockIntervalMs == 0 {
		c.BlockIntervalMs = 1000
	}
	if c.ExecutorIntervalMs == 0 {
		c.ExecutorIntervalMs = 500
	}
	if strings.TrimSpace(c.RecallAllowance) == "" {
		c.RecallAllowance = "100"
	}
	if strings.TrimSpace(c.CallCost) == "" {
		c.CallCost = "1"
	}
	if strings.TrimSpace(c.ListingFee) == "" {
		c.ListingFee = "0"
	}
	c.RPC.applyDefaults()
	c.Telemetry.applyDefaults()
}

// DefaultHouseAccount is the well-known account that receives deposits before
// the outbox routes them onwards.
func DefaultHouseAccount() string {
	digest := ethcrypto.Keccak256([]byte("auctionhouse/house-account"))
	return crypto.NewAddress(crypto.AccountPrefix, digest[12:]).String()
}

func ensureAdminKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.AdminKeystore
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath, "admin.keystore")
	}
	key, _, err := crypto.LoadOrCreateKeystore(keystorePath, "")
	if err != nil {
		return err
	}
	cfg.AdminKeystore = keystorePath
	cfg.Admin = key.PubKey().Address().String()
	return persist(configPath, cfg)
}

// createDefault creates and saves a default configuration file together with
// an unencrypted development admin keystore.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path, "admin.keystore")
	if err := crypto.SaveToKeystore(keystorePath, key, ""); err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddress:      ":8545",
		Environment:        "dev",
		DataDir:            filepath.Join(filepath.Dir(path), "auction-data"),
		Admin:              key.PubKey().Address().String(),
		AdminKeystore:      keystorePath,
		DefaultCloseOffset: 1_000_000,
	}
	cfg.applyDefaults(path)

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath, name string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, name)
}

// BlockInterval returns the block producer period.
func (c *Config) BlockInterval() time.Duration {
	return time.Duration(c.BlockIntervalMs) * time.Millisecond
}

// ExecutorInterval returns the outbox drain period.
func (c *Config) ExecutorInterval() time.Duration {
	return time.Duration(c.ExecutorIntervalMs) * time.Millisecond
}

// Amounts holds the parsed monetary settings.
type Amounts struct {
	RecallAllowance *big.Int
	CallCost        *big.Int
	ListingFee      *big.Int
}

// ParseAmounts parses the decimal amount fields.
func (c *Config) ParseAmounts() (Amounts, error) {
	var out Amounts
	var err error
	if out.RecallAllowance, err = parseUintAmount(c.RecallAllowance); err != nil {
		return out, fmt.Errorf("invalid RecallAllowance: %w", err)
	}
	if out.CallCost, err = parseUintAmount(c.CallCost); err != nil {
		return out, fmt.Errorf("invalid CallCost: %w", err)
	}
	if out.ListingFee, err = parseUintAmount(c.ListingFee); err != nil {
		return out, fmt.Errorf("invalid ListingFee: %w", err)
	}
	return out, nil
}

func parseUintAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("not a decimal integer: %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("must not be negative: %q", raw)
	}
	return value, nil
}
