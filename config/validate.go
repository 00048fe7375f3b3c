package config

import (
	"fmt"
	"strings"

	"auctionhouse/crypto"
)

var (
	MinBlockIntervalMs    = int64(10)
	MinExecutorIntervalMs = int64(10)
)

// Validate checks identities and ranges after defaults are applied.
func Validate(c *Config) error {
	if c == nil {
		return fmt.Errorf("config: nil config")
	}
	if _, err := crypto.ParseIdentity(c.Admin); err != nil {
		return fmt.Errorf("config: Admin: %w", err)
	}
	house, err := crypto.ParseIdentity(c.HouseAccount)
	if err != nil {
		return fmt.Errorf("config: HouseAccount: %w", err)
	}
	if strings.TrimSpace(c.Custodian) != "" {
		custodian, err := crypto.ParseIdentity(c.Custodian)
		if err != nil {
			return fmt.Errorf("config: Custodian: %w", err)
		}
		if custodian == house {
			return fmt.Errorf("config: Custodian must differ from HouseAccount")
		}
	}
	if c.BlockIntervalMs < MinBlockIntervalMs {
		return fmt.Errorf("config: BlockIntervalMs must be at least %d", MinBlockIntervalMs)
	}
	if c.ExecutorIntervalMs < MinExecutorIntervalMs {
		return fmt.Errorf("config: ExecutorIntervalMs must be at least %d", MinExecutorIntervalMs)
	}
	amounts, err := c.ParseAmounts()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if amounts.RecallAllowance.Cmp(amounts.CallCost) < 0 {
		return fmt.Errorf("config: RecallAllowance must cover at least one CallCost")
	}
	if c.RPC.RateLimitPerSec < 0 || c.RPC.RateLimitBurst < 0 {
		return fmt.Errorf("config: rpc rate limits must not be negative")
	}
	if c.RPC.JWTSecretEnv != "" && strings.TrimSpace(c.RPC.JWTIssuer) == "" {
		return fmt.Errorf("config: rpc.JWTIssuer required when JWT auth is enabled")
	}
	if c.Telemetry.Enabled() && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("config: telemetry.Endpoint required when exporters are enabled")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("config: telemetry.SampleRatio must be within [0, 1]")
	}
	return nil
}
