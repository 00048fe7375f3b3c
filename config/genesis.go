package config

import (
	"fmt"
	"math/big"
	"os"

	"gopkg.in/yaml.v3"

	"auctionhouse/crypto"
)

// Genesis lists development allocations applied when the house is deployed.
type Genesis struct {
	Accounts []GenesisAccount `yaml:"accounts"`
}

// GenesisAccount funds an account and registers its full-access keys.
type GenesisAccount struct {
	Address string   `yaml:"address"`
	Balance string   `yaml:"balance"`
	Keys    []string `yaml:"keys"`
}

// ResolvedAccount is a GenesisAccount with every field parsed.
type ResolvedAccount struct {
	Address [20]byte
	Balance *big.Int
	Keys    []crypto.Credential
}

// LoadGenesis reads a YAML genesis file. An empty path yields no allocations.
func LoadGenesis(path string) (*Genesis, error) {
	if path == "" {
		return &Genesis{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: %w", err)
	}
	var out Genesis
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("genesis: parse %s: %w", path, err)
	}
	return &out, nil
}

// Resolve parses every account and rejects duplicates.
func (g *Genesis) Resolve() ([]ResolvedAccount, error) {
	if g == nil {
		return nil, nil
	}
	seen := make(map[[20]byte]struct{}, len(g.Accounts))
	out := make([]ResolvedAccount, 0, len(g.Accounts))
	for i, acc := range g.Accounts {
		addr, err := crypto.ParseIdentity(acc.Address)
		if err != nil {
			return nil, fmt.Errorf("genesis: account %d: %w", i, err)
		}
		if _, dup := seen[addr]; dup {
			return nil, fmt.Errorf("genesis: duplicate account %s", acc.Address)
		}
		seen[addr] = struct{}{}
		balance, err := parseUintAmount(acc.Balance)
		if err != nil {
			return nil, fmt.Errorf("genesis: account %s balance: %w", acc.Address, err)
		}
		keys := make([]crypto.Credential, 0, len(acc.Keys))
		for _, raw := range acc.Keys {
			cred, err := crypto.ParseCredential(raw)
			if err != nil {
				return nil, fmt.Errorf("genesis: account %s: %w", acc.Address, err)
			}
			keys = append(keys, cred)
		}
		out = append(out, ResolvedAccount{Address: addr, Balance: balance, Keys: keys})
	}
	return out, nil
}
