// Package config holds node and client configuration. Values load from a
// JSON file and can be overridden through environment variables, so a
// deployment can keep secrets (RPC tokens) out of the config file.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

// GenesisConfig describes the chain's initial state.
type GenesisConfig struct {
	ChainID string            `json:"chain_id"`
	Alloc   map[string]uint64 `json:"alloc"` // pubkey hex → initial balance
}

// TLSConfig names the PEM files for optional mTLS on the RPC boundary.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`
	NodeCert string `json:"node_cert"`
	NodeKey  string `json:"node_key"`
}

// Config holds all node configuration. Environment overrides use the
// POISONNET_ prefix.
type Config struct {
	NodeID       string        `json:"node_id" env:"POISONNET_NODE_ID"`
	DataDir      string        `json:"data_dir" env:"POISONNET_DATA_DIR"`
	RPCPort      int           `json:"rpc_port" env:"POISONNET_RPC_PORT"`
	RPCAuthToken string        `json:"rpc_auth_token" env:"POISONNET_RPC_TOKEN"`
	MaxBlockTxs  int           `json:"max_block_txs"` // max transactions per block; 0 → 500
	Validators   []string      `json:"validators"`    // authorised proposer pubkey hexes
	TLS          *TLSConfig    `json:"tls,omitempty"`
	Genesis      GenesisConfig `json:"genesis"`
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:      "node0",
		DataDir:     "./data",
		RPCPort:     8545,
		MaxBlockTxs: 500,
		Genesis: GenesisConfig{
			ChainID: "poisonnet-dev",
			Alloc:   map[string]uint64{},
		},
	}
}

// Load reads a JSON config file from path, then applies environment
// variable overrides on top.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	return cfg, nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
