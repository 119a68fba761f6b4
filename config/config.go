// Package config carries the token registry and process configuration for
// the payment service.
package config

import (
	"fmt"
	"os"

	pbtcpay "github.com/purplebtc/pbtc-payments-go"
)

// AssetInfo describes a token accepted for payment.
type AssetInfo struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name"`
	Mint     string `json:"mint"`
	Decimals uint8  `json:"decimals"`
}

// NetworkConfig describes the chain environment payments settle on.
type NetworkConfig struct {
	Network      string    `json:"network"`
	RPCURL       string    `json:"rpcUrl"`
	DefaultAsset AssetInfo `json:"token"`
}

// PBTC is the Purple Bitcoin SPL token.
var PBTC = AssetInfo{
	Symbol:   "PBTC",
	Name:     "Purple Bitcoin",
	Mint:     "HfMbPyDdZH6QMaDDUokjYCkHxzjoGBMpgaUvpLWGbF5p",
	Decimals: 9,
}

// Mainnet is the default deployment environment.
var Mainnet = NetworkConfig{
	Network:      "mainnet-beta",
	RPCURL:       "https://solana-rpc.publicnode.com",
	DefaultAsset: PBTC,
}

// ResolveAsset maps a caller-supplied token identifier to an asset variant:
// "SOL" or empty resolves to the native coin, a registered symbol resolves
// through the registry, and anything else is treated as a raw token mint
// address (base58, 32-44 characters) with default decimals.
func ResolveAsset(tokenID string) (pbtcpay.Asset, error) {
	switch tokenID {
	case "", "SOL", "sol":
		return pbtcpay.NativeAsset(), nil
	case PBTC.Symbol, "pbtc":
		return pbtcpay.TokenAsset(PBTC.Mint, PBTC.Decimals, PBTC.Symbol), nil
	}
	if len(tokenID) >= 32 && len(tokenID) <= 44 {
		return pbtcpay.TokenAsset(tokenID, PBTC.Decimals, tokenID), nil
	}
	return pbtcpay.Asset{}, fmt.Errorf("unsupported token identifier %q", tokenID)
}

// ServerConfig is the environment-driven process configuration.
type ServerConfig struct {
	Port     string
	RPCURL   string
	DBSource string // empty selects the in-memory ledger
	LogLevel string
	Env      string
}

// Load reads server configuration from the environment.
func Load() (*ServerConfig, error) {
	cfg := &ServerConfig{
		Port:     os.Getenv("SERVER_PORT"),
		RPCURL:   os.Getenv("SOLANA_RPC_URL"),
		DBSource: os.Getenv("DB_SOURCE"),
		LogLevel: os.Getenv("LOG_LEVEL"),
		Env:      os.Getenv("ENVIRONMENT"),
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.RPCURL == "" {
		cfg.RPCURL = Mainnet.RPCURL
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Env == "" {
		cfg.Env = "development"
	}
	return cfg, nil
}
