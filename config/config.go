// Package config handles application configuration.
//
// Configuration is split into two categories:
//   - Network parameters: address encoding, coin type — fixed per network
//   - Client settings: server lists, timeouts — tunable per deployment
package config

import (
	"strings"
	"time"

	"github.com/litewallet-org/litewallet-core/pkg/types"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// Config holds client runtime configuration.
type Config struct {
	// Core
	Network NetworkType

	// Electrum peer endpoints, in failover order. Every endpoint must use
	// the ssl:// scheme.
	Servers []string

	// RPC behaviour
	ConnectTimeout time.Duration // connection establishment
	CallTimeout    time.Duration // per-request
	PingInterval   time.Duration // liveness check period

	// Wallet behaviour
	IdleLockTimeout time.Duration // unlocked-session idle autolock
	LockoutWindow   time.Duration // duration of a failed-attempts lockout
	MaxUnlockTries  int

	// Logging
	Log LogConfig
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
	JSON  bool
}

// Params returns the chain parameters for the configured network.
func (c *Config) Params() types.Params {
	if c.Network == Testnet {
		return types.TestNetParams
	}
	return types.MainNetParams
}

// ParseServerList splits a comma-separated endpoint list, trimming blanks.
func ParseServerList(s string) []string {
	parts := strings.Split(s, ",")
	servers := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			servers = append(servers, p)
		}
	}
	return servers
}
