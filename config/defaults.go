package config

import "time"

// Default Electrum endpoints, in failover order.
var (
	DefaultMainnetServers = []string{
		"ssl://electrum-ltc.bysh.me:50002",
		"ssl://ltc.rentonrisk.com:50002",
		"ssl://electrum.ltc.xurious.com:50002",
	}
	DefaultTestnetServers = []string{
		"ssl://electrum.ltc.xurious.com:51002",
	}
)

// Default returns a config with sane defaults for the given network.
func Default(network NetworkType) *Config {
	servers := DefaultMainnetServers
	if network == Testnet {
		servers = DefaultTestnetServers
	}
	return &Config{
		Network:         network,
		Servers:         append([]string(nil), servers...),
		ConnectTimeout:  10 * time.Second,
		CallTimeout:     12 * time.Second,
		PingInterval:    5 * time.Second,
		IdleLockTimeout: 10 * time.Minute,
		LockoutWindow:   15 * time.Minute,
		MaxUnlockTries:  5,
		Log: LogConfig{
			Level: "info",
		},
	}
}
