package config

import (
	"fmt"
	"strings"
)

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Network != Mainnet && c.Network != Testnet {
		return fmt.Errorf("unknown network %q", c.Network)
	}
	if len(c.Servers) == 0 {
		return fmt.Errorf("no servers configured for %s", c.Network)
	}
	for _, s := range c.Servers {
		if !strings.HasPrefix(s, "ssl://") {
			return fmt.Errorf("server %q: only ssl:// endpoints are allowed", s)
		}
	}
	if c.ConnectTimeout <= 0 || c.CallTimeout <= 0 || c.PingInterval <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.MaxUnlockTries <= 0 {
		return fmt.Errorf("max unlock tries must be positive")
	}
	return nil
}
