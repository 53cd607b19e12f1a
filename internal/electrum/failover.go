package electrum

import (
	"context"
	"time"

	"github.com/litewallet-org/litewallet-core/internal/log"
)

// pingLoop is the periodic liveness check for one connection. A failed
// ping (or a connection that has already gone away) triggers one bounded
// failover pass; the loop exits either way, since a successful reconnect
// starts a fresh loop bound to the new connection.
func (c *Client) pingLoop(stop chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		c.mu.Lock()
		dead := c.conn == nil || c.closed
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		if !dead {
			ctx, cancel := context.WithTimeout(context.Background(), c.opts.PingInterval)
			_, err := c.Call(ctx, methodPing)
			cancel()
			dead = err != nil
		}

		if dead {
			c.failover()
			return
		}
	}
}

// failover runs one bounded reconnection pass: each configured server is
// tried once, in round-robin order starting from the server after the one
// that failed. If the whole list fails the client parks in the terminal
// error state until the caller explicitly reconnects.
func (c *Client) failover() {
	c.setState(StateReconnecting)

	c.mu.Lock()
	failed := c.serverIdx
	n := len(c.opts.Servers)
	c.mu.Unlock()

	for i := 1; i <= n; i++ {
		idx := (failed + i) % n
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
		err := c.connectServer(ctx, idx)
		cancel()
		if err == nil {
			c.setState(StateReady)
			return
		}
		log.Electrum.Warn().Str("server", c.opts.Servers[idx]).Err(err).Msg("failover attempt failed")
	}

	log.Electrum.Error().Msg("all servers failed, giving up until explicit reconnect")
	c.setState(StateFailed)
}
