// Package electrum implements a stateful client for the Electrum peer
// protocol: newline-delimited JSON requests, responses and subscription
// notifications over a persistent TLS stream, with id-correlated pending
// calls and health-checked failover across an ordered server list.
package electrum

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/litewallet-org/litewallet-core/internal/log"
)

// MinProtocolVersion is the lowest accepted server protocol version,
// offered as-is in the handshake. Older servers fail at connect time,
// not at first use.
const MinProtocolVersion = "1.4"

const (
	minProtocolMajor = 1
	minProtocolMinor = 4
)

// clientName identifies this client in the server.version handshake.
const clientName = "litewallet-core 1.0"

// State is the connection state machine.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "error"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// DialFunc opens a raw connection to host:port. Production uses TLS;
// tests substitute a pipe.
type DialFunc func(ctx context.Context, addr string) (net.Conn, error)

// NotificationHandler receives the params of an unsolicited notification.
type NotificationHandler func(params json.RawMessage)

// Options configures a Client.
type Options struct {
	Servers        []string      // failover order; every entry needs ssl://
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
	PingInterval   time.Duration
	Dial           DialFunc      // nil = TLS dialer
	OnState        func(State)   // optional state-change callback
}

// request is one framed outbound message.
type request struct {
	ID     uint64        `json:"id"`
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

// envelope is any inbound message. Messages with an id are responses;
// messages without one are notifications routed by method name.
type envelope struct {
	ID     *uint64         `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

type callResult struct {
	result json.RawMessage
	err    error
}

// Client manages one logical connection to one server at a time.
type Client struct {
	opts Options

	mu             sync.Mutex
	state          State
	conn           net.Conn
	serverIdx      int
	nextID         uint64
	pending        map[uint64]chan callResult
	handlers       map[string]NotificationHandler
	scripthashSubs map[string]func(scripthash, status string)
	stopPing       chan struct{}
	closed         bool

	wmu sync.Mutex // serializes writes to conn
}

// New creates a client. It does not connect.
func New(opts Options) *Client {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 12 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 5 * time.Second
	}
	if opts.Dial == nil {
		opts.Dial = tlsDial
	}
	return &Client{
		opts:     opts,
		pending:  make(map[uint64]chan callResult),
		handlers: make(map[string]NotificationHandler),
	}
}

func tlsDial(ctx context.Context, addr string) (net.Conn, error) {
	d := tls.Dialer{Config: &tls.Config{}}
	return d.DialContext(ctx, "tcp", addr)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed && c.opts.OnState != nil {
		c.opts.OnState(s)
	}
}

// serverAddr strips the ssl:// scheme, rejecting anything else.
func serverAddr(url string) (string, error) {
	if !strings.HasPrefix(url, "ssl://") {
		return "", fmt.Errorf("%w: %q", ErrInsecureScheme, url)
	}
	return strings.TrimPrefix(url, "ssl://"), nil
}

// Connect establishes a connection, trying the configured servers in
// order starting from the first. On success the id counter is reset, any
// stale pending requests are rejected, and the liveness loop starts.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	var lastErr error
	for i := range c.opts.Servers {
		if err := c.connectServer(ctx, i); err != nil {
			lastErr = err
			log.Electrum.Warn().Str("server", c.opts.Servers[i]).Err(err).Msg("connect failed")
			continue
		}
		c.setState(StateReady)
		return nil
	}
	c.setState(StateFailed)
	if lastErr == nil {
		lastErr = fmt.Errorf("no servers configured")
	}
	return fmt.Errorf("%w: %v", ErrAllServersFailed, lastErr)
}

// connectServer dials one server, negotiates the protocol version and
// atomically swaps in the new connection and a fresh pending table.
func (c *Client) connectServer(ctx context.Context, idx int) error {
	addr, err := serverAddr(c.opts.Servers[idx])
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()
	conn, err := c.opts.Dial(dialCtx, addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	// Tear down the previous connection and replace the pending table;
	// the two are swapped together so no call can straddle connections.
	c.mu.Lock()
	old := c.conn
	oldPending := c.pending
	if c.stopPing != nil {
		close(c.stopPing)
	}
	c.conn = conn
	c.pending = make(map[uint64]chan callResult)
	c.nextID = 0
	c.serverIdx = idx
	c.stopPing = make(chan struct{})
	stop := c.stopPing
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	rejectAll(oldPending, ErrConnectionClosed)

	go c.readLoop(conn)

	if err := c.handshake(ctx); err != nil {
		conn.Close()
		return err
	}

	log.Electrum.Info().Str("server", c.opts.Servers[idx]).Msg("connected")
	go c.pingLoop(stop)
	return nil
}

// handshake negotiates server.version and enforces the minimum protocol.
func (c *Client) handshake(ctx context.Context) error {
	raw, err := c.Call(ctx, methodVersion, clientName, MinProtocolVersion)
	if err != nil {
		return fmt.Errorf("server.version: %w", err)
	}
	var pair [2]string
	if err := json.Unmarshal(raw, &pair); err != nil {
		return fmt.Errorf("server.version: malformed response: %w", err)
	}
	major, minor, err := parseProtocolVersion(pair[1])
	if err != nil {
		return fmt.Errorf("server.version: %w", err)
	}
	if major < minProtocolMajor || (major == minProtocolMajor && minor < minProtocolMinor) {
		return fmt.Errorf("%w: %s", ErrProtocolTooOld, pair[1])
	}
	return nil
}

// parseProtocolVersion reads the leading major.minor components of a
// version string. The components compare as integers so "1.10" sorts
// above "1.4".
func parseProtocolVersion(s string) (major, minor int, err error) {
	parts := strings.Split(s, ".")
	if major, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, fmt.Errorf("bad protocol version %q", s)
	}
	if len(parts) > 1 {
		if minor, err = strconv.Atoi(parts[1]); err != nil {
			return 0, 0, fmt.Errorf("bad protocol version %q", s)
		}
	}
	return major, minor, nil
}

// Call sends one request and waits for the response matched by id.
// Concurrent calls may complete in any order. Expiry of the per-call
// timeout rejects only this call; connection loss rejects all.
func (c *Client) Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error) {
	if params == nil {
		params = []interface{}{}
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil || c.closed {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	id := c.nextID
	c.nextID++
	ch := make(chan callResult, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	data, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	c.wmu.Lock()
	conn.SetWriteDeadline(time.Now().Add(c.opts.CallTimeout))
	_, err = conn.Write(data)
	c.wmu.Unlock()
	if err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("send %s: %w", method, err)
	}

	timer := time.NewTimer(c.opts.CallTimeout)
	defer timer.Stop()
	select {
	case res := <-ch:
		return res.result, res.err
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	case <-timer.C:
		c.removePending(id)
		return nil, fmt.Errorf("%s: %w", method, ErrCallTimeout)
	}
}

// CallInto invokes a method and unmarshals the result into out.
func (c *Client) CallInto(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	raw, err := c.Call(ctx, method, params...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

func (c *Client) removePending(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Subscribe registers the single notification handler for a method.
// Electrum delivers scripthash and header notifications through the
// method name; messages without an id never reach the pending table.
func (c *Client) Subscribe(method string, handler NotificationHandler) {
	c.mu.Lock()
	if handler == nil {
		delete(c.handlers, method)
	} else {
		c.handlers[method] = handler
	}
	c.mu.Unlock()
}

// readLoop demultiplexes inbound messages for one connection until it
// drops, then rejects every call still pending on that connection.
func (c *Client) readLoop(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 32*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			log.Electrum.Debug().Err(err).Msg("unparseable message")
			continue
		}
		if env.ID != nil {
			c.mu.Lock()
			ch, ok := c.pending[*env.ID]
			if ok {
				delete(c.pending, *env.ID)
			}
			c.mu.Unlock()
			if !ok {
				continue // timed out or cancelled call
			}
			if env.Error != nil {
				ch <- callResult{err: env.Error}
			} else {
				ch <- callResult{result: env.Result}
			}
			continue
		}

		c.mu.Lock()
		handler := c.handlers[env.Method]
		c.mu.Unlock()
		if handler != nil {
			handler(env.Params)
		} else {
			log.Electrum.Debug().Str("method", env.Method).Msg("unhandled notification")
		}
	}

	// Connection gone. Reject calls pending on it — atomically with the
	// table swap so a reconnect can never leave stragglers.
	c.mu.Lock()
	var stale map[uint64]chan callResult
	if c.conn == conn {
		stale = c.pending
		c.pending = make(map[uint64]chan callResult)
		c.conn = nil
	}
	c.mu.Unlock()
	rejectAll(stale, ErrConnectionClosed)
}

func rejectAll(pending map[uint64]chan callResult, err error) {
	for _, ch := range pending {
		ch <- callResult{err: err}
	}
}

// Close shuts the client down. Pending calls reject with
// ErrConnectionClosed.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	stale := c.pending
	c.pending = make(map[uint64]chan callResult)
	if c.stopPing != nil {
		close(c.stopPing)
		c.stopPing = nil
	}
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	rejectAll(stale, ErrConnectionClosed)
	c.setState(StateDisconnected)
}
