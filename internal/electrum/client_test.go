package electrum

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeHandler answers one request from the in-process peer.
type fakeHandler func(method string, params []json.RawMessage) (interface{}, *RPCError)

// startFakeServer serves newline-delimited JSON on one end of a pipe.
// Each request is answered from its own goroutine so handlers may block.
func startFakeServer(conn net.Conn, handle fakeHandler) {
	var wmu sync.Mutex
	go func() {
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var req struct {
				ID     uint64            `json:"id"`
				Method string            `json:"method"`
				Params []json.RawMessage `json:"params"`
			}
			if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
				continue
			}
			go func() {
				result, rpcErr := handle(req.Method, req.Params)
				resp := map[string]interface{}{"id": req.ID}
				if rpcErr != nil {
					resp["error"] = rpcErr
				} else {
					resp["result"] = result
				}
				data, _ := json.Marshal(resp)
				wmu.Lock()
				conn.Write(append(data, '\n'))
				wmu.Unlock()
			}()
		}
	}()
}

// withHandshake answers the version and ping methods so tests only handle
// their own traffic.
func withHandshake(version string, handle fakeHandler) fakeHandler {
	return func(method string, params []json.RawMessage) (interface{}, *RPCError) {
		switch method {
		case methodVersion:
			return []string{"FakeServer 1.0", version}, nil
		case methodPing:
			return nil, nil
		}
		if handle == nil {
			return nil, &RPCError{Code: -32601, Message: "unknown method"}
		}
		return handle(method, params)
	}
}

// pipeServer tracks the server ends handed out by a pipe dialer.
type pipeServer struct {
	mu    sync.Mutex
	conns []net.Conn
}

func (p *pipeServer) dial(handle fakeHandler) DialFunc {
	return func(ctx context.Context, addr string) (net.Conn, error) {
		client, server := net.Pipe()
		p.mu.Lock()
		p.conns = append(p.conns, server)
		p.mu.Unlock()
		startFakeServer(server, handle)
		return client, nil
	}
}

func newTestClient(t *testing.T, handle fakeHandler) (*Client, *pipeServer) {
	t.Helper()
	srv := &pipeServer{}
	c := New(Options{
		Servers:        []string{"ssl://fake:50002"},
		ConnectTimeout: time.Second,
		CallTimeout:    2 * time.Second,
		PingInterval:   time.Minute, // keep the liveness loop quiet
		Dial:           srv.dial(withHandshake("1.4", handle)),
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(c.Close)
	return c, srv
}

func TestClient_ConnectAndCall(t *testing.T) {
	c, _ := newTestClient(t, func(method string, params []json.RawMessage) (interface{}, *RPCError) {
		if method == methodRelayFee {
			return 0.00001, nil
		}
		return nil, &RPCError{Code: -1, Message: "unexpected method " + method}
	})

	if got := c.State(); got != StateReady {
		t.Fatalf("State = %s, want ready", got)
	}

	var relay float64
	if err := c.CallInto(context.Background(), &relay, methodRelayFee); err != nil {
		t.Fatalf("CallInto: %v", err)
	}
	if relay != 0.00001 {
		t.Errorf("relay fee = %g, want 0.00001", relay)
	}
}

func TestClient_OutOfOrderResponses(t *testing.T) {
	// Hold every echo until all three arrive, then let the replies race.
	// Each caller must still receive its own result.
	gate := make(chan struct{})
	var mu sync.Mutex
	arrived := 0

	c, _ := newTestClient(t, func(method string, params []json.RawMessage) (interface{}, *RPCError) {
		var tag string
		json.Unmarshal(params[0], &tag)
		mu.Lock()
		arrived++
		if arrived == 3 {
			close(gate)
		}
		mu.Unlock()
		<-gate
		return "echo:" + tag, nil
	})

	var wg sync.WaitGroup
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tag := fmt.Sprintf("t%d", i)
			if err := c.CallInto(context.Background(), &results[i], "test.echo", tag); err != nil {
				t.Errorf("call %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	for i, got := range results {
		want := fmt.Sprintf("echo:t%d", i)
		if got != want {
			t.Errorf("results[%d] = %q, want %q", i, got, want)
		}
	}
}

func TestClient_RPCError(t *testing.T) {
	c, _ := newTestClient(t, func(method string, params []json.RawMessage) (interface{}, *RPCError) {
		return nil, &RPCError{Code: 2, Message: "daemon error"}
	})

	_, err := c.Call(context.Background(), "blockchain.transaction.broadcast", "00")
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("err = %v, want *RPCError", err)
	}
	if rpcErr.Code != 2 || rpcErr.Message != "daemon error" {
		t.Errorf("RPCError = %+v, want code 2 / daemon error", rpcErr)
	}
}

func TestClient_NotificationRouting(t *testing.T) {
	c, srv := newTestClient(t, nil)

	got := make(chan string, 1)
	c.Subscribe(methodHeadersSubscribe, func(params json.RawMessage) {
		var tips []TipHeader
		if err := json.Unmarshal(params, &tips); err != nil || len(tips) == 0 {
			t.Errorf("bad notification params: %s", params)
			return
		}
		got <- fmt.Sprintf("height=%d", tips[0].Height)
	})

	// Push an unsolicited notification from the peer side.
	srv.mu.Lock()
	conn := srv.conns[0]
	srv.mu.Unlock()
	note := `{"method":"blockchain.headers.subscribe","params":[{"height":123,"hex":"00"}]}` + "\n"
	if _, err := conn.Write([]byte(note)); err != nil {
		t.Fatalf("push notification: %v", err)
	}

	select {
	case s := <-got:
		if s != "height=123" {
			t.Errorf("notification = %s, want height=123", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification never delivered")
	}
}

func TestClient_ProtocolTooOld(t *testing.T) {
	srv := &pipeServer{}
	c := New(Options{
		Servers:        []string{"ssl://old:50002"},
		ConnectTimeout: time.Second,
		CallTimeout:    time.Second,
		PingInterval:   time.Minute,
		Dial:           srv.dial(withHandshake("1.2", nil)),
	})
	err := c.Connect(context.Background())
	if !errors.Is(err, ErrAllServersFailed) {
		t.Fatalf("Connect = %v, want ErrAllServersFailed", err)
	}
	if !strings.Contains(err.Error(), "protocol") {
		t.Errorf("error %q should name the protocol version", err)
	}
	if got := c.State(); got != StateFailed {
		t.Errorf("State = %s, want error", got)
	}
}

func TestClient_InsecureScheme(t *testing.T) {
	if _, err := serverAddr("tcp://host:50001"); !errors.Is(err, ErrInsecureScheme) {
		t.Errorf("tcp scheme: err = %v, want ErrInsecureScheme", err)
	}
	if _, err := serverAddr("host:50001"); !errors.Is(err, ErrInsecureScheme) {
		t.Errorf("bare host: err = %v, want ErrInsecureScheme", err)
	}
	addr, err := serverAddr("ssl://host:50002")
	if err != nil || addr != "host:50002" {
		t.Errorf("serverAddr = (%q, %v), want (host:50002, nil)", addr, err)
	}
}

func TestClient_CallTimeout(t *testing.T) {
	srv := &pipeServer{}
	c := New(Options{
		Servers:        []string{"ssl://fake:50002"},
		ConnectTimeout: time.Second,
		CallTimeout:    100 * time.Millisecond,
		PingInterval:   time.Minute,
		Dial: srv.dial(withHandshake("1.4", func(method string, params []json.RawMessage) (interface{}, *RPCError) {
			select {} // never answer
		})),
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	_, err := c.Call(context.Background(), "test.hang")
	if !errors.Is(err, ErrCallTimeout) {
		t.Fatalf("err = %v, want ErrCallTimeout", err)
	}
}

func TestClient_PendingRejectedOnClose(t *testing.T) {
	c, _ := newTestClient(t, func(method string, params []json.RawMessage) (interface{}, *RPCError) {
		select {} // never answer
	})

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "test.hang")
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond) // let the call register
	c.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Fatalf("err = %v, want ErrConnectionClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending call never rejected")
	}

	if _, err := c.Call(context.Background(), methodPing); !errors.Is(err, ErrNotConnected) {
		t.Errorf("call after close: err = %v, want ErrNotConnected", err)
	}
}

func TestParseProtocolVersion(t *testing.T) {
	cases := []struct {
		in           string
		major, minor int
	}{
		{"1.4", 1, 4},
		{"1.4.2", 1, 4},
		{"1.5", 1, 5},
		{"1.10", 1, 10},
		{"2", 2, 0},
	}
	for _, c := range cases {
		major, minor, err := parseProtocolVersion(c.in)
		if err != nil {
			t.Errorf("parseProtocolVersion(%q): %v", c.in, err)
			continue
		}
		if major != c.major || minor != c.minor {
			t.Errorf("parseProtocolVersion(%q) = %d.%d, want %d.%d", c.in, major, minor, c.major, c.minor)
		}
	}
	if _, _, err := parseProtocolVersion("ElectrumX"); err == nil {
		t.Error("non-numeric version should fail")
	}
}

func TestClient_ProtocolDoubleDigitMinor(t *testing.T) {
	// "1.10" is newer than "1.4"; a lexical or float comparison would
	// reject it.
	srv := &pipeServer{}
	c := New(Options{
		Servers:        []string{"ssl://modern:50002"},
		ConnectTimeout: time.Second,
		CallTimeout:    time.Second,
		PingInterval:   time.Minute,
		Dial:           srv.dial(withHandshake("1.10", nil)),
	})
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect with protocol 1.10: %v", err)
	}
	defer c.Close()
	if got := c.State(); got != StateReady {
		t.Errorf("State = %s, want ready", got)
	}
}
