package electrum

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/litewallet-org/litewallet-core/pkg/codec"
	"github.com/litewallet-org/litewallet-core/pkg/types"
)

// Electrum method names.
const (
	methodVersion              = "server.version"
	methodPing                 = "server.ping"
	methodEstimateFee          = "blockchain.estimatefee"
	methodRelayFee             = "blockchain.relayfee"
	methodBlockHeader          = "blockchain.block.header"
	methodHeadersSubscribe     = "blockchain.headers.subscribe"
	methodScripthashBalance    = "blockchain.scripthash.get_balance"
	methodScripthashHistory    = "blockchain.scripthash.get_history"
	methodScripthashUnspent    = "blockchain.scripthash.listunspent"
	methodScripthashSubscribe  = "blockchain.scripthash.subscribe"
	methodTransactionGet       = "blockchain.transaction.get"
	methodTransactionIDFromPos = "blockchain.transaction.id_from_pos"
	methodBroadcast            = "blockchain.transaction.broadcast"
)

// Balance is a scripthash balance in satoshis.
type Balance struct {
	Confirmed   int64 `json:"confirmed"`
	Unconfirmed int64 `json:"unconfirmed"`
}

// HistoryItem is one entry of a scripthash history.
type HistoryItem struct {
	TxHash string `json:"tx_hash"`
	Height int64  `json:"height"` // 0 = mempool, -1 = unconfirmed parents
	Fee    int64  `json:"fee,omitempty"`
}

// Utxo is an unspent output as reported by the peer. Ephemeral: fetched
// fresh before each send, never cached across operations.
type Utxo struct {
	TxHash string `json:"tx_hash"`
	TxPos  uint32 `json:"tx_pos"`
	Value  int64  `json:"value"`
	Height int64  `json:"height"`
}

// TipHeader is the chain tip reported by headers.subscribe.
type TipHeader struct {
	Height uint64 `json:"height"`
	Hex    string `json:"hex"`
}

// HeaderResult normalizes the peer's two response shapes for a header
// query — a bare hex string or a structured object — into one type, so
// nothing beyond the RPC boundary sees the duck-typed form.
type HeaderResult struct {
	Hex    string
	Height uint64
	MWEB   *codec.MWEBHeader
}

// UnmarshalJSON accepts either a hex string or an object with hex/height
// and optional MWEB fields.
func (h *HeaderResult) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &h.Hex)
	}
	var obj struct {
		Hex    string            `json:"hex"`
		Height uint64            `json:"height"`
		MWEB   *codec.MWEBHeader `json:"mweb_header"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("header response: %w", err)
	}
	h.Hex = obj.Hex
	h.Height = obj.Height
	h.MWEB = obj.MWEB
	return nil
}

// Ping checks connection liveness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Call(ctx, methodPing)
	return err
}

// FeeRate estimates the fee rate in sat/vB for confirmation within the
// given number of blocks, floored at the server's relay fee. The peer
// reports coin/kvB floats; the conversion to integer sat/vB happens here
// so nothing downstream handles floating point money.
func (c *Client) FeeRate(ctx context.Context, targetBlocks int) (int64, error) {
	var coinPerKvB float64
	if err := c.CallInto(ctx, &coinPerKvB, methodEstimateFee, targetBlocks); err != nil {
		return 0, err
	}
	rate := coinPerKvBToSatPerVB(coinPerKvB)

	var relay float64
	if err := c.CallInto(ctx, &relay, methodRelayFee); err == nil {
		if floor := coinPerKvBToSatPerVB(relay); rate < floor {
			rate = floor
		}
	}
	if rate < 1 {
		rate = 1
	}
	return rate, nil
}

func coinPerKvBToSatPerVB(coinPerKvB float64) int64 {
	if coinPerKvB <= 0 {
		return 0
	}
	return int64(math.Round(coinPerKvB * types.SatsPerCoin / 1000))
}

// Header fetches the block header at a height, normalized from either
// response shape.
func (c *Client) Header(ctx context.Context, height uint64) (*HeaderResult, error) {
	var res HeaderResult
	if err := c.CallInto(ctx, &res, methodBlockHeader, height); err != nil {
		return nil, err
	}
	if res.Height == 0 {
		res.Height = height
	}
	return &res, nil
}

// Tip subscribes to chain-tip notifications and returns the current tip.
// The handler, when non-nil, receives each subsequent tip in peer-send
// order.
func (c *Client) Tip(ctx context.Context, handler func(TipHeader)) (*TipHeader, error) {
	if handler != nil {
		c.Subscribe(methodHeadersSubscribe, func(params json.RawMessage) {
			var tips []TipHeader
			if err := json.Unmarshal(params, &tips); err != nil || len(tips) == 0 {
				return
			}
			handler(tips[0])
		})
	}
	var tip TipHeader
	if err := c.CallInto(ctx, &tip, methodHeadersSubscribe); err != nil {
		return nil, err
	}
	return &tip, nil
}

// ScripthashBalance returns the confirmed/unconfirmed balance for a
// scripthash.
func (c *Client) ScripthashBalance(ctx context.Context, scripthash string) (*Balance, error) {
	var b Balance
	if err := c.CallInto(ctx, &b, methodScripthashBalance, scripthash); err != nil {
		return nil, err
	}
	return &b, nil
}

// ScripthashHistory returns the confirmed and mempool history for a
// scripthash.
func (c *Client) ScripthashHistory(ctx context.Context, scripthash string) ([]HistoryItem, error) {
	var items []HistoryItem
	if err := c.CallInto(ctx, &items, methodScripthashHistory, scripthash); err != nil {
		return nil, err
	}
	return items, nil
}

// ListUnspent returns the current UTXO set for a scripthash.
func (c *Client) ListUnspent(ctx context.Context, scripthash string) ([]Utxo, error) {
	var utxos []Utxo
	if err := c.CallInto(ctx, &utxos, methodScripthashUnspent, scripthash); err != nil {
		return nil, err
	}
	return utxos, nil
}

// SubscribeScripthash registers for balance/history change notifications
// on one scripthash and returns its current status token. At most one
// handler is active per scripthash.
func (c *Client) SubscribeScripthash(ctx context.Context, scripthash string, onChange func(scripthash, status string)) (string, error) {
	c.mu.Lock()
	if c.scripthashSubs == nil {
		c.scripthashSubs = make(map[string]func(string, string))
	}
	c.scripthashSubs[scripthash] = onChange
	c.mu.Unlock()

	c.Subscribe(methodScripthashSubscribe, func(params json.RawMessage) {
		var pair [2]string
		if err := json.Unmarshal(params, &pair); err != nil {
			return
		}
		c.mu.Lock()
		handler := c.scripthashSubs[pair[0]]
		c.mu.Unlock()
		if handler != nil {
			handler(pair[0], pair[1])
		}
	})

	var status string
	if err := c.CallInto(ctx, &status, methodScripthashSubscribe, scripthash); err != nil {
		return "", err
	}
	return status, nil
}

// Transaction fetches a raw transaction by txid (display-order hex).
func (c *Client) Transaction(ctx context.Context, txid string) (string, error) {
	var raw string
	if err := c.CallInto(ctx, &raw, methodTransactionGet, txid); err != nil {
		return "", err
	}
	return raw, nil
}

// TransactionIDAtPos returns the txid at a position within a block, or an
// RPC error when the position is past the end.
func (c *Client) TransactionIDAtPos(ctx context.Context, height uint64, pos int) (string, error) {
	var txid string
	if err := c.CallInto(ctx, &txid, methodTransactionIDFromPos, height, pos); err != nil {
		return "", err
	}
	return txid, nil
}

// Broadcast submits a signed raw transaction and returns its txid.
func (c *Client) Broadcast(ctx context.Context, rawHex string) (string, error) {
	var txid string
	if err := c.CallInto(ctx, &txid, methodBroadcast, rawHex); err != nil {
		return "", err
	}
	return txid, nil
}
