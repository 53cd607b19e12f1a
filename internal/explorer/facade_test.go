package explorer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"

	"github.com/litewallet-org/litewallet-core/internal/electrum"
	"github.com/litewallet-org/litewallet-core/pkg/codec"
	"github.com/litewallet-org/litewallet-core/pkg/types"
)

// Bitcoin genesis vectors; the explorer logic is chain-agnostic.
const (
	genesisHeaderHex   = "0100000000000000000000000000000000000000000000000000000000000000000000003ba3edfd7a7b12b27ac72c3e67768f617fc81bc3888a51323a9fb8aa4b1e5e4a29ab5f49ffff001d1dac2b7c"
	genesisCoinbaseHex = "01000000010000000000000000000000000000000000000000000000000000000000000000ffffffff4d04ffff001d0104455468652054696d65732030332f4a616e2f32303039204368616e63656c6c6f72206f6e206272696e6b206f66207365636f6e64206261696c6f757420666f722062616e6b73ffffffff0100f2052a01000000434104678afdb0fe5548271967f1a67130b7105cd6a828e03909a67962e0ea1f61deb649f6bc3f4cef38c4f35504e51ec112de5c384df7ba0b8d578a4c702b6bf11d5fac00000000"
	genesisBlockHex    = genesisHeaderHex + "01" + genesisCoinbaseHex
	genesisHash        = "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f"
	genesisTxID        = "4a5e1e4baab89f3a32518a88c31bc87f618f76673e2cc77ab2127b7afdeda33b"
)

var btcParams = types.Params{Name: "bitcoin", HRP: "bc"}

// fakeChain is an in-memory ChainSource.
type fakeChain struct {
	tip     electrum.TipHeader
	headers map[uint64]string   // height -> hex
	posTxs  map[uint64][]string // height -> txids in position order
	txs     map[string]string   // txid -> raw hex
	balance electrum.Balance
	history []electrum.HistoryItem
	utxos   []electrum.Utxo
	feeRate int64
}

func (f *fakeChain) Header(ctx context.Context, height uint64) (*electrum.HeaderResult, error) {
	hexStr, ok := f.headers[height]
	if !ok {
		return nil, &electrum.RPCError{Code: 1, Message: "no header"}
	}
	return &electrum.HeaderResult{Hex: hexStr, Height: height}, nil
}

func (f *fakeChain) Tip(ctx context.Context, handler func(electrum.TipHeader)) (*electrum.TipHeader, error) {
	tip := f.tip
	return &tip, nil
}

func (f *fakeChain) TransactionIDAtPos(ctx context.Context, height uint64, pos int) (string, error) {
	ids := f.posTxs[height]
	if pos >= len(ids) {
		return "", &electrum.RPCError{Code: 1, Message: "no tx at position"}
	}
	return ids[pos], nil
}

func (f *fakeChain) Transaction(ctx context.Context, txid string) (string, error) {
	raw, ok := f.txs[txid]
	if !ok {
		return "", &electrum.RPCError{Code: 1, Message: "unknown tx"}
	}
	return raw, nil
}

func (f *fakeChain) ScripthashBalance(ctx context.Context, scripthash string) (*electrum.Balance, error) {
	b := f.balance
	return &b, nil
}

func (f *fakeChain) ScripthashHistory(ctx context.Context, scripthash string) ([]electrum.HistoryItem, error) {
	return f.history, nil
}

func (f *fakeChain) ListUnspent(ctx context.Context, scripthash string) ([]electrum.Utxo, error) {
	return f.utxos, nil
}

func (f *fakeChain) FeeRate(ctx context.Context, targetBlocks int) (int64, error) {
	return f.feeRate, nil
}

// fakeTxID builds a syntactically valid distinct txid.
func fakeTxID(n int) string {
	return fmt.Sprintf("%064x", 0xf000+n)
}

func TestGetBlockByHeight_ProbeWinsOverParsedCount(t *testing.T) {
	// The embedded count says 1, but position probing finds 3: extension
	// transactions are not reflected in the legacy count.
	chain := &fakeChain{
		headers: map[uint64]string{100: genesisBlockHex},
		posTxs:  map[uint64][]string{100: {genesisTxID, fakeTxID(1), fakeTxID(2)}},
	}
	f := New(chain, btcParams)

	block, err := f.GetBlockByHeight(context.Background(), 100)
	if err != nil {
		t.Fatalf("GetBlockByHeight: %v", err)
	}
	if block.Height != 100 {
		t.Errorf("Height = %d, want 100", block.Height)
	}
	if block.TxCount != 3 {
		t.Errorf("TxCount = %d, want 3 (probe wins)", block.TxCount)
	}
	if len(block.TxIDs) != 3 {
		t.Fatalf("TxIDs = %d entries, want 3", len(block.TxIDs))
	}
	if block.TxIDs[0].String() != genesisTxID {
		t.Errorf("TxIDs[0] = %s, want %s", block.TxIDs[0], genesisTxID)
	}
}

func TestGetBlockByHeight_HeaderOnlyResponse(t *testing.T) {
	chain := &fakeChain{
		headers: map[uint64]string{100: genesisHeaderHex},
		posTxs:  map[uint64][]string{100: {genesisTxID}},
	}
	f := New(chain, btcParams)

	block, err := f.GetBlockByHeight(context.Background(), 100)
	if err != nil {
		t.Fatalf("GetBlockByHeight: %v", err)
	}
	if block.TxCount != 1 {
		t.Errorf("TxCount = %d, want 1 from probing", block.TxCount)
	}
	if block.Header.Hash.String() != genesisHash {
		t.Errorf("header hash = %s, want %s", block.Header.Hash, genesisHash)
	}
}

func TestFindBlockHeightByHash_AroundHint(t *testing.T) {
	chain := &fakeChain{
		tip:     electrum.TipHeader{Height: 1000, Hex: genesisHeaderHex},
		headers: map[uint64]string{500: genesisHeaderHex},
		posTxs:  map[uint64][]string{},
	}
	f := New(chain, btcParams)
	target, _ := types.HexToHash(genesisHash)

	hint := uint64(510)
	height, found := f.FindBlockHeightByHash(context.Background(), target, &hint)
	if !found {
		t.Fatal("block not found near hint")
	}
	if height != 500 {
		t.Errorf("height = %d, want 500", height)
	}
}

func TestFindBlockHeightByHash_FallbackToRecent(t *testing.T) {
	chain := &fakeChain{
		tip:     electrum.TipHeader{Height: 1000, Hex: genesisHeaderHex},
		headers: map[uint64]string{950: genesisHeaderHex},
	}
	f := New(chain, btcParams)
	target, _ := types.HexToHash(genesisHash)

	height, found := f.FindBlockHeightByHash(context.Background(), target, nil)
	if !found {
		t.Fatal("block not found in recent scan")
	}
	if height != 950 {
		t.Errorf("height = %d, want 950", height)
	}
}

func TestFindBlockHeightByHash_MissIsNotAnError(t *testing.T) {
	chain := &fakeChain{
		tip:     electrum.TipHeader{Height: 100, Hex: genesisHeaderHex},
		headers: map[uint64]string{},
	}
	f := New(chain, btcParams)

	_, found := f.FindBlockHeightByHash(context.Background(), types.Hash{0xde, 0xad}, nil)
	if found {
		t.Error("nonexistent hash should be a miss")
	}

	if _, err := f.GetBlockByHash(context.Background(), types.Hash{0xde, 0xad}, nil); !errors.Is(err, ErrBlockNotFound) {
		t.Errorf("GetBlockByHash = %v, want ErrBlockNotFound", err)
	}
}

func TestGetLatestBlocks_SkipsFailures(t *testing.T) {
	headers := map[uint64]string{}
	for h := uint64(6); h <= 10; h++ {
		if h == 8 {
			continue // this one fails to fetch
		}
		headers[h] = genesisHeaderHex
	}
	chain := &fakeChain{
		tip:     electrum.TipHeader{Height: 10, Hex: genesisHeaderHex},
		headers: headers,
	}
	f := New(chain, btcParams)

	blocks, err := f.GetLatestBlocks(context.Background(), 5)
	if err != nil {
		t.Fatalf("GetLatestBlocks: %v", err)
	}
	if len(blocks) != 4 {
		t.Fatalf("got %d blocks, want 4 (one skipped)", len(blocks))
	}
	// Newest first, hole elided.
	wantHeights := []uint64{10, 9, 7, 6}
	for i, b := range blocks {
		if b.Height != wantHeights[i] {
			t.Errorf("blocks[%d].Height = %d, want %d", i, b.Height, wantHeights[i])
		}
	}
}

func TestGetLatestBlocks_NonPositiveLimit(t *testing.T) {
	// A non-positive limit must not walk the chain; a negative count
	// converted through the tip clamp would try to fetch everything.
	chain := &fakeChain{
		tip:     electrum.TipHeader{Height: 1_000_000, Hex: genesisHeaderHex},
		headers: map[uint64]string{},
	}
	f := New(chain, btcParams)

	for _, limit := range []int{0, -3} {
		blocks, err := f.GetLatestBlocks(context.Background(), limit)
		if err != nil {
			t.Fatalf("GetLatestBlocks(%d): %v", limit, err)
		}
		if len(blocks) != 0 {
			t.Errorf("GetLatestBlocks(%d) = %d blocks, want none", limit, len(blocks))
		}
	}
}

func TestGetLatestTransactions(t *testing.T) {
	chain := &fakeChain{
		tip:     electrum.TipHeader{Height: 5, Hex: genesisHeaderHex},
		headers: map[uint64]string{5: genesisBlockHex},
		txs:     map[string]string{genesisTxID: genesisCoinbaseHex},
	}
	f := New(chain, btcParams)

	txs, err := f.GetLatestTransactions(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetLatestTransactions: %v", err)
	}
	if len(txs) != 1 {
		t.Fatalf("got %d txs, want 1", len(txs))
	}
	if txs[0].TxID.String() != genesisTxID {
		t.Errorf("TxID = %s, want %s", txs[0].TxID, genesisTxID)
	}
}

func TestGetTransaction_EnrichesPrevouts(t *testing.T) {
	// Child spends output 0 of the genesis coinbase.
	prevID, _ := types.HexToHash(genesisTxID)
	child := &codec.Transaction{
		Version: 1,
		Inputs: []codec.Input{{
			PrevOut:  types.Outpoint{TxID: prevID, Index: 0},
			Sequence: 0xffffffff,
		}},
		Outputs: []codec.Output{{Value: 4_999_000_000, Script: []byte{0x6a, 0x01, 0x00}}},
	}
	child.FinalizeIdentity()
	childHex := hex.EncodeToString(codec.SerializeTx(child))

	chain := &fakeChain{
		txs: map[string]string{
			genesisTxID:         genesisCoinbaseHex,
			child.TxID.String(): childHex,
		},
	}
	f := New(chain, btcParams)

	tx, err := f.GetTransaction(context.Background(), child.TxID)
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if tx.Inputs[0].Value == nil {
		t.Fatal("input value not enriched")
	}
	if *tx.Inputs[0].Value != 50*types.SatsPerCoin {
		t.Errorf("input value = %d, want %d", *tx.Inputs[0].Value, 50*types.SatsPerCoin)
	}
	if tx.Fee == nil {
		t.Fatal("fee not derived despite full enrichment")
	}
	if *tx.Fee != 1_000_000 {
		t.Errorf("fee = %d, want 1000000", *tx.Fee)
	}
}

func TestGetTransaction_EnrichmentIsBestEffort(t *testing.T) {
	prevID, _ := types.HexToHash(fakeTxID(9)) // prev tx the peer does not have
	child := &codec.Transaction{
		Version: 1,
		Inputs: []codec.Input{{
			PrevOut:  types.Outpoint{TxID: prevID, Index: 0},
			Sequence: 0xffffffff,
		}},
		Outputs: []codec.Output{{Value: 1000, Script: []byte{0x6a, 0x01, 0x00}}},
	}
	child.FinalizeIdentity()

	chain := &fakeChain{
		txs: map[string]string{
			child.TxID.String(): hex.EncodeToString(codec.SerializeTx(child)),
		},
	}
	f := New(chain, btcParams)

	tx, err := f.GetTransaction(context.Background(), child.TxID)
	if err != nil {
		t.Fatalf("GetTransaction should not fail on enrichment: %v", err)
	}
	if tx.Inputs[0].Value != nil {
		t.Error("unknown prevout should stay unenriched")
	}
	if tx.Fee != nil {
		t.Error("fee must not be claimed with incomplete inputs")
	}
}

func TestGetAddress(t *testing.T) {
	chain := &fakeChain{
		balance: electrum.Balance{Confirmed: 7000, Unconfirmed: -100},
		history: []electrum.HistoryItem{{TxHash: genesisTxID, Height: 1}},
		utxos:   []electrum.Utxo{{TxHash: genesisTxID, TxPos: 0, Value: 7000, Height: 1}},
	}
	f := New(chain, btcParams)

	info, err := f.GetAddress(context.Background(), "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4")
	if err != nil {
		t.Fatalf("GetAddress: %v", err)
	}
	if info.Confirmed != 7000 || info.Unconfirmed != -100 {
		t.Errorf("balance = %d/%d, want 7000/-100", info.Confirmed, info.Unconfirmed)
	}
	if len(info.History) != 1 || len(info.Utxos) != 1 {
		t.Errorf("history/utxos = %d/%d, want 1/1", len(info.History), len(info.Utxos))
	}
	if len(info.ScriptHash) != 64 {
		t.Errorf("scripthash = %d chars, want 64", len(info.ScriptHash))
	}

	if _, err := f.GetAddress(context.Background(), "ltc1qwrongnet"); err == nil {
		t.Error("wrong-network address should fail")
	}
}

func TestGetNetworkStats(t *testing.T) {
	// Two headers 20 blocks and 3000 seconds apart: 150s per block.
	tipHeader, err := codec.ParseBlockHeader(genesisHeaderHex)
	if err != nil {
		t.Fatal(err)
	}
	oldHeader := *tipHeader
	oldHeader.Timestamp = tipHeader.Timestamp - 3000

	chain := &fakeChain{
		tip:     electrum.TipHeader{Height: 2000, Hex: genesisHeaderHex},
		headers: map[uint64]string{1980: hex.EncodeToString(oldHeader.Serialize())},
		feeRate: 5,
	}
	f := New(chain, btcParams)

	stats, err := f.GetNetworkStats(context.Background())
	if err != nil {
		t.Fatalf("GetNetworkStats: %v", err)
	}
	if stats.Height != 2000 {
		t.Errorf("Height = %d, want 2000", stats.Height)
	}
	if stats.Difficulty < 0.99 || stats.Difficulty > 1.01 {
		t.Errorf("Difficulty = %g, want ~1.0", stats.Difficulty)
	}
	if stats.BlockTimeSec != 150 {
		t.Errorf("BlockTimeSec = %g, want 150", stats.BlockTimeSec)
	}
	if stats.Hashrate <= 0 {
		t.Errorf("Hashrate = %g, want positive", stats.Hashrate)
	}
	if stats.FeeRate != 5 {
		t.Errorf("FeeRate = %d, want 5", stats.FeeRate)
	}
}
