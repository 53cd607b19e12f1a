// Package explorer answers higher-level chain questions by orchestrating
// the codec and the Electrum client: blocks by height or hash, aggregate
// latest-N views, address summaries and network statistics.
package explorer

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/litewallet-org/litewallet-core/internal/electrum"
	"github.com/litewallet-org/litewallet-core/internal/log"
	"github.com/litewallet-org/litewallet-core/pkg/codec"
	"github.com/litewallet-org/litewallet-core/pkg/types"
)

// Search and batching bounds.
const (
	probeBatchSize  = 50               // concurrent tx-position probes per batch
	searchBatchSize = 20               // concurrent header fetches per search batch
	hintRadius      = 200              // blocks scanned around a height hint
	fallbackScan    = 1000             // most-recent blocks scanned without a hint
	searchBudget    = 20 * time.Second // hard wall-clock budget for hash search
	statsWindow     = 20               // headers sampled for the block-time average
	enrichLimit     = 25               // max prevout lookups per transaction
)

// ErrBlockNotFound is returned when a block cannot be located. For hash
// searches an exhausted budget is a normal outcome, not a failure.
var ErrBlockNotFound = errors.New("block not found")

// ChainSource is the slice of the Electrum client the façade consumes.
// *electrum.Client satisfies it; tests substitute a fake.
type ChainSource interface {
	Header(ctx context.Context, height uint64) (*electrum.HeaderResult, error)
	Tip(ctx context.Context, handler func(electrum.TipHeader)) (*electrum.TipHeader, error)
	TransactionIDAtPos(ctx context.Context, height uint64, pos int) (string, error)
	Transaction(ctx context.Context, txid string) (string, error)
	ScripthashBalance(ctx context.Context, scripthash string) (*electrum.Balance, error)
	ScripthashHistory(ctx context.Context, scripthash string) ([]electrum.HistoryItem, error)
	ListUnspent(ctx context.Context, scripthash string) ([]electrum.Utxo, error)
	FeeRate(ctx context.Context, targetBlocks int) (int64, error)
}

// Facade is the chain query façade.
type Facade struct {
	src    ChainSource
	params types.Params
}

// New creates a façade over a chain source.
func New(src ChainSource, params types.Params) *Facade {
	return &Facade{src: src, params: params}
}

// GetBlockByHeight fetches and parses the block at a height. The
// transaction count is reconciled two ways: the count embedded in the
// response, and an authoritative probe of sequential transaction
// positions — the larger wins, because the MWEB extension can hold
// transactions the legacy count field does not reflect.
func (f *Facade) GetBlockByHeight(ctx context.Context, height uint64) (*codec.Block, error) {
	hr, err := f.src.Header(ctx, height)
	if err != nil {
		return nil, err
	}
	block, err := codec.ParseBlock(hr.Hex)
	if err != nil {
		return nil, err
	}
	block.Height = height
	block.MWEB = hr.MWEB

	probed := f.probeTxIDs(ctx, height)
	if n := uint64(len(probed)); n > block.TxCount {
		if block.TxCount != 0 {
			log.Explorer.Debug().
				Uint64("height", height).
				Uint64("parsed", block.TxCount).
				Uint64("probed", n).
				Msg("tx count mismatch, taking the larger")
		}
		block.TxCount = n
	}
	if len(probed) > len(block.TxIDs) {
		block.TxIDs = probed
	}
	return block, nil
}

// probeTxIDs walks transaction positions in concurrent batches, stopping
// at the first batch that yields nothing. Missing positions answer with
// an RPC error, which terminates the contiguous run.
func (f *Facade) probeTxIDs(ctx context.Context, height uint64) []types.Hash {
	var all []types.Hash
	for start := 0; ; start += probeBatchSize {
		found := make([]string, probeBatchSize)
		var wg sync.WaitGroup
		for i := 0; i < probeBatchSize; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				txid, err := f.src.TransactionIDAtPos(ctx, height, start+i)
				if err == nil {
					found[i] = txid
				}
			}(i)
		}
		wg.Wait()

		batch := 0
		for _, txid := range found {
			if txid == "" {
				break // end of the contiguous run
			}
			if h, err := types.HexToHash(txid); err == nil {
				all = append(all, h)
			}
			batch++
		}
		if batch < probeBatchSize {
			return all
		}
	}
}

// GetBlockByHash resolves a block hash to a height by bounded search and
// returns the block. hint, when non-nil, centers the search. A miss after
// the wall-clock budget returns ErrBlockNotFound; this is an expected
// outcome for old or nonexistent hashes.
func (f *Facade) GetBlockByHash(ctx context.Context, hash types.Hash, hint *uint64) (*codec.Block, error) {
	height, found := f.FindBlockHeightByHash(ctx, hash, hint)
	if !found {
		return nil, ErrBlockNotFound
	}
	return f.GetBlockByHeight(ctx, height)
}

// FindBlockHeightByHash searches for the height whose header hashes to
// the given value, within a hard 20-second budget.
func (f *Facade) FindBlockHeightByHash(ctx context.Context, hash types.Hash, hint *uint64) (uint64, bool) {
	ctx, cancel := context.WithTimeout(ctx, searchBudget)
	defer cancel()

	tip, err := f.src.Tip(ctx, nil)
	if err != nil {
		return 0, false
	}

	if hint != nil {
		lo, hi := int64(*hint)-hintRadius, int64(*hint)+hintRadius
		if h, ok := f.scanRange(ctx, clamp(lo, tip.Height), clamp(hi, tip.Height), hash); ok {
			return h, true
		}
	}

	lo := int64(tip.Height) - fallbackScan
	if h, ok := f.scanRange(ctx, clamp(lo, tip.Height), tip.Height, hash); ok {
		return h, true
	}
	return 0, false
}

func clamp(h int64, tip uint64) uint64 {
	if h < 0 {
		return 0
	}
	if uint64(h) > tip {
		return tip
	}
	return uint64(h)
}

// scanRange fetches headers for [lo, hi] in concurrent batches and
// compares computed hashes. Per-item failures are skipped.
func (f *Facade) scanRange(ctx context.Context, lo, hi uint64, hash types.Hash) (uint64, bool) {
	for start := lo; start <= hi; start += searchBatchSize {
		if ctx.Err() != nil {
			return 0, false // budget expired: a normal miss
		}
		end := start + searchBatchSize - 1
		if end > hi {
			end = hi
		}

		matches := make([]bool, end-start+1)
		var wg sync.WaitGroup
		for h := start; h <= end; h++ {
			wg.Add(1)
			go func(h uint64) {
				defer wg.Done()
				hr, err := f.src.Header(ctx, h)
				if err != nil {
					return
				}
				header, err := codec.ParseBlockHeader(hr.Hex)
				if err != nil {
					return
				}
				if header.Hash == hash {
					matches[h-start] = true
				}
			}(h)
		}
		wg.Wait()

		for i, m := range matches {
			if m {
				return start + uint64(i), true
			}
		}
	}
	return 0, false
}

// GetLatestBlocks returns up to limit blocks walking back from the tip.
// Blocks that fail to fetch or parse are omitted rather than failing the
// aggregate.
func (f *Facade) GetLatestBlocks(ctx context.Context, limit int) ([]*codec.Block, error) {
	if limit <= 0 {
		return nil, nil
	}
	tip, err := f.src.Tip(ctx, nil)
	if err != nil {
		return nil, err
	}

	n := limit
	if uint64(n) > tip.Height+1 {
		n = int(tip.Height + 1)
	}
	results := make([]*codec.Block, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(searchBatchSize)
	for i := 0; i < n; i++ {
		height := tip.Height - uint64(i)
		g.Go(func() error {
			hr, err := f.src.Header(gctx, height)
			if err != nil {
				return nil // skip, degrade gracefully
			}
			block, err := codec.ParseBlock(hr.Hex)
			if err != nil {
				return nil
			}
			block.Height = height
			block.MWEB = hr.MWEB
			results[int(tip.Height-height)] = block
			return nil
		})
	}
	g.Wait()

	blocks := make([]*codec.Block, 0, n)
	for _, b := range results {
		if b != nil {
			blocks = append(blocks, b)
		}
	}
	return blocks, nil
}

// GetLatestTransactions aggregates up to limit transactions from the most
// recent blocks, newest first. Individual fetch or parse failures are
// omitted from the result.
func (f *Facade) GetLatestTransactions(ctx context.Context, limit int) ([]*codec.Transaction, error) {
	blocks, err := f.GetLatestBlocks(ctx, (limit+1)/2)
	if err != nil {
		return nil, err
	}

	var txids []types.Hash
	for _, b := range blocks {
		ids := b.TxIDs
		if len(ids) == 0 {
			ids = f.probeTxIDs(ctx, b.Height)
		}
		for _, id := range ids {
			if len(txids) >= limit {
				break
			}
			txids = append(txids, id)
		}
		if len(txids) >= limit {
			break
		}
	}

	results := make([]*codec.Transaction, len(txids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(searchBatchSize)
	for i, txid := range txids {
		i, txid := i, txid
		g.Go(func() error {
			raw, err := f.src.Transaction(gctx, txid.String())
			if err != nil {
				return nil
			}
			tx, err := codec.ParseTransaction(raw, f.params)
			if err != nil {
				return nil
			}
			results[i] = tx
			return nil
		})
	}
	g.Wait()

	txs := make([]*codec.Transaction, 0, len(results))
	for _, tx := range results {
		if tx != nil {
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

// GetTransaction fetches and parses a transaction, then enriches its
// inputs with previous-output values and addresses by re-fetching the
// referenced transactions. Enrichment is best-effort: it trusts the
// peer's secondary responses and nothing downstream (fee display aside)
// depends on it.
func (f *Facade) GetTransaction(ctx context.Context, txid types.Hash) (*codec.Transaction, error) {
	raw, err := f.src.Transaction(ctx, txid.String())
	if err != nil {
		return nil, err
	}
	tx, err := codec.ParseTransaction(raw, f.params)
	if err != nil {
		return nil, err
	}
	f.enrichInputs(ctx, tx)
	return tx, nil
}

// enrichInputs resolves prevout values/addresses for regular inputs, and
// derives the fee when every input value is known.
func (f *Facade) enrichInputs(ctx context.Context, tx *codec.Transaction) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(searchBatchSize)
	lookups := 0
	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		if in.IsCoinbase() || in.IsMWEB() || in.Value != nil {
			continue
		}
		if lookups++; lookups > enrichLimit {
			break
		}
		g.Go(func() error {
			raw, err := f.src.Transaction(gctx, in.PrevOut.TxID.String())
			if err != nil {
				return nil
			}
			prev, err := codec.ParseTransaction(raw, f.params)
			if err != nil {
				return nil
			}
			if idx := int(in.PrevOut.Index); idx < len(prev.Outputs) {
				v := prev.Outputs[idx].Value
				in.Value = &v
				in.Address = prev.Outputs[idx].Address
			}
			return nil
		})
	}
	g.Wait()

	if tx.HasMWEB || len(tx.Inputs) == 0 || tx.Inputs[0].IsCoinbase() {
		return
	}
	var inSum, outSum int64
	for i := range tx.Inputs {
		if tx.Inputs[i].Value == nil {
			return // incomplete enrichment, no fee claim
		}
		inSum += *tx.Inputs[i].Value
	}
	for i := range tx.Outputs {
		outSum += tx.Outputs[i].Value
	}
	fee := inSum - outSum
	tx.Fee = &fee
}

// AddressInfo summarizes an address: balance, history and current UTXOs.
type AddressInfo struct {
	Address     string                 `json:"address"`
	ScriptHash  string                 `json:"scripthash"`
	Confirmed   int64                  `json:"confirmed"`
	Unconfirmed int64                  `json:"unconfirmed"`
	History     []electrum.HistoryItem `json:"history"`
	Utxos       []electrum.Utxo        `json:"utxos"`
}

// GetAddress resolves an address to its scripthash and aggregates the
// peer's view of it.
func (f *Facade) GetAddress(ctx context.Context, address string) (*AddressInfo, error) {
	scripthash, err := codec.AddressToScriptHash(address, f.params)
	if err != nil {
		return nil, err
	}
	info := &AddressInfo{Address: address, ScriptHash: scripthash}

	balance, err := f.src.ScripthashBalance(ctx, scripthash)
	if err != nil {
		return nil, err
	}
	info.Confirmed = balance.Confirmed
	info.Unconfirmed = balance.Unconfirmed

	// History and UTXOs degrade gracefully.
	if history, err := f.src.ScripthashHistory(ctx, scripthash); err == nil {
		info.History = history
	}
	if utxos, err := f.src.ListUnspent(ctx, scripthash); err == nil {
		info.Utxos = utxos
	}
	return info, nil
}

// NetworkStats is a point-in-time view of chain health.
type NetworkStats struct {
	Height       uint64  `json:"height"`
	Difficulty   float64 `json:"difficulty"`
	Hashrate     float64 `json:"hashrate"`   // hashes per second
	BlockTimeSec float64 `json:"block_time"` // observed average
	FeeRate      int64   `json:"fee_rate"`   // sat/vB
}

// GetNetworkStats derives difficulty from the tip header's compact target
// and estimates hashrate from the observed block interval over the last
// statsWindow blocks.
func (f *Facade) GetNetworkStats(ctx context.Context) (*NetworkStats, error) {
	tip, err := f.src.Tip(ctx, nil)
	if err != nil {
		return nil, err
	}
	tipHeader, err := codec.ParseBlockHeader(tip.Hex)
	if err != nil {
		return nil, err
	}

	stats := &NetworkStats{
		Height:     tip.Height,
		Difficulty: codec.DifficultyFromBits(tipHeader.Bits),
	}

	if tip.Height > statsWindow {
		if hr, err := f.src.Header(ctx, tip.Height-statsWindow); err == nil {
			if old, err := codec.ParseBlockHeader(hr.Hex); err == nil && tipHeader.Timestamp > old.Timestamp {
				stats.BlockTimeSec = float64(tipHeader.Timestamp-old.Timestamp) / statsWindow
				stats.Hashrate = codec.Hashrate(stats.Difficulty, stats.BlockTimeSec)
			}
		}
	}

	if rate, err := f.src.FeeRate(ctx, 2); err == nil {
		stats.FeeRate = rate
	}
	return stats, nil
}
