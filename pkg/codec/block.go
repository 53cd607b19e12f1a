package codec

import (
	"encoding/hex"

	"github.com/litewallet-org/litewallet-core/pkg/types"
)

// MWEBHeader is the confidential-extension header attached to a block, as
// reported by the peer's structured block response.
type MWEBHeader struct {
	Height       uint64 `json:"height"`
	KernelOffset string `json:"kernel_offset"`
	OutputRoot   string `json:"output_root"`
	KernelRoot   string `json:"kernel_root"`
	LeafsetRoot  string `json:"leafset_root"`
	NumTXOs      uint64 `json:"num_txos"`
	NumKernels   uint64 `json:"num_kernels"`
}

// Block couples a parsed header with chain-assigned metadata. Height is
// not part of the wire header; it is supplied by the caller or resolved
// by search.
type Block struct {
	Height  uint64       `json:"height"`
	Header  BlockHeader  `json:"header"`
	Size    int          `json:"size"`
	TxCount uint64       `json:"tx_count"`
	TxIDs   []types.Hash `json:"txids,omitempty"`
	MWEB    *MWEBHeader  `json:"mweb,omitempty"`
}

// ParseTxCount reads the transaction-count varint immediately after the
// 80-byte header. Header-only or malformed input yields 0.
func ParseTxCount(blockHex string) uint64 {
	raw, err := hex.DecodeString(blockHex)
	if err != nil || len(raw) <= HeaderSize {
		return 0
	}
	count, _, ok := ReadVarInt(raw, HeaderSize)
	if !ok {
		return 0
	}
	return count
}

// ParseTransactionHashes walks a full serialized block and returns the
// txid of every transaction it can delimit. There is no per-transaction
// length field, so the walk decodes each field in turn; when any length
// would run past the buffer the walk stops and the hashes parsed so far
// are returned.
func ParseTransactionHashes(blockHex string) []types.Hash {
	raw, err := hex.DecodeString(blockHex)
	if err != nil || len(raw) <= HeaderSize {
		return nil
	}

	r := newReader(raw)
	r.take(HeaderSize)
	count := r.varint()
	if !r.ok {
		return nil
	}

	hashes := make([]types.Hash, 0, count)
	for i := uint64(0); i < count; i++ {
		tx := readTx(r, false)
		if tx == nil {
			break
		}
		hashes = append(hashes, txidFromBytes(tx.legacy))
	}
	return hashes
}

// ParseBlock decodes a full block: header, size, embedded transaction
// count and as many txids as the buffer yields.
func ParseBlock(blockHex string) (*Block, error) {
	header, err := ParseBlockHeader(blockHex)
	if err != nil {
		return nil, err
	}
	return &Block{
		Header:  *header,
		Size:    len(blockHex) / 2,
		TxCount: ParseTxCount(blockHex),
		TxIDs:   ParseTransactionHashes(blockHex),
	}, nil
}
