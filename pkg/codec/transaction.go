package codec

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/litewallet-org/litewallet-core/pkg/types"
)

// Serialization flag bits carried after the 0x00 marker byte.
const (
	flagWitness = 0x01
	flagMWEB    = 0x08
)

// Input is a transaction input. Regular inputs reference a previous
// output; MWEB inputs carry only an opaque commitment. Value and Address
// are best-effort enrichment from a secondary prevout lookup and may be
// absent even on regular inputs.
type Input struct {
	PrevOut    types.Outpoint `json:"prev_out"`
	Script     []byte         `json:"script,omitempty"`
	Sequence   uint32         `json:"sequence"`
	Witness    [][]byte       `json:"witness,omitempty"`
	Value      *int64         `json:"value,omitempty"`
	Address    string         `json:"address,omitempty"`
	Commitment []byte         `json:"commitment,omitempty"`
}

// IsCoinbase reports whether the input spends the null outpoint.
func (in *Input) IsCoinbase() bool {
	return in.PrevOut.TxID.IsZero()
}

// IsMWEB reports whether this is a confidential input.
func (in *Input) IsMWEB() bool {
	return in.Commitment != nil
}

// Output is a transaction output. Regular outputs carry a plaintext value
// and locking script; MWEB outputs carry a commitment and, when the peer
// reveals it, a value.
type Output struct {
	Value         int64      `json:"value"`
	Script        []byte     `json:"script,omitempty"`
	Address       string     `json:"address,omitempty"`
	Type          ScriptType `json:"type"`
	Commitment    []byte     `json:"commitment,omitempty"`
	RevealedValue *int64     `json:"revealed_value,omitempty"`
}

// IsMWEB reports whether this is a confidential output.
func (o *Output) IsMWEB() bool {
	return o.Commitment != nil
}

// MWEBPayload is the confidential-extension portion of a transaction as
// reported by the peer. The raw kernel data is not decoded; commitments
// and revealed values come from structured responses.
type MWEBPayload struct {
	KernelOffset string   `json:"kernel_offset,omitempty"`
	Inputs       []Input  `json:"inputs,omitempty"`
	Outputs      []Output `json:"outputs,omitempty"`
}

// Transaction is a fully parsed transaction. TxID hashes the legacy
// serialization (witness and extension data stripped); WTxID hashes the
// complete serialization. The two are equal for non-segwit transactions.
type Transaction struct {
	TxID     types.Hash   `json:"txid"`
	WTxID    types.Hash   `json:"wtxid"`
	Version  int32        `json:"version"`
	LockTime uint32       `json:"locktime"`
	Size     int          `json:"size"`
	VSize    int          `json:"vsize"`
	Weight   int          `json:"weight"`
	Inputs   []Input      `json:"inputs"`
	Outputs  []Output     `json:"outputs"`
	Fee      *int64       `json:"fee,omitempty"`
	HasMWEB  bool         `json:"has_mweb"`
	MWEB     *MWEBPayload `json:"mweb,omitempty"`
}

// reader walks a byte buffer and latches a failure flag on underflow so
// truncated data degrades into ok=false instead of a panic.
type reader struct {
	buf []byte
	off int
	ok  bool
}

func newReader(buf []byte) *reader {
	return &reader{buf: buf, ok: true}
}

func (r *reader) take(n int) []byte {
	if !r.ok || n < 0 || r.off+n > len(r.buf) {
		r.ok = false
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if !r.ok {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if !r.ok {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) varint() uint64 {
	v, size, ok := ReadVarInt(r.buf, r.off)
	if !r.ok || !ok {
		r.ok = false
		return 0
	}
	r.off += size
	return v
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

// rawTx is one transaction's decoded pieces plus the byte spans needed to
// reconstruct the two serializations.
type rawTx struct {
	version  int32
	flags    byte
	inputs   []Input
	outputs  []Output
	lockTime uint32
	full     []byte // complete serialization span
	legacy   []byte // witness/extension-stripped serialization
}

// readTx consumes one transaction from the reader. The legacy bytes are
// rebuilt on the fly since witness data is interleaved into the span.
// allowMWEB permits the skip-to-locktime handling of an attached MWEB
// payload, which is only sound when the buffer holds a single transaction.
func readTx(r *reader, allowMWEB bool) *rawTx {
	start := r.off
	tx := &rawTx{version: int32(r.u32())}

	// SegWit marker: a zero byte where the input count belongs, followed
	// by a nonzero flag byte.
	if r.ok && r.remaining() >= 2 && r.buf[r.off] == 0x00 && r.buf[r.off+1] != 0x00 {
		r.take(1)
		tx.flags = r.take(1)[0]
	}

	legacyStart := r.off
	inCount := r.varint()
	for i := uint64(0); r.ok && i < inCount; i++ {
		var in Input
		prev := r.take(32)
		if r.ok {
			var h types.Hash
			copy(h[:], prev)
			in.PrevOut.TxID = h.Reversed()
		}
		in.PrevOut.Index = r.u32()
		scriptLen := r.varint()
		in.Script = append([]byte(nil), r.take(int(scriptLen))...)
		in.Sequence = r.u32()
		if r.ok {
			tx.inputs = append(tx.inputs, in)
		}
	}

	outCount := r.varint()
	for i := uint64(0); r.ok && i < outCount; i++ {
		var out Output
		out.Value = int64(r.u64())
		scriptLen := r.varint()
		out.Script = append([]byte(nil), r.take(int(scriptLen))...)
		if r.ok {
			out.Type = ClassifyScript(out.Script)
			tx.outputs = append(tx.outputs, out)
		}
	}
	legacyEnd := r.off

	if tx.flags&flagWitness != 0 {
		for i := range tx.inputs {
			itemCount := r.varint()
			for j := uint64(0); r.ok && j < itemCount; j++ {
				itemLen := r.varint()
				item := append([]byte(nil), r.take(int(itemLen))...)
				if r.ok {
					tx.inputs[i].Witness = append(tx.inputs[i].Witness, item)
				}
			}
		}
	}

	if tx.flags&flagMWEB != 0 {
		if !allowMWEB {
			r.ok = false
			return nil
		}
		// The MWEB kernel body sits between the witness data and the
		// locktime. Its internal layout is opaque here; skip to the
		// trailing 4 bytes.
		skip := r.remaining() - 4
		r.take(skip)
	}

	tx.lockTime = r.u32()
	if !r.ok {
		return nil
	}

	tx.full = r.buf[start:r.off]
	if tx.flags == 0 {
		tx.legacy = tx.full
	} else {
		legacy := make([]byte, 0, 8+legacyEnd-legacyStart)
		legacy = binary.LittleEndian.AppendUint32(legacy, uint32(tx.version))
		legacy = append(legacy, r.buf[legacyStart:legacyEnd]...)
		legacy = binary.LittleEndian.AppendUint32(legacy, tx.lockTime)
		tx.legacy = legacy
	}
	return tx
}

// ParseTransaction decodes a complete serialized transaction from hex,
// deriving output addresses for the given network.
func ParseTransaction(txHex string, params types.Params) (*Transaction, error) {
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		return nil, parseErrorf("transaction", "invalid hex: %v", err)
	}
	r := newReader(raw)
	rt := readTx(r, true)
	if rt == nil {
		return nil, parseErrorf("transaction", "truncated at byte %d of %d", r.off, len(raw))
	}

	tx := &Transaction{
		TxID:     txidFromBytes(rt.legacy),
		WTxID:    txidFromBytes(rt.full),
		Version:  rt.version,
		LockTime: rt.lockTime,
		Inputs:   rt.inputs,
		Outputs:  rt.outputs,
		Size:     len(rt.full),
		HasMWEB:  rt.flags&flagMWEB != 0,
	}
	// Weight counts stripped bytes at 4x and the witness/marker extras at
	// 1x; vsize is weight/4 rounded up.
	tx.Weight = len(rt.legacy)*3 + len(rt.full)
	tx.VSize = (tx.Weight + 3) / 4

	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		if addr, ok := ExtractAddress(out.Script, params); ok {
			out.Address = addr
		}
		if out.Type == ScriptMWEBPegout {
			tx.HasMWEB = true
		}
	}
	return tx, nil
}

// SerializeTx encodes a transaction for broadcast. Witness data is
// included whenever any input carries it.
func SerializeTx(tx *Transaction) []byte {
	hasWitness := false
	for i := range tx.Inputs {
		if len(tx.Inputs[i].Witness) > 0 {
			hasWitness = true
			break
		}
	}

	buf := make([]byte, 0, 256)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(tx.Version))
	if hasWitness {
		buf = append(buf, 0x00, flagWitness)
	}
	buf = appendTxBody(buf, tx)
	if hasWitness {
		for i := range tx.Inputs {
			buf = AppendVarInt(buf, uint64(len(tx.Inputs[i].Witness)))
			for _, item := range tx.Inputs[i].Witness {
				buf = AppendVarInt(buf, uint64(len(item)))
				buf = append(buf, item...)
			}
		}
	}
	return binary.LittleEndian.AppendUint32(buf, tx.LockTime)
}

// SerializeTxLegacy encodes the witness-stripped form used for txid.
func SerializeTxLegacy(tx *Transaction) []byte {
	buf := make([]byte, 0, 256)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(tx.Version))
	buf = appendTxBody(buf, tx)
	return binary.LittleEndian.AppendUint32(buf, tx.LockTime)
}

// appendTxBody writes the input and output sections shared by both
// serializations.
func appendTxBody(buf []byte, tx *Transaction) []byte {
	buf = AppendVarInt(buf, uint64(len(tx.Inputs)))
	for i := range tx.Inputs {
		prev := tx.Inputs[i].PrevOut.TxID.Reversed()
		buf = append(buf, prev[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, tx.Inputs[i].PrevOut.Index)
		buf = AppendVarInt(buf, uint64(len(tx.Inputs[i].Script)))
		buf = append(buf, tx.Inputs[i].Script...)
		buf = binary.LittleEndian.AppendUint32(buf, tx.Inputs[i].Sequence)
	}
	buf = AppendVarInt(buf, uint64(len(tx.Outputs)))
	for i := range tx.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(tx.Outputs[i].Value))
		buf = AppendVarInt(buf, uint64(len(tx.Outputs[i].Script)))
		buf = append(buf, tx.Outputs[i].Script...)
	}
	return buf
}

// FinalizeIdentity recomputes txid, wtxid and the size fields from the
// transaction's current contents.
func (tx *Transaction) FinalizeIdentity() {
	full := SerializeTx(tx)
	legacy := SerializeTxLegacy(tx)
	tx.TxID = txidFromBytes(legacy)
	tx.WTxID = txidFromBytes(full)
	tx.Size = len(full)
	tx.Weight = len(legacy)*3 + len(full)
	tx.VSize = (tx.Weight + 3) / 4
}
