package wallet

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/litewallet-org/litewallet-core/pkg/codec"
)

// sigHashAll is the only signature hash type this wallet produces.
const sigHashAll = 0x01

// signAllInputs signs every input with the session keypair using the
// SegWit (BIP-143) digest and verifies each signature before the
// transaction is finalized.
func signAllInputs(tx *codec.Transaction, selected []UTXO, kp *Keypair) error {
	prevoutsDigest := hashPrevouts(tx)
	sequenceDigest := hashSequences(tx)
	outputsDigest := hashOutputs(tx)

	for i := range tx.Inputs {
		digest := sigHashDigest(tx, i, selected[i].Value, kp.PubKeyHash,
			prevoutsDigest, sequenceDigest, outputsDigest)

		sig := ecdsa.Sign(kp.priv, digest[:])
		if !sig.Verify(digest[:], kp.priv.PubKey()) {
			return fmt.Errorf("signature for input %d failed verification", i)
		}
		tx.Inputs[i].Witness = [][]byte{
			append(sig.Serialize(), sigHashAll),
			kp.PubKey,
		}
	}
	return nil
}

// sigHashDigest computes the BIP-143 double-SHA256 digest for one input.
func sigHashDigest(tx *codec.Transaction, idx int, value int64, pkh []byte,
	hashPrevouts, hashSequence, hashOutputs [32]byte) [32]byte {

	// scriptCode for P2WPKH: the canonical P2PKH script over the same
	// pubkey hash, length-prefixed.
	scriptCode := make([]byte, 0, 26)
	scriptCode = append(scriptCode, 0x19, 0x76, 0xa9, 0x14)
	scriptCode = append(scriptCode, pkh...)
	scriptCode = append(scriptCode, 0x88, 0xac)

	in := &tx.Inputs[idx]
	prev := in.PrevOut.TxID.Reversed()

	buf := make([]byte, 0, 192)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(tx.Version))
	buf = append(buf, hashPrevouts[:]...)
	buf = append(buf, hashSequence[:]...)
	buf = append(buf, prev[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
	buf = append(buf, scriptCode...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(value))
	buf = binary.LittleEndian.AppendUint32(buf, in.Sequence)
	buf = append(buf, hashOutputs[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, tx.LockTime)
	buf = binary.LittleEndian.AppendUint32(buf, sigHashAll)

	return codec.DoubleSHA256(buf)
}

func hashPrevouts(tx *codec.Transaction) [32]byte {
	buf := make([]byte, 0, len(tx.Inputs)*36)
	for i := range tx.Inputs {
		prev := tx.Inputs[i].PrevOut.TxID.Reversed()
		buf = append(buf, prev[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, tx.Inputs[i].PrevOut.Index)
	}
	return codec.DoubleSHA256(buf)
}

func hashSequences(tx *codec.Transaction) [32]byte {
	buf := make([]byte, 0, len(tx.Inputs)*4)
	for i := range tx.Inputs {
		buf = binary.LittleEndian.AppendUint32(buf, tx.Inputs[i].Sequence)
	}
	return codec.DoubleSHA256(buf)
}

func hashOutputs(tx *codec.Transaction) [32]byte {
	var buf []byte
	for i := range tx.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(tx.Outputs[i].Value))
		buf = codec.AppendVarInt(buf, uint64(len(tx.Outputs[i].Script)))
		buf = append(buf, tx.Outputs[i].Script...)
	}
	return codec.DoubleSHA256(buf)
}
