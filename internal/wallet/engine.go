package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/litewallet-org/litewallet-core/pkg/codec"
	"github.com/litewallet-org/litewallet-core/pkg/types"
)

// Virtual-size model for P2WPKH transactions, in vbytes.
const (
	InputVBytes      = 68
	OutputVBytes     = 31
	OverheadVBytes   = 10
	DustThresholdSat = 546
)

// Engine errors.
var (
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrNoFunds             = errors.New("no spendable outputs")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAmountBelowFee      = errors.New("amount does not cover the fee")
)

// UTXO is an unspent output owned by the wallet. Snapshots only: a send
// re-fetches the set immediately before building, never trusts a cache.
type UTXO struct {
	Outpoint types.Outpoint
	Value    int64
}

// FeeEstimate is the result of a dry-run selection.
type FeeEstimate struct {
	EstimatedFee int64 // fee at the estimated virtual size
	ActualAmount int64 // what the recipient would receive
	TotalNeeded  int64 // amount the inputs must cover
	NumInputs    int
}

// estimateVSize is the fixed per-input/per-output weight model.
func estimateVSize(numInputs, numOutputs int) int64 {
	return int64(OverheadVBytes + InputVBytes*numInputs + OutputVBytes*numOutputs)
}

// selectUTXOs accumulates outputs in their given order until they cover
// the target, recomputing the fee after each addition. includeFee means
// the fee is deducted from the send amount (one output); otherwise a
// change output is assumed (two).
func selectUTXOs(amount, feeRate int64, utxos []UTXO, includeFee bool) (selected []UTXO, total, fee int64, err error) {
	numOutputs := 2
	if includeFee {
		numOutputs = 1
	}
	for _, u := range utxos {
		selected = append(selected, u)
		total += u.Value
		fee = estimateVSize(len(selected), numOutputs) * feeRate
		target := amount
		if !includeFee {
			target += fee
		}
		if total >= target {
			return selected, total, fee, nil
		}
	}
	needed := amount
	if !includeFee {
		needed += fee
	}
	return nil, 0, 0, fmt.Errorf("%w: have %s, need %s",
		ErrInsufficientBalance, types.FormatAmount(total), types.FormatAmount(needed))
}

// EstimateFee performs a dry-run selection against a UTXO snapshot. No
// outputs are consumed or reserved.
func EstimateFee(amount, feeRate int64, utxos []UTXO, includeFee bool) (*FeeEstimate, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if len(utxos) == 0 {
		return nil, ErrNoFunds
	}
	selected, _, fee, err := selectUTXOs(amount, feeRate, utxos, includeFee)
	if err != nil {
		return nil, err
	}
	est := &FeeEstimate{
		EstimatedFee: fee,
		ActualAmount: amount,
		TotalNeeded:  amount + fee,
		NumInputs:    len(selected),
	}
	if includeFee {
		est.ActualAmount = amount - fee
		est.TotalNeeded = amount
		if est.ActualAmount <= 0 {
			return nil, fmt.Errorf("%w: fee %s exceeds amount %s",
				ErrAmountBelowFee, types.FormatAmount(fee), types.FormatAmount(amount))
		}
	}
	return est, nil
}

// BuildParams are the inputs to transaction construction.
type BuildParams struct {
	To         string // recipient address
	Amount     int64  // satoshis
	FeeRate    int64  // sat/vB
	IncludeFee bool   // deduct the fee from the send amount
	Utxos      []UTXO // fresh snapshot, spent in given order
	Keypair    *Keypair
	Params     types.Params
}

// SignedTx is a broadcast-ready transaction with its realized fee.
type SignedTx struct {
	TxID types.Hash
	Hex  string
	Fee  int64 // sum(inputs) − sum(outputs) of the finalized transaction
}

// BuildAndSignTx selects UTXOs, constructs the transaction, signs every
// input and reports the realized fee. A change output is created only
// when the remainder exceeds the dust threshold; otherwise the remainder
// is absorbed into the fee.
func BuildAndSignTx(p BuildParams) (*SignedTx, error) {
	if p.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if len(p.Utxos) == 0 {
		return nil, ErrNoFunds
	}
	if p.Keypair == nil || p.Keypair.priv == nil {
		return nil, fmt.Errorf("no signing key")
	}

	recipientScript, err := codec.AddressToScript(p.To, p.Params)
	if err != nil {
		return nil, fmt.Errorf("recipient: %w", err)
	}
	changeScript, err := codec.P2WPKHScript(p.Keypair.PubKeyHash)
	if err != nil {
		return nil, err
	}

	selected, total, fee, err := selectUTXOs(p.Amount, p.FeeRate, p.Utxos, p.IncludeFee)
	if err != nil {
		return nil, err
	}

	var recipientValue, change int64
	if p.IncludeFee {
		change = total - p.Amount
		if change > DustThresholdSat {
			// A change output raises the virtual size; re-price the fee.
			fee = estimateVSize(len(selected), 2) * p.FeeRate
		}
		recipientValue = p.Amount - fee
		if recipientValue <= 0 {
			return nil, fmt.Errorf("%w: fee %s exceeds amount %s",
				ErrAmountBelowFee, types.FormatAmount(fee), types.FormatAmount(p.Amount))
		}
	} else {
		recipientValue = p.Amount
		change = total - p.Amount - fee
	}

	tx := &codec.Transaction{Version: 1}
	for _, u := range selected {
		tx.Inputs = append(tx.Inputs, codec.Input{
			PrevOut:  u.Outpoint,
			Sequence: 0xffffffff,
		})
	}
	tx.Outputs = append(tx.Outputs, codec.Output{Value: recipientValue, Script: recipientScript})
	if change > DustThresholdSat {
		tx.Outputs = append(tx.Outputs, codec.Output{Value: change, Script: changeScript})
	}

	if err := signAllInputs(tx, selected, p.Keypair); err != nil {
		return nil, err
	}
	tx.FinalizeIdentity()

	var outSum int64
	for i := range tx.Outputs {
		outSum += tx.Outputs[i].Value
	}

	return &SignedTx{
		TxID: tx.TxID,
		Hex:  hex.EncodeToString(codec.SerializeTx(tx)),
		Fee:  total - outSum,
	}, nil
}
