package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"

	"github.com/litewallet-org/litewallet-core/pkg/types"
)

// ScriptType tags the recognized output script templates.
type ScriptType string

const (
	ScriptP2WPKH      ScriptType = "witness_v0_keyhash"
	ScriptP2WSH       ScriptType = "witness_v0_scripthash"
	ScriptMWEBPegout  ScriptType = "witness_mweb_hogaddr" // MWEB hog address marker
	ScriptNullData    ScriptType = "nulldata"
	ScriptNonStandard ScriptType = "nonstandard"
)

const (
	opReturn = 0x6a
	op9      = 0x59 // witness version 9, used by the MWEB extension block
)

// ClassifyScript identifies the template of an output script.
func ClassifyScript(script []byte) ScriptType {
	switch {
	case len(script) == 22 && script[0] == 0x00 && script[1] == 0x14:
		return ScriptP2WPKH
	case len(script) == 34 && script[0] == 0x00 && script[1] == 0x20:
		return ScriptP2WSH
	case len(script) >= 2 && script[0] == op9:
		return ScriptMWEBPegout
	case len(script) >= 1 && script[0] == opReturn:
		return ScriptNullData
	default:
		return ScriptNonStandard
	}
}

// ExtractAddress derives the bech32 address encoded by a standard witness
// output script. Non-standard scripts (MWEB markers, OP_RETURN, anything
// else) return ok=false rather than an error.
func ExtractAddress(script []byte, params types.Params) (string, bool) {
	var program []byte
	switch ClassifyScript(script) {
	case ScriptP2WPKH:
		program = script[2:22]
	case ScriptP2WSH:
		program = script[2:34]
	default:
		return "", false
	}
	addr, err := encodeSegWit(params.HRP, 0, program)
	if err != nil {
		return "", false
	}
	return addr, true
}

// AddressToScript converts a bech32 witness address back into its output
// script bytes.
func AddressToScript(address string, params types.Params) ([]byte, error) {
	hrp, version, program, err := decodeSegWit(address)
	if err != nil {
		return nil, fmt.Errorf("decode address: %w", err)
	}
	if hrp != params.HRP {
		return nil, fmt.Errorf("address %q is not a %s address", address, params.Name)
	}
	if version != 0 || (len(program) != 20 && len(program) != 32) {
		return nil, fmt.Errorf("unsupported witness program (version %d, %d bytes)", version, len(program))
	}
	script := make([]byte, 0, 2+len(program))
	script = append(script, byte(version), byte(len(program)))
	return append(script, program...), nil
}

// ScriptHash computes the Electrum lookup key for an output script:
// SHA256 of the script bytes, reversed, hex-encoded.
func ScriptHash(script []byte) string {
	sum := sha256.Sum256(script)
	rev := types.Hash(sum).Reversed()
	return hex.EncodeToString(rev[:])
}

// AddressToScriptHash is the subscription/lookup key for an address.
func AddressToScriptHash(address string, params types.Params) (string, error) {
	script, err := AddressToScript(address, params)
	if err != nil {
		return "", err
	}
	return ScriptHash(script), nil
}

// P2WPKHScript builds the witness output script for a 20-byte pubkey hash.
func P2WPKHScript(pubKeyHash []byte) ([]byte, error) {
	if len(pubKeyHash) != 20 {
		return nil, fmt.Errorf("pubkey hash must be 20 bytes, got %d", len(pubKeyHash))
	}
	script := make([]byte, 0, 22)
	script = append(script, 0x00, 0x14)
	return append(script, pubKeyHash...), nil
}

// encodeSegWit bech32-encodes a witness version + program.
func encodeSegWit(hrp string, version byte, program []byte) (string, error) {
	grouped, err := bech32.ConvertBits(program, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, append([]byte{version}, grouped...))
}

// decodeSegWit decodes a bech32 witness address into hrp, version, program.
func decodeSegWit(address string) (string, byte, []byte, error) {
	hrp, data, err := bech32.Decode(address)
	if err != nil {
		return "", 0, nil, err
	}
	if len(data) < 1 {
		return "", 0, nil, fmt.Errorf("empty witness data")
	}
	program, err := bech32.ConvertBits(data[1:], 5, 8, false)
	if err != nil {
		return "", 0, nil, err
	}
	return hrp, data[0], program, nil
}
