// Package wallet implements the wallet session and transaction engine:
// key derivation, UTXO selection, fee estimation and SegWit signing.
package wallet

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcutil"
	"github.com/btcsuite/btcutil/base58"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/litewallet-org/litewallet-core/pkg/codec"
	"github.com/litewallet-org/litewallet-core/pkg/types"
)

// MnemonicEntropyBits is the entropy size for 12-word mnemonics.
const MnemonicEntropyBits = 128

// BIP-84 derivation path constants (m/84'/coin'/0'/0/0 — one derived
// account, per the single-account design).
const (
	purposeBIP84 = bip32.FirstHardenedChild + 84
	accountIndex = bip32.FirstHardenedChild + 0
)

// Keypair is the signing keypair for the active session, together with
// the derived P2WPKH address and its Electrum scripthash. The private key
// lives only in memory and is scrubbed on lock.
type Keypair struct {
	priv       *btcec.PrivateKey
	PubKey     []byte // 33-byte compressed
	PubKeyHash []byte // HASH160 of PubKey
	Address    string
	ScriptHash string
}

// newKeypair derives the address material for a private key.
func newKeypair(priv *btcec.PrivateKey, params types.Params) (*Keypair, error) {
	pub := priv.PubKey().SerializeCompressed()
	pkh := btcutil.Hash160(pub)
	script, err := codec.P2WPKHScript(pkh)
	if err != nil {
		return nil, err
	}
	addr, ok := codec.ExtractAddress(script, params)
	if !ok {
		return nil, fmt.Errorf("derive address from own script")
	}
	return &Keypair{
		priv:       priv,
		PubKey:     pub,
		PubKeyHash: pkh,
		Address:    addr,
		ScriptHash: codec.ScriptHash(script),
	}, nil
}

// Zero scrubs the private key material.
func (k *Keypair) Zero() {
	if k.priv != nil {
		k.priv.Zero()
		k.priv = nil
	}
}

// clone copies the keypair with an independent private key, so scrubbing
// one copy cannot reach into the other.
func (k *Keypair) clone() *Keypair {
	c := *k
	if k.priv != nil {
		raw := k.priv.Serialize()
		c.priv, _ = btcec.PrivKeyFromBytes(raw)
		for i := range raw {
			raw[i] = 0
		}
	}
	return &c
}

// GenerateMnemonic creates a new 12-word BIP-39 mnemonic.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(MnemonicEntropyBits)
	if err != nil {
		return "", fmt.Errorf("generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("generate mnemonic: %w", err)
	}
	return mnemonic, nil
}

// KeypairFromMnemonic derives the account keypair at m/84'/coin'/0'/0/0.
func KeypairFromMnemonic(mnemonic string, params types.Params) (*Keypair, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")
	master, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("create master key: %w", err)
	}
	key := master
	for _, idx := range []uint32{
		purposeBIP84,
		bip32.FirstHardenedChild + params.CoinType,
		accountIndex,
		0, // external chain
		0, // first address
	} {
		if key, err = key.NewChildKey(idx); err != nil {
			return nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
	}
	raw := key.Key
	// bip32 private keys carry a leading 0x00 pad byte.
	if len(raw) == 33 && raw[0] == 0 {
		raw = raw[1:]
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return newKeypair(priv, params)
}

// KeypairFromText accepts a raw private key as WIF or 64-character hex.
func KeypairFromText(keyText string, params types.Params) (*Keypair, error) {
	keyText = strings.TrimSpace(keyText)
	if len(keyText) == 64 {
		raw, err := hex.DecodeString(keyText)
		if err == nil {
			priv, _ := btcec.PrivKeyFromBytes(raw)
			return newKeypair(priv, params)
		}
	}
	raw, err := DecodeWIF(keyText, params)
	if err != nil {
		return nil, err
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return newKeypair(priv, params)
}

// EncodeWIF encodes a keypair's private key in compressed WIF form.
func (k *Keypair) EncodeWIF(params types.Params) string {
	payload := make([]byte, 0, 34)
	payload = append(payload, params.WIFPrefix)
	payload = append(payload, k.priv.Serialize()...)
	payload = append(payload, 0x01) // compressed pubkey flag
	check := codec.DoubleSHA256(payload)
	return base58.Encode(append(payload, check[:4]...))
}

// DecodeWIF decodes a WIF private key, accepting both the compressed
// (38-byte) and legacy uncompressed (37-byte) forms.
func DecodeWIF(wif string, params types.Params) ([]byte, error) {
	raw := base58.Decode(wif)
	if len(raw) != 1+32+4 && len(raw) != 1+32+1+4 {
		return nil, fmt.Errorf("invalid private key")
	}
	payload, checksum := raw[:len(raw)-4], raw[len(raw)-4:]
	check := codec.DoubleSHA256(payload)
	for i := 0; i < 4; i++ {
		if check[i] != checksum[i] {
			return nil, fmt.Errorf("invalid private key checksum")
		}
	}
	if payload[0] != params.WIFPrefix {
		return nil, fmt.Errorf("private key is for a different network")
	}
	return payload[1:33], nil
}
