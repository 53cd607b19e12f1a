package types

// Params bundles the per-network constants needed to render addresses and
// derive keys. The chain is Litecoin-shaped: bech32 SegWit addresses with
// an optional MWEB extension side.
type Params struct {
	Name      string
	HRP       string // bech32 human-readable part for witness addresses
	WIFPrefix byte   // version byte for WIF private key encoding
	CoinType  uint32 // BIP-44/84 coin type (hardened at derivation time)
}

// MainNetParams are the production network parameters.
var MainNetParams = Params{
	Name:      "mainnet",
	HRP:       "ltc",
	WIFPrefix: 0xb0,
	CoinType:  2,
}

// TestNetParams are the test network parameters.
var TestNetParams = Params{
	Name:      "testnet",
	HRP:       "tltc",
	WIFPrefix: 0xef,
	CoinType:  1,
}
