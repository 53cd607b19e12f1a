package types

import (
	"fmt"
	"strings"
)

// CoinDecimals is the number of decimal places in the human-readable unit.
const CoinDecimals = 8

// SatsPerCoin is the number of base units (satoshis) per coin.
const SatsPerCoin = 100_000_000

// FormatAmount renders a satoshi amount as a fixed 8-decimal coin string.
// This is the only place integer amounts become decimal text; nothing in
// the signing path ever touches floating point.
func FormatAmount(sats int64) string {
	sign := ""
	if sats < 0 {
		sign = "-"
		sats = -sats
	}
	return fmt.Sprintf("%s%d.%08d", sign, sats/SatsPerCoin, sats%SatsPerCoin)
}

// ParseAmount converts a decimal coin string ("1.5", "0.00000546") into
// satoshis. At most 8 fractional digits are accepted.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	}
	whole, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		whole, frac = s[:i], s[i+1:]
	}
	if len(frac) > CoinDecimals {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", s, CoinDecimals)
	}
	// Right-pad the fraction to 8 digits so "1.5" becomes 50000000 sats.
	frac += strings.Repeat("0", CoinDecimals-len(frac))
	if whole == "" {
		whole = "0"
	}
	var sats int64
	for _, part := range []string{whole, frac} {
		for _, c := range part {
			if c < '0' || c > '9' {
				return 0, fmt.Errorf("invalid amount %q", s)
			}
			sats = sats*10 + int64(c-'0')
			if sats < 0 {
				return 0, fmt.Errorf("amount %q overflows", s)
			}
		}
	}
	if neg {
		sats = -sats
	}
	return sats, nil
}
