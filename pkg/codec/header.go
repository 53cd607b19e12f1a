package codec

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"

	"github.com/litewallet-org/litewallet-core/pkg/types"
)

// HeaderSize is the serialized size of a block header in bytes.
const HeaderSize = 80

// BlockHeader is a parsed 80-byte block header. Hash fields are stored in
// display order; the wire format keeps them little-endian.
type BlockHeader struct {
	Version    uint32     `json:"version"`
	PrevHash   types.Hash `json:"prev_hash"`
	MerkleRoot types.Hash `json:"merkle_root"`
	Timestamp  uint32     `json:"timestamp"`
	Bits       uint32     `json:"bits"`
	Nonce      uint32     `json:"nonce"`
	Hash       types.Hash `json:"hash"` // double-SHA256 of the 80 bytes, reversed
}

// DoubleSHA256 computes SHA256(SHA256(data)) in natural (wire) order.
func DoubleSHA256(data []byte) [32]byte {
	first := sha256.Sum256(data)
	return sha256.Sum256(first[:])
}

// txidFromBytes hashes serialized transaction or header bytes and flips
// the result into display order.
func txidFromBytes(data []byte) types.Hash {
	h := DoubleSHA256(data)
	return types.Hash(h).Reversed()
}

// ParseBlockHeader decodes an 80-byte header from hex. Longer input (a
// full serialized block) is accepted; only the first 80 bytes are read.
func ParseBlockHeader(headerHex string) (*BlockHeader, error) {
	if len(headerHex) < HeaderSize*2 {
		return nil, parseErrorf("block header", "need %d hex chars, got %d", HeaderSize*2, len(headerHex))
	}
	raw, err := hex.DecodeString(headerHex[:HeaderSize*2])
	if err != nil {
		return nil, parseErrorf("block header", "invalid hex: %v", err)
	}
	h := &BlockHeader{
		Version:   binary.LittleEndian.Uint32(raw[0:4]),
		Timestamp: binary.LittleEndian.Uint32(raw[68:72]),
		Bits:      binary.LittleEndian.Uint32(raw[72:76]),
		Nonce:     binary.LittleEndian.Uint32(raw[76:80]),
	}
	copy(h.PrevHash[:], raw[4:36])
	h.PrevHash = h.PrevHash.Reversed()
	copy(h.MerkleRoot[:], raw[36:68])
	h.MerkleRoot = h.MerkleRoot.Reversed()
	h.Hash = txidFromBytes(raw)
	return h, nil
}

// Serialize returns the canonical 80-byte wire encoding of the header.
func (h *BlockHeader) Serialize() []byte {
	buf := make([]byte, 0, HeaderSize)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	prev := h.PrevHash.Reversed()
	buf = append(buf, prev[:]...)
	merkle := h.MerkleRoot.Reversed()
	buf = append(buf, merkle[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, h.Timestamp)
	buf = binary.LittleEndian.AppendUint32(buf, h.Bits)
	buf = binary.LittleEndian.AppendUint32(buf, h.Nonce)
	return buf
}

// DifficultyFromBits decodes the compact target and returns the standard
// difficulty relative to the maximum target (bits 0x1d00ffff = 1.0).
func DifficultyFromBits(bits uint32) float64 {
	exponent := bits >> 24
	mantissa := float64(bits & 0x007fffff)
	if mantissa == 0 {
		return 0
	}
	// target = mantissa * 256^(exponent-3); difficulty = maxTarget / target.
	target := mantissa * math.Pow(256, float64(exponent)-3)
	maxTarget := float64(0x00ffff) * math.Pow(256, float64(0x1d)-3)
	return maxTarget / target
}

// Hashrate estimates network hashes per second from difficulty and the
// observed block interval in seconds.
func Hashrate(difficulty, blockTimeSeconds float64) float64 {
	if blockTimeSeconds <= 0 {
		return 0
	}
	return difficulty * math.Pow(2, 32) / blockTimeSeconds
}
