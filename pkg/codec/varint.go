package codec

import "encoding/binary"

// ReadVarInt decodes a Bitcoin-style variable-length integer at offset.
// Returns the value and the number of bytes consumed, or ok=false when the
// buffer is too short. Marker rules: <0xfd literal, 0xfd u16, 0xfe u32,
// 0xff u64, all little-endian.
func ReadVarInt(buf []byte, offset int) (value uint64, size int, ok bool) {
	if offset >= len(buf) {
		return 0, 0, false
	}
	marker := buf[offset]
	switch {
	case marker < 0xfd:
		return uint64(marker), 1, true
	case marker == 0xfd:
		if offset+3 > len(buf) {
			return 0, 0, false
		}
		return uint64(binary.LittleEndian.Uint16(buf[offset+1:])), 3, true
	case marker == 0xfe:
		if offset+5 > len(buf) {
			return 0, 0, false
		}
		return uint64(binary.LittleEndian.Uint32(buf[offset+1:])), 5, true
	default:
		if offset+9 > len(buf) {
			return 0, 0, false
		}
		return binary.LittleEndian.Uint64(buf[offset+1:]), 9, true
	}
}

// AppendVarInt appends the variable-length encoding of v to buf.
func AppendVarInt(buf []byte, v uint64) []byte {
	switch {
	case v < 0xfd:
		return append(buf, byte(v))
	case v <= 0xffff:
		buf = append(buf, 0xfd)
		return binary.LittleEndian.AppendUint16(buf, uint16(v))
	case v <= 0xffffffff:
		buf = append(buf, 0xfe)
		return binary.LittleEndian.AppendUint32(buf, uint32(v))
	default:
		buf = append(buf, 0xff)
		return binary.LittleEndian.AppendUint64(buf, v)
	}
}
