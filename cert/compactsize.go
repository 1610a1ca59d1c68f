package cert

import (
	"encoding/binary"
	"fmt"
)

// ReadCompactSize reads a Bitcoin-style variable-length integer starting
// at buf[offset], returning its value and the offset just past it.
func ReadCompactSize(buf []byte, offset int) (uint64, int, error) {
	if offset >= len(buf) {
		return 0, offset, fmt.Errorf("input data corrupted: compact size out of bounds")
	}
	first := buf[offset]
	switch {
	case first < 0xfd:
		return uint64(first), offset + 1, nil
	case first == 0xfd:
		if offset+3 > len(buf) {
			return 0, offset, fmt.Errorf("input data corrupted: truncated compact size")
		}
		return uint64(binary.LittleEndian.Uint16(buf[offset+1 : offset+3])), offset + 3, nil
	case first == 0xfe:
		if offset+5 > len(buf) {
			return 0, offset, fmt.Errorf("input data corrupted: truncated compact size")
		}
		return uint64(binary.LittleEndian.Uint32(buf[offset+1 : offset+5])), offset + 5, nil
	default: // 0xff
		if offset+9 > len(buf) {
			return 0, offset, fmt.Errorf("input data corrupted: truncated compact size")
		}
		return binary.LittleEndian.Uint64(buf[offset+1 : offset+9]), offset + 9, nil
	}
}

// WriteCompactSize appends the smallest CompactSize encoding of v to buf.
func WriteCompactSize(buf []byte, v uint64) []byte {
	switch {
	case v < 0xfd:
		return append(buf, byte(v))
	case v <= 0xffff:
		buf = append(buf, 0xfd)
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(v))
		return append(buf, b[:]...)
	case v <= 0xffffffff:
		buf = append(buf, 0xfe)
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(v))
		return append(buf, b[:]...)
	default:
		buf = append(buf, 0xff)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], v)
		return append(buf, b[:]...)
	}
}

// readVarBytes reads a CompactSize length followed by that many bytes.
func readVarBytes(buf []byte, offset int) ([]byte, int, error) {
	n, offset, err := ReadCompactSize(buf, offset)
	if err != nil {
		return nil, offset, err
	}
	end := offset + int(n)
	if end < offset || end > len(buf) {
		return nil, offset, fmt.Errorf("input data corrupted: truncated byte field")
	}
	out := make([]byte, n)
	copy(out, buf[offset:end])
	return out, end, nil
}

func writeVarBytes(buf []byte, data []byte) []byte {
	buf = WriteCompactSize(buf, uint64(len(data)))
	return append(buf, data...)
}
