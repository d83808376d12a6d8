// Package leb128 implements the width-optimal integer and byte-string
// encodings every higher format in this module packs its bytes with:
// unsigned LEB128, signed (zig-zag) LEB128, and length-prefixed blobs.
package leb128

import "github.com/pkg/errors"

// ErrTruncated is returned when a buffer ends before a value finishes decoding.
var ErrTruncated = errors.New("leb128: truncated input")

// maxBytes bounds how many continuation bytes we'll read decoding a uint64,
// preventing a corrupt stream with the high bit always set from spinning.
const maxBytes = 10

// PutUvarint appends the unsigned LEB128 encoding of v to buf and returns
// the result.
func PutUvarint(buf []byte, v uint64) []byte {
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// GetUvarint decodes an unsigned LEB128 value from the front of buf,
// returning the value and the number of bytes consumed.
func GetUvarint(buf []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i := 0; i < len(buf) && i < maxBytes; i++ {
		b := buf[i]
		v |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, ErrTruncated
}

// UvarintLen returns the number of bytes PutUvarint would write for v.
func UvarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		n++
		v >>= 7
	}
	return n
}

// PutVarint appends the zig-zag signed LEB128 encoding of v to buf.
func PutVarint(buf []byte, v int64) []byte {
	return PutUvarint(buf, zigzagEncode(v))
}

// GetVarint decodes a zig-zag signed LEB128 value, mirroring GetUvarint.
func GetVarint(buf []byte) (int64, int, error) {
	u, n, err := GetUvarint(buf)
	if err != nil {
		return 0, 0, err
	}
	return zigzagDecode(u), n, nil
}

// VarintLen returns the number of bytes PutVarint would write for v.
func VarintLen(v int64) int {
	return UvarintLen(zigzagEncode(v))
}

func zigzagEncode(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func zigzagDecode(u uint64) int64 {
	return int64(u>>1) ^ -int64(u&1)
}

// PutBytes appends a length-prefixed (uvarint length) byte string to buf.
func PutBytes(buf []byte, b []byte) []byte {
	buf = PutUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

// GetBytes decodes a length-prefixed byte string, returning a copy of the
// bytes and the total number of bytes consumed (prefix + body).
func GetBytes(buf []byte) ([]byte, int, error) {
	n, prefixLen, err := GetUvarint(buf)
	if err != nil {
		return nil, 0, err
	}
	end := prefixLen + int(n)
	if end < prefixLen || end > len(buf) {
		return nil, 0, ErrTruncated
	}
	out := make([]byte, n)
	copy(out, buf[prefixLen:end])
	return out, end, nil
}

// PutString appends a length-prefixed UTF-8 string to buf.
func PutString(buf []byte, s string) []byte {
	return PutBytes(buf, []byte(s))
}

// GetString decodes a length-prefixed UTF-8 string.
func GetString(buf []byte) (string, int, error) {
	b, n, err := GetBytes(buf)
	if err != nil {
		return "", 0, err
	}
	return string(b), n, nil
}
