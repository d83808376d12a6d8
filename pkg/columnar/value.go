// value.go encodes op.ScalarValue as a paired ValueMeta (per-row type
// tag + length, RLE'd) and Value (raw concatenated bytes) column —
// the columnar generalization of the teacher's pkg/record serial-type
// dispatch table (SerialTypeFor/SerialTypeSize), extended for the
// CRDT-only Counter/Timestamp/Unknown kinds.
package columnar

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"

	"crdt/internal/leb128"
	"crdt/pkg/op"
)

// metaWord packs (length<<4 | kind) into one uint64, matching the
// "typed header, packed body" shape of a serial type in pkg/record.
func metaWord(kind op.ScalarKind, length int) uint64 {
	return uint64(length)<<4 | uint64(kind)
}

func splitMeta(word uint64) (kind op.ScalarKind, length int) {
	return op.ScalarKind(word & 0xf), int(word >> 4)
}

// valueBytes encodes a scalar's payload (everything but the type tag)
// into the flat Value column.
func valueBytes(v op.ScalarValue) []byte {
	switch v.Kind() {
	case op.KindNull:
		return nil
	case op.KindBytes:
		return v.AsBytes()
	case op.KindStr:
		return []byte(v.AsStr())
	case op.KindInt:
		return leb128.PutVarint(nil, v.AsInt())
	case op.KindUint:
		return leb128.PutUvarint(nil, v.AsUint())
	case op.KindF64:
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v.AsF64()))
		return buf
	case op.KindBoolean:
		if v.AsBoolean() {
			return []byte{1}
		}
		return []byte{0}
	case op.KindCounter:
		return leb128.PutVarint(nil, v.AsInt())
	case op.KindTimestamp:
		return leb128.PutVarint(nil, v.AsInt())
	case op.KindUnknown:
		return append([]byte{v.UnknownType()}, v.AsBytes()...)
	default:
		return nil
	}
}

func valueFromBytes(kind op.ScalarKind, data []byte) (op.ScalarValue, error) {
	switch kind {
	case op.KindNull:
		return op.Null(), nil
	case op.KindBytes:
		return op.Bytes(data), nil
	case op.KindStr:
		return op.Str(string(data)), nil
	case op.KindInt:
		i, _, err := leb128.GetVarint(data)
		if err != nil {
			return op.ScalarValue{}, errors.Wrap(err, "columnar: decode int value")
		}
		return op.Int(i), nil
	case op.KindUint:
		u, _, err := leb128.GetUvarint(data)
		if err != nil {
			return op.ScalarValue{}, errors.Wrap(err, "columnar: decode uint value")
		}
		return op.Uint(u), nil
	case op.KindF64:
		if len(data) != 8 {
			return op.ScalarValue{}, errors.Wrap(crdtEncodingErr, "columnar: float value must be 8 bytes")
		}
		return op.F64(math.Float64frombits(binary.LittleEndian.Uint64(data))), nil
	case op.KindBoolean:
		if len(data) != 1 {
			return op.ScalarValue{}, errors.Wrap(crdtEncodingErr, "columnar: bool value must be 1 byte")
		}
		return op.Boolean(data[0] != 0), nil
	case op.KindCounter:
		i, _, err := leb128.GetVarint(data)
		if err != nil {
			return op.ScalarValue{}, errors.Wrap(err, "columnar: decode counter value")
		}
		return op.Counter(i), nil
	case op.KindTimestamp:
		i, _, err := leb128.GetVarint(data)
		if err != nil {
			return op.ScalarValue{}, errors.Wrap(err, "columnar: decode timestamp value")
		}
		return op.Timestamp(i), nil
	case op.KindUnknown:
		if len(data) < 1 {
			return op.ScalarValue{}, errors.Wrap(crdtEncodingErr, "columnar: unknown value missing type code")
		}
		return op.Unknown(data[0], data[1:]), nil
	default:
		return op.ScalarValue{}, errors.Wrapf(crdtEncodingErr, "columnar: unrecognized scalar kind %d", kind)
	}
}

// crdtEncodingErr is a local sentinel so this package doesn't need to
// import pkg/crdterr. Callers such as pkg/change wrap it with their own
// context message only, so errors.Is against crdterr.ErrEncoding does
// not match it.
var crdtEncodingErr = errors.New("columnar: malformed value")

// EncodeValues packs a slice of scalars into (meta column bytes, value
// column bytes).
func EncodeValues(values []op.ScalarValue) (metaBytes, valueBytes_ []byte) {
	metaItems := make([]UintItem, len(values))
	var flat []byte
	for i, v := range values {
		b := valueBytes(v)
		metaItems[i] = Present(metaWord(v.Kind(), len(b)))
		flat = append(flat, b...)
	}
	return EncodeRLE(metaItems), flat
}

// DecodeValues reverses EncodeValues.
func DecodeValues(metaBytes, valueBytesFlat []byte) ([]op.ScalarValue, error) {
	metaItems, err := DecodeRLE(metaBytes)
	if err != nil {
		return nil, errors.Wrap(err, "columnar: decode value meta")
	}
	out := make([]op.ScalarValue, len(metaItems))
	pos := 0
	for i, m := range metaItems {
		if m.Null {
			return nil, errors.Wrap(crdtEncodingErr, "columnar: value meta cannot be null")
		}
		kind, length := splitMeta(m.V)
		if pos+length > len(valueBytesFlat) {
			return nil, errors.Wrap(crdtEncodingErr, "columnar: value data truncated")
		}
		v, err := valueFromBytes(kind, valueBytesFlat[pos:pos+length])
		if err != nil {
			return nil, err
		}
		out[i] = v
		pos += length
	}
	return out, nil
}
