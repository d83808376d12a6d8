package op

import "math"

// ScalarKind discriminates the variants of ScalarValue.
type ScalarKind uint8

const (
	KindNull ScalarKind = iota
	KindBytes
	KindStr
	KindInt
	KindUint
	KindF64
	KindBoolean
	KindCounter
	KindTimestamp
	KindUnknown
)

// ScalarValue is the tagged union of primitive values an op can carry,
// modeled on the teacher's types.Value but extended with the CRDT-only
// Counter/Timestamp/Unknown variants spec.md §3.3 requires.
type ScalarValue struct {
	kind ScalarKind

	i   int64
	u   uint64
	f   float64
	b   bool
	s   string
	buf []byte

	// counterIncrements accumulates the running sum of Increment ops
	// this Counter has observed and currently has visible (§4.1.4).
	counterIncrements int64

	// unknownType is the wire type code for an unrecognized scalar,
	// preserved so round-tripping through an unfamiliar peer is lossless.
	unknownType uint8
}

func Null() ScalarValue               { return ScalarValue{kind: KindNull} }
func Bytes(b []byte) ScalarValue      { return ScalarValue{kind: KindBytes, buf: cloneBytes(b)} }
func Str(s string) ScalarValue        { return ScalarValue{kind: KindStr, s: s} }
func Int(i int64) ScalarValue         { return ScalarValue{kind: KindInt, i: i} }
func Uint(u uint64) ScalarValue       { return ScalarValue{kind: KindUint, u: u} }
func F64(f float64) ScalarValue       { return ScalarValue{kind: KindF64, f: f} }
func Boolean(b bool) ScalarValue      { return ScalarValue{kind: KindBoolean, b: b} }
func Counter(i int64) ScalarValue     { return ScalarValue{kind: KindCounter, i: i} }
func Timestamp(i int64) ScalarValue   { return ScalarValue{kind: KindTimestamp, i: i} }
func Unknown(typeCode uint8, b []byte) ScalarValue {
	return ScalarValue{kind: KindUnknown, unknownType: typeCode, buf: cloneBytes(b)}
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (v ScalarValue) Kind() ScalarKind { return v.kind }
func (v ScalarValue) IsNull() bool     { return v.kind == KindNull }

func (v ScalarValue) AsInt() int64       { return v.i }
func (v ScalarValue) AsUint() uint64     { return v.u }
func (v ScalarValue) AsF64() float64     { return v.f }
func (v ScalarValue) AsBoolean() bool    { return v.b }
func (v ScalarValue) AsStr() string      { return v.s }
func (v ScalarValue) AsBytes() []byte    { return cloneBytes(v.buf) }
func (v ScalarValue) UnknownType() uint8 { return v.unknownType }

// CounterValue returns the Counter's current materialized value: the
// assigned base plus every Increment currently visible on it.
func (v ScalarValue) CounterValue() int64 {
	return v.i + v.counterIncrements
}

// WithIncrement returns a copy of a Counter scalar with n added to its
// running increment total. Only meaningful for KindCounter values.
func (v ScalarValue) WithIncrement(n int64) ScalarValue {
	v.counterIncrements += n
	return v
}

// Equal compares two scalar values using total ordering on floats (NaN
// and signed zero compare bitwise, per spec.md §3.3).
func (v ScalarValue) Equal(o ScalarValue) bool {
	return v.Compare(o) == 0
}

// Compare implements total order across all scalar kinds: first by
// kind, then by the kind's natural order (floats use math.Float64bits
// total ordering so NaN / -0 compare deterministically).
func (v ScalarValue) Compare(o ScalarValue) int {
	if v.kind != o.kind {
		if v.kind < o.kind {
			return -1
		}
		return 1
	}
	switch v.kind {
	case KindNull:
		return 0
	case KindBytes, KindUnknown:
		return compareBytes(v.buf, o.buf)
	case KindStr:
		return compareStr(v.s, o.s)
	case KindInt, KindCounter, KindTimestamp:
		return compareInt(v.i, o.i)
	case KindUint:
		return compareUint(v.u, o.u)
	case KindF64:
		return compareF64Total(v.f, o.f)
	case KindBoolean:
		return compareBool(v.b, o.b)
	}
	return 0
}

func compareStr(a, b string) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func compareBytes(a, b []byte) int {
	la, lb := len(a), len(b)
	n := la
	if lb < n {
		n = lb
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return compareInt(int64(la), int64(lb))
}

func compareInt(a, b int64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func compareUint(a, b uint64) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

func compareBool(a, b bool) int {
	if a == b {
		return 0
	}
	if !a {
		return -1
	}
	return 1
}

// compareF64Total orders floats by IEEE-754 total order: negative
// numbers reverse-sorted by bit pattern, positives by bit pattern,
// giving a deterministic order across NaN and signed zero.
func compareF64Total(a, b float64) int {
	ua, ub := totalOrderKey(a), totalOrderKey(b)
	return compareUint(ua, ub)
}

func totalOrderKey(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}
