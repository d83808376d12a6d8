package columnar

// IntItem is one logical row of a signed-integer Delta column.
type IntItem struct {
	Null bool
	V    int64
}

func PresentInt(v int64) IntItem { return IntItem{V: v} }
func NilInt() IntItem            { return IntItem{Null: true} }

// EncodeDelta packs a monotone (or merely numeric) integer sequence as
// an RLE of consecutive differences from a running absolute value, per
// spec.md §4.2. Nulls don't advance the running absolute and are
// passed through as RLE null runs.
func EncodeDelta(items []IntItem) []byte {
	uitems := make([]UintItem, len(items))
	var abs int64
	for i, it := range items {
		if it.Null {
			uitems[i] = Nil()
			continue
		}
		diff := it.V - abs
		uitems[i] = Present(zigzag(diff))
		abs = it.V
	}
	return EncodeRLE(uitems)
}

// DecodeDelta reverses EncodeDelta.
func DecodeDelta(data []byte) ([]IntItem, error) {
	uitems, err := DecodeRLE(data)
	if err != nil {
		return nil, err
	}
	out := make([]IntItem, len(uitems))
	var abs int64
	for i, u := range uitems {
		if u.Null {
			out[i] = NilInt()
			continue
		}
		abs += unzigzag(u.V)
		out[i] = PresentInt(abs)
	}
	return out, nil
}

// zigzag/unzigzag map a signed difference onto the unsigned domain the
// RLE run-length coder operates on, same transform leb128.PutVarint
// uses for top-level signed values.
func zigzag(v int64) uint64   { return uint64((v << 1) ^ (v >> 63)) }
func unzigzag(u uint64) int64 { return int64(u>>1) ^ -int64(u&1) }
