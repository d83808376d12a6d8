package columnar

// Raw is an opaque blob carried verbatim (spec.md §4.2's Raw encoding).
// The concatenated Value bytes behind a ValueMeta column, message text,
// and extra_bytes tails are written as plain byte slices, not through
// this type or EncodeRaw.
type Raw struct {
	Data []byte
}

// EncodeRaw returns a copy of data; Raw columns carry their own length
// at the chunk-body level (spec.md's length-prefixed body), so the
// column body itself is the bytes unmodified.
func EncodeRaw(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	return out
}

// DecodeRaw is the identity inverse of EncodeRaw.
func DecodeRaw(data []byte) []byte {
	return EncodeRaw(data)
}
