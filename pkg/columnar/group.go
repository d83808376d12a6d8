package columnar

// EncodeGroup packs a per-row element count as an RLE uint column
// governing how many rows of the inner columns belong to each outer
// row (spec.md §4.2) — used for pred_group, succ_group, and deps_group.
func EncodeGroup(counts []uint64) []byte {
	items := make([]UintItem, len(counts))
	for i, c := range counts {
		items[i] = Present(c)
	}
	return EncodeRLE(items)
}

// DecodeGroup reverses EncodeGroup, returning the per-row counts.
func DecodeGroup(data []byte) ([]uint64, error) {
	items, err := DecodeRLE(data)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, len(items))
	for i, it := range items {
		out[i] = it.V // Group counts are never null.
	}
	return out, nil
}

// Ungroup splits a flat inner slice into per-row slices according to
// counts, in order. len(flat) must equal the sum of counts.
func Ungroup[T any](flat []T, counts []uint64) [][]T {
	out := make([][]T, len(counts))
	pos := 0
	for i, c := range counts {
		out[i] = flat[pos : pos+int(c)]
		pos += int(c)
	}
	return out
}

// Group flattens rows (the inverse of Ungroup) and returns the flat
// slice plus the per-row counts.
func Group[T any](rows [][]T) ([]T, []uint64) {
	counts := make([]uint64, len(rows))
	var flat []T
	for i, r := range rows {
		counts[i] = uint64(len(r))
		flat = append(flat, r...)
	}
	return flat, counts
}
