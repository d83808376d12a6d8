package columnar

// Summary is the precomputed aggregate spec.md §4.2 requires each slab
// carry: how many logical rows it holds, the running sum of its
// values (the "accumulator", used for e.g. text-length-at-index), and
// its last absolute value (the "abs", used to resume a Delta column's
// running total at a slab boundary).
type Summary struct {
	Len       int
	Accum     uint64
	Abs       uint64
}

// targetSlabItems bounds a slab's logical row count. Slabs are rebuilt
// from scratch around a splice point rather than edited byte-for-byte.
// A point lookup scans the slab summaries in order, so it costs
// O(#slabs) plus the slab's own O(1) indexing.
const targetSlabItems = 512

// Slab is one bounded sub-range of a UintItem column.
type Slab struct {
	Items   []UintItem
	Summary Summary
}

func newSlab(items []UintItem) Slab {
	s := Slab{Items: items}
	for _, it := range items {
		s.Summary.Len++
		if !it.Null {
			s.Summary.Accum += it.V
			s.Summary.Abs = it.V
		}
	}
	return s
}

// SlabbedColumn is a column split into bounded slabs with cached
// summaries. Index lookup walks the slab summaries linearly; it does not
// binary-search them.
type SlabbedColumn struct {
	Slabs []Slab
}

// NewSlabbedColumn builds a slabbed column from a flat item sequence.
func NewSlabbedColumn(items []UintItem) *SlabbedColumn {
	sc := &SlabbedColumn{}
	for i := 0; i < len(items); i += targetSlabItems {
		end := i + targetSlabItems
		if end > len(items) {
			end = len(items)
		}
		sc.Slabs = append(sc.Slabs, newSlab(items[i:end]))
	}
	if len(sc.Slabs) == 0 {
		sc.Slabs = []Slab{newSlab(nil)}
	}
	return sc
}

// Len returns the total logical row count across all slabs.
func (sc *SlabbedColumn) Len() int {
	n := 0
	for _, s := range sc.Slabs {
		n += s.Summary.Len
	}
	return n
}

// Flatten decodes the whole column back into one item slice.
func (sc *SlabbedColumn) Flatten() []UintItem {
	var out []UintItem
	for _, s := range sc.Slabs {
		out = append(out, s.Items...)
	}
	return out
}

// locate returns the slab index containing logical row index, and the
// row's offset within that slab.
func (sc *SlabbedColumn) locate(index int) (slabIdx, offset int) {
	for i, s := range sc.Slabs {
		if index < s.Summary.Len {
			return i, index
		}
		index -= s.Summary.Len
	}
	last := len(sc.Slabs) - 1
	return last, sc.Slabs[last].Summary.Len
}

// At returns the item at logical row index.
func (sc *SlabbedColumn) At(index int) UintItem {
	i, off := sc.locate(index)
	return sc.Slabs[i].Items[off]
}

// Splice replaces the deleteCount logical rows starting at index with
// newValues. This is the column codec's splice contract (spec.md §4.2,
// tested by property 7 in spec.md §8): iterating the result must equal
// decoding, mutating, and re-encoding the whole column.
//
// Slabs before the one containing index keep their cached Summary and
// are not re-walked. Every slab from that one to the end of the column
// is flattened and re-cut into fresh targetSlabItems-sized slabs, so the
// work is proportional to the rows from the splice point to the end of
// the column, not to the spliced region alone.
func (sc *SlabbedColumn) Splice(index, deleteCount int, newValues []UintItem) {
	startSlab, _ := sc.locate(index)

	var prefix []UintItem
	prefixLen := 0
	for i := 0; i < startSlab; i++ {
		prefixLen += sc.Slabs[i].Summary.Len
	}

	var rest []UintItem
	for i := startSlab; i < len(sc.Slabs); i++ {
		rest = append(rest, sc.Slabs[i].Items...)
	}
	localIndex := index - prefixLen

	tail := append([]UintItem(nil), rest[localIndex+deleteCount:]...)
	head := append([]UintItem(nil), rest[:localIndex]...)
	merged := append(head, newValues...)
	merged = append(merged, tail...)

	rebuilt := NewSlabbedColumn(merged).Slabs
	prefix = sc.Slabs[:startSlab]
	sc.Slabs = append(append([]Slab(nil), prefix...), rebuilt...)
}

// Encode serializes the column to its RLE wire form (flattening slab
// boundaries — slabs are an in-memory access structure only, not part
// of the wire format).
func (sc *SlabbedColumn) Encode() []byte {
	return EncodeRLE(sc.Flatten())
}

// DecodeSlabbed parses an RLE byte stream directly into a SlabbedColumn.
func DecodeSlabbed(data []byte) (*SlabbedColumn, error) {
	items, err := DecodeRLE(data)
	if err != nil {
		return nil, err
	}
	return NewSlabbedColumn(items), nil
}
