package columnar

import (
	"github.com/pkg/errors"

	"crdt/internal/leb128"
)

// UintItem is one logical row of a uint64 RLE column: either a present
// value or a null.
type UintItem struct {
	Null bool
	V    uint64
}

func Present(v uint64) UintItem { return UintItem{V: v} }
func Nil() UintItem             { return UintItem{Null: true} }

// EncodeRLE packs items per spec.md §4.2: alternating signed-LEB128
// count + value. A positive count N means "N copies of the next
// value". A negative count means "|count| literal, individually-encoded
// values follow". A zero count is followed by an unsigned run length of
// nulls.
func EncodeRLE(items []UintItem) []byte {
	var buf []byte
	i := 0
	for i < len(items) {
		if items[i].Null {
			j := i
			for j < len(items) && items[j].Null {
				j++
			}
			buf = leb128.PutVarint(buf, 0)
			buf = leb128.PutUvarint(buf, uint64(j-i))
			i = j
			continue
		}

		// Count the repeat run starting at i.
		j := i + 1
		for j < len(items) && !items[j].Null && items[j].V == items[i].V {
			j++
		}
		runLen := j - i
		if runLen >= 2 {
			buf = leb128.PutVarint(buf, int64(runLen))
			buf = leb128.PutUvarint(buf, items[i].V)
			i = j
			continue
		}

		// Otherwise accumulate a literal run: non-null values with no
		// immediate repeat, until we hit null or a repeat worth breaking
		// out for.
		lits := []uint64{items[i].V}
		k := i + 1
		for k < len(items) && !items[k].Null {
			if k+1 < len(items) && !items[k+1].Null && items[k+1].V == items[k].V {
				break
			}
			lits = append(lits, items[k].V)
			k++
		}
		buf = leb128.PutVarint(buf, -int64(len(lits)))
		for _, v := range lits {
			buf = leb128.PutUvarint(buf, v)
		}
		i = k
	}
	return buf
}

// DecodeRLE unpacks a byte stream produced by EncodeRLE.
func DecodeRLE(data []byte) ([]UintItem, error) {
	var out []UintItem
	pos := 0
	for pos < len(data) {
		count, n, err := leb128.GetVarint(data[pos:])
		if err != nil {
			return nil, errors.Wrap(err, "columnar: RLE count")
		}
		pos += n
		switch {
		case count > 0:
			v, n, err := leb128.GetUvarint(data[pos:])
			if err != nil {
				return nil, errors.Wrap(err, "columnar: RLE run value")
			}
			pos += n
			for k := int64(0); k < count; k++ {
				out = append(out, Present(v))
			}
		case count < 0:
			for k := int64(0); k < -count; k++ {
				v, n, err := leb128.GetUvarint(data[pos:])
				if err != nil {
					return nil, errors.Wrap(err, "columnar: RLE literal value")
				}
				pos += n
				out = append(out, Present(v))
			}
		default:
			nullRun, n, err := leb128.GetUvarint(data[pos:])
			if err != nil {
				return nil, errors.Wrap(err, "columnar: RLE null run")
			}
			pos += n
			for k := uint64(0); k < nullRun; k++ {
				out = append(out, Nil())
			}
		}
	}
	return out, nil
}
