// Package columnar implements the typed column codecs of spec.md §4.2:
// RLE, Delta, Boolean, Raw, ValueMeta+Value, and Group columns, packed
// into ColumnSpec-addressed column sets with optional DEFLATE
// compression and slab-based splice.
//
// The header-and-dispatch shape here is the same one the teacher uses
// in pkg/record (a typed header followed by packed bodies) and
// pkg/dbfile (fixed-field binary structures with explicit validation).
package columnar

import (
	"sort"

	"github.com/pkg/errors"
)

// ColType identifies a column's encoding.
type ColType uint8

const (
	ColTypeRLE ColType = iota
	ColTypeDelta
	ColTypeBoolean
	ColTypeRaw
	ColTypeValueMeta
	ColTypeValue
	ColTypeGroup
)

// ColumnSpec packs a column id, its type, and a deflate flag into 32
// bits: bits [0:16) id, [16:24) type, bit 24 deflate flag. This mirrors
// the teacher's practice (pkg/dbfile header fields) of packing several
// small fixed-width fields into one word rather than a struct with
// padding.
type ColumnSpec uint32

// NewColumnSpec builds a ColumnSpec from its parts.
func NewColumnSpec(id uint16, typ ColType, deflate bool) ColumnSpec {
	v := uint32(id) | uint32(typ)<<16
	if deflate {
		v |= 1 << 24
	}
	return ColumnSpec(v)
}

func (c ColumnSpec) ID() uint16    { return uint16(c) }
func (c ColumnSpec) Type() ColType { return ColType((c >> 16) & 0xff) }
func (c ColumnSpec) Deflate() bool { return c&(1<<24) != 0 }

// WithDeflate returns a copy of the spec with the deflate flag set.
func (c ColumnSpec) WithDeflate() ColumnSpec { return c | (1 << 24) }

// Less orders ColumnSpecs by id, then by type — the canonical order a
// column set must be emitted and checked in (spec.md §4.2 invariants).
func (c ColumnSpec) Less(o ColumnSpec) bool {
	if c.ID() != o.ID() {
		return c.ID() < o.ID()
	}
	return c.Type() < o.Type()
}

// ErrColumnOrder is returned when a decoded column set is out of
// canonical order or repeats an (id, type) pair. The deflate flag is not
// checked here; a flagged body that fails to inflate surfaces as an
// inflate error from DecodeColumnSet instead.
var ErrColumnOrder = errors.New("columnar: columns out of canonical order")

// RawColumns is a decoded (spec, bytes) column set as it appears framed
// in a chunk body (spec.md §6.2/§6.3's "RawColumns").
type RawColumn struct {
	Spec ColumnSpec
	Data []byte
}

// ValidateOrder checks that cols is sorted ascending by ColumnSpec with
// no duplicate (id, type) pairs, per spec.md §4.2's decoder invariant.
func ValidateOrder(cols []RawColumn) error {
	for i := 1; i < len(cols); i++ {
		if !cols[i-1].Spec.Less(cols[i].Spec) {
			return errors.Wrapf(ErrColumnOrder, "column %d (%v) does not sort after column %d (%v)",
				i, cols[i].Spec, i-1, cols[i-1].Spec)
		}
	}
	return nil
}

// SortColumns sorts a RawColumn slice into canonical order in place.
func SortColumns(cols []RawColumn) {
	sort.Slice(cols, func(i, j int) bool { return cols[i].Spec.Less(cols[j].Spec) })
}
