package opset

import "crdt/pkg/changegraph"

// CurrentVisible reports whether row is visible at the document's
// current frontier. Because the OpSet only ever holds ops that have
// actually been applied, every stored op is by definition an ancestor
// of the current heads — so "visible at current heads" reduces to
// spec.md §4.3.3's second clause alone: no non-Increment successor.
func CurrentVisible(row *Row) bool {
	for _, su := range row.Succ {
		if !su.IsIncrement {
			return false
		}
	}
	return true
}

// Visible implements spec.md §4.3.3 at an arbitrary historical clock:
// row's own op must be included in clock, and no non-Increment
// successor may also be included.
func Visible(row *Row, clock changegraph.Clock) bool {
	if !clock.Includes(row.Op.ID.Actor, row.Op.ID.Counter) {
		return false
	}
	for _, su := range row.Succ {
		if su.IsIncrement {
			continue
		}
		if clock.Includes(su.ID.Actor, su.ID.Counter) {
			return false
		}
	}
	return true
}
