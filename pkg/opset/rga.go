package opset

import (
	"crdt/pkg/columnar"
	"crdt/pkg/op"
)

// seqEntry is one position in a List/Text object's element order: the
// element itself and the key it was inserted after (its "origin").
type seqEntry struct {
	Elem   op.ElemId
	Origin op.ElemId
}

// indexOfElem returns e's position in order, or -1 for Head or an
// element not present (linear scan). The by-visible-index lookups over
// visibleBits (VisibleElemAt, ListRange) also flatten it and scan
// linearly; only Length reads the slab summaries.
func (o *objectState) indexOfElem(e op.ElemId) int {
	if e.IsHead() {
		return -1
	}
	for i := range o.order {
		if o.order[i].Elem.OpId == e.OpId {
			return i
		}
	}
	return -1
}

// insertElem places newElem immediately after `after`, among any
// siblings also inserted after `after`, ordered by descending OpId
// (spec.md §4.1.3/4.3.2 step 4). This is the standard RGA/YATA
// integration rule: scanning right from `after`, a direct sibling with a
// larger OpId stays ahead of newElem; a deeper descendant (inserted
// after one of those siblings, or after one of theirs) is skipped
// unconditionally; encountering an element whose origin lies to the
// left of `after` means we've left `after`'s subtree. "Larger" is
// resolved through actors (counter first, then actor bytes), not raw
// OpId index order, so two replicas that interned the same actors in
// different orders still land concurrent siblings in the same place
// (spec.md §3.1, §8 convergence).
func (o *objectState) insertElem(after op.ElemId, newElem op.ElemId) {
	leftPos := o.indexOfElem(after)
	pos := leftPos + 1
scan:
	for pos < len(o.order) {
		originPos := o.indexOfElem(o.order[pos].Origin)
		switch {
		case originPos < leftPos:
			break scan // exited after's subtree
		case originPos == leftPos:
			if newElem.OpId.LessWithCache(o.order[pos].Elem.OpId, o.actors) {
				pos++
				continue scan
			}
			break scan // new is newer than this sibling: insert before it
		default:
			pos++ // deeper descendant of a sibling: always skip
		}
	}
	entry := seqEntry{Elem: newElem, Origin: after}
	o.order = append(o.order, seqEntry{})
	copy(o.order[pos+1:], o.order[pos:])
	o.order[pos] = entry

	if o.visibleBits != nil {
		o.visibleBits.Splice(pos, 0, []columnar.UintItem{columnar.Present(1)})
	}
}

// refreshVisibility recomputes whether the element addressed by key
// (the base op that created it, plus any overwrite ops sharing that key)
// currently has a visible candidate, and updates the slab bit at its
// order position. A no-op for map keys and non-sequence objects.
func (s *OpSet) refreshVisibility(objID op.ObjId, key op.Key, target *objectState) {
	if target.visibleBits == nil || !key.IsSeq() {
		return
	}
	pos := target.indexOfElem(key.Elem)
	if pos < 0 {
		return
	}

	visible := false
	if baseRow, ok := s.byID[key.Elem.OpId]; ok && isOccupant(baseRow) && CurrentVisible(baseRow) {
		visible = true
	}
	if !visible {
		for _, r := range target.groupRows(key) {
			if isOccupant(r) && CurrentVisible(r) {
				visible = true
				break
			}
		}
	}

	bit := uint64(0)
	if visible {
		bit = 1
	}
	target.visibleBits.Splice(pos, 1, []columnar.UintItem{columnar.Present(bit)})
}
