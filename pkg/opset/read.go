package opset

import (
	"sort"

	"github.com/pkg/errors"

	"crdt/pkg/changegraph"
	"crdt/pkg/crdterr"
	"crdt/pkg/op"
)

// Value is one materialized result of a Get/GetAll/ListRange query: a
// scalar, or a reference to a composite object, plus whether other
// concurrent writers left a conflicting candidate behind at the same
// spot (spec.md §4.3.1's "conflict set").
type Value struct {
	Scalar   op.ScalarValue
	Obj      op.ObjId
	IsObject bool
	Conflict bool
}

// MarkSpan is one materialized rich-text annotation range, expressed in
// visible-element positions (spec.md §4.1.5).
type MarkSpan struct {
	Name  string
	Value op.ScalarValue
	Start int
	End   int // exclusive; equals the object's Length() if still open
}

// candidatesAt returns every row that could be the current occupant of
// (obj, key): for a sequence element this is the original insert
// (found via the global id index, since an overwrite's own Key differs
// from the element's insertion Key) unioned with every row grouped
// under that element's overwrite key.
func (s *OpSet) candidatesAt(obj op.ObjId, key op.Key) []*Row {
	target, ok := s.objects[obj]
	if !ok {
		return nil
	}
	var out []*Row
	if key.IsSeq() {
		if base, ok := s.byID[key.Elem.OpId]; ok {
			out = append(out, base)
		}
	}
	out = append(out, target.groupRows(key)...)
	return out
}

func filterVisible(rows []*Row, visible func(*Row) bool) []*Row {
	out := make([]*Row, 0, len(rows))
	for _, r := range rows {
		if visible(r) {
			out = append(out, r)
		}
	}
	return out
}

// occupantVisible is CurrentVisible restricted to rows that can
// themselves be "the value" at a slot — a Delete or Increment with no
// successor of its own is trivially CurrentVisible, but never denotes
// occupied content (see isOccupant).
func occupantVisible(r *Row) bool {
	return isOccupant(r) && CurrentVisible(r)
}

// winner picks the single value a non-conflict-aware reader sees: the
// candidate with the greatest OpId, compared counter-first then by
// actor bytes (spec.md §4.3.1, last-writer-wins tie-break among
// concurrent puts) — resolved through s.actors so two replicas that
// interned the tied actors in different orders still pick the same
// winner (spec.md §3.1, §8 convergence).
func (s *OpSet) winner(rows []*Row) *Row {
	if len(rows) == 0 {
		return nil
	}
	best := rows[0]
	for _, r := range rows[1:] {
		if best.Op.ID.LessWithCache(r.Op.ID, s.actors) {
			best = r
		}
	}
	return best
}

// sumIncrements totals every currently-visible Increment successor of
// row, for materializing a Counter's value (spec.md §4.1.4).
func (s *OpSet) sumIncrements(row *Row) int64 {
	var total int64
	for _, su := range row.Succ {
		if !su.IsIncrement {
			continue
		}
		if incRow, ok := s.byID[su.ID]; ok {
			total += incRow.Op.Action.IncBy
		}
	}
	return total
}

func valueFromRow(row *Row, conflict bool, sum func(*Row) int64) Value {
	if row.Op.Action.IsMake() {
		return Value{Obj: op.ObjId{OpId: row.Op.ID}, IsObject: true, Conflict: conflict}
	}
	v := row.Op.Action.Value
	if v.Kind() == op.KindCounter {
		v = v.WithIncrement(sum(row))
	}
	return Value{Scalar: v, Conflict: conflict}
}

// Get returns the currently visible value at (obj, key), resolving
// conflicts by last-writer-wins while reporting whether a conflict
// existed. ok is false when nothing is currently visible there.
func (s *OpSet) Get(obj op.ObjId, key op.Key) (Value, bool, error) {
	if _, ok := s.objects[obj]; !ok {
		return Value{}, false, errors.Wrapf(crdterr.ErrInvalidObjectId, "opset: get on unknown object %v", obj)
	}
	rows := filterVisible(s.candidatesAt(obj, key), occupantVisible)
	w := s.winner(rows)
	if w == nil {
		return Value{}, false, nil
	}
	return valueFromRow(w, len(rows) > 1, s.sumIncrements), true, nil
}

// VisibleOpIds returns the op ids of every currently visible candidate
// at (obj, key), sorted ascending — the Pred set a new op overwriting
// this slot must carry (spec.md §4.3.2 step 2).
func (s *OpSet) VisibleOpIds(obj op.ObjId, key op.Key) ([]op.OpId, error) {
	if _, ok := s.objects[obj]; !ok {
		return nil, errors.Wrapf(crdterr.ErrInvalidObjectId, "opset: visible-op-ids on unknown object %v", obj)
	}
	rows := filterVisible(s.candidatesAt(obj, key), occupantVisible)
	out := make([]op.OpId, len(rows))
	for i, r := range rows {
		out[i] = r.Op.ID
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LessWithCache(out[j], s.actors) })
	return out, nil
}

// GetAt is Get evaluated against a historical clock rather than the
// current frontier.
func (s *OpSet) GetAt(obj op.ObjId, key op.Key, clock changegraph.Clock) (Value, bool, error) {
	if _, ok := s.objects[obj]; !ok {
		return Value{}, false, errors.Wrapf(crdterr.ErrInvalidObjectId, "opset: get on unknown object %v", obj)
	}
	visible := func(r *Row) bool { return isOccupant(r) && Visible(r, clock) }
	rows := filterVisible(s.candidatesAt(obj, key), visible)
	w := s.winner(rows)
	if w == nil {
		return Value{}, false, nil
	}
	sum := func(row *Row) int64 {
		var total int64
		for _, su := range row.Succ {
			if !su.IsIncrement {
				continue
			}
			if incRow, ok := s.byID[su.ID]; ok && clock.Includes(incRow.Op.ID.Actor, incRow.Op.ID.Counter) {
				total += incRow.Op.Action.IncBy
			}
		}
		return total
	}
	return valueFromRow(w, len(rows) > 1, sum), true, nil
}

// GetAll returns every currently visible candidate at (obj, key), in
// OpId order — the full conflict set spec.md §4.3.1 describes.
func (s *OpSet) GetAll(obj op.ObjId, key op.Key) ([]Value, error) {
	if _, ok := s.objects[obj]; !ok {
		return nil, errors.Wrapf(crdterr.ErrInvalidObjectId, "opset: get-all on unknown object %v", obj)
	}
	rows := filterVisible(s.candidatesAt(obj, key), occupantVisible)
	out := make([]Value, 0, len(rows))
	conflict := len(rows) > 1
	for _, r := range rows {
		out = append(out, valueFromRow(r, conflict, s.sumIncrements))
	}
	return out, nil
}

// GetAllAt is GetAll evaluated against a historical clock rather than
// the current frontier.
func (s *OpSet) GetAllAt(obj op.ObjId, key op.Key, clock changegraph.Clock) ([]Value, error) {
	if _, ok := s.objects[obj]; !ok {
		return nil, errors.Wrapf(crdterr.ErrInvalidObjectId, "opset: get-all on unknown object %v", obj)
	}
	visible := func(r *Row) bool { return isOccupant(r) && Visible(r, clock) }
	rows := filterVisible(s.candidatesAt(obj, key), visible)
	out := make([]Value, 0, len(rows))
	conflict := len(rows) > 1
	sum := func(row *Row) int64 {
		var total int64
		for _, su := range row.Succ {
			if !su.IsIncrement {
				continue
			}
			if incRow, ok := s.byID[su.ID]; ok && clock.Includes(incRow.Op.ID.Actor, incRow.Op.ID.Counter) {
				total += incRow.Op.Action.IncBy
			}
		}
		return total
	}
	for _, r := range rows {
		out = append(out, valueFromRow(r, conflict, sum))
	}
	return out, nil
}

// Keys returns the currently visible property names of a map (or
// table) object.
func (s *OpSet) Keys(obj op.ObjId) ([]op.Key, error) {
	target, ok := s.objects[obj]
	if !ok {
		return nil, errors.Wrapf(crdterr.ErrInvalidObjectId, "opset: keys on unknown object %v", obj)
	}
	if target.meta != op.ObjMap && target.meta != op.ObjTable {
		return nil, errors.Wrapf(crdterr.ErrInvalidChangeRequest, "opset: keys on non-map object %v", obj)
	}
	var out []op.Key
	for key, rows := range target.groupsSnapshot() {
		if len(filterVisible(rows, occupantVisible)) > 0 {
			out = append(out, key)
		}
	}
	return out, nil
}

// Length returns the number of currently visible elements in a List or
// Text object, read directly off the slab accumulator (spec.md §4.3.4)
// rather than rescanning every element.
func (s *OpSet) Length(obj op.ObjId) (int, error) {
	target, ok := s.objects[obj]
	if !ok {
		return 0, errors.Wrapf(crdterr.ErrInvalidObjectId, "opset: length on unknown object %v", obj)
	}
	if target.visibleBits == nil {
		return 0, errors.Wrapf(crdterr.ErrInvalidChangeRequest, "opset: length on non-sequence object %v", obj)
	}
	var total uint64
	for _, sl := range target.visibleBits.Slabs {
		total += sl.Summary.Accum
	}
	return int(total), nil
}

// ListRange returns the values of up to count currently visible
// elements starting at the start'th visible position.
func (s *OpSet) ListRange(obj op.ObjId, start, count int) ([]Value, error) {
	target, ok := s.objects[obj]
	if !ok {
		return nil, errors.Wrapf(crdterr.ErrInvalidObjectId, "opset: list-range on unknown object %v", obj)
	}
	if target.visibleBits == nil {
		return nil, errors.Wrapf(crdterr.ErrInvalidChangeRequest, "opset: list-range on non-sequence object %v", obj)
	}

	bits := target.visibleBits.Flatten()
	out := make([]Value, 0, count)
	visIdx := 0
	for i, entry := range target.order {
		if i >= len(bits) || bits[i].V == 0 {
			continue
		}
		if visIdx >= start && len(out) < count {
			rows := filterVisible(s.candidatesAt(obj, op.SeqKey(entry.Elem)), occupantVisible)
			if w := s.winner(rows); w != nil {
				out = append(out, valueFromRow(w, len(rows) > 1, s.sumIncrements))
			}
		}
		visIdx++
		if len(out) >= count {
			break
		}
	}
	return out, nil
}

// Text materializes a Text object's currently visible characters into
// a single string, in RGA order.
func (s *OpSet) Text(obj op.ObjId) (string, error) {
	target, ok := s.objects[obj]
	if !ok {
		return "", errors.Wrapf(crdterr.ErrInvalidObjectId, "opset: text on unknown object %v", obj)
	}
	if target.meta != op.ObjText {
		return "", errors.Wrapf(crdterr.ErrInvalidChangeRequest, "opset: text on non-text object %v", obj)
	}
	n, err := s.Length(obj)
	if err != nil {
		return "", err
	}
	vals, err := s.ListRange(obj, 0, n)
	if err != nil {
		return "", err
	}
	buf := make([]byte, 0, n)
	for _, v := range vals {
		if !v.IsObject && v.Scalar.Kind() == op.KindStr {
			buf = append(buf, v.Scalar.AsStr()...)
		}
	}
	return string(buf), nil
}

// Marks returns every currently open or closed annotation span over a
// List/Text object, in visible-element position order (spec.md
// §4.1.5). Like an ordinary character, a MarkBegin/MarkEnd op occupies
// its own zero-width element in the RGA order (this mirrors the
// automerge lineage this package is grounded on, where mark ops are
// visible-or-mark sequence entries rather than mutations of some other
// op). A MarkEnd carries no name of its own, so it closes the
// innermost still-open span — the usual bracket-matching rule for
// nested annotation ranges. A MarkBegin without a matching visible
// MarkEnd stays open through the end of the object.
func (s *OpSet) Marks(obj op.ObjId) ([]MarkSpan, error) {
	target, ok := s.objects[obj]
	if !ok {
		return nil, errors.Wrapf(crdterr.ErrInvalidObjectId, "opset: marks on unknown object %v", obj)
	}
	if target.visibleBits == nil {
		return nil, errors.Wrapf(crdterr.ErrInvalidChangeRequest, "opset: marks on non-sequence object %v", obj)
	}

	length, err := s.Length(obj)
	if err != nil {
		return nil, err
	}

	bits := target.visibleBits.Flatten()
	var spans []MarkSpan
	var openStack []int // indices into spans, innermost last
	visIdx := 0
	for i, entry := range target.order {
		if i >= len(bits) || bits[i].V == 0 {
			continue
		}
		base, ok := s.byID[entry.Elem.OpId]
		if ok && CurrentVisible(base) {
			switch {
			case base.Op.Action.IsMarkBegin():
				spans = append(spans, MarkSpan{
					Name:  base.Op.Action.Mark.Name,
					Value: base.Op.Action.Mark.Value,
					Start: visIdx,
					End:   length,
				})
				openStack = append(openStack, len(spans)-1)
			case base.Op.Action.IsMarkEnd():
				if n := len(openStack); n > 0 {
					spans[openStack[n-1]].End = visIdx
					openStack = openStack[:n-1]
				}
			}
		}
		visIdx++
	}
	return spans, nil
}

// VisibleElemAt returns the ElemId of the element currently at the
// idx'th visible position of a List/Text object — the address a
// caller's by-index Get/Delete/PutSeq/Mark resolves to before building
// the underlying op.Key.
func (s *OpSet) VisibleElemAt(obj op.ObjId, idx int) (op.ElemId, error) {
	target, ok := s.objects[obj]
	if !ok {
		return op.ElemId{}, errors.Wrapf(crdterr.ErrInvalidObjectId, "opset: elem-at on unknown object %v", obj)
	}
	if target.visibleBits == nil {
		return op.ElemId{}, errors.Wrapf(crdterr.ErrInvalidChangeRequest, "opset: elem-at on non-sequence object %v", obj)
	}
	if idx < 0 {
		return op.ElemId{}, errors.Wrapf(crdterr.ErrInvalidChangeRequest, "opset: elem-at negative index %d", idx)
	}

	bits := target.visibleBits.Flatten()
	visIdx := 0
	for i, entry := range target.order {
		if i >= len(bits) || bits[i].V == 0 {
			continue
		}
		if visIdx == idx {
			return entry.Elem, nil
		}
		visIdx++
	}
	return op.ElemId{}, errors.Wrapf(crdterr.ErrInvalidChangeRequest, "opset: index %d out of range (length %d)", idx, visIdx)
}

// VisibleIndexOf returns the visible position of elem within a
// List/Text object, the inverse of VisibleElemAt — used to translate an
// op addressed by ElemId back into the by-index form an observer patch
// reports. found is false if elem is not currently visible (or not
// present at all).
func (s *OpSet) VisibleIndexOf(obj op.ObjId, elem op.ElemId) (idx int, found bool, err error) {
	target, ok := s.objects[obj]
	if !ok {
		return 0, false, errors.Wrapf(crdterr.ErrInvalidObjectId, "opset: visible-index-of on unknown object %v", obj)
	}
	if target.visibleBits == nil {
		return 0, false, errors.Wrapf(crdterr.ErrInvalidChangeRequest, "opset: visible-index-of on non-sequence object %v", obj)
	}
	bits := target.visibleBits.Flatten()
	visIdx := 0
	for i, entry := range target.order {
		if i >= len(bits) || bits[i].V == 0 {
			continue
		}
		if entry.Elem.OpId == elem.OpId {
			return visIdx, true, nil
		}
		visIdx++
	}
	return 0, false, nil
}

// InsertionPoint returns the ElemId a new element inserted at visible
// position idx must be placed after: op.Head (the zero ElemId) for
// idx == 0, otherwise the element currently at idx-1. idx == Length(obj)
// is valid and means "insert at the end".
func (s *OpSet) InsertionPoint(obj op.ObjId, idx int) (op.ElemId, error) {
	if idx == 0 {
		return op.ElemId{}, nil
	}
	return s.VisibleElemAt(obj, idx-1)
}

// Owner returns the (object, key) an object was created at — the Make
// op's own addressing — or ok == false if id names an op this OpSet
// never applied. The document root has no owner.
func (s *OpSet) Owner(id op.ObjId) (obj op.ObjId, key op.Key, ok bool) {
	row, found := s.byID[id.OpId]
	if !found {
		return op.ObjId{}, op.Key{}, false
	}
	return row.Op.Obj, row.Op.Key, true
}

// groupsSnapshot returns every (key -> rows) group currently stored for
// an object, for callers that need to enumerate all keys.
func (o *objectState) groupsSnapshot() map[op.Key][]*Row {
	out := make(map[op.Key][]*Row, len(o.groups))
	for key := range o.groups {
		out[key] = o.groupRows(key)
	}
	return out
}
