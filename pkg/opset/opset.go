// Package opset implements spec.md §4.3: the column-oriented table that
// holds every operation ever applied, threads pred→succ, maintains
// per-object RGA order for sequences, and answers visibility queries at
// either the current frontier or an arbitrary historical clock.
//
// Grounded on the teacher's pkg/mvcc (IsVersionVisible/FindVisibleVersion
// map almost directly onto op visibility; version chains ≈ per-key
// conflict sets) and pkg/cowbtree (ordered, versioned node storage,
// adapted here to an in-memory per-object index using
// github.com/google/btree instead of hand-rolled CoW nodes, since this
// module has no concurrent-reader requirement — see DESIGN.md).
package opset

import (
	"sort"

	"github.com/google/btree"
	"github.com/pkg/errors"

	"crdt/pkg/changegraph"
	"crdt/pkg/columnar"
	"crdt/pkg/crdterr"
	"crdt/pkg/op"
)

// succEntry is one entry in a Row's succ list: the superseding op's id,
// and whether that superseding op is an Increment (which never kills a
// Counter's visibility, per spec.md §4.3.3).
type succEntry struct {
	ID          op.OpId
	IsIncrement bool
}

// Row is one stored operation plus the ops that supersede it.
type Row struct {
	Op   op.Op
	Succ []succEntry // sorted ascending by OpId
}

// btreeItem orders Rows within one (obj, key) group by their op's OpId,
// the ordering spec.md §4.3.1 requires ("locate (obj, key) slice;
// compute the slot where op.id sorts"), resolved through actors so two
// replicas that interned the same actors in different orders still
// agree on the slot (spec.md §3.1).
type btreeItem struct {
	id     op.OpId
	row    *Row
	actors *op.ActorCache
}

func (a btreeItem) Less(b btree.Item) bool {
	return a.id.LessWithCache(b.(btreeItem).id, a.actors)
}

// EventKind discriminates the visibility-change notices Apply reports,
// consumed by pkg/patch to build the observer stream (spec.md §4.6).
type EventKind uint8

const (
	EventPut EventKind = iota
	EventInsert
	EventDelete
	EventIncrement
	EventMark
	EventConflict
)

// Event is one visibility-relevant notice Apply produces for an op.
type Event struct {
	Kind EventKind
	Obj  op.ObjId
	Key  op.Key
	Op   op.Op
}

// objectState is one composite object's storage: its type, its
// (key)-grouped op index, and — for List/Text objects — the RGA-ordered element
// sequence and a slab-backed "currently visible" bitmap over it.
type objectState struct {
	meta op.ObjType

	groups map[op.Key]*btree.BTree // key -> ordered Rows
	actors *op.ActorCache

	order       []seqEntry
	visibleBits *columnar.SlabbedColumn // parallel to order; 1 = has a currently-visible candidate
}

func newObjectState(t op.ObjType, actors *op.ActorCache) *objectState {
	os := &objectState{meta: t, groups: make(map[op.Key]*btree.BTree), actors: actors}
	if t == op.ObjList || t == op.ObjText {
		os.visibleBits = columnar.NewSlabbedColumn(nil)
	}
	return os
}

func (o *objectState) groupRows(key op.Key) []*Row {
	bt, ok := o.groups[key]
	if !ok {
		return nil
	}
	out := make([]*Row, 0, bt.Len())
	bt.Ascend(func(it btree.Item) bool {
		out = append(out, it.(btreeItem).row)
		return true
	})
	return out
}

func (o *objectState) insertRow(key op.Key, row *Row) {
	bt, ok := o.groups[key]
	if !ok {
		bt = btree.New(16)
		o.groups[key] = bt
	}
	bt.ReplaceOrInsert(btreeItem{id: row.Op.ID, row: row, actors: o.actors})
}

// OpSet holds all operations applied to a document so far.
type OpSet struct {
	objects map[op.ObjId]*objectState
	byID    map[op.OpId]*Row
	actors  *op.ActorCache
}

// New returns an OpSet with the document root map pre-registered.
// actors is the document's actor-interning cache — every OpId this
// OpSet ever sees must have its Actor field resolvable against it, so
// that conflict winners, RGA sibling order, and the row order AllRows
// hands to Save agree across any two replicas holding the same ops
// (spec.md §3.1, §8 convergence). Pass nil only for OpIds that are
// never compared across a merge (e.g. throwaway test fixtures); New
// still works, it just falls back to raw index comparison.
func New(actors *op.ActorCache) *OpSet {
	s := &OpSet{
		objects: make(map[op.ObjId]*objectState),
		byID:    make(map[op.OpId]*Row),
		actors:  actors,
	}
	s.objects[op.RootObj] = newObjectState(op.ObjMap, actors)
	return s
}

// AllRows returns every row ever applied, sorted ascending by OpId.
// This is the OpSet's canonical row order for whole-document
// serialization (spec.md §6.3): since a row's Key, or an inserted
// element's origin, always names an op with a strictly smaller-or-equal
// OpId (an op can only reference what already existed when it was
// created), reconstructing rows in this order via LoadOp never looks up
// an object or element before it has been created.
func (s *OpSet) AllRows() []*Row {
	rows := make([]*Row, 0, len(s.byID))
	for _, r := range s.byID {
		rows = append(rows, r)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Op.ID.LessWithCache(rows[j].Op.ID, s.actors) })
	return rows
}

// LoadOp reconstructs one stored row directly from a whole-document
// chunk (spec.md §6.3), where each row already carries its complete
// succ list (unlike a Change's pred-based wire form — see
// pkg/change/opcolumns.go). isIncrement reports whether a given OpId
// names an Increment op; callers building the full load set should
// precompute it from every op's action before calling LoadOp, since a
// row's succ entries may name ops sorted after it.
func (s *OpSet) LoadOp(o op.Op, succ []op.OpId, isIncrement func(op.OpId) bool) error {
	target, ok := s.objects[o.Obj]
	if !ok {
		return errors.Wrapf(crdterr.ErrInvalidObjectId, "opset: load op references unknown object %v", o.Obj)
	}

	succEntries := make([]succEntry, len(succ))
	for i, id := range succ {
		succEntries[i] = succEntry{ID: id, IsIncrement: isIncrement(id)}
	}
	sort.Slice(succEntries, func(i, j int) bool {
		return succEntries[i].ID.LessWithCache(succEntries[j].ID, s.actors)
	})

	row := &Row{Op: o, Succ: succEntries}
	target.insertRow(o.Key, row)
	s.byID[o.ID] = row

	if o.Action.IsMake() {
		newObj := op.ObjId{OpId: o.ID}
		if _, exists := s.objects[newObj]; exists {
			return errors.Wrapf(crdterr.ErrInvalidChangeRequest, "opset: object %v already exists", newObj)
		}
		s.objects[newObj] = newObjectState(o.Action.MakeType, s.actors)
	}

	refreshKey := o.Key
	if o.Insert {
		if target.meta != op.ObjList && target.meta != op.ObjText {
			return errors.Wrapf(crdterr.ErrInvalidChangeRequest, "opset: insert on non-sequence object %v", o.Obj)
		}
		target.insertElem(o.Key.Elem, o.Elem())
		refreshKey = op.SeqKey(o.Elem())
	}
	s.refreshVisibility(o.Obj, refreshKey, target)
	return nil
}

// ObjectType returns the type of a previously-made object.
func (s *OpSet) ObjectType(id op.ObjId) (op.ObjType, bool) {
	st, ok := s.objects[id]
	if !ok {
		return 0, false
	}
	return st.meta, true
}

// Apply implements spec.md §4.3.2 for a single op, returning the
// visibility-relevant events it produced.
func (s *OpSet) Apply(o op.Op) ([]Event, error) {
	target, ok := s.objects[o.Obj]
	if !ok {
		return nil, errors.Wrapf(crdterr.ErrInvalidObjectId, "opset: apply to unknown object %v", o.Obj)
	}

	row := &Row{Op: o}
	target.insertRow(o.Key, row)
	s.byID[o.ID] = row

	op.SortPred(o.Pred)
	for _, p := range o.Pred {
		predRow, ok := s.byID[p]
		if !ok {
			return nil, errors.Wrapf(crdterr.ErrInvalidOpId, "opset: pred %v not found", p)
		}
		predRow.Succ = s.insertSucc(predRow.Succ, succEntry{ID: o.ID, IsIncrement: o.Action.IsIncrement()})
	}

	if o.Action.IsMake() {
		newObj := op.ObjId{OpId: o.ID}
		if _, exists := s.objects[newObj]; exists {
			return nil, errors.Wrapf(crdterr.ErrInvalidChangeRequest, "opset: object %v already exists", newObj)
		}
		s.objects[newObj] = newObjectState(o.Action.MakeType, s.actors)
	}

	refreshKey := o.Key
	if o.Insert {
		if target.meta != op.ObjList && target.meta != op.ObjText {
			return nil, errors.Wrapf(crdterr.ErrInvalidChangeRequest, "opset: insert on non-sequence object %v", o.Obj)
		}
		target.insertElem(o.Key.Elem, o.Elem())
		refreshKey = op.SeqKey(o.Elem())
	}

	s.refreshVisibility(o.Obj, refreshKey, target)
	for _, p := range o.Pred {
		if predRow, ok := s.byID[p]; ok {
			s.refreshVisibility(predRow.Op.Obj, elementKeyOf(predRow.Op), target)
		}
	}

	return s.events(o), nil
}

// elementKeyOf returns the Key candidates for an op are grouped under
// for visibility purposes: for a sequence-creating (insert) op that's
// its own id as an ElemId key; for everything else it's the op's own Key.
func elementKeyOf(o op.Op) op.Key {
	if o.Insert {
		return op.SeqKey(o.Elem())
	}
	return o.Key
}

// isOccupant reports whether row's op could itself be "the value" at a
// slot: Delete and Increment are pure modifiers — a Delete with no
// successor of its own is still, trivially, "CurrentVisible", but that
// never means the slot it hides has content.
func isOccupant(row *Row) bool {
	return !row.Op.Action.IsDelete() && !row.Op.Action.IsIncrement()
}

func (s *OpSet) insertSucc(succ []succEntry, e succEntry) []succEntry {
	i := sort.Search(len(succ), func(i int) bool { return !succ[i].ID.LessWithCache(e.ID, s.actors) })
	succ = append(succ, succEntry{})
	copy(succ[i+1:], succ[i:])
	succ[i] = e
	return succ
}

func (s *OpSet) events(o op.Op) []Event {
	kind := EventPut
	switch {
	case o.Action.IsMake():
		if o.Insert {
			kind = EventInsert
		} else {
			kind = EventPut
		}
	case o.Insert:
		kind = EventInsert
	case o.Action.IsDelete():
		kind = EventDelete
	case o.Action.IsIncrement():
		kind = EventIncrement
	case o.Action.IsMarkBegin(), o.Action.IsMarkEnd():
		kind = EventMark
	}
	return []Event{{Kind: kind, Obj: o.Obj, Key: o.Key, Op: o}}
}
