// Package patch implements spec.md §4.6: a PatchLog records every
// primitive change applied during one observation window — a
// transaction, a received sync message — as a flat, time-ordered event
// list, then Compact folds that list into externally addressed Patches
// a materialized-view observer can replay.
//
// Grounded on the teacher's pkg/mvcc/undolog.go: an UndoLog accumulates
// one per-transaction list of undoable operations behind a mutex,
// copying byte slices on Add to avoid aliasing the caller's buffers,
// and hands the list back out on RollbackToSavepoint for replay.
// PatchLog keeps the same shape — append-only, mutex-guarded, handed
// back out as a value-copied slice — but compacts its log forward into
// patches instead of replaying it backward to undo a transaction.
package patch

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"crdt/pkg/op"
	"crdt/pkg/opset"
)

// Action names the patch vocabulary spec.md §4.6 lists.
type Action uint8

const (
	ActionPutMap Action = iota
	ActionPutSeq
	ActionInsert
	ActionDeleteMap
	ActionDeleteSeq
	ActionSplice
	ActionIncrement
	ActionFlagConflict
	ActionMark
)

// MarkRun is one contiguous run of a single rich-text annotation,
// shaped the same way opset.MarkSpan represents a materialized one.
type MarkRun struct {
	Start int
	End   int
	Name  string
	Value op.ScalarValue
}

// event is one raw, not-yet-compacted record. id is the op that
// produced it, and doubles as its Lamport sort key for Compact —
// spec.md §4.6's "events within a patch run sorted by Lamport order of
// originating op".
type event struct {
	obj      op.ObjId
	action   Action
	id       op.OpId
	key      string
	index    int
	count    int
	value    op.ScalarValue
	valueObj op.ObjId
	isObject bool
	conflict bool
	text     string
	incBy    int64
	marks    []MarkRun
}

func (e event) toPatch() Patch {
	return Patch{
		Obj:      e.obj,
		Action:   e.action,
		Key:      e.key,
		Index:    e.index,
		Count:    e.count,
		Value:    e.value,
		ValueObj: e.valueObj,
		IsObject: e.isObject,
		Conflict: e.conflict,
		Text:     e.text,
		IncBy:    e.incBy,
		Marks:    e.marks,
	}
}

// Patch is one compacted, externally addressed diff: Action plus
// whichever of Key/Index/Value/Text/Marks it needs, targeting Obj
// directly rather than a path from the document root.
type Patch struct {
	Obj      op.ObjId
	Action   Action
	Key      string
	Index    int
	Count    int
	Value    op.ScalarValue
	ValueObj op.ObjId
	IsObject bool
	Conflict bool
	Text     string
	IncBy    int64
	Marks    []MarkRun
}

// PatchLog is an append-only record of one observation window's
// primitive change events, plus the expose queue: objects whose
// tombstone was just revoked by a newly-applied concurrent change, and
// so need a synthetic whole-object patch instead of a replay of
// whatever individual events this log happened to record for them.
type PatchLog struct {
	mu     sync.Mutex
	active bool
	events []event
	expose map[op.ObjId]bool
}

// New returns a PatchLog. An inactive log turns every record call into
// a no-op — callers that don't need a materialized view skip the cost
// of building one without complicating their code with an optional
// *PatchLog.
func New(active bool) *PatchLog {
	return &PatchLog{active: active, expose: make(map[op.ObjId]bool)}
}

func (p *PatchLog) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *PatchLog) SetActive(active bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = active
}

// Reset discards every recorded event and exposed object, leaving the
// log active (or inactive) and ready for the next observation window.
func (p *PatchLog) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
	p.expose = make(map[op.ObjId]bool)
}

// Len returns the number of raw events recorded so far.
func (p *PatchLog) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// Merge folds other's recorded events and exposed objects into p,
// leaving other untouched — used to fold a transaction's own patch log
// into its document's shared one once the transaction commits (a
// rolled-back transaction's log is simply discarded instead).
func (p *PatchLog) Merge(other *PatchLog) {
	other.mu.Lock()
	events := append([]event(nil), other.events...)
	exposed := make([]op.ObjId, 0, len(other.expose))
	for id := range other.expose {
		exposed = append(exposed, id)
	}
	other.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	p.events = append(p.events, events...)
	if p.expose == nil {
		p.expose = make(map[op.ObjId]bool)
	}
	for _, id := range exposed {
		p.expose[id] = true
	}
}

func (p *PatchLog) record(e event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	p.events = append(p.events, e)
}

// PutMap records a map-key write. expose queues valueObj for a
// synthetic whole-object dump once Compact runs, used when val is a
// composite object whose current content didn't come from any event
// already in this log (its prior tombstone was just revoked).
func (p *PatchLog) PutMap(obj op.ObjId, key string, id op.OpId, val op.ScalarValue, isObject bool, valueObj op.ObjId, conflict, expose bool) {
	p.maybeExpose(expose, isObject, valueObj)
	p.record(event{obj: obj, action: ActionPutMap, id: id, key: key, value: val, valueObj: valueObj, isObject: isObject, conflict: conflict})
}

// PutSeq is PutMap for a sequence element overwritten in place.
func (p *PatchLog) PutSeq(obj op.ObjId, index int, id op.OpId, val op.ScalarValue, isObject bool, valueObj op.ObjId, conflict, expose bool) {
	p.maybeExpose(expose, isObject, valueObj)
	p.record(event{obj: obj, action: ActionPutSeq, id: id, index: index, value: val, valueObj: valueObj, isObject: isObject, conflict: conflict})
}

// Insert records a new sequence element (list or text) at index.
func (p *PatchLog) Insert(obj op.ObjId, index int, id op.OpId, val op.ScalarValue, isObject bool, valueObj op.ObjId, conflict bool) {
	p.record(event{obj: obj, action: ActionInsert, id: id, index: index, value: val, valueObj: valueObj, isObject: isObject, conflict: conflict})
}

func (p *PatchLog) maybeExpose(expose, isObject bool, valueObj op.ObjId) {
	if !expose || !isObject {
		return
	}
	p.mu.Lock()
	p.expose[valueObj] = true
	p.mu.Unlock()
}

// DeleteMap records a map key becoming invisible.
func (p *PatchLog) DeleteMap(obj op.ObjId, key string) {
	p.record(event{obj: obj, action: ActionDeleteMap, key: key})
}

// DeleteSeq records count consecutive sequence elements becoming
// invisible starting at index.
func (p *PatchLog) DeleteSeq(obj op.ObjId, index, count int) {
	p.record(event{obj: obj, action: ActionDeleteSeq, index: index, count: count})
}

// Splice records text inserted into a text object's visible characters
// at index, as one event (spec.md's Splice operation). Deleted elements
// are not part of this event; they are recorded separately through
// DeleteSeq.
func (p *PatchLog) Splice(obj op.ObjId, index int, text string) {
	p.record(event{obj: obj, action: ActionSplice, index: index, text: text})
}

// IncrementMap records a counter increment against a map key.
func (p *PatchLog) IncrementMap(obj op.ObjId, key string, id op.OpId, n int64) {
	p.record(event{obj: obj, action: ActionIncrement, id: id, key: key, incBy: n})
}

// IncrementSeq records a counter increment against a sequence index.
func (p *PatchLog) IncrementSeq(obj op.ObjId, index int, id op.OpId, n int64) {
	p.record(event{obj: obj, action: ActionIncrement, id: id, index: index, incBy: n})
}

// FlagConflictMap records that a map key's winning value didn't
// change, but a new concurrent candidate now sits alongside it.
func (p *PatchLog) FlagConflictMap(obj op.ObjId, key string) {
	p.record(event{obj: obj, action: ActionFlagConflict, key: key})
}

// FlagConflictSeq is FlagConflictMap for a sequence index.
func (p *PatchLog) FlagConflictSeq(obj op.ObjId, index int) {
	p.record(event{obj: obj, action: ActionFlagConflict, index: index})
}

// Mark records one rich-text annotation run, merging into the previous
// event when it is also a Mark on the same object — a single
// Transaction.Mark call commonly touches a long span, and the original
// this is grounded on performs the same tail-merge rather than emitting
// one event per underlying mark-begin/mark-end pair.
func (p *PatchLog) Mark(obj op.ObjId, id op.OpId, start, end int, name string, val op.ScalarValue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.active {
		return
	}
	if n := len(p.events); n > 0 {
		last := &p.events[n-1]
		if last.action == ActionMark && last.obj == obj {
			last.marks = append(last.marks, MarkRun{Start: start, End: end, Name: name, Value: val})
			return
		}
	}
	p.events = append(p.events, event{
		obj: obj, action: ActionMark, id: id,
		marks: []MarkRun{{Start: start, End: end, Name: name, Value: val}},
	})
}

// Compact drains the log's raw events in Lamport order into a sequence
// of Patches, synthesizing a whole-object dump for anything in the
// expose queue in place of its recorded events — spec.md §4.6. os and
// props resolve the current materialized state and map-key names for
// exposed objects; plain recorded events already carry their own
// string keys and need neither.
func (p *PatchLog) Compact(os *opset.OpSet, props *op.PropCache) ([]Patch, error) {
	p.mu.Lock()
	events := append([]event(nil), p.events...)
	exposed := make([]op.ObjId, 0, len(p.expose))
	for id := range p.expose {
		exposed = append(exposed, id)
	}
	p.mu.Unlock()

	sort.SliceStable(events, func(i, j int) bool { return events[i].id.Less(events[j].id) })

	q := newExposeQueue(exposed)
	var out []Patch
	for _, e := range events {
		if q.shouldSkip(e.obj) {
			// This object is queued for a synthetic dump; its
			// individually recorded events are superseded by it.
			continue
		}
		pumped, err := q.pumpUpTo(e.obj, os, props)
		if err != nil {
			return nil, err
		}
		out = append(out, pumped...)
		out = append(out, e.toPatch())
	}
	flushed, err := q.flushAll(os, props)
	if err != nil {
		return nil, err
	}
	return append(out, flushed...), nil
}

// exposeQueue is a sorted set of ObjIds still awaiting their synthetic
// whole-object patch, ordered by the object's creating OpId so exposed
// objects interleave with ordinary events in the same Lamport order
// Compact walks the rest of the log in.
type exposeQueue struct {
	ids []op.ObjId
}

func newExposeQueue(ids []op.ObjId) *exposeQueue {
	q := &exposeQueue{}
	for _, id := range ids {
		q.insert(id)
	}
	return q
}

func (q *exposeQueue) insert(id op.ObjId) {
	i := sort.Search(len(q.ids), func(i int) bool { return !q.ids[i].OpId.Less(id.OpId) })
	if i < len(q.ids) && q.ids[i] == id {
		return
	}
	q.ids = append(q.ids, op.ObjId{})
	copy(q.ids[i+1:], q.ids[i:])
	q.ids[i] = id
}

func (q *exposeQueue) first() (op.ObjId, bool) {
	if len(q.ids) == 0 {
		return op.ObjId{}, false
	}
	return q.ids[0], true
}

func (q *exposeQueue) shouldSkip(obj op.ObjId) bool {
	first, ok := q.first()
	return ok && first == obj
}

// pumpUpTo flushes every exposed object that sorts strictly before
// obj, since an ordinary event on obj is about to be emitted and
// Compact's output must stay Lamport-ordered.
func (q *exposeQueue) pumpUpTo(obj op.ObjId, os *opset.OpSet, props *op.PropCache) ([]Patch, error) {
	var out []Patch
	for {
		first, ok := q.first()
		if !ok || !first.OpId.Less(obj.OpId) {
			return out, nil
		}
		pt, err := q.flushOne(first, os, props)
		if err != nil {
			return nil, err
		}
		out = append(out, pt...)
	}
}

// flushAll drains every remaining exposed object after the last
// ordinary event has been emitted.
func (q *exposeQueue) flushAll(os *opset.OpSet, props *op.PropCache) ([]Patch, error) {
	var out []Patch
	for {
		first, ok := q.first()
		if !ok {
			return out, nil
		}
		pt, err := q.flushOne(first, os, props)
		if err != nil {
			return nil, err
		}
		out = append(out, pt...)
	}
}

// flushOne removes id from the queue and synthesizes the patches for
// its full current content, queuing any nested composite values it
// contains so they get exposed too — a revoked tombstone can reveal an
// object that itself contains other objects.
func (q *exposeQueue) flushOne(id op.ObjId, os *opset.OpSet, props *op.PropCache) ([]Patch, error) {
	q.ids = q.ids[1:]

	typ, ok := os.ObjectType(id)
	if !ok {
		// Deleted again (by a later change in this same window)
		// before Compact ran: nothing to expose.
		return nil, nil
	}

	switch typ {
	case op.ObjText:
		text, err := os.Text(id)
		if err != nil {
			return nil, errors.Wrap(err, "patch: expose text object")
		}
		return []Patch{{Obj: id, Action: ActionSplice, Index: 0, Text: text}}, nil

	case op.ObjList:
		n, err := os.Length(id)
		if err != nil {
			return nil, errors.Wrap(err, "patch: expose list length")
		}
		items, err := os.ListRange(id, 0, n)
		if err != nil {
			return nil, errors.Wrap(err, "patch: expose list range")
		}
		out := make([]Patch, 0, len(items))
		for i, v := range items {
			if v.IsObject {
				q.insert(v.Obj)
			}
			out = append(out, Patch{Obj: id, Action: ActionInsert, Index: i, Value: v.Scalar, ValueObj: v.Obj, IsObject: v.IsObject, Conflict: v.Conflict})
		}
		return out, nil

	default: // op.ObjMap, op.ObjTable
		keys, err := os.Keys(id)
		if err != nil {
			return nil, errors.Wrap(err, "patch: expose map keys")
		}
		out := make([]Patch, 0, len(keys))
		for _, k := range keys {
			v, present, err := os.Get(id, k)
			if err != nil {
				return nil, errors.Wrap(err, "patch: expose map value")
			}
			if !present {
				continue
			}
			if v.IsObject {
				q.insert(v.Obj)
			}
			name, _ := props.Get(k.Prop)
			out = append(out, Patch{Obj: id, Action: ActionPutMap, Key: name, Value: v.Scalar, ValueObj: v.Obj, IsObject: v.IsObject, Conflict: v.Conflict})
		}
		return out, nil
	}
}
