package doc

import (
	"time"

	"github.com/pkg/errors"

	"crdt/pkg/change"
	"crdt/pkg/chunk"
	"crdt/pkg/crdterr"
	"crdt/pkg/op"
	"crdt/pkg/opset"
	"crdt/pkg/patch"
)

// Transaction buffers one actor's ops into a change.Builder plus a
// scratch OpSet used purely to resolve indices/Pred/conflicts as new
// ops are added, without ever touching the document's real OpSet until
// a successful Commit. The scratch OpSet shares the document's actor
// cache rather than starting a fresh one: every op it replays from
// d.inner.Changes() carries Actor indices already interned against
// that cache, so resolving ties against any other cache (or none)
// would disagree with the real OpSet about conflict winners and RGA
// order. Grounded on the teacher's pkg/turdb/tx.go: a Tx wraps its own
// mvcc snapshot and is only ever applied to the shared pager state
// once, atomically, at Commit; Rollback discards it.
//
// Only one Transaction may be open at a time per Document — matching
// the teacher's single-writer Tx model — enforced by Document.txOpen.
type Transaction struct {
	doc  *Document
	done bool

	scratch *opset.OpSet
	builder *change.Builder
	patches *patch.PatchLog

	heads []chunk.Hash
}

// ErrTxDone is returned by any Transaction method called after Commit
// or Rollback already finished it.
var ErrTxDone = errors.New("doc: transaction already committed or rolled back")

// Transaction opens a new transaction against d, seeded from d's
// current state. Only one transaction may be open on a Document at a
// time.
func (d *Document) Transaction() (*Transaction, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.txOpen {
		return nil, errors.New("doc: a transaction is already open on this document")
	}

	scratch := opset.New(d.inner.Actors())
	for _, c := range d.inner.Changes() {
		for _, o := range c.Ops {
			if _, err := scratch.Apply(o); err != nil {
				return nil, errors.Wrap(err, "doc: seed transaction scratch opset")
			}
		}
	}

	seq := d.nextSeqLocked()
	startOp := d.nextOpBaseLocked()
	builder := change.NewBuilder(d.actorID, seq, startOp, time.Now().UnixMilli())

	d.txOpen = true
	return &Transaction{
		doc:     d,
		scratch: scratch,
		builder: builder,
		patches: patch.New(true),
		heads:   d.inner.Heads(),
	}, nil
}

func (tx *Transaction) actorGlobal() int {
	return tx.doc.inner.Actors().Intern(tx.doc.actorID)
}

func (tx *Transaction) checkOpen() error {
	if tx.done {
		return ErrTxDone
	}
	return nil
}

// resolveObj validates that obj names a composite object visible to
// this transaction's scratch state, returning its type.
func (tx *Transaction) resolveObj(obj op.ObjId) (op.ObjType, error) {
	typ, ok := tx.scratch.ObjectType(obj)
	if !ok {
		return 0, errors.Wrapf(crdterr.ErrInvalidObjectId, "doc: unknown object %v", obj)
	}
	return typ, nil
}

// appendOp assigns the next op id, applies it to the scratch OpSet (so
// later ops in the same transaction see its effect), and appends it to
// the change builder. Patch-log recording is each caller's own
// responsibility: unlike a post-apply lookup, the caller already knows
// the map key or visible index it addressed before this op changed
// visibility there, which matters for Delete (its target is no longer
// visible once applied).
func (tx *Transaction) appendOp(o op.Op) (op.OpId, error) {
	id := tx.builder.NextOpId(tx.actorGlobal())
	o.ID = id
	op.SortPred(o.Pred)

	if _, err := tx.scratch.Apply(o); err != nil {
		return op.OpId{}, errors.Wrap(err, "doc: apply op to transaction scratch state")
	}
	tx.builder.Append(o)
	return id, nil
}

// Put assigns val to a map key, overwriting whatever is currently
// visible there. A local transaction's own put always fully supersedes
// whatever it saw, so it never itself produces a conflict.
func (tx *Transaction) Put(obj op.ObjId, key string, val op.ScalarValue) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if _, err := tx.resolveObj(obj); err != nil {
		return err
	}
	prop := tx.doc.inner.Props().Intern(key)
	mapKey := op.MapKey(prop)
	pred, err := tx.scratch.VisibleOpIds(obj, mapKey)
	if err != nil {
		return err
	}
	id, err := tx.appendOp(op.Op{Obj: obj, Key: mapKey, Action: op.Put(val), Pred: pred})
	if err != nil {
		return err
	}
	tx.patches.PutMap(obj, key, id, val, false, op.ObjId{}, false, false)
	return nil
}

// PutObject is Put, but the new value is a fresh composite object
// (Map/List/Text/Table) instead of a scalar. It returns the new
// object's id. Its own content arrives via separate ops in the same
// transaction, so this doesn't request a synthetic dump.
func (tx *Transaction) PutObject(obj op.ObjId, key string, typ op.ObjType) (op.ObjId, error) {
	if err := tx.checkOpen(); err != nil {
		return op.ObjId{}, err
	}
	if _, err := tx.resolveObj(obj); err != nil {
		return op.ObjId{}, err
	}
	prop := tx.doc.inner.Props().Intern(key)
	mapKey := op.MapKey(prop)
	pred, err := tx.scratch.VisibleOpIds(obj, mapKey)
	if err != nil {
		return op.ObjId{}, err
	}
	action, err := makeAction(typ)
	if err != nil {
		return op.ObjId{}, err
	}
	id, err := tx.appendOp(op.Op{Obj: obj, Key: mapKey, Action: action, Pred: pred})
	if err != nil {
		return op.ObjId{}, err
	}
	newObj := op.ObjId{OpId: id}
	tx.patches.PutMap(obj, key, id, op.Null(), true, newObj, false, false)
	return newObj, nil
}

func makeAction(typ op.ObjType) (op.OpType, error) {
	switch typ {
	case op.ObjMap:
		return op.MakeMap(), nil
	case op.ObjList:
		return op.MakeList(), nil
	case op.ObjText:
		return op.MakeText(), nil
	case op.ObjTable:
		return op.MakeTable(), nil
	default:
		return op.OpType{}, wrapInvalidRequest("doc: unknown object type")
	}
}

// Insert inserts val as a new list/text element at visible position
// idx (0..Length(obj) inclusive).
func (tx *Transaction) Insert(obj op.ObjId, idx int, val op.ScalarValue) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if _, err := tx.resolveObj(obj); err != nil {
		return err
	}
	after, err := tx.scratch.InsertionPoint(obj, idx)
	if err != nil {
		return err
	}
	id, err := tx.appendOp(op.Op{Obj: obj, Key: op.SeqKey(after), Action: op.Put(val), Insert: true})
	if err != nil {
		return err
	}
	tx.patches.Insert(obj, idx, id, val, false, op.ObjId{}, false)
	return nil
}

// InsertObject is Insert, but the new element is a fresh composite
// object. It returns the new object's id.
func (tx *Transaction) InsertObject(obj op.ObjId, idx int, typ op.ObjType) (op.ObjId, error) {
	if err := tx.checkOpen(); err != nil {
		return op.ObjId{}, err
	}
	if _, err := tx.resolveObj(obj); err != nil {
		return op.ObjId{}, err
	}
	action, err := makeAction(typ)
	if err != nil {
		return op.ObjId{}, err
	}
	after, err := tx.scratch.InsertionPoint(obj, idx)
	if err != nil {
		return op.ObjId{}, err
	}
	id, err := tx.appendOp(op.Op{Obj: obj, Key: op.SeqKey(after), Action: action, Insert: true})
	if err != nil {
		return op.ObjId{}, err
	}
	newObj := op.ObjId{OpId: id}
	tx.patches.Insert(obj, idx, id, op.Null(), true, newObj, false)
	return newObj, nil
}

// Delete hides a map key's currently visible value(s).
func (tx *Transaction) Delete(obj op.ObjId, key string) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if _, err := tx.resolveObj(obj); err != nil {
		return err
	}
	prop := tx.doc.inner.Props().Intern(key)
	mapKey := op.MapKey(prop)
	pred, err := tx.scratch.VisibleOpIds(obj, mapKey)
	if err != nil {
		return err
	}
	if len(pred) == 0 {
		return nil
	}
	if _, err := tx.appendOp(op.Op{Obj: obj, Key: mapKey, Action: op.Delete(), Pred: pred}); err != nil {
		return err
	}
	tx.patches.DeleteMap(obj, key)
	return nil
}

// DeleteAt hides a list/text element's currently visible value(s) at
// visible position idx.
func (tx *Transaction) DeleteAt(obj op.ObjId, idx int) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if _, err := tx.resolveObj(obj); err != nil {
		return err
	}
	elem, err := tx.scratch.VisibleElemAt(obj, idx)
	if err != nil {
		return err
	}
	seqKey := op.SeqKey(elem)
	pred, err := tx.scratch.VisibleOpIds(obj, seqKey)
	if err != nil {
		return err
	}
	if len(pred) == 0 {
		return nil
	}
	if _, err := tx.appendOp(op.Op{Obj: obj, Key: seqKey, Action: op.Delete(), Pred: pred}); err != nil {
		return err
	}
	tx.patches.DeleteSeq(obj, idx, 1)
	return nil
}

// Increment adds n to the Counter currently visible at a map key.
func (tx *Transaction) Increment(obj op.ObjId, key string, n int64) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if _, err := tx.resolveObj(obj); err != nil {
		return err
	}
	prop := tx.doc.inner.Props().Intern(key)
	mapKey := op.MapKey(prop)
	pred, err := tx.scratch.VisibleOpIds(obj, mapKey)
	if err != nil {
		return err
	}
	if len(pred) == 0 {
		return wrapInvalidRequest("doc: increment on a key with no visible counter")
	}
	id, err := tx.appendOp(op.Op{Obj: obj, Key: mapKey, Action: op.Increment(n), Pred: pred})
	if err != nil {
		return err
	}
	tx.patches.IncrementMap(obj, key, id, n)
	return nil
}

// IncrementAt is Increment addressed by visible list/text position.
func (tx *Transaction) IncrementAt(obj op.ObjId, idx int, n int64) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if _, err := tx.resolveObj(obj); err != nil {
		return err
	}
	elem, err := tx.scratch.VisibleElemAt(obj, idx)
	if err != nil {
		return err
	}
	seqKey := op.SeqKey(elem)
	pred, err := tx.scratch.VisibleOpIds(obj, seqKey)
	if err != nil {
		return err
	}
	if len(pred) == 0 {
		return wrapInvalidRequest("doc: increment on a key with no visible counter")
	}
	id, err := tx.appendOp(op.Op{Obj: obj, Key: seqKey, Action: op.Increment(n), Pred: pred})
	if err != nil {
		return err
	}
	tx.patches.IncrementSeq(obj, idx, id, n)
	return nil
}

// Splice deletes deleteCount visible characters starting at idx and
// inserts insert in their place, one Insert op per rune. It records one
// observer DeleteSeq patch for the deleted run (when deleteCount > 0)
// and one Splice patch for the inserted text (when insert is
// non-empty), rather than one Delete/Insert event per character.
func (tx *Transaction) Splice(obj op.ObjId, idx, deleteCount int, insert string) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if _, err := tx.resolveObj(obj); err != nil {
		return err
	}
	for i := 0; i < deleteCount; i++ {
		elem, err := tx.scratch.VisibleElemAt(obj, idx)
		if err != nil {
			return err
		}
		seqKey := op.SeqKey(elem)
		pred, err := tx.scratch.VisibleOpIds(obj, seqKey)
		if err != nil {
			return err
		}
		if len(pred) == 0 {
			continue
		}
		if _, err := tx.appendOp(op.Op{Obj: obj, Key: seqKey, Action: op.Delete(), Pred: pred}); err != nil {
			return err
		}
	}

	after, err := tx.scratch.InsertionPoint(obj, idx)
	if err != nil {
		return err
	}
	for _, r := range insert {
		id, err := tx.appendOp(op.Op{Obj: obj, Key: op.SeqKey(after), Action: op.Put(op.Str(string(r))), Insert: true})
		if err != nil {
			return err
		}
		after = op.ElemId{OpId: id}
	}

	if deleteCount > 0 {
		tx.patches.DeleteSeq(obj, idx, deleteCount)
	}
	if insert != "" {
		tx.patches.Splice(obj, idx, insert)
	}
	return nil
}

// Mark annotates the visible elements [start, end) of a list/text
// object with a named rich-text span, recording both the underlying
// MarkBegin/MarkEnd ops and a single observer Mark patch covering the
// whole run.
func (tx *Transaction) Mark(obj op.ObjId, start, end int, name string, val op.ScalarValue) error {
	if err := tx.checkOpen(); err != nil {
		return err
	}
	if _, err := tx.resolveObj(obj); err != nil {
		return err
	}
	if start < 0 || end < start {
		return wrapInvalidRequest("doc: invalid mark range")
	}

	beginAfter, err := tx.scratch.InsertionPoint(obj, start)
	if err != nil {
		return err
	}
	beginID, err := tx.appendOp(op.Op{Obj: obj, Key: op.SeqKey(beginAfter), Action: op.MarkBegin(name, val), Insert: true})
	if err != nil {
		return err
	}

	// end shifted by one: the MarkBegin op just inserted occupies its
	// own zero-width element ahead of the span's first character.
	endAfter, err := tx.scratch.InsertionPoint(obj, end+1)
	if err != nil {
		return err
	}
	if _, err := tx.appendOp(op.Op{Obj: obj, Key: op.SeqKey(endAfter), Action: op.MarkEnd(true), Insert: true}); err != nil {
		return err
	}

	tx.patches.Mark(obj, beginID, start, end, name, val)
	return nil
}

// Unmark erases any lower-priority mark sharing name over [start, end)
// by writing a Null-valued mark span on top of it (spec.md §4.1.5).
func (tx *Transaction) Unmark(obj op.ObjId, start, end int, name string) error {
	return tx.Mark(obj, start, end, name, op.Null())
}

// Commit seals the transaction's buffered ops into a Change, applies it
// to the document's real OpSet exactly once, and folds the
// transaction's own patch-log events into the document's shared log.
func (tx *Transaction) Commit(message string) (chunk.Hash, error) {
	if err := tx.checkOpen(); err != nil {
		return chunk.Hash{}, err
	}
	tx.done = true
	tx.doc.mu.Lock()
	defer tx.doc.mu.Unlock()
	tx.doc.txOpen = false

	if tx.builder.Len() == 0 {
		return chunk.Hash{}, nil
	}
	if message != "" {
		tx.builder.SetMessage(message)
	}

	c, _, err := tx.builder.Seal(tx.heads, tx.doc.inner.Actors(), tx.doc.inner.Props())
	if err != nil {
		return chunk.Hash{}, errors.Wrap(err, "doc: seal transaction")
	}

	hash, err := tx.doc.inner.AddChange(c)
	if err != nil {
		return chunk.Hash{}, errors.Wrap(err, "doc: commit transaction")
	}

	tx.doc.patches.Merge(tx.patches)
	tx.doc.log.Debugw("transaction committed", "ops", tx.builder.Len(), "seq", c.Seq, "hash", hash)
	return hash, nil
}

// Rollback discards every op buffered by this transaction without
// mutating the document's OpSet — spec.md's explicit "transactions
// support rollback that discards buffered ops without mutating the
// OpSet".
func (tx *Transaction) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	tx.doc.mu.Lock()
	tx.doc.txOpen = false
	tx.doc.mu.Unlock()
	tx.doc.log.Debugw("transaction rolled back", "buffered_ops", tx.builder.Len())
}
