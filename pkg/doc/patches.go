package doc

import (
	"crdt/pkg/change"
	"crdt/pkg/op"
	"crdt/pkg/opset"
	"crdt/pkg/patch"
)

// recordMergedChangePatches records observer patch events for a change
// that was just applied to os by AddChange — used for both remotely
// received sync changes and ApplyChanges, never for a local
// Transaction's own ops (those record their own patches inline, where
// the exact pre-op state is still in hand).
//
// Two scope reductions apply here, both documented in DESIGN.md: a
// Delete targeting a sequence element produces no patch event (its
// visible index is gone by the time this runs, post-apply, and the
// object's eventual whole-object dump — see expose below — already
// covers it), and MarkBegin/MarkEnd ops produce no Mark event (reads
// via opset.Marks remain correct regardless of origin; only the
// observer stream under-reports marks arriving by merge).
//
// Every object-valued write is recorded with expose=true: worst case
// this requests a redundant synthetic dump of an object whose content
// was already fully explained by this same change's other ops, but
// patch.Compact's expose queue silently supersedes an object's own
// events with its dump, so redundancy costs nothing but an extra
// object walk.
func recordMergedChangePatches(log *patch.PatchLog, os *opset.OpSet, props *op.PropCache, c *change.Change) {
	for _, o := range c.Ops {
		recordOneMergedOp(log, os, props, o)
	}
}

func recordOneMergedOp(log *patch.PatchLog, os *opset.OpSet, props *op.PropCache, o op.Op) {
	switch {
	case o.Action.IsDelete():
		if o.Key.IsMap() {
			if name, ok := props.Get(o.Key.Prop); ok {
				log.DeleteMap(o.Obj, name)
			}
		}
		// Sequence deletes: see the scope reduction above.

	case o.Action.IsIncrement():
		if o.Key.IsMap() {
			if name, ok := props.Get(o.Key.Prop); ok {
				log.IncrementMap(o.Obj, name, o.ID, o.Action.IncBy)
			}
			return
		}
		if idx, found, err := os.VisibleIndexOf(o.Obj, o.Key.Elem); err == nil && found {
			log.IncrementSeq(o.Obj, idx, o.ID, o.Action.IncBy)
		}

	case o.Action.IsMake() || o.Action.IsPut():
		isObject := o.Action.IsMake()
		var val op.ScalarValue
		var valueObj op.ObjId
		if isObject {
			valueObj = op.ObjId{OpId: o.ID}
		} else {
			val = o.Action.Value
		}

		switch {
		case o.Insert:
			if idx, found, err := os.VisibleIndexOf(o.Obj, o.Elem()); err == nil && found {
				log.Insert(o.Obj, idx, o.ID, val, isObject, valueObj, false)
			}
		case o.Key.IsMap():
			if name, ok := props.Get(o.Key.Prop); ok {
				log.PutMap(o.Obj, name, o.ID, val, isObject, valueObj, false, isObject)
			}
		default:
			if idx, found, err := os.VisibleIndexOf(o.Obj, o.Key.Elem); err == nil && found {
				log.PutSeq(o.Obj, idx, o.ID, val, isObject, valueObj, false, isObject)
			}
		}

	default: // MarkBegin, MarkEnd: intentionally not recorded, see above.
	}
}
