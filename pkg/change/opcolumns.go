// opcolumns.go encodes and decodes a Change's Ops as the column set
// spec.md §6.2 describes: obj_actor/obj_ctr address the object, key_actor/
// key_ctr/key_str the key, value_meta/value_raw and mark_name_meta/
// mark_name_value the action's payload, pred_group→pred_actor/pred_ctr the
// operation's predecessors. Actor references inside a change are not the
// document's own actor-cache indices (those are local to one replica's
// memory) — they're re-based to a small per-change table: local index 0 is
// always the change's author, indices 1.. are "other actors" the change's
// ops reference, sorted by actor bytes so two replicas producing the same
// ops encode identical bytes.
package change

import (
	"sort"

	"github.com/pkg/errors"

	"crdt/pkg/columnar"
	"crdt/pkg/crdterr"
	"crdt/pkg/op"
)

const (
	colObjActor     uint16 = 0
	colObjCtr       uint16 = 1
	colKeyActor     uint16 = 2
	colKeyCtr       uint16 = 3
	colKeyStrMeta   uint16 = 4
	colKeyStrVal    uint16 = 5
	colInsert       uint16 = 6
	colAction       uint16 = 7
	colValMeta      uint16 = 8
	colValVal       uint16 = 9
	colMarkNameMeta uint16 = 10
	colMarkNameVal  uint16 = 11
	colPredGroup    uint16 = 12
	colPredActor    uint16 = 13
	colPredCtr      uint16 = 14
)

// buildOtherActors collects every document-global actor-cache index an
// op references besides authorGlobal (via Obj, a sequence key's element,
// or a pred entry), sorted by actor bytes, and returns the local-index
// remap those rows will be encoded with.
func buildOtherActors(ops []op.Op, authorGlobal int, cache *op.ActorCache) ([]op.ActorId, map[int]int, error) {
	seen := map[int]bool{authorGlobal: true}
	var globals []int
	add := func(g int) {
		if seen[g] {
			return
		}
		seen[g] = true
		globals = append(globals, g)
	}
	for _, o := range ops {
		if o.Obj.Counter != 0 {
			add(o.Obj.Actor)
		}
		if o.Key.IsSeq() && o.Key.Elem.Counter != 0 {
			add(o.Key.Elem.Actor)
		}
		for _, p := range o.Pred {
			add(p.Actor)
		}
	}

	type entry struct {
		global int
		actor  op.ActorId
	}
	entries := make([]entry, len(globals))
	for i, g := range globals {
		a, ok := cache.Get(g)
		if !ok {
			return nil, nil, errors.Wrap(crdterr.ErrInvalidOpId, "change: op references unknown actor")
		}
		entries[i] = entry{global: g, actor: a}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].actor.Compare(entries[j].actor) < 0 })

	byBytes := make([]op.ActorId, len(entries))
	globalToLocal := map[int]int{authorGlobal: 0}
	for i, e := range entries {
		byBytes[i] = e.actor
		globalToLocal[e.global] = i + 1
	}
	return byBytes, globalToLocal, nil
}

func encodeAction(a op.OpType) (value, markName op.ScalarValue, err error) {
	switch a.Action {
	case op.ActionMake:
		return op.Uint(uint64(a.MakeType)), op.Null(), nil
	case op.ActionPut:
		return a.Value, op.Null(), nil
	case op.ActionDelete:
		return op.Null(), op.Null(), nil
	case op.ActionIncrement:
		return op.Int(a.IncBy), op.Null(), nil
	case op.ActionMarkBegin:
		return a.Mark.Value, op.Str(a.Mark.Name), nil
	case op.ActionMarkEnd:
		return op.Boolean(a.MarkEnd), op.Null(), nil
	default:
		return op.ScalarValue{}, op.ScalarValue{}, errors.Wrapf(crdterr.ErrEncoding, "change: unknown action kind %d", a.Action)
	}
}

func decodeAction(kind op.ActionKind, value, markName op.ScalarValue) (op.OpType, error) {
	switch kind {
	case op.ActionMake:
		return op.OpType{Action: op.ActionMake, MakeType: op.ObjType(value.AsUint())}, nil
	case op.ActionPut:
		return op.OpType{Action: op.ActionPut, Value: value}, nil
	case op.ActionDelete:
		return op.OpType{Action: op.ActionDelete}, nil
	case op.ActionIncrement:
		return op.OpType{Action: op.ActionIncrement, IncBy: value.AsInt()}, nil
	case op.ActionMarkBegin:
		return op.OpType{Action: op.ActionMarkBegin, Mark: op.MarkData{Name: markName.AsStr(), Value: value}}, nil
	case op.ActionMarkEnd:
		return op.OpType{Action: op.ActionMarkEnd, MarkEnd: value.AsBoolean()}, nil
	default:
		return op.OpType{}, errors.Wrapf(crdterr.ErrEncoding, "change: unknown action kind %d", kind)
	}
}

// encodeOps packs ops into their canonical column set, returning the
// sorted other-actors table the columns' local actor indices reference.
func encodeOps(ops []op.Op, authorGlobal int, cache *op.ActorCache, props *op.PropCache) ([]op.ActorId, []columnar.RawColumn, error) {
	otherActors, g2l, err := buildOtherActors(ops, authorGlobal, cache)
	if err != nil {
		return nil, nil, err
	}

	n := len(ops)
	objActor := make([]columnar.UintItem, n)
	objCtr := make([]columnar.IntItem, n)
	keyActor := make([]columnar.UintItem, n)
	keyCtr := make([]columnar.IntItem, n)
	keyStrVals := make([]op.ScalarValue, n)
	insertBits := make([]bool, n)
	actionItems := make([]columnar.UintItem, n)
	valueVals := make([]op.ScalarValue, n)
	markNameVals := make([]op.ScalarValue, n)
	predCounts := make([]uint64, n)
	var predActorFlat []columnar.UintItem
	var predCtrFlat []columnar.IntItem

	for i, o := range ops {
		if o.Obj.Counter == 0 {
			objActor[i] = columnar.Present(0)
			objCtr[i] = columnar.PresentInt(0)
		} else {
			objActor[i] = columnar.Present(uint64(g2l[o.Obj.Actor]))
			objCtr[i] = columnar.PresentInt(int64(o.Obj.Counter))
		}

		if o.Key.IsMap() {
			keyActor[i] = columnar.Nil()
			keyCtr[i] = columnar.NilInt()
			name, ok := props.Get(o.Key.Prop)
			if !ok {
				return nil, nil, errors.Wrap(crdterr.ErrInvalidProp, "change: op key references unknown prop")
			}
			keyStrVals[i] = op.Str(name)
		} else {
			if o.Key.Elem.Counter == 0 {
				keyActor[i] = columnar.Present(0)
				keyCtr[i] = columnar.PresentInt(0)
			} else {
				keyActor[i] = columnar.Present(uint64(g2l[o.Key.Elem.Actor]))
				keyCtr[i] = columnar.PresentInt(int64(o.Key.Elem.Counter))
			}
			keyStrVals[i] = op.Null()
		}

		insertBits[i] = o.Insert
		actionItems[i] = columnar.Present(uint64(o.Action.Action))

		value, markName, err := encodeAction(o.Action)
		if err != nil {
			return nil, nil, err
		}
		valueVals[i] = value
		markNameVals[i] = markName

		predCounts[i] = uint64(len(o.Pred))
		for _, p := range o.Pred {
			localActor, ok := g2l[p.Actor]
			if !ok {
				return nil, nil, errors.Wrap(crdterr.ErrInvalidOpId, "change: pred actor missing from remap")
			}
			predActorFlat = append(predActorFlat, columnar.Present(uint64(localActor)))
			predCtrFlat = append(predCtrFlat, columnar.PresentInt(int64(p.Counter)))
		}
	}

	keyStrMeta, keyStrRaw := columnar.EncodeValues(keyStrVals)
	valMeta, valRaw := columnar.EncodeValues(valueVals)
	markMeta, markRaw := columnar.EncodeValues(markNameVals)

	cols := []columnar.RawColumn{
		{Spec: columnar.NewColumnSpec(colObjActor, columnar.ColTypeRLE, false), Data: columnar.EncodeRLE(objActor)},
		{Spec: columnar.NewColumnSpec(colObjCtr, columnar.ColTypeDelta, false), Data: columnar.EncodeDelta(objCtr)},
		{Spec: columnar.NewColumnSpec(colKeyActor, columnar.ColTypeRLE, false), Data: columnar.EncodeRLE(keyActor)},
		{Spec: columnar.NewColumnSpec(colKeyCtr, columnar.ColTypeDelta, false), Data: columnar.EncodeDelta(keyCtr)},
		{Spec: columnar.NewColumnSpec(colKeyStrMeta, columnar.ColTypeValueMeta, false), Data: keyStrMeta},
		{Spec: columnar.NewColumnSpec(colKeyStrVal, columnar.ColTypeValue, false), Data: keyStrRaw},
		{Spec: columnar.NewColumnSpec(colInsert, columnar.ColTypeBoolean, false), Data: columnar.EncodeBoolean(insertBits)},
		{Spec: columnar.NewColumnSpec(colAction, columnar.ColTypeRLE, false), Data: columnar.EncodeRLE(actionItems)},
		{Spec: columnar.NewColumnSpec(colValMeta, columnar.ColTypeValueMeta, false), Data: valMeta},
		{Spec: columnar.NewColumnSpec(colValVal, columnar.ColTypeValue, false), Data: valRaw},
		{Spec: columnar.NewColumnSpec(colMarkNameMeta, columnar.ColTypeValueMeta, false), Data: markMeta},
		{Spec: columnar.NewColumnSpec(colMarkNameVal, columnar.ColTypeValue, false), Data: markRaw},
		{Spec: columnar.NewColumnSpec(colPredGroup, columnar.ColTypeGroup, false), Data: columnar.EncodeGroup(predCounts)},
		{Spec: columnar.NewColumnSpec(colPredActor, columnar.ColTypeRLE, false), Data: columnar.EncodeRLE(predActorFlat)},
		{Spec: columnar.NewColumnSpec(colPredCtr, columnar.ColTypeDelta, false), Data: columnar.EncodeDelta(predCtrFlat)},
	}
	columnar.SortColumns(cols)
	return otherActors, cols, nil
}

// decodeOps reverses encodeOps, re-homing local actor indices into
// cache (interning any other actor seen for the first time) and
// reconstructing each op's ID from authorGlobal and its row position
// relative to startCounter.
func decodeOps(cols []columnar.RawColumn, authorGlobal int, otherActors []op.ActorId, cache *op.ActorCache, props *op.PropCache, startCounter uint64) ([]op.Op, error) {
	localToGlobal := make([]int, len(otherActors)+1)
	localToGlobal[0] = authorGlobal
	for i, a := range otherActors {
		localToGlobal[i+1] = cache.Intern(a)
	}

	need := func(id uint16, typ columnar.ColType, name string) ([]byte, error) {
		c, ok := columnar.FindColumn(cols, id, typ)
		if !ok {
			return nil, errors.Wrapf(crdterr.ErrEncoding, "change: missing ops column %s", name)
		}
		return c.Data, nil
	}

	objActorB, err := need(colObjActor, columnar.ColTypeRLE, "obj_actor")
	if err != nil {
		return nil, err
	}
	objActorItems, err := columnar.DecodeRLE(objActorB)
	if err != nil {
		return nil, errors.Wrap(err, "change: decode obj_actor")
	}
	objCtrB, err := need(colObjCtr, columnar.ColTypeDelta, "obj_ctr")
	if err != nil {
		return nil, err
	}
	objCtrItems, err := columnar.DecodeDelta(objCtrB)
	if err != nil {
		return nil, errors.Wrap(err, "change: decode obj_ctr")
	}

	keyActorB, err := need(colKeyActor, columnar.ColTypeRLE, "key_actor")
	if err != nil {
		return nil, err
	}
	keyActorItems, err := columnar.DecodeRLE(keyActorB)
	if err != nil {
		return nil, errors.Wrap(err, "change: decode key_actor")
	}
	keyCtrB, err := need(colKeyCtr, columnar.ColTypeDelta, "key_ctr")
	if err != nil {
		return nil, err
	}
	keyCtrItems, err := columnar.DecodeDelta(keyCtrB)
	if err != nil {
		return nil, errors.Wrap(err, "change: decode key_ctr")
	}

	keyStrMeta, err := need(colKeyStrMeta, columnar.ColTypeValueMeta, "key_str_meta")
	if err != nil {
		return nil, err
	}
	keyStrRaw, err := need(colKeyStrVal, columnar.ColTypeValue, "key_str_val")
	if err != nil {
		return nil, err
	}
	keyStrVals, err := columnar.DecodeValues(keyStrMeta, keyStrRaw)
	if err != nil {
		return nil, errors.Wrap(err, "change: decode key_str")
	}

	insertB, err := need(colInsert, columnar.ColTypeBoolean, "insert")
	if err != nil {
		return nil, err
	}
	insertBits, err := columnar.DecodeBoolean(insertB)
	if err != nil {
		return nil, errors.Wrap(err, "change: decode insert")
	}

	actionB, err := need(colAction, columnar.ColTypeRLE, "action")
	if err != nil {
		return nil, err
	}
	actionItems, err := columnar.DecodeRLE(actionB)
	if err != nil {
		return nil, errors.Wrap(err, "change: decode action")
	}

	valMeta, err := need(colValMeta, columnar.ColTypeValueMeta, "value_meta")
	if err != nil {
		return nil, err
	}
	valRaw, err := need(colValVal, columnar.ColTypeValue, "value_val")
	if err != nil {
		return nil, err
	}
	valVals, err := columnar.DecodeValues(valMeta, valRaw)
	if err != nil {
		return nil, errors.Wrap(err, "change: decode value")
	}

	markMeta, err := need(colMarkNameMeta, columnar.ColTypeValueMeta, "mark_name_meta")
	if err != nil {
		return nil, err
	}
	markRaw, err := need(colMarkNameVal, columnar.ColTypeValue, "mark_name_val")
	if err != nil {
		return nil, err
	}
	markVals, err := columnar.DecodeValues(markMeta, markRaw)
	if err != nil {
		return nil, errors.Wrap(err, "change: decode mark_name")
	}

	predGroupB, err := need(colPredGroup, columnar.ColTypeGroup, "pred_group")
	if err != nil {
		return nil, err
	}
	predCounts, err := columnar.DecodeGroup(predGroupB)
	if err != nil {
		return nil, errors.Wrap(err, "change: decode pred_group")
	}
	predActorB, err := need(colPredActor, columnar.ColTypeRLE, "pred_actor")
	if err != nil {
		return nil, err
	}
	predActorItems, err := columnar.DecodeRLE(predActorB)
	if err != nil {
		return nil, errors.Wrap(err, "change: decode pred_actor")
	}
	predCtrB, err := need(colPredCtr, columnar.ColTypeDelta, "pred_ctr")
	if err != nil {
		return nil, err
	}
	predCtrItems, err := columnar.DecodeDelta(predCtrB)
	if err != nil {
		return nil, errors.Wrap(err, "change: decode pred_ctr")
	}

	n := len(objActorItems)
	predActorRows := columnar.Ungroup(predActorItems, predCounts)
	predCtrRows := columnar.Ungroup(predCtrItems, predCounts)

	ops := make([]op.Op, n)
	for i := 0; i < n; i++ {
		var obj op.ObjId
		if objCtrItems[i].V == 0 {
			obj = op.RootObj
		} else {
			g := localToGlobal[objActorItems[i].V]
			obj = op.ObjId{OpId: op.OpId{Counter: uint64(objCtrItems[i].V), Actor: g}}
		}

		var key op.Key
		switch {
		case keyActorItems[i].Null:
			name := keyStrVals[i].AsStr()
			key = op.MapKey(props.Intern(name))
		case keyCtrItems[i].V == 0:
			key = op.SeqKey(op.Head)
		default:
			g := localToGlobal[keyActorItems[i].V]
			key = op.SeqKey(op.ElemId{OpId: op.OpId{Counter: uint64(keyCtrItems[i].V), Actor: g}})
		}

		action, err := decodeAction(op.ActionKind(actionItems[i].V), valVals[i], markVals[i])
		if err != nil {
			return nil, err
		}

		preds := make([]op.OpId, len(predActorRows[i]))
		for j := range preds {
			g := localToGlobal[predActorRows[i][j].V]
			preds[j] = op.OpId{Counter: uint64(predCtrRows[i][j].V), Actor: g}
		}

		ops[i] = op.Op{
			ID:     op.OpId{Counter: startCounter + uint64(i), Actor: authorGlobal},
			Obj:    obj,
			Key:    key,
			Action: action,
			Pred:   preds,
			Insert: insertBits[i],
		}
	}
	return ops, nil
}
