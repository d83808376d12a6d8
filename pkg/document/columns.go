// columns.go encodes and decodes the Document chunk body of spec.md
// §6.3: a sorted actor table, a sorted head list, and two independent
// column sets — one row per change, one row per stored op. Unlike a
// Change's wire form (pkg/change/opcolumns.go), actor references here
// index directly into the document's own sorted actor table (there is
// no per-change "other actors" remap, since a document aggregates ops
// from every actor at once), and op rows carry their own id and their
// full succ list rather than a change-relative pred list — the whole
// point of a document snapshot is that visibility can be read straight
// off succ without re-threading pred chains.
package document

import (
	"sort"

	"github.com/pkg/errors"

	"crdt/internal/leb128"
	"crdt/pkg/change"
	"crdt/pkg/chunk"
	"crdt/pkg/columnar"
	"crdt/pkg/crdterr"
	"crdt/pkg/op"
	"crdt/pkg/opset"
)

const (
	colChgActorIdx    uint16 = 0
	colChgSeq         uint16 = 1
	colChgMaxOp       uint16 = 2
	colChgTime        uint16 = 3
	colChgMessageMeta uint16 = 4
	colChgMessageVal  uint16 = 5
	colChgDepsGroup   uint16 = 6
	colChgDepsIdx     uint16 = 7
	colChgExtraMeta   uint16 = 8
	colChgExtraVal    uint16 = 9
)

const (
	colOpsObjActor     uint16 = 0
	colOpsObjCtr       uint16 = 1
	colOpsKeyActor     uint16 = 2
	colOpsKeyCtr       uint16 = 3
	colOpsKeyStrMeta   uint16 = 4
	colOpsKeyStrVal    uint16 = 5
	colOpsIdActor      uint16 = 6
	colOpsIdCtr        uint16 = 7
	colOpsInsert       uint16 = 8
	colOpsAction       uint16 = 9
	colOpsValMeta      uint16 = 10
	colOpsValVal       uint16 = 11
	colOpsMarkNameMeta uint16 = 12
	colOpsMarkNameVal  uint16 = 13
	colOpsSuccGroup    uint16 = 14
	colOpsSuccActor    uint16 = 15
	colOpsSuccCtr      uint16 = 16
)

// Save serializes d's entire change+op history into a Document chunk
// (spec.md §6.3).
func Save(d *Document) ([]byte, error) {
	sortedActors, remap := d.actors.SortedActors()

	order, posByHash, err := canonicalOrder(d.changes)
	if err != nil {
		return nil, errors.Wrap(err, "document: order changes for save")
	}

	changeCols, err := encodeChangeColumns(d.changes, order, posByHash, remap, d.actors)
	if err != nil {
		return nil, errors.Wrap(err, "document: encode change columns")
	}
	opsCols, err := encodeOpsColumns(d.opset.AllRows(), remap, d.props)
	if err != nil {
		return nil, errors.Wrap(err, "document: encode ops columns")
	}

	changeColSet, err := columnar.EncodeColumnSet(changeCols)
	if err != nil {
		return nil, errors.Wrap(err, "document: frame change column set")
	}
	opsColSet, err := columnar.EncodeColumnSet(opsCols)
	if err != nil {
		return nil, errors.Wrap(err, "document: frame ops column set")
	}

	heads := d.Heads()
	sort.Slice(heads, func(i, j int) bool { return heads[i].Compare(heads[j]) < 0 })

	var body []byte
	body = leb128.PutUvarint(body, uint64(len(sortedActors)))
	for _, a := range sortedActors {
		body = leb128.PutBytes(body, a)
	}
	body = leb128.PutUvarint(body, uint64(len(heads)))
	for _, h := range heads {
		body = append(body, h[:]...)
	}
	body = leb128.PutBytes(body, changeColSet)
	body = leb128.PutBytes(body, opsColSet)

	wire, _ := chunk.Encode(chunk.TypeDocument, body)
	return wire, nil
}

// SaveIncremental returns the changes not already implied by
// sinceHeads, each as its own Change chunk concatenated back to back —
// an append log rather than a restructured document snapshot, mirroring
// how the teacher's pkg/wal appends new records instead of rewriting
// the whole file.
func SaveIncremental(d *Document, sinceHeads []chunk.Hash) ([]byte, error) {
	changes, err := d.GetChanges(sinceHeads)
	if err != nil {
		return nil, errors.Wrap(err, "document: select incremental changes")
	}
	var out []byte
	for _, c := range changes {
		wire, _, err := c.Encode(d.actors, d.props)
		if err != nil {
			return nil, errors.Wrap(err, "document: encode incremental change")
		}
		out = append(out, wire...)
	}
	return out, nil
}

// LoadIncremental decodes concatenated Change chunks (as produced by
// SaveIncremental) and applies each in turn. It does not buffer a
// change whose dep hasn't arrived yet — ErrMissingDep propagates
// immediately; a caller wanting apply_changes' buffer-and-retry policy
// (spec.md §7) implements it one level up, in pkg/doc.
func LoadIncremental(d *Document, data []byte) error {
	pos := 0
	for pos < len(data) {
		c, err := chunk.Decode(data[pos:])
		if err != nil {
			return errors.Wrap(err, "document: decode incremental chunk framing")
		}
		chunkLen := chunkWireLen(data[pos:], c)
		parsed, err := change.Decode(c, d.actors, d.props)
		if err != nil {
			return errors.Wrap(err, "document: decode incremental change")
		}
		if _, err := d.AddChange(parsed); err != nil {
			return errors.Wrap(err, "document: apply incremental change")
		}
		pos += chunkLen
	}
	return nil
}

// chunkWireLen recovers how many bytes of data the chunk c (just
// decoded from the front of data) actually occupied, so the caller can
// advance past it to the next concatenated chunk.
func chunkWireLen(data []byte, c *chunk.Chunk) int {
	head := 9 // magic(4) + checksum(4) + type(1)
	_, n, _ := leb128.GetUvarint(data[head:])
	return head + n + len(c.Body)
}

// Load parses a Document chunk into a fresh Document.
func Load(data []byte, mode VerificationMode) (*Document, error) {
	c, err := chunk.Decode(data)
	if err != nil {
		return nil, errors.Wrap(err, "document: decode chunk framing")
	}
	if c.Type != chunk.TypeDocument {
		return nil, errors.Wrapf(crdterr.ErrEncoding, "document: chunk type %d is not a Document", c.Type)
	}

	body := c.Body
	pos := 0

	actorCount, n, err := leb128.GetUvarint(body[pos:])
	if err != nil {
		return nil, errors.Wrap(crdterr.ErrEncoding, "document: decode actors_count")
	}
	pos += n
	d := New()
	for i := uint64(0); i < actorCount; i++ {
		a, n, err := leb128.GetBytes(body[pos:])
		if err != nil {
			return nil, errors.Wrap(crdterr.ErrEncoding, "document: decode actor")
		}
		pos += n
		if idx := d.actors.Intern(a); idx != int(i) {
			return nil, errors.Wrapf(crdterr.ErrEncoding, "document: actor table not contiguous at %d", i)
		}
	}

	headCount, n, err := leb128.GetUvarint(body[pos:])
	if err != nil {
		return nil, errors.Wrap(crdterr.ErrEncoding, "document: decode heads_count")
	}
	pos += n
	declaredHeads := make([]chunk.Hash, headCount)
	for i := range declaredHeads {
		if pos+32 > len(body) {
			return nil, errors.Wrap(crdterr.ErrEncoding, "document: truncated heads")
		}
		copy(declaredHeads[i][:], body[pos:pos+32])
		pos += 32
	}

	changeColSetBytes, n, err := leb128.GetBytes(body[pos:])
	if err != nil {
		return nil, errors.Wrap(crdterr.ErrEncoding, "document: decode change column set")
	}
	pos += n
	opsColSetBytes, n, err := leb128.GetBytes(body[pos:])
	if err != nil {
		return nil, errors.Wrap(crdterr.ErrEncoding, "document: decode ops column set")
	}
	pos += n

	var changeCols, opsCols []columnar.RawColumn
	if len(changeColSetBytes) > 0 {
		changeCols, err = columnar.DecodeColumnSet(changeColSetBytes)
		if err != nil {
			return nil, errors.Wrap(err, "document: decode change columns")
		}
	}
	if len(opsColSetBytes) > 0 {
		opsCols, err = columnar.DecodeColumnSet(opsColSetBytes)
		if err != nil {
			return nil, errors.Wrap(err, "document: decode ops columns")
		}
	}

	opsByActor, err := loadOps(d, opsCols)
	if err != nil {
		return nil, err
	}
	if err := loadChanges(d, changeCols, opsByActor); err != nil {
		return nil, err
	}

	if mode == Check {
		got := append([]chunk.Hash(nil), d.Heads()...)
		sort.Slice(got, func(i, j int) bool { return got[i].Compare(got[j]) < 0 })
		sort.Slice(declaredHeads, func(i, j int) bool { return declaredHeads[i].Compare(declaredHeads[j]) < 0 })
		if !sameHashes(got, declaredHeads) {
			return nil, errors.Wrapf(crdterr.ErrMismatchingHeads,
				"document: reconstructed %d heads, chunk declared %d", len(got), len(declaredHeads))
		}
	}

	return d, nil
}

func sameHashes(a, b []chunk.Hash) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// canonicalOrder computes a deterministic topological order over
// changes: repeatedly take the change, among those whose deps are all
// already placed, with the lexicographically smallest (actor bytes,
// seq) — so two replicas that merged the same changes in different
// local orders still save byte-identical output (spec.md §8 property
// 3, convergence).
func canonicalOrder(changes []*change.Change) (order []int, posByHash map[chunk.Hash]int, err error) {
	n := len(changes)
	hashes := make([]chunk.Hash, n)
	byHash := make(map[chunk.Hash]int, n)
	for i, c := range changes {
		h, ok := c.Hash()
		if !ok {
			return nil, nil, errors.New("document: change missing hash")
		}
		hashes[i] = h
		byHash[h] = i
	}

	indeg := make([]int, n)
	children := make([][]int, n)
	for i, c := range changes {
		for _, dep := range c.Deps {
			di, ok := byHash[dep]
			if !ok {
				continue // dep outside this save's change set
			}
			indeg[i]++
			children[di] = append(children[di], i)
		}
	}

	placed := make([]bool, n)
	order = make([]int, 0, n)
	for len(order) < n {
		best := -1
		for i := 0; i < n; i++ {
			if placed[i] || indeg[i] != 0 {
				continue
			}
			if best == -1 || readyLess(changes[i], changes[best]) {
				best = i
			}
		}
		if best == -1 {
			return nil, nil, errors.New("document: change dependency cycle or unresolved dep")
		}
		placed[best] = true
		order = append(order, best)
		for _, ch := range children[best] {
			indeg[ch]--
		}
	}

	posByHash = make(map[chunk.Hash]int, n)
	for pos, idx := range order {
		posByHash[hashes[idx]] = pos
	}
	return order, posByHash, nil
}

func readyLess(a, b *change.Change) bool {
	if c := a.Actor.Compare(b.Actor); c != 0 {
		return c < 0
	}
	return a.Seq < b.Seq
}

func encodeChangeColumns(changes []*change.Change, order []int, posByHash map[chunk.Hash]int, remap []int, actors *op.ActorCache) ([]columnar.RawColumn, error) {
	n := len(order)
	actorIdx := make([]columnar.UintItem, n)
	seq := make([]columnar.IntItem, n)
	maxOp := make([]columnar.IntItem, n)
	time := make([]columnar.IntItem, n)
	messages := make([]op.ScalarValue, n)
	extras := make([]op.ScalarValue, n)
	depsCounts := make([]uint64, n)
	var depsFlat []columnar.IntItem

	for pos, idx := range order {
		c := changes[idx]
		global := actors.Intern(c.Actor)
		actorIdx[pos] = columnar.Present(uint64(remap[global]))
		seq[pos] = columnar.PresentInt(int64(c.Seq))
		maxOp[pos] = columnar.PresentInt(int64(c.MaxOp()))
		time[pos] = columnar.PresentInt(c.Time)
		if c.HasMessage {
			messages[pos] = op.Str(c.Message)
		} else {
			messages[pos] = op.Null()
		}
		extras[pos] = op.Bytes(c.ExtraBytes)

		depsCounts[pos] = uint64(len(c.Deps))
		for _, dep := range c.Deps {
			depPos, ok := posByHash[dep]
			if !ok {
				return nil, errors.Errorf("document: change dep %x not present in save set", dep)
			}
			depsFlat = append(depsFlat, columnar.PresentInt(int64(depPos)))
		}
	}

	msgMeta, msgVal := columnar.EncodeValues(messages)
	extraMeta, extraVal := columnar.EncodeValues(extras)

	cols := []columnar.RawColumn{
		{Spec: columnar.NewColumnSpec(colChgActorIdx, columnar.ColTypeRLE, false), Data: columnar.EncodeRLE(actorIdx)},
		{Spec: columnar.NewColumnSpec(colChgSeq, columnar.ColTypeDelta, false), Data: columnar.EncodeDelta(seq)},
		{Spec: columnar.NewColumnSpec(colChgMaxOp, columnar.ColTypeDelta, false), Data: columnar.EncodeDelta(maxOp)},
		{Spec: columnar.NewColumnSpec(colChgTime, columnar.ColTypeDelta, false), Data: columnar.EncodeDelta(time)},
		{Spec: columnar.NewColumnSpec(colChgMessageMeta, columnar.ColTypeValueMeta, false), Data: msgMeta},
		{Spec: columnar.NewColumnSpec(colChgMessageVal, columnar.ColTypeValue, false), Data: msgVal},
		{Spec: columnar.NewColumnSpec(colChgDepsGroup, columnar.ColTypeGroup, false), Data: columnar.EncodeGroup(depsCounts)},
		{Spec: columnar.NewColumnSpec(colChgDepsIdx, columnar.ColTypeDelta, false), Data: columnar.EncodeDelta(depsFlat)},
		{Spec: columnar.NewColumnSpec(colChgExtraMeta, columnar.ColTypeValueMeta, false), Data: extraMeta},
		{Spec: columnar.NewColumnSpec(colChgExtraVal, columnar.ColTypeValue, false), Data: extraVal},
	}
	columnar.SortColumns(cols)
	return cols, nil
}

func encodeOpsColumns(rows []*opset.Row, remap []int, props *op.PropCache) ([]columnar.RawColumn, error) {
	n := len(rows)
	objActor := make([]columnar.UintItem, n)
	objCtr := make([]columnar.IntItem, n)
	keyActor := make([]columnar.UintItem, n)
	keyCtr := make([]columnar.IntItem, n)
	keyStrVals := make([]op.ScalarValue, n)
	idActor := make([]columnar.UintItem, n)
	idCtr := make([]columnar.IntItem, n)
	insertBits := make([]bool, n)
	actionItems := make([]columnar.UintItem, n)
	valueVals := make([]op.ScalarValue, n)
	markNameVals := make([]op.ScalarValue, n)
	succCounts := make([]uint64, n)
	var succActorFlat []columnar.UintItem
	var succCtrFlat []columnar.IntItem

	for i, row := range rows {
		o := row.Op

		if o.Obj.Counter == 0 {
			objActor[i] = columnar.Present(0)
			objCtr[i] = columnar.PresentInt(0)
		} else {
			objActor[i] = columnar.Present(uint64(remap[o.Obj.Actor]))
			objCtr[i] = columnar.PresentInt(int64(o.Obj.Counter))
		}

		if o.Key.IsMap() {
			keyActor[i] = columnar.Nil()
			keyCtr[i] = columnar.NilInt()
			name, ok := props.Get(o.Key.Prop)
			if !ok {
				return nil, errors.Wrap(crdterr.ErrInvalidProp, "document: op key references unknown prop")
			}
			keyStrVals[i] = op.Str(name)
		} else if o.Key.Elem.Counter == 0 {
			keyActor[i] = columnar.Present(0)
			keyCtr[i] = columnar.PresentInt(0)
			keyStrVals[i] = op.Null()
		} else {
			keyActor[i] = columnar.Present(uint64(remap[o.Key.Elem.Actor]))
			keyCtr[i] = columnar.PresentInt(int64(o.Key.Elem.Counter))
			keyStrVals[i] = op.Null()
		}

		idActor[i] = columnar.Present(uint64(remap[o.ID.Actor]))
		idCtr[i] = columnar.PresentInt(int64(o.ID.Counter))

		insertBits[i] = o.Insert
		actionItems[i] = columnar.Present(uint64(o.Action.Action))

		value, markName, err := encodeOpAction(o.Action)
		if err != nil {
			return nil, err
		}
		valueVals[i] = value
		markNameVals[i] = markName

		succCounts[i] = uint64(len(row.Succ))
		for _, su := range row.Succ {
			succActorFlat = append(succActorFlat, columnar.Present(uint64(remap[su.ID.Actor])))
			succCtrFlat = append(succCtrFlat, columnar.PresentInt(int64(su.ID.Counter)))
		}
	}

	keyStrMeta, keyStrRaw := columnar.EncodeValues(keyStrVals)
	valMeta, valRaw := columnar.EncodeValues(valueVals)
	markMeta, markRaw := columnar.EncodeValues(markNameVals)

	cols := []columnar.RawColumn{
		{Spec: columnar.NewColumnSpec(colOpsObjActor, columnar.ColTypeRLE, false), Data: columnar.EncodeRLE(objActor)},
		{Spec: columnar.NewColumnSpec(colOpsObjCtr, columnar.ColTypeDelta, false), Data: columnar.EncodeDelta(objCtr)},
		{Spec: columnar.NewColumnSpec(colOpsKeyActor, columnar.ColTypeRLE, false), Data: columnar.EncodeRLE(keyActor)},
		{Spec: columnar.NewColumnSpec(colOpsKeyCtr, columnar.ColTypeDelta, false), Data: columnar.EncodeDelta(keyCtr)},
		{Spec: columnar.NewColumnSpec(colOpsKeyStrMeta, columnar.ColTypeValueMeta, false), Data: keyStrMeta},
		{Spec: columnar.NewColumnSpec(colOpsKeyStrVal, columnar.ColTypeValue, false), Data: keyStrRaw},
		{Spec: columnar.NewColumnSpec(colOpsIdActor, columnar.ColTypeRLE, false), Data: columnar.EncodeRLE(idActor)},
		{Spec: columnar.NewColumnSpec(colOpsIdCtr, columnar.ColTypeDelta, false), Data: columnar.EncodeDelta(idCtr)},
		{Spec: columnar.NewColumnSpec(colOpsInsert, columnar.ColTypeBoolean, false), Data: columnar.EncodeBoolean(insertBits)},
		{Spec: columnar.NewColumnSpec(colOpsAction, columnar.ColTypeRLE, false), Data: columnar.EncodeRLE(actionItems)},
		{Spec: columnar.NewColumnSpec(colOpsValMeta, columnar.ColTypeValueMeta, false), Data: valMeta},
		{Spec: columnar.NewColumnSpec(colOpsValVal, columnar.ColTypeValue, false), Data: valRaw},
		{Spec: columnar.NewColumnSpec(colOpsMarkNameMeta, columnar.ColTypeValueMeta, false), Data: markMeta},
		{Spec: columnar.NewColumnSpec(colOpsMarkNameVal, columnar.ColTypeValue, false), Data: markRaw},
		{Spec: columnar.NewColumnSpec(colOpsSuccGroup, columnar.ColTypeGroup, false), Data: columnar.EncodeGroup(succCounts)},
		{Spec: columnar.NewColumnSpec(colOpsSuccActor, columnar.ColTypeRLE, false), Data: columnar.EncodeRLE(succActorFlat)},
		{Spec: columnar.NewColumnSpec(colOpsSuccCtr, columnar.ColTypeDelta, false), Data: columnar.EncodeDelta(succCtrFlat)},
	}
	columnar.SortColumns(cols)
	return cols, nil
}

func encodeOpAction(a op.OpType) (value, markName op.ScalarValue, err error) {
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
		return op.ScalarValue{}, op.ScalarValue{}, errors.Wrapf(crdterr.ErrEncoding, "document: unknown action kind %d", a.Action)
	}
}

func decodeOpAction(kind op.ActionKind, value, markName op.ScalarValue) (op.OpType, error) {
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
		return op.OpType{}, errors.Wrapf(crdterr.ErrEncoding, "document: unknown action kind %d", kind)
	}
}

func need(cols []columnar.RawColumn, id uint16, typ columnar.ColType, name string) ([]byte, error) {
	c, ok := columnar.FindColumn(cols, id, typ)
	if !ok {
		return nil, errors.Wrapf(crdterr.ErrEncoding, "document: missing column %s", name)
	}
	return c.Data, nil
}

// loadOps decodes the ops column set, registering every row into
// d.opset via LoadOp in the file's stored order, which must already be
// canonical (ascending OpId) — the same order AllRows would produce on
// save. Returns a per-actor (counter -> op) index so loadChanges can
// slice out each change's op range.
func loadOps(d *Document, cols []columnar.RawColumn) (map[int]map[uint64]op.Op, error) {
	opsByActor := make(map[int]map[uint64]op.Op)
	if len(cols) == 0 {
		return opsByActor, nil
	}

	objActorB, err := need(cols, colOpsObjActor, columnar.ColTypeRLE, "obj_actor")
	if err != nil {
		return nil, err
	}
	objActorItems, err := columnar.DecodeRLE(objActorB)
	if err != nil {
		return nil, errors.Wrap(err, "document: decode obj_actor")
	}
	objCtrB, err := need(cols, colOpsObjCtr, columnar.ColTypeDelta, "obj_ctr")
	if err != nil {
		return nil, err
	}
	objCtrItems, err := columnar.DecodeDelta(objCtrB)
	if err != nil {
		return nil, errors.Wrap(err, "document: decode obj_ctr")
	}
	keyActorB, err := need(cols, colOpsKeyActor, columnar.ColTypeRLE, "key_actor")
	if err != nil {
		return nil, err
	}
	keyActorItems, err := columnar.DecodeRLE(keyActorB)
	if err != nil {
		return nil, errors.Wrap(err, "document: decode key_actor")
	}
	keyCtrB, err := need(cols, colOpsKeyCtr, columnar.ColTypeDelta, "key_ctr")
	if err != nil {
		return nil, err
	}
	keyCtrItems, err := columnar.DecodeDelta(keyCtrB)
	if err != nil {
		return nil, errors.Wrap(err, "document: decode key_ctr")
	}
	keyStrMeta, err := need(cols, colOpsKeyStrMeta, columnar.ColTypeValueMeta, "key_str_meta")
	if err != nil {
		return nil, err
	}
	keyStrRaw, err := need(cols, colOpsKeyStrVal, columnar.ColTypeValue, "key_str_val")
	if err != nil {
		return nil, err
	}
	keyStrVals, err := columnar.DecodeValues(keyStrMeta, keyStrRaw)
	if err != nil {
		return nil, errors.Wrap(err, "document: decode key_str")
	}
	idActorB, err := need(cols, colOpsIdActor, columnar.ColTypeRLE, "id_actor")
	if err != nil {
		return nil, err
	}
	idActorItems, err := columnar.DecodeRLE(idActorB)
	if err != nil {
		return nil, errors.Wrap(err, "document: decode id_actor")
	}
	idCtrB, err := need(cols, colOpsIdCtr, columnar.ColTypeDelta, "id_ctr")
	if err != nil {
		return nil, err
	}
	idCtrItems, err := columnar.DecodeDelta(idCtrB)
	if err != nil {
		return nil, errors.Wrap(err, "document: decode id_ctr")
	}
	insertB, err := need(cols, colOpsInsert, columnar.ColTypeBoolean, "insert")
	if err != nil {
		return nil, err
	}
	insertBits, err := columnar.DecodeBoolean(insertB)
	if err != nil {
		return nil, errors.Wrap(err, "document: decode insert")
	}
	actionB, err := need(cols, colOpsAction, columnar.ColTypeRLE, "action")
	if err != nil {
		return nil, err
	}
	actionItems, err := columnar.DecodeRLE(actionB)
	if err != nil {
		return nil, errors.Wrap(err, "document: decode action")
	}
	valMeta, err := need(cols, colOpsValMeta, columnar.ColTypeValueMeta, "value_meta")
	if err != nil {
		return nil, err
	}
	valRaw, err := need(cols, colOpsValVal, columnar.ColTypeValue, "value_val")
	if err != nil {
		return nil, err
	}
	valVals, err := columnar.DecodeValues(valMeta, valRaw)
	if err != nil {
		return nil, errors.Wrap(err, "document: decode value")
	}
	markMeta, err := need(cols, colOpsMarkNameMeta, columnar.ColTypeValueMeta, "mark_name_meta")
	if err != nil {
		return nil, err
	}
	markRaw, err := need(cols, colOpsMarkNameVal, columnar.ColTypeValue, "mark_name_val")
	if err != nil {
		return nil, err
	}
	markVals, err := columnar.DecodeValues(markMeta, markRaw)
	if err != nil {
		return nil, errors.Wrap(err, "document: decode mark_name")
	}
	succGroupB, err := need(cols, colOpsSuccGroup, columnar.ColTypeGroup, "succ_group")
	if err != nil {
		return nil, err
	}
	succCounts, err := columnar.DecodeGroup(succGroupB)
	if err != nil {
		return nil, errors.Wrap(err, "document: decode succ_group")
	}
	succActorB, err := need(cols, colOpsSuccActor, columnar.ColTypeRLE, "succ_actor")
	if err != nil {
		return nil, err
	}
	succActorItems, err := columnar.DecodeRLE(succActorB)
	if err != nil {
		return nil, errors.Wrap(err, "document: decode succ_actor")
	}
	succCtrB, err := need(cols, colOpsSuccCtr, columnar.ColTypeDelta, "succ_ctr")
	if err != nil {
		return nil, err
	}
	succCtrItems, err := columnar.DecodeDelta(succCtrB)
	if err != nil {
		return nil, errors.Wrap(err, "document: decode succ_ctr")
	}

	n := len(objActorItems)
	succActorRows := columnar.Ungroup(succActorItems, succCounts)
	succCtrRows := columnar.Ungroup(succCtrItems, succCounts)

	ops := make([]op.Op, n)
	rawSucc := make([][]op.OpId, n)
	isIncrement := make(map[op.OpId]bool, n)

	for i := 0; i < n; i++ {
		var obj op.ObjId
		if objCtrItems[i].V == 0 {
			obj = op.RootObj
		} else {
			obj = op.ObjId{OpId: op.OpId{Counter: uint64(objCtrItems[i].V), Actor: int(objActorItems[i].V)}}
		}

		var key op.Key
		switch {
		case keyActorItems[i].Null:
			key = op.MapKey(d.props.Intern(keyStrVals[i].AsStr()))
		case keyCtrItems[i].V == 0:
			key = op.SeqKey(op.Head)
		default:
			key = op.SeqKey(op.ElemId{OpId: op.OpId{Counter: uint64(keyCtrItems[i].V), Actor: int(keyActorItems[i].V)}})
		}

		action, err := decodeOpAction(op.ActionKind(actionItems[i].V), valVals[i], markVals[i])
		if err != nil {
			return nil, err
		}

		id := op.OpId{Counter: uint64(idCtrItems[i].V), Actor: int(idActorItems[i].V)}
		if i > 0 {
			prevID := ops[i-1].ID
			if !prevID.Less(id) {
				return nil, errors.Wrapf(crdterr.ErrOpsOutOfOrder, "document: op %v does not sort after %v", id, prevID)
			}
		}

		ops[i] = op.Op{ID: id, Obj: obj, Key: key, Action: action, Insert: insertBits[i]}
		isIncrement[id] = action.IsIncrement()

		succ := make([]op.OpId, len(succActorRows[i]))
		for j := range succ {
			succ[j] = op.OpId{Counter: uint64(succCtrRows[i][j].V), Actor: int(succActorRows[i][j].V)}
		}
		rawSucc[i] = succ
	}

	for i, o := range ops {
		if err := d.opset.LoadOp(o, rawSucc[i], func(id op.OpId) bool { return isIncrement[id] }); err != nil {
			return nil, errors.Wrap(err, "document: load op")
		}
		byCounter, ok := opsByActor[o.ID.Actor]
		if !ok {
			byCounter = make(map[uint64]op.Op)
			opsByActor[o.ID.Actor] = byCounter
		}
		byCounter[o.ID.Counter] = o
	}
	return opsByActor, nil
}

// loadChanges decodes the change column set in file order (required to
// already be a valid topological order — each change's deps must have
// strictly smaller positions), reconstructing each Change's hash by
// re-encoding it and recording it into the change graph.
func loadChanges(d *Document, cols []columnar.RawColumn, opsByActor map[int]map[uint64]op.Op) error {
	if len(cols) == 0 {
		return nil
	}

	actorIdxB, err := need(cols, colChgActorIdx, columnar.ColTypeRLE, "actor_idx")
	if err != nil {
		return err
	}
	actorIdxItems, err := columnar.DecodeRLE(actorIdxB)
	if err != nil {
		return errors.Wrap(err, "document: decode actor_idx")
	}
	seqB, err := need(cols, colChgSeq, columnar.ColTypeDelta, "seq")
	if err != nil {
		return err
	}
	seqItems, err := columnar.DecodeDelta(seqB)
	if err != nil {
		return errors.Wrap(err, "document: decode seq")
	}
	maxOpB, err := need(cols, colChgMaxOp, columnar.ColTypeDelta, "max_op")
	if err != nil {
		return err
	}
	maxOpItems, err := columnar.DecodeDelta(maxOpB)
	if err != nil {
		return errors.Wrap(err, "document: decode max_op")
	}
	timeB, err := need(cols, colChgTime, columnar.ColTypeDelta, "time")
	if err != nil {
		return err
	}
	timeItems, err := columnar.DecodeDelta(timeB)
	if err != nil {
		return errors.Wrap(err, "document: decode time")
	}
	msgMeta, err := need(cols, colChgMessageMeta, columnar.ColTypeValueMeta, "message_meta")
	if err != nil {
		return err
	}
	msgRaw, err := need(cols, colChgMessageVal, columnar.ColTypeValue, "message_val")
	if err != nil {
		return err
	}
	msgVals, err := columnar.DecodeValues(msgMeta, msgRaw)
	if err != nil {
		return errors.Wrap(err, "document: decode message")
	}
	extraMeta, err := need(cols, colChgExtraMeta, columnar.ColTypeValueMeta, "extra_meta")
	if err != nil {
		return err
	}
	extraRaw, err := need(cols, colChgExtraVal, columnar.ColTypeValue, "extra_val")
	if err != nil {
		return err
	}
	extraVals, err := columnar.DecodeValues(extraMeta, extraRaw)
	if err != nil {
		return errors.Wrap(err, "document: decode extra")
	}
	depsGroupB, err := need(cols, colChgDepsGroup, columnar.ColTypeGroup, "deps_group")
	if err != nil {
		return err
	}
	depsCounts, err := columnar.DecodeGroup(depsGroupB)
	if err != nil {
		return errors.Wrap(err, "document: decode deps_group")
	}
	depsIdxB, err := need(cols, colChgDepsIdx, columnar.ColTypeDelta, "deps_idx")
	if err != nil {
		return err
	}
	depsIdxItems, err := columnar.DecodeDelta(depsIdxB)
	if err != nil {
		return errors.Wrap(err, "document: decode deps_idx")
	}
	depsRows := columnar.Ungroup(depsIdxItems, depsCounts)

	n := len(actorIdxItems)
	hashesByPos := make([]chunk.Hash, n)
	nextStartOp := make(map[int]uint64)

	for pos := 0; pos < n; pos++ {
		actorIdx := int(actorIdxItems[pos].V)
		actorBytes, ok := d.actors.Get(actorIdx)
		if !ok {
			return errors.Wrapf(crdterr.ErrEncoding, "document: change references unknown actor %d", actorIdx)
		}
		maxOp := uint64(maxOpItems[pos].V)
		startOp := nextStartOp[actorIdx]
		if startOp == 0 {
			startOp = 1
		}
		nextStartOp[actorIdx] = maxOp + 1

		deps := make([]chunk.Hash, len(depsRows[pos]))
		for j, di := range depsRows[pos] {
			depPos := int(di.V)
			if depPos < 0 || depPos >= pos {
				return errors.Wrapf(crdterr.ErrOpsOutOfOrder, "document: change at position %d depends on non-earlier position %d", pos, depPos)
			}
			deps[j] = hashesByPos[depPos]
		}

		byCounter := opsByActor[actorIdx]
		var ops []op.Op
		if maxOp >= startOp {
			ops = make([]op.Op, 0, maxOp-startOp+1)
			for ctr := startOp; ctr <= maxOp; ctr++ {
				o, ok := byCounter[ctr]
				if !ok {
					return errors.Wrapf(crdterr.ErrEncoding, "document: missing op (actor %d, counter %d) for change", actorIdx, ctr)
				}
				ops = append(ops, o)
			}
		}

		msg := msgVals[pos]
		c := &change.Change{
			Actor:      actorBytes,
			Seq:        uint64(seqItems[pos].V),
			StartOp:    startOp,
			Time:       timeItems[pos].V,
			Message:    msg.AsStr(),
			HasMessage: !msg.IsNull(),
			Deps:       deps,
			Ops:        ops,
			ExtraBytes: extraVals[pos].AsBytes(),
		}

		hash, err := d.recordChange(c)
		if err != nil {
			return errors.Wrapf(err, "document: record reconstructed change at position %d", pos)
		}
		hashesByPos[pos] = hash
	}
	return nil
}
