package document

import (
	"errors"
	"testing"

	"crdt/internal/leb128"
	"crdt/pkg/change"
	"crdt/pkg/chunk"
	"crdt/pkg/crdterr"
	"crdt/pkg/op"
)

// sampleDocument builds a two-change history from a single actor: a list
// with one text element and a bold mark spanning it, plus a counter that
// gets incremented in the first change and deleted in the second. Mirrors
// pkg/change's buildSample, but applied through Document.AddChange instead
// of only encoded, so it exercises the OpSet directly.
func sampleDocument(t *testing.T, actorA op.ActorId) (d *Document, hash1, hash2 chunk.Hash) {
	t.Helper()
	d = New()
	gA := d.Actors().Intern(actorA)
	propTodos := d.Props().Intern("todos")
	propCount := d.Props().Intern("count")

	const startOp1 = uint64(1)
	listID := op.OpId{Counter: startOp1, Actor: gA}
	listObj := op.ObjId{OpId: listID}
	elem1 := op.OpId{Counter: startOp1 + 1, Actor: gA}

	ops1 := []op.Op{
		{ID: listID, Obj: op.RootObj, Key: op.MapKey(propTodos), Action: op.MakeList()},
		{ID: elem1, Obj: listObj, Key: op.SeqKey(op.Head), Insert: true, Action: op.Put(op.Str("buy milk"))},
		{ID: op.OpId{Counter: startOp1 + 2, Actor: gA}, Obj: listObj,
			Key: op.SeqKey(op.ElemId{OpId: elem1}), Insert: true, Action: op.MarkBegin("bold", op.Boolean(true))},
		{ID: op.OpId{Counter: startOp1 + 3, Actor: gA}, Obj: listObj,
			Key: op.SeqKey(op.ElemId{OpId: op.OpId{Counter: startOp1 + 2, Actor: gA}}), Insert: true, Action: op.MarkEnd(true)},
		{ID: op.OpId{Counter: startOp1 + 4, Actor: gA}, Obj: op.RootObj,
			Key: op.MapKey(propCount), Action: op.Put(op.Counter(0))},
		{ID: op.OpId{Counter: startOp1 + 5, Actor: gA}, Obj: op.RootObj,
			Key: op.MapKey(propCount), Action: op.Increment(5),
			Pred: []op.OpId{{Counter: startOp1 + 4, Actor: gA}}},
	}
	c1 := &change.Change{
		Actor: actorA, Seq: 1, StartOp: startOp1, Time: 1700000000,
		Message: "seed todos", HasMessage: true, Ops: ops1,
	}
	hash1, err := d.AddChange(c1)
	if err != nil {
		t.Fatalf("add change 1: %v", err)
	}

	const startOp2 = uint64(7)
	ops2 := []op.Op{
		{ID: op.OpId{Counter: startOp2, Actor: gA}, Obj: op.RootObj,
			Key: op.MapKey(propCount), Action: op.Delete(),
			Pred: []op.OpId{{Counter: startOp1 + 4, Actor: gA}}},
	}
	c2 := &change.Change{
		Actor: actorA, Seq: 2, StartOp: startOp2, Time: 1700000100,
		Deps: []chunk.Hash{hash1}, Ops: ops2,
	}
	hash2, err = d.AddChange(c2)
	if err != nil {
		t.Fatalf("add change 2: %v", err)
	}
	return d, hash1, hash2
}

func TestDocumentAddChangeAndQueries(t *testing.T) {
	actorA := op.NewActorId()
	d, hash1, hash2 := sampleDocument(t, actorA)

	heads := d.Heads()
	if len(heads) != 1 || heads[0] != hash2 {
		t.Fatalf("heads = %v, want [%x]", heads, hash2)
	}

	if _, ok := d.GetChangeByHash(hash1); !ok {
		t.Fatal("expected change 1 to be found by hash")
	}
	got2, ok := d.GetChangeByHash(hash2)
	if !ok || got2.Seq != 2 {
		t.Fatal("expected change 2 to be found by hash")
	}

	all, err := d.GetChanges(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("GetChanges(nil) returned %d changes, want 2", len(all))
	}

	since, err := d.GetChanges([]chunk.Hash{hash1})
	if err != nil {
		t.Fatal(err)
	}
	if len(since) != 1 || since[0] != all[1] {
		t.Fatal("GetChanges([hash1]) should return only change 2")
	}

	unknown := chunk.Hash{9, 9, 9}
	missing := d.GetMissingDeps([]chunk.Hash{hash1, unknown})
	if len(missing) != 1 || missing[0] != unknown {
		t.Fatalf("GetMissingDeps should report only the unknown hash, got %v", missing)
	}
}

func TestDocumentSaveLoadRoundTrip(t *testing.T) {
	actorA := op.NewActorId()
	d, hash1, hash2 := sampleDocument(t, actorA)

	wire, err := Save(d)
	if err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(wire, Check)
	if err != nil {
		t.Fatal(err)
	}

	gotHeads := loaded.Heads()
	if len(gotHeads) != 1 || gotHeads[0] != hash2 {
		t.Fatalf("loaded heads = %v, want [%x]", gotHeads, hash2)
	}
	if _, ok := loaded.GetChangeByHash(hash1); !ok {
		t.Fatal("loaded document missing change 1")
	}

	wantChanges := d.Changes()
	gotChanges := loaded.Changes()
	if len(gotChanges) != len(wantChanges) {
		t.Fatalf("got %d changes, want %d", len(gotChanges), len(wantChanges))
	}
	for i := range wantChanges {
		if gotChanges[i].Seq != wantChanges[i].Seq || gotChanges[i].StartOp != wantChanges[i].StartOp {
			t.Fatalf("change %d header mismatch: got %+v want %+v", i, gotChanges[i], wantChanges[i])
		}
		if len(gotChanges[i].Ops) != len(wantChanges[i].Ops) {
			t.Fatalf("change %d op count mismatch: got %d want %d", i, len(gotChanges[i].Ops), len(wantChanges[i].Ops))
		}
	}

	wantRows := d.OpSet().AllRows()
	gotRows := loaded.OpSet().AllRows()
	if len(gotRows) != len(wantRows) {
		t.Fatalf("got %d op rows, want %d", len(gotRows), len(wantRows))
	}

	propTodos := loaded.Props().Intern("todos")
	listVal, ok, err := loaded.OpSet().Get(op.RootObj, op.MapKey(propTodos))
	if err != nil || !ok || !listVal.IsObject {
		t.Fatalf("expected todos list to survive load: ok=%v err=%v", ok, err)
	}

	n, err := loaded.OpSet().Length(listVal.Obj)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Fatalf("want 3 elements in todos (text + mark begin/end), got %d", n)
	}

	items, err := loaded.OpSet().ListRange(listVal.Obj, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Scalar.AsStr() != "buy milk" {
		t.Fatalf("want first element %q, got %+v", "buy milk", items)
	}

	spans, err := loaded.OpSet().Marks(listVal.Obj)
	if err != nil {
		t.Fatal(err)
	}
	if len(spans) != 1 || spans[0].Name != "bold" {
		t.Fatalf("want one bold span, got %+v", spans)
	}

	propCount := loaded.Props().Intern("count")
	if _, ok, err := loaded.OpSet().Get(op.RootObj, op.MapKey(propCount)); err != nil || ok {
		t.Fatalf("count should have been deleted by change 2: ok=%v err=%v", ok, err)
	}
}

func TestDocumentSaveLoadTwoActors(t *testing.T) {
	d := New()
	actorA := op.NewActorId()
	actorB := op.NewActorId()
	gA := d.Actors().Intern(actorA)
	propNotes := d.Props().Intern("notes")

	textID := op.OpId{Counter: 1, Actor: gA}
	textObj := op.ObjId{OpId: textID}
	elemA1 := op.OpId{Counter: 2, Actor: gA}
	elemA2 := op.OpId{Counter: 3, Actor: gA}

	c1 := &change.Change{
		Actor: actorA, Seq: 1, StartOp: 1, Time: 1700000000,
		Ops: []op.Op{
			{ID: textID, Obj: op.RootObj, Key: op.MapKey(propNotes), Action: op.MakeText()},
			{ID: elemA1, Obj: textObj, Key: op.SeqKey(op.Head), Insert: true, Action: op.Put(op.Str("a"))},
			{ID: elemA2, Obj: textObj, Key: op.SeqKey(op.ElemId{OpId: elemA1}), Insert: true, Action: op.Put(op.Str("b"))},
		},
	}
	hash1, err := d.AddChange(c1)
	if err != nil {
		t.Fatalf("add change 1: %v", err)
	}

	gB := d.Actors().Intern(actorB)
	c2 := &change.Change{
		Actor: actorB, Seq: 1, StartOp: 1, Time: 1700000100, Deps: []chunk.Hash{hash1},
		Ops: []op.Op{
			{ID: op.OpId{Counter: 1, Actor: gB}, Obj: textObj,
				Key: op.SeqKey(op.ElemId{OpId: elemA2}), Insert: true, Action: op.Put(op.Str("c"))},
		},
	}
	hash2, err := d.AddChange(c2)
	if err != nil {
		t.Fatalf("add change 2: %v", err)
	}

	wire, err := Save(d)
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(wire, Check)
	if err != nil {
		t.Fatal(err)
	}

	gotHeads := loaded.Heads()
	if len(gotHeads) != 1 || gotHeads[0] != hash2 {
		t.Fatalf("loaded heads = %v, want [%x]", gotHeads, hash2)
	}

	notesIdx := loaded.Props().Intern("notes")
	val, ok, err := loaded.OpSet().Get(op.RootObj, op.MapKey(notesIdx))
	if err != nil || !ok || !val.IsObject {
		t.Fatalf("expected notes text object to survive load: ok=%v err=%v", ok, err)
	}
	text, err := loaded.OpSet().Text(val.Obj)
	if err != nil {
		t.Fatal(err)
	}
	if text != "abc" {
		t.Fatalf("want text %q across both actors, got %q", "abc", text)
	}
}

func TestDocumentLoadVerificationMode(t *testing.T) {
	actorA := op.NewActorId()
	d, _, _ := sampleDocument(t, actorA)

	wire, err := Save(d)
	if err != nil {
		t.Fatal(err)
	}

	c, err := chunk.Decode(wire)
	if err != nil {
		t.Fatal(err)
	}
	body := append([]byte(nil), c.Body...)

	pos := 0
	actorCount, n, err := leb128.GetUvarint(body[pos:])
	if err != nil {
		t.Fatal(err)
	}
	pos += n
	for i := uint64(0); i < actorCount; i++ {
		_, n, err := leb128.GetBytes(body[pos:])
		if err != nil {
			t.Fatal(err)
		}
		pos += n
	}
	headCount, n, err := leb128.GetUvarint(body[pos:])
	if err != nil {
		t.Fatal(err)
	}
	pos += n
	if headCount == 0 {
		t.Fatal("expected at least one declared head to corrupt")
	}
	body[pos] ^= 0xff // flip a byte inside the first declared head hash

	corrupted, _ := chunk.Encode(chunk.TypeDocument, body)

	if _, err := Load(corrupted, Check); err == nil {
		t.Fatal("expected Check mode to reject mismatching heads")
	} else if !errors.Is(err, crdterr.ErrMismatchingHeads) {
		t.Fatalf("expected ErrMismatchingHeads, got %v", err)
	}

	if _, err := Load(corrupted, DontCheck); err != nil {
		t.Fatalf("DontCheck mode should ignore mismatching heads: %v", err)
	}
}

func TestDocumentSaveIncrementalLoadIncremental(t *testing.T) {
	actorA := op.NewActorId()
	src, hash1, hash2 := sampleDocument(t, actorA)

	dst := New()
	incWire, err := SaveIncremental(src, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := LoadIncremental(dst, incWire); err != nil {
		t.Fatal(err)
	}

	gotHeads := dst.Heads()
	if len(gotHeads) != 1 || gotHeads[0] != hash2 {
		t.Fatalf("incremental-loaded heads = %v, want [%x]", gotHeads, hash2)
	}
	if _, ok := dst.GetChangeByHash(hash1); !ok {
		t.Fatal("incremental load missing change 1")
	}

	wantRows := src.OpSet().AllRows()
	gotRows := dst.OpSet().AllRows()
	if len(gotRows) != len(wantRows) {
		t.Fatalf("got %d op rows, want %d", len(gotRows), len(wantRows))
	}
}
