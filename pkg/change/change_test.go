package change

import (
	"testing"

	"pgregory.net/rapid"

	"crdt/pkg/chunk"
	"crdt/pkg/op"
)

func buildSample(actorA, actorB op.ActorId, actors *op.ActorCache, props *op.PropCache) *Change {
	gA := actors.Intern(actorA)
	gB := actors.Intern(actorB)
	propTitle := props.Intern("title")
	propCount := props.Intern("count")

	listObj := op.ObjId{OpId: op.OpId{Counter: 5, Actor: gB}}
	elem := op.ElemId{OpId: op.OpId{Counter: 7, Actor: gB}}

	const startOp = uint64(10)
	ops := []op.Op{
		{
			ID: op.OpId{Counter: startOp, Actor: gA}, Obj: op.RootObj,
			Key: op.MapKey(propTitle), Action: op.Put(op.Str("hello")),
		},
		{
			ID: op.OpId{Counter: startOp + 1, Actor: gA}, Obj: listObj,
			Key: op.SeqKey(elem), Action: op.Put(op.Int(42)),
			Pred: []op.OpId{{Counter: 7, Actor: gB}},
		},
		{
			ID: op.OpId{Counter: startOp + 2, Actor: gA}, Obj: op.RootObj,
			Key: op.MapKey(propCount), Action: op.Put(op.Counter(0)),
		},
		{
			ID: op.OpId{Counter: startOp + 3, Actor: gA}, Obj: op.RootObj,
			Key: op.MapKey(propCount), Action: op.Increment(5),
			Pred: []op.OpId{{Counter: startOp + 2, Actor: gA}},
		},
		{
			ID: op.OpId{Counter: startOp + 4, Actor: gA}, Obj: listObj,
			Key: op.SeqKey(op.Head), Insert: true,
			Action: op.MarkBegin("bold", op.Boolean(true)),
		},
		{
			ID: op.OpId{Counter: startOp + 5, Actor: gA}, Obj: listObj,
			Key: op.SeqKey(op.ElemId{OpId: op.OpId{Counter: startOp + 4, Actor: gA}}),
			Action: op.MarkEnd(true),
		},
	}

	return &Change{
		Actor: actorA, Seq: 3, StartOp: startOp, Time: 1700000000,
		Message: "edit todos", HasMessage: true,
		Deps: []chunk.Hash{{1, 2, 3}, {4, 5, 6}},
		Ops:  ops,
	}
}

func TestChangeEncodeDecodeRoundTrip(t *testing.T) {
	actorA := op.NewActorId()
	actorB := op.NewActorId()
	actors := op.NewActorCache()
	props := op.NewPropCache()

	c := buildSample(actorA, actorB, actors, props)
	wire, h, err := c.Encode(actors, props)
	if err != nil {
		t.Fatal(err)
	}

	parsed, err := chunk.Decode(wire)
	if err != nil {
		t.Fatal(err)
	}
	if parsed.Hash != h {
		t.Fatal("chunk hash disagrees with Change.Encode hash")
	}

	decActors := op.NewActorCache()
	decProps := op.NewPropCache()
	dc, err := Decode(parsed, decActors, decProps)
	if err != nil {
		t.Fatal(err)
	}

	if !dc.Actor.Equal(c.Actor) {
		t.Fatalf("actor mismatch")
	}
	if dc.Seq != c.Seq || dc.StartOp != c.StartOp || dc.Time != c.Time {
		t.Fatalf("header field mismatch: %+v", dc)
	}
	if !dc.HasMessage || dc.Message != c.Message {
		t.Fatalf("message mismatch: %q", dc.Message)
	}
	if len(dc.Deps) != len(c.Deps) {
		t.Fatalf("deps count mismatch")
	}
	for i := range c.Deps {
		if dc.Deps[i] != c.Deps[i] {
			t.Fatalf("dep %d mismatch", i)
		}
	}
	if len(dc.Ops) != len(c.Ops) {
		t.Fatalf("got %d ops, want %d", len(dc.Ops), len(c.Ops))
	}

	for i, want := range c.Ops {
		got := dc.Ops[i]
		wantActorBytes, _ := actors.Get(want.ID.Actor)
		gotActorBytes, _ := decActors.Get(got.ID.Actor)
		if !wantActorBytes.Equal(gotActorBytes) {
			t.Fatalf("op %d: id actor mismatch", i)
		}
		if got.ID.Counter != want.ID.Counter {
			t.Fatalf("op %d: id counter mismatch: got %d want %d", i, got.ID.Counter, want.ID.Counter)
		}
		if !got.Key.Equal(want.Key) && want.Key.IsSeq() {
			// seq keys carry actor-cache indices local to each side; compare
			// by resolved identity instead of raw equality.
			if want.Key.Elem.IsHead() != got.Key.Elem.IsHead() {
				t.Fatalf("op %d: key head mismatch", i)
			}
			if !want.Key.Elem.IsHead() {
				wb, _ := actors.Get(want.Key.Elem.Actor)
				gb, _ := decActors.Get(got.Key.Elem.Actor)
				if !wb.Equal(gb) || want.Key.Elem.Counter != got.Key.Elem.Counter {
					t.Fatalf("op %d: seq key mismatch", i)
				}
			}
		}
		if got.Action.Action != want.Action.Action {
			t.Fatalf("op %d: action kind mismatch: got %d want %d", i, got.Action.Action, want.Action.Action)
		}
		if got.Insert != want.Insert {
			t.Fatalf("op %d: insert flag mismatch", i)
		}
		if len(got.Pred) != len(want.Pred) {
			t.Fatalf("op %d: pred length mismatch", i)
		}
	}
}

func TestChangeHashStableAcrossEncodes(t *testing.T) {
	actorA := op.NewActorId()
	actorB := op.NewActorId()
	actors := op.NewActorCache()
	props := op.NewPropCache()
	c := buildSample(actorA, actorB, actors, props)

	_, h1, err := c.Encode(actors, props)
	if err != nil {
		t.Fatal(err)
	}
	_, h2, err := c.Encode(actors, props)
	if err != nil {
		t.Fatal(err)
	}
	if h1 != h2 {
		t.Fatal("expected identical hash across repeated encodes of the same change")
	}
}

func TestBuilderSeal(t *testing.T) {
	actorA := op.NewActorId()
	actors := op.NewActorCache()
	props := op.NewPropCache()
	gA := actors.Intern(actorA)
	propTitle := props.Intern("title")

	b := NewBuilder(actorA, 1, 1, 1700000000)
	b.SetMessage("init")
	b.Append(op.Op{
		ID: b.NextOpId(gA), Obj: op.RootObj,
		Key: op.MapKey(propTitle), Action: op.Put(op.Str("v1")),
	})

	c, wire, err := b.Seal(nil, actors, props)
	if err != nil {
		t.Fatal(err)
	}
	if len(wire) == 0 {
		t.Fatal("expected non-empty encoded change")
	}
	if c.MaxOp() != 1 {
		t.Fatalf("MaxOp() = %d, want 1", c.MaxOp())
	}
	h, ok := c.Hash()
	if !ok || h.IsZero() {
		t.Fatal("expected cached hash after Seal")
	}
}

// scalarGen draws a Str, Int, F64, Boolean or Counter scalar with
// randomized content: the kinds TestChangeEncodeDecodeRoundTrip builds by
// hand above, plus F64, which the hand-written test does not use.
func scalarGen(t *rapid.T) op.ScalarValue {
	return rapid.OneOf(
		rapid.Custom(func(t *rapid.T) op.ScalarValue {
			return op.Str(rapid.String().Draw(t, "str"))
		}),
		rapid.Custom(func(t *rapid.T) op.ScalarValue {
			return op.Int(rapid.Int64().Draw(t, "int"))
		}),
		rapid.Custom(func(t *rapid.T) op.ScalarValue {
			return op.F64(rapid.Float64().Draw(t, "f64"))
		}),
		rapid.Custom(func(t *rapid.T) op.ScalarValue {
			return op.Boolean(rapid.Bool().Draw(t, "bool"))
		}),
		rapid.Custom(func(t *rapid.T) op.ScalarValue {
			return op.Counter(rapid.Int64().Draw(t, "counter"))
		}),
	).Draw(t, "scalar")
}

// TestChangeEncodeDecodeRoundTripProperty checks encode/decode agreement
// (spec.md §6.1) over arbitrary single-actor batches of map puts, rather
// than the one fixed shape TestChangeEncodeDecodeRoundTrip hand-builds
// above: whatever (property, value) pairs go in come back out unchanged,
// in the same order, regardless of count or content.
func TestChangeEncodeDecodeRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		actorA := op.NewActorId()
		actors := op.NewActorCache()
		props := op.NewPropCache()
		gA := actors.Intern(actorA)

		n := rapid.IntRange(0, 16).Draw(t, "n")
		type want struct {
			prop string
			val  op.ScalarValue
		}
		wants := make([]want, n)

		b := NewBuilder(actorA, 1, 1, 1700000000)
		for i := 0; i < n; i++ {
			name := rapid.StringMatching(`[a-z]{1,8}`).Draw(t, "prop")
			val := scalarGen(t)
			wants[i] = want{prop: name, val: val}
			b.Append(op.Op{
				ID:     b.NextOpId(gA),
				Obj:    op.RootObj,
				Key:    op.MapKey(props.Intern(name)),
				Action: op.Put(val),
			})
		}

		c, _, err := b.Seal(nil, actors, props)
		if err != nil {
			t.Fatal(err)
		}
		wire, _, err := c.Encode(actors, props)
		if err != nil {
			t.Fatal(err)
		}
		parsed, err := chunk.Decode(wire)
		if err != nil {
			t.Fatal(err)
		}

		decActors := op.NewActorCache()
		decProps := op.NewPropCache()
		dc, err := Decode(parsed, decActors, decProps)
		if err != nil {
			t.Fatal(err)
		}
		if len(dc.Ops) != n {
			t.Fatalf("got %d ops, want %d", len(dc.Ops), n)
		}

		for i, w := range wants {
			got := dc.Ops[i]
			name, ok := decProps.Get(got.Key.Prop)
			if !ok || name != w.prop {
				t.Fatalf("op %d: prop mismatch: got %q want %q", i, name, w.prop)
			}
			if !got.Action.Value.Equal(w.val) {
				t.Fatalf("op %d: value mismatch: got %+v want %+v", i, got.Action.Value, w.val)
			}
		}
	})
}
