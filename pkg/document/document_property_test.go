package document

import (
	"testing"

	"pgregory.net/rapid"

	"crdt/pkg/change"
	"crdt/pkg/chunk"
	"crdt/pkg/op"
)

// docScalarGen draws a scalar value restricted to kinds a single root-map
// Put can carry unambiguously through Save/Load (Counter is excluded: its
// materialized value depends on which Increment ops are still visible,
// which this generator doesn't model).
func docScalarGen(t *rapid.T) op.ScalarValue {
	return rapid.OneOf(
		rapid.Custom(func(t *rapid.T) op.ScalarValue {
			return op.Str(rapid.String().Draw(t, "str"))
		}),
		rapid.Custom(func(t *rapid.T) op.ScalarValue {
			return op.Int(rapid.Int64().Draw(t, "int"))
		}),
		rapid.Custom(func(t *rapid.T) op.ScalarValue {
			return op.Boolean(rapid.Bool().Draw(t, "bool"))
		}),
	).Draw(t, "scalar")
}

// TestDocumentSaveLoadIdempotenceProperty checks spec.md §6.3's round-trip
// promise over arbitrary single-actor histories instead of the one fixed
// history TestDocumentSaveLoadRoundTrip hand-builds: whatever sequence of
// root-map puts (each possibly overwriting an earlier key) goes in, saving
// and loading must reproduce the exact same final map and the exact same
// heads.
func TestDocumentSaveLoadIdempotenceProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		actorA := op.NewActorId()
		d := New()
		gA := d.Actors().Intern(actorA)

		n := rapid.IntRange(1, 20).Draw(t, "n")
		want := make(map[string]op.ScalarValue)
		lastOpForKey := make(map[string]op.OpId)

		var lastHash chunk.Hash
		var counter uint64 = 1
		for i := 0; i < n; i++ {
			key := rapid.StringMatching(`[a-z]{1,6}`).Draw(t, "key")
			val := docScalarGen(t)
			prop := d.Props().Intern(key)

			id := op.OpId{Counter: counter, Actor: gA}
			counter++

			var pred []op.OpId
			if prevID, ok := lastOpForKey[key]; ok {
				pred = []op.OpId{prevID}
			}

			c := &change.Change{
				Actor: actorA, Seq: uint64(i + 1), StartOp: id.Counter,
				Time: 1700000000 + int64(i),
				Ops: []op.Op{
					{ID: id, Obj: op.RootObj, Key: op.MapKey(prop), Action: op.Put(val), Pred: pred},
				},
			}
			if i > 0 {
				c.Deps = []chunk.Hash{lastHash}
			}

			h, err := d.AddChange(c)
			if err != nil {
				t.Fatalf("add change %d: %v", i, err)
			}
			lastHash = h
			lastOpForKey[key] = id
			want[key] = val
		}

		wire, err := Save(d)
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		loaded, err := Load(wire, Check)
		if err != nil {
			t.Fatalf("load: %v", err)
		}

		gotHeads := loaded.Heads()
		if len(gotHeads) != 1 || gotHeads[0] != lastHash {
			t.Fatalf("loaded heads = %v, want [%x]", gotHeads, lastHash)
		}

		for key, wantVal := range want {
			prop := loaded.Props().Intern(key)
			got, ok, err := loaded.OpSet().Get(op.RootObj, op.MapKey(prop))
			if err != nil {
				t.Fatalf("get %q: %v", key, err)
			}
			if !ok {
				t.Fatalf("key %q missing after load", key)
			}
			if !got.Scalar.Equal(wantVal) {
				t.Fatalf("key %q: got %+v, want %+v", key, got.Scalar, wantVal)
			}
		}

		wantRows := d.OpSet().AllRows()
		gotRows := loaded.OpSet().AllRows()
		if len(gotRows) != len(wantRows) {
			t.Fatalf("got %d op rows after load, want %d", len(gotRows), len(wantRows))
		}

		// Save again from the loaded copy: the second round-trip must
		// reproduce byte-identical output, since nothing about the
		// document changed between the two saves.
		wire2, err := Save(loaded)
		if err != nil {
			t.Fatalf("re-save: %v", err)
		}
		if string(wire2) != string(wire) {
			t.Fatal("re-saving a freshly loaded document produced different bytes")
		}
	})
}
