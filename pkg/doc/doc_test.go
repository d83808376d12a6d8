package doc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"crdt/pkg/doc"
	"crdt/pkg/op"
)

func TestNewDocumentIsEmptyRoot(t *testing.T) {
	d := doc.New()
	keys, err := d.Keys(op.RootObj)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestPutAndGetRoundTrip(t *testing.T) {
	d := doc.New()

	tx, err := d.Transaction()
	require.NoError(t, err)
	require.NoError(t, tx.Put(op.RootObj, "title", op.Str("hello")))
	hash, err := tx.Commit("seed")
	require.NoError(t, err)
	require.NotZero(t, hash)

	v, ok, err := d.Get(op.RootObj, "title")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", v.Scalar.AsStr())

	keys, err := d.Keys(op.RootObj)
	require.NoError(t, err)
	require.Equal(t, []string{"title"}, keys)
}

func TestOnlyOneTransactionOpenAtATime(t *testing.T) {
	d := doc.New()
	tx, err := d.Transaction()
	require.NoError(t, err)

	_, err = d.Transaction()
	require.Error(t, err)

	require.NoError(t, tx.Put(op.RootObj, "k", op.Int(1)))
	_, err = tx.Commit("")
	require.NoError(t, err)

	_, err = d.Transaction()
	require.NoError(t, err)
}

func TestRollbackDiscardsBufferedOps(t *testing.T) {
	d := doc.New()

	tx, err := d.Transaction()
	require.NoError(t, err)
	require.NoError(t, tx.Put(op.RootObj, "x", op.Int(1)))
	tx.Rollback()

	_, ok, err := d.Get(op.RootObj, "x")
	require.NoError(t, err)
	require.False(t, ok)

	require.Empty(t, d.Heads())

	// A fresh transaction can still be opened after a rollback.
	tx2, err := d.Transaction()
	require.NoError(t, err)
	require.NoError(t, tx2.Put(op.RootObj, "x", op.Int(2)))
	_, err = tx2.Commit("")
	require.NoError(t, err)

	v, ok, err := d.Get(op.RootObj, "x")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2), v.Scalar.AsInt())
}

func TestRollbackAfterCommitIsANoop(t *testing.T) {
	d := doc.New()
	tx, err := d.Transaction()
	require.NoError(t, err)
	require.NoError(t, tx.Put(op.RootObj, "x", op.Int(1)))
	_, err = tx.Commit("")
	require.NoError(t, err)

	require.NotPanics(t, tx.Rollback)
}

func TestPutObjectNestsAMap(t *testing.T) {
	d := doc.New()
	tx, err := d.Transaction()
	require.NoError(t, err)

	inner, err := tx.PutObject(op.RootObj, "profile", op.ObjMap)
	require.NoError(t, err)
	require.NoError(t, tx.Put(inner, "name", op.Str("ada")))
	_, err = tx.Commit("")
	require.NoError(t, err)

	v, ok, err := d.Get(op.RootObj, "profile")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, v.IsObject)
	require.Equal(t, inner, v.Obj)

	name, ok, err := d.Get(inner, "name")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "ada", name.Scalar.AsStr())
}

func TestInsertAndListRange(t *testing.T) {
	d := doc.New()
	tx, err := d.Transaction()
	require.NoError(t, err)

	list, err := tx.PutObject(op.RootObj, "todos", op.ObjList)
	require.NoError(t, err)
	require.NoError(t, tx.Insert(list, 0, op.Str("buy milk")))
	require.NoError(t, tx.Insert(list, 1, op.Str("walk dog")))
	require.NoError(t, tx.Insert(list, 1, op.Str("write tests")))
	_, err = tx.Commit("")
	require.NoError(t, err)

	n, err := d.Length(list)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	items, err := d.ListRange(list, 0, 3)
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, "buy milk", items[0].Scalar.AsStr())
	require.Equal(t, "write tests", items[1].Scalar.AsStr())
	require.Equal(t, "walk dog", items[2].Scalar.AsStr())
}

func TestDeleteAtRemovesElement(t *testing.T) {
	d := doc.New()
	tx, err := d.Transaction()
	require.NoError(t, err)
	list, err := tx.PutObject(op.RootObj, "items", op.ObjList)
	require.NoError(t, err)
	require.NoError(t, tx.Insert(list, 0, op.Int(1)))
	require.NoError(t, tx.Insert(list, 1, op.Int(2)))
	_, err = tx.Commit("")
	require.NoError(t, err)

	tx2, err := d.Transaction()
	require.NoError(t, err)
	require.NoError(t, tx2.DeleteAt(list, 0))
	_, err = tx2.Commit("")
	require.NoError(t, err)

	n, err := d.Length(list)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	items, err := d.ListRange(list, 0, 1)
	require.NoError(t, err)
	require.Equal(t, int64(2), items[0].Scalar.AsInt())
}

func TestDeleteOnAlreadyAbsentKeyIsANoop(t *testing.T) {
	d := doc.New()
	tx, err := d.Transaction()
	require.NoError(t, err)
	require.NoError(t, tx.Delete(op.RootObj, "missing"))
	hash, err := tx.Commit("")
	require.NoError(t, err)
	require.Zero(t, hash)
}

func TestIncrementCounter(t *testing.T) {
	d := doc.New()
	tx, err := d.Transaction()
	require.NoError(t, err)
	require.NoError(t, tx.Put(op.RootObj, "count", op.Counter(0)))
	require.NoError(t, tx.Increment(op.RootObj, "count", 5))
	require.NoError(t, tx.Increment(op.RootObj, "count", -2))
	_, err = tx.Commit("")
	require.NoError(t, err)

	v, ok, err := d.Get(op.RootObj, "count")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 3, v.Scalar.CounterValue())
}

func TestIncrementOnMissingCounterErrors(t *testing.T) {
	d := doc.New()
	tx, err := d.Transaction()
	require.NoError(t, err)
	err = tx.Increment(op.RootObj, "count", 1)
	require.Error(t, err)
	tx.Rollback()
}

func TestSpliceInsertsAndDeletesText(t *testing.T) {
	d := doc.New()
	tx, err := d.Transaction()
	require.NoError(t, err)
	text, err := tx.PutObject(op.RootObj, "body", op.ObjText)
	require.NoError(t, err)
	require.NoError(t, tx.Splice(text, 0, 0, "helloo"))
	_, err = tx.Commit("")
	require.NoError(t, err)

	got, err := d.Text(text)
	require.NoError(t, err)
	require.Equal(t, "helloo", got)

	tx2, err := d.Transaction()
	require.NoError(t, err)
	require.NoError(t, tx2.Splice(text, 4, 2, "o world"))
	_, err = tx2.Commit("")
	require.NoError(t, err)

	got, err = d.Text(text)
	require.NoError(t, err)
	require.Equal(t, "hello world", got)
}

func TestMarkAndUnmark(t *testing.T) {
	d := doc.New()
	tx, err := d.Transaction()
	require.NoError(t, err)
	text, err := tx.PutObject(op.RootObj, "body", op.ObjText)
	require.NoError(t, err)
	require.NoError(t, tx.Splice(text, 0, 0, "hello world"))
	require.NoError(t, tx.Mark(text, 0, 4, "bold", op.Boolean(true)))
	_, err = tx.Commit("")
	require.NoError(t, err)

	marks, err := d.Marks(text)
	require.NoError(t, err)
	require.Len(t, marks, 1)
	require.Equal(t, "bold", marks[0].Name)
	require.Equal(t, 0, marks[0].Start)

	tx2, err := d.Transaction()
	require.NoError(t, err)
	require.NoError(t, tx2.Unmark(text, 0, 4, "bold"))
	_, err = tx2.Commit("")
	require.NoError(t, err)

	marks, err = d.Marks(text)
	require.NoError(t, err)
	require.Empty(t, marks)
}

func TestParentsWalksOwnershipChain(t *testing.T) {
	d := doc.New()
	tx, err := d.Transaction()
	require.NoError(t, err)
	list, err := tx.PutObject(op.RootObj, "todos", op.ObjList)
	require.NoError(t, err)
	item, err := tx.InsertObject(list, 0, op.ObjMap)
	require.NoError(t, err)
	require.NoError(t, tx.Put(item, "done", op.Boolean(false)))
	_, err = tx.Commit("")
	require.NoError(t, err)

	chain, err := d.Parents(item)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, list, chain[0].Obj)
	require.Equal(t, op.RootObj, chain[1].Obj)
}

func TestForkIsIndependent(t *testing.T) {
	d := doc.New()
	tx, err := d.Transaction()
	require.NoError(t, err)
	require.NoError(t, tx.Put(op.RootObj, "x", op.Int(1)))
	_, err = tx.Commit("")
	require.NoError(t, err)

	fork, err := d.Fork()
	require.NoError(t, err)
	require.NotEqual(t, d.ActorId(), fork.ActorId())

	ftx, err := fork.Transaction()
	require.NoError(t, err)
	require.NoError(t, ftx.Put(op.RootObj, "y", op.Int(2)))
	_, err = ftx.Commit("")
	require.NoError(t, err)

	_, ok, err := d.Get(op.RootObj, "y")
	require.NoError(t, err)
	require.False(t, ok)

	v, ok, err := fork.Get(op.RootObj, "x")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, v.Scalar.AsInt())
}

func TestForkAtOlderHeadsOmitsLaterChanges(t *testing.T) {
	d := doc.New()
	tx, err := d.Transaction()
	require.NoError(t, err)
	require.NoError(t, tx.Put(op.RootObj, "x", op.Int(1)))
	_, err = tx.Commit("")
	require.NoError(t, err)
	oldHeads := d.Heads()

	tx2, err := d.Transaction()
	require.NoError(t, err)
	require.NoError(t, tx2.Put(op.RootObj, "y", op.Int(2)))
	_, err = tx2.Commit("")
	require.NoError(t, err)

	snap, err := d.ForkAt(oldHeads)
	require.NoError(t, err)

	_, ok, err := snap.Get(op.RootObj, "y")
	require.NoError(t, err)
	require.False(t, ok)

	v, ok, err := snap.Get(op.RootObj, "x")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, v.Scalar.AsInt())
}

func TestGetAtHistoricalHeads(t *testing.T) {
	d := doc.New()
	tx, err := d.Transaction()
	require.NoError(t, err)
	require.NoError(t, tx.Put(op.RootObj, "x", op.Int(1)))
	_, err = tx.Commit("")
	require.NoError(t, err)
	oldHeads := d.Heads()

	tx2, err := d.Transaction()
	require.NoError(t, err)
	require.NoError(t, tx2.Put(op.RootObj, "x", op.Int(2)))
	_, err = tx2.Commit("")
	require.NoError(t, err)

	v, ok, err := d.GetAt(op.RootObj, "x", oldHeads)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, v.Scalar.AsInt())

	v, ok, err = d.Get(op.RootObj, "x")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 2, v.Scalar.AsInt())
}
