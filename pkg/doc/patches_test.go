package doc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"crdt/pkg/doc"
	"crdt/pkg/op"
)

func TestConcurrentPutsProduceConflictSet(t *testing.T) {
	a := doc.New()
	atx, err := a.Transaction()
	require.NoError(t, err)
	require.NoError(t, atx.Put(op.RootObj, "title", op.Str("base")))
	_, err = atx.Commit("")
	require.NoError(t, err)

	base, err := a.Save()
	require.NoError(t, err)
	b, err := doc.Load(base, doc.Check)
	require.NoError(t, err)

	atx2, err := a.Transaction()
	require.NoError(t, err)
	require.NoError(t, atx2.Put(op.RootObj, "title", op.Str("from a")))
	_, err = atx2.Commit("")
	require.NoError(t, err)

	btx, err := b.Transaction()
	require.NoError(t, err)
	require.NoError(t, btx.Put(op.RootObj, "title", op.Str("from b")))
	_, err = btx.Commit("")
	require.NoError(t, err)

	aChanges, err := a.GetChanges(b.Heads())
	require.NoError(t, err)
	require.NoError(t, b.ApplyChanges(aChanges))

	all, err := b.GetAll(op.RootObj, "title")
	require.NoError(t, err)
	require.Len(t, all, 2)

	patches, err := b.TakePatches()
	require.NoError(t, err)
	require.NotEmpty(t, patches)
}

func TestTakePatchesResetsLog(t *testing.T) {
	d := doc.New()
	tx, err := d.Transaction()
	require.NoError(t, err)
	require.NoError(t, tx.Put(op.RootObj, "x", op.Int(1)))
	_, err = tx.Commit("")
	require.NoError(t, err)

	first, err := d.TakePatches()
	require.NoError(t, err)
	require.NotEmpty(t, first)

	second, err := d.TakePatches()
	require.NoError(t, err)
	require.Empty(t, second)
}

func TestDeleteSequenceElementLocallyEmitsDeleteSeqPatch(t *testing.T) {
	d := doc.New()
	tx, err := d.Transaction()
	require.NoError(t, err)
	list, err := tx.PutObject(op.RootObj, "items", op.ObjList)
	require.NoError(t, err)
	require.NoError(t, tx.Insert(list, 0, op.Int(1)))
	_, err = tx.Commit("")
	require.NoError(t, err)
	_, err = d.TakePatches()
	require.NoError(t, err)

	tx2, err := d.Transaction()
	require.NoError(t, err)
	require.NoError(t, tx2.DeleteAt(list, 0))
	_, err = tx2.Commit("")
	require.NoError(t, err)

	patches, err := d.TakePatches()
	require.NoError(t, err)
	require.Len(t, patches, 1)
	require.Equal(t, 0, patches[0].Index)
	require.Equal(t, 1, patches[0].Count)
}
