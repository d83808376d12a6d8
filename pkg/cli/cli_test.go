package cli_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"crdt/pkg/cli"
	"crdt/pkg/doc"
	"crdt/pkg/op"
)

func writeDocFile(t *testing.T, path string, build func(tx *doc.Transaction)) {
	t.Helper()
	d := doc.New()
	tx, err := d.Transaction()
	require.NoError(t, err)
	build(tx)
	_, err = tx.Commit("")
	require.NoError(t, err)

	wire, err := d.Save()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, wire, 0o644))
}

func TestDumpPrintsMaterializedTree(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.bin")
	writeDocFile(t, path, func(tx *doc.Transaction) {
		require.NoError(t, tx.Put(op.RootObj, "title", op.Str("hello")))
		list, err := tx.PutObject(op.RootObj, "todos", op.ObjList)
		require.NoError(t, err)
		require.NoError(t, tx.Insert(list, 0, op.Str("buy milk")))
	})

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	require.NoError(t, cli.Execute([]string{"dump", path}, out, errOut))

	got := out.String()
	require.Contains(t, got, `title: "hello"`)
	require.Contains(t, got, "todos:")
	require.Contains(t, got, `[0]: "buy milk"`)
}

func TestVerifyReportsShape(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.bin")
	writeDocFile(t, path, func(tx *doc.Transaction) {
		require.NoError(t, tx.Put(op.RootObj, "x", op.Int(1)))
	})

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	require.NoError(t, cli.Execute([]string{"verify", path}, out, errOut))
	require.Contains(t, out.String(), "ok: reconstructed heads match the declared heads")
	require.Contains(t, out.String(), "changes: 1")
}

func TestVerifyRejectsCorruptedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.bin")
	writeDocFile(t, path, func(tx *doc.Transaction) {
		require.NoError(t, tx.Put(op.RootObj, "x", op.Int(1)))
	})

	wire, err := os.ReadFile(path)
	require.NoError(t, err)
	corrupted := append([]byte(nil), wire...)
	for i := range corrupted {
		corrupted[i] ^= 0xFF
	}
	corruptedPath := filepath.Join(dir, "corrupt.bin")
	require.NoError(t, os.WriteFile(corruptedPath, corrupted, 0o644))

	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	err = cli.Execute([]string{"verify", corruptedPath}, out, errOut)
	require.Error(t, err)
	require.NotEmpty(t, errOut.String())
}

func TestSyncSimConvergesAndWritesMergedFile(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.bin")
	pathB := filepath.Join(dir, "b.bin")

	base := doc.New()
	btx, err := base.Transaction()
	require.NoError(t, err)
	require.NoError(t, btx.Put(op.RootObj, "shared", op.Str("base")))
	_, err = btx.Commit("")
	require.NoError(t, err)
	baseWire, err := base.Save()
	require.NoError(t, err)

	a, err := doc.Load(baseWire, doc.Check)
	require.NoError(t, err)
	atx, err := a.Transaction()
	require.NoError(t, err)
	require.NoError(t, atx.Put(op.RootObj, "a_only", op.Int(1)))
	_, err = atx.Commit("")
	require.NoError(t, err)
	aWire, err := a.Save()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(pathA, aWire, 0o644))

	b, err := doc.Load(baseWire, doc.Check)
	require.NoError(t, err)
	bTx, err := b.Transaction()
	require.NoError(t, err)
	require.NoError(t, bTx.Put(op.RootObj, "b_only", op.Int(2)))
	_, err = bTx.Commit("")
	require.NoError(t, err)
	bWire, err := b.Save()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(pathB, bWire, 0o644))

	mergedPath := filepath.Join(dir, "merged.bin")
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	require.NoError(t, cli.Execute([]string{"sync-sim", pathA, pathB, "--out", mergedPath}, out, errOut))
	require.Contains(t, out.String(), "converged: true")

	mergedWire, err := os.ReadFile(mergedPath)
	require.NoError(t, err)
	merged, err := doc.Load(mergedWire, doc.Check)
	require.NoError(t, err)

	v, ok, err := merged.Get(op.RootObj, "a_only")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1, v.Scalar.AsInt())

	v, ok, err = merged.Get(op.RootObj, "b_only")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 2, v.Scalar.AsInt())
}
