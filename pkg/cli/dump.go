package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"crdt/pkg/doc"
	"crdt/pkg/op"
)

func newDumpCmd(out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <file>",
		Short: "Print a saved document's current materialized contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return errors.Wrap(err, "crdtdoc: read document file")
			}
			d, err := doc.Load(data, doc.DontCheck)
			if err != nil {
				return errors.Wrap(err, "crdtdoc: load document")
			}

			heads := d.Heads()
			fmt.Fprintf(out, "heads: %d\n", len(heads))
			for _, h := range heads {
				fmt.Fprintf(out, "  %x\n", h)
			}
			return dumpObject(out, d, op.RootObj, 0)
		},
	}
}

// dumpObject prints obj's currently visible contents, recursing into
// nested composite values — grounded on the teacher's
// REPL.displayTable/formatValue pair, adapted from a flat result set to
// a recursive document tree.
func dumpObject(out io.Writer, d *doc.Document, obj op.ObjId, depth int) error {
	indent := strings.Repeat("  ", depth)
	typ, ok := d.ObjectType(obj)
	if !ok {
		return errors.Errorf("crdtdoc: unknown object %v", obj)
	}

	switch typ {
	case op.ObjMap, op.ObjTable:
		keys, err := d.Keys(obj)
		if err != nil {
			return errors.Wrap(err, "crdtdoc: list keys")
		}
		sort.Strings(keys)
		for _, k := range keys {
			v, present, err := d.Get(obj, k)
			if err != nil {
				return errors.Wrap(err, "crdtdoc: get key")
			}
			if !present {
				continue
			}
			if v.IsObject {
				fmt.Fprintf(out, "%s%s:\n", indent, k)
				if err := dumpObject(out, d, v.Obj, depth+1); err != nil {
					return err
				}
				continue
			}
			fmt.Fprintf(out, "%s%s: %s\n", indent, k, formatScalar(v.Scalar))
		}

	case op.ObjList:
		n, err := d.Length(obj)
		if err != nil {
			return errors.Wrap(err, "crdtdoc: list length")
		}
		items, err := d.ListRange(obj, 0, n)
		if err != nil {
			return errors.Wrap(err, "crdtdoc: list range")
		}
		for i, v := range items {
			if v.IsObject {
				fmt.Fprintf(out, "%s[%d]:\n", indent, i)
				if err := dumpObject(out, d, v.Obj, depth+1); err != nil {
					return err
				}
				continue
			}
			fmt.Fprintf(out, "%s[%d]: %s\n", indent, i, formatScalar(v.Scalar))
		}

	case op.ObjText:
		text, err := d.Text(obj)
		if err != nil {
			return errors.Wrap(err, "crdtdoc: materialize text")
		}
		fmt.Fprintf(out, "%s%q\n", indent, text)
	}
	return nil
}

// formatScalar renders one scalar value the way the teacher's
// formatValue renders one SQL column value: a switch over the value's
// kind, never a bare %v.
func formatScalar(v op.ScalarValue) string {
	switch v.Kind() {
	case op.KindNull:
		return "null"
	case op.KindStr:
		return fmt.Sprintf("%q", v.AsStr())
	case op.KindInt:
		return fmt.Sprintf("%d", v.AsInt())
	case op.KindUint:
		return fmt.Sprintf("%d", v.AsUint())
	case op.KindF64:
		return fmt.Sprintf("%g", v.AsF64())
	case op.KindBoolean:
		return fmt.Sprintf("%t", v.AsBoolean())
	case op.KindCounter:
		return fmt.Sprintf("counter(%d)", v.CounterValue())
	case op.KindTimestamp:
		return fmt.Sprintf("timestamp(%d)", v.AsInt())
	case op.KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.AsBytes()))
	default:
		return "unknown"
	}
}
