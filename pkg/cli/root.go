// Package cli implements crdtdoc's inspection commands: dump, verify,
// and sync-sim. Grounded on the teacher's pkg/cli/repl.go — a thin
// Cobra command tree replaces the teacher's hand-rolled dot-command
// REPL dispatch (see DESIGN.md's Domain stack section for why), but
// keeps its shape of explicit io.Writer output/error streams instead
// of writing straight to os.Stdout/os.Stderr, so commands stay
// testable without capturing the real process streams.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewRootCmd builds crdtdoc's command tree, writing results to out and
// diagnostics to errOut.
func NewRootCmd(out, errOut io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "crdtdoc",
		Short:         "Inspect and exercise crdt document files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	root.AddCommand(newDumpCmd(out))
	root.AddCommand(newVerifyCmd(out))
	root.AddCommand(newSyncSimCmd(out))

	return root
}

// Execute runs crdtdoc's command tree over args, writing to out and
// errOut (any error is also printed to errOut) — the entry point
// cmd/crdtdoc/main.go calls with os.Args[1:], os.Stdout and os.Stderr.
func Execute(args []string, out, errOut io.Writer) error {
	root := NewRootCmd(out, errOut)
	root.SetArgs(args)
	err := root.Execute()
	if err != nil {
		fmt.Fprintf(errOut, "%v\n", err)
	}
	return err
}
