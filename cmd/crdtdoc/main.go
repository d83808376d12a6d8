// cmd/crdtdoc/main.go
//
// crdtdoc - inspection CLI for crdt document files.
//
// Usage:
//
//	crdtdoc dump <file>
//	crdtdoc verify <file>
//	crdtdoc sync-sim <fileA> <fileB> [--out merged.bin]
package main

import (
	"os"

	"crdt/pkg/cli"
)

func main() {
	if err := cli.Execute(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}
