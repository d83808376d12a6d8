package doc

import (
	"crdt/pkg/change"
	"crdt/pkg/chunk"
)

// Heads returns the document's current frontier: the hashes of every
// change with no recorded child.
func (d *Document) Heads() []chunk.Hash {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inner.Heads()
}

// GetChangeByHash returns one previously applied change, if present.
func (d *Document) GetChangeByHash(hash chunk.Hash) (*change.Change, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inner.GetChangeByHash(hash)
}

// GetChanges returns every change reachable from the document's current
// heads that is not already reachable from haveDeps — the changes a
// peer who has haveDeps is missing.
func (d *Document) GetChanges(haveDeps []chunk.Hash) ([]*change.Change, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inner.GetChanges(haveDeps)
}

// GetMissingDeps returns those of heads that this document does not yet
// have. Each hash is checked directly; the deps of a missing change are
// not followed.
func (d *Document) GetMissingDeps(heads []chunk.Hash) []chunk.Hash {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inner.GetMissingDeps(heads)
}
