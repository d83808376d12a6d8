package doc

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"crdt/pkg/change"
	"crdt/pkg/changegraph"
	"crdt/pkg/chunk"
	"crdt/pkg/crdterr"
	"crdt/pkg/document"
	"crdt/pkg/op"
	"crdt/pkg/patch"
)

// Save serializes the whole document to its columnar on-disk form
// (spec.md §6.3).
func (d *Document) Save() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return document.Save(d.inner)
}

// SaveIncremental serializes only the changes not reachable from
// sinceHeads — a delta a peer who already has sinceHeads can apply with
// LoadIncremental.
func (d *Document) SaveIncremental(sinceHeads []chunk.Hash) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return document.SaveIncremental(d.inner, sinceHeads)
}

// LoadIncremental applies a delta produced by SaveIncremental to this
// document in place, recording observer patches for every change it
// introduces.
func (d *Document) LoadIncremental(data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	before := make(map[chunk.Hash]bool)
	for _, c := range d.inner.Changes() {
		if h, ok := c.Hash(); ok {
			before[h] = true
		}
	}

	if err := document.LoadIncremental(d.inner, data); err != nil {
		return errors.Wrap(err, "doc: load incremental")
	}

	for _, c := range d.inner.Changes() {
		h, ok := c.Hash()
		if !ok || before[h] {
			continue
		}
		recordMergedChangePatches(d.patches, d.inner.OpSet(), d.inner.Props(), c)
	}
	return nil
}

// VerificationMode controls Load's response to a mismatch between a
// loaded document's reconstructed heads and the heads its chunk
// declares (stored after the actor table, ahead of the column sets).
type VerificationMode = document.VerificationMode

// Check and DontCheck are VerificationMode's two values — re-exported
// from pkg/document so callers never need to import it directly.
const (
	Check     = document.Check
	DontCheck = document.DontCheck
)

// Load reconstructs a Document from bytes produced by Save.
func Load(data []byte, mode VerificationMode, opts ...Option) (*Document, error) {
	inner, err := document.Load(data, mode)
	if err != nil {
		return nil, errors.Wrap(err, "doc: load")
	}
	d := &Document{
		inner:   inner,
		actorID: op.NewActorId(),
		log:     zap.NewNop().Sugar(),
		patches: patch.New(true),
	}
	applyOptions(d, opts)
	return d, nil
}

// ApplyChanges applies a batch of already-decoded changes (e.g. read
// from another transport) to the document, skipping any already
// present, and records observer patches for whatever newly applies.
// The batch need not be topologically sorted: a change whose deps
// aren't satisfied yet is buffered and retried once every change ahead
// of it in the batch has gone in, the same fixed-point drain
// pkg/sync.ReceiveMessage runs over its own Pending buffer (spec.md §7
// — apply_changes catches MissingDep internally and converts it to
// buffering). Only a change whose deps remain unsatisfied after the
// whole batch has been drained surfaces ErrMissingDep.
func (d *Document) ApplyChanges(changes []*change.Change) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	pending := append([]*change.Change(nil), changes...)
	for progress := true; progress && len(pending) > 0; {
		progress = false
		remaining := pending[:0]
		for _, c := range pending {
			if !depsReady(d.inner.Graph(), c) {
				remaining = append(remaining, c)
				continue
			}
			if _, err := d.inner.AddChange(c); err != nil {
				if errors.Is(err, crdterr.ErrDuplicateChange) {
					continue
				}
				return errors.Wrap(err, "doc: apply changes")
			}
			recordMergedChangePatches(d.patches, d.inner.OpSet(), d.inner.Props(), c)
			progress = true
		}
		pending = remaining
	}

	if len(pending) > 0 {
		return errors.Wrapf(crdterr.ErrMissingDep, "doc: apply changes: %d change(s) still missing a dependency", len(pending))
	}
	return nil
}

// depsReady reports whether every dep of c is already present in the
// change graph — mirrors pkg/sync's depsReady, checked locally here
// since pkg/doc keeps no persistent SyncState to share it through.
func depsReady(g *changegraph.Graph, c *change.Change) bool {
	for _, dep := range c.Deps {
		if !g.Has(dep) {
			return false
		}
	}
	return true
}
