// Package document implements spec.md §6.3: the whole-history Document
// chunk, and the in-memory aggregate (actor/prop caches, OpSet, change
// graph, and change log) it is saved from and loaded into.
//
// Grounded on the teacher's pkg/dbfile/database.go + pkg/dbfile/
// metadata.go: Database there is the single owner of one file's header
// and catalog, with Create/Open/Sync/Close as its whole-file lifecycle.
// Document plays the same role here, generalized from "one SQL schema
// catalog" to "one columnar change+op catalog" — Save/Load replace
// Sync/Open, and there is no on-disk file handle at all, since this
// module's persistence surface ends at a byte slice (spec.md's Non-goals
// exclude disk I/O).
package document

import (
	"github.com/pkg/errors"

	"crdt/pkg/change"
	"crdt/pkg/changegraph"
	"crdt/pkg/chunk"
	"crdt/pkg/op"
	"crdt/pkg/opset"
)

// Document is one replica's complete view: every op ever applied
// (opset.OpSet), the causal DAG of changes that produced them
// (changegraph.Graph), the changes themselves (needed for GetChanges/
// re-save, since the graph only keeps their causal metadata), and the
// actor/property interning tables their columns are addressed against.
type Document struct {
	actors *op.ActorCache
	props  *op.PropCache
	opset  *opset.OpSet
	graph  *changegraph.Graph

	changes []*change.Change
	byHash  map[chunk.Hash]int // hash -> position in changes (insertion order)
}

// New returns an empty Document: just the root map object, no changes.
func New() *Document {
	actors := op.NewActorCache()
	return &Document{
		actors: actors,
		props:  op.NewPropCache(),
		opset:  opset.New(actors),
		graph:  changegraph.New(0),
		byHash: make(map[chunk.Hash]int),
	}
}

// Actors returns the document's actor-interning cache.
func (d *Document) Actors() *op.ActorCache { return d.actors }

// Props returns the document's property-interning cache.
func (d *Document) Props() *op.PropCache { return d.props }

// OpSet returns the document's materialized operation table.
func (d *Document) OpSet() *opset.OpSet { return d.opset }

// Graph returns the document's change DAG.
func (d *Document) Graph() *changegraph.Graph { return d.graph }

// Changes returns every change applied so far, in the order it was
// added (a valid topological order, since AddChange requires a
// change's deps to already be present).
func (d *Document) Changes() []*change.Change {
	out := make([]*change.Change, len(d.changes))
	copy(out, d.changes)
	return out
}

// AddChange applies one change's ops to the OpSet and records it in the
// change graph. Returns ErrDuplicateChange if already applied,
// ErrMissingDep if a dep isn't present yet — callers implementing
// apply_changes' buffering policy (spec.md §7) catch that and retry
// once the dep arrives.
func (d *Document) AddChange(c *change.Change) (chunk.Hash, error) {
	hash, err := d.recordChange(c)
	if err != nil {
		return chunk.Hash{}, err
	}

	for _, o := range c.Ops {
		if _, err := d.opset.Apply(o); err != nil {
			return chunk.Hash{}, errors.Wrap(err, "document: apply change op")
		}
	}
	return hash, nil
}

// recordChange hashes c (if not already hashed) and files it into the
// change graph and change log, without touching the OpSet. Load uses
// this directly: its ops arrive already reconstructed via
// opset.LoadOp's succ-complete path, so re-running them through
// opset.Apply (which threads succ from Pred) would both duplicate each
// row and wipe the succ lists LoadOp already built.
func (d *Document) recordChange(c *change.Change) (chunk.Hash, error) {
	hash, ok := c.Hash()
	if !ok {
		_, h, err := c.Encode(d.actors, d.props)
		if err != nil {
			return chunk.Hash{}, errors.Wrap(err, "document: hash change before adding")
		}
		hash = h
	}
	actorIdx := d.actors.Intern(c.Actor)
	if err := d.graph.AddChange(hash, actorIdx, c.Seq, c.StartOp, c.MaxOp(), c.Deps); err != nil {
		return chunk.Hash{}, err
	}

	d.byHash[hash] = len(d.changes)
	d.changes = append(d.changes, c)
	return hash, nil
}

// Heads returns the change graph's current frontier.
func (d *Document) Heads() []chunk.Hash { return d.graph.Heads() }

// GetChangeByHash returns the change with the given hash, if present.
func (d *Document) GetChangeByHash(hash chunk.Hash) (*change.Change, bool) {
	idx, ok := d.byHash[hash]
	if !ok {
		return nil, false
	}
	return d.changes[idx], true
}

// GetChanges returns every change not already implied by haveDeps, in
// causal (insertion) order — what a peer who has haveDeps still needs.
func (d *Document) GetChanges(haveDeps []chunk.Hash) ([]*change.Change, error) {
	if len(haveDeps) == 0 {
		return d.Changes(), nil
	}
	anc, err := d.graph.AncestorSet(haveDeps)
	if err != nil {
		return nil, err
	}
	out := make([]*change.Change, 0, len(d.changes))
	for _, c := range d.changes {
		h, _ := c.Hash()
		if !anc[h] {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetMissingDeps reports which of heads this document does not yet
// have. This is the direct, single-hop reading of spec.md §6.4's
// get_missing_deps — it does not walk a pending-change buffer looking
// for deps of deps, since pkg/document keeps no such buffer; a caller
// assembling a sync response over partially-received history (pkg/doc's
// apply_changes) tracks that separately.
func (d *Document) GetMissingDeps(heads []chunk.Hash) []chunk.Hash {
	var missing []chunk.Hash
	for _, h := range heads {
		if !d.graph.Has(h) {
			missing = append(missing, h)
		}
	}
	return missing
}

// VerificationMode controls Load's response to a mismatch between a
// document chunk's declared heads and the heads reconstructed from its
// ops/change columns (spec.md §7's MismatchingHeads).
type VerificationMode uint8

const (
	// Check returns ErrMismatchingHeads when reconstructed heads differ
	// from the chunk's declared heads. Default.
	Check VerificationMode = iota
	// DontCheck accepts the reconstructed heads unconditionally.
	DontCheck
)
