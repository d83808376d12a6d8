// Package doc is the thin public façade spec.md §6.4 describes: it
// wires pkg/op, pkg/change, pkg/opset, pkg/changegraph, pkg/document,
// pkg/sync, and pkg/patch together behind one handle, and owns no
// storage of its own.
//
// Grounded on the teacher's pkg/turdb/db.go + pkg/turdb/tx.go: a DB is
// the single mutex-guarded owner of the pager/catalog/tx-manager a
// caller drives through Begin/Exec/Commit; Document plays the same
// role here over op/opset/changegraph instead of pager/btree/mvcc.
package doc

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"crdt/pkg/chunk"
	"crdt/pkg/crdterr"
	"crdt/pkg/document"
	"crdt/pkg/op"
	"crdt/pkg/patch"
)

// Document is one replica's handle onto a CRDT document: the actor
// identity this handle writes changes as, the underlying document
// aggregate, and the shared patch log transactions and merges both
// feed.
type Document struct {
	mu sync.Mutex

	inner   *document.Document
	actorID op.ActorId
	log     *zap.SugaredLogger
	patches *patch.PatchLog

	txOpen bool
}

// Option configures New/Load.
type Option func(*Document)

// WithActorId fixes the local actor identity a Document's transactions
// are authored as, instead of generating a random one.
func WithActorId(id op.ActorId) Option {
	return func(d *Document) { d.actorID = id }
}

// WithLogger injects a structured logger, the way the teacher's
// cli.NewREPL takes explicit io.Writers instead of reaching for a
// package-level global. Defaults to a no-op logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(d *Document) { d.log = l }
}

// WithPatchLog disables (or swaps) the document's observer patch log.
// Pass patch.New(false) to skip patch bookkeeping entirely for a
// write-mostly workload that never calls TakePatches.
func WithPatchLog(p *patch.PatchLog) Option {
	return func(d *Document) { d.patches = p }
}

func applyOptions(d *Document, opts []Option) {
	for _, o := range opts {
		o(d)
	}
}

// New returns an empty document — spec.md §6.4's new().
func New(opts ...Option) *Document {
	d := &Document{
		inner:   document.New(),
		actorID: op.NewActorId(),
		log:     zap.NewNop().Sugar(),
		patches: patch.New(true),
	}
	applyOptions(d, opts)
	return d
}

// ActorId returns this handle's local actor identity.
func (d *Document) ActorId() op.ActorId { return d.actorID }

// Patches returns the document's shared observer patch log, for
// callers that want to inspect it directly rather than through
// TakePatches.
func (d *Document) Patches() *patch.PatchLog { return d.patches }

// TakePatches compacts and clears the document's accumulated patch
// log — spec.md §4.6's observer contract: call this once per
// transaction/merge cycle to drain exactly what changed since the last
// call.
func (d *Document) TakePatches() ([]patch.Patch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out, err := d.patches.Compact(d.inner.OpSet(), d.inner.Props())
	if err != nil {
		return nil, errors.Wrap(err, "doc: compact patch log")
	}
	d.patches.Reset()
	return out, nil
}

// Fork returns an independent copy of the document as of its current
// heads, under a freshly generated actor id — spec.md §6.4's fork().
func (d *Document) Fork() (*Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.forkAtLocked(d.inner.Heads())
}

// ForkAt returns an independent copy of the document containing only
// changes that are ancestors of heads, under a freshly generated actor
// id — spec.md §6.4's fork_at(heads). heads must be a valid causal cut:
// every change kept is either named by heads or an ancestor of one that
// is.
func (d *Document) ForkAt(heads []chunk.Hash) (*Document, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.forkAtLocked(heads)
}

func (d *Document) forkAtLocked(heads []chunk.Hash) (*Document, error) {
	anc, err := d.inner.Graph().AncestorSet(heads)
	if err != nil {
		return nil, errors.Wrap(err, "doc: fork: resolve ancestor set")
	}

	fresh := document.New()
	for _, c := range d.inner.Changes() {
		h, _ := c.Hash()
		if !anc[h] {
			continue
		}
		if _, err := fresh.AddChange(c); err != nil {
			return nil, errors.Wrap(err, "doc: fork: replay change")
		}
	}

	return &Document{
		inner:   fresh,
		actorID: op.NewActorId(),
		log:     d.log,
		patches: patch.New(d.patches.IsActive()),
	}, nil
}

// nextSeqLocked returns the sequence number this handle's next
// transaction must use: one past the highest seq this actor has
// already committed.
func (d *Document) nextSeqLocked() uint64 {
	var max uint64
	for _, c := range d.inner.Changes() {
		if c.Actor.Equal(d.actorID) && c.Seq > max {
			max = c.Seq
		}
	}
	return max + 1
}

// nextOpBaseLocked returns the counter the next transaction's first op
// must use: one past the highest op counter used anywhere in the
// document so far. Every change's MaxOp is, by construction, at least
// as large as any of its ancestors' (a transaction always starts from
// max_op()+1), so the graph's current heads alone carry the document
// maximum.
func (d *Document) nextOpBaseLocked() uint64 {
	var max uint64
	g := d.inner.Graph()
	for _, h := range g.Heads() {
		if n, ok := g.Node(h); ok && n.MaxOp > max {
			max = n.MaxOp
		}
	}
	return max + 1
}

func wrapInvalidRequest(msg string) error {
	return errors.Wrap(crdterr.ErrInvalidChangeRequest, msg)
}
