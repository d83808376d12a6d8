package doc

import (
	"github.com/pkg/errors"

	"crdt/pkg/change"
	"crdt/pkg/changegraph"
	"crdt/pkg/chunk"
	pkgsync "crdt/pkg/sync"
)

// SyncState is one peer connection's sync bookkeeping — spec.md §4.5.
// Re-exported from pkg/sync so callers of pkg/doc never need to import
// it directly.
type SyncState = pkgsync.SyncState

// SyncMessage is one round of the sync protocol.
type SyncMessage = pkgsync.Message

// NewSyncState returns a SyncState with no shared history assumed yet.
func NewSyncState() *SyncState { return pkgsync.NewState() }

// syncAdapter satisfies pkgsync.Document the same way *document.Document
// does, except AddChange also records observer patches for whatever it
// applies — pkg/sync has no notion of patches, so this is where that
// wiring happens for changes arriving over sync rather than a local
// Transaction.
type syncAdapter struct{ d *Document }

func (a syncAdapter) Heads() []chunk.Hash        { return a.d.inner.Heads() }
func (a syncAdapter) Graph() *changegraph.Graph  { return a.d.inner.Graph() }
func (a syncAdapter) GetChangeByHash(h chunk.Hash) (*change.Change, bool) {
	return a.d.inner.GetChangeByHash(h)
}
func (a syncAdapter) GetChanges(have []chunk.Hash) ([]*change.Change, error) {
	return a.d.inner.GetChanges(have)
}
func (a syncAdapter) GetMissingDeps(heads []chunk.Hash) []chunk.Hash {
	return a.d.inner.GetMissingDeps(heads)
}
func (a syncAdapter) AddChange(c *change.Change) (chunk.Hash, error) {
	hash, err := a.d.inner.AddChange(c)
	if err != nil {
		return chunk.Hash{}, err
	}
	recordMergedChangePatches(a.d.patches, a.d.inner.OpSet(), a.d.inner.Props(), c)
	return hash, nil
}

// GenerateSyncMessage builds the next message to send to the peer
// tracked by state, or (nil, nil) when there's nothing new to say.
func (d *Document) GenerateSyncMessage(state *SyncState) (*SyncMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	msg, err := pkgsync.GenerateMessage(syncAdapter{d}, state)
	if err != nil {
		return nil, errors.Wrap(err, "doc: generate sync message")
	}
	return msg, nil
}

// ReceiveSyncMessage applies every causally-ready change in msg,
// buffers the rest pending their dependencies, and updates state.
func (d *Document) ReceiveSyncMessage(state *SyncState, msg *SyncMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := pkgsync.ReceiveMessage(syncAdapter{d}, state, msg); err != nil {
		return errors.Wrap(err, "doc: receive sync message")
	}
	return nil
}
