// Package sync implements spec.md §4.5: the per-peer sync state machine
// that lets two replicas converge on the same set of changes without
// either side ever sending a change the other already has, using a
// Bloom filter to advertise "what I already have" without shipping an
// exact hash list.
//
// Grounded on the teacher's pkg/cache/query_cache.go: that cache tracks
// what has been computed and when it must be considered stale (its
// table index). SyncState plays the same role for a peer connection —
// SentHashes tracks what this side has already pushed, SharedHeads
// tracks the frontier both sides are known to agree on, and a
// generate/receive round invalidates and refreshes both exactly the
// way InvalidateTable refreshes the query cache's view of a table.
package sync

import (
	"sort"

	"github.com/holiman/bloomfilter/v2"
	"github.com/pkg/errors"

	"crdt/pkg/change"
	"crdt/pkg/changegraph"
	"crdt/pkg/chunk"
	"crdt/pkg/crdterr"
)

// bloomFalsePositiveRate is the target false-positive rate for a Have's
// Bloom filter, per spec.md §4.5.1.
const bloomFalsePositiveRate = 0.01

// Document is the read/write surface pkg/sync needs from a replica.
// *document.Document satisfies this directly — Generate/ReceiveMessage
// take one as a parameter instead of pkg/sync depending on pkg/document,
// so pkg/doc can wire the two together without a cycle.
type Document interface {
	Heads() []chunk.Hash
	Graph() *changegraph.Graph
	GetChanges(haveDeps []chunk.Hash) ([]*change.Change, error)
	GetChangeByHash(hash chunk.Hash) (*change.Change, bool)
	AddChange(c *change.Change) (chunk.Hash, error)
	GetMissingDeps(heads []chunk.Hash) []chunk.Hash
}

// Have is one peer's compact description of a prefix of history: every
// change it already has since LastSyncHeads, represented as membership
// in a Bloom filter rather than an exact hash list.
type Have struct {
	LastSyncHeads []chunk.Hash
	Bloom         *bloomfilter.Filter
}

// Message is one round of the sync protocol, per spec.md §4.5.
type Message struct {
	Heads   []chunk.Hash
	Need    []chunk.Hash
	Haves   []Have
	Changes []change.Change
}

// SyncState is the state one replica keeps for one peer connection,
// across however many Generate/Receive rounds it takes to converge.
type SyncState struct {
	SharedHeads   []chunk.Hash
	LastSentHeads []chunk.Hash

	TheirHeads []chunk.Hash
	TheirNeed  []chunk.Hash
	TheirHave  []Have

	SentHashes map[chunk.Hash]bool

	// Pending holds changes received whose deps are not all present
	// yet — spec.md §4.5.3's failure model: they wait here, indefinitely
	// if needed, until a later message supplies the missing ancestors.
	Pending []change.Change

	// InFlight marks a Generate'd message still awaiting ReceiveMessage
	// on the peer's side — set by the caller's transport, not by this
	// package, since pkg/sync has no notion of delivery.
	InFlight bool
}

// NewState returns a SyncState with no shared history assumed yet.
func NewState() *SyncState {
	return &SyncState{SentHashes: make(map[chunk.Hash]bool)}
}

// GenerateMessage builds the next message to send to this peer, or
// returns (nil, nil) when there is nothing to say: our heads match what
// we last told them, they match what they last told us, and they have
// not asked us for anything — spec.md §4.5.1 step 1 and §4.5.3's
// termination rule.
func GenerateMessage(doc Document, state *SyncState) (*Message, error) {
	if state.SentHashes == nil {
		state.SentHashes = make(map[chunk.Hash]bool)
	}
	ourHeads := doc.Heads()

	if headsEqual(ourHeads, state.TheirHeads) &&
		headsEqual(ourHeads, state.LastSentHeads) &&
		len(state.TheirNeed) == 0 {
		return nil, nil
	}

	reachable, err := doc.GetChanges(state.SharedHeads)
	if err != nil {
		return nil, errors.Wrap(err, "sync: list changes since shared heads")
	}

	have, err := buildHave(state.SharedHeads, reachable)
	if err != nil {
		return nil, err
	}

	toSend, err := selectChanges(reachable, state)
	if err != nil {
		return nil, err
	}

	need := doc.GetMissingDeps(state.TheirHeads)

	state.LastSentHeads = append([]chunk.Hash(nil), ourHeads...)
	for i := range toSend {
		h, _ := toSend[i].Hash()
		state.SentHashes[h] = true
	}

	return &Message{
		Heads:   ourHeads,
		Need:    need,
		Haves:   []Have{have},
		Changes: toSend,
	}, nil
}

// ReceiveMessage applies every change in msg that is already causally
// ready, buffers the rest in state.Pending, and records the peer's
// reported heads/need/haves and the newly shared frontier — spec.md
// §4.5.2.
func ReceiveMessage(doc Document, state *SyncState, msg *Message) error {
	if state.SentHashes == nil {
		state.SentHashes = make(map[chunk.Hash]bool)
	}
	state.Pending = append(state.Pending, msg.Changes...)

	applied, err := drainPending(doc, state)
	if err != nil {
		return err
	}

	state.TheirHeads = append([]chunk.Hash(nil), msg.Heads...)
	state.TheirNeed = append([]chunk.Hash(nil), msg.Need...)
	state.TheirHave = append([]Have(nil), msg.Haves...)

	state.SharedHeads = nextSharedHeads(doc, state.SharedHeads, msg.Heads, applied)
	return nil
}

// drainPending applies every buffered change whose deps are now all
// present, repeatedly, since applying one can unblock another buffered
// change from the very same message. Returns the hashes applied.
func drainPending(doc Document, state *SyncState) ([]chunk.Hash, error) {
	var applied []chunk.Hash
	for progress := true; progress; {
		progress = false
		remaining := state.Pending[:0]
		for i := range state.Pending {
			c := state.Pending[i]
			if !depsReady(doc, &c) {
				remaining = append(remaining, c)
				continue
			}
			h, err := doc.AddChange(&c)
			if err != nil {
				if errors.Is(err, crdterr.ErrDuplicateChange) {
					continue
				}
				return nil, errors.Wrap(err, "sync: apply received change")
			}
			applied = append(applied, h)
			progress = true
		}
		state.Pending = remaining
	}
	return applied, nil
}

func depsReady(doc Document, c *change.Change) bool {
	g := doc.Graph()
	for _, d := range c.Deps {
		if !g.Has(d) {
			return false
		}
	}
	return true
}

// nextSharedHeads folds in whatever the two sides now both provably
// have: heads named by both peers, whatever was already shared, and any
// change just applied from the peer's message (which they necessarily
// have too, since they sent it).
func nextSharedHeads(doc Document, prevShared, theirHeads, applied []chunk.Hash) []chunk.Hash {
	shared := make(map[chunk.Hash]bool, len(prevShared)+len(applied))
	for _, h := range prevShared {
		shared[h] = true
	}
	for _, h := range applied {
		shared[h] = true
	}
	theirSet := make(map[chunk.Hash]bool, len(theirHeads))
	for _, h := range theirHeads {
		theirSet[h] = true
	}
	for _, h := range doc.Heads() {
		if theirSet[h] {
			shared[h] = true
		}
	}
	return sortedHashes(shared)
}

// buildHave sizes a Bloom filter for ~1% false positives over reachable
// and records it alongside the shared-heads prefix it was built from.
func buildHave(sharedHeads []chunk.Hash, reachable []*change.Change) (Have, error) {
	n := uint64(len(reachable))
	if n == 0 {
		n = 1
	}
	filter, err := bloomfilter.NewOptimal(n, bloomFalsePositiveRate)
	if err != nil {
		return Have{}, errors.Wrap(err, "sync: size bloom filter")
	}
	for _, c := range reachable {
		h, err := changeHash(c)
		if err != nil {
			return Have{}, err
		}
		filter.Add(bloomKey(h))
	}
	return Have{
		LastSyncHeads: append([]chunk.Hash(nil), sharedHeads...),
		Bloom:         filter,
	}, nil
}

// selectChanges picks which of reachable to actually ship: anything the
// peer explicitly asked for in their need, plus anything not already
// sent that their most recent Bloom filter doesn't claim to have —
// spec.md §4.5.1 step 4.
func selectChanges(reachable []*change.Change, state *SyncState) ([]change.Change, error) {
	needSet := make(map[chunk.Hash]bool, len(state.TheirNeed))
	for _, h := range state.TheirNeed {
		needSet[h] = true
	}
	var out []change.Change
	for _, c := range reachable {
		h, err := changeHash(c)
		if err != nil {
			return nil, err
		}
		if needSet[h] {
			out = append(out, *c)
			continue
		}
		if state.SentHashes[h] {
			continue
		}
		if !peerMayHave(state.TheirHave, h) {
			out = append(out, *c)
		}
	}
	return out, nil
}

func peerMayHave(haves []Have, h chunk.Hash) bool {
	for _, hv := range haves {
		if hv.Bloom != nil && hv.Bloom.Contains(bloomKey(h)) {
			return true
		}
	}
	return false
}

func changeHash(c *change.Change) (chunk.Hash, error) {
	h, ok := c.Hash()
	if !ok {
		return chunk.Hash{}, errors.New("sync: change has no hash; only pass changes read back from a document")
	}
	return h, nil
}

func headsEqual(a, b []chunk.Hash) bool {
	if len(a) != len(b) {
		return false
	}
	as, bs := sortedCopy(a), sortedCopy(b)
	for i := range as {
		if as[i].Compare(bs[i]) != 0 {
			return false
		}
	}
	return true
}

func sortedCopy(hs []chunk.Hash) []chunk.Hash {
	out := append([]chunk.Hash(nil), hs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

func sortedHashes(set map[chunk.Hash]bool) []chunk.Hash {
	out := make([]chunk.Hash, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

// bloomKey adapts a 32-byte change hash to hash.Hash64 so it can be fed
// to bloomfilter.Filter.Add/Contains without rehashing it: the hash is
// already a cryptographic digest, so its leading 8 bytes are as
// uniform as any further hash of it would be.
type bloomKey chunk.Hash

func (k bloomKey) Write(p []byte) (int, error) { return len(p), nil }
func (k bloomKey) Sum(b []byte) []byte         { return b }
func (k bloomKey) Reset()                      {}
func (k bloomKey) Size() int                   { return 8 }
func (k bloomKey) BlockSize() int              { return 8 }
func (k bloomKey) Sum64() uint64 {
	return uint64(k[0])<<56 | uint64(k[1])<<48 | uint64(k[2])<<40 | uint64(k[3])<<32 |
		uint64(k[4])<<24 | uint64(k[5])<<16 | uint64(k[6])<<8 | uint64(k[7])
}
