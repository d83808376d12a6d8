// Package changegraph implements spec.md §4.4: a DAG of content-addressed
// changes, per-actor clocks over arbitrary head sets, and an LRU-backed
// clock cache that bounds ancestor traversal depth for deep histories.
//
// The "cache every Kth insertion, keyed by content hash, immutable once
// written" shape mirrors the teacher's pkg/cache/query_cache.go (an LRU
// with hit/miss accounting) combined with pkg/mvcc/transaction.go's
// dependency bookkeeping between transactions — here, between changes.
// Ancestor/visited sets over graph-local node indices use a roaring
// bitmap rather than a map[int]bool, the same structure the pack's
// turbo-geth member reaches for over its own small dense integer sets.
package changegraph

import (
	"github.com/RoaringBitmap/roaring/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"crdt/pkg/chunk"
	"crdt/pkg/crdterr"
)

// cacheEvery is K in spec.md §4.4.2: every Kth inserted node caches its
// clock.
const cacheEvery = 32

// Node is one change's DAG record: its author/seq/op-range and the
// graph-local indices of its dependencies.
type Node struct {
	Hash     chunk.Hash
	ActorIdx int
	Seq      uint64
	StartOp  uint64
	MaxOp    uint64
	Parents  []int
}

// Graph is the in-memory change DAG for one document.
type Graph struct {
	nodes      []Node
	byHash     map[chunk.Hash]int
	hasParent  *roaring.Bitmap // node indices with at least one recorded child
	clockCache *lru.Cache[chunk.Hash, Clock]
}

// New builds an empty change graph, with a clock cache sized to hold
// cacheSize cached clocks (pass 0 for a sensible default).
func New(cacheSize int) *Graph {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, _ := lru.New[chunk.Hash, Clock](cacheSize)
	return &Graph{
		byHash:     make(map[chunk.Hash]int),
		hasParent:  roaring.New(),
		clockCache: cache,
	}
}

// Has reports whether hash is already present in the graph.
func (g *Graph) Has(hash chunk.Hash) bool {
	_, ok := g.byHash[hash]
	return ok
}

// AddChange inserts one change's DAG node. O(len(deps)). Returns
// ErrMissingDep if any dep is not yet present, or ErrDuplicateChange if
// hash is already in the graph.
func (g *Graph) AddChange(hash chunk.Hash, actorIdx int, seq, startOp, maxOp uint64, deps []chunk.Hash) error {
	if g.Has(hash) {
		return errors.Wrapf(crdterr.ErrDuplicateChange, "changegraph: change %x already applied", hash)
	}
	parents := make([]int, 0, len(deps))
	for _, d := range deps {
		idx, ok := g.byHash[d]
		if !ok {
			return errors.Wrapf(crdterr.ErrMissingDep, "changegraph: dep %x not present", d)
		}
		parents = append(parents, idx)
	}

	idx := len(g.nodes)
	g.nodes = append(g.nodes, Node{
		Hash: hash, ActorIdx: actorIdx, Seq: seq, StartOp: startOp, MaxOp: maxOp, Parents: parents,
	})
	g.byHash[hash] = idx
	for _, p := range parents {
		g.hasParent.Add(uint32(p))
	}

	if (idx+1)%cacheEvery == 0 {
		clock, err := g.clockThrough(idx, roaring.New())
		if err != nil {
			return err
		}
		g.clockCache.Add(hash, clock)
	}
	return nil
}

// clockThrough computes the clock covering node idx and all its
// ancestors, short-circuiting at the first cached ancestor it meets.
func (g *Graph) clockThrough(idx int, visited *roaring.Bitmap) (Clock, error) {
	if !visited.CheckedAdd(uint32(idx)) {
		return Clock{}, nil
	}

	node := g.nodes[idx]
	if cached, ok := g.clockCache.Get(node.Hash); ok {
		return cached, nil
	}

	out := mergeEntry(Clock{}, node.ActorIdx, node.MaxOp, node.Seq)
	for _, p := range node.Parents {
		parentClock, err := g.clockThrough(p, visited)
		if err != nil {
			return nil, err
		}
		out = merge(out, parentClock)
	}
	return out, nil
}

// ClockForHeads returns the Clock covering every ancestor of heads
// (inclusive), truncating DAG traversal at the first cached ancestor.
func (g *Graph) ClockForHeads(heads []chunk.Hash) (Clock, error) {
	visited := roaring.New()
	out := Clock{}
	for _, h := range heads {
		idx, ok := g.byHash[h]
		if !ok {
			return nil, errors.Wrapf(crdterr.ErrMissingDep, "changegraph: head %x not present", h)
		}
		c, err := g.clockThrough(idx, visited)
		if err != nil {
			return nil, err
		}
		out = merge(out, c)
	}
	return out, nil
}

// AncestorSet returns the set of change hashes reachable from heads,
// heads themselves included.
func (g *Graph) AncestorSet(heads []chunk.Hash) (map[chunk.Hash]bool, error) {
	visited := roaring.New()
	out := make(map[chunk.Hash]bool)
	var walk func(idx int)
	walk = func(idx int) {
		if !visited.CheckedAdd(uint32(idx)) {
			return
		}
		node := g.nodes[idx]
		out[node.Hash] = true
		for _, p := range node.Parents {
			walk(p)
		}
	}
	for _, h := range heads {
		idx, ok := g.byHash[h]
		if !ok {
			return nil, errors.Wrapf(crdterr.ErrMissingDep, "changegraph: head %x not present", h)
		}
		walk(idx)
	}
	return out, nil
}

// RemoveAncestors filters hashes, removing any that are ancestors of
// (or equal to) heads.
func (g *Graph) RemoveAncestors(hashes []chunk.Hash, heads []chunk.Hash) ([]chunk.Hash, error) {
	anc, err := g.AncestorSet(heads)
	if err != nil {
		return nil, err
	}
	out := make([]chunk.Hash, 0, len(hashes))
	for _, h := range hashes {
		if !anc[h] {
			out = append(out, h)
		}
	}
	return out, nil
}

// Heads returns every node with no recorded child — the graph's current
// frontier.
func (g *Graph) Heads() []chunk.Hash {
	var out []chunk.Hash
	for idx, node := range g.nodes {
		if !g.hasParent.Contains(uint32(idx)) {
			out = append(out, node.Hash)
		}
	}
	return out
}

// Node returns the node for hash, if present.
func (g *Graph) Node(hash chunk.Hash) (Node, bool) {
	idx, ok := g.byHash[hash]
	if !ok {
		return Node{}, false
	}
	return g.nodes[idx], true
}

// Len returns the number of changes in the graph.
func (g *Graph) Len() int { return len(g.nodes) }
