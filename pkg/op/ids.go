// Package op defines the algebra of CRDT operations: identifiers, keys,
// operation types, and the scalar value union they carry.
package op

import (
	"bytes"
	"sort"

	"github.com/google/uuid"
)

// ActorId is an opaque, randomly generated byte string identifying one
// writer. Ordered lexicographically.
type ActorId []byte

// NewActorId generates a fresh random ActorId.
func NewActorId() ActorId {
	id := uuid.New()
	return ActorId(id[:])
}

// Compare orders two actor ids lexicographically.
func (a ActorId) Compare(b ActorId) int {
	return bytes.Compare(a, b)
}

func (a ActorId) Equal(b ActorId) bool {
	return bytes.Equal(a, b)
}

// SortActorIds sorts a slice of ActorId in place, ascending.
func SortActorIds(ids []ActorId) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Compare(ids[j]) < 0 })
}

// OpId is a Lamport pair: a counter and an index into the document's
// actor cache. Ordering is counter-first, then actor.
type OpId struct {
	Counter uint64
	Actor   int
}

// Root is the reserved OpId naming the document root object: counter 0,
// actor 0.
var Root = OpId{Counter: 0, Actor: 0}

// Less orders OpIds by counter, then by raw actor cache index. This is
// NOT safe to use across two OpIds that may have been interned into
// different ActorCaches (or the same cache at different points in
// time), since a cache assigns indices in first-use order — two
// documents that each see the other's actor for the first time only at
// merge will disagree on index order for the same actor. Callers that
// resolve ties across such OpIds (opset.winner, RGA sibling order,
// OpSet.AllRows's save order) must use CompareWithCache/LessWithCache
// instead. Plain Less remains correct for OpIds known to share a single
// cache throughout their lifetime (e.g. sorting a Pred list gathered in
// one Apply call).
func (id OpId) Less(o OpId) bool {
	if id.Counter != o.Counter {
		return id.Counter < o.Counter
	}
	return id.Actor < o.Actor
}

// CompareWithCache orders two OpIds by counter, then by the actor bytes
// their indices name in cache — the tie-break spec.md §3.1 requires
// ("counter first, then actor bytes"), and the only tie-break that two
// replicas holding the same ops can agree on regardless of the order
// each replica happened to intern actors in. Falls back to comparing
// raw indices when cache is nil or either index hasn't been interned
// yet, so OpIds built directly in tests (with no backing cache) still
// compare consistently.
func (id OpId) CompareWithCache(o OpId, cache *ActorCache) int {
	if id.Counter != o.Counter {
		if id.Counter < o.Counter {
			return -1
		}
		return 1
	}
	if id.Actor == o.Actor {
		return 0
	}
	if cache != nil {
		if a, ok := cache.Get(id.Actor); ok {
			if b, ok := cache.Get(o.Actor); ok {
				return a.Compare(b)
			}
		}
	}
	switch {
	case id.Actor < o.Actor:
		return -1
	default:
		return 1
	}
}

// LessWithCache reports whether id sorts strictly before o under
// CompareWithCache.
func (id OpId) LessWithCache(o OpId, cache *ActorCache) bool {
	return id.CompareWithCache(o, cache) < 0
}

func (id OpId) Equal(o OpId) bool {
	return id.Counter == o.Counter && id.Actor == o.Actor
}

// SortOpIds sorts a slice of OpId in place, ascending.
func SortOpIds(ids []OpId) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}

// ObjId wraps an OpId naming a composite object. The root object has
// ObjId zero value (Root).
type ObjId struct{ OpId }

// RootObj is the ObjId of the document's root map.
var RootObj = ObjId{Root}

// ElemId wraps an OpId naming a list/text element. Head is the
// synthetic predecessor of the first element.
type ElemId struct{ OpId }

// Head marks "before the first element".
var Head = ElemId{Root}

func (e ElemId) IsHead() bool { return e.OpId == Root }
