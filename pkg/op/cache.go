package op

import "sort"

// ActorCache interns ActorIds for one document's lifetime: ops carry a
// small index into this cache rather than full actor bytes (spec.md
// §3.6, §9). Entries are appended on first use and never removed.
type ActorCache struct {
	byIndex []ActorId
	byBytes map[string]int
}

// NewActorCache returns an empty cache.
func NewActorCache() *ActorCache {
	return &ActorCache{byBytes: make(map[string]int)}
}

// Intern returns the index for id, assigning a new one if this is the
// actor's first appearance.
func (c *ActorCache) Intern(id ActorId) int {
	key := string(id)
	if idx, ok := c.byBytes[key]; ok {
		return idx
	}
	idx := len(c.byIndex)
	c.byIndex = append(c.byIndex, append(ActorId(nil), id...))
	c.byBytes[key] = idx
	return idx
}

// Get returns the ActorId for a previously interned index.
func (c *ActorCache) Get(idx int) (ActorId, bool) {
	if idx < 0 || idx >= len(c.byIndex) {
		return nil, false
	}
	return c.byIndex[idx], true
}

// Len returns the number of interned actors.
func (c *ActorCache) Len() int { return len(c.byIndex) }

// SortedActors returns every interned actor sorted ascending, alongside
// a remap from the cache's current index to its position in that sorted
// order — used when saving a document so the on-disk actor list is
// canonical regardless of interning order (spec.md §6.3).
func (c *ActorCache) SortedActors() (sorted []ActorId, remap []int) {
	n := len(c.byIndex)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return c.byIndex[order[i]].Compare(c.byIndex[order[j]]) < 0
	})
	sorted = make([]ActorId, n)
	remap = make([]int, n)
	for newIdx, oldIdx := range order {
		sorted[newIdx] = c.byIndex[oldIdx]
		remap[oldIdx] = newIdx
	}
	return sorted, remap
}

// PropCache interns map-key property strings the same way ActorCache
// interns actor bytes.
type PropCache struct {
	byIndex []string
	byName  map[string]int
}

// NewPropCache returns an empty cache.
func NewPropCache() *PropCache {
	return &PropCache{byName: make(map[string]int)}
}

// Intern returns the index for name, assigning a new one on first use.
func (c *PropCache) Intern(name string) int {
	if idx, ok := c.byName[name]; ok {
		return idx
	}
	idx := len(c.byIndex)
	c.byIndex = append(c.byIndex, name)
	c.byName[name] = idx
	return idx
}

// Get returns the property name for a previously interned index.
func (c *PropCache) Get(idx int) (string, bool) {
	if idx < 0 || idx >= len(c.byIndex) {
		return "", false
	}
	return c.byIndex[idx], true
}

// Len returns the number of interned properties.
func (c *PropCache) Len() int { return len(c.byIndex) }
