package doc

import (
	"github.com/pkg/errors"

	"crdt/pkg/chunk"
	"crdt/pkg/crdterr"
	"crdt/pkg/op"
	"crdt/pkg/opset"
)

// Parent is one step of an object's ownership chain, from Document.Parents.
type Parent struct {
	Obj op.ObjId
	Key op.Key
}

// Get returns the currently visible value at a map key.
func (d *Document) Get(obj op.ObjId, key string) (opset.Value, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.inner.Props().Intern(key)
	return d.inner.OpSet().Get(obj, op.MapKey(idx))
}

// GetAt is Get evaluated as of a historical set of heads rather than
// the document's current frontier.
func (d *Document) GetAt(obj op.ObjId, key string, heads []chunk.Hash) (opset.Value, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	clock, err := d.inner.Graph().ClockForHeads(heads)
	if err != nil {
		return opset.Value{}, false, errors.Wrap(err, "doc: get-at: resolve clock")
	}
	idx := d.inner.Props().Intern(key)
	return d.inner.OpSet().GetAt(obj, op.MapKey(idx), clock)
}

// GetAll returns every currently visible candidate at a map key — the
// full conflict set.
func (d *Document) GetAll(obj op.ObjId, key string) ([]opset.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	idx := d.inner.Props().Intern(key)
	return d.inner.OpSet().GetAll(obj, op.MapKey(idx))
}

// GetAllAt is GetAll evaluated as of a historical set of heads.
func (d *Document) GetAllAt(obj op.ObjId, key string, heads []chunk.Hash) ([]opset.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	clock, err := d.inner.Graph().ClockForHeads(heads)
	if err != nil {
		return nil, errors.Wrap(err, "doc: get-all-at: resolve clock")
	}
	idx := d.inner.Props().Intern(key)
	return d.inner.OpSet().GetAllAt(obj, op.MapKey(idx), clock)
}

// ObjectType reports the composite type obj was created as.
func (d *Document) ObjectType(obj op.ObjId) (op.ObjType, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inner.OpSet().ObjectType(obj)
}

// Keys returns the currently visible property names of a map object.
func (d *Document) Keys(obj op.ObjId) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys, err := d.inner.OpSet().Keys(obj)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if name, ok := d.inner.Props().Get(k.Prop); ok {
			out = append(out, name)
		}
	}
	return out, nil
}

// Length returns the number of currently visible elements in a
// List/Text object.
func (d *Document) Length(obj op.ObjId) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inner.OpSet().Length(obj)
}

// Text materializes a Text object's currently visible characters.
func (d *Document) Text(obj op.ObjId) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inner.OpSet().Text(obj)
}

// ListRange returns up to count currently visible elements of a
// List/Text object, starting at the start'th visible position.
func (d *Document) ListRange(obj op.ObjId, start, count int) ([]opset.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inner.OpSet().ListRange(obj, start, count)
}

// MapRange returns every currently visible (key, value) pair of a map
// object, in no particular order — spec.md §6.4's map_range.
func (d *Document) MapRange(obj op.ObjId) (map[string]opset.Value, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	keys, err := d.inner.OpSet().Keys(obj)
	if err != nil {
		return nil, err
	}
	out := make(map[string]opset.Value, len(keys))
	for _, k := range keys {
		v, ok, err := d.inner.OpSet().Get(obj, k)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		name, _ := d.inner.Props().Get(k.Prop)
		out[name] = v
	}
	return out, nil
}

// Marks returns every currently open or closed rich-text annotation
// span over a List/Text object.
func (d *Document) Marks(obj op.ObjId) ([]opset.MarkSpan, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inner.OpSet().Marks(obj)
}

// Parents walks an object's ownership chain from obj up to the
// document root, one (object, key) hop at a time. The returned chain
// does not resolve numeric list indices or map-key display names for
// intermediate Parent entries beyond their raw op.Key — callers
// wanting a human-readable path resolve each hop's Key themselves via
// Keys/ListRange-style lookups on that hop's own parent object.
func (d *Document) Parents(obj op.ObjId) ([]Parent, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []Parent
	cur := obj
	for cur != op.RootObj {
		parentObj, key, ok := d.inner.OpSet().Owner(cur)
		if !ok {
			return nil, errors.Wrapf(crdterr.ErrInvalidObjectId, "doc: object %v not found while walking parents", cur)
		}
		out = append(out, Parent{Obj: parentObj, Key: key})
		cur = parentObj
	}
	return out, nil
}
