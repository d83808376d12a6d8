package change

import (
	"crdt/pkg/chunk"
	"crdt/pkg/op"
)

// Builder accumulates one actor's ops during a transaction, assigning
// each its sequential counter as it's appended, then seals the run to a
// Change (and its wire chunk) against the document's current heads.
// Grounded on the teacher's pkg/wal: a transaction appends records to an
// in-memory buffer and only commits them as one framed, checksummed unit.
type Builder struct {
	actor   op.ActorId
	seq     uint64
	startOp uint64
	time    int64
	message string
	hasMessage bool
	ops     []op.Op
}

// NewBuilder starts a transaction for actor, whose next change will be
// sequence number seq and whose first op counter is startOp.
func NewBuilder(actor op.ActorId, seq, startOp uint64, time int64) *Builder {
	return &Builder{actor: actor, seq: seq, startOp: startOp, time: time}
}

// SetMessage attaches a commit message to the change being built.
func (b *Builder) SetMessage(msg string) {
	b.message = msg
	b.hasMessage = true
}

// Len returns the number of ops appended so far.
func (b *Builder) Len() int { return len(b.ops) }

// NextOpId returns the OpId the next appended op will receive.
func (b *Builder) NextOpId(authorGlobal int) op.OpId {
	return op.OpId{Counter: b.startOp + uint64(len(b.ops)), Actor: authorGlobal}
}

// Append adds one op to the transaction. Callers are responsible for
// having set o.ID to NextOpId's value before calling Append — Builder
// does not recompute it, since callers need the id to reference the op
// from a subsequent op's Pred in the same transaction.
func (b *Builder) Append(o op.Op) {
	b.ops = append(b.ops, o)
}

// Ops returns the ops appended so far, without sealing the transaction.
func (b *Builder) Ops() []op.Op { return b.ops }

// Seal finalizes the transaction into a Change against deps (the change
// graph's current heads at the time the transaction began), then
// encodes it into a wire chunk using actors/props for its column
// indices.
func (b *Builder) Seal(deps []chunk.Hash, actors *op.ActorCache, props *op.PropCache) (*Change, []byte, error) {
	c := &Change{
		Actor:      b.actor,
		Seq:        b.seq,
		StartOp:    b.startOp,
		Time:       b.time,
		Message:    b.message,
		HasMessage: b.hasMessage,
		Deps:       deps,
		Ops:        b.ops,
	}
	wire, _, err := c.Encode(actors, props)
	if err != nil {
		return nil, nil, err
	}
	return c, wire, nil
}
