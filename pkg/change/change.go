// Package change implements spec.md §6.2: a Change is one actor's
// transaction — a contiguous run of ops plus the causal metadata
// (actor, seq, start_op, time, message, deps) needed to place it in the
// change graph. A Change seals to a content-addressed pkg/chunk body the
// same way the teacher's pkg/wal seals a batch of writes to a
// checksum-framed record: append-only, hashed once, immutable after.
package change

import (
	"github.com/pkg/errors"

	"crdt/internal/leb128"
	"crdt/pkg/chunk"
	"crdt/pkg/columnar"
	"crdt/pkg/crdterr"
	"crdt/pkg/op"
)

// Change is one actor's causally-ordered run of ops, deserialized and
// ready to apply to an OpSet.
type Change struct {
	Actor   op.ActorId
	Seq     uint64
	StartOp uint64
	Time    int64
	Message string
	HasMessage bool
	Deps    []chunk.Hash
	Ops     []op.Op

	// ExtraBytes preserves any trailing bytes this decoder doesn't
	// interpret, so an unrecognized future extension round-trips.
	ExtraBytes []byte

	hash    chunk.Hash
	hasHash bool
}

// MaxOp returns the counter of this change's last op (StartOp + len(Ops) - 1),
// or StartOp-1 if the change carries no ops.
func (c *Change) MaxOp() uint64 {
	if len(c.Ops) == 0 {
		if c.StartOp == 0 {
			return 0
		}
		return c.StartOp - 1
	}
	return c.StartOp + uint64(len(c.Ops)) - 1
}

// Hash returns this change's content address, if it has been computed
// by a prior Encode or Decode call.
func (c *Change) Hash() (chunk.Hash, bool) {
	return c.hash, c.hasHash
}

// Encode serializes c to a CompressedChange-eligible chunk, given the
// actor/prop caches its ops' indices are defined against, and caches the
// resulting hash on c.
func (c *Change) Encode(actors *op.ActorCache, props *op.PropCache) ([]byte, chunk.Hash, error) {
	wire, h, err := c.encode(actors, props)
	if err != nil {
		return nil, chunk.Hash{}, err
	}
	c.hash = h
	c.hasHash = true
	return wire, h, nil
}

func (c *Change) encode(actors *op.ActorCache, props *op.PropCache) ([]byte, chunk.Hash, error) {
	authorGlobal := actors.Intern(c.Actor)

	otherActors, opCols, err := encodeOps(c.Ops, authorGlobal, actors, props)
	if err != nil {
		return nil, chunk.Hash{}, err
	}

	colSet, err := columnar.EncodeColumnSet(opCols)
	if err != nil {
		return nil, chunk.Hash{}, errors.Wrap(err, "change: encode ops column set")
	}

	var body []byte
	body = leb128.PutBytes(body, c.Actor)
	body = leb128.PutUvarint(body, c.Seq)
	body = leb128.PutUvarint(body, c.StartOp)
	body = leb128.PutVarint(body, c.Time)

	if c.HasMessage {
		body = append(body, 1)
		body = leb128.PutString(body, c.Message)
	} else {
		body = append(body, 0)
	}

	body = leb128.PutUvarint(body, uint64(len(c.Deps)))
	for _, d := range c.Deps {
		body = append(body, d[:]...)
	}

	body = leb128.PutUvarint(body, uint64(len(otherActors)))
	for _, a := range otherActors {
		body = leb128.PutBytes(body, a)
	}

	body = leb128.PutBytes(body, colSet)
	body = leb128.PutBytes(body, c.ExtraBytes)

	wire, h := chunk.Encode(chunk.TypeChange, body)
	return wire, h, nil
}

// Decode parses a chunk body previously produced by Encode, interning
// any actor or property it encounters for the first time into actors/props.
func Decode(c *chunk.Chunk, actors *op.ActorCache, props *op.PropCache) (*Change, error) {
	if c.Type != chunk.TypeChange {
		return nil, errors.Wrapf(crdterr.ErrEncoding, "change: chunk type %d is not a Change", c.Type)
	}
	body := c.Body
	pos := 0

	actorBytes, n, err := leb128.GetBytes(body[pos:])
	if err != nil {
		return nil, errors.Wrap(crdterr.ErrEncoding, "change: decode actor")
	}
	pos += n

	seq, n, err := leb128.GetUvarint(body[pos:])
	if err != nil {
		return nil, errors.Wrap(crdterr.ErrEncoding, "change: decode seq")
	}
	pos += n

	startOp, n, err := leb128.GetUvarint(body[pos:])
	if err != nil {
		return nil, errors.Wrap(crdterr.ErrEncoding, "change: decode start_op")
	}
	pos += n

	t, n, err := leb128.GetVarint(body[pos:])
	if err != nil {
		return nil, errors.Wrap(crdterr.ErrEncoding, "change: decode time")
	}
	pos += n

	if pos >= len(body) {
		return nil, errors.Wrap(crdterr.ErrEncoding, "change: truncated message flag")
	}
	hasMessage := body[pos] != 0
	pos++
	var message string
	if hasMessage {
		message, n, err = leb128.GetString(body[pos:])
		if err != nil {
			return nil, errors.Wrap(crdterr.ErrEncoding, "change: decode message")
		}
		pos += n
	}

	depCount, n, err := leb128.GetUvarint(body[pos:])
	if err != nil {
		return nil, errors.Wrap(crdterr.ErrEncoding, "change: decode deps count")
	}
	pos += n
	deps := make([]chunk.Hash, depCount)
	for i := range deps {
		if pos+32 > len(body) {
			return nil, errors.Wrap(crdterr.ErrEncoding, "change: truncated deps")
		}
		copy(deps[i][:], body[pos:pos+32])
		pos += 32
	}

	otherCount, n, err := leb128.GetUvarint(body[pos:])
	if err != nil {
		return nil, errors.Wrap(crdterr.ErrEncoding, "change: decode other_actors count")
	}
	pos += n
	otherActors := make([]op.ActorId, otherCount)
	for i := range otherActors {
		a, n, err := leb128.GetBytes(body[pos:])
		if err != nil {
			return nil, errors.Wrap(crdterr.ErrEncoding, "change: decode other actor")
		}
		otherActors[i] = a
		pos += n
	}

	colSetBytes, n, err := leb128.GetBytes(body[pos:])
	if err != nil {
		return nil, errors.Wrap(crdterr.ErrEncoding, "change: decode ops column set")
	}
	pos += n

	extra, n, err := leb128.GetBytes(body[pos:])
	if err != nil {
		return nil, errors.Wrap(crdterr.ErrEncoding, "change: decode extra bytes")
	}
	pos += n

	authorGlobal := actors.Intern(actorBytes)

	var ops []op.Op
	if len(colSetBytes) > 0 {
		cols, err := columnar.DecodeColumnSet(colSetBytes)
		if err != nil {
			return nil, errors.Wrap(err, "change: decode ops columns")
		}
		ops, err = decodeOps(cols, authorGlobal, otherActors, actors, props, startOp)
		if err != nil {
			return nil, err
		}
	}

	return &Change{
		Actor:      actorBytes,
		Seq:        seq,
		StartOp:    startOp,
		Time:       t,
		Message:    message,
		HasMessage: hasMessage,
		Deps:       deps,
		Ops:        ops,
		ExtraBytes: extra,
		hash:       c.Hash,
		hasHash:    true,
	}, nil
}
