package sync_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"crdt/pkg/change"
	"crdt/pkg/chunk"
	"crdt/pkg/document"
	"crdt/pkg/op"
	crdtsync "crdt/pkg/sync"
)

// mapPut returns a single-op change from gA setting root[prop] = val.
func mapPut(actor op.ActorId, gA, prop int, seq, startOp uint64, deps []chunk.Hash, val op.ScalarValue) *change.Change {
	return &change.Change{
		Actor: actor, Seq: seq, StartOp: startOp, Time: 1700000000,
		Deps: deps,
		Ops: []op.Op{
			{ID: op.OpId{Counter: startOp, Actor: gA}, Obj: op.RootObj, Key: op.MapKey(prop), Action: op.Put(val)},
		},
	}
}

func TestGenerateMessageNilWhenNothingNew(t *testing.T) {
	d := document.New()
	state := crdtsync.NewState()

	msg, err := crdtsync.GenerateMessage(d, state)
	require.NoError(t, err)
	require.Nil(t, msg, "a brand new, peer-less document has nothing to say")
}

func TestGenerateThenReceiveConvergesToQuiescence(t *testing.T) {
	a := document.New()
	actorA := op.NewActorId()
	gA := a.Actors().Intern(actorA)
	prop := a.Props().Intern("title")

	hash1, err := a.AddChange(mapPut(actorA, gA, prop, 1, 1, nil, op.Str("v1")))
	require.NoError(t, err)

	b := document.New()

	stateAtoB := crdtsync.NewState()
	stateBtoA := crdtsync.NewState()

	// Round 1: A tells B about its one change.
	msg1, err := crdtsync.GenerateMessage(a, stateAtoB)
	require.NoError(t, err)
	require.NotNil(t, msg1)
	require.Equal(t, []chunk.Hash{hash1}, msg1.Heads)
	require.Len(t, msg1.Changes, 1)

	require.NoError(t, crdtsync.ReceiveMessage(b, stateBtoA, msg1))
	require.Equal(t, []chunk.Hash{hash1}, b.Heads())
	require.Equal(t, []chunk.Hash{hash1}, stateBtoA.SharedHeads)

	// Round 2: B replies. It has nothing new to send, but still reports
	// its own heads so A can learn they're shared.
	msg2, err := crdtsync.GenerateMessage(b, stateBtoA)
	require.NoError(t, err)
	require.NotNil(t, msg2)
	require.Empty(t, msg2.Changes, "B has nothing A doesn't already have")
	require.Empty(t, msg2.Need)

	require.NoError(t, crdtsync.ReceiveMessage(a, stateAtoB, msg2))
	require.Equal(t, []chunk.Hash{hash1}, stateAtoB.SharedHeads)

	// Round 3: both sides are quiescent now.
	msg3, err := crdtsync.GenerateMessage(a, stateAtoB)
	require.NoError(t, err)
	require.Nil(t, msg3, "A and B should have converged")

	msg4, err := crdtsync.GenerateMessage(b, stateBtoA)
	require.NoError(t, err)
	require.Nil(t, msg4, "B and A should have converged")
}

func TestReceiveMessageBuffersChangeWithMissingDep(t *testing.T) {
	a := document.New()
	actorA := op.NewActorId()
	gA := a.Actors().Intern(actorA)
	prop := a.Props().Intern("count")

	c1 := mapPut(actorA, gA, prop, 1, 1, nil, op.Int(1))
	hash1, err := a.AddChange(c1)
	require.NoError(t, err)

	c2 := mapPut(actorA, gA, prop, 2, 2, []chunk.Hash{hash1}, op.Int(2))
	hash2, err := a.AddChange(c2)
	require.NoError(t, err)

	b := document.New()
	state := crdtsync.NewState()

	// Deliver c2 before c1: b cannot apply it yet, c1 is missing.
	require.NoError(t, crdtsync.ReceiveMessage(b, state, &crdtsync.Message{
		Heads:   []chunk.Hash{hash2},
		Changes: []change.Change{*c2},
	}))
	require.Empty(t, b.Heads(), "c2 can't apply until its dep arrives")
	require.Len(t, state.Pending, 1)

	// Now deliver c1: both become ready and apply in the right order.
	require.NoError(t, crdtsync.ReceiveMessage(b, state, &crdtsync.Message{
		Heads:   []chunk.Hash{hash1},
		Changes: []change.Change{*c1},
	}))
	require.Empty(t, state.Pending)
	require.Equal(t, []chunk.Hash{hash2}, b.Heads())

	got, ok := b.GetChangeByHash(hash2)
	require.True(t, ok)
	require.Equal(t, uint64(2), got.Seq)
}

func TestGenerateMessageHonorsExplicitNeed(t *testing.T) {
	a := document.New()
	actorA := op.NewActorId()
	gA := a.Actors().Intern(actorA)
	prop := a.Props().Intern("x")

	hash1, err := a.AddChange(mapPut(actorA, gA, prop, 1, 1, nil, op.Int(7)))
	require.NoError(t, err)

	state := crdtsync.NewState()
	// Pretend a prior round already marked this change as sent...
	msg, err := crdtsync.GenerateMessage(a, state)
	require.NoError(t, err)
	require.Len(t, msg.Changes, 1)

	// ...and the peer explicitly asks for it again (e.g. it lost its copy).
	state.TheirNeed = []chunk.Hash{hash1}
	msg2, err := crdtsync.GenerateMessage(a, state)
	require.NoError(t, err)
	require.NotNil(t, msg2)
	require.Len(t, msg2.Changes, 1, "an explicit need overrides the sent-hash skip")
}
