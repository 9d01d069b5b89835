package sync_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mdcrdt/crdt"
	"mdcrdt/doc"
	syncpkg "mdcrdt/sync"
	"mdcrdt/wire"
)

func newReplica() (*doc.Document, *syncpkg.State) {
	d := doc.New()
	return d, syncpkg.New(d)
}

func TestApplyChangesReplicatesFullContent(t *testing.T) {
	docA, stA := newReplica()
	blockOp, err := docA.InsertBlock(crdt.Zero, 0, doc.BlockKind{Tag: doc.Paragraph})
	require.NoError(t, err)
	stA.ApplyOp(blockOp)
	textOps, err := docA.InsertText(blockOp.ID, 0, "hello")
	require.NoError(t, err)
	for _, op := range textOps {
		stA.ApplyOp(op)
	}

	docB, stB := newReplica()
	msg := stA.EncodeChangesSince(docB.StateVector)
	result := stB.ApplyChanges(msg)

	require.Equal(t, 1+len("hello"), result.Applied)
	require.Empty(t, result.Conflicts)

	b, ok := docB.Block(blockOp.ID)
	require.True(t, ok, "replicated block not found in docB")
	require.Equal(t, "hello", b.PlainText())
}

func TestApplyChangesIsIdempotent(t *testing.T) {
	docA, stA := newReplica()
	blockOp, err := docA.InsertBlock(crdt.Zero, 0, doc.BlockKind{Tag: doc.Paragraph})
	require.NoError(t, err)
	stA.ApplyOp(blockOp)

	docB, stB := newReplica()
	msg := stA.EncodeChangesSince(docB.StateVector)
	stB.ApplyChanges(msg)

	// Re-applying the exact same message a second time must not duplicate
	// the block or report it as newly applied.
	result := stB.ApplyChanges(msg)
	require.Zero(t, result.Applied, "idempotent re-apply should apply nothing")
	require.Len(t, docB.BlocksInOrder(), 1)
}

// TestApplyChangesBuffersOutOfOrderDelivery is literal scenario 5: an
// InsertAtom op whose origin hasn't arrived yet is buffered, not applied or
// dropped, and is drained automatically once its dependency lands in a
// later call.
func TestApplyChangesBuffersOutOfOrderDelivery(t *testing.T) {
	docA, stA := newReplica()
	blockOp, err := docA.InsertBlock(crdt.Zero, 0, doc.BlockKind{Tag: doc.Paragraph})
	require.NoError(t, err)
	stA.ApplyOp(blockOp)
	ops, err := docA.InsertText(blockOp.ID, 0, "ab")
	require.NoError(t, err)
	stA.ApplyOp(ops[0])
	stA.ApplyOp(ops[1])

	docB, stB := newReplica()

	// Deliver the block-insert and the second character first; the second
	// character's OriginLeft is the first character's id, which hasn't
	// arrived yet, so it must buffer rather than apply or reject.
	partial := wire.Message{
		FromSV: crdt.NewStateVector(),
		Ops: []wire.Op{
			toWireOp(blockOp),
			toWireOp(ops[1]),
		},
	}
	result := stB.ApplyChanges(partial)
	require.Equal(t, 1, result.Applied, "block only")
	require.Equal(t, 1, result.Buffered)
	require.Equal(t, 1, stB.PendingCount())
	require.Empty(t, docB.Blocks[blockOp.ID].PlainText(), "before dependency arrives")

	// Now deliver the missing first character; the buffered second
	// character must drain automatically in the same call.
	rest := wire.Message{
		FromSV: crdt.NewStateVector(),
		Ops:    []wire.Op{toWireOp(ops[0])},
	}
	result = stB.ApplyChanges(rest)
	require.Equal(t, 2, result.Applied, "new char + drained char")
	require.Zero(t, stB.PendingCount())
	require.Equal(t, "ab", docB.Blocks[blockOp.ID].PlainText())
}

// TestApplyChangesDetectsDeleteEditConflict is literal scenario 2: a block
// concurrently deleted by one peer and edited by another converges (delete
// wins, the edit's atoms land tombstoned) but is reported as a conflict
// rather than applied silently.
func TestApplyChangesDetectsDeleteEditConflict(t *testing.T) {
	docC, stC := newReplica()
	blockOp, err := docC.InsertBlock(crdt.Zero, 0, doc.BlockKind{Tag: doc.Paragraph})
	require.NoError(t, err)
	stC.ApplyOp(blockOp)

	editorPeer := crdt.PeerID(100)
	deleterPeer := crdt.PeerID(200)

	insertOp := wire.Op{
		Tag: wire.TagInsertAtom, ID: crdt.OpId{Peer: editorPeer, Counter: 1},
		Seq: wire.SeqBlockText, BlockID: blockOp.ID,
		OriginLeft: crdt.Zero, OriginRight: crdt.Zero, Text: "x",
	}
	deleteOp := wire.Op{
		Tag: wire.TagBlockDelete, ID: crdt.OpId{Peer: deleterPeer, Counter: 1},
		DeleteTarget: blockOp.ID,
	}

	result := stC.ApplyChanges(wire.Message{
		FromSV: crdt.NewStateVector(),
		Ops:    []wire.Op{insertOp, deleteOp},
	})

	require.Equal(t, 2, result.Applied)
	require.Len(t, result.Conflicts, 1)
	c := result.Conflicts[0]
	require.Equal(t, syncpkg.ConflictDeleteEdit, c.Kind)
	require.Equal(t, blockOp.ID, c.BlockID)
}

// TestApplyChangesDetectsBlockKindConflict covers the third semantic
// conflict class: two concurrent SetBlockKind writes landing in the same
// batch, resolved by LWW but still surfaced for observability.
func TestApplyChangesDetectsBlockKindConflict(t *testing.T) {
	docC, stC := newReplica()
	blockOp, err := docC.InsertBlock(crdt.Zero, 0, doc.BlockKind{Tag: doc.Paragraph})
	require.NoError(t, err)
	stC.ApplyOp(blockOp)

	peer1 := crdt.PeerID(10)
	peer2 := crdt.PeerID(20)
	kind1 := wire.Op{
		Tag: wire.TagBlockKind, ID: crdt.OpId{Peer: peer1, Counter: 1},
		BlockID: blockOp.ID, SetKindTag: wire.BlockKindTag(doc.Heading), SetHeadingLevel: 1,
	}
	kind2 := wire.Op{
		Tag: wire.TagBlockKind, ID: crdt.OpId{Peer: peer2, Counter: 1},
		BlockID: blockOp.ID, SetKindTag: wire.BlockKindTag(doc.Heading), SetHeadingLevel: 2,
	}

	result := stC.ApplyChanges(wire.Message{
		FromSV: crdt.NewStateVector(),
		Ops:    []wire.Op{kind1, kind2},
	})

	require.Len(t, result.Conflicts, 1)
	require.Equal(t, syncpkg.ConflictBlockKind, result.Conflicts[0].Kind)
	// applyBlockKind has no per-write register, so whichever op lands last
	// in the batch wins; kind2 is ordered after kind1 above.
	require.Equal(t, 2, docC.Blocks[blockOp.ID].Kind.HeadingLevel, "last-applied write should win")
}

// toWireOp mirrors sync's unexported opToWire for this external test
// package: it builds the wire.Op a real doc.EditOp would encode to, since
// sync.State exposes no direct op-to-wire conversion of its own.
func toWireOp(op doc.EditOp) wire.Op {
	return wire.Op{
		Tag:         wire.OpTag(op.Tag),
		ID:          op.ID,
		Seq:         wire.SeqTarget(op.Seq),
		BlockID:     op.BlockID,
		ContainerID: op.ContainerID,
		CellIndex:   op.CellIndex,
		OriginLeft:  op.OriginLeft,
		OriginRight: op.OriginRight,
		Text:        op.Text,
		RefID:       op.RefID,
		IsRefValue:  false,
	}
}
