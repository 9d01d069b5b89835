package wire_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mdcrdt/crdt"
	"mdcrdt/wire"
)

func opID(peer, counter uint64) crdt.OpId {
	return crdt.OpId{Peer: crdt.PeerID(peer), Counter: counter}
}

func roundTrip(t *testing.T, msg wire.Message) wire.Message {
	t.Helper()
	data := wire.Encode(msg)
	got, err := wire.Decode(data, wire.DefaultDecodeLimits())
	require.NoError(t, err)
	return got
}

func TestCodecRoundTripsInsertAtomAndDeleteAtom(t *testing.T) {
	sv := crdt.NewStateVector()
	sv.Set(1, 3)
	sv.Set(2, 7)

	insert := wire.Op{
		Tag: wire.TagInsertAtom, ID: opID(1, 4),
		Seq: wire.SeqBlockText, BlockID: opID(1, 1),
		OriginLeft: crdt.Zero, OriginRight: opID(2, 1),
		Text: "hello",
	}
	del := wire.Op{
		Tag: wire.TagDeleteAtom, ID: opID(2, 8),
		Seq: wire.SeqBlockText, BlockID: opID(1, 1),
		DeleteTarget: opID(1, 4),
	}
	msg := wire.Message{FromSV: sv, Ops: []wire.Op{insert, del}}

	got := roundTrip(t, msg)

	require.Equal(t, uint64(3), got.FromSV.Get(1))
	require.Equal(t, uint64(7), got.FromSV.Get(2))
	require.Len(t, got.Ops, 2)

	gi := got.Ops[0]
	require.Equal(t, wire.TagInsertAtom, gi.Tag)
	require.Equal(t, insert.ID, gi.ID)
	require.Equal(t, insert.BlockID, gi.BlockID)
	require.Equal(t, insert.OriginRight, gi.OriginRight)
	require.Equal(t, insert.Text, gi.Text)
	require.False(t, gi.IsRefValue)

	gd := got.Ops[1]
	require.Equal(t, wire.TagDeleteAtom, gd.Tag)
	require.Equal(t, del.ID, gd.ID)
	require.Equal(t, del.DeleteTarget, gd.DeleteTarget)
}

func TestCodecRoundTripsRegisterSet(t *testing.T) {
	op := wire.Op{
		Tag: wire.TagRegisterSet, ID: opID(1, 1),
		RegScope: wire.RegBlockAttr, BlockID: opID(1, 1),
		RegKey: "lang", RegValue: "en",
	}
	got := roundTrip(t, wire.Message{FromSV: crdt.NewStateVector(), Ops: []wire.Op{op}})
	g := got.Ops[0]
	require.Equal(t, op.RegScope, g.RegScope)
	require.Equal(t, op.RegKey, g.RegKey)
	require.Equal(t, op.RegValue, g.RegValue)
}

func TestCodecRoundTripsMarkAddWithAttrs(t *testing.T) {
	op := wire.Op{
		Tag: wire.TagMarkAdd, ID: opID(1, 1),
		BlockID:   opID(1, 1),
		MarkKind:  "link",
		MarkStart: crdt.Anchor{ElemID: opID(1, 1), Bias: crdt.AnchorBefore},
		MarkEnd:   crdt.Anchor{ElemID: opID(1, 5), Bias: crdt.AnchorAfter},
		MarkAttrs: map[string]string{"href": "/x"},
	}
	got := roundTrip(t, wire.Message{FromSV: crdt.NewStateVector(), Ops: []wire.Op{op}})
	g := got.Ops[0]
	require.Equal(t, op.MarkKind, g.MarkKind)
	require.Equal(t, op.MarkStart, g.MarkStart)
	require.Equal(t, op.MarkEnd, g.MarkEnd)
	require.Equal(t, "/x", g.MarkAttrs["href"])
}

func TestCodecRoundTripsMarkRemoveWithObservedVector(t *testing.T) {
	observed := crdt.NewStateVector()
	observed.Set(1, 9)
	op := wire.Op{
		Tag: wire.TagMarkRemove, ID: opID(2, 1),
		BlockID: opID(1, 1), MarkTarget: opID(1, 2),
		MarkObserved: observed,
	}
	got := roundTrip(t, wire.Message{FromSV: crdt.NewStateVector(), Ops: []wire.Op{op}})
	g := got.Ops[0]
	require.Equal(t, op.MarkTarget, g.MarkTarget)
	require.Equal(t, uint64(9), g.MarkObserved.Get(1))
}

func TestCodecRoundTripsBlockInsertWithAndWithoutParent(t *testing.T) {
	withParent := wire.Op{
		Tag: wire.TagBlockInsert, ID: opID(1, 1),
		HasParent: true, ParentID: opID(1, 0),
		OriginLeft: crdt.Zero, OriginRight: crdt.Zero,
		NewKindTag: wire.BlockKindTag(1), NewHeadingLevel: 2,
	}
	noParent := wire.Op{
		Tag: wire.TagBlockInsert, ID: opID(1, 2),
		HasParent:  false,
		OriginLeft: crdt.Zero, OriginRight: crdt.Zero,
		NewListOrdered: true, NewListTight: true,
	}
	got := roundTrip(t, wire.Message{FromSV: crdt.NewStateVector(), Ops: []wire.Op{withParent, noParent}})

	g0 := got.Ops[0]
	require.True(t, g0.HasParent)
	require.Equal(t, withParent.ParentID, g0.ParentID)
	require.Equal(t, 2, g0.NewHeadingLevel)

	g1 := got.Ops[1]
	require.False(t, g1.HasParent)
	require.True(t, g1.NewListOrdered)
	require.True(t, g1.NewListTight)
}

func TestCodecRoundTripsBlockDeleteAndBlockKindAndFrontmatterSet(t *testing.T) {
	del := wire.Op{Tag: wire.TagBlockDelete, ID: opID(1, 1), DeleteTarget: opID(1, 2)}
	kind := wire.Op{
		Tag: wire.TagBlockKind, ID: opID(1, 3), BlockID: opID(1, 2),
		SetKindTag: wire.BlockKindTag(2), SetHeadingLevel: 1,
	}
	fm := wire.Op{
		Tag: wire.TagFrontmatterSet, ID: opID(1, 4),
		FrontmatterKey: "title", FrontmatterValue: "My Doc",
	}
	got := roundTrip(t, wire.Message{FromSV: crdt.NewStateVector(), Ops: []wire.Op{del, kind, fm}})

	require.Equal(t, del.DeleteTarget, got.Ops[0].DeleteTarget)
	require.Equal(t, kind.SetKindTag, got.Ops[1].SetKindTag)
	require.Equal(t, 1, got.Ops[1].SetHeadingLevel)
	require.Equal(t, "title", got.Ops[2].FrontmatterKey)
	require.Equal(t, "My Doc", got.Ops[2].FrontmatterValue)
}

func TestCodecRoundTripsEmptyMessage(t *testing.T) {
	got := roundTrip(t, wire.Message{FromSV: crdt.NewStateVector()})
	require.Empty(t, got.Ops)
	require.True(t, got.FromSV.IsEmpty())
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	data := wire.Encode(wire.Message{FromSV: crdt.NewStateVector()})
	corrupted := append([]byte{}, data...)
	corrupted[0] = 'X'
	// Changing a header byte also invalidates the trailing CRC32, whose
	// check runs first in Decode, so this must surface as ErrCorrupt.
	_, err := wire.Decode(corrupted, wire.DefaultDecodeLimits())
	require.ErrorIs(t, err, wire.ErrCorrupt)
}

func TestDecodeRejectsTruncatedInput(t *testing.T) {
	data := wire.Encode(wire.Message{FromSV: crdt.NewStateVector(), Ops: []wire.Op{
		{Tag: wire.TagFrontmatterSet, ID: opID(1, 1), FrontmatterKey: "k", FrontmatterValue: "v"},
	}})
	_, err := wire.Decode(data[:2], wire.DefaultDecodeLimits())
	require.Error(t, err)
}

func TestDecodeRejectsMessageOverSizeLimit(t *testing.T) {
	data := wire.Encode(wire.Message{FromSV: crdt.NewStateVector()})
	limits := wire.DefaultDecodeLimits()
	limits.MaxMessageBytes = len(data) - 1
	_, err := wire.Decode(data, limits)
	require.ErrorIs(t, err, wire.ErrMessageTooLarge)
}

func TestDecodeRejectsPeerTableOverLimit(t *testing.T) {
	ops := make([]wire.Op, 0, 3)
	for i := uint64(1); i <= 3; i++ {
		ops = append(ops, wire.Op{Tag: wire.TagBlockDelete, ID: opID(i, 1), DeleteTarget: opID(i, 1)})
	}
	data := wire.Encode(wire.Message{FromSV: crdt.NewStateVector(), Ops: ops})
	limits := wire.DefaultDecodeLimits()
	limits.MaxPeerTable = 2
	_, err := wire.Decode(data, limits)
	require.ErrorIs(t, err, wire.ErrPeerTableTooLarge)
}

func TestDecodeRejectsStringOverLimit(t *testing.T) {
	op := wire.Op{
		Tag: wire.TagFrontmatterSet, ID: opID(1, 1),
		FrontmatterKey: "k", FrontmatterValue: "this value is long enough to exceed a tiny limit",
	}
	data := wire.Encode(wire.Message{FromSV: crdt.NewStateVector(), Ops: []wire.Op{op}})
	limits := wire.DefaultDecodeLimits()
	limits.MaxStringBytes = 4
	_, err := wire.Decode(data, limits)
	require.ErrorIs(t, err, wire.ErrStringTooLarge)
}
