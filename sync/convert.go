package sync

import (
	"mdcrdt/crdt"
	"mdcrdt/doc"
	"mdcrdt/wire"
)

// opToWire translates a doc.EditOp into its wire representation. wire.Op
// has no dependency on doc, so every doc-specific field (BlockKind's
// nested sequences) is flattened to the scalar tag + descriptors a
// freshly-constructed block needs; children and rows arrive as their own
// separate ops, never nested inside this one.
func opToWire(op doc.EditOp) wire.Op {
	w := wire.Op{
		Tag:            wire.OpTag(op.Tag),
		ID:             op.ID,
		Seq:            wire.SeqTarget(op.Seq),
		BlockID:        op.BlockID,
		ContainerID:    op.ContainerID,
		CellIndex:      op.CellIndex,
		OriginLeft:     op.OriginLeft,
		OriginRight:    op.OriginRight,
		Text:           op.Text,
		RefID:          op.RefID,
		DeleteTarget:   op.DeleteTarget,
		RegScope:       wire.RegisterScope(op.RegScope),
		RegKey:         op.RegKey,
		RegValue:       op.RegValue,
		MarkKind:       string(op.MarkKind),
		MarkStart:      op.MarkStart,
		MarkEnd:        op.MarkEnd,
		MarkAttrs:      op.MarkAttrs,
		MarkTarget:     op.MarkTarget,
		MarkObserved:   op.MarkObserved,
		MarkAttrTarget: op.MarkAttrTarget,
		MarkAttrKey:    op.MarkAttrKey,
		MarkAttrValue:  op.MarkAttrValue,
		ParentID:       op.ParentID,
		HasParent:      !op.ParentID.IsZero(),

		NewKindTag:      wire.BlockKindTag(op.NewBlockKind.Tag),
		NewHeadingLevel: op.NewBlockKind.HeadingLevel,
		NewCodeInfo:     op.NewBlockKind.CodeInfo,
		NewRawKind:      op.NewBlockKind.RawKind,
		NewListOrdered:  op.NewBlockKind.ListOrdered,
		NewListTight:    op.NewBlockKind.ListTight,

		SetKindTag:      wire.BlockKindTag(op.SetKind.Tag),
		SetHeadingLevel: op.SetKind.HeadingLevel,
		SetCodeInfo:     op.SetKind.CodeInfo,
		SetRawKind:      op.SetKind.RawKind,
		SetListOrdered:  op.SetKind.ListOrdered,
		SetListTight:    op.SetKind.ListTight,

		FrontmatterKey:   op.FrontmatterKey,
		FrontmatterValue: op.FrontmatterValue,
	}
	switch op.Seq {
	case doc.TargetBlockOrder, doc.TargetContainerChildren, doc.TargetTableRowOrder:
		w.IsRefValue = true
	default:
		w.IsRefValue = false
	}
	return w
}

// wireToOp translates a decoded wire.Op back into a doc.EditOp, ready for
// RawApplyOp.
func wireToOp(w wire.Op) doc.EditOp {
	op := doc.EditOp{
		Tag:            doc.EditOpTag(w.Tag),
		ID:             w.ID,
		Seq:            doc.SeqTarget(w.Seq),
		BlockID:        w.BlockID,
		ContainerID:    w.ContainerID,
		CellIndex:      w.CellIndex,
		OriginLeft:     w.OriginLeft,
		OriginRight:    w.OriginRight,
		Text:           w.Text,
		RefID:          w.RefID,
		DeleteTarget:   w.DeleteTarget,
		RegScope:       doc.RegisterScope(w.RegScope),
		RegKey:         w.RegKey,
		RegValue:       w.RegValue,
		MarkKind:       crdt.MarkKind(w.MarkKind),
		MarkStart:      w.MarkStart,
		MarkEnd:        w.MarkEnd,
		MarkAttrs:      w.MarkAttrs,
		MarkTarget:     w.MarkTarget,
		MarkObserved:   w.MarkObserved,
		MarkAttrTarget: w.MarkAttrTarget,
		MarkAttrKey:    w.MarkAttrKey,
		MarkAttrValue:  w.MarkAttrValue,
		ParentID:       w.ParentID,

		NewBlockKind: doc.BlockKind{
			Tag:          doc.BlockKindTag(w.NewKindTag),
			HeadingLevel: w.NewHeadingLevel,
			CodeInfo:     w.NewCodeInfo,
			RawKind:      w.NewRawKind,
			ListOrdered:  w.NewListOrdered,
			ListTight:    w.NewListTight,
		},
		SetKind: doc.BlockKind{
			Tag:          doc.BlockKindTag(w.SetKindTag),
			HeadingLevel: w.SetHeadingLevel,
			CodeInfo:     w.SetCodeInfo,
			RawKind:      w.SetRawKind,
			ListOrdered:  w.SetListOrdered,
			ListTight:    w.SetListTight,
		},

		FrontmatterKey:   w.FrontmatterKey,
		FrontmatterValue: w.FrontmatterValue,
	}
	if !w.HasParent {
		op.ParentID = crdt.Zero
	}
	return op
}
