package doc

import "mdcrdt/crdt"

// hasAtom reports whether id is already present (tombstoned or not) in the
// sequence op addresses, or true trivially for the Zero sentinel (Begin/
// End/absent need no dependency).
func (d *Document) hasAtom(op EditOp, id crdt.OpId) bool {
	if id.IsZero() {
		return true
	}
	switch op.Seq {
	case TargetBlockOrder, TargetContainerChildren, TargetTableRowOrder:
		seq := d.resolveRefSequence(op.Seq, op.ContainerID)
		if seq == nil {
			return false
		}
		_, ok := seq.Get(id)
		return ok
	default:
		seq := d.resolveTextSequence(op.Seq, op.BlockID, op.ContainerID, op.CellIndex)
		if seq == nil {
			return false
		}
		_, ok := seq.Get(id)
		return ok
	}
}

// MissingDependency reports the id of the first dependency op does not
// find yet, and whether one is missing at all (§4.8 step 2: "sequence ops
// depend on their origin atoms; mark ops depend on anchor atoms; deletes
// depend on the target atom"). Callers buffer the op keyed by this id and
// retry once it arrives.
func (d *Document) MissingDependency(op EditOp) (crdt.OpId, bool) {
	switch op.Tag {
	case OpInsertAtom:
		if !d.hasAtom(op, op.OriginLeft) {
			return op.OriginLeft, true
		}
		if !d.hasAtom(op, op.OriginRight) {
			return op.OriginRight, true
		}
	case OpDeleteAtom:
		if !d.hasAtom(op, op.DeleteTarget) {
			return op.DeleteTarget, true
		}
	case OpBlockInsert:
		if !op.ParentID.IsZero() {
			if _, ok := d.Blocks[op.ParentID]; !ok {
				return op.ParentID, true
			}
		}
		blockOrderOp := op
		blockOrderOp.Seq = TargetBlockOrder
		if !op.ParentID.IsZero() {
			blockOrderOp.Seq = TargetContainerChildren
			blockOrderOp.ContainerID = op.ParentID
		}
		if !d.hasAtom(blockOrderOp, op.OriginLeft) {
			return op.OriginLeft, true
		}
		if !d.hasAtom(blockOrderOp, op.OriginRight) {
			return op.OriginRight, true
		}
	case OpBlockDelete:
		if _, ok := d.Blocks[op.DeleteTarget]; !ok {
			return op.DeleteTarget, true
		}
	case OpMarkAdd:
		b, ok := d.Blocks[op.BlockID]
		if !ok {
			return op.BlockID, true
		}
		if !op.MarkStart.ElemID.IsZero() {
			if _, ok := b.Text.Get(op.MarkStart.ElemID); !ok {
				return op.MarkStart.ElemID, true
			}
		}
		if !op.MarkEnd.ElemID.IsZero() {
			if _, ok := b.Text.Get(op.MarkEnd.ElemID); !ok {
				return op.MarkEnd.ElemID, true
			}
		}
	case OpMarkRemove:
		b, ok := d.Blocks[op.BlockID]
		if !ok {
			return op.BlockID, true
		}
		if _, ok := b.Marks.Interval(op.MarkTarget); !ok {
			return op.MarkTarget, true
		}
	case OpMarkAttr:
		b, ok := d.Blocks[op.BlockID]
		if !ok {
			return op.BlockID, true
		}
		if _, ok := b.Marks.Interval(op.MarkAttrTarget); !ok {
			return op.MarkAttrTarget, true
		}
	case OpRegisterSet:
		if op.RegScope == ScopeBlockAttr {
			if _, ok := d.Blocks[op.BlockID]; !ok {
				return op.BlockID, true
			}
		} else if _, ok := d.Blocks[op.ContainerID]; !ok {
			return op.ContainerID, true
		}
	case OpBlockKind:
		if _, ok := d.Blocks[op.BlockID]; !ok {
			return op.BlockID, true
		}
	}
	return crdt.OpId{}, false
}
