package doc

import (
	"github.com/rivo/uniseg"

	"mdcrdt/crdt"
)

// EditOpTag discriminates the atomic, wire-encodable operations a Document
// produces and accepts. These tags mirror the wire format's atomic_op
// variants exactly (§6): InsertAtom, DeleteAtom, RegisterSet, MarkAdd,
// MarkRemove, MarkAttr, BlockInsert, BlockDelete, BlockKind,
// FrontmatterSet.
type EditOpTag int

const (
	OpInsertAtom EditOpTag = iota
	OpDeleteAtom
	OpRegisterSet
	OpMarkAdd
	OpMarkRemove
	OpMarkAttr
	OpBlockInsert
	OpBlockDelete
	OpBlockKind
	OpFrontmatterSet
)

// SeqTarget names which nested sequence CRDT an InsertAtom/DeleteAtom op
// addresses: a block's own text, the document's top-level block order, a
// container block's child order, or a table's row order / one cell's text.
type SeqTarget int

const (
	TargetBlockText SeqTarget = iota
	TargetBlockOrder
	TargetContainerChildren
	TargetTableRowOrder
	TargetTableCellText
)

// RegisterScope names which LWW map an OpRegisterSet op writes to.
type RegisterScope int

const (
	ScopeBlockAttr RegisterScope = iota
	ScopeTableHeader
	ScopeTableAlignments
)

// EditOp is one atomic, independently-applicable operation against a
// Document: the unit RawApplyOp consumes and the unit the wire codec
// serializes. Only the fields relevant to Tag/Seq are meaningful; the rest
// are left zero, the same tagged-struct discipline BlockKind uses.
type EditOp struct {
	Tag EditOpTag
	ID  crdt.OpId // this op's own identity

	// Sequence scoping (InsertAtom, DeleteAtom, BlockInsert, BlockDelete).
	Seq         SeqTarget
	BlockID     crdt.OpId // owning block, for TargetBlockText/TargetTableCellText
	ContainerID crdt.OpId // container/table block id, for TargetContainerChildren/TargetTableRowOrder/TargetTableCellText
	CellIndex   int       // column index, for TargetTableCellText

	// InsertAtom payload: exactly one of Text (grapheme) or RefID (block
	// reference) is meaningful, per Seq.
	OriginLeft  crdt.OpId
	OriginRight crdt.OpId
	Text        string
	RefID       crdt.OpId

	// DeleteAtom.
	DeleteTarget crdt.OpId

	// RegisterSet.
	RegScope RegisterScope
	RegKey   string
	RegValue string

	// MarkAdd.
	MarkKind  crdt.MarkKind
	MarkStart crdt.Anchor
	MarkEnd   crdt.Anchor
	MarkAttrs map[string]string

	// MarkRemove.
	MarkTarget   crdt.OpId
	MarkObserved crdt.StateVector

	// MarkAttr.
	MarkAttrTarget crdt.OpId
	MarkAttrKey    string
	MarkAttrValue  string

	// BlockInsert.
	NewBlockKind BlockKind
	ParentID     crdt.OpId // Zero: top-level block order

	// BlockKind (SetBlockKind).
	SetKind BlockKind

	// FrontmatterSet.
	FrontmatterKey   string
	FrontmatterValue string
}

// graphemes splits s into extended grapheme clusters, the unit every
// offset in this API addresses (§4.2 "Grapheme granularity").
func graphemes(s string) []string {
	var out []string
	gr := uniseg.NewGraphemes(s)
	for gr.Next() {
		out = append(out, gr.Str())
	}
	return out
}

// resolveTextSequence returns the crdt.Sequence[string] addressed by op's
// Seq/BlockID/ContainerID/CellIndex, or nil if it cannot be resolved.
func (d *Document) resolveTextSequence(seq SeqTarget, blockID, containerID crdt.OpId, cellIndex int) *crdt.Sequence[string] {
	switch seq {
	case TargetBlockText:
		b, ok := d.Blocks[blockID]
		if !ok {
			return nil
		}
		return b.Text
	case TargetTableCellText:
		tb, ok := d.Blocks[containerID]
		if !ok || tb.Kind.Tag != Table || tb.Kind.TableData == nil {
			return nil
		}
		row, ok := tb.Kind.TableData.Rows[blockID]
		if !ok || cellIndex < 0 || cellIndex >= len(row.Cells) {
			return nil
		}
		return row.Cells[cellIndex]
	default:
		return nil
	}
}

// resolveRefSequence returns the crdt.Sequence[crdt.OpId] addressed by
// op's Seq/ContainerID, or nil if it cannot be resolved.
func (d *Document) resolveRefSequence(seq SeqTarget, containerID crdt.OpId) *crdt.Sequence[crdt.OpId] {
	switch seq {
	case TargetBlockOrder:
		return d.BlockOrder
	case TargetContainerChildren:
		b, ok := d.Blocks[containerID]
		if !ok {
			return nil
		}
		return b.Kind.ChildIDs
	case TargetTableRowOrder:
		b, ok := d.Blocks[containerID]
		if !ok || b.Kind.Tag != Table || b.Kind.TableData == nil {
			return nil
		}
		return b.Kind.TableData.RowOrder
	default:
		return nil
	}
}

// RawApplyOp applies a single already-identified EditOp to the document.
// isLocal distinguishes ops this replica minted (already reflected in
// StateVector by NextOpID) from remote ops, whose ids must still be
// observed into the state vector here.
//
// RawApplyOp performs no causal buffering: callers delivering ops out of
// causal order (the sync layer) must check dependencies and buffer first.
// An insert whose origin atoms are not yet present makes the underlying
// Sequence.Integrate panic, since its precondition is that both origins
// are already integrated.
func (d *Document) RawApplyOp(op EditOp, isLocal bool) error {
	if !isLocal {
		d.observeRemote(op.ID)
	}
	switch op.Tag {
	case OpInsertAtom:
		return d.applyInsertAtom(op)
	case OpDeleteAtom:
		return d.applyDeleteAtom(op)
	case OpRegisterSet:
		return d.applyRegisterSet(op)
	case OpMarkAdd:
		return d.applyMarkAdd(op)
	case OpMarkRemove:
		return d.applyMarkRemove(op)
	case OpMarkAttr:
		return d.applyMarkAttr(op)
	case OpBlockInsert:
		return d.applyBlockInsert(op)
	case OpBlockDelete:
		return d.applyBlockDelete(op)
	case OpBlockKind:
		return d.applyBlockKind(op)
	case OpFrontmatterSet:
		return d.applyFrontmatterSet(op)
	default:
		return ErrUnknownAttr
	}
}

func (d *Document) applyInsertAtom(op EditOp) error {
	switch op.Seq {
	case TargetBlockText, TargetTableCellText:
		seq := d.resolveTextSequence(op.Seq, op.BlockID, op.ContainerID, op.CellIndex)
		if seq == nil {
			return ErrBlockNotFound
		}
		seq.Integrate(crdt.Atom[string]{
			ID: op.ID, OriginLeft: op.OriginLeft, OriginRight: op.OriginRight, Value: op.Text,
		})
		if op.Seq == TargetBlockText {
			if b, ok := d.Blocks[op.BlockID]; ok {
				b.markDirty()
			}
		}
	case TargetBlockOrder, TargetContainerChildren, TargetTableRowOrder:
		seq := d.resolveRefSequence(op.Seq, op.ContainerID)
		if seq == nil {
			return ErrBlockNotFound
		}
		seq.Integrate(crdt.Atom[crdt.OpId]{
			ID: op.ID, OriginLeft: op.OriginLeft, OriginRight: op.OriginRight, Value: op.RefID,
		})
	}
	return nil
}

func (d *Document) applyDeleteAtom(op EditOp) error {
	switch op.Seq {
	case TargetBlockText, TargetTableCellText:
		seq := d.resolveTextSequence(op.Seq, op.BlockID, op.ContainerID, op.CellIndex)
		if seq == nil {
			return ErrBlockNotFound
		}
		seq.Delete(op.DeleteTarget, op.ID)
		if op.Seq == TargetBlockText {
			if b, ok := d.Blocks[op.BlockID]; ok {
				b.markDirty()
			}
		}
	case TargetBlockOrder, TargetContainerChildren, TargetTableRowOrder:
		seq := d.resolveRefSequence(op.Seq, op.ContainerID)
		if seq == nil {
			return ErrBlockNotFound
		}
		seq.Delete(op.DeleteTarget, op.ID)
	}
	return nil
}

func (d *Document) applyRegisterSet(op EditOp) error {
	switch op.RegScope {
	case ScopeBlockAttr:
		b, ok := d.Blocks[op.BlockID]
		if !ok {
			return ErrBlockNotFound
		}
		b.Attrs.Set(op.RegKey, op.ID, op.RegValue)
	case ScopeTableHeader, ScopeTableAlignments:
		tb, ok := d.Blocks[op.ContainerID]
		if !ok || tb.Kind.TableData == nil {
			return ErrBlockNotFound
		}
		if op.RegScope == ScopeTableHeader {
			tb.Kind.TableData.Header.Set(op.ID, op.RegValue == "true")
		}
	}
	return nil
}

func (d *Document) applyMarkAdd(op EditOp) error {
	b, ok := d.Blocks[op.BlockID]
	if !ok {
		return ErrBlockNotFound
	}
	b.Marks.SetMark(crdt.MarkInterval{
		ID: op.ID, Kind: op.MarkKind, Start: op.MarkStart, End: op.MarkEnd, Attrs: op.MarkAttrs,
	})
	b.markDirty()
	return nil
}

func (d *Document) applyMarkRemove(op EditOp) error {
	b, ok := d.Blocks[op.BlockID]
	if !ok {
		return ErrBlockNotFound
	}
	b.Marks.RemoveMark(op.MarkTarget, op.ID, op.MarkObserved)
	b.markDirty()
	return nil
}

func (d *Document) applyMarkAttr(op EditOp) error {
	b, ok := d.Blocks[op.BlockID]
	if !ok {
		return ErrBlockNotFound
	}
	iv, ok := b.Marks.Interval(op.MarkAttrTarget)
	if !ok {
		return ErrIntervalNotFound
	}
	if iv.Attrs == nil {
		iv.Attrs = make(map[string]string)
		b.Marks.SetMark(iv)
	}
	iv.Attrs[op.MarkAttrKey] = op.MarkAttrValue
	return nil
}

func (d *Document) applyBlockInsert(op EditOp) error {
	block := NewBlock(op.ID, op.NewBlockKind)
	d.Blocks[op.ID] = block
	var seq *crdt.Sequence[crdt.OpId]
	if op.ParentID.IsZero() {
		seq = d.BlockOrder
	} else {
		parent, ok := d.Blocks[op.ParentID]
		if !ok || parent.Kind.ChildIDs == nil {
			return ErrBlockNotFound
		}
		seq = parent.Kind.ChildIDs
	}
	seq.Integrate(crdt.Atom[crdt.OpId]{
		ID: op.ID, OriginLeft: op.OriginLeft, OriginRight: op.OriginRight, Value: op.ID,
	})
	return nil
}

func (d *Document) applyBlockDelete(op EditOp) error {
	if _, ok := d.Blocks[op.DeleteTarget]; !ok {
		return ErrBlockNotFound
	}
	if d.BlockOrder.Delete(op.DeleteTarget, op.ID) {
		return nil
	}
	for _, b := range d.Blocks {
		if b.Kind.ChildIDs != nil && b.Kind.ChildIDs.Delete(op.DeleteTarget, op.ID) {
			return nil
		}
		if b.Kind.Tag == Table && b.Kind.TableData != nil {
			if b.Kind.TableData.RowOrder.Delete(op.DeleteTarget, op.ID) {
				return nil
			}
		}
	}
	return nil
}

func (d *Document) applyBlockKind(op EditOp) error {
	b, ok := d.Blocks[op.BlockID]
	if !ok {
		return ErrBlockNotFound
	}
	// BlockKind is applied LWW via the op's own id racing any previous
	// BlockKind op id recorded on the block; since Block has no dedicated
	// register for its kind, last delivery wins only when ordered causally
	// by the sync layer (document-local edits are always causally ordered
	// with respect to themselves already).
	b.Kind = op.SetKind
	b.markDirty()
	return nil
}

func (d *Document) applyFrontmatterSet(op EditOp) error {
	d.Frontmatter.Set(op.FrontmatterKey, op.ID, op.FrontmatterValue)
	return nil
}

// InsertText inserts text at the given grapheme offset into block's inline
// text, lowering it to one InsertAtom op per grapheme cluster with a
// contiguous counter range (§4.7 "multi-atom inserts share a contiguous
// counter range"). Returns the produced ops in application order.
func (d *Document) InsertText(blockID crdt.OpId, graphemeOffset int, text string) ([]EditOp, error) {
	b, ok := d.Blocks[blockID]
	if !ok {
		return nil, ErrBlockNotFound
	}
	if text == "" {
		return nil, ErrEmptyText
	}
	clusters := graphemes(text)
	if graphemeOffset < 0 || graphemeOffset > b.Text.VisibleLen() {
		return nil, ErrInvalidOffset
	}
	ops := make([]EditOp, 0, len(clusters))
	offset := graphemeOffset
	for _, g := range clusters {
		id := d.NextOpID()
		left, right := b.Text.Reserve(offset)
		op := EditOp{
			Tag: OpInsertAtom, ID: id, Seq: TargetBlockText, BlockID: blockID,
			OriginLeft: left, OriginRight: right, Text: g,
		}
		if err := d.RawApplyOp(op, true); err != nil {
			return ops, err
		}
		ops = append(ops, op)
		offset++
	}
	return ops, nil
}

// DeleteRange deletes the grapheme half-open range [start, end) from
// block's inline text. Returns one DeleteAtom op per deleted grapheme.
func (d *Document) DeleteRange(blockID crdt.OpId, start, end int) ([]EditOp, error) {
	b, ok := d.Blocks[blockID]
	if !ok {
		return nil, ErrBlockNotFound
	}
	n := b.Text.VisibleLen()
	if start < 0 || end > n || start > end {
		return nil, ErrInvalidOffset
	}
	ids := b.Text.VisibleIDs()[start:end]
	ops := make([]EditOp, 0, len(ids))
	for _, target := range ids {
		id := d.NextOpID()
		op := EditOp{Tag: OpDeleteAtom, ID: id, Seq: TargetBlockText, BlockID: blockID, DeleteTarget: target}
		if err := d.RawApplyOp(op, true); err != nil {
			return ops, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// AddMark adds a formatting interval of the given kind over the grapheme
// half-open range [start, end) of block's text, with the given attrs
// (e.g. a link href). Returns the single MarkAdd op produced.
func (d *Document) AddMark(blockID crdt.OpId, kind crdt.MarkKind, start, end int, attrs map[string]string) (EditOp, error) {
	b, ok := d.Blocks[blockID]
	if !ok {
		return EditOp{}, ErrBlockNotFound
	}
	n := b.Text.VisibleLen()
	if start < 0 || end > n || start > end {
		return EditOp{}, ErrInvalidOffset
	}
	startAnchor := anchorAt(b.Text, start, crdt.AnchorBefore)
	endAnchor := anchorAt(b.Text, end, crdt.AnchorAfter)
	id := d.NextOpID()
	op := EditOp{
		Tag: OpMarkAdd, ID: id, BlockID: blockID, MarkKind: kind,
		MarkStart: startAnchor, MarkEnd: endAnchor, MarkAttrs: copyAttrs(attrs),
	}
	if err := d.RawApplyOp(op, true); err != nil {
		return EditOp{}, err
	}
	return op, nil
}

// anchorAt builds the anchor a mark endpoint uses for visible offset n:
// Before binds to the atom currently visible at n (or Zero/After if n is
// at the very end), After binds to the atom visible at n-1 (or
// Zero/Before if n is at the very start) — the inverse construction of
// ResolveAnchor, chosen so the anchor round-trips back to offset n right
// after creation.
func anchorAt[T any](seq *crdt.Sequence[T], n int, bias crdt.AnchorBias) crdt.Anchor {
	if bias == crdt.AnchorBefore {
		if n >= seq.VisibleLen() {
			return crdt.Anchor{ElemID: crdt.Zero, Bias: crdt.AnchorAfter}
		}
		return crdt.Anchor{ElemID: visibleIDAt(seq, n), Bias: crdt.AnchorBefore}
	}
	if n <= 0 {
		return crdt.Anchor{ElemID: crdt.Zero, Bias: crdt.AnchorBefore}
	}
	return crdt.Anchor{ElemID: visibleIDAt(seq, n-1), Bias: crdt.AnchorAfter}
}

func visibleIDAt[T any](seq *crdt.Sequence[T], n int) crdt.OpId {
	ids := seq.VisibleIDs()
	if n < 0 || n >= len(ids) {
		return crdt.Zero
	}
	return ids[n]
}

func copyAttrs(attrs map[string]string) map[string]string {
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// RemoveMark removes the mark interval identified by target from block,
// recording the remover's current state vector so add-wins resolution
// (§4.4) can tell whether this removal observed the interval's add.
func (d *Document) RemoveMark(blockID crdt.OpId, target crdt.OpId) (EditOp, error) {
	if _, ok := d.Blocks[blockID]; !ok {
		return EditOp{}, ErrBlockNotFound
	}
	id := d.NextOpID()
	op := EditOp{
		Tag: OpMarkRemove, ID: id, BlockID: blockID,
		MarkTarget: target, MarkObserved: d.StateVector.Clone(),
	}
	if err := d.RawApplyOp(op, true); err != nil {
		return EditOp{}, err
	}
	return op, nil
}

// SetMarkAttr overwrites one attribute of an existing mark interval via
// LWW (§4.4 "attribute updates ... stored ... using LWW registers").
func (d *Document) SetMarkAttr(blockID crdt.OpId, target crdt.OpId, key, value string) (EditOp, error) {
	b, ok := d.Blocks[blockID]
	if !ok {
		return EditOp{}, ErrBlockNotFound
	}
	if _, ok := b.Marks.Interval(target); !ok {
		return EditOp{}, ErrIntervalNotFound
	}
	id := d.NextOpID()
	op := EditOp{Tag: OpMarkAttr, ID: id, BlockID: blockID, MarkAttrTarget: target, MarkAttrKey: key, MarkAttrValue: value}
	if err := d.RawApplyOp(op, true); err != nil {
		return EditOp{}, err
	}
	return op, nil
}

// SetBlockKind rewrites block's kind via LWW (§4.5 "LWW on block kind
// register"). Concurrent kind changes converge on the larger OpId.
func (d *Document) SetBlockKind(blockID crdt.OpId, kind BlockKind) (EditOp, error) {
	if _, ok := d.Blocks[blockID]; !ok {
		return EditOp{}, ErrBlockNotFound
	}
	id := d.NextOpID()
	op := EditOp{Tag: OpBlockKind, ID: id, BlockID: blockID, SetKind: kind}
	if err := d.RawApplyOp(op, true); err != nil {
		return EditOp{}, err
	}
	return op, nil
}

// InsertBlock inserts a new block of the given kind at the given position
// in parent's child order (Zero parent: the document's top-level order).
func (d *Document) InsertBlock(parentID crdt.OpId, position int, kind BlockKind) (EditOp, error) {
	var seq *crdt.Sequence[crdt.OpId]
	if parentID.IsZero() {
		seq = d.BlockOrder
	} else {
		parent, ok := d.Blocks[parentID]
		if !ok || parent.Kind.ChildIDs == nil {
			return EditOp{}, ErrBlockNotFound
		}
		seq = parent.Kind.ChildIDs
	}
	if position < 0 || position > seq.VisibleLen() {
		return EditOp{}, ErrInvalidOffset
	}
	id := d.NextOpID()
	left, right := seq.Reserve(position)
	op := EditOp{
		Tag: OpBlockInsert, ID: id, ParentID: parentID, NewBlockKind: kind,
		OriginLeft: left, OriginRight: right,
	}
	if err := d.RawApplyOp(op, true); err != nil {
		return EditOp{}, err
	}
	return op, nil
}

// DeleteBlock tombstones the block with the given id wherever it appears
// in the document's block order or a container's child order.
func (d *Document) DeleteBlock(blockID crdt.OpId) (EditOp, error) {
	if _, ok := d.Blocks[blockID]; !ok {
		return EditOp{}, ErrBlockNotFound
	}
	id := d.NextOpID()
	op := EditOp{Tag: OpBlockDelete, ID: id, DeleteTarget: blockID}
	if err := d.RawApplyOp(op, true); err != nil {
		return EditOp{}, err
	}
	return op, nil
}

// SetAttr writes a block-scoped attribute (e.g. a raw block's language tag,
// or a link's hoisted href) via LWW.
func (d *Document) SetAttr(blockID crdt.OpId, key, value string) (EditOp, error) {
	if _, ok := d.Blocks[blockID]; !ok {
		return EditOp{}, ErrBlockNotFound
	}
	id := d.NextOpID()
	op := EditOp{Tag: OpRegisterSet, ID: id, RegScope: ScopeBlockAttr, BlockID: blockID, RegKey: key, RegValue: value}
	if err := d.RawApplyOp(op, true); err != nil {
		return EditOp{}, err
	}
	return op, nil
}

// SetFrontmatter writes a document-level frontmatter key via LWW.
func (d *Document) SetFrontmatter(key, value string) EditOp {
	id := d.NextOpID()
	op := EditOp{Tag: OpFrontmatterSet, ID: id, FrontmatterKey: key, FrontmatterValue: value}
	_ = d.RawApplyOp(op, true)
	return op
}
