package doc

import (
	"mdcrdt/crdt"
	"mdcrdt/diff"
)

// DiffText returns the number of single-grapheme insert/delete operations
// needed to turn oldText into newText, at grapheme-cluster granularity so a
// single multi-codepoint cluster is always kept, inserted, or deleted as one
// unit rather than split mid-cluster.
func DiffText(oldText, newText string) int {
	return diff.Distance(graphemes(oldText), graphemes(newText))
}

// ReplaceText lowers a whole-block text replacement (e.g. from an external
// editor buffer, or an on-disk file sync) into the minimal InsertText/
// DeleteRange ops that take block's current text to newText, instead of a
// single delete-all-insert-all pair. This keeps unrelated concurrent edits
// inside the untouched portion of the text alive after merge.
func (d *Document) ReplaceText(blockID crdt.OpId, newText string) ([]EditOp, error) {
	b, ok := d.Blocks[blockID]
	if !ok {
		return nil, ErrBlockNotFound
	}
	current := b.Text.Values()
	target := graphemes(newText)
	plan := diff.Diff(current, target)

	var ops []EditOp
	offset := 0
	for _, step := range plan {
		switch step.Op {
		case diff.Keep:
			offset++
		case diff.Insert:
			produced, err := d.InsertText(blockID, offset, step.Elem)
			if err != nil {
				return ops, err
			}
			ops = append(ops, produced...)
			offset++
		case diff.Delete:
			produced, err := d.DeleteRange(blockID, offset, offset+1)
			if err != nil {
				return ops, err
			}
			ops = append(ops, produced...)
		}
	}
	return ops, nil
}
