// Package doc implements the Markdown document model: typed blocks ordered
// by a sequence CRDT, a CommonMark+GFM parser and serializer, and the
// grapheme-indexed edit operations that lower user intent to crdt ops.
//
// Like the crdt package it builds on, doc is a synchronous, logging-free
// library; callers own concurrency control.
package doc

import (
	"strings"

	"mdcrdt/crdt"
)

// BlockKindTag discriminates the tagged variant BlockKind holds. Go has no
// sum types, so BlockKind is a single struct carrying only the fields its
// Tag calls for — the same "enumerated tag, not inheritance" approach named
// in the design notes, translated from a Rust enum to a Go struct.
type BlockKindTag int

const (
	Paragraph BlockKindTag = iota
	Heading
	CodeFence
	BlockQuote
	List
	ListItem
	RawBlock
	Table
	ThematicBreak
)

func (t BlockKindTag) String() string {
	switch t {
	case Paragraph:
		return "Paragraph"
	case Heading:
		return "Heading"
	case CodeFence:
		return "CodeFence"
	case BlockQuote:
		return "BlockQuote"
	case List:
		return "List"
	case ListItem:
		return "ListItem"
	case RawBlock:
		return "RawBlock"
	case Table:
		return "Table"
	case ThematicBreak:
		return "ThematicBreak"
	default:
		return "Unknown"
	}
}

// ColumnAlignment is a GFM table column's declared alignment.
type ColumnAlignment int

const (
	AlignNone ColumnAlignment = iota
	AlignLeft
	AlignCenter
	AlignRight
)

// TableRow is one row of a Table block: an ordered sequence of cell text,
// each an independently-editable grapheme sequence so concurrent edits to
// different cells never interact.
type TableRow struct {
	ID    crdt.OpId
	Cells []*crdt.Sequence[string]
}

// TableData holds a table block's structure: its header flag, column
// alignments (LWW, since the whole alignment row is typically rewritten
// together), and its rows, ordered by a sequence CRDT of row ids so
// concurrent row insertions converge like any other sequence.
type TableData struct {
	Header     *crdt.Register[bool]
	Alignments *crdt.Register[[]ColumnAlignment]
	RowOrder   *crdt.Sequence[crdt.OpId]
	Rows       map[crdt.OpId]*TableRow
}

// NewTableData returns an empty table shell.
func NewTableData() *TableData {
	return &TableData{
		Header:     crdt.NewRegisterWith(crdt.Zero, true),
		Alignments: crdt.NewRegister[[]ColumnAlignment](),
		RowOrder:   crdt.NewSequence[crdt.OpId](),
		Rows:       make(map[crdt.OpId]*TableRow),
	}
}

// RowsInOrder returns the table's rows in their converged sequence order,
// skipping any row id whose row has been removed from Rows (tombstoned at
// the document level) or is not yet materialized.
func (t *TableData) RowsInOrder() []*TableRow {
	ids := t.RowOrder.Values()
	out := make([]*TableRow, 0, len(ids))
	for _, id := range ids {
		if row, ok := t.Rows[id]; ok {
			out = append(out, row)
		}
	}
	return out
}

// BlockKind is the tagged description of what a Block renders as. Only the
// fields relevant to Tag are meaningful; others are left zero.
type BlockKind struct {
	Tag BlockKindTag

	HeadingLevel int // Heading: 1-6

	CodeInfo string // CodeFence: the fence's info string

	ChildIDs *crdt.Sequence[crdt.OpId] // BlockQuote, ListItem: nested block order

	ListOrdered bool // List
	ListTight   bool // List

	RawKind string // RawBlock: e.g. "html", a ::: fence name, or ""

	TableData *TableData // Table
}

// Block is a single Markdown block: an id, a kind, its inline text (empty
// for container kinds), a mark set over that text, and an attribute map
// (e.g. a link target hoisted to block scope, or arbitrary frontmatter-like
// metadata attached by an editor extension).
type Block struct {
	ID    crdt.OpId
	Kind  BlockKind
	Text  *crdt.Sequence[string]
	Marks *crdt.MarkSet
	Attrs *crdt.Map[string]

	// rawSpan holds the block's original source bytes as parsed, used by
	// Exact serialization when the block has not been touched since parse.
	rawSpan    string
	hasRawSpan bool
}

// NewBlock returns an empty block of the given kind, ready to have text,
// marks, or children populated. Container kinds get their nested sequence
// CRDTs initialized here regardless of how the caller built BlockKind, so
// every code path that creates a block (parser, local edit, wire-decoded
// op) produces the same structurally valid shape.
func NewBlock(id crdt.OpId, kind BlockKind) *Block {
	switch kind.Tag {
	case BlockQuote, ListItem, List:
		if kind.ChildIDs == nil {
			kind.ChildIDs = crdt.NewSequence[crdt.OpId]()
		}
	case Table:
		if kind.TableData == nil {
			kind.TableData = NewTableData()
		}
	}
	return &Block{
		ID:    id,
		Kind:  kind,
		Text:  crdt.NewSequence[string](),
		Marks: crdt.NewMarkSet(),
		Attrs: crdt.NewMap[string](),
	}
}

// PlainText concatenates the block's visible graphemes with no formatting
// applied, e.g. for diffing or search.
func (b *Block) PlainText() string {
	var sb strings.Builder
	for _, g := range b.Text.Values() {
		sb.WriteString(g)
	}
	return sb.String()
}

// markDirty invalidates the block's raw-span cache, forcing Exact
// serialization to fall back to Structural rendering for this block — per
// Open Question (a)'s chosen policy: "fall back to structural if any atom
// in the block is not from the parse-time op range," implemented here as
// "any edit clears the cached span."
func (b *Block) markDirty() {
	b.hasRawSpan = false
	b.rawSpan = ""
}
