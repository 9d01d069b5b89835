package doc

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"mdcrdt/crdt"
)

// EquivalenceMode selects how Serialize renders a Document: Structural
// produces the canonical normalized form (I3: identical CRDT state always
// serializes byte-identical), Exact tries to preserve each block's original
// source bytes when it has not been edited since parse.
type EquivalenceMode int

const (
	Structural EquivalenceMode = iota
	Exact
)

// Serialize renders the document to Markdown text under the given mode.
func (d *Document) Serialize(mode EquivalenceMode) string {
	var parts []string
	if fm := d.serializeFrontmatter(); fm != "" {
		parts = append(parts, fm)
	}
	for _, b := range d.BlocksInOrder() {
		parts = append(parts, d.serializeBlock(b, mode, 0))
	}
	return strings.Join(parts, "\n\n")
}

func (d *Document) serializeFrontmatter() string {
	keys := d.Frontmatter.Keys()
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)
	m := make(map[string]string, len(keys))
	for _, k := range keys {
		if v, ok := d.Frontmatter.Get(k); ok {
			m[k] = v
		}
	}
	// Structural frontmatter serialization is key-sorted, not source-order:
	// crdt.Map has no notion of insertion order, so round-tripping through
	// Structural mode normalizes key order (Open Question (a)'s sibling
	// ambiguity, resolved as key-sorted output).
	var sb strings.Builder
	sb.WriteString("---\n")
	for _, k := range keys {
		line, err := yaml.Marshal(map[string]string{k: m[k]})
		if err != nil {
			continue
		}
		sb.WriteString(strings.TrimRight(string(line), "\n"))
		sb.WriteString("\n")
	}
	sb.WriteString("---")
	return sb.String()
}

func (d *Document) serializeBlock(b *Block, mode EquivalenceMode, indent int) string {
	if mode == Exact && b.hasRawSpan {
		return b.rawSpan
	}
	switch b.Kind.Tag {
	case Paragraph:
		return d.serializeInline(b)
	case Heading:
		level := b.Kind.HeadingLevel
		if level < 1 {
			level = 1
		}
		if level > 6 {
			level = 6
		}
		return strings.Repeat("#", level) + " " + d.serializeInline(b)
	case CodeFence:
		return "```" + b.Kind.CodeInfo + "\n" + b.PlainText() + "\n```"
	case ThematicBreak:
		return "---"
	case RawBlock:
		if b.Kind.RawKind == "html" {
			return b.PlainText()
		}
		return ":::" + b.Kind.RawKind + "\n" + b.PlainText() + "\n:::"
	case BlockQuote:
		return serializeQuoted(d.serializeChildren(b, mode))
	case List:
		return d.serializeList(b, mode)
	case ListItem:
		return d.serializeChildren(b, mode)
	case Table:
		return d.serializeTable(b)
	default:
		return d.serializeInline(b)
	}
}

func (d *Document) serializeChildren(b *Block, mode EquivalenceMode) string {
	children := d.childBlocks(b)
	parts := make([]string, 0, len(children))
	for _, c := range children {
		parts = append(parts, d.serializeBlock(c, mode, 0))
	}
	return strings.Join(parts, "\n\n")
}

func serializeQuoted(body string) string {
	lines := strings.Split(body, "\n")
	for i, l := range lines {
		if l == "" {
			lines[i] = ">"
		} else {
			lines[i] = "> " + l
		}
	}
	return strings.Join(lines, "\n")
}

func (d *Document) serializeList(b *Block, mode EquivalenceMode) string {
	items := d.childBlocks(b)
	lines := make([]string, 0, len(items))
	for i, item := range items {
		body := d.serializeChildren(item, mode)
		var marker string
		if b.Kind.ListOrdered {
			marker = fmt.Sprintf("%d. ", i+1)
		} else {
			marker = "- "
		}
		bodyLines := strings.Split(body, "\n")
		pad := strings.Repeat(" ", len(marker))
		for j, bl := range bodyLines {
			if j == 0 {
				lines = append(lines, marker+bl)
			} else if bl == "" {
				lines = append(lines, "")
			} else {
				lines = append(lines, pad+bl)
			}
		}
	}
	return strings.Join(lines, "\n")
}

func (d *Document) serializeTable(b *Block) string {
	td := b.Kind.TableData
	if td == nil {
		return ""
	}
	rows := td.RowsInOrder()
	if len(rows) == 0 {
		return ""
	}
	cellText := func(row *TableRow) []string {
		out := make([]string, len(row.Cells))
		for i, c := range row.Cells {
			out[i] = strings.Join(c.Values(), "")
		}
		return out
	}
	var lines []string
	header := cellText(rows[0])
	lines = append(lines, "| "+strings.Join(header, " | ")+" |")
	aligns, _ := td.Alignments.Get()
	sepCells := make([]string, len(header))
	for i := range sepCells {
		a := AlignNone
		if i < len(aligns) {
			a = aligns[i]
		}
		switch a {
		case AlignLeft:
			sepCells[i] = ":---"
		case AlignCenter:
			sepCells[i] = ":---:"
		case AlignRight:
			sepCells[i] = "---:"
		default:
			sepCells[i] = "---"
		}
	}
	lines = append(lines, "|"+strings.Join(sepCells, "|")+"|")
	for _, row := range rows[1:] {
		cells := cellText(row)
		lines = append(lines, "| "+strings.Join(cells, " | ")+" |")
	}
	return strings.Join(lines, "\n")
}

// markDelim maps a MarkKind to its structural Markdown delimiter pair.
// Link and Image are rendered specially since they wrap the span in
// brackets rather than a symmetric delimiter.
func markDelim(kind crdt.MarkKind) (open, close string) {
	switch kind {
	case crdt.MarkKind("bold"):
		return "**", "**"
	case crdt.MarkKind("italic"):
		return "*", "*"
	case crdt.MarkKind("code"):
		return "`", "`"
	case crdt.MarkKind("strike"):
		return "~~", "~~"
	default:
		return "", ""
	}
}

// markSpan is a resolved, ready-to-render mark interval: a visible-offset
// range plus the interval it came from.
type markSpan struct {
	start, end int
	interval   crdt.MarkInterval
}

func (d *Document) resolvedSpans(b *Block) []markSpan {
	active := b.Marks.ActiveIntervals()
	spans := make([]markSpan, 0, len(active))
	for _, iv := range active {
		start := crdt.ResolveAnchor(b.Text, iv.Start)
		end := crdt.ResolveAnchor(b.Text, iv.End)
		if end < start {
			end = start
		}
		spans = append(spans, markSpan{start: start, end: end, interval: iv})
	}
	// Merge touching/overlapping spans of identical kind+attrs for
	// serialization only (§4.4 "Overlap and merging") — CRDT identity of
	// each interval is untouched, this only affects rendered delimiters.
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end < spans[j].end
	})
	var merged []markSpan
	for _, s := range spans {
		if n := len(merged); n > 0 &&
			merged[n-1].interval.Kind == s.interval.Kind &&
			attrsEqual(merged[n-1].interval.Attrs, s.interval.Attrs) &&
			s.start <= merged[n-1].end {
			if s.end > merged[n-1].end {
				merged[n-1].end = s.end
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

func attrsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// serializeInline renders a block's grapheme text with its active mark
// spans applied, using well-nested delimiter emission: spans are processed
// outermost-first by sorting on (start asc, end desc), so a delimiter
// opened later always closes before an earlier-opened one, avoiding
// crossed markup.
func (d *Document) serializeInline(b *Block) string {
	graphemes := b.Text.Values()
	spans := d.resolvedSpans(b)
	sort.Slice(spans, func(i, j int) bool {
		if spans[i].start != spans[j].start {
			return spans[i].start < spans[j].start
		}
		return spans[i].end > spans[j].end
	})

	type boundary struct {
		pos    int
		isOpen bool
		order  int
		span   markSpan
	}
	var bounds []boundary
	for i, s := range spans {
		bounds = append(bounds, boundary{pos: s.start, isOpen: true, order: i, span: s})
		bounds = append(bounds, boundary{pos: s.end, isOpen: false, order: i, span: s})
	}
	sort.SliceStable(bounds, func(i, j int) bool {
		if bounds[i].pos != bounds[j].pos {
			return bounds[i].pos < bounds[j].pos
		}
		// Close before open at the same position, innermost (later-opened)
		// closes first.
		if bounds[i].isOpen != bounds[j].isOpen {
			return !bounds[i].isOpen
		}
		if bounds[i].isOpen {
			return bounds[i].order < bounds[j].order
		}
		return bounds[i].order > bounds[j].order
	})

	var sb strings.Builder
	bi := 0
	for pos := 0; pos <= len(graphemes); pos++ {
		for bi < len(bounds) && bounds[bi].pos == pos {
			sb.WriteString(renderDelim(bounds[bi].span, bounds[bi].isOpen))
			bi++
		}
		if pos < len(graphemes) {
			sb.WriteString(graphemes[pos])
		}
	}
	return sb.String()
}

func renderDelim(s markSpan, isOpen bool) string {
	switch s.interval.Kind {
	case crdt.MarkKind("link"):
		if isOpen {
			return "["
		}
		return "](" + s.interval.Attrs["href"] + ")"
	case crdt.MarkKind("image"):
		if isOpen {
			return "!["
		}
		return "](" + s.interval.Attrs["src"] + ")"
	default:
		open, close := markDelim(s.interval.Kind)
		if isOpen {
			return open
		}
		return close
	}
}
