package doc

import (
	"strings"

	"gopkg.in/yaml.v3"

	"mdcrdt/crdt"
)

// parsedBlock is the parser's intermediate, CRDT-free representation of one
// block, built by a line-oriented recursive descent over the input the way
// the original Parser::parse/parse_blocks walks line by line. It is
// converted into real crdt-backed Blocks by materialize, which is the only
// place fresh OpIds are minted.
type parsedBlock struct {
	kind     BlockKindTag
	level    int      // Heading
	info     string   // CodeFence info string, or RawBlock kind
	lines    []string // raw text lines (CodeFence/RawBlock/Paragraph/Heading)
	rawSpan  string   // verbatim source span, for Exact mode
	ordered  bool     // List
	children []parsedBlock
	table    *parsedTable
}

type parsedTable struct {
	header  []string
	aligns  []ColumnAlignment
	rows    [][]string
}

// Parser mints a document's initial op identities from a counter rooted at
// (1, peer), per §4.6 "the only circumstance where ops are minted without
// user action". A Parser is reusable across calls to Parse.
type Parser struct {
	peer crdt.PeerID
}

// NewParser returns a parser that mints ops under a fresh peer id.
func NewParser() *Parser {
	return &Parser{peer: crdt.NewPeerID()}
}

// NewParserWithPeer returns a parser that mints ops under the given peer
// id, for deterministic tests.
func NewParserWithPeer(peer crdt.PeerID) *Parser {
	return &Parser{peer: peer}
}

// Parse is the package-level convenience entry point: parse with a fresh
// random peer id.
func Parse(text string) *Document {
	return NewParser().Parse(text)
}

// Parse parses text into a Document, assigning every block and every atom
// a fresh OpId from p's deterministic counter sequence.
func (p *Parser) Parse(text string) *Document {
	d := NewWithPeer(p.peer)
	d.rawSource = text

	body, frontmatter := splitFrontmatter(text)
	if frontmatter != nil {
		keys := make([]string, 0, len(frontmatter))
		for k := range frontmatter {
			keys = append(keys, k)
		}
		sortStrings(keys)
		for _, k := range keys {
			d.SetFrontmatter(k, frontmatter[k])
		}
	}

	blocks := parseBlocks(splitLines(body))
	for _, pb := range blocks {
		p.materialize(d, crdt.Zero, pb)
	}
	return d
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
}

// splitFrontmatter detects a leading "---\n...\n---" YAML block and returns
// the remaining body plus the decoded key/value pairs, or nil if none.
func splitFrontmatter(text string) (string, map[string]string) {
	lines := splitLines(text)
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return text, nil
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			yamlBody := strings.Join(lines[1:i], "\n")
			var m map[string]string
			if err := yaml.Unmarshal([]byte(yamlBody), &m); err != nil {
				return text, nil
			}
			rest := strings.Join(lines[i+1:], "\n")
			rest = strings.TrimPrefix(rest, "\n")
			return rest, m
		}
	}
	return text, nil
}

// parseBlocks walks lines and splits them into top-level blocks, the way
// the original parse_blocks does: a fenced-code or raw-block opener
// consumes until its matching closer, a block-quote prefix consumes a
// maximal run of `>`-prefixed lines recursively, a list marker consumes a
// maximal run of consecutive items of any marker style (the first item
// decides ordered vs. unordered; a blank line ends the list), a thematic
// break is a single line, and everything else accumulates into a paragraph
// until a blank line or a line opening a fence, quote, heading, thematic
// break or list.
func parseBlocks(lines []string) []parsedBlock {
	var blocks []parsedBlock
	i := 0
	for i < len(lines) {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			i++

		case strings.HasPrefix(trimmed, "```"):
			info := strings.TrimPrefix(trimmed, "```")
			start := i
			i++
			var body []string
			for i < len(lines) && strings.TrimSpace(lines[i]) != "```" {
				body = append(body, lines[i])
				i++
			}
			if i < len(lines) {
				i++ // consume closing fence
			}
			blocks = append(blocks, parsedBlock{
				kind: CodeFence, info: info, lines: body,
				rawSpan: strings.Join(lines[start:min(i, len(lines))], "\n"),
			})

		case strings.HasPrefix(trimmed, ":::"):
			kind := strings.TrimPrefix(trimmed, ":::")
			start := i
			i++
			var body []string
			for i < len(lines) && strings.TrimSpace(lines[i]) != ":::" {
				body = append(body, lines[i])
				i++
			}
			if i < len(lines) {
				i++
			}
			blocks = append(blocks, parsedBlock{
				kind: RawBlock, info: kind, lines: body,
				rawSpan: strings.Join(lines[start:min(i, len(lines))], "\n"),
			})

		case isThematicBreak(trimmed):
			blocks = append(blocks, parsedBlock{kind: ThematicBreak, rawSpan: line})
			i++

		case strings.HasPrefix(trimmed, ">"):
			start := i
			var inner []string
			for i < len(lines) && strings.HasPrefix(strings.TrimSpace(lines[i]), ">") {
				l := strings.TrimSpace(lines[i])
				l = strings.TrimPrefix(l, ">")
				l = strings.TrimPrefix(l, " ")
				inner = append(inner, l)
				i++
			}
			blocks = append(blocks, parsedBlock{
				kind: BlockQuote, children: parseBlocks(inner),
				rawSpan: strings.Join(lines[start:i], "\n"),
			})

		case headingLevel(trimmed) > 0:
			level := headingLevel(trimmed)
			text := strings.TrimSpace(trimmed[level:])
			blocks = append(blocks, parsedBlock{kind: Heading, level: level, lines: []string{text}, rawSpan: line})
			i++

		case isTableStart(lines, i):
			start := i
			table, consumed := parseTable(lines[i:])
			i += consumed
			blocks = append(blocks, parsedBlock{kind: Table, table: table, rawSpan: strings.Join(lines[start:i], "\n")})

		case isListMarker(trimmed):
			start := i
			ordered := isOrderedMarker(trimmed)
			var items [][]string
			for i < len(lines) && isListMarker(strings.TrimSpace(lines[i])) {
				_, rest := splitListMarker(strings.TrimSpace(lines[i]))
				item := []string{rest}
				i++
				for i < len(lines) && strings.TrimSpace(lines[i]) != "" && !isListMarker(strings.TrimSpace(lines[i])) && strings.HasPrefix(lines[i], "  ") {
					item = append(item, strings.TrimPrefix(lines[i], "  "))
					i++
				}
				items = append(items, item)
			}
			children := make([]parsedBlock, 0, len(items))
			for _, it := range items {
				children = append(children, parsedBlock{kind: ListItem, children: parseBlocks(it)})
			}
			blocks = append(blocks, parsedBlock{
				kind: List, ordered: ordered, children: children,
				rawSpan: strings.Join(lines[start:i], "\n"),
			})

		default:
			start := i
			var para []string
			for i < len(lines) {
				t := strings.TrimSpace(lines[i])
				if t == "" || strings.HasPrefix(t, "```") || strings.HasPrefix(t, ">") ||
					strings.HasPrefix(t, ":::") || headingLevel(t) > 0 || isThematicBreak(t) ||
					isListMarker(t) {
					break
				}
				para = append(para, lines[i])
				i++
			}
			blocks = append(blocks, parsedBlock{
				kind: Paragraph, lines: []string{strings.Join(para, " ")},
				rawSpan: strings.Join(lines[start:i], "\n"),
			})
		}
	}
	return blocks
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func headingLevel(trimmed string) int {
	n := 0
	for n < len(trimmed) && n < 6 && trimmed[n] == '#' {
		n++
	}
	if n == 0 || n >= len(trimmed) || trimmed[n] != ' ' {
		return 0
	}
	return n
}

func isThematicBreak(trimmed string) bool {
	if len(trimmed) < 3 {
		return false
	}
	c := trimmed[0]
	if c != '-' && c != '*' && c != '_' {
		return false
	}
	for _, r := range trimmed {
		if byte(r) != c {
			return false
		}
	}
	return true
}

func isListMarker(trimmed string) bool {
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") || strings.HasPrefix(trimmed, "+ ") {
		return true
	}
	_, rest := splitOrderedPrefix(trimmed)
	return rest != trimmed
}

func isOrderedMarker(trimmed string) bool {
	_, rest := splitOrderedPrefix(trimmed)
	return rest != trimmed
}

func splitOrderedPrefix(s string) (string, string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i+1 >= len(s) || s[i] != '.' || s[i+1] != ' ' {
		return "", s
	}
	return s[:i+1], s[i+2:]
}

func splitListMarker(trimmed string) (string, string) {
	if marker, rest := splitOrderedPrefix(trimmed); rest != trimmed {
		return marker, rest
	}
	return trimmed[:1], trimmed[2:]
}

func isTableStart(lines []string, i int) bool {
	if i+1 >= len(lines) {
		return false
	}
	header := strings.TrimSpace(lines[i])
	sep := strings.TrimSpace(lines[i+1])
	if !strings.Contains(header, "|") || !strings.Contains(sep, "|") {
		return false
	}
	for _, cell := range splitTableRow(sep) {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		for _, r := range cell {
			if r != '-' && r != ':' {
				return false
			}
		}
	}
	return true
}

func splitTableRow(line string) []string {
	line = strings.TrimSpace(line)
	line = strings.TrimPrefix(line, "|")
	line = strings.TrimSuffix(line, "|")
	return strings.Split(line, "|")
}

func parseTable(lines []string) (*parsedTable, int) {
	t := &parsedTable{}
	header := splitTableRow(lines[0])
	for i, c := range header {
		header[i] = strings.TrimSpace(c)
	}
	t.header = header
	sepCells := splitTableRow(lines[1])
	t.aligns = make([]ColumnAlignment, len(sepCells))
	for i, c := range sepCells {
		c = strings.TrimSpace(c)
		left := strings.HasPrefix(c, ":")
		right := strings.HasSuffix(c, ":")
		switch {
		case left && right:
			t.aligns[i] = AlignCenter
		case left:
			t.aligns[i] = AlignLeft
		case right:
			t.aligns[i] = AlignRight
		default:
			t.aligns[i] = AlignNone
		}
	}
	consumed := 2
	for consumed < len(lines) {
		l := strings.TrimSpace(lines[consumed])
		if l == "" || !strings.Contains(l, "|") {
			break
		}
		row := splitTableRow(l)
		for i, c := range row {
			row[i] = strings.TrimSpace(c)
		}
		t.rows = append(t.rows, row)
		consumed++
	}
	return t, consumed
}

// materialize converts one parsedBlock into a real Block inserted into
// parentID's child order (or d.BlockOrder if parentID is Zero), minting
// fresh OpIds for the block itself, every text atom, and every nested
// child, via d.NextOpID — exactly the counter sequence §4.6 specifies.
func (p *Parser) materialize(d *Document, parentID crdt.OpId, pb parsedBlock) crdt.OpId {
	kind := BlockKind{Tag: pb.kind}
	switch pb.kind {
	case Heading:
		kind.HeadingLevel = pb.level
	case CodeFence:
		kind.CodeInfo = pb.info
	case RawBlock:
		kind.RawKind = pb.info
	case List:
		kind.ListOrdered = pb.ordered
		kind.ListTight = true
	}

	id := d.NextOpID()
	block := NewBlock(id, kind)
	block.rawSpan = pb.rawSpan
	block.hasRawSpan = pb.rawSpan != ""
	d.Blocks[id] = block

	var orderSeq *crdt.Sequence[crdt.OpId]
	if parentID.IsZero() {
		orderSeq = d.BlockOrder
	} else if parent, ok := d.Blocks[parentID]; ok && parent.Kind.ChildIDs != nil {
		orderSeq = parent.Kind.ChildIDs
	}
	if orderSeq != nil {
		left, right := orderSeq.Reserve(orderSeq.VisibleLen())
		orderSeq.Integrate(crdt.Atom[crdt.OpId]{ID: id, OriginLeft: left, OriginRight: right, Value: id})
	}

	switch pb.kind {
	case Paragraph, Heading:
		if len(pb.lines) > 0 {
			p.appendInline(d, block, pb.lines[0])
		}
	case CodeFence, RawBlock:
		p.appendPlain(d, block, strings.Join(pb.lines, "\n"))
	case Table:
		p.materializeTable(d, block, pb.table)
	case BlockQuote, List:
		for _, child := range pb.children {
			p.materialize(d, id, child)
		}
	case ListItem:
		for _, child := range pb.children {
			p.materialize(d, id, child)
		}
	}
	return id
}

// appendPlain inserts text as a flat run of grapheme atoms with no inline
// formatting parsed out, for code/raw blocks where markup is literal.
func (p *Parser) appendPlain(d *Document, b *Block, text string) {
	offset := 0
	for _, g := range graphemes(text) {
		id := d.NextOpID()
		left, right := b.Text.Reserve(offset)
		b.Text.Integrate(crdt.Atom[string]{ID: id, OriginLeft: left, OriginRight: right, Value: g})
		offset++
	}
}

// appendInline parses a minimal set of inline spans (bold, italic, code,
// strike, links, images; autolinks are not recognized) out of text,
// inserting the plain grapheme run and recording a MarkAdd for each
// recognized span.
func (p *Parser) appendInline(d *Document, b *Block, text string) {
	plain, spans := parseInlineSpans(text)
	offset := 0
	graphemeList := graphemes(plain)
	for _, g := range graphemeList {
		id := d.NextOpID()
		left, right := b.Text.Reserve(offset)
		b.Text.Integrate(crdt.Atom[string]{ID: id, OriginLeft: left, OriginRight: right, Value: g})
		offset++
	}
	for _, sp := range spans {
		start := sp.start
		end := sp.end
		if start < 0 || end > len(graphemeList) || start >= end {
			continue
		}
		startAnchor := anchorAt(b.Text, start, crdt.AnchorBefore)
		endAnchor := anchorAt(b.Text, end, crdt.AnchorAfter)
		id := d.NextOpID()
		attrs := map[string]string{}
		if sp.attr != "" {
			switch sp.kind {
			case crdt.MarkKind("link"):
				attrs["href"] = sp.attr
			case crdt.MarkKind("image"):
				attrs["src"] = sp.attr
			}
		}
		b.Marks.SetMark(crdt.MarkInterval{ID: id, Kind: sp.kind, Start: startAnchor, End: endAnchor, Attrs: attrs})
	}
}

func (p *Parser) materializeTable(d *Document, b *Block, t *parsedTable) {
	if t == nil {
		return
	}
	td := b.Kind.TableData
	td.Alignments.Set(crdt.Zero, t.aligns)
	allRows := append([][]string{t.header}, t.rows...)
	for _, rowCells := range allRows {
		rowID := d.NextOpID()
		row := &TableRow{ID: rowID, Cells: make([]*crdt.Sequence[string], len(rowCells))}
		for i, cell := range rowCells {
			seq := crdt.NewSequence[string]()
			offset := 0
			for _, g := range graphemes(cell) {
				id := d.NextOpID()
				left, right := seq.Reserve(offset)
				seq.Integrate(crdt.Atom[string]{ID: id, OriginLeft: left, OriginRight: right, Value: g})
				offset++
			}
			row.Cells[i] = seq
		}
		td.Rows[rowID] = row
		left, right := td.RowOrder.Reserve(td.RowOrder.VisibleLen())
		td.RowOrder.Integrate(crdt.Atom[crdt.OpId]{ID: rowID, OriginLeft: left, OriginRight: right, Value: rowID})
	}
}
