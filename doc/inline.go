package doc

import (
	"strings"

	"mdcrdt/crdt"
)

// inlineSpan is a recognized inline formatting run, with start/end as
// grapheme offsets into the plain (delimiter-stripped) text it was found
// in.
type inlineSpan struct {
	start, end int
	kind       crdt.MarkKind
	attr       string // href (link) or src (image)
}

// parseInlineSpans strips Markdown inline delimiters out of text and
// returns the plain text plus the spans they marked, recognizing images,
// links, bold, strike, code, and italic — checked in that order so `![]()`
// is not misread as a link, and `**bold**` is not misread as two italics.
// Autolinks (`<url>`) are not recognized and stay literal text.
//
// This is a single left-to-right scan, not a full CommonMark inline
// parser: it does not handle nested emphasis or escaped delimiters, which
// is an acceptable simplification for the structural round-trip this
// system guarantees (§4.6).
func parseInlineSpans(text string) (string, []inlineSpan) {
	var plain strings.Builder
	var spans []inlineSpan
	offset := 0 // grapheme offset into plain written so far

	runes := []rune(text)
	i := 0
	for i < len(runes) {
		switch {
		case matchAt(runes, i, "!["):
			if label, url, consumed, ok := scanLinkLike(runes, i, "![", "]("); ok {
				offset = len(graphemes(plain.String()))
				start := offset
				n := appendPlainGraphemes(&plain, label)
				offset += n
				spans = append(spans, inlineSpan{start: start, end: offset, kind: "image", attr: url})
				i += consumed
				continue
			}
			plain.WriteRune(runes[i])
			offset++
			i++

		case matchAt(runes, i, "["):
			if label, url, consumed, ok := scanLinkLike(runes, i, "[", "]("); ok {
				offset = len(graphemes(plain.String()))
				start := offset
				n := appendPlainGraphemes(&plain, label)
				offset += n
				spans = append(spans, inlineSpan{start: start, end: offset, kind: "link", attr: url})
				i += consumed
				continue
			}
			plain.WriteRune(runes[i])
			offset++
			i++

		case matchAt(runes, i, "**"):
			if body, consumed, ok := scanDelimited(runes, i, "**"); ok {
				offset = len(graphemes(plain.String()))
				start := offset
				n := appendPlainGraphemes(&plain, body)
				offset += n
				spans = append(spans, inlineSpan{start: start, end: offset, kind: "bold"})
				i += consumed
				continue
			}
			plain.WriteRune(runes[i])
			offset++
			i++

		case matchAt(runes, i, "~~"):
			if body, consumed, ok := scanDelimited(runes, i, "~~"); ok {
				offset = len(graphemes(plain.String()))
				start := offset
				n := appendPlainGraphemes(&plain, body)
				offset += n
				spans = append(spans, inlineSpan{start: start, end: offset, kind: "strike"})
				i += consumed
				continue
			}
			plain.WriteRune(runes[i])
			offset++
			i++

		case matchAt(runes, i, "`"):
			if body, consumed, ok := scanDelimited(runes, i, "`"); ok {
				offset = len(graphemes(plain.String()))
				start := offset
				n := appendPlainGraphemes(&plain, body)
				offset += n
				spans = append(spans, inlineSpan{start: start, end: offset, kind: "code"})
				i += consumed
				continue
			}
			plain.WriteRune(runes[i])
			offset++
			i++

		case matchAt(runes, i, "*"):
			if body, consumed, ok := scanDelimited(runes, i, "*"); ok {
				offset = len(graphemes(plain.String()))
				start := offset
				n := appendPlainGraphemes(&plain, body)
				offset += n
				spans = append(spans, inlineSpan{start: start, end: offset, kind: "italic"})
				i += consumed
				continue
			}
			plain.WriteRune(runes[i])
			offset++
			i++

		default:
			plain.WriteRune(runes[i])
			offset++
			i++
		}
	}
	return plain.String(), spans
}

func matchAt(runes []rune, i int, prefix string) bool {
	pr := []rune(prefix)
	if i+len(pr) > len(runes) {
		return false
	}
	for k, r := range pr {
		if runes[i+k] != r {
			return false
		}
	}
	return true
}

// scanDelimited matches `delim body delim` starting at i, returning body
// and the total rune count consumed.
func scanDelimited(runes []rune, i int, delim string) (string, int, bool) {
	dr := []rune(delim)
	start := i + len(dr)
	j := start
	for j+len(dr) <= len(runes) {
		if matchAt(runes, j, delim) {
			return string(runes[start:j]), (j + len(dr)) - i, true
		}
		j++
	}
	return "", 0, false
}

// scanLinkLike matches `open label ]( url )` starting at i, where open is
// "[" or "![".
func scanLinkLike(runes []rune, i int, open, midDelim string) (string, string, int, bool) {
	or := []rune(open)
	j := i + len(or)
	labelStart := j
	for j < len(runes) && runes[j] != ']' {
		j++
	}
	if j >= len(runes) {
		return "", "", 0, false
	}
	label := string(runes[labelStart:j])
	if !matchAt(runes, j, "](") {
		return "", "", 0, false
	}
	urlStart := j + 2
	k := urlStart
	for k < len(runes) && runes[k] != ')' {
		k++
	}
	if k >= len(runes) {
		return "", "", 0, false
	}
	url := string(runes[urlStart:k])
	return label, url, (k + 1) - i, true
}

// appendPlainGraphemes writes s's grapheme clusters to sb and returns how
// many clusters were written, so callers can advance a grapheme-offset
// cursor rather than a byte or rune cursor.
func appendPlainGraphemes(sb *strings.Builder, s string) int {
	clusters := graphemes(s)
	for _, g := range clusters {
		sb.WriteString(g)
	}
	return len(clusters)
}
