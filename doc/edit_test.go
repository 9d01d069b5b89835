package doc_test

import (
	"testing"

	"mdcrdt/crdt"
	"mdcrdt/doc"
)

func firstBlock(d *doc.Document) *doc.Block {
	return d.BlocksInOrder()[0]
}

func TestInsertTextAppendsGraphemes(t *testing.T) {
	d := doc.Parse("hello")
	b := firstBlock(d)

	ops, err := d.InsertText(b.ID, 5, "!")
	if err != nil {
		t.Fatalf("InsertText: %v", err)
	}
	if len(ops) != 1 {
		t.Fatalf("got %d ops, want 1", len(ops))
	}
	if got, want := b.PlainText(), "hello!"; got != want {
		t.Fatalf("PlainText() = %q, want %q", got, want)
	}
}

func TestInsertTextMidString(t *testing.T) {
	d := doc.Parse("hllo")
	b := firstBlock(d)

	if _, err := d.InsertText(b.ID, 1, "e"); err != nil {
		t.Fatalf("InsertText: %v", err)
	}
	if got, want := b.PlainText(), "hello"; got != want {
		t.Fatalf("PlainText() = %q, want %q", got, want)
	}
}

func TestInsertTextRejectsEmptyAndOutOfRange(t *testing.T) {
	d := doc.Parse("hi")
	b := firstBlock(d)

	if _, err := d.InsertText(b.ID, 0, ""); err != doc.ErrEmptyText {
		t.Fatalf("InsertText(empty) err = %v, want ErrEmptyText", err)
	}
	if _, err := d.InsertText(b.ID, 99, "x"); err != doc.ErrInvalidOffset {
		t.Fatalf("InsertText(out of range) err = %v, want ErrInvalidOffset", err)
	}
	if _, err := d.InsertText(crdt.OpId{Peer: 9, Counter: 9}, 0, "x"); err != doc.ErrBlockNotFound {
		t.Fatalf("InsertText(unknown block) err = %v, want ErrBlockNotFound", err)
	}
}

func TestDeleteRangeRemovesGraphemes(t *testing.T) {
	d := doc.Parse("hello world")
	b := firstBlock(d)

	if _, err := d.DeleteRange(b.ID, 5, 11); err != nil {
		t.Fatalf("DeleteRange: %v", err)
	}
	if got, want := b.PlainText(), "hello"; got != want {
		t.Fatalf("PlainText() = %q, want %q", got, want)
	}
}

func TestDeleteRangeRejectsInvalidRange(t *testing.T) {
	d := doc.Parse("hi")
	b := firstBlock(d)

	if _, err := d.DeleteRange(b.ID, 1, 0); err != doc.ErrInvalidOffset {
		t.Fatalf("DeleteRange(start>end) err = %v, want ErrInvalidOffset", err)
	}
	if _, err := d.DeleteRange(b.ID, 0, 99); err != doc.ErrInvalidOffset {
		t.Fatalf("DeleteRange(end>len) err = %v, want ErrInvalidOffset", err)
	}
}

func TestAddMarkAndRemoveMark(t *testing.T) {
	d := doc.Parse("hello world")
	b := firstBlock(d)

	op, err := d.AddMark(b.ID, "bold", 0, 5, nil)
	if err != nil {
		t.Fatalf("AddMark: %v", err)
	}
	if got, want := d.Serialize(doc.Structural), "**hello** world"; got != want {
		t.Fatalf("Serialize() = %q, want %q", got, want)
	}

	if _, err := d.RemoveMark(b.ID, op.ID); err != nil {
		t.Fatalf("RemoveMark: %v", err)
	}
	if got, want := d.Serialize(doc.Structural), "hello world"; got != want {
		t.Fatalf("Serialize() after remove = %q, want %q", got, want)
	}
}

func TestSetMarkAttrUpdatesLinkHref(t *testing.T) {
	d := doc.Parse("[label](/old)")
	b := firstBlock(d)
	marks := b.Marks.ActiveIntervalsOfKind("link")
	if len(marks) != 1 {
		t.Fatalf("got %d link marks, want 1", len(marks))
	}
	target := marks[0].ID

	if _, err := d.SetMarkAttr(b.ID, target, "href", "/new"); err != nil {
		t.Fatalf("SetMarkAttr: %v", err)
	}
	iv, ok := b.Marks.Interval(target)
	if !ok || iv.Attrs["href"] != "/new" {
		t.Fatalf("Interval(target).Attrs[href] = %q, want %q", iv.Attrs["href"], "/new")
	}
}

func TestSetBlockKindChangesHeadingLevel(t *testing.T) {
	d := doc.Parse("# Title")
	b := firstBlock(d)

	newKind := b.Kind
	newKind.HeadingLevel = 3
	if _, err := d.SetBlockKind(b.ID, newKind); err != nil {
		t.Fatalf("SetBlockKind: %v", err)
	}
	if got, want := b.Kind.HeadingLevel, 3; got != want {
		t.Fatalf("HeadingLevel = %d, want %d", got, want)
	}
}

func TestInsertBlockAndDeleteBlock(t *testing.T) {
	d := doc.Parse("first")
	firstID := firstBlock(d).ID

	op, err := d.InsertBlock(crdt.Zero, 1, doc.BlockKind{Tag: doc.Paragraph})
	if err != nil {
		t.Fatalf("InsertBlock: %v", err)
	}
	if got, want := len(d.BlocksInOrder()), 2; got != want {
		t.Fatalf("got %d top-level blocks, want %d", got, want)
	}

	if _, err := d.DeleteBlock(firstID); err != nil {
		t.Fatalf("DeleteBlock: %v", err)
	}
	remaining := d.BlocksInOrder()
	if len(remaining) != 1 || remaining[0].ID != op.ID {
		t.Fatalf("remaining blocks = %+v, want just %v", remaining, op.ID)
	}
}

func TestSetAttrAndSetFrontmatter(t *testing.T) {
	d := doc.Parse("hello")
	b := firstBlock(d)

	if _, err := d.SetAttr(b.ID, "lang", "en"); err != nil {
		t.Fatalf("SetAttr: %v", err)
	}
	if got, ok := b.Attrs.Get("lang"); !ok || got != "en" {
		t.Fatalf("Attrs[lang] = %q, %v; want %q, true", got, ok, "en")
	}

	d.SetFrontmatter("title", "My Doc")
	if got, ok := d.Frontmatter.Get("title"); !ok || got != "My Doc" {
		t.Fatalf("Frontmatter[title] = %q, %v; want %q, true", got, ok, "My Doc")
	}
}

func TestReplaceTextPreservesUnrelatedSpan(t *testing.T) {
	d := doc.Parse("hello world")
	b := firstBlock(d)
	kept := append([]crdt.OpId(nil), b.Text.VisibleIDs()[:6]...)

	if _, err := d.ReplaceText(b.ID, "hello there"); err != nil {
		t.Fatalf("ReplaceText: %v", err)
	}
	if got, want := b.PlainText(), "hello there"; got != want {
		t.Fatalf("PlainText() = %q, want %q", got, want)
	}
	for i, id := range b.Text.VisibleIDs()[:6] {
		if id != kept[i] {
			t.Fatalf("atom %d of unchanged prefix %q = %v, want original %v", i, "hello ", id, kept[i])
		}
	}
}

func TestDiffTextCountsGraphemeLevelEdits(t *testing.T) {
	if got, want := doc.DiffText("abc", "abc"), 0; got != want {
		t.Fatalf("DiffText(same) = %d, want %d", got, want)
	}
	if got, want := doc.DiffText("abc", "axc"), 2; got != want {
		t.Fatalf("DiffText(substitute) = %d, want %d", got, want)
	}
}
