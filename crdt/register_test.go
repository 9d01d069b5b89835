package crdt_test

import (
	"testing"

	"mdcrdt/crdt"
)

func TestRegisterLastWriterWins(t *testing.T) {
	r := crdt.NewRegister[string]()
	if _, ok := r.Get(); ok {
		t.Fatal("Get() on fresh register reports set=true")
	}

	if ok := r.Set(id(0, 1), "a"); !ok {
		t.Fatal("Set(id(0,1), a) = false, want true")
	}
	// A concurrent write with a smaller OpId loses.
	if ok := r.Set(id(0, 0), "stale"); ok {
		t.Fatal("Set with smaller id won, want loss")
	}
	// A write with a larger OpId wins.
	if ok := r.Set(id(1, 1), "b"); !ok {
		t.Fatal("Set with larger id lost, want win")
	}
	got, ok := r.Get()
	if !ok || got != "b" {
		t.Fatalf("Get() = %q, %v; want %q, true", got, ok, "b")
	}
	if got := r.WriterID(); got != id(1, 1) {
		t.Fatalf("WriterID() = %v, want %v", got, id(1, 1))
	}
}

func TestRegisterEqualOpIdLoses(t *testing.T) {
	r := crdt.NewRegisterWith(id(0, 5), "a")
	// A "rewrite" under the exact same id never takes effect, since
	// id.Compare(current) <= 0 for equal ids.
	if ok := r.Set(id(0, 5), "b"); ok {
		t.Fatal("Set with equal id won, want loss")
	}
	got, _ := r.Get()
	if got != "a" {
		t.Fatalf("Get() = %q, want %q", got, "a")
	}
}

func TestMapIndependentKeys(t *testing.T) {
	m := crdt.NewMap[string]()
	m.Set("title", id(0, 1), "hello")
	m.Set("href", id(0, 2), "/x")

	if got, ok := m.Get("title"); !ok || got != "hello" {
		t.Fatalf("Get(title) = %q, %v", got, ok)
	}
	if got, ok := m.Get("href"); !ok || got != "/x" {
		t.Fatalf("Get(href) = %q, %v", got, ok)
	}
	if got, want := m.Len(), 2; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
}

func TestMapConcurrentSetSameKey(t *testing.T) {
	m := crdt.NewMap[string]()
	m.Set("k", id(1, 1), "from-peer-1")
	if ok := m.Set("k", id(0, 1), "from-peer-0"); ok {
		t.Fatal("lower-peer concurrent Set won, want loss")
	}
	got, _ := m.Get("k")
	if got != "from-peer-1" {
		t.Fatalf("Get(k) = %q, want %q", got, "from-peer-1")
	}
}

func TestMapDelete(t *testing.T) {
	m := crdt.NewMap[string]()
	m.Set("k", id(0, 1), "v")

	if ok := m.Delete("k", id(0, 0)); ok {
		t.Fatal("Delete with smaller id won, want loss")
	}
	if _, ok := m.Get("k"); !ok {
		t.Fatal("key removed despite losing delete")
	}

	if ok := m.Delete("k", id(0, 2)); !ok {
		t.Fatal("Delete with larger id lost, want win")
	}
	if _, ok := m.Get("k"); ok {
		t.Fatal("key still present after winning delete")
	}
	if got, want := m.Len(), 0; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}

	// Deleting an absent key always succeeds.
	if ok := m.Delete("missing", id(0, 1)); !ok {
		t.Fatal("Delete(missing) = false, want true")
	}
}

// TestMapDeleteResurrection covers the LWW tombstone contract directly: a
// Set that arrives after a winning Delete but carries a smaller OpId must
// still lose, exactly as it would against any other write to the key.
func TestMapDeleteResurrection(t *testing.T) {
	m := crdt.NewMap[string]()
	m.Set("k", id(0, 1), "v")

	if ok := m.Delete("k", id(0, 5)); !ok {
		t.Fatal("Delete with larger id lost, want win")
	}
	if _, ok := m.Get("k"); ok {
		t.Fatal("key still present after winning delete")
	}

	// A concurrent Set with a smaller id than the delete must not resurrect
	// the key.
	if ok := m.Set("k", id(0, 3), "resurrected"); ok {
		t.Fatal("Set with smaller id than delete won, want loss")
	}
	if _, ok := m.Get("k"); ok {
		t.Fatal("key resurrected by a losing concurrent Set")
	}

	// A Set with a larger id than the delete does win, same as any write.
	if ok := m.Set("k", id(0, 9), "new"); !ok {
		t.Fatal("Set with larger id than delete lost, want win")
	}
	if got, ok := m.Get("k"); !ok || got != "new" {
		t.Fatalf("Get(k) = %q, %v; want %q, true", got, ok, "new")
	}
}
