package crdt_test

import (
	"testing"

	"mdcrdt/crdt"
)

func id(peer, counter uint64) crdt.OpId {
	return crdt.OpId{Peer: crdt.PeerID(peer), Counter: counter}
}

func values(s *crdt.Sequence[string]) string {
	out := ""
	for _, v := range s.Values() {
		out += v
	}
	return out
}

// TestSequenceConcurrentInsert mirrors the teacher's RList convergence tests:
// two peers both insert a single character after the same origin, and every
// delivery order must converge to the same result.
//
//	A - C
//	 `- B
//	 `- X
func TestSequenceConcurrentInsert(t *testing.T) {
	a := id(0, 1)
	c := id(0, 2)
	b := id(1, 1)
	x := id(2, 1)

	build := func(order []crdt.Atom[string]) string {
		s := crdt.NewSequence[string]()
		for _, atom := range order {
			s.Integrate(atom)
		}
		return values(s)
	}

	atomA := crdt.Atom[string]{ID: a, OriginLeft: crdt.Zero, OriginRight: crdt.Zero, Value: "A"}
	atomC := crdt.Atom[string]{ID: c, OriginLeft: a, OriginRight: crdt.Zero, Value: "C"}
	atomB := crdt.Atom[string]{ID: b, OriginLeft: a, OriginRight: c, Value: "B"}
	atomX := crdt.Atom[string]{ID: x, OriginLeft: a, OriginRight: c, Value: "X"}

	// Both B and X were inserted concurrently between A and C; the tie break
	// is OpId order, so the higher id (X, peer 2) sorts before the lower one
	// (B, peer 1) when both claim the same slot.
	want := "AXBC"

	// Every order starts with atomA: both atomB and atomX name it as their
	// origin-left, and Integrate requires an atom's origins to already be
	// present before it is delivered (see Sequence.Integrate's precondition).
	orders := [][]crdt.Atom[string]{
		{atomA, atomC, atomB, atomX},
		{atomA, atomC, atomX, atomB},
		{atomA, atomB, atomX, atomC},
		{atomA, atomX, atomB, atomC},
	}
	for i, order := range orders {
		if got := build(order); got != want {
			t.Errorf("order %d: got %q, want %q", i, got, want)
		}
	}
}

func TestSequenceInsertAtAppendsAndPrepends(t *testing.T) {
	s := crdt.NewSequence[string]()
	s.InsertAt(0, "A", id(0, 1))
	s.InsertAt(1, "C", id(0, 2))
	s.InsertAt(1, "B", id(0, 3))

	if got, want := values(s), "ABC"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestSequenceDeleteTombstonesWithoutRemoving(t *testing.T) {
	s := crdt.NewSequence[string]()
	a := id(0, 1)
	s.InsertAt(0, "A", a)
	s.InsertAt(1, "B", id(0, 2))

	if ok := s.Delete(a, id(0, 3)); !ok {
		t.Fatal("Delete(a) = false, want true")
	}
	if got, want := values(s), "B"; got != want {
		t.Fatalf("Values() = %q, want %q", got, want)
	}
	if got, want := s.Len(), 2; got != want {
		t.Fatalf("Len() = %d, want %d (tombstone retained)", got, want)
	}
	if got, want := s.VisibleLen(), 1; got != want {
		t.Fatalf("VisibleLen() = %d, want %d", got, want)
	}
	atom, ok := s.Get(a)
	if !ok || !atom.Deleted {
		t.Fatalf("Get(a) = %+v, %v; want Deleted=true", atom, ok)
	}

	// Deleting twice is a no-op.
	if ok := s.Delete(a, id(0, 4)); ok {
		t.Fatal("second Delete(a) = true, want false (already deleted)")
	}
	// Deleting an unknown atom is a no-op.
	if ok := s.Delete(id(9, 9), id(0, 4)); ok {
		t.Fatal("Delete(unknown) = true, want false")
	}
}

func TestSequenceReserveSkipsTombstones(t *testing.T) {
	s := crdt.NewSequence[string]()
	a := id(0, 1)
	b := id(0, 2)
	s.InsertAt(0, "A", a)
	s.InsertAt(1, "B", b)
	s.Delete(a, id(0, 3))

	// Only "B" is visible, so inserting at visible offset 1 (the end) should
	// use B as origin-left, not the tombstoned A.
	left, right := s.Reserve(1)
	if left != b {
		t.Errorf("Reserve(1) left = %v, want %v", left, b)
	}
	if right != crdt.Zero {
		t.Errorf("Reserve(1) right = %v, want Zero", right)
	}
}

func TestSequenceUpdateValue(t *testing.T) {
	s := crdt.NewSequence[string]()
	a := id(0, 1)
	s.InsertAt(0, "A", a)
	if ok := s.UpdateValue(a, "Z"); !ok {
		t.Fatal("UpdateValue(a) = false, want true")
	}
	if got, want := values(s), "Z"; got != want {
		t.Fatalf("Values() = %q, want %q", got, want)
	}
	if ok := s.UpdateValue(id(9, 9), "Z"); ok {
		t.Fatal("UpdateValue(unknown) = true, want false")
	}
}

func TestSequenceIntegrateIsIdempotent(t *testing.T) {
	s := crdt.NewSequence[string]()
	a := crdt.Atom[string]{ID: id(0, 1), Value: "A"}
	s.Integrate(a)
	s.Integrate(a)
	s.Integrate(a)
	if got, want := values(s), "A"; got != want {
		t.Fatalf("Values() = %q, want %q", got, want)
	}
	if got, want := s.Len(), 1; got != want {
		t.Fatalf("Len() = %d, want %d (duplicate integrate grew sequence)", got, want)
	}
}

func TestFromOrdered(t *testing.T) {
	items := []struct {
		ID    crdt.OpId
		Value string
	}{
		{ID: id(0, 1), Value: "A"},
		{ID: id(0, 2), Value: "B"},
		{ID: id(0, 3), Value: "C"},
	}
	s := crdt.FromOrdered(items)
	if got, want := values(s), "ABC"; got != want {
		t.Fatalf("Values() = %q, want %q", got, want)
	}
}
