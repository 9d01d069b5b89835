package crdt

// AnchorBias selects which side of a sequence position a mark endpoint
// sticks to as concurrent inserts land on top of it: Before binds to the
// atom at the position, After binds to the one following it. This is what
// keeps a bold span from swallowing or shedding text a peer concurrently
// typed at its boundary.
type AnchorBias int

const (
	// AnchorBefore resolves to the referenced atom's own position.
	AnchorBefore AnchorBias = iota
	// AnchorAfter resolves to the position immediately following the
	// referenced atom.
	AnchorAfter
)

// Anchor is a mark endpoint: a reference to a sequence atom plus a bias
// describing which side of it the endpoint sits on. ElemID may be Zero to
// mean the start (bias Before) or end (bias After) of the sequence.
type Anchor struct {
	ElemID OpId
	Bias   AnchorBias
}

// MarkKind names the formatting attribute a mark interval applies, e.g.
// "bold", "italic", "link". Kinds are opaque strings so the document layer
// can introduce new ones without changes here.
type MarkKind string

// MarkInterval is one causal add of a formatting attribute over the
// half-open anchor range [Start, End). Attrs carries the kind's payload
// (e.g. a link's href), and is itself subject to LWW when a kind allows
// attribute edits after creation.
type MarkInterval struct {
	ID    OpId
	Kind  MarkKind
	Start Anchor
	End   Anchor
	Attrs map[string]string
}

// markRemoval is a causal "remove mark" op: it wins over interval iff it
// observed (had already incorporated) the interval's own op at the time it
// was issued. A remove issued concurrently with the add — i.e. before the
// remover had seen it — never wins, which is the add-wins rule (§4.4).
type markRemoval struct {
	ID       OpId
	Observed StateVector
}

// MarkSet is an add-wins causal CRDT over formatting mark intervals. An
// interval is active unless some remove op that had already observed its
// add was applied against it; concurrent removes that never saw the add
// lose, so re-adding a mark a peer is concurrently removing always wins.
type MarkSet struct {
	intervals map[OpId]MarkInterval
	removes   map[OpId][]markRemoval // interval id -> removes targeting it
}

// NewMarkSet returns an empty mark set.
func NewMarkSet() *MarkSet {
	return &MarkSet{
		intervals: make(map[OpId]MarkInterval),
		removes:   make(map[OpId][]markRemoval),
	}
}

// SetMark adds a mark interval. Integration is idempotent on ID.
func (ms *MarkSet) SetMark(interval MarkInterval) {
	if _, exists := ms.intervals[interval.ID]; exists {
		return
	}
	ms.intervals[interval.ID] = interval
}

// RemoveMark records a removal of the interval identified by target, issued
// as op id, with observed the remover's state vector at the time it issued
// the removal. The removal is permanent once applied, but only suppresses
// the interval if it observed the interval's add (§4.4's add-wins rule).
func (ms *MarkSet) RemoveMark(target OpId, id OpId, observed StateVector) {
	ms.removes[target] = append(ms.removes[target], markRemoval{ID: id, Observed: observed})
}

// IsActive reports whether the interval with the given id is currently in
// effect: it exists, and no removal targeting it observed its add.
func (ms *MarkSet) IsActive(id OpId) bool {
	interval, ok := ms.intervals[id]
	if !ok {
		return false
	}
	for _, rm := range ms.removes[id] {
		if rm.Observed.Get(interval.ID.Peer) >= interval.ID.Counter {
			return false
		}
	}
	return true
}

// Interval returns the mark interval with the given id, regardless of
// whether it is currently active.
func (ms *MarkSet) Interval(id OpId) (MarkInterval, bool) {
	iv, ok := ms.intervals[id]
	return iv, ok
}

// ActiveIntervals returns every currently-active mark interval, in no
// particular order.
func (ms *MarkSet) ActiveIntervals() []MarkInterval {
	out := make([]MarkInterval, 0, len(ms.intervals))
	for id, iv := range ms.intervals {
		if ms.IsActive(id) {
			out = append(out, iv)
		}
	}
	return out
}

// ActiveIntervalsOfKind returns every currently-active interval of the given
// kind, in no particular order.
func (ms *MarkSet) ActiveIntervalsOfKind(kind MarkKind) []MarkInterval {
	out := make([]MarkInterval, 0)
	for id, iv := range ms.intervals {
		if iv.Kind == kind && ms.IsActive(id) {
			out = append(out, iv)
		}
	}
	return out
}

// ResolveAnchor resolves an anchor to a concrete visible-offset position
// within seq: Before resolves to the referenced atom's own visible index
// (or 0 if the atom is Zero/tombstoned-to-start), After resolves to the
// position immediately following it, clamped to the sequence's current
// visible length. This is what lets a mark's boundary track concurrent
// insertions at the exact atom it was anchored to, rather than a frozen
// numeric offset.
func ResolveAnchor[T any](seq *Sequence[T], a Anchor) int {
	if a.ElemID.IsZero() {
		if a.Bias == AnchorBefore {
			return 0
		}
		return seq.VisibleLen()
	}
	base := visiblePositionOf(seq, a.ElemID)
	if a.Bias == AnchorBefore {
		if atom, ok := seq.Get(a.ElemID); ok && !atom.Deleted {
			return base - 1
		}
		return base
	}
	pos := base
	if pos > seq.VisibleLen() {
		pos = seq.VisibleLen()
	}
	return pos
}

// visiblePositionOf returns how many non-tombstoned atoms precede (and
// include the visible slot of) id: the count of visible atoms at or before
// id's weave position. A tombstoned id resolves to the count of visible
// atoms strictly before it, since it occupies no visible slot of its own.
func visiblePositionOf[T any](seq *Sequence[T], id OpId) int {
	weaveIdx := seq.indexOf(id)
	if weaveIdx < 0 {
		return 0
	}
	pos := 0
	for i, a := range seq.Atoms() {
		if i >= weaveIdx {
			if i == weaveIdx && !a.Deleted {
				pos++
			}
			break
		}
		if !a.Deleted {
			pos++
		}
	}
	return pos
}
