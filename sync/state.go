// Package sync wraps a *doc.Document with causal change encoding/decoding:
// delta messages since a state vector, causal buffering of out-of-order
// deliveries, resource limits, and semantic conflict reporting (§4.8).
package sync

import (
	"sort"

	"mdcrdt/crdt"
	"mdcrdt/doc"
	"mdcrdt/wire"
)

// ConflictKind names a semantic conflict class. detectConflicts reports
// ConflictBlockKind and ConflictDeleteEdit; ConflictConcurrentEdit is
// declared but never reported.
type ConflictKind int

const (
	ConflictConcurrentEdit ConflictKind = iota
	ConflictBlockKind
	ConflictDeleteEdit
)

// Conflict is one detected, already-resolved semantic conflict, reported
// for observability — the CRDT merge itself is never blocked by one.
type Conflict struct {
	Kind    ConflictKind
	BlockID crdt.OpId
	Detail  string
}

// ApplyResult reports the outcome of ApplyChanges: how many ops were
// applied immediately, how many were buffered awaiting a dependency, how
// many were rejected (by kind), and any semantic conflicts noticed among
// the blocks this call touched.
type ApplyResult struct {
	Applied   int
	Buffered  int
	Rejected  map[string]int
	Conflicts []Conflict
}

func newApplyResult() ApplyResult {
	return ApplyResult{Rejected: make(map[string]int)}
}

type loggedOp struct {
	id crdt.OpId
	op doc.EditOp
}

type pendingEntry struct {
	op   doc.EditOp
	size int
}

// State is the sync-layer owner of a Document: it keeps the append-only
// op log needed to re-derive deltas since an arbitrary state vector, a
// causal buffer for ops whose dependencies haven't arrived, and an outbox
// of locally produced ops not yet confirmed sent to any peer.
//
// State is not internally synchronized, the same contract as Document and
// the crdt package beneath it.
type State struct {
	Doc    *doc.Document
	Limits Limits

	log     []loggedOp
	pending map[crdt.OpId][]pendingEntry
	pendingCount int
	pendingBytes int

	outbox []doc.EditOp
	sent   map[crdt.OpId]bool
}

// New wraps d with default resource limits.
func New(d *doc.Document) *State {
	return &State{
		Doc:     d,
		Limits:  DefaultLimits(),
		pending: make(map[crdt.OpId][]pendingEntry),
		sent:    make(map[crdt.OpId]bool),
	}
}

// ApplyOp records an already-applied local op (produced by one of
// Document's edit methods, which apply it immediately) into the log and
// outbox, so it is included in future EncodeChangesSince calls and
// tracked until MarkSent/MarkConfirmed.
func (s *State) ApplyOp(op doc.EditOp) {
	s.log = append(s.log, loggedOp{id: op.ID, op: op})
	s.outbox = append(s.outbox, op)
}

// Outbox returns the locally produced ops not yet marked sent.
func (s *State) Outbox() []doc.EditOp {
	return s.outbox
}

// MarkSent removes exactly the given op ids from the outbox, moving them
// into the "sent, awaiting confirmation" set.
func (s *State) MarkSent(ids []crdt.OpId) {
	sentNow := make(map[crdt.OpId]bool, len(ids))
	for _, id := range ids {
		sentNow[id] = true
		s.sent[id] = true
	}
	remaining := s.outbox[:0]
	for _, op := range s.outbox {
		if !sentNow[op.ID] {
			remaining = append(remaining, op)
		}
	}
	s.outbox = remaining
}

// MarkConfirmed drops ids from the sent-awaiting-confirmation set once a
// peer has acknowledged them.
func (s *State) MarkConfirmed(ids []crdt.OpId) {
	for _, id := range ids {
		delete(s.sent, id)
	}
}

// RestorePending re-queues ops previously marked sent but never confirmed
// (e.g. after a crash) back into the outbox, for retransmission.
func (s *State) RestorePending() {
	for _, entry := range s.log {
		if s.sent[entry.id] {
			s.outbox = append(s.outbox, entry.op)
		}
	}
}

// PendingCount returns the number of ops currently buffered awaiting a
// causal dependency.
func (s *State) PendingCount() int {
	return s.pendingCount
}

// EncodeChangesSince builds a change message carrying every logged op not
// covered by sv, sorted by (peer, counter) ascending for compactness
// (§4.8 "Encoding a delta since SV").
func (s *State) EncodeChangesSince(sv crdt.StateVector) wire.Message {
	var ops []loggedOp
	for _, entry := range s.log {
		if !sv.HasSeen(entry.id) {
			ops = append(ops, entry)
		}
	}
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].id.Peer != ops[j].id.Peer {
			return ops[i].id.Peer < ops[j].id.Peer
		}
		return ops[i].id.Counter < ops[j].id.Counter
	})
	wireOps := make([]wire.Op, len(ops))
	for i, entry := range ops {
		wireOps[i] = opToWire(entry.op)
	}
	return wire.Message{FromSV: s.Doc.StateVector.Clone(), Ops: wireOps}
}

// ApplyChanges applies every op in msg in arrival order: already-seen ops
// are discarded (idempotence), ops with an unmet dependency or a gap in
// their peer's counter are buffered, and the rest are applied and then
// used to drain any now-satisfied buffered ops (§4.8 "Applying a change").
func (s *State) ApplyChanges(msg wire.Message) ApplyResult {
	result := newApplyResult()
	touched := make(map[crdt.OpId]bool)
	var kindWrites []crdt.OpId
	var deletes []crdt.OpId

	for _, w := range msg.Ops {
		op := wireToOp(w)
		s.applyOrBuffer(op, &result, touched, &kindWrites, &deletes)
	}
	s.detectConflicts(touched, kindWrites, deletes, &result)
	return result
}

func (s *State) applyOrBuffer(op doc.EditOp, result *ApplyResult, touched map[crdt.OpId]bool, kindWrites, deletes *[]crdt.OpId) {
	if s.Doc.StateVector.HasSeen(op.ID) {
		return
	}
	if dep, missing := s.counterGap(op.ID); missing {
		s.buffer(dep, op, result)
		return
	}
	if dep, missing := s.Doc.MissingDependency(op); missing {
		s.buffer(dep, op, result)
		return
	}
	if err := s.Doc.RawApplyOp(op, false); err != nil {
		result.Rejected["apply_error"]++
		return
	}
	result.Applied++
	s.log = append(s.log, loggedOp{id: op.ID, op: op})
	s.noteTouched(op, touched, kindWrites, deletes)
	s.drain(op.ID, result, touched, kindWrites, deletes)
}

// counterGap reports whether id has a gap in its own peer's counter
// sequence relative to what this replica has already incorporated (I2):
// id.Counter must be exactly one past the peer's current high-water mark.
// The gap is keyed by the missing predecessor id so it drains once that
// predecessor (or whatever delivers it transitively) arrives.
func (s *State) counterGap(id crdt.OpId) (crdt.OpId, bool) {
	seen := s.Doc.StateVector.Get(id.Peer)
	if id.Counter == seen+1 {
		return crdt.OpId{}, false
	}
	if id.Counter <= seen {
		return crdt.OpId{}, false // already covered, handled by HasSeen above
	}
	return crdt.OpId{Counter: id.Counter - 1, Peer: id.Peer}, true
}

func (s *State) buffer(dep crdt.OpId, op doc.EditOp, result *ApplyResult) {
	size := estimateSize(op)
	if s.pendingCount+1 > s.Limits.MaxPendingOps || s.pendingBytes+size > s.Limits.MaxPendingBytes {
		result.Rejected["resource_exhausted"]++
		return
	}
	s.pending[dep] = append(s.pending[dep], pendingEntry{op: op, size: size})
	s.pendingCount++
	s.pendingBytes += size
	result.Buffered++
}

// drain recursively applies any buffered op whose dependency was id,
// repeating for whatever dependency each drained op itself satisfies.
func (s *State) drain(id crdt.OpId, result *ApplyResult, touched map[crdt.OpId]bool, kindWrites, deletes *[]crdt.OpId) {
	entries, ok := s.pending[id]
	if !ok {
		return
	}
	delete(s.pending, id)
	for _, entry := range entries {
		s.pendingCount--
		s.pendingBytes -= entry.size
		result.Buffered--
		s.applyOrBuffer(entry.op, result, touched, kindWrites, deletes)
	}
}

func (s *State) noteTouched(op doc.EditOp, touched map[crdt.OpId]bool, kindWrites, deletes *[]crdt.OpId) {
	switch op.Tag {
	case doc.OpInsertAtom, doc.OpDeleteAtom, doc.OpMarkAdd, doc.OpMarkRemove, doc.OpMarkAttr, doc.OpRegisterSet:
		if !op.BlockID.IsZero() {
			touched[op.BlockID] = true
		}
	case doc.OpBlockKind:
		touched[op.BlockID] = true
		*kindWrites = append(*kindWrites, op.BlockID)
	case doc.OpBlockDelete:
		*deletes = append(*deletes, op.DeleteTarget)
	}
}

// detectConflicts scans the blocks touched by this ApplyChanges call for
// semantic conflicts. This is a best-effort batch-local detector, not a
// full causal-concurrency oracle: it flags a block whenever more than one
// distinguishable kind-write (ConflictBlockKind) or a delete alongside any
// other edit (ConflictDeleteEdit) landed in the same call. Concurrent text
// edits to the same range are not detected; ConflictConcurrentEdit is
// never reported.
func (s *State) detectConflicts(touched map[crdt.OpId]bool, kindWrites, deletes []crdt.OpId, result *ApplyResult) {
	kindCount := make(map[crdt.OpId]int)
	for _, id := range kindWrites {
		kindCount[id]++
	}
	for id, n := range kindCount {
		if n > 1 {
			result.Conflicts = append(result.Conflicts, Conflict{
				Kind: ConflictBlockKind, BlockID: id,
				Detail: "concurrent block-kind writes resolved by LWW",
			})
		}
	}
	deleted := make(map[crdt.OpId]bool, len(deletes))
	for _, id := range deletes {
		deleted[id] = true
	}
	for id := range touched {
		if deleted[id] {
			result.Conflicts = append(result.Conflicts, Conflict{
				Kind: ConflictDeleteEdit, BlockID: id,
				Detail: "block deleted concurrently with an edit; delete wins, edit atoms tombstoned",
			})
		}
	}
}

// estimateSize approximates an op's serialized footprint, for the pending-
// buffer byte budget (§5).
func estimateSize(op doc.EditOp) int {
	base := 64
	base += len(op.Text) + len(op.RegKey) + len(op.RegValue)
	base += len(op.FrontmatterKey) + len(op.FrontmatterValue)
	base += len(op.MarkAttrKey) + len(op.MarkAttrValue)
	for k, v := range op.MarkAttrs {
		base += len(k) + len(v)
	}
	return base
}
