package doc

import "mdcrdt/crdt"

// Document is the root of the CRDT-backed Markdown model: a frontmatter
// map, an ordered sequence of top-level blocks, and the blocks themselves
// keyed by id. It mints its own OpIds for locally-originated edits and
// tracks a StateVector of everything it has incorporated, local or remote.
//
// Document is not internally synchronized, matching the teacher's
// CausalTree/RList: callers sharing a Document across goroutines serialize
// access themselves.
type Document struct {
	Frontmatter *crdt.Map[string]
	BlockOrder  *crdt.Sequence[crdt.OpId]
	Blocks      map[crdt.OpId]*Block

	StateVector crdt.StateVector
	PeerID      crdt.PeerID

	localCounter uint64
	rawSource    string // verbatim parsed source, for Exact mode's block-unedited fast path
}

// New returns an empty document owned by a freshly minted peer id.
func New() *Document {
	return &Document{
		Frontmatter: crdt.NewMap[string](),
		BlockOrder:  crdt.NewSequence[crdt.OpId](),
		Blocks:      make(map[crdt.OpId]*Block),
		StateVector: crdt.NewStateVector(),
		PeerID:      crdt.NewPeerID(),
	}
}

// NewWithPeer returns an empty document owned by the given peer id, for
// callers restoring a document across a restart (§9 "on document load, the
// peer id is persisted with the snapshot").
func NewWithPeer(peer crdt.PeerID) *Document {
	d := New()
	d.PeerID = peer
	return d
}

// NextOpID mints the next local OpId: the document's counter advanced past
// both its own previous high-water mark and whatever the state vector
// already records for this peer (§4.1 "counter = max(counter,
// state_vector[self]) + 1"), then observed into the state vector.
func (d *Document) NextOpID() crdt.OpId {
	next := d.localCounter
	if seen := d.StateVector.Get(d.PeerID); seen > next {
		next = seen
	}
	next++
	d.localCounter = next
	id := crdt.OpId{Counter: next, Peer: d.PeerID}
	d.StateVector.Observe(id)
	return id
}

// observeRemote advances the state vector for an op minted by another
// peer, or replayed from storage. It never touches localCounter.
func (d *Document) observeRemote(id crdt.OpId) {
	d.StateVector.Observe(id)
}

// BlocksInOrder returns the document's top-level blocks in converged
// sequence order, skipping any block id that is not (or no longer)
// present in Blocks (I5: orphans are permitted only as container children,
// never dangling in block_order).
func (d *Document) BlocksInOrder() []*Block {
	ids := d.BlockOrder.Values()
	out := make([]*Block, 0, len(ids))
	for _, id := range ids {
		if b, ok := d.Blocks[id]; ok {
			out = append(out, b)
		}
	}
	return out
}

// Block returns the block with the given id, if present anywhere in the
// document (top-level or nested inside a container).
func (d *Document) Block(id crdt.OpId) (*Block, bool) {
	b, ok := d.Blocks[id]
	return b, ok
}

// childBlocks returns the nested child blocks of a container block (quote
// or list item) in order, or nil if b is not a container kind.
func (d *Document) childBlocks(b *Block) []*Block {
	var childSeq *crdt.Sequence[crdt.OpId]
	switch b.Kind.Tag {
	case BlockQuote, ListItem, List:
		childSeq = b.Kind.ChildIDs
	default:
		return nil
	}
	if childSeq == nil {
		return nil
	}
	ids := childSeq.Values()
	out := make([]*Block, 0, len(ids))
	for _, id := range ids {
		if c, ok := d.Blocks[id]; ok {
			out = append(out, c)
		}
	}
	return out
}
