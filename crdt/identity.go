// Package crdt provides the primitives used to build replicated data types:
// operation identity and causality (OpId, StateVector), an ordered sequence
// CRDT (Sequence, an RGA), last-writer-wins registers and maps, and an
// anchor-bounded mark-set CRDT for rich-text formatting.
//
// Every type in this package is a plain, synchronous, single-threaded data
// structure: callers that share a value across goroutines must serialize
// access themselves, the same contract the teacher's CausalTree/RList make.
package crdt

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// PeerID identifies a replica. It is a random 64-bit value drawn once per
// document and persisted with it, never reused across documents.
type PeerID uint64

// OpId is the identity of a single atomic operation: a per-peer counter
// paired with the peer that minted it. Ordering is lexicographic on
// (Counter, Peer), which is also the tie-break rule used throughout the
// sequence and mark CRDTs.
type OpId struct {
	Counter uint64
	Peer    PeerID
}

// Zero is the sentinel OpId used to mean "no atom" (RGA's Begin/End, or an
// absent cause). No real atom is ever minted with Zero, since counters start
// at 1.
var Zero = OpId{}

// IsZero reports whether id is the sentinel zero value.
func (id OpId) IsZero() bool {
	return id == Zero
}

// Compare returns -1, 0, or +1 as id is less than, equal to, or greater than
// other, ordering lexicographically by (Counter, Peer).
func (id OpId) Compare(other OpId) int {
	if id.Counter != other.Counter {
		if id.Counter < other.Counter {
			return -1
		}
		return +1
	}
	if id.Peer != other.Peer {
		if id.Peer < other.Peer {
			return -1
		}
		return +1
	}
	return 0
}

// Less reports whether id sorts before other.
func (id OpId) Less(other OpId) bool {
	return id.Compare(other) < 0
}

func (id OpId) String() string {
	return fmt.Sprintf("P%d@%d", id.Peer, id.Counter)
}

// newPeerID is a package-level indirection over peer-id generation, stubbed
// out in tests for determinism the same way the teacher stubs uuidv1 in
// mocks_test.go.
var newPeerID = randomPeerID

// NewPeerID draws a fresh random 64-bit peer id, as required on document
// creation (§9 "Global counters").
func NewPeerID() PeerID {
	return newPeerID()
}

func randomPeerID() PeerID {
	id := uuid.New()
	return PeerID(binary.BigEndian.Uint64(id[:8]))
}

// StateVector maps each peer to the highest contiguous counter seen from it.
// It is the replica's compact summary of "what I've seen so far".
type StateVector struct {
	peers map[PeerID]uint64
}

// NewStateVector returns an empty state vector.
func NewStateVector() StateVector {
	return StateVector{peers: make(map[PeerID]uint64)}
}

// Get returns the highest counter seen for peer, or 0 if none.
func (sv StateVector) Get(peer PeerID) uint64 {
	if sv.peers == nil {
		return 0
	}
	return sv.peers[peer]
}

// Set records counter as the highest seen for peer, provided it is an
// increase; StateVector.Set never moves a peer's watermark backwards.
func (sv *StateVector) Set(peer PeerID, counter uint64) {
	if sv.peers == nil {
		sv.peers = make(map[PeerID]uint64)
	}
	if counter > sv.peers[peer] {
		sv.peers[peer] = counter
	}
}

// Observe advances the state vector to account for id, i.e. Set(id.Peer,
// id.Counter) but only if id.Counter is the watermark's successor or beyond;
// a gap must be closed by the caller via buffering, not silently skipped.
func (sv *StateVector) Observe(id OpId) {
	sv.Set(id.Peer, id.Counter)
}

// HasSeen reports whether id has already been incorporated into sv, i.e.
// sv[id.Peer] >= id.Counter.
func (sv StateVector) HasSeen(id OpId) bool {
	return sv.Get(id.Peer) >= id.Counter
}

// Merge updates sv in place to the element-wise maximum of sv and other.
func (sv *StateVector) Merge(other StateVector) {
	for peer, counter := range other.peers {
		sv.Set(peer, counter)
	}
}

// Clone returns an independent copy of sv.
func (sv StateVector) Clone() StateVector {
	out := NewStateVector()
	for peer, counter := range sv.peers {
		out.peers[peer] = counter
	}
	return out
}

// Peers returns the set of peers with a non-zero watermark, in no particular
// order. Callers that need determinism should sort the result.
func (sv StateVector) Peers() []PeerID {
	peers := make([]PeerID, 0, len(sv.peers))
	for peer := range sv.peers {
		peers = append(peers, peer)
	}
	return peers
}

// IsEmpty reports whether the vector has seen no operations at all.
func (sv StateVector) IsEmpty() bool {
	return len(sv.peers) == 0
}
