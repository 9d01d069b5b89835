// Package wire implements the change-message codec: the binary framing
// that carries a batch of atomic ops plus the sender's state vector
// between peers (§6's wire format).
package wire

import "mdcrdt/crdt"

// DecodeLimits bounds the resources a single decode call may consume,
// rejecting oversized or malformed input before it reaches the document
// (§4.8's "decoder rejects messages whose declared length exceeds a
// configurable limit").
type DecodeLimits struct {
	MaxMessageBytes int
	MaxPeerTable    int
	MaxStringBytes  int
}

// DefaultDecodeLimits returns the limits named in §4.8: 64 MiB messages,
// 65 535 peer-table entries, 16 MiB strings.
func DefaultDecodeLimits() DecodeLimits {
	return DecodeLimits{
		MaxMessageBytes: 64 * 1024 * 1024,
		MaxPeerTable:    65535,
		MaxStringBytes:  16 * 1024 * 1024,
	}
}

const (
	magic          = "MCRD"
	currentVersion = 1
)

// Message is a change message: the sender's state vector at encode time,
// plus every op the receiver hasn't seen according to it.
type Message struct {
	FromSV crdt.StateVector
	Ops    []Op
}

// OpTag is the wire tag byte selecting an atomic_op variant (§6).
type OpTag uint8

const (
	TagInsertAtom OpTag = iota
	TagDeleteAtom
	TagRegisterSet
	TagMarkAdd
	TagMarkRemove
	TagMarkAttr
	TagBlockInsert
	TagBlockDelete
	TagBlockKind
	TagFrontmatterSet
)

// SeqTarget names which nested sequence an InsertAtom/DeleteAtom op
// addresses, mirroring doc.SeqTarget without importing the doc package —
// wire stays a leaf codec with no dependency on the document model it
// carries.
type SeqTarget uint8

const (
	SeqBlockText SeqTarget = iota
	SeqBlockOrder
	SeqContainerChildren
	SeqTableRowOrder
	SeqTableCellText
)

// RegisterScope names which LWW map a RegisterSet op writes to.
type RegisterScope uint8

const (
	RegBlockAttr RegisterScope = iota
	RegTableHeader
	RegTableAlignments
)

// BlockKindTag mirrors doc.BlockKindTag's numeric values; kept as a
// separate type so wire never imports doc.
type BlockKindTag uint8

// Op is the wire-level atomic operation: every field any tag might need,
// with only the ones relevant to Tag populated — the same tagged-struct
// shape as doc.EditOp, translated to and from it by the sync package.
type Op struct {
	Tag OpTag
	ID  crdt.OpId

	Seq         SeqTarget
	BlockID     crdt.OpId
	ContainerID crdt.OpId
	CellIndex   int

	OriginLeft  crdt.OpId
	OriginRight crdt.OpId
	IsRefValue  bool // true: Payload is a RefID; false: Payload is grapheme Text
	Text        string
	RefID       crdt.OpId

	DeleteTarget crdt.OpId

	RegScope RegisterScope
	RegKey   string
	RegValue string

	MarkKind  string
	MarkStart crdt.Anchor
	MarkEnd   crdt.Anchor
	MarkAttrs map[string]string

	MarkTarget   crdt.OpId
	MarkObserved crdt.StateVector

	MarkAttrTarget crdt.OpId
	MarkAttrKey    string
	MarkAttrValue  string

	NewKindTag      BlockKindTag
	NewHeadingLevel int
	NewCodeInfo     string
	NewRawKind      string
	NewListOrdered  bool
	NewListTight    bool
	ParentID        crdt.OpId
	HasParent       bool

	SetKindTag      BlockKindTag
	SetHeadingLevel int
	SetCodeInfo     string
	SetRawKind      string
	SetListOrdered  bool
	SetListTight    bool

	FrontmatterKey   string
	FrontmatterValue string
}
