package wire

import (
	"encoding/binary"
	"hash/crc32"

	"mdcrdt/crdt"
)

// byteWriter accumulates an encoded message body; varints and length-
// prefixed strings are the only primitives the format needs, mirroring
// the teacher's own preference for straightforward stdlib binary framing
// over a generic serialization library.
type byteWriter struct {
	buf []byte
}

func (w *byteWriter) writeBytes(b []byte) { w.buf = append(w.buf, b...) }

func (w *byteWriter) writeVarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	w.buf = append(w.buf, tmp[:n]...)
}

func (w *byteWriter) writeString(s string) {
	w.writeVarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *byteWriter) writeBool(b bool) {
	if b {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *byteWriter) writeU8(b byte) { w.buf = append(w.buf, b) }

type byteReader struct {
	buf    []byte
	pos    int
	limits DecodeLimits
}

func (r *byteReader) readByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, ErrTruncated
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) readVarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, ErrTruncated
	}
	r.pos += n
	return v, nil
}

func (r *byteReader) readBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, ErrTruncated
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *byteReader) readString() (string, error) {
	n, err := r.readVarint()
	if err != nil {
		return "", err
	}
	if r.limits.MaxStringBytes > 0 && int(n) > r.limits.MaxStringBytes {
		return "", ErrStringTooLarge
	}
	b, err := r.readBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *byteReader) readBool() (bool, error) {
	b, err := r.readByte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// peerTable assigns each distinct PeerID referenced by msg a dense index,
// so every OpId in the body can be encoded as a small varint index instead
// of repeating the full 8-byte peer id.
type peerTable struct {
	order []crdt.PeerID
	index map[crdt.PeerID]int
}

func newPeerTable() *peerTable {
	return &peerTable{index: make(map[crdt.PeerID]int)}
}

func (t *peerTable) indexOf(p crdt.PeerID) int {
	if i, ok := t.index[p]; ok {
		return i
	}
	i := len(t.order)
	t.order = append(t.order, p)
	t.index[p] = i
	return i
}

func collectPeers(msg Message) *peerTable {
	t := newPeerTable()
	for _, p := range msg.FromSV.Peers() {
		t.indexOf(p)
	}
	visit := func(id crdt.OpId) { t.indexOf(id.Peer) }
	for _, op := range msg.Ops {
		visit(op.ID)
		visit(op.BlockID)
		visit(op.ContainerID)
		visit(op.OriginLeft)
		visit(op.OriginRight)
		visit(op.RefID)
		visit(op.DeleteTarget)
		visit(op.MarkStart.ElemID)
		visit(op.MarkEnd.ElemID)
		visit(op.MarkTarget)
		visit(op.MarkAttrTarget)
		visit(op.ParentID)
		for _, p := range op.MarkObserved.Peers() {
			t.indexOf(p)
		}
	}
	return t
}

func (w *byteWriter) writeOpID(t *peerTable, id crdt.OpId) {
	w.writeVarint(uint64(t.indexOf(id.Peer)))
	w.writeVarint(id.Counter)
}

func (r *byteReader) readOpID(peers []crdt.PeerID) (crdt.OpId, error) {
	idx, err := r.readVarint()
	if err != nil {
		return crdt.OpId{}, err
	}
	if int(idx) >= len(peers) {
		return crdt.OpId{}, ErrTruncated
	}
	counter, err := r.readVarint()
	if err != nil {
		return crdt.OpId{}, err
	}
	return crdt.OpId{Counter: counter, Peer: peers[idx]}, nil
}

func (w *byteWriter) writeStateVector(t *peerTable, sv crdt.StateVector) {
	peers := sv.Peers()
	w.writeVarint(uint64(len(peers)))
	for _, p := range peers {
		w.writeVarint(uint64(t.indexOf(p)))
		w.writeVarint(sv.Get(p))
	}
}

func (r *byteReader) readStateVector(peers []crdt.PeerID) (crdt.StateVector, error) {
	sv := crdt.NewStateVector()
	n, err := r.readVarint()
	if err != nil {
		return sv, err
	}
	for i := uint64(0); i < n; i++ {
		idx, err := r.readVarint()
		if err != nil {
			return sv, err
		}
		if int(idx) >= len(peers) {
			return sv, ErrTruncated
		}
		counter, err := r.readVarint()
		if err != nil {
			return sv, err
		}
		sv.Set(peers[idx], counter)
	}
	return sv, nil
}

// Encode serializes msg to the wire format described in §6: magic,
// version, flags, state vector, peer table, ops, then a CRC32 trailer over
// everything preceding it.
func Encode(msg Message) []byte {
	peers := collectPeers(msg)

	body := &byteWriter{}
	body.writeStateVector(peers, msg.FromSV)

	body.writeVarint(uint64(len(peers.order)))
	for _, p := range peers.order {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(p))
		body.writeBytes(buf[:])
	}

	body.writeVarint(uint64(len(msg.Ops)))
	for _, op := range msg.Ops {
		encodeOp(body, peers, op)
	}

	header := &byteWriter{}
	header.writeBytes([]byte(magic))
	header.writeVarint(currentVersion)
	header.writeVarint(0) // flags, reserved

	full := append(append([]byte{}, header.buf...), body.buf...)
	sum := crc32.ChecksumIEEE(full)
	var trailer [4]byte
	binary.LittleEndian.PutUint32(trailer[:], sum)
	return append(full, trailer[:]...)
}

// Decode parses data into a Message, enforcing limits along the way.
// Framing/sanity failures (bad magic, unsupported version, CRC mismatch,
// declared sizes over a limit) reject the whole message; per-op decode
// failures (unknown tag) are reported as ErrUnknownOp the same way.
func Decode(data []byte, limits DecodeLimits) (Message, error) {
	if limits.MaxMessageBytes > 0 && len(data) > limits.MaxMessageBytes {
		return Message{}, ErrMessageTooLarge
	}
	if len(data) < len(magic)+4 {
		return Message{}, ErrTruncated
	}
	trailerStart := len(data) - 4
	want := binary.LittleEndian.Uint32(data[trailerStart:])
	got := crc32.ChecksumIEEE(data[:trailerStart])
	if want != got {
		return Message{}, ErrCorrupt
	}

	r := &byteReader{buf: data[:trailerStart], limits: limits}
	magicBytes, err := r.readBytes(len(magic))
	if err != nil {
		return Message{}, err
	}
	if string(magicBytes) != magic {
		return Message{}, ErrBadMagic
	}
	version, err := r.readVarint()
	if err != nil {
		return Message{}, err
	}
	if version != currentVersion {
		return Message{}, ErrUnsupportedVersion
	}
	if _, err := r.readVarint(); err != nil { // flags
		return Message{}, err
	}

	// State vector references peer-table indices not yet known at this
	// point in the stream; the wire layout places state_vector before
	// peer_table (§6), so decode both passes here: first the raw (index,
	// counter) pairs, resolved to peer ids once the table is read below.
	svCount, err := r.readVarint()
	if err != nil {
		return Message{}, err
	}
	type rawPair struct{ idx, counter uint64 }
	svPairs := make([]rawPair, svCount)
	for i := range svPairs {
		idx, err := r.readVarint()
		if err != nil {
			return Message{}, err
		}
		counter, err := r.readVarint()
		if err != nil {
			return Message{}, err
		}
		svPairs[i] = rawPair{idx, counter}
	}

	peerCount, err := r.readVarint()
	if err != nil {
		return Message{}, err
	}
	if limits.MaxPeerTable > 0 && int(peerCount) > limits.MaxPeerTable {
		return Message{}, ErrPeerTableTooLarge
	}
	peers := make([]crdt.PeerID, peerCount)
	for i := range peers {
		b, err := r.readBytes(8)
		if err != nil {
			return Message{}, err
		}
		peers[i] = crdt.PeerID(binary.LittleEndian.Uint64(b))
	}

	sv := crdt.NewStateVector()
	for _, p := range svPairs {
		if int(p.idx) >= len(peers) {
			return Message{}, ErrTruncated
		}
		sv.Set(peers[p.idx], p.counter)
	}

	opCount, err := r.readVarint()
	if err != nil {
		return Message{}, err
	}
	ops := make([]Op, 0, opCount)
	for i := uint64(0); i < opCount; i++ {
		op, err := decodeOp(r, peers)
		if err != nil {
			return Message{}, err
		}
		ops = append(ops, op)
	}

	return Message{FromSV: sv, Ops: ops}, nil
}

func encodeOp(w *byteWriter, t *peerTable, op Op) {
	w.writeU8(byte(op.Tag))
	w.writeOpID(t, op.ID)
	switch op.Tag {
	case TagInsertAtom:
		w.writeU8(byte(op.Seq))
		w.writeOpID(t, op.BlockID)
		w.writeOpID(t, op.ContainerID)
		w.writeVarint(uint64(op.CellIndex))
		w.writeOpID(t, op.OriginLeft)
		w.writeOpID(t, op.OriginRight)
		w.writeBool(op.IsRefValue)
		if op.IsRefValue {
			w.writeOpID(t, op.RefID)
		} else {
			w.writeString(op.Text)
		}
	case TagDeleteAtom:
		w.writeU8(byte(op.Seq))
		w.writeOpID(t, op.BlockID)
		w.writeOpID(t, op.ContainerID)
		w.writeVarint(uint64(op.CellIndex))
		w.writeOpID(t, op.DeleteTarget)
	case TagRegisterSet:
		w.writeU8(byte(op.RegScope))
		w.writeOpID(t, op.BlockID)
		w.writeOpID(t, op.ContainerID)
		w.writeString(op.RegKey)
		w.writeString(op.RegValue)
	case TagMarkAdd:
		w.writeOpID(t, op.BlockID)
		w.writeString(op.MarkKind)
		w.writeAnchor(t, op.MarkStart)
		w.writeAnchor(t, op.MarkEnd)
		w.writeVarint(uint64(len(op.MarkAttrs)))
		for k, v := range op.MarkAttrs {
			w.writeString(k)
			w.writeString(v)
		}
	case TagMarkRemove:
		w.writeOpID(t, op.BlockID)
		w.writeOpID(t, op.MarkTarget)
		w.writeStateVector(t, op.MarkObserved)
	case TagMarkAttr:
		w.writeOpID(t, op.BlockID)
		w.writeOpID(t, op.MarkAttrTarget)
		w.writeString(op.MarkAttrKey)
		w.writeString(op.MarkAttrValue)
	case TagBlockInsert:
		w.writeBool(op.HasParent)
		if op.HasParent {
			w.writeOpID(t, op.ParentID)
		}
		w.writeOpID(t, op.OriginLeft)
		w.writeOpID(t, op.OriginRight)
		w.writeU8(byte(op.NewKindTag))
		w.writeVarint(uint64(op.NewHeadingLevel))
		w.writeString(op.NewCodeInfo)
		w.writeString(op.NewRawKind)
		w.writeBool(op.NewListOrdered)
		w.writeBool(op.NewListTight)
	case TagBlockDelete:
		w.writeOpID(t, op.DeleteTarget)
	case TagBlockKind:
		w.writeOpID(t, op.BlockID)
		w.writeU8(byte(op.SetKindTag))
		w.writeVarint(uint64(op.SetHeadingLevel))
		w.writeString(op.SetCodeInfo)
		w.writeString(op.SetRawKind)
		w.writeBool(op.SetListOrdered)
		w.writeBool(op.SetListTight)
	case TagFrontmatterSet:
		w.writeString(op.FrontmatterKey)
		w.writeString(op.FrontmatterValue)
	}
}

func (w *byteWriter) writeAnchor(t *peerTable, a crdt.Anchor) {
	w.writeOpID(t, a.ElemID)
	w.writeU8(byte(a.Bias))
}

func (r *byteReader) readAnchor(peers []crdt.PeerID) (crdt.Anchor, error) {
	id, err := r.readOpID(peers)
	if err != nil {
		return crdt.Anchor{}, err
	}
	b, err := r.readByte()
	if err != nil {
		return crdt.Anchor{}, err
	}
	return crdt.Anchor{ElemID: id, Bias: crdt.AnchorBias(b)}, nil
}

func decodeOp(r *byteReader, peers []crdt.PeerID) (Op, error) {
	tagByte, err := r.readByte()
	if err != nil {
		return Op{}, err
	}
	tag := OpTag(tagByte)
	if tag > TagFrontmatterSet {
		return Op{}, ErrUnknownOp
	}
	id, err := r.readOpID(peers)
	if err != nil {
		return Op{}, err
	}
	op := Op{Tag: tag, ID: id}
	switch tag {
	case TagInsertAtom:
		seqByte, err := r.readByte()
		if err != nil {
			return Op{}, err
		}
		op.Seq = SeqTarget(seqByte)
		if op.BlockID, err = r.readOpID(peers); err != nil {
			return Op{}, err
		}
		if op.ContainerID, err = r.readOpID(peers); err != nil {
			return Op{}, err
		}
		cell, err := r.readVarint()
		if err != nil {
			return Op{}, err
		}
		op.CellIndex = int(cell)
		if op.OriginLeft, err = r.readOpID(peers); err != nil {
			return Op{}, err
		}
		if op.OriginRight, err = r.readOpID(peers); err != nil {
			return Op{}, err
		}
		if op.IsRefValue, err = r.readBool(); err != nil {
			return Op{}, err
		}
		if op.IsRefValue {
			if op.RefID, err = r.readOpID(peers); err != nil {
				return Op{}, err
			}
		} else {
			if op.Text, err = r.readString(); err != nil {
				return Op{}, err
			}
		}
	case TagDeleteAtom:
		seqByte, err := r.readByte()
		if err != nil {
			return Op{}, err
		}
		op.Seq = SeqTarget(seqByte)
		if op.BlockID, err = r.readOpID(peers); err != nil {
			return Op{}, err
		}
		if op.ContainerID, err = r.readOpID(peers); err != nil {
			return Op{}, err
		}
		cell, err := r.readVarint()
		if err != nil {
			return Op{}, err
		}
		op.CellIndex = int(cell)
		if op.DeleteTarget, err = r.readOpID(peers); err != nil {
			return Op{}, err
		}
	case TagRegisterSet:
		scopeByte, err := r.readByte()
		if err != nil {
			return Op{}, err
		}
		op.RegScope = RegisterScope(scopeByte)
		if op.BlockID, err = r.readOpID(peers); err != nil {
			return Op{}, err
		}
		if op.ContainerID, err = r.readOpID(peers); err != nil {
			return Op{}, err
		}
		if op.RegKey, err = r.readString(); err != nil {
			return Op{}, err
		}
		if op.RegValue, err = r.readString(); err != nil {
			return Op{}, err
		}
	case TagMarkAdd:
		if op.BlockID, err = r.readOpID(peers); err != nil {
			return Op{}, err
		}
		if op.MarkKind, err = r.readString(); err != nil {
			return Op{}, err
		}
		if op.MarkStart, err = r.readAnchor(peers); err != nil {
			return Op{}, err
		}
		if op.MarkEnd, err = r.readAnchor(peers); err != nil {
			return Op{}, err
		}
		n, err := r.readVarint()
		if err != nil {
			return Op{}, err
		}
		op.MarkAttrs = make(map[string]string, n)
		for i := uint64(0); i < n; i++ {
			k, err := r.readString()
			if err != nil {
				return Op{}, err
			}
			v, err := r.readString()
			if err != nil {
				return Op{}, err
			}
			op.MarkAttrs[k] = v
		}
	case TagMarkRemove:
		if op.BlockID, err = r.readOpID(peers); err != nil {
			return Op{}, err
		}
		if op.MarkTarget, err = r.readOpID(peers); err != nil {
			return Op{}, err
		}
		if op.MarkObserved, err = r.readStateVector(peers); err != nil {
			return Op{}, err
		}
	case TagMarkAttr:
		if op.BlockID, err = r.readOpID(peers); err != nil {
			return Op{}, err
		}
		if op.MarkAttrTarget, err = r.readOpID(peers); err != nil {
			return Op{}, err
		}
		if op.MarkAttrKey, err = r.readString(); err != nil {
			return Op{}, err
		}
		if op.MarkAttrValue, err = r.readString(); err != nil {
			return Op{}, err
		}
	case TagBlockInsert:
		if op.HasParent, err = r.readBool(); err != nil {
			return Op{}, err
		}
		if op.HasParent {
			if op.ParentID, err = r.readOpID(peers); err != nil {
				return Op{}, err
			}
		}
		if op.OriginLeft, err = r.readOpID(peers); err != nil {
			return Op{}, err
		}
		if op.OriginRight, err = r.readOpID(peers); err != nil {
			return Op{}, err
		}
		kindByte, err := r.readByte()
		if err != nil {
			return Op{}, err
		}
		op.NewKindTag = BlockKindTag(kindByte)
		level, err := r.readVarint()
		if err != nil {
			return Op{}, err
		}
		op.NewHeadingLevel = int(level)
		if op.NewCodeInfo, err = r.readString(); err != nil {
			return Op{}, err
		}
		if op.NewRawKind, err = r.readString(); err != nil {
			return Op{}, err
		}
		if op.NewListOrdered, err = r.readBool(); err != nil {
			return Op{}, err
		}
		if op.NewListTight, err = r.readBool(); err != nil {
			return Op{}, err
		}
	case TagBlockDelete:
		if op.DeleteTarget, err = r.readOpID(peers); err != nil {
			return Op{}, err
		}
	case TagBlockKind:
		if op.BlockID, err = r.readOpID(peers); err != nil {
			return Op{}, err
		}
		kindByte, err := r.readByte()
		if err != nil {
			return Op{}, err
		}
		op.SetKindTag = BlockKindTag(kindByte)
		level, err := r.readVarint()
		if err != nil {
			return Op{}, err
		}
		op.SetHeadingLevel = int(level)
		if op.SetCodeInfo, err = r.readString(); err != nil {
			return Op{}, err
		}
		if op.SetRawKind, err = r.readString(); err != nil {
			return Op{}, err
		}
		if op.SetListOrdered, err = r.readBool(); err != nil {
			return Op{}, err
		}
		if op.SetListTight, err = r.readBool(); err != nil {
			return Op{}, err
		}
	case TagFrontmatterSet:
		if op.FrontmatterKey, err = r.readString(); err != nil {
			return Op{}, err
		}
		if op.FrontmatterValue, err = r.readString(); err != nil {
			return Op{}, err
		}
	}
	return op, nil
}
