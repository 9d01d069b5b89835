package crdt

// Register is a last-writer-wins cell: concurrent writes converge on the
// one with the larger OpId, exactly the tie-break Sequence uses for
// concurrent insertions (§4.3).
type Register[T any] struct {
	id      OpId
	value   T
	set     bool
	deleted bool
}

// NewRegister returns an unset register.
func NewRegister[T any]() *Register[T] {
	return &Register[T]{}
}

// NewRegisterWith returns a register already holding value, written by id.
func NewRegisterWith[T any](id OpId, value T) *Register[T] {
	return &Register[T]{id: id, value: value, set: true}
}

// Set writes value under id if id wins the LWW tie-break against the
// register's current writer, i.e. id.Compare(current) > 0. It reports
// whether the write took effect.
func (r *Register[T]) Set(id OpId, value T) bool {
	if r.set && id.Compare(r.id) <= 0 {
		return false
	}
	r.id = id
	r.value = value
	r.set = true
	r.deleted = false
	return true
}

// Tombstone marks the register deleted under id if id wins the same LWW
// tie-break Set uses against the register's current writer. The writer id
// is retained (not discarded) so a later-arriving write with a smaller id
// still loses, exactly as it would against any other write.
func (r *Register[T]) Tombstone(id OpId) bool {
	if r.set && id.Compare(r.id) <= 0 {
		return false
	}
	var zero T
	r.id = id
	r.value = zero
	r.set = true
	r.deleted = true
	return true
}

// Get returns the current value and whether the register is both written
// and not tombstoned.
func (r *Register[T]) Get() (T, bool) {
	if r.deleted {
		var zero T
		return zero, false
	}
	return r.value, r.set
}

// WriterID returns the OpId of the write currently in effect.
func (r *Register[T]) WriterID() OpId {
	return r.id
}

// Map is a last-writer-wins map: each key is an independent Register, so
// concurrent writes to different keys never interact and concurrent writes
// to the same key resolve by OpId.
type Map[T any] struct {
	entries map[string]*Register[T]
}

// NewMap returns an empty map.
func NewMap[T any]() *Map[T] {
	return &Map[T]{entries: make(map[string]*Register[T])}
}

// Set writes value under key if id wins that key's LWW tie-break. It
// reports whether the write took effect.
func (m *Map[T]) Set(key string, id OpId, value T) bool {
	reg, ok := m.entries[key]
	if !ok {
		reg = NewRegister[T]()
		m.entries[key] = reg
	}
	return reg.Set(id, value)
}

// Get returns the value at key and whether it is currently present (written
// and not tombstoned).
func (m *Map[T]) Get(key string) (T, bool) {
	reg, ok := m.entries[key]
	if !ok {
		var zero T
		return zero, false
	}
	return reg.Get()
}

// Delete tombstones key via an LWW write, the same register Set uses, if id
// wins the tie-break against the key's current writer. The register is kept
// (not removed) so a later-arriving concurrent Set with a smaller OpId still
// loses to the tombstone, matching the semantics of every other write to
// this map (§4.3).
func (m *Map[T]) Delete(key string, id OpId) bool {
	reg, ok := m.entries[key]
	if !ok {
		reg = NewRegister[T]()
		m.entries[key] = reg
	}
	return reg.Tombstone(id)
}

// Keys returns the keys currently present (written and not tombstoned), in
// no particular order.
func (m *Map[T]) Keys() []string {
	keys := make([]string, 0, len(m.entries))
	for k, reg := range m.entries {
		if _, ok := reg.Get(); ok {
			keys = append(keys, k)
		}
	}
	return keys
}

// Len returns the number of keys currently present (written and not
// tombstoned).
func (m *Map[T]) Len() int {
	n := 0
	for _, reg := range m.entries {
		if _, ok := reg.Get(); ok {
			n++
		}
	}
	return n
}
