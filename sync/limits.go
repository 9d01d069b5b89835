package sync

// Limits bounds the resources sync.State's pending (causally-buffered) op
// set may consume, per §5's resource policy. An op that would exceed a
// limit is dropped rather than buffered and counted under
// ApplyResult.Rejected["resource_exhausted"]; the rest of the message is
// still applied, and ApplyChanges does not return ErrResourceExhausted.
type Limits struct {
	MaxPendingOps   int
	MaxPendingBytes int
}

// DefaultLimits returns the defaults named in §5: 1 048 576 buffered ops,
// 256 MiB of buffered payload.
func DefaultLimits() Limits {
	return Limits{
		MaxPendingOps:   1048576,
		MaxPendingBytes: 256 * 1024 * 1024,
	}
}

// CompactionPolicy names a tombstone-retention strategy for future
// compaction support. Only PolicyRetainReachable is implemented; the type
// exists so a stricter policy can be added later without an API break —
// per Open Question (b), default to "retain all tombstones reachable from
// any non-deleted mark".
type CompactionPolicy int

const (
	// PolicyRetainReachable never discards a tombstone that any active
	// mark or live origin/anchor reference could still reach. This is the
	// only implemented policy.
	PolicyRetainReachable CompactionPolicy = iota
)
