package call

import (
	"github.com/1ureka/peercall/internal/protocol"
	"github.com/1ureka/peercall/internal/util"
)

// CandidatePolicy decides what happens to a candidate delivered twice.
type CandidatePolicy int

const (
	// DropDuplicates discards a candidate whose fingerprint was already seen
	// in this session, whether it is still buffered or was already consumed.
	DropDuplicates CandidatePolicy = iota

	// KeepDuplicates passes every delivery through and leaves deduplication
	// to the transport.
	KeepDuplicates
)

// CandidateBuffer holds remote candidates that arrive before the remote
// description is applied. It is flushed exactly once, in arrival order;
// afterwards it refuses new entries so that callers consume them directly.
//
// CandidateBuffer is not safe for concurrent use; it belongs to one session.
type CandidateBuffer struct {
	policy  CandidatePolicy
	pending []protocol.ICECandidate
	seen    map[uint64]struct{}
	flushed bool
}

// NewCandidateBuffer creates an empty, unflushed buffer.
func NewCandidateBuffer(policy CandidatePolicy) *CandidateBuffer {
	return &CandidateBuffer{
		policy: policy,
		seen:   make(map[uint64]struct{}),
	}
}

// Duplicate reports whether c was already delivered and must be dropped
// under the duplicate policy. It records nothing; see Remember.
func (b *CandidateBuffer) Duplicate(c protocol.ICECandidate) bool {
	if b.policy == KeepDuplicates {
		return false
	}
	_, dup := b.seen[util.CandidateFingerprint(c)]
	return dup
}

// Remember records c as delivered once it has been buffered or consumed.
func (b *CandidateBuffer) Remember(c protocol.ICECandidate) {
	if b.policy == KeepDuplicates {
		return
	}
	b.seen[util.CandidateFingerprint(c)] = struct{}{}
}

// Forget drops the record of c so that a retransmission is processed again.
func (b *CandidateBuffer) Forget(c protocol.ICECandidate) {
	delete(b.seen, util.CandidateFingerprint(c))
}

// Enqueue appends c. It returns false once the buffer has been flushed, in
// which case the caller must consume c itself.
func (b *CandidateBuffer) Enqueue(c protocol.ICECandidate) bool {
	if b.flushed {
		return false
	}
	b.pending = append(b.pending, c)
	return true
}

// Flush hands every buffered candidate to consume in arrival order and
// returns how many were drained. Only the first call has any effect.
func (b *CandidateBuffer) Flush(consume func(protocol.ICECandidate)) int {
	if b.flushed {
		return 0
	}
	b.flushed = true

	pending := b.pending
	b.pending = nil
	for _, c := range pending {
		consume(c)
	}
	return len(pending)
}

// Flushed reports whether Flush has run.
func (b *CandidateBuffer) Flushed() bool {
	return b.flushed
}

// Len returns the number of candidates waiting for the flush.
func (b *CandidateBuffer) Len() int {
	return len(b.pending)
}

// Clear drops any pending candidates without consuming them.
func (b *CandidateBuffer) Clear() {
	b.pending = nil
}
