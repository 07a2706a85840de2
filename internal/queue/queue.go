// Package queue holds the per-characteristic response queue: an ordered,
// resettable sequence of canonical payloads that reloads itself whenever a
// full cycle has been delivered.
package queue

import (
	"github.com/srg/geigersim/internal/registry"
)

// ResponseQueue is the pending delivery state of one drain-backed characteristic.
//
// The produced sequence is an endless repetition of the canonical payloads:
// popping the last pending payload reloads the queue and clears the active flag.
// Not safe for concurrent use; callers serialize access.
type ResponseQueue struct {
	owner     registry.ID
	canonical [][]byte
	pending   [][]byte
	active    bool
	cycles    uint64
}

// New creates a queue loaded with a copy of the descriptor's canonical payloads.
func New(d registry.Descriptor) *ResponseQueue {
	q := &ResponseQueue{}
	q.Reset(d)
	return q
}

// Reset replaces the pending payloads with a fresh copy of the canonical ones
// and clears the active flag.
func (q *ResponseQueue) Reset(d registry.Descriptor) {
	q.owner = d.ID
	q.canonical = d.CanonicalPayloads()
	q.reload()
	q.active = false
}

// Owner returns the characteristic that owns this queue.
func (q *ResponseQueue) Owner() registry.ID {
	return q.owner
}

// PeekFront returns the next payload to attempt without removing it.
func (q *ResponseQueue) PeekFront() ([]byte, bool) {
	if len(q.pending) == 0 {
		return nil, false
	}
	return q.pending[0], true
}

// PopFront removes the front payload. Call it only after the transport accepted
// that payload. Popping the last payload completes a cycle: the queue is reloaded
// and deactivated. It reports whether a cycle was completed.
func (q *ResponseQueue) PopFront() bool {
	if len(q.pending) == 0 {
		return false
	}
	q.pending[0] = nil
	q.pending = q.pending[1:]
	if len(q.pending) > 0 {
		return false
	}

	q.cycles++
	q.active = false
	q.reload()
	return true
}

// IsEmpty reports whether there is nothing to send. A queue built from a
// non-empty canonical sequence is never empty between operations.
func (q *ResponseQueue) IsEmpty() bool {
	return len(q.pending) == 0
}

// Len returns the number of payloads left in the current cycle.
func (q *ResponseQueue) Len() int {
	return len(q.pending)
}

// Active reports whether a drain was requested and not yet fully delivered.
func (q *ResponseQueue) Active() bool {
	return q.active
}

// SetActive marks the queue as requested for draining. Activating an empty
// queue is refused.
func (q *ResponseQueue) SetActive(active bool) {
	q.active = active && len(q.pending) > 0
}

// Cycles returns how many full canonical cycles were delivered.
func (q *ResponseQueue) Cycles() uint64 {
	return q.cycles
}

func (q *ResponseQueue) reload() {
	q.pending = make([][]byte, len(q.canonical))
	for i, p := range q.canonical {
		q.pending[i] = append([]byte(nil), p...)
	}
}
