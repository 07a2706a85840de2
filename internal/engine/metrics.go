package engine

import "sync/atomic"

// Metrics provides lock-free delivery counters.
// All fields use atomic operations for thread-safe access.
type Metrics struct {
	Sent     int64 // payloads accepted by the transport
	Rejected int64 // sends refused for lack of capacity
	Faults   int64 // sends that failed for any other reason
	Cycles   int64 // canonical cycles fully delivered
	Unknown  int64 // events naming a characteristic outside the catalog
}

func (m *Metrics) IncrementSent()     { atomic.AddInt64(&m.Sent, 1) }
func (m *Metrics) IncrementRejected() { atomic.AddInt64(&m.Rejected, 1) }
func (m *Metrics) IncrementFaults()   { atomic.AddInt64(&m.Faults, 1) }
func (m *Metrics) IncrementCycles()   { atomic.AddInt64(&m.Cycles, 1) }
func (m *Metrics) IncrementUnknown()  { atomic.AddInt64(&m.Unknown, 1) }

// Snapshot returns a consistent-enough copy of the counters for reporting.
func (m *Metrics) Snapshot() Metrics {
	return Metrics{
		Sent:     atomic.LoadInt64(&m.Sent),
		Rejected: atomic.LoadInt64(&m.Rejected),
		Faults:   atomic.LoadInt64(&m.Faults),
		Cycles:   atomic.LoadInt64(&m.Cycles),
		Unknown:  atomic.LoadInt64(&m.Unknown),
	}
}

// Reset resets all counters to zero
func (m *Metrics) Reset() {
	atomic.StoreInt64(&m.Sent, 0)
	atomic.StoreInt64(&m.Rejected, 0)
	atomic.StoreInt64(&m.Faults, 0)
	atomic.StoreInt64(&m.Cycles, 0)
	atomic.StoreInt64(&m.Unknown, 0)
}
