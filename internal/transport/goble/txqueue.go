package goble

import (
	"context"
	"sync/atomic"

	"github.com/cornelk/hashmap"
	ble "github.com/go-ble/ble"
	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"

	"github.com/srg/geigersim/internal/registry"
)

// txQueue is the bounded transmit queue of one notifiable characteristic.
//
// Senders enqueue while fewer than size payloads are pending; the writer goroutine
// dequeues and writes each payload to every subscribed central. The ring buffer is
// allocated larger than size so the overlapped buffer never overwrites.
type txQueue struct {
	id        registry.ID
	size      int32
	pending   int32 // atomic
	rejected  atomic.Bool
	buf       mpmc.RichOverlappedRingBuffer[[]byte]
	notifiers *hashmap.Map[string, ble.Notifier]
	wake      chan struct{}
	logger    *logrus.Logger
}

func newTxQueue(id registry.ID, size uint32, logger *logrus.Logger) *txQueue {
	return &txQueue{
		id:        id,
		size:      int32(size),
		buf:       mpmc.NewOverlappedRingBuffer[[]byte](size + 1),
		notifiers: hashmap.New[string, ble.Notifier](),
		wake:      make(chan struct{}, 1), // buffered so the signal never blocks
		logger:    logger,
	}
}

// offer enqueues payload, or reports false when the queue is full.
func (q *txQueue) offer(payload []byte) bool {
	if atomic.AddInt32(&q.pending, 1) > q.size {
		atomic.AddInt32(&q.pending, -1)
		q.rejected.Store(true)
		return false
	}
	if _, err := q.buf.EnqueueM(append([]byte(nil), payload...)); err != nil {
		atomic.AddInt32(&q.pending, -1)
		q.logger.WithError(err).WithField("characteristic", q.id).Error("Transmit queue enqueue failed")
		return false
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

func (q *txQueue) subscribers() int {
	return q.notifiers.Len()
}

func (q *txQueue) subscribe(addr string, n ble.Notifier) {
	q.notifiers.Set(addr, n)
}

func (q *txQueue) unsubscribe(addr string) {
	q.notifiers.Del(addr)
}

// run writes queued payloads until ctx is done. onFreed runs, outside any lock,
// after a payload left the queue while a rejected send was waiting.
func (q *txQueue) run(ctx context.Context, onFreed func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}

		for !q.buf.IsEmpty() {
			payload, err := q.buf.Dequeue()
			if err != nil {
				break
			}
			// The slot stays taken until every central got the payload.
			q.fanOut(payload)
			atomic.AddInt32(&q.pending, -1)

			if q.rejected.CompareAndSwap(true, false) {
				onFreed()
			}
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (q *txQueue) fanOut(payload []byte) {
	q.notifiers.Range(func(addr string, n ble.Notifier) bool {
		if _, err := n.Write(payload); err != nil {
			q.logger.WithError(err).WithFields(logrus.Fields{
				"characteristic": q.id,
				"central":        addr,
			}).Warn("Notification write failed")
		}
		return true
	})
}

// drop discards everything pending.
func (q *txQueue) drop() {
	for !q.buf.IsEmpty() {
		if _, err := q.buf.Dequeue(); err != nil {
			break
		}
	}
	atomic.StoreInt32(&q.pending, 0)
	q.rejected.Store(false)
}
