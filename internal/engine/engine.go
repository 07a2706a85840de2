// Package engine delivers notifications under transport flow control and
// resumes refused payloads when the transport signals free capacity.
package engine

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/geigersim/internal/queue"
	"github.com/srg/geigersim/internal/registry"
	"github.com/srg/geigersim/internal/transport"
)

// State is the delivery state of one characteristic.
type State int

const (
	// Idle means nothing is pending.
	Idle State = iota
	// Draining means payloads are being pushed to the transport.
	Draining
	// Blocked means the last send was not accepted; delivery resumes from the
	// same payload on the next capacity-available signal.
	Blocked
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Draining:
		return "draining"
	case Blocked:
		return "blocked"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrDeliveryFault is matched by every DeliveryFaultError.
	ErrDeliveryFault = errors.New("delivery fault")
	// ErrStopped is returned for triggers and relays while the engine is stopped.
	ErrStopped = errors.New("drain engine is stopped")
	// ErrNotDrainable is returned when triggering a characteristic without a response queue.
	ErrNotDrainable = errors.New("characteristic has no response queue")
	// ErrNotNotifiable is returned when relaying on a characteristic that cannot notify.
	ErrNotNotifiable = errors.New("characteristic does not support notifications")
)

// DeliveryFaultError is a transport failure other than backpressure. After a
// transient fault the characteristic stays Blocked and is retried on the next
// capacity signal. A permanent fault drops the payload and delivery moves on.
type DeliveryFaultError struct {
	ID  registry.ID
	Err error
}

func (e *DeliveryFaultError) Error() string {
	return fmt.Sprintf("delivery fault on %s: %v", e.ID, e.Err)
}

func (e *DeliveryFaultError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrDeliveryFault) match.
func (e *DeliveryFaultError) Is(target error) bool {
	return target == ErrDeliveryFault
}

// parked is a one-shot payload waiting for capacity.
type parked struct {
	payload []byte
	seq     uint64
}

// channel is the delivery state of one characteristic.
type channel struct {
	desc  registry.Descriptor
	queue *queue.ResponseQueue // nil unless the role is drain-backed
	relay []parked
	// queueSeq orders the active queue cycle against parked relays: relays
	// with a smaller seq arrived first and go ahead of it.
	queueSeq uint64
	state    State
}

// Option configures an Engine.
type Option func(*Engine)

// WithFaultHandler registers a callback for delivery faults, in addition to the
// error returned by the call that hit the fault.
func WithFaultHandler(fn func(error)) Option {
	return func(e *Engine) {
		e.onFault = fn
	}
}

// Engine is the flow-controlled notification delivery state machine.
//
// It never blocks and never starts goroutines: draining runs inside the call that
// triggered it (a trigger, a relay or a capacity signal) until every pending payload
// was accepted or the transport refused one. Engine is not safe for concurrent use;
// the owner serializes all calls. Metrics may be read concurrently.
type Engine struct {
	reg      *registry.Registry
	sender   transport.Sender
	logger   *logrus.Logger
	onFault  func(error)
	metrics  Metrics
	running  bool
	channels map[registry.ID]*channel
	active   map[registry.ID]struct{}
	seq      uint64
}

// New creates a stopped engine. Call Start before delivering events.
func New(reg *registry.Registry, sender transport.Sender, logger *logrus.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	e := &Engine{
		reg:    reg,
		sender: sender,
		logger: logger,
		active: make(map[registry.ID]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start creates fresh delivery state for every characteristic, with each
// response queue loaded from its canonical payloads.
func (e *Engine) Start() {
	e.channels = make(map[registry.ID]*channel, e.reg.Len())
	for _, d := range e.reg.All() {
		ch := &channel{desc: d}
		if d.Role.DrainBacked() {
			ch.queue = queue.New(d)
		}
		e.channels[d.ID] = ch
	}
	e.active = make(map[registry.ID]struct{})
	e.running = true
	e.logger.WithField("characteristics", len(e.channels)).Debug("Drain engine started")
}

// Stop discards all queues and the active set. Capacity signals arriving
// afterwards are ignored.
func (e *Engine) Stop() {
	if !e.running {
		return
	}
	dropped := len(e.active)
	e.channels = nil
	e.active = make(map[registry.ID]struct{})
	e.running = false
	e.logger.WithField("dropped_active", dropped).Debug("Drain engine stopped")
}

// Running reports whether the engine holds live delivery state.
func (e *Engine) Running() bool {
	return e.running
}

// Trigger requests a drain of id's response queue and attempts it immediately.
// A nil error with the characteristic left Blocked means the transport applied
// backpressure; delivery continues on the next capacity signal.
func (e *Engine) Trigger(id registry.ID) error {
	ch, err := e.channel(id)
	if err != nil {
		return err
	}
	if ch.queue == nil {
		return fmt.Errorf("%w: %s", ErrNotDrainable, id)
	}

	if !ch.queue.Active() {
		ch.queueSeq = e.next()
		ch.queue.SetActive(true)
	}
	e.active[id] = struct{}{}
	e.logger.WithFields(logrus.Fields{
		"characteristic": id,
		"pending":        ch.queue.Len(),
		"state":          ch.state,
	}).Debug("Drain requested")

	return e.drain(ch)
}

// Relay sends a one-shot payload on id. When the transport has no room, the
// payload is kept and delivered on the next capacity signal, in arrival order
// relative to id's active response cycle.
func (e *Engine) Relay(id registry.ID, payload []byte) error {
	ch, err := e.channel(id)
	if err != nil {
		return err
	}
	if !ch.desc.Capabilities.Has(registry.Notifiable) {
		return fmt.Errorf("%w: %s", ErrNotNotifiable, id)
	}

	ch.relay = append(ch.relay, parked{payload: append([]byte(nil), payload...), seq: e.next()})
	if ch.state == Blocked {
		e.logger.WithField("characteristic", id).Debug("Relay parked behind blocked delivery")
		return nil
	}
	e.active[id] = struct{}{}
	return e.drain(ch)
}

// OnCapacityAvailable resumes every active characteristic in registry
// declaration order. It is a no-op while the engine is stopped.
func (e *Engine) OnCapacityAvailable() error {
	if !e.running {
		e.logger.Debug("Capacity signal ignored: engine stopped")
		return nil
	}
	if len(e.active) == 0 {
		return nil
	}

	var faults []error
	for _, id := range e.reg.IDs() {
		if _, ok := e.active[id]; !ok {
			continue
		}
		if err := e.drain(e.channels[id]); err != nil {
			faults = append(faults, err)
		}
	}
	return errors.Join(faults...)
}

// State returns the delivery state of id. Unknown ids and a stopped engine report Idle.
func (e *Engine) State(id registry.ID) State {
	if ch, ok := e.channels[id]; ok {
		return ch.state
	}
	return Idle
}

// Active returns the characteristics with undelivered work, in registry order.
func (e *Engine) Active() []registry.ID {
	result := make([]registry.ID, 0, len(e.active))
	for _, id := range e.reg.IDs() {
		if _, ok := e.active[id]; ok {
			result = append(result, id)
		}
	}
	return result
}

// Pending returns how many payloads id still has to deliver in the current
// cycle, including parked relays. Idle drain queues report zero.
func (e *Engine) Pending(id registry.ID) int {
	ch, ok := e.channels[id]
	if !ok {
		return 0
	}
	n := len(ch.relay)
	if ch.queue != nil && ch.queue.Active() {
		n += ch.queue.Len()
	}
	return n
}

// Metrics returns the delivery counters.
func (e *Engine) Metrics() *Metrics {
	return &e.metrics
}

func (e *Engine) channel(id registry.ID) (*channel, error) {
	if !e.running {
		return nil, ErrStopped
	}
	ch, ok := e.channels[id]
	if !ok {
		e.metrics.IncrementUnknown()
		e.logger.WithField("characteristic", id).Warn("Event for unknown characteristic ignored")
		return nil, &registry.NotFoundError{ID: id}
	}
	return ch, nil
}

func (e *Engine) next() uint64 {
	e.seq++
	return e.seq
}

// drain delivers in arrival order: relays parked before the queue cycle was
// requested, then the cycle, then later relays. It stops at the first refusal.
func (e *Engine) drain(ch *channel) error {
	ch.state = Draining
	var dropped []error

	queued := ch.queue != nil && ch.queue.Active()
	if queued {
		if blocked, err := e.drainRelays(ch, ch.queueSeq, &dropped); blocked {
			return errors.Join(append(dropped, err)...)
		}
		if blocked, err := e.drainQueue(ch, &dropped); blocked {
			return errors.Join(append(dropped, err)...)
		}
	}
	if blocked, err := e.drainRelays(ch, 0, &dropped); blocked {
		return errors.Join(append(dropped, err)...)
	}

	ch.state = Idle
	delete(e.active, ch.desc.ID)
	return errors.Join(dropped...)
}

// drainRelays sends parked relays with seq below before, or all of them when
// before is zero.
func (e *Engine) drainRelays(ch *channel, before uint64, dropped *[]error) (bool, error) {
	for len(ch.relay) > 0 {
		r := ch.relay[0]
		if before != 0 && r.seq >= before {
			return false, nil
		}
		if err := e.send(ch, r.payload); err != nil {
			if !transport.IsPermanent(err) {
				return true, e.block(ch, err)
			}
			*dropped = append(*dropped, e.drop(ch, r.payload, err))
		}
		ch.relay[0] = parked{}
		ch.relay = ch.relay[1:]
	}
	ch.relay = nil
	return false, nil
}

// drainQueue sends the active queue until its cycle completes.
func (e *Engine) drainQueue(ch *channel, dropped *[]error) (bool, error) {
	for {
		payload, ok := ch.queue.PeekFront()
		if !ok {
			return false, nil
		}
		if err := e.send(ch, payload); err != nil {
			if !transport.IsPermanent(err) {
				return true, e.block(ch, err)
			}
			*dropped = append(*dropped, e.drop(ch, payload, err))
		}
		if ch.queue.PopFront() {
			e.metrics.IncrementCycles()
			e.logger.WithFields(logrus.Fields{
				"characteristic": ch.desc.ID,
				"cycles":         ch.queue.Cycles(),
			}).Debug("Response cycle delivered, queue reloaded")
			return false, nil
		}
	}
}

func (e *Engine) send(ch *channel, payload []byte) error {
	if err := e.sender.Send(ch.desc.ID, payload); err != nil {
		return err
	}
	e.metrics.IncrementSent()
	e.logger.WithFields(logrus.Fields{
		"characteristic": ch.desc.ID,
		"payload":        string(payload),
	}).Debug("Notification sent")
	return nil
}

// block parks ch until the next capacity signal. Backpressure is not an error.
func (e *Engine) block(ch *channel, err error) error {
	ch.state = Blocked
	e.active[ch.desc.ID] = struct{}{}

	if transport.IsBackpressure(err) {
		e.metrics.IncrementRejected()
		e.logger.WithField("characteristic", ch.desc.ID).Debug("Transmit buffer full, waiting for capacity")
		return nil
	}

	return e.fault(ch, err, "Delivery fault, will retry on next capacity signal")
}

// drop reports a payload the transport can never accept. The caller skips it.
func (e *Engine) drop(ch *channel, payload []byte, err error) error {
	e.logger.WithField("size", len(payload)).Debug("Dropping undeliverable payload")
	return e.fault(ch, err, "Undeliverable payload dropped")
}

func (e *Engine) fault(ch *channel, err error, msg string) error {
	e.metrics.IncrementFaults()
	fault := &DeliveryFaultError{ID: ch.desc.ID, Err: err}
	e.logger.WithError(err).WithField("characteristic", ch.desc.ID).Warn(msg)
	if e.onFault != nil {
		e.onFault(fault)
	}
	return fault
}
