// Package sim is an in-memory transport: a single simulated central connected to
// the peripheral through a bounded transmit buffer.
package sim

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"

	"github.com/srg/geigersim/internal/registry"
	"github.com/srg/geigersim/internal/transport"
)

// frameHeaderSize is [characteristic index u8][payload length u16].
const frameHeaderSize = 3

var (
	// ErrNotRegistered is returned by central operations before a service was registered.
	ErrNotRegistered = errors.New("no service registered")
	// ErrNotSubscribable is returned when subscribing to a characteristic without notify.
	ErrNotSubscribable = errors.New("characteristic does not support notifications")
	// ErrNotWritable is returned when writing a characteristic without write-without-response.
	ErrNotWritable = errors.New("characteristic is not writable")
	// ErrPayloadTooLarge is returned for payloads that can never fit the transmit buffer.
	ErrPayloadTooLarge = fmt.Errorf("larger than transmit buffer: %w", transport.ErrPayloadTooLarge)
)

// Options configures a Transport.
type Options struct {
	// BufferSize is the transmit buffer size in bytes, frame headers included.
	BufferSize int `default:"64"`
	Logger     *logrus.Logger
}

// Notification is one payload that reached the central.
type Notification struct {
	ID      registry.ID
	Payload []byte
}

func (n Notification) String() string {
	return fmt.Sprintf("%s:%s", n.ID, n.Payload)
}

// Transport implements transport.Transport in memory.
//
// Sends are framed into a byte ring buffer that the test or scenario drains with
// Deliver. A send that does not fit is rejected with transport.ErrNoCapacity and
// the next Deliver that frees space fires one capacity signal.
type Transport struct {
	mu          sync.Mutex
	logger      *logrus.Logger
	buf         *ringbuffer.RingBuffer
	size        int
	frames      int
	handler     transport.Handler
	reg         *registry.Registry
	serviceUUID string
	localName   string
	advertising bool
	rejected    bool
	received    []Notification
	power       transport.PowerState

	subscribed *hashmap.Map[registry.ID, bool]
}

var _ transport.Transport = (*Transport)(nil)

// New creates a simulated transport. Zero-valued options take their defaults.
func New(opts Options) *Transport {
	defaults.SetDefaults(&opts)
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Transport{
		logger:     opts.Logger,
		buf:        ringbuffer.New(opts.BufferSize),
		size:       opts.BufferSize,
		subscribed: hashmap.New[registry.ID, bool](),
	}
}

// SetHandler implements transport.Transport.
func (t *Transport) SetHandler(h transport.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Register implements transport.Transport.
func (t *Transport) Register(serviceUUID string, reg *registry.Registry) error {
	if reg == nil {
		return fmt.Errorf("register %s: nil registry", serviceUUID)
	}
	if reg.Len() > 0xff {
		return fmt.Errorf("register %s: %d characteristics exceed frame index range", serviceUUID, reg.Len())
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.reg = reg
	t.serviceUUID = serviceUUID
	t.resetBufferLocked()
	t.logger.WithFields(logrus.Fields{
		"service":         serviceUUID,
		"characteristics": reg.Len(),
	}).Debug("Service registered")
	return nil
}

// Advertise implements transport.Transport.
func (t *Transport) Advertise(_ context.Context, localName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reg == nil {
		return ErrNotRegistered
	}
	t.localName = localName
	t.advertising = true
	t.logger.WithFields(logrus.Fields{"name": localName, "service": t.serviceUUID}).Info("Advertising")
	return nil
}

// StopAdvertising implements transport.Transport. The service is removed,
// buffered frames are dropped and subscriptions end.
func (t *Transport) StopAdvertising() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.advertising && t.reg == nil {
		return nil
	}
	t.advertising = false
	t.reg = nil
	t.resetBufferLocked()
	var ids []registry.ID
	t.subscribed.Range(func(id registry.ID, _ bool) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		t.subscribed.Del(id)
	}
	t.logger.Info("Advertising stopped")
	return nil
}

// Send implements transport.Sender.
func (t *Transport) Send(id registry.ID, payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.advertising {
		return fmt.Errorf("send %s: %w", id, transport.ErrNotAdvertising)
	}
	idx := t.reg.Index(id)
	if idx < 0 {
		return fmt.Errorf("send: %w", &registry.NotFoundError{ID: id})
	}
	frameLen := frameHeaderSize + len(payload)
	if frameLen > t.size || len(payload) > 0xffff {
		return fmt.Errorf("send %s (%d bytes): %w", id, len(payload), ErrPayloadTooLarge)
	}

	// Without subscribers the stack accepts and discards the update.
	if !t.isSubscribed(id) {
		t.logger.WithField("characteristic", id).Debug("No subscriber, notification dropped")
		return nil
	}

	if t.buf.Free() < frameLen {
		t.rejected = true
		return fmt.Errorf("send %s: %w", id, transport.ErrNoCapacity)
	}

	frame := make([]byte, frameLen)
	frame[0] = byte(idx)
	binary.BigEndian.PutUint16(frame[1:frameHeaderSize], uint16(len(payload)))
	copy(frame[frameHeaderSize:], payload)
	if _, err := t.buf.Write(frame); err != nil {
		return fmt.Errorf("send %s: %w", id, err)
	}
	t.frames++
	return nil
}

// Subscribe enables notifications of id for the central.
func (t *Transport) Subscribe(id registry.ID) error {
	desc, err := t.describe(id)
	if err != nil {
		return err
	}
	if !desc.Capabilities.Has(registry.Notifiable) {
		return fmt.Errorf("subscribe %s: %w", id, ErrNotSubscribable)
	}
	t.subscribed.Set(id, true)
	t.logger.WithField("characteristic", id).Debug("Central subscribed")
	return nil
}

// Unsubscribe disables notifications of id. Frames already buffered still arrive.
func (t *Transport) Unsubscribe(id registry.ID) {
	t.subscribed.Del(id)
	t.logger.WithField("characteristic", id).Debug("Central unsubscribed")
}

// Subscriptions returns the subscribed characteristics in registry order.
func (t *Transport) Subscriptions() []registry.ID {
	t.mu.Lock()
	reg := t.reg
	t.mu.Unlock()
	if reg == nil {
		return nil
	}

	var result []registry.ID
	for _, id := range reg.IDs() {
		if t.isSubscribed(id) {
			result = append(result, id)
		}
	}
	return result
}

// Write performs a write-without-response from the central.
func (t *Transport) Write(id registry.ID, payload []byte) error {
	desc, err := t.describe(id)
	if err != nil {
		return err
	}
	if !desc.Capabilities.Has(registry.WritableNoResponse) {
		return fmt.Errorf("write %s: %w", id, ErrNotWritable)
	}
	if h := t.currentHandler(); h != nil {
		h.HandleWrite(id, append([]byte(nil), payload...))
	}
	return nil
}

// Read performs a read from the central. The read-complete event fires after the
// response value was produced.
func (t *Transport) Read(id registry.ID) ([]byte, error) {
	if _, err := t.describe(id); err != nil {
		return nil, err
	}
	h := t.currentHandler()
	if h == nil {
		return nil, ErrNotRegistered
	}
	value, err := h.HandleRead(id)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", id, err)
	}
	h.HandleReadComplete(id)
	return value, nil
}

// Deliver moves up to n buffered frames to the central, all of them when n <= 0.
// When a send was rejected since the last signal and space was freed, exactly one
// capacity signal is fired before Deliver returns.
func (t *Transport) Deliver(n int) []Notification {
	t.mu.Lock()
	var delivered []Notification
	for t.frames > 0 && (n <= 0 || len(delivered) < n) {
		note, err := t.readFrameLocked()
		if err != nil {
			t.logger.WithError(err).Error("Corrupted transmit buffer, dropping contents")
			t.resetBufferLocked()
			break
		}
		delivered = append(delivered, note)
	}
	t.received = append(t.received, delivered...)

	signal := t.rejected && len(delivered) > 0
	if signal {
		t.rejected = false
	}
	h := t.handler
	t.mu.Unlock()

	if signal && h != nil {
		t.logger.WithField("freed_frames", len(delivered)).Debug("Transmit buffer ready")
		h.HandleCapacity()
	}
	return delivered
}

// SignalCapacity fires a capacity signal regardless of the buffer state.
func (t *Transport) SignalCapacity() {
	if h := t.currentHandler(); h != nil {
		h.HandleCapacity()
	}
}

// Received returns everything delivered to the central so far.
func (t *Transport) Received() []Notification {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Notification(nil), t.received...)
}

// ReceivedPayloads returns the payloads delivered for id as strings.
func (t *Transport) ReceivedPayloads(id registry.ID) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var result []string
	for _, n := range t.received {
		if n.ID == id {
			result = append(result, string(n.Payload))
		}
	}
	return result
}

// ClearReceived forgets delivered notifications.
func (t *Transport) ClearReceived() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.received = nil
}

// Buffered returns the number of frames waiting in the transmit buffer.
func (t *Transport) Buffered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

// Advertising reports whether the service is advertised.
func (t *Transport) Advertising() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.advertising
}

// LocalName returns the advertised name.
func (t *Transport) LocalName() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.localName
}

// PowerOn reports a powered-on radio.
func (t *Transport) PowerOn() { t.SetPowerState(transport.PowerOn) }

// PowerOff reports a powered-off radio.
func (t *Transport) PowerOff() { t.SetPowerState(transport.PowerOff) }

// SetPowerState records state and reports it to the handler.
func (t *Transport) SetPowerState(state transport.PowerState) {
	t.mu.Lock()
	t.power = state
	h := t.handler
	t.mu.Unlock()

	t.logger.WithField("state", state).Debug("Power state changed")
	if h != nil {
		h.HandlePowerState(state)
	}
}

// PowerState returns the last reported power state.
func (t *Transport) PowerState() transport.PowerState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.power
}

func (t *Transport) describe(id registry.ID) (registry.Descriptor, error) {
	t.mu.Lock()
	reg := t.reg
	t.mu.Unlock()
	if reg == nil {
		return registry.Descriptor{}, ErrNotRegistered
	}
	return reg.Describe(id)
}

func (t *Transport) currentHandler() transport.Handler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handler
}

func (t *Transport) isSubscribed(id registry.ID) bool {
	v, ok := t.subscribed.Get(id)
	return ok && v
}

func (t *Transport) readFrameLocked() (Notification, error) {
	var header [frameHeaderSize]byte
	if _, err := t.buf.Read(header[:]); err != nil {
		return Notification{}, fmt.Errorf("read frame header: %w", err)
	}
	size := int(binary.BigEndian.Uint16(header[1:]))
	payload := make([]byte, size)
	if size > 0 {
		if _, err := t.buf.Read(payload); err != nil {
			return Notification{}, fmt.Errorf("read frame payload: %w", err)
		}
	}
	t.frames--

	ids := t.reg.IDs()
	idx := int(header[0])
	if idx >= len(ids) {
		return Notification{}, fmt.Errorf("frame index %d out of range", idx)
	}
	return Notification{ID: ids[idx], Payload: payload}, nil
}

func (t *Transport) resetBufferLocked() {
	t.buf.Reset()
	t.frames = 0
	t.rejected = false
}
