// Package goble hosts the sensor service on a real radio through go-ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	ble "github.com/go-ble/ble"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"

	"github.com/srg/geigersim/internal/groutine"
	"github.com/srg/geigersim/internal/registry"
	"github.com/srg/geigersim/internal/transport"
)

// MaxAttributeLen is the largest attribute value ATT can carry.
const MaxAttributeLen = 512

// Options configures a Transport.
type Options struct {
	// QueueSize is the number of notifications each characteristic may have in flight.
	QueueSize uint32 `default:"8"`
	// ReadCompleteDelay separates a read response from its follow-up notification.
	ReadCompleteDelay time.Duration `default:"20ms"`
	Logger            *logrus.Logger
}

// Transport implements transport.Transport on a go-ble device.
type Transport struct {
	mu          sync.Mutex
	opts        Options
	logger      *logrus.Logger
	device      ble.Device
	handler     transport.Handler
	reg         *registry.Registry
	serviceUUID ble.UUID
	service     *ble.Service
	queues      map[registry.ID]*txQueue
	advertising bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

var _ transport.Transport = (*Transport)(nil)

// New creates a transport. The radio is opened by Open.
func New(opts Options) *Transport {
	defaults.SetDefaults(&opts)
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	return &Transport{
		opts:   opts,
		logger: opts.Logger,
		queues: make(map[registry.ID]*txQueue),
	}
}

// Open acquires the platform device and reports the resulting power state to the
// handler: powered on when the device is usable, unsupported otherwise.
func (t *Transport) Open() error {
	t.mu.Lock()
	if t.device != nil {
		t.mu.Unlock()
		return nil
	}
	dev, err := DeviceFactory()
	if err == nil {
		t.device = dev
	}
	h := t.handler
	t.mu.Unlock()

	state := transport.PowerOn
	if err != nil {
		state = transport.PowerUnsupported
		if !errors.Is(err, transport.ErrUnsupportedPlatform) {
			state = transport.PowerUnauthorized
		}
		err = fmt.Errorf("open bluetooth device: %w", err)
	}
	if h != nil {
		h.HandlePowerState(state)
	}
	return err
}

// Close powers the service off and releases the device.
func (t *Transport) Close() error {
	t.mu.Lock()
	dev := t.device
	h := t.handler
	t.mu.Unlock()
	if dev == nil {
		return nil
	}

	if h != nil {
		h.HandlePowerState(transport.PowerOff)
	}
	if err := t.StopAdvertising(); err != nil {
		t.logger.WithError(err).Warn("Stop advertising on close failed")
	}

	t.wg.Wait()

	t.mu.Lock()
	t.device = nil
	t.mu.Unlock()
	if err := dev.Stop(); err != nil {
		return fmt.Errorf("stop bluetooth device: %w", err)
	}
	return nil
}

// SetHandler implements transport.Transport.
func (t *Transport) SetHandler(h transport.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Register implements transport.Transport. It builds one GATT characteristic per
// descriptor and adds the service to the device.
func (t *Transport) Register(serviceUUID string, reg *registry.Registry) error {
	svcUUID, err := ble.Parse(serviceUUID)
	if err != nil {
		return fmt.Errorf("invalid service UUID %q: %w", serviceUUID, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.device == nil {
		return fmt.Errorf("register %s: device is not open", serviceUUID)
	}

	svc := ble.NewService(svcUUID)
	queues := make(map[registry.ID]*txQueue)
	for _, d := range reg.All() {
		charUUID, err := ble.Parse(d.UUID)
		if err != nil {
			return fmt.Errorf("invalid characteristic UUID %q for %s: %w", d.UUID, d.ID, err)
		}
		c := svc.NewCharacteristic(charUUID)
		t.bindHandlers(c, d)
		if d.Capabilities.Has(registry.Notifiable) {
			queues[d.ID] = newTxQueue(d.ID, t.opts.QueueSize, t.logger)
		}
	}

	if err := t.device.AddService(svc); err != nil {
		return fmt.Errorf("add service %s: %w", serviceUUID, err)
	}

	t.reg = reg
	t.serviceUUID = svcUUID
	t.service = svc
	t.queues = queues
	t.logger.WithFields(logrus.Fields{
		"service":         serviceUUID,
		"characteristics": len(svc.Characteristics),
	}).Info("GATT service registered")
	return nil
}

// Service returns the registered GATT service.
func (t *Transport) Service() *ble.Service {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.service
}

// Advertise implements transport.Transport. Advertising and the per-characteristic
// writers run in background goroutines until StopAdvertising or ctx is done.
func (t *Transport) Advertise(ctx context.Context, localName string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.service == nil {
		return fmt.Errorf("advertise %q: no service registered", localName)
	}
	if t.advertising {
		return nil
	}

	advCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.advertising = true

	for id, q := range t.queues {
		q := q // per-iteration copy; module targets go 1.21 loop semantics
		t.wg.Add(1)
		groutine.GoSafe(advCtx, "notify-"+string(id), t.logger, nil, func(ctx context.Context) {
			defer t.wg.Done()
			q.run(ctx, t.signalCapacity)
		})
	}

	dev := t.device
	svcUUID := t.serviceUUID
	t.wg.Add(1)
	groutine.GoSafe(advCtx, "advertise", t.logger, nil, func(ctx context.Context) {
		defer t.wg.Done()
		err := dev.AdvertiseNameAndServices(ctx, localName, svcUUID)
		if err != nil && ctx.Err() == nil {
			t.logger.WithError(err).WithField("goroutine", groutine.GetName(ctx)).Error("Advertising failed")
		}
	})

	t.logger.WithFields(logrus.Fields{"name": localName, "service": svcUUID.String()}).Info("Advertising")
	return nil
}

// StopAdvertising implements transport.Transport.
func (t *Transport) StopAdvertising() error {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.advertising = false
	for _, q := range t.queues {
		q.drop()
	}
	dev := t.device
	registered := t.service != nil
	t.service = nil
	t.mu.Unlock()

	// Writers exit on their own; one may still deliver a late capacity signal.
	if cancel != nil {
		cancel()
	}

	if dev != nil && registered {
		if err := dev.RemoveAllServices(); err != nil {
			return fmt.Errorf("remove services: %w", err)
		}
	}
	return nil
}

// Send implements transport.Sender. Payloads for characteristics without a
// subscribed central are accepted and dropped.
func (t *Transport) Send(id registry.ID, payload []byte) error {
	t.mu.Lock()
	advertising := t.advertising
	q := t.queues[id]
	t.mu.Unlock()

	if !advertising {
		return fmt.Errorf("send %s: %w", id, transport.ErrNotAdvertising)
	}
	if q == nil {
		return fmt.Errorf("send: %w", &registry.NotFoundError{ID: id})
	}
	if len(payload) > MaxAttributeLen {
		return fmt.Errorf("send %s (%d bytes): %w", id, len(payload), transport.ErrPayloadTooLarge)
	}
	if q.subscribers() == 0 {
		t.logger.WithField("characteristic", id).Debug("No subscriber, notification dropped")
		return nil
	}
	if !q.offer(payload) {
		return fmt.Errorf("send %s: %w", id, transport.ErrNoCapacity)
	}
	return nil
}

// Subscribers returns how many centrals are subscribed to id.
func (t *Transport) Subscribers(id registry.ID) int {
	if q := t.queue(id); q != nil {
		return q.subscribers()
	}
	return 0
}

func (t *Transport) signalCapacity() {
	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h.HandleCapacity()
	}
}

func (t *Transport) currentHandler() transport.Handler {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handler
}

func (t *Transport) queue(id registry.ID) *txQueue {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.queues[id]
}
