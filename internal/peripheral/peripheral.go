// Package peripheral hosts the radiation sensor service on a transport and
// serializes every transport event into the drain engine.
package peripheral

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/srg/geigersim/internal/dispatch"
	"github.com/srg/geigersim/internal/engine"
	"github.com/srg/geigersim/internal/registry"
	"github.com/srg/geigersim/internal/transport"
)

// Status messages reported to the StatusListener.
const (
	StatusStarted = "Service started"
	StatusStopped = "Service stopped"
)

// ErrNoEchoCharacteristic is returned by Notify when the catalog has no echo characteristic.
var ErrNoEchoCharacteristic = errors.New("catalog has no echo characteristic")

// StatusListener receives service lifecycle messages.
type StatusListener interface {
	OnStatus(msg string)
}

// StatusFunc adapts a function to StatusListener.
type StatusFunc func(msg string)

func (f StatusFunc) OnStatus(msg string) { f(msg) }

// Options configures a Peripheral.
type Options struct {
	ServiceUUID string
	LocalName   string
	Logger      *logrus.Logger
	Status      StatusListener
	// OnFault receives delivery faults in addition to the log entry.
	OnFault func(error)
}

// Stats is a point-in-time view of the peripheral.
type Stats struct {
	Advertising bool
	Power       transport.PowerState
	Active      []registry.ID
	Engine      engine.Metrics
	Dispatch    dispatch.Metrics
}

// Peripheral is the sensor service. It implements transport.Handler; every handler
// call and every public method runs under one mutex, so the engine and the
// dispatcher only ever see serialized events.
type Peripheral struct {
	mu          sync.Mutex
	reg         *registry.Registry
	tr          transport.Transport
	engine      *engine.Engine
	dispatch    *dispatch.Dispatcher
	logger      *logrus.Logger
	opts        Options
	ctx         context.Context
	advertising bool
	power       transport.PowerState
	echo        registry.ID
}

var _ transport.Handler = (*Peripheral)(nil)

// New creates a stopped peripheral and installs it as tr's event handler.
func New(reg *registry.Registry, tr transport.Transport, opts Options) *Peripheral {
	if opts.Logger == nil {
		opts.Logger = logrus.New()
	}
	if opts.ServiceUUID == "" {
		opts.ServiceUUID = registry.SensorServiceUUID
	}
	if opts.LocalName == "" {
		opts.LocalName = registry.SensorLocalName
	}

	p := &Peripheral{
		reg:    reg,
		tr:     tr,
		logger: opts.Logger,
		opts:   opts,
		ctx:    context.Background(),
	}

	var engineOpts []engine.Option
	if opts.OnFault != nil {
		engineOpts = append(engineOpts, engine.WithFaultHandler(opts.OnFault))
	}
	p.engine = engine.New(reg, tr, opts.Logger, engineOpts...)
	p.dispatch = dispatch.New(reg, p.engine, opts.Logger)

	for _, d := range reg.All() {
		if d.Role == registry.RoleEcho {
			p.echo = d.ID
			break
		}
	}

	tr.SetHandler(p)
	return p
}

// Start registers the service, loads fresh queues and begins advertising.
// Starting an advertising peripheral is a no-op.
func (p *Peripheral) Start(ctx context.Context) error {
	p.mu.Lock()
	if ctx != nil {
		p.ctx = ctx
	}
	started, err := p.startLocked()
	p.mu.Unlock()

	if started {
		p.status(StatusStarted)
	}
	return err
}

// Stop stops advertising and discards all queued work.
func (p *Peripheral) Stop() error {
	p.mu.Lock()
	stopped, err := p.stopLocked()
	p.mu.Unlock()

	if stopped {
		p.status(StatusStopped)
	}
	return err
}

// Advertising reports whether the service is being advertised.
func (p *Peripheral) Advertising() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.advertising
}

// Registry returns the characteristic catalog.
func (p *Peripheral) Registry() *registry.Registry {
	return p.reg
}

// State returns the delivery state of id.
func (p *Peripheral) State(id registry.ID) engine.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.State(id)
}

// Notify sends a free-form message on the echo characteristic.
func (p *Peripheral) Notify(msg string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.echo == "" {
		return ErrNoEchoCharacteristic
	}
	p.logger.WithFields(logrus.Fields{"characteristic": p.echo, "message": msg}).Debug("Notify")
	return p.engine.Relay(p.echo, []byte(msg))
}

// Stats returns counters and the current active set.
func (p *Peripheral) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Advertising: p.advertising,
		Power:       p.power,
		Active:      p.engine.Active(),
		Engine:      p.engine.Metrics().Snapshot(),
		Dispatch:    p.dispatch.Metrics().Snapshot(),
	}
}

// HandleWrite implements transport.Handler.
func (p *Peripheral) HandleWrite(id registry.ID, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := p.dispatch.OnWrite(id, payload)
	log := p.logger.WithFields(logrus.Fields{"characteristic": id, "outcome": out.Kind})
	switch {
	case out.Err == nil:
		log.Debug("Write handled")
	case errors.Is(out.Err, engine.ErrStopped):
		log.Debug("Write while service is stopped")
	case errors.Is(out.Err, engine.ErrDeliveryFault):
		log.WithError(out.Err).Warn("Write left a delivery fault")
	default:
		log.WithError(out.Err).Debug("Write rejected")
	}
}

// HandleRead implements transport.Handler.
func (p *Peripheral) HandleRead(id registry.ID) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dispatch.OnRead(id)
}

// HandleReadComplete implements transport.Handler.
func (p *Peripheral) HandleReadComplete(id registry.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.dispatch.OnReadComplete(id); err != nil && !errors.Is(err, engine.ErrStopped) {
		p.logger.WithError(err).WithField("characteristic", id).Warn("Read follow-up not delivered")
	}
}

// HandleCapacity implements transport.Handler.
func (p *Peripheral) HandleCapacity() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.engine.OnCapacityAvailable(); err != nil {
		p.logger.WithError(err).Warn("Resume left delivery faults")
	}
}

// HandlePowerState implements transport.Handler. Powering on starts the service,
// powering off or resetting stops it; other states are only logged.
func (p *Peripheral) HandlePowerState(state transport.PowerState) {
	p.mu.Lock()
	p.power = state
	log := p.logger.WithField("state", state)

	var (
		msg     string
		changed bool
		err     error
	)
	switch state {
	case transport.PowerOn:
		log.Info("Radio powered on")
		changed, err = p.startLocked()
		msg = StatusStarted
	case transport.PowerOff, transport.PowerResetting:
		log.Info("Radio unavailable")
		changed, err = p.stopLocked()
		msg = StatusStopped
	default:
		log.Warn("Radio state not handled")
	}
	p.mu.Unlock()

	if err != nil {
		log.WithError(err).Error("Power state transition failed")
	}
	if changed {
		p.status(msg)
	}
}

func (p *Peripheral) startLocked() (bool, error) {
	if p.advertising {
		return false, nil
	}

	if err := p.tr.Register(p.opts.ServiceUUID, p.reg); err != nil {
		return false, fmt.Errorf("register service %s: %w", p.opts.ServiceUUID, err)
	}
	p.engine.Start()
	if err := p.tr.Advertise(p.ctx, p.opts.LocalName); err != nil {
		p.engine.Stop()
		return false, fmt.Errorf("advertise %q: %w", p.opts.LocalName, err)
	}
	p.advertising = true

	p.logger.WithFields(logrus.Fields{
		"service": p.opts.ServiceUUID,
		"name":    p.opts.LocalName,
	}).Info("Service started")
	return true, nil
}

func (p *Peripheral) stopLocked() (bool, error) {
	if !p.advertising {
		return false, nil
	}

	p.engine.Stop()
	p.advertising = false
	err := p.tr.StopAdvertising()
	if err != nil {
		err = fmt.Errorf("stop advertising: %w", err)
	}

	p.logger.Info("Service stopped")
	return true, err
}

func (p *Peripheral) status(msg string) {
	if p.opts.Status != nil {
		p.opts.Status.OnStatus(msg)
	}
}
