// Package dispatch routes inbound GATT writes and reads to drain engine actions
// according to each characteristic's role.
package dispatch

import (
	"bytes"
	"errors"
	"fmt"
	"sync/atomic"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/srg/geigersim/internal/engine"
	"github.com/srg/geigersim/internal/registry"
)

// TriggerToken is the written value that starts a drain cycle.
var TriggerToken = []byte("1")

// ErrMalformedPayload marks writes whose payload cannot be interpreted.
var ErrMalformedPayload = errors.New("malformed payload")

// ErrNotReadable is returned for reads on characteristics that do not serve reads.
var ErrNotReadable = errors.New("characteristic is not readable")

// Kind classifies what a dispatched event did.
type Kind int

const (
	Ignored Kind = iota
	DrainStarted
	Echoed
	Relayed
	Malformed
	Unknown
)

func (k Kind) String() string {
	switch k {
	case Ignored:
		return "ignored"
	case DrainStarted:
		return "drain-started"
	case Echoed:
		return "echoed"
	case Relayed:
		return "relayed"
	case Malformed:
		return "malformed"
	case Unknown:
		return "unknown"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Outcome reports the effect of one write. Err is set for unknown characteristics,
// malformed payloads, delivery faults and writes the engine refused (reported as
// Ignored); none of them is fatal.
type Outcome struct {
	Kind Kind
	ID   registry.ID
	Err  error
}

// Engine is the part of the drain engine the dispatcher drives.
type Engine interface {
	Trigger(id registry.ID) error
	Relay(id registry.ID, payload []byte) error
}

// Metrics counts dispatcher anomalies.
type Metrics struct {
	Writes    int64
	Ignored   int64
	Malformed int64
	Unknown   int64
}

// Snapshot returns a copy of the counters.
func (m *Metrics) Snapshot() Metrics {
	return Metrics{
		Writes:    atomic.LoadInt64(&m.Writes),
		Ignored:   atomic.LoadInt64(&m.Ignored),
		Malformed: atomic.LoadInt64(&m.Malformed),
		Unknown:   atomic.LoadInt64(&m.Unknown),
	}
}

// Dispatcher maps inbound writes and reads to engine actions by characteristic role.
// Like the engine, it relies on its owner to serialize calls.
type Dispatcher struct {
	reg     *registry.Registry
	engine  Engine
	logger  *logrus.Logger
	metrics Metrics
}

// New creates a dispatcher over reg driving engine.
func New(reg *registry.Registry, engine Engine, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Dispatcher{reg: reg, engine: engine, logger: logger}
}

// Metrics returns the dispatcher counters.
func (d *Dispatcher) Metrics() *Metrics {
	return &d.metrics
}

// OnWrite dispatches a write request on id.
func (d *Dispatcher) OnWrite(id registry.ID, payload []byte) Outcome {
	atomic.AddInt64(&d.metrics.Writes, 1)
	log := d.logger.WithFields(logrus.Fields{"characteristic": id, "payload_len": len(payload)})

	desc, err := d.reg.Describe(id)
	if err != nil {
		atomic.AddInt64(&d.metrics.Unknown, 1)
		log.Warn("Write to unknown characteristic ignored")
		return Outcome{Kind: Unknown, ID: id, Err: err}
	}

	switch desc.Role {
	case registry.RoleEcho:
		return d.relay(id, Echoed, payload)

	case registry.RoleDrain:
		if !utf8.Valid(payload) {
			return d.malformed(id, "payload is not valid UTF-8")
		}
		if !bytes.Equal(payload, TriggerToken) {
			atomic.AddInt64(&d.metrics.Ignored, 1)
			log.WithField("payload", string(payload)).Debug("Non-trigger write ignored")
			return Outcome{Kind: Ignored, ID: id}
		}
		return d.trigger(id)

	case registry.RoleTransform:
		if !utf8.Valid(payload) {
			return d.malformed(id, "payload is not valid UTF-8")
		}
		if bytes.Equal(payload, TriggerToken) {
			return d.trigger(id)
		}
		if len(payload) == 0 {
			return d.malformed(id, "empty payload")
		}
		// Only this role strips the leading character and relays the rest.
		_, size := utf8.DecodeRune(payload)
		return d.relay(id, Relayed, payload[size:])

	default:
		atomic.AddInt64(&d.metrics.Ignored, 1)
		log.WithField("role", desc.Role).Debug("Write ignored for role")
		return Outcome{Kind: Ignored, ID: id}
	}
}

// OnRead answers a read request. Identity characteristics return the first
// part of their identifier; the rest follows in OnReadComplete.
func (d *Dispatcher) OnRead(id registry.ID) ([]byte, error) {
	desc, err := d.reg.Describe(id)
	if err != nil {
		atomic.AddInt64(&d.metrics.Unknown, 1)
		d.logger.WithField("characteristic", id).Warn("Read of unknown characteristic")
		return nil, err
	}
	if desc.Role != registry.RoleIdentity || !desc.Capabilities.Has(registry.Readable) {
		return nil, fmt.Errorf("%w: %s", ErrNotReadable, id)
	}

	head, _ := desc.IdentityParts()
	d.logger.WithFields(logrus.Fields{"characteristic": id, "value": string(head)}).Debug("Read served")
	return head, nil
}

// OnReadComplete pushes the remainder of an identity value as a notification
// once the read response is on its way. Other characteristics are untouched.
func (d *Dispatcher) OnReadComplete(id registry.ID) error {
	desc, err := d.reg.Describe(id)
	if err != nil || desc.Role != registry.RoleIdentity {
		return nil
	}
	_, tail := desc.IdentityParts()
	if len(tail) == 0 {
		return nil
	}
	return d.engine.Relay(id, tail)
}

// trigger reports DrainStarted unless the engine refused to start a cycle.
// A delivery fault still counts as started.
func (d *Dispatcher) trigger(id registry.ID) Outcome {
	err := d.engine.Trigger(id)
	if err != nil && !errors.Is(err, engine.ErrDeliveryFault) {
		return d.refused(id, err)
	}
	return Outcome{Kind: DrainStarted, ID: id, Err: err}
}

func (d *Dispatcher) relay(id registry.ID, kind Kind, payload []byte) Outcome {
	err := d.engine.Relay(id, payload)
	if err != nil && !errors.Is(err, engine.ErrDeliveryFault) {
		return d.refused(id, err)
	}
	return Outcome{Kind: kind, ID: id, Err: err}
}

func (d *Dispatcher) refused(id registry.ID, err error) Outcome {
	atomic.AddInt64(&d.metrics.Ignored, 1)
	d.logger.WithError(err).WithField("characteristic", id).Debug("Write refused by engine")
	return Outcome{Kind: Ignored, ID: id, Err: err}
}

func (d *Dispatcher) malformed(id registry.ID, reason string) Outcome {
	atomic.AddInt64(&d.metrics.Malformed, 1)
	d.logger.WithFields(logrus.Fields{"characteristic": id, "reason": reason}).Warn("Malformed write ignored")
	return Outcome{Kind: Malformed, ID: id, Err: fmt.Errorf("%w: %s", ErrMalformedPayload, reason)}
}
