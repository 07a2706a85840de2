// Package transport defines the boundary between the peripheral core and the
// BLE stack that carries its notifications.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/geigersim/internal/registry"
)

var (
	// ErrNoCapacity means the transmit buffer is full. It is the normal
	// backpressure signal: the payload was not sent and must be retried after
	// the next capacity-available event.
	ErrNoCapacity = errors.New("transmit buffer full")

	// ErrNotAdvertising is returned by Send while the service is not registered.
	ErrNotAdvertising = errors.New("service is not advertising")

	// ErrPayloadTooLarge means the payload can never be sent on this link, no
	// matter how much capacity frees up. The payload must be dropped.
	ErrPayloadTooLarge = errors.New("payload too large for transport")

	// ErrUnsupportedPlatform is returned when no radio is available on this OS.
	ErrUnsupportedPlatform = errors.New("bluetooth peripheral role is not supported on this platform")
)

// IsBackpressure reports whether err is the transport's no-capacity signal.
func IsBackpressure(err error) bool {
	return errors.Is(err, ErrNoCapacity)
}

// IsPermanent reports whether retrying the same payload can never succeed.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrPayloadTooLarge)
}

// PowerState mirrors the radio manager states reported by the platform.
type PowerState int

const (
	PowerUnknown PowerState = iota
	PowerResetting
	PowerUnsupported
	PowerUnauthorized
	PowerOff
	PowerOn
)

func (s PowerState) String() string {
	switch s {
	case PowerUnknown:
		return "unknown"
	case PowerResetting:
		return "resetting"
	case PowerUnsupported:
		return "unsupported"
	case PowerUnauthorized:
		return "unauthorized"
	case PowerOff:
		return "powered-off"
	case PowerOn:
		return "powered-on"
	default:
		return fmt.Sprintf("power(%d)", int(s))
	}
}

// Handler receives transport events. The transport delivers them one at a time
// and never while holding its own locks, so a handler may call Send.
type Handler interface {
	HandleWrite(id registry.ID, payload []byte)
	// HandleRead returns the value to answer a read request with.
	HandleRead(id registry.ID) ([]byte, error)
	// HandleReadComplete runs after the read response has been handed to the stack.
	HandleReadComplete(id registry.ID)
	// HandleCapacity is the sole resume trigger for blocked deliveries.
	HandleCapacity()
	HandlePowerState(state PowerState)
}

// Sender pushes one notification. A nil error means the payload was accepted.
// ErrNoCapacity (possibly wrapped) means it was not accepted and nothing was lost.
type Sender interface {
	Send(id registry.ID, payload []byte) error
}

// Transport is a BLE stack able to host the sensor service.
type Transport interface {
	Sender

	SetHandler(h Handler)
	// Register publishes the GATT service built from the registry.
	Register(serviceUUID string, reg *registry.Registry) error
	// Advertise starts advertising the registered service. It does not block.
	Advertise(ctx context.Context, localName string) error
	// StopAdvertising stops advertising and removes the registered service.
	StopAdvertising() error
}
