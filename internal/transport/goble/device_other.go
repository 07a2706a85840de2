//go:build !darwin && !linux

package goble

import (
	ble "github.com/go-ble/ble"

	"github.com/srg/geigersim/internal/transport"
)

// DeviceFactory creates the platform ble.Device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (ble.Device, error) {
	return nil, transport.ErrUnsupportedPlatform
}
