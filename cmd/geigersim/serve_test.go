package main

import (
	"context"
	"errors"
	"sync"
	"testing"

	ble "github.com/go-ble/ble"
	"github.com/stretchr/testify/suite"

	"github.com/srg/geigersim/internal/peripheral"
	"github.com/srg/geigersim/internal/transport"
	"github.com/srg/geigersim/internal/transport/goble"
)

// stubDevice is a radio that accepts the service and advertises until cancelled.
// addErr and stopErr make the corresponding calls fail.
type stubDevice struct {
	ble.Device

	mu       sync.Mutex
	services int
	names    []string
	stopped  bool
	addErr   error
	stopErr  error
}

func (d *stubDevice) AddService(*ble.Service) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.addErr != nil {
		return d.addErr
	}
	d.services++
	return nil
}

func (d *stubDevice) RemoveAllServices() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.services = 0
	return nil
}

func (d *stubDevice) AdvertiseNameAndServices(ctx context.Context, name string, _ ...ble.UUID) error {
	d.mu.Lock()
	d.names = append(d.names, name)
	d.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (d *stubDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return d.stopErr
}

type ServeTestSuite struct {
	CommandTestSuite

	originalFactory func() (ble.Device, error)
}

func (s *ServeTestSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()
	s.originalFactory = goble.DeviceFactory
}

func (s *ServeTestSuite) TearDownTest() {
	goble.DeviceFactory = s.originalFactory
}

func (s *ServeTestSuite) TestServeUntilCancelled() {
	// GOAL: Verify serve starts the service on the radio and shuts it down on interrupt
	//
	// TEST SCENARIO: stub radio → serve with an already cancelled context → started, advertised, stopped, device released

	dev := &stubDevice{}
	goble.DeviceFactory = func() (ble.Device, error) { return dev, nil }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := s.ExecuteCommandContext(ctx, "serve", "--name", "Bench Geiger", "--log-level", "error")
	s.Require().NoError(err)

	s.Assert().Contains(out, peripheral.StatusStarted)
	s.Assert().Contains(out, `Advertising "Bench Geiger" (service d82bb947-5fc7-48f5-8d59-a60494e4cb3e)`)
	s.Assert().Contains(out, peripheral.StatusStopped)
	s.Assert().Contains(out, "Sent 0, rejected 0, faults 0, cycles 0")

	dev.mu.Lock()
	defer dev.mu.Unlock()
	s.Assert().True(dev.stopped, "device MUST be released on exit")
	s.Assert().Zero(dev.services, "service MUST be removed on exit")
}

func (s *ServeTestSuite) TestServiceNotStarted() {
	// GOAL: Verify a service that never starts releases the radio and reports a failing release
	//
	// TEST SCENARIO: AddService fails → ErrServiceNotStarted → device stopped → stop error logged as warning

	dev := &stubDevice{addErr: errors.New("gatt table full"), stopErr: errors.New("radio busy")}
	goble.DeviceFactory = func() (ble.Device, error) { return dev, nil }

	out, err := s.ExecuteCommand("serve", "--log-level", "warn")
	s.Require().ErrorIs(err, ErrServiceNotStarted)

	s.Assert().Contains(out, "gatt table full")
	s.Assert().Contains(out, "Failed to release radio after failed start", "release failure MUST be logged")
	s.Assert().Contains(out, "radio busy")
	s.Assert().NotContains(out, peripheral.StatusStarted)

	dev.mu.Lock()
	defer dev.mu.Unlock()
	s.Assert().True(dev.stopped, "device MUST be released when the service does not start")
}

func (s *ServeTestSuite) TestUnsupportedPlatform() {
	goble.DeviceFactory = func() (ble.Device, error) { return nil, transport.ErrUnsupportedPlatform }

	_, err := s.ExecuteCommand("serve")
	s.Require().ErrorIs(err, transport.ErrUnsupportedPlatform)
	s.Assert().Contains(FormatUserError(err), "not supported on this platform")
}

func (s *ServeTestSuite) TestRadioUnavailable() {
	goble.DeviceFactory = func() (ble.Device, error) { return nil, errors.New("hci0: permission denied") }

	_, err := s.ExecuteCommand("serve")
	s.Assert().ErrorContains(err, "hci0: permission denied")
}

func (s *ServeTestSuite) TestZeroTxQueue() {
	_, err := s.ExecuteCommand("serve", "--tx-queue", "0")
	s.Assert().ErrorContains(err, "--tx-queue must be at least 1")
}

func TestServeTestSuite(t *testing.T) {
	suite.Run(t, new(ServeTestSuite))
}
