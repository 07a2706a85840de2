package testutils

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"

	"github.com/srg/geigersim/internal/peripheral"
	"github.com/srg/geigersim/internal/registry"
	"github.com/srg/geigersim/internal/transport/sim"
)

// SimPeripheralSuite runs a sensor peripheral on the simulated transport and
// plays the central side in tests.
//
// Basic usage:
//
//	type MySuite struct {
//	    testutils.SimPeripheralSuite
//	}
//
//	func (s *MySuite) SetupTest() {
//	    s.BufferSize = 32 // optional, before the parent call
//	    s.SimPeripheralSuite.SetupTest()
//	}
//
// The peripheral is powered on and every notifiable characteristic is
// subscribed before each test.
type SimPeripheralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	// BufferSize is the sim transmit buffer size; zero uses the transport default.
	BufferSize int
	// Registry overrides the default sensor catalog.
	Registry *registry.Registry

	Transport  *sim.Transport
	Peripheral *peripheral.Peripheral

	statusMu sync.Mutex
	statuses []string
	faults   []error
}

// SetupTest builds a fresh transport and peripheral.
func (s *SimPeripheralSuite) SetupTest() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger

	reg := s.Registry
	if reg == nil {
		reg = registry.NewSensorRegistry()
	}

	s.statuses = nil
	s.faults = nil
	s.Transport = sim.New(sim.Options{BufferSize: s.BufferSize, Logger: s.Logger})
	s.Peripheral = peripheral.New(reg, s.Transport, peripheral.Options{
		Logger: s.Logger,
		Status: peripheral.StatusFunc(func(msg string) {
			s.statusMu.Lock()
			defer s.statusMu.Unlock()
			s.statuses = append(s.statuses, msg)
		}),
		OnFault: func(err error) {
			s.statusMu.Lock()
			defer s.statusMu.Unlock()
			s.faults = append(s.faults, err)
		},
	})

	s.Transport.PowerOn()
	s.Require().True(s.Peripheral.Advertising(), "peripheral MUST advertise after power on")
	s.SubscribeAll()
}

// TearDownTest stops the peripheral.
func (s *SimPeripheralSuite) TearDownTest() {
	if s.Peripheral != nil {
		_ = s.Peripheral.Stop()
	}
}

// SubscribeAll subscribes the central to every notifiable characteristic.
func (s *SimPeripheralSuite) SubscribeAll() {
	for _, d := range s.Peripheral.Registry().All() {
		if d.Capabilities.Has(registry.Notifiable) {
			s.Require().NoError(s.Transport.Subscribe(d.ID))
		}
	}
}

// Write writes payload to id from the central.
func (s *SimPeripheralSuite) Write(id registry.ID, payload string) {
	s.Require().NoError(s.Transport.Write(id, []byte(payload)))
}

// DeliverAll keeps delivering until the transmit buffer stays empty and returns
// the payloads received in the process.
func (s *SimPeripheralSuite) DeliverAll() []string {
	var result []string
	for i := 0; i < 1000; i++ {
		batch := s.Transport.Deliver(0)
		if len(batch) == 0 {
			return result
		}
		for _, n := range batch {
			result = append(result, n.String())
		}
	}
	s.FailNow("transmit buffer never settled")
	return result
}

// Restart stops and starts the peripheral.
func (s *SimPeripheralSuite) Restart() {
	s.Require().NoError(s.Peripheral.Stop())
	s.Require().NoError(s.Peripheral.Start(context.Background()))
	s.SubscribeAll()
}

// Statuses returns the lifecycle messages reported so far.
func (s *SimPeripheralSuite) Statuses() []string {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return append([]string(nil), s.statuses...)
}

// Faults returns the delivery faults reported so far.
func (s *SimPeripheralSuite) Faults() []error {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	return append([]error(nil), s.faults...)
}
