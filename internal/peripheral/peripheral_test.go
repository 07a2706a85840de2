package peripheral_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/srg/geigersim/internal/engine"
	"github.com/srg/geigersim/internal/peripheral"
	"github.com/srg/geigersim/internal/registry"
	"github.com/srg/geigersim/internal/testutils"
	"github.com/srg/geigersim/internal/transport"
)

type PeripheralTestSuite struct {
	testutils.SimPeripheralSuite
}

func (s *PeripheralTestSuite) TestTriggerCycleRepeats() {
	// GOAL: Verify a trigger streams the canonical sequence end to end and repeats identically
	//
	// TEST SCENARIO: Write "1" to Zones → deliver → 2 payloads in order → write "1" again → same 2 payloads

	for i := 0; i < 2; i++ {
		s.Write(registry.Zones, "1")
		s.Assert().Equal([]string{"Zones:312098095111", "Zones:103100095100"}, s.DeliverAll())
		s.Assert().Equal(engine.Idle, s.Peripheral.State(registry.Zones))
	}
	s.Assert().EqualValues(2, s.Peripheral.Stats().Engine.Cycles)
}

func (s *PeripheralTestSuite) TestStatusMessages() {
	s.Assert().Equal([]string{peripheral.StatusStarted}, s.Statuses())

	s.Restart()
	s.Assert().Equal([]string{peripheral.StatusStarted, peripheral.StatusStopped, peripheral.StatusStarted}, s.Statuses())
}

func (s *PeripheralTestSuite) TestEcho() {
	// GOAL: Verify Commands writes come back unchanged, once each
	//
	// TEST SCENARIO: Write "hello" and "" → deliver → exactly those two notifications

	s.Write(registry.Commands, "hello")
	s.Write(registry.Commands, "")

	s.Assert().Equal([]string{"Commands:hello", "Commands:"}, s.DeliverAll())
	s.Assert().Empty(s.Peripheral.Stats().Active)
}

func (s *PeripheralTestSuite) TestOversizedEchoDoesNotWedgeCommands() {
	// GOAL: Verify an echo larger than the transmit buffer is reported and dropped, leaving Commands usable
	//
	// TEST SCENARIO: Write 70 bytes to Commands (64-byte buffer) → fault, Idle → write "ping" → deliver → only "ping"

	s.Write(registry.Commands, strings.Repeat("x", 70))
	s.Assert().Equal(engine.Idle, s.Peripheral.State(registry.Commands), "oversized echo MUST NOT block Commands")
	s.Require().Len(s.Faults(), 1)
	s.Assert().ErrorIs(s.Faults()[0], transport.ErrPayloadTooLarge)

	s.Write(registry.Commands, "ping")
	s.Assert().Equal([]string{"Commands:ping"}, s.DeliverAll())
	s.Assert().Empty(s.Peripheral.Stats().Active)
}

func (s *PeripheralTestSuite) TestTransform() {
	s.Write(registry.DisplaySettings, "01010")
	s.Write(registry.DisplaySettings, "1")

	s.Assert().Equal([]string{"DisplaySettings:1010", "DisplaySettings:1111111"}, s.DeliverAll())
}

func (s *PeripheralTestSuite) TestIdentityRead() {
	// GOAL: Verify reading DeviceId returns the first 20 bytes and notifies the remainder
	//
	// TEST SCENARIO: Read DeviceId → head returned → deliver → tail notification

	value, err := s.Transport.Read(registry.DeviceID)
	s.Require().NoError(err)
	s.Assert().Equal("27bffaeb-d0c5-47d4-a", string(value))
	s.Assert().Equal([]string{"DeviceId:fa4-c1988f89e2b0"}, s.DeliverAll())
}

func (s *PeripheralTestSuite) TestNotify() {
	s.Require().NoError(s.Peripheral.Notify("calibrating"))
	s.Assert().Equal([]string{"Commands:calibrating"}, s.DeliverAll())
}

func (s *PeripheralTestSuite) TestUnknownCharacteristic() {
	// GOAL: Verify an event for an unregistered id is a counted no-op
	//
	// TEST SCENARIO: Deliver a write for "Radiation" → no crash → nothing buffered → Unknown counted

	s.Peripheral.HandleWrite("Radiation", []byte("1"))

	stats := s.Peripheral.Stats()
	s.Assert().Zero(s.Transport.Buffered())
	s.Assert().Empty(stats.Active)
	s.Assert().EqualValues(1, stats.Dispatch.Unknown)
	s.Assert().Zero(stats.Engine.Sent)
}

func (s *PeripheralTestSuite) TestPowerStates() {
	s.Run("unauthorized is only logged", func() {
		s.Transport.SetPowerState(transport.PowerUnauthorized)
		s.Assert().True(s.Peripheral.Advertising())
		s.Assert().Equal(transport.PowerUnauthorized, s.Peripheral.Stats().Power)
	})

	s.Run("resetting stops", func() {
		s.Transport.SetPowerState(transport.PowerResetting)
		s.Assert().False(s.Peripheral.Advertising())
		s.Assert().False(s.Transport.Advertising())
	})

	s.Run("powered on starts again", func() {
		s.Transport.PowerOn()
		s.Assert().True(s.Peripheral.Advertising())
		s.Assert().Equal(registry.SensorLocalName, s.Transport.LocalName())
	})

	s.Run("powered off stops", func() {
		s.Transport.PowerOff()
		s.Assert().False(s.Peripheral.Advertising())
	})

	s.Assert().Equal([]string{
		peripheral.StatusStarted,
		peripheral.StatusStopped,
		peripheral.StatusStarted,
		peripheral.StatusStopped,
	}, s.Statuses())
}

func (s *PeripheralTestSuite) TestWriteWhileStopped() {
	s.Require().NoError(s.Peripheral.Stop())

	s.Peripheral.HandleWrite(registry.Zones, []byte("1"))
	s.Assert().Zero(s.Peripheral.Stats().Engine.Sent)
	s.Assert().Empty(s.Peripheral.Stats().Active)
}

func TestPeripheralTestSuite(t *testing.T) {
	suite.Run(t, new(PeripheralTestSuite))
}

// BackpressureTestSuite runs with a transmit buffer that holds one frame.
type BackpressureTestSuite struct {
	testutils.SimPeripheralSuite
}

func (s *BackpressureTestSuite) SetupTest() {
	s.BufferSize = 16
	s.SimPeripheralSuite.SetupTest()
}

func (s *BackpressureTestSuite) TestRejectedPayloadIsResentOnce() {
	// GOAL: Verify the k-th rejected payload is the next one sent after capacity returns
	//
	// TEST SCENARIO: Trigger Zones → payload 1 buffered, payload 2 rejected → Blocked → deliver → capacity → payload 2 sent once

	s.Write(registry.Zones, "1")
	s.Assert().Equal(engine.Blocked, s.Peripheral.State(registry.Zones))
	s.Assert().EqualValues(1, s.Peripheral.Stats().Engine.Rejected)

	s.Assert().Equal([]string{"Zones:312098095111", "Zones:103100095100"}, s.DeliverAll())
	s.Assert().Equal(engine.Idle, s.Peripheral.State(registry.Zones))
	s.Assert().Empty(s.Faults(), "backpressure MUST NOT be reported as a fault")
}

func (s *BackpressureTestSuite) TestEchoSurvivesBackpressure() {
	s.Write(registry.Commands, "first")
	s.Write(registry.Commands, "second")
	s.Write(registry.Commands, "third")

	s.Assert().Equal([]string{"Commands:first", "Commands:second", "Commands:third"}, s.DeliverAll(),
		"parked echoes MUST be delivered in order")
}

func (s *BackpressureTestSuite) TestStaleCapacitySignalAfterStop() {
	// GOAL: Verify a capacity signal after stop produces no notifications and no state change
	//
	// TEST SCENARIO: Trigger Zones → Blocked → stop → stale capacity signal → nothing sent, nothing active

	s.Write(registry.Zones, "1")
	s.Require().Equal(engine.Blocked, s.Peripheral.State(registry.Zones))

	s.Require().NoError(s.Peripheral.Stop())
	before := s.Peripheral.Stats()

	s.Transport.SignalCapacity()

	after := s.Peripheral.Stats()
	s.Assert().Equal(before, after, "stale signal MUST NOT mutate state")
	s.Assert().Empty(after.Active)
	s.Assert().Equal(engine.Idle, s.Peripheral.State(registry.Zones))
	s.Assert().Zero(s.Transport.Buffered())
	s.Assert().Empty(s.Transport.Deliver(0))
}

func TestBackpressureTestSuite(t *testing.T) {
	suite.Run(t, new(BackpressureTestSuite))
}

// ResumeOrderTestSuite uses a buffer large enough to resume several queues at once.
type ResumeOrderTestSuite struct {
	testutils.SimPeripheralSuite
}

func (s *ResumeOrderTestSuite) SetupTest() {
	s.BufferSize = 64
	s.SimPeripheralSuite.SetupTest()
}

func (s *ResumeOrderTestSuite) TestOneSignalResumesAllInRegistryOrder() {
	// GOAL: Verify one capacity signal resumes every blocked queue, in declaration order
	//
	// TEST SCENARIO: Fill buffer (Zones, Vents, EnabledMode) → trigger Alerts then Settings → both Blocked → deliver once → Settings before Alerts

	s.Write(registry.Zones, "1")       // 2 x 15 bytes
	s.Write(registry.Vents, "1")       // 2 x 14 bytes
	s.Write(registry.EnabledMode, "1") // 4 bytes, 62 of 64 used
	s.Write(registry.Alerts, "1")
	s.Write(registry.Settings, "1")

	s.Require().Equal([]registry.ID{registry.Settings, registry.Alerts}, s.Peripheral.Stats().Active)
	s.Require().Equal(engine.Blocked, s.Peripheral.State(registry.Alerts))
	s.Require().Equal(engine.Blocked, s.Peripheral.State(registry.Settings))

	first := s.Transport.Deliver(0)
	s.Assert().Len(first, 5)

	s.Assert().Empty(s.Peripheral.Stats().Active, "a single signal MUST resume both queues")
	s.Assert().Equal([]string{
		"Settings:SSID_2",
		"Alerts:101018301234",
		"Alerts:060210450234",
	}, s.DeliverAll())
}

func TestResumeOrderTestSuite(t *testing.T) {
	suite.Run(t, new(ResumeOrderTestSuite))
}
