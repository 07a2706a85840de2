package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/srg/geigersim/internal/scenario"
	"github.com/srg/geigersim/internal/testutils"
)

type SimulateTestSuite struct {
	CommandTestSuite
}

func (s *SimulateTestSuite) writeScript(body string) string {
	path := filepath.Join(s.T().TempDir(), "test.lua")
	s.Require().NoError(os.WriteFile(path, []byte(body), 0o600))
	return path
}

func (s *SimulateTestSuite) TestScriptTranscript() {
	// GOAL: Verify a scenario file runs and its transcript is printed
	//
	// TEST SCENARIO: script triggers Vents → text output → print lines, notifications and stats

	path := s.writeScript(`
subscribe("Vents")
write("Vents", "1")
print("delivered", deliver())
`)

	out, err := s.ExecuteCommand("simulate", "--script", path)
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(out, `== test.lua
delivered	2
== 2 notifications
  Vents 11090991101
  Vents 21091001100
sent 2  rejected 0  faults 0  cycles 1  active 0
`)
}

func (s *SimulateTestSuite) TestJSONReport() {
	path := s.writeScript(`
subscribe("Zones")
write("Zones", "1")
deliver(1)
deliver()
`)

	out, err := s.ExecuteCommand("simulate", "--script", path, "--capacity", "16", "--format", "json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).WithOptions(testutils.WithIgnoreExtraKeys(false)).Assert(out, `{
		"scenario": "test.lua",
		"output": [],
		"notifications": [
			{"characteristic": "Zones", "value": "312098095111"},
			{"characteristic": "Zones", "value": "103100095100"}
		],
		"stats": {
			"sent": 2, "rejected": 1, "faults": 0, "cycles": 1, "active": [],
			"writes": 1, "ignored": 0, "malformed": 0, "unknown": 0
		}
	}`)
}

func (s *SimulateTestSuite) TestDefaultScenario() {
	// GOAL: Verify the embedded demo runs cleanly on a buffer small enough to block
	//
	// TEST SCENARIO: simulate --capacity 24 --format json → no error → every drain delivered in full

	out, err := s.ExecuteCommand("simulate", "--capacity", "24", "--format", "json")
	s.Require().NoError(err)

	var report simulateReport
	s.Require().NoError(json.Unmarshal([]byte(out), &report))
	s.Assert().Equal("scenario.lua", report.Scenario)
	s.Assert().Empty(report.Error)
	s.Assert().Positive(report.Stats.Rejected, "demo MUST hit backpressure with a 24 byte buffer")
	s.Assert().Empty(report.Stats.Active, "every drain MUST finish")

	counts := map[string]int{}
	for _, n := range report.Notifications {
		counts[n.Characteristic]++
	}
	s.Assert().Equal(map[string]int{
		"EnabledMode":     1,
		"Zones":           2,
		"Vents":           2,
		"Settings":        1,
		"Alerts":          2,
		"DeviceId":        1,
		"DisplaySettings": 1,
		"Commands":        2,
	}, counts)
}

func (s *SimulateTestSuite) TestScriptErrorKeepsTranscript() {
	path := s.writeScript(`
print("before")
write("Geiger", "1")
`)

	out, err := s.ExecuteCommand("simulate", "--script", path, "--format", "json")

	var scriptErr *scenario.ScriptError
	s.Require().ErrorAs(err, &scriptErr)
	testutils.NewJSONAsserter(s.T()).Assert(out, `{
		"scenario": "test.lua",
		"output": ["before"],
		"error": "<<PRESENCE>>"
	}`)
	s.Assert().Contains(out, `unknown characteristic \"Geiger\"`)
}

func (s *SimulateTestSuite) TestArgumentErrors() {
	tests := []struct {
		name string
		args []string
		is   error
	}{
		{name: "unknown format", args: []string{"simulate", "--format", "yaml"}, is: ErrUnknownFormat},
		{name: "missing script", args: []string{"simulate", "--script", filepath.Join(s.T().TempDir(), "absent.lua")}, is: os.ErrNotExist},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.SetupTest()
			_, err := s.ExecuteCommand(tt.args...)
			s.Assert().ErrorIs(err, tt.is)
		})
	}

	s.SetupTest()
	_, err := s.ExecuteCommand("simulate", "--capacity", "2")
	s.Assert().ErrorContains(err, "--capacity must be at least 4 bytes")
}

func TestSimulateTestSuite(t *testing.T) {
	suite.Run(t, new(SimulateTestSuite))
}
