package main

import (
	"bytes"
	"context"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/geigersim/internal/testutils"
	"github.com/srg/geigersim/pkg/config"
)

// CommandTestSuite runs the root command in-process with captured output.
// All cmd/geigersim test suites should embed it.
type CommandTestSuite struct {
	suite.Suite

	Helper *testutils.TestHelper
}

// SetupTest resets every command flag to its default.
func (s *CommandTestSuite) SetupTest() {
	s.Helper = testutils.NewTestHelper(s.T())
	defaults := config.DefaultConfig()

	serveCatalog, serveName = "", ""
	serveTxQueue = defaults.TxQueueSize
	serveReadDelay = defaults.ReadCompleteDelay
	serveVerbose = false

	simulateScript, simulateCatalog, simulateName = "", "", ""
	simulateCapacity = defaults.SimBufferSize
	simulateFormat = "text"
	simulateVerbose = false

	catalogPath, catalogName = "", ""
	catalogFormat = defaults.OutputFormat

	s.Require().NoError(rootCmd.PersistentFlags().Set("log-level", ""))
}

// ExecuteCommand runs the root command with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	return s.ExecuteCommandContext(context.Background(), args...)
}

// ExecuteCommandContext is ExecuteCommand with a caller-controlled context.
func (s *CommandTestSuite) ExecuteCommandContext(ctx context.Context, args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	}()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err := rootCmd.ExecuteContext(ctx)
	return buf.String(), err
}
